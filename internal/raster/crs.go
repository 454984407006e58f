package raster

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/ctessum/geom/proj"
	"github.com/rotisserie/eris"
)

// CRSKind classifies a coordinate reference by its axis units.
type CRSKind int

// Reference classes.
const (
	Unknown CRSKind = iota
	Geographic
	Projected
)

func (k CRSKind) String() string {
	switch k {
	case Geographic:
		return "geographic"
	case Projected:
		return "projected"
	default:
		return "unknown"
	}
}

var (
	// ErrUnknownCRS is returned when a reference cannot be resolved or parsed.
	ErrUnknownCRS = errors.New("raster: unknown coordinate reference")
	// ErrNonMetricCRS is returned for projected references whose linear unit is not the metre.
	ErrNonMetricCRS = errors.New("raster: projected reference is not metric")
)

// Well-known references used by the Pacific sources and output grid.
const (
	EPSG4326 = "EPSG:4326"
	EPSG3832 = "EPSG:3832"
)

var epsgDefs = map[int]string{
	4326: "+proj=longlat +datum=WGS84 +no_defs",
	4269: "+proj=longlat +ellps=GRS80 +towgs84=0,0,0 +no_defs",
	4322: "+proj=longlat +a=6378135 +rf=298.26 +towgs84=0,0,4.5,0,0,0.554,0.2263 +no_defs",
	3832: "+proj=merc +lon_0=150 +k=1 +x_0=0 +y_0=0 +datum=WGS84 +units=m +no_defs",
	3857: "+proj=merc +a=6378137 +b=6378137 +lat_ts=0 +lon_0=0 +x_0=0 +y_0=0 +k=1 +units=m +no_defs",
	3460: "+proj=tmerc +lat_0=-17 +lon_0=178.75 +k=0.99985 +x_0=2000000 +y_0=4000000 +a=6378135 +rf=298.26 +towgs84=0,0,4.5,0,0,0.554,0.2263 +units=m +no_defs",
}

// EPSG formats an EPSG code as a reference string.
func EPSG(code int) string {
	return "EPSG:" + strconv.Itoa(code)
}

// EPSGCode extracts the numeric code from an "EPSG:<n>" reference.
func EPSGCode(crs string) (int, bool) {
	s := strings.TrimSpace(crs)
	if len(s) < 5 || !strings.EqualFold(s[:5], "epsg:") {
		return 0, false
	}
	n, err := strconv.Atoi(s[5:])
	if err != nil {
		return 0, false
	}
	return n, true
}

// Definition resolves a reference to a PROJ or WKT definition understood by
// the projection library.
func Definition(crs string) (string, error) {
	if code, ok := EPSGCode(crs); ok {
		if def, ok := epsgDefs[code]; ok {
			return def, nil
		}
		// WGS 84 / UTM north and south.
		if code >= 32601 && code <= 32660 {
			return fmt.Sprintf("+proj=utm +zone=%d +datum=WGS84 +units=m +no_defs", code-32600), nil
		}
		if code >= 32701 && code <= 32760 {
			return fmt.Sprintf("+proj=utm +zone=%d +south +datum=WGS84 +units=m +no_defs", code-32700), nil
		}
		return "", eris.Wrapf(ErrUnknownCRS, "raster: EPSG:%d", code)
	}
	s := strings.TrimSpace(crs)
	if s == "" {
		return "", eris.Wrap(ErrUnknownCRS, "raster: empty reference")
	}
	return s, nil
}

// SpatialReference parses crs into a projection object.
func SpatialReference(crs string) (*proj.SR, error) {
	def, err := Definition(crs)
	if err != nil {
		return nil, err
	}
	sr, err := proj.Parse(def)
	if err != nil {
		return nil, eris.Wrapf(ErrUnknownCRS, "raster: parse %q: %v", crs, err)
	}
	return sr, nil
}

// Classify reports whether crs is geographic or projected. Projected
// references must use metres.
func Classify(crs string) (CRSKind, error) {
	sr, err := SpatialReference(crs)
	if err != nil {
		return Unknown, err
	}
	if sr.Name == "longlat" {
		return Geographic, nil
	}
	if _, _, err := sr.Transformers(); err != nil {
		return Unknown, eris.Wrapf(ErrUnknownCRS, "raster: %q: %v", crs, err)
	}
	switch strings.ToLower(sr.Units) {
	case "", "m", "meter", "metre":
	default:
		return Unknown, eris.Wrapf(ErrNonMetricCRS, "raster: %q uses %s", crs, sr.Units)
	}
	if sr.ToMeter != 1 {
		return Unknown, eris.Wrapf(ErrNonMetricCRS, "raster: %q to_meter=%g", crs, sr.ToMeter)
	}
	return Projected, nil
}
