package output

import (
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/encoding/geojson"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/sells-group/dep-population/internal/boundary"
	"github.com/sells-group/dep-population/internal/density"
	"github.com/sells-group/dep-population/internal/raster"
	"github.com/sells-group/dep-population/internal/tile"
)

const stacVersion = "1.0.0"

var stacExtensions = []string{
	"https://stac-extensions.github.io/projection/v1.1.0/schema.json",
	"https://stac-extensions.github.io/raster/v1.1.0/schema.json",
}

// Item is a STAC item describing one output tile.
type Item struct {
	Type           string            `json:"type"`
	StacVersion    string            `json:"stac_version"`
	StacExtensions []string          `json:"stac_extensions"`
	ID             string            `json:"id"`
	Geometry       *geojson.Geometry `json:"geometry"`
	BBox           []float64         `json:"bbox"`
	Properties     Properties        `json:"properties"`
	Links          []Link            `json:"links"`
	Assets         map[string]Asset  `json:"assets"`
}

// Properties holds the item's time range and projection fields.
type Properties struct {
	Datetime      *string    `json:"datetime"`
	StartDatetime string     `json:"start_datetime"`
	EndDatetime   string     `json:"end_datetime"`
	Created       string     `json:"created"`
	ProjEPSG      *int       `json:"proj:epsg"`
	ProjShape     [2]int     `json:"proj:shape"`
	ProjTransform [9]float64 `json:"proj:transform"`
	TileID        string     `json:"dep:tile_id"`
}

// Link is a STAC link.
type Link struct {
	Rel  string `json:"rel"`
	Href string `json:"href"`
	Type string `json:"type,omitempty"`
}

// Asset is a STAC asset.
type Asset struct {
	Href        string       `json:"href"`
	Type        string       `json:"type"`
	Title       string       `json:"title,omitempty"`
	Roles       []string     `json:"roles"`
	RasterBands []RasterBand `json:"raster:bands,omitempty"`
}

// RasterBand describes a band per the STAC raster extension.
type RasterBand struct {
	NoData     string      `json:"nodata"`
	DataType   string      `json:"data_type"`
	Unit       string      `json:"unit,omitempty"`
	Statistics *Statistics `json:"statistics,omitempty"`
}

// Statistics summarises the valid cells of a band. Empty bands carry only
// ValidPercent.
type Statistics struct {
	Minimum      *float64 `json:"minimum,omitempty"`
	Maximum      *float64 `json:"maximum,omitempty"`
	Mean         *float64 `json:"mean,omitempty"`
	StdDev       *float64 `json:"stddev,omitempty"`
	ValidPercent float64  `json:"valid_percent"`
}

// BuildItem describes a written tile. created stamps the item.
func BuildItem(path ItemPath, id tile.ID, t *density.CompositeTile, created time.Time) (*Item, error) {
	boxes, err := boundary.LonLatBoxes(t.Grid)
	if err != nil {
		return nil, eris.Wrapf(err, "output: footprint of %s", id)
	}
	g, bbox, err := footprint(boxes)
	if err != nil {
		return nil, err
	}
	geometry, err := geojson.Encode(g, geojson.EncodeGeometryWithMaxDecimalDigits(7))
	if err != nil {
		return nil, eris.Wrapf(err, "output: encode footprint of %s", id)
	}
	start, end, err := timeRange(path.Time)
	if err != nil {
		return nil, err
	}

	props := Properties{
		StartDatetime: start,
		EndDatetime:   end,
		Created:       created.UTC().Format(time.RFC3339),
		ProjShape:     [2]int{t.Grid.Rows, t.Grid.Cols},
		ProjTransform: [9]float64{
			t.Grid.CellWidth, 0, t.Grid.OriginX,
			0, t.Grid.CellHeight, t.Grid.OriginY,
			0, 0, 1,
		},
		TileID: id.String(),
	}
	if code, ok := raster.EPSGCode(t.Grid.CRS); ok {
		props.ProjEPSG = &code
	}

	return &Item{
		Type:           "Feature",
		StacVersion:    stacVersion,
		StacExtensions: stacExtensions,
		ID:             path.Basename(id),
		Geometry:       geometry,
		BBox:           bbox,
		Properties:     props,
		Links: []Link{
			{Rel: "self", Href: path.URL(path.STACKey(id)), Type: "application/json"},
		},
		Assets: map[string]Asset{
			Band: {
				Href:  path.URL(path.AssetKey(id, Band)),
				Type:  "image/tiff; application=geotiff",
				Title: "Population density",
				Roles: []string{"data"},
				RasterBands: []RasterBand{{
					NoData:     "nan",
					DataType:   "float32",
					Unit:       "persons/km^2",
					Statistics: BandStatistics(t),
				}},
			},
		},
	}, nil
}

// BandStatistics computes min, max, mean and standard deviation over the
// valid cells of a tile.
func BandStatistics(t *density.CompositeTile) *Statistics {
	vals := make([]float64, 0, len(t.Values))
	for i, v := range t.Values {
		if t.Valid[i] {
			vals = append(vals, float64(v))
		}
	}
	s := &Statistics{}
	if len(t.Values) > 0 {
		s.ValidPercent = 100 * float64(len(vals)) / float64(len(t.Values))
	}
	if len(vals) == 0 {
		return s
	}
	minV, maxV := floats.Min(vals), floats.Max(vals)
	mean, std := stat.PopMeanStdDev(vals, nil)
	s.Minimum, s.Maximum, s.Mean, s.StdDev = &minV, &maxV, &mean, &std
	return s
}

// footprint turns one or two lon/lat boxes into a geometry and a STAC bbox.
// A footprint split at the antimeridian has a bbox whose west edge is
// greater than its east edge.
func footprint(boxes []raster.Bounds) (geom.T, []float64, error) {
	polys := make([]*geom.Polygon, 0, len(boxes))
	for _, b := range boxes {
		p, err := geom.NewPolygon(geom.XY).SetCoords([][]geom.Coord{{
			{b.MinX, b.MinY}, {b.MaxX, b.MinY}, {b.MaxX, b.MaxY}, {b.MinX, b.MaxY}, {b.MinX, b.MinY},
		}})
		if err != nil {
			return nil, nil, eris.Wrap(err, "output: footprint polygon")
		}
		polys = append(polys, p)
	}
	switch len(polys) {
	case 0:
		return nil, nil, eris.New("output: empty footprint")
	case 1:
		b := boxes[0]
		return polys[0], []float64{b.MinX, b.MinY, b.MaxX, b.MaxY}, nil
	}

	mp := geom.NewMultiPolygon(geom.XY)
	south, north := math.Inf(1), math.Inf(-1)
	for i, p := range polys {
		if err := mp.Push(p); err != nil {
			return nil, nil, eris.Wrap(err, "output: footprint multipolygon")
		}
		south = math.Min(south, boxes[i].MinY)
		north = math.Max(north, boxes[i].MaxY)
	}
	return mp, []float64{boxes[0].MinX, south, boxes[len(boxes)-1].MaxX, north}, nil
}

// timeRange expands "2023_2025" (or a single year) to an inclusive RFC 3339
// interval.
func timeRange(s string) (string, string, error) {
	parts := strings.Split(s, "_")
	if len(parts) > 2 || s == "" {
		return "", "", eris.Errorf("output: time %q must be YEAR or YEAR_YEAR", s)
	}
	years := make([]int, len(parts))
	for i, p := range parts {
		y, err := strconv.Atoi(p)
		if err != nil {
			return "", "", eris.Wrapf(err, "output: time %q", s)
		}
		years[i] = y
	}
	first, last := years[0], years[len(years)-1]
	if last < first {
		return "", "", eris.Errorf("output: time %q ends before it starts", s)
	}
	start := time.Date(first, time.January, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(last, time.December, 31, 23, 59, 59, 0, time.UTC)
	return start.Format(time.RFC3339), end.Format(time.RFC3339), nil
}
