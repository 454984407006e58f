// Package geodesy measures surface areas on the WGS84 ellipsoid.
//
// Ring areas are geodesic polygon areas from Karney's algorithm: every edge
// is the shortest geodesic between its vertices. Raster cells are bounded by
// parallels rather than geodesics, so CellPolygon densifies its east-west
// edges before the area is taken.
package geodesy

import (
	"math"

	"github.com/rotisserie/eris"
	"github.com/tidwall/geodesic"
	"github.com/twpayne/go-geom"
)

// parallelSteps is the number of geodesic segments standing in for each
// parallel edge of a cell.
const parallelSteps = 16

// Ellipsoid describes a reference ellipsoid by semi-major axis and flattening.
type Ellipsoid struct {
	A float64 // semi-major axis, metres
	F float64 // flattening

	g *geodesic.Ellipsoid
}

// WGS84 is the World Geodetic System 1984 ellipsoid.
var WGS84 = &Ellipsoid{A: 6378137, F: 1 / 298.257223563, g: geodesic.WGS84}

// NewEllipsoid returns the ellipsoid with semi-major axis a (metres) and
// flattening f. A flattening of zero is a sphere.
func NewEllipsoid(a, f float64) *Ellipsoid {
	return &Ellipsoid{A: a, F: f, g: geodesic.NewEllipsoid(a, f)}
}

// RingArea returns the signed area in square metres of a closed or unclosed
// ring given as flat lon/lat pairs in degrees. Counter-clockwise rings are
// positive.
func (el *Ellipsoid) RingArea(flat []float64) float64 {
	n := len(flat) / 2
	if n > 1 && flat[0] == flat[2*n-2] && flat[1] == flat[2*n-1] {
		n--
	}
	if n < 3 {
		return 0
	}

	poly := el.g.PolygonInit(false)
	for i := 0; i < n; i++ {
		poly.AddPoint(flat[2*i+1], flat[2*i])
	}
	var area float64
	poly.Compute(false, true, &area, nil)
	return area
}

// PolygonArea returns the unsigned surface area in square metres of a
// lon/lat polygon: the exterior ring minus any holes.
func (el *Ellipsoid) PolygonArea(p *geom.Polygon) (float64, error) {
	if p == nil || p.NumLinearRings() == 0 {
		return 0, nil
	}
	if p.Layout() != geom.XY {
		return 0, eris.Errorf("geodesy: unsupported layout %v", p.Layout())
	}
	area := math.Abs(el.RingArea(p.LinearRing(0).FlatCoords()))
	for i := 1; i < p.NumLinearRings(); i++ {
		area -= math.Abs(el.RingArea(p.LinearRing(i).FlatCoords()))
	}
	return math.Abs(area), nil
}

// CellPolygon builds the lon/lat rectangle centred on (lon, lat) with the
// given full width and height in degrees. The north and south edges follow
// their parallels; the meridian edges are already geodesics.
func CellPolygon(lon, lat, width, height float64) (*geom.Polygon, error) {
	hw, hh := math.Abs(width)/2, math.Abs(height)/2
	west, east := lon-hw, lon+hw
	south, north := lat-hh, lat+hh
	step := (east - west) / parallelSteps

	ring := make([]geom.Coord, 0, 2*parallelSteps+3)
	for i := 0; i <= parallelSteps; i++ {
		ring = append(ring, geom.Coord{west + float64(i)*step, south})
	}
	for i := 0; i <= parallelSteps; i++ {
		ring = append(ring, geom.Coord{east - float64(i)*step, north})
	}
	ring = append(ring, geom.Coord{west, south})

	p, err := geom.NewPolygon(geom.XY).SetCoords([][]geom.Coord{ring})
	if err != nil {
		return nil, eris.Wrap(err, "geodesy: build cell polygon")
	}
	return p, nil
}
