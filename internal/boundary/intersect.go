package boundary

import (
	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/xy"
	"github.com/twpayne/go-geom/xy/lineintersector"
	"github.com/twpayne/go-geom/xy/location"

	"github.com/sells-group/dep-population/internal/raster"
)

// polygonIntersectsBox reports whether a lon/lat polygon (exterior plus
// holes) shares any area or boundary with an axis-aligned box.
func polygonIntersectsBox(p *geom.Polygon, b raster.Bounds) bool {
	if p.NumLinearRings() == 0 {
		return false
	}
	box := geom.NewBounds(geom.XY).Set(b.MinX, b.MinY, b.MaxX, b.MaxY)
	if !p.Bounds().Overlaps(geom.XY, box) {
		return false
	}
	edges := box.Polygon().LinearRing(0)

	for i := 0; i < p.NumLinearRings(); i++ {
		if ringTouchesBox(p.LinearRing(i), box, edges) {
			return true
		}
	}
	// No ring touches the box: it is either fully inside the polygon or
	// fully outside it. Its centre decides.
	centre := geom.Coord{(b.MinX + b.MaxX) / 2, (b.MinY + b.MaxY) / 2}
	return locateInPolygon(p, centre) != location.Exterior
}

// ringTouchesBox reports whether any vertex of ring lies in box or any ring
// edge crosses one of the box edges.
func ringTouchesBox(ring *geom.LinearRing, box *geom.Bounds, edges *geom.LinearRing) bool {
	layout := ring.Layout()
	n := ring.NumCoords()
	for i := 0; i < n; i++ {
		if box.OverlapsPoint(layout, ring.Coord(i)) {
			return true
		}
	}

	var robust lineintersector.RobustLineIntersector
	for i := 0; i+1 < n; i++ {
		a, c := ring.Coord(i), ring.Coord(i+1)
		seg := geom.NewBounds(geom.XY).Set(min(a[0], c[0]), min(a[1], c[1]), max(a[0], c[0]), max(a[1], c[1]))
		if !seg.Overlaps(geom.XY, box) {
			continue
		}
		for j := 0; j+1 < edges.NumCoords(); j++ {
			res := lineintersector.LineIntersectsLine(robust, a, c, edges.Coord(j), edges.Coord(j+1))
			if res.HasIntersection() {
				return true
			}
		}
	}
	return false
}

// locateInPolygon places c relative to a polygon with holes. Points inside a
// hole are exterior.
func locateInPolygon(p *geom.Polygon, c geom.Coord) location.Type {
	layout := p.Layout()
	loc := xy.LocatePointInRing(layout, c, p.LinearRing(0).FlatCoords())
	if loc != location.Interior {
		return loc
	}
	for i := 1; i < p.NumLinearRings(); i++ {
		switch xy.LocatePointInRing(layout, c, p.LinearRing(i).FlatCoords()) {
		case location.Interior:
			return location.Exterior
		case location.Boundary:
			return location.Boundary
		}
	}
	return location.Interior
}

func polygonBounds(p *geom.Polygon) raster.Bounds {
	gb := p.Bounds()
	return raster.Bounds{MinX: gb.Min(0), MinY: gb.Min(1), MaxX: gb.Max(0), MaxY: gb.Max(1)}
}
