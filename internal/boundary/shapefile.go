package boundary

import (
	"context"
	"strings"

	"github.com/jonas-p/go-shp"
	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/xy"
	"go.uber.org/zap"

	"github.com/sells-group/dep-population/internal/raster"
)

// ShapefileOptions controls how a boundary shapefile is read.
type ShapefileOptions struct {
	// CodeField names the attribute holding the territory code.
	CodeField string
	// Include restricts loading to these codes. Empty loads everything.
	Include []string
}

type part struct {
	code   string
	poly   *geom.Polygon
	bounds raster.Bounds
}

// ShapefileLookup answers territory queries from polygons held in memory.
// It is safe for concurrent use.
type ShapefileLookup struct {
	parts       []part
	territories map[string]*geom.MultiPolygon
}

// LoadShapefile reads a lon/lat polygon shapefile into a ShapefileLookup.
func LoadShapefile(path string, opts ShapefileOptions) (*ShapefileLookup, error) {
	if opts.CodeField == "" {
		opts.CodeField = DefaultCodeField
	}
	include := make(map[string]bool, len(opts.Include))
	for _, c := range opts.Include {
		include[strings.ToUpper(c)] = true
	}

	reader, err := shp.Open(path)
	if err != nil {
		return nil, eris.Wrapf(err, "boundary: open shapefile %s", path)
	}
	defer func() { _ = reader.Close() }()

	codeIdx := -1
	for i, f := range reader.Fields() {
		if strings.EqualFold(f.String(), opts.CodeField) {
			codeIdx = i
			break
		}
	}
	if codeIdx < 0 {
		return nil, eris.Errorf("boundary: shapefile %s has no %s field", path, opts.CodeField)
	}

	l := &ShapefileLookup{territories: make(map[string]*geom.MultiPolygon)}
	var skipped int
	for reader.Next() {
		_, shape := reader.Shape()
		code := strings.ToUpper(strings.TrimSpace(strings.TrimRight(reader.Attribute(codeIdx), "\x00")))
		if code == "" || (len(include) > 0 && !include[code]) {
			continue
		}
		poly, ok := shape.(*shp.Polygon)
		if !ok {
			skipped++
			continue
		}
		mp := polygonToMultiPolygon(poly)
		if mp == nil {
			skipped++
			continue
		}
		l.add(code, mp)
	}
	if err := reader.Err(); err != nil {
		return nil, eris.Wrapf(err, "boundary: read shapefile %s", path)
	}

	zap.L().Info("boundary: loaded shapefile",
		zap.String("path", path),
		zap.Int("territories", len(l.territories)),
		zap.Int("parts", len(l.parts)),
		zap.Int("skipped", skipped),
	)
	return l, nil
}

// NewShapefileLookup builds a lookup from already parsed geometries keyed by
// territory code.
func NewShapefileLookup(territories map[string]*geom.MultiPolygon) *ShapefileLookup {
	l := &ShapefileLookup{territories: make(map[string]*geom.MultiPolygon, len(territories))}
	for code, mp := range territories {
		l.add(code, mp)
	}
	return l
}

func (l *ShapefileLookup) add(code string, mp *geom.MultiPolygon) {
	if existing, ok := l.territories[code]; ok {
		for i := 0; i < mp.NumPolygons(); i++ {
			_ = existing.Push(mp.Polygon(i))
		}
	} else {
		l.territories[code] = mp
	}
	for i := 0; i < mp.NumPolygons(); i++ {
		p := mp.Polygon(i)
		l.parts = append(l.parts, part{code: code, poly: p, bounds: polygonBounds(p)})
	}
}

// Codes returns the loaded territory codes, sorted.
func (l *ShapefileLookup) Codes() []string {
	set := make(map[string]struct{}, len(l.territories))
	for c := range l.territories {
		set[c] = struct{}{}
	}
	return sortedUnique(set)
}

// TerritoriesIntersecting implements Lookup.
func (l *ShapefileLookup) TerritoriesIntersecting(ctx context.Context, grid raster.Grid) ([]string, error) {
	boxes, err := LonLatBoxes(grid)
	if err != nil {
		return nil, err
	}
	found := make(map[string]struct{})
	for _, p := range l.parts {
		if _, ok := found[p.code]; ok {
			continue
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		for _, b := range boxes {
			if p.bounds.Overlaps(b) && polygonIntersectsBox(p.poly, b) {
				found[p.code] = struct{}{}
				break
			}
		}
	}
	return sortedUnique(found), nil
}

// Extents implements Lookup.
func (l *ShapefileLookup) Extents(context.Context) ([]raster.Bounds, error) {
	out := make([]raster.Bounds, len(l.parts))
	for i, p := range l.parts {
		out[i] = p.bounds
	}
	return out, nil
}

// polygonToMultiPolygon converts a shapefile polygon record into polygons
// with holes. Shapefile outer rings wind clockwise; counter-clockwise rings
// are holes of the outer ring that contains them.
func polygonToMultiPolygon(p *shp.Polygon) *geom.MultiPolygon {
	if p == nil || p.NumParts == 0 || len(p.Points) == 0 {
		return nil
	}

	var polys []*geom.Polygon
	for i := int32(0); i < p.NumParts; i++ {
		start := p.Parts[i]
		end := int32(len(p.Points))
		if i+1 < p.NumParts {
			end = p.Parts[i+1]
		}
		if start < 0 || end > int32(len(p.Points)) || end-start < 4 {
			zap.L().Debug("boundary: skipping degenerate ring", zap.Int32("part", i))
			continue
		}

		flat := make([]float64, 0, 2*(end-start))
		for j := start; j < end; j++ {
			flat = append(flat, p.Points[j].X, p.Points[j].Y)
		}
		ring := geom.NewLinearRingFlat(geom.XY, flat)

		if ring.Area() > 0 && len(polys) > 0 {
			owner := polys[len(polys)-1]
			for _, candidate := range polys {
				if xy.IsPointInRing(geom.XY, geom.Coord{flat[0], flat[1]}, candidate.LinearRing(0).FlatCoords()) {
					owner = candidate
					break
				}
			}
			if err := owner.Push(ring); err != nil {
				zap.L().Debug("boundary: skipping malformed hole", zap.Int32("part", i), zap.Error(err))
			}
			continue
		}

		poly := geom.NewPolygon(geom.XY)
		if err := poly.Push(ring); err != nil {
			zap.L().Debug("boundary: skipping malformed ring", zap.Int32("part", i), zap.Error(err))
			continue
		}
		polys = append(polys, poly)
	}

	if len(polys) == 0 {
		return nil
	}
	mp := geom.NewMultiPolygon(geom.XY).SetSRID(4326)
	for _, poly := range polys {
		if err := mp.Push(poly); err != nil {
			zap.L().Debug("boundary: skipping malformed polygon", zap.Error(err))
		}
	}
	return mp
}
