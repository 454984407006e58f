package pipeline

import (
	"math"

	"github.com/sells-group/dep-population/internal/raster"
)

// cropDensify is the number of samples per tile edge when projecting the tile
// outline into a source reference.
const cropDensify = 16

// cropToTile cuts counts down to the block covering the tile, plus one cell
// of margin for nearest-neighbour lookups at the edge. It returns nil when
// the raster misses the tile. A source whose reference cannot be transformed
// is returned whole so that density conversion reports the reference problem.
func cropToTile(counts *raster.Raster, tileGrid raster.Grid) (*raster.Raster, error) {
	if counts.Grid.Equal(tileGrid) {
		return counts, nil
	}
	t, err := raster.NewTransformer(tileGrid.CRS, counts.Grid.CRS)
	if err != nil {
		return counts, nil
	}

	b, ok := outline(t, tileGrid.Bounds(), counts.Grid)
	if !ok {
		return nil, nil
	}
	row, col, rows, cols, ok := counts.Grid.Window(b, 1)
	if !ok {
		return nil, nil
	}
	if rows == counts.Grid.Rows && cols == counts.Grid.Cols {
		return counts, nil
	}
	return counts.Sub(row, col, rows, cols), nil
}

// outline transforms the edges of b into src's reference and returns their
// extent. Longitudes are unwrapped around the centre of a geographic source
// so that a tile across the antimeridian stays a narrow box.
func outline(t *raster.Transformer, b raster.Bounds, src raster.Grid) (raster.Bounds, bool) {
	geographic := false
	if kind, err := raster.Classify(src.CRS); err == nil && kind == raster.Geographic {
		geographic = true
	}
	sb := src.Bounds()
	centre := (sb.MinX + sb.MaxX) / 2

	out := raster.Bounds{MinX: math.Inf(1), MinY: math.Inf(1), MaxX: math.Inf(-1), MaxY: math.Inf(-1)}
	ok := false
	add := func(x, y float64) {
		sx, sy, err := t.Point(x, y)
		if err != nil || math.IsNaN(sx) || math.IsNaN(sy) || math.IsInf(sx, 0) || math.IsInf(sy, 0) {
			return
		}
		if geographic {
			sx = unwrapLon(sx, centre)
		}
		out.MinX = math.Min(out.MinX, sx)
		out.MinY = math.Min(out.MinY, sy)
		out.MaxX = math.Max(out.MaxX, sx)
		out.MaxY = math.Max(out.MaxY, sy)
		ok = true
	}
	for i := 0; i <= cropDensify; i++ {
		f := float64(i) / cropDensify
		x := b.MinX + f*(b.MaxX-b.MinX)
		y := b.MinY + f*(b.MaxY-b.MinY)
		add(x, b.MinY)
		add(x, b.MaxY)
		add(b.MinX, y)
		add(b.MaxX, y)
	}
	return out, ok
}

// unwrapLon shifts lon by whole turns to within half a turn of centre.
func unwrapLon(lon, centre float64) float64 {
	for lon-centre > 180 {
		lon -= 360
	}
	for lon-centre < -180 {
		lon += 360
	}
	return lon
}
