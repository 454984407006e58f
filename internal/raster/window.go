package raster

import "math"

// Window returns the cell range of g covering b, grown by margin cells on
// every side and clipped to the grid. ok is false when b misses the grid.
func (g Grid) Window(b Bounds, margin int) (row, col, rows, cols int, ok bool) {
	if g.Empty() || g.CellWidth == 0 || g.CellHeight == 0 {
		return 0, 0, 0, 0, false
	}
	if !g.Bounds().Overlaps(b) {
		return 0, 0, 0, 0, false
	}
	c0 := (b.MinX - g.OriginX) / g.CellWidth
	c1 := (b.MaxX - g.OriginX) / g.CellWidth
	r0 := (b.MaxY - g.OriginY) / g.CellHeight
	r1 := (b.MinY - g.OriginY) / g.CellHeight
	if c0 > c1 {
		c0, c1 = c1, c0
	}
	if r0 > r1 {
		r0, r1 = r1, r0
	}
	firstCol := max(int(math.Floor(c0))-margin, 0)
	lastCol := min(int(math.Ceil(c1))+margin, g.Cols)
	firstRow := max(int(math.Floor(r0))-margin, 0)
	lastRow := min(int(math.Ceil(r1))+margin, g.Rows)
	if lastCol <= firstCol || lastRow <= firstRow {
		return 0, 0, 0, 0, false
	}
	return firstRow, firstCol, lastRow - firstRow, lastCol - firstCol, true
}

// Sub returns the grid of the rows x cols block starting at (row, col).
func (g Grid) Sub(row, col, rows, cols int) Grid {
	out := g
	out.OriginX = g.OriginX + float64(col)*g.CellWidth
	out.OriginY = g.OriginY + float64(row)*g.CellHeight
	out.Rows = rows
	out.Cols = cols
	return out
}

// Sub copies the rows x cols block starting at (row, col). The block must lie
// inside r.
func (r *Raster) Sub(row, col, rows, cols int) *Raster {
	out := New(r.Grid.Sub(row, col, rows, cols))
	for i := 0; i < rows; i++ {
		src := r.Grid.Index(row+i, col)
		dst := i * cols
		copy(out.Data[dst:dst+cols], r.Data[src:src+cols])
		copy(out.Valid[dst:dst+cols], r.Valid[src:src+cols])
	}
	return out
}
