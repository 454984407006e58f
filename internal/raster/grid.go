// Package raster provides the grid and raster types shared by the density,
// resampling and GeoTIFF packages.
package raster

import (
	"fmt"
	"math"
)

// Grid is a north-up affine grid. Cell (row, col) has its upper-left corner at
// (OriginX + col*CellWidth, OriginY + row*CellHeight). CellHeight is negative
// for the usual north-up layout.
type Grid struct {
	OriginX    float64
	OriginY    float64
	CellWidth  float64
	CellHeight float64
	Rows       int
	Cols       int
	CRS        string
}

// Bounds is an axis-aligned extent in grid coordinates.
type Bounds struct {
	MinX, MinY, MaxX, MaxY float64
}

// Len returns the number of cells in the grid.
func (g Grid) Len() int {
	if g.Rows <= 0 || g.Cols <= 0 {
		return 0
	}
	return g.Rows * g.Cols
}

// Empty reports whether the grid has no cells.
func (g Grid) Empty() bool {
	return g.Len() == 0
}

// Index returns the row-major offset of (row, col).
func (g Grid) Index(row, col int) int {
	return row*g.Cols + col
}

// CellCenter returns the coordinate of the centre of cell (row, col).
func (g Grid) CellCenter(row, col int) (x, y float64) {
	x = g.OriginX + (float64(col)+0.5)*g.CellWidth
	y = g.OriginY + (float64(row)+0.5)*g.CellHeight
	return x, y
}

// CellOf returns the cell containing coordinate (x, y). ok is false when the
// coordinate falls outside the grid.
func (g Grid) CellOf(x, y float64) (row, col int, ok bool) {
	if g.CellWidth == 0 || g.CellHeight == 0 {
		return 0, 0, false
	}
	c := math.Floor((x - g.OriginX) / g.CellWidth)
	r := math.Floor((y - g.OriginY) / g.CellHeight)
	if math.IsNaN(c) || math.IsNaN(r) {
		return 0, 0, false
	}
	if c < 0 || r < 0 || c >= float64(g.Cols) || r >= float64(g.Rows) {
		return 0, 0, false
	}
	return int(r), int(c), true
}

// Bounds returns the outer extent of the grid.
func (g Grid) Bounds() Bounds {
	x0 := g.OriginX
	x1 := g.OriginX + float64(g.Cols)*g.CellWidth
	y0 := g.OriginY
	y1 := g.OriginY + float64(g.Rows)*g.CellHeight
	return Bounds{
		MinX: math.Min(x0, x1),
		MinY: math.Min(y0, y1),
		MaxX: math.Max(x0, x1),
		MaxY: math.Max(y0, y1),
	}
}

// Equal reports whether two grids share shape, affine parameters and
// reference exactly.
func (g Grid) Equal(o Grid) bool {
	return g.Rows == o.Rows &&
		g.Cols == o.Cols &&
		g.OriginX == o.OriginX &&
		g.OriginY == o.OriginY &&
		g.CellWidth == o.CellWidth &&
		g.CellHeight == o.CellHeight &&
		g.CRS == o.CRS
}

// Transform returns the GDAL-ordered affine transform
// (OriginX, CellWidth, 0, OriginY, 0, CellHeight).
func (g Grid) Transform() [6]float64 {
	return [6]float64{g.OriginX, g.CellWidth, 0, g.OriginY, 0, g.CellHeight}
}

func (g Grid) String() string {
	return fmt.Sprintf("%dx%d@(%g,%g) res(%g,%g) %s",
		g.Rows, g.Cols, g.OriginX, g.OriginY, g.CellWidth, g.CellHeight, g.CRS)
}

// Overlaps reports whether b and o intersect.
func (b Bounds) Overlaps(o Bounds) bool {
	return b.MinX <= o.MaxX && b.MinY <= o.MaxY && b.MaxX >= o.MinX && b.MaxY >= o.MinY
}
