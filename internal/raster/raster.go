package raster

import (
	"math"

	"github.com/rotisserie/eris"
)

// Raster is a single-band grid of float64 values with an explicit validity
// mask. A cell is no-data when Valid is false; its Data value is meaningless.
// Rasters are treated as immutable once constructed.
type Raster struct {
	Grid  Grid
	Data  []float64
	Valid []bool
}

// New returns a raster on grid with every cell marked no-data.
func New(grid Grid) *Raster {
	n := grid.Len()
	return &Raster{
		Grid:  grid,
		Data:  make([]float64, n),
		Valid: make([]bool, n),
	}
}

// NewFilled returns a raster on grid with every cell set to v.
func NewFilled(grid Grid, v float64) *Raster {
	r := New(grid)
	for i := range r.Data {
		r.Data[i] = v
		r.Valid[i] = true
	}
	return r
}

// FromValues builds a raster from row-major values. Cells equal to nodata,
// and NaN cells, are marked invalid. Pass NaN as nodata when the source has
// no sentinel.
func FromValues(grid Grid, values []float64, nodata float64) (*Raster, error) {
	if len(values) != grid.Len() {
		return nil, eris.Errorf("raster: %d values for %dx%d grid", len(values), grid.Rows, grid.Cols)
	}
	r := New(grid)
	for i, v := range values {
		if math.IsNaN(v) || v == nodata {
			continue
		}
		r.Data[i] = v
		r.Valid[i] = true
	}
	return r, nil
}

// At returns the value at (row, col) and whether it is valid.
func (r *Raster) At(row, col int) (float64, bool) {
	i := r.Grid.Index(row, col)
	return r.Data[i], r.Valid[i]
}

// IsValid reports whether cell (row, col) holds data.
func (r *Raster) IsValid(row, col int) bool {
	return r.Valid[r.Grid.Index(row, col)]
}

// ValidCount returns the number of valid cells.
func (r *Raster) ValidCount() int {
	n := 0
	for _, ok := range r.Valid {
		if ok {
			n++
		}
	}
	return n
}

// Clone returns a deep copy of r.
func (r *Raster) Clone() *Raster {
	out := &Raster{
		Grid:  r.Grid,
		Data:  make([]float64, len(r.Data)),
		Valid: make([]bool, len(r.Valid)),
	}
	copy(out.Data, r.Data)
	copy(out.Valid, r.Valid)
	return out
}

// Values returns the data with no-data cells replaced by fill.
func (r *Raster) Values(fill float64) []float64 {
	out := make([]float64, len(r.Data))
	for i, v := range r.Data {
		if r.Valid[i] {
			out[i] = v
		} else {
			out[i] = fill
		}
	}
	return out
}
