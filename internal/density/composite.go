package density

import (
	"math"

	"github.com/sells-group/dep-population/internal/raster"
)

// CompositeTile is the merged density for one output tile, stored as
// float32 to match the output format. Cells with Valid false are no-data.
type CompositeTile struct {
	Grid   raster.Grid
	Values []float32
	Valid  []bool
}

// Raster exposes the tile as a float64 raster so that composites can be
// composited again.
func (t *CompositeTile) Raster() *raster.Raster {
	r := raster.New(t.Grid)
	for i, v := range t.Values {
		if t.Valid[i] {
			r.Data[i] = float64(v)
			r.Valid[i] = true
		}
	}
	return r
}

// Float32 returns the values with no-data cells set to NaN.
func (t *CompositeTile) Float32() []float32 {
	out := make([]float32, len(t.Values))
	nan := float32(math.NaN())
	for i, v := range t.Values {
		if t.Valid[i] {
			out[i] = v
		} else {
			out[i] = nan
		}
	}
	return out
}

// ValidCount returns the number of cells holding data.
func (t *CompositeTile) ValidCount() int {
	n := 0
	for _, ok := range t.Valid {
		if ok {
			n++
		}
	}
	return n
}

// Composite merges density rasters that have already been reprojected onto
// tileGrid. Each cell takes the maximum of the valid inputs, which keeps the
// result independent of input order. A single input is passed through.
//
// Max is a policy choice for overlapping territory boundaries.
func Composite(tileGrid raster.Grid, rasters []*raster.Raster) (*CompositeTile, error) {
	if len(rasters) == 0 {
		return nil, ErrNoContributions
	}
	for i, r := range rasters {
		if r == nil || !r.Grid.Equal(tileGrid) || len(r.Data) != tileGrid.Len() {
			got := raster.Grid{}
			if r != nil {
				got = r.Grid
			}
			return nil, &ShapeMismatchError{Index: i, Want: tileGrid, Got: got}
		}
	}

	n := tileGrid.Len()
	tile := &CompositeTile{
		Grid:   tileGrid,
		Values: make([]float32, n),
		Valid:  make([]bool, n),
	}

	if len(rasters) == 1 {
		src := rasters[0]
		for i := 0; i < n; i++ {
			if src.Valid[i] {
				tile.Values[i] = float32(src.Data[i])
				tile.Valid[i] = true
			}
		}
		return tile, nil
	}

	for i := 0; i < n; i++ {
		best := math.Inf(-1)
		found := false
		for _, r := range rasters {
			if !r.Valid[i] {
				continue
			}
			if !found || r.Data[i] > best {
				best = r.Data[i]
			}
			found = true
		}
		if found {
			tile.Values[i] = float32(best)
			tile.Valid[i] = true
		}
	}
	return tile, nil
}
