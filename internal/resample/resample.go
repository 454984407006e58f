// Package resample moves density rasters onto the output tile grid.
package resample

import (
	"math"

	"github.com/rotisserie/eris"

	"github.com/sells-group/dep-population/internal/raster"
)

// Reproject resamples src onto target by nearest neighbour: each target cell
// takes the source cell containing its centre, transformed into the source
// reference. Cells falling outside the source, or on invalid source cells,
// are no-data. Values are carried unchanged, so src must hold densities, not
// counts.
func Reproject(src *raster.Raster, target raster.Grid) (*raster.Raster, error) {
	if src == nil {
		return nil, eris.New("resample: nil source raster")
	}
	if src.Grid.Equal(target) {
		return src.Clone(), nil
	}

	out := raster.New(target)
	if target.Empty() || src.Grid.Empty() {
		return out, nil
	}

	t, err := raster.NewTransformer(target.CRS, src.Grid.CRS)
	if err != nil {
		return nil, eris.Wrapf(err, "resample: %s -> %s", target.CRS, src.Grid.CRS)
	}
	wrap := false
	if !t.Identity() {
		if kind, err := raster.Classify(src.Grid.CRS); err == nil && kind == raster.Geographic {
			wrap = true
		}
	}

	srcBounds := src.Grid.Bounds()
	for row := 0; row < target.Rows; row++ {
		for col := 0; col < target.Cols; col++ {
			x, y := target.CellCenter(row, col)
			sx, sy, err := t.Point(x, y)
			if err != nil || math.IsNaN(sx) || math.IsNaN(sy) {
				continue
			}
			if wrap && (sx < srcBounds.MinX || sx > srcBounds.MaxX) {
				sx = wrapLon(sx, srcBounds)
			}
			r, c, ok := src.Grid.CellOf(sx, sy)
			if !ok {
				continue
			}
			i := src.Grid.Index(r, c)
			if !src.Valid[i] {
				continue
			}
			j := target.Index(row, col)
			out.Data[j] = src.Data[i]
			out.Valid[j] = true
		}
	}
	return out, nil
}

// wrapLon shifts a longitude by whole turns into b's longitude range when
// one of the shifts lands inside it.
func wrapLon(lon float64, b raster.Bounds) float64 {
	for _, shift := range []float64{360, -360, 720, -720} {
		if l := lon + shift; l >= b.MinX && l <= b.MaxX {
			return l
		}
	}
	return lon
}
