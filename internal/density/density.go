package density

import (
	"math"

	"github.com/rotisserie/eris"

	"github.com/sells-group/dep-population/internal/raster"
)

// SqKmPerSqM converts square metres to square kilometres.
const SqKmPerSqM = 1e-6

// PopulationDensity converts a raster of population counts into persons per
// square kilometre on the same grid. No-data count cells stay no-data.
func PopulationDensity(counts *raster.Raster) (*raster.Raster, error) {
	if counts == nil {
		return nil, eris.New("density: nil count raster")
	}

	kind, err := raster.Classify(counts.Grid.CRS)
	if err != nil {
		return nil, &DomainError{CRS: counts.Grid.CRS, Err: err}
	}

	area, err := AreaRaster(counts.Grid, kind)
	if err != nil {
		return nil, err
	}

	out := raster.New(counts.Grid)
	for i, c := range counts.Data {
		if !counts.Valid[i] || !area.Valid[i] {
			continue
		}
		sqkm := area.Data[i] * SqKmPerSqM
		if sqkm == 0 || math.IsNaN(sqkm) || math.IsInf(sqkm, 0) {
			continue
		}
		out.Data[i] = c / sqkm
		out.Valid[i] = true
	}
	return out, nil
}
