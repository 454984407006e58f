// Package density converts population counts to persons per square
// kilometre and composites per-territory density rasters into output tiles.
package density

import (
	"math"

	"github.com/rotisserie/eris"

	"github.com/sells-group/dep-population/internal/geodesy"
	"github.com/sells-group/dep-population/internal/raster"
)

// AreaRaster returns a raster on grid whose cells hold the surface area of
// each cell in square metres.
//
// Projected grids are assumed to use metres (raster.Classify enforces this)
// and every cell has area |CellWidth*CellHeight|. For geographic grids the
// area depends only on latitude, so one footprint per row is measured on the
// WGS84 ellipsoid and copied across the row.
func AreaRaster(grid raster.Grid, kind raster.CRSKind) (*raster.Raster, error) {
	if grid.Empty() {
		return raster.New(grid), nil
	}

	switch kind {
	case raster.Projected:
		return raster.NewFilled(grid, math.Abs(grid.CellWidth*grid.CellHeight)), nil
	case raster.Geographic:
		return geographicArea(grid)
	default:
		return nil, &DomainError{CRS: grid.CRS, Err: raster.ErrUnknownCRS}
	}
}

func geographicArea(grid raster.Grid) (*raster.Raster, error) {
	out := raster.New(grid)
	lon, _ := grid.CellCenter(0, 0)

	for row := 0; row < grid.Rows; row++ {
		_, lat := grid.CellCenter(row, 0)
		cell, err := geodesy.CellPolygon(lon, lat, grid.CellWidth, grid.CellHeight)
		if err != nil {
			return nil, err
		}
		area, err := geodesy.WGS84.PolygonArea(cell)
		if err != nil {
			return nil, eris.Wrapf(err, "density: area of row %d", row)
		}
		area = math.Abs(area)

		start := grid.Index(row, 0)
		for i := start; i < start+grid.Cols; i++ {
			out.Data[i] = area
			out.Valid[i] = true
		}
	}
	return out, nil
}
