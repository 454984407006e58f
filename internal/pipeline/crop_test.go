package pipeline

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/dep-population/internal/raster"
	"github.com/sells-group/dep-population/internal/tile"
)

func TestCropToTile_SameGrid(t *testing.T) {
	g := testSpec().GridFor(tile.ID{Row: 0, Col: 0})
	r := raster.NewFilled(g, 1)
	out, err := cropToTile(r, g)
	require.NoError(t, err)
	assert.Same(t, r, out)
}

func TestCropToTile_Projected(t *testing.T) {
	tg := testSpec().GridFor(tile.ID{Row: 1, Col: 1}) // x 400..800, y -800..-400
	src := raster.NewFilled(raster.Grid{OriginX: -800, OriginY: 800, CellWidth: 100, CellHeight: -100, Rows: 20, Cols: 20, CRS: raster.EPSG3832}, 1)

	out, err := cropToTile(src, tg)
	require.NoError(t, err)
	require.NotNil(t, out)
	assert.Equal(t, 6, out.Grid.Rows)
	assert.Equal(t, 6, out.Grid.Cols)
	assert.Equal(t, 300.0, out.Grid.OriginX)
	assert.Equal(t, -300.0, out.Grid.OriginY)
}

func TestCropToTile_Miss(t *testing.T) {
	tg := testSpec().GridFor(tile.ID{Row: 0, Col: 0})
	src := raster.NewFilled(raster.Grid{OriginX: 1e6, OriginY: 1e6, CellWidth: 100, CellHeight: -100, Rows: 5, Cols: 5, CRS: raster.EPSG3832}, 1)
	out, err := cropToTile(src, tg)
	require.NoError(t, err)
	assert.Nil(t, out)
}

func TestCropToTile_UnknownReferenceReturnsWhole(t *testing.T) {
	tg := testSpec().GridFor(tile.ID{Row: 0, Col: 0})
	src := raster.NewFilled(raster.Grid{CellWidth: 1, CellHeight: -1, Rows: 2, Cols: 2, CRS: "EPSG:999999"}, 1)
	out, err := cropToTile(src, tg)
	require.NoError(t, err)
	assert.Same(t, src, out)
}

func TestCropToTile_GeographicAcrossAntimeridian(t *testing.T) {
	// PDC Mercator x of 30.5 degrees east of 150E is lon 180.5, i.e. -179.5.
	x := 6378137 * 30.5 * 3.141592653589793 / 180
	tg := raster.Grid{OriginX: x - 5000, OriginY: -1930000, CellWidth: 100, CellHeight: -100, Rows: 100, Cols: 100, CRS: raster.EPSG3832}

	// 0.01 degree cells spanning lon 179..181
	src := raster.NewFilled(raster.Grid{OriginX: 179, OriginY: -16, CellWidth: 0.01, CellHeight: -0.01, Rows: 200, Cols: 200, CRS: raster.EPSG4326}, 1)

	out, err := cropToTile(src, tg)
	require.NoError(t, err)
	require.NotNil(t, out)
	assert.Less(t, out.Grid.Cols, 20)
	b := out.Grid.Bounds()
	assert.Less(t, b.MinX, 180.5)
	assert.Greater(t, b.MaxX, 180.5)
}

func TestUnwrapLon(t *testing.T) {
	assert.InDelta(t, 180.5, unwrapLon(-179.5, 180), 1e-9)
	assert.InDelta(t, -179.5, unwrapLon(180.5, -170), 1e-9)
	assert.InDelta(t, 10, unwrapLon(10, 0), 1e-9)
	assert.InDelta(t, 190, unwrapLon(-530, 100), 1e-9)
}
