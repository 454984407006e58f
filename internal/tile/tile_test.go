package tile

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/dep-population/internal/raster"
)

func TestParseID(t *testing.T) {
	tests := []struct {
		in   string
		want ID
	}{
		{"[12,345]", ID{12, 345}},
		{"[12, 345]", ID{12, 345}},
		{" [0,0] ", ID{0, 0}},
		{"[-1,7]", ID{-1, 7}},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			id, err := ParseID(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, id)
		})
	}
}

func TestParseID_Malformed(t *testing.T) {
	for _, in := range []string{"", "12,345", "[12,345", "12,345]", "[12]", "[1,2,3]", "[a,2]", "[1,b]", "[,]", "(1,2)", "[]", "[+12,345]", "[12,+345]", "[ +1,2]"} {
		t.Run(in, func(t *testing.T) {
			_, err := ParseID(in)
			assert.Error(t, err)
		})
	}
}

func TestID_RoundTrip(t *testing.T) {
	for _, id := range []ID{{0, 0}, {12, 345}, {7, 3}, {-2, 40}} {
		parsed, err := ParseID(id.String())
		require.NoError(t, err)
		assert.Equal(t, id, parsed)
	}
}

func TestID_Formats(t *testing.T) {
	id := ID{Row: 7, Col: 42}
	assert.Equal(t, "[7,42]", id.String())
	assert.Equal(t, "007/042", id.Path())
	assert.Equal(t, "007_042", id.Slug())
}

func TestID_JSON(t *testing.T) {
	data, err := json.Marshal([]ID{{1, 2}, {3, 4}})
	require.NoError(t, err)
	assert.JSONEq(t, `["[1,2]","[3,4]"]`, string(data))

	var back []ID
	require.NoError(t, json.Unmarshal(data, &back))
	assert.Equal(t, []ID{{1, 2}, {3, 4}}, back)

	assert.Error(t, json.Unmarshal([]byte(`["1,2"]`), &back))
}

func TestSortIDs(t *testing.T) {
	ids := []ID{{2, 1}, {1, 5}, {1, 2}, {0, 9}}
	SortIDs(ids)
	assert.Equal(t, []ID{{0, 9}, {1, 2}, {1, 5}, {2, 1}}, ids)
}

func smallSpec() GridSpec {
	return GridSpec{CRS: raster.EPSG3832, Resolution: 100, TileSize: 10, OriginX: 0, OriginY: 0}
}

func TestGridFor(t *testing.T) {
	g := smallSpec().GridFor(ID{Row: 2, Col: 3})
	assert.Equal(t, 3000.0, g.OriginX)
	assert.Equal(t, -2000.0, g.OriginY)
	assert.Equal(t, 100.0, g.CellWidth)
	assert.Equal(t, -100.0, g.CellHeight)
	assert.Equal(t, 10, g.Rows)
	assert.Equal(t, 10, g.Cols)
	assert.Equal(t, raster.EPSG3832, g.CRS)
}

func TestTilesCovering(t *testing.T) {
	spec := smallSpec()

	ids := spec.TilesCovering(raster.Bounds{MinX: 500, MinY: -1500, MaxX: 1500, MaxY: -500})
	assert.ElementsMatch(t, []ID{{0, 0}, {0, 1}, {1, 0}, {1, 1}}, ids)

	// exactly on tile edges: only the enclosed tile
	ids = spec.TilesCovering(raster.Bounds{MinX: 1000, MinY: -2000, MaxX: 2000, MaxY: -1000})
	assert.Equal(t, []ID{{1, 1}}, ids)

	assert.Nil(t, spec.TilesCovering(raster.Bounds{MinX: 1, MaxX: 0}))
}

func TestGridSpec_Validate(t *testing.T) {
	require.NoError(t, DefaultGridSpec().Validate())

	bad := DefaultGridSpec()
	bad.Resolution = 0
	assert.Error(t, bad.Validate())

	bad = DefaultGridSpec()
	bad.TileSize = -1
	assert.Error(t, bad.Validate())

	bad = DefaultGridSpec()
	bad.CRS = raster.EPSG4326
	assert.Error(t, bad.Validate())
}

type fakeIntersector struct {
	extents []raster.Bounds
	land    func(g raster.Grid) []string
	calls   int
}

func (f *fakeIntersector) TerritoriesIntersecting(_ context.Context, g raster.Grid) ([]string, error) {
	f.calls++
	return f.land(g), nil
}

func (f *fakeIntersector) Extents(context.Context) ([]raster.Bounds, error) {
	return f.extents, nil
}

func TestLandTiles(t *testing.T) {
	spec := DefaultGridSpec()
	spec.TileSize = 1000 // 100 km tiles

	// a small island near 150E on the equator
	fi := &fakeIntersector{
		extents: []raster.Bounds{{MinX: 150.1, MinY: -0.4, MaxX: 150.6, MaxY: 0.4}},
		land: func(g raster.Grid) []string {
			b := g.Bounds()
			// island x extent ~ [11 km, 67 km]; only the westernmost candidate
			// column counts as land in this fake
			if b.MinX <= 20000 && b.MaxX >= 20000 {
				return []string{"XXX"}
			}
			return nil
		},
	}

	ids, err := LandTiles(context.Background(), spec, fi)
	require.NoError(t, err)
	require.NotEmpty(t, ids)
	assert.Positive(t, fi.calls)
	for i := 1; i < len(ids); i++ {
		assert.True(t, ids[i-1].Less(ids[i]))
	}
	for _, id := range ids {
		b := spec.GridFor(id).Bounds()
		assert.LessOrEqual(t, b.MinX, 20000.0)
		assert.GreaterOrEqual(t, b.MaxX, 20000.0)
	}
}

func TestLandTiles_NoExtents(t *testing.T) {
	fi := &fakeIntersector{land: func(raster.Grid) []string { return []string{"X"} }}
	ids, err := LandTiles(context.Background(), DefaultGridSpec(), fi)
	require.NoError(t, err)
	assert.Empty(t, ids)
	assert.Zero(t, fi.calls)
}
