package main

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/dep-population/internal/config"
	"github.com/sells-group/dep-population/internal/raster"
	"github.com/sells-group/dep-population/internal/tile"
)

type fakeIntersector struct{}

func (fakeIntersector) TerritoriesIntersecting(context.Context, raster.Grid) ([]string, error) {
	return []string{"XXX"}, nil
}

// a small island near 150E on the equator
func (fakeIntersector) Extents(context.Context) ([]raster.Bounds, error) {
	return []raster.Bounds{{MinX: 150.1, MinY: -0.4, MaxX: 150.6, MaxY: 0.4}}, nil
}

type fakeChecker struct {
	mu      sync.Mutex
	present map[tile.ID]bool
	err     error
	calls   int
}

func (f *fakeChecker) ItemExists(_ context.Context, id tile.ID) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return f.present[id], f.err
}

func withGridConfig(t *testing.T) {
	t.Helper()
	prev := cfg
	spec := tile.DefaultGridSpec()
	spec.TileSize = 200 // 20 km tiles
	cfg = &config.Config{Grid: spec}
	t.Cleanup(func() { cfg = prev })
}

func TestPendingTiles(t *testing.T) {
	withGridConfig(t)
	ctx := context.Background()

	all, err := pendingTiles(ctx, fakeIntersector{}, &fakeChecker{}, true)
	require.NoError(t, err)
	require.Greater(t, len(all), 1)

	checker := &fakeChecker{present: map[tile.ID]bool{all[0]: true}}
	pending, err := pendingTiles(ctx, fakeIntersector{}, checker, false)
	require.NoError(t, err)
	assert.Equal(t, all[1:], pending)
	assert.Equal(t, len(all), checker.calls)
}

func TestPendingTiles_AllSkipsChecks(t *testing.T) {
	withGridConfig(t)
	checker := &fakeChecker{err: errors.New("should not be called")}
	_, err := pendingTiles(context.Background(), fakeIntersector{}, checker, true)
	require.NoError(t, err)
	assert.Zero(t, checker.calls)
}

func TestPendingTiles_CheckError(t *testing.T) {
	withGridConfig(t)
	checker := &fakeChecker{err: errors.New("access denied")}
	_, err := pendingTiles(context.Background(), fakeIntersector{}, checker, false)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "access denied")
}

func TestParseTileIDs(t *testing.T) {
	ids, err := parseTileIDs([]string{"[1,2]", "[30, 40]"})
	require.NoError(t, err)
	assert.Equal(t, []tile.ID{{Row: 1, Col: 2}, {Row: 30, Col: 40}}, ids)

	_, err = parseTileIDs([]string{"[1,2]", "3,4"})
	assert.Error(t, err)

	ids, err = parseTileIDs(nil)
	require.NoError(t, err)
	assert.Empty(t, ids)
}

func TestWriteJSON_TileIDs(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, writeJSON(&buf, []tile.ID{{Row: 12, Col: 345}, {Row: 0, Col: 7}}, false))
	assert.Equal(t, "[\"[12,345]\",\"[0,7]\"]\n", buf.String())

	buf.Reset()
	require.NoError(t, writeJSON(&buf, []tile.ID{}, false))
	assert.Equal(t, "[]\n", buf.String())
}
