package pipeline

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/sells-group/dep-population/internal/density"
	"github.com/sells-group/dep-population/internal/output"
	"github.com/sells-group/dep-population/internal/raster"
	"github.com/sells-group/dep-population/internal/store"
	"github.com/sells-group/dep-population/internal/tile"
)

type mockLookup struct{ mock.Mock }

func (m *mockLookup) TerritoriesIntersecting(ctx context.Context, grid raster.Grid) ([]string, error) {
	args := m.Called(ctx, grid)
	codes, _ := args.Get(0).([]string)
	return codes, args.Error(1)
}

type mockSource struct{ mock.Mock }

func (m *mockSource) FetchCounts(ctx context.Context, code string) (*raster.Raster, error) {
	args := m.Called(ctx, code)
	r, _ := args.Get(0).(*raster.Raster)
	return r, args.Error(1)
}

type mockWriter struct{ mock.Mock }

func (m *mockWriter) WriteTile(ctx context.Context, id tile.ID, t *density.CompositeTile) (string, error) {
	args := m.Called(ctx, id, t)
	return args.String(0), args.Error(1)
}

func (m *mockWriter) WriteItem(ctx context.Context, id tile.ID, item *output.Item) (string, error) {
	args := m.Called(ctx, id, item)
	return args.String(0), args.Error(1)
}

type mockLedger struct{ mock.Mock }

func (m *mockLedger) CreateTask(ctx context.Context, tileID string) (*store.Task, error) {
	args := m.Called(ctx, tileID)
	t, _ := args.Get(0).(*store.Task)
	return t, args.Error(1)
}

func (m *mockLedger) FinishTask(ctx context.Context, taskID string, outcome store.TaskOutcome) error {
	args := m.Called(ctx, taskID, outcome)
	return args.Error(0)
}
