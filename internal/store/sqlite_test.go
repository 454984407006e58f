package store

import (
	"context"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestSQLiteStore(t *testing.T) *SQLiteStore {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	st, err := NewSQLite(dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	require.NoError(t, st.Migrate(context.Background()))
	return st
}

func TestSQLite_CreateAndFinishTask(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	task, err := st.CreateTask(ctx, "[12,345]")
	require.NoError(t, err)
	assert.NotEmpty(t, task.ID)
	assert.Equal(t, TaskRunning, task.Status)

	got, err := st.GetTask(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, "[12,345]", got.TileID)
	assert.Equal(t, TaskRunning, got.Status)
	assert.Nil(t, got.Territories)
	assert.Empty(t, got.Error)

	require.NoError(t, st.FinishTask(ctx, task.ID, TaskOutcome{
		Status:      TaskComplete,
		Territories: []string{"FJI", "TON"},
	}))

	got, err = st.GetTask(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, TaskComplete, got.Status)
	assert.Equal(t, []string{"FJI", "TON"}, got.Territories)
	assert.False(t, got.UpdatedAt.Before(got.CreatedAt))
}

func TestSQLite_FinishTask_Failed(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	task, err := st.CreateTask(ctx, "[1,2]")
	require.NoError(t, err)
	require.NoError(t, st.FinishTask(ctx, task.ID, TaskOutcome{Status: TaskFailed, Error: "boom"}))

	got, err := st.GetTask(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, TaskFailed, got.Status)
	assert.Equal(t, "boom", got.Error)
}

func TestSQLite_FinishTask_Errors(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	err := st.FinishTask(ctx, "missing", TaskOutcome{Status: TaskComplete})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "task not found")

	task, err := st.CreateTask(ctx, "[1,2]")
	require.NoError(t, err)
	assert.Error(t, st.FinishTask(ctx, task.ID, TaskOutcome{Status: TaskRunning}))
	assert.Error(t, st.FinishTask(ctx, task.ID, TaskOutcome{Status: "bogus"}))
}

func TestSQLite_GetTask_NotFound(t *testing.T) {
	st := newTestSQLiteStore(t)
	_, err := st.GetTask(context.Background(), "nope")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "task not found")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSQLite_ListTasks(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	var ids []string
	for _, tile := range []string{"[0,0]", "[0,1]", "[0,2]", "[0,1]"} {
		task, err := st.CreateTask(ctx, tile)
		require.NoError(t, err)
		ids = append(ids, task.ID)
	}
	require.NoError(t, st.FinishTask(ctx, ids[0], TaskOutcome{Status: TaskComplete}))
	require.NoError(t, st.FinishTask(ctx, ids[1], TaskOutcome{Status: TaskEmpty}))

	all, err := st.ListTasks(ctx, TaskFilter{})
	require.NoError(t, err)
	require.Len(t, all, 4)
	assert.Equal(t, ids[3], all[0].ID, "newest first")

	running, err := st.ListTasks(ctx, TaskFilter{Status: TaskRunning})
	require.NoError(t, err)
	assert.Len(t, running, 2)

	byTile, err := st.ListTasks(ctx, TaskFilter{TileID: "[0,1]"})
	require.NoError(t, err)
	assert.Len(t, byTile, 2)

	page, err := st.ListTasks(ctx, TaskFilter{Limit: 2, Offset: 1})
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.Equal(t, ids[2], page[0].ID)

	counts, err := st.StatusCounts(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[TaskStatus]int{TaskRunning: 2, TaskComplete: 1, TaskEmpty: 1}, counts)
}

func TestSQLite_ConcurrentTasks(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	errs := make(chan error, 20)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			task, err := st.CreateTask(ctx, "[3,3]")
			if err != nil {
				errs <- err
				return
			}
			errs <- st.FinishTask(ctx, task.ID, TaskOutcome{Status: TaskComplete})
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	counts, err := st.StatusCounts(ctx)
	require.NoError(t, err)
	assert.Equal(t, 20, counts[TaskComplete])
}
