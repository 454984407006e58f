package monitoring

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/dep-population/internal/store"
)

type fakeLister struct {
	tasks  []store.Task
	err    error
	filter store.TaskFilter
}

func (f *fakeLister) ListTasks(_ context.Context, filter store.TaskFilter) ([]store.Task, error) {
	f.filter = filter
	return f.tasks, f.err
}

var now = time.Date(2025, 5, 1, 12, 0, 0, 0, time.UTC)

func task(status store.TaskStatus, age, dur time.Duration) store.Task {
	created := now.Add(-age)
	return store.Task{Status: status, CreatedAt: created, UpdatedAt: created.Add(dur)}
}

func TestCollector_Collect(t *testing.T) {
	lister := &fakeLister{tasks: []store.Task{
		task(store.TaskComplete, time.Hour, 10*time.Second),
		task(store.TaskComplete, 2*time.Hour, 30*time.Second),
		task(store.TaskEmpty, 3*time.Hour, 2*time.Second),
		task(store.TaskFailed, 4*time.Hour, 6*time.Second),
		task(store.TaskRunning, 5*time.Minute, 0),
		task(store.TaskRunning, 3*time.Hour, 0),
		task(store.TaskFailed, 48*time.Hour, time.Second), // outside window
	}}

	c := NewCollector(lister, time.Hour)
	c.now = func() time.Time { return now }

	snap, err := c.Collect(context.Background(), 24)
	require.NoError(t, err)

	assert.Equal(t, maxTasks, lister.filter.Limit)
	assert.Equal(t, 6, snap.TasksTotal)
	assert.Equal(t, 2, snap.TasksComplete)
	assert.Equal(t, 1, snap.TasksEmpty)
	assert.Equal(t, 1, snap.TasksFailed)
	assert.Equal(t, 2, snap.TasksRunning)
	assert.Equal(t, 1, snap.StaleRunning)
	assert.InDelta(t, 0.25, snap.FailRate, 1e-9)
	assert.InDelta(t, 12, snap.AvgDurationSecs, 1e-9)
	assert.Equal(t, 24, snap.LookbackHours)
	assert.Equal(t, now, snap.CollectedAt)
}

func TestCollector_Empty(t *testing.T) {
	c := NewCollector(&fakeLister{}, 0)
	snap, err := c.Collect(context.Background(), 24)
	require.NoError(t, err)
	assert.Zero(t, snap.TasksTotal)
	assert.Zero(t, snap.FailRate)
	assert.Equal(t, time.Hour, c.staleAfter)
}

func TestCollector_ListError(t *testing.T) {
	c := NewCollector(&fakeLister{err: errors.New("db down")}, time.Hour)
	_, err := c.Collect(context.Background(), 24)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "monitoring: list tasks")
}
