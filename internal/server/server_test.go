package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/dep-population/internal/monitoring"
	"github.com/sells-group/dep-population/internal/output"
	"github.com/sells-group/dep-population/internal/pipeline"
	"github.com/sells-group/dep-population/internal/store"
	"github.com/sells-group/dep-population/internal/tile"
)

type fakeRunner struct {
	mu    sync.Mutex
	ids   []tile.ID
	block chan struct{}
	err   error
}

func (f *fakeRunner) ProcessTile(_ context.Context, id tile.ID) (*pipeline.Result, error) {
	if f.block != nil {
		<-f.block
	}
	f.mu.Lock()
	f.ids = append(f.ids, id)
	f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	return &pipeline.Result{TileID: id, Status: store.TaskComplete}, nil
}

func (f *fakeRunner) calls() []tile.ID {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]tile.ID(nil), f.ids...)
}

type fakeItems struct {
	items map[tile.ID]*output.Item
	err   error
}

func (f *fakeItems) ReadItem(_ context.Context, id tile.ID) (*output.Item, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.items[id], nil
}

type fakeTasks struct {
	tasks  map[string]*store.Task
	counts map[store.TaskStatus]int
	filter store.TaskFilter
	err    error
}

func (f *fakeTasks) GetTask(_ context.Context, taskID string) (*store.Task, error) {
	if f.err != nil {
		return nil, f.err
	}
	t, ok := f.tasks[taskID]
	if !ok {
		return nil, fmt.Errorf("sqlite: get task: %w", store.ErrNotFound)
	}
	return t, nil
}

func (f *fakeTasks) ListTasks(_ context.Context, filter store.TaskFilter) ([]store.Task, error) {
	f.filter = filter
	if f.err != nil {
		return nil, f.err
	}
	var out []store.Task
	for _, t := range f.tasks {
		out = append(out, *t)
	}
	return out, nil
}

func (f *fakeTasks) StatusCounts(context.Context) (map[store.TaskStatus]int, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.counts, nil
}

type fakeMetrics struct {
	lookback int
}

func (f *fakeMetrics) Collect(_ context.Context, lookbackHours int) (*monitoring.MetricsSnapshot, error) {
	f.lookback = lookbackHours
	return &monitoring.MetricsSnapshot{TasksTotal: 7, TasksFailed: 1, LookbackHours: lookbackHours}, nil
}

func newTestServer(t *testing.T, opts Options) (*Server, http.Handler) {
	t.Helper()
	if opts.Runner == nil {
		opts.Runner = &fakeRunner{}
	}
	if opts.Items == nil {
		opts.Items = &fakeItems{}
	}
	s := New(context.Background(), opts)
	return s, s.Handler()
}

func serve(h http.Handler, method, target string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, nil)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func TestHealth(t *testing.T) {
	_, h := newTestServer(t, Options{})

	w := serve(h, http.MethodGet, "/health")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"ok"}`, w.Body.String())
}

func TestLedgerEndpoints_Disabled(t *testing.T) {
	_, h := newTestServer(t, Options{})

	for _, path := range []string{"/tasks", "/tasks/counts", "/tasks/abc", "/monitoring"} {
		w := serve(h, http.MethodGet, path)
		assert.Equal(t, http.StatusServiceUnavailable, w.Code, path)
	}
}

func TestListTasks_Filters(t *testing.T) {
	tasks := &fakeTasks{tasks: map[string]*store.Task{
		"t1": {ID: "t1", TileID: "[1,2]", Status: store.TaskFailed},
	}}
	_, h := newTestServer(t, Options{Tasks: tasks})

	q := url.Values{"status": {"failed"}, "tile_id": {"[1, 2]"}, "limit": {"1000"}}
	w := serve(h, http.MethodGet, "/tasks?"+q.Encode())
	require.Equal(t, http.StatusOK, w.Code)

	assert.Equal(t, store.TaskFailed, tasks.filter.Status)
	assert.Equal(t, "[1,2]", tasks.filter.TileID)
	assert.Equal(t, maxTaskLimit, tasks.filter.Limit)

	var got []store.Task
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	require.Len(t, got, 1)
	assert.Equal(t, "t1", got[0].ID)
}

func TestListTasks_DefaultsAndEmpty(t *testing.T) {
	tasks := &fakeTasks{}
	_, h := newTestServer(t, Options{Tasks: tasks})

	w := serve(h, http.MethodGet, "/tasks")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, defaultTaskLimit, tasks.filter.Limit)
	assert.Empty(t, tasks.filter.Status)
	assert.JSONEq(t, `[]`, w.Body.String())
}

func TestListTasks_BadQuery(t *testing.T) {
	_, h := newTestServer(t, Options{Tasks: &fakeTasks{}})

	assert.Equal(t, http.StatusBadRequest, serve(h, http.MethodGet, "/tasks?limit=0").Code)
	assert.Equal(t, http.StatusBadRequest, serve(h, http.MethodGet, "/tasks?limit=ten").Code)
	assert.Equal(t, http.StatusBadRequest, serve(h, http.MethodGet, "/tasks?tile_id=1,2").Code)
}

func TestListTasks_StoreError(t *testing.T) {
	_, h := newTestServer(t, Options{Tasks: &fakeTasks{err: errors.New("database is locked")}})

	w := serve(h, http.MethodGet, "/tasks")
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.NotContains(t, w.Body.String(), "locked")
}

func TestTaskCounts(t *testing.T) {
	tasks := &fakeTasks{counts: map[store.TaskStatus]int{store.TaskComplete: 3, store.TaskFailed: 1}}
	_, h := newTestServer(t, Options{Tasks: tasks})

	w := serve(h, http.MethodGet, "/tasks/counts")
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"complete":3,"failed":1}`, w.Body.String())
}

func TestGetTask(t *testing.T) {
	created := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	tasks := &fakeTasks{tasks: map[string]*store.Task{
		"abc": {ID: "abc", TileID: "[3,4]", Status: store.TaskComplete, CreatedAt: created, UpdatedAt: created},
	}}
	_, h := newTestServer(t, Options{Tasks: tasks})

	w := serve(h, http.MethodGet, "/tasks/abc")
	require.Equal(t, http.StatusOK, w.Code)
	var got store.Task
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	assert.Equal(t, "[3,4]", got.TileID)
	assert.Equal(t, store.TaskComplete, got.Status)

	w = serve(h, http.MethodGet, "/tasks/missing")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestGetTask_StoreError(t *testing.T) {
	_, h := newTestServer(t, Options{Tasks: &fakeTasks{err: errors.New("connection reset")}})

	w := serve(h, http.MethodGet, "/tasks/abc")
	assert.Equal(t, http.StatusInternalServerError, w.Code)
}

func TestSnapshot(t *testing.T) {
	metrics := &fakeMetrics{}
	_, h := newTestServer(t, Options{Tasks: &fakeTasks{}, Metrics: metrics, LookbackHours: 6})

	w := serve(h, http.MethodGet, "/monitoring")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 6, metrics.lookback)

	var snap monitoring.MetricsSnapshot
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &snap))
	assert.Equal(t, 7, snap.TasksTotal)
}

func TestSnapshot_DefaultLookback(t *testing.T) {
	metrics := &fakeMetrics{}
	_, h := newTestServer(t, Options{Metrics: metrics})

	serve(h, http.MethodGet, "/monitoring")
	assert.Equal(t, 24, metrics.lookback)
}

func TestGetItem(t *testing.T) {
	id := tile.ID{Row: 12, Col: 345}
	items := &fakeItems{items: map[tile.ID]*output.Item{
		id: {Type: "Feature", ID: "dep_pdhhdx_population_012_345_2023_2025"},
	}}
	_, h := newTestServer(t, Options{Items: items})

	w := serve(h, http.MethodGet, "/tiles/12/345/item")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/geo+json", w.Header().Get("Content-Type"))
	var got output.Item
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	assert.Equal(t, "dep_pdhhdx_population_012_345_2023_2025", got.ID)

	assert.Equal(t, http.StatusNotFound, serve(h, http.MethodGet, "/tiles/1/1/item").Code)
}

func TestGetItem_Errors(t *testing.T) {
	_, h := newTestServer(t, Options{Items: &fakeItems{err: errors.New("access denied")}})

	assert.Equal(t, http.StatusBadRequest, serve(h, http.MethodGet, "/tiles/x/1/item").Code)
	assert.Equal(t, http.StatusBadRequest, serve(h, http.MethodGet, "/tiles/1/y/item").Code)
	assert.Equal(t, http.StatusInternalServerError, serve(h, http.MethodGet, "/tiles/1/1/item").Code)
}

func TestRunTile(t *testing.T) {
	runner := &fakeRunner{}
	s, h := newTestServer(t, Options{Runner: runner})

	w := serve(h, http.MethodPost, "/tiles/-3/7/run")
	require.Equal(t, http.StatusAccepted, w.Code)
	assert.JSONEq(t, `{"status":"accepted","tile_id":"[-3,7]"}`, w.Body.String())

	s.Wait()
	assert.Equal(t, []tile.ID{{Row: -3, Col: 7}}, runner.calls())
}

func TestRunTile_RejectsDuplicateWhileRunning(t *testing.T) {
	runner := &fakeRunner{block: make(chan struct{})}
	s, h := newTestServer(t, Options{Runner: runner})

	require.Equal(t, http.StatusAccepted, serve(h, http.MethodPost, "/tiles/1/2/run").Code)
	assert.Equal(t, http.StatusConflict, serve(h, http.MethodPost, "/tiles/1/2/run").Code)
	assert.Equal(t, http.StatusAccepted, serve(h, http.MethodPost, "/tiles/1/3/run").Code)

	close(runner.block)
	s.Wait()
	assert.Len(t, runner.calls(), 2)

	// Released once finished.
	assert.Equal(t, http.StatusAccepted, serve(h, http.MethodPost, "/tiles/1/2/run").Code)
	s.Wait()
	assert.Len(t, runner.calls(), 3)
}

func TestRunTile_FailureReleasesTile(t *testing.T) {
	runner := &fakeRunner{err: errors.New("write failed")}
	s, h := newTestServer(t, Options{Runner: runner})

	require.Equal(t, http.StatusAccepted, serve(h, http.MethodPost, "/tiles/5/5/run").Code)
	s.Wait()
	require.Equal(t, http.StatusAccepted, serve(h, http.MethodPost, "/tiles/5/5/run").Code)
	s.Wait()
	assert.Len(t, runner.calls(), 2)
}

func TestRunTile_RefusedAfterClose(t *testing.T) {
	runner := &fakeRunner{block: make(chan struct{})}
	s, h := newTestServer(t, Options{Runner: runner})

	require.Equal(t, http.StatusAccepted, serve(h, http.MethodPost, "/tiles/1/1/run").Code)

	closed := make(chan struct{})
	go func() {
		s.Close()
		close(closed)
	}()
	require.Eventually(t, func() bool {
		return serve(h, http.MethodPost, "/tiles/2/2/run").Code == http.StatusServiceUnavailable
	}, time.Second, 5*time.Millisecond)

	select {
	case <-closed:
		t.Fatal("Close returned while a run was in flight")
	default:
	}
	close(runner.block)
	<-closed
	assert.Equal(t, []tile.ID{{Row: 1, Col: 1}}, runner.calls())
}

func TestRunTile_RefusedWhenContextDone(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	runner := &fakeRunner{}
	s := New(ctx, Options{Runner: runner, Items: &fakeItems{}})
	h := s.Handler()

	cancel()
	w := serve(h, http.MethodPost, "/tiles/3/4/run")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.JSONEq(t, `{"error":"server is shutting down"}`, w.Body.String())

	s.Close()
	assert.Empty(t, runner.calls())
}

func TestRunTile_MethodNotAllowed(t *testing.T) {
	_, h := newTestServer(t, Options{})

	assert.Equal(t, http.StatusMethodNotAllowed, serve(h, http.MethodGet, "/tiles/1/2/run").Code)
}

func TestCORS_AllowedOrigin(t *testing.T) {
	_, h := newTestServer(t, Options{AllowedOrigins: []string{"https://maps.example.org"}})

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("Origin", "https://maps.example.org")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	assert.Equal(t, "https://maps.example.org", w.Header().Get("Access-Control-Allow-Origin"))

	req = httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("Origin", "https://evil.example.com")
	w = httptest.NewRecorder()
	h.ServeHTTP(w, req)
	assert.Empty(t, w.Header().Get("Access-Control-Allow-Origin"))
}
