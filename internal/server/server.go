// Package server exposes the task ledger and published tiles over HTTP.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"sync"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/sells-group/dep-population/internal/monitoring"
	"github.com/sells-group/dep-population/internal/output"
	"github.com/sells-group/dep-population/internal/pipeline"
	"github.com/sells-group/dep-population/internal/store"
	"github.com/sells-group/dep-population/internal/tile"
)

const (
	defaultTaskLimit = 50
	maxTaskLimit     = 500
)

// TileRunner processes one tile.
type TileRunner interface {
	ProcessTile(ctx context.Context, id tile.ID) (*pipeline.Result, error)
}

// ItemReader reads published STAC items. A missing item is nil, nil.
type ItemReader interface {
	ReadItem(ctx context.Context, id tile.ID) (*output.Item, error)
}

// TaskReader is the read side of the task ledger.
type TaskReader interface {
	GetTask(ctx context.Context, taskID string) (*store.Task, error)
	ListTasks(ctx context.Context, filter store.TaskFilter) ([]store.Task, error)
	StatusCounts(ctx context.Context) (map[store.TaskStatus]int, error)
}

// MetricsCollector summarises recent ledger activity.
type MetricsCollector interface {
	Collect(ctx context.Context, lookbackHours int) (*monitoring.MetricsSnapshot, error)
}

// Options configures a Server. Tasks and Metrics are nil when the ledger is
// disabled; the endpoints backed by them then answer 503.
type Options struct {
	Runner         TileRunner
	Items          ItemReader
	Tasks          TaskReader
	Metrics        MetricsCollector
	LookbackHours  int
	AllowedOrigins []string
}

// Server routes the status and tile API.
type Server struct {
	opts Options
	ctx  context.Context // parent of background tile runs

	mu      sync.Mutex
	running map[tile.ID]struct{}
	closed  bool
	wg      sync.WaitGroup
}

var (
	errTileBusy     = errors.New("tile is already running")
	errShuttingDown = errors.New("server is shutting down")
)

// New creates a Server. Tile runs started through the API are cancelled
// when ctx is.
func New(ctx context.Context, opts Options) *Server {
	if opts.LookbackHours <= 0 {
		opts.LookbackHours = 24
	}
	if len(opts.AllowedOrigins) == 0 {
		opts.AllowedOrigins = []string{"*"}
	}
	return &Server{
		opts:    opts,
		ctx:     ctx,
		running: make(map[tile.ID]struct{}),
	}
}

// Handler returns the router.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: s.opts.AllowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/health", s.health)
	r.Get("/monitoring", s.snapshot)
	r.Get("/tasks", s.listTasks)
	r.Get("/tasks/counts", s.taskCounts)
	r.Get("/tasks/{taskID}", s.getTask)
	r.Get("/tiles/{row}/{col}/item", s.getItem)
	r.Post("/tiles/{row}/{col}/run", s.runTile)
	return r
}

// Wait blocks until every background tile run has finished.
func (s *Server) Wait() {
	s.wg.Wait()
}

// Close refuses further tile runs and waits for the running ones.
func (s *Server) Close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.wg.Wait()
}

func (s *Server) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) snapshot(w http.ResponseWriter, r *http.Request) {
	if s.opts.Metrics == nil {
		writeError(w, http.StatusServiceUnavailable, "task ledger is disabled")
		return
	}
	snap, err := s.opts.Metrics.Collect(r.Context(), s.opts.LookbackHours)
	if err != nil {
		zap.L().Error("server: collect metrics", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "collect metrics failed")
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (s *Server) listTasks(w http.ResponseWriter, r *http.Request) {
	if s.opts.Tasks == nil {
		writeError(w, http.StatusServiceUnavailable, "task ledger is disabled")
		return
	}
	q := r.URL.Query()
	filter := store.TaskFilter{
		Status: store.TaskStatus(q.Get("status")),
		Limit:  defaultTaskLimit,
	}
	if v := q.Get("tile_id"); v != "" {
		id, err := tile.ParseID(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid tile_id")
			return
		}
		filter.TileID = id.String()
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		filter.Limit = min(n, maxTaskLimit)
	}

	tasks, err := s.opts.Tasks.ListTasks(r.Context(), filter)
	if err != nil {
		zap.L().Error("server: list tasks", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "list tasks failed")
		return
	}
	if tasks == nil {
		tasks = []store.Task{}
	}
	writeJSON(w, http.StatusOK, tasks)
}

func (s *Server) taskCounts(w http.ResponseWriter, r *http.Request) {
	if s.opts.Tasks == nil {
		writeError(w, http.StatusServiceUnavailable, "task ledger is disabled")
		return
	}
	counts, err := s.opts.Tasks.StatusCounts(r.Context())
	if err != nil {
		zap.L().Error("server: status counts", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "status counts failed")
		return
	}
	writeJSON(w, http.StatusOK, counts)
}

func (s *Server) getTask(w http.ResponseWriter, r *http.Request) {
	if s.opts.Tasks == nil {
		writeError(w, http.StatusServiceUnavailable, "task ledger is disabled")
		return
	}
	task, err := s.opts.Tasks.GetTask(r.Context(), chi.URLParam(r, "taskID"))
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "task not found")
		return
	}
	if err != nil {
		zap.L().Error("server: get task", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "get task failed")
		return
	}
	writeJSON(w, http.StatusOK, task)
}

func (s *Server) getItem(w http.ResponseWriter, r *http.Request) {
	id, ok := tileParam(w, r)
	if !ok {
		return
	}
	item, err := s.opts.Items.ReadItem(r.Context(), id)
	if err != nil {
		zap.L().Error("server: read item", zap.String("tile_id", id.String()), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "read item failed")
		return
	}
	if item == nil {
		writeError(w, http.StatusNotFound, "tile not published")
		return
	}
	w.Header().Set("Content-Type", "application/geo+json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(item)
}

// runTile starts a tile in the background and answers 202. A tile already
// running in this server is refused with 409, and any run once the server
// is shutting down with 503.
func (s *Server) runTile(w http.ResponseWriter, r *http.Request) {
	id, ok := tileParam(w, r)
	if !ok {
		return
	}
	switch err := s.claim(id); {
	case errors.Is(err, errTileBusy):
		writeError(w, http.StatusConflict, err.Error())
		return
	case errors.Is(err, errShuttingDown):
		writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	}

	go func() {
		defer s.wg.Done()
		defer s.release(id)

		res, err := s.opts.Runner.ProcessTile(s.ctx, id)
		if err != nil {
			zap.L().Error("server: tile run failed", zap.String("tile_id", id.String()), zap.Error(err))
			return
		}
		zap.L().Info("server: tile run complete",
			zap.String("tile_id", id.String()),
			zap.String("status", string(res.Status)),
		)
	}()

	writeJSON(w, http.StatusAccepted, map[string]string{
		"status":  "accepted",
		"tile_id": id.String(),
	})
}

// claim reserves id and registers the run with the wait group. Both happen
// under mu so that Close never races a new run.
func (s *Server) claim(id tile.ID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || s.ctx.Err() != nil {
		return errShuttingDown
	}
	if _, busy := s.running[id]; busy {
		return errTileBusy
	}
	s.running[id] = struct{}{}
	s.wg.Add(1)
	return nil
}

func (s *Server) release(id tile.ID) {
	s.mu.Lock()
	delete(s.running, id)
	s.mu.Unlock()
}

func tileParam(w http.ResponseWriter, r *http.Request) (tile.ID, bool) {
	row, err := strconv.Atoi(chi.URLParam(r, "row"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid tile row")
		return tile.ID{}, false
	}
	col, err := strconv.Atoi(chi.URLParam(r, "col"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid tile column")
		return tile.ID{}, false
	}
	return tile.ID{Row: row, Col: col}, true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
