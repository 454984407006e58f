package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"

	"github.com/sells-group/dep-population/internal/db"
)

// PostgresStore implements Store on a shared pool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// NewPostgres connects a pool and wraps it in a PostgresStore that closes
// the pool on Close.
func NewPostgres(ctx context.Context, connString string, poolCfg *db.PoolConfig) (*PostgresStore, error) {
	pool, err := db.Connect(ctx, connString, poolCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: connect")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

// NewPostgresWithPool uses an existing pool. Close leaves the pool open.
func NewPostgresWithPool(pool db.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS tasks (
	id          TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	tile_id     TEXT NOT NULL,
	status      TEXT NOT NULL DEFAULT 'running',
	territories JSONB,
	error       TEXT,
	created_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at  TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_tasks_status ON tasks(status);
CREATE INDEX IF NOT EXISTS idx_tasks_tile_id ON tasks(tile_id);
`

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

func (s *PostgresStore) CreateTask(ctx context.Context, tileID string) (*Task, error) {
	id := uuid.New().String()
	now := time.Now().UTC()

	_, err := s.pool.Exec(ctx,
		`INSERT INTO tasks (id, tile_id, status, created_at, updated_at) VALUES ($1, $2, $3, $4, $5)`,
		id, tileID, string(TaskRunning), now, now,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: insert task for %s", tileID)
	}
	return &Task{ID: id, TileID: tileID, Status: TaskRunning, CreatedAt: now, UpdatedAt: now}, nil
}

func (s *PostgresStore) FinishTask(ctx context.Context, taskID string, outcome TaskOutcome) error {
	if !validOutcome(outcome.Status) {
		return eris.Errorf("postgres: invalid final status %q", outcome.Status)
	}
	var errText *string
	if outcome.Error != "" {
		errText = &outcome.Error
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE tasks SET status = $1, territories = $2, error = $3, updated_at = $4 WHERE id = $5`,
		string(outcome.Status), outcome.Territories, errText, time.Now().UTC(), taskID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: finish task %s", taskID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrNotFound, "postgres: finish task %s", taskID)
	}
	return nil
}

func (s *PostgresStore) GetTask(ctx context.Context, taskID string) (*Task, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT id, tile_id, status, territories, error, created_at, updated_at FROM tasks WHERE id = $1`,
		taskID,
	)
	t, err := scanPgTask(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "postgres: get task %s", taskID)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get task %s", taskID)
	}
	return t, nil
}

func (s *PostgresStore) ListTasks(ctx context.Context, filter TaskFilter) ([]Task, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.pool.Query(ctx,
		`SELECT id, tile_id, status, territories, error, created_at, updated_at FROM tasks
		 WHERE ($1 = '' OR status = $1) AND ($2 = '' OR tile_id = $2)
		 ORDER BY created_at DESC LIMIT $3 OFFSET $4`,
		string(filter.Status), filter.TileID, limit, filter.Offset,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list tasks")
	}
	defer rows.Close()

	var tasks []Task
	for rows.Next() {
		t, err := scanPgTask(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan task")
		}
		tasks = append(tasks, *t)
	}
	return tasks, eris.Wrap(rows.Err(), "postgres: list tasks iterate")
}

func (s *PostgresStore) StatusCounts(ctx context.Context) (map[TaskStatus]int, error) {
	rows, err := s.pool.Query(ctx, `SELECT status, COUNT(*) FROM tasks GROUP BY status`)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: status counts")
	}
	defer rows.Close()

	counts := make(map[TaskStatus]int)
	for rows.Next() {
		var status string
		var n int64
		if err := rows.Scan(&status, &n); err != nil {
			return nil, eris.Wrap(err, "postgres: scan status count")
		}
		counts[TaskStatus(status)] = int(n)
	}
	return counts, eris.Wrap(rows.Err(), "postgres: status counts iterate")
}

func scanPgTask(row pgx.Row) (*Task, error) {
	var t Task
	var status string
	var errText *string
	if err := row.Scan(&t.ID, &t.TileID, &status, &t.Territories, &errText, &t.CreatedAt, &t.UpdatedAt); err != nil {
		return nil, err
	}
	t.Status = TaskStatus(status)
	if errText != nil {
		t.Error = *errText
	}
	return &t, nil
}
