package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newMockPostgresStore creates a PostgresStore backed by pgxmock for unit testing.
func newMockPostgresStore(t *testing.T) (*PostgresStore, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool(pgxmock.QueryMatcherOption(pgxmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { mock.Close() })

	return NewPostgresWithPool(mock), mock
}

func TestPostgresStore_Migrate(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`CREATE TABLE IF NOT EXISTS tasks`).
		WillReturnResult(pgxmock.NewResult("CREATE", 0))

	require.NoError(t, s.Migrate(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_CreateTask(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`INSERT INTO tasks`).
		WithArgs(pgxmock.AnyArg(), "[12,345]", "running", pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	task, err := s.CreateTask(context.Background(), "[12,345]")
	require.NoError(t, err)
	assert.Len(t, task.ID, 36)
	assert.Equal(t, TaskRunning, task.Status)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_FinishTask(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`UPDATE tasks SET status = \$1`).
		WithArgs("complete", []string{"FJI"}, (*string)(nil), pgxmock.AnyArg(), "task-1").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	require.NoError(t, s.FinishTask(context.Background(), "task-1", TaskOutcome{Status: TaskComplete, Territories: []string{"FJI"}}))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_FinishTask_NotFound(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`UPDATE tasks`).
		WithArgs("failed", pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), "missing").
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	err := s.FinishTask(context.Background(), "missing", TaskOutcome{Status: TaskFailed, Error: "x"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "task not found")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_GetTask(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	errText := "download failed"

	mock.ExpectQuery(`SELECT id, tile_id, status, territories, error, created_at, updated_at FROM tasks WHERE id = \$1`).
		WithArgs("task-1").
		WillReturnRows(pgxmock.NewRows([]string{"id", "tile_id", "status", "territories", "error", "created_at", "updated_at"}).
			AddRow("task-1", "[1,2]", "failed", []string{"WSM"}, &errText, now, now))

	task, err := s.GetTask(context.Background(), "task-1")
	require.NoError(t, err)
	assert.Equal(t, TaskFailed, task.Status)
	assert.Equal(t, []string{"WSM"}, task.Territories)
	assert.Equal(t, "download failed", task.Error)
	assert.Equal(t, now, task.CreatedAt)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_GetTask_NotFound(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`FROM tasks WHERE id = \$1`).
		WithArgs("nonexistent").
		WillReturnError(pgx.ErrNoRows)

	_, err := s.GetTask(context.Background(), "nonexistent")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "get task")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_ListTasks(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	now := time.Now().UTC()

	mock.ExpectQuery(`SELECT id, tile_id, status, territories, error, created_at, updated_at FROM tasks`).
		WithArgs("empty", "", 100, 0).
		WillReturnRows(pgxmock.NewRows([]string{"id", "tile_id", "status", "territories", "error", "created_at", "updated_at"}).
			AddRow("a", "[0,0]", "empty", []string(nil), (*string)(nil), now, now).
			AddRow("b", "[0,1]", "empty", []string{}, (*string)(nil), now, now))

	tasks, err := s.ListTasks(context.Background(), TaskFilter{Status: TaskEmpty})
	require.NoError(t, err)
	require.Len(t, tasks, 2)
	assert.Equal(t, "b", tasks[1].ID)
	assert.Empty(t, tasks[0].Error)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_StatusCounts(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`SELECT status, COUNT\(\*\) FROM tasks GROUP BY status`).
		WillReturnRows(pgxmock.NewRows([]string{"status", "count"}).
			AddRow("complete", int64(7)).
			AddRow("failed", int64(1)))

	counts, err := s.StatusCounts(context.Background())
	require.NoError(t, err)
	assert.Equal(t, map[TaskStatus]int{TaskComplete: 7, TaskFailed: 1}, counts)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_QueryError(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`FROM tasks`).
		WithArgs(pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnError(errors.New("connection refused"))

	_, err := s.ListTasks(context.Background(), TaskFilter{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "postgres: list tasks")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_CloseLeavesBorrowedPool(t *testing.T) {
	s, _ := newMockPostgresStore(t)
	assert.NoError(t, s.Close())
}
