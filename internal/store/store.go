// Package store records tile task outcomes in a ledger.
package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a task id is not in the ledger.
var ErrNotFound = errors.New("task not found")

// TaskStatus is the lifecycle state of a tile task.
type TaskStatus string

const (
	TaskRunning  TaskStatus = "running"
	TaskComplete TaskStatus = "complete"
	TaskEmpty    TaskStatus = "empty" // no territory contributed data
	TaskFailed   TaskStatus = "failed"
)

// Task is one attempt at producing a tile.
type Task struct {
	ID          string     `json:"id"`
	TileID      string     `json:"tile_id"`
	Status      TaskStatus `json:"status"`
	Territories []string   `json:"territories,omitempty"`
	Error       string     `json:"error,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// TaskOutcome is how a task finished.
type TaskOutcome struct {
	Status      TaskStatus
	Territories []string
	Error       string
}

// TaskFilter specifies criteria for listing tasks.
type TaskFilter struct {
	Status TaskStatus `json:"status,omitempty"`
	TileID string     `json:"tile_id,omitempty"`
	Limit  int        `json:"limit,omitempty"`
	Offset int        `json:"offset,omitempty"`
}

// Store defines the persistence interface for the task ledger.
type Store interface {
	CreateTask(ctx context.Context, tileID string) (*Task, error)
	FinishTask(ctx context.Context, taskID string, outcome TaskOutcome) error
	GetTask(ctx context.Context, taskID string) (*Task, error)
	ListTasks(ctx context.Context, filter TaskFilter) ([]Task, error)
	StatusCounts(ctx context.Context) (map[TaskStatus]int, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}

func validOutcome(s TaskStatus) bool {
	switch s {
	case TaskComplete, TaskEmpty, TaskFailed:
		return true
	}
	return false
}
