// Package monitoring summarizes the task ledger and raises alerts.
package monitoring

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/dep-population/internal/store"
)

// maxTasks bounds how many ledger rows one snapshot reads.
const maxTasks = 10000

// MetricsSnapshot holds a point-in-time view of tile processing.
type MetricsSnapshot struct {
	// Task metrics (within lookback window).
	TasksTotal      int     `json:"tasks_total"`
	TasksComplete   int     `json:"tasks_complete"`
	TasksEmpty      int     `json:"tasks_empty"`
	TasksFailed     int     `json:"tasks_failed"`
	TasksRunning    int     `json:"tasks_running"`
	FailRate        float64 `json:"fail_rate"`
	AvgDurationSecs float64 `json:"avg_duration_secs"`

	// Running tasks older than the stale threshold; usually a killed worker.
	StaleRunning int `json:"stale_running"`

	// Metadata.
	LookbackHours int       `json:"lookback_hours"`
	CollectedAt   time.Time `json:"collected_at"`
}

// TaskLister abstracts the ledger query needed by the collector.
type TaskLister interface {
	ListTasks(ctx context.Context, filter store.TaskFilter) ([]store.Task, error)
}

// Collector gathers metrics from the task ledger.
type Collector struct {
	tasks      TaskLister
	staleAfter time.Duration
	now        func() time.Time
}

// NewCollector creates a new metrics collector. Running tasks older than
// staleAfter are counted as stale; zero uses one hour.
func NewCollector(tasks TaskLister, staleAfter time.Duration) *Collector {
	if staleAfter <= 0 {
		staleAfter = time.Hour
	}
	return &Collector{tasks: tasks, staleAfter: staleAfter, now: time.Now}
}

// Collect gathers a snapshot of task metrics over the given lookback window.
func (c *Collector) Collect(ctx context.Context, lookbackHours int) (*MetricsSnapshot, error) {
	now := c.now().UTC()
	snap := &MetricsSnapshot{
		LookbackHours: lookbackHours,
		CollectedAt:   now,
	}
	cutoff := now.Add(-time.Duration(lookbackHours) * time.Hour)

	tasks, err := c.tasks.ListTasks(ctx, store.TaskFilter{Limit: maxTasks})
	if err != nil {
		return nil, eris.Wrap(err, "monitoring: list tasks")
	}

	var totalDur time.Duration
	var finished int
	for _, t := range tasks {
		if t.CreatedAt.Before(cutoff) {
			continue
		}
		snap.TasksTotal++
		switch t.Status {
		case store.TaskComplete:
			snap.TasksComplete++
		case store.TaskEmpty:
			snap.TasksEmpty++
		case store.TaskFailed:
			snap.TasksFailed++
		case store.TaskRunning:
			snap.TasksRunning++
			if now.Sub(t.CreatedAt) > c.staleAfter {
				snap.StaleRunning++
			}
			continue
		}
		totalDur += t.UpdatedAt.Sub(t.CreatedAt)
		finished++
	}

	if finished > 0 {
		snap.FailRate = float64(snap.TasksFailed) / float64(finished)
		snap.AvgDurationSecs = totalDur.Seconds() / float64(finished)
	}
	return snap, nil
}
