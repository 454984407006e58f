package monitoring

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/dep-population/internal/config"
	"github.com/sells-group/dep-population/internal/store"
)

func TestChecker_Check(t *testing.T) {
	var received atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		received.Add(1)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	var tasks []store.Task
	for i := 0; i < 6; i++ {
		tasks = append(tasks, task(store.TaskFailed, time.Minute, time.Second))
	}
	c := NewCollector(&fakeLister{tasks: tasks}, time.Hour)
	c.now = func() time.Time { return now }

	cfg := config.MonitoringConfig{WebhookURL: srv.URL, FailureRateThreshold: 0.1, LookbackWindowHours: 24}
	checker := NewChecker(c, NewAlerter(cfg), cfg)

	snap, alerts, err := checker.Check(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 6, snap.TasksFailed)
	require.Len(t, alerts, 1)
	assert.Equal(t, int32(1), received.Load())
}

func TestChecker_CheckCollectError(t *testing.T) {
	cfg := config.MonitoringConfig{LookbackWindowHours: 24}
	checker := NewChecker(NewCollector(&fakeLister{err: errors.New("boom")}, time.Hour), NewAlerter(cfg), cfg)
	_, _, err := checker.Check(context.Background())
	assert.Error(t, err)
}

func TestChecker_RunStopsOnCancel(t *testing.T) {
	cfg := config.MonitoringConfig{CheckIntervalSecs: 3600}
	checker := NewChecker(NewCollector(&fakeLister{}, time.Hour), NewAlerter(cfg), cfg)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		checker.Run(ctx)
		close(done)
	}()
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("checker did not stop")
	}
}
