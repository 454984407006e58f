package pipeline

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/dep-population/internal/store"
	"github.com/sells-group/dep-population/internal/tile"
)

// BatchSummary counts the outcomes of a batch run.
type BatchSummary struct {
	Total     int           `json:"total"`
	Succeeded int64         `json:"succeeded"`
	Empty     int64         `json:"empty"`
	Failed    int64         `json:"failed"`
	FailedIDs []tile.ID     `json:"failed_ids,omitempty"`
	Duration  time.Duration `json:"duration"`
}

// RunBatch processes ids with at most concurrency tiles in flight. A failed
// tile is logged and counted without stopping the others; only cancellation
// of ctx ends the batch early.
func (p *Processor) RunBatch(ctx context.Context, ids []tile.ID, concurrency int) (*BatchSummary, error) {
	start := time.Now()
	summary := &BatchSummary{Total: len(ids)}
	if len(ids) == 0 {
		zap.L().Info("pipeline: no tiles to process")
		return summary, nil
	}
	if concurrency < 1 {
		concurrency = 1
	}

	zap.L().Info("pipeline: processing batch",
		zap.Int("tiles", len(ids)),
		zap.Int("concurrency", concurrency),
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)

	var succeeded, empty, failed atomic.Int64
	failedIDs := make([]bool, len(ids))

	for i, id := range ids {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			res, err := p.ProcessTile(gctx, id)
			if err != nil {
				failed.Add(1)
				failedIDs[i] = true
				return nil // don't abort batch on individual failure
			}
			if res.Status == store.TaskEmpty {
				empty.Add(1)
			} else {
				succeeded.Add(1)
			}
			return nil
		})
	}

	err := g.Wait()
	summary.Succeeded = succeeded.Load()
	summary.Empty = empty.Load()
	summary.Failed = failed.Load()
	for i, bad := range failedIDs {
		if bad {
			summary.FailedIDs = append(summary.FailedIDs, ids[i])
		}
	}
	summary.Duration = time.Since(start)
	if err != nil {
		return summary, eris.Wrap(err, "pipeline: batch")
	}

	zap.L().Info("pipeline: batch complete",
		zap.Int("total", summary.Total),
		zap.Int64("succeeded", summary.Succeeded),
		zap.Int64("empty", summary.Empty),
		zap.Int64("failed", summary.Failed),
		zap.Duration("duration", summary.Duration),
	)
	return summary, nil
}
