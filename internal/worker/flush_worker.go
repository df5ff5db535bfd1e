package worker

import (
	"context"
	"time"

	"rewardflow/pkg/log"
	"rewardflow/pkg/utils"
)

// Flusher drains buffered aggregation state to the database.
type Flusher interface {
	FlushOnce(ctx context.Context, nowMs int64) (int, error)
}

// FlushWorker drives the buffer flusher on a fixed interval. It runs
// even when the buffered path is toggled off: residue left behind by a
// rollback must still drain.
type FlushWorker struct {
	flusher      Flusher
	interval     time.Duration
	initialDelay time.Duration
}

// NewFlushWorker creates the flush worker
func NewFlushWorker(flusher Flusher, interval, initialDelay time.Duration) *FlushWorker {
	return &FlushWorker{
		flusher:      flusher,
		interval:     interval,
		initialDelay: initialDelay,
	}
}

// Start runs the flush loop until ctx is cancelled.
func (w *FlushWorker) Start(ctx context.Context) {
	log.Infof("Flush worker started, interval=%s", w.interval)

	select {
	case <-time.After(w.initialDelay):
	case <-ctx.Done():
		return
	}

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			flushed, err := w.flusher.FlushOnce(ctx, utils.NowMs())
			if err != nil {
				log.Errorf("Flush round failed: %v", err)
				continue
			}
			if flushed > 0 {
				log.Debugf("Flush round committed %d keys", flushed)
			}
		case <-ctx.Done():
			log.Info("Flush worker stopped")
			return
		}
	}
}
