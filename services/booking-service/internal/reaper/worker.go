package reaper

import (
	"context"
	"log/slog"
	"time"
)

// Cleaner deletes expired reservations. Capacity checks ignore expired
// holds whether or not they were deleted, so sweeping is housekeeping only.
type Cleaner interface {
	CleanupExpired(ctx context.Context) (int, error)
}

type Worker struct {
	cleaner  Cleaner
	logger   *slog.Logger
	interval time.Duration
}

func NewWorker(cleaner Cleaner, logger *slog.Logger, interval time.Duration) *Worker {
	return &Worker{cleaner: cleaner, logger: logger, interval: interval}
}

// Run sweeps every interval until ctx is done. A non-positive interval
// disables the worker.
func (w *Worker) Run(ctx context.Context) {
	if w.interval <= 0 {
		w.logger.Info("reservation reaper disabled")
		return
	}
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.sweep(ctx)
		}
	}
}

func (w *Worker) sweep(ctx context.Context) {
	n, err := w.cleaner.CleanupExpired(ctx)
	if err != nil {
		if ctx.Err() == nil {
			w.logger.Error("reservation sweep failed", "err", err)
		}
		return
	}
	if n > 0 {
		w.logger.Info("expired reservations reaped", "count", n)
	}
}
