package scheduler

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/example/courier-risk/internal/logging"
	"github.com/example/courier-risk/internal/metrics"
	"github.com/example/courier-risk/internal/usecase"
)

// Refresher refreshes every stored phone from the enabled couriers.
type Refresher interface {
	RefreshAll(ctx context.Context) (*usecase.RefreshSummary, error)
}

// RefreshWorker periodically re-fetches stored phones.
type RefreshWorker struct {
	refresher Refresher
	interval  time.Duration
	recorder  *metrics.Recorder
	logger    *zap.Logger
}

// NewRefreshWorker builds a worker. A non-positive interval yields a worker whose Run returns immediately.
func NewRefreshWorker(refresher Refresher, interval time.Duration, recorder *metrics.Recorder, logger *zap.Logger) *RefreshWorker {
	return &RefreshWorker{
		refresher: refresher,
		interval:  interval,
		recorder:  recorder,
		logger:    logger.Named("scheduler"),
	}
}

// Run blocks until ctx is done, refreshing once per interval.
// The first pass happens one interval after start.
func (w *RefreshWorker) Run(ctx context.Context) {
	if w.interval <= 0 {
		w.logger.Info("refresh scheduler disabled")
		return
	}

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	w.logger.Info("refresh scheduler started", zap.Duration("interval", w.interval))
	for {
		select {
		case <-ctx.Done():
			w.logger.Info("refresh scheduler stopped")
			return
		case <-ticker.C:
			w.RunOnce(ctx)
		}
	}
}

// RunOnce performs a single refresh pass and logs its outcome.
func (w *RefreshWorker) RunOnce(ctx context.Context) {
	opLogger := logging.WithOperation(w.logger, "scheduler.refresh_all", logging.RequestIDFromContext(ctx))

	start := time.Now()
	summary, err := w.refresher.RefreshAll(ctx)
	if err != nil {
		opLogger.Error("scheduled refresh failed", zap.Error(err))
		return
	}
	w.recorder.ObserveScheduledRun(time.Now())

	opLogger.Info("scheduled refresh complete",
		zap.Int("phones", summary.Phones),
		zap.Int("updated", summary.Updated),
		zap.Int("failed", summary.Failed),
		zap.Duration("elapsed", time.Since(start)),
	)
}
