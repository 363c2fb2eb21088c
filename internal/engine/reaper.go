package engine

import (
	"context"
	"log/slog"
	"time"

	"github.com/seantiz/ragserve/internal/metrics"
	"github.com/seantiz/ragserve/internal/store"
)

// Reaper deletes finished jobs once they are older than the retention window.
type Reaper struct {
	store     store.Store
	broker    *JobBroker
	retention time.Duration
	interval  time.Duration
	logger    *slog.Logger
	metrics   *metrics.Collector
	now       func() time.Time
}

// NewReaper creates a reaper. broker may be nil when no dispatcher in this
// process publishes job events.
func NewReaper(s store.Store, broker *JobBroker, retention, interval time.Duration, logger *slog.Logger, m *metrics.Collector) *Reaper {
	return &Reaper{
		store:     s,
		broker:    broker,
		retention: retention,
		interval:  interval,
		logger:    logger,
		metrics:   m,
		now:       time.Now,
	}
}

// Run reaps every interval until ctx is cancelled. A non-positive interval
// disables the loop.
func (r *Reaper) Run(ctx context.Context) {
	if r.interval <= 0 {
		return
	}
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := r.ReapOnce(ctx); err != nil && ctx.Err() == nil {
				r.logger.Error("reap jobs", "error", err)
			}
		}
	}
}

// ReapOnce deletes every finished job older than the retention window.
func (r *Reaper) ReapOnce(ctx context.Context) (int, error) {
	cutoff := r.now().Add(-r.retention)
	n, err := r.store.DeleteFinishedBefore(ctx, cutoff)
	if err != nil {
		return 0, err
	}
	if r.broker != nil {
		r.broker.PruneClosed(cutoff)
	}
	r.metrics.RecordJobsReaped(n)
	if n > 0 {
		r.logger.Info("reaped finished jobs", "count", n, "cutoff", cutoff)
	}
	return n, nil
}
