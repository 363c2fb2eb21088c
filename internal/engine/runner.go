package engine

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/seantiz/ragserve/internal/cache"
	"github.com/seantiz/ragserve/internal/metrics"
	"github.com/seantiz/ragserve/internal/model"
	"github.com/seantiz/ragserve/internal/rank"
	"github.com/seantiz/ragserve/internal/trace"
)

// DefaultDeadline bounds how long one question may take end to end.
const DefaultDeadline = 60 * time.Second

// Runner answers one question on the pool: acquire a slot, execute under the
// deadline, classify the raw answer and cache the cleaned text. Both
// dispatch models share it.
type Runner struct {
	pool     Pool
	exec     *Executor
	ranker   rank.Ranker
	cache    cache.Cache
	deadline time.Duration
	logger   *slog.Logger
	metrics  *metrics.Collector
}

// NewRunner creates a runner. c may be nil to run uncached.
func NewRunner(p Pool, x *Executor, r rank.Ranker, c cache.Cache, deadline time.Duration, logger *slog.Logger, m *metrics.Collector) *Runner {
	if deadline <= 0 {
		deadline = DefaultDeadline
	}
	return &Runner{
		pool:     p,
		exec:     x,
		ranker:   r,
		cache:    c,
		deadline: deadline,
		logger:   logger,
		metrics:  m,
	}
}

// Deadline reports the per-question deadline.
func (r *Runner) Deadline() time.Duration { return r.deadline }

// Run answers q. Errors are ErrTimeout, *EngineError, or ctx's error when
// the caller cancels.
func (r *Runner) Run(ctx context.Context, q model.Question) (model.Answer, error) {
	log := trace.Logger(ctx, r.logger)
	deadline := time.Now().Add(r.deadline)

	actx, cancel := context.WithDeadline(ctx, deadline)
	slot, err := r.pool.Acquire(actx)
	cancel()
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return model.Answer{}, ErrTimeout
		}
		return model.Answer{}, err
	}
	log.Debug("engine slot acquired", "slot", slot.Index)

	raw, err := r.exec.Execute(ctx, slot, q.Text, deadline)
	if err != nil {
		return model.Answer{}, err
	}

	ans := r.ranker.Classify(raw.Text, raw.Evidence, q.WantSources)
	r.store(ctx, q.Text, ans.Text, log)
	return ans, nil
}

// store caches the answer text. The first writer for a question wins until
// the entry expires. Failures are logged and otherwise ignored.
func (r *Runner) store(ctx context.Context, question, answer string, log *slog.Logger) {
	if r.cache == nil {
		return
	}
	stored, err := r.cache.PutIfAbsent(context.WithoutCancel(ctx), cache.Key(question), answer)
	if err != nil {
		r.metrics.RecordCacheLookup(metrics.CacheError)
		log.Warn("cache write failed", "error", err)
		return
	}
	if !stored {
		log.Debug("answer already cached")
	}
}
