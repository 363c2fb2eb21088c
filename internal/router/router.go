// Package router fronts the dispatcher with the answer cache.
package router

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/seantiz/ragserve/internal/cache"
	"github.com/seantiz/ragserve/internal/engine"
	"github.com/seantiz/ragserve/internal/metrics"
	"github.com/seantiz/ragserve/internal/model"
	"github.com/seantiz/ragserve/internal/store"
	"github.com/seantiz/ragserve/internal/trace"
)

// StatusProcessing is reported for a question handed to a background job.
const StatusProcessing = "processing"

// Response is the reply to one question. Exactly one of Answer or TaskID is
// set on success.
type Response struct {
	TraceID string                 `json:"trace_id"`
	Answer  string                 `json:"answer,omitempty"`
	Cached  bool                   `json:"cached,omitempty"`
	Sources []model.ProtocolSource `json:"sources,omitempty"`
	Status  string                 `json:"status,omitempty"`
	TaskID  string                 `json:"task_id,omitempty"`
}

// Router answers from the cache when it can and dispatches otherwise.
type Router struct {
	cache      cache.Cache
	dispatcher engine.Dispatcher
	audit      store.Store
	logger     *slog.Logger
	metrics    *metrics.Collector
}

// New creates a router. c may be nil to disable caching and audit may be nil
// to skip the query log.
func New(c cache.Cache, d engine.Dispatcher, audit store.Store, logger *slog.Logger, m *metrics.Collector) *Router {
	return &Router{
		cache:      c,
		dispatcher: d,
		audit:      audit,
		logger:     logger,
		metrics:    m,
	}
}

// Mode reports the dispatch mode behind the router.
func (r *Router) Mode() string { return r.dispatcher.Mode() }

// Handle answers q. The returned Response always carries the trace id, also
// alongside an error. A cache hit returns the stored text without sources.
func (r *Router) Handle(ctx context.Context, q model.Question) (Response, error) {
	traceID := trace.FromContext(ctx)
	if traceID == "" {
		traceID = trace.New()
		ctx = trace.WithID(ctx, traceID)
	}
	log := trace.Logger(ctx, r.logger)
	resp := Response{TraceID: traceID}

	log.Info("question received", "question", q.Text, "sources", q.WantSources)

	if text, ok := r.lookup(ctx, q.Text, log); ok {
		log.Info("answer produced", "cached", true)
		r.record(ctx, log, q.Text, model.OutcomeCached, text, "", "")
		resp.Answer = text
		resp.Cached = true
		return resp, nil
	}

	h, err := r.dispatcher.Submit(ctx, q)
	if err != nil {
		outcome := model.OutcomeFailed
		if errors.Is(err, engine.ErrTimeout) {
			outcome = model.OutcomeTimeout
		}
		log.Error("request failed", "outcome", outcome, "error", err)
		r.record(ctx, log, q.Text, outcome, "", err.Error(), "")
		return resp, err
	}

	if h.JobID != "" {
		log.Info("question queued", "job_id", h.JobID)
		r.record(ctx, log, q.Text, model.OutcomeQueued, "", "", h.JobID)
		resp.Status = StatusProcessing
		resp.TaskID = h.JobID
		return resp, nil
	}

	log.Info("answer produced", "cached", false, "used_sources", h.Answer.UsedSources)
	r.record(ctx, log, q.Text, model.OutcomeAnswered, h.Answer.Text, "", "")
	resp.Answer = h.Answer.Text
	resp.Sources = h.Answer.Sources
	return resp, nil
}

// Poll returns the job with the given id.
func (r *Router) Poll(ctx context.Context, id string) (*model.Job, error) {
	return r.dispatcher.Poll(ctx, id)
}

// lookup reads the cache. Backend failures count as a miss.
func (r *Router) lookup(ctx context.Context, question string, log *slog.Logger) (string, bool) {
	if r.cache == nil {
		return "", false
	}
	text, ok, err := r.cache.Get(ctx, cache.Key(question))
	switch {
	case err != nil:
		r.metrics.RecordCacheLookup(metrics.CacheError)
		log.Warn("cache read failed, continuing uncached", "error", err)
		return "", false
	case ok:
		r.metrics.RecordCacheLookup(metrics.CacheHit)
		return text, true
	default:
		r.metrics.RecordCacheLookup(metrics.CacheMiss)
		return "", false
	}
}

// record appends to the query log. The write outlives a cancelled request.
func (r *Router) record(ctx context.Context, log *slog.Logger, question, outcome, answer, errText, jobID string) {
	if r.audit == nil {
		return
	}
	e := &model.QueryLogEntry{
		ID:        model.NewID(),
		TraceID:   trace.FromContext(ctx),
		Question:  question,
		Outcome:   outcome,
		Answer:    answer,
		Error:     errText,
		JobID:     jobID,
		CreatedAt: time.Now().UTC(),
	}
	if err := r.audit.InsertQueryLog(context.WithoutCancel(ctx), e); err != nil {
		log.Error("failed to write query log", "error", err)
	}
}
