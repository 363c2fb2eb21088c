package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/seantiz/ragserve/internal/metrics"
	"github.com/seantiz/ragserve/internal/trace"
)

// DefaultMaxConcurrency is the default number of engine calls allowed to run
// at once.
const DefaultMaxConcurrency = 10

// ErrTimeout is returned when the deadline passes before the engine answers.
var ErrTimeout = errors.New("request timed out")

// EngineError wraps a failure raised by the engine itself.
type EngineError struct {
	Cause error
}

func (e *EngineError) Error() string { return e.Cause.Error() }

func (e *EngineError) Unwrap() error { return e.Cause }

const (
	handoffPending int32 = iota
	handoffDelivered
	handoffAbandoned
)

type execResult struct {
	raw Raw
	err error
}

// Executor runs engine calls on a bounded number of workers. Callers beyond
// the bound queue; queueing time counts against their deadline.
type Executor struct {
	sem     *semaphore.Weighted
	logger  *slog.Logger
	metrics *metrics.Collector
}

// NewExecutor creates an executor allowing maxConcurrency engine calls at
// once. A non-positive value falls back to DefaultMaxConcurrency.
func NewExecutor(maxConcurrency int, logger *slog.Logger, m *metrics.Collector) *Executor {
	if maxConcurrency <= 0 {
		maxConcurrency = DefaultMaxConcurrency
	}
	return &Executor{
		sem:     semaphore.NewWeighted(int64(maxConcurrency)),
		logger:  logger,
		metrics: m,
	}
}

// Execute answers question on the slot's engine and waits until deadline.
// It takes ownership of slot and releases it once the engine call has
// returned, which may be after Execute itself has returned ErrTimeout.
//
// The engine receives a context that is cancelled when the caller stops
// waiting. The worker permit is held until the engine call returns, so an
// engine that ignores cancellation keeps its worker busy.
func (x *Executor) Execute(ctx context.Context, slot *Slot, question string, deadline time.Time) (Raw, error) {
	start := time.Now()
	ctx, cancel := context.WithDeadline(ctx, deadline)
	defer cancel()

	x.metrics.WaitStarted()
	err := x.sem.Acquire(ctx, 1)
	x.metrics.WaitEnded()
	if err != nil {
		slot.Release()
		return Raw{}, x.giveUp(ctx, start)
	}

	// The first side to move the handoff out of pending owns the result:
	// the worker delivers it, or the caller abandons it.
	var handoff atomic.Int32
	done := make(chan execResult, 1)
	go func() {
		defer x.sem.Release(1)
		defer slot.Release()

		x.metrics.WorkerStarted()
		raw, err := call(ctx, slot.Engine, question)
		x.metrics.WorkerDone()

		if handoff.CompareAndSwap(handoffPending, handoffDelivered) {
			done <- execResult{raw: raw, err: err}
			return
		}
		x.metrics.RecordAbandoned()
		trace.Logger(ctx, x.logger).Warn("engine returned after caller gave up",
			"slot", slot.Index,
			"elapsed_ms", time.Since(start).Milliseconds(),
		)
	}()

	var res execResult
	select {
	case res = <-done:
	case <-ctx.Done():
		if handoff.CompareAndSwap(handoffPending, handoffAbandoned) {
			return Raw{}, x.giveUp(ctx, start)
		}
		// The worker delivered just as the deadline passed.
		res = <-done
	}

	if res.err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			x.metrics.RecordExecution(metrics.OutcomeTimeout, time.Since(start))
			return Raw{}, ErrTimeout
		}
		x.metrics.RecordExecution(metrics.OutcomeError, time.Since(start))
		return Raw{}, &EngineError{Cause: res.err}
	}
	x.metrics.RecordExecution(metrics.OutcomeOK, time.Since(start))
	return res.raw, nil
}

// giveUp maps a done context to the caller-facing error.
func (x *Executor) giveUp(ctx context.Context, start time.Time) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		x.metrics.RecordExecution(metrics.OutcomeTimeout, time.Since(start))
		return ErrTimeout
	}
	x.metrics.RecordExecution(metrics.OutcomeCanceled, time.Since(start))
	return ctx.Err()
}

// call invokes the engine, turning a panic into an error.
func call(ctx context.Context, e Engine, question string) (raw Raw, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("engine panic: %v", r)
		}
	}()
	return e.Answer(ctx, question)
}
