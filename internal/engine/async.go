package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/seantiz/ragserve/internal/metrics"
	"github.com/seantiz/ragserve/internal/model"
	"github.com/seantiz/ragserve/internal/store"
	"github.com/seantiz/ragserve/internal/trace"
)

// recoverLimit caps how many pending jobs one Recover call re-enqueues.
const recoverLimit = 10000

// AsyncDispatcher records each question as a job and answers it in the
// background. Job state lives in the store; live status changes go to the
// broker.
//
// Jobs wait in a FIFO queue for one of a fixed number of workers. The answer
// deadline starts when a worker picks a job up, so time spent queued never
// times a job out.
type AsyncDispatcher struct {
	runner  *Runner
	store   store.Store
	broker  *JobBroker
	logger  *slog.Logger
	metrics *metrics.Collector

	mu      sync.Mutex
	cond    *sync.Cond
	queue   []model.Job
	stopped bool

	jobs    sync.WaitGroup // queued and running jobs
	workers sync.WaitGroup
}

// NewAsyncDispatcher creates an async dispatcher and starts its workers. A
// non-positive worker count falls back to DefaultMaxConcurrency.
func NewAsyncDispatcher(r *Runner, s store.Store, workers int, logger *slog.Logger, m *metrics.Collector) *AsyncDispatcher {
	if workers <= 0 {
		workers = DefaultMaxConcurrency
	}
	d := &AsyncDispatcher{
		runner:  r,
		store:   s,
		broker:  NewJobBroker(),
		logger:  logger,
		metrics: m,
	}
	d.cond = sync.NewCond(&d.mu)
	for range workers {
		d.workers.Go(d.work)
	}
	return d
}

// Broker returns the broker publishing job status changes.
func (d *AsyncDispatcher) Broker() *JobBroker {
	return d.broker
}

func (d *AsyncDispatcher) Mode() string { return ModeAsync }

// Submit stores a pending job and queues it for a worker. The job is
// persisted before Submit returns, so it can be polled immediately.
func (d *AsyncDispatcher) Submit(ctx context.Context, q model.Question) (Handle, error) {
	j := &model.Job{
		ID:          model.NewJobID(),
		TraceID:     trace.FromContext(ctx),
		Question:    q.Text,
		WantSources: q.WantSources,
		Status:      model.StatusPending,
		CreatedAt:   time.Now().UTC(),
	}
	if err := d.store.CreateJob(ctx, j); err != nil {
		return Handle{}, fmt.Errorf("create job: %w", err)
	}

	d.enqueue(*j)
	return Handle{JobID: j.ID}, nil
}

// Poll returns the current state of a job.
func (d *AsyncDispatcher) Poll(ctx context.Context, id string) (*model.Job, error) {
	return d.store.GetJob(ctx, id)
}

// Recover re-enqueues jobs a previous process left unfinished. Running jobs
// are reset to pending first, so a job may be answered more than once across
// restarts. Call it before accepting requests.
func (d *AsyncDispatcher) Recover(ctx context.Context) (int, error) {
	reset, err := d.store.ResetInterrupted(ctx)
	if err != nil {
		return 0, err
	}
	if reset > 0 {
		d.logger.Warn("reset interrupted jobs", "count", reset)
	}

	jobs, err := d.store.ListJobsByStatus(ctx, model.StatusPending, recoverLimit)
	if err != nil {
		return 0, err
	}
	for _, j := range jobs {
		d.enqueue(*j)
	}
	return len(jobs), nil
}

// Wait blocks until the queue is empty and no job is running. It must not
// be called concurrently with Submit or Recover.
func (d *AsyncDispatcher) Wait() {
	d.jobs.Wait()
}

// Stop lets running jobs finish and then stops the workers. Jobs still
// queued stay pending in the store and are picked up by Recover on the next
// start.
func (d *AsyncDispatcher) Stop() {
	d.mu.Lock()
	if d.stopped {
		d.mu.Unlock()
		return
	}
	d.stopped = true
	left := len(d.queue)
	d.queue = nil
	d.cond.Broadcast()
	d.mu.Unlock()

	for range left {
		d.jobs.Done()
	}
	if left > 0 {
		d.logger.Info("left queued jobs pending", "count", left)
	}
	d.workers.Wait()
}

// Queued reports how many jobs are waiting for a worker.
func (d *AsyncDispatcher) Queued() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.queue)
}

func (d *AsyncDispatcher) enqueue(j model.Job) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stopped {
		d.logger.Warn("dispatcher stopped, job left pending", "job_id", j.ID)
		return
	}
	d.jobs.Add(1)
	d.queue = append(d.queue, j)
	d.cond.Signal()
}

// next blocks until a job is queued. ok is false once the dispatcher stops.
func (d *AsyncDispatcher) next() (j model.Job, ok bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for len(d.queue) == 0 && !d.stopped {
		d.cond.Wait()
	}
	if d.stopped {
		return model.Job{}, false
	}
	j = d.queue[0]
	d.queue[0] = model.Job{}
	d.queue = d.queue[1:]
	return j, true
}

func (d *AsyncDispatcher) work() {
	for {
		j, ok := d.next()
		if !ok {
			return
		}
		d.execute(&j)
		d.jobs.Done()
	}
}

// execute drives one job: pending -> running -> completed or failed. The
// submitting request is gone by now, so the job runs on a fresh context that
// only carries its trace id.
func (d *AsyncDispatcher) execute(j *model.Job) {
	defer d.broker.Close(j.ID)

	ctx := trace.WithID(context.Background(), j.TraceID)
	log := trace.Logger(ctx, d.logger).With("job_id", j.ID)

	if err := d.store.TransitionJob(ctx, j.ID, store.Transition{To: model.StatusRunning}); err != nil {
		log.Error("failed to transition to running", "error", err)
		d.finish(ctx, log, j, store.Transition{
			To:    model.StatusFailed,
			Error: fmt.Sprintf("failed to start: %v", err),
		})
		return
	}
	d.broker.Publish(model.JobEvent{JobID: j.ID, Status: model.StatusRunning})

	start := time.Now()
	ans, err := d.runner.Run(ctx, model.Question{Text: j.Question, WantSources: j.WantSources})
	durationMS := int(time.Since(start).Milliseconds())

	if err != nil {
		log.Error("job failed", "error", err)
		d.finish(ctx, log, j, store.Transition{
			To:         model.StatusFailed,
			Error:      jobError(err),
			DurationMS: &durationMS,
		})
		return
	}

	d.finish(ctx, log, j, store.Transition{
		To:         model.StatusCompleted,
		Result:     &ans,
		DurationMS: &durationMS,
	})
}

// finish writes the terminal transition, publishes it and records it in the
// query log.
func (d *AsyncDispatcher) finish(ctx context.Context, log *slog.Logger, j *model.Job, tr store.Transition) {
	if err := d.store.TransitionJob(ctx, j.ID, tr); err != nil {
		log.Error("failed to finish job", "status", tr.To, "error", err)
		return
	}
	d.metrics.RecordJobFinished(tr.To)
	d.broker.Publish(model.JobEvent{JobID: j.ID, Status: tr.To, Result: tr.Result, Error: tr.Error})

	entry := &model.QueryLogEntry{
		ID:        model.NewID(),
		TraceID:   j.TraceID,
		Question:  j.Question,
		Outcome:   model.OutcomeAnswered,
		Error:     tr.Error,
		JobID:     j.ID,
		CreatedAt: time.Now().UTC(),
	}
	switch {
	case tr.Result != nil:
		entry.Answer = tr.Result.Text
		log.Info("answer produced", "duration_ms", derefInt(tr.DurationMS))
	case tr.Error == ErrTimeout.Error():
		entry.Outcome = model.OutcomeTimeout
	default:
		entry.Outcome = model.OutcomeFailed
	}
	if err := d.store.InsertQueryLog(ctx, entry); err != nil {
		log.Error("failed to write query log", "error", err)
	}
}

// jobError is the error text stored on a failed job.
func jobError(err error) string {
	if errors.Is(err, ErrTimeout) {
		return ErrTimeout.Error()
	}
	return err.Error()
}

func derefInt(p *int) int {
	if p == nil {
		return 0
	}
	return *p
}
