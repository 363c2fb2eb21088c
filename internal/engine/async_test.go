package engine_test

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/seantiz/ragserve/internal/engine"
	"github.com/seantiz/ragserve/internal/model"
	"github.com/seantiz/ragserve/internal/rank"
	"github.com/seantiz/ragserve/internal/store"
	"github.com/seantiz/ragserve/internal/trace"
)

func newTestAsync(t *testing.T, e engine.Engine, deadline time.Duration) (*engine.AsyncDispatcher, store.Store) {
	t.Helper()
	s := newTestStore(t)
	r := newTestRunner(t, e, newTestCache(t), deadline)
	d := engine.NewAsyncDispatcher(r, s, 4, discardLogger(), nil)
	t.Cleanup(func() {
		d.Wait()
		d.Stop()
	})
	return d, s
}

func TestAsyncSubmitHappyPath(t *testing.T) {
	e := &delayEngine{delay: 20 * time.Millisecond, text: "[FROM_SOURCES] Aave lends.", evidence: aaveEvidence}
	d, s := newTestAsync(t, e, 5*time.Second)

	ctx := trace.WithID(context.Background(), "trace-1")
	h, err := d.Submit(ctx, model.Question{Text: "what is aave?", WantSources: true})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if h.JobID == "" || h.Answer != nil {
		t.Fatalf("handle = %+v, want job id only", h)
	}

	// Pending is persisted before Submit returns.
	got, err := d.Poll(context.Background(), h.JobID)
	if err != nil {
		t.Fatalf("Poll: %v", err)
	}
	if got.Status != model.StatusPending && got.Status != model.StatusRunning {
		t.Errorf("initial status = %q, want pending or running", got.Status)
	}
	if got.TraceID != "trace-1" {
		t.Errorf("trace_id = %q, want trace-1", got.TraceID)
	}

	done := waitForStatus(t, s, h.JobID, model.StatusCompleted, 5*time.Second)
	if done.Result == nil {
		t.Fatal("result is nil")
	}
	if done.Result.Text != "Aave lends." {
		t.Errorf("answer = %q, want %q", done.Result.Text, "Aave lends.")
	}
	if len(done.Result.Sources) != 2 {
		t.Errorf("sources = %v, want 2", done.Result.Sources)
	}
	if done.DurationMS == nil || *done.DurationMS <= 0 {
		t.Errorf("duration_ms = %v, want > 0", done.DurationMS)
	}
	if done.StartedAt == nil || done.FinishedAt == nil {
		t.Error("started_at and finished_at must be set")
	}
}

func TestAsyncEngineError(t *testing.T) {
	d, s := newTestAsync(t, &delayEngine{err: errors.New("model overloaded")}, 5*time.Second)

	h, err := d.Submit(context.Background(), model.Question{Text: "q"})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}

	failed := waitForStatus(t, s, h.JobID, model.StatusFailed, 5*time.Second)
	if failed.Error != "model overloaded" {
		t.Errorf("error = %q, want %q", failed.Error, "model overloaded")
	}
	if failed.Result != nil {
		t.Errorf("result = %+v, want nil", failed.Result)
	}
}

func TestAsyncTimeout(t *testing.T) {
	d, s := newTestAsync(t, &delayEngine{delay: 5 * time.Second}, 50*time.Millisecond)

	h, err := d.Submit(context.Background(), model.Question{Text: "q"})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}

	failed := waitForStatus(t, s, h.JobID, model.StatusFailed, 5*time.Second)
	if failed.Error != engine.ErrTimeout.Error() {
		t.Errorf("error = %q, want %q", failed.Error, engine.ErrTimeout.Error())
	}
}

func TestAsyncPanicDoesNotCrash(t *testing.T) {
	d, s := newTestAsync(t, panicEngine{}, 5*time.Second)

	h, err := d.Submit(context.Background(), model.Question{Text: "q"})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	waitForStatus(t, s, h.JobID, model.StatusFailed, 5*time.Second)
}

func TestAsyncConcurrent(t *testing.T) {
	d, s := newTestAsync(t, &delayEngine{delay: 30 * time.Millisecond, text: "done"}, 5*time.Second)

	ids := make([]string, 8)
	for i := range ids {
		h, err := d.Submit(context.Background(), model.Question{Text: "q"})
		if err != nil {
			t.Fatalf("Submit[%d]: %v", i, err)
		}
		ids[i] = h.JobID
	}

	for _, id := range ids {
		waitForStatus(t, s, id, model.StatusCompleted, 5*time.Second)
	}
}

// A backlog much longer than the deadline drains without timeouts: the
// deadline only covers each job's own execution.
func TestAsyncBacklogDoesNotTimeOut(t *testing.T) {
	s := newTestStore(t)
	e := &delayEngine{delay: 60 * time.Millisecond, text: "[FROM_KNOWLEDGE] drained"}
	pool := engine.NewRoundRobinPool([]engine.Engine{e}, nil)
	exec := engine.NewExecutor(1, discardLogger(), nil)
	r := engine.NewRunner(pool, exec, rank.Ranker{}, nil, 200*time.Millisecond, discardLogger(), nil)
	d := engine.NewAsyncDispatcher(r, s, 1, discardLogger(), nil)
	t.Cleanup(d.Stop)

	ids := make([]string, 8)
	for i := range ids {
		h, err := d.Submit(context.Background(), model.Question{Text: fmt.Sprintf("q%d", i)})
		if err != nil {
			t.Fatalf("Submit[%d]: %v", i, err)
		}
		ids[i] = h.JobID
	}
	d.Wait()

	for _, id := range ids {
		j, err := s.GetJob(context.Background(), id)
		if err != nil {
			t.Fatalf("GetJob: %v", err)
		}
		if j.Status != model.StatusCompleted {
			t.Errorf("job %s = %q (%s), want completed", id, j.Status, j.Error)
		}
	}
	if got := e.calls.Load(); got != 8 {
		t.Errorf("engine calls = %d, want 8", got)
	}
	if got := e.maxInFlight.Load(); got != 1 {
		t.Errorf("max in flight = %d, want 1", got)
	}
}

func TestAsyncWorkersBoundConcurrency(t *testing.T) {
	s := newTestStore(t)
	e := &delayEngine{delay: 30 * time.Millisecond, text: "done"}
	d := engine.NewAsyncDispatcher(newTestRunner(t, e, nil, 5*time.Second), s, 2, discardLogger(), nil)
	t.Cleanup(d.Stop)

	for i := range 10 {
		if _, err := d.Submit(context.Background(), model.Question{Text: fmt.Sprintf("q%d", i)}); err != nil {
			t.Fatalf("Submit[%d]: %v", i, err)
		}
	}
	d.Wait()

	if got := e.maxInFlight.Load(); got > 2 {
		t.Errorf("max in flight = %d, want <= 2 workers", got)
	}
	if d.Queued() != 0 {
		t.Errorf("queued = %d after Wait, want 0", d.Queued())
	}
}

func TestAsyncStopLeavesQueuedJobsPending(t *testing.T) {
	s := newTestStore(t)
	e := &delayEngine{delay: 100 * time.Millisecond, text: "done"}
	d := engine.NewAsyncDispatcher(newTestRunner(t, e, nil, 5*time.Second), s, 1, discardLogger(), nil)

	ids := make([]string, 3)
	for i := range ids {
		h, err := d.Submit(context.Background(), model.Question{Text: fmt.Sprintf("q%d", i)})
		if err != nil {
			t.Fatalf("Submit[%d]: %v", i, err)
		}
		ids[i] = h.JobID
	}
	waitForStatus(t, s, ids[0], model.StatusRunning, 5*time.Second)

	d.Stop()

	want := []string{model.StatusCompleted, model.StatusPending, model.StatusPending}
	for i, id := range ids {
		j, err := s.GetJob(context.Background(), id)
		if err != nil {
			t.Fatalf("GetJob: %v", err)
		}
		if j.Status != want[i] {
			t.Errorf("job %d = %q, want %q", i, j.Status, want[i])
		}
	}

	// Submitting after Stop persists the job for the next Recover.
	h, err := d.Submit(context.Background(), model.Question{Text: "late"})
	if err != nil {
		t.Fatalf("Submit after Stop: %v", err)
	}
	j, err := s.GetJob(context.Background(), h.JobID)
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if j.Status != model.StatusPending {
		t.Errorf("late job = %q, want pending", j.Status)
	}
	d.Wait()
}

func TestAsyncWritesQueryLog(t *testing.T) {
	d, s := newTestAsync(t, &delayEngine{text: "logged"}, 5*time.Second)

	ctx := trace.WithID(context.Background(), "trace-log")
	h, err := d.Submit(ctx, model.Question{Text: "q"})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	waitForStatus(t, s, h.JobID, model.StatusCompleted, 5*time.Second)
	d.Wait()

	entries, err := s.GetQueryLog(context.Background(), "trace-log")
	if err != nil {
		t.Fatalf("GetQueryLog: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("got %d entries, want 1", len(entries))
	}
	if entries[0].Outcome != model.OutcomeAnswered || entries[0].Answer != "logged" || entries[0].JobID != h.JobID {
		t.Errorf("entry = %+v", entries[0])
	}
}

func TestAsyncPublishesEvents(t *testing.T) {
	d, s := newTestAsync(t, &delayEngine{delay: 100 * time.Millisecond, text: "streamed"}, 5*time.Second)

	// The engine delay leaves time to subscribe before the job finishes.
	h, err := d.Submit(context.Background(), model.Question{Text: "q"})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	ch, unsub := d.Broker().Subscribe(h.JobID)
	defer unsub()

	var last model.JobEvent
	for ev := range ch {
		last = ev
	}
	if last.Status != model.StatusCompleted {
		j, _ := s.GetJob(context.Background(), h.JobID)
		t.Fatalf("last event status = %q, job status %q", last.Status, j.Status)
	}
	if last.Result == nil || last.Result.Text != "streamed" {
		t.Errorf("last event result = %+v", last.Result)
	}
}

func TestAsyncRecover(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	// One job left running by a dead process, one never started.
	interrupted := &model.Job{ID: model.NewJobID(), Question: "a", Status: model.StatusPending, CreatedAt: time.Now().UTC()}
	queued := &model.Job{ID: model.NewJobID(), Question: "b", Status: model.StatusPending, CreatedAt: time.Now().UTC()}
	for _, j := range []*model.Job{interrupted, queued} {
		if err := s.CreateJob(ctx, j); err != nil {
			t.Fatalf("CreateJob: %v", err)
		}
	}
	if err := s.TransitionJob(ctx, interrupted.ID, store.Transition{To: model.StatusRunning}); err != nil {
		t.Fatalf("TransitionJob: %v", err)
	}

	r := newTestRunner(t, &delayEngine{text: "recovered"}, nil, 5*time.Second)
	d := engine.NewAsyncDispatcher(r, s, 4, discardLogger(), nil)
	t.Cleanup(func() {
		d.Wait()
		d.Stop()
	})

	n, err := d.Recover(ctx)
	if err != nil {
		t.Fatalf("Recover: %v", err)
	}
	if n != 2 {
		t.Errorf("recovered %d jobs, want 2", n)
	}

	for _, id := range []string{interrupted.ID, queued.ID} {
		j := waitForStatus(t, s, id, model.StatusCompleted, 5*time.Second)
		if j.Result == nil || j.Result.Text != "recovered" {
			t.Errorf("job %s result = %+v", id, j.Result)
		}
	}
}

func TestAsyncPollUnknown(t *testing.T) {
	d, _ := newTestAsync(t, &delayEngine{}, time.Second)

	_, err := d.Poll(context.Background(), "missing")
	if !errors.Is(err, store.ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestSyncDispatcher(t *testing.T) {
	r := newTestRunner(t, &delayEngine{text: "[FROM_KNOWLEDGE] inline"}, nil, time.Second)
	d := engine.NewSyncDispatcher(r, nil)

	if d.Mode() != engine.ModeSync {
		t.Errorf("mode = %q", d.Mode())
	}
	h, err := d.Submit(context.Background(), model.Question{Text: "q"})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if h.Answer == nil || h.Answer.Text != "inline" || h.JobID != "" {
		t.Errorf("handle = %+v", h)
	}

	if _, err := d.Poll(context.Background(), "any"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("Poll err = %v, want ErrNotFound", err)
	}
}
