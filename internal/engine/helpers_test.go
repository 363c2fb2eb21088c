package engine_test

import (
	"context"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/seantiz/ragserve/internal/cache"
	"github.com/seantiz/ragserve/internal/engine"
	"github.com/seantiz/ragserve/internal/model"
	"github.com/seantiz/ragserve/internal/rank"
	"github.com/seantiz/ragserve/internal/store"
)

// delayEngine is a configurable fake engine. With ignoreCtx set it keeps
// running after its caller gives up.
type delayEngine struct {
	delay     time.Duration
	text      string
	evidence  []model.Evidence
	err       error
	ignoreCtx bool

	calls       atomic.Int32
	inFlight    atomic.Int32
	maxInFlight atomic.Int32
}

func (d *delayEngine) Answer(ctx context.Context, _ string) (engine.Raw, error) {
	d.calls.Add(1)
	n := d.inFlight.Add(1)
	defer d.inFlight.Add(-1)
	for {
		m := d.maxInFlight.Load()
		if n <= m || d.maxInFlight.CompareAndSwap(m, n) {
			break
		}
	}

	if d.ignoreCtx {
		time.Sleep(d.delay)
	} else {
		select {
		case <-time.After(d.delay):
		case <-ctx.Done():
			return engine.Raw{}, ctx.Err()
		}
	}
	if d.err != nil {
		return engine.Raw{}, d.err
	}
	return engine.Raw{Text: d.text, Evidence: d.evidence}, nil
}

type panicEngine struct{}

func (panicEngine) Answer(context.Context, string) (engine.Raw, error) {
	panic("index corrupted")
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}

func newTestCache(t *testing.T) *cache.SQLite {
	t.Helper()
	c, err := cache.New(":memory:", time.Hour)
	if err != nil {
		t.Fatalf("cache.New: %v", err)
	}
	t.Cleanup(func() { c.Close() })
	return c
}

func newTestStore(t *testing.T) store.Store {
	t.Helper()
	s, err := store.NewSQLiteStore(":memory:")
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func newTestRunner(t *testing.T, e engine.Engine, c cache.Cache, deadline time.Duration) *engine.Runner {
	t.Helper()
	pool := engine.NewRoundRobinPool([]engine.Engine{e}, nil)
	exec := engine.NewExecutor(10, discardLogger(), nil)
	return engine.NewRunner(pool, exec, rank.Ranker{}, c, deadline, discardLogger(), nil)
}

// waitForStatus polls the store until the job reaches the expected status.
func waitForStatus(t *testing.T, s store.Store, id, expected string, timeout time.Duration) *model.Job {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		j, err := s.GetJob(context.Background(), id)
		if err != nil {
			t.Fatalf("GetJob: %v", err)
		}
		if j.Status == expected {
			return j
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("job %s did not reach status %q within %v", id, expected, timeout)
	return nil
}

var aaveEvidence = []model.Evidence{
	{Content: "NAME: Aave V3\nCATEGORY: Lending", Distance: 0},
	{Content: "no name line here", Distance: 0.1},
	{Content: "NAME: Compound\nCATEGORY: Lending", Distance: 1},
}
