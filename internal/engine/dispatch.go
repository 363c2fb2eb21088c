package engine

import (
	"context"

	"github.com/seantiz/ragserve/internal/model"
	"github.com/seantiz/ragserve/internal/store"
)

// Dispatch modes.
const (
	ModeSync  = "sync"
	ModeAsync = "async"
)

// Handle is what Submit hands back: an answer when the work ran inline, or
// the id of the job to poll.
type Handle struct {
	Answer *model.Answer
	JobID  string
}

// Dispatcher runs questions that missed the cache.
type Dispatcher interface {
	Submit(ctx context.Context, q model.Question) (Handle, error)
	Poll(ctx context.Context, id string) (*model.Job, error)
	Mode() string
}

// SyncDispatcher answers on the caller's goroutine and returns once the
// answer or an error is ready.
type SyncDispatcher struct {
	runner *Runner
	store  store.Store
}

// NewSyncDispatcher creates a sync dispatcher. s may be nil; it is only used
// to look up jobs left by an async deployment sharing the database.
func NewSyncDispatcher(r *Runner, s store.Store) *SyncDispatcher {
	return &SyncDispatcher{runner: r, store: s}
}

func (d *SyncDispatcher) Submit(ctx context.Context, q model.Question) (Handle, error) {
	ans, err := d.runner.Run(ctx, q)
	if err != nil {
		return Handle{}, err
	}
	return Handle{Answer: &ans}, nil
}

func (d *SyncDispatcher) Poll(ctx context.Context, id string) (*model.Job, error) {
	if d.store == nil {
		return nil, store.ErrNotFound
	}
	return d.store.GetJob(ctx, id)
}

func (d *SyncDispatcher) Mode() string { return ModeSync }
