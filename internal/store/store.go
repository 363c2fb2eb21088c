package store

import (
	"context"
	"errors"
	"time"

	"github.com/seantiz/ragserve/internal/model"
)

var (
	// ErrNotFound is returned when a job is not found.
	ErrNotFound = errors.New("job not found")

	// ErrInvalidTransition is returned when a job status transition is not
	// allowed, including any attempt to move a job out of a terminal state.
	ErrInvalidTransition = errors.New("invalid status transition")
)

// Transition describes a job status change and the fields it sets.
// Result, Error and DurationMS are only meaningful for terminal targets.
type Transition struct {
	To         string
	Result     *model.Answer
	Error      string
	DurationMS *int
}

// JobStats holds aggregate job statistics.
type JobStats struct {
	Total         int            `json:"total"`
	CountByStatus map[string]int `json:"count_by_status"`
	AvgDurationMS float64        `json:"avg_duration_ms"`
}

// Store defines the persistence operations for async jobs and the query log.
type Store interface {
	CreateJob(ctx context.Context, j *model.Job) error
	GetJob(ctx context.Context, id string) (*model.Job, error)
	TransitionJob(ctx context.Context, id string, tr Transition) error
	ListJobsByStatus(ctx context.Context, status string, limit int) ([]*model.Job, error)
	ResetInterrupted(ctx context.Context) (int, error)
	DeleteFinishedBefore(ctx context.Context, cutoff time.Time) (int, error)
	GetJobStats(ctx context.Context) (*JobStats, error)
	InsertQueryLog(ctx context.Context, e *model.QueryLogEntry) error
	GetQueryLog(ctx context.Context, traceID string) ([]model.QueryLogEntry, error)
	Close() error
}
