package model

import "time"

// Job status constants.
const (
	StatusPending   = "pending"
	StatusRunning   = "running"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

// validTransitions maps each status to the set of statuses it may transition to.
// Completed and failed are terminal and have no entry.
var validTransitions = map[string]map[string]bool{
	StatusPending: {
		StatusRunning: true,
		StatusFailed:  true,
	},
	StatusRunning: {
		StatusCompleted: true,
		StatusFailed:    true,
	},
}

// ValidTransition reports whether transitioning from one status to another is allowed.
func ValidTransition(from, to string) bool {
	targets, ok := validTransitions[from]
	if !ok {
		return false
	}
	return targets[to]
}

// IsTerminal reports whether a job in this status can never change again.
func IsTerminal(status string) bool {
	return status == StatusCompleted || status == StatusFailed
}

// Job is one asynchronously answered question.
type Job struct {
	ID          string     `json:"id"`
	TraceID     string     `json:"trace_id"`
	Question    string     `json:"question"`
	WantSources bool       `json:"want_sources"`
	Status      string     `json:"status"`
	Result      *Answer    `json:"result,omitempty"`
	Error       string     `json:"error,omitempty"`
	DurationMS  *int       `json:"duration_ms,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	FinishedAt  *time.Time `json:"finished_at,omitempty"`
}

// JobEvent is a status change published to live subscribers of a job.
type JobEvent struct {
	JobID  string  `json:"job_id"`
	Status string  `json:"status"`
	Result *Answer `json:"result,omitempty"`
	Error  string  `json:"error,omitempty"`
}
