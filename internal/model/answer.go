package model

import "time"

// Question is one inbound request for an answer. Text is used verbatim as
// the cache key.
type Question struct {
	Text        string `json:"text"`
	WantSources bool   `json:"sources"`
}

// Evidence is one retrieved corpus fragment with its distance from the
// question. Lower distance means closer.
type Evidence struct {
	Content  string  `json:"content"`
	Distance float64 `json:"distance"`
}

// ProtocolSource is an attributed source with a relevance in [0, 1].
type ProtocolSource struct {
	URL            string  `json:"url"`
	RelevanceScore float64 `json:"relevance_score"`
}

// Answer is the cleaned, attribution-aware result for one question.
type Answer struct {
	Text        string           `json:"answer"`
	UsedSources bool             `json:"used_sources"`
	Sources     []ProtocolSource `json:"sources,omitempty"`
}

// Query log outcomes.
const (
	OutcomeCached   = "cached"
	OutcomeAnswered = "answered"
	OutcomeQueued   = "queued"
	OutcomeTimeout  = "timeout"
	OutcomeFailed   = "failed"
)

// QueryLogEntry is one audit record of a question and what became of it.
type QueryLogEntry struct {
	ID        string    `json:"id"`
	TraceID   string    `json:"trace_id"`
	Question  string    `json:"question"`
	Outcome   string    `json:"outcome"`
	Answer    string    `json:"answer,omitempty"`
	Error     string    `json:"error,omitempty"`
	JobID     string    `json:"job_id,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}
