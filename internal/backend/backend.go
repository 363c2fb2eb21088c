package backend

import (
	"context"
	"errors"
)

// ErrEmptyCompletion is returned when a backend answers with no text.
var ErrEmptyCompletion = errors.New("empty completion")

// Generator is the interface that all answer model backends must implement.
// Implementations are shared by concurrent callers and must be safe for
// concurrent use.
type Generator interface {
	// Generate produces the raw answer text for the prompt. The context
	// carries the request deadline and cancellation.
	Generate(ctx context.Context, p Prompt) (string, error)

	// Info reports which backend and model serve requests.
	Info() Info
}

// Prompt is the rendered input for one generation.
type Prompt struct {
	System   string `json:"system"`
	Question string `json:"question"`
	Context  string `json:"context"`
}

// Info describes a constructed generator.
type Info struct {
	Backend string `json:"backend"`
	Model   string `json:"model"`
}

// Settings holds the configuration a backend is constructed from.
type Settings struct {
	Model       string
	BaseURL     string
	APIKey      string
	Region      string
	Temperature float64
	MaxTokens   int
}

// UserMessage joins the question and the retrieved context the way every
// chat-style backend presents them.
func (p Prompt) UserMessage() string {
	if p.Context == "" {
		return p.Question
	}
	return p.Question + "\n\nContext from our sources:\n\n" + p.Context
}
