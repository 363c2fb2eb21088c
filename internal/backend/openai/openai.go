// Package openai implements backend.Generator against the OpenAI chat
// completions API or any compatible server.
package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/seantiz/ragserve/internal/backend"
)

const (
	// Name is the registry name of this backend.
	Name = "openai"

	defaultBaseURL = "https://api.openai.com/v1"
	defaultModel   = "gpt-4o-mini"
	maxErrorBody   = 512
)

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

// Generator calls /chat/completions. It is safe for concurrent use.
type Generator struct {
	baseURL     string
	apiKey      string
	model       string
	temperature float64
	maxTokens   int
	client      *http.Client
}

// New creates a generator. Request deadlines come from the caller's context,
// so the HTTP client carries no timeout of its own.
func New(s backend.Settings) *Generator {
	g := &Generator{
		baseURL:     strings.TrimRight(s.BaseURL, "/"),
		apiKey:      s.APIKey,
		model:       s.Model,
		temperature: s.Temperature,
		maxTokens:   s.MaxTokens,
		client:      &http.Client{},
	}
	if g.baseURL == "" {
		g.baseURL = defaultBaseURL
	}
	if g.model == "" {
		g.model = defaultModel
	}
	return g
}

// Factory adapts New to backend.Factory.
func Factory(_ context.Context, s backend.Settings) (backend.Generator, error) {
	if s.APIKey == "" && s.BaseURL == "" {
		return nil, fmt.Errorf("openai: api key is required")
	}
	return New(s), nil
}

// Info reports the backend name and model.
func (g *Generator) Info() backend.Info {
	return backend.Info{Backend: Name, Model: g.model}
}

// Generate sends the system prompt and the user message as a chat completion.
func (g *Generator) Generate(ctx context.Context, p backend.Prompt) (string, error) {
	body, err := json.Marshal(chatRequest{
		Model: g.model,
		Messages: []chatMessage{
			{Role: "system", Content: p.System},
			{Role: "user", Content: p.UserMessage()},
		},
		Temperature: g.temperature,
		MaxTokens:   g.maxTokens,
	})
	if err != nil {
		return "", fmt.Errorf("marshaling request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if g.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+g.apiKey)
	}

	resp, err := g.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("calling openai: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return "", fmt.Errorf("openai returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(snippet)))
	}

	var out chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("decoding response: %w", err)
	}
	if len(out.Choices) == 0 || out.Choices[0].Message.Content == "" {
		return "", backend.ErrEmptyCompletion
	}
	return out.Choices[0].Message.Content, nil
}
