// Package ollama implements backend.Generator against a local Ollama server.
package ollama

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/seantiz/ragserve/internal/backend"
)

// Name is the registry name of this backend.
const Name = "ollama"

const (
	defaultBaseURL = "http://localhost:11434"
	defaultModel   = "llama3.2"
)

type generateRequest struct {
	Model   string          `json:"model"`
	System  string          `json:"system,omitempty"`
	Prompt  string          `json:"prompt"`
	Stream  bool            `json:"stream"`
	Options generateOptions `json:"options"`
}

type generateOptions struct {
	Temperature float64 `json:"temperature"`
	NumPredict  int     `json:"num_predict,omitempty"`
}

type generateResponse struct {
	Response string `json:"response"`
	Done     bool   `json:"done"`
}

// Generator calls /api/generate with streaming disabled.
type Generator struct {
	baseURL string
	model   string
	opts    generateOptions
	client  *http.Client
}

// New creates a new Ollama generator.
func New(s backend.Settings) *Generator {
	g := &Generator{
		baseURL: strings.TrimRight(s.BaseURL, "/"),
		model:   s.Model,
		opts:    generateOptions{Temperature: s.Temperature, NumPredict: s.MaxTokens},
		client:  &http.Client{},
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
	return New(s), nil
}

func (g *Generator) Info() backend.Info {
	return backend.Info{Backend: Name, Model: g.model}
}

// Generate produces the answer for the prompt.
func (g *Generator) Generate(ctx context.Context, p backend.Prompt) (string, error) {
	jsonData, err := json.Marshal(generateRequest{
		Model:   g.model,
		System:  p.System,
		Prompt:  p.UserMessage(),
		Stream:  false,
		Options: g.opts,
	})
	if err != nil {
		return "", fmt.Errorf("marshaling request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.baseURL+"/api/generate", bytes.NewReader(jsonData))
	if err != nil {
		return "", fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := g.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("calling ollama: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("ollama returned status %d", resp.StatusCode)
	}

	var genResp generateResponse
	if err := json.NewDecoder(resp.Body).Decode(&genResp); err != nil {
		return "", fmt.Errorf("decoding response: %w", err)
	}
	if genResp.Response == "" {
		return "", backend.ErrEmptyCompletion
	}
	return genResp.Response, nil
}
