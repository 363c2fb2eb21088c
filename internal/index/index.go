// Package index retrieves the corpus fragments closest to a question.
package index

import (
	"context"
	"errors"
	"fmt"

	"github.com/philippgille/chromem-go"

	"github.com/seantiz/ragserve/internal/model"
)

// ErrEmptyIndex is returned when the index holds no documents.
var ErrEmptyIndex = errors.New("index is empty")

// Retriever returns up to k evidence items ordered by ascending distance.
// Implementations are shared across engine slots and must be safe for
// concurrent use.
type Retriever interface {
	Retrieve(ctx context.Context, question string, k int) ([]model.Evidence, error)
	Close() error
}

// Embedding providers.
const (
	EmbedOpenAI = "openai"
	EmbedOllama = "ollama"
)

// NewEmbeddingFunc builds the question embedder. It must match the model the
// index was built with. A non-empty baseURL points at an OpenAI-compatible
// embeddings API; for Ollama that is its /v1 root, e.g.
// http://localhost:11434/v1. Without one, Ollama is reached on localhost.
func NewEmbeddingFunc(provider, embedModel, baseURL, apiKey string) (chromem.EmbeddingFunc, error) {
	switch provider {
	case EmbedOpenAI:
		if apiKey == "" {
			return nil, errors.New("openai embeddings need an api key")
		}
		m := chromem.EmbeddingModelOpenAI(embedModel)
		if m == "" {
			m = chromem.EmbeddingModelOpenAI2Ada
		}
		if baseURL != "" {
			normalized := true
			return chromem.NewEmbeddingFuncOpenAICompat(baseURL, apiKey, string(m), &normalized), nil
		}
		return chromem.NewEmbeddingFuncOpenAI(apiKey, m), nil
	case EmbedOllama:
		if embedModel == "" {
			return nil, errors.New("ollama embeddings need a model")
		}
		if baseURL != "" {
			return chromem.NewEmbeddingFuncOpenAICompat(baseURL, apiKey, embedModel, nil), nil
		}
		return chromem.NewEmbeddingFuncOllama(embedModel), nil
	default:
		return nil, fmt.Errorf("unknown embedding provider %q", provider)
	}
}
