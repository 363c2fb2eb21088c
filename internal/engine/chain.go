package engine

import (
	"context"
	"fmt"
	"strings"

	"github.com/seantiz/ragserve/internal/backend"
	"github.com/seantiz/ragserve/internal/index"
	"github.com/seantiz/ragserve/internal/model"
)

// DefaultK is how many evidence items a chain retrieves per question.
const DefaultK = 25

// SystemPrompt asks the model to mark whether the answer leaned on the
// retrieved sources. The ranker relies on the leading marker.
const SystemPrompt = `You are an AI expert in Crypto, Web3 and DeFi.
Analyze the provided context carefully. Only reference sources if they contain relevant information.
If the sources aren't helpful for the specific question, use your own knowledge instead.
Mark the response with [FROM_SOURCES] at the start if you used the provided sources significantly,
otherwise start with [FROM_KNOWLEDGE] to indicate you're using your general knowledge.`

// Raw is an engine's unprocessed output: the generated text with its
// markers still in place and the evidence it was given.
type Raw struct {
	Text     string
	Evidence []model.Evidence
}

// Engine answers one question. Engines are shared between concurrent callers
// and must be safe for concurrent use. Implementations should return
// promptly once ctx is done.
type Engine interface {
	Answer(ctx context.Context, question string) (Raw, error)
}

// Chain is the retrieval-augmented Engine: retrieve, stuff the evidence into
// the prompt, generate.
type Chain struct {
	retriever index.Retriever
	generator backend.Generator
	k         int
	system    string
}

// NewChain creates a chain over an already constructed retriever and
// generator. A non-positive k falls back to DefaultK.
func NewChain(r index.Retriever, g backend.Generator, k int) *Chain {
	if k <= 0 {
		k = DefaultK
	}
	return &Chain{retriever: r, generator: g, k: k, system: SystemPrompt}
}

// Answer implements Engine.
func (c *Chain) Answer(ctx context.Context, question string) (Raw, error) {
	evidence, err := c.retriever.Retrieve(ctx, question, c.k)
	if err != nil {
		return Raw{}, fmt.Errorf("retrieve: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return Raw{}, err
	}

	text, err := c.generator.Generate(ctx, backend.Prompt{
		System:   c.system,
		Question: question,
		Context:  stuff(evidence),
	})
	if err != nil {
		return Raw{}, fmt.Errorf("generate: %w", err)
	}
	return Raw{Text: text, Evidence: evidence}, nil
}

// stuff joins every evidence item into one context block.
func stuff(evidence []model.Evidence) string {
	parts := make([]string, 0, len(evidence))
	for _, e := range evidence {
		parts = append(parts, e.Content)
	}
	return strings.Join(parts, "\n\n")
}
