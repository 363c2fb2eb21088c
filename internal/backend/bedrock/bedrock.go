// Package bedrock implements backend.Generator with Anthropic models hosted
// on Amazon Bedrock.
package bedrock

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"

	"github.com/seantiz/ragserve/internal/backend"
)

// Name is the registry name of this backend.
const Name = "bedrock"

const (
	defaultModel     = "anthropic.claude-3-haiku-20240307-v1:0"
	defaultMaxTokens = 1024
	anthropicVersion = "bedrock-2023-05-31"
)

// invoker is the subset of *bedrockruntime.Client the generator uses.
type invoker interface {
	InvokeModel(ctx context.Context, params *bedrockruntime.InvokeModelInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.InvokeModelOutput, error)
}

type message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type messagesRequest struct {
	AnthropicVersion string    `json:"anthropic_version"`
	MaxTokens        int       `json:"max_tokens"`
	System           string    `json:"system,omitempty"`
	Messages         []message `json:"messages"`
	Temperature      float64   `json:"temperature"`
}

type messagesResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
}

// Generator invokes a Bedrock model with the Anthropic messages body.
type Generator struct {
	client      invoker
	model       string
	maxTokens   int
	temperature float64
}

func newGenerator(client invoker, s backend.Settings) *Generator {
	g := &Generator{
		client:      client,
		model:       s.Model,
		maxTokens:   s.MaxTokens,
		temperature: s.Temperature,
	}
	if g.model == "" {
		g.model = defaultModel
	}
	if g.maxTokens <= 0 {
		g.maxTokens = defaultMaxTokens
	}
	return g
}

// Factory loads the default AWS credential chain and builds a generator.
func Factory(ctx context.Context, s backend.Settings) (backend.Generator, error) {
	var opts []func(*config.LoadOptions) error
	if s.Region != "" {
		opts = append(opts, config.WithRegion(s.Region))
	}
	cfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return newGenerator(bedrockruntime.NewFromConfig(cfg), s), nil
}

func (g *Generator) Info() backend.Info {
	return backend.Info{Backend: Name, Model: g.model}
}

// Generate invokes the model once and concatenates its text blocks.
func (g *Generator) Generate(ctx context.Context, p backend.Prompt) (string, error) {
	body, err := json.Marshal(messagesRequest{
		AnthropicVersion: anthropicVersion,
		MaxTokens:        g.maxTokens,
		System:           p.System,
		Messages:         []message{{Role: "user", Content: p.UserMessage()}},
		Temperature:      g.temperature,
	})
	if err != nil {
		return "", fmt.Errorf("marshaling request: %w", err)
	}

	out, err := g.client.InvokeModel(ctx, &bedrockruntime.InvokeModelInput{
		ModelId:     aws.String(g.model),
		ContentType: aws.String("application/json"),
		Accept:      aws.String("application/json"),
		Body:        body,
	})
	if err != nil {
		return "", fmt.Errorf("invoke model %s: %w", g.model, err)
	}

	var resp messagesResponse
	if err := json.Unmarshal(out.Body, &resp); err != nil {
		return "", fmt.Errorf("decoding response: %w", err)
	}

	var text string
	for _, c := range resp.Content {
		if c.Type == "text" {
			text += c.Text
		}
	}
	if text == "" {
		return "", backend.ErrEmptyCompletion
	}
	return text, nil
}
