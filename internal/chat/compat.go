package chat

import (
	"context"
	"errors"
	"fmt"

	goopenai "github.com/sashabaranov/go-openai"
)

// CompatGateway talks to OpenAI-compatible servers (local runtimes, proxies)
// through go-openai. These servers may answer with a list of content parts
// instead of a plain string; both shapes are accepted.
type CompatGateway struct {
	client      *goopenai.Client
	model       string
	temperature float32
}

// CompatOptions configures a CompatGateway.
type CompatOptions struct {
	APIKey      string
	BaseURL     string
	Model       string
	Temperature float64
}

// NewCompatGateway creates a gateway. BaseURL must include the API version
// prefix, e.g. "http://localhost:11434/v1".
func NewCompatGateway(opts CompatOptions) (*CompatGateway, error) {
	if opts.Model == "" {
		return nil, errors.New("compat chat gateway requires a model")
	}

	cfg := goopenai.DefaultConfig(opts.APIKey)
	if opts.BaseURL != "" {
		cfg.BaseURL = opts.BaseURL
	}

	return &CompatGateway{
		client:      goopenai.NewClientWithConfig(cfg),
		model:       opts.Model,
		temperature: float32(opts.Temperature),
	}, nil
}

// Complete sends prompt as a single user message.
func (g *CompatGateway) Complete(ctx context.Context, prompt string) (string, error) {
	resp, err := g.client.CreateChatCompletion(ctx, goopenai.ChatCompletionRequest{
		Model: g.model,
		Messages: []goopenai.ChatCompletionMessage{
			{Role: goopenai.ChatMessageRoleUser, Content: prompt},
		},
		Temperature: g.temperature,
	})
	if err != nil {
		return "", fmt.Errorf("%w: chat completion: %w", ErrChatFailure, err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("%w: chat completion returned no choices", ErrChatFailure)
	}

	return Normalize(responseOf(resp.Choices[0].Message)), nil
}

// responseOf maps a go-openai message to the Response union.
func responseOf(msg goopenai.ChatCompletionMessage) Response {
	if len(msg.MultiContent) == 0 {
		return TextResponse{Text: msg.Content}
	}

	parts := make([]Part, 0, len(msg.MultiContent))
	for _, p := range msg.MultiContent {
		parts = append(parts, Part{Type: string(p.Type), Text: p.Text})
	}
	return PartsResponse{Parts: parts}
}
