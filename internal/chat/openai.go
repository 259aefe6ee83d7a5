package chat

import (
	"context"
	"fmt"

	"github.com/openai/openai-go"
)

// OpenAIGateway completes prompts with the Chat Completions API through
// openai-go.
type OpenAIGateway struct {
	client      *openai.Client
	model       string
	temperature float64
}

// NewOpenAIGateway creates a gateway for model using client.
func NewOpenAIGateway(client *openai.Client, model string, temperature float64) *OpenAIGateway {
	if model == "" {
		model = string(openai.ChatModelGPT4oMini)
	}
	return &OpenAIGateway{
		client:      client,
		model:       model,
		temperature: temperature,
	}
}

// Complete sends prompt as a single user message.
func (g *OpenAIGateway) Complete(ctx context.Context, prompt string) (string, error) {
	resp, err := g.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.UserMessage(prompt),
		},
		Model:       openai.ChatModel(g.model),
		Temperature: openai.Float(g.temperature),
	})
	if err != nil {
		return "", fmt.Errorf("%w: chat completion: %w", ErrChatFailure, err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("%w: chat completion returned no choices", ErrChatFailure)
	}

	return Normalize(TextResponse{Text: resp.Choices[0].Message.Content}), nil
}
