package embedding

import (
	"errors"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// ErrEmbeddingFailure wraps every provider error surfaced by the gateway.
var ErrEmbeddingFailure = errors.New("embedding failure")

// ClientOptions configures the connection to an OpenAI-compatible API.
type ClientOptions struct {
	APIKey  string
	BaseURL string // Empty means the public OpenAI endpoint
	Timeout time.Duration
}

// NewClient creates an OpenAI client. Automatic SDK retries are disabled;
// rate-limit retries are handled by the Embedder and batch retries by the
// ingestion coordinator.
func NewClient(opts ClientOptions) (*openai.Client, error) {
	if opts.APIKey == "" {
		return nil, errors.New("OPENAI_API_KEY not set")
	}

	reqOpts := []option.RequestOption{
		option.WithAPIKey(opts.APIKey),
		option.WithMaxRetries(0),
	}
	if opts.BaseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(opts.BaseURL))
	}
	if opts.Timeout > 0 {
		reqOpts = append(reqOpts, option.WithRequestTimeout(opts.Timeout))
	}

	client := openai.NewClient(reqOpts...)
	return &client, nil
}
