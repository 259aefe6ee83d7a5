package embedding

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/openai/openai-go"
)

const (
	// DefaultModel is used when no model is configured.
	DefaultModel = "text-embedding-3-small"

	// DefaultDimension is the vector size of text-embedding-3-small.
	DefaultDimension = 1536

	// DefaultBatchSize bounds texts per provider request.
	DefaultBatchSize = 500
)

// Gateway is the embedding capability consumed by ingestion and retrieval.
type Gateway interface {
	EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error)
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
}

// Embedder generates embeddings through an OpenAI-compatible embeddings
// endpoint. It retries with exponential backoff on HTTP 429 only; any other
// error is returned wrapped in ErrEmbeddingFailure.
type Embedder struct {
	client     *openai.Client
	model      string
	dimensions int
	batchSize  int

	// maxElapsed bounds rate-limit retries per request.
	maxElapsed time.Duration
}

// NewEmbedder creates an Embedder. An empty model selects DefaultModel. When
// dimensions is positive it is sent to the provider, which shortens
// text-embedding-3 vectors; zero leaves the model's native size.
func NewEmbedder(client *openai.Client, model string, dimensions int) *Embedder {
	if model == "" {
		model = DefaultModel
	}
	return &Embedder{
		client:     client,
		model:      model,
		dimensions: dimensions,
		batchSize:  DefaultBatchSize,
		maxElapsed: 30 * time.Second,
	}
}

// EmbedDocuments returns one embedding per text, in input order.
func (e *Embedder) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	all := make([][]float32, 0, len(texts))

	for i := 0; i < len(texts); i += e.batchSize {
		end := min(i+e.batchSize, len(texts))

		embeddings, err := e.embedBatchWithRetry(ctx, texts[i:end])
		if err != nil {
			return nil, fmt.Errorf("%w: texts %d-%d: %w", ErrEmbeddingFailure, i, end, err)
		}
		all = append(all, embeddings...)
	}

	return all, nil
}

// EmbedQuery embeds a single query string.
func (e *Embedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	embeddings, err := e.embedBatchWithRetry(ctx, []string{text})
	if err != nil {
		return nil, fmt.Errorf("%w: query: %w", ErrEmbeddingFailure, err)
	}
	return embeddings[0], nil
}

func (e *Embedder) embedBatchWithRetry(ctx context.Context, texts []string) ([][]float32, error) {
	var embeddings [][]float32

	params := openai.EmbeddingNewParams{
		Input: openai.EmbeddingNewParamsInputUnion{
			OfArrayOfStrings: texts,
		},
		Model: openai.EmbeddingModel(e.model),
	}
	if e.dimensions > 0 {
		params.Dimensions = openai.Int(int64(e.dimensions))
	}

	operation := func() error {
		resp, err := e.client.Embeddings.New(ctx, params)
		if err != nil {
			if isRateLimitError(err) {
				return err
			}
			return backoff.Permanent(err)
		}

		if len(resp.Data) != len(texts) {
			return backoff.Permanent(fmt.Errorf("provider returned %d embeddings for %d texts", len(resp.Data), len(texts)))
		}

		// Data carries its input position; do not rely on response order.
		embeddings = make([][]float32, len(texts))
		for _, data := range resp.Data {
			if data.Index < 0 || int(data.Index) >= len(texts) {
				return backoff.Permanent(fmt.Errorf("provider returned out-of-range index %d", data.Index))
			}
			embeddings[data.Index] = toFloat32(data.Embedding)
		}
		for i, emb := range embeddings {
			if emb == nil {
				return backoff.Permanent(fmt.Errorf("provider returned no embedding for text %d", i))
			}
		}
		return nil
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 500 * time.Millisecond
	b.MaxInterval = 10 * time.Second
	b.MaxElapsedTime = e.maxElapsed

	if err := backoff.Retry(operation, backoff.WithContext(b, ctx)); err != nil {
		return nil, err
	}
	return embeddings, nil
}

// isRateLimitError checks if the error is a rate limit error (HTTP 429).
func isRateLimitError(err error) bool {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode == http.StatusTooManyRequests
	}
	return false
}

// toFloat32 converts []float64 to []float32.
func toFloat32(f64 []float64) []float32 {
	f32 := make([]float32, len(f64))
	for i, v := range f64 {
		f32[i] = float32(v)
	}
	return f32
}
