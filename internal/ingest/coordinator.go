// Package ingest drives chunks through the embedding gateway into the
// vector index in throttled batches, and reports per-document outcomes.
package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/bull/docs-rag-server/internal/document"
	"github.com/bull/docs-rag-server/internal/embedding"
	"github.com/bull/docs-rag-server/internal/storage"
)

const (
	// DefaultBatchSize keeps each embedding request small for rate-limited providers.
	DefaultBatchSize = 5

	// DefaultThrottle is the pause between consecutive batches.
	DefaultThrottle = 2 * time.Second

	// DefaultRetryBackoff is the wait before the single retry of a failed batch.
	DefaultRetryBackoff = 10 * time.Second
)

// Options configures batching and pacing.
type Options struct {
	BatchSize    int
	Throttle     time.Duration
	RetryBackoff time.Duration
}

// DefaultOptions returns the default batching and pacing.
func DefaultOptions() Options {
	return Options{
		BatchSize:    DefaultBatchSize,
		Throttle:     DefaultThrottle,
		RetryBackoff: DefaultRetryBackoff,
	}
}

// BatchError identifies a batch that failed both its attempt and its retry.
type BatchError struct {
	Batch int      // Zero-based batch number within the document
	IDs   []string // Chunk IDs of the failed batch
	Err   error
}

func (e *BatchError) Error() string {
	return fmt.Sprintf("batch %d (%d chunks, %s..%s) failed after retry: %v",
		e.Batch, len(e.IDs), e.IDs[0], e.IDs[len(e.IDs)-1], e.Err)
}

func (e *BatchError) Unwrap() error {
	return e.Err
}

// Coordinator embeds and upserts chunks batch by batch. It holds no
// per-call state; concurrent calls share only the gateway and the index.
type Coordinator struct {
	embedder embedding.Gateway
	index    storage.VectorIndex
	opts     Options
	logger   *slog.Logger
}

// NewCoordinator creates a coordinator. Non-positive batch size falls back
// to DefaultBatchSize; negative durations are treated as zero.
func NewCoordinator(embedder embedding.Gateway, index storage.VectorIndex, opts Options, logger *slog.Logger) *Coordinator {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = DefaultBatchSize
	}
	opts.Throttle = max(opts.Throttle, 0)
	opts.RetryBackoff = max(opts.RetryBackoff, 0)

	return &Coordinator{
		embedder: embedder,
		index:    index,
		opts:     opts,
		logger:   logger,
	}
}

// Ingest commits chunks in order and returns how many were committed. The
// chunks' IDs and indices are written as given. On a batch that fails its
// retry, Ingest stops and returns a *BatchError; earlier batches stay
// committed.
func (c *Coordinator) Ingest(ctx context.Context, chunks []document.Chunk) (int, error) {
	committed := 0

	for batchNum, start := 0, 0; start < len(chunks); batchNum, start = batchNum+1, start+c.opts.BatchSize {
		if batchNum > 0 {
			if err := sleepContext(ctx, c.opts.Throttle); err != nil {
				return committed, err
			}
		}

		end := min(start+c.opts.BatchSize, len(chunks))
		batch := chunks[start:end]

		if err := c.commitWithRetry(ctx, batchNum, batch); err != nil {
			if ctx.Err() != nil {
				return committed, ctx.Err()
			}
			return committed, &BatchError{Batch: batchNum, IDs: chunkIDs(batch), Err: err}
		}

		committed += len(batch)
		c.logger.Debug("Committed batch",
			"batch", batchNum,
			"chunks", len(batch),
			"committed", committed,
			"total", len(chunks),
		)
	}

	return committed, nil
}

// commitWithRetry makes one attempt and, after RetryBackoff, exactly one retry.
func (c *Coordinator) commitWithRetry(ctx context.Context, batchNum int, batch []document.Chunk) error {
	operation := func() error {
		err := c.commit(ctx, batch)
		if err != nil && ctx.Err() != nil {
			return backoff.Permanent(err)
		}
		return err
	}

	notify := func(err error, wait time.Duration) {
		c.logger.Warn("Batch failed, retrying",
			"batch", batchNum,
			"first_id", batch[0].ID,
			"wait", wait,
			"error", err,
		)
	}

	b := backoff.WithMaxRetries(backoff.NewConstantBackOff(c.opts.RetryBackoff), 1)
	return backoff.RetryNotify(operation, backoff.WithContext(b, ctx), notify)
}

// commit embeds one batch and upserts it as a whole.
func (c *Coordinator) commit(ctx context.Context, batch []document.Chunk) error {
	texts := make([]string, len(batch))
	for i, chunk := range batch {
		texts[i] = chunk.Text
	}

	vectors, err := c.embedder.EmbedDocuments(ctx, texts)
	if err != nil {
		return err
	}
	if len(vectors) != len(batch) {
		return fmt.Errorf("%w: got %d embeddings for %d chunks", embedding.ErrEmbeddingFailure, len(vectors), len(batch))
	}

	entries := make([]storage.EmbeddedChunk, len(batch))
	for i, chunk := range batch {
		entries[i] = storage.EmbeddedChunk{Chunk: chunk, Embedding: vectors[i]}
	}

	return c.index.Upsert(ctx, entries)
}

func chunkIDs(chunks []document.Chunk) []string {
	ids := make([]string, len(chunks))
	for i, chunk := range chunks {
		ids[i] = chunk.ID
	}
	return ids
}

// sleepContext waits for d or until ctx is done.
func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
