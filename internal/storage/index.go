package storage

import (
	"context"
	"fmt"
)

// Backend names a VectorIndex implementation.
type Backend string

const (
	BackendQdrant   Backend = "qdrant"
	BackendPgvector Backend = "pgvector"
	BackendBolt     Backend = "bolt"
)

// VectorIndex is the persistent chunk store. Upsert is keyed by chunk ID and
// idempotent. Every mutation is durable and visible to Search when the call
// returns. Implementations are safe for concurrent use.
type VectorIndex interface {
	// EnsureCollection creates the collection if it is missing.
	EnsureCollection(ctx context.Context) error

	// Upsert inserts entries or overwrites those sharing an ID. A batch is
	// applied as a whole or not at all.
	Upsert(ctx context.Context, entries []EmbeddedChunk) error

	// Search returns up to k entries ordered by ascending distance. An
	// empty index yields an empty result, not an error.
	Search(ctx context.Context, query []float32, k int) ([]ScoredChunk, error)

	// Delete removes entries by chunk ID. Missing IDs are ignored.
	Delete(ctx context.Context, ids []string) error

	// DeleteCollection drops every entry and leaves an empty collection.
	DeleteCollection(ctx context.Context) error

	Count(ctx context.Context) (uint64, error)
	Health(ctx context.Context) error
	Info(ctx context.Context) (*CollectionInfo, error)
	Dimension() int
	Close() error
}

// Options selects and configures a backend.
type Options struct {
	Backend    Backend
	Collection string
	Dimension  int

	QdrantHost   string
	QdrantPort   int
	QdrantAPIKey string

	DatabaseURL string

	BoltPath string
}

// Open connects to the configured backend and ensures its collection exists.
func Open(ctx context.Context, opts Options) (VectorIndex, error) {
	if opts.Collection == "" {
		opts.Collection = DefaultCollection
	}
	if opts.Dimension <= 0 {
		opts.Dimension = DefaultDimension
	}

	var (
		index VectorIndex
		err   error
	)
	switch opts.Backend {
	case BackendQdrant, "":
		index, err = NewQdrantStorage(ctx, QdrantConfig{
			Host:       opts.QdrantHost,
			Port:       opts.QdrantPort,
			APIKey:     opts.QdrantAPIKey,
			Collection: opts.Collection,
			Dimension:  opts.Dimension,
		})
	case BackendPgvector:
		index, err = NewPgvectorStorage(ctx, opts.DatabaseURL, opts.Collection, opts.Dimension)
	case BackendBolt:
		index, err = NewBoltStorage(opts.BoltPath, opts.Collection, opts.Dimension)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownBackend, opts.Backend)
	}
	if err != nil {
		return nil, err
	}

	if err := index.EnsureCollection(ctx); err != nil {
		index.Close()
		return nil, err
	}
	return index, nil
}
