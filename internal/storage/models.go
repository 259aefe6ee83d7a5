package storage

import (
	"fmt"

	"github.com/bull/docs-rag-server/internal/document"
)

// DefaultCollection names the collection, table or bucket holding all chunks.
const DefaultCollection = "rag_documents"

// DefaultDimension is the embedding size for text-embedding-3-small.
const DefaultDimension = 1536

// EmbeddedChunk is a chunk together with its embedding vector.
type EmbeddedChunk struct {
	document.Chunk
	Embedding []float32
}

// ScoredChunk is a search hit. Distance is cosine distance: 0 is identical,
// smaller is better.
type ScoredChunk struct {
	document.Chunk
	Distance float64
}

// CollectionInfo summarizes an index for status reporting.
type CollectionInfo struct {
	Backend    string
	Collection string
	Dimension  int
	Count      uint64
}

// checkDimensions rejects any entry whose embedding size differs from dim.
func checkDimensions(entries []EmbeddedChunk, dim int) error {
	for i, entry := range entries {
		if len(entry.Embedding) != dim {
			return fmt.Errorf("%w: entry %d (%s) has %d dimensions, expected %d",
				ErrDimensionMismatch, i, entry.ID, len(entry.Embedding), dim)
		}
	}
	return nil
}

func checkQueryDimension(query []float32, dim int) error {
	if len(query) != dim {
		return fmt.Errorf("%w: query has %d dimensions, expected %d",
			ErrDimensionMismatch, len(query), dim)
	}
	return nil
}
