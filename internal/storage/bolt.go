package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sort"
	"time"

	"go.etcd.io/bbolt"

	"github.com/bull/docs-rag-server/internal/document"
)

// BoltStorage is an embedded VectorIndex in a single bbolt file. Each chunk
// is a JSON record keyed by chunk ID in the collection's bucket; search is
// an exact scan. Suited to local use and tests, not large corpora.
type BoltStorage struct {
	db        *bbolt.DB
	bucket    []byte
	dimension int
}

type boltRecord struct {
	ID         string            `json:"id"`
	Text       string            `json:"text"`
	Metadata   document.Metadata `json:"metadata"`
	ChunkIndex int               `json:"chunk_index"`
	Embedding  []float32         `json:"embedding"`
}

// NewBoltStorage opens (or creates) the database file at path.
func NewBoltStorage(path, collection string, dimension int) (*BoltStorage, error) {
	if path == "" {
		return nil, fmt.Errorf("%w: BOLT_PATH not set", ErrBackendUnreachable)
	}

	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("%w: open %s: %v", ErrBackendUnreachable, path, err)
	}

	return &BoltStorage{
		db:        db,
		bucket:    []byte(collection),
		dimension: dimension,
	}, nil
}

// EnsureCollection creates the collection bucket. Idempotent.
func (s *BoltStorage) EnsureCollection(ctx context.Context) error {
	err := s.db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(s.bucket)
		return err
	})
	if err != nil {
		return fmt.Errorf("%w: create bucket %s: %w", ErrStorageFailure, s.bucket, err)
	}
	return nil
}

// DeleteCollection drops the bucket and recreates it empty in one transaction.
func (s *BoltStorage) DeleteCollection(ctx context.Context) error {
	err := s.db.Update(func(tx *bbolt.Tx) error {
		if err := tx.DeleteBucket(s.bucket); err != nil && !errors.Is(err, bbolt.ErrBucketNotFound) {
			return err
		}
		_, err := tx.CreateBucket(s.bucket)
		return err
	})
	if err != nil {
		return fmt.Errorf("%w: reset bucket %s: %w", ErrStorageFailure, s.bucket, err)
	}
	return nil
}

// Upsert writes all entries in one read-write transaction.
func (s *BoltStorage) Upsert(ctx context.Context, entries []EmbeddedChunk) error {
	if len(entries) == 0 {
		return nil
	}
	if err := checkDimensions(entries, s.dimension); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	err := s.db.Update(func(tx *bbolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists(s.bucket)
		if err != nil {
			return err
		}
		for _, entry := range entries {
			data, err := json.Marshal(boltRecord{
				ID:         entry.ID,
				Text:       entry.Text,
				Metadata:   entry.Metadata,
				ChunkIndex: entry.ChunkIndex,
				Embedding:  entry.Embedding,
			})
			if err != nil {
				return err
			}
			if err := b.Put([]byte(entry.ID), data); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: upsert %d records: %w", ErrStorageFailure, len(entries), err)
	}
	return nil
}

// Search scores every record by cosine distance and returns the k closest,
// ties broken by chunk ID.
func (s *BoltStorage) Search(ctx context.Context, query []float32, k int) ([]ScoredChunk, error) {
	if err := checkQueryDimension(query, s.dimension); err != nil {
		return nil, err
	}
	if k <= 0 {
		return nil, nil
	}

	var hits []ScoredChunk
	err := s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket(s.bucket)
		if b == nil {
			return nil
		}
		return b.ForEach(func(_, v []byte) error {
			if err := ctx.Err(); err != nil {
				return err
			}
			var rec boltRecord
			if err := json.Unmarshal(v, &rec); err != nil {
				return err
			}
			if len(rec.Embedding) != len(query) {
				return fmt.Errorf("%w: record %s has %d dimensions, expected %d",
					ErrDimensionMismatch, rec.ID, len(rec.Embedding), len(query))
			}
			hits = append(hits, ScoredChunk{
				Chunk: document.Chunk{
					ID:         rec.ID,
					Text:       rec.Text,
					Metadata:   rec.Metadata,
					ChunkIndex: rec.ChunkIndex,
				},
				Distance: cosineDistance(query, rec.Embedding),
			})
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("%w: search: %w", ErrStorageFailure, err)
	}

	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Distance != hits[j].Distance {
			return hits[i].Distance < hits[j].Distance
		}
		return hits[i].ID < hits[j].ID
	})
	if len(hits) > k {
		hits = hits[:k]
	}
	return hits, nil
}

// Delete removes records by chunk ID.
func (s *BoltStorage) Delete(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	err := s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(s.bucket)
		if b == nil {
			return nil
		}
		for _, id := range ids {
			if err := b.Delete([]byte(id)); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: delete %d records: %w", ErrStorageFailure, len(ids), err)
	}
	return nil
}

// Count returns the number of records in the bucket.
func (s *BoltStorage) Count(ctx context.Context) (uint64, error) {
	var n uint64
	err := s.db.View(func(tx *bbolt.Tx) error {
		if b := tx.Bucket(s.bucket); b != nil {
			n = uint64(b.Stats().KeyN)
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("%w: count: %w", ErrStorageFailure, err)
	}
	return n, nil
}

// Info reports bucket statistics.
func (s *BoltStorage) Info(ctx context.Context) (*CollectionInfo, error) {
	n, err := s.Count(ctx)
	if err != nil {
		return nil, err
	}
	return &CollectionInfo{
		Backend:    string(BackendBolt),
		Collection: string(s.bucket),
		Dimension:  s.dimension,
		Count:      n,
	}, nil
}

// Health verifies the database file is readable.
func (s *BoltStorage) Health(ctx context.Context) error {
	return s.db.View(func(tx *bbolt.Tx) error { return nil })
}

// Dimension returns the configured vector size.
func (s *BoltStorage) Dimension() int {
	return s.dimension
}

// Close closes the database file.
func (s *BoltStorage) Close() error {
	return s.db.Close()
}

// cosineDistance returns 1 - cos(a, b). A zero vector is at distance 1
// from everything.
func cosineDistance(a, b []float32) float64 {
	var dot, normA, normB float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		normA += x * x
		normB += y * y
	}
	if normA == 0 || normB == 0 {
		return 1
	}
	return 1 - dot/(math.Sqrt(normA)*math.Sqrt(normB))
}

var (
	_ VectorIndex = (*BoltStorage)(nil)
	_ VectorIndex = (*QdrantStorage)(nil)
)
