package storage

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/qdrant/go-client/qdrant"

	"github.com/bull/docs-rag-server/internal/document"
)

// vectorName is the named vector holding chunk embeddings.
const vectorName = "content"

// QdrantConfig configures a QdrantStorage.
type QdrantConfig struct {
	Host       string
	Port       int
	APIKey     string
	Collection string
	Dimension  int
}

// QdrantStorage is a VectorIndex backed by a Qdrant collection over gRPC.
type QdrantStorage struct {
	client     *qdrant.Client
	collection string
	dimension  int
}

// NewQdrantStorage creates a Qdrant client with health validation.
// It retries the health check on startup and fails fast if Qdrant stays unreachable.
func NewQdrantStorage(ctx context.Context, cfg QdrantConfig) (*QdrantStorage, error) {
	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   cfg.Host,
		Port:   cfg.Port,
		APIKey: cfg.APIKey,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create qdrant client: %w", err)
	}

	s := &QdrantStorage{
		client:     client,
		collection: cfg.Collection,
		dimension:  cfg.Dimension,
	}

	if err := s.healthCheckWithRetry(ctx); err != nil {
		client.Close()
		return nil, fmt.Errorf("%w: qdrant at %s:%d: %v", ErrBackendUnreachable, cfg.Host, cfg.Port, err)
	}

	return s, nil
}

// healthCheckWithRetry performs health check with exponential backoff.
// Initial interval 500ms, max interval 10s, max elapsed 30s.
func (s *QdrantStorage) healthCheckWithRetry(ctx context.Context) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 500 * time.Millisecond
	b.MaxInterval = 10 * time.Second
	b.MaxElapsedTime = 30 * time.Second

	return backoff.Retry(func() error {
		return s.Health(ctx)
	}, backoff.WithContext(b, ctx))
}

// Health performs a single health check against Qdrant.
func (s *QdrantStorage) Health(ctx context.Context) error {
	result, err := s.client.HealthCheck(ctx)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	if result == nil || result.Title == "" {
		return fmt.Errorf("health check returned invalid response")
	}
	return nil
}

// EnsureCollection creates the collection with a cosine "content" vector
// and keyword indexes on source and chunk_id. Idempotent.
func (s *QdrantStorage) EnsureCollection(ctx context.Context) error {
	collections, err := s.client.ListCollections(ctx)
	if err != nil {
		return fmt.Errorf("%w: list collections: %w", ErrStorageFailure, err)
	}
	for _, name := range collections {
		if name == s.collection {
			return s.checkCollectionDimension(ctx)
		}
	}

	err = s.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: s.collection,
		VectorsConfig: qdrant.NewVectorsConfigMap(map[string]*qdrant.VectorParams{
			vectorName: {
				Size:     uint64(s.dimension),
				Distance: qdrant.Distance_Cosine,
			},
		}),
	})
	if err != nil {
		return fmt.Errorf("%w: create collection %s: %w", ErrStorageFailure, s.collection, err)
	}

	for _, field := range []string{"source", "chunk_id"} {
		_, err := s.client.CreateFieldIndex(ctx, &qdrant.CreateFieldIndexCollection{
			CollectionName: s.collection,
			FieldName:      field,
			FieldType:      qdrant.FieldType_FieldTypeKeyword.Enum(),
			Wait:           qdrant.PtrOf(true),
		})
		if err != nil {
			return fmt.Errorf("%w: create index for field %s: %w", ErrStorageFailure, field, err)
		}
	}

	return nil
}

// checkCollectionDimension rejects an existing collection whose "content"
// vector size differs from the configured dimension.
func (s *QdrantStorage) checkCollectionDimension(ctx context.Context) error {
	info, err := s.client.GetCollectionInfo(ctx, s.collection)
	if err != nil {
		return fmt.Errorf("%w: get collection %s: %w", ErrStorageFailure, s.collection, err)
	}

	vectors := info.GetConfig().GetParams().GetVectorsConfig()
	params, ok := vectors.GetParamsMap().GetMap()[vectorName]
	if !ok {
		return fmt.Errorf("%w: collection %s has no %q vector", ErrDimensionMismatch, s.collection, vectorName)
	}
	if size := params.GetSize(); size != uint64(s.dimension) {
		return fmt.Errorf("%w: collection %s has %d dimensions, expected %d",
			ErrDimensionMismatch, s.collection, size, s.dimension)
	}
	return nil
}

// DeleteCollection drops the collection and recreates it empty.
func (s *QdrantStorage) DeleteCollection(ctx context.Context) error {
	if err := s.client.DeleteCollection(ctx, s.collection); err != nil {
		return fmt.Errorf("%w: delete collection %s: %w", ErrStorageFailure, s.collection, err)
	}
	return s.EnsureCollection(ctx)
}

// Upsert writes entries as points keyed by a UUID derived from the chunk
// ID, and waits for the write to be applied.
func (s *QdrantStorage) Upsert(ctx context.Context, entries []EmbeddedChunk) error {
	if len(entries) == 0 {
		return nil
	}
	if err := checkDimensions(entries, s.dimension); err != nil {
		return err
	}

	points := make([]*qdrant.PointStruct, len(entries))
	for i, entry := range entries {
		// TryValueMap instead of NewValueMap, which panics on invalid UTF-8.
		payload, err := qdrant.TryValueMap(chunkPayload(entry.Chunk))
		if err != nil {
			return fmt.Errorf("%w: payload for %s: %w", ErrStorageFailure, entry.ID, err)
		}
		points[i] = &qdrant.PointStruct{
			Id: pointID(entry.ID),
			Vectors: qdrant.NewVectorsMap(map[string]*qdrant.Vector{
				vectorName: qdrant.NewVector(entry.Embedding...),
			}),
			Payload: payload,
		}
	}

	_, err := s.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: s.collection,
		Wait:           qdrant.PtrOf(true),
		Points:         points,
	})
	if err != nil {
		return fmt.Errorf("%w: upsert %d points: %w", ErrStorageFailure, len(points), err)
	}
	return nil
}

// Search runs a nearest-neighbor query on the "content" vector. Qdrant
// reports cosine similarity; it is converted to distance as 1 - score.
func (s *QdrantStorage) Search(ctx context.Context, query []float32, k int) ([]ScoredChunk, error) {
	if err := checkQueryDimension(query, s.dimension); err != nil {
		return nil, err
	}
	if k <= 0 {
		return nil, nil
	}

	using := vectorName
	results, err := s.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: s.collection,
		Query:          qdrant.NewQuery(query...),
		Using:          &using,
		Limit:          qdrant.PtrOf(uint64(k)),
		WithPayload:    qdrant.NewWithPayload(true),
		WithVectors:    qdrant.NewWithVectors(false),
	})
	if err != nil {
		return nil, fmt.Errorf("%w: search: %w", ErrStorageFailure, err)
	}

	hits := make([]ScoredChunk, 0, len(results))
	for _, result := range results {
		hits = append(hits, ScoredChunk{
			Chunk:    chunkFromPayload(result.Payload),
			Distance: 1 - float64(result.Score),
		})
	}

	// Qdrant orders by score already; this fixes the order of equal scores.
	sort.SliceStable(hits, func(i, j int) bool {
		if hits[i].Distance != hits[j].Distance {
			return hits[i].Distance < hits[j].Distance
		}
		return hits[i].ID < hits[j].ID
	})

	return hits, nil
}

// Delete removes points by chunk ID.
func (s *QdrantStorage) Delete(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}

	pointIDs := make([]*qdrant.PointId, len(ids))
	for i, id := range ids {
		pointIDs[i] = pointID(id)
	}

	_, err := s.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: s.collection,
		Wait:           qdrant.PtrOf(true),
		Points:         qdrant.NewPointsSelector(pointIDs...),
	})
	if err != nil {
		return fmt.Errorf("%w: delete %d points: %w", ErrStorageFailure, len(ids), err)
	}
	return nil
}

// Count returns the exact number of points in the collection.
func (s *QdrantStorage) Count(ctx context.Context) (uint64, error) {
	n, err := s.client.Count(ctx, &qdrant.CountPoints{
		CollectionName: s.collection,
		Exact:          qdrant.PtrOf(true),
	})
	if err != nil {
		return 0, fmt.Errorf("%w: count: %w", ErrStorageFailure, err)
	}
	return n, nil
}

// Info reports collection statistics.
func (s *QdrantStorage) Info(ctx context.Context) (*CollectionInfo, error) {
	n, err := s.Count(ctx)
	if err != nil {
		return nil, err
	}
	return &CollectionInfo{
		Backend:    string(BackendQdrant),
		Collection: s.collection,
		Dimension:  s.dimension,
		Count:      n,
	}, nil
}

// Dimension returns the configured vector size.
func (s *QdrantStorage) Dimension() int {
	return s.dimension
}

// Close closes the Qdrant client connection.
func (s *QdrantStorage) Close() error {
	if s.client != nil {
		return s.client.Close()
	}
	return nil
}

// pointID maps a chunk ID to a stable UUIDv5, since Qdrant only accepts
// UUIDs or unsigned integers as point IDs.
func pointID(chunkID string) *qdrant.PointId {
	return qdrant.NewIDUUID(uuid.NewSHA1(uuid.NameSpaceURL, []byte(chunkID)).String())
}

func chunkPayload(c document.Chunk) map[string]any {
	payload := map[string]any{
		"chunk_id":    c.ID,
		"text":        c.Text,
		"source":      c.Metadata.Source,
		"section":     c.Metadata.Section,
		"chunk_index": c.ChunkIndex,
	}
	if c.Metadata.Page != nil {
		payload["page"] = *c.Metadata.Page
	}
	return payload
}

func chunkFromPayload(payload map[string]*qdrant.Value) document.Chunk {
	c := document.Chunk{
		ID:         payload["chunk_id"].GetStringValue(),
		Text:       payload["text"].GetStringValue(),
		ChunkIndex: int(payload["chunk_index"].GetIntegerValue()),
		Metadata: document.Metadata{
			Source:  payload["source"].GetStringValue(),
			Section: payload["section"].GetStringValue(),
		},
	}
	if page, ok := payload["page"]; ok {
		c.Metadata.Page = document.IntPtr(int(page.GetIntegerValue()))
	}
	return c
}
