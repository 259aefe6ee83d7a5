package ingest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bull/docs-rag-server/internal/chunker"
	"github.com/bull/docs-rag-server/internal/document"
	"github.com/bull/docs-rag-server/internal/embedding"
	"github.com/bull/docs-rag-server/internal/extract"
	"github.com/bull/docs-rag-server/internal/storage"
)

const testDim = 4

var errProvider = fmt.Errorf("%w: provider returned 503", embedding.ErrEmbeddingFailure)

// fakeEmbedder returns deterministic vectors and fails the calls selected by fail.
type fakeEmbedder struct {
	mu    sync.Mutex
	calls int
	sizes []int
	fail  func(call int, texts []string) bool
}

func (f *fakeEmbedder) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	f.mu.Lock()
	f.calls++
	call := f.calls
	f.sizes = append(f.sizes, len(texts))
	f.mu.Unlock()

	if f.fail != nil && f.fail(call, texts) {
		return nil, errProvider
	}

	vectors := make([][]float32, len(texts))
	for i, text := range texts {
		vectors[i] = []float32{1, float32(len(text) % 7), 0.5, float32(strings.Count(text, "w"))}
	}
	return vectors, nil
}

func (f *fakeEmbedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	vectors, err := f.EmbedDocuments(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

func (f *fakeEmbedder) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

// countingIndex records upsert calls on top of a real index.
type countingIndex struct {
	storage.VectorIndex
	mu      sync.Mutex
	upserts int
}

func (c *countingIndex) Upsert(ctx context.Context, entries []storage.EmbeddedChunk) error {
	c.mu.Lock()
	c.upserts++
	c.mu.Unlock()
	return c.VectorIndex.Upsert(ctx, entries)
}

func newBoltIndex(t *testing.T) *countingIndex {
	t.Helper()
	s, err := storage.NewBoltStorage(filepath.Join(t.TempDir(), "ingest.db"), storage.DefaultCollection, testDim)
	require.NoError(t, err)
	require.NoError(t, s.EnsureCollection(context.Background()))
	t.Cleanup(func() { s.Close() })
	return &countingIndex{VectorIndex: s}
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func fastOptions() Options {
	return Options{BatchSize: 5, Throttle: 0, RetryBackoff: time.Millisecond}
}

// storedIDs returns every chunk ID in the index, sorted.
func storedIDs(t *testing.T, index storage.VectorIndex) []string {
	t.Helper()
	hits, err := index.Search(context.Background(), []float32{1, 1, 1, 1}, 10000)
	require.NoError(t, err)

	ids := make([]string, len(hits))
	for i, hit := range hits {
		ids[i] = hit.ID
	}
	sort.Strings(ids)
	return ids
}

func makeChunks(source string, n int) []document.Chunk {
	chunks := make([]document.Chunk, n)
	for i := range chunks {
		chunks[i] = document.Chunk{
			ID:         document.ChunkID(source, i),
			Text:       fmt.Sprintf("chunk %d of %s", i, source),
			Metadata:   document.Metadata{Source: source},
			ChunkIndex: i,
		}
	}
	return chunks
}

func TestCoordinator_Batches(t *testing.T) {
	emb := &fakeEmbedder{}
	index := newBoltIndex(t)
	c := NewCoordinator(emb, index, fastOptions(), quietLogger())

	committed, err := c.Ingest(context.Background(), makeChunks("a.pdf", 12))
	require.NoError(t, err)

	assert.Equal(t, 12, committed)
	assert.Equal(t, []int{5, 5, 2}, emb.sizes)
	assert.Equal(t, 3, index.upserts)

	n, err := index.Count(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint64(12), n)
}

func TestCoordinator_RetrySucceeds(t *testing.T) {
	emb := &fakeEmbedder{fail: func(call int, _ []string) bool { return call == 1 }}
	index := newBoltIndex(t)
	c := NewCoordinator(emb, index, fastOptions(), quietLogger())

	committed, err := c.Ingest(context.Background(), makeChunks("a.pdf", 7))
	require.NoError(t, err)

	assert.Equal(t, 7, committed)
	// Two batches plus one retry.
	assert.Equal(t, 3, emb.callCount())
	assert.Len(t, storedIDs(t, index), 7)
}

func TestCoordinator_RetryExhausted(t *testing.T) {
	// The second batch fails on its attempt (call 2) and its retry (call 3).
	emb := &fakeEmbedder{fail: func(call int, _ []string) bool { return call == 2 || call == 3 }}
	index := newBoltIndex(t)
	c := NewCoordinator(emb, index, fastOptions(), quietLogger())

	chunks := makeChunks("a.pdf", 12)
	committed, err := c.Ingest(context.Background(), chunks)
	require.Error(t, err)
	assert.Equal(t, 5, committed)

	var batchErr *BatchError
	require.True(t, errors.As(err, &batchErr))
	assert.Equal(t, 1, batchErr.Batch)
	assert.Equal(t, []string{"a.pdf_5", "a.pdf_6", "a.pdf_7", "a.pdf_8", "a.pdf_9"}, batchErr.IDs)
	assert.ErrorIs(t, err, embedding.ErrEmbeddingFailure)

	// Exactly one retry, and the third batch is never attempted.
	assert.Equal(t, 3, emb.callCount())

	ids := storedIDs(t, index)
	assert.Equal(t, []string{"a.pdf_0", "a.pdf_1", "a.pdf_2", "a.pdf_3", "a.pdf_4"}, ids)
}

func TestCoordinator_ThrottleHonorsCancellation(t *testing.T) {
	emb := &fakeEmbedder{}
	index := newBoltIndex(t)
	opts := fastOptions()
	opts.Throttle = time.Hour
	c := NewCoordinator(emb, index, opts, quietLogger())

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()

	committed, err := c.Ingest(ctx, makeChunks("a.pdf", 8))
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, 5, committed)
	assert.Equal(t, 1, emb.callCount())
}

func TestCoordinator_ThrottleOnlyBetweenBatches(t *testing.T) {
	emb := &fakeEmbedder{}
	index := newBoltIndex(t)
	opts := fastOptions()
	opts.Throttle = 80 * time.Millisecond
	c := NewCoordinator(emb, index, opts, quietLogger())

	start := time.Now()
	committed, err := c.Ingest(context.Background(), makeChunks("a.pdf", 8))
	elapsed := time.Since(start)
	require.NoError(t, err)
	assert.Equal(t, 8, committed)

	// Two batches, one pause. A pause after the last batch would double it.
	assert.GreaterOrEqual(t, elapsed, 80*time.Millisecond)
	assert.Less(t, elapsed, 160*time.Millisecond)
}

func TestCoordinator_RetryWaitsBackoff(t *testing.T) {
	emb := &fakeEmbedder{fail: func(call int, _ []string) bool { return call == 1 }}
	index := newBoltIndex(t)
	opts := fastOptions()
	opts.RetryBackoff = 80 * time.Millisecond
	c := NewCoordinator(emb, index, opts, quietLogger())

	start := time.Now()
	committed, err := c.Ingest(context.Background(), makeChunks("a.pdf", 3))
	elapsed := time.Since(start)
	require.NoError(t, err)
	assert.Equal(t, 3, committed)
	assert.Equal(t, 2, emb.callCount())

	assert.GreaterOrEqual(t, elapsed, 80*time.Millisecond)
	assert.Less(t, elapsed, 160*time.Millisecond)
}

func TestNewCoordinator_Defaults(t *testing.T) {
	c := NewCoordinator(&fakeEmbedder{}, nil, Options{BatchSize: 0, Throttle: -time.Second}, nil)
	assert.Equal(t, DefaultBatchSize, c.opts.BatchSize)
	assert.Equal(t, time.Duration(0), c.opts.Throttle)
	assert.NotNil(t, c.logger)
}

func newTestService(emb embedding.Gateway, index storage.VectorIndex) *Service {
	coord := NewCoordinator(emb, index, fastOptions(), quietLogger())
	return NewService(extract.NewExtractor(), chunker.NewChunker(60, 10), coord, quietLogger())
}

// longText returns enough words to span several batches at size 60.
func longText(prefix string, n int) string {
	words := make([]string, n)
	for i := range words {
		words[i] = fmt.Sprintf("%s%03d", prefix, i)
	}
	return strings.Join(words, " ")
}

func TestService_IngestOne_Success(t *testing.T) {
	emb := &fakeEmbedder{}
	index := newBoltIndex(t)
	svc := newTestService(emb, index)

	out := svc.IngestOne(context.Background(), []byte(longText("w", 60)), "notes.txt")

	require.Equal(t, StatusSuccess, out.Status, out.Reason)
	assert.True(t, out.OK())
	assert.Greater(t, out.TotalChunks, 5)
	assert.Equal(t, out.TotalChunks, out.CommittedChunks)

	ids := storedIDs(t, index)
	require.Len(t, ids, out.TotalChunks)
	for i := 0; i < out.TotalChunks; i++ {
		assert.Contains(t, ids, document.ChunkID("notes.txt", i))
	}
}

func TestService_IdempotentReingest(t *testing.T) {
	emb := &fakeEmbedder{}
	index := newBoltIndex(t)
	svc := newTestService(emb, index)
	data := []byte(longText("w", 40))

	first := svc.IngestOne(context.Background(), data, "repeat.txt")
	require.True(t, first.OK(), first.Reason)
	idsFirst := storedIDs(t, index)

	second := svc.IngestOne(context.Background(), data, "repeat.txt")
	require.True(t, second.OK(), second.Reason)
	idsSecond := storedIDs(t, index)

	assert.Equal(t, first.TotalChunks, second.TotalChunks)
	assert.Equal(t, idsFirst, idsSecond)
}

func TestService_EmptyExtraction(t *testing.T) {
	emb := &fakeEmbedder{}
	index := newBoltIndex(t)
	svc := newTestService(emb, index)

	out := svc.IngestOne(context.Background(), []byte("  \n\n\t "), "blank.txt")

	assert.Equal(t, StatusEmpty, out.Status)
	assert.False(t, out.OK())
	assert.Zero(t, out.TotalChunks)
	assert.NotEmpty(t, out.Reason)
	assert.Zero(t, emb.callCount())
	assert.Zero(t, index.upserts)
}

func TestService_Latin1Text(t *testing.T) {
	emb := &fakeEmbedder{}
	index := newBoltIndex(t)
	svc := newTestService(emb, index)

	// Windows-1252 bytes, not valid UTF-8.
	out := svc.IngestOne(context.Background(), []byte("Caf\xe9 au lait and cr\xe8me br\xfbl\xe9e"), "menu.txt")
	require.Equal(t, StatusSuccess, out.Status, out.Reason)

	hits, err := index.Search(context.Background(), []float32{1, 1, 1, 1}, 10)
	require.NoError(t, err)
	require.NotEmpty(t, hits)

	var texts []string
	for _, hit := range hits {
		assert.True(t, utf8.ValidString(hit.Text), "invalid UTF-8 in %q", hit.Text)
		texts = append(texts, hit.Text)
	}
	joined := strings.Join(texts, " ")
	assert.Contains(t, joined, "Café")
	assert.Contains(t, joined, "brûlée")
}

func TestService_Unsupported(t *testing.T) {
	emb := &fakeEmbedder{}
	index := newBoltIndex(t)
	svc := newTestService(emb, index)

	out := svc.IngestOne(context.Background(), []byte{1, 2, 3}, "photo.png")

	assert.Equal(t, StatusUnsupported, out.Status)
	assert.Contains(t, out.Reason, "unsupported")
	assert.Zero(t, index.upserts)
}

func TestService_IngestMany_IndependentDocuments(t *testing.T) {
	// Every batch of the first document fails; the second is untouched.
	emb := &fakeEmbedder{fail: func(_ int, texts []string) bool {
		return strings.HasPrefix(texts[0], "bad")
	}}
	index := newBoltIndex(t)
	svc := newTestService(emb, index)

	outcomes := svc.IngestMany(context.Background(), []File{
		{Name: "broken.txt", Data: []byte(longText("bad", 30))},
		{Name: "empty.txt", Data: []byte("   ")},
		{Name: "good.txt", Data: []byte(longText("w", 20))},
	})

	require.Len(t, outcomes, 3)
	assert.Equal(t, StatusFailed, outcomes[0].Status)
	assert.Zero(t, outcomes[0].CommittedChunks)
	assert.Contains(t, outcomes[0].Reason, "batch 0")

	assert.Equal(t, StatusEmpty, outcomes[1].Status)

	assert.Equal(t, StatusSuccess, outcomes[2].Status, outcomes[2].Reason)

	for _, id := range storedIDs(t, index) {
		assert.True(t, strings.HasPrefix(id, "good.txt_"), "unexpected id %s", id)
	}

	sum := Summarize(outcomes)
	assert.Equal(t, 3, sum.Documents)
	assert.Equal(t, 1, sum.Succeeded)
	assert.Equal(t, 2, sum.Failed)
	assert.Equal(t, outcomes[2].CommittedChunks, sum.TotalChunks)
}
