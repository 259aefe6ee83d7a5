package app

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bull/docs-rag-server/internal/config"
	"github.com/bull/docs-rag-server/internal/ingest"
)

// fakeProvider serves the embeddings and chat completions endpoints.
type fakeProvider struct {
	mu      sync.Mutex
	prompts []string
}

func (p *fakeProvider) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	switch {
	case strings.HasSuffix(r.URL.Path, "/embeddings"):
		var req struct {
			Input []string `json:"input"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		data := make([]map[string]any, len(req.Input))
		for i, text := range req.Input {
			vec := []float64{0, 1, 0, 0}
			if strings.Contains(strings.ToLower(text), "pto") {
				vec = []float64{1, 0, 0, 0}
			}
			data[i] = map[string]any{"object": "embedding", "index": i, "embedding": vec}
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"object": "list",
			"data":   data,
			"model":  "test-embed",
			"usage":  map[string]int{"prompt_tokens": 1, "total_tokens": 1},
		})

	case strings.HasSuffix(r.URL.Path, "/chat/completions"):
		var req struct {
			Messages []struct {
				Content string `json:"content"`
			} `json:"messages"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		p.mu.Lock()
		p.prompts = append(p.prompts, req.Messages[0].Content)
		p.mu.Unlock()

		_ = json.NewEncoder(w).Encode(map[string]any{
			"id":      "chatcmpl-test",
			"object":  "chat.completion",
			"created": 0,
			"model":   "test-chat",
			"choices": []map[string]any{{
				"index":         0,
				"finish_reason": "stop",
				"message":       map[string]any{"role": "assistant", "content": "Twenty days."},
			}},
		})

	default:
		http.NotFound(w, r)
	}
}

func testConfig(t *testing.T, baseURL string) *config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.OpenAI.APIKey = "test-key"
	cfg.OpenAI.BaseURL = baseURL
	cfg.Embedding.Dimension = 4
	cfg.Index.Backend = "bolt"
	cfg.Index.BoltPath = filepath.Join(t.TempDir(), "app.db")
	cfg.Ingestion.Throttle = 0
	cfg.Ingestion.RetryBackoff = 0
	require.NoError(t, cfg.Validate())
	return cfg
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestBuild_IngestThenAnswer(t *testing.T) {
	provider := &fakeProvider{}
	srv := httptest.NewServer(provider)
	defer srv.Close()

	ctx := context.Background()
	a, err := Build(ctx, testConfig(t, srv.URL+"/v1/"), quietLogger())
	require.NoError(t, err)
	defer a.Close()

	outcomes := a.Ingest.IngestMany(ctx, []ingest.File{
		{Name: "policy.txt", Data: []byte("Employees receive 20 days of PTO per year.")},
		{Name: "parking.txt", Data: []byte("Parking is free in the north lot.")},
	})
	require.Len(t, outcomes, 2)
	for _, o := range outcomes {
		require.Equal(t, ingest.StatusSuccess, o.Status, o.Reason)
	}

	n, err := a.Index.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), n)

	hits, err := a.RAG.Search(ctx, "PTO balance", 1)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "policy.txt", hits[0].Metadata.Source)

	answer, err := a.RAG.Answer(ctx, "How much PTO do I get?", nil)
	require.NoError(t, err)
	assert.Equal(t, "Twenty days.", answer.Answer)
	assert.Equal(t, []string{"parking.txt", "policy.txt"}, answer.Sources)

	require.Len(t, provider.prompts, 1)
	assert.Contains(t, provider.prompts[0], "Source: policy.txt (Page N/A)")
	assert.Contains(t, provider.prompts[0], "How much PTO do I get?")
}

func TestBuild_CompatProvider(t *testing.T) {
	provider := &fakeProvider{}
	srv := httptest.NewServer(provider)
	defer srv.Close()

	cfg := testConfig(t, srv.URL+"/v1/")
	cfg.Chat.Provider = "compat"
	cfg.Chat.BaseURL = srv.URL + "/v1"

	ctx := context.Background()
	a, err := Build(ctx, cfg, quietLogger())
	require.NoError(t, err)
	defer a.Close()

	out := a.Ingest.IngestOne(ctx, []byte("PTO accrues monthly."), "accrual.md")
	require.True(t, out.OK(), out.Reason)

	answer, err := a.RAG.Answer(ctx, "When does PTO accrue?", nil)
	require.NoError(t, err)
	assert.Equal(t, "Twenty days.", answer.Answer)
	assert.Equal(t, []string{"accrual.md"}, answer.Sources)
}

func TestBuild_Errors(t *testing.T) {
	t.Run("missing api key", func(t *testing.T) {
		cfg := testConfig(t, "")
		cfg.OpenAI.APIKey = ""
		_, err := Build(context.Background(), cfg, quietLogger())
		assert.Error(t, err)
	})

	t.Run("unknown provider", func(t *testing.T) {
		cfg := testConfig(t, "")
		cfg.Chat.Provider = "carrier-pigeon"
		_, err := Build(context.Background(), cfg, quietLogger())
		assert.Error(t, err)
	})

	t.Run("unknown backend", func(t *testing.T) {
		cfg := testConfig(t, "")
		cfg.Index.Backend = "faiss"
		_, err := Build(context.Background(), cfg, quietLogger())
		assert.Error(t, err)
	})
}
