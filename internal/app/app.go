// Package app constructs the long-lived components from configuration.
// Every entry point builds one App and passes its parts down explicitly.
package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/bull/docs-rag-server/internal/chat"
	"github.com/bull/docs-rag-server/internal/chunker"
	"github.com/bull/docs-rag-server/internal/config"
	"github.com/bull/docs-rag-server/internal/embedding"
	"github.com/bull/docs-rag-server/internal/extract"
	"github.com/bull/docs-rag-server/internal/ingest"
	"github.com/bull/docs-rag-server/internal/rag"
	"github.com/bull/docs-rag-server/internal/storage"
)

// App holds the wired components.
type App struct {
	Config *config.Config
	Logger *slog.Logger

	Index    storage.VectorIndex
	Embedder embedding.Gateway
	Chat     chat.Gateway
	Ingest   *ingest.Service
	RAG      *rag.Orchestrator
}

// NewLogger returns a text logger at the configured level. Output goes to w,
// which must not be stdout when MCP runs over stdio.
func NewLogger(cfg *config.Config, w io.Writer) *slog.Logger {
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: cfg.Level()}))
}

// Build connects to the index and the providers and wires the pipeline.
func Build(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*App, error) {
	if logger == nil {
		logger = slog.Default()
	}

	client, err := embedding.NewClient(embedding.ClientOptions{
		APIKey:  cfg.OpenAI.APIKey,
		BaseURL: cfg.OpenAI.BaseURL,
		Timeout: cfg.OpenAI.Timeout,
	})
	if err != nil {
		return nil, fmt.Errorf("create embedding client: %w", err)
	}
	embedder := embedding.NewEmbedder(client, cfg.Embedding.Model, cfg.Embedding.Dimension)

	chatGateway, err := newChatGateway(cfg)
	if err != nil {
		return nil, fmt.Errorf("create chat gateway: %w", err)
	}

	index, err := OpenIndex(ctx, cfg)
	if err != nil {
		return nil, err
	}
	logger.Info("Opened vector index",
		"backend", cfg.Index.Backend,
		"collection", cfg.Index.Collection,
		"dimension", cfg.Embedding.Dimension,
	)

	coordinator := ingest.NewCoordinator(embedder, index, ingest.Options{
		BatchSize:    cfg.Ingestion.BatchSize,
		Throttle:     cfg.Ingestion.Throttle,
		RetryBackoff: cfg.Ingestion.RetryBackoff,
	}, logger)

	service := ingest.NewService(
		extract.NewExtractor(),
		chunker.NewChunker(cfg.Chunking.Size, cfg.Chunking.Overlap),
		coordinator,
		logger,
	)

	orchestrator := rag.New(embedder, index, chatGateway, rag.Options{
		AnswerK:          cfg.Retrieval.AnswerK,
		SearchK:          cfg.Retrieval.SearchK,
		HistoryTurns:     cfg.Retrieval.HistoryTurns,
		MaxContextTokens: cfg.Retrieval.MaxContextTokens,
		Counter:          newCounter(cfg, logger),
	}, logger)

	return &App{
		Config:   cfg,
		Logger:   logger,
		Index:    index,
		Embedder: embedder,
		Chat:     chatGateway,
		Ingest:   service,
		RAG:      orchestrator,
	}, nil
}

// OpenIndex connects to the configured vector index only. Commands that
// never embed or chat use it to avoid requiring provider credentials.
func OpenIndex(ctx context.Context, cfg *config.Config) (storage.VectorIndex, error) {
	index, err := storage.Open(ctx, storage.Options{
		Backend:      storage.Backend(cfg.Index.Backend),
		Collection:   cfg.Index.Collection,
		Dimension:    cfg.Embedding.Dimension,
		QdrantHost:   cfg.Index.QdrantHost,
		QdrantPort:   cfg.Index.QdrantPort,
		QdrantAPIKey: cfg.Index.QdrantAPIKey,
		DatabaseURL:  cfg.Index.DatabaseURL,
		BoltPath:     cfg.Index.BoltPath,
	})
	if err != nil {
		return nil, fmt.Errorf("open vector index: %w", err)
	}
	return index, nil
}

// Close releases the index connection.
func (a *App) Close() error {
	if a.Index == nil {
		return nil
	}
	return a.Index.Close()
}

func newChatGateway(cfg *config.Config) (chat.Gateway, error) {
	switch cfg.Chat.Provider {
	case "compat":
		baseURL := cfg.Chat.BaseURL
		if baseURL == "" {
			baseURL = cfg.OpenAI.BaseURL
		}
		return chat.NewCompatGateway(chat.CompatOptions{
			APIKey:      cfg.ChatAPIKey(),
			BaseURL:     baseURL,
			Model:       cfg.Chat.Model,
			Temperature: cfg.Chat.Temperature,
		})
	case "openai", "":
		baseURL := cfg.Chat.BaseURL
		if baseURL == "" {
			baseURL = cfg.OpenAI.BaseURL
		}
		client, err := embedding.NewClient(embedding.ClientOptions{
			APIKey:  cfg.ChatAPIKey(),
			BaseURL: baseURL,
			Timeout: cfg.OpenAI.Timeout,
		})
		if err != nil {
			return nil, err
		}
		return chat.NewOpenAIGateway(client, cfg.Chat.Model, cfg.Chat.Temperature), nil
	default:
		return nil, fmt.Errorf("unknown chat provider %q", cfg.Chat.Provider)
	}
}

// newCounter uses tiktoken when a context budget is set, since the budget
// should be measured in real tokens. Otherwise the estimate is enough for
// debug logging and avoids loading an encoding.
func newCounter(cfg *config.Config, logger *slog.Logger) rag.TokenCounter {
	if cfg.Retrieval.MaxContextTokens <= 0 {
		return rag.EstimateCounter{}
	}
	counter, err := rag.NewTiktokenCounter(cfg.Chat.Model)
	if err != nil {
		logger.Warn("Token encoding unavailable, estimating context size", "model", cfg.Chat.Model, "error", err)
		return rag.EstimateCounter{}
	}
	return counter
}
