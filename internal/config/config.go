// Package config loads settings from defaults, an optional YAML file and
// environment variables, in that order of precedence (last wins).
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/bull/docs-rag-server/internal/chat"
	"github.com/bull/docs-rag-server/internal/chunker"
	"github.com/bull/docs-rag-server/internal/embedding"
	"github.com/bull/docs-rag-server/internal/ingest"
	"github.com/bull/docs-rag-server/internal/rag"
	"github.com/bull/docs-rag-server/internal/storage"
)

// DefaultPath is read when no explicit config path is given and it exists.
const DefaultPath = "config.yaml"

// Config is the root configuration.
type Config struct {
	LogLevel  string          `yaml:"log_level" validate:"oneof=debug info warn error"`
	Server    ServerConfig    `yaml:"server"`
	OpenAI    OpenAIConfig    `yaml:"openai"`
	Embedding EmbeddingConfig `yaml:"embedding"`
	Chat      ChatConfig      `yaml:"chat"`
	Index     IndexConfig     `yaml:"index"`
	Chunking  ChunkingConfig  `yaml:"chunking"`
	Ingestion IngestionConfig `yaml:"ingestion"`
	Retrieval RetrievalConfig `yaml:"retrieval"`
	GitHub    GitHubConfig    `yaml:"github"`
}

// ServerConfig controls the MCP server transport.
type ServerConfig struct {
	Port string `yaml:"port" validate:"required,numeric"`
	Mode string `yaml:"mode" validate:"oneof=stdio http"`
}

// OpenAIConfig is the shared connection to an OpenAI-compatible API.
type OpenAIConfig struct {
	APIKey  string        `yaml:"api_key"`
	BaseURL string        `yaml:"base_url" validate:"omitempty,url"`
	Timeout time.Duration `yaml:"timeout" validate:"gte=0"`
}

// EmbeddingConfig selects the embedding model.
type EmbeddingConfig struct {
	Model     string `yaml:"model" validate:"required"`
	Dimension int    `yaml:"dimension" validate:"gt=0"`
}

// ChatConfig selects the chat gateway. The compat provider talks to any
// OpenAI-compatible server; empty APIKey and BaseURL fall back to OpenAI's.
type ChatConfig struct {
	Provider    string  `yaml:"provider" validate:"oneof=openai compat"`
	Model       string  `yaml:"model" validate:"required"`
	APIKey      string  `yaml:"api_key"`
	BaseURL     string  `yaml:"base_url" validate:"omitempty,url"`
	Temperature float64 `yaml:"temperature" validate:"gte=0,lte=2"`
}

// IndexConfig selects and configures the vector index backend.
type IndexConfig struct {
	Backend      string `yaml:"backend" validate:"oneof=qdrant pgvector bolt"`
	Collection   string `yaml:"collection" validate:"required"`
	QdrantHost   string `yaml:"qdrant_host" validate:"required_if=Backend qdrant"`
	QdrantPort   int    `yaml:"qdrant_port" validate:"required_if=Backend qdrant,gte=0,lte=65535"`
	QdrantAPIKey string `yaml:"qdrant_api_key"`
	DatabaseURL  string `yaml:"database_url" validate:"required_if=Backend pgvector"`
	BoltPath     string `yaml:"bolt_path" validate:"required_if=Backend bolt"`
}

// ChunkingConfig sizes chunks in characters.
type ChunkingConfig struct {
	Size    int `yaml:"size" validate:"gt=0"`
	Overlap int `yaml:"overlap" validate:"gte=0,ltfield=Size"`
}

// IngestionConfig paces embedding requests.
type IngestionConfig struct {
	BatchSize    int           `yaml:"batch_size" validate:"gt=0"`
	Throttle     time.Duration `yaml:"throttle" validate:"gte=0"`
	RetryBackoff time.Duration `yaml:"retry_backoff" validate:"gte=0"`
}

// RetrievalConfig sizes searches and prompts.
type RetrievalConfig struct {
	SearchK          int `yaml:"search_k" validate:"gt=0"`
	AnswerK          int `yaml:"answer_k" validate:"gt=0"`
	HistoryTurns     int `yaml:"history_turns" validate:"gt=0"`
	MaxContextTokens int `yaml:"max_context_tokens" validate:"gte=0"`
}

// GitHubConfig authenticates remote document sync. Empty Token means
// unauthenticated requests with lower rate limits.
type GitHubConfig struct {
	Token string `yaml:"token"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		LogLevel: "info",
		Server: ServerConfig{
			Port: "8080",
			Mode: "stdio",
		},
		OpenAI: OpenAIConfig{
			Timeout: 60 * time.Second,
		},
		Embedding: EmbeddingConfig{
			Model:     embedding.DefaultModel,
			Dimension: embedding.DefaultDimension,
		},
		Chat: ChatConfig{
			Provider:    "openai",
			Model:       "gpt-4o-mini",
			Temperature: chat.DefaultTemperature,
		},
		Index: IndexConfig{
			Backend:    string(storage.BackendQdrant),
			Collection: storage.DefaultCollection,
			QdrantHost: "localhost",
			QdrantPort: 6334,
			BoltPath:   "rag.db",
		},
		Chunking: ChunkingConfig{
			Size:    chunker.DefaultChunkSize,
			Overlap: chunker.DefaultChunkOverlap,
		},
		Ingestion: IngestionConfig{
			BatchSize:    ingest.DefaultBatchSize,
			Throttle:     ingest.DefaultThrottle,
			RetryBackoff: ingest.DefaultRetryBackoff,
		},
		Retrieval: RetrievalConfig{
			SearchK:      rag.DefaultSearchK,
			AnswerK:      rag.DefaultAnswerK,
			HistoryTurns: rag.DefaultHistoryTurns,
		},
	}
}

// Load builds the configuration. An empty path reads DefaultPath if it
// exists; an explicit path must exist.
func Load(path string) (*Config, error) {
	cfg := Default()

	explicit := path != ""
	if !explicit {
		path = DefaultPath
	}

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := decodeYAML(data, cfg); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	case errors.Is(err, os.ErrNotExist) && !explicit:
		// No file; defaults and environment only.
	default:
		return nil, fmt.Errorf("read config: %w", err)
	}

	if err := applyEnv(cfg); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// decodeYAML overlays data onto cfg, rejecting unknown keys.
func decodeYAML(data []byte, cfg *Config) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

// Validate checks every field constraint and reports all violations.
func (c *Config) Validate() error {
	validate := validator.New(validator.WithRequiredStructEnabled())
	if err := validate.Struct(c); err != nil {
		var errs validator.ValidationErrors
		if !errors.As(err, &errs) {
			return fmt.Errorf("invalid config: %w", err)
		}
		msgs := make([]string, 0, len(errs))
		for _, e := range errs {
			msgs = append(msgs, fmt.Sprintf("%s failed on '%s' tag", e.Namespace(), e.Tag()))
		}
		return fmt.Errorf("invalid config: %s", strings.Join(msgs, "; "))
	}
	return nil
}

// Level maps LogLevel to a slog level.
func (c *Config) Level() slog.Level {
	switch c.LogLevel {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// ChatAPIKey returns the chat key, falling back to the shared OpenAI key.
func (c *Config) ChatAPIKey() string {
	if c.Chat.APIKey != "" {
		return c.Chat.APIKey
	}
	return c.OpenAI.APIKey
}

// applyEnv overrides fields from environment variables that are set.
func applyEnv(cfg *Config) error {
	setString(&cfg.LogLevel, "LOG_LEVEL")
	setString(&cfg.Server.Port, "PORT")
	if v, ok := os.LookupEnv("SERVER_MODE"); ok && v != "" {
		// Boolean form kept for existing deployments: "true" selects HTTP.
		switch v {
		case "true", "http":
			cfg.Server.Mode = "http"
		case "false", "stdio":
			cfg.Server.Mode = "stdio"
		default:
			cfg.Server.Mode = v
		}
	}

	setString(&cfg.OpenAI.APIKey, "OPENAI_API_KEY")
	setString(&cfg.OpenAI.BaseURL, "OPENAI_BASE_URL")

	setString(&cfg.Embedding.Model, "EMBEDDING_MODEL")
	setString(&cfg.Chat.Provider, "CHAT_PROVIDER")
	setString(&cfg.Chat.Model, "CHAT_MODEL")
	setString(&cfg.Chat.APIKey, "CHAT_API_KEY")
	setString(&cfg.Chat.BaseURL, "CHAT_BASE_URL")

	setString(&cfg.Index.Backend, "INDEX_BACKEND")
	setString(&cfg.Index.Collection, "COLLECTION_NAME")
	setString(&cfg.Index.QdrantHost, "QDRANT_HOST")
	setString(&cfg.Index.QdrantAPIKey, "QDRANT_API_KEY")
	setString(&cfg.Index.DatabaseURL, "DATABASE_URL")
	setString(&cfg.Index.BoltPath, "BOLT_PATH")

	setString(&cfg.GitHub.Token, "GITHUB_TOKEN")

	ints := []struct {
		dst *int
		key string
	}{
		{&cfg.Embedding.Dimension, "EMBEDDING_DIMENSION"},
		{&cfg.Index.QdrantPort, "QDRANT_PORT"},
		{&cfg.Chunking.Size, "CHUNK_SIZE"},
		{&cfg.Chunking.Overlap, "CHUNK_OVERLAP"},
		{&cfg.Ingestion.BatchSize, "INGEST_BATCH_SIZE"},
		{&cfg.Retrieval.SearchK, "SEARCH_K"},
		{&cfg.Retrieval.AnswerK, "ANSWER_K"},
		{&cfg.Retrieval.HistoryTurns, "HISTORY_TURNS"},
		{&cfg.Retrieval.MaxContextTokens, "MAX_CONTEXT_TOKENS"},
	}
	for _, e := range ints {
		if err := setInt(e.dst, e.key); err != nil {
			return err
		}
	}

	durations := []struct {
		dst *time.Duration
		key string
	}{
		{&cfg.OpenAI.Timeout, "OPENAI_TIMEOUT"},
		{&cfg.Ingestion.Throttle, "INGEST_THROTTLE"},
		{&cfg.Ingestion.RetryBackoff, "INGEST_RETRY_BACKOFF"},
	}
	for _, e := range durations {
		if err := setDuration(e.dst, e.key); err != nil {
			return err
		}
	}

	if v, ok := os.LookupEnv("CHAT_TEMPERATURE"); ok && v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("CHAT_TEMPERATURE: %w", err)
		}
		cfg.Chat.Temperature = f
	}

	return nil
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	*dst = i
	return nil
}

// setDuration accepts Go durations ("2s", "1m30s") or bare seconds ("10").
func setDuration(dst *time.Duration, key string) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	if secs, err := strconv.ParseFloat(v, 64); err == nil {
		*dst = time.Duration(secs * float64(time.Second))
		return nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	*dst = d
	return nil
}
