package mcp

import (
	"context"
	"log/slog"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/bull/docs-rag-server/internal/ingest"
	"github.com/bull/docs-rag-server/internal/rag"
	"github.com/bull/docs-rag-server/internal/storage"
)

// Retriever answers and searches. Satisfied by *rag.Orchestrator.
type Retriever interface {
	Search(ctx context.Context, query string, k int) ([]storage.ScoredChunk, error)
	Answer(ctx context.Context, query string, history []rag.Turn) (*rag.Answer, error)
}

// Ingester indexes uploaded files. Satisfied by *ingest.Service.
type Ingester interface {
	IngestMany(ctx context.Context, files []ingest.File) []ingest.Outcome
}

// IndexInspector reports on the vector index. Satisfied by every
// storage.VectorIndex.
type IndexInspector interface {
	HealthChecker
	Info(ctx context.Context) (*storage.CollectionInfo, error)
}

// Server wraps the MCP server with dependencies.
type Server struct {
	server *mcp.Server
}

// Config holds server dependencies.
type Config struct {
	Retriever Retriever
	Ingester  Ingester
	Index     IndexInspector
	Logger    *slog.Logger

	// AllowLocalPaths lets ingest_files read files from the server's
	// filesystem. Enable only for local stdio use.
	AllowLocalPaths bool

	// Version is reported to clients. Empty means "dev".
	Version string
}

// NewServer creates a configured MCP server with tools registered.
func NewServer(cfg *Config) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	version := cfg.Version
	if version == "" {
		version = "dev"
	}

	server := mcp.NewServer(&mcp.Implementation{
		Name:    "docs-rag-server",
		Version: version,
	}, nil)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "search_documents",
		Description: "Semantic search over the uploaded documents. Returns the closest chunks with their source, page and cosine distance (lower is closer).",
	}, makeSearchHandler(cfg.Retriever, logger))

	mcp.AddTool(server, &mcp.Tool{
		Name:        "ask_question",
		Description: "Answer a question using only the uploaded documents. Optionally pass earlier conversation turns. Returns the answer and the source files it drew on.",
	}, makeAskHandler(cfg.Retriever, logger))

	mcp.AddTool(server, &mcp.Tool{
		Name:        "ingest_files",
		Description: "Extract, chunk, embed and index documents (.pdf, .docx, .md, .txt). Re-ingesting a file with the same name overwrites its chunks. Returns a per-file outcome.",
	}, makeIngestHandler(cfg.Ingester, cfg.AllowLocalPaths, logger))

	mcp.AddTool(server, &mcp.Tool{
		Name:        "get_index_status",
		Description: "Report the vector index backend, collection, embedding dimension, number of indexed chunks and whether the backend is reachable.",
	}, makeStatusHandler(cfg.Index, logger))

	return &Server{server: server}
}

// Run starts the server with stdio transport (blocks until client disconnects).
func (s *Server) Run(ctx context.Context) error {
	return s.server.Run(ctx, &mcp.StdioTransport{})
}

// MCPServer returns the underlying MCP server instance.
// Used by transport handlers that need to wrap the server.
func (s *Server) MCPServer() *mcp.Server {
	return s.server
}
