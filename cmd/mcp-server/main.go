// Package main provides the MCP server entry point for the document RAG pipeline.
package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/bull/docs-rag-server/internal/app"
	"github.com/bull/docs-rag-server/internal/config"
	mcpserver "github.com/bull/docs-rag-server/internal/mcp"
)

var version = "dev"

func main() {
	configPath := flag.String("config", "", "path to YAML config file")
	flag.Parse()

	// Load .env file if present (local development), ignore if missing (production)
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables")
	}

	// Create context that cancels on SIGTERM/SIGINT
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer cancel()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	// stdout carries the MCP protocol in stdio mode
	logger := app.NewLogger(cfg, os.Stderr)

	a, err := app.Build(ctx, cfg, logger)
	if err != nil {
		log.Fatalf("failed to initialize: %v", err)
	}
	defer a.Close()

	httpMode := cfg.Server.Mode == "http"

	server := mcpserver.NewServer(&mcpserver.Config{
		Retriever:       a.RAG,
		Ingester:        a.Ingest,
		Index:           a.Index,
		Logger:          logger,
		AllowLocalPaths: !httpMode,
		Version:         version,
	})

	addr := "0.0.0.0:" + cfg.Server.Port

	if httpMode {
		// HTTP mode: serve MCP over HTTP for remote clients
		srv := &http.Server{
			Addr:              addr,
			Handler:           mcpserver.NewMux(server, a.Index, nil),
			ReadHeaderTimeout: 10 * time.Second,
		}
		logger.Info("Starting HTTP server", "addr", addr, "mcp", "/mcp", "health", "/health")
		if err := serveUntilDone(ctx, srv); err != nil {
			logger.Error("HTTP server error", "error", err)
			os.Exit(1)
		}
		return
	}

	// Stdio mode: run MCP server over stdin/stdout for local clients.
	// The health endpoint runs in the background for local testing.
	healthSrv := &http.Server{
		Addr:              addr,
		Handler:           mcpserver.NewMux(nil, a.Index, nil),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		logger.Info("Starting health server", "addr", addr)
		if err := serveUntilDone(ctx, healthSrv); err != nil {
			logger.Warn("Health server error", "error", err)
		}
	}()

	logger.Info("Starting document RAG MCP server (stdio mode)")
	if err := server.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("server error", "error", err)
		os.Exit(1)
	}
}

// serveUntilDone runs srv until ctx is cancelled, then shuts it down.
func serveUntilDone(ctx context.Context, srv *http.Server) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}
