// Package main provides ragctl, the operator CLI for the document index.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/bull/docs-rag-server/internal/app"
	"github.com/bull/docs-rag-server/internal/config"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "ragctl",
	Short: "Document RAG index management tool",
	Long: `Ingest documents, query the index and manage the vector collection.

Configuration is read from --config (or ./config.yaml when present) and
overridden by environment variables such as OPENAI_API_KEY, INDEX_BACKEND,
QDRANT_HOST, DATABASE_URL and BOLT_PATH. A .env file is loaded if present.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to YAML config file")

	rootCmd.AddCommand(ingestCmd)
	rootCmd.AddCommand(syncGitHubCmd)
	rootCmd.AddCommand(searchCmd)
	rootCmd.AddCommand(askCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(resetCmd)
}

func main() {
	// Load .env file if present (local development), ignore if missing (production)
	_ = godotenv.Load()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer cancel()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

// buildApp loads configuration and wires every component. Logs go to
// stderr so command output on stdout stays clean.
func buildApp(ctx context.Context) (*app.App, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}

	logger := app.NewLogger(cfg, os.Stderr)
	a, err := app.Build(ctx, cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize: %w", err)
	}
	return a, nil
}
