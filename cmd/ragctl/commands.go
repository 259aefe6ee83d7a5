package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/bull/docs-rag-server/internal/app"
	"github.com/bull/docs-rag-server/internal/config"
	"github.com/bull/docs-rag-server/internal/extract"
	ghclient "github.com/bull/docs-rag-server/internal/github"
	"github.com/bull/docs-rag-server/internal/ingest"
)

var ingestCmd = &cobra.Command{
	Use:   "ingest <file|dir>...",
	Short: "Ingest local documents into the index",
	Long: `Extracts, chunks, embeds and indexes each file. Directories are walked
recursively and only .pdf, .docx, .md and .txt files are taken. Each file's
base name is its chunk source, so re-ingesting a file overwrites its chunks.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runIngest,
}

var syncGitHubCmd = &cobra.Command{
	Use:   "sync-github",
	Short: "Ingest every supported document under a GitHub repository path",
	Long: `Lists .pdf, .docx, .md and .txt files under --path (recursively), downloads
them and ingests them. Chunk sources are paths relative to --path.

Set GITHUB_TOKEN for higher rate limits.`,
	RunE: runSyncGitHub,
}

var searchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "Print the chunks closest to a query",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runSearch,
}

var askCmd = &cobra.Command{
	Use:   "ask <question>",
	Short: "Answer a question from the indexed documents",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runAsk,
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show index backend, collection and entry count",
	RunE:  runStatus,
}

var resetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Delete every indexed chunk",
	Long:  "Drops the collection and recreates it empty. Requires --yes.",
	RunE:  runReset,
}

func init() {
	syncGitHubCmd.Flags().String("owner", "", "repository owner (required)")
	syncGitHubCmd.Flags().String("repo", "", "repository name (required)")
	syncGitHubCmd.Flags().String("path", "", "directory within the repository")
	syncGitHubCmd.Flags().String("ref", "", "branch, tag or commit (default branch when empty)")
	_ = syncGitHubCmd.MarkFlagRequired("owner")
	_ = syncGitHubCmd.MarkFlagRequired("repo")

	searchCmd.Flags().IntP("top", "k", 0, "number of results (default from config)")

	resetCmd.Flags().Bool("yes", false, "confirm deleting every chunk")
}

func runIngest(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	paths, err := collectFiles(args)
	if err != nil {
		return err
	}
	if len(paths) == 0 {
		return errors.New("no supported files found")
	}

	files := make([]ingest.File, 0, len(paths))
	for _, p := range paths {
		data, err := os.ReadFile(p)
		if err != nil {
			return fmt.Errorf("read %s: %w", p, err)
		}
		files = append(files, ingest.File{Name: filepath.Base(p), Data: data})
	}

	a, err := buildApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	fmt.Printf("Ingesting %d file(s)...\n", len(files))
	return reportOutcomes(a.Ingest.IngestMany(ctx, files))
}

// collectFiles expands directories into the supported files they contain.
// Files named explicitly are kept even with an unsupported extension so the
// outcome reports why they were rejected.
func collectFiles(args []string) ([]string, error) {
	var paths []string
	for _, arg := range args {
		info, err := os.Stat(arg)
		if err != nil {
			return nil, err
		}
		if !info.IsDir() {
			paths = append(paths, arg)
			continue
		}
		err = filepath.WalkDir(arg, func(p string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if !d.IsDir() && extract.Supported(d.Name()) {
				paths = append(paths, p)
			}
			return nil
		})
		if err != nil {
			return nil, err
		}
	}
	return paths, nil
}

func runSyncGitHub(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	start := time.Now()

	owner, _ := cmd.Flags().GetString("owner")
	repo, _ := cmd.Flags().GetString("repo")
	dir, _ := cmd.Flags().GetString("path")
	ref, _ := cmd.Flags().GetString("ref")

	a, err := buildApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	ghClient, err := ghclient.NewClient(a.Config.GitHub.Token)
	if err != nil {
		return fmt.Errorf("failed to create GitHub client: %w", err)
	}
	fetcher := ghclient.NewFetcher(ghClient, ghclient.Source{Owner: owner, Repo: repo, Path: dir, Ref: ref}, a.Logger)

	fmt.Printf("Fetching documents from %s/%s/%s...\n", owner, repo, dir)
	files, err := fetcher.Files(ctx)
	if err != nil {
		return fmt.Errorf("fetch failed: %w", err)
	}
	if len(files) == 0 {
		fmt.Println("No supported documents found.")
		return nil
	}

	if sha, err := fetcher.LatestCommitSHA(ctx); err == nil {
		fmt.Printf("Commit: %s\n", sha)
	}

	fmt.Printf("Ingesting %d file(s)...\n", len(files))
	err = reportOutcomes(a.Ingest.IngestMany(ctx, files))
	fmt.Printf("Total time: %s\n", time.Since(start).Round(time.Second))
	return err
}

// reportOutcomes prints one line per document and fails if any document
// was not fully ingested.
func reportOutcomes(outcomes []ingest.Outcome) error {
	for _, o := range outcomes {
		if o.OK() {
			fmt.Printf("  ok      %s (%d chunks)\n", o.Filename, o.TotalChunks)
			continue
		}
		fmt.Printf("  %-7s %s (%d/%d chunks): %s\n", o.Status, o.Filename, o.CommittedChunks, o.TotalChunks, o.Reason)
	}

	sum := ingest.Summarize(outcomes)
	fmt.Printf("\nDocuments: %d/%d  Chunks: %d\n", sum.Succeeded, sum.Documents, sum.TotalChunks)
	if sum.Failed > 0 {
		return fmt.Errorf("%d of %d documents failed", sum.Failed, sum.Documents)
	}
	return nil
}

func runSearch(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	k, _ := cmd.Flags().GetInt("top")

	a, err := buildApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	hits, err := a.RAG.Search(ctx, strings.Join(args, " "), k)
	if err != nil {
		return err
	}
	if len(hits) == 0 {
		fmt.Println("No results.")
		return nil
	}

	for i, hit := range hits {
		fmt.Printf("%d. %s (page %s) distance=%.4f\n", i+1, hit.Metadata.Source, hit.Metadata.PageLabel(), hit.Distance)
		if hit.Metadata.Section != "" {
			fmt.Printf("   %s\n", hit.Metadata.Section)
		}
		fmt.Printf("   %s\n\n", preview(hit.Text, 200))
	}
	return nil
}

func preview(text string, n int) string {
	text = strings.Join(strings.Fields(text), " ")
	runes := []rune(text)
	if len(runes) <= n {
		return text
	}
	return string(runes[:n]) + "..."
}

func runAsk(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	a, err := buildApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	answer, err := a.RAG.Answer(ctx, strings.Join(args, " "), nil)
	if err != nil {
		return err
	}

	fmt.Println(answer.Answer)
	if len(answer.Sources) > 0 {
		fmt.Printf("\nSources: %s\n", strings.Join(answer.Sources, ", "))
	}
	return nil
}

func runStatus(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	index, err := app.OpenIndex(ctx, cfg)
	if err != nil {
		return err
	}
	defer index.Close()

	info, err := index.Info(ctx)
	if err != nil {
		return err
	}

	fmt.Printf("Backend:    %s\n", info.Backend)
	fmt.Printf("Collection: %s\n", info.Collection)
	fmt.Printf("Dimension:  %d\n", info.Dimension)
	fmt.Printf("Chunks:     %d\n", info.Count)
	return nil
}

func runReset(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	yes, _ := cmd.Flags().GetBool("yes")
	if !yes {
		return errors.New("refusing to delete every chunk without --yes")
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	index, err := app.OpenIndex(ctx, cfg)
	if err != nil {
		return err
	}
	defer index.Close()

	if err := index.DeleteCollection(ctx); err != nil {
		return fmt.Errorf("reset failed: %w", err)
	}
	fmt.Printf("Collection %s cleared\n", cfg.Index.Collection)
	return nil
}
