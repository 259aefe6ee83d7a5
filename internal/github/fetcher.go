package github

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path"
	"sort"

	"github.com/google/go-github/v81/github"

	"github.com/bull/docs-rag-server/internal/extract"
	"github.com/bull/docs-rag-server/internal/ingest"
)

// Source locates a directory inside a repository.
type Source struct {
	Owner string
	Repo  string
	Path  string // Directory within the repository; empty is the root
	Ref   string // Branch, tag or commit; empty is the default branch
}

// Fetcher lists and downloads supported documents under a Source.
type Fetcher struct {
	client *Client
	src    Source
	logger *slog.Logger
}

// NewFetcher creates a document fetcher.
func NewFetcher(client *Client, src Source, logger *slog.Logger) *Fetcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Fetcher{client: client, src: src, logger: logger}
}

func (f *Fetcher) contentOptions() *github.RepositoryContentGetOptions {
	if f.src.Ref == "" {
		return nil
	}
	return &github.RepositoryContentGetOptions{Ref: f.src.Ref}
}

// ListFiles recursively lists files with a supported extension, as paths
// relative to the source directory, sorted.
func (f *Fetcher) ListFiles(ctx context.Context) ([]string, error) {
	files, err := f.listRecursive(ctx, f.src.Path, "")
	if err != nil {
		return nil, err
	}
	sort.Strings(files)
	return files, nil
}

func (f *Fetcher) listRecursive(ctx context.Context, fullPath, relativePath string) ([]string, error) {
	_, dirContents, _, err := f.client.Repositories.GetContents(ctx, f.src.Owner, f.src.Repo, fullPath, f.contentOptions())
	if err != nil {
		return nil, fmt.Errorf("failed to get contents of %q: %w", fullPath, err)
	}

	var files []string
	for _, item := range dirContents {
		name := item.GetName()
		if name == "" {
			continue
		}
		itemRelPath := path.Join(relativePath, name)

		switch item.GetType() {
		case "file":
			if extract.Supported(name) {
				files = append(files, itemRelPath)
			}
		case "dir":
			sub, err := f.listRecursive(ctx, path.Join(fullPath, name), itemRelPath)
			if err != nil {
				return nil, err
			}
			files = append(files, sub...)
		}
	}
	return files, nil
}

// Download returns the raw bytes of a file relative to the source directory.
// Large and binary files are streamed from their download URL.
func (f *Fetcher) Download(ctx context.Context, relativePath string) ([]byte, error) {
	fullPath := path.Join(f.src.Path, relativePath)

	rc, _, err := f.client.Repositories.DownloadContents(ctx, f.src.Owner, f.src.Repo, fullPath, f.contentOptions())
	if err != nil {
		return nil, fmt.Errorf("failed to download %q: %w", fullPath, err)
	}
	defer rc.Close()

	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, fmt.Errorf("failed to read %q: %w", fullPath, err)
	}
	return data, nil
}

// Files downloads every supported file. Each file is named by its path
// relative to the source directory, which becomes its chunk source. A file
// that fails to download is skipped and logged; the error is returned only
// when nothing could be downloaded.
func (f *Fetcher) Files(ctx context.Context) ([]ingest.File, error) {
	paths, err := f.ListFiles(ctx)
	if err != nil {
		return nil, err
	}

	files := make([]ingest.File, 0, len(paths))
	var errs []error
	for _, p := range paths {
		data, err := f.Download(ctx, p)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			f.logger.Warn("Skipping file", "path", p, "error", err)
			errs = append(errs, err)
			continue
		}
		files = append(files, ingest.File{Name: p, Data: data})
	}

	f.logger.Info("Fetched repository documents",
		"repo", f.src.Owner+"/"+f.src.Repo,
		"path", f.src.Path,
		"found", len(paths),
		"downloaded", len(files),
	)

	if len(files) == 0 && len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return files, nil
}

// LatestCommitSHA returns the SHA of the most recent commit touching the
// source directory.
func (f *Fetcher) LatestCommitSHA(ctx context.Context) (string, error) {
	commits, _, err := f.client.Repositories.ListCommits(ctx, f.src.Owner, f.src.Repo, &github.CommitsListOptions{
		SHA:         f.src.Ref,
		Path:        f.src.Path,
		ListOptions: github.ListOptions{PerPage: 1},
	})
	if err != nil {
		return "", fmt.Errorf("failed to get latest commit: %w", err)
	}
	if len(commits) == 0 {
		return "", fmt.Errorf("no commits found for path %q", f.src.Path)
	}
	return commits[0].GetSHA(), nil
}
