package mcp

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/bull/docs-rag-server/internal/ingest"
	"github.com/bull/docs-rag-server/internal/rag"
)

// Errors returned to clients. Details are logged, not sent.
var (
	errSearchFailed     = errors.New("search failed")
	errIndexUnavailable = errors.New("index status unavailable")
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	// Report JSON field names so messages match what the client sent.
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// validateInput checks struct tags and renders violations as one error.
func validateInput(input any) error {
	err := validate.Struct(input)
	if err == nil {
		return nil
	}
	var errs validator.ValidationErrors
	if !errors.As(err, &errs) {
		return fmt.Errorf("invalid input: %w", err)
	}
	msgs := make([]string, 0, len(errs))
	for _, e := range errs {
		// Drop the root type name: "SearchDocumentsInput.query" -> "query".
		field := e.Namespace()
		if _, rest, ok := strings.Cut(field, "."); ok {
			field = rest
		}
		msgs = append(msgs, fmt.Sprintf("%s failed on '%s' tag", field, e.Tag()))
	}
	return fmt.Errorf("invalid input: %s", strings.Join(msgs, "; "))
}

// makeSearchHandler creates the search_documents tool handler.
func makeSearchHandler(retriever Retriever, logger *slog.Logger) func(
	context.Context, *mcp.CallToolRequest, SearchDocumentsInput,
) (*mcp.CallToolResult, SearchDocumentsOutput, error) {
	return func(ctx context.Context, req *mcp.CallToolRequest, input SearchDocumentsInput) (
		*mcp.CallToolResult, SearchDocumentsOutput, error,
	) {
		if err := validateInput(input); err != nil {
			return nil, SearchDocumentsOutput{}, err
		}

		// K of zero takes the retriever's default.
		hits, err := retriever.Search(ctx, input.Query, input.K)
		if err != nil {
			logger.Error("search_documents failed", "error", err)
			return nil, SearchDocumentsOutput{}, errSearchFailed
		}

		results := make([]SearchResult, 0, len(hits))
		for _, hit := range hits {
			results = append(results, SearchResult{
				ID:         hit.ID,
				Source:     hit.Metadata.Source,
				Page:       hit.Metadata.Page,
				Section:    hit.Metadata.Section,
				ChunkIndex: hit.ChunkIndex,
				Text:       hit.Text,
				Distance:   hit.Distance,
			})
		}

		if len(results) == 0 {
			return nil, SearchDocumentsOutput{
				Results: []SearchResult{},
				Message: "No matching chunks found. Ingest documents first or try broader terms.",
			}, nil
		}
		return nil, SearchDocumentsOutput{Results: results}, nil
	}
}

// makeAskHandler creates the ask_question tool handler.
func makeAskHandler(retriever Retriever, logger *slog.Logger) func(
	context.Context, *mcp.CallToolRequest, AskQuestionInput,
) (*mcp.CallToolResult, AskQuestionOutput, error) {
	return func(ctx context.Context, req *mcp.CallToolRequest, input AskQuestionInput) (
		*mcp.CallToolResult, AskQuestionOutput, error,
	) {
		if err := validateInput(input); err != nil {
			return nil, AskQuestionOutput{}, err
		}

		history := make([]rag.Turn, len(input.History))
		for i, turn := range input.History {
			history[i] = rag.Turn{Role: rag.Role(turn.Role), Content: turn.Content}
		}

		answer, err := retriever.Answer(ctx, input.Question, history)
		if err != nil {
			logger.Error("ask_question failed", "error", err)
			return nil, AskQuestionOutput{}, rag.ErrAnswerFailure
		}

		sources := answer.Sources
		if sources == nil {
			sources = []string{} // Ensure non-nil for JSON marshaling
		}
		return nil, AskQuestionOutput{Answer: answer.Answer, Sources: sources}, nil
	}
}

// makeIngestHandler creates the ingest_files tool handler. Files that cannot
// be loaded get a failed outcome; the rest are ingested in request order.
func makeIngestHandler(ingester Ingester, allowLocalPaths bool, logger *slog.Logger) func(
	context.Context, *mcp.CallToolRequest, IngestFilesInput,
) (*mcp.CallToolResult, IngestFilesOutput, error) {
	return func(ctx context.Context, req *mcp.CallToolRequest, input IngestFilesInput) (
		*mcp.CallToolResult, IngestFilesOutput, error,
	) {
		if err := validateInput(input); err != nil {
			return nil, IngestFilesOutput{}, err
		}

		outcomes := make([]ingest.Outcome, len(input.Files))
		files := make([]ingest.File, 0, len(input.Files))
		slots := make([]int, 0, len(input.Files))

		for i, f := range input.Files {
			data, err := loadFile(f, allowLocalPaths)
			if err != nil {
				logger.Warn("Rejected file", "file", f.Name, "error", err)
				outcomes[i] = ingest.Outcome{
					Filename: f.Name,
					Status:   ingest.StatusFailed,
					Reason:   err.Error(),
				}
				continue
			}
			files = append(files, ingest.File{Name: f.Name, Data: data})
			slots = append(slots, i)
		}

		if len(files) > 0 {
			for j, out := range ingester.IngestMany(ctx, files) {
				outcomes[slots[j]] = out
			}
		}

		return nil, IngestFilesOutput{
			Outcomes: outcomes,
			Summary:  ingest.Summarize(outcomes),
		}, nil
	}
}

func loadFile(f FileInput, allowLocalPaths bool) ([]byte, error) {
	if f.Path != "" {
		if !allowLocalPaths {
			return nil, errors.New("local paths are not accepted by this server; send content_base64")
		}
		data, err := os.ReadFile(f.Path)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", f.Path, err)
		}
		return data, nil
	}

	data, err := base64.StdEncoding.DecodeString(f.ContentBase64)
	if err != nil {
		return nil, fmt.Errorf("invalid base64 content: %w", err)
	}
	return data, nil
}

// makeStatusHandler creates the get_index_status tool handler. An
// unreachable backend is reported as Healthy=false, not as a tool error.
func makeStatusHandler(index IndexInspector, logger *slog.Logger) func(
	context.Context, *mcp.CallToolRequest, StatusInput,
) (*mcp.CallToolResult, StatusOutput, error) {
	return func(ctx context.Context, req *mcp.CallToolRequest, input StatusInput) (
		*mcp.CallToolResult, StatusOutput, error,
	) {
		if err := index.Health(ctx); err != nil {
			logger.Warn("Index health check failed", "error", err)
			return nil, StatusOutput{Healthy: false}, nil
		}

		info, err := index.Info(ctx)
		if err != nil {
			logger.Error("get_index_status failed", "error", err)
			return nil, StatusOutput{}, errIndexUnavailable
		}

		return nil, StatusOutput{
			Backend:    info.Backend,
			Collection: info.Collection,
			Dimension:  info.Dimension,
			Count:      info.Count,
			Healthy:    true,
		}, nil
	}
}
