package ingest

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/bull/docs-rag-server/internal/document"
	"github.com/bull/docs-rag-server/internal/extract"
)

// Status classifies a document's ingestion result.
type Status string

const (
	StatusSuccess     Status = "success"
	StatusEmpty       Status = "empty"       // Parsed, but no extractable text
	StatusUnsupported Status = "unsupported" // Unknown extension or unparseable file
	StatusFailed      Status = "failed"      // Embedding or storage failed
)

// Outcome reports the ingestion of one document.
type Outcome struct {
	Filename        string `json:"filename"`
	Status          Status `json:"status"`
	TotalChunks     int    `json:"total_chunks"`
	CommittedChunks int    `json:"committed_chunks"`
	Reason          string `json:"reason,omitempty"`
}

// OK reports whether the document was fully ingested.
func (o Outcome) OK() bool {
	return o.Status == StatusSuccess
}

// File is one uploaded document.
type File struct {
	Name string
	Data []byte
}

// Summary aggregates the outcomes of a multi-document request.
type Summary struct {
	Documents   int           `json:"documents"`
	Succeeded   int           `json:"succeeded"`
	Failed      int           `json:"failed"`
	TotalChunks int           `json:"total_chunks"`
	Duration    time.Duration `json:"duration"`
}

// Extractor turns file bytes into raw units.
type Extractor interface {
	Extract(data []byte, filename string) ([]document.RawUnit, error)
}

// Chunker splits raw units into indexed chunks.
type Chunker interface {
	Chunk(units []document.RawUnit) []document.Chunk
}

// Service runs extraction, chunking and batched commits for uploaded files.
type Service struct {
	extractor   Extractor
	chunker     Chunker
	coordinator *Coordinator
	logger      *slog.Logger
}

// NewService creates an ingestion service.
func NewService(extractor Extractor, chunker Chunker, coordinator *Coordinator, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		extractor:   extractor,
		chunker:     chunker,
		coordinator: coordinator,
		logger:      logger,
	}
}

// IngestOne ingests a single file. Failures are reported in the Outcome,
// never as a panic or a silent success.
func (s *Service) IngestOne(ctx context.Context, data []byte, filename string) Outcome {
	out := Outcome{Filename: filename}

	units, err := s.extractor.Extract(data, filename)
	if err != nil {
		out.Status = StatusUnsupported
		if !errors.Is(err, extract.ErrUnsupportedFormat) {
			out.Status = StatusFailed
		}
		out.Reason = err.Error()
		s.logger.Warn("Failed to extract document", "file", filename, "error", err)
		return out
	}

	chunks := s.chunker.Chunk(units)
	out.TotalChunks = len(chunks)
	if len(chunks) == 0 {
		out.Status = StatusEmpty
		out.Reason = extract.ErrEmptyExtraction.Error()
		s.logger.Warn("No extractable text", "file", filename, "units", len(units))
		return out
	}
	s.logger.Debug("Chunked document", "file", filename, "units", len(units), "chunks", len(chunks))

	committed, err := s.coordinator.Ingest(ctx, chunks)
	out.CommittedChunks = committed
	if err != nil {
		out.Status = StatusFailed
		out.Reason = err.Error()
		s.logger.Warn("Failed to ingest document",
			"file", filename,
			"committed", committed,
			"total", len(chunks),
			"error", err,
		)
		return out
	}

	out.Status = StatusSuccess
	s.logger.Info("Indexed document", "file", filename, "chunks", len(chunks))
	return out
}

// IngestMany ingests files one after another. Each file is independent: a
// failed file does not stop the ones after it.
func (s *Service) IngestMany(ctx context.Context, files []File) []Outcome {
	start := time.Now()
	outcomes := make([]Outcome, 0, len(files))

	for _, f := range files {
		outcomes = append(outcomes, s.IngestOne(ctx, f.Data, f.Name))
	}

	summary := Summarize(outcomes)
	summary.Duration = time.Since(start)
	s.logger.Info("Ingestion complete",
		"documents", summary.Documents,
		"successful", summary.Succeeded,
		"failed", summary.Failed,
		"chunks", summary.TotalChunks,
		"duration", summary.Duration,
	)

	return outcomes
}

// Summarize counts outcomes. TotalChunks counts committed chunks.
func Summarize(outcomes []Outcome) Summary {
	sum := Summary{Documents: len(outcomes)}
	for _, o := range outcomes {
		if o.OK() {
			sum.Succeeded++
		} else {
			sum.Failed++
		}
		sum.TotalChunks += o.CommittedChunks
	}
	return sum
}
