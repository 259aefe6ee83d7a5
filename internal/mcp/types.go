// Package mcp exposes the RAG pipeline as Model Context Protocol tools.
package mcp

import "github.com/bull/docs-rag-server/internal/ingest"

// SearchDocumentsInput defines the input parameters for the search_documents tool.
type SearchDocumentsInput struct {
	// Query is the text to search for.
	Query string `json:"query" jsonschema:"The text to search the indexed documents for" validate:"required"`
	// K is the maximum number of chunks to return.
	K int `json:"k,omitempty" jsonschema:"Maximum number of chunks to return (1-50, default 5)" validate:"omitempty,min=1,max=50"`
}

// SearchDocumentsOutput contains the matching chunks, closest first.
type SearchDocumentsOutput struct {
	Results []SearchResult `json:"results"`
	// Message explains an empty result.
	Message string `json:"message,omitempty"`
}

// SearchResult is one retrieved chunk.
type SearchResult struct {
	ID         string  `json:"id"`
	Source     string  `json:"source"`
	Page       *int    `json:"page,omitempty"`
	Section    string  `json:"section,omitempty"`
	ChunkIndex int     `json:"chunk_index"`
	Text       string  `json:"text"`
	Distance   float64 `json:"distance"`
}

// AskQuestionInput defines the input parameters for the ask_question tool.
type AskQuestionInput struct {
	Question string `json:"question" jsonschema:"The question to answer from the indexed documents" validate:"required"`
	// History holds earlier turns of the conversation, oldest first.
	History []HistoryTurn `json:"history,omitempty" jsonschema:"Earlier conversation turns, oldest first" validate:"omitempty,max=100,dive"`
}

// HistoryTurn is one earlier message.
type HistoryTurn struct {
	Role    string `json:"role" jsonschema:"Either user or assistant" validate:"oneof=user assistant"`
	Content string `json:"content" validate:"required"`
}

// AskQuestionOutput is the grounded answer.
type AskQuestionOutput struct {
	Answer  string   `json:"answer"`
	Sources []string `json:"sources"`
}

// IngestFilesInput defines the input parameters for the ingest_files tool.
type IngestFilesInput struct {
	Files []FileInput `json:"files" jsonschema:"Documents to ingest (.pdf, .docx, .md, .txt)" validate:"required,min=1,max=20,dive"`
}

// FileInput carries one document either inline or as a local path.
type FileInput struct {
	Name string `json:"name" jsonschema:"File name including extension; used as the chunk source" validate:"required"`
	// ContentBase64 is the file body, base64 encoded.
	ContentBase64 string `json:"content_base64,omitempty" jsonschema:"Base64-encoded file body" validate:"required_without=Path,excluded_with=Path"`
	// Path is a file on the server's filesystem. Only accepted when the
	// server allows local paths.
	Path string `json:"path,omitempty" jsonschema:"Path of a file on the server (stdio mode only)" validate:"required_without=ContentBase64"`
}

// IngestFilesOutput reports every document's outcome.
type IngestFilesOutput struct {
	Outcomes []ingest.Outcome `json:"outcomes"`
	Summary  ingest.Summary   `json:"summary"`
}

// StatusInput takes no parameters.
type StatusInput struct{}

// StatusOutput describes the vector index.
type StatusOutput struct {
	Backend    string `json:"backend"`
	Collection string `json:"collection"`
	Dimension  int    `json:"dimension"`
	Count      uint64 `json:"count"`
	Healthy    bool   `json:"healthy"`
}
