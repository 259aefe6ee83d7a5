// Package document defines the text units that flow from extraction through
// chunking into the vector index.
package document

import (
	"fmt"
	"strconv"
)

// Metadata is the provenance attached to raw units and the chunks cut from them.
type Metadata struct {
	Source  string `json:"source"`            // Original filename
	Page    *int   `json:"page,omitempty"`    // 1-based page number, nil when the format has no pages
	Section string `json:"section,omitempty"` // Header path for sectioned formats: "# Guide > ## Setup"
}

// PageLabel renders the page number, or "N/A" when the unit has none.
func (m Metadata) PageLabel() string {
	if m.Page == nil {
		return "N/A"
	}
	return strconv.Itoa(*m.Page)
}

// RawUnit is a block of extracted text bounded by a natural document
// boundary (a PDF page, a DOCX body, a Markdown section).
type RawUnit struct {
	Text     string
	Metadata Metadata
}

// Chunk is a bounded piece of a document ready for embedding.
type Chunk struct {
	ID         string   `json:"id"`
	Text       string   `json:"text"`
	Metadata   Metadata `json:"metadata"`
	ChunkIndex int      `json:"chunk_index"` // Dense, 0-based, global across the whole document
}

// ChunkID derives the stable identifier of the chunk at index within source.
// Re-ingesting the same document yields the same ids, so upserts overwrite.
func ChunkID(source string, index int) string {
	return fmt.Sprintf("%s_%d", source, index)
}

// IntPtr returns a pointer to v.
func IntPtr(v int) *int {
	return &v
}
