// Package chunker splits extracted document text into overlapping chunks.
package chunker

import (
	"strings"
	"unicode/utf8"

	"github.com/bull/docs-rag-server/internal/document"
)

const (
	// DefaultChunkSize is the target chunk length in characters.
	DefaultChunkSize = 800

	// DefaultChunkOverlap is the number of characters carried over between consecutive chunks.
	DefaultChunkOverlap = 100
)

// DefaultSeparators are tried in order: paragraphs, lines, sentences, words,
// and finally single characters.
var DefaultSeparators = []string{"\n\n", "\n", ".", " ", ""}

// Chunker splits raw units recursively, preferring the coarsest separator
// that yields pieces under the target size.
type Chunker struct {
	size       int
	overlap    int
	separators []string
}

// NewChunker creates a chunker with the given size and overlap, both in characters.
// A non-positive size selects DefaultChunkSize. An overlap outside [0, size)
// is clamped into range.
func NewChunker(size, overlap int) *Chunker {
	if size <= 0 {
		size = DefaultChunkSize
	}
	if overlap < 0 {
		overlap = 0
	}
	if overlap >= size {
		overlap = size - 1
	}
	return &Chunker{
		size:       size,
		overlap:    overlap,
		separators: DefaultSeparators,
	}
}

// Chunk splits every unit and numbers the resulting chunks densely from 0 in
// emission order. Numbering does not restart per unit, so a multi-page
// document gets one global sequence. Units with only whitespace are skipped.
func (c *Chunker) Chunk(units []document.RawUnit) []document.Chunk {
	var chunks []document.Chunk
	for _, unit := range units {
		if strings.TrimSpace(unit.Text) == "" {
			continue
		}
		for _, text := range c.SplitText(unit.Text) {
			index := len(chunks)
			chunks = append(chunks, document.Chunk{
				ID:         document.ChunkID(unit.Metadata.Source, index),
				Text:       text,
				Metadata:   unit.Metadata,
				ChunkIndex: index,
			})
		}
	}
	return chunks
}

// SplitText splits a single text into trimmed, non-empty pieces of at most
// the configured size.
func (c *Chunker) SplitText(text string) []string {
	return c.split(text, c.separators)
}

func (c *Chunker) split(text string, separators []string) []string {
	// Pick the first separator present in text; "" always matches.
	separator := separators[len(separators)-1]
	var finer []string
	for i, sep := range separators {
		if sep == "" {
			separator = sep
			break
		}
		if strings.Contains(text, sep) {
			separator = sep
			finer = separators[i+1:]
			break
		}
	}

	var chunks, pending []string
	for _, piece := range splitKeep(text, separator) {
		if utf8.RuneCountInString(piece) < c.size {
			pending = append(pending, piece)
			continue
		}
		if len(pending) > 0 {
			chunks = append(chunks, c.merge(pending)...)
			pending = nil
		}
		if len(finer) == 0 {
			if trimmed := strings.TrimSpace(piece); trimmed != "" {
				chunks = append(chunks, trimmed)
			}
			continue
		}
		chunks = append(chunks, c.split(piece, finer)...)
	}
	if len(pending) > 0 {
		chunks = append(chunks, c.merge(pending)...)
	}
	return chunks
}

// merge packs consecutive pieces into chunks no longer than size. When a
// chunk is emitted, its tail pieces totalling at most overlap characters
// seed the next one.
func (c *Chunker) merge(pieces []string) []string {
	var chunks, window []string
	total := 0

	for _, piece := range pieces {
		n := utf8.RuneCountInString(piece)
		if total+n > c.size && len(window) > 0 {
			if text := strings.TrimSpace(strings.Join(window, "")); text != "" {
				chunks = append(chunks, text)
			}
			for len(window) > 0 && (total > c.overlap || total+n > c.size) {
				total -= utf8.RuneCountInString(window[0])
				window = window[1:]
			}
		}
		window = append(window, piece)
		total += n
	}

	if text := strings.TrimSpace(strings.Join(window, "")); text != "" {
		chunks = append(chunks, text)
	}
	return chunks
}

// splitKeep splits text after each occurrence of sep so the separator stays
// attached to the preceding piece. An empty sep splits into characters.
func splitKeep(text, sep string) []string {
	if sep == "" {
		pieces := make([]string, 0, utf8.RuneCountInString(text))
		for _, r := range text {
			pieces = append(pieces, string(r))
		}
		return pieces
	}
	var pieces []string
	for _, piece := range strings.SplitAfter(text, sep) {
		if piece != "" {
			pieces = append(pieces, piece)
		}
	}
	return pieces
}
