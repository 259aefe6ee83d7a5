package rag

import (
	"fmt"
	"strings"

	"github.com/bull/docs-rag-server/internal/storage"
)

const promptTemplate = `You are a helpful AI assistant. Answer the question based ONLY on the following context.
If you cannot answer from the context, state that you don't have enough information.

Context:
%s

Conversation History:
%s

Current Question: %s
`

// buildPrompt fills the answer prompt.
func buildPrompt(contextBlock, history, query string) string {
	return fmt.Sprintf(promptTemplate, contextBlock, history, query)
}

// renderChunk formats one retrieved chunk for the context block.
func renderChunk(hit storage.ScoredChunk) string {
	return fmt.Sprintf("Source: %s (Page %s)\nContent: %s", hit.Metadata.Source, hit.Metadata.PageLabel(), hit.Text)
}

// renderContext joins chunks closest-first, separated by blank lines.
func renderContext(hits []storage.ScoredChunk) string {
	parts := make([]string, len(hits))
	for i, hit := range hits {
		parts[i] = renderChunk(hit)
	}
	return strings.Join(parts, "\n\n")
}

// renderHistory keeps the last limit turns, oldest first, one "Role: content"
// line each.
func renderHistory(history []Turn, limit int) string {
	if limit >= 0 && len(history) > limit {
		history = history[len(history)-limit:]
	}

	var b strings.Builder
	for _, turn := range history {
		b.WriteString(turn.Role.Label())
		b.WriteString(": ")
		b.WriteString(turn.Content)
		b.WriteByte('\n')
	}
	return b.String()
}
