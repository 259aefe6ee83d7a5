// Package rag answers questions from retrieved chunks and exposes raw
// similarity search.
package rag

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"

	"github.com/bull/docs-rag-server/internal/chat"
	"github.com/bull/docs-rag-server/internal/embedding"
	"github.com/bull/docs-rag-server/internal/storage"
)

const (
	// DefaultAnswerK is the number of chunks retrieved to answer a question.
	DefaultAnswerK = 15

	// DefaultSearchK is the number of results for a bare search.
	DefaultSearchK = 5

	// DefaultHistoryTurns is the number of prior turns kept in the prompt.
	DefaultHistoryTurns = 5
)

// NoInformationAnswer is returned without calling the chat model when
// retrieval finds nothing.
const NoInformationAnswer = "I couldn't find any information in the uploaded documents to answer your question."

// ErrAnswerFailure is the single error kind returned by Answer.
var ErrAnswerFailure = errors.New("failed to answer question")

// Role is the speaker of a conversation turn.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Label is the display name used in the rendered history. Anything other
// than "user" renders as the assistant.
func (r Role) Label() string {
	if r == RoleUser {
		return "User"
	}
	return "Assistant"
}

// Turn is one prior message of the conversation.
type Turn struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// Answer is a grounded reply and the distinct sources it drew on.
type Answer struct {
	Answer  string   `json:"answer"`
	Sources []string `json:"sources"`
}

// Options tunes retrieval and prompt assembly.
type Options struct {
	AnswerK      int
	SearchK      int
	HistoryTurns int

	// MaxContextTokens caps the rendered context block; 0 means unbounded.
	// The closest chunk is always kept.
	MaxContextTokens int

	// Counter measures prompt size. Nil uses EstimateCounter.
	Counter TokenCounter
}

// DefaultOptions returns the default retrieval settings.
func DefaultOptions() Options {
	return Options{
		AnswerK:      DefaultAnswerK,
		SearchK:      DefaultSearchK,
		HistoryTurns: DefaultHistoryTurns,
	}
}

// Orchestrator runs retrieval-augmented answering. It keeps no state
// between calls.
type Orchestrator struct {
	embedder embedding.Gateway
	index    storage.VectorIndex
	chat     chat.Gateway
	opts     Options
	logger   *slog.Logger
}

// New creates an Orchestrator. Zero-valued options take their defaults.
func New(embedder embedding.Gateway, index storage.VectorIndex, chatGateway chat.Gateway, opts Options, logger *slog.Logger) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.AnswerK <= 0 {
		opts.AnswerK = DefaultAnswerK
	}
	if opts.SearchK <= 0 {
		opts.SearchK = DefaultSearchK
	}
	if opts.HistoryTurns <= 0 {
		opts.HistoryTurns = DefaultHistoryTurns
	}
	if opts.Counter == nil {
		opts.Counter = EstimateCounter{}
	}

	return &Orchestrator{
		embedder: embedder,
		index:    index,
		chat:     chatGateway,
		opts:     opts,
		logger:   logger,
	}
}

// Search returns up to k chunks closest to query, best first. k <= 0 uses
// the configured search default.
func (o *Orchestrator) Search(ctx context.Context, query string, k int) ([]storage.ScoredChunk, error) {
	if k <= 0 {
		k = o.opts.SearchK
	}

	vector, err := o.embedder.EmbedQuery(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("search: %w", err)
	}

	hits, err := o.index.Search(ctx, vector, k)
	if err != nil {
		return nil, fmt.Errorf("search: %w", err)
	}
	return hits, nil
}

// Answer retrieves context for query and asks the chat model to answer
// from it. With no retrieved chunks it returns NoInformationAnswer and never
// calls the model. Every failure is wrapped in ErrAnswerFailure.
func (o *Orchestrator) Answer(ctx context.Context, query string, history []Turn) (*Answer, error) {
	vector, err := o.embedder.EmbedQuery(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("%w: embed query: %w", ErrAnswerFailure, err)
	}

	hits, err := o.index.Search(ctx, vector, o.opts.AnswerK)
	if err != nil {
		return nil, fmt.Errorf("%w: retrieve: %w", ErrAnswerFailure, err)
	}

	if len(hits) == 0 {
		o.logger.Debug("No chunks retrieved, skipping chat model")
		return &Answer{Answer: NoInformationAnswer, Sources: []string{}}, nil
	}

	selected := o.fitContext(hits)
	prompt := buildPrompt(renderContext(selected), renderHistory(history, o.opts.HistoryTurns), query)

	o.logger.Debug("Built answer prompt",
		"retrieved", len(hits),
		"in_context", len(selected),
		"history_turns", min(len(history), o.opts.HistoryTurns),
		"prompt_tokens", o.opts.Counter.Count(prompt),
	)

	text, err := o.chat.Complete(ctx, prompt)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrAnswerFailure, err)
	}

	return &Answer{
		Answer:  text,
		Sources: distinctSources(selected),
	}, nil
}

// fitContext keeps hits in relevance order while the rendered context stays
// within MaxContextTokens.
func (o *Orchestrator) fitContext(hits []storage.ScoredChunk) []storage.ScoredChunk {
	if o.opts.MaxContextTokens <= 0 {
		return hits
	}

	used := o.opts.Counter.Count(renderChunk(hits[0]))
	n := 1
	for ; n < len(hits); n++ {
		// The "\n\n" separator is counted with the chunk it precedes.
		cost := o.opts.Counter.Count("\n\n" + renderChunk(hits[n]))
		if used+cost > o.opts.MaxContextTokens {
			break
		}
		used += cost
	}

	if n < len(hits) {
		o.logger.Debug("Trimmed context to token budget",
			"kept", n,
			"dropped", len(hits)-n,
			"budget", o.opts.MaxContextTokens,
		)
	}
	return hits[:n]
}

// distinctSources returns each source once, sorted.
func distinctSources(hits []storage.ScoredChunk) []string {
	seen := make(map[string]struct{}, len(hits))
	sources := make([]string, 0, len(hits))
	for _, hit := range hits {
		if _, ok := seen[hit.Metadata.Source]; ok {
			continue
		}
		seen[hit.Metadata.Source] = struct{}{}
		sources = append(sources, hit.Metadata.Source)
	}
	sort.Strings(sources)
	return sources
}
