// Package rag answers questions from the indexed documents: it retrieves the
// nearest passages, asks the language model for a grounded answer and parses
// the structured reply.
package rag

import (
	"context"
	"fmt"

	"github.com/charmbracelet/log"

	"github.com/nickcecere/ragd/internal/config"
	"github.com/nickcecere/ragd/internal/llm"
	"github.com/nickcecere/ragd/internal/vectordb"
)

// VectorStore is the part of the document index the composer needs.
type VectorStore interface {
	AddDocuments(ctx context.Context, docs []vectordb.Document) (vectordb.AddResult, error)
	Query(ctx context.Context, text string, k int) ([]vectordb.RetrievedItem, error)
	IsEmpty(ctx context.Context) (bool, error)
}

// Options configures answer composition.
type Options struct {
	// TopK is used when Answer is called with k <= 0.
	TopK int

	// Language is the natural language answers are written in.
	Language string

	Temperature float64
	MaxTokens   int
}

// OptionsFromConfig builds Options from the loaded configuration.
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		TopK:        cfg.RAG.TopK,
		Language:    cfg.RAG.Language,
		Temperature: cfg.LLM.Temperature,
		MaxTokens:   cfg.LLM.MaxTokens,
	}
}

// Result is a composed answer with everything that was retrieved for it.
type Result struct {
	Answer            string                   `json:"answer"`
	Sources           []vectordb.RetrievedItem `json:"sources"`
	UsedSourceIndexes []int                    `json:"used_source_indexes"`

	// Structured is false when the model reply could not be parsed and
	// Answer holds its raw text.
	Structured bool `json:"-"`
}

// Service composes answers. It holds no per-request state and is safe for
// concurrent use.
type Service struct {
	store VectorStore
	llm   llm.Service
	opts  Options
}

// New creates a Service.
func New(store VectorStore, completer llm.Service, opts Options) *Service {
	if opts.TopK <= 0 {
		opts.TopK = config.DefaultTopK
	}
	if opts.Language == "" {
		opts.Language = config.DefaultLanguage
	}
	return &Service{
		store: store,
		llm:   completer,
		opts:  opts,
	}
}

// Ingest adds documents to the store unchanged.
func (s *Service) Ingest(ctx context.Context, docs []vectordb.Document) (vectordb.AddResult, error) {
	return s.store.AddDocuments(ctx, docs)
}

// Answer retrieves up to k passages for query and asks the model to answer
// from them. A k <= 0 uses the configured default. Retrieval and completion
// failures are returned; an unparseable model reply is not an error.
func (s *Service) Answer(ctx context.Context, query string, k int) (*Result, error) {
	if k <= 0 {
		k = s.opts.TopK
	}

	retrieved, err := s.store.Query(ctx, query, k)
	if err != nil {
		return nil, fmt.Errorf("failed to retrieve context: %w", err)
	}
	log.Debug("Retrieved context", "query", truncate(query, 60), "k", k, "hits", len(retrieved))

	messages := []llm.Message{
		{Role: "system", Content: systemPrompt(s.opts.Language)},
		{Role: "user", Content: userPrompt(query, BuildContext(retrieved))},
	}

	raw, err := s.llm.Complete(ctx, messages, llm.CompletionOptions{
		Temperature: s.opts.Temperature,
		MaxTokens:   s.opts.MaxTokens,
		Schema:      AnswerSchema(),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to generate answer: %w", err)
	}

	parsed := ParseAnswer(raw)
	if !parsed.OK {
		log.Warn("Model reply did not match the answer schema, returning raw text", "chars", len(raw))
	}

	return &Result{
		Answer:            parsed.Answer,
		Sources:           retrieved,
		UsedSourceIndexes: NormalizeIndexes(parsed.UsedSourceIndexes, len(retrieved)),
		Structured:        parsed.OK,
	}, nil
}

// NormalizeIndexes keeps the 1-based indexes that point at a retrieved
// source, dropping out-of-range values and repeats while preserving order.
func NormalizeIndexes(indexes []int, sources int) []int {
	out := make([]int, 0, len(indexes))
	seen := make(map[int]struct{}, len(indexes))
	for _, i := range indexes {
		if i < 1 || i > sources {
			continue
		}
		if _, ok := seen[i]; ok {
			continue
		}
		seen[i] = struct{}{}
		out = append(out, i)
	}
	return out
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
