package embeddings

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/charmbracelet/log"
	"google.golang.org/genai"

	"github.com/nickcecere/ragd/internal/errs"
)

// Gemini task types for asymmetric retrieval.
const (
	geminiTaskDocument = "RETRIEVAL_DOCUMENT"
	geminiTaskQuery    = "RETRIEVAL_QUERY"
)

// GeminiService implements the embedding service against the native Gemini
// API. Documents and queries are embedded with their retrieval task types.
type GeminiService struct {
	client        *genai.Client
	model         string
	requestedDims int
	dimensions    atomic.Int64
}

// NewGeminiService creates a Gemini embedding service. A non-zero dimensions
// value is sent as the output dimensionality.
func NewGeminiService(ctx context.Context, apiKey, model, baseURL string, dimensions int) (*GeminiService, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("embeddings API key is required (set GEMINI_API_KEY or GOOGLE_API_KEY)")
	}

	cc := &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	}
	if baseURL != "" {
		cc.HTTPOptions.BaseURL = baseURL
	}

	client, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}

	s := &GeminiService{
		client:        client,
		model:         model,
		requestedDims: dimensions,
	}
	if dimensions == 0 {
		dimensions = GetModelDimensions(model)
	}
	s.dimensions.Store(int64(dimensions))

	return s, nil
}

// Embed generates an embedding for document text.
func (s *GeminiService) Embed(ctx context.Context, text string) ([]float32, error) {
	return s.embed(ctx, text, geminiTaskDocument)
}

// EmbedQuery generates an embedding for query text.
func (s *GeminiService) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	return s.embed(ctx, text, geminiTaskQuery)
}

// Dimensions returns the embedding dimensions.
func (s *GeminiService) Dimensions() int {
	return int(s.dimensions.Load())
}

// Provider returns the provider name.
func (s *GeminiService) Provider() Provider {
	return ProviderGemini
}

// ModelName returns the model name.
func (s *GeminiService) ModelName() string {
	return s.model
}

func (s *GeminiService) embed(ctx context.Context, text, task string) ([]float32, error) {
	log.Debug("Requesting embedding", "provider", ProviderGemini, "model", s.model, "task", task, "chars", len(text))

	cfg := &genai.EmbedContentConfig{TaskType: task}
	if s.requestedDims > 0 {
		cfg.OutputDimensionality = genai.Ptr(int32(s.requestedDims))
	}

	contents := []*genai.Content{{Role: "user", Parts: []*genai.Part{genai.NewPartFromText(text)}}}
	resp, err := s.client.Models.EmbedContent(ctx, s.model, contents, cfg)
	if err != nil {
		return nil, errs.Transport(string(ProviderGemini), "embeddings", err)
	}
	if resp == nil || len(resp.Embeddings) == 0 || len(resp.Embeddings[0].Values) == 0 {
		return nil, errs.Transport(string(ProviderGemini), "embeddings", errors.New("no embedding returned"))
	}

	embedding := resp.Embeddings[0].Values
	s.dimensions.Store(int64(len(embedding)))
	return embedding, nil
}
