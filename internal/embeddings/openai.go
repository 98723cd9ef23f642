package embeddings

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/charmbracelet/log"
	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"

	"github.com/nickcecere/ragd/internal/errs"
)

// OpenAIService implements the embedding service against any OpenAI-compatible
// API, including Gemini's compatibility endpoint.
type OpenAIService struct {
	client        openai.Client
	model         string
	requestedDims int
	dimensions    atomic.Int64
}

// NewOpenAIService creates a new OpenAI-compatible embedding service. A
// non-zero dimensions value is sent with every request.
func NewOpenAIService(apiKey, model, baseURL string, dimensions int) (*OpenAIService, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("embeddings API key is required (set GEMINI_API_KEY or OPENAI_API_KEY)")
	}

	opts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithMaxRetries(0),
	}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}

	s := &OpenAIService{
		client:        openai.NewClient(opts...),
		model:         model,
		requestedDims: dimensions,
	}

	if dimensions == 0 {
		dimensions = GetModelDimensions(model)
		if dimensions == 0 {
			log.Debug("Unknown model dimensions, will learn from first response", "model", model)
		}
	}
	s.dimensions.Store(int64(dimensions))

	return s, nil
}

// Embed generates an embedding for document text.
func (s *OpenAIService) Embed(ctx context.Context, text string) ([]float32, error) {
	return s.embed(ctx, text)
}

// EmbedQuery generates an embedding for query text.
// OpenAI doesn't use task prefixes, so this is the same as Embed.
func (s *OpenAIService) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	return s.embed(ctx, text)
}

// Dimensions returns the embedding dimensions.
func (s *OpenAIService) Dimensions() int {
	return int(s.dimensions.Load())
}

// Provider returns the provider name.
func (s *OpenAIService) Provider() Provider {
	return ProviderOpenAI
}

// ModelName returns the model name.
func (s *OpenAIService) ModelName() string {
	return s.model
}

func (s *OpenAIService) embed(ctx context.Context, text string) ([]float32, error) {
	log.Debug("Requesting embedding", "provider", ProviderOpenAI, "model", s.model, "chars", len(text))

	params := openai.EmbeddingNewParams{
		Model: openai.EmbeddingModel(s.model),
		Input: openai.EmbeddingNewParamsInputUnion{
			OfString: openai.String(text),
		},
		EncodingFormat: openai.EmbeddingNewParamsEncodingFormatFloat,
	}
	if s.requestedDims > 0 {
		params.Dimensions = openai.Int(int64(s.requestedDims))
	}

	resp, err := s.client.Embeddings.New(ctx, params)
	if err != nil {
		return nil, errs.Transport(string(ProviderOpenAI), "embeddings", err)
	}
	if len(resp.Data) == 0 || len(resp.Data[0].Embedding) == 0 {
		return nil, errs.Transport(string(ProviderOpenAI), "embeddings", errors.New("no embedding returned"))
	}

	embedding := make([]float32, len(resp.Data[0].Embedding))
	for i, v := range resp.Data[0].Embedding {
		embedding[i] = float32(v)
	}
	s.dimensions.Store(int64(len(embedding)))

	return embedding, nil
}
