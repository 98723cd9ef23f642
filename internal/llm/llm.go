// Package llm provides chat completion services, optionally constrained to a
// JSON schema.
package llm

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/jsonschema-go/jsonschema"

	"github.com/nickcecere/ragd/internal/config"
)

// Provider represents an LLM provider type.
type Provider string

const (
	ProviderOllama    Provider = "ollama"
	ProviderOpenAI    Provider = "openai"
	ProviderAnthropic Provider = "anthropic"
	ProviderGemini    Provider = "gemini"
)

// Message represents a chat message.
type Message struct {
	Role    string `json:"role"` // "system", "user", or "assistant"
	Content string `json:"content"`
}

// ResponseSchema asks the model to reply with a JSON document of this shape.
type ResponseSchema struct {
	Name        string
	Description string
	Schema      *jsonschema.Schema
}

// CompletionOptions configures the completion request.
type CompletionOptions struct {
	// Temperature controls randomness (0-1).
	Temperature float64

	// MaxTokens limits the response length.
	MaxTokens int

	// Schema requests structured output. Conformance is requested from the
	// provider, never verified here.
	Schema *ResponseSchema
}

// DefaultCompletionOptions returns the configured defaults.
func DefaultCompletionOptions(cfg *config.Config) CompletionOptions {
	return CompletionOptions{
		Temperature: cfg.LLM.Temperature,
		MaxTokens:   cfg.LLM.MaxTokens,
	}
}

// Service defines the interface for LLM services.
//
// Complete makes exactly one outbound call and returns the raw text the model
// emitted. Failures are returned as *errs.TransportError and never retried.
type Service interface {
	Complete(ctx context.Context, messages []Message, opts CompletionOptions) (string, error)

	// Provider returns the provider name.
	Provider() Provider

	// ModelName returns the model name.
	ModelName() string
}

// NewService creates an LLM service based on the configuration.
func NewService(cfg *config.Config) (Service, error) {
	switch cfg.LLM.Provider {
	case "ollama":
		return NewOllamaService(
			cfg.LLM.Ollama.URL,
			cfg.LLM.Ollama.Model,
		)
	case "openai":
		return NewOpenAIService(
			cfg.LLM.OpenAI.APIKey,
			cfg.LLM.OpenAI.Model,
			cfg.LLM.OpenAI.BaseURL,
		)
	case "anthropic":
		return NewAnthropicService(
			cfg.LLM.Anthropic.APIKey,
			cfg.LLM.Anthropic.Model,
		)
	case "gemini":
		return NewGeminiService(
			context.Background(),
			cfg.LLM.Gemini.APIKey,
			cfg.LLM.Gemini.Model,
			cfg.LLM.Gemini.BaseURL,
		)
	default:
		return nil, fmt.Errorf("unsupported LLM provider: %s", cfg.LLM.Provider)
	}
}

// schemaJSON encodes the schema for providers that take it as raw JSON.
func (r *ResponseSchema) schemaJSON() (json.RawMessage, error) {
	b, err := json.Marshal(r.Schema)
	if err != nil {
		return nil, fmt.Errorf("failed to encode response schema: %w", err)
	}
	return b, nil
}
