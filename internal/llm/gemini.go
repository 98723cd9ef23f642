package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/charmbracelet/log"
	"github.com/google/jsonschema-go/jsonschema"
	"google.golang.org/genai"

	"github.com/nickcecere/ragd/internal/errs"
)

// GeminiService implements the LLM service against the native Gemini API.
type GeminiService struct {
	client *genai.Client
	model  string
}

// NewGeminiService creates a Gemini LLM service. An empty baseURL uses the
// public endpoint.
func NewGeminiService(ctx context.Context, apiKey, model, baseURL string) (*GeminiService, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("Gemini API key is required (set GEMINI_API_KEY or GOOGLE_API_KEY)")
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

	return &GeminiService{client: client, model: model}, nil
}

// Complete generates a completion for the given messages. System messages
// become the system instruction.
func (s *GeminiService) Complete(ctx context.Context, messages []Message, opts CompletionOptions) (string, error) {
	log.Debug("Requesting completion", "provider", ProviderGemini, "model", s.model, "structured", opts.Schema != nil)

	cfg := &genai.GenerateContentConfig{
		Temperature: genai.Ptr(float32(opts.Temperature)),
	}
	if opts.MaxTokens > 0 {
		cfg.MaxOutputTokens = int32(opts.MaxTokens)
	}
	if opts.Schema != nil {
		cfg.ResponseMIMEType = "application/json"
		cfg.ResponseSchema = geminiSchema(opts.Schema.Schema)
	}

	var system []*genai.Part
	var contents []*genai.Content
	for _, m := range messages {
		switch m.Role {
		case "system":
			system = append(system, genai.NewPartFromText(m.Content))
		case "assistant":
			contents = append(contents, &genai.Content{Role: "model", Parts: []*genai.Part{genai.NewPartFromText(m.Content)}})
		default:
			contents = append(contents, &genai.Content{Role: "user", Parts: []*genai.Part{genai.NewPartFromText(m.Content)}})
		}
	}
	if len(system) > 0 {
		cfg.SystemInstruction = &genai.Content{Parts: system}
	}
	if len(contents) == 0 {
		return "", errs.Invalid("messages", "need at least one user message")
	}

	resp, err := s.client.Models.GenerateContent(ctx, s.model, contents, cfg)
	if err != nil {
		return "", errs.Transport(string(ProviderGemini), "generate content", err)
	}
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return "", errs.Transport(string(ProviderGemini), "generate content", errors.New("no candidates returned"))
	}

	var sb strings.Builder
	for _, p := range resp.Candidates[0].Content.Parts {
		sb.WriteString(p.Text)
	}
	return sb.String(), nil
}

// Provider returns the provider name.
func (s *GeminiService) Provider() Provider {
	return ProviderGemini
}

// ModelName returns the model name.
func (s *GeminiService) ModelName() string {
	return s.model
}

// geminiSchema converts a JSON schema to Gemini's OpenAPI subset. A
// nullable type list keeps its first non-null entry.
func geminiSchema(schema *jsonschema.Schema) *genai.Schema {
	if schema == nil {
		return nil
	}

	gs := &genai.Schema{
		Description: schema.Description,
		Required:    schema.Required,
		Items:       geminiSchema(schema.Items),
	}
	if n := len(schema.Properties); n > 0 {
		gs.Properties = make(map[string]*genai.Schema, n)
		for k, prop := range schema.Properties {
			gs.Properties[k] = geminiSchema(prop)
		}
	}

	typ := schema.Type
	for _, t := range schema.Types {
		if t == "null" {
			gs.Nullable = genai.Ptr(true)
			continue
		}
		if typ == "" {
			typ = t
		}
	}
	switch typ {
	case "object":
		gs.Type = genai.TypeObject
	case "array":
		gs.Type = genai.TypeArray
	case "string":
		gs.Type = genai.TypeString
	case "number":
		gs.Type = genai.TypeNumber
	case "integer":
		gs.Type = genai.TypeInteger
	case "boolean":
		gs.Type = genai.TypeBoolean
	}
	return gs
}
