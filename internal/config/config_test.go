package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func resetConfig(t *testing.T) {
	t.Helper()
	viper.Reset()
	cfg = nil
	// Keep host credentials out of assertions.
	for _, k := range []string{"GEMINI_API_KEY", "GOOGLE_API_KEY", "OPENAI_API_KEY", "ANTHROPIC_API_KEY", "GEMINI_BASE_URL"} {
		t.Setenv(k, "")
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	require.NotNil(t, cfg)

	assert.Equal(t, DefaultEmbeddingProvider, cfg.Embeddings.Provider)
	assert.Equal(t, DefaultOpenAIEmbedModel, cfg.Embeddings.OpenAI.Model)
	assert.Equal(t, DefaultOpenAIBaseURL, cfg.Embeddings.OpenAI.BaseURL)
	assert.Equal(t, DefaultOllamaURL, cfg.Embeddings.Ollama.URL)

	assert.Equal(t, DefaultLLMProvider, cfg.LLM.Provider)
	assert.Equal(t, DefaultOpenAILLMModel, cfg.LLM.OpenAI.Model)
	assert.Equal(t, DefaultAnthropicModel, cfg.LLM.Anthropic.Model)
	assert.Equal(t, DefaultGeminiLLMModel, cfg.LLM.Gemini.Model)
	assert.Equal(t, DefaultGeminiEmbedModel, cfg.Embeddings.Gemini.Model)
	assert.InDelta(t, DefaultTemperature, cfg.LLM.Temperature, 1e-9)

	assert.Equal(t, "mprzetrwaniec", cfg.Database.Collection)
	assert.Equal(t, 4, cfg.RAG.TopK)
	assert.Equal(t, "Polish", cfg.RAG.Language)
	assert.Equal(t, ":8000", cfg.Server.Addr)
	assert.Equal(t, "data/knowledge_base.json", cfg.Knowledge.Path)

	assert.Contains(t, cfg.Loader.Ignore, ".git/")
	assert.Contains(t, cfg.Loader.Extensions, ".md")

	assert.NoError(t, cfg.Validate())
}

func TestDefaultPaths(t *testing.T) {
	assert.Contains(t, DefaultConfigDir(), "ragd")
	assert.Contains(t, DefaultDataDir(), "ragd")
	assert.Contains(t, DefaultDatabasePath(), DefaultDBFileName)
	assert.Contains(t, GlobalConfigPath(), "config.yaml")
}

func TestLoadWithConfigFile(t *testing.T) {
	resetConfig(t)

	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	configContent := `
embeddings:
  provider: ollama
  ollama:
    url: http://custom:11434
    model: custom-model
database:
  path: /custom/path/ragd.db
  collection: survival
rag:
  top_k: 6
  language: English
server:
  addr: 127.0.0.1:9000
  read_timeout: 5s
alerts:
  url: https://alerts.example.com/feed
llm:
  provider: anthropic
  anthropic:
    model: claude-3-opus-20240229
`
	require.NoError(t, os.WriteFile(configPath, []byte(configContent), 0644))

	require.NoError(t, Load(configPath))
	loaded := Get()

	assert.Equal(t, "ollama", loaded.Embeddings.Provider)
	assert.Equal(t, "http://custom:11434", loaded.Embeddings.Ollama.URL)
	assert.Equal(t, "custom-model", loaded.Embeddings.Ollama.Model)
	assert.Equal(t, "/custom/path/ragd.db", loaded.Database.Path)
	assert.Equal(t, "survival", loaded.Database.Collection)
	assert.Equal(t, 6, loaded.RAG.TopK)
	assert.Equal(t, "English", loaded.RAG.Language)
	assert.Equal(t, "127.0.0.1:9000", loaded.Server.Addr)
	assert.Equal(t, 5*time.Second, loaded.Server.ReadTimeout)
	assert.Equal(t, DefaultWriteTimeout, loaded.Server.WriteTimeout)
	assert.Equal(t, "https://alerts.example.com/feed", loaded.Alerts.URL)
	assert.Equal(t, "anthropic", loaded.LLM.Provider)
	assert.Equal(t, "claude-3-opus-20240229", loaded.LLM.Anthropic.Model)

	// Untouched sections keep their defaults.
	assert.Equal(t, DefaultOpenAIEmbedModel, loaded.Embeddings.OpenAI.Model)
}

func TestLoadWithEnvironmentVariables(t *testing.T) {
	resetConfig(t)

	t.Setenv("RAGD_LLM_PROVIDER", "ollama")
	t.Setenv("RAGD_DATABASE_COLLECTION", "from-env")
	t.Setenv("GEMINI_API_KEY", "gemini-key")
	t.Setenv("ANTHROPIC_API_KEY", "anthropic-key")

	require.NoError(t, Load(""))
	loaded := Get()

	assert.Equal(t, "ollama", loaded.LLM.Provider)
	assert.Equal(t, "from-env", loaded.Database.Collection)
	assert.Equal(t, "gemini-key", loaded.Embeddings.OpenAI.APIKey)
	assert.Equal(t, "gemini-key", loaded.LLM.OpenAI.APIKey)
	assert.Equal(t, "anthropic-key", loaded.LLM.Anthropic.APIKey)
	assert.Equal(t, "gemini-key", loaded.LLM.Gemini.APIKey)
	assert.Equal(t, "gemini-key", loaded.Embeddings.Gemini.APIKey)
}

func TestLoadAPIKeyFallback(t *testing.T) {
	resetConfig(t)

	t.Setenv("OPENAI_API_KEY", "openai-key")
	t.Setenv("GEMINI_BASE_URL", "https://proxy.example.com/v1/")

	require.NoError(t, Load(""))
	loaded := Get()

	assert.Equal(t, "openai-key", loaded.Embeddings.OpenAI.APIKey)
	assert.Empty(t, loaded.LLM.Gemini.APIKey, "native Gemini does not take OpenAI keys")
	assert.Equal(t, "https://proxy.example.com/v1/", loaded.Embeddings.OpenAI.BaseURL)
	assert.Equal(t, "https://proxy.example.com/v1/", loaded.LLM.OpenAI.BaseURL)
}

func TestLoadExplicitKeyWinsOverEnv(t *testing.T) {
	resetConfig(t)

	configPath := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(configPath, []byte("llm:\n  openai:\n    api_key: from-file\n"), 0644))
	t.Setenv("GEMINI_API_KEY", "from-env")

	require.NoError(t, Load(configPath))

	assert.Equal(t, "from-file", Get().LLM.OpenAI.APIKey)
	assert.Equal(t, "from-env", Get().Embeddings.OpenAI.APIKey)
}

func TestLoadInvalidProvider(t *testing.T) {
	resetConfig(t)

	t.Setenv("RAGD_EMBEDDINGS_PROVIDER", "cohere")

	err := Load("")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown embedding provider")
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{"defaults", func(c *Config) {}, ""},
		{"bad llm", func(c *Config) { c.LLM.Provider = "mystery" }, "unknown LLM provider"},
		{"gemini", func(c *Config) {
			c.LLM.Provider = "gemini"
			c.Embeddings.Provider = "gemini"
		}, ""},
		{"empty collection", func(c *Config) { c.Database.Collection = "" }, "collection"},
		{"zero top k", func(c *Config) { c.RAG.TopK = 0 }, "top_k"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := DefaultConfig()
			tt.mutate(c)
			err := c.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestGet(t *testing.T) {
	cfg = nil

	c1 := Get()
	assert.NotNil(t, c1)
	assert.Same(t, c1, Get())
}
