// Package config handles configuration loading and validation for ragd.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config represents the complete ragd configuration.
type Config struct {
	Embeddings EmbeddingsConfig `mapstructure:"embeddings"`
	LLM        LLMConfig        `mapstructure:"llm"`
	Database   DatabaseConfig   `mapstructure:"database"`
	RAG        RAGConfig        `mapstructure:"rag"`
	Server     ServerConfig     `mapstructure:"server"`
	Alerts     AlertsConfig     `mapstructure:"alerts"`
	Knowledge  KnowledgeConfig  `mapstructure:"knowledge"`
	Loader     LoaderConfig     `mapstructure:"loader"`
}

// EmbeddingsConfig configures the embedding service.
type EmbeddingsConfig struct {
	Provider string            `mapstructure:"provider"`
	Ollama   OllamaEmbedConfig `mapstructure:"ollama"`
	OpenAI   OpenAIEmbedConfig `mapstructure:"openai"`
	Gemini   GeminiEmbedConfig `mapstructure:"gemini"`
}

// OllamaEmbedConfig configures Ollama embeddings.
type OllamaEmbedConfig struct {
	URL   string `mapstructure:"url"`
	Model string `mapstructure:"model"`
}

// OpenAIEmbedConfig configures embeddings against any OpenAI-compatible API.
type OpenAIEmbedConfig struct {
	Model      string `mapstructure:"model"`
	BaseURL    string `mapstructure:"base_url"`
	APIKey     string `mapstructure:"api_key"`
	Dimensions int    `mapstructure:"dimensions"`
}

// GeminiEmbedConfig configures embeddings through the native Gemini API.
type GeminiEmbedConfig struct {
	Model      string `mapstructure:"model"`
	APIKey     string `mapstructure:"api_key"`
	BaseURL    string `mapstructure:"base_url"`
	Dimensions int    `mapstructure:"dimensions"`
}

// LLMConfig configures the completion service.
type LLMConfig struct {
	Provider    string          `mapstructure:"provider"`
	Temperature float64         `mapstructure:"temperature"`
	MaxTokens   int             `mapstructure:"max_tokens"`
	Ollama      OllamaLLMConfig `mapstructure:"ollama"`
	OpenAI      OpenAILLMConfig `mapstructure:"openai"`
	Anthropic   AnthropicConfig `mapstructure:"anthropic"`
	Gemini      GeminiLLMConfig `mapstructure:"gemini"`
}

// OllamaLLMConfig configures Ollama LLM.
type OllamaLLMConfig struct {
	URL   string `mapstructure:"url"`
	Model string `mapstructure:"model"`
}

// OpenAILLMConfig configures an OpenAI-compatible chat endpoint.
type OpenAILLMConfig struct {
	Model   string `mapstructure:"model"`
	BaseURL string `mapstructure:"base_url"`
	APIKey  string `mapstructure:"api_key"`
}

// AnthropicConfig configures Anthropic LLM.
type AnthropicConfig struct {
	Model  string `mapstructure:"model"`
	APIKey string `mapstructure:"api_key"`
}

// GeminiLLMConfig configures completions through the native Gemini API.
type GeminiLLMConfig struct {
	Model   string `mapstructure:"model"`
	APIKey  string `mapstructure:"api_key"`
	BaseURL string `mapstructure:"base_url"`
}

// DatabaseConfig configures the SQLite vector database.
type DatabaseConfig struct {
	Path       string `mapstructure:"path"`
	Collection string `mapstructure:"collection"`
}

// RAGConfig configures retrieval and answer composition.
type RAGConfig struct {
	TopK     int    `mapstructure:"top_k"`
	Language string `mapstructure:"language"`
	SeedPath string `mapstructure:"seed_path"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Addr         string        `mapstructure:"addr"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// AlertsConfig configures the upstream alerts feed.
type AlertsConfig struct {
	URL     string        `mapstructure:"url"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// KnowledgeConfig configures the static knowledge base file.
type KnowledgeConfig struct {
	Path string `mapstructure:"path"`
}

// LoaderConfig configures directory ingestion.
type LoaderConfig struct {
	MaxFileSize  int      `mapstructure:"max_file_size"`
	ChunkSize    int      `mapstructure:"chunk_size"`
	ChunkOverlap int      `mapstructure:"chunk_overlap"`
	Extensions   []string `mapstructure:"extensions"`
	Ignore       []string `mapstructure:"ignore"`
}

// Global configuration instance
var cfg *Config

// Get returns the current configuration.
func Get() *Config {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	return cfg
}

// DefaultConfig returns a configuration with default values.
func DefaultConfig() *Config {
	return &Config{
		Embeddings: EmbeddingsConfig{
			Provider: DefaultEmbeddingProvider,
			Ollama: OllamaEmbedConfig{
				URL:   DefaultOllamaURL,
				Model: DefaultOllamaEmbedModel,
			},
			OpenAI: OpenAIEmbedConfig{
				Model:   DefaultOpenAIEmbedModel,
				BaseURL: DefaultOpenAIBaseURL,
			},
			Gemini: GeminiEmbedConfig{
				Model: DefaultGeminiEmbedModel,
			},
		},
		LLM: LLMConfig{
			Provider:    DefaultLLMProvider,
			Temperature: DefaultTemperature,
			MaxTokens:   DefaultMaxTokens,
			Ollama: OllamaLLMConfig{
				URL:   DefaultOllamaURL,
				Model: DefaultOllamaLLMModel,
			},
			OpenAI: OpenAILLMConfig{
				Model:   DefaultOpenAILLMModel,
				BaseURL: DefaultOpenAIBaseURL,
			},
			Anthropic: AnthropicConfig{
				Model: DefaultAnthropicModel,
			},
			Gemini: GeminiLLMConfig{
				Model: DefaultGeminiLLMModel,
			},
		},
		Database: DatabaseConfig{
			Path:       DefaultDatabasePath(),
			Collection: DefaultCollection,
		},
		RAG: RAGConfig{
			TopK:     DefaultTopK,
			Language: DefaultLanguage,
			SeedPath: DefaultKnowledgePath,
		},
		Server: ServerConfig{
			Addr:         DefaultServerAddr,
			ReadTimeout:  DefaultReadTimeout,
			WriteTimeout: DefaultWriteTimeout,
		},
		Alerts: AlertsConfig{
			Timeout: DefaultAlertsTimeout,
		},
		Knowledge: KnowledgeConfig{
			Path: DefaultKnowledgePath,
		},
		Loader: LoaderConfig{
			MaxFileSize:  DefaultMaxFileSize,
			ChunkSize:    DefaultChunkSize,
			ChunkOverlap: DefaultChunkOverlap,
			Extensions:   DefaultExtensions(),
			Ignore:       DefaultIgnorePatterns(),
		},
	}
}

// Load reads configuration from a .env file, the config file and environment variables.
func Load(configFile string) error {
	loadDotEnv()

	setDefaults()

	if configFile != "" {
		viper.SetConfigFile(configFile)
	} else {
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(DefaultConfigDir())
		viper.AddConfigPath(".")

		if rcPath := findRCFile(); rcPath != "" {
			viper.SetConfigFile(rcPath)
		}
	}

	viper.SetEnvPrefix("RAGD")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return fmt.Errorf("error reading config file: %w", err)
		}
		log.Debug("No config file found, using defaults")
	} else {
		log.Debug("Loaded config from", "file", viper.ConfigFileUsed())
	}

	cfg = &Config{}
	if err := viper.Unmarshal(cfg); err != nil {
		return fmt.Errorf("error parsing config: %w", err)
	}

	loadAPIKeysFromEnv()

	return cfg.Validate()
}

// Validate checks values that would otherwise fail much later at request time.
func (c *Config) Validate() error {
	switch c.Embeddings.Provider {
	case "openai", "ollama", "gemini":
	default:
		return fmt.Errorf("unknown embedding provider: %s", c.Embeddings.Provider)
	}
	switch c.LLM.Provider {
	case "openai", "ollama", "anthropic", "gemini":
	default:
		return fmt.Errorf("unknown LLM provider: %s", c.LLM.Provider)
	}
	if c.Database.Collection == "" {
		return errors.New("database.collection must not be empty")
	}
	if c.RAG.TopK < 1 {
		return fmt.Errorf("rag.top_k must be at least 1, got %d", c.RAG.TopK)
	}
	return nil
}

func setDefaults() {
	d := DefaultConfig()

	viper.SetDefault("embeddings.provider", d.Embeddings.Provider)
	viper.SetDefault("embeddings.ollama.url", d.Embeddings.Ollama.URL)
	viper.SetDefault("embeddings.ollama.model", d.Embeddings.Ollama.Model)
	viper.SetDefault("embeddings.openai.model", d.Embeddings.OpenAI.Model)
	viper.SetDefault("embeddings.openai.base_url", d.Embeddings.OpenAI.BaseURL)
	viper.SetDefault("embeddings.openai.api_key", "")
	viper.SetDefault("embeddings.openai.dimensions", 0)
	viper.SetDefault("embeddings.gemini.model", d.Embeddings.Gemini.Model)
	viper.SetDefault("embeddings.gemini.api_key", "")
	viper.SetDefault("embeddings.gemini.base_url", "")
	viper.SetDefault("embeddings.gemini.dimensions", 0)

	viper.SetDefault("llm.provider", d.LLM.Provider)
	viper.SetDefault("llm.temperature", d.LLM.Temperature)
	viper.SetDefault("llm.max_tokens", d.LLM.MaxTokens)
	viper.SetDefault("llm.ollama.url", d.LLM.Ollama.URL)
	viper.SetDefault("llm.ollama.model", d.LLM.Ollama.Model)
	viper.SetDefault("llm.openai.model", d.LLM.OpenAI.Model)
	viper.SetDefault("llm.openai.base_url", d.LLM.OpenAI.BaseURL)
	viper.SetDefault("llm.openai.api_key", "")
	viper.SetDefault("llm.anthropic.model", d.LLM.Anthropic.Model)
	viper.SetDefault("llm.anthropic.api_key", "")
	viper.SetDefault("llm.gemini.model", d.LLM.Gemini.Model)
	viper.SetDefault("llm.gemini.api_key", "")
	viper.SetDefault("llm.gemini.base_url", "")

	viper.SetDefault("database.path", d.Database.Path)
	viper.SetDefault("database.collection", d.Database.Collection)

	viper.SetDefault("rag.top_k", d.RAG.TopK)
	viper.SetDefault("rag.language", d.RAG.Language)
	viper.SetDefault("rag.seed_path", d.RAG.SeedPath)

	viper.SetDefault("server.addr", d.Server.Addr)
	viper.SetDefault("server.read_timeout", d.Server.ReadTimeout)
	viper.SetDefault("server.write_timeout", d.Server.WriteTimeout)

	viper.SetDefault("alerts.url", "")
	viper.SetDefault("alerts.timeout", d.Alerts.Timeout)

	viper.SetDefault("knowledge.path", d.Knowledge.Path)

	viper.SetDefault("loader.max_file_size", d.Loader.MaxFileSize)
	viper.SetDefault("loader.chunk_size", d.Loader.ChunkSize)
	viper.SetDefault("loader.chunk_overlap", d.Loader.ChunkOverlap)
	viper.SetDefault("loader.extensions", d.Loader.Extensions)
	viper.SetDefault("loader.ignore", d.Loader.Ignore)
}

// loadDotEnv loads .env from the working directory. Variables already set
// in the environment win.
func loadDotEnv() {
	if err := godotenv.Load(); err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			log.Warn("Failed to load .env", "error", err)
		}
		return
	}
	log.Debug("Loaded environment from .env")
}

// findRCFile searches for .ragdrc.yaml starting from current directory.
func findRCFile() string {
	cwd, err := os.Getwd()
	if err != nil {
		return ""
	}

	dir := cwd
	for {
		rcPath := filepath.Join(dir, ".ragdrc.yaml")
		if _, err := os.Stat(rcPath); err == nil {
			return rcPath
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}

	return ""
}

// firstEnv returns the first non-empty value among the given variables.
func firstEnv(keys ...string) string {
	for _, k := range keys {
		if v := os.Getenv(k); v != "" {
			return v
		}
	}
	return ""
}

// loadAPIKeysFromEnv fills API keys from provider variables if not already set.
// GEMINI_API_KEY wins over OPENAI_API_KEY since the default endpoint is Gemini's.
func loadAPIKeysFromEnv() {
	if cfg.Embeddings.OpenAI.APIKey == "" {
		cfg.Embeddings.OpenAI.APIKey = firstEnv("GEMINI_API_KEY", "OPENAI_API_KEY")
	}
	if cfg.LLM.OpenAI.APIKey == "" {
		cfg.LLM.OpenAI.APIKey = firstEnv("GEMINI_API_KEY", "OPENAI_API_KEY")
	}
	if cfg.LLM.Anthropic.APIKey == "" {
		cfg.LLM.Anthropic.APIKey = os.Getenv("ANTHROPIC_API_KEY")
	}
	if cfg.Embeddings.Gemini.APIKey == "" {
		cfg.Embeddings.Gemini.APIKey = firstEnv("GEMINI_API_KEY", "GOOGLE_API_KEY")
	}
	if cfg.LLM.Gemini.APIKey == "" {
		cfg.LLM.Gemini.APIKey = firstEnv("GEMINI_API_KEY", "GOOGLE_API_KEY")
	}

	if v := os.Getenv("GEMINI_BASE_URL"); v != "" {
		if cfg.Embeddings.OpenAI.BaseURL == DefaultOpenAIBaseURL {
			cfg.Embeddings.OpenAI.BaseURL = v
		}
		if cfg.LLM.OpenAI.BaseURL == DefaultOpenAIBaseURL {
			cfg.LLM.OpenAI.BaseURL = v
		}
	}
}

// ConfigFilePath returns the path of the loaded config file, or empty string if none.
func ConfigFilePath() string {
	return viper.ConfigFileUsed()
}

// GlobalConfigPath returns the path to the global config file.
func GlobalConfigPath() string {
	return filepath.Join(DefaultConfigDir(), "config.yaml")
}
