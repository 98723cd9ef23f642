package config

import (
	"os"
	"path/filepath"
	"time"
)

// Default configuration values
const (
	// Embedding defaults
	DefaultEmbeddingProvider = "openai"
	DefaultOllamaURL         = "http://localhost:11434"
	DefaultOllamaEmbedModel  = "nomic-embed-text"
	DefaultOpenAIBaseURL     = "https://generativelanguage.googleapis.com/v1beta/openai/"
	DefaultOpenAIEmbedModel  = "gemini-embedding-001"
	DefaultGeminiEmbedModel  = "gemini-embedding-001"

	// LLM defaults
	DefaultLLMProvider    = "openai"
	DefaultOllamaLLMModel = "llama3"
	DefaultOpenAILLMModel = "gemini-1.5-flash"
	DefaultAnthropicModel = "claude-3-haiku-20240307"
	DefaultGeminiLLMModel = "gemini-1.5-flash"
	DefaultTemperature    = 0.2
	DefaultMaxTokens      = 1024

	// Retrieval defaults
	DefaultTopK     = 4
	DefaultLanguage = "Polish"

	// Document loader defaults
	DefaultMaxFileSize  = 1 << 20 // 1MB
	DefaultChunkSize    = 1500
	DefaultChunkOverlap = 200

	// Database
	DefaultDBFileName = "ragd.db"
	DefaultCollection = "mprzetrwaniec"

	// Server
	DefaultServerAddr   = ":8000"
	DefaultReadTimeout  = 30 * time.Second
	DefaultWriteTimeout = 120 * time.Second

	// Alerts
	DefaultAlertsTimeout = 10 * time.Second

	// Knowledge base
	DefaultKnowledgePath = "data/knowledge_base.json"
)

// DefaultExtensions returns the file extensions picked up when ingesting a directory.
func DefaultExtensions() []string {
	return []string{".txt", ".md", ".markdown", ".rst"}
}

// DefaultIgnorePatterns returns the default list of file patterns to ignore
// when ingesting a directory.
func DefaultIgnorePatterns() []string {
	return []string{
		".git/",
		".svn/",
		".hg/",
		"node_modules/",
		"vendor/",
		".venv/",
		"__pycache__/",
		".idea/",
		".vscode/",
		"*.swp",
		"*~",
		".DS_Store",
		".env",
		".env.*",
		"*.log",
	}
}

// DefaultConfigDir returns the default configuration directory path.
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".config/ragd"
	}
	return filepath.Join(home, ".config", "ragd")
}

// DefaultDataDir returns the default data directory path.
func DefaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".local/share/ragd"
	}
	return filepath.Join(home, ".local", "share", "ragd")
}

// DefaultDatabasePath returns the default database file path.
func DefaultDatabasePath() string {
	return filepath.Join(DefaultDataDir(), DefaultDBFileName)
}
