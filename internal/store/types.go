// Package store persists documents and their embeddings in SQLite, using
// sqlite-vec for nearest-neighbour search.
package store

import "time"

// EmbeddingProvider represents the provider used for embeddings.
type EmbeddingProvider string

const (
	ProviderOllama EmbeddingProvider = "ollama"
	ProviderOpenAI EmbeddingProvider = "openai"
	ProviderGemini EmbeddingProvider = "gemini"
)

// Collection is a named set of documents sharing one vector table.
// EmbeddingDimensions is zero until the first vector is stored.
type Collection struct {
	ID                  int64             `json:"id"`
	Name                string            `json:"name"`
	EmbeddingProvider   EmbeddingProvider `json:"embedding_provider"`
	EmbeddingModel      string            `json:"embedding_model"`
	EmbeddingDimensions int               `json:"embedding_dimensions"`
	CreatedAt           time.Time         `json:"created_at"`
	UpdatedAt           time.Time         `json:"updated_at"`
}

// DocumentInput is a document to be inserted with its embedding.
type DocumentInput struct {
	ExternalID  string         `json:"external_id"`
	Content     string         `json:"content"`
	Metadata    map[string]any `json:"metadata"`
	ContentHash string         `json:"content_hash"`
}

// DocumentRecord is a stored document.
type DocumentRecord struct {
	ID           int64          `json:"id"`
	CollectionID int64          `json:"collection_id"`
	ExternalID   string         `json:"external_id"`
	Content      string         `json:"content"`
	Metadata     map[string]any `json:"metadata"`
	ContentHash  string         `json:"content_hash"`
	CreatedAt    time.Time      `json:"created_at"`
}

// SearchResult is one nearest-neighbour hit.
type SearchResult struct {
	Document DocumentRecord `json:"document"`
	Distance float64        `json:"distance"` // Cosine distance from sqlite-vec
}

// CollectionStats contains statistics about a collection.
type CollectionStats struct {
	CollectionID   int64     `json:"collection_id"`
	CollectionName string    `json:"collection_name"`
	DocumentCount  int       `json:"document_count"`
	TotalChars     int64     `json:"total_chars"`
	LastAddedAt    time.Time `json:"last_added_at"`
}
