package store

import (
	"context"
	"errors"
)

// ErrDimensionMismatch is returned when an embedding does not match the
// dimension a collection was created with.
var ErrDimensionMismatch = errors.New("embedding dimension mismatch")

// Store defines the interface for document and vector storage.
type Store interface {
	// Collection management
	GetOrCreateCollection(ctx context.Context, name string, provider EmbeddingProvider, model string) (*Collection, error)
	GetCollection(ctx context.Context, name string) (*Collection, error)
	ListCollections(ctx context.Context) ([]Collection, error)
	DeleteCollection(ctx context.Context, name string) error

	// Documents
	InsertDocument(ctx context.Context, collectionID int64, doc DocumentInput, embedding []float32) error
	GetDocument(ctx context.Context, collectionID int64, externalID string) (*DocumentRecord, error)
	CountDocuments(ctx context.Context, collectionID int64) (int, error)

	// Search
	Search(ctx context.Context, collectionID int64, queryEmbedding []float32, k int) ([]SearchResult, error)

	// Stats
	GetStats(ctx context.Context, collectionID int64) (*CollectionStats, error)

	Close() error
}
