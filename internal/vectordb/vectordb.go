// Package vectordb is the document index used for retrieval: it embeds
// documents on add and queries on search, and keeps both in a SQLite
// collection.
package vectordb

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/charmbracelet/log"

	"github.com/nickcecere/ragd/internal/embeddings"
	"github.com/nickcecere/ragd/internal/errs"
	"github.com/nickcecere/ragd/internal/store"
)

// Document is a unit of text to index. Metadata values are scalars.
type Document struct {
	ID       string         `json:"id"`
	Text     string         `json:"text"`
	Metadata map[string]any `json:"metadata"`
}

// RetrievedItem is one query hit. Smaller Distance means more similar.
type RetrievedItem struct {
	ID       string         `json:"id,omitempty"`
	Text     string         `json:"text"`
	Metadata map[string]any `json:"metadata"`
	Distance float64        `json:"distance"`
}

// AddResult reports what AddDocuments did with a batch.
type AddResult struct {
	Added   int `json:"added"`
	Skipped int `json:"skipped"`
}

// Stats describes the indexed collection.
type Stats struct {
	Collection  string    `json:"collection"`
	Documents   int       `json:"documents"`
	TotalChars  int64     `json:"total_chars"`
	Dimensions  int       `json:"dimensions"`
	Provider    string    `json:"provider"`
	Model       string    `json:"model"`
	CreatedAt   time.Time `json:"created_at"`
	LastAddedAt time.Time `json:"last_added_at"`
}

// Store is a persistent, named document collection.
type Store struct {
	store        store.Store
	embedder     embeddings.Service
	collection   string
	collectionID atomic.Int64
}

// Open returns the named collection, creating it on first access.
func Open(ctx context.Context, st store.Store, emb embeddings.Service, collection string) (*Store, error) {
	s := &Store{
		store:      st,
		embedder:   emb,
		collection: collection,
	}
	if err := s.attach(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) attach(ctx context.Context) error {
	c, err := s.store.GetOrCreateCollection(ctx, s.collection, store.EmbeddingProvider(s.embedder.Provider()), s.embedder.ModelName())
	if err != nil {
		return errs.Storage("open collection", err)
	}
	if c.EmbeddingModel != s.embedder.ModelName() {
		log.Warn("Collection was built with a different embedding model",
			"collection", c.Name, "stored", c.EmbeddingModel, "configured", s.embedder.ModelName())
	}
	s.collectionID.Store(c.ID)
	log.Debug("Opened collection", "name", c.Name, "id", c.ID, "dimensions", c.EmbeddingDimensions)
	return nil
}

// Name returns the collection name.
func (s *Store) Name() string {
	return s.collection
}

// ContentHash returns the hash recorded for a document's text.
func ContentHash(text string) string {
	return fmt.Sprintf("xxh64:%016x", xxhash.Sum64String(text))
}

// AddDocuments embeds and stores docs in order, one embedding call per new
// document. A document whose id is already stored, or repeats an earlier id in
// the same batch, is skipped without being embedded: the first write wins.
//
// Each document is committed on its own. On failure the remaining documents
// are not attempted, while those already written stay written.
func (s *Store) AddDocuments(ctx context.Context, docs []Document) (AddResult, error) {
	var res AddResult
	id := s.collectionID.Load()
	seen := make(map[string]struct{}, len(docs))

	for i, doc := range docs {
		if _, dup := seen[doc.ID]; dup {
			log.Debug("Skipping repeated id in batch", "id", doc.ID, "index", i)
			res.Skipped++
			continue
		}
		seen[doc.ID] = struct{}{}

		hash := ContentHash(doc.Text)

		existing, err := s.store.GetDocument(ctx, id, doc.ID)
		if err != nil {
			return res, errs.Storage("lookup document", err)
		}
		if existing != nil {
			if existing.ContentHash != hash {
				log.Warn("Document id already stored with different text, keeping stored version", "id", doc.ID)
			}
			res.Skipped++
			continue
		}

		embedding, err := s.embedder.Embed(ctx, doc.Text)
		if err != nil {
			return res, fmt.Errorf("failed to embed document %q: %w", doc.ID, err)
		}

		err = s.store.InsertDocument(ctx, id, store.DocumentInput{
			ExternalID:  doc.ID,
			Content:     doc.Text,
			Metadata:    doc.Metadata,
			ContentHash: hash,
		}, embedding)
		if errors.Is(err, store.ErrDocumentExists) {
			// Lost a race with a concurrent writer for the same id.
			res.Skipped++
			continue
		}
		if err != nil {
			return res, errs.Storage("insert document", err)
		}
		res.Added++
	}

	log.Debug("Added documents", "collection", s.collection, "added", res.Added, "skipped", res.Skipped)
	return res, nil
}

// Query embeds text and returns up to k nearest documents in ascending
// distance order. An empty collection yields an empty slice.
func (s *Store) Query(ctx context.Context, text string, k int) ([]RetrievedItem, error) {
	if k < 1 {
		return nil, errs.Invalid("k", "must be at least 1")
	}

	embedding, err := s.embedder.EmbedQuery(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}

	log.Debug("Searching collection", "collection", s.collection, "k", k)
	results, err := s.store.Search(ctx, s.collectionID.Load(), embedding, k)
	if err != nil {
		return nil, errs.Storage("search", err)
	}

	items := make([]RetrievedItem, 0, len(results))
	for _, r := range results {
		items = append(items, RetrievedItem{
			ID:       r.Document.ExternalID,
			Text:     r.Document.Content,
			Metadata: r.Document.Metadata,
			Distance: r.Distance,
		})
	}
	return items, nil
}

// Count returns the number of stored documents.
func (s *Store) Count(ctx context.Context) (int, error) {
	n, err := s.store.CountDocuments(ctx, s.collectionID.Load())
	if err != nil {
		return 0, errs.Storage("count documents", err)
	}
	return n, nil
}

// IsEmpty reports whether the collection holds no documents.
func (s *Store) IsEmpty(ctx context.Context) (bool, error) {
	n, err := s.Count(ctx)
	if err != nil {
		return false, err
	}
	return n == 0, nil
}

// Stats returns collection statistics.
func (s *Store) Stats(ctx context.Context) (*Stats, error) {
	c, err := s.store.GetCollection(ctx, s.collection)
	if err != nil {
		return nil, errs.Storage("get collection", err)
	}
	if c == nil {
		return nil, errs.Storage("get collection", fmt.Errorf("collection %q not found", s.collection))
	}
	st, err := s.store.GetStats(ctx, c.ID)
	if err != nil {
		return nil, errs.Storage("get stats", err)
	}
	return &Stats{
		Collection:  c.Name,
		Documents:   st.DocumentCount,
		TotalChars:  st.TotalChars,
		Dimensions:  c.EmbeddingDimensions,
		Provider:    string(c.EmbeddingProvider),
		Model:       c.EmbeddingModel,
		CreatedAt:   c.CreatedAt,
		LastAddedAt: st.LastAddedAt,
	}, nil
}

// Reset deletes every document and the vector table, leaving an empty
// collection bound to the current embedder.
func (s *Store) Reset(ctx context.Context) error {
	if err := s.store.DeleteCollection(ctx, s.collection); err != nil {
		return errs.Storage("delete collection", err)
	}
	return s.attach(ctx)
}
