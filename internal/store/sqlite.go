package store

import (
	"context"
	"database/sql"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"time"

	"github.com/charmbracelet/log"
	"github.com/mattn/go-sqlite3"

	sqlite_vec "github.com/asg017/sqlite-vec-go-bindings/cgo"
)

// maxK is the largest k sqlite-vec accepts in a KNN query.
const maxK = 4096

// ErrDocumentExists is returned when a document id is already present in the collection.
var ErrDocumentExists = errors.New("document already exists")

func init() {
	sqlite_vec.Auto()
}

// SQLiteStore implements the Store interface using SQLite and sqlite-vec.
// Writers are serialized by SQLite itself: every transaction takes the write
// lock up front and waits on busy_timeout instead of failing.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a new SQLite store at the given path.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	dsn := dbPath + "?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000&_txlock=immediate"
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := initSchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	log.Debug("Opened SQLite store", "path", dbPath)

	return &SQLiteStore{db: db}, nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

const collectionColumns = `id, name, embedding_provider, embedding_model, embedding_dimensions, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCollection(row rowScanner) (*Collection, error) {
	var c Collection
	var provider, createdAt, updatedAt string
	if err := row.Scan(&c.ID, &c.Name, &provider, &c.EmbeddingModel, &c.EmbeddingDimensions, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	c.EmbeddingProvider = EmbeddingProvider(provider)
	c.CreatedAt = parseTime(createdAt)
	c.UpdatedAt = parseTime(updatedAt)
	return &c, nil
}

// GetOrCreateCollection returns the named collection, creating it on first access.
func (s *SQLiteStore) GetOrCreateCollection(ctx context.Context, name string, provider EmbeddingProvider, model string) (*Collection, error) {
	now := nowString()
	_, err := s.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO collections (name, embedding_provider, embedding_model, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
	`, name, string(provider), model, now, now)
	if err != nil {
		return nil, fmt.Errorf("failed to create collection: %w", err)
	}

	c, err := s.GetCollection(ctx, name)
	if err != nil {
		return nil, err
	}
	if c == nil {
		return nil, fmt.Errorf("collection %q vanished after creation", name)
	}
	return c, nil
}

// GetCollection retrieves a collection by name, or nil if it does not exist.
func (s *SQLiteStore) GetCollection(ctx context.Context, name string) (*Collection, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+collectionColumns+` FROM collections WHERE name = ?`, name)
	c, err := scanCollection(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get collection: %w", err)
	}
	return c, nil
}

// ListCollections returns all collections ordered by name.
func (s *SQLiteStore) ListCollections(ctx context.Context) ([]Collection, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+collectionColumns+` FROM collections ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("failed to list collections: %w", err)
	}
	defer rows.Close()

	var collections []Collection
	for rows.Next() {
		c, err := scanCollection(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan collection: %w", err)
		}
		collections = append(collections, *c)
	}

	return collections, rows.Err()
}

// DeleteCollection drops a collection with its documents and vector table.
func (s *SQLiteStore) DeleteCollection(ctx context.Context, name string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var id int64
	err = tx.QueryRowContext(ctx, "SELECT id FROM collections WHERE name = ?", name).Scan(&id)
	if err == sql.ErrNoRows {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to get collection ID: %w", err)
	}

	if _, err := tx.ExecContext(ctx, "DROP TABLE IF EXISTS "+vectorTableName(id)); err != nil {
		return fmt.Errorf("failed to drop vector table: %w", err)
	}

	// Cascades to documents.
	if _, err := tx.ExecContext(ctx, "DELETE FROM collections WHERE id = ?", id); err != nil {
		return fmt.Errorf("failed to delete collection: %w", err)
	}

	return tx.Commit()
}

// InsertDocument stores a document and its embedding atomically. The first
// embedding stored in a collection fixes its dimension and creates its vector table.
func (s *SQLiteStore) InsertDocument(ctx context.Context, collectionID int64, doc DocumentInput, embedding []float32) error {
	if len(embedding) == 0 {
		return fmt.Errorf("empty embedding for document %q", doc.ExternalID)
	}

	metadata := doc.Metadata
	if metadata == nil {
		metadata = map[string]any{}
	}
	metadataJSON, err := json.Marshal(metadata)
	if err != nil {
		return fmt.Errorf("failed to encode metadata: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var dims int
	err = tx.QueryRowContext(ctx, "SELECT embedding_dimensions FROM collections WHERE id = ?", collectionID).Scan(&dims)
	if err == sql.ErrNoRows {
		return fmt.Errorf("collection %d not found", collectionID)
	}
	if err != nil {
		return fmt.Errorf("failed to read collection: %w", err)
	}

	switch {
	case dims == 0:
		log.Debug("Creating vector table", "collection", collectionID, "dimensions", len(embedding))
		if err := createVectorTable(ctx, tx, collectionID, len(embedding)); err != nil {
			return fmt.Errorf("failed to create vector table: %w", err)
		}
		if _, err := tx.ExecContext(ctx, "UPDATE collections SET embedding_dimensions = ? WHERE id = ?", len(embedding), collectionID); err != nil {
			return fmt.Errorf("failed to record dimensions: %w", err)
		}
	case dims != len(embedding):
		return fmt.Errorf("%w: collection has %d, got %d", ErrDimensionMismatch, dims, len(embedding))
	}

	now := nowString()
	result, err := tx.ExecContext(ctx, `
		INSERT INTO documents (collection_id, external_id, content, metadata, content_hash, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, collectionID, doc.ExternalID, doc.Content, string(metadataJSON), doc.ContentHash, now)
	if err != nil {
		var sqliteErr sqlite3.Error
		if errors.As(err, &sqliteErr) && sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique {
			return fmt.Errorf("%w: %s", ErrDocumentExists, doc.ExternalID)
		}
		return fmt.Errorf("failed to insert document: %w", err)
	}
	docID, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get document ID: %w", err)
	}

	_, err = tx.ExecContext(ctx,
		fmt.Sprintf("INSERT INTO %s (doc_id, embedding) VALUES (?, ?)", vectorTableName(collectionID)),
		docID, serializeEmbedding(embedding))
	if err != nil {
		return fmt.Errorf("failed to insert vector: %w", err)
	}

	if _, err := tx.ExecContext(ctx, "UPDATE collections SET updated_at = ? WHERE id = ?", now, collectionID); err != nil {
		return fmt.Errorf("failed to update collection timestamp: %w", err)
	}

	return tx.Commit()
}

// GetDocument retrieves a document by its external ID, or nil if absent.
func (s *SQLiteStore) GetDocument(ctx context.Context, collectionID int64, externalID string) (*DocumentRecord, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, collection_id, external_id, content, metadata, content_hash, created_at
		FROM documents WHERE collection_id = ? AND external_id = ?
	`, collectionID, externalID)

	var d DocumentRecord
	var metadata, createdAt string
	err := row.Scan(&d.ID, &d.CollectionID, &d.ExternalID, &d.Content, &metadata, &d.ContentHash, &createdAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get document: %w", err)
	}

	if d.Metadata, err = decodeMetadata(metadata); err != nil {
		return nil, err
	}
	d.CreatedAt = parseTime(createdAt)
	return &d, nil
}

// CountDocuments returns the number of documents in a collection.
func (s *SQLiteStore) CountDocuments(ctx context.Context, collectionID int64) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM documents WHERE collection_id = ?", collectionID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count documents: %w", err)
	}
	return n, nil
}

// Search returns up to k documents nearest to queryEmbedding, ordered by
// ascending cosine distance. A collection with no vectors yields no results.
func (s *SQLiteStore) Search(ctx context.Context, collectionID int64, queryEmbedding []float32, k int) ([]SearchResult, error) {
	var dims int
	err := s.db.QueryRowContext(ctx, "SELECT embedding_dimensions FROM collections WHERE id = ?", collectionID).Scan(&dims)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("collection %d not found", collectionID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read collection: %w", err)
	}
	if dims == 0 {
		return []SearchResult{}, nil
	}
	if dims != len(queryEmbedding) {
		return nil, fmt.Errorf("%w: collection has %d, query has %d", ErrDimensionMismatch, dims, len(queryEmbedding))
	}
	if k > maxK {
		k = maxK
	}

	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(`
		SELECT d.id, d.collection_id, d.external_id, d.content, d.metadata, d.content_hash, d.created_at, v.distance
		FROM %s v
		JOIN documents d ON d.id = v.doc_id
		WHERE v.embedding MATCH ?
			AND k = ?
		ORDER BY v.distance ASC
	`, vectorTableName(collectionID)), serializeEmbedding(queryEmbedding), k)
	if err != nil {
		return nil, fmt.Errorf("failed to search: %w", err)
	}
	defer rows.Close()

	results := []SearchResult{}
	for rows.Next() {
		var r SearchResult
		var metadata, createdAt string
		if err := rows.Scan(
			&r.Document.ID, &r.Document.CollectionID, &r.Document.ExternalID,
			&r.Document.Content, &metadata, &r.Document.ContentHash, &createdAt,
			&r.Distance,
		); err != nil {
			return nil, fmt.Errorf("failed to scan search result: %w", err)
		}
		if r.Document.Metadata, err = decodeMetadata(metadata); err != nil {
			return nil, err
		}
		r.Document.CreatedAt = parseTime(createdAt)
		results = append(results, r)
	}

	return results, rows.Err()
}

// GetStats returns statistics for a collection.
func (s *SQLiteStore) GetStats(ctx context.Context, collectionID int64) (*CollectionStats, error) {
	stats := CollectionStats{CollectionID: collectionID}

	err := s.db.QueryRowContext(ctx, "SELECT name FROM collections WHERE id = ?", collectionID).Scan(&stats.CollectionName)
	if err != nil {
		return nil, fmt.Errorf("failed to get collection name: %w", err)
	}

	var lastAdded sql.NullString
	err = s.db.QueryRowContext(ctx, `
		SELECT COUNT(*), COALESCE(SUM(length(content)), 0), MAX(created_at)
		FROM documents WHERE collection_id = ?
	`, collectionID).Scan(&stats.DocumentCount, &stats.TotalChars, &lastAdded)
	if err != nil {
		return nil, fmt.Errorf("failed to get document stats: %w", err)
	}
	if lastAdded.Valid {
		stats.LastAddedAt = parseTime(lastAdded.String)
	}

	return &stats, nil
}

func decodeMetadata(raw string) (map[string]any, error) {
	metadata := map[string]any{}
	if raw == "" {
		return metadata, nil
	}
	if err := json.Unmarshal([]byte(raw), &metadata); err != nil {
		return nil, fmt.Errorf("failed to decode metadata: %w", err)
	}
	return metadata, nil
}

func nowString() string {
	return time.Now().UTC().Format(time.RFC3339)
}

func parseTime(s string) time.Time {
	t, _ := time.Parse(time.RFC3339, s)
	return t
}

// serializeEmbedding converts a float32 slice to bytes for sqlite-vec.
func serializeEmbedding(embedding []float32) []byte {
	buf := make([]byte, len(embedding)*4)
	for i, v := range embedding {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(v))
	}
	return buf
}
