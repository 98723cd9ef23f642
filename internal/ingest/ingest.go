// Package ingest validates externally supplied documents before they reach
// the vector store.
package ingest

import (
	"encoding/json"
	"strings"

	"github.com/nickcecere/ragd/internal/errs"
	"github.com/nickcecere/ragd/internal/vectordb"
)

// RawDocument is a document as received from a caller.
type RawDocument struct {
	ID       string         `json:"id"`
	Text     string         `json:"text"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// Request is the ingestion payload shape shared by the HTTP API, the CLI and
// the knowledge base file.
type Request struct {
	Docs []RawDocument `json:"docs"`
}

// Normalize validates every document and converts the batch to the vector
// store's input shape. The first invalid document rejects the whole batch
// with an *errs.ValidationError naming its index.
func Normalize(raw []RawDocument) ([]vectordb.Document, error) {
	if len(raw) == 0 {
		return nil, errs.Invalid("docs", "must contain at least one document")
	}

	docs := make([]vectordb.Document, 0, len(raw))
	for i, r := range raw {
		if strings.TrimSpace(r.ID) == "" {
			return nil, &errs.ValidationError{Index: i, Field: "id", Reason: "is required"}
		}
		if strings.TrimSpace(r.Text) == "" {
			return nil, &errs.ValidationError{Index: i, Field: "text", Reason: "is required"}
		}

		metadata := make(map[string]any, len(r.Metadata))
		for k, v := range r.Metadata {
			if k == "" {
				return nil, &errs.ValidationError{Index: i, Field: "metadata", Reason: "keys must be non-empty"}
			}
			if !isScalar(v) {
				return nil, &errs.ValidationError{Index: i, Field: "metadata." + k, Reason: "must be a string, number or boolean"}
			}
			metadata[k] = v
		}

		docs = append(docs, vectordb.Document{
			ID:       r.ID,
			Text:     r.Text,
			Metadata: metadata,
		})
	}

	return docs, nil
}

func isScalar(v any) bool {
	switch v.(type) {
	case string, bool, json.Number,
		float64, float32,
		int, int8, int16, int32, int64,
		uint, uint8, uint16, uint32, uint64:
		return true
	default:
		return false
	}
}
