package ingest

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nickcecere/ragd/internal/errs"
)

func TestNormalize(t *testing.T) {
	docs, err := Normalize([]RawDocument{
		{ID: "1", Text: "Flood safety: move to higher ground.", Metadata: map[string]any{"topic": "flood", "level": 3.0, "urgent": true}},
		{ID: "2", Text: "Pack a go-bag."},
	})
	require.NoError(t, err)
	require.Len(t, docs, 2)

	assert.Equal(t, "1", docs[0].ID)
	assert.Equal(t, "flood", docs[0].Metadata["topic"])
	assert.NotNil(t, docs[1].Metadata, "metadata defaults to an empty map")
	assert.Empty(t, docs[1].Metadata)
}

func TestNormalizeFromJSON(t *testing.T) {
	var req Request
	require.NoError(t, json.Unmarshal([]byte(`{"docs":[{"id":"a","text":"hello","metadata":{"n":1,"s":"x"}}]}`), &req))

	docs, err := Normalize(req.Docs)
	require.NoError(t, err)
	assert.Equal(t, float64(1), docs[0].Metadata["n"])
}

func TestNormalizeRejectsWholeBatch(t *testing.T) {
	tests := []struct {
		name  string
		docs  []RawDocument
		index int
		field string
	}{
		{"missing id", []RawDocument{{ID: "ok", Text: "t"}, {Text: "t"}}, 1, "id"},
		{"blank id", []RawDocument{{ID: "  ", Text: "t"}}, 0, "id"},
		{"missing text", []RawDocument{{ID: "a", Text: "t"}, {ID: "b", Text: "t"}, {ID: "c"}}, 2, "text"},
		{"whitespace text", []RawDocument{{ID: "a", Text: "\n\t"}}, 0, "text"},
		{"nested metadata", []RawDocument{{ID: "a", Text: "t", Metadata: map[string]any{"tags": []any{"x"}}}}, 0, "metadata.tags"},
		{"null metadata value", []RawDocument{{ID: "a", Text: "t", Metadata: map[string]any{"v": nil}}}, 0, "metadata.v"},
		{"empty metadata key", []RawDocument{{ID: "a", Text: "t", Metadata: map[string]any{"": "x"}}}, 0, "metadata"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			docs, err := Normalize(tt.docs)
			require.Error(t, err)
			assert.Nil(t, docs)

			var ve *errs.ValidationError
			require.True(t, errors.As(err, &ve))
			assert.Equal(t, tt.index, ve.Index)
			assert.Equal(t, tt.field, ve.Field)
		})
	}
}

func TestNormalizeEmptyBatch(t *testing.T) {
	_, err := Normalize(nil)
	require.Error(t, err)
	assert.True(t, errs.IsValidation(err))
}
