package rag

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/charmbracelet/log"
	"github.com/nickcecere/ragd/internal/embeddings"
	"github.com/nickcecere/ragd/internal/errs"
	"github.com/nickcecere/ragd/internal/llm"
	"github.com/nickcecere/ragd/internal/store"
	"github.com/nickcecere/ragd/internal/vectordb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var vocabulary = []string{"flood", "fire", "water", "food"}

type keywordEmbedder struct{}

func (keywordEmbedder) vector(text string) []float32 {
	v := make([]float32, len(vocabulary))
	lower := strings.ToLower(text)
	for i, w := range vocabulary {
		v[i] = float32(strings.Count(lower, w)) + 0.01
	}
	return v
}

func (e keywordEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	return e.vector(text), nil
}

func (e keywordEmbedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	return e.vector(text), nil
}

func (keywordEmbedder) Dimensions() int               { return len(vocabulary) }
func (keywordEmbedder) Provider() embeddings.Provider { return embeddings.ProviderOllama }
func (keywordEmbedder) ModelName() string             { return "keyword" }

// scriptedLLM returns a fixed reply and records the last request.
type scriptedLLM struct {
	mu       sync.Mutex
	reply    string
	err      error
	messages []llm.Message
	opts     llm.CompletionOptions
}

func (m *scriptedLLM) Complete(ctx context.Context, messages []llm.Message, opts llm.CompletionOptions) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.messages = messages
	m.opts = opts
	return m.reply, m.err
}

func (m *scriptedLLM) Provider() llm.Provider { return llm.ProviderOllama }
func (m *scriptedLLM) ModelName() string      { return "scripted" }

func setupService(t *testing.T, reply string) (*Service, *vectordb.Store, *scriptedLLM) {
	t.Helper()

	st, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	vs, err := vectordb.Open(context.Background(), st, keywordEmbedder{}, "kb")
	require.NoError(t, err)

	model := &scriptedLLM{reply: reply}
	return New(vs, model, Options{Language: "English"}), vs, model
}

func TestBuildContext(t *testing.T) {
	got := BuildContext([]vectordb.RetrievedItem{
		{Text: "A", Metadata: map[string]any{"x": "1"}},
		{Text: "B", Metadata: map[string]any{}},
	})
	assert.Equal(t, "[Source 1 (x=1)]\nA\n\n[Source 2 ()]\nB", got)
}

func TestBuildContextSortsMetadata(t *testing.T) {
	got := BuildContext([]vectordb.RetrievedItem{
		{Text: "T", Metadata: map[string]any{"topic": "boiling", "category": "water", "page": float64(3)}},
	})
	assert.Equal(t, "[Source 1 (category=water, page=3, topic=boiling)]\nT", got)
}

func TestBuildContextEmpty(t *testing.T) {
	assert.Equal(t, "", BuildContext(nil))
}

func TestParseAnswer(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		answer  string
		indexes []int
		ok      bool
	}{
		{"plain", `{"answer":"Boil it.","used_source_indexes":[1,2]}`, "Boil it.", []int{1, 2}, true},
		{"no indexes", `{"answer":"Boil it."}`, "Boil it.", []int{}, true},
		{"fenced", "```json\n{\"answer\":\"Go up.\",\"used_source_indexes\":[1]}\n```", "Go up.", []int{1}, true},
		{"extra keys", `{"answer":"x","used_source_indexes":[1],"confidence":"high"}`, "x", []int{1}, true},
		{"trailing comma", `{"answer":"Go up.","used_source_indexes":[1,],}`, "Go up.", []int{1}, true},
		{"prose", "I cannot answer that.", "I cannot answer that.", []int{}, false},
		{"wrong type", `{"answer":42}`, `{"answer":42}`, []int{}, false},
		{"missing answer", `{"used_source_indexes":[1]}`, `{"used_source_indexes":[1]}`, []int{}, false},
		{"array", `[1,2,3]`, `[1,2,3]`, []int{}, false},
		{"empty", "", "", []int{}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := ParseAnswer(tt.raw)
			assert.Equal(t, tt.ok, p.OK)
			assert.Equal(t, tt.answer, p.Answer)
			assert.Equal(t, tt.indexes, p.UsedSourceIndexes)
		})
	}
}

func TestNormalizeIndexes(t *testing.T) {
	assert.Equal(t, []int{2, 1}, NormalizeIndexes([]int{2, 0, 1, 2, 7, -1}, 3))
	assert.Equal(t, []int{}, NormalizeIndexes([]int{1}, 0))
	assert.Equal(t, []int{}, NormalizeIndexes(nil, 3))
}

func TestAnswerSchema(t *testing.T) {
	rs := AnswerSchema()
	require.NotNil(t, rs.Schema)

	assert.Equal(t, "grounded_answer", rs.Name)
	assert.ElementsMatch(t, []string{"answer", "used_source_indexes"}, rs.Schema.Required)
	assert.Equal(t, "string", rs.Schema.Properties["answer"].Type)

	idx := rs.Schema.Properties["used_source_indexes"]
	assert.Equal(t, "array", idx.Type)
	assert.Empty(t, idx.Types)
	require.NotNil(t, idx.Items)
	assert.Equal(t, "integer", idx.Items.Type)

	// The request copy must not leak into the validation schema.
	assert.True(t, ParseAnswer(`{"answer":"x"}`).OK)
}

func TestAnswerConcurrentCallers(t *testing.T) {
	ctx := context.Background()
	svc, _, _ := setupService(t, `{"answer":"Boil it.","used_source_indexes":[1,9]}`)

	_, err := svc.Ingest(ctx, []vectordb.Document{
		{ID: "w", Text: "Boil water for a minute."},
		{ID: "f", Text: "Flood: move to higher ground."},
	})
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if i%2 == 0 {
				_, err := svc.Ingest(ctx, []vectordb.Document{{ID: fmt.Sprintf("food-%d", i), Text: "Store food in a dry place."}})
				assert.NoError(t, err)
			}
			res, err := svc.Answer(ctx, "is the water safe", 2)
			if !assert.NoError(t, err) {
				return
			}
			assert.Equal(t, "Boil it.", res.Answer)
			assert.Len(t, res.Sources, 2)
			assert.Equal(t, []int{1}, res.UsedSourceIndexes)
		}(i)
	}
	wg.Wait()
}

func TestAnswerEndToEnd(t *testing.T) {
	ctx := context.Background()
	svc, vs, model := setupService(t, `{"answer":"Move to higher ground.","used_source_indexes":[1]}`)

	empty, err := vs.IsEmpty(ctx)
	require.NoError(t, err)
	assert.True(t, empty)

	_, err = svc.Ingest(ctx, []vectordb.Document{
		{ID: "1", Text: "Flood safety: move to higher ground.", Metadata: map[string]any{"topic": "flood"}},
	})
	require.NoError(t, err)

	empty, err = vs.IsEmpty(ctx)
	require.NoError(t, err)
	assert.False(t, empty)

	res, err := svc.Answer(ctx, "what to do in a flood", 1)
	require.NoError(t, err)

	require.Len(t, res.Sources, 1)
	assert.Equal(t, "1", res.Sources[0].ID)
	assert.Equal(t, "Flood safety: move to higher ground.", res.Sources[0].Text)
	assert.Equal(t, "Move to higher ground.", res.Answer)
	assert.Equal(t, []int{1}, res.UsedSourceIndexes)
	assert.True(t, res.Structured)

	require.Len(t, model.messages, 2)
	assert.Equal(t, "system", model.messages[0].Role)
	assert.Contains(t, model.messages[0].Content, "English")
	assert.Contains(t, model.messages[1].Content, "what to do in a flood")
	assert.Contains(t, model.messages[1].Content, "[Source 1 (topic=flood)]\nFlood safety: move to higher ground.")
	require.NotNil(t, model.opts.Schema)
}

func TestAnswerReturnsAllRetrieved(t *testing.T) {
	ctx := context.Background()
	svc, _, _ := setupService(t, `{"answer":"ok","used_source_indexes":[2,9,2]}`)

	_, err := svc.Ingest(ctx, []vectordb.Document{
		{ID: "a", Text: "flood flood"},
		{ID: "b", Text: "fire"},
		{ID: "c", Text: "food"},
	})
	require.NoError(t, err)

	res, err := svc.Answer(ctx, "flood", 3)
	require.NoError(t, err)
	assert.Len(t, res.Sources, 3)
	assert.Equal(t, "a", res.Sources[0].ID)
	assert.Equal(t, []int{2}, res.UsedSourceIndexes)
}

func TestAnswerMalformedReply(t *testing.T) {
	ctx := context.Background()
	svc, _, _ := setupService(t, "Sorry, I am not sure.")

	_, err := svc.Ingest(ctx, []vectordb.Document{{ID: "1", Text: "flood"}})
	require.NoError(t, err)

	res, err := svc.Answer(ctx, "flood", 0)
	require.NoError(t, err)
	assert.Equal(t, "Sorry, I am not sure.", res.Answer)
	assert.Equal(t, []int{}, res.UsedSourceIndexes)
	assert.False(t, res.Structured)
	assert.Len(t, res.Sources, 1)
}

func TestAnswerEmptyStore(t *testing.T) {
	svc, _, model := setupService(t, `{"answer":"I don't know.","used_source_indexes":[]}`)

	res, err := svc.Answer(context.Background(), "anything", 4)
	require.NoError(t, err)
	assert.Empty(t, res.Sources)
	assert.Equal(t, []int{}, res.UsedSourceIndexes)
	assert.Contains(t, model.messages[1].Content, "(no context available)")
}

func TestAnswerCompletionError(t *testing.T) {
	svc, _, model := setupService(t, "")
	model.err = errs.Transport("fake", "chat", errors.New("503"))

	_, err := svc.Answer(context.Background(), "flood", 2)
	require.Error(t, err)
	assert.True(t, errs.IsTransport(err))
}

func writeKnowledge(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "knowledge_base.json")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

const knowledgeJSON = `{"docs":[
 {"id":"k1","text":"Store 3 litres of water per person per day.","metadata":{"category":"water","topic":"storage","source":"guide"}},
 {"id":"k2","text":"During a flood move to higher ground.","metadata":{"category":"flood","topic":"evacuation","source":"guide"}}
]}`

func TestLoadKnowledgeIdempotent(t *testing.T) {
	ctx := context.Background()
	svc, vs, _ := setupService(t, "")
	path := writeKnowledge(t, knowledgeJSON)

	assert.Equal(t, 2, svc.LoadKnowledgeFromJSON(ctx, path))
	assert.Equal(t, 0, svc.LoadKnowledgeFromJSON(ctx, path))

	n, err := vs.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestLoadKnowledgeFailures(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"bad json", `{"docs": [`},
		{"no docs key", `{"items": []}`},
		{"empty docs", `{"docs": []}`},
		{"docs not a list", `{"docs": "nope"}`},
		{"invalid doc", `{"docs": [{"id": "", "text": "x"}]}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, vs, _ := setupService(t, "")
			assert.Equal(t, 0, svc.LoadKnowledgeFromJSON(context.Background(), writeKnowledge(t, tt.content)))

			empty, err := vs.IsEmpty(context.Background())
			require.NoError(t, err)
			assert.True(t, empty)
		})
	}
}

// failingStore is empty and writes one document before failing.
type failingStore struct{}

func (failingStore) AddDocuments(ctx context.Context, docs []vectordb.Document) (vectordb.AddResult, error) {
	return vectordb.AddResult{Added: 1}, errs.Storage("insert document", errors.New("disk full"))
}

func (failingStore) Query(ctx context.Context, text string, k int) ([]vectordb.RetrievedItem, error) {
	return nil, nil
}

func (failingStore) IsEmpty(ctx context.Context) (bool, error) { return true, nil }

func TestLoadKnowledgePartialSeedNamesReset(t *testing.T) {
	var buf bytes.Buffer
	log.SetOutput(&buf)
	t.Cleanup(func() { log.SetOutput(os.Stderr) })

	svc := New(failingStore{}, &scriptedLLM{}, Options{})
	path := writeKnowledge(t, `{"docs": [{"id": "a", "text": "one"}, {"id": "b", "text": "two"}]}`)

	assert.Equal(t, 0, svc.LoadKnowledgeFromJSON(context.Background(), path))
	assert.Contains(t, buf.String(), "partially seeded")
	assert.Contains(t, buf.String(), "ragd reset")
}

func TestLoadKnowledgeMissingFile(t *testing.T) {
	svc, _, _ := setupService(t, "")
	assert.Equal(t, 0, svc.LoadKnowledgeFromJSON(context.Background(), filepath.Join(t.TempDir(), "missing.json")))
}

func TestLoadKnowledgeSkipsPopulatedStore(t *testing.T) {
	ctx := context.Background()
	svc, _, _ := setupService(t, "")

	_, err := svc.Ingest(ctx, []vectordb.Document{{ID: "x", Text: "existing"}})
	require.NoError(t, err)

	// An unreadable file is never opened when the store is populated.
	assert.Equal(t, 0, svc.LoadKnowledgeFromJSON(ctx, writeKnowledge(t, `not json`)))
}
