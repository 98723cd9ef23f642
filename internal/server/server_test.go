package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/nickcecere/ragd/internal/alerts"
	"github.com/nickcecere/ragd/internal/errs"
	"github.com/nickcecere/ragd/internal/knowledge"
	"github.com/nickcecere/ragd/internal/rag"
	"github.com/nickcecere/ragd/internal/vectordb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeAnswerer struct {
	mu        sync.Mutex
	ingested  []vectordb.Document
	ingestErr error
	answerErr error
	lastQuery string
	lastK     int
	panicOn   string
}

func (f *fakeAnswerer) Ingest(ctx context.Context, docs []vectordb.Document) (vectordb.AddResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.ingestErr != nil {
		return vectordb.AddResult{}, f.ingestErr
	}
	f.ingested = append(f.ingested, docs...)
	return vectordb.AddResult{Added: len(docs) - 1, Skipped: 1}, nil
}

func (f *fakeAnswerer) Answer(ctx context.Context, query string, k int) (*rag.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if query == f.panicOn {
		panic("boom")
	}
	f.lastQuery, f.lastK = query, k
	if f.answerErr != nil {
		return nil, f.answerErr
	}
	return &rag.Result{
		Answer: "Move to higher ground.",
		Sources: []vectordb.RetrievedItem{
			{Text: "Flood safety: move to higher ground.", Metadata: map[string]any{"topic": "flood"}, Distance: 0.12},
		},
		UsedSourceIndexes: []int{1},
	}, nil
}

type fakeAlerts struct {
	req  alerts.Request
	resp *alerts.Response
	err  error
}

func (f *fakeAlerts) List(ctx context.Context, req alerts.Request) (*alerts.Response, error) {
	f.req = req
	return f.resp, f.err
}

type fakeKnowledge struct {
	req knowledge.Request
	err error
}

func (f *fakeKnowledge) List(req knowledge.Request) (*knowledge.Response, error) {
	f.req = req
	if f.err != nil {
		return nil, f.err
	}
	docs := []knowledge.Doc{{ID: "w1", Text: "Boil water.", Metadata: knowledge.Metadata{Category: "water"}}}
	return knowledge.Filter(docs, req), nil
}

type testServer struct {
	answerer  *fakeAnswerer
	alerts    *fakeAlerts
	knowledge *fakeKnowledge
	handler   http.Handler
}

func newTestServer() *testServer {
	ts := &testServer{
		answerer:  &fakeAnswerer{panicOn: "panic please"},
		alerts:    &fakeAlerts{resp: &alerts.Response{Items: []alerts.News{}}},
		knowledge: &fakeKnowledge{},
	}
	ts.handler = New(ts.answerer, ts.alerts, ts.knowledge, Options{}).Handler()
	return ts
}

func (ts *testServer) do(t *testing.T, method, target, body string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	rec := httptest.NewRecorder()
	ts.handler.ServeHTTP(rec, req)

	var out map[string]any
	if strings.HasPrefix(rec.Header().Get("Content-Type"), "application/json") {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	}
	return rec, out
}

func TestRoot(t *testing.T) {
	ts := newTestServer()

	rec, body := ts.do(t, http.MethodGet, "/", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, "API is running.", body["message"])
	assert.NotEmpty(t, rec.Header().Get(RequestIDHeader))

	rec, _ = ts.do(t, http.MethodGet, "/nope", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRequestIDPropagates(t *testing.T) {
	ts := newTestServer()

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(RequestIDHeader, "abc-123")
	rec := httptest.NewRecorder()
	ts.handler.ServeHTTP(rec, req)

	assert.Equal(t, "abc-123", rec.Header().Get(RequestIDHeader))
}

func TestIngest(t *testing.T) {
	ts := newTestServer()

	rec, body := ts.do(t, http.MethodPost, "/ingest",
		`{"docs":[{"id":"1","text":"Flood safety.","metadata":{"topic":"flood","page":3}},{"id":"2","text":"Fire."}]}`)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", body["status"])
	assert.EqualValues(t, 1, body["ingested"])
	assert.EqualValues(t, 1, body["skipped"])

	require.Len(t, ts.answerer.ingested, 2)
	assert.Equal(t, json.Number("3"), ts.answerer.ingested[0].Metadata["page"])
	assert.NotNil(t, ts.answerer.ingested[1].Metadata)
}

func TestIngestValidation(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{"bad json", `{"docs": [`, "invalid input"},
		{"empty batch", `{"docs": []}`, "docs"},
		{"missing text", `{"docs":[{"id":"1","text":"ok"},{"id":"2","text":"  "}]}`, "document 1"},
		{"nested metadata", `{"docs":[{"id":"1","text":"ok","metadata":{"a":{"b":1}}}]}`, "metadata.a"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts := newTestServer()
			rec, body := ts.do(t, http.MethodPost, "/ingest", tt.body)

			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Contains(t, body["error"], tt.want)
			assert.Empty(t, ts.answerer.ingested)
		})
	}
}

func TestIngestStorageError(t *testing.T) {
	ts := newTestServer()
	ts.answerer.ingestErr = errs.Storage("insert document", errors.New("disk full"))

	rec, body := ts.do(t, http.MethodPost, "/ingest", `{"docs":[{"id":"1","text":"x"}]}`)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, body["error"], "disk full")
	assert.NotEmpty(t, body["request_id"])
}

func TestQuery(t *testing.T) {
	ts := newTestServer()

	rec, body := ts.do(t, http.MethodPost, "/query", `{"query":"what to do in a flood","k":1}`)
	require.Equal(t, http.StatusOK, rec.Code)

	assert.Equal(t, "Move to higher ground.", body["answer"])
	assert.Equal(t, []any{float64(1)}, body["used_source_indexes"])
	sources := body["sources"].([]any)
	require.Len(t, sources, 1)
	src := sources[0].(map[string]any)
	assert.Equal(t, "Flood safety: move to higher ground.", src["text"])
	assert.InDelta(t, 0.12, src["distance"], 1e-9)
	assert.NotContains(t, src, "id")

	assert.Equal(t, "what to do in a flood", ts.answerer.lastQuery)
	assert.Equal(t, 1, ts.answerer.lastK)
}

func TestQueryDefaultK(t *testing.T) {
	ts := newTestServer()

	rec, _ := ts.do(t, http.MethodPost, "/query", `{"query":"flood"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 0, ts.answerer.lastK)
}

func TestQueryErrors(t *testing.T) {
	tests := []struct {
		name   string
		body   string
		err    error
		status int
	}{
		{"empty query", `{"query":"  "}`, nil, http.StatusBadRequest},
		{"zero k", `{"query":"flood","k":0}`, nil, http.StatusBadRequest},
		{"bad json", `query=flood`, nil, http.StatusBadRequest},
		{"provider down", `{"query":"flood"}`, errs.Transport("openai", "chat", errors.New("503")), http.StatusBadGateway},
		{"storage", `{"query":"flood"}`, errs.Storage("search", errors.New("locked")), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts := newTestServer()
			ts.answerer.answerErr = tt.err

			rec, body := ts.do(t, http.MethodPost, "/query", tt.body)
			assert.Equal(t, tt.status, rec.Code)
			assert.NotEmpty(t, body["error"])
		})
	}
}

func TestQueryWrongMethod(t *testing.T) {
	ts := newTestServer()
	rec, _ := ts.do(t, http.MethodGet, "/query", "")
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestRecovery(t *testing.T) {
	ts := newTestServer()

	rec, body := ts.do(t, http.MethodPost, "/query", `{"query":"panic please"}`)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "internal server error", body["error"])
}

func TestAlerts(t *testing.T) {
	ts := newTestServer()

	rec, body := ts.do(t, http.MethodGet, "/alerts?province=Warszawa&alarm_only=true", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, alerts.Request{Province: "Warszawa", AlarmOnly: true}, ts.alerts.req)
	assert.Contains(t, body, "items")

	rec, _ = ts.do(t, http.MethodGet, "/alerts?alarm_only=maybe", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAlertsErrors(t *testing.T) {
	ts := newTestServer()

	ts.alerts.err = errs.Transport("alerts", "fetch", errors.New("status 500"))
	rec, _ := ts.do(t, http.MethodGet, "/alerts", "")
	assert.Equal(t, http.StatusBadGateway, rec.Code)

	ts.alerts.err = alerts.ErrNotConfigured
	rec, _ = ts.do(t, http.MethodGet, "/alerts", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestKnowledge(t *testing.T) {
	ts := newTestServer()

	rec, body := ts.do(t, http.MethodGet, "/knowledge?category=water&topic=boiling", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, knowledge.Request{Category: "water", Topic: "boiling"}, ts.knowledge.req)
	assert.EqualValues(t, 1, body["total"])
	assert.EqualValues(t, 0, body["filtered"])

	ts.knowledge.err = fmt.Errorf("failed to read knowledge base: %w", fs.ErrNotExist)
	rec, _ = ts.do(t, http.MethodGet, "/knowledge", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestServeShutsDownOnCancel(t *testing.T) {
	ts := newTestServer()
	srv := New(ts.answerer, ts.alerts, ts.knowledge, Options{ReadTimeout: time.Second, WriteTimeout: time.Second})

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Serve(ctx, ln) }()

	resp, err := http.Get("http://" + ln.Addr().String() + "/")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not shut down")
	}
}
