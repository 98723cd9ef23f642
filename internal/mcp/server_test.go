package mcp

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/nickcecere/ragd/internal/alerts"
	"github.com/nickcecere/ragd/internal/knowledge"
	"github.com/nickcecere/ragd/internal/rag"
	"github.com/nickcecere/ragd/internal/vectordb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeAnswerer struct {
	query string
	k     int
	err   error
}

func (f *fakeAnswerer) Answer(ctx context.Context, query string, k int) (*rag.Result, error) {
	f.query, f.k = query, k
	if f.err != nil {
		return nil, f.err
	}
	return &rag.Result{
		Answer: "Move to higher ground.",
		Sources: []vectordb.RetrievedItem{
			{ID: "1", Text: "Flood safety: move to higher ground.", Metadata: map[string]any{"source": "guide.md"}, Distance: 0.1},
			{ID: "2", Text: "Keep the fire small."},
		},
		UsedSourceIndexes: []int{1},
	}, nil
}

type fakeKnowledge struct{}

func (fakeKnowledge) List(req knowledge.Request) (*knowledge.Response, error) {
	docs := []knowledge.Doc{
		{ID: "w1", Text: "Boil water.", Metadata: knowledge.Metadata{Category: "water", Topic: "purification", Source: "guide"}},
		{ID: "f1", Text: "Go up.", Metadata: knowledge.Metadata{Category: "flood", Topic: "evacuation", Source: "rcb"}},
	}
	return knowledge.Filter(docs, req), nil
}

type fakeAlerts struct{}

func (fakeAlerts) List(ctx context.Context, req alerts.Request) (*alerts.Response, error) {
	feed := &alerts.Feed{Newses: []alerts.News{
		{ID: 1, Title: "Alarm on the Vistula", RSOAlarm: "1", RiverName: "Wisla", LocationName: "Warszawa"},
		{ID: 2, Title: "Warning on the Oder", RSOAlarm: "0"},
	}}
	return alerts.Filter(feed, req), nil
}

// run feeds lines to a fresh server and returns the decoded responses.
func run(t *testing.T, srv *Server, lines ...string) []Response {
	t.Helper()

	var out bytes.Buffer
	srv.WithIO(strings.NewReader(strings.Join(lines, "\n")+"\n"), &out)
	require.NoError(t, srv.Run(context.Background()))

	var resps []Response
	dec := json.NewDecoder(&out)
	for dec.More() {
		var r Response
		require.NoError(t, dec.Decode(&r))
		resps = append(resps, r)
	}
	return resps
}

func resultText(t *testing.T, r Response) (string, bool) {
	t.Helper()
	require.Nil(t, r.Error)

	b, err := json.Marshal(r.Result)
	require.NoError(t, err)
	var res CallToolResult
	require.NoError(t, json.Unmarshal(b, &res))
	require.Len(t, res.Content, 1)
	return res.Content[0].Text, res.IsError
}

func TestInitializeAndList(t *testing.T) {
	srv := NewServer(&fakeAnswerer{}, fakeKnowledge{}, nil, "1.2.3")

	resps := run(t, srv,
		`{"jsonrpc":"2.0","id":1,"method":"initialize","params":{"protocolVersion":"2024-11-05","clientInfo":{"name":"test"}}}`,
		`{"jsonrpc":"2.0","method":"notifications/initialized"}`,
		`{"jsonrpc":"2.0","id":2,"method":"tools/list"}`,
		`{"jsonrpc":"2.0","id":3,"method":"ping"}`,
	)
	require.Len(t, resps, 3)
	assert.True(t, srv.initialized)

	init := resps[0].Result.(map[string]any)
	assert.Equal(t, MCPVersion, init["protocolVersion"])
	assert.Equal(t, "1.2.3", init["serverInfo"].(map[string]any)["version"])

	tools := resps[1].Result.(map[string]any)["tools"].([]any)
	require.Len(t, tools, 2)
	ask := tools[0].(map[string]any)
	assert.Equal(t, "ask", ask["name"])
	schema := ask["inputSchema"].(map[string]any)
	assert.Equal(t, "object", schema["type"])
	assert.Contains(t, schema["properties"], "query")
	assert.Equal(t, []any{"query"}, schema["required"])
}

func TestAlertsToolListedWhenConfigured(t *testing.T) {
	srv := NewServer(&fakeAnswerer{}, fakeKnowledge{}, fakeAlerts{}, "dev")
	assert.Len(t, srv.tools, 3)

	resps := run(t, srv, `{"jsonrpc":"2.0","id":1,"method":"tools/call","params":{"name":"alerts","arguments":{"alarm_only":true}}}`)
	text, isErr := resultText(t, resps[0])
	assert.False(t, isErr)
	assert.Contains(t, text, "1 of 2 alerts")
	assert.Contains(t, text, "Alarm on the Vistula [ALARM]")
	assert.NotContains(t, text, "Oder")
}

func TestAskTool(t *testing.T) {
	ans := &fakeAnswerer{}
	srv := NewServer(ans, fakeKnowledge{}, nil, "dev")

	resps := run(t, srv, `{"jsonrpc":"2.0","id":7,"method":"tools/call","params":{"name":"ask","arguments":{"query":"flood?","k":2}}}`)
	require.Len(t, resps, 1)
	assert.EqualValues(t, 7, resps[0].ID)

	text, isErr := resultText(t, resps[0])
	assert.False(t, isErr)
	assert.True(t, strings.HasPrefix(text, "Move to higher ground."))
	assert.Contains(t, text, "*[1] guide.md")
	assert.Contains(t, text, " [2] 2")
	assert.Equal(t, "flood?", ans.query)
	assert.Equal(t, 2, ans.k)
}

func TestAskToolErrors(t *testing.T) {
	ans := &fakeAnswerer{err: errors.New("openai chat: 503")}
	srv := NewServer(ans, fakeKnowledge{}, nil, "dev")

	resps := run(t, srv,
		`{"jsonrpc":"2.0","id":1,"method":"tools/call","params":{"name":"ask","arguments":{}}}`,
		`{"jsonrpc":"2.0","id":2,"method":"tools/call","params":{"name":"ask","arguments":{"query":"x"}}}`,
		`{"jsonrpc":"2.0","id":3,"method":"tools/call","params":{"name":"ask","arguments":{"query":"x","k":"three"}}}`,
	)
	require.Len(t, resps, 3)

	text, isErr := resultText(t, resps[0])
	assert.True(t, isErr)
	assert.Contains(t, text, "query is required")

	text, isErr = resultText(t, resps[1])
	assert.True(t, isErr)
	assert.Contains(t, text, "503")

	_, isErr = resultText(t, resps[2])
	assert.True(t, isErr)
}

func TestKnowledgeTool(t *testing.T) {
	srv := NewServer(&fakeAnswerer{}, fakeKnowledge{}, nil, "dev")

	resps := run(t, srv,
		`{"jsonrpc":"2.0","id":1,"method":"tools/call","params":{"name":"knowledge","arguments":{"category":"water"}}}`,
		`{"jsonrpc":"2.0","id":2,"method":"tools/call","params":{"name":"knowledge","arguments":{"category":"none"}}}`,
	)

	text, isErr := resultText(t, resps[0])
	assert.False(t, isErr)
	assert.Contains(t, text, "1 of 2 entries")
	assert.Contains(t, text, "[w1] water / purification (guide)")

	text, _ = resultText(t, resps[1])
	assert.Equal(t, "No entries matched (2 in total).", text)
}

func TestProtocolErrors(t *testing.T) {
	srv := NewServer(&fakeAnswerer{}, fakeKnowledge{}, nil, "dev")

	resps := run(t, srv,
		`not json`,
		`{"jsonrpc":"2.0","id":1,"method":"resources/list"}`,
		`{"jsonrpc":"2.0","id":2,"method":"tools/call","params":{"name":"alerts"}}`,
		`{"jsonrpc":"2.0","method":"notifications/cancelled"}`,
	)
	require.Len(t, resps, 3)

	require.NotNil(t, resps[0].Error)
	assert.Equal(t, ErrorCodeParse, resps[0].Error.Code)

	require.NotNil(t, resps[1].Error)
	assert.Equal(t, ErrorCodeMethodNotFound, resps[1].Error.Code)

	text, isErr := resultText(t, resps[2])
	assert.True(t, isErr)
	assert.Contains(t, text, "Unknown tool: alerts")
}

func TestFormatAnswerWithoutSources(t *testing.T) {
	assert.Equal(t, "I don't know.", FormatAnswer(&rag.Result{Answer: "I don't know."}))
}
