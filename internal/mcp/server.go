package mcp

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/log"
	"github.com/google/jsonschema-go/jsonschema"

	"github.com/nickcecere/ragd/internal/alerts"
	"github.com/nickcecere/ragd/internal/knowledge"
	"github.com/nickcecere/ragd/internal/rag"
	"github.com/nickcecere/ragd/internal/vectordb"
)

const (
	// MCPVersion is the protocol version we support.
	MCPVersion = "2024-11-05"

	// ServerName is the name of this MCP server.
	ServerName = "ragd"
)

// Answerer answers questions from the indexed documents.
type Answerer interface {
	Answer(ctx context.Context, query string, k int) (*rag.Result, error)
}

// KnowledgeSource lists knowledge base entries.
type KnowledgeSource interface {
	List(req knowledge.Request) (*knowledge.Response, error)
}

// AlertsSource lists current alerts.
type AlertsSource interface {
	List(ctx context.Context, req alerts.Request) (*alerts.Response, error)
}

// AskArgs are the arguments of the ask tool.
type AskArgs struct {
	Query string `json:"query" jsonschema:"the question to answer from the knowledge base"`
	K     int    `json:"k,omitempty" jsonschema:"number of passages to retrieve (default 4)"`
}

// KnowledgeArgs are the arguments of the knowledge tool.
type KnowledgeArgs struct {
	Category string `json:"category,omitempty" jsonschema:"exact category to filter by"`
	Topic    string `json:"topic,omitempty" jsonschema:"exact topic to filter by"`
}

// AlertsArgs are the arguments of the alerts tool.
type AlertsArgs struct {
	Province  string `json:"province,omitempty" jsonschema:"province name, case-insensitive"`
	AlarmOnly bool   `json:"alarm_only,omitempty" jsonschema:"only return alerts with the alarm flag set"`
}

// Server is the ragd MCP server.
type Server struct {
	rag       Answerer
	knowledge KnowledgeSource
	alerts    AlertsSource
	version   string
	tools     []Tool

	reader *bufio.Reader
	writer io.Writer

	initialized bool
}

// NewServer creates a server on stdin/stdout. A nil alerts source hides the
// alerts tool.
func NewServer(answerer Answerer, kb KnowledgeSource, alertsSrc AlertsSource, version string) *Server {
	s := &Server{
		rag:       answerer,
		knowledge: kb,
		alerts:    alertsSrc,
		version:   version,
		reader:    bufio.NewReader(os.Stdin),
		writer:    os.Stdout,
	}
	s.tools = s.buildTools()
	return s
}

// WithIO replaces the transport streams.
func (s *Server) WithIO(r io.Reader, w io.Writer) *Server {
	s.reader = bufio.NewReader(r)
	s.writer = w
	return s
}

func mustSchema[T any]() *jsonschema.Schema {
	schema, err := jsonschema.For[T](&jsonschema.ForOptions{})
	if err != nil {
		panic(fmt.Sprintf("mcp: infer tool schema: %v", err))
	}
	return schema
}

func (s *Server) buildTools() []Tool {
	tools := []Tool{
		{
			Name:        "ask",
			Description: "Answer a question using the indexed preparedness documents. Returns the answer and the sources it was built from.",
			InputSchema: mustSchema[AskArgs](),
		},
		{
			Name:        "knowledge",
			Description: "List knowledge base entries, optionally filtered by category and topic.",
			InputSchema: mustSchema[KnowledgeArgs](),
		},
	}
	if s.alerts != nil {
		tools = append(tools, Tool{
			Name:        "alerts",
			Description: "List current hydrological alerts, optionally filtered by province or alarm status.",
			InputSchema: mustSchema[AlertsArgs](),
		})
	}
	return tools
}

// Run processes newline-delimited requests until EOF or ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	log.Info("MCP server starting")

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		line, err := s.reader.ReadString('\n')
		if err != nil && line == "" {
			if err == io.EOF {
				log.Info("MCP server received EOF, shutting down")
				return nil
			}
			return fmt.Errorf("failed to read request: %w", err)
		}

		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		var req Request
		if err := json.Unmarshal([]byte(line), &req); err != nil {
			s.sendError(nil, ErrorCodeParse, "Parse error", err.Error())
			continue
		}

		s.handleRequest(ctx, req)
	}
}

func (s *Server) handleRequest(ctx context.Context, req Request) {
	log.Debug("Received request", "method", req.Method, "id", req.ID)

	var result any
	var err error

	switch req.Method {
	case "initialize":
		result, err = s.handleInitialize(req.Params)
	case "initialized", "notifications/initialized":
		s.initialized = true
		log.Info("MCP server initialized")
		return
	case "tools/list":
		result = &ListToolsResult{Tools: s.tools}
	case "tools/call":
		result, err = s.handleCallTool(ctx, req.Params)
	case "ping":
		result = map[string]any{}
	default:
		if req.ID == nil {
			// Unknown notifications are ignored.
			return
		}
		s.sendError(req.ID, ErrorCodeMethodNotFound, "Method not found", req.Method)
		return
	}

	if err != nil {
		s.sendError(req.ID, ErrorCodeInvalidParams, "Invalid params", err.Error())
		return
	}

	s.sendResult(req.ID, result)
}

func (s *Server) handleInitialize(params json.RawMessage) (*InitializeResult, error) {
	var p InitializeParams
	if len(params) > 0 {
		if err := json.Unmarshal(params, &p); err != nil {
			return nil, fmt.Errorf("invalid params: %w", err)
		}
	}

	log.Info("Initializing MCP server",
		"clientName", p.ClientInfo.Name,
		"clientVersion", p.ClientInfo.Version,
		"protocolVersion", p.ProtocolVersion,
	)

	return &InitializeResult{
		ProtocolVersion: MCPVersion,
		Capabilities:    ServerCapabilities{Tools: &ToolsCapability{}},
		ServerInfo:      ServerInfo{Name: ServerName, Version: s.version},
	}, nil
}

func (s *Server) handleCallTool(ctx context.Context, params json.RawMessage) (*CallToolResult, error) {
	var p CallToolParams
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, fmt.Errorf("invalid params: %w", err)
	}

	log.Debug("Calling tool", "name", p.Name)

	switch p.Name {
	case "ask":
		var args AskArgs
		if err := decodeArgs(p.Arguments, &args); err != nil {
			return textResult("Error: "+err.Error(), true), nil
		}
		return s.toolAsk(ctx, args), nil
	case "knowledge":
		var args KnowledgeArgs
		if err := decodeArgs(p.Arguments, &args); err != nil {
			return textResult("Error: "+err.Error(), true), nil
		}
		return s.toolKnowledge(args), nil
	case "alerts":
		if s.alerts == nil {
			break
		}
		var args AlertsArgs
		if err := decodeArgs(p.Arguments, &args); err != nil {
			return textResult("Error: "+err.Error(), true), nil
		}
		return s.toolAlerts(ctx, args), nil
	}

	return textResult(fmt.Sprintf("Unknown tool: %s", p.Name), true), nil
}

func decodeArgs(raw json.RawMessage, v any) error {
	if len(raw) == 0 || string(raw) == "null" {
		return nil
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("invalid arguments: %w", err)
	}
	return nil
}

func (s *Server) toolAsk(ctx context.Context, args AskArgs) *CallToolResult {
	if strings.TrimSpace(args.Query) == "" {
		return textResult("Error: query is required", true)
	}
	if args.K < 0 {
		return textResult("Error: k must be at least 1", true)
	}

	res, err := s.rag.Answer(ctx, args.Query, args.K)
	if err != nil {
		return textResult(fmt.Sprintf("Error: %v", err), true)
	}

	return textResult(FormatAnswer(res), false)
}

// FormatAnswer renders an answer followed by its numbered sources, marking
// the ones the model cited.
func FormatAnswer(res *rag.Result) string {
	var sb strings.Builder
	sb.WriteString(res.Answer)

	if len(res.Sources) == 0 {
		return sb.String()
	}

	used := make(map[int]bool, len(res.UsedSourceIndexes))
	for _, i := range res.UsedSourceIndexes {
		used[i] = true
	}

	sb.WriteString("\n\nSources:\n")
	for i, src := range res.Sources {
		marker := " "
		if used[i+1] {
			marker = "*"
		}
		fmt.Fprintf(&sb, "%s[%d] %s (distance %.3f)\n", marker, i+1, sourceLabel(src), src.Distance)
		fmt.Fprintf(&sb, "    %s\n", snippet(src.Text, 300))
	}
	return strings.TrimRight(sb.String(), "\n")
}

func sourceLabel(item vectordb.RetrievedItem) string {
	if v, ok := item.Metadata["source"]; ok {
		return fmt.Sprint(v)
	}
	if item.ID != "" {
		return item.ID
	}
	return "untitled"
}

func snippet(text string, n int) string {
	text = strings.Join(strings.Fields(text), " ")
	r := []rune(text)
	if len(r) <= n {
		return text
	}
	return string(r[:n]) + "..."
}

func (s *Server) toolKnowledge(args KnowledgeArgs) *CallToolResult {
	resp, err := s.knowledge.List(knowledge.Request{Category: args.Category, Topic: args.Topic})
	if err != nil {
		return textResult(fmt.Sprintf("Error: %v", err), true)
	}
	if resp.Filtered == 0 {
		return textResult(fmt.Sprintf("No entries matched (%d in total).", resp.Total), false)
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "%d of %d entries:\n", resp.Filtered, resp.Total)
	for _, d := range resp.Docs {
		fmt.Fprintf(&sb, "\n[%s] %s / %s (%s)\n%s\n", d.ID, d.Metadata.Category, d.Metadata.Topic, d.Metadata.Source, d.Text)
	}
	return textResult(strings.TrimRight(sb.String(), "\n"), false)
}

func (s *Server) toolAlerts(ctx context.Context, args AlertsArgs) *CallToolResult {
	resp, err := s.alerts.List(ctx, alerts.Request{Province: args.Province, AlarmOnly: args.AlarmOnly})
	if err != nil {
		return textResult(fmt.Sprintf("Error: %v", err), true)
	}
	if resp.Filtered == 0 {
		return textResult(fmt.Sprintf("No alerts matched (%d in total).", resp.Total), false)
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "%d of %d alerts:\n", resp.Filtered, resp.Total)
	for _, n := range resp.Items {
		level := ""
		if n.IsAlarm() {
			level = " [ALARM]"
		}
		fmt.Fprintf(&sb, "\n%s%s\n%s, %s (valid %s to %s)\n", n.Title, level, n.RiverName, n.LocationName, n.ValidFrom, n.ValidTo)
	}
	return textResult(strings.TrimRight(sb.String(), "\n"), false)
}

func (s *Server) sendResult(id any, result any) {
	s.send(Response{JSONRPC: "2.0", ID: id, Result: result})
}

func (s *Server) sendError(id any, code int, message, data string) {
	s.send(Response{
		JSONRPC: "2.0",
		ID:      id,
		Error:   &Error{Code: code, Message: message, Data: data},
	})
}

func (s *Server) send(v any) {
	data, err := json.Marshal(v)
	if err != nil {
		log.Error("Failed to marshal response", "error", err)
		return
	}
	fmt.Fprintln(s.writer, string(data))
}
