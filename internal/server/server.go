// Package server exposes ingestion, question answering, alerts and the
// knowledge base over HTTP with JSON bodies.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/log"

	"github.com/nickcecere/ragd/internal/alerts"
	"github.com/nickcecere/ragd/internal/config"
	"github.com/nickcecere/ragd/internal/errs"
	"github.com/nickcecere/ragd/internal/ingest"
	"github.com/nickcecere/ragd/internal/knowledge"
	"github.com/nickcecere/ragd/internal/rag"
	"github.com/nickcecere/ragd/internal/vectordb"
)

const maxBodyBytes = 10 << 20

// Answerer ingests documents and answers questions.
type Answerer interface {
	Ingest(ctx context.Context, docs []vectordb.Document) (vectordb.AddResult, error)
	Answer(ctx context.Context, query string, k int) (*rag.Result, error)
}

// AlertsSource lists filtered alerts.
type AlertsSource interface {
	List(ctx context.Context, req alerts.Request) (*alerts.Response, error)
}

// KnowledgeSource lists filtered knowledge base entries.
type KnowledgeSource interface {
	List(req knowledge.Request) (*knowledge.Response, error)
}

// Options configures the HTTP server.
type Options struct {
	Addr         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// OptionsFromConfig builds Options from the loaded configuration.
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		Addr:         cfg.Server.Addr,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}
}

// Server is the ragd HTTP API.
type Server struct {
	opts      Options
	rag       Answerer
	alerts    AlertsSource
	knowledge KnowledgeSource
	handler   http.Handler
}

// New creates a Server. Routes are registered immediately.
func New(answerer Answerer, alertsSrc AlertsSource, kb KnowledgeSource, opts Options) *Server {
	s := &Server{
		opts:      opts,
		rag:       answerer,
		alerts:    alertsSrc,
		knowledge: kb,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /{$}", s.handleRoot)
	mux.HandleFunc("POST /ingest", s.handleIngest)
	mux.HandleFunc("POST /query", s.handleQuery)
	mux.HandleFunc("GET /alerts", s.handleAlerts)
	mux.HandleFunc("GET /knowledge", s.handleKnowledge)

	s.handler = withRequestID(withAccessLog(withRecovery(mux)))
	return s
}

// Handler returns the root handler including middleware.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// ListenAndServe serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.opts.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.opts.Addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve serves on ln until ctx is cancelled.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.handler,
		ReadTimeout:       s.opts.ReadTimeout,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      s.opts.WriteTimeout,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("Listening", "addr", ln.Addr().String())
		errCh <- srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	log.Info("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("failed to shut down: %w", err)
	}
	return nil
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "ok",
		"message": "API is running.",
	})
}

// IngestResponse is returned by POST /ingest.
type IngestResponse struct {
	Status   string `json:"status"`
	Ingested int    `json:"ingested"`
	Skipped  int    `json:"skipped"`
}

func (s *Server) handleIngest(w http.ResponseWriter, r *http.Request) {
	var req ingest.Request
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	docs, err := ingest.Normalize(req.Docs)
	if err != nil {
		writeError(w, r, err)
		return
	}

	res, err := s.rag.Ingest(r.Context(), docs)
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, IngestResponse{
		Status:   "ok",
		Ingested: res.Added,
		Skipped:  res.Skipped,
	})
}

// QueryRequest is the body of POST /query. K defaults to the configured top_k.
type QueryRequest struct {
	Query string `json:"query"`
	K     *int   `json:"k,omitempty"`
}

func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	var req QueryRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if strings.TrimSpace(req.Query) == "" {
		writeError(w, r, errs.Invalid("query", "is required"))
		return
	}

	k := 0
	if req.K != nil {
		if *req.K < 1 {
			writeError(w, r, errs.Invalid("k", "must be at least 1"))
			return
		}
		k = *req.K
	}

	res, err := s.rag.Answer(r.Context(), req.Query, k)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleAlerts(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	req := alerts.Request{Province: strings.TrimSpace(q.Get("province"))}

	if v := q.Get("alarm_only"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			writeError(w, r, errs.Invalid("alarm_only", "must be a boolean"))
			return
		}
		req.AlarmOnly = b
	}

	resp, err := s.alerts.List(r.Context(), req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleKnowledge(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	resp, err := s.knowledge.List(knowledge.Request{
		Category: q.Get("category"),
		Topic:    q.Get("topic"),
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.UseNumber()
	if err := dec.Decode(v); err != nil {
		return errs.Invalid("body", "must be valid JSON: "+err.Error())
	}
	return nil
}

type errorResponse struct {
	Error     string `json:"error"`
	RequestID string `json:"request_id,omitempty"`
}

// statusFor maps an error to the HTTP status callers see.
func statusFor(err error) int {
	switch {
	case errs.IsValidation(err):
		return http.StatusBadRequest
	case errs.IsTransport(err):
		return http.StatusBadGateway
	case errors.Is(err, alerts.ErrNotConfigured):
		return http.StatusServiceUnavailable
	case errors.Is(err, fs.ErrNotExist):
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	id := RequestID(r.Context())
	if status >= 500 {
		log.Error("Request failed", "request_id", id, "path", r.URL.Path, "status", status, "err", err)
	} else {
		log.Debug("Request rejected", "request_id", id, "path", r.URL.Path, "status", status, "err", err)
	}
	writeJSON(w, status, errorResponse{Error: err.Error(), RequestID: id})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Debug("Failed to write response", "err", err)
	}
}
