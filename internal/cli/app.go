package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/nickcecere/ragd/internal/config"
	"github.com/nickcecere/ragd/internal/embeddings"
	"github.com/nickcecere/ragd/internal/llm"
	"github.com/nickcecere/ragd/internal/rag"
	"github.com/nickcecere/ragd/internal/store"
	"github.com/nickcecere/ragd/internal/vectordb"
)

// app holds the collaborators most commands share.
type app struct {
	cfg    *config.Config
	store  store.Store
	vector *vectordb.Store
	rag    *rag.Service
}

// openApp opens the database and builds the retrieval stack. The LLM client
// is only built when withLLM is set so that ingest and status work without
// completion credentials.
func openApp(ctx context.Context, cfg *config.Config, withLLM bool) (*app, error) {
	st, err := store.NewSQLiteStore(cfg.Database.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to open store: %w", err)
	}

	emb, err := embeddings.NewService(cfg)
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("failed to create embedding service: %w", err)
	}

	vs, err := vectordb.Open(ctx, st, emb, cfg.Database.Collection)
	if err != nil {
		st.Close()
		return nil, err
	}

	a := &app{cfg: cfg, store: st, vector: vs}

	var completer llm.Service
	if withLLM {
		completer, err = llm.NewService(cfg)
		if err != nil {
			st.Close()
			return nil, fmt.Errorf("failed to create LLM service: %w", err)
		}
	}
	a.rag = rag.New(vs, completer, rag.OptionsFromConfig(cfg))

	return a, nil
}

func (a *app) Close() error {
	return a.store.Close()
}

// signalContext is cancelled on SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}
