package rag

import (
	"context"
	"encoding/json"
	"errors"
	"io/fs"
	"os"

	"github.com/charmbracelet/log"

	"github.com/nickcecere/ragd/internal/ingest"
)

// LoadKnowledgeFromJSON seeds an empty store from a JSON file shaped like an
// ingestion request ({"docs": [...]}) and returns how many documents it
// submitted. A missing or malformed file, a store that already holds
// documents, or a failed ingest all yield 0; the reason is logged, never
// returned.
func (s *Service) LoadKnowledgeFromJSON(ctx context.Context, path string) int {
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			log.Info("Knowledge file not found, skipping seed", "path", path)
		} else {
			log.Warn("Cannot stat knowledge file", "path", path, "err", err)
		}
		return 0
	}

	empty, err := s.store.IsEmpty(ctx)
	if err != nil {
		log.Error("Failed to check store before seeding", "err", err)
		return 0
	}
	if !empty {
		log.Info("Store already holds documents, skipping seed", "path", path)
		return 0
	}

	data, err := os.ReadFile(path)
	if err != nil {
		log.Error("Failed to read knowledge file", "path", path, "err", err)
		return 0
	}

	var req ingest.Request
	if err := json.Unmarshal(data, &req); err != nil {
		log.Error("Knowledge file is not valid JSON", "path", path, "err", err)
		return 0
	}
	if len(req.Docs) == 0 {
		log.Warn("Knowledge file has no documents", "path", path)
		return 0
	}

	docs, err := ingest.Normalize(req.Docs)
	if err != nil {
		log.Error("Knowledge file has an invalid document", "path", path, "err", err)
		return 0
	}

	res, err := s.Ingest(ctx, docs)
	if err != nil {
		if res.Added > 0 {
			// The store is no longer empty, so later starts will not retry.
			log.Error("Knowledge base is partially seeded, run `ragd reset` and restart to seed it again",
				"path", path, "added", res.Added, "docs", len(docs), "err", err)
			return 0
		}
		log.Error("Failed to seed knowledge base", "path", path, "err", err)
		return 0
	}

	log.Info("Seeded knowledge base", "path", path, "docs", len(docs), "added", res.Added, "skipped", res.Skipped)
	return len(docs)
}
