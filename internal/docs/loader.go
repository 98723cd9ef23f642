// Package docs turns text files on disk into documents ready for ingestion.
package docs

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/cespare/xxhash/v2"
	"github.com/charmbracelet/log"

	"github.com/nickcecere/ragd/internal/config"
	"github.com/nickcecere/ragd/internal/ingest"
)

// Options configures a Loader.
type Options struct {
	Walk  WalkOptions
	Chunk ChunkOptions
}

// OptionsFromConfig builds loader options from the loaded configuration.
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		Walk: WalkOptions{
			MaxFileSize:    int64(cfg.Loader.MaxFileSize),
			IgnorePatterns: cfg.Loader.Ignore,
			UseGitignore:   true,
			Extensions:     cfg.Loader.Extensions,
		},
		Chunk: ChunkOptions{
			ChunkSize:    cfg.Loader.ChunkSize,
			ChunkOverlap: cfg.Loader.ChunkOverlap,
		},
	}
}

// Loader reads and chunks text files. Document ids are "<relpath>#<chunk>",
// so reloading an unchanged tree yields the same ids.
type Loader struct {
	opts    Options
	chunker *Chunker
}

// NewLoader creates a Loader.
func NewLoader(opts Options) *Loader {
	return &Loader{
		opts:    opts,
		chunker: NewChunker(opts.Chunk),
	}
}

// LoadFile chunks a single file, identified by its base name.
func (l *Loader) LoadFile(path string) ([]ingest.RawDocument, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	if isBinaryContent(content) {
		return nil, fmt.Errorf("%s does not look like a text file", path)
	}
	return l.documents(filepath.Base(path), content), nil
}

// LoadWalked chunks a file found by a Walker, identified by its path
// relative to the walk root.
func (l *Loader) LoadWalked(f File) ([]ingest.RawDocument, error) {
	content, err := os.ReadFile(f.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", f.RelPath, err)
	}
	return l.documents(f.RelPath, content), nil
}

// LoadDir walks root and chunks every matching text file.
func (l *Loader) LoadDir(root string) ([]ingest.RawDocument, WalkStats, error) {
	opts := l.opts.Walk
	opts.Root = root

	w, err := NewWalker(opts)
	if err != nil {
		return nil, WalkStats{}, err
	}

	var out []ingest.RawDocument
	err = w.Walk(func(f File) error {
		content, err := os.ReadFile(f.Path)
		if err != nil {
			log.Warn("Failed to read file", "path", f.RelPath, "error", err)
			return nil
		}
		docs := l.documents(f.RelPath, content)
		log.Debug("Chunked file", "path", f.RelPath, "chunks", len(docs))
		out = append(out, docs...)
		return nil
	})
	if err != nil {
		return nil, w.Stats(), fmt.Errorf("failed to walk %s: %w", root, err)
	}

	return out, w.Stats(), nil
}

func (l *Loader) documents(relPath string, content []byte) []ingest.RawDocument {
	hash := fmt.Sprintf("%016x", xxhash.Sum64(content))

	chunks := l.chunker.Chunk(string(content))
	out := make([]ingest.RawDocument, 0, len(chunks))
	for _, c := range chunks {
		out = append(out, ingest.RawDocument{
			ID:   fmt.Sprintf("%s#%d", relPath, c.Index),
			Text: c.Content,
			Metadata: map[string]any{
				"source": relPath,
				"chunk":  c.Index,
				"hash":   hash,
			},
		})
	}
	return out
}
