// Package watcher ingests text files as they are created or changed under a
// directory.
package watcher

import (
	"context"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/fsnotify/fsnotify"

	"github.com/nickcecere/ragd/internal/docs"
	"github.com/nickcecere/ragd/internal/ingest"
	"github.com/nickcecere/ragd/internal/vectordb"
)

// Ingestor stores normalized documents.
type Ingestor interface {
	Ingest(ctx context.Context, docs []vectordb.Document) (vectordb.AddResult, error)
}

// Watcher watches a directory tree and ingests files that pass the walker's
// filters. Chunk ids are path based, so a file whose chunks are already
// stored keeps its first version.
type Watcher struct {
	walker   *docs.Walker
	loader   *docs.Loader
	ingestor Ingestor

	// pending holds paths seen since the last flush
	pending      map[string]struct{}
	pendingMu    sync.Mutex
	debounceTime time.Duration

	onEvent func(event string, path string)
}

// Option configures the watcher.
type Option func(*Watcher)

// WithDebounceTime sets the debounce duration for batching events.
func WithDebounceTime(d time.Duration) Option {
	return func(w *Watcher) {
		w.debounceTime = d
	}
}

// WithEventCallback sets a callback for file events.
func WithEventCallback(fn func(event string, path string)) Option {
	return func(w *Watcher) {
		w.onEvent = fn
	}
}

// New creates a watcher over walker's root.
func New(walker *docs.Walker, loader *docs.Loader, ingestor Ingestor, opts ...Option) *Watcher {
	w := &Watcher{
		walker:       walker,
		loader:       loader,
		ingestor:     ingestor,
		pending:      make(map[string]struct{}),
		debounceTime: 500 * time.Millisecond,
		onEvent:      func(string, string) {}, // noop default
	}

	for _, opt := range opts {
		opt(w)
	}

	return w
}

// Start begins watching for file changes. Blocks until context is cancelled.
func (w *Watcher) Start(ctx context.Context) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer fw.Close()

	if err := w.addDirectories(fw, w.walker.Root()); err != nil {
		return err
	}

	log.Info("Watching for file changes", "root", w.walker.Root())

	go w.processPending(ctx)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case event, ok := <-fw.Events:
			if !ok {
				return nil
			}
			w.handleEvent(event, fw)

		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			log.Error("Watcher error", "error", err)
		}
	}
}

type adder interface {
	Add(name string) error
}

// addDirectories adds root and every directory the walker would descend into.
func (w *Watcher) addDirectories(fw adder, root string) error {
	return filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return nil // Skip errors
		}
		if !d.IsDir() {
			return nil
		}
		if !w.walker.WatchDir(path) {
			return filepath.SkipDir
		}
		if err := fw.Add(path); err != nil {
			log.Debug("Failed to watch directory", "path", path, "error", err)
		}
		return nil
	})
}

// handleEvent processes a single file system event.
func (w *Watcher) handleEvent(event fsnotify.Event, fw adder) {
	path := event.Name

	if event.Has(fsnotify.Create) {
		if info, err := os.Stat(path); err == nil && info.IsDir() {
			if err := w.addDirectories(fw, path); err != nil {
				log.Debug("Failed to watch new directory", "path", path, "error", err)
			}
			// Files written before the watch was added
			w.queueTree(path)
			return
		}
	}

	if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) {
		if event.Has(fsnotify.Remove) || event.Has(fsnotify.Rename) {
			log.Debug("File removed, stored chunks are kept", "path", path)
		}
		return
	}

	w.queue(path)
}

func (w *Watcher) queue(path string) {
	if _, ok := w.walker.Match(path); !ok {
		return
	}
	w.pendingMu.Lock()
	w.pending[path] = struct{}{}
	w.pendingMu.Unlock()
}

func (w *Watcher) queueTree(dir string) {
	_ = filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() {
			if !w.walker.WatchDir(path) {
				return filepath.SkipDir
			}
			return nil
		}
		w.queue(path)
		return nil
	})
}

// processPending flushes queued paths periodically.
func (w *Watcher) processPending(ctx context.Context) {
	ticker := time.NewTicker(w.debounceTime)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.flush(ctx)
		}
	}
}

// flush ingests every queued path in lexical order.
func (w *Watcher) flush(ctx context.Context) {
	w.pendingMu.Lock()
	if len(w.pending) == 0 {
		w.pendingMu.Unlock()
		return
	}
	paths := make([]string, 0, len(w.pending))
	for p := range w.pending {
		paths = append(paths, p)
	}
	w.pending = make(map[string]struct{})
	w.pendingMu.Unlock()

	slices.Sort(paths)

	for _, path := range paths {
		if ctx.Err() != nil {
			return
		}
		f, ok := w.walker.Match(path)
		if !ok {
			continue
		}
		res, err := w.ingestFile(ctx, f)
		if err != nil {
			log.Error("Failed to ingest file", "file", f.RelPath, "error", err)
			continue
		}
		w.onEvent("ingest", f.RelPath)
		log.Info("Ingested", "file", f.RelPath, "added", res.Added, "skipped", res.Skipped)
	}
}

func (w *Watcher) ingestFile(ctx context.Context, f docs.File) (vectordb.AddResult, error) {
	raw, err := w.loader.LoadWalked(f)
	if err != nil {
		return vectordb.AddResult{}, err
	}
	if len(raw) == 0 {
		return vectordb.AddResult{}, nil
	}
	documents, err := ingest.Normalize(raw)
	if err != nil {
		return vectordb.AddResult{}, err
	}
	return w.ingestor.Ingest(ctx, documents)
}
