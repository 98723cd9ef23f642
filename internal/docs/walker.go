package docs

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/charmbracelet/log"
	gitignore "github.com/sabhiram/go-gitignore"
)

// WalkOptions configures the directory walker.
type WalkOptions struct {
	// Root is the directory to start walking from.
	Root string

	// MaxFileSize is the maximum file size to read (in bytes).
	MaxFileSize int64

	// IgnorePatterns are additional patterns to ignore (gitignore syntax).
	IgnorePatterns []string

	// IncludeHidden includes hidden files and directories.
	IncludeHidden bool

	// UseGitignore respects a .gitignore file at the root.
	UseGitignore bool

	// Extensions limits to specific file extensions (e.g., ".md").
	// Empty means all text files.
	Extensions []string
}

// WalkStats contains statistics from a directory walk.
type WalkStats struct {
	FilesFound   int
	FilesSkipped int
	DirsSkipped  int
	TotalBytes   int64
}

// File is a text file found by the walker.
type File struct {
	Path    string // Absolute path
	RelPath string // Slash-separated path relative to the root
	Size    int64
}

type matcher interface {
	MatchesPath(path string) bool
}

type anyMatcher []matcher

func (m anyMatcher) MatchesPath(path string) bool {
	for _, x := range m {
		if x.MatchesPath(path) {
			return true
		}
	}
	return false
}

// Walker finds ingestible text files under a directory.
type Walker struct {
	opts    WalkOptions
	ignorer matcher
	extSet  map[string]bool
	stats   WalkStats
}

// NewWalker creates a walker rooted at opts.Root, which must be a directory.
func NewWalker(opts WalkOptions) (*Walker, error) {
	root, err := filepath.Abs(opts.Root)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve root path: %w", err)
	}
	opts.Root = root

	info, err := os.Stat(root)
	if err != nil {
		return nil, fmt.Errorf("root path does not exist: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("root path is not a directory: %s", root)
	}

	w := &Walker{opts: opts}

	if len(opts.Extensions) > 0 {
		w.extSet = make(map[string]bool, len(opts.Extensions))
		for _, ext := range opts.Extensions {
			if !strings.HasPrefix(ext, ".") {
				ext = "." + ext
			}
			w.extSet[strings.ToLower(ext)] = true
		}
	}

	w.ignorer = w.buildIgnorer()
	return w, nil
}

func (w *Walker) buildIgnorer() matcher {
	m := anyMatcher{gitignore.CompileIgnoreLines(w.opts.IgnorePatterns...)}

	if w.opts.UseGitignore {
		path := filepath.Join(w.opts.Root, ".gitignore")
		if _, err := os.Stat(path); err == nil {
			gi, err := gitignore.CompileIgnoreFile(path)
			if err != nil {
				log.Warn("Failed to parse .gitignore", "path", path, "error", err)
			} else {
				m = append(m, gi)
			}
		}
	}
	return m
}

// Walk calls fn for each text file in lexical order. The walk stops at the
// first error fn returns.
func (w *Walker) Walk(fn func(File) error) error {
	w.stats = WalkStats{}

	return filepath.WalkDir(w.opts.Root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			log.Debug("Error accessing path", "path", path, "error", err)
			return nil
		}

		relPath, err := filepath.Rel(w.opts.Root, path)
		if err != nil {
			relPath = path
		}
		relPath = filepath.ToSlash(relPath)

		if d.IsDir() {
			if path != w.opts.Root && w.skipDir(d.Name(), relPath) {
				w.stats.DirsSkipped++
				return filepath.SkipDir
			}
			return nil
		}

		if w.skipFile(d.Name(), relPath) {
			w.stats.FilesSkipped++
			return nil
		}

		info, err := d.Info()
		if err != nil {
			log.Debug("Failed to get file info", "path", path, "error", err)
			return nil
		}
		if w.opts.MaxFileSize > 0 && info.Size() > w.opts.MaxFileSize {
			log.Debug("Skipping large file", "path", relPath, "size", info.Size())
			w.stats.FilesSkipped++
			return nil
		}

		if binary, err := isBinaryFile(path); err != nil || binary {
			w.stats.FilesSkipped++
			return nil
		}

		w.stats.FilesFound++
		w.stats.TotalBytes += info.Size()

		return fn(File{Path: path, RelPath: relPath, Size: info.Size()})
	})
}

// Stats returns statistics from the last walk.
func (w *Walker) Stats() WalkStats {
	return w.stats
}

// Root returns the absolute directory the walker starts from.
func (w *Walker) Root() string {
	return w.opts.Root
}

// WatchDir reports whether a directory under the root would be descended
// into by Walk.
func (w *Walker) WatchDir(path string) bool {
	rel, ok := w.rel(path)
	if !ok {
		return false
	}
	if rel == "." {
		return true
	}
	return !w.skipAncestors(rel + "/x")
}

// Match applies the walk filters to a single path. It reports false for
// directories, paths outside the root, and files Walk would skip.
func (w *Walker) Match(path string) (File, bool) {
	rel, ok := w.rel(path)
	if !ok || rel == "." {
		return File{}, false
	}
	if w.skipAncestors(rel) || w.skipFile(filepath.Base(path), rel) {
		return File{}, false
	}

	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		return File{}, false
	}
	if w.opts.MaxFileSize > 0 && info.Size() > w.opts.MaxFileSize {
		return File{}, false
	}
	if binary, err := isBinaryFile(path); err != nil || binary {
		return File{}, false
	}

	abs, _ := filepath.Abs(path)
	return File{Path: abs, RelPath: rel, Size: info.Size()}, true
}

func (w *Walker) rel(path string) (string, bool) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", false
	}
	rel, err := filepath.Rel(w.opts.Root, abs)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", false
	}
	return filepath.ToSlash(rel), true
}

// skipAncestors reports whether any directory above rel is skipped.
func (w *Walker) skipAncestors(rel string) bool {
	parts := strings.Split(rel, "/")
	for i := 0; i < len(parts)-1; i++ {
		if w.skipDir(parts[i], strings.Join(parts[:i+1], "/")) {
			return true
		}
	}
	return false
}

func (w *Walker) skipDir(name, relPath string) bool {
	if name == ".git" {
		return true
	}
	if !w.opts.IncludeHidden && strings.HasPrefix(name, ".") {
		return true
	}
	return w.ignorer.MatchesPath(relPath + "/")
}

func (w *Walker) skipFile(name, relPath string) bool {
	if !w.opts.IncludeHidden && strings.HasPrefix(name, ".") {
		return true
	}
	if w.extSet != nil && !w.extSet[strings.ToLower(filepath.Ext(name))] {
		return true
	}
	return w.ignorer.MatchesPath(relPath)
}

func isBinaryFile(path string) (bool, error) {
	f, err := os.Open(path)
	if err != nil {
		return false, err
	}
	defer f.Close()

	buf := make([]byte, 8192)
	n, err := f.Read(buf)
	if err != nil && err != io.EOF {
		return false, err
	}
	return isBinaryContent(buf[:n]), nil
}

// isBinaryContent reports whether content looks binary: any NUL byte, or
// more than 30% control characters.
func isBinaryContent(content []byte) bool {
	if len(content) == 0 {
		return false
	}

	control := 0
	for _, b := range content {
		if b == 0 {
			return true
		}
		if b < 32 && b != '\t' && b != '\n' && b != '\r' {
			control++
		}
	}
	return float64(control)/float64(len(content)) > 0.3
}
