// Package knowledge serves the curated knowledge base file, filtered by
// category and topic.
package knowledge

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/charmbracelet/log"
)

// Metadata classifies a knowledge base entry.
type Metadata struct {
	Category string `json:"category"`
	Topic    string `json:"topic"`
	Source   string `json:"source"`
}

// Doc is one knowledge base entry.
type Doc struct {
	ID       string   `json:"id"`
	Text     string   `json:"text"`
	Metadata Metadata `json:"metadata"`
}

// Request selects entries by exact category and topic. Empty fields do not
// filter.
type Request struct {
	Category string `json:"category,omitempty"`
	Topic    string `json:"topic,omitempty"`
}

// Response is a filtered view of the knowledge base.
type Response struct {
	Total    int   `json:"total"`
	Filtered int   `json:"filtered"`
	Docs     []Doc `json:"docs"`
}

// Loader reads the knowledge base file.
type Loader struct {
	path string
}

// NewLoader creates a loader for the file at path.
func NewLoader(path string) *Loader {
	return &Loader{path: path}
}

// Path returns the file the loader reads.
func (l *Loader) Path() string {
	return l.path
}

// Load reads the whole file. It is re-read on every call so edits show up
// without a restart.
func (l *Loader) Load() ([]Doc, error) {
	data, err := os.ReadFile(l.path)
	if err != nil {
		return nil, fmt.Errorf("failed to read knowledge base: %w", err)
	}

	var file struct {
		Docs []Doc `json:"docs"`
	}
	if err := json.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse knowledge base %s: %w", l.path, err)
	}

	log.Debug("Loaded knowledge base", "path", l.path, "docs", len(file.Docs))
	return file.Docs, nil
}

// List loads the file and filters it.
func (l *Loader) List(req Request) (*Response, error) {
	docs, err := l.Load()
	if err != nil {
		return nil, err
	}
	return Filter(docs, req), nil
}

// Filter applies req to docs.
func Filter(docs []Doc, req Request) *Response {
	out := make([]Doc, 0, len(docs))
	for _, d := range docs {
		if req.Category != "" && d.Metadata.Category != req.Category {
			continue
		}
		if req.Topic != "" && d.Metadata.Topic != req.Topic {
			continue
		}
		out = append(out, d)
	}

	return &Response{
		Total:    len(docs),
		Filtered: len(out),
		Docs:     out,
	}
}
