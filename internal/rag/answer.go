package rag

import (
	"encoding/json"
	"errors"
	"strings"
	"sync"

	"github.com/charmbracelet/log"
	"github.com/google/jsonschema-go/jsonschema"
	"github.com/kaptinlin/jsonrepair"

	"github.com/nickcecere/ragd/internal/llm"
)

// Answer is the reply the model is asked to produce.
type Answer struct {
	Answer            string `json:"answer" jsonschema:"the answer to the question, in the requested language"`
	UsedSourceIndexes []int  `json:"used_source_indexes,omitempty" jsonschema:"1-based numbers of the context sources the answer relies on"`
}

// Parsed is the outcome of interpreting a model reply. When OK is false the
// reply did not match the answer shape and Answer holds the raw text.
type Parsed struct {
	Answer            string
	UsedSourceIndexes []int
	OK                bool
}

var (
	schemaOnce     sync.Once
	answerSchema   *jsonschema.Schema
	answerResolved *jsonschema.Resolved
)

func initSchema() {
	s, err := jsonschema.For[Answer](&jsonschema.ForOptions{})
	if err != nil {
		panic("rag: infer answer schema: " + err.Error())
	}
	// Replies may carry extra keys; only the known fields are read.
	lenient := s.CloneSchemas()
	lenient.AdditionalProperties = nil
	r, err := lenient.Resolve(nil)
	if err != nil {
		panic("rag: resolve answer schema: " + err.Error())
	}
	answerSchema = s
	answerResolved = r
}

// AnswerSchema returns the structured-output request for Answer. Both fields
// are marked required and nullable types are collapsed, which chat APIs with
// JSON schema support accept more reliably.
func AnswerSchema() *llm.ResponseSchema {
	schemaOnce.Do(initSchema)

	req := answerSchema.CloneSchemas()
	req.Required = []string{"answer", "used_source_indexes"}
	for _, prop := range req.Properties {
		collapseNullable(prop)
	}

	return &llm.ResponseSchema{
		Name:        "grounded_answer",
		Description: "An answer built from the numbered context sources",
		Schema:      req,
	}
}

func collapseNullable(s *jsonschema.Schema) {
	if s == nil {
		return
	}
	if s.Type == "" && len(s.Types) > 0 {
		for _, t := range s.Types {
			if t != "null" {
				s.Type = t
				break
			}
		}
		s.Types = nil
	}
	collapseNullable(s.Items)
}

// ParseAnswer interprets a model reply. Markdown code fences are stripped and
// slightly malformed JSON is repaired before checking the reply against the
// answer schema. Anything that still does not fit is returned verbatim with
// no source indexes. It never fails.
func ParseAnswer(raw string) (p Parsed) {
	schemaOnce.Do(initSchema)

	p = Parsed{Answer: raw, UsedSourceIndexes: []int{}}
	defer func() {
		if r := recover(); r != nil {
			log.Warn("Recovered while parsing model reply", "panic", r)
			p = Parsed{Answer: raw, UsedSourceIndexes: []int{}}
		}
	}()

	body := stripCodeFence(raw)
	if body == "" {
		return p
	}

	instance, err := decode(body)
	if err != nil {
		log.Debug("Model reply is not JSON", "err", err)
		return p
	}
	if err := answerResolved.Validate(instance); err != nil {
		log.Debug("Model reply does not match answer schema", "err", err)
		return p
	}

	normalized, err := json.Marshal(instance)
	if err != nil {
		return p
	}
	var a Answer
	if err := json.Unmarshal(normalized, &a); err != nil {
		return p
	}

	indexes := a.UsedSourceIndexes
	if indexes == nil {
		indexes = []int{}
	}
	return Parsed{Answer: a.Answer, UsedSourceIndexes: indexes, OK: true}
}

// decode unmarshals body, falling back to a repaired copy on syntax errors.
func decode(body string) (any, error) {
	var v any
	err := json.Unmarshal([]byte(body), &v)
	if err == nil {
		return v, nil
	}

	var syntaxErr *json.SyntaxError
	if !errors.As(err, &syntaxErr) {
		return nil, err
	}

	repaired, rerr := jsonrepair.JSONRepair(body)
	if rerr != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(repaired), &v); err != nil {
		return nil, err
	}
	return v, nil
}

func stripCodeFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	// Drop the info string, e.g. ```json.
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[i+1:]
	} else {
		s = strings.TrimLeft(s, "abcdefghijklmnopqrstuvwxyz")
	}
	s = strings.TrimSpace(s)
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}
