package rag

import (
	"fmt"
	"sort"
	"strings"

	"github.com/nickcecere/ragd/internal/vectordb"
)

// BuildContext renders retrieved items as numbered source blocks:
//
//	[Source 1 (category=water, topic=boiling)]
//	text
//
// Metadata keys are sorted. Blocks are separated by a blank line; no items
// render as an empty string.
func BuildContext(items []vectordb.RetrievedItem) string {
	blocks := make([]string, 0, len(items))
	for i, item := range items {
		blocks = append(blocks, fmt.Sprintf("[Source %d (%s)]\n%s", i+1, formatMetadata(item.Metadata), item.Text))
	}
	return strings.Join(blocks, "\n\n")
}

func formatMetadata(metadata map[string]any) string {
	keys := make([]string, 0, len(metadata))
	for k := range metadata {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	pairs := make([]string, 0, len(keys))
	for _, k := range keys {
		pairs = append(pairs, fmt.Sprintf("%s=%v", k, metadata[k]))
	}
	return strings.Join(pairs, ", ")
}

func systemPrompt(language string) string {
	return fmt.Sprintf(`You are a preparedness and civil-protection assistant.

Answer the user's question using ONLY the information in the provided context.
Write the answer in %s.
If the context is empty or does not contain enough information to answer, say plainly that you do not know. Never invent facts, numbers or procedures.

The context is split into blocks labelled [Source N]. Put the numbers of the blocks you actually relied on in used_source_indexes.

Respond ONLY with a JSON object of the form:
{"answer": "<your answer>", "used_source_indexes": [<source numbers>]}`, language)
}

func userPrompt(query, context string) string {
	if context == "" {
		context = "(no context available)"
	}
	return fmt.Sprintf("Question:\n%s\n\nContext:\n%s", query, context)
}
