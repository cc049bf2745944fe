package enhance

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/c360studio/semcontext/source"
	"github.com/c360studio/semcontext/source/window"
)

// systemInstructions is the static part of every session context.
const systemInstructions = `You add disambiguation context to text so each paragraph can be understood on its own when retrieved in isolation.

## Rules

1. Insert context ONLY as double-bracketed spans placed directly after the ambiguous reference, for example: "he [[Chad Jones]] said".
2. Resolve pronouns, partial names, acronyms and vague references ("the company", "that year") using the document and the preceding context.
3. NEVER change, remove, reorder or fix any original word, punctuation mark or whitespace. Typos stay as they are.
4. Only add an insertion when the referent is clear from the text. If unsure, add nothing.
5. Keep insertions short: a name, a date, an expansion of an acronym.
6. Return every block you were given, even when nothing was added.

Respond with a single JSON object mapping each block key to its enhanced text. Do not include any text outside the JSON object.`

// SystemContext builds the static session context for a document:
// instructions followed by the document's metadata.
func SystemContext(doc *source.Document) string {
	var sb strings.Builder
	sb.WriteString(systemInstructions)

	if len(doc.Metadata) == 0 {
		return sb.String()
	}

	sb.WriteString("\n\n## Document\n\n")
	keys := make([]string, 0, len(doc.Metadata))
	for k := range doc.Metadata {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(&sb, "- %s: %s\n", k, doc.Metadata[k])
	}
	return strings.TrimRight(sb.String(), "\n")
}

// WindowPrompt builds the per-window prompt: preceding context for
// reference, then the keyed blocks to enhance.
func WindowPrompt(w window.Window) string {
	var sb strings.Builder

	if w.PrecedingContext != "" {
		sb.WriteString("Preceding context (reference only, do not return it):\n---\n")
		sb.WriteString(w.PrecedingContext)
		sb.WriteString("\n---\n\n")
	}

	sb.WriteString("Blocks to enhance:\n")
	sb.WriteString(orderedBlocksJSON(w))
	sb.WriteString("\n\nReturn a JSON object with exactly these keys: ")
	sb.WriteString(strings.Join(w.Keys(), ", "))
	return sb.String()
}

// ResponseSchema returns the JSON schema every window response must meet:
// an object with a string for each block key.
func ResponseSchema(w window.Window) map[string]any {
	keys := w.Keys()
	props := make(map[string]any, len(keys))
	for _, k := range keys {
		props[k] = map[string]any{"type": "string", "minLength": 1}
	}
	return map[string]any{
		"type":       "object",
		"required":   keys,
		"properties": props,
	}
}

// orderedBlocksJSON renders BlocksByKey as a JSON object in document order.
// encoding/json would sort block_10 before block_2.
func orderedBlocksJSON(w window.Window) string {
	var sb strings.Builder
	sb.WriteString("{\n")
	keys := w.Keys()
	for i, k := range keys {
		v, _ := json.Marshal(w.BlocksByKey[k])
		fmt.Fprintf(&sb, "  %q: %s", k, v)
		if i < len(keys)-1 {
			sb.WriteString(",")
		}
		sb.WriteString("\n")
	}
	sb.WriteString("}")
	return sb.String()
}
