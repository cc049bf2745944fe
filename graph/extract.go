package graph

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/c360studio/semcontext/llm"
	"github.com/c360studio/semcontext/model"
	"github.com/c360studio/semcontext/source"
	"github.com/c360studio/semcontext/source/window"
)

// DefaultConcurrency bounds concurrent extraction calls per document.
const DefaultConcurrency = 4

const extractionInstructions = `You extract named entities and relationships from documents to build a knowledge graph.

## Rules

1. Extract only entities that are named or clearly identified in the text you are given.
2. Use the fullest form of a name as "name" and list shorter forms and nicknames as "aliases".
3. For people, list titles and positions as "roles".
4. "context" is one short sentence on why the entity matters in this text.
5. Dates use the most precise form the text supports (2021-03-04, March 2021, 2021).
6. Relationships use short snake_case labels such as works_for, located_in, founded, attended.
7. Omit empty collections.

Respond with a single JSON object with the keys people, places, organizations, dates, events, documents, subjects and relationships. Do not include any text outside the JSON object.`

// SystemContext builds the static extraction context for a document.
func SystemContext(doc *source.Document) string {
	var sb strings.Builder
	sb.WriteString(extractionInstructions)
	if title := doc.Title(); title != "" {
		fmt.Fprintf(&sb, "\n\n## Document\n\n- title: %s", title)
	}
	return sb.String()
}

// WindowPrompt builds the extraction prompt for one window.
func WindowPrompt(w window.Window) string {
	var sb strings.Builder
	if w.PrecedingContext != "" {
		sb.WriteString("Preceding context (reference only):\n---\n")
		sb.WriteString(w.PrecedingContext)
		sb.WriteString("\n---\n\n")
	}
	sb.WriteString("Extract entities from this text:\n---\n")
	for i, key := range w.Keys() {
		if i > 0 {
			sb.WriteString("\n\n")
		}
		sb.WriteString(w.BlocksByKey[key])
	}
	sb.WriteString("\n---")
	return sb.String()
}

// ResponseSchema is the schema every extraction response must meet.
func ResponseSchema() map[string]any {
	entity := map[string]any{
		"type":     "object",
		"required": []string{"name"},
		"properties": map[string]any{
			"name":    map[string]any{"type": "string"},
			"aliases": map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
			"roles":   map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
			"context": map[string]any{"type": "string"},
		},
	}
	relationship := map[string]any{
		"type":     "object",
		"required": []string{"from", "relationship", "to"},
		"properties": map[string]any{
			"from":         map[string]any{"type": "string"},
			"relationship": map[string]any{"type": "string"},
			"to":           map[string]any{"type": "string"},
			"context":      map[string]any{"type": "string"},
		},
	}

	props := map[string]any{
		"relationships": map[string]any{"type": "array", "items": relationship},
	}
	for _, key := range collectionKeys {
		props[key] = map[string]any{"type": "array", "items": entity}
	}
	return map[string]any{
		"type":       "object",
		"properties": props,
	}
}

var collectionKeys = []string{"people", "places", "organizations", "dates", "events", "documents", "subjects"}

var extractShape = llm.MustStructuredObject(ResponseSchema())

// SessionCaller issues one call inside an open session.
type SessionCaller interface {
	Call(ctx context.Context, sessionID string, req llm.Request) (*llm.Response, error)
}

// Report summarizes one document's extraction.
type Report struct {
	Windows       int `json:"windows"`
	FailedWindows int `json:"failed_windows"`
	Entities      int `json:"entities"`
	Relationships int `json:"relationships"`
}

// ExtractorOption configures an Extractor.
type ExtractorOption func(*Extractor)

// WithConcurrency bounds concurrent window calls.
func WithConcurrency(n int) ExtractorOption {
	return func(e *Extractor) {
		if n > 0 {
			e.concurrency = n
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) ExtractorOption {
	return func(e *Extractor) {
		e.logger = l
	}
}

// Extractor runs windows through extraction calls and merges the results.
type Extractor struct {
	caller      SessionCaller
	concurrency int
	logger      *slog.Logger
}

// NewExtractor creates an extractor calling through caller.
func NewExtractor(caller SessionCaller, opts ...ExtractorOption) *Extractor {
	e := &Extractor{
		caller:      caller,
		concurrency: DefaultConcurrency,
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// ExtractWindow extracts the graph of a single window.
func (e *Extractor) ExtractWindow(ctx context.Context, sessionID string, w window.Window) (*Graph, error) {
	temperature := 0.0
	resp, err := e.caller.Call(ctx, sessionID, llm.Request{
		Capability:  model.CapabilityExtract.String(),
		Prompt:      WindowPrompt(w),
		Shape:       extractShape,
		Temperature: &temperature,
	})
	if err != nil {
		return nil, err
	}
	return decodeGraph(resp.Object)
}

// Extract runs every window and merges the per-window graphs in window
// order, so the result does not depend on completion order. A failed window
// is counted and skipped; configuration errors abort the document.
func (e *Extractor) Extract(ctx context.Context, sessionID string, windows []window.Window) (*Graph, Report, error) {
	report := Report{Windows: len(windows)}
	graphs := make([]*Graph, len(windows))
	errs := make([]error, len(windows))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.concurrency)
	for i, w := range windows {
		g.Go(func() error {
			wg, err := e.ExtractWindow(gctx, sessionID, w)
			if err != nil {
				if llm.IsConfigError(err) {
					return err
				}
				errs[i] = err
				return nil
			}
			graphs[i] = wg
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, report, err
	}

	merged := &Graph{}
	for i, wg := range graphs {
		if errs[i] != nil {
			report.FailedWindows++
			e.logger.Debug("Window extraction failed",
				"session", sessionID,
				"window", windows[i].Index,
				"error", errs[i])
			continue
		}
		merged.Merge(wg)
	}
	report.Entities = merged.EntityCount()
	report.Relationships = len(merged.Relationships)
	return merged, report, nil
}

func decodeGraph(obj map[string]any) (*Graph, error) {
	raw, err := json.Marshal(obj)
	if err != nil {
		return nil, fmt.Errorf("encode extraction: %w", err)
	}
	var g Graph
	if err := json.Unmarshal(raw, &g); err != nil {
		return nil, llm.NewShapeError(fmt.Errorf("decode extraction: %w", err))
	}
	return &g, nil
}

// Names returns the sorted entity names of kind k.
func (g *Graph) Names(k Kind) []string {
	list := *g.Collection(k)
	names := make([]string, len(list))
	for i, e := range list {
		names[i] = e.Name
	}
	sort.Strings(names)
	return names
}
