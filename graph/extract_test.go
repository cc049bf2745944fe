package graph

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/c360studio/semcontext/llm"
	"github.com/c360studio/semcontext/source"
	"github.com/c360studio/semcontext/source/window"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeCaller struct {
	mu       sync.Mutex
	requests []llm.Request
	respond  func(req llm.Request) (*llm.Response, error)
}

func (f *fakeCaller) Call(_ context.Context, _ string, req llm.Request) (*llm.Response, error) {
	f.mu.Lock()
	f.requests = append(f.requests, req)
	f.mu.Unlock()
	return f.respond(req)
}

func windows(texts ...string) []window.Window {
	out := make([]window.Window, len(texts))
	for i, text := range texts {
		out[i] = window.Window{
			Index:        i,
			BlockIndices: []int{i},
			BlocksByKey:  map[string]string{window.Key(i): text},
		}
	}
	return out
}

func TestWindowPrompt(t *testing.T) {
	w := window.Window{
		BlockIndices:     []int{1, 3},
		BlocksByKey:      map[string]string{"block_1": "First block.", "block_3": "Second block."},
		PrecedingContext: "Earlier text.",
	}
	p := WindowPrompt(w)
	assert.Contains(t, p, "Earlier text.")
	assert.Contains(t, p, "First block.\n\nSecond block.")
	assert.NotContains(t, WindowPrompt(window.Window{}), "Preceding context")
}

func TestSystemContext(t *testing.T) {
	doc := &source.Document{Metadata: map[string]string{"title": "Acme history"}}
	assert.Contains(t, SystemContext(doc), "- title: Acme history")
	assert.Contains(t, SystemContext(&source.Document{}), "relationships")
}

func TestResponseSchemaCompiles(t *testing.T) {
	_, err := llm.StructuredObject(ResponseSchema())
	require.NoError(t, err)
}

func TestExtract_MergesInWindowOrder(t *testing.T) {
	caller := &fakeCaller{respond: func(req llm.Request) (*llm.Response, error) {
		assert.Equal(t, "extract", req.Capability)
		assert.Equal(t, llm.ShapeStructuredObject, req.Shape.Kind())
		switch {
		case strings.Contains(req.Prompt, "window zero"):
			return &llm.Response{Object: map[string]any{
				"people":        []any{map[string]any{"name": "Chad Jones", "roles": []any{"CEO"}}},
				"organizations": []any{map[string]any{"name": "Acme"}},
				"relationships": []any{map[string]any{"from": "Chad Jones", "relationship": "works_for", "to": "Acme"}},
			}}, nil
		default:
			return &llm.Response{Object: map[string]any{
				"people": []any{
					map[string]any{"name": "chad jones", "aliases": []any{"Chad"}},
					map[string]any{"name": "Sarah Chen"},
				},
				"relationships": []any{map[string]any{"from": "Chad", "relationship": "works_for", "to": "ACME"}},
			}}, nil
		}
	}}

	e := NewExtractor(caller, WithConcurrency(2))
	g, report, err := e.Extract(context.Background(), "s1", windows("window zero", "window one"))
	require.NoError(t, err)

	assert.Equal(t, Report{Windows: 2, Entities: 3, Relationships: 2}, report)
	require.Len(t, g.People, 2)
	assert.Equal(t, "Chad Jones", g.People[0].Name)
	assert.Equal(t, []string{"Chad"}, g.People[0].Aliases)
	assert.Equal(t, []string{"Acme"}, g.Names(KindOrganization))
}

func TestExtract_FailedWindowsAreSkipped(t *testing.T) {
	caller := &fakeCaller{respond: func(req llm.Request) (*llm.Response, error) {
		if strings.Contains(req.Prompt, "bad") {
			return nil, fmt.Errorf("call: %w", llm.ErrExhausted)
		}
		return &llm.Response{Object: map[string]any{
			"places": []any{map[string]any{"name": "Ohio"}},
		}}, nil
	}}

	g, report, err := NewExtractor(caller).Extract(context.Background(), "s1", windows("good", "bad", "good again"))
	require.NoError(t, err)
	assert.Equal(t, 1, report.FailedWindows)
	assert.Equal(t, []string{"Ohio"}, g.Names(KindPlace))
}

func TestExtract_ConfigErrorAborts(t *testing.T) {
	caller := &fakeCaller{respond: func(req llm.Request) (*llm.Response, error) {
		return nil, llm.NewConfigError(errors.New("ANTHROPIC_API_KEY not set"))
	}}

	_, _, err := NewExtractor(caller).Extract(context.Background(), "s1", windows("a", "b"))
	require.Error(t, err)
	assert.True(t, llm.IsConfigError(err))
}

func TestExtract_NoWindows(t *testing.T) {
	caller := &fakeCaller{respond: func(llm.Request) (*llm.Response, error) {
		t.Fatal("no call expected")
		return nil, nil
	}}
	g, report, err := NewExtractor(caller).Extract(context.Background(), "s1", nil)
	require.NoError(t, err)
	assert.True(t, g.IsEmpty())
	assert.Zero(t, report.Windows)
}
