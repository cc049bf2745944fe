package enhance

import (
	"context"
	"errors"
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

func testWindow() window.Window {
	return window.Window{
		Index:        0,
		BlockIndices: []int{2, 10},
		BlocksByKey: map[string]string{
			"block_2":  "He signed the contract on Monday.",
			"block_10": "It was later cancelled.",
		},
		PrecedingContext: "Chad Jones joined Acme in 2019.",
		WordCount:        10,
	}
}

func TestWindowPrompt(t *testing.T) {
	p := WindowPrompt(testWindow())

	assert.Contains(t, p, "Chad Jones joined Acme in 2019.")
	assert.Less(t, strings.Index(p, `"block_2"`), strings.Index(p, `"block_10"`))
	assert.True(t, strings.HasSuffix(p, "block_2, block_10"))
}

func TestWindowPrompt_NoContext(t *testing.T) {
	w := testWindow()
	w.PrecedingContext = ""
	assert.NotContains(t, WindowPrompt(w), "Preceding context")
}

func TestResponseSchema(t *testing.T) {
	schema := ResponseSchema(testWindow())
	assert.Equal(t, []string{"block_2", "block_10"}, schema["required"])

	_, err := llm.StructuredObject(schema)
	require.NoError(t, err)
}

func TestSystemContext(t *testing.T) {
	doc := &source.Document{Metadata: map[string]string{"url": "https://example.com/a", "title": "Acme history"}}
	ctx := SystemContext(doc)

	assert.Contains(t, ctx, "[[Chad Jones]]")
	assert.Contains(t, ctx, "- title: Acme history\n- url: https://example.com/a")

	assert.NotContains(t, SystemContext(&source.Document{}), "## Document")
}

func TestEnhanceWindow(t *testing.T) {
	caller := &fakeCaller{respond: func(req llm.Request) (*llm.Response, error) {
		return &llm.Response{
			Object: map[string]any{
				"block_2":  "He [[Chad Jones]] signed the contract on Monday.",
				"block_10": "It [[the contract]] was later cancelled.",
				"block_99": "ignored",
			},
			Attempts: 2,
			Provider: "anthropic",
		}, nil
	}}

	e := NewEnhancer(caller, WithTemperature(0.1))
	res := e.EnhanceWindow(context.Background(), "s1", testWindow())

	require.False(t, res.Failed())
	assert.Equal(t, []int{2, 10}, res.BlockIndices)
	assert.Len(t, res.EnhancedByKey, 2)
	assert.Equal(t, 2, res.Attempts)
	assert.Equal(t, "anthropic", res.Provider)

	require.Len(t, caller.requests, 1)
	req := caller.requests[0]
	assert.Equal(t, "enhance", req.Capability)
	assert.Equal(t, llm.ShapeStructuredObject, req.Shape.Kind())
	require.NotNil(t, req.Temperature)
	assert.Equal(t, 0.1, *req.Temperature)
}

func TestEnhanceWindow_Failure(t *testing.T) {
	caller := &fakeCaller{respond: func(llm.Request) (*llm.Response, error) {
		return nil, llm.ErrExhausted
	}}

	res := NewEnhancer(caller).EnhanceWindow(context.Background(), "s1", testWindow())
	assert.True(t, res.Failed())
	assert.True(t, errors.Is(res.Err, llm.ErrExhausted))
	assert.Nil(t, res.EnhancedByKey)
}

func TestReassemble(t *testing.T) {
	blocks := source.NewBlocks([]string{
		"# Heading",
		"He signed the contract on Monday.",
		"She approved it.",
		"They left.",
		"Nothing to add here at all.",
	})

	results := []EnhancementResult{
		{
			WindowIndex:  0,
			BlockIndices: []int{1, 2},
			EnhancedByKey: map[string]string{
				"block_1": "He [[Chad Jones]] signed the contract on Monday.",
				"block_2": "She approved the deal.",
			},
		},
		{WindowIndex: 1, BlockIndices: []int{3}, Err: errors.New("exhausted")},
		{
			WindowIndex:   2,
			BlockIndices:  []int{4},
			EnhancedByKey: map[string]string{"block_4": "Nothing to add here at all."},
		},
	}

	out, report := Reassemble(blocks, results, nil)

	require.Len(t, out, 5)
	assert.Equal(t, "# Heading", out[0].Text)
	assert.Equal(t, "He [[Chad Jones]] signed the contract on Monday.", out[1].Text)
	assert.Equal(t, "She approved it.", out[2].Text, "rejected block keeps original text verbatim")
	assert.Equal(t, "They left.", out[3].Text, "failed window keeps original text")
	assert.Equal(t, "Nothing to add here at all.", out[4].Text)

	assert.Equal(t, 3, report.Windows)
	assert.Equal(t, 1, report.FailedWindows)
	assert.Equal(t, 1, report.Enhanced)
	assert.Equal(t, 1, report.Unchanged)
	assert.Equal(t, 1, report.Insertions)
	require.Len(t, report.Rejections, 1)
	assert.Equal(t, 2, report.Rejections[0].BlockIndex)

	assert.Equal(t, "She approved it.", blocks[2].Text, "input is not mutated")
	assert.Equal(t, "He signed the contract on Monday.", blocks[1].Text)
}

func TestReassemble_MissingKey(t *testing.T) {
	blocks := source.NewBlocks([]string{"Alpha beta gamma delta."})
	results := []EnhancementResult{{BlockIndices: []int{0}, EnhancedByKey: map[string]string{}}}

	out, report := Reassemble(blocks, results, NewValidator(0))
	assert.Equal(t, "Alpha beta gamma delta.", out[0].Text)
	require.Len(t, report.Rejections, 1)
	assert.Equal(t, "missing from response", report.Rejections[0].Reason)
}

func TestReassemble_LenientProjectsOntoOriginal(t *testing.T) {
	original := "The committee met on Tuesday and agreed that the new budget would be presented to the board after the holiday break ended."
	enhanced := strings.Replace(original, "Tuesday", "Tuesday, [[March 3]]", 1)

	blocks := source.NewBlocks([]string{original})
	out, report := Reassemble(blocks, []EnhancementResult{{
		BlockIndices:  []int{0},
		EnhancedByKey: map[string]string{"block_0": enhanced},
	}}, nil)

	assert.Equal(t, 1, report.Lenient)
	assert.Contains(t, out[0].Text, "Tuesday [[March 3]] and")
	assert.Equal(t, Normalize(original), Normalize(StripInsertions(out[0].Text)))
}

func TestReassemble_KeepsBlockLineBreaks(t *testing.T) {
	original := "- first item mentions Bob here\n- second item says he left"
	blocks := source.NewBlocks([]string{original})
	out, report := Reassemble(blocks, []EnhancementResult{{
		BlockIndices:  []int{0},
		EnhancedByKey: map[string]string{"block_0": "- first item mentions Bob here - second item says he [[Bob]] left"},
	}}, nil)

	assert.Equal(t, 1, report.Enhanced)
	assert.Equal(t, 0, report.Lenient)
	assert.Equal(t, "- first item mentions Bob here\n- second item says he [[Bob]] left", out[0].Text)
}

func TestReassemble_RejectsRewrittenSpan(t *testing.T) {
	original := "See the [[Design Notes]] page for the full rationale of this change."
	blocks := source.NewBlocks([]string{original})
	out, report := Reassemble(blocks, []EnhancementResult{{
		BlockIndices:  []int{0},
		EnhancedByKey: map[string]string{"block_0": "See the [[Release Plan]] page for the full rationale of this change."},
	}}, nil)

	assert.Equal(t, original, out[0].Text)
	assert.Equal(t, 0, report.Enhanced)
	require.Len(t, report.Rejections, 1)
	assert.Contains(t, report.Rejections[0].Reason, "existing")
}
