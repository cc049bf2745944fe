package window

import (
	"fmt"
	"math/rand/v2"
	"strings"
	"testing"

	"github.com/c360studio/semcontext/source"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuild_SingleEligibleBlock(t *testing.T) {
	blocks := source.NewBlocks([]string{
		"# Title",
		"Short.",
		"A paragraph with enough length to be processed for disambiguation testing purposes here.",
	})
	b := MustNew(Config{MinBlockChars: 20, ContextWords: 100, ProcessWords: 600})

	windows := b.Build(blocks)

	require.Len(t, windows, 1)
	assert.Equal(t, []int{2}, windows[0].BlockIndices)
	assert.Equal(t, blocks[2].Text, windows[0].BlocksByKey["block_2"])
	assert.Equal(t, "Title\n\nShort.", windows[0].PrecedingContext)
	assert.Equal(t, 13, windows[0].WordCount)
}

func TestBuild_ZeroEligible(t *testing.T) {
	blocks := source.NewBlocks([]string{"# Heading", "```\ncode\n```", "", "![img](a.png)"})
	assert.Empty(t, NewDefault().Build(blocks))
	assert.Empty(t, NewDefault().Build(nil))
}

func TestBuild_SplitsOnProcessBudget(t *testing.T) {
	blocks := source.NewBlocks([]string{
		words("alpha", 6),
		words("beta", 6),
		"## Interlude heading",
		words("gamma", 6),
	})
	b := MustNew(Config{MinBlockChars: 5, ContextWords: 4, ProcessWords: 12})

	windows := b.Build(blocks)

	require.Len(t, windows, 2)
	assert.Equal(t, []int{0, 1}, windows[0].BlockIndices)
	assert.Equal(t, 12, windows[0].WordCount)
	assert.Equal(t, []int{3}, windows[1].BlockIndices)
	assert.Equal(t, 1, windows[1].Index)
	// two words from the heading, two from the tail of block 1
	assert.Equal(t, "beta5 beta6\n\nInterlude heading", windows[1].PrecedingContext)
}

func TestBuild_OversizedBlockFormsOwnWindow(t *testing.T) {
	blocks := source.NewBlocks([]string{
		words("pre", 5),
		words("huge", 50),
		words("post", 5),
	})
	b := MustNew(Config{MinBlockChars: 1, ContextWords: 3, ProcessWords: 10})

	windows := b.Build(blocks)

	require.Len(t, windows, 3)
	assert.Equal(t, []int{1}, windows[1].BlockIndices)
	assert.Equal(t, 50, windows[1].WordCount)
	assert.Equal(t, "pre3 pre4 pre5", windows[1].PrecedingContext)
	assert.Equal(t, "huge48 huge49 huge50", windows[2].PrecedingContext)
}

func TestBuild_ContextSkipsCodeAndKeepsLinkLabels(t *testing.T) {
	blocks := source.NewBlocks([]string{
		"See [the guide](https://example.com/guide) for details.",
		"```\nsecret := 1\n```",
		"![diagram](d.png)",
		"He approved the rollout plan after the review meeting.",
	})
	b := MustNew(Config{MinBlockChars: 20, ContextWords: 50, ProcessWords: 6})

	windows := b.Build(blocks)

	require.Len(t, windows, 2)
	assert.Empty(t, windows[0].PrecedingContext)
	assert.Equal(t, "See the guide for details.", windows[1].PrecedingContext)
}

func TestBuild_ZeroContextBudget(t *testing.T) {
	blocks := source.NewBlocks([]string{words("a", 30), words("b", 30)})
	b := MustNew(Config{MinBlockChars: 1, ContextWords: 0, ProcessWords: 30})

	for _, w := range b.Build(blocks) {
		assert.Empty(t, w.PrecedingContext)
	}
}

func TestBuild_CoverageProperty(t *testing.T) {
	rng := rand.New(rand.NewPCG(7, 42))
	kinds := []func(int) string{
		func(n int) string { return words("w", n) },
		func(n int) string { return "# " + words("h", n) },
		func(int) string { return "```\nx := 1\n```" },
		func(int) string { return "![alt](img.png)" },
		func(int) string { return "   " },
		func(int) string { return "tiny" },
		func(n int) string { return "    indented " + words("c", n) },
	}

	for iter := 0; iter < 200; iter++ {
		n := rng.IntN(40)
		texts := make([]string, n)
		for i := range texts {
			texts[i] = kinds[rng.IntN(len(kinds))](1 + rng.IntN(80))
		}
		blocks := source.NewBlocks(texts)
		cfg := Config{
			MinBlockChars: 1 + rng.IntN(30),
			ContextWords:  rng.IntN(60),
			ProcessWords:  1 + rng.IntN(150),
		}
		b := MustNew(cfg)

		windows := b.Build(blocks)

		seen := make(map[int]bool)
		for wi, w := range windows {
			require.Equal(t, wi, w.Index)
			require.NotEmpty(t, w.BlockIndices)
			require.Len(t, w.BlocksByKey, len(w.BlockIndices))
			if len(w.BlockIndices) > 1 {
				require.LessOrEqual(t, w.WordCount, cfg.ProcessWords)
			}
			require.LessOrEqual(t, CountWords(w.PrecedingContext), cfg.ContextWords)
			for _, idx := range w.BlockIndices {
				require.False(t, seen[idx], "index %d appears in two windows", idx)
				seen[idx] = true
			}
		}

		eligible := b.Filter().Eligible(blocks)
		for i, ok := range eligible {
			assert.Equal(t, ok, seen[i], "iteration %d block %d", iter, i)
		}
	}
}

func TestKeyRoundTrip(t *testing.T) {
	idx, err := ParseKey(Key(17))
	require.NoError(t, err)
	assert.Equal(t, 17, idx)

	_, err = ParseKey("17")
	assert.Error(t, err)
	_, err = ParseKey("block_x")
	assert.Error(t, err)

	w := Window{BlockIndices: []int{3, 5}}
	assert.Equal(t, []string{"block_3", "block_5"}, w.Keys())
}

func TestConfigValidate(t *testing.T) {
	assert.NoError(t, DefaultConfig().Validate())
	assert.Error(t, Config{ProcessWords: -1}.Validate())
	assert.Error(t, Config{ProcessWords: 10, ContextWords: -1}.Validate())
	assert.Error(t, Config{ProcessWords: 10, MinBlockChars: -1}.Validate())

	_, err := New(Config{ProcessWords: -5})
	assert.Error(t, err)

	b, err := New(Config{})
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), b.Config())
}

// words returns n numbered words with the given stem.
func words(stem string, n int) string {
	parts := make([]string, n)
	for i := range parts {
		parts[i] = fmt.Sprintf("%s%d", stem, i+1)
	}
	return strings.Join(parts, " ")
}
