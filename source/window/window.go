// Package window partitions a document into word-budgeted context windows.
// Each window carries the eligible blocks to enhance plus a trailing slice of
// the document that precedes it, so a window can be processed on its own.
package window

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/c360studio/semcontext/source"
)

const keyPrefix = "block_"

// Config holds window building configuration.
type Config struct {
	// MinBlockChars is the minimum trimmed length of an eligible block.
	MinBlockChars int `json:"min_block_chars" yaml:"min_block_chars"`

	// ContextWords is the preceding-context budget per window.
	ContextWords int `json:"context_words" yaml:"context_words"`

	// ProcessWords is the budget for blocks enhanced in one window.
	ProcessWords int `json:"process_words" yaml:"process_words"`
}

// DefaultConfig returns the default window budgets.
func DefaultConfig() Config {
	return Config{
		MinBlockChars: 20,
		ContextWords:  300,
		ProcessWords:  600,
	}
}

// Validate checks if the configuration is valid.
func (c Config) Validate() error {
	if c.MinBlockChars < 0 {
		return fmt.Errorf("MinBlockChars must not be negative, got %d", c.MinBlockChars)
	}
	if c.ContextWords < 0 {
		return fmt.Errorf("ContextWords must not be negative, got %d", c.ContextWords)
	}
	if c.ProcessWords <= 0 {
		return fmt.Errorf("ProcessWords must be positive, got %d", c.ProcessWords)
	}
	return nil
}

// Window is one unit of enhancement work.
type Window struct {
	// Index is the window's position within its document.
	Index int `json:"index"`

	// BlockIndices are the original indices of the blocks to enhance, ascending.
	BlockIndices []int `json:"block_indices"`

	// BlocksByKey maps each block key to its original text.
	BlocksByKey map[string]string `json:"blocks_by_key"`

	// PrecedingContext is cleaned text from before the first block.
	PrecedingContext string `json:"preceding_context,omitempty"`

	// WordCount is the total word count of the blocks to enhance.
	WordCount int `json:"word_count"`
}

// Keys returns the block keys in document order.
func (w *Window) Keys() []string {
	keys := make([]string, len(w.BlockIndices))
	for i, idx := range w.BlockIndices {
		keys[i] = Key(idx)
	}
	return keys
}

// Key returns the window key for a block index.
func Key(index int) string {
	return keyPrefix + strconv.Itoa(index)
}

// ParseKey returns the block index for a window key.
func ParseKey(key string) (int, error) {
	if !strings.HasPrefix(key, keyPrefix) {
		return 0, fmt.Errorf("invalid block key %q", key)
	}
	idx, err := strconv.Atoi(strings.TrimPrefix(key, keyPrefix))
	if err != nil {
		return 0, fmt.Errorf("invalid block key %q: %w", key, err)
	}
	return idx, nil
}

// Builder builds windows for documents.
type Builder struct {
	config Config
	filter *Filter
}

// New creates a new Builder with the given configuration.
// Returns an error if the configuration is invalid.
func New(cfg Config) (*Builder, error) {
	if cfg.ProcessWords == 0 {
		cfg = DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Builder{config: cfg, filter: NewFilter(cfg.MinBlockChars)}, nil
}

// MustNew creates a new Builder, panicking on invalid config.
func MustNew(cfg Config) *Builder {
	b, err := New(cfg)
	if err != nil {
		panic(err)
	}
	return b
}

// NewDefault creates a Builder with default configuration.
func NewDefault() *Builder {
	return MustNew(DefaultConfig())
}

// Config returns the builder configuration.
func (b *Builder) Config() Config {
	return b.config
}

// Filter returns the block filter used by the builder.
func (b *Builder) Filter() *Filter {
	return b.filter
}

// Build partitions blocks into windows in a single forward pass.
// Ineligible blocks never appear in a window but do contribute to the
// preceding context of later windows. A block larger than the process
// budget forms a window of its own.
func (b *Builder) Build(blocks []source.Block) []Window {
	eligible := b.filter.Eligible(blocks)

	var windows []Window
	var positions []int
	words := 0

	closeWindow := func() {
		if len(positions) == 0 {
			return
		}
		windows = append(windows, b.newWindow(len(windows), blocks, positions, words))
		positions = nil
		words = 0
	}

	for i, blk := range blocks {
		if !eligible[i] {
			continue
		}
		n := CountWords(blk.Text)
		if len(positions) > 0 && words+n > b.config.ProcessWords {
			closeWindow()
		}
		positions = append(positions, i)
		words += n
	}
	closeWindow()

	return windows
}

func (b *Builder) newWindow(index int, blocks []source.Block, positions []int, words int) Window {
	w := Window{
		Index:        index,
		BlockIndices: make([]int, len(positions)),
		BlocksByKey:  make(map[string]string, len(positions)),
		WordCount:    words,
	}
	for i, pos := range positions {
		idx := blocks[pos].OriginalIndex
		w.BlockIndices[i] = idx
		w.BlocksByKey[Key(idx)] = blocks[pos].Text
	}
	w.PrecedingContext = b.precedingContext(blocks, positions[0])
	return w
}

// precedingContext walks backward from start collecting cleaned text until
// the context budget is spent. The earliest block used contributes only its
// trailing words.
func (b *Builder) precedingContext(blocks []source.Block, start int) string {
	budget := b.config.ContextWords
	if budget == 0 {
		return ""
	}

	var parts []string
	for j := start - 1; j >= 0 && budget > 0; j-- {
		fields := strings.Fields(CleanText(blocks[j].Text))
		if len(fields) == 0 {
			continue
		}
		if len(fields) > budget {
			fields = fields[len(fields)-budget:]
		}
		parts = append(parts, strings.Join(fields, " "))
		budget -= len(fields)
	}

	for l, r := 0, len(parts)-1; l < r; l, r = l+1, r-1 {
		parts[l], parts[r] = parts[r], parts[l]
	}
	return strings.Join(parts, "\n\n")
}
