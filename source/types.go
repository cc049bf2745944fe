// Package source provides the document model shared by every stage of the
// enrichment pipeline, plus the markdown and HTML ingestion boundaries that
// normalize external content into it.
package source

import (
	"time"
)

// Block is one paragraph-sized unit of a document body.
// OriginalIndex is the block's position in the document and is the key used
// to reassemble enhanced output.
type Block struct {
	OriginalIndex int    `json:"original_index"`
	Text          string `json:"text"`
}

// Document is an ordered sequence of blocks with descriptive metadata.
type Document struct {
	// ID identifies the document across pipeline stages.
	ID string `json:"id"`

	// Blocks is the document body in order.
	Blocks []Block `json:"blocks"`

	// Metadata holds flat key/value pairs (title, url, frontmatter keys).
	Metadata map[string]string `json:"metadata,omitempty"`

	// Frontmatter is the raw frontmatter section including both delimiter
	// lines. Empty when the document has none. Render writes it back verbatim.
	Frontmatter string `json:"frontmatter,omitempty"`
}

// HasFrontmatter returns true if the document carried a frontmatter section.
func (d *Document) HasFrontmatter() bool {
	return d.Frontmatter != ""
}

// Title returns the title metadata value, if any.
func (d *Document) Title() string {
	if d.Metadata == nil {
		return ""
	}
	return d.Metadata["title"]
}

// Texts returns the block texts in order.
func (d *Document) Texts() []string {
	out := make([]string, len(d.Blocks))
	for i, b := range d.Blocks {
		out[i] = b.Text
	}
	return out
}

// Clone returns a deep copy of the document.
func (d *Document) Clone() *Document {
	c := &Document{
		ID:          d.ID,
		Blocks:      make([]Block, len(d.Blocks)),
		Frontmatter: d.Frontmatter,
	}
	copy(c.Blocks, d.Blocks)
	if d.Metadata != nil {
		c.Metadata = make(map[string]string, len(d.Metadata))
		for k, v := range d.Metadata {
			c.Metadata[k] = v
		}
	}
	return c
}

// NewBlocks builds canonically indexed blocks from raw texts.
func NewBlocks(texts []string) []Block {
	blocks := make([]Block, len(texts))
	for i, t := range texts {
		blocks[i] = Block{OriginalIndex: i, Text: t}
	}
	return blocks
}

// PageStatus is the processing state of a stored page.
type PageStatus string

const (
	// StatusPending pages are waiting to be claimed.
	StatusPending PageStatus = "pending"

	// StatusProcessing pages are claimed by a worker.
	StatusProcessing PageStatus = "processing"

	// StatusContexted pages were enhanced successfully.
	StatusContexted PageStatus = "contexted"

	// StatusFailed pages hit a non-retryable failure.
	StatusFailed PageStatus = "failed"

	// StatusRateLimited pages exhausted retries against rate limits.
	StatusRateLimited PageStatus = "rate_limited"

	// StatusTimeout pages exceeded the per-document timeout.
	StatusTimeout PageStatus = "timeout"
)

// IsTerminal reports whether a page in this status will not be claimed again.
func (s PageStatus) IsTerminal() bool {
	switch s {
	case StatusContexted, StatusFailed, StatusRateLimited, StatusTimeout:
		return true
	}
	return false
}

// IsValid checks if the status is a known value.
func (s PageStatus) IsValid() bool {
	return s == StatusPending || s == StatusProcessing || s.IsTerminal()
}

// Page is a crawled page tracked by the page store.
type Page struct {
	ID          string     `json:"id"`
	URL         string     `json:"url,omitempty"`
	Title       string     `json:"title,omitempty"`
	ContentType string     `json:"content_type"`
	Content     string     `json:"content"`
	Contexted   string     `json:"contexted,omitempty"`
	Status      PageStatus `json:"status"`
	Attempts    int        `json:"attempts"`
	WorkerID    string     `json:"worker_id,omitempty"`
	Error       string     `json:"error,omitempty"`
	ClaimedAt   *time.Time `json:"claimed_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}
