package source

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseMarkdown_NoFrontmatter(t *testing.T) {
	content := "# Title\n\nFirst paragraph.\n\nSecond paragraph\nspans two lines.\n"

	doc := ParseMarkdown("doc-1", content)

	assert.Equal(t, "doc-1", doc.ID)
	assert.False(t, doc.HasFrontmatter())
	require.Len(t, doc.Blocks, 3)
	assert.Equal(t, Block{OriginalIndex: 0, Text: "# Title"}, doc.Blocks[0])
	assert.Equal(t, "Second paragraph\nspans two lines.", doc.Blocks[2].Text)
	assert.Equal(t, content, Render(doc))
}

func TestParseMarkdown_FrontmatterPreserved(t *testing.T) {
	content := "---\ntitle: Release Notes\nversion: 3\ntags:\n  - a\n---\n\nHe shipped it.\n\nShe reviewed it.\n"

	doc := ParseMarkdown("doc-2", content)

	require.True(t, doc.HasFrontmatter())
	assert.Equal(t, "---\ntitle: Release Notes\nversion: 3\ntags:\n  - a\n---\n\n", doc.Frontmatter)
	assert.Equal(t, "Release Notes", doc.Title())
	assert.Equal(t, "3", doc.Metadata["version"])
	assert.NotContains(t, doc.Metadata, "tags")
	require.Len(t, doc.Blocks, 2)

	doc.Blocks[0].Text = "He [[Sam]] shipped it."
	assert.Equal(t, "---\ntitle: Release Notes\nversion: 3\ntags:\n  - a\n---\n\nHe [[Sam]] shipped it.\n\nShe reviewed it.\n", Render(doc))
}

func TestParseMarkdown_UnclosedFrontmatterIsBody(t *testing.T) {
	doc := ParseMarkdown("doc-3", "---\ntitle: x\n\nbody text")

	assert.False(t, doc.HasFrontmatter())
	require.Len(t, doc.Blocks, 2)
	assert.Equal(t, "---\ntitle: x", doc.Blocks[0].Text)
}

func TestParseMarkdown_FrontmatterClosesOnFullLine(t *testing.T) {
	tests := []struct {
		name        string
		content     string
		frontmatter string
		firstBlock  string
	}{
		{
			name:        "longer dash key inside",
			content:     "---\nnote: a\n----: rule\ntitle: Plan\n---\n\nBody here.\n",
			frontmatter: "---\nnote: a\n----: rule\ntitle: Plan\n---\n\n",
			firstBlock:  "Body here.",
		},
		{
			name:        "delimiter prefix inside value",
			content:     "---\ntitle: Plan\n---x: y\n---\nBody here.\n",
			frontmatter: "---\ntitle: Plan\n---x: y\n---\n",
			firstBlock:  "Body here.",
		},
		{
			name:        "crlf and trailing space",
			content:     "---\r\ntitle: Plan\r\n--- \r\n\r\nBody here.\r\n",
			frontmatter: "---\r\ntitle: Plan\r\n--- \r\n\r\n",
			firstBlock:  "Body here.",
		},
		{
			name:        "no blank line before body",
			content:     "---\ntitle: Plan\n---\nBody here.\n",
			frontmatter: "---\ntitle: Plan\n---\n",
			firstBlock:  "Body here.",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			doc := ParseMarkdown("doc-fm", tt.content)
			require.True(t, doc.HasFrontmatter())
			assert.Equal(t, tt.frontmatter, doc.Frontmatter)
			assert.Equal(t, "Plan", doc.Title())
			require.NotEmpty(t, doc.Blocks)
			assert.Equal(t, tt.firstBlock, doc.Blocks[0].Text)
			assert.True(t, strings.HasPrefix(Render(doc), tt.frontmatter))
		})
	}
}

func TestParseMarkdown_OnlyLongerRuleIsUnclosed(t *testing.T) {
	doc := ParseMarkdown("doc-4", "---\ntitle: x\n----\n\nbody text")

	assert.False(t, doc.HasFrontmatter())
	require.Len(t, doc.Blocks, 2)
	assert.Equal(t, "---\ntitle: x\n----", doc.Blocks[0].Text)
	assert.Equal(t, "body text", doc.Blocks[1].Text)
}

func TestSplitBlocks(t *testing.T) {
	tests := []struct {
		name     string
		body     string
		expected []string
	}{
		{
			name:     "empty",
			body:     "",
			expected: nil,
		},
		{
			name:     "multiple blank lines collapse",
			body:     "a\n\n\n\nb",
			expected: []string{"a", "b"},
		},
		{
			name:     "fenced code keeps blank lines",
			body:     "intro\n\n```go\nfunc a() {}\n\nfunc b() {}\n```\n\noutro",
			expected: []string{"intro", "```go\nfunc a() {}\n\nfunc b() {}\n```", "outro"},
		},
		{
			name:     "tilde fence ignores backtick lines",
			body:     "~~~\n```\n\nx\n~~~",
			expected: []string{"~~~\n```\n\nx\n~~~"},
		},
		{
			name:     "crlf",
			body:     "a\r\n\r\nb",
			expected: []string{"a", "b"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, SplitBlocks(tt.body))
		})
	}
}

func TestGenerateID(t *testing.T) {
	id := GenerateID("docs/My Notes.md", []byte("content"))
	assert.Regexp(t, `^doc\.my-notes\.[0-9a-f]{12}$`, id)
	assert.Equal(t, id, GenerateID("other/My Notes.md", []byte("content")))
	assert.NotEqual(t, id, GenerateID("docs/My Notes.md", []byte("changed")))
}

func TestDocumentClone(t *testing.T) {
	doc := &Document{ID: "d", Blocks: NewBlocks([]string{"a"}), Metadata: map[string]string{"k": "v"}}
	c := doc.Clone()
	c.Blocks[0].Text = "b"
	c.Metadata["k"] = "w"

	assert.Equal(t, "a", doc.Blocks[0].Text)
	assert.Equal(t, "v", doc.Metadata["k"])
}

func TestPageStatus_Markdown(t *testing.T) {
	assert.True(t, StatusTimeout.IsTerminal())
	assert.False(t, StatusProcessing.IsTerminal())
	assert.True(t, StatusPending.IsValid())
	assert.False(t, PageStatus("bogus").IsValid())
}
