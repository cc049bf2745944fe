package parser

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRSTParser_Headings(t *testing.T) {
	content := `Main Title
==========

Intro paragraph.

Section
-------

Body.

Another
=======
`
	res, err := NewRSTParser().Parse([]byte(content))
	require.NoError(t, err)
	assert.Nil(t, res.Metadata)
	assert.Equal(t, "# Main Title\n\nIntro paragraph.\n\n## Section\n\nBody.\n\n# Another\n", res.Markdown)
}

func TestRSTParser_FieldList(t *testing.T) {
	content := ":author: Jane\n:version: 2\n\nBody text.\n\n:inline: field\n"
	res, err := NewRSTParser().Parse([]byte(content))
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"author": "Jane", "version": "2"}, res.Metadata)
	assert.Equal(t, "Body text.\n\n**inline:** field\n", res.Markdown)
}

func TestRSTParser_CodeBlocks(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    string
	}{
		{
			name:    "directive",
			content: ".. code-block:: python\n\n   print(1)\n   print(2)\n\nAfter.",
			want:    "```python\nprint(1)\nprint(2)\n```\n\nAfter.",
		},
		{
			name:    "literal paragraph",
			content: "Example::\n\n    make build\n\nDone.",
			want:    "Example:\n\n```\nmake build\n```\n\nDone.",
		},
		{
			name:    "bare marker",
			content: "::\n\n    raw\n",
			want:    "```\nraw\n```",
		},
		{
			name:    "other directives dropped",
			content: ".. note::\nText.",
			want:    "Text.",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := NewRSTParser().Parse([]byte(tt.content))
			require.NoError(t, err)
			assert.Equal(t, tt.want, res.Markdown)
		})
	}
}
