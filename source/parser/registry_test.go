package parser

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistry_GetByMimeType(t *testing.T) {
	r := NewRegistry()

	tests := []struct {
		contentType string
		want        string
	}{
		{"text/asciidoc", "text/asciidoc"},
		{"text/x-asciidoc", "text/asciidoc"},
		{"text/x-rst", "text/x-rst"},
		{"text/restructuredtext; charset=utf-8", "text/x-rst"},
		{"application/pdf", "application/pdf"},
		{"Application/PDF", "application/pdf"},
	}
	for _, tt := range tests {
		t.Run(tt.contentType, func(t *testing.T) {
			p := r.GetByMimeType(tt.contentType)
			require.NotNil(t, p)
			assert.Equal(t, tt.want, p.MimeType())
		})
	}

	assert.Nil(t, r.GetByMimeType("text/markdown"))
	assert.False(t, r.Supports("text/html"))
	assert.True(t, r.Supports("text/x-rst"))
}

func TestRegistry_Parse(t *testing.T) {
	res, err := DefaultRegistry.Parse("text/asciidoc", []byte("= Title\n\nBody text.\n"))
	require.NoError(t, err)
	assert.Equal(t, "Title", res.Title())

	_, err = DefaultRegistry.Parse("text/markdown", []byte("# x"))
	assert.Error(t, err)
}

func TestRegistry_ListMimeTypes(t *testing.T) {
	assert.Equal(t, []string{"application/pdf", "text/asciidoc", "text/x-rst"}, NewRegistry().ListMimeTypes())
}

func TestMimeTypeFromPath(t *testing.T) {
	tests := map[string]string{
		"notes.md":       "text/markdown",
		"notes":          "text/markdown",
		"page.HTML":      "text/html",
		"page.xhtml":     "text/html",
		"manual.pdf":     "application/pdf",
		"guide.rst":      "text/x-rst",
		"guide.adoc":     "text/asciidoc",
		"guide.asciidoc": "text/asciidoc",
		"readme.txt":     "text/plain",
	}
	for path, want := range tests {
		assert.Equal(t, want, MimeTypeFromPath(path), path)
	}
}

func TestIsBinary(t *testing.T) {
	assert.True(t, IsBinary("application/pdf"))
	assert.True(t, IsBinary("application/pdf; qs=0.9"))
	assert.False(t, IsBinary("text/x-rst"))
	assert.False(t, IsBinary(""))
}
