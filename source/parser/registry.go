// Package parser converts document formats that are not markdown into
// markdown, so they can be split into blocks and enriched like any other
// page.
package parser

import (
	"fmt"
	"mime"
	"path/filepath"
	"sort"
	"strings"
	"sync"
)

// Result is a converted document.
type Result struct {
	// Markdown is the converted body.
	Markdown string

	// Metadata holds header attributes such as title and author.
	Metadata map[string]string
}

// Title returns the title attribute, if any.
func (r *Result) Title() string {
	if r.Metadata == nil {
		return ""
	}
	return r.Metadata["title"]
}

// Parser converts one document format to markdown.
type Parser interface {
	// Parse converts content to markdown.
	Parse(content []byte) (*Result, error)

	// CanParse returns true if this parser handles the given MIME type.
	CanParse(mimeType string) bool

	// MimeType returns the primary MIME type for this parser.
	MimeType() string
}

// Registry manages document parsers.
type Registry struct {
	mu      sync.RWMutex
	parsers map[string]Parser // keyed by primary MIME type
}

// DefaultRegistry holds the AsciiDoc, reStructuredText and PDF parsers.
var DefaultRegistry = NewRegistry()

// NewRegistry creates a registry with the default parsers.
func NewRegistry() *Registry {
	r := &Registry{parsers: make(map[string]Parser)}
	r.Register(NewASCIIDocParser())
	r.Register(NewRSTParser())
	r.Register(NewPDFParser())
	return r
}

// Register adds a parser to the registry.
func (r *Registry) Register(p Parser) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.parsers[p.MimeType()] = p
}

// GetByMimeType returns the parser for a content type, or nil. Parameters
// such as charset are ignored.
func (r *Registry) GetByMimeType(contentType string) Parser {
	mimeType := baseType(contentType)

	r.mu.RLock()
	defer r.mu.RUnlock()
	if p, ok := r.parsers[mimeType]; ok {
		return p
	}
	for _, p := range r.parsers {
		if p.CanParse(mimeType) {
			return p
		}
	}
	return nil
}

// Supports reports whether a parser is registered for contentType.
func (r *Registry) Supports(contentType string) bool {
	return r.GetByMimeType(contentType) != nil
}

// Parse converts content of the given type.
func (r *Registry) Parse(contentType string, content []byte) (*Result, error) {
	p := r.GetByMimeType(contentType)
	if p == nil {
		return nil, fmt.Errorf("no parser for content type %q", contentType)
	}
	return p.Parse(content)
}

// ListMimeTypes returns the registered primary MIME types, sorted.
func (r *Registry) ListMimeTypes() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	types := make([]string, 0, len(r.parsers))
	for t := range r.parsers {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}

// IsBinary reports whether content of this type is not text and must be
// converted before it can be stored as a page.
func IsBinary(contentType string) bool {
	return baseType(contentType) == "application/pdf"
}

// MimeTypeFromExtension returns the MIME type for a file extension.
// Unknown extensions are treated as markdown.
func MimeTypeFromExtension(ext string) string {
	switch strings.ToLower(ext) {
	case ".html", ".htm", ".xhtml":
		return "text/html"
	case ".txt":
		return "text/plain"
	case ".pdf":
		return "application/pdf"
	case ".rst":
		return "text/x-rst"
	case ".adoc", ".asciidoc", ".asc":
		return "text/asciidoc"
	default:
		return "text/markdown"
	}
}

// MimeTypeFromPath returns the MIME type for a file path.
func MimeTypeFromPath(path string) string {
	return MimeTypeFromExtension(filepath.Ext(path))
}

func baseType(contentType string) string {
	if mt, _, err := mime.ParseMediaType(contentType); err == nil {
		return mt
	}
	return strings.ToLower(strings.TrimSpace(contentType))
}
