package parser

import (
	"regexp"
	"strings"
)

var (
	// ===, ---, ~~~, ^^^, ...
	rstSectionUnderline = regexp.MustCompile(`^(={3,}|-{3,}|~{3,}|\^{3,}|\+{3,}|#{3,}|\*{3,}|_{3,})$`)

	// .. code-block:: lang
	rstCodeBlockDirective = regexp.MustCompile(`^\.\. code(?:-block)?::\s*(\S*)`)
	rstCodeBlockShort     = regexp.MustCompile(`::$`)

	// :field: value
	rstFieldList = regexp.MustCompile(`^:([^:]+):(.*)$`)

	// .. directive::
	rstDirective = regexp.MustCompile(`^\.\. ([a-z-]+)::`)
)

// RSTParser converts reStructuredText documents to markdown.
type RSTParser struct{}

// NewRSTParser creates a new RST parser.
func NewRSTParser() *RSTParser {
	return &RSTParser{}
}

// Parse converts an RST document. A leading field list becomes metadata.
func (p *RSTParser) Parse(content []byte) (*Result, error) {
	metadata, body := p.extractFieldList(string(content))
	return &Result{
		Markdown: p.convertToMarkdown(body),
		Metadata: metadata,
	}, nil
}

// CanParse returns true if this parser can handle the given MIME type.
func (p *RSTParser) CanParse(mimeType string) bool {
	switch mimeType {
	case "text/x-rst", "text/rst", "text/restructuredtext":
		return true
	default:
		return false
	}
}

// MimeType returns the primary MIME type for this parser.
func (p *RSTParser) MimeType() string {
	return "text/x-rst"
}

// extractFieldList splits a leading field list from the body.
func (p *RSTParser) extractFieldList(content string) (map[string]string, string) {
	lines := strings.Split(content, "\n")
	metadata := make(map[string]string)
	bodyStart := 0

	for i, line := range lines {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			continue
		}
		match := rstFieldList.FindStringSubmatch(trimmed)
		if match == nil {
			break
		}
		metadata[strings.ToLower(strings.TrimSpace(match[1]))] = strings.TrimSpace(match[2])
		bodyStart = i + 1
	}

	if len(metadata) == 0 {
		return nil, content
	}
	return metadata, strings.TrimLeft(strings.Join(lines[bodyStart:], "\n"), "\n")
}
