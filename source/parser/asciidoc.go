package parser

import (
	"regexp"
	"strings"
)

var (
	// = Title, == Section, ...
	adocSectionTitle = regexp.MustCompile(`^(={1,6})\s+(.+)$`)

	// :name: value
	adocAttribute = regexp.MustCompile(`^:([^:]+):\s*(.*)$`)

	// [source,lang]
	adocSourceBlock      = regexp.MustCompile(`^\[source(?:,\s*([^\]]+))?\]`)
	adocListingBlock     = regexp.MustCompile(`^----$`)
	adocPassthroughBlock = regexp.MustCompile(`^\+\+\+\+$`)
	adocLiteralBlock     = regexp.MustCompile(`^\.\.\.\.+$`)
	adocSidebarBlock     = regexp.MustCompile(`^\*\*\*\*+$`)
	adocExampleBlock     = regexp.MustCompile(`^====+$`)

	// NOTE:, TIP:, WARNING:, ...
	adocAdmonition = regexp.MustCompile(`^(NOTE|TIP|IMPORTANT|WARNING|CAUTION):\s*(.*)$`)

	// name::target[attributes]
	adocBlockMacro = regexp.MustCompile(`^([a-z]+)::([^\[]*)\[([^\]]*)\]$`)
)

// ASCIIDocParser converts AsciiDoc documents to markdown.
type ASCIIDocParser struct{}

// NewASCIIDocParser creates a new AsciiDoc parser.
func NewASCIIDocParser() *ASCIIDocParser {
	return &ASCIIDocParser{}
}

// Parse converts an AsciiDoc document. The document title and header
// attributes become metadata; the title is also kept as a level one heading.
func (p *ASCIIDocParser) Parse(content []byte) (*Result, error) {
	attributes, body := p.extractAttributes(string(content))

	markdown := p.convertToMarkdown(body)
	if title := attributes["title"]; title != "" {
		markdown = "# " + title + "\n\n" + markdown
	}
	return &Result{Markdown: markdown, Metadata: attributes}, nil
}

// CanParse returns true if this parser can handle the given MIME type.
func (p *ASCIIDocParser) CanParse(mimeType string) bool {
	return mimeType == "text/asciidoc" || mimeType == "text/x-asciidoc"
}

// MimeType returns the primary MIME type for this parser.
func (p *ASCIIDocParser) MimeType() string {
	return "text/asciidoc"
}

// extractAttributes splits the document header from the body. A header is
// the document title and attribute entries before the first content line.
func (p *ASCIIDocParser) extractAttributes(content string) (map[string]string, string) {
	lines := strings.Split(content, "\n")
	attributes := make(map[string]string)
	bodyStart := 0

	for i, line := range lines {
		switch {
		case strings.HasPrefix(line, "= ") && !strings.HasPrefix(line, "=="):
			attributes["title"] = strings.TrimSpace(strings.TrimPrefix(line, "= "))
		case adocAttribute.MatchString(line):
			match := adocAttribute.FindStringSubmatch(line)
			key := strings.ToLower(strings.TrimSpace(match[1]))
			value := strings.TrimSpace(match[2])
			if value == "" {
				// Boolean flag.
				value = "true"
			}
			attributes[key] = value
		case strings.TrimSpace(line) == "":
			continue
		default:
			bodyStart = i
			return headerResult(attributes, lines, bodyStart, content)
		}
		bodyStart = i + 1
	}
	return headerResult(attributes, lines, bodyStart, content)
}

func headerResult(attributes map[string]string, lines []string, bodyStart int, content string) (map[string]string, string) {
	if len(attributes) == 0 {
		return nil, content
	}
	return attributes, strings.TrimLeft(strings.Join(lines[bodyStart:], "\n"), "\n")
}
