package source

import (
	"bytes"
	"fmt"
	"net/url"
	"regexp"
	"strings"

	md "github.com/JohannesKaufmann/html-to-markdown"
	"github.com/JohannesKaufmann/html-to-markdown/plugin"
	"github.com/go-shiori/go-readability"
	"golang.org/x/net/html"

	"github.com/c360studio/semcontext/source/parser"
)

var (
	scriptRe         = regexp.MustCompile(`(?is)<script[^>]*>.*?</script>`)
	styleRe          = regexp.MustCompile(`(?is)<style[^>]*>.*?</style>`)
	excessiveLinesRe = regexp.MustCompile(`\n{3,}`)
)

// ConvertResult contains the result of HTML to markdown conversion.
type ConvertResult struct {
	Title    string
	Markdown string
}

// Converter converts stored pages to markdown documents.
type Converter struct {
	converter *md.Converter
	parsers   *parser.Registry
}

// NewConverter creates a new HTML to markdown converter.
func NewConverter() *Converter {
	converter := md.NewConverter("", true, nil)
	converter.Use(plugin.GitHubFlavored())

	return &Converter{
		converter: converter,
		parsers:   parser.DefaultRegistry,
	}
}

// Convert transforms HTML content to markdown. The readable article body is
// preferred; pages readability cannot parse fall back to main-content
// extraction.
func (c *Converter) Convert(htmlContent []byte, pageURL string) (*ConvertResult, error) {
	title := extractHTMLTitle(htmlContent)

	body := ""
	var parsedURL *url.URL
	if pageURL != "" {
		parsedURL, _ = url.Parse(pageURL)
	}
	if article, err := readability.FromReader(bytes.NewReader(htmlContent), parsedURL); err == nil && strings.TrimSpace(article.Content) != "" {
		body = article.Content
		if title == "" {
			title = strings.TrimSpace(article.Title)
		}
	} else {
		body = extractMainContent(htmlContent)
	}

	markdown, err := c.converter.ConvertString(body)
	if err != nil {
		return nil, fmt.Errorf("convert html: %w", err)
	}
	markdown = cleanMarkdown(markdown)

	if title == "" {
		title = extractMarkdownTitle(markdown)
	}

	return &ConvertResult{
		Title:    title,
		Markdown: markdown,
	}, nil
}

// PageDocument normalizes a stored page into a Document. HTML pages and
// formats the parser registry knows are converted; everything else is
// treated as markdown.
func (c *Converter) PageDocument(p *Page) (*Document, error) {
	content := p.Content
	title := p.Title
	var attributes map[string]string

	switch {
	case isHTML(p.ContentType):
		res, err := c.Convert([]byte(p.Content), p.URL)
		if err != nil {
			return nil, err
		}
		content = res.Markdown
		if title == "" {
			title = res.Title
		}
	case c.parsers.Supports(p.ContentType):
		res, err := c.parsers.Parse(p.ContentType, []byte(p.Content))
		if err != nil {
			return nil, fmt.Errorf("convert %s: %w", p.ContentType, err)
		}
		content = res.Markdown
		attributes = res.Metadata
		if title == "" {
			title = res.Title()
		}
	}

	doc := ParseMarkdown(p.ID, content)
	for k, v := range attributes {
		if _, ok := doc.Metadata[k]; !ok {
			doc.Metadata[k] = v
		}
	}
	if title != "" {
		if _, ok := doc.Metadata["title"]; !ok {
			doc.Metadata["title"] = title
		}
	}
	if p.URL != "" {
		doc.Metadata["url"] = p.URL
	}
	return doc, nil
}

func isHTML(contentType string) bool {
	ct := strings.ToLower(contentType)
	return strings.Contains(ct, "text/html") || strings.Contains(ct, "application/xhtml")
}

// extractHTMLTitle extracts the title from HTML.
func extractHTMLTitle(content []byte) string {
	doc, err := html.Parse(bytes.NewReader(content))
	if err != nil {
		return ""
	}

	var title string
	var extract func(*html.Node)
	extract = func(n *html.Node) {
		if n.Type == html.ElementNode && n.Data == "title" && n.FirstChild != nil {
			title = strings.TrimSpace(n.FirstChild.Data)
			return
		}
		for c := n.FirstChild; c != nil && title == ""; c = c.NextSibling {
			extract(c)
		}
	}
	extract(doc)

	return title
}

// extractMainContent extracts the main content area from HTML.
func extractMainContent(content []byte) string {
	doc, err := html.Parse(bytes.NewReader(content))
	if err != nil {
		return basicHTMLCleanup(string(content))
	}

	for _, tag := range []string{"main", "article"} {
		if node := findElement(doc, tag); node != nil {
			return renderNode(node)
		}
	}

	removeElements(doc, map[string]bool{
		"nav": true, "header": true, "footer": true, "aside": true, "script": true,
		"style": true, "noscript": true, "iframe": true, "form": true,
	})

	if body := findElement(doc, "body"); body != nil {
		return renderNode(body)
	}
	return string(content)
}

func findElement(n *html.Node, tag string) *html.Node {
	if n.Type == html.ElementNode && n.Data == tag {
		return n
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if found := findElement(c, tag); found != nil {
			return found
		}
	}
	return nil
}

func removeElements(n *html.Node, tags map[string]bool) {
	var toRemove []*html.Node
	var collect func(*html.Node)
	collect = func(node *html.Node) {
		if node.Type == html.ElementNode && tags[node.Data] {
			toRemove = append(toRemove, node)
			return
		}
		for c := node.FirstChild; c != nil; c = c.NextSibling {
			collect(c)
		}
	}
	collect(n)

	for _, node := range toRemove {
		if node.Parent != nil {
			node.Parent.RemoveChild(node)
		}
	}
}

func renderNode(n *html.Node) string {
	var sb strings.Builder
	_ = html.Render(&sb, n)
	return sb.String()
}

func basicHTMLCleanup(content string) string {
	content = scriptRe.ReplaceAllString(content, "")
	return styleRe.ReplaceAllString(content, "")
}

// cleanMarkdown collapses blank line runs and trailing spaces so the body
// splits cleanly into blocks.
func cleanMarkdown(content string) string {
	lines := strings.Split(content, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimRight(line, " \t")
	}
	content = strings.Join(lines, "\n")
	content = excessiveLinesRe.ReplaceAllString(content, "\n\n")
	return strings.TrimSpace(content)
}

func extractMarkdownTitle(content string) string {
	for _, line := range strings.Split(content, "\n") {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "# ") {
			return strings.TrimSpace(trimmed[2:])
		}
	}
	return ""
}
