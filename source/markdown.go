package source

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

const frontmatterDelimiter = "---"

// ParseMarkdown splits markdown content into a Document.
// A leading frontmatter section is kept verbatim on the document and its
// scalar keys are copied into Metadata. The body is split into blocks on
// blank lines; blank lines inside fenced code do not split.
func ParseMarkdown(id, content string) *Document {
	doc := &Document{
		ID:       id,
		Metadata: make(map[string]string),
	}

	body := content
	if raw, rest, meta, ok := splitFrontmatter(content); ok {
		doc.Frontmatter = raw
		body = rest
		for k, v := range meta {
			doc.Metadata[k] = v
		}
	}

	doc.Blocks = NewBlocks(SplitBlocks(body))
	return doc
}

// Render joins the document back into markdown: the original frontmatter,
// then blocks separated by a single blank line.
func Render(doc *Document) string {
	var sb strings.Builder
	sb.WriteString(doc.Frontmatter)
	texts := doc.Texts()
	if len(texts) > 0 {
		sb.WriteString(strings.Join(texts, "\n\n"))
		sb.WriteString("\n")
	}
	return sb.String()
}

// SplitBlocks splits a markdown body into paragraph blocks.
func SplitBlocks(body string) []string {
	body = strings.ReplaceAll(body, "\r\n", "\n")
	lines := strings.Split(body, "\n")

	var blocks []string
	var current []string
	inFence := false
	fenceMarker := ""

	flush := func() {
		if len(current) == 0 {
			return
		}
		blocks = append(blocks, strings.Join(current, "\n"))
		current = nil
	}

	for _, line := range lines {
		trimmed := strings.TrimSpace(line)

		if marker, ok := fenceOpener(trimmed); ok {
			if !inFence {
				inFence = true
				fenceMarker = marker
			} else if strings.HasPrefix(trimmed, fenceMarker) {
				inFence = false
			}
			current = append(current, line)
			continue
		}

		if !inFence && trimmed == "" {
			flush()
			continue
		}
		current = append(current, line)
	}
	flush()

	return blocks
}

// fenceOpener reports whether a trimmed line opens or closes a code fence.
func fenceOpener(trimmed string) (string, bool) {
	switch {
	case strings.HasPrefix(trimmed, "```"):
		return "```", true
	case strings.HasPrefix(trimmed, "~~~"):
		return "~~~", true
	}
	return "", false
}

// splitFrontmatter separates a leading frontmatter section. raw includes
// both delimiters and the blank lines before the body so the section can be
// written back unchanged.
func splitFrontmatter(content string) (raw, body string, meta map[string]string, ok bool) {
	if !strings.HasPrefix(content, frontmatterDelimiter+"\n") && !strings.HasPrefix(content, frontmatterDelimiter+"\r\n") {
		return "", content, nil, false
	}

	start := strings.Index(content, "\n") + 1
	delimStart, delimEnd := closingDelimiter(content, start)
	if delimStart < 0 {
		return "", content, nil, false
	}
	yamlContent := content[start:delimStart]

	bodyStart := delimEnd
	for bodyStart < len(content) && (content[bodyStart] == '\n' || content[bodyStart] == '\r') {
		bodyStart++
	}

	var parsed map[string]any
	if err := yaml.Unmarshal([]byte(yamlContent), &parsed); err != nil {
		return "", content, nil, false
	}

	meta = make(map[string]string, len(parsed))
	for k, v := range parsed {
		switch val := v.(type) {
		case nil:
		case string:
			meta[k] = val
		case map[string]any, []any:
			// nested values stay in the raw section only
		default:
			meta[k] = fmt.Sprint(val)
		}
	}

	return content[:bodyStart], content[bodyStart:], meta, true
}

// closingDelimiter finds the first line at or after from that holds only the
// frontmatter delimiter, returning its start and the end of its text.
func closingDelimiter(content string, from int) (int, int) {
	for pos := from; pos < len(content); {
		line := content[pos:]
		next := -1
		if i := strings.IndexByte(line, '\n'); i >= 0 {
			line = line[:i]
			next = pos + i + 1
		}
		if strings.TrimRight(line, " \t\r") == frontmatterDelimiter {
			return pos, pos + len(line)
		}
		if next < 0 {
			break
		}
		pos = next
	}
	return -1, -1
}

// MetadataKeys returns the metadata keys in sorted order.
func MetadataKeys(doc *Document) []string {
	keys := make([]string, 0, len(doc.Metadata))
	for k := range doc.Metadata {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// GenerateID creates a stable document ID from filename and content hash.
func GenerateID(filename string, content []byte) string {
	base := filepath.Base(filename)
	name := sanitizeID(strings.TrimSuffix(base, filepath.Ext(base)))

	hash := sha256.Sum256(content)
	return fmt.Sprintf("doc.%s.%s", name, hex.EncodeToString(hash[:])[:12])
}

// sanitizeID makes a string safe for use as an entity ID.
func sanitizeID(s string) string {
	var buf bytes.Buffer
	for _, r := range strings.ToLower(s) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			buf.WriteRune(r)
		case r == '-' || r == '_' || r == ' ':
			buf.WriteRune('-')
		}
	}
	return buf.String()
}

// ContentHash computes a SHA256 hash of the content.
func ContentHash(content []byte) string {
	hash := sha256.Sum256(content)
	return hex.EncodeToString(hash[:])
}
