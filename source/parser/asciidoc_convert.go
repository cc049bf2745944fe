package parser

import (
	"path/filepath"
	"strings"
)

// fenceState tracks the delimited block being converted.
type fenceState struct {
	open  bool
	delim string
}

// toggle opens or closes a fence for delim. Markdown fences are emitted
// unless passthrough is set. A delimiter inside a different block is
// content and is not consumed.
func (s *fenceState) toggle(delim string, out *[]string, passthrough bool) bool {
	switch {
	case s.open && s.delim == delim:
		s.open, s.delim = false, ""
	case !s.open:
		s.open, s.delim = true, delim
	default:
		return false
	}
	if !passthrough {
		*out = append(*out, "```")
	}
	return true
}

// handleDelimiter processes a block delimiter line. Returns true if the
// line was consumed.
func (p *ASCIIDocParser) handleDelimiter(trimmed string, out *[]string, state *fenceState) bool {
	switch {
	case adocListingBlock.MatchString(trimmed):
		if state.open && state.delim == "source" {
			// A listing delimiter after [source] opens the block body; the
			// second one closes it.
			state.delim = "source----"
			return true
		}
		if state.open && state.delim == "source----" {
			*out = append(*out, "```")
			state.open, state.delim = false, ""
			return true
		}
		return state.toggle("----", out, false)
	case adocLiteralBlock.MatchString(trimmed):
		return state.toggle("....", out, false)
	case adocPassthroughBlock.MatchString(trimmed):
		return state.toggle("++++", out, true)
	case !state.open && (adocSidebarBlock.MatchString(trimmed) || adocExampleBlock.MatchString(trimmed)):
		return true
	}
	return false
}

// convertMacro converts a block macro to markdown.
func convertMacro(kind, target, attrs string) string {
	switch kind {
	case "image":
		alt := attrs
		if alt == "" {
			alt = filepath.Base(target)
		}
		return "![" + alt + "](" + target + ")"
	case "include":
		return "_[Include: " + target + "]_"
	default:
		return "_[" + kind + ": " + target + "]_"
	}
}

// convertLine converts a line outside any delimited block.
func (p *ASCIIDocParser) convertLine(trimmed, line string, state *fenceState) string {
	if match := adocSourceBlock.FindStringSubmatch(trimmed); match != nil {
		state.open, state.delim = true, "source"
		return "```" + strings.TrimSpace(match[1])
	}
	if match := adocSectionTitle.FindStringSubmatch(trimmed); match != nil {
		return strings.Repeat("#", len(match[1])) + " " + match[2]
	}
	if match := adocAdmonition.FindStringSubmatch(trimmed); match != nil {
		return "**" + match[1] + ":** " + match[2]
	}
	if match := adocBlockMacro.FindStringSubmatch(trimmed); match != nil {
		return convertMacro(match[1], match[2], match[3])
	}
	return line
}

// convertToMarkdown converts an AsciiDoc body to markdown.
func (p *ASCIIDocParser) convertToMarkdown(content string) string {
	lines := strings.Split(content, "\n")
	out := make([]string, 0, len(lines))
	state := &fenceState{}

	for _, line := range lines {
		trimmed := strings.TrimSpace(line)
		if p.handleDelimiter(trimmed, &out, state) {
			continue
		}
		if state.open && state.delim == "source" && trimmed == "" {
			// [source] applied to a plain paragraph ends at the blank line.
			out = append(out, "```", "")
			state.open, state.delim = false, ""
			continue
		}
		if state.open {
			out = append(out, line)
			continue
		}
		out = append(out, p.convertLine(trimmed, line, state))
	}
	if state.open && state.delim != "++++" {
		out = append(out, "```")
	}
	return strings.Join(out, "\n")
}
