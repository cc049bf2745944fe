package parser

import "strings"

// rstState tracks RST conversion state.
type rstState struct {
	inCode     bool
	codeIndent int
	levels     map[rune]int
	nextLevel  int
}

func newRSTState() *rstState {
	return &rstState{levels: make(map[rune]int), nextLevel: 1}
}

func indentOf(line string) int {
	return len(line) - len(strings.TrimLeft(line, " \t"))
}

// openIndentedCode starts a code fence when the next non-blank line after
// i is indented, and returns the index of that line.
func (s *rstState) openIndentedCode(lines []string, i int, out *[]string, fence string) (int, bool) {
	for j := i + 1; j < len(lines); j++ {
		next := lines[j]
		if strings.TrimSpace(next) == "" {
			continue
		}
		if indentOf(next) == 0 {
			return 0, false
		}
		if n := len(*out); n > 0 && (*out)[n-1] != "" {
			*out = append(*out, "")
		}
		*out = append(*out, fence)
		s.inCode = true
		s.codeIndent = indentOf(next)
		return j, true
	}
	return 0, false
}

// codeLine handles a line inside a code block. It reports false when the
// line dedents and closes the block, leaving the line to normal handling.
func (s *rstState) codeLine(line string, out *[]string) bool {
	if strings.TrimSpace(line) == "" {
		*out = append(*out, "")
		return true
	}
	if indentOf(line) < s.codeIndent {
		trimTrailingBlank(out)
		*out = append(*out, "```", "")
		s.inCode = false
		return false
	}
	*out = append(*out, line[s.codeIndent:])
	return true
}

// heading converts a title line followed by an underline. Levels are
// assigned in order of first appearance of each underline character.
func (s *rstState) heading(lines []string, i int) (string, bool) {
	if i+1 >= len(lines) {
		return "", false
	}
	title := strings.TrimSpace(lines[i])
	underline := strings.TrimSpace(lines[i+1])
	if title == "" || !rstSectionUnderline.MatchString(underline) || len(underline) < len(title) {
		return "", false
	}
	ch := rune(underline[0])
	level, ok := s.levels[ch]
	if !ok {
		level = s.nextLevel
		s.levels[ch] = level
		if s.nextLevel < 6 {
			s.nextLevel++
		}
	}
	return strings.Repeat("#", level) + " " + title, true
}

// convertToMarkdown converts an RST body to markdown.
func (p *RSTParser) convertToMarkdown(content string) string {
	lines := strings.Split(content, "\n")
	out := make([]string, 0, len(lines))
	state := newRSTState()

	for i := 0; i < len(lines); i++ {
		line := lines[i]
		if state.inCode && state.codeLine(line, &out) {
			continue
		}

		trimmed := strings.TrimSpace(line)
		if match := rstCodeBlockDirective.FindStringSubmatch(trimmed); match != nil {
			if next, ok := state.openIndentedCode(lines, i, &out, "```"+match[1]); ok {
				i = next - 1
			}
			continue
		}
		if rstCodeBlockShort.MatchString(trimmed) && !rstDirective.MatchString(trimmed) {
			// "Paragraph::" keeps one colon; a bare "::" disappears.
			if text := strings.TrimSuffix(trimmed, ":"); text != ":" {
				out = append(out, text)
			}
			if next, ok := state.openIndentedCode(lines, i, &out, "```"); ok {
				i = next - 1
			}
			continue
		}
		if heading, ok := state.heading(lines, i); ok {
			out = append(out, heading)
			i++
			continue
		}
		if match := rstFieldList.FindStringSubmatch(line); match != nil {
			out = append(out, "**"+match[1]+":**"+match[2])
			continue
		}
		if rstDirective.MatchString(trimmed) {
			continue
		}
		out = append(out, line)
	}

	if state.inCode {
		trimTrailingBlank(&out)
		out = append(out, "```")
	}
	return strings.Join(out, "\n")
}

func trimTrailingBlank(out *[]string) {
	for len(*out) > 0 && (*out)[len(*out)-1] == "" {
		*out = (*out)[:len(*out)-1]
	}
}
