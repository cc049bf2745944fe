package window

import (
	"regexp"
	"strings"
)

var fencedRe = regexp.MustCompile("(?s)(```|~~~).*?(```|~~~)")

// CleanText reduces a block to the prose usable as surrounding context.
// Links keep their label; code and images are dropped.
func CleanText(text string) string {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" || isCodeFence(trimmed) || isIndentedCode(text) {
		return ""
	}

	out := fencedRe.ReplaceAllString(trimmed, "")
	out = imageRe.ReplaceAllString(out, "")
	out = linkRe.ReplaceAllString(out, "$1")

	lines := strings.Split(out, "\n")
	kept := lines[:0]
	for _, line := range lines {
		line = strings.TrimSpace(line)
		line = headingRe.ReplaceAllString(line, "")
		if line == "" {
			continue
		}
		kept = append(kept, line)
	}
	return strings.Join(kept, " ")
}

// CountWords counts whitespace separated words.
func CountWords(text string) int {
	return len(strings.Fields(text))
}
