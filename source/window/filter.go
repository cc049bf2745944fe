package window

import (
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/c360studio/semcontext/source"
)

// Reason explains why a block is or is not sent for enhancement.
type Reason string

const (
	ReasonEligible Reason = "eligible"
	ReasonEmpty    Reason = "empty"
	ReasonHeading  Reason = "heading"
	ReasonCode     Reason = "code"
	ReasonImage    Reason = "image"
	ReasonTooShort Reason = "too_short"
)

var (
	imageRe = regexp.MustCompile(`!\[[^\]]*\]\([^)]*\)`)
	linkRe  = regexp.MustCompile(`\[([^\]]*)\]\([^)]*\)`)

	// ATX heading marker: one to six # then a space or end of line.
	headingRe = regexp.MustCompile(`^#{1,6}(?:[ \t]+|$)`)
)

// Filter classifies blocks as eligible for enhancement.
type Filter struct {
	minChars int
}

// NewFilter creates a filter that rejects blocks shorter than minChars
// after trimming.
func NewFilter(minChars int) *Filter {
	return &Filter{minChars: minChars}
}

// Classify returns the reason a block is or is not eligible.
func (f *Filter) Classify(text string) Reason {
	trimmed := strings.TrimSpace(text)
	switch {
	case trimmed == "":
		return ReasonEmpty
	case isHeading(trimmed):
		return ReasonHeading
	case isCodeFence(trimmed), isIndentedCode(text):
		return ReasonCode
	case isImageOnly(trimmed):
		return ReasonImage
	case utf8.RuneCountInString(trimmed) < f.minChars:
		return ReasonTooShort
	}
	return ReasonEligible
}

// IsEligible reports whether a block should be sent for enhancement.
func (f *Filter) IsEligible(text string) bool {
	return f.Classify(text) == ReasonEligible
}

// Eligible returns the eligibility of each block by slice position.
func (f *Filter) Eligible(blocks []source.Block) []bool {
	out := make([]bool, len(blocks))
	for i, b := range blocks {
		out[i] = f.IsEligible(b.Text)
	}
	return out
}

// CountEligible returns how many blocks would be sent for enhancement.
func (f *Filter) CountEligible(blocks []source.Block) int {
	n := 0
	for _, b := range blocks {
		if f.IsEligible(b.Text) {
			n++
		}
	}
	return n
}

func isHeading(trimmed string) bool {
	return headingRe.MatchString(trimmed)
}

func isCodeFence(trimmed string) bool {
	return strings.HasPrefix(trimmed, "```") || strings.HasPrefix(trimmed, "~~~")
}

// isIndentedCode reports whether every non-blank line is indented by four
// spaces or a tab.
func isIndentedCode(text string) bool {
	seen := false
	for _, line := range strings.Split(text, "\n") {
		if strings.TrimSpace(line) == "" {
			continue
		}
		if !strings.HasPrefix(line, "    ") && !strings.HasPrefix(line, "\t") {
			return false
		}
		seen = true
	}
	return seen
}

func isImageOnly(trimmed string) bool {
	if !strings.Contains(trimmed, "![") {
		return false
	}
	rest := imageRe.ReplaceAllString(trimmed, "")
	// linked images leave an empty link behind: [](target)
	rest = linkRe.ReplaceAllString(rest, "$1")
	return strings.TrimSpace(rest) == ""
}
