// Package enhance drives window enhancement: it builds the prompts and
// response schemas sent for each window and validates that a candidate
// enhancement only inserted [[...]] spans into the original text.
package enhance

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
	"unicode"
	"unicode/utf8"
)

// DefaultLenientThreshold is the share of identical word positions required
// when the strict comparison fails.
const DefaultLenientThreshold = 0.95

var (
	insertionRe       = regexp.MustCompile(`\[\[.*?\]\]`)
	whitespaceRe      = regexp.MustCompile(`\s+`)
	spaceBeforePunct  = regexp.MustCompile(`\s+([.,;:!?)\]}])`)
	spaceAfterBracket = regexp.MustCompile(`([(\[{])\s+`)

	glyphReplacer = strings.NewReplacer(
		"“", `"`, "”", `"`, "„", `"`, "‟", `"`, "«", `"`, "»", `"`,
		"‘", "'", "’", "'", "‚", "'", "‛", "'", "′", "'", "″", `"`,
		"‐", "-", "‑", "-", "‒", "-", "–", "-", "—", "-", "―", "-",
		"…", "...", "\u00a0", " ", "\u202f", " ",
	)
)

// Result is the outcome of validating one enhancement.
type Result struct {
	Valid bool `json:"valid"`

	// Reason explains a rejection.
	Reason string `json:"reason,omitempty"`

	// Lenient is set when the strict comparison failed but word-level
	// comparison accepted the candidate.
	Lenient bool `json:"lenient,omitempty"`
}

// Validator checks that enhancements only add bracketed insertions.
type Validator struct {
	threshold float64
}

// NewValidator creates a validator with the given lenient threshold.
// A threshold outside (0, 1] falls back to DefaultLenientThreshold.
func NewValidator(threshold float64) *Validator {
	if threshold <= 0 || threshold > 1 {
		threshold = DefaultLenientThreshold
	}
	return &Validator{threshold: threshold}
}

var defaultValidator = NewValidator(DefaultLenientThreshold)

// Validate checks an enhancement with the default threshold.
func Validate(original, enhanced string) Result {
	return defaultValidator.Validate(original, enhanced)
}

// Validate compares original and enhanced text after stripping insertions.
// Spans already present in the original must survive unchanged and in
// order.
func (v *Validator) Validate(original, enhanced string) Result {
	if strings.TrimSpace(enhanced) == "" {
		return Result{Reason: "empty enhancement"}
	}
	if _, ok := matchSpans(Insertions(original), Insertions(enhanced)); !ok {
		return Result{Reason: "existing [[...]] span changed or removed"}
	}

	want := Normalize(StripInsertions(original))
	got := Normalize(StripInsertions(enhanced))
	if want == got {
		return Result{Valid: true}
	}

	wantWords := strings.Fields(want)
	gotWords := strings.Fields(got)
	if len(wantWords) != len(gotWords) {
		return Result{Reason: fmt.Sprintf("word count changed: %d -> %d", len(wantWords), len(gotWords))}
	}

	same := 0
	for i := range wantWords {
		if wantWords[i] == gotWords[i] {
			same++
			continue
		}
		if foldWord(wantWords[i]) != foldWord(gotWords[i]) {
			return Result{Reason: fmt.Sprintf("word %d changed: %q -> %q", i, wantWords[i], gotWords[i])}
		}
	}

	ratio := float64(same) / float64(len(wantWords))
	if ratio < v.threshold {
		return Result{Reason: fmt.Sprintf("only %.0f%% of words match", ratio*100)}
	}
	return Result{Valid: true, Lenient: true}
}

// StripInsertions removes every [[...]] span.
func StripInsertions(s string) string {
	return insertionRe.ReplaceAllString(s, "")
}

// Insertions returns the text of every [[...]] span in order.
func Insertions(s string) []string {
	matches := insertionRe.FindAllString(s, -1)
	out := make([]string, 0, len(matches))
	for _, m := range matches {
		out = append(out, strings.TrimSpace(m[2:len(m)-2]))
	}
	return out
}

// Normalize maps quote and dash glyphs to ASCII, collapses whitespace and
// removes spacing left inside punctuation by a stripped insertion.
func Normalize(s string) string {
	s = glyphReplacer.Replace(s)
	s = whitespaceRe.ReplaceAllString(s, " ")
	s = spaceBeforePunct.ReplaceAllString(s, "$1")
	s = spaceAfterBracket.ReplaceAllString(s, "$1")
	return strings.TrimSpace(s)
}

// foldWord drops punctuation and symbols. Case is kept: a changed letter
// is a changed word.
func foldWord(w string) string {
	var sb strings.Builder
	for _, r := range w {
		if unicode.IsPunct(r) || unicode.IsSymbol(r) {
			continue
		}
		sb.WriteRune(r)
	}
	return sb.String()
}

// matchSpans pairs each existing span with the next equal candidate span.
// It reports which candidate spans are existing ones, and false when an
// existing span has no match.
func matchSpans(existing, candidate []string) ([]bool, bool) {
	kept := make([]bool, len(candidate))
	j := 0
	for _, want := range existing {
		for j < len(candidate) && candidate[j] != want {
			j++
		}
		if j == len(candidate) {
			return nil, false
		}
		kept[j] = true
		j++
	}
	return kept, true
}

// NewInsertions counts the spans of enhanced that are not in original.
func NewInsertions(original, enhanced string) int {
	n := len(Insertions(enhanced)) - len(Insertions(original))
	if n < 0 {
		return 0
	}
	return n
}

// wordCount counts words the way the validator compares them.
func wordCount(s string) int {
	return len(strings.Fields(Normalize(StripInsertions(s))))
}

type placement struct {
	at   int
	span string
	lead bool
}

// Project writes the new insertions of enhanced into the original bytes.
// Each span lands after the word it followed in enhanced, so the original
// whitespace, line breaks and punctuation are kept exactly. Spans the
// original already had are left where they are. The original is returned
// unchanged when enhanced drops or rewrites one of them.
func Project(original, enhanced string) string {
	locs := insertionRe.FindAllStringIndex(enhanced, -1)
	kept, ok := matchSpans(Insertions(original), Insertions(enhanced))
	if !ok || len(locs) == 0 {
		return original
	}

	spans := insertionRe.FindAllStringIndex(original, -1)
	ends := tokenEnds(original, spans)
	counts := make([]int, len(ends))
	for i, end := range ends {
		counts[i] = wordCount(original[:end])
	}
	start := len(original) - len(strings.TrimLeftFunc(original, unicode.IsSpace))
	last := len(strings.TrimRightFunc(original, unicode.IsSpace))

	var places []placement
	existing := 0
	for i, loc := range locs {
		if kept[i] {
			existing++
			continue
		}
		p := placement{span: enhanced[loc[0]:loc[1]]}
		n := wordCount(enhanced[:loc[0]])
		if n == 0 {
			p.at, p.lead = start, true
		} else {
			p.at = last
			for j, c := range counts {
				if c >= n {
					p.at = ends[j]
					break
				}
			}
			// Keep closing punctuation after the span when enhanced does.
			trail := trailingPunct(original[start:p.at])
			if trail != "" && strings.HasPrefix(strings.TrimLeftFunc(enhanced[loc[1]:], unicode.IsSpace), trail) {
				p.at -= len(trail)
			}
		}
		if existing > 0 && spans[existing-1][1] > p.at {
			p.at, p.lead = spans[existing-1][1], false
		}
		places = append(places, p)
	}
	if len(places) == 0 {
		return original
	}
	sort.SliceStable(places, func(a, b int) bool { return places[a].at < places[b].at })

	var sb strings.Builder
	prev := 0
	for _, p := range places {
		sb.WriteString(original[prev:p.at])
		if p.lead {
			sb.WriteString(p.span + " ")
		} else {
			sb.WriteString(" " + p.span)
		}
		prev = p.at
	}
	sb.WriteString(original[prev:])
	return sb.String()
}

const closingPunct = `.,;:!?)]}"'`

// trailingPunct returns the closing punctuation that ends s, never the
// whole of its last token.
func trailingPunct(s string) string {
	end := len(s)
	i := end
	for i > 0 {
		r, size := utf8.DecodeLastRuneInString(s[:i])
		if !strings.ContainsRune(closingPunct, r) {
			break
		}
		i -= size
	}
	if i == 0 {
		return ""
	}
	if r, _ := utf8.DecodeLastRuneInString(s[:i]); unicode.IsSpace(r) {
		return ""
	}
	return s[i:end]
}

// tokenEnds returns the byte offset after every whitespace separated token
// of s, skipping the given [[...]] spans.
func tokenEnds(s string, spans [][]int) []int {
	var ends []int
	inToken := false
	k := 0
	for i := 0; i < len(s); {
		if k < len(spans) && i == spans[k][0] {
			if inToken {
				ends = append(ends, i)
				inToken = false
			}
			i = spans[k][1]
			k++
			continue
		}
		r, size := utf8.DecodeRuneInString(s[i:])
		if unicode.IsSpace(r) {
			if inToken {
				ends = append(ends, i)
				inToken = false
			}
		} else {
			inToken = true
		}
		i += size
	}
	if inToken {
		ends = append(ends, len(s))
	}
	return ends
}
