package main

import (
	"encoding/json"
	"strings"
	"unicode"
	"unicode/utf8"
)

// Prompt markers written by the enhancement and extraction prompts.
const (
	enhanceStart = "Blocks to enhance:\n"
	enhanceEnd   = "\n\nReturn a JSON object"
	extractStart = "Extract entities from this text:\n---\n"
	extractEnd   = "\n---"
)

// synthesize answers a recognized prompt. It reports false when the prompt
// is neither an enhancement nor an extraction request.
func synthesize(prompt string) (string, bool) {
	if body, ok := between(prompt, enhanceStart, enhanceEnd); ok {
		return enhanceAnswer(body)
	}
	if body, ok := between(prompt, extractStart, extractEnd); ok {
		return extractAnswer(body), true
	}
	return "", false
}

func between(s, start, end string) (string, bool) {
	i := strings.Index(s, start)
	if i < 0 {
		return "", false
	}
	rest := s[i+len(start):]
	j := strings.LastIndex(rest, end)
	if j < 0 {
		return "", false
	}
	return rest[:j], true
}

// enhanceAnswer returns every block with one insertion after its first word.
func enhanceAnswer(body string) (string, bool) {
	var blocks map[string]string
	if err := json.Unmarshal([]byte(body), &blocks); err != nil {
		return "", false
	}
	out := make(map[string]string, len(blocks))
	for key, text := range blocks {
		out[key] = insertAfterFirstWord(text, "[[context for "+key+"]]")
	}
	data, err := json.Marshal(out)
	if err != nil {
		return "", false
	}
	return string(data), true
}

func insertAfterFirstWord(text, insertion string) string {
	trimmed := strings.TrimLeftFunc(text, unicode.IsSpace)
	lead := text[:len(text)-len(trimmed)]
	i := strings.IndexFunc(trimmed, unicode.IsSpace)
	if i < 0 {
		return lead + trimmed + " " + insertion
	}
	return lead + trimmed[:i] + " " + insertion + trimmed[i:]
}

// extractAnswer reports runs of two or more capitalized words as subjects.
func extractAnswer(text string) string {
	subjects := make([]map[string]string, 0)
	seen := make(map[string]bool)
	var run []string
	flush := func() {
		if len(run) >= 2 {
			name := strings.Join(run, " ")
			if !seen[name] {
				seen[name] = true
				subjects = append(subjects, map[string]string{"name": name})
			}
		}
		run = run[:0]
	}

	for _, word := range strings.Fields(text) {
		clean := strings.TrimFunc(word, func(r rune) bool { return !unicode.IsLetter(r) && !unicode.IsDigit(r) })
		first, _ := utf8.DecodeRuneInString(clean)
		if clean == "" || !unicode.IsUpper(first) {
			flush()
			continue
		}
		run = append(run, clean)
		// Punctuation after a word ends the phrase.
		if last, _ := utf8.DecodeLastRuneInString(word); unicode.IsPunct(last) {
			flush()
		}
	}
	flush()

	data, _ := json.Marshal(map[string]any{"subjects": subjects})
	return string(data)
}
