package llm

import (
	"encoding/json"
	"errors"
	"testing"
)

func TestExtractJSON(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantKey string
		wantErr bool
	}{
		{
			name:    "plain JSON",
			input:   `{"block_0": "He [[Chad Jones]] left."}`,
			wantKey: "block_0",
		},
		{
			name:    "markdown code block",
			input:   "```json\n{\"block_2\": \"text\"}\n```",
			wantKey: "block_2",
		},
		{
			name:    "markdown block with trailing text",
			input:   "```json\n{\"block_2\": \"text\"}\n```\n\nLet me know if you need more.",
			wantKey: "block_2",
		},
		{
			name:    "comments and trailing commas",
			input:   "{\n  \"people\": [\n    \"Ada\",  // first\n    \"Grace\",  // second\n  ],\n}",
			wantKey: "people",
		},
		{
			name:    "URL in string not stripped",
			input:   `{"url": "http://example.com/path"}`,
			wantKey: "url",
		},
		{
			name:    "URL in string with comment after",
			input:   "{\"url\": \"http://example.com/path\"} // trailing",
			wantKey: "url",
		},
		{
			name:    "prose before object",
			input:   "Here are the enhanced blocks:\n{\"block_5\": \"It [[the reactor]] failed.\"}",
			wantKey: "block_5",
		},
		{name: "empty input", input: "", wantErr: true},
		{name: "no JSON at all", input: "This is just text with no JSON.", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := ExtractJSON(tt.input)

			if tt.wantErr {
				if result != "" {
					t.Errorf("expected empty result, got: %s", result)
				}
				return
			}
			if result == "" {
				t.Fatal("expected JSON result, got empty string")
			}

			var parsed map[string]any
			if err := json.Unmarshal([]byte(result), &parsed); err != nil {
				t.Fatalf("result is not valid JSON: %v\nresult: %s", err, result)
			}
			if _, ok := parsed[tt.wantKey]; !ok {
				t.Errorf("expected key %q in %v", tt.wantKey, parsed)
			}
		})
	}
}

func TestDecodeJSON(t *testing.T) {
	var out map[string]string
	if err := DecodeJSON("```json\n{\"block_1\": \"x\",}\n```", &out); err != nil {
		t.Fatalf("DecodeJSON: %v", err)
	}
	if out["block_1"] != "x" {
		t.Errorf("block_1 = %q", out["block_1"])
	}

	if err := DecodeJSON("nothing here", &out); !errors.Is(err, ErrNoJSON) {
		t.Errorf("expected ErrNoJSON, got %v", err)
	}
}

func TestStripLineComment(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{`"a",          // comment`, `"a",`},
		{`"url": "http://example.com" // c`, `"url": "http://example.com"`},
		{`"url": "http://example.com"`, `"url": "http://example.com"`},
		{`"esc \" // not": 1`, `"esc \" // not": 1`},
		{`no comment`, `no comment`},
	}
	for _, tt := range tests {
		if got := stripLineComment(tt.input); got != tt.want {
			t.Errorf("stripLineComment(%q) = %q, want %q", tt.input, got, tt.want)
		}
	}
}

func TestCleanJSONTrailingCommas(t *testing.T) {
	got := cleanJSON(`{"a": [1, 2,], "b": {"c": 1,},}`)
	want := `{"a": [1, 2], "b": {"c": 1}}`
	if got != want {
		t.Errorf("cleanJSON = %q, want %q", got, want)
	}
}
