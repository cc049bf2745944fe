package model

import (
	"os"
	"path/filepath"
	"testing"
)

const registryYAML = `
model_registry:
  capabilities:
    enhance:
      description: context insertion
      preferred: [primary]
      fallback: [backup]
  endpoints:
    primary:
      provider: anthropic
      model: claude-3-5-haiku-20241022
      api_key: ${SEMCONTEXT_TEST_KEY}
      max_concurrency: 4
    backup:
      provider: ollama
      url: http://localhost:11434/v1
      model: qwen2.5:14b
      timeout: 90s
`

func TestLoadFromYAML(t *testing.T) {
	r, err := LoadFromYAML([]byte(registryYAML))
	if err != nil {
		t.Fatalf("LoadFromYAML: %v", err)
	}

	if got := r.Resolve(CapabilityEnhance); got != "primary" {
		t.Errorf("Resolve = %q, want primary", got)
	}
	backup := r.GetEndpoint("backup")
	if backup == nil || backup.Timeout != "90s" {
		t.Fatalf("backup endpoint = %+v", backup)
	}
	if err := r.Validate(); err != nil {
		t.Errorf("Validate: %v", err)
	}
}

func TestLoadFromJSONBareRegistry(t *testing.T) {
	data := []byte(`{
		"capabilities": {"extract": {"preferred": ["m"]}},
		"endpoints": {"m": {"provider": "openai", "model": "gpt-4o-mini"}}
	}`)

	r, err := LoadFromJSON(data)
	if err != nil {
		t.Fatalf("LoadFromJSON: %v", err)
	}
	if got := r.Resolve(CapabilityExtract); got != "m" {
		t.Errorf("Resolve = %q, want m", got)
	}
}

func TestLoadFromJSONInvalid(t *testing.T) {
	if _, err := LoadFromJSON([]byte("{not json")); err == nil {
		t.Error("expected parse error")
	}
}

func TestLoadFromFileByExtension(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "models.yaml")
	if err := os.WriteFile(path, []byte(registryYAML), 0o644); err != nil {
		t.Fatal(err)
	}

	r, err := LoadFromFile(path)
	if err != nil {
		t.Fatalf("LoadFromFile: %v", err)
	}
	if len(r.ListEndpoints()) != 2 {
		t.Errorf("expected 2 endpoints, got %v", r.ListEndpoints())
	}

	if _, err := LoadFromFile(filepath.Join(dir, "missing.json")); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestExpandEnv(t *testing.T) {
	t.Setenv("SEMCONTEXT_TEST_KEY", "sk-test")

	r, err := LoadFromYAML([]byte(registryYAML))
	if err != nil {
		t.Fatal(err)
	}
	r.ExpandEnv()

	if got := r.GetEndpoint("primary").APIKey; got != "sk-test" {
		t.Errorf("APIKey = %q, want sk-test", got)
	}
}

func TestMergeFromConfig(t *testing.T) {
	r := NewDefaultRegistry()
	r.MergeFromConfig(&RegistryConfig{
		Capabilities: map[string]*CapabilityConfig{
			"enhance": {Preferred: []string{"qwen"}},
		},
		Endpoints: map[string]*EndpointConfig{
			"qwen": {Provider: "ollama", Model: "qwen3:8b"},
		},
	})

	if got := r.Resolve(CapabilityEnhance); got != "qwen" {
		t.Errorf("Resolve = %q, want qwen", got)
	}
	if got := r.GetEndpoint("qwen").Model; got != "qwen3:8b" {
		t.Errorf("Model = %q, want qwen3:8b", got)
	}
	if got := r.Resolve(CapabilityExtract); got != "claude-haiku" {
		t.Errorf("untouched capability changed: %q", got)
	}

	r.MergeFromConfig(nil)
}
