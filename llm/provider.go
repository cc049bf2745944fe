package llm

import (
	"net/http"
	"sort"
	"sync"
)

// RequestOptions carries per-call generation settings to a provider.
type RequestOptions struct {
	// Temperature is nil to use the provider default.
	Temperature *float64

	// MaxTokens limits response length. Zero uses the provider default.
	MaxTokens int

	// JSONMode asks the provider to constrain output to a JSON object.
	JSONMode bool
}

// Provider defines the interface for LLM provider implementations.
type Provider interface {
	// Name returns the provider identifier (e.g., "anthropic", "ollama").
	Name() string

	// BuildURL constructs the full API endpoint URL.
	BuildURL(baseURL string) string

	// SetHeaders adds provider-specific headers to the request.
	SetHeaders(req *http.Request, apiKey string)

	// BuildRequestBody creates the JSON request body for the provider.
	BuildRequestBody(model string, messages []Message, opts RequestOptions) ([]byte, error)

	// ParseResponse extracts the response from provider-specific JSON.
	ParseResponse(body []byte, model string) (*Response, error)

	// APIKeyEnv names the environment variable holding the API key, or ""
	// when the provider needs no credentials.
	APIKeyEnv() string

	// RequiresAPIKey reports whether calls fail without a key.
	RequiresAPIKey() bool

	// CachesContext reports whether the provider honours cached system
	// context, so a session pays for its document once.
	CachesContext() bool
}

// providerRegistry holds registered providers.
var (
	providerRegistry = make(map[string]Provider)
	providerMu       sync.RWMutex
)

// RegisterProvider adds a provider to the registry.
func RegisterProvider(p Provider) {
	providerMu.Lock()
	defer providerMu.Unlock()
	providerRegistry[p.Name()] = p
}

// GetProvider retrieves a provider by name.
func GetProvider(name string) Provider {
	providerMu.RLock()
	defer providerMu.RUnlock()
	return providerRegistry[name]
}

// ListProviders returns all registered provider names, sorted.
func ListProviders() []string {
	providerMu.RLock()
	defer providerMu.RUnlock()

	names := make([]string, 0, len(providerRegistry))
	for name := range providerRegistry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
