package model

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"
)

const (
	// DefaultHostedTimeout bounds one attempt against a hosted provider.
	DefaultHostedTimeout = 60 * time.Second

	// DefaultLocalTimeout bounds one attempt against a local provider.
	DefaultLocalTimeout = 120 * time.Second
)

// localProviders run on the caller's hardware and get longer timeouts.
var localProviders = map[string]bool{
	"ollama": true,
}

// Registry manages model selection based on capabilities.
// It maps capabilities to preferred models with fallback chains.
type Registry struct {
	mu           sync.RWMutex
	capabilities map[Capability]*CapabilityConfig
	endpoints    map[string]*EndpointConfig
	defaults     *DefaultsConfig
	health       *healthState
}

// CapabilityConfig defines model preferences for a capability.
type CapabilityConfig struct {
	// Description explains what this capability is for.
	Description string `json:"description" yaml:"description"`

	// Preferred lists models in order of preference.
	Preferred []string `json:"preferred" yaml:"preferred"`

	// Fallback lists backup models if all preferred fail.
	Fallback []string `json:"fallback,omitempty" yaml:"fallback,omitempty"`
}

// EndpointConfig defines an available model endpoint.
type EndpointConfig struct {
	// Provider is the model provider (anthropic, ollama, openai).
	Provider string `json:"provider" yaml:"provider"`

	// URL is the API base URL. Empty uses the provider default; for local
	// providers this is the host.
	URL string `json:"url,omitempty" yaml:"url,omitempty"`

	// Model is the actual model identifier to send to the provider.
	Model string `json:"model" yaml:"model"`

	// APIKey authenticates hosted providers. Empty falls back to the
	// provider's environment variable.
	APIKey string `json:"api_key,omitempty" yaml:"api_key,omitempty"`

	// Timeout bounds a single attempt, e.g. "60s".
	Timeout string `json:"timeout,omitempty" yaml:"timeout,omitempty"`

	// MaxConcurrency caps concurrent calls to this endpoint's provider.
	MaxConcurrency int `json:"max_concurrency,omitempty" yaml:"max_concurrency,omitempty"`

	// MaxTokens limits response length.
	MaxTokens int `json:"max_tokens,omitempty" yaml:"max_tokens,omitempty"`
}

// IsLocal reports whether the endpoint runs a local provider.
func (e *EndpointConfig) IsLocal() bool {
	return localProviders[e.Provider]
}

// RequestTimeout returns the per-attempt timeout for the endpoint.
func (e *EndpointConfig) RequestTimeout() time.Duration {
	if e.Timeout != "" {
		if d, err := time.ParseDuration(e.Timeout); err == nil && d > 0 {
			return d
		}
	}
	if e.IsLocal() {
		return DefaultLocalTimeout
	}
	return DefaultHostedTimeout
}

// DefaultsConfig holds default model settings.
type DefaultsConfig struct {
	// Model is the default model when no capability matches.
	Model string `json:"model" yaml:"model"`
}

// NewRegistry creates a new model registry with the given configuration.
func NewRegistry(caps map[Capability]*CapabilityConfig, endpoints map[string]*EndpointConfig) *Registry {
	return &Registry{
		capabilities: caps,
		endpoints:    endpoints,
		defaults: &DefaultsConfig{
			Model: "default",
		},
	}
}

// NewDefaultRegistry creates a registry with sensible defaults.
// Used when no configuration is provided.
func NewDefaultRegistry() *Registry {
	return &Registry{
		capabilities: map[Capability]*CapabilityConfig{
			CapabilityEnhance: {
				Description: "Insert bracketed disambiguation context into text blocks",
				Preferred:   []string{"claude-haiku"},
				Fallback:    []string{"gpt-mini", "qwen"},
			},
			CapabilityExtract: {
				Description: "Extract entities and relationships from text",
				Preferred:   []string{"claude-haiku"},
				Fallback:    []string{"qwen"},
			},
		},
		endpoints: map[string]*EndpointConfig{
			"claude-haiku": {
				Provider:       "anthropic",
				Model:          "claude-3-5-haiku-20241022",
				MaxConcurrency: 5,
				MaxTokens:      4096,
			},
			"gpt-mini": {
				Provider:  "openai",
				Model:     "gpt-4o-mini",
				MaxTokens: 4096,
			},
			"qwen": {
				Provider:       "ollama",
				URL:            "http://localhost:11434/v1",
				Model:          "qwen2.5:14b",
				MaxConcurrency: 2,
			},
		},
		defaults: &DefaultsConfig{
			Model: "qwen",
		},
	}
}

// Resolve returns the preferred model for a capability.
func (r *Registry) Resolve(c Capability) string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if cfg, ok := r.capabilities[c]; ok && len(cfg.Preferred) > 0 {
		return cfg.Preferred[0]
	}
	return r.defaults.Model
}

// GetFallbackChain returns all models for a capability in order of preference.
func (r *Registry) GetFallbackChain(c Capability) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if cfg, ok := r.capabilities[c]; ok {
		chain := make([]string, 0, len(cfg.Preferred)+len(cfg.Fallback))
		chain = append(chain, cfg.Preferred...)
		chain = append(chain, cfg.Fallback...)
		return chain
	}
	return []string{r.defaults.Model}
}

// GetEndpoint returns the endpoint configuration for a model name.
// Returns nil if the model is not configured.
func (r *Registry) GetEndpoint(modelName string) *EndpointConfig {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return r.endpoints[modelName]
}

// SetCapability updates or adds a capability configuration.
func (r *Registry) SetCapability(c Capability, cfg *CapabilityConfig) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.capabilities == nil {
		r.capabilities = make(map[Capability]*CapabilityConfig)
	}
	r.capabilities[c] = cfg
}

// SetEndpoint updates or adds an endpoint configuration.
func (r *Registry) SetEndpoint(name string, cfg *EndpointConfig) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.endpoints == nil {
		r.endpoints = make(map[string]*EndpointConfig)
	}
	r.endpoints[name] = cfg
}

// ListCapabilities returns all configured capabilities, sorted.
func (r *Registry) ListCapabilities() []Capability {
	r.mu.RLock()
	defer r.mu.RUnlock()

	caps := make([]Capability, 0, len(r.capabilities))
	for c := range r.capabilities {
		caps = append(caps, c)
	}
	sort.Slice(caps, func(i, j int) bool { return caps[i] < caps[j] })
	return caps
}

// ListEndpoints returns all configured endpoint names, sorted.
func (r *Registry) ListEndpoints() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.endpoints))
	for name := range r.endpoints {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ProviderConcurrency returns the lowest MaxConcurrency configured for each
// provider.
func (r *Registry) ProviderConcurrency() map[string]int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make(map[string]int)
	for _, ep := range r.endpoints {
		if ep.MaxConcurrency <= 0 {
			continue
		}
		if cur, ok := out[ep.Provider]; !ok || ep.MaxConcurrency < cur {
			out[ep.Provider] = ep.MaxConcurrency
		}
	}
	return out
}

// Validate checks that every capability references configured endpoints
// and every endpoint names a provider and model.
func (r *Registry) Validate() error {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var errs []error
	for name, ep := range r.endpoints {
		if ep.Provider == "" {
			errs = append(errs, fmt.Errorf("endpoint %s: provider is required", name))
		}
		if ep.Model == "" {
			errs = append(errs, fmt.Errorf("endpoint %s: model is required", name))
		}
		if ep.Timeout != "" {
			if _, err := time.ParseDuration(ep.Timeout); err != nil {
				errs = append(errs, fmt.Errorf("endpoint %s: invalid timeout %q", name, ep.Timeout))
			}
		}
	}
	for c, cfg := range r.capabilities {
		if len(cfg.Preferred) == 0 {
			errs = append(errs, fmt.Errorf("capability %s: at least one preferred model is required", c))
		}
		for _, m := range append(append([]string{}, cfg.Preferred...), cfg.Fallback...) {
			if _, ok := r.endpoints[m]; !ok {
				errs = append(errs, fmt.Errorf("capability %s: unknown endpoint %s", c, m))
			}
		}
	}
	return errors.Join(errs...)
}

// MarshalJSON implements json.Marshaler for the registry.
func (r *Registry) MarshalJSON() ([]byte, error) {
	return json.Marshal(r.ToConfig())
}

// UnmarshalJSON implements json.Unmarshaler for the registry.
func (r *Registry) UnmarshalJSON(data []byte) error {
	var cfg RegistryConfig
	if err := json.Unmarshal(data, &cfg); err != nil {
		return err
	}
	loaded := registryFromConfig(&cfg)

	r.mu.Lock()
	defer r.mu.Unlock()
	r.capabilities = loaded.capabilities
	r.endpoints = loaded.endpoints
	r.defaults = loaded.defaults
	return nil
}
