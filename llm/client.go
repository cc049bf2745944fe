// Package llm provides a provider-agnostic LLM client with retry and fallback support.
// It integrates with the model.Registry for capability-based model selection.
package llm

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"sync/atomic"
	"time"

	"github.com/c360studio/semcontext/model"
	"github.com/google/uuid"
	"github.com/sethvargo/go-retry"
)

// maxResponseSize limits the LLM response body to prevent memory exhaustion.
const maxResponseSize = 10 * 1024 * 1024 // 10MB

// Completer performs one logical completion. Client implements it; tests
// substitute doubles.
type Completer interface {
	Complete(ctx context.Context, req Request) (*Response, error)
}

// Client is a provider-agnostic LLM client with retry and fallback support.
type Client struct {
	registry   *model.Registry
	httpClient *http.Client
	policy     RetryPolicy
	limiter    *Limiter
	metrics    *Metrics
	logger     *slog.Logger

	attempts atomic.Int64
}

// Message represents a chat message.
type Message struct {
	Role    string `json:"role"`    // "system", "user", or "assistant"
	Content string `json:"content"` // Message content

	// Cache marks content the provider may keep between calls.
	Cache bool `json:"-"`
}

// Request defines an LLM completion request.
type Request struct {
	// Capability specifies the semantic capability ("enhance", "extract").
	// The registry resolves this to available models.
	Capability string

	// Context is static text shared by every call in a session. Providers
	// that cache context receive it as a cached system message; others get
	// it prepended to the prompt.
	Context string

	// Prompt is the incremental user prompt.
	Prompt string

	// Messages replaces Prompt with an explicit chat history.
	Messages []Message

	// Shape declares how the response is parsed. The zero value is FreeText.
	Shape ResponseShape

	// Temperature controls randomness. nil uses endpoint default, 0 is deterministic.
	Temperature *float64

	// MaxTokens limits response length. 0 uses endpoint default.
	MaxTokens int

	// SessionID correlates calls from one session in logs.
	SessionID string
}

// TokenUsage represents token consumption details for an LLM call.
type TokenUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Response contains the LLM completion result.
type Response struct {
	// RequestID uniquely identifies this logical call.
	RequestID string

	// Content is the generated text.
	Content string

	// Object is the parsed response for StructuredObject shapes.
	Object map[string]any

	// Model is the actual model that was used.
	Model string

	// Provider and Endpoint identify who answered.
	Provider string
	Endpoint string

	// Usage contains detailed token consumption metrics.
	Usage TokenUsage

	// FinishReason indicates why generation stopped.
	FinishReason string

	// Attempts is the number of network attempts across all providers.
	Attempts int

	// FallbacksUsed lists endpoints that were exhausted before success.
	FallbacksUsed []string

	// ContextCached is true when the session context went out as a cached
	// system message.
	ContextCached bool
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(c *http.Client) ClientOption {
	return func(client *Client) {
		client.httpClient = c
	}
}

// WithRetryPolicy sets the per-provider retry policy.
func WithRetryPolicy(p RetryPolicy) ClientOption {
	return func(client *Client) {
		client.policy = p
	}
}

// WithLimiter sets the concurrency limiter shared by all calls.
func WithLimiter(l *Limiter) ClientOption {
	return func(client *Client) {
		client.limiter = l
	}
}

// WithMetrics sets the Prometheus collectors.
func WithMetrics(m *Metrics) ClientOption {
	return func(client *Client) {
		client.metrics = m
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) ClientOption {
	return func(client *Client) {
		client.logger = logger
	}
}

// NewClient creates a new LLM client with the given model registry.
func NewClient(registry *model.Registry, opts ...ClientOption) *Client {
	c := &Client{
		registry: registry,
		policy:   DefaultRetryPolicy(),
		httpClient: &http.Client{
			Timeout: 180 * time.Second, // per-attempt timeouts are shorter
		},
		logger: slog.Default(),
	}

	for _, opt := range opts {
		opt(c)
	}
	if c.limiter == nil {
		c.limiter = NewLimiter(DefaultConcurrency, registry.ProviderConcurrency())
	}

	return c
}

// Limiter returns the client's concurrency limiter.
func (c *Client) Limiter() *Limiter {
	return c.limiter
}

// Attempts returns the total number of network attempts made.
func (c *Client) Attempts() int64 {
	return c.attempts.Load()
}

// target is a resolved, credentialed chain entry.
type target struct {
	name     string
	endpoint *model.EndpointConfig
	provider Provider
	apiKey   string
}

// Complete sends a completion request, handling retry and fallback logic.
func (c *Client) Complete(ctx context.Context, req Request) (*Response, error) {
	if req.Capability == "" {
		return nil, NewFatalError(errors.New("capability is required"))
	}
	if req.Prompt == "" && len(req.Messages) == 0 {
		return nil, NewFatalError(errors.New("prompt or messages required"))
	}

	targets, err := c.resolve(model.Capability(req.Capability))
	if err != nil {
		return nil, err
	}

	requestID := uuid.New().String()
	var (
		lastErr   error
		fallbacks []string
		attempts  int
	)

	for i, t := range targets {
		if i > 0 {
			c.logger.Warn("Provider exhausted, switching to fallback",
				"capability", req.Capability,
				"from", targets[i-1].name,
				"to", t.name,
				"error", lastErr)
			c.metrics.observeFallback(req.Capability, targets[i-1].name, t.name)
		}

		resp, n, err := c.tryEndpoint(ctx, t, req)
		attempts += n
		if err == nil {
			resp.RequestID = requestID
			resp.Attempts = attempts
			resp.FallbacksUsed = fallbacks
			return resp, nil
		}

		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if IsFatal(err) {
			c.logger.Warn("Fatal provider error, not trying fallbacks",
				"capability", req.Capability,
				"endpoint", t.name,
				"error", err)
			return nil, err
		}

		lastErr = err
		fallbacks = append(fallbacks, t.name)
	}

	c.metrics.observeExhausted(req.Capability)
	return nil, fmt.Errorf("%w for capability %s after %d attempts: %w", ErrExhausted, req.Capability, attempts, lastErr)
}

// resolve turns the capability's healthy fallback chain into targets.
// An unknown provider is a configuration error. Endpoints missing a
// required API key are skipped, and a chain left empty is a
// configuration error. Nothing here touches the network.
func (c *Client) resolve(capability model.Capability) ([]target, error) {
	chain := c.registry.GetAvailableFallbackChain(capability)

	targets := make([]target, 0, len(chain))
	var missing []string
	for _, name := range chain {
		ep := c.registry.GetEndpoint(name)
		if ep == nil {
			c.logger.Debug("No endpoint for model, skipping", "model", name)
			continue
		}
		p := GetProvider(ep.Provider)
		if p == nil {
			return nil, NewConfigError(fmt.Errorf("endpoint %s: unsupported provider %q", name, ep.Provider))
		}
		key := ep.APIKey
		if key == "" && p.APIKeyEnv() != "" {
			key = os.Getenv(p.APIKeyEnv())
		}
		if key == "" && p.RequiresAPIKey() {
			missing = append(missing, fmt.Sprintf("%s (%s)", name, p.APIKeyEnv()))
			continue
		}
		targets = append(targets, target{name: name, endpoint: ep, provider: p, apiKey: key})
	}

	if len(targets) == 0 {
		if len(missing) > 0 {
			return nil, NewConfigError(fmt.Errorf("no API key for capability %s: %v", capability, missing))
		}
		return nil, NewConfigError(fmt.Errorf("no models configured for capability %s", capability))
	}
	if len(missing) > 0 {
		c.logger.Debug("Skipping endpoints without credentials", "capability", capability, "endpoints", missing)
	}
	return targets, nil
}

// tryEndpoint runs one provider's full attempt budget and returns the
// number of attempts made.
func (c *Client) tryEndpoint(ctx context.Context, t target, req Request) (*Response, int, error) {
	var (
		resp     *Response
		attempts int
	)

	err := retry.Do(ctx, c.policy.backoff(), func(ctx context.Context) error {
		attempts++
		r, err := c.doRequest(ctx, t, req)
		if err == nil {
			resp = r
			return nil
		}
		if ctx.Err() == nil && c.policy.retryable(err) {
			c.logger.Debug("Request failed, retrying",
				"endpoint", t.name,
				"attempt", attempts,
				"max_attempts", c.policy.attempts(),
				"session", req.SessionID,
				"error", err)
			return retry.RetryableError(err)
		}
		return err
	})

	if err == nil {
		c.registry.MarkEndpointSuccess(t.name)
		return resp, attempts, nil
	}

	// Fatal errors point at the request or configuration, not endpoint health.
	if !IsFatal(err) && ctx.Err() == nil {
		c.registry.MarkEndpointFailure(t.name)
	}
	return nil, attempts, err
}

// doRequest executes a single attempt while holding a limiter slot.
func (c *Client) doRequest(ctx context.Context, t target, req Request) (*Response, error) {
	release, err := c.limiter.Acquire(ctx, t.endpoint.Provider)
	if err != nil {
		return nil, err
	}
	c.metrics.setInFlight(c.limiter.InFlight())
	defer func() {
		release()
		c.metrics.setInFlight(c.limiter.InFlight())
	}()

	c.attempts.Add(1)
	start := time.Now()

	attemptCtx, cancel := context.WithTimeout(ctx, t.endpoint.RequestTimeout())
	defer cancel()

	resp, err := c.roundTrip(ctx, attemptCtx, t, req)

	outcome := "success"
	switch {
	case err == nil:
	case IsShapeError(err):
		outcome = "shape_error"
	case IsFatal(err):
		outcome = "fatal"
	default:
		outcome = "transient"
	}
	c.metrics.observeAttempt(t.endpoint.Provider, outcome, time.Since(start).Seconds())

	return resp, err
}

// roundTrip sends one HTTP request and parses the reply into the declared
// shape. parent is the caller's context, used to tell cancellation apart
// from an attempt timeout.
func (c *Client) roundTrip(parent, ctx context.Context, t target, req Request) (*Response, error) {
	messages, cached := buildMessages(t.provider, req)

	body, err := t.provider.BuildRequestBody(t.endpoint.Model, messages, RequestOptions{
		Temperature: req.Temperature,
		MaxTokens:   maxTokens(req, t.endpoint),
		JSONMode:    req.Shape.Kind() == ShapeStructuredObject,
	})
	if err != nil {
		return nil, NewFatalError(fmt.Errorf("build request body: %w", err))
	}

	url := t.provider.BuildURL(t.endpoint.URL)
	c.logger.Debug("Sending LLM request",
		"provider", t.endpoint.Provider,
		"model", t.endpoint.Model,
		"url", url,
		"messages", len(messages),
		"context_cached", cached)

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, NewFatalError(fmt.Errorf("create HTTP request: %w", err))
	}
	httpReq.Header.Set("Content-Type", "application/json")
	t.provider.SetHeaders(httpReq, t.apiKey)

	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, classifyTransportError(parent, err)
	}
	defer httpResp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(httpResp.Body, maxResponseSize))
	if err != nil {
		return nil, classifyTransportError(parent, fmt.Errorf("read response body: %w", err))
	}

	if httpResp.StatusCode != http.StatusOK {
		return nil, classifyHTTPError(httpResp.StatusCode, respBody)
	}

	resp, err := t.provider.ParseResponse(respBody, t.endpoint.Model)
	if err != nil {
		return nil, NewShapeError(err)
	}

	obj, err := req.Shape.parse(resp.Content)
	if err != nil {
		return nil, err
	}

	resp.Object = obj
	resp.Provider = t.endpoint.Provider
	resp.Endpoint = t.name
	resp.ContextCached = cached
	if resp.Model == "" {
		resp.Model = t.endpoint.Model
	}
	return resp, nil
}

// buildMessages lays out the session context for the provider. Providers
// that cache context get it as a cached system message; the rest get it
// prepended to the first user prompt.
func buildMessages(p Provider, req Request) ([]Message, bool) {
	var messages []Message
	cached := false

	if req.Context != "" && p.CachesContext() {
		messages = append(messages, Message{Role: "system", Content: req.Context, Cache: true})
		cached = true
	}

	if len(req.Messages) > 0 {
		messages = append(messages, req.Messages...)
		if req.Context != "" && !cached {
			messages = prependContext(messages, req.Context)
		}
		return messages, cached
	}

	prompt := req.Prompt
	if req.Context != "" && !cached {
		prompt = req.Context + "\n\n" + prompt
	}
	return append(messages, Message{Role: "user", Content: prompt}), cached
}

func prependContext(messages []Message, text string) []Message {
	out := make([]Message, len(messages))
	copy(out, messages)
	for i := range out {
		if out[i].Role == "user" {
			out[i].Content = text + "\n\n" + out[i].Content
			return out
		}
	}
	return append([]Message{{Role: "user", Content: text}}, out...)
}

func maxTokens(req Request, ep *model.EndpointConfig) int {
	if req.MaxTokens > 0 {
		return req.MaxTokens
	}
	return ep.MaxTokens
}

// classifyHTTPError determines if an HTTP error is transient or fatal.
func classifyHTTPError(statusCode int, body []byte) error {
	bodyStr := string(body)
	if len(bodyStr) > 200 {
		bodyStr = bodyStr[:200] + "..."
	}

	err := &StatusError{StatusCode: statusCode, Body: bodyStr}

	switch {
	case statusCode == http.StatusTooManyRequests,
		statusCode == http.StatusRequestTimeout:
		return NewTransientError(err)
	case statusCode >= 500:
		// 500, 502, 503, 504 and friends
		return NewTransientError(err)
	default:
		// 400, 401, 403 and unknown statuses
		return NewFatalError(err)
	}
}
