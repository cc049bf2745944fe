package contextenricher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"reflect"
	"sync"
	"sync/atomic"
	"time"

	"github.com/c360studio/semstreams/component"
	"github.com/c360studio/semstreams/message"
	"github.com/c360studio/semstreams/natsclient"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/c360studio/semcontext/graph"
	"github.com/c360studio/semcontext/llm"
	"github.com/c360studio/semcontext/model"
	"github.com/c360studio/semcontext/pipeline"
	"github.com/c360studio/semcontext/progress"
	"github.com/c360studio/semcontext/session"
	"github.com/c360studio/semcontext/source"
	"github.com/c360studio/semcontext/source/window"
	"github.com/c360studio/semcontext/storage"
)

// contextEnricherSchema defines the configuration schema.
var contextEnricherSchema = component.GenerateConfigSchema(reflect.TypeOf(Config{}))

// Component implements the context-enricher processor.
type Component struct {
	name       string
	config     Config
	natsClient *natsclient.Client
	logger     *slog.Logger
	platform   component.PlatformMeta

	publisher graph.StreamPublisher
	store     *storage.PageStore
	sessions  *session.Store
	driver    *pipeline.Driver
	workerID  string
	wake      chan struct{}
	metrics   prometheus.Registerer
	models    *model.Registry

	// Lifecycle management
	running   bool
	startTime time.Time
	mu        sync.RWMutex
	cancel    context.CancelFunc
	wg        sync.WaitGroup

	// Metrics
	requestsReceived atomic.Int64
	claimRounds      atomic.Int64
	pagesContexted   atomic.Int64
	pagesFailed      atomic.Int64
	errors           atomic.Int64
	lastActivityMu   sync.RWMutex
	lastActivity     time.Time
}

// NewComponent creates a new context-enricher processor component.
func NewComponent(rawConfig json.RawMessage, deps component.Dependencies) (component.Discoverable, error) {
	var config Config
	if err := json.Unmarshal(rawConfig, &config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	// Use default config if ports not set
	if config.Ports == nil {
		config = DefaultConfig()
		if err := json.Unmarshal(rawConfig, &config); err != nil {
			return nil, fmt.Errorf("failed to unmarshal config: %w", err)
		}
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	c := &Component{
		name:       "context-enricher",
		config:     config,
		natsClient: deps.NATSClient,
		logger:     deps.GetLogger(),
		platform:   deps.Platform,
		workerID:   workerID(config.WorkerID),
		wake:       make(chan struct{}, 1),
	}
	if deps.NATSClient != nil {
		c.publisher = deps.NATSClient
	}
	return c, nil
}

func workerID(configured string) string {
	if configured != "" {
		return configured
	}
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "semcontext"
	}
	return fmt.Sprintf("%s-%d", host, os.Getpid())
}

// SetRegisterer registers the model client and progress metrics with reg
// when the component starts. It must be called before Start.
func (c *Component) SetRegisterer(reg prometheus.Registerer) {
	c.metrics = reg
}

// SetModelRegistry replaces the registry named by model_registry_path. It
// must be called before Start.
func (c *Component) SetModelRegistry(r *model.Registry) {
	c.models = r
}

// Initialize prepares the component.
func (c *Component) Initialize() error {
	return nil
}

// Start opens the page store, builds the enrichment pipeline and begins
// draining the page queue and consuming enrichment requests.
func (c *Component) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		return fmt.Errorf("component already running")
	}
	if c.natsClient == nil {
		c.mu.Unlock()
		return fmt.Errorf("NATS client required")
	}
	c.running = true
	c.startTime = time.Now()
	c.mu.Unlock()

	if err := c.build(ctx); err != nil {
		c.mu.Lock()
		c.running = false
		c.mu.Unlock()
		return err
	}

	c.launch(ctx)

	c.logger.Info("Context enricher started",
		"stream", c.config.StreamName,
		"consumer", c.config.ConsumerName,
		"db", c.config.DBPath,
		"worker", c.workerID)
	return nil
}

// build wires the page store, model registry, session store and driver.
func (c *Component) build(ctx context.Context) error {
	registry := c.models
	if registry == nil {
		var err error
		if registry, err = loadRegistry(c.config.ModelRegistryPath); err != nil {
			return err
		}
	}

	store, err := storage.OpenPageStore(ctx, c.config.DBPath)
	if err != nil {
		return fmt.Errorf("open page store: %w", err)
	}

	clientOpts := []llm.ClientOption{
		llm.WithLogger(c.logger),
		llm.WithLimiter(llm.NewLimiter(c.concurrency(), registry.ProviderConcurrency())),
	}
	var progressOpts []progress.Option
	if c.metrics != nil {
		clientOpts = append(clientOpts, llm.WithMetrics(llm.NewMetrics(c.metrics)))
		progressOpts = append(progressOpts, progress.WithRegisterer(c.metrics))
	}
	client := llm.NewClient(registry, clientOpts...)
	sessions := session.NewStore(client,
		session.WithTTL(c.config.GetSessionTTL()),
		session.WithLogger(c.logger))

	builder, err := window.New(c.config.WindowConfig())
	if err != nil {
		_ = store.Close()
		return fmt.Errorf("window builder: %w", err)
	}

	opts := []pipeline.Option{
		pipeline.WithLogger(c.logger),
		pipeline.WithWindowBuilder(builder),
		pipeline.WithProgress(progress.New(progressOpts...)),
		pipeline.WithExtraction(c.config.ExtractEntities),
	}
	if c.config.PublishEntities {
		js, err := c.natsClient.JetStream()
		if err != nil {
			_ = store.Close()
			return fmt.Errorf("get JetStream context: %w", err)
		}
		graphs, err := storage.NewGraphStore(ctx, js)
		if err != nil {
			_ = store.Close()
			return err
		}
		opts = append(opts,
			pipeline.WithGraphSink(graphs),
			pipeline.WithPublisher(c.publisher))
	}

	c.attach(store, sessions, opts...)
	return nil
}

func (c *Component) concurrency() int {
	if c.config.Concurrency > 0 {
		return c.config.Concurrency
	}
	return pipeline.DefaultConcurrency
}

// attach sets the store and session store and builds the driver around
// them. Settings from the component config are applied after opts.
func (c *Component) attach(store *storage.PageStore, sessions *session.Store, opts ...pipeline.Option) {
	c.store = store
	c.sessions = sessions
	opts = append(opts,
		pipeline.WithConcurrency(c.config.Concurrency),
		pipeline.WithDocumentConcurrency(c.config.DocumentConcurrency),
		pipeline.WithDocumentTimeout(c.config.GetDocumentTimeout()),
		pipeline.WithBatchSize(c.config.BatchSize),
		pipeline.WithStuckAfter(c.config.GetStuckAfter()),
		pipeline.WithWorkerID(c.workerID),
		pipeline.WithPageStore(store),
		pipeline.WithPageHook(c.publishOutcome))
	c.driver = pipeline.New(sessions, opts...)
}

// loadRegistry reads the model registry file, or returns the built-in
// registry when path is empty.
func loadRegistry(path string) (*model.Registry, error) {
	if path == "" {
		return model.NewDefaultRegistry(), nil
	}
	registry, err := model.LoadFromFile(path)
	if err != nil {
		return nil, fmt.Errorf("load model registry: %w", err)
	}
	registry.ExpandEnv()
	if err := registry.Validate(); err != nil {
		return nil, fmt.Errorf("invalid model registry %s: %w", path, err)
	}
	return registry, nil
}

// launch starts the background loops. The request consumer only runs with
// a NATS client.
func (c *Component) launch(ctx context.Context) {
	runCtx, cancel := context.WithCancel(ctx)
	c.mu.Lock()
	c.cancel = cancel
	c.mu.Unlock()

	c.wg.Add(2)
	go func() {
		defer c.wg.Done()
		c.claimLoop(runCtx)
	}()
	go func() {
		defer c.wg.Done()
		c.sessions.Run(runCtx, c.config.GetSessionTTL()/2)
	}()

	if c.natsClient != nil {
		c.wg.Add(1)
		go func() {
			defer c.wg.Done()
			c.consumeMessages(runCtx)
		}()
	}
}

// claimLoop drains the page queue on start, on every poll tick and
// whenever a request queues a page.
func (c *Component) claimLoop(ctx context.Context) {
	ticker := time.NewTicker(c.config.GetPollInterval())
	defer ticker.Stop()

	c.drain(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.drain(ctx)
		case <-c.wake:
			c.drain(ctx)
		}
	}
}

// drain runs one claim round until the queue is empty.
func (c *Component) drain(ctx context.Context) {
	c.claimRounds.Add(1)

	summary, err := c.driver.ProcessPages(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		c.errors.Add(1)
		if llm.IsConfigError(err) {
			c.logger.Error("Enrichment halted by configuration error", "error", err)
			return
		}
		c.logger.Error("Claim round failed", "error", err)
		return
	}
	if summary.Claimed > 0 || summary.Reset > 0 {
		c.updateLastActivity()
		c.logger.Info("Claim round finished",
			"claimed", summary.Claimed,
			"contexted", summary.Contexted,
			"failed", summary.Failed,
			"rate_limited", summary.RateLimited,
			"timed_out", summary.TimedOut,
			"reset", summary.Reset)
	}
}

// signal wakes the claim loop without blocking.
func (c *Component) signal() {
	select {
	case c.wake <- struct{}{}:
	default:
	}
}

// consumeMessages processes incoming enrichment requests.
func (c *Component) consumeMessages(ctx context.Context) {
	js, err := c.natsClient.JetStream()
	if err != nil {
		c.logger.Error("Failed to get JetStream context", "error", err)
		return
	}

	consumer, err := js.Consumer(ctx, c.config.StreamName, c.config.ConsumerName)
	if err != nil {
		c.logger.Error("Failed to get consumer", "error", err, "stream", c.config.StreamName, "consumer", c.config.ConsumerName)
		return
	}

	c.logger.Info("Consumer connected", "stream", c.config.StreamName, "consumer", c.config.ConsumerName)

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		msgs, err := consumer.Fetch(1, jetstream.FetchMaxWait(5*time.Second))
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			continue
		}

		for msg := range msgs.Messages() {
			select {
			case <-ctx.Done():
				_ = msg.Nak()
				for remaining := range msgs.Messages() {
					_ = remaining.Nak()
				}
				return
			default:
				c.handleMessage(ctx, msg)
			}
		}
	}
}

// handleMessage processes a single enrichment request.
func (c *Component) handleMessage(ctx context.Context, msg jetstream.Msg) {
	c.updateLastActivity()

	var req EnrichRequest
	if err := json.Unmarshal(msg.Data(), &req); err != nil {
		c.logger.Warn("Failed to parse enrichment request", "error", err)
		c.errors.Add(1)
		_ = msg.Term()
		return
	}

	err := c.handleRequest(ctx, req)
	switch {
	case err == nil:
		_ = msg.Ack()
	case errors.Is(err, errInvalidRequest), errors.Is(err, storage.ErrNotFound):
		c.logger.Warn("Dropping enrichment request", "page_id", req.PageID, "error", err)
		c.errors.Add(1)
		_ = msg.Term()
	default:
		c.logger.Error("Failed to queue page", "page_id", req.PageID, "error", err)
		c.errors.Add(1)
		_ = msg.Nak()
	}
}

var errInvalidRequest = errors.New("invalid enrichment request")

// handleRequest stores or requeues the requested page and wakes the claim
// loop when there is new work.
func (c *Component) handleRequest(ctx context.Context, req EnrichRequest) error {
	if err := req.Validate(); err != nil {
		return fmt.Errorf("%w: %w", errInvalidRequest, err)
	}
	c.requestsReceived.Add(1)

	var queued bool
	var err error
	if req.Content != "" {
		queued, err = c.store.AddPage(ctx, req.Page())
	} else {
		queued, err = c.store.RequeuePage(ctx, req.PageID)
	}
	if err != nil {
		return err
	}

	c.logger.Debug("Enrichment request received", "page_id", req.PageID, "queued", queued)
	if queued {
		c.signal()
	}
	return nil
}

// publishOutcome publishes the final status of a claimed page. Released
// pages are not reported.
func (c *Component) publishOutcome(ctx context.Context, o pipeline.PageOutcome) {
	switch {
	case o.Status == "" || !o.Status.IsTerminal():
		return
	case o.Status == source.StatusContexted:
		c.pagesContexted.Add(1)
	default:
		c.pagesFailed.Add(1)
	}
	if c.publisher == nil {
		return
	}

	payload := NewPagePayload(o, c.workerID, time.Now())
	data, err := json.Marshal(message.NewBaseMessage(PageType, payload, "semcontext"))
	if err != nil {
		c.logger.Error("Failed to marshal page event", "page_id", payload.PageID, "error", err)
		c.errors.Add(1)
		return
	}
	if err := c.publisher.PublishToStream(ctx, payload.Subject(), data); err != nil {
		c.logger.Warn("Failed to publish page event", "page_id", payload.PageID, "status", payload.Status, "error", err)
		c.errors.Add(1)
	}
}

// updateLastActivity safely updates the last activity timestamp.
func (c *Component) updateLastActivity() {
	c.lastActivityMu.Lock()
	c.lastActivity = time.Now()
	c.lastActivityMu.Unlock()
}

// getLastActivity safely retrieves the last activity timestamp.
func (c *Component) getLastActivity() time.Time {
	c.lastActivityMu.RLock()
	defer c.lastActivityMu.RUnlock()
	return c.lastActivity
}

// Stop gracefully stops the component within the given timeout. In-flight
// pages are released back to pending by the driver.
func (c *Component) Stop(timeout time.Duration) error {
	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		return nil
	}
	if c.cancel != nil {
		c.cancel()
	}
	c.mu.Unlock()

	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()

	var err error
	select {
	case <-done:
		if c.store != nil {
			err = c.store.Close()
		}
	case <-time.After(timeout):
		err = fmt.Errorf("stop timed out after %v", timeout)
	}

	c.mu.Lock()
	c.running = false
	c.mu.Unlock()

	c.logger.Info("Context enricher stopped",
		"requests", c.requestsReceived.Load(),
		"contexted", c.pagesContexted.Load(),
		"failed", c.pagesFailed.Load(),
		"errors", c.errors.Load())

	return err
}

// Meta returns component metadata.
func (c *Component) Meta() component.Metadata {
	return component.Metadata{
		Name:        "context-enricher",
		Type:        "processor",
		Description: "Contextual enrichment of stored pages",
		Version:     "0.1.0",
	}
}

// InputPorts returns configured input port definitions.
func (c *Component) InputPorts() []component.Port {
	if c.config.Ports == nil {
		return []component.Port{}
	}

	ports := make([]component.Port, len(c.config.Ports.Inputs))
	for i, portDef := range c.config.Ports.Inputs {
		ports[i] = buildPort(portDef, component.DirectionInput)
	}
	return ports
}

// OutputPorts returns configured output port definitions.
func (c *Component) OutputPorts() []component.Port {
	if c.config.Ports == nil {
		return []component.Port{}
	}

	ports := make([]component.Port, len(c.config.Ports.Outputs))
	for i, portDef := range c.config.Ports.Outputs {
		ports[i] = buildPort(portDef, component.DirectionOutput)
	}
	return ports
}

// buildPort creates a component.Port from a PortDefinition.
func buildPort(portDef component.PortDefinition, direction component.Direction) component.Port {
	port := component.Port{
		Name:        portDef.Name,
		Direction:   direction,
		Required:    portDef.Required,
		Description: portDef.Description,
	}
	if portDef.Type == "jetstream" {
		port.Config = component.JetStreamPort{
			StreamName: portDef.StreamName,
			Subjects:   []string{portDef.Subject},
		}
	} else {
		port.Config = component.NATSPort{
			Subject: portDef.Subject,
		}
	}
	return port
}

// ConfigSchema returns the configuration schema.
func (c *Component) ConfigSchema() component.ConfigSchema {
	return contextEnricherSchema
}

// Health returns the current health status.
func (c *Component) Health() component.HealthStatus {
	c.mu.RLock()
	running := c.running
	startTime := c.startTime
	c.mu.RUnlock()

	status := "stopped"
	if running {
		status = "running"
	}
	return component.HealthStatus{
		Healthy:    running,
		LastCheck:  time.Now(),
		ErrorCount: int(c.errors.Load()),
		Uptime:     time.Since(startTime),
		Status:     status,
	}
}

// DataFlow returns current data flow metrics.
func (c *Component) DataFlow() component.FlowMetrics {
	var errorRate float64
	if done := c.pagesContexted.Load() + c.pagesFailed.Load(); done > 0 {
		errorRate = float64(c.pagesFailed.Load()) / float64(done)
	}
	return component.FlowMetrics{
		ErrorRate:    errorRate,
		LastActivity: c.getLastActivity(),
	}
}

// Stats returns the enrichment progress of the running pipeline.
func (c *Component) Stats() progress.Stats {
	if c.driver == nil || c.driver.Progress() == nil {
		return progress.Stats{}
	}
	return c.driver.Progress().Stats()
}
