// Package rdfexport provides a streaming output component that subscribes
// to extracted entity messages and republishes each one serialized as RDF.
package rdfexport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/c360studio/semstreams/component"
	"github.com/c360studio/semstreams/message"
	"github.com/c360studio/semstreams/natsclient"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/c360studio/semcontext/export"
	"github.com/c360studio/semcontext/graph"
)

// errUnusable marks messages that can never be exported.
var errUnusable = errors.New("unusable entity message")

// Component implements the rdf-export output processor.
type Component struct {
	name       string
	config     Config
	natsClient *natsclient.Client
	publisher  graph.StreamPublisher
	logger     *slog.Logger

	format  export.Format
	profile export.Profile

	// Resolved subjects from port config
	inputSubject  string
	inputStream   string
	outputSubject string

	// Lifecycle
	running   bool
	startTime time.Time
	mu        sync.RWMutex
	cancel    context.CancelFunc

	// Metrics
	messagesProcessed atomic.Int64
	serializeErrors   atomic.Int64
	publishErrors     atomic.Int64
	lastActivityMu    sync.RWMutex
	lastActivity      time.Time
}

// NewComponent creates a new rdf-export output component.
func NewComponent(rawConfig json.RawMessage, deps component.Dependencies) (component.Discoverable, error) {
	var config Config
	if err := json.Unmarshal(rawConfig, &config); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if config.Ports == nil {
		config = DefaultConfig()
		if err := json.Unmarshal(rawConfig, &config); err != nil {
			return nil, fmt.Errorf("unmarshal config with defaults: %w", err)
		}
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	inputSubject := graph.GraphIngestSubject
	inputStream := "GRAPH"
	outputSubject := ExportSubject
	if config.Ports != nil {
		if len(config.Ports.Inputs) > 0 {
			inputSubject = config.Ports.Inputs[0].Subject
			inputStream = config.Ports.Inputs[0].StreamName
		}
		if len(config.Ports.Outputs) > 0 {
			outputSubject = config.Ports.Outputs[0].Subject
		}
	}

	c := &Component{
		name:          "rdf-export",
		config:        config,
		natsClient:    deps.NATSClient,
		logger:        deps.GetLogger(),
		format:        config.GetFormat(),
		profile:       config.GetProfile(),
		inputSubject:  inputSubject,
		inputStream:   inputStream,
		outputSubject: outputSubject,
	}
	if deps.NATSClient != nil {
		c.publisher = deps.NATSClient
	}
	return c, nil
}

// Initialize prepares the component.
func (c *Component) Initialize() error {
	return nil
}

// Start begins consuming entity messages and producing RDF output.
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

	consumeCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.mu.Unlock()

	consumerCfg := natsclient.StreamConsumerConfig{
		StreamName:    c.inputStream,
		ConsumerName:  "rdf-export",
		FilterSubject: c.inputSubject,
		DeliverPolicy: "new",
		AckPolicy:     "explicit",
		MaxDeliver:    3,
		AckWait:       10 * time.Second,
	}

	if err := c.natsClient.ConsumeStreamWithConfig(consumeCtx, consumerCfg, c.handleMessage); err != nil {
		c.mu.Lock()
		c.running = false
		c.cancel = nil
		c.mu.Unlock()
		cancel()
		return fmt.Errorf("start consumer: %w", err)
	}

	c.logger.Info("rdf-export started",
		"format", c.format,
		"profile", c.profile,
		"input", c.inputSubject,
		"output", c.outputSubject)

	return nil
}

// handleMessage exports a single entity message. Messages that can never
// be exported are terminated; publish failures are redelivered.
func (c *Component) handleMessage(ctx context.Context, msg jetstream.Msg) {
	err := c.process(ctx, msg.Data())
	switch {
	case err == nil:
		_ = msg.Ack()
	case errors.Is(err, errUnusable):
		c.logger.Warn("Dropping entity message", "subject", msg.Subject(), "error", err)
		_ = msg.Term()
	default:
		c.logger.Warn("Failed to export entity", "subject", msg.Subject(), "error", err)
		_ = msg.Nak()
	}
}

// process serializes one entity message and publishes the result.
func (c *Component) process(ctx context.Context, data []byte) error {
	c.updateLastActivity()

	payload, err := c.serialize(data)
	if err != nil {
		c.serializeErrors.Add(1)
		return err
	}

	out, err := json.Marshal(message.NewBaseMessage(RDFExportType, payload, "semcontext"))
	if err != nil {
		c.serializeErrors.Add(1)
		return fmt.Errorf("marshal rdf payload: %w", err)
	}
	if c.publisher == nil {
		return errors.New("no publisher")
	}
	if err := c.publisher.PublishToStream(ctx, c.outputSubject, out); err != nil {
		c.publishErrors.Add(1)
		return fmt.Errorf("publish %s: %w", payload.EntityID, err)
	}

	c.messagesProcessed.Add(1)
	c.logger.Debug("Exported entity to RDF",
		"entity_id", payload.EntityID,
		"kind", payload.Kind,
		"format", c.format,
		"output_bytes", len(payload.Content))
	return nil
}

// serialize decodes an entity message and renders it in the configured
// format and profile.
func (c *Component) serialize(data []byte) (*Payload, error) {
	var base message.BaseMessage
	if err := json.Unmarshal(data, &base); err != nil {
		return nil, fmt.Errorf("%w: %w", errUnusable, err)
	}
	entity, ok := base.Payload().(*graph.EntityPayload)
	if !ok {
		return nil, fmt.Errorf("%w: payload type %s", errUnusable, base.Type())
	}
	if err := entity.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", errUnusable, err)
	}

	exp := export.NewExporter(c.profile)
	exp.Add(entity)
	content, err := exp.Export(c.format)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", errUnusable, err)
	}
	return &Payload{
		EntityID:   entity.EntityID(),
		Kind:       entity.Kind,
		DocumentID: entity.DocumentID,
		Format:     string(c.format),
		Profile:    string(c.profile),
		Content:    content,
	}, nil
}

// Stop gracefully stops the component.
func (c *Component) Stop(_ time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.running {
		return nil
	}

	if c.cancel != nil {
		c.cancel()
	}

	c.running = false
	c.logger.Info("rdf-export stopped",
		"messages_processed", c.messagesProcessed.Load(),
		"serialize_errors", c.serializeErrors.Load(),
		"publish_errors", c.publishErrors.Load())

	return nil
}

// Meta returns component metadata.
func (c *Component) Meta() component.Metadata {
	return component.Metadata{
		Name:        "rdf-export",
		Type:        "output",
		Description: "Serializes extracted entities to RDF (Turtle, N-Triples, JSON-LD)",
		Version:     "1.0.0",
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
	return rdfExportSchema
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
		ErrorCount: int(c.serializeErrors.Load() + c.publishErrors.Load()),
		Uptime:     time.Since(startTime),
		Status:     status,
	}
}

// DataFlow returns current data flow metrics.
func (c *Component) DataFlow() component.FlowMetrics {
	return component.FlowMetrics{
		LastActivity: c.getLastActivity(),
	}
}

func (c *Component) updateLastActivity() {
	c.lastActivityMu.Lock()
	c.lastActivity = time.Now()
	c.lastActivityMu.Unlock()
}

func (c *Component) getLastActivity() time.Time {
	c.lastActivityMu.RLock()
	defer c.lastActivityMu.RUnlock()
	return c.lastActivity
}
