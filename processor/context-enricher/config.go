package contextenricher

import (
	"fmt"
	"time"

	"github.com/c360studio/semstreams/component"

	"github.com/c360studio/semcontext/pipeline"
	"github.com/c360studio/semcontext/session"
	"github.com/c360studio/semcontext/source/window"
)

// Config holds configuration for the context-enricher processor component.
type Config struct {
	Ports *component.PortConfig `json:"ports" schema:"type:ports,description:Port configuration,category:basic"`

	// StreamName is the JetStream stream carrying enrichment requests.
	StreamName string `json:"stream_name" schema:"type:string,description:JetStream stream name,category:basic,default:CONTEXT"`

	// ConsumerName is the durable consumer name.
	ConsumerName string `json:"consumer_name" schema:"type:string,description:Durable consumer name,category:basic,default:context-enricher"`

	// DBPath is the SQLite page store.
	DBPath string `json:"db_path" schema:"type:string,description:Page store database path,category:basic,default:semcontext.db"`

	// ModelRegistryPath points at a JSON or YAML model registry. Empty uses
	// the built-in endpoints.
	ModelRegistryPath string `json:"model_registry_path,omitempty" schema:"type:string,description:Model registry file,category:basic"`

	// WorkerID tags claimed pages. Defaults to the hostname.
	WorkerID string `json:"worker_id,omitempty" schema:"type:string,description:Worker identifier for claimed pages,category:advanced"`

	// PollInterval is how often the page queue is drained when no request
	// arrives.
	PollInterval string `json:"poll_interval" schema:"type:string,description:Interval between claim rounds,category:advanced,default:30s"`

	// StuckAfter resets processing pages older than this.
	StuckAfter string `json:"stuck_after" schema:"type:string,description:Age after which processing pages are reset,category:advanced,default:15m"`

	// SessionTTL closes sessions idle for longer than this.
	SessionTTL string `json:"session_ttl" schema:"type:string,description:Idle session lifetime,category:advanced,default:5m"`

	// DocumentTimeout bounds the enhancement of one page.
	DocumentTimeout string `json:"document_timeout" schema:"type:string,description:Per-page enhancement timeout,category:advanced,default:4m"`

	// BatchSize is the number of pages claimed per round.
	BatchSize int `json:"batch_size" schema:"type:int,description:Pages claimed per round,category:advanced,default:10"`

	// Concurrency is the window pool shared by all pages.
	Concurrency int `json:"concurrency" schema:"type:int,description:Concurrent enhancement calls,category:advanced,default:10"`

	// DocumentConcurrency bounds pages processed at once.
	DocumentConcurrency int `json:"document_concurrency" schema:"type:int,description:Pages processed at once,category:advanced,default:4"`

	// Window thresholds.
	MinBlockChars int `json:"min_block_chars" schema:"type:int,description:Minimum characters for an eligible block,category:advanced,default:20"`
	ContextWords  int `json:"context_words" schema:"type:int,description:Context budget per window in words,category:advanced,default:300"`
	ProcessWords  int `json:"process_words" schema:"type:int,description:Processing budget per window in words,category:advanced,default:600"`

	// ExtractEntities runs entity extraction over contexted pages.
	ExtractEntities bool `json:"extract_entities" schema:"type:bool,description:Extract entity graphs from contexted pages,category:advanced,default:false"`

	// PublishEntities publishes extracted graphs for graph ingestion and
	// stores them in the graphs bucket.
	PublishEntities bool `json:"publish_entities" schema:"type:bool,description:Publish extracted entity graphs,category:advanced,default:false"`
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if c.StreamName == "" {
		return fmt.Errorf("stream_name is required")
	}
	if c.ConsumerName == "" {
		return fmt.Errorf("consumer_name is required")
	}
	if c.DBPath == "" {
		return fmt.Errorf("db_path is required")
	}
	for name, v := range map[string]string{
		"poll_interval":    c.PollInterval,
		"stuck_after":      c.StuckAfter,
		"session_ttl":      c.SessionTTL,
		"document_timeout": c.DocumentTimeout,
	} {
		if v == "" {
			continue
		}
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("invalid %s format: %w", name, err)
		}
		if d <= 0 {
			return fmt.Errorf("%s must be positive", name)
		}
	}
	if c.BatchSize < 0 || c.Concurrency < 0 || c.DocumentConcurrency < 0 {
		return fmt.Errorf("batch_size, concurrency and document_concurrency must be non-negative")
	}
	if c.PublishEntities && !c.ExtractEntities {
		return fmt.Errorf("publish_entities requires extract_entities")
	}
	if err := c.WindowConfig().Validate(); err != nil {
		return fmt.Errorf("window: %w", err)
	}
	return nil
}

// parseDurationOrDefault parses a duration string and returns the default if empty or invalid.
func parseDurationOrDefault(s string, defaultVal time.Duration) time.Duration {
	if s == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return defaultVal
	}
	return d
}

// GetPollInterval returns the poll interval as a duration.
func (c *Config) GetPollInterval() time.Duration {
	return parseDurationOrDefault(c.PollInterval, 30*time.Second)
}

// GetStuckAfter returns the stuck page age as a duration.
func (c *Config) GetStuckAfter() time.Duration {
	return parseDurationOrDefault(c.StuckAfter, pipeline.DefaultStuckAfter)
}

// GetSessionTTL returns the idle session lifetime.
func (c *Config) GetSessionTTL() time.Duration {
	return parseDurationOrDefault(c.SessionTTL, session.DefaultTTL)
}

// GetDocumentTimeout returns the per-page timeout.
func (c *Config) GetDocumentTimeout() time.Duration {
	return parseDurationOrDefault(c.DocumentTimeout, pipeline.DefaultDocumentTimeout)
}

// WindowConfig returns the window thresholds, falling back to defaults for
// unset values.
func (c *Config) WindowConfig() window.Config {
	cfg := window.DefaultConfig()
	if c.MinBlockChars > 0 {
		cfg.MinBlockChars = c.MinBlockChars
	}
	if c.ContextWords > 0 {
		cfg.ContextWords = c.ContextWords
	}
	if c.ProcessWords > 0 {
		cfg.ProcessWords = c.ProcessWords
	}
	return cfg
}

// DefaultConfig returns default configuration for the context-enricher processor.
func DefaultConfig() Config {
	inputDefs := []component.PortDefinition{
		{
			Name:        "enrich.in",
			Type:        "jetstream",
			Subject:     "context.enrich.>",
			StreamName:  "CONTEXT",
			Required:    true,
			Description: "Page enrichment requests",
		},
	}

	outputDefs := []component.PortDefinition{
		{
			Name:        "page.out",
			Type:        "jetstream",
			Subject:     "context.page.>",
			StreamName:  "CONTEXT",
			Required:    true,
			Description: "Page completion events",
		},
		{
			Name:        "graph.out",
			Type:        "jetstream",
			Subject:     "graph.ingest.entity",
			StreamName:  "GRAPH",
			Required:    false,
			Description: "Extracted entity graphs for graph ingestion",
		},
	}

	win := window.DefaultConfig()
	return Config{
		Ports: &component.PortConfig{
			Inputs:  inputDefs,
			Outputs: outputDefs,
		},
		StreamName:          "CONTEXT",
		ConsumerName:        "context-enricher",
		DBPath:              "semcontext.db",
		PollInterval:        "30s",
		StuckAfter:          "15m",
		SessionTTL:          "5m",
		DocumentTimeout:     "4m",
		BatchSize:           pipeline.DefaultBatchSize,
		Concurrency:         pipeline.DefaultConcurrency,
		DocumentConcurrency: pipeline.DefaultDocumentConcurrency,
		MinBlockChars:       win.MinBlockChars,
		ContextWords:        win.ContextWords,
		ProcessWords:        win.ProcessWords,
	}
}
