// Package config provides configuration loading and management for semcontext.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	ssconfig "github.com/c360studio/semstreams/config"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/c360studio/semcontext/model"
	"github.com/c360studio/semcontext/source/window"
)

// Config represents the complete semcontext configuration
type Config struct {
	Window   WindowConfig   `yaml:"window"`
	Pipeline PipelineConfig `yaml:"pipeline"`
	Storage  StorageConfig  `yaml:"storage"`
	NATS     NATSConfig     `yaml:"nats"`
	Log      LogConfig      `yaml:"log"`
	Metrics  MetricsConfig  `yaml:"metrics"`

	// ModelRegistry configures endpoints and capability fallback chains.
	// Nil uses model.NewDefaultRegistry.
	ModelRegistry *model.RegistryConfig `yaml:"model_registry,omitempty"`
}

// WindowConfig configures block filtering and window budgets
type WindowConfig struct {
	// MinBlockChars is the minimum trimmed length of an eligible block
	MinBlockChars int `yaml:"min_block_chars" validate:"gte=0"`
	// ContextWords is the preceding-context budget per window
	ContextWords int `yaml:"context_words" validate:"gte=0"`
	// ProcessWords is the budget of enhanced words per window
	ProcessWords int `yaml:"process_words" validate:"gt=0"`
}

// PipelineConfig configures document processing
type PipelineConfig struct {
	// Concurrency bounds window calls in flight across all documents
	Concurrency int `yaml:"concurrency" validate:"gte=1,lte=256"`
	// DocumentConcurrency bounds documents processed at once
	DocumentConcurrency int `yaml:"document_concurrency" validate:"gte=1"`
	// BatchSize is the number of pages claimed per round
	BatchSize int `yaml:"batch_size" validate:"gte=1"`
	// DocumentTimeout bounds the enhancement of one document
	DocumentTimeout time.Duration `yaml:"document_timeout" validate:"gt=0"`
	// RequestsPerSecond paces window dispatch (0 = unpaced)
	RequestsPerSecond float64 `yaml:"requests_per_second" validate:"gte=0"`
	// Burst is the pacing burst size
	Burst int `yaml:"burst" validate:"gte=0"`
	// Temperature for enhancement calls
	Temperature float64 `yaml:"temperature" validate:"gte=0,lte=2"`
	// SessionTTL closes sessions idle longer than this
	SessionTTL time.Duration `yaml:"session_ttl" validate:"gt=0"`
	// StuckAfter resets pages left processing longer than this
	StuckAfter time.Duration `yaml:"stuck_after" validate:"gt=0"`
	// PollInterval is the claim loop period for long-running modes
	PollInterval time.Duration `yaml:"poll_interval" validate:"gt=0"`
	// BlocksPerWindow is the divisor for progress estimates
	BlocksPerWindow int `yaml:"blocks_per_window" validate:"gte=1"`
	// ExtractEntities runs entity extraction after enhancement
	ExtractEntities bool `yaml:"extract_entities"`
	// WorkerID names this worker in page claims (default: hostname)
	WorkerID string `yaml:"worker_id"`
}

// StorageConfig configures the page store
type StorageConfig struct {
	// Path is the SQLite database path
	Path string `yaml:"path" validate:"required"`
}

// NATSConfig configures the NATS connection
type NATSConfig struct {
	// URL is the NATS server URL (empty disables publishing)
	URL string `yaml:"url" validate:"omitempty,url"`
	// PublishEntities sends extracted graphs to graph ingestion
	PublishEntities bool `yaml:"publish_entities"`
	// ExportRDF republishes ingested entities as RDF in this format
	// (turtle, ntriples or jsonld; empty disables)
	ExportRDF string `yaml:"export_rdf" validate:"omitempty,oneof=turtle ntriples jsonld"`
	// ExportProfile selects the ontology profile for ExportRDF
	ExportProfile string `yaml:"export_profile" validate:"omitempty,oneof=minimal bfo cco"`
}

// LogConfig configures logging
type LogConfig struct {
	// Level is one of debug, info, warn, error
	Level string `yaml:"level" validate:"oneof=debug info warn error"`
}

// MetricsConfig configures the Prometheus endpoint
type MetricsConfig struct {
	// Addr is the listen address for /metrics (empty disables)
	Addr string `yaml:"addr" validate:"omitempty,hostname_port"`
}

// DefaultConfig returns a Config with sensible defaults
func DefaultConfig() *Config {
	w := window.DefaultConfig()
	return &Config{
		Window: WindowConfig{
			MinBlockChars: w.MinBlockChars,
			ContextWords:  w.ContextWords,
			ProcessWords:  w.ProcessWords,
		},
		Pipeline: PipelineConfig{
			Concurrency:         10,
			DocumentConcurrency: 4,
			BatchSize:           10,
			DocumentTimeout:     4 * time.Minute,
			RequestsPerSecond:   0,
			Burst:               1,
			Temperature:         0,
			SessionTTL:          5 * time.Minute,
			StuckAfter:          15 * time.Minute,
			PollInterval:        30 * time.Second,
			BlocksPerWindow:     4,
		},
		Storage: StorageConfig{
			Path: "semcontext.db",
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

var validate = validator.New()

// Validate checks that the configuration is valid
func (c *Config) Validate() error {
	var errs []error
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			for _, fe := range verrs {
				errs = append(errs, fmt.Errorf("%s: failed %s=%s", fe.Namespace(), fe.Tag(), fe.Param()))
			}
		} else {
			errs = append(errs, err)
		}
	}
	if c.NATS.PublishEntities && c.NATS.URL == "" {
		errs = append(errs, errors.New("nats.publish_entities requires nats.url"))
	}
	if c.NATS.PublishEntities && !c.Pipeline.ExtractEntities {
		errs = append(errs, errors.New("nats.publish_entities requires pipeline.extract_entities"))
	}
	if c.NATS.ExportRDF != "" && !c.NATS.PublishEntities {
		errs = append(errs, errors.New("nats.export_rdf requires nats.publish_entities"))
	}
	if c.ModelRegistry != nil {
		if err := model.FromConfig(c.ModelRegistry).Validate(); err != nil {
			errs = append(errs, fmt.Errorf("model_registry: %w", err))
		}
	}
	return errors.Join(errs...)
}

// WindowBuilderConfig converts the window section for the window builder.
func (c *Config) WindowBuilderConfig() window.Config {
	return window.Config{
		MinBlockChars: c.Window.MinBlockChars,
		ContextWords:  c.Window.ContextWords,
		ProcessWords:  c.Window.ProcessWords,
	}
}

// Registry builds the model registry, expanding ${VAR} references.
func (c *Config) Registry() (*model.Registry, error) {
	if c.ModelRegistry == nil {
		return model.NewDefaultRegistry(), nil
	}
	r := model.FromConfig(c.ModelRegistry)
	r.ExpandEnv()
	if err := r.Validate(); err != nil {
		return nil, fmt.Errorf("model registry: %w", err)
	}
	return r, nil
}

// LoadFromFile loads configuration from a YAML file on top of the
// defaults. ${VAR} references are expanded before parsing.
func LoadFromFile(path string) (*Config, error) {
	config := DefaultConfig()
	if err := decodeFile(path, config); err != nil {
		return nil, err
	}
	return config, nil
}

// decodeFile reads path into out, expanding ${VAR} and ${VAR:-default}
// references.
func decodeFile(path string, out *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal([]byte(ssconfig.ExpandEnvWithDefaults(string(data))), out); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}
	return nil
}

// SaveToFile saves configuration to a YAML file
func (c *Config) SaveToFile(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// Merge merges another config into this one (other takes precedence for non-zero values)
func (c *Config) Merge(other *Config) {
	if other == nil {
		return
	}

	// Window
	if other.Window.MinBlockChars != 0 {
		c.Window.MinBlockChars = other.Window.MinBlockChars
	}
	if other.Window.ContextWords != 0 {
		c.Window.ContextWords = other.Window.ContextWords
	}
	if other.Window.ProcessWords != 0 {
		c.Window.ProcessWords = other.Window.ProcessWords
	}

	// Pipeline
	p, o := &c.Pipeline, other.Pipeline
	if o.Concurrency != 0 {
		p.Concurrency = o.Concurrency
	}
	if o.DocumentConcurrency != 0 {
		p.DocumentConcurrency = o.DocumentConcurrency
	}
	if o.BatchSize != 0 {
		p.BatchSize = o.BatchSize
	}
	if o.DocumentTimeout != 0 {
		p.DocumentTimeout = o.DocumentTimeout
	}
	if o.RequestsPerSecond != 0 {
		p.RequestsPerSecond = o.RequestsPerSecond
	}
	if o.Burst != 0 {
		p.Burst = o.Burst
	}
	if o.Temperature != 0 {
		p.Temperature = o.Temperature
	}
	if o.SessionTTL != 0 {
		p.SessionTTL = o.SessionTTL
	}
	if o.StuckAfter != 0 {
		p.StuckAfter = o.StuckAfter
	}
	if o.PollInterval != 0 {
		p.PollInterval = o.PollInterval
	}
	if o.BlocksPerWindow != 0 {
		p.BlocksPerWindow = o.BlocksPerWindow
	}
	if o.ExtractEntities {
		p.ExtractEntities = true
	}
	if o.WorkerID != "" {
		p.WorkerID = o.WorkerID
	}

	// Storage
	if other.Storage.Path != "" {
		c.Storage.Path = other.Storage.Path
	}

	// NATS
	if other.NATS.URL != "" {
		c.NATS.URL = other.NATS.URL
	}
	if other.NATS.PublishEntities {
		c.NATS.PublishEntities = true
	}
	if other.NATS.ExportRDF != "" {
		c.NATS.ExportRDF = other.NATS.ExportRDF
	}
	if other.NATS.ExportProfile != "" {
		c.NATS.ExportProfile = other.NATS.ExportProfile
	}

	// Log
	if other.Log.Level != "" {
		c.Log.Level = other.Log.Level
	}

	// Metrics
	if other.Metrics.Addr != "" {
		c.Metrics.Addr = other.Metrics.Addr
	}

	// Model registry entries merge by name
	if other.ModelRegistry != nil {
		if c.ModelRegistry == nil {
			c.ModelRegistry = other.ModelRegistry
		} else {
			r := model.FromConfig(c.ModelRegistry)
			r.MergeFromConfig(other.ModelRegistry)
			c.ModelRegistry = r.ToConfig()
		}
	}
}
