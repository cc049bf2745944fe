package main

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/c360studio/semstreams/natsclient"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/c360studio/semcontext/config"
	"github.com/c360studio/semcontext/llm"
	"github.com/c360studio/semcontext/pipeline"
	"github.com/c360studio/semcontext/progress"
	"github.com/c360studio/semcontext/session"
	"github.com/c360studio/semcontext/storage"
)

// engine is the enrichment pipeline assembled from configuration.
type engine struct {
	cfg      *config.Config
	logger   *slog.Logger
	registry *prometheus.Registry
	sessions *session.Store
	progress *progress.Coordinator
	driver   *pipeline.Driver
	store    *storage.PageStore
	nats     *natsclient.Client
}

// engineOptions selects the optional parts of an engine.
type engineOptions struct {
	// pages opens the page store.
	pages bool

	// completer replaces the model client.
	completer llm.Completer
}

// newEngine builds the model client, sessions, progress coordinator and
// driver. When pages is set the page store is opened; when entity
// publishing is configured a NATS connection is made for the graph store.
func newEngine(ctx context.Context, cfg *config.Config, logger *slog.Logger, opts engineOptions) (*engine, error) {
	e := &engine{
		cfg:      cfg,
		logger:   logger,
		registry: newMetricsRegistry(),
	}

	completer := opts.completer
	if completer == nil {
		models, err := cfg.Registry()
		if err != nil {
			return nil, err
		}
		completer = llm.NewClient(models,
			llm.WithLogger(logger),
			llm.WithMetrics(llm.NewMetrics(e.registry)),
			llm.WithLimiter(llm.NewLimiter(cfg.Pipeline.Concurrency, models.ProviderConcurrency())))
	}

	e.sessions = session.NewStore(completer,
		session.WithTTL(cfg.Pipeline.SessionTTL),
		session.WithLogger(logger))
	e.progress = progress.New(
		progress.WithBlocksPerWindow(cfg.Pipeline.BlocksPerWindow),
		progress.WithRegisterer(e.registry),
		progress.WithCallback(newProgressLogger(logger).report))

	driverOpts, err := pipeline.ConfigOptions(cfg)
	if err != nil {
		return nil, fmt.Errorf("invalid window config: %w", err)
	}
	driverOpts = append(driverOpts,
		pipeline.WithLogger(logger),
		pipeline.WithProgress(e.progress))

	if opts.pages {
		store, err := storage.OpenPageStore(ctx, cfg.Storage.Path)
		if err != nil {
			return nil, fmt.Errorf("open page store: %w", err)
		}
		e.store = store
		driverOpts = append(driverOpts, pipeline.WithPageStore(store))
	}

	if cfg.NATS.PublishEntities {
		graphOpts, err := e.connectGraphs(ctx)
		if err != nil {
			e.Close(ctx)
			return nil, err
		}
		driverOpts = append(driverOpts, graphOpts...)
	}

	e.driver = pipeline.New(e.sessions, driverOpts...)
	return e, nil
}

// connectGraphs connects to NATS and returns the options that persist and
// publish extracted graphs.
func (e *engine) connectGraphs(ctx context.Context) ([]pipeline.Option, error) {
	client, err := connectToNATS(ctx, e.cfg.NATS.URL, e.logger)
	if err != nil {
		return nil, err
	}
	e.nats = client

	js, err := client.JetStream()
	if err != nil {
		return nil, fmt.Errorf("get JetStream context: %w", err)
	}
	graphs, err := storage.NewGraphStore(ctx, js)
	if err != nil {
		return nil, err
	}
	return []pipeline.Option{
		pipeline.WithGraphSink(graphs),
		pipeline.WithPublisher(client),
	}, nil
}

// Close releases the page store and NATS connection.
func (e *engine) Close(ctx context.Context) {
	if e.store != nil {
		if err := e.store.Close(); err != nil {
			e.logger.Warn("Failed to close page store", "error", err)
		}
	}
	if e.nats != nil {
		e.nats.Close(ctx)
	}
}

// progressLogger logs progress each time another tenth of the expected
// windows completes.
type progressLogger struct {
	logger *slog.Logger

	mu     sync.Mutex
	logged int
}

func newProgressLogger(logger *slog.Logger) *progressLogger {
	return &progressLogger{logger: logger}
}

// report is a progress.Callback.
func (p *progressLogger) report(completed, expected int) {
	if expected == 0 {
		return
	}
	decile := completed * 10 / expected
	p.mu.Lock()
	defer p.mu.Unlock()
	if completed == 0 || decile <= p.logged {
		return
	}
	p.logged = decile
	p.logger.Info("Progress", "completed", completed, "expected", expected, "percent", decile*10)
}
