package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/c360studio/semstreams/component"
	"github.com/c360studio/semstreams/natsclient"
	"github.com/spf13/cobra"

	"github.com/c360studio/semcontext/config"
	contextenricher "github.com/c360studio/semcontext/processor/context-enricher"
	rdfexport "github.com/c360studio/semcontext/processor/rdf-export"
)

const shutdownTimeout = 30 * time.Second

// apiPrefix is where serve mounts the page queue API.
const apiPrefix = "api/context"

func serveCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the context-enricher component on NATS",
		Long: `Serve connects to NATS, ensures the CONTEXT stream exists and runs the
context-enricher component: it drains the page queue, accepts requests on
context.enrich.> and publishes page events on context.page.<status>.
With nats.export_rdf set, extracted entities are also republished as RDF
on graph.export.rdf. Prometheus metrics and the page queue API (/api/context/pages,
/api/context/stats) are served on metrics.addr when set.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := setup(flags)
			if err != nil {
				return err
			}
			return serve(cmd.Context(), cfg, logger)
		},
	}
}

func serve(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	models, err := cfg.Registry()
	if err != nil {
		return err
	}

	natsClient, err := connectToNATS(ctx, cfg.NATS.URL, logger)
	if err != nil {
		return err
	}
	defer natsClient.Close(ctx)

	if err := ensureStreams(ctx, streamsConfig(cfg.NATS.PublishEntities, cfg.NATS.ExportRDF != ""), natsClient, logger); err != nil {
		return err
	}

	raw, err := enricherConfig(cfg)
	if err != nil {
		return err
	}
	comp, err := contextenricher.NewComponent(raw, component.Dependencies{
		NATSClient: natsClient,
		Logger:     logger,
	})
	if err != nil {
		return fmt.Errorf("create context-enricher: %w", err)
	}
	enricher := comp.(*contextenricher.Component)
	enricher.SetModelRegistry(models)

	registry := newMetricsRegistry()
	enricher.SetRegisterer(registry)

	signalCtx, signalCancel := signalContext(ctx)
	defer signalCancel()

	if err := enricher.Start(signalCtx); err != nil {
		return fmt.Errorf("start context-enricher: %w", err)
	}
	var exporter *rdfexport.Component
	if cfg.NATS.ExportRDF != "" {
		exporter, err = startRDFExport(signalCtx, cfg, natsClient, logger)
		if err != nil {
			_ = enricher.Stop(shutdownTimeout)
			return err
		}
	}
	stopMetrics := startMetricsServer(cfg.Metrics.Addr, registry, logger, func(mux *http.ServeMux) {
		enricher.RegisterHTTPHandlers(apiPrefix, mux)
	})

	slog.Info("Semcontext ready", "version", Version, "db", cfg.Storage.Path)

	<-signalCtx.Done()
	slog.Info("Received shutdown signal")

	stopMetrics()
	if exporter != nil {
		if err := exporter.Stop(shutdownTimeout); err != nil {
			slog.Error("Error stopping rdf-export", "error", err)
		}
	}
	if err := enricher.Stop(shutdownTimeout); err != nil {
		slog.Error("Error stopping context-enricher", "error", err)
	}
	slog.Info("Semcontext shutdown complete")
	return nil
}

// startRDFExport runs the rdf-export component next to the enricher.
func startRDFExport(ctx context.Context, cfg *config.Config, natsClient *natsclient.Client, logger *slog.Logger) (*rdfexport.Component, error) {
	c := rdfexport.DefaultConfig()
	c.Format = cfg.NATS.ExportRDF
	c.Profile = cfg.NATS.ExportProfile
	raw, err := json.Marshal(c)
	if err != nil {
		return nil, err
	}
	comp, err := rdfexport.NewComponent(raw, component.Dependencies{
		NATSClient: natsClient,
		Logger:     logger,
	})
	if err != nil {
		return nil, fmt.Errorf("create rdf-export: %w", err)
	}
	exporter := comp.(*rdfexport.Component)
	if err := exporter.Start(ctx); err != nil {
		return nil, fmt.Errorf("start rdf-export: %w", err)
	}
	return exporter, nil
}

// enricherConfig translates the CLI configuration into the component's.
func enricherConfig(cfg *config.Config) (json.RawMessage, error) {
	c := contextenricher.DefaultConfig()
	p := cfg.Pipeline
	c.DBPath = cfg.Storage.Path
	c.WorkerID = p.WorkerID
	c.PollInterval = p.PollInterval.String()
	c.StuckAfter = p.StuckAfter.String()
	c.SessionTTL = p.SessionTTL.String()
	c.DocumentTimeout = p.DocumentTimeout.String()
	c.BatchSize = p.BatchSize
	c.Concurrency = p.Concurrency
	c.DocumentConcurrency = p.DocumentConcurrency
	c.MinBlockChars = cfg.Window.MinBlockChars
	c.ContextWords = cfg.Window.ContextWords
	c.ProcessWords = cfg.Window.ProcessWords
	c.ExtractEntities = p.ExtractEntities
	c.PublishEntities = cfg.NATS.PublishEntities
	return json.Marshal(c)
}
