package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	ssconfig "github.com/c360studio/semstreams/config"
	"github.com/c360studio/semstreams/natsclient"

	"github.com/c360studio/semcontext/graph"
	rdfexport "github.com/c360studio/semcontext/processor/rdf-export"
)

const defaultNATSURL = "nats://localhost:4222"

// contextStream is the JetStream stream carrying enrichment requests and
// page events.
const contextStream = "CONTEXT"

func connectToNATS(ctx context.Context, configured string, logger *slog.Logger) (*natsclient.Client, error) {
	natsURL := defaultNATSURL

	// Environment variable override takes precedence
	if envURL := os.Getenv("NATS_URL"); envURL != "" {
		natsURL = envURL
	} else if configured != "" {
		natsURL = configured
	}

	logger.Info("Connecting to NATS", "url", natsURL)

	client, err := natsclient.NewClient(natsURL,
		natsclient.WithName(appName),
		natsclient.WithMaxReconnects(-1),
		natsclient.WithReconnectWait(time.Second),
		natsclient.WithCircuitBreakerThreshold(20), // Higher threshold for startup bursts
		natsclient.WithHealthInterval(30*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("create NATS client: %w", err)
	}

	if err := client.Connect(ctx); err != nil {
		return nil, wrapNATSError(err, natsURL)
	}

	connCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	if err := client.WaitForConnection(connCtx); err != nil {
		return nil, wrapNATSError(err, natsURL)
	}

	logger.Info("Connected to NATS", "url", natsURL)
	return client, nil
}

// wrapNATSError provides helpful guidance when NATS connection fails.
func wrapNATSError(err error, url string) error {
	errStr := err.Error()

	if strings.Contains(errStr, "connection refused") ||
		strings.Contains(errStr, "no servers available") ||
		strings.Contains(errStr, "timeout") {
		return fmt.Errorf(`NATS connection failed: %w

NATS is not running at %s.

To start NATS:
  docker compose up -d nats

Or set NATS_URL environment variable to point to your NATS server.`, err, url)
	}

	return fmt.Errorf("NATS connection failed: %w", err)
}

// streamsConfig declares the streams the enricher reads and writes. The
// GRAPH stream also carries RDF output when rdf is set.
func streamsConfig(graphs, rdf bool) *ssconfig.Config {
	streams := ssconfig.StreamConfigs{
		contextStream: ssconfig.StreamConfig{
			Subjects: []string{
				"context.enrich.>",
				"context.page.>",
			},
			MaxAge:   "168h",
			Storage:  "file",
			Replicas: 1,
		},
	}
	if graphs {
		subjects := []string{graph.GraphIngestSubject}
		if rdf {
			subjects = append(subjects, rdfexport.ExportSubject)
		}
		streams["GRAPH"] = ssconfig.StreamConfig{
			Subjects: subjects,
			MaxAge:   "24h",
			Storage:  "file",
			Replicas: 1,
		}
	}
	return &ssconfig.Config{Streams: streams}
}

func ensureStreams(ctx context.Context, cfg *ssconfig.Config, natsClient *natsclient.Client, logger *slog.Logger) error {
	logger.Debug("Creating JetStream streams")
	streamsManager := ssconfig.NewStreamsManager(natsClient, logger)

	if err := streamsManager.EnsureStreams(ctx, cfg); err != nil {
		return fmt.Errorf("ensure streams: %w", err)
	}

	logger.Debug("JetStream streams ready")
	return nil
}
