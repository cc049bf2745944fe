// Package main implements an offline model server for local runs and
// end-to-end tests of semcontext. It serves OpenAI-compatible
// /v1/chat/completions responses, so any endpoint with provider "openai"
// or "ollama" can point at it.
//
// Usage:
//
//	mock-llm -addr :11434 [-fixtures dir] [-fail-every N] [-delay 50ms]
//
// Without a fixture for the requested model, answers are synthesized from
// the prompt: enhancement prompts get every block back with one [[...]]
// insertion, and extraction prompts get capitalized phrases as subjects.
//
// Fixture files are JSON named by model (e.g., "mock-enhance.json" maps to
// model "mock-enhance"). Numbered files ("mock-enhance.1.json", ...) are
// returned in order before the base file, which then repeats.
package main

import (
	"flag"
	"log/slog"
	"net/http"
	"os"
	"time"
)

func main() {
	addr := flag.String("addr", ":11434", "address to listen on")
	fixtureDir := flag.String("fixtures", os.Getenv("MOCK_LLM_FIXTURES"), "directory containing fixture response files")
	failEvery := flag.Int("fail-every", 0, "answer every Nth call with 429 (0 disables)")
	delay := flag.Duration("delay", 0, "latency added to every completion")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	fixtures := map[string][]string{}
	if *fixtureDir != "" {
		var err error
		fixtures, err = loadFixtures(*fixtureDir)
		if err != nil {
			logger.Error("Failed to load fixtures", "dir", *fixtureDir, "error", err)
			os.Exit(1)
		}
		for model, seq := range fixtures {
			logger.Info("Loaded fixtures", "model", model, "count", len(seq))
		}
	}

	s := newServer(fixtures, logger)
	s.failEvery = int64(*failEvery)
	s.delay = *delay

	srv := &http.Server{
		Addr:              *addr,
		Handler:           s.routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	logger.Info("Mock model server listening", "addr", *addr, "fail_every", *failEvery, "delay", *delay)
	if err := srv.ListenAndServe(); err != nil {
		logger.Error("Server failed", "error", err)
		os.Exit(1)
	}
}
