// Package main provides the semcontext binary entry point.
// Semcontext inserts [[...]] context into markdown documents and queued web
// pages with language models, without changing their wording.
package main

import (
	"fmt"
	"log/slog"
	"os"
	"runtime"
	"strings"

	"github.com/spf13/cobra"

	// Register LLM providers via init()
	_ "github.com/c360studio/semcontext/llm/providers"

	"github.com/c360studio/semcontext/config"
)

const (
	Version   = "0.1.0"
	BuildTime = "dev"
	appName   = "semcontext"
)

func main() {
	// Add panic recovery
	defer func() {
		if r := recover(); r != nil {
			buf := make([]byte, 4096)
			n := runtime.Stack(buf, false)
			_, _ = fmt.Fprintf(os.Stderr, "PANIC: %v\nStack trace:\n%s\n", r, string(buf[:n]))
			os.Exit(2)
		}
	}()

	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// globalFlags are shared by every subcommand.
type globalFlags struct {
	configPath string
	logLevel   string
}

func rootCmd() *cobra.Command {
	flags := &globalFlags{}

	cmd := &cobra.Command{
		Use:   appName,
		Short: "Context enrichment for markdown and web pages",
		Long: `Semcontext inserts short [[bracketed]] context into paragraphs so each
one can be understood on its own, without changing a word of the original.

It can:
- Enhance markdown files in place, once or on every change
- Drain a SQLite queue of web pages, claimed safely by many workers
- Extract people, organizations, places and relationships as a graph
- Run as a NATS component or as an MCP tool server`,
		SilenceUsage: true,
	}

	cmd.PersistentFlags().StringVarP(&flags.configPath, "config", "c", "", "Config file path (YAML); default searches for semcontext.yaml")
	cmd.PersistentFlags().StringVar(&flags.logLevel, "log-level", "", "Log level (debug, info, warn, error); overrides the config")

	cmd.AddCommand(
		runCmd(flags),
		filesCmd(flags),
		watchCmd(flags),
		pagesCmd(flags),
		entitiesCmd(flags),
		serveCmd(flags),
		mcpCmd(flags),
		versionCmd(),
	)
	return cmd
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "%s version %s (build: %s)\n", appName, Version, BuildTime)
		},
	}
}

// setup loads the layered configuration and installs the default logger.
func setup(flags *globalFlags) (*config.Config, *slog.Logger, error) {
	bootstrap := newLogger(flags.logLevel)
	cfg, err := config.NewLoader(bootstrap).Load(flags.configPath)
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}
	if flags.logLevel != "" {
		cfg.Log.Level = flags.logLevel
	}
	logger := newLogger(cfg.Log.Level)
	slog.SetDefault(logger)
	return cfg, logger, nil
}

// newLogger writes text logs to stderr so stdout stays free for results and
// the MCP transport.
func newLogger(levelName string) *slog.Logger {
	level := slog.LevelInfo
	switch strings.ToLower(levelName) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}
