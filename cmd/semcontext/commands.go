package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/c360studio/semcontext/export"
	"github.com/c360studio/semcontext/mcpserver"
	"github.com/c360studio/semcontext/pipeline"
	"github.com/c360studio/semcontext/source"
)

// signalContext cancels on SIGINT or SIGTERM.
func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func runCmd(flags *globalFlags) *cobra.Command {
	var follow bool

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Enhance queued pages until the queue is empty",
		Long: `Run resets pages stuck in processing, then claims and enhances batches of
pending pages until none are left. With --follow it keeps polling every
pipeline.poll_interval until interrupted.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := setup(flags)
			if err != nil {
				return err
			}
			ctx, cancel := signalContext(cmd.Context())
			defer cancel()

			e, err := newEngine(ctx, cfg, logger, engineOptions{pages: true})
			if err != nil {
				return err
			}
			defer e.Close(context.Background())
			return runPages(ctx, e, cmd.OutOrStdout(), follow)
		},
	}

	cmd.Flags().BoolVarP(&follow, "follow", "f", false, "Keep polling for new pages")
	return cmd
}

// runPages drains the page queue once, or repeatedly when follow is set.
func runPages(ctx context.Context, e *engine, out io.Writer, follow bool) error {
	if !follow {
		summary, err := e.driver.ProcessPages(ctx)
		if perr := printJSON(out, summary); perr != nil && err == nil {
			err = perr
		}
		return err
	}

	stopMetrics := startMetricsServer(e.cfg.Metrics.Addr, e.registry, e.logger)
	defer stopMetrics()

	ticker := time.NewTicker(e.cfg.Pipeline.PollInterval)
	defer ticker.Stop()
	for {
		summary, err := e.driver.ProcessPages(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		if summary.Claimed > 0 || summary.Reset > 0 {
			e.logger.Info("Claim round finished",
				"claimed", summary.Claimed,
				"contexted", summary.Contexted,
				"failed", summary.Failed+summary.RateLimited+summary.TimedOut,
				"reset", summary.Reset)
		}

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

func filesCmd(flags *globalFlags) *cobra.Command {
	var dryRun bool

	cmd := &cobra.Command{
		Use:   "files <glob>...",
		Short: "Enhance markdown files in place",
		Long: `Files enhances every markdown file matched by the given patterns and
rewrites the changed ones atomically. Patterns support ** (for example
docs/**/*.md). With --dry-run nothing is written.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := setup(flags)
			if err != nil {
				return err
			}
			paths, err := expandGlobs(args)
			if err != nil {
				return err
			}
			if len(paths) == 0 {
				return fmt.Errorf("no files match %v", args)
			}

			ctx, cancel := signalContext(cmd.Context())
			defer cancel()
			e, err := newEngine(ctx, cfg, logger, engineOptions{})
			if err != nil {
				return err
			}
			defer e.Close(context.Background())

			return processFiles(ctx, e, filesystem(dryRun), paths, cmd.OutOrStdout())
		},
	}

	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "Report what would change without writing files")
	return cmd
}

// filesystem returns the OS filesystem, or for a dry run a copy-on-write
// layer that keeps writes in memory.
func filesystem(dryRun bool) afero.Fs {
	if dryRun {
		return afero.NewCopyOnWriteFs(afero.NewReadOnlyFs(afero.NewOsFs()), afero.NewMemMapFs())
	}
	return afero.NewOsFs()
}

// expandGlobs returns the sorted, de-duplicated files matched by patterns.
func expandGlobs(patterns []string) ([]string, error) {
	seen := make(map[string]bool)
	var paths []string
	for _, pattern := range patterns {
		matches, err := doublestar.FilepathGlob(pattern, doublestar.WithFilesOnly())
		if err != nil {
			return nil, fmt.Errorf("bad pattern %q: %w", pattern, err)
		}
		for _, m := range matches {
			abs, err := filepath.Abs(m)
			if err != nil {
				return nil, err
			}
			if !seen[abs] {
				seen[abs] = true
				paths = append(paths, abs)
			}
		}
	}
	sort.Strings(paths)
	return paths, nil
}

func processFiles(ctx context.Context, e *engine, fs afero.Fs, paths []string, out io.Writer) error {
	results, err := pipeline.NewFileProcessor(e.driver, fs).ProcessFiles(ctx, paths)
	writeFileResults(out, results)
	if err != nil {
		return err
	}

	failed := 0
	for _, r := range results {
		if r.Error != "" {
			failed++
		}
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d files failed", failed, len(results))
	}
	return nil
}

func writeFileResults(out io.Writer, results []pipeline.FileResult) {
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "FILE\tWINDOWS\tFAILED\tENHANCED\tREJECTED\tWRITTEN\tERROR")
	for _, r := range results {
		fmt.Fprintf(tw, "%s\t%d\t%d\t%d\t%d\t%t\t%s\n",
			r.Path,
			r.Report.Windows,
			r.Report.FailedWindows,
			r.Report.Enhanced,
			len(r.Report.Rejections),
			r.Written,
			r.Error)
	}
	_ = tw.Flush()
}

func entitiesCmd(flags *globalFlags) *cobra.Command {
	var format, profile string

	cmd := &cobra.Command{
		Use:   "entities <file>",
		Short: "Print the entity graph of a markdown file",
		Long: `Extract the entity graph of a markdown file.

The graph is printed as JSON by default. With --format turtle, ntriples
or jsonld it is serialized as RDF, typed per --profile (minimal, bfo or cco).`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			output, err := parseGraphOutput(format, profile)
			if err != nil {
				return err
			}
			cfg, logger, err := setup(flags)
			if err != nil {
				return err
			}
			content, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}

			ctx, cancel := signalContext(cmd.Context())
			defer cancel()
			e, err := newEngine(ctx, cfg, logger, engineOptions{})
			if err != nil {
				return err
			}
			defer e.Close(context.Background())

			return extractFile(ctx, e, args[0], content, output, cmd.OutOrStdout())
		},
	}

	cmd.Flags().StringVar(&format, "format", "json", "Output format: json, turtle, ntriples or jsonld")
	cmd.Flags().StringVar(&profile, "profile", string(export.ProfileMinimal), "RDF type profile: minimal, bfo or cco")
	return cmd
}

// graphOutput selects how an entity graph is printed. An empty rdf format
// prints JSON.
type graphOutput struct {
	rdf     export.Format
	profile export.Profile
}

func parseGraphOutput(format, profile string) (graphOutput, error) {
	var o graphOutput
	p, err := export.ParseProfile(profile)
	if err != nil {
		return o, err
	}
	o.profile = p
	if format == "" || format == "json" {
		return o, nil
	}
	if o.rdf, err = export.ParseFormat(format); err != nil {
		return o, err
	}
	return o, nil
}

func extractFile(ctx context.Context, e *engine, path string, content []byte, output graphOutput, out io.Writer) error {
	doc := source.ParseMarkdown(source.GenerateID(path, content), string(content))
	if doc.Metadata == nil {
		doc.Metadata = make(map[string]string)
	}
	if doc.Metadata["source"] == "" {
		doc.Metadata["source"] = path
	}
	g, report, err := e.driver.ExtractEntities(ctx, doc)
	if err != nil {
		return err
	}

	if output.rdf != "" {
		ex := export.NewExporter(output.profile)
		ex.AddGraph(doc, g, time.Now())
		rdf, err := ex.Export(output.rdf)
		if err != nil {
			return err
		}
		_, err = io.WriteString(out, rdf)
		return err
	}
	return printJSON(out, map[string]any{
		"id":     doc.ID,
		"graph":  g,
		"report": report,
	})
}

func mcpCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "mcp",
		Short: "Serve enrichment tools over MCP on stdio",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := setup(flags)
			if err != nil {
				return err
			}
			ctx, cancel := signalContext(cmd.Context())
			defer cancel()

			e, err := newEngine(ctx, cfg, logger, engineOptions{})
			if err != nil {
				return err
			}
			defer e.Close(context.Background())

			srv, err := mcpserver.NewServer(e.driver, logger)
			if err != nil {
				return err
			}
			return srv.Serve(ctx)
		},
	}
}
