package main

import (
	"context"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/c360studio/semcontext/llm"
	"github.com/c360studio/semcontext/pipeline"
	"github.com/c360studio/semcontext/watch"
)

func watchCmd(flags *globalFlags) *cobra.Command {
	var (
		pattern string
		initial bool
	)

	cmd := &cobra.Command{
		Use:   "watch <dir>",
		Short: "Enhance markdown files whenever they change",
		Long: `Watch enhances every matching file under dir after it is created or
edited. Its own rewrites are recognized by content hash and not processed
again. With --initial existing files are enhanced first.`,
		Args: cobra.ExactArgs(1),
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

			w, err := watch.New(watch.Config{Root: args[0], Pattern: pattern, Logger: logger})
			if err != nil {
				return err
			}
			defer w.Close()

			stopMetrics := startMetricsServer(cfg.Metrics.Addr, e.registry, logger)
			defer stopMetrics()
			return watchFiles(ctx, e, w, afero.NewOsFs(), initial)
		},
	}

	cmd.Flags().StringVar(&pattern, "pattern", watch.DefaultPattern, "Files to watch, relative to dir")
	cmd.Flags().BoolVar(&initial, "initial", false, "Enhance existing files before watching")
	return cmd
}

// watchFiles enhances changed files until ctx is done. Every rewrite
// records its hash on the watcher first so it is not reported back.
func watchFiles(ctx context.Context, e *engine, w *watch.Watcher, fs afero.Fs, initial bool) error {
	files, err := w.Files()
	if err != nil {
		return err
	}
	fp := pipeline.NewFileProcessor(e.driver, fs).OnBeforeWrite(w.SetHash)

	if initial && len(files) > 0 {
		results, err := fp.ProcessFiles(ctx, files)
		for _, r := range results {
			if r.Error != "" {
				e.logger.Warn("File not enhanced", "path", r.Path, "error", r.Error)
			}
		}
		if err != nil {
			return err
		}
		e.logger.Info("Initial pass finished", "files", len(files))
	}

	if err := w.Start(ctx); err != nil {
		return err
	}

	for ev := range w.Events() {
		if ev.Operation == watch.OpDelete {
			e.logger.Debug("File removed", "path", ev.Path)
			continue
		}

		res, err := fp.ProcessFile(ctx, ev.Path)
		switch {
		case err != nil && llm.IsConfigError(err):
			return err
		case res.Error != "":
			e.logger.Warn("File not enhanced", "path", ev.Path, "error", res.Error)
		default:
			e.logger.Info("File processed",
				"path", ev.Path,
				"op", ev.Operation,
				"enhanced", res.Report.Enhanced,
				"written", res.Written)
		}
	}
	return nil
}
