package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/c360studio/semcontext/source"
	"github.com/c360studio/semcontext/source/parser"
	"github.com/c360studio/semcontext/source/weburl"
	"github.com/c360studio/semcontext/storage"
)

// resettableStatuses are reset by "pages reset" when no status is named.
var resettableStatuses = []source.PageStatus{
	source.StatusFailed,
	source.StatusRateLimited,
	source.StatusTimeout,
}

func pagesCmd(flags *globalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "pages",
		Short: "Manage the page queue",
	}
	cmd.AddCommand(
		pagesAddCmd(flags),
		pagesFetchCmd(flags),
		pagesListCmd(flags),
		pagesShowCmd(flags),
		pagesStatsCmd(flags),
		pagesResetCmd(flags),
	)
	return cmd
}

// withStore loads the configuration and opens the page store around fn.
func withStore(cmd *cobra.Command, flags *globalFlags, fn func(ctx context.Context, store *storage.PageStore) error) error {
	cfg, _, err := setup(flags)
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	store, err := storage.OpenPageStore(ctx, cfg.Storage.Path)
	if err != nil {
		return fmt.Errorf("open page store: %w", err)
	}
	defer store.Close()
	return fn(ctx, store)
}

func pagesAddCmd(flags *globalFlags) *cobra.Command {
	var (
		url         string
		contentType string
	)

	cmd := &cobra.Command{
		Use:   "add <file>...",
		Short: "Queue local files as pages",
		Long: `Add stores each file as a pending page. The content type follows the
extension: HTML, AsciiDoc and reStructuredText pages are converted to
markdown when processed, and the text of PDF files is extracted before they
are stored. Re-adding a file with unchanged content is a no-op; changed
content queues it again.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if url != "" && len(args) > 1 {
				return fmt.Errorf("--url applies to a single file")
			}
			return withStore(cmd, flags, func(ctx context.Context, store *storage.PageStore) error {
				for _, path := range args {
					page, err := filePage(path, url, contentType)
					if err != nil {
						return err
					}
					if err := addPage(ctx, store, page, cmd.OutOrStdout()); err != nil {
						return err
					}
				}
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&url, "url", "", "Source URL of the page (also derives its id)")
	cmd.Flags().StringVar(&contentType, "content-type", "", "Content type (default by extension)")
	return cmd
}

// filePage reads path into a page.
func filePage(path, url, contentType string) (*source.Page, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if contentType == "" {
		contentType = parser.MimeTypeFromPath(path)
	}
	// The id follows the file, not its content, so an edited file replaces
	// its earlier page.
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}
	id := source.GenerateID(abs, []byte(abs))
	if url != "" {
		id = weburl.PageID(url)
	}
	page := &source.Page{
		ID:          id,
		URL:         url,
		ContentType: contentType,
		Content:     string(content),
	}
	return page, extractText(page)
}

// extractText replaces binary page content with its extracted text, so
// only text is stored.
func extractText(page *source.Page) error {
	if !parser.IsBinary(page.ContentType) {
		return nil
	}
	res, err := parser.DefaultRegistry.Parse(page.ContentType, []byte(page.Content))
	if err != nil {
		return fmt.Errorf("extract text from %s: %w", page.ID, err)
	}
	page.Content = res.Markdown
	page.ContentType = "text/markdown"
	if page.Title == "" {
		page.Title = res.Title()
	}
	return nil
}

func addPage(ctx context.Context, store *storage.PageStore, page *source.Page, out io.Writer) error {
	queued, err := store.AddPage(ctx, page)
	if err != nil {
		return err
	}
	state := "unchanged"
	if queued {
		state = "queued"
	}
	fmt.Fprintf(out, "%s\t%s\n", state, page.ID)
	return nil
}

func pagesFetchCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "fetch <url>...",
		Short: "Fetch web pages and queue them",
		Long: `Fetch downloads each HTTPS URL and stores it as a pending page. Hosts
that resolve to private or local addresses are refused.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			fetcher := weburl.NewFetcher(weburl.FetcherConfig{UserAgent: appName + "/" + Version})
			return withStore(cmd, flags, func(ctx context.Context, store *storage.PageStore) error {
				return fetchPages(ctx, fetcher, store, args, cmd.OutOrStdout())
			})
		},
	}
}

func fetchPages(ctx context.Context, fetcher *weburl.Fetcher, store *storage.PageStore, urls []string, out io.Writer) error {
	for _, u := range urls {
		page, err := fetcher.FetchPage(ctx, u)
		if err != nil {
			return fmt.Errorf("fetch %s: %w", u, err)
		}
		if err := extractText(page); err != nil {
			return err
		}
		if err := addPage(ctx, store, page, out); err != nil {
			return err
		}
	}
	return nil
}

func pagesListCmd(flags *globalFlags) *cobra.Command {
	var (
		status string
		limit  int
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List pages, oldest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			st := source.PageStatus(status)
			if st != "" && !st.IsValid() {
				return fmt.Errorf("unknown status %q", status)
			}
			return withStore(cmd, flags, func(ctx context.Context, store *storage.PageStore) error {
				pages, err := store.ListPages(ctx, st, limit)
				if err != nil {
					return err
				}
				writePages(cmd.OutOrStdout(), pages)
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&status, "status", "", "Only list pages in this status")
	cmd.Flags().IntVar(&limit, "limit", 100, "Maximum pages to list")
	return cmd
}

func writePages(out io.Writer, pages []*source.Page) {
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tSTATUS\tATTEMPTS\tURL\tERROR")
	for _, p := range pages {
		fmt.Fprintf(tw, "%s\t%s\t%d\t%s\t%s\n", p.ID, p.Status, p.Attempts, p.URL, p.Error)
	}
	_ = tw.Flush()
}

func pagesShowCmd(flags *globalFlags) *cobra.Command {
	var original bool

	cmd := &cobra.Command{
		Use:   "show <id>",
		Short: "Print a page's contexted markdown",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(cmd, flags, func(ctx context.Context, store *storage.PageStore) error {
				page, err := store.GetPage(ctx, args[0])
				if err != nil {
					return err
				}
				out := page.Contexted
				if original {
					out = page.Content
				} else if page.Status != source.StatusContexted {
					return fmt.Errorf("page %s is %s, not contexted", page.ID, page.Status)
				}
				_, err = io.WriteString(cmd.OutOrStdout(), out)
				return err
			})
		},
	}

	cmd.Flags().BoolVar(&original, "original", false, "Print the stored original content instead")
	return cmd
}

func pagesStatsCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Count pages by status",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(cmd, flags, func(ctx context.Context, store *storage.PageStore) error {
				stats, err := store.Stats(ctx)
				if err != nil {
					return err
				}
				writeStats(cmd.OutOrStdout(), stats)
				return nil
			})
		},
	}
}

func writeStats(out io.Writer, stats storage.PageStats) {
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	for _, st := range []source.PageStatus{
		source.StatusPending,
		source.StatusProcessing,
		source.StatusContexted,
		source.StatusFailed,
		source.StatusRateLimited,
		source.StatusTimeout,
	} {
		fmt.Fprintf(tw, "%s\t%d\n", st, stats.Count(st))
	}
	fmt.Fprintf(tw, "total\t%d\n", stats.Total)
	_ = tw.Flush()
}

func pagesResetCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "reset [status]...",
		Short: "Return pages to pending",
		Long: `Reset moves every page in the named statuses back to pending so the next
run retries them. Without arguments failed, rate_limited and timeout pages
are reset.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			statuses := resettableStatuses
			if len(args) > 0 {
				statuses = make([]source.PageStatus, len(args))
				for i, a := range args {
					statuses[i] = source.PageStatus(a)
				}
			}
			return withStore(cmd, flags, func(ctx context.Context, store *storage.PageStore) error {
				n, err := store.ResetPages(ctx, statuses...)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "reset %d pages\n", n)
				return nil
			})
		},
	}
}
