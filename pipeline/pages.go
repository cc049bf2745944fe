package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/c360studio/semcontext/llm"
	"github.com/c360studio/semcontext/progress"
	"github.com/c360studio/semcontext/source"
)

// PageStore is the page store contract the claim loop runs against.
// ClaimPagesForProcessing must be atomic: no two callers receive the same
// page.
type PageStore interface {
	ResetStuckProcessing(ctx context.Context, olderThan time.Duration) (int, error)
	ClaimPagesForProcessing(ctx context.Context, batchSize int, workerID string) ([]*source.Page, error)
	MarkPageContexted(ctx context.Context, id, content string) error
	MarkPageFailed(ctx context.Context, id string, status source.PageStatus, reason string) error
	ReleasePage(ctx context.Context, id string) error
}

// PageSummary counts page outcomes of a run.
type PageSummary struct {
	Reset       int `json:"reset"`
	Claimed     int `json:"claimed"`
	Contexted   int `json:"contexted"`
	Failed      int `json:"failed"`
	RateLimited int `json:"rate_limited"`
	TimedOut    int `json:"timed_out"`
	Released    int `json:"released"`
}

func (s *PageSummary) add(o PageSummary) {
	s.Reset += o.Reset
	s.Claimed += o.Claimed
	s.Contexted += o.Contexted
	s.Failed += o.Failed
	s.RateLimited += o.RateLimited
	s.TimedOut += o.TimedOut
	s.Released += o.Released
}

func (s *PageSummary) count(status source.PageStatus) {
	switch status {
	case source.StatusContexted:
		s.Contexted++
	case source.StatusFailed:
		s.Failed++
	case source.StatusRateLimited:
		s.RateLimited++
	case source.StatusTimeout:
		s.TimedOut++
	case source.StatusPending:
		s.Released++
	}
}

// ProcessPages resets stuck pages, then claims and processes batches until
// the queue is empty. A configuration error stops the run after the
// in-flight pages are released; every other failure is recorded on its page.
func (d *Driver) ProcessPages(ctx context.Context) (PageSummary, error) {
	var total PageSummary
	if d.pages == nil {
		return total, errors.New("no page store configured")
	}

	n, err := d.pages.ResetStuckProcessing(ctx, d.stuckAfter)
	if err != nil {
		return total, fmt.Errorf("reset stuck pages: %w", err)
	}
	total.Reset = n
	if n > 0 {
		d.logger.Info("Reset stuck pages", "count", n, "older_than", d.stuckAfter)
	}

	for {
		batch, err := d.ProcessBatch(ctx)
		total.add(batch)
		if err != nil {
			return total, err
		}
		if batch.Claimed == 0 {
			return total, nil
		}
		if closed := d.SweepSessions(); len(closed) > 0 {
			d.logger.Debug("Swept idle sessions", "count", len(closed))
		}
	}
}

// ProcessBatch claims one batch of pages and processes them with bounded
// document concurrency.
func (d *Driver) ProcessBatch(ctx context.Context) (PageSummary, error) {
	var summary PageSummary
	if d.pages == nil {
		return summary, errors.New("no page store configured")
	}
	if err := ctx.Err(); err != nil {
		return summary, err
	}

	pages, err := d.pages.ClaimPagesForProcessing(ctx, d.batchSize, d.workerID)
	if err != nil {
		return summary, fmt.Errorf("claim pages: %w", err)
	}
	summary.Claimed = len(pages)
	if len(pages) == 0 {
		return summary, nil
	}
	d.logger.Debug("Claimed pages", "count", len(pages), "worker", d.workerID)

	docs := make([]*source.Document, len(pages))
	known := make([]progress.Document, 0, len(pages))
	for i, p := range pages {
		if p.Content == "" {
			continue
		}
		doc, err := d.converter.PageDocument(p)
		if err != nil {
			d.logger.Warn("Failed to convert page", "page_id", p.ID, "error", err)
			continue
		}
		docs[i] = doc
		known = append(known, d.ProgressDocument(doc))
	}
	if d.progress != nil {
		d.progress.AddDocuments(known)
	}

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(d.docConcurrency)
	for i, p := range pages {
		g.Go(func() error {
			status, err := d.processPage(gctx, p, docs[i])
			mu.Lock()
			summary.count(status)
			mu.Unlock()
			return err
		})
	}
	return summary, g.Wait()
}

// PageOutcome is reported to the page hook once a claimed page's status
// is recorded.
type PageOutcome struct {
	Page   *source.Page      `json:"page"`
	Status source.PageStatus `json:"status"`
	Reason string            `json:"reason,omitempty"`
	Result *Result           `json:"result,omitempty"`
}

// processPage enhances one claimed page and records its outcome. The
// returned error is non-nil only for failures that must abort the run.
func (d *Driver) processPage(ctx context.Context, p *source.Page, doc *source.Document) (source.PageStatus, error) {
	// Bookkeeping writes must land even when the run is being cancelled.
	bctx := context.WithoutCancel(ctx)

	outcome, err := d.enhancePage(ctx, bctx, p, doc)
	if outcome.Status != "" && d.pageHook != nil {
		d.pageHook(bctx, outcome)
	}
	return outcome.Status, err
}

func (d *Driver) enhancePage(ctx, bctx context.Context, p *source.Page, doc *source.Document) (PageOutcome, error) {
	if doc == nil {
		reason := "page content could not be converted"
		if p.Content == "" {
			reason = "page has no content"
		}
		return d.markFailed(bctx, p, source.StatusFailed, reason, nil), nil
	}

	res, err := d.EnhanceDocument(ctx, doc)
	switch {
	case err == nil:
	case llm.IsConfigError(err):
		return d.release(bctx, p), err
	case errors.Is(err, ErrDocumentTimeout):
		return d.markFailed(bctx, p, source.StatusTimeout, err.Error(), nil), nil
	case ctx.Err() != nil:
		return d.release(bctx, p), nil
	default:
		return d.markFailed(bctx, p, source.StatusFailed, err.Error(), nil), nil
	}

	if res.AllWindowsFailed() {
		if res.RateLimitedWindows == res.Report.FailedWindows {
			return d.markFailed(bctx, p, source.StatusRateLimited, "all windows rate limited", res), nil
		}
		return d.markFailed(bctx, p, source.StatusFailed, "all windows failed", res), nil
	}

	if err := d.pages.MarkPageContexted(bctx, p.ID, source.Render(res.Document)); err != nil {
		d.logger.Error("Failed to mark page contexted", "page_id", p.ID, "error", err)
		return PageOutcome{Page: p}, nil
	}
	return PageOutcome{Page: p, Status: source.StatusContexted, Result: res}, nil
}

func (d *Driver) markFailed(ctx context.Context, p *source.Page, status source.PageStatus, reason string, res *Result) PageOutcome {
	d.logger.Warn("Page not contexted", "page_id", p.ID, "status", status, "reason", reason)
	if err := d.pages.MarkPageFailed(ctx, p.ID, status, reason); err != nil {
		d.logger.Error("Failed to mark page", "page_id", p.ID, "status", status, "error", err)
		return PageOutcome{Page: p}
	}
	return PageOutcome{Page: p, Status: status, Reason: reason, Result: res}
}

func (d *Driver) release(ctx context.Context, p *source.Page) PageOutcome {
	if err := d.pages.ReleasePage(ctx, p.ID); err != nil {
		d.logger.Error("Failed to release page", "page_id", p.ID, "error", err)
		return PageOutcome{Page: p}
	}
	return PageOutcome{Page: p, Status: source.StatusPending}
}
