// Package pipeline drives documents through enrichment: windows are built,
// fanned out through one bounded pool of enhancement calls inside a
// per-document session, validated, and reassembled by original index.
// Pages are claimed from the page store and marked with their final status;
// markdown files are rewritten in place.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"

	"github.com/c360studio/semcontext/enhance"
	"github.com/c360studio/semcontext/graph"
	"github.com/c360studio/semcontext/llm"
	"github.com/c360studio/semcontext/progress"
	"github.com/c360studio/semcontext/session"
	"github.com/c360studio/semcontext/source"
	"github.com/c360studio/semcontext/source/window"
	"github.com/c360studio/semcontext/storage"
)

const (
	// DefaultConcurrency is the window pool size shared by all documents.
	DefaultConcurrency = 10

	// DefaultDocumentConcurrency bounds documents processed at once.
	DefaultDocumentConcurrency = 4

	// DefaultDocumentTimeout races the enhancement of one document.
	DefaultDocumentTimeout = 4 * time.Minute

	// DefaultBatchSize is the number of pages claimed per round.
	DefaultBatchSize = 10

	// DefaultStuckAfter is the age after which processing pages are reset.
	DefaultStuckAfter = 15 * time.Minute
)

// ErrDocumentTimeout is returned when a document does not finish within the
// document timeout. The document is left untouched.
var ErrDocumentTimeout = errors.New("document timed out")

// GraphSink persists extracted graphs.
type GraphSink interface {
	Put(ctx context.Context, docID string, g *graph.Graph, report graph.Report) (*storage.GraphRecord, error)
}

// Result is the outcome of enhancing one document.
type Result struct {
	Document *source.Document `json:"document"`
	Report   enhance.Report   `json:"report"`
	Session  session.Metrics  `json:"session"`

	// RateLimitedWindows counts failed windows whose last error was a rate limit.
	RateLimitedWindows int `json:"rate_limited_windows"`

	Graph       *graph.Graph  `json:"graph,omitempty"`
	GraphReport *graph.Report `json:"graph_report,omitempty"`

	Duration time.Duration `json:"duration"`
}

// Changed reports whether any block was enhanced.
func (r *Result) Changed() bool {
	return r.Report.Enhanced > 0
}

// AllWindowsFailed reports whether the document had windows and none succeeded.
func (r *Result) AllWindowsFailed() bool {
	return r.Report.Windows > 0 && r.Report.FailedWindows == r.Report.Windows
}

// Option configures a Driver.
type Option func(*Driver)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(d *Driver) {
		d.logger = l
	}
}

// WithConcurrency sets the window pool size shared by all documents.
func WithConcurrency(n int) Option {
	return func(d *Driver) {
		if n > 0 {
			d.concurrency = n
		}
	}
}

// WithDocumentConcurrency bounds documents processed at once.
func WithDocumentConcurrency(n int) Option {
	return func(d *Driver) {
		if n > 0 {
			d.docConcurrency = n
		}
	}
}

// WithDocumentTimeout sets the per-document timeout.
func WithDocumentTimeout(t time.Duration) Option {
	return func(d *Driver) {
		if t > 0 {
			d.docTimeout = t
		}
	}
}

// WithPacing spaces window dispatch to rps requests per second with the
// given burst. A non-positive rps disables pacing.
func WithPacing(rps float64, burst int) Option {
	return func(d *Driver) {
		if rps <= 0 {
			d.pacer = nil
			return
		}
		if burst < 1 {
			burst = 1
		}
		d.pacer = rate.NewLimiter(rate.Limit(rps), burst)
	}
}

// WithTemperature sets the enhancement temperature.
func WithTemperature(t float64) Option {
	return func(d *Driver) {
		d.temperature = t
	}
}

// WithWindowBuilder replaces the default window builder.
func WithWindowBuilder(b *window.Builder) Option {
	return func(d *Driver) {
		if b != nil {
			d.builder = b
		}
	}
}

// WithValidator replaces the default enhancement validator.
func WithValidator(v *enhance.Validator) Option {
	return func(d *Driver) {
		d.validator = v
	}
}

// WithProgress reports window estimates and completions to c.
func WithProgress(c *progress.Coordinator) Option {
	return func(d *Driver) {
		d.progress = c
	}
}

// WithExtraction runs entity extraction on every enhanced document.
func WithExtraction(enabled bool) Option {
	return func(d *Driver) {
		d.extract = enabled
	}
}

// WithGraphSink persists extracted graphs.
func WithGraphSink(s GraphSink) Option {
	return func(d *Driver) {
		d.graphs = s
	}
}

// WithPublisher publishes extracted graphs for graph ingestion.
func WithPublisher(p graph.StreamPublisher) Option {
	return func(d *Driver) {
		d.publisher = p
	}
}

// WithPageStore sets the store ProcessPages claims from.
func WithPageStore(s PageStore) Option {
	return func(d *Driver) {
		d.pages = s
	}
}

// WithPageHook calls fn after each claimed page's status is recorded,
// including pages released back to pending.
func WithPageHook(fn func(ctx context.Context, o PageOutcome)) Option {
	return func(d *Driver) {
		d.pageHook = fn
	}
}

// WithWorkerID names this worker in page claims.
func WithWorkerID(id string) Option {
	return func(d *Driver) {
		if id != "" {
			d.workerID = id
		}
	}
}

// WithBatchSize sets the number of pages claimed per round.
func WithBatchSize(n int) Option {
	return func(d *Driver) {
		if n > 0 {
			d.batchSize = n
		}
	}
}

// WithStuckAfter sets the age after which processing pages are reset.
func WithStuckAfter(t time.Duration) Option {
	return func(d *Driver) {
		if t > 0 {
			d.stuckAfter = t
		}
	}
}

// Driver enhances documents. It owns no session state of its own: the
// session store is passed in and outlives individual runs.
type Driver struct {
	sessions  *session.Store
	enhancer  *enhance.Enhancer
	extractor *graph.Extractor
	builder   *window.Builder
	validator *enhance.Validator
	converter *source.Converter
	progress  *progress.Coordinator
	graphs    GraphSink
	publisher graph.StreamPublisher
	pages     PageStore
	pageHook  func(ctx context.Context, o PageOutcome)
	logger    *slog.Logger

	concurrency    int
	docConcurrency int
	docTimeout     time.Duration
	temperature    float64
	extract        bool
	workerID       string
	batchSize      int
	stuckAfter     time.Duration

	pool  *semaphore.Weighted
	pacer *rate.Limiter
}

// New creates a driver calling through sessions.
func New(sessions *session.Store, opts ...Option) *Driver {
	d := &Driver{
		sessions:       sessions,
		builder:        window.NewDefault(),
		validator:      enhance.NewValidator(enhance.DefaultLenientThreshold),
		converter:      source.NewConverter(),
		logger:         slog.Default(),
		concurrency:    DefaultConcurrency,
		docConcurrency: DefaultDocumentConcurrency,
		docTimeout:     DefaultDocumentTimeout,
		workerID:       "semcontext",
		batchSize:      DefaultBatchSize,
		stuckAfter:     DefaultStuckAfter,
	}
	for _, opt := range opts {
		opt(d)
	}
	d.pool = semaphore.NewWeighted(int64(d.concurrency))
	d.enhancer = enhance.NewEnhancer(sessions,
		enhance.WithTemperature(d.temperature),
		enhance.WithLogger(d.logger))
	d.extractor = graph.NewExtractor(sessions,
		graph.WithConcurrency(d.concurrency),
		graph.WithLogger(d.logger))
	return d
}

// Builder returns the window builder.
func (d *Driver) Builder() *window.Builder {
	return d.builder
}

// Progress returns the progress coordinator, if any.
func (d *Driver) Progress() *progress.Coordinator {
	return d.progress
}

// ProgressDocument describes doc for progress estimation.
func (d *Driver) ProgressDocument(doc *source.Document) progress.Document {
	return progress.Document{
		ID:             doc.ID,
		EligibleBlocks: d.builder.Filter().CountEligible(doc.Blocks),
	}
}

// EnhanceDocument enhances one document. Windows that fail keep their
// original text; blocks whose enhancement fails validation keep their
// original text. The returned document is a copy; doc is never modified.
//
// Errors: a configuration error from any window aborts the document and is
// returned as is. ErrDocumentTimeout is returned when the document timeout
// fires first. Cancellation of ctx returns ctx.Err().
func (d *Driver) EnhanceDocument(ctx context.Context, doc *source.Document) (*Result, error) {
	start := time.Now()
	windows := d.builder.Build(doc.Blocks)
	if d.progress != nil {
		d.progress.UpdateActual(doc.ID, len(windows))
	}

	result := &Result{Document: doc.Clone()}
	if len(windows) == 0 {
		result.Duration = time.Since(start)
		d.logger.Debug("No eligible blocks", "doc_id", doc.ID, "blocks", len(doc.Blocks))
		return result, nil
	}

	tctx, cancel := context.WithTimeout(ctx, d.docTimeout)
	defer cancel()

	sessionID := d.sessions.Open(doc.ID)
	defer func() {
		if m, err := d.sessions.Close(sessionID); err == nil {
			result.Session = m
			d.logger.Debug("Session closed",
				"doc_id", doc.ID,
				"session", sessionID,
				"calls", m.Calls,
				"hits", m.Hits,
				"misses", m.Misses,
				"failures", m.Failures)
		}
	}()
	if err := d.sessions.SetContext(sessionID, enhance.SystemContext(doc)); err != nil {
		return nil, fmt.Errorf("set session context: %w", err)
	}

	results, err := d.runWindows(tctx, doc.ID, sessionID, windows)
	if err != nil {
		return nil, d.documentError(ctx, tctx, err)
	}

	blocks, report := enhance.Reassemble(doc.Blocks, results, d.validator)
	result.Document.Blocks = blocks
	result.Report = report
	for _, r := range results {
		if r.Failed() && llm.IsRateLimited(r.Err) {
			result.RateLimitedWindows++
		}
	}

	if d.extract {
		if err := d.extractGraph(tctx, result); err != nil {
			if llm.IsConfigError(err) {
				return nil, err
			}
			if tctx.Err() != nil {
				return nil, d.documentError(ctx, tctx, tctx.Err())
			}
			d.logger.Warn("Entity extraction failed", "doc_id", doc.ID, "error", err)
		}
	}

	result.Duration = time.Since(start)
	d.logger.Info("Document enhanced",
		"doc_id", doc.ID,
		"windows", report.Windows,
		"failed_windows", report.FailedWindows,
		"enhanced", report.Enhanced,
		"rejected", len(report.Rejections),
		"insertions", report.Insertions,
		"duration", result.Duration)
	return result, nil
}

// runWindows dispatches every window through the shared pool. A window
// failure is carried in its result; only configuration errors and context
// errors stop the fan-out.
func (d *Driver) runWindows(ctx context.Context, docID, sessionID string, windows []window.Window) ([]enhance.EnhancementResult, error) {
	results := make([]enhance.EnhancementResult, len(windows))

	g, gctx := errgroup.WithContext(ctx)
	for i, w := range windows {
		if d.pacer != nil {
			if err := d.pacer.Wait(gctx); err != nil {
				break
			}
		}
		if err := d.pool.Acquire(gctx, 1); err != nil {
			break
		}
		g.Go(func() error {
			defer d.pool.Release(1)
			r := d.enhancer.EnhanceWindow(gctx, sessionID, w)
			if llm.IsConfigError(r.Err) {
				return r.Err
			}
			results[i] = r
			if d.progress != nil {
				d.progress.TrackCompletion(docID)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return results, nil
}

// documentError maps a failure inside the document timeout to the error
// returned to callers.
func (d *Driver) documentError(parent, tctx context.Context, err error) error {
	if llm.IsConfigError(err) {
		return err
	}
	if parent.Err() != nil {
		return parent.Err()
	}
	if errors.Is(tctx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%w after %s", ErrDocumentTimeout, d.docTimeout)
	}
	return err
}

// extractGraph runs extraction over the enhanced document, then stores
// and publishes the graph.
func (d *Driver) extractGraph(ctx context.Context, result *Result) error {
	doc := result.Document
	g, report, err := d.extractEntities(ctx, doc)
	if err != nil || g == nil {
		return err
	}
	result.Graph = g
	result.GraphReport = &report

	if d.graphs != nil {
		if _, err := d.graphs.Put(ctx, doc.ID, g, report); err != nil {
			d.logger.Warn("Failed to store graph", "doc_id", doc.ID, "error", err)
		}
	}
	if d.publisher != nil && !g.IsEmpty() {
		n, err := graph.Publish(ctx, d.publisher, doc, g)
		if err != nil {
			d.logger.Warn("Failed to publish graph", "doc_id", doc.ID, "published", n, "error", err)
		} else {
			d.logger.Debug("Published graph", "doc_id", doc.ID, "entities", n)
		}
	}
	return nil
}

// ExtractEntities extracts the merged entity graph of doc without
// enhancing it. The document timeout applies. A document without eligible
// blocks yields an empty graph.
func (d *Driver) ExtractEntities(ctx context.Context, doc *source.Document) (*graph.Graph, graph.Report, error) {
	tctx, cancel := context.WithTimeout(ctx, d.docTimeout)
	defer cancel()

	g, report, err := d.extractEntities(tctx, doc)
	if err != nil {
		return nil, report, d.documentError(ctx, tctx, err)
	}
	if g == nil {
		g = &graph.Graph{}
	}
	return g, report, nil
}

// extractEntities runs extraction over doc in its own session. It returns
// a nil graph when doc has no windows.
func (d *Driver) extractEntities(ctx context.Context, doc *source.Document) (*graph.Graph, graph.Report, error) {
	windows := d.builder.Build(doc.Blocks)
	if len(windows) == 0 {
		return nil, graph.Report{}, nil
	}

	sessionID := d.sessions.Open(doc.ID)
	defer func() { _, _ = d.sessions.Close(sessionID) }()
	if err := d.sessions.SetContext(sessionID, graph.SystemContext(doc)); err != nil {
		return nil, graph.Report{}, fmt.Errorf("set extraction context: %w", err)
	}
	return d.extractor.Extract(ctx, sessionID, windows)
}

// SweepSessions closes sessions idle past the store's TTL.
func (d *Driver) SweepSessions() []string {
	return d.sessions.Sweep()
}
