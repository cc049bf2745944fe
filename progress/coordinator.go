// Package progress tracks expected and completed window requests across
// documents processed concurrently. Expected counts start as estimates and
// are refined as real window counts become known; completed counts only
// move forward and expected never drops below completed.
package progress

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// DefaultBlocksPerWindow is the average number of eligible blocks assumed
// per window when estimating.
const DefaultBlocksPerWindow = 4

// Callback receives (completed, expected) after every mutation. It runs
// while the coordinator's lock is held and must not call back into it.
type Callback func(completed, expected int)

// Document describes a document entering the run.
type Document struct {
	ID             string `json:"id"`
	EligibleBlocks int    `json:"eligible_blocks"`
}

// Stats is a snapshot of the coordinator state.
type Stats struct {
	TotalExpected  int `json:"total_expected"`
	TotalCompleted int `json:"total_completed"`
	Documents      int `json:"documents"`
	KnownActual    int `json:"known_actual"`
}

// Remaining returns expected minus completed.
func (s Stats) Remaining() int {
	return s.TotalExpected - s.TotalCompleted
}

// Percent returns completion in [0, 100].
func (s Stats) Percent() float64 {
	if s.TotalExpected == 0 {
		return 0
	}
	return float64(s.TotalCompleted) * 100 / float64(s.TotalExpected)
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithBlocksPerWindow sets the estimation divisor.
func WithBlocksPerWindow(n int) Option {
	return func(c *Coordinator) {
		if n > 0 {
			c.blocksPerWindow = n
		}
	}
}

// WithCallback registers the progress callback.
func WithCallback(cb Callback) Option {
	return func(c *Coordinator) {
		c.callback = cb
	}
}

// WithRegisterer exports expected and completed counts as gauges.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(c *Coordinator) {
		c.metrics = newMetrics(reg)
	}
}

// Coordinator is the single process-wide progress state. Every mutation
// runs under one mutex.
type Coordinator struct {
	blocksPerWindow int
	metrics         *metrics

	mu             sync.Mutex
	totalExpected  int
	totalCompleted int
	estimates      map[string]int
	actuals        map[string]int
	callback       Callback
}

// New creates a coordinator.
func New(opts ...Option) *Coordinator {
	c := &Coordinator{
		blocksPerWindow: DefaultBlocksPerWindow,
		estimates:       make(map[string]int),
		actuals:         make(map[string]int),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// EstimateWindows returns ceil(eligible / blocksPerWindow).
func EstimateWindows(eligible, blocksPerWindow int) int {
	if eligible <= 0 {
		return 0
	}
	if blocksPerWindow <= 0 {
		blocksPerWindow = DefaultBlocksPerWindow
	}
	return (eligible + blocksPerWindow - 1) / blocksPerWindow
}

// SetCallback replaces the progress callback.
func (c *Coordinator) SetCallback(cb Callback) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.callback = cb
	c.notify()
}

// Initialize starts a run over docs. Per-document estimates and actuals are
// replaced; the completed count carries over from earlier runs and expected
// is clamped so it is never below it.
func (c *Coordinator) Initialize(docs []Document) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.estimates = make(map[string]int, len(docs))
	c.actuals = make(map[string]int)
	sum := 0
	for _, d := range docs {
		est := EstimateWindows(d.EligibleBlocks, c.blocksPerWindow)
		c.estimates[d.ID] = est
		sum += est
	}
	c.totalExpected = max(sum, c.totalCompleted)
	c.notify()
}

// AddDocuments adds documents discovered after Initialize. Documents
// already known are ignored.
func (c *Coordinator) AddDocuments(docs []Document) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, d := range docs {
		if _, ok := c.estimates[d.ID]; ok {
			continue
		}
		c.estimates[d.ID] = EstimateWindows(d.EligibleBlocks, c.blocksPerWindow)
	}
	c.raise(c.projected())
	c.notify()
}

// UpdateActual records the real window count of a document. Expected is
// recomputed from known actuals plus remaining estimates but only ever
// raised.
func (c *Coordinator) UpdateActual(docID string, windows int) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if windows < 0 {
		windows = 0
	}
	if _, ok := c.estimates[docID]; !ok {
		c.estimates[docID] = windows
	}
	c.actuals[docID] = windows
	c.raise(c.projected())
	c.notify()
}

// TrackCompletion records one finished window request.
func (c *Coordinator) TrackCompletion(docID string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.totalCompleted++
	if _, ok := c.estimates[docID]; !ok {
		c.estimates[docID] = 0
	}
	c.raise(c.totalCompleted)
	c.notify()
}

// Stats returns a snapshot.
func (c *Coordinator) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Stats{
		TotalExpected:  c.totalExpected,
		TotalCompleted: c.totalCompleted,
		Documents:      len(c.estimates),
		KnownActual:    len(c.actuals),
	}
}

// projected is known actuals plus estimates for documents without one.
// Caller holds mu.
func (c *Coordinator) projected() int {
	total := 0
	for id, est := range c.estimates {
		if actual, ok := c.actuals[id]; ok {
			total += actual
			continue
		}
		total += est
	}
	return total
}

// raise lifts expected to n if n is larger. Caller holds mu.
func (c *Coordinator) raise(n int) {
	if n > c.totalExpected {
		c.totalExpected = n
	}
	if c.totalExpected < c.totalCompleted {
		c.totalExpected = c.totalCompleted
	}
}

// notify publishes the current counts. Caller holds mu.
func (c *Coordinator) notify() {
	c.metrics.set(c.totalCompleted, c.totalExpected)
	if c.callback != nil {
		c.callback(c.totalCompleted, c.totalExpected)
	}
}
