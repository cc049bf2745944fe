package enhance

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/c360studio/semcontext/llm"
	"github.com/c360studio/semcontext/model"
	"github.com/c360studio/semcontext/source"
	"github.com/c360studio/semcontext/source/window"
)

// SessionCaller issues one call inside an open session. The session
// attaches its cached context.
type SessionCaller interface {
	Call(ctx context.Context, sessionID string, req llm.Request) (*llm.Response, error)
}

// EnhancementResult is the outcome of enhancing one window.
type EnhancementResult struct {
	WindowIndex   int               `json:"window_index"`
	BlockIndices  []int             `json:"block_indices"`
	EnhancedByKey map[string]string `json:"enhanced_by_key,omitempty"`

	// Err is set when the call failed; the window's blocks keep their
	// original text.
	Err error `json:"-"`

	// Attempts and Provider describe the call that produced the result.
	Attempts int    `json:"attempts"`
	Provider string `json:"provider,omitempty"`
}

// Failed reports whether the window call failed.
func (r EnhancementResult) Failed() bool {
	return r.Err != nil
}

// Option configures an Enhancer.
type Option func(*Enhancer)

// WithTemperature sets the sampling temperature for enhancement calls.
func WithTemperature(t float64) Option {
	return func(e *Enhancer) {
		e.temperature = &t
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Enhancer) {
		e.logger = l
	}
}

// Enhancer turns windows into enhancement calls.
type Enhancer struct {
	caller      SessionCaller
	temperature *float64
	logger      *slog.Logger
}

// NewEnhancer creates an enhancer that calls through caller.
func NewEnhancer(caller SessionCaller, opts ...Option) *Enhancer {
	zero := 0.0
	e := &Enhancer{
		caller:      caller,
		temperature: &zero,
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// EnhanceWindow sends one window and returns the raw enhanced blocks.
// Failures are carried in the result rather than returned so callers can
// degrade per window.
func (e *Enhancer) EnhanceWindow(ctx context.Context, sessionID string, w window.Window) EnhancementResult {
	result := EnhancementResult{
		WindowIndex:  w.Index,
		BlockIndices: w.BlockIndices,
	}

	shape, err := llm.StructuredObject(ResponseSchema(w))
	if err != nil {
		result.Err = fmt.Errorf("window %d schema: %w", w.Index, err)
		return result
	}

	resp, err := e.caller.Call(ctx, sessionID, llm.Request{
		Capability:  model.CapabilityEnhance.String(),
		Prompt:      WindowPrompt(w),
		Shape:       shape,
		Temperature: e.temperature,
	})
	if err != nil {
		e.logger.Debug("Window enhancement failed",
			"session", sessionID,
			"window", w.Index,
			"blocks", len(w.BlockIndices),
			"error", err)
		result.Err = err
		return result
	}

	result.Attempts = resp.Attempts
	result.Provider = resp.Provider
	result.EnhancedByKey = make(map[string]string, len(w.BlockIndices))
	for _, key := range w.Keys() {
		if v, ok := resp.Object[key].(string); ok {
			result.EnhancedByKey[key] = v
		}
	}
	return result
}

// Rejection records an enhanced block that failed validation.
type Rejection struct {
	BlockIndex int    `json:"block_index"`
	Reason     string `json:"reason"`
}

// Report summarizes one document's reassembly.
type Report struct {
	Windows       int         `json:"windows"`
	FailedWindows int         `json:"failed_windows"`
	Enhanced      int         `json:"enhanced"`
	Unchanged     int         `json:"unchanged"`
	Lenient       int         `json:"lenient"`
	Insertions    int         `json:"insertions"`
	Rejections    []Rejection `json:"rejections,omitempty"`
}

// Reassemble writes validated enhancements back into a copy of blocks by
// original index. Accepted insertions are written into the original text, so
// its whitespace and line breaks survive. A block whose enhancement is
// missing, fails validation or belongs to a failed window keeps its original
// text verbatim.
func Reassemble(blocks []source.Block, results []EnhancementResult, v *Validator) ([]source.Block, Report) {
	if v == nil {
		v = defaultValidator
	}

	out := make([]source.Block, len(blocks))
	copy(out, blocks)

	byIndex := make(map[int]int, len(blocks))
	for i, b := range blocks {
		byIndex[b.OriginalIndex] = i
	}

	report := Report{Windows: len(results)}
	for _, res := range results {
		if res.Failed() {
			report.FailedWindows++
			continue
		}
		for _, idx := range res.BlockIndices {
			pos, ok := byIndex[idx]
			if !ok {
				continue
			}
			original := blocks[pos].Text
			enhanced, ok := res.EnhancedByKey[window.Key(idx)]
			if !ok {
				report.Rejections = append(report.Rejections, Rejection{BlockIndex: idx, Reason: "missing from response"})
				continue
			}

			check := v.Validate(original, enhanced)
			if !check.Valid {
				report.Rejections = append(report.Rejections, Rejection{BlockIndex: idx, Reason: check.Reason})
				continue
			}

			found := NewInsertions(original, enhanced)
			if found == 0 {
				report.Unchanged++
				continue
			}
			if check.Lenient {
				report.Lenient++
			}
			out[pos].Text = Project(original, enhanced)
			report.Enhanced++
			report.Insertions += found
		}
	}
	return out, report
}
