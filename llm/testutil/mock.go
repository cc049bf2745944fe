// Package testutil provides test doubles for code that calls llm.Completer.
package testutil

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/c360studio/semcontext/llm"
)

// MockCompleter is a thread-safe llm.Completer. Responses are served in
// order; Handler, when set, computes each response from the request. It
// counts concurrent entries so tests can assert a concurrency bound.
//
// Usage:
//
//	mock := &testutil.MockCompleter{
//	    Handler: func(req llm.Request) (*llm.Response, error) {
//	        return &llm.Response{Content: req.Prompt}, nil
//	    },
//	    Delay: 10 * time.Millisecond,
//	}
type MockCompleter struct {
	mu            sync.Mutex
	Responses     []*llm.Response // Responses to return in sequence
	Err           error           // Error to return (takes precedence over Responses)
	Handler       func(req llm.Request) (*llm.Response, error)
	Delay         time.Duration // Simulated latency while "in flight"
	requests      []llm.Request
	responseIndex int

	inFlight atomic.Int64
	peak     atomic.Int64
}

// Complete implements llm.Completer.
func (m *MockCompleter) Complete(ctx context.Context, req llm.Request) (*llm.Response, error) {
	n := m.inFlight.Add(1)
	defer m.inFlight.Add(-1)
	for {
		p := m.peak.Load()
		if n <= p || m.peak.CompareAndSwap(p, n) {
			break
		}
	}

	if m.Delay > 0 {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(m.Delay):
		}
	}

	m.mu.Lock()
	m.requests = append(m.requests, req)
	handler := m.Handler
	if m.Err != nil {
		err := m.Err
		m.mu.Unlock()
		return nil, err
	}
	var resp *llm.Response
	if handler == nil {
		if m.responseIndex < len(m.Responses) {
			resp = m.Responses[m.responseIndex]
			m.responseIndex++
		} else {
			resp = &llm.Response{Content: "", Model: "test-model"}
		}
	}
	m.mu.Unlock()

	if handler != nil {
		return handler(req)
	}
	return resp, nil
}

// Requests returns a copy of every request received.
func (m *MockCompleter) Requests() []llm.Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]llm.Request, len(m.requests))
	copy(out, m.requests)
	return out
}

// CallCount returns the number of times Complete was called.
func (m *MockCompleter) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.requests)
}

// Peak returns the highest number of concurrent Complete calls observed.
func (m *MockCompleter) Peak() int {
	return int(m.peak.Load())
}

// Reset clears recorded requests and the response cursor.
func (m *MockCompleter) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requests = nil
	m.responseIndex = 0
	m.peak.Store(0)
}
