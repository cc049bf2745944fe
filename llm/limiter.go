package llm

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/semaphore"
)

// DefaultConcurrency is the process-wide limit on in-flight calls.
const DefaultConcurrency = 10

// Limiter bounds in-flight provider calls with a global semaphore and an
// optional smaller semaphore per provider.
type Limiter struct {
	global   *semaphore.Weighted
	size     int64
	perLimit map[string]int64

	mu        sync.Mutex
	providers map[string]*semaphore.Weighted

	inFlight atomic.Int64
	peak     atomic.Int64
}

// NewLimiter creates a limiter allowing size concurrent calls overall.
// perProvider optionally caps individual providers lower.
func NewLimiter(size int, perProvider map[string]int) *Limiter {
	if size <= 0 {
		size = DefaultConcurrency
	}
	l := &Limiter{
		global:    semaphore.NewWeighted(int64(size)),
		size:      int64(size),
		perLimit:  make(map[string]int64, len(perProvider)),
		providers: make(map[string]*semaphore.Weighted),
	}
	for name, n := range perProvider {
		if n > 0 && int64(n) < l.size {
			l.perLimit[strings.ToLower(name)] = int64(n)
		}
	}
	return l
}

// SetProviderLimit caps a provider at n concurrent calls. Limits at or
// above the global size are ignored.
func (l *Limiter) SetProviderLimit(provider string, n int) {
	if n <= 0 || int64(n) >= l.size {
		return
	}
	key := strings.ToLower(provider)
	l.mu.Lock()
	defer l.mu.Unlock()
	if cur, ok := l.perLimit[key]; ok && cur <= int64(n) {
		return
	}
	l.perLimit[key] = int64(n)
	delete(l.providers, key)
}

// Acquire blocks until a slot is free for the provider or ctx is done.
// The provider slot is taken first so waiting on a busy provider never
// holds a global slot.
func (l *Limiter) Acquire(ctx context.Context, provider string) (release func(), err error) {
	psem := l.providerSemaphore(provider)
	if psem != nil {
		if err := psem.Acquire(ctx, 1); err != nil {
			return nil, err
		}
	}
	if err := l.global.Acquire(ctx, 1); err != nil {
		if psem != nil {
			psem.Release(1)
		}
		return nil, err
	}

	n := l.inFlight.Add(1)
	for {
		p := l.peak.Load()
		if n <= p || l.peak.CompareAndSwap(p, n) {
			break
		}
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			l.inFlight.Add(-1)
			l.global.Release(1)
			if psem != nil {
				psem.Release(1)
			}
		})
	}, nil
}

// Size returns the global limit.
func (l *Limiter) Size() int {
	return int(l.size)
}

// InFlight returns the number of calls holding a slot.
func (l *Limiter) InFlight() int {
	return int(l.inFlight.Load())
}

// Peak returns the highest number of simultaneous slots observed.
func (l *Limiter) Peak() int {
	return int(l.peak.Load())
}

func (l *Limiter) providerSemaphore(provider string) *semaphore.Weighted {
	key := strings.ToLower(provider)
	l.mu.Lock()
	defer l.mu.Unlock()

	n, ok := l.perLimit[key]
	if !ok {
		return nil
	}
	sem, ok := l.providers[key]
	if !ok {
		sem = semaphore.NewWeighted(n)
		l.providers[key] = sem
	}
	return sem
}
