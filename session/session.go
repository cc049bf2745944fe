// Package session scopes a document's calls behind a reusable cached
// context. Sessions are owned explicitly: the caller opens one, sets its
// context once, calls through it and closes it. Idle sessions are closed by
// Sweep.
package session

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/c360studio/semcontext/llm"
	"github.com/google/uuid"
)

// DefaultTTL is how long a session may sit idle before Sweep closes it.
const DefaultTTL = 5 * time.Minute

var (
	// ErrSessionNotFound is returned for unknown or closed sessions.
	ErrSessionNotFound = errors.New("session not found")

	// ErrContextSealed is returned by SetContext after the first call.
	ErrContextSealed = errors.New("session context already in use")
)

// CallRecord is one call made through a session.
type CallRecord struct {
	RequestID string        `json:"request_id,omitempty"`
	Provider  string        `json:"provider,omitempty"`
	Model     string        `json:"model,omitempty"`
	Attempts  int           `json:"attempts"`
	CacheHit  bool          `json:"cache_hit"`
	Cached    bool          `json:"context_cached"`
	Duration  time.Duration `json:"duration"`
	Error     string        `json:"error,omitempty"`
	At        time.Time     `json:"at"`
}

// Metrics counts a session's calls. A hit is a call that reused the
// session's cached context; a miss is a call made with none set.
type Metrics struct {
	Hits             int `json:"hits"`
	Misses           int `json:"misses"`
	Calls            int `json:"calls"`
	Failures         int `json:"failures"`
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
}

// HitRate returns hits over calls, or zero before any call.
func (m Metrics) HitRate() float64 {
	if m.Calls == 0 {
		return 0
	}
	return float64(m.Hits) / float64(m.Calls)
}

// Info is a point-in-time copy of a session.
type Info struct {
	ID            string       `json:"id"`
	DocumentID    string       `json:"document_id,omitempty"`
	CachedContext string       `json:"cached_context,omitempty"`
	History       []CallRecord `json:"history"`
	Metrics       Metrics      `json:"metrics"`
	CreatedAt     time.Time    `json:"created_at"`
	LastUsedAt    time.Time    `json:"last_used_at"`
}

type session struct {
	id         string
	documentID string
	createdAt  time.Time

	mu            sync.Mutex
	cachedContext string
	sealed        bool
	history       []CallRecord
	metrics       Metrics
	lastUsedAt    time.Time
}

// Option configures a Store.
type Option func(*Store)

// WithTTL sets the idle timeout used by Sweep.
func WithTTL(ttl time.Duration) Option {
	return func(s *Store) {
		if ttl > 0 {
			s.ttl = ttl
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) {
		s.logger = l
	}
}

// WithClock overrides time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		s.now = now
	}
}

// Store owns open sessions and routes their calls to a Completer.
type Store struct {
	completer llm.Completer
	ttl       time.Duration
	logger    *slog.Logger
	now       func() time.Time

	mu       sync.Mutex
	sessions map[string]*session
}

// NewStore creates a session store calling through completer.
func NewStore(completer llm.Completer, opts ...Option) *Store {
	s := &Store{
		completer: completer,
		ttl:       DefaultTTL,
		logger:    slog.Default(),
		now:       time.Now,
		sessions:  make(map[string]*session),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Open starts a session for a document and returns its ID.
func (s *Store) Open(documentID string) string {
	now := s.now()
	sess := &session{
		id:         uuid.New().String(),
		documentID: documentID,
		createdAt:  now,
		lastUsedAt: now,
	}

	s.mu.Lock()
	s.sessions[sess.id] = sess
	s.mu.Unlock()

	s.logger.Debug("Session opened", "session", sess.id, "document", documentID)
	return sess.id
}

// SetContext sets the session's cached context. It must be called before
// the session's first call; the context is read-only afterwards.
func (s *Store) SetContext(id, text string) error {
	sess, err := s.lookup(id)
	if err != nil {
		return err
	}

	sess.mu.Lock()
	defer sess.mu.Unlock()
	if sess.sealed {
		return ErrContextSealed
	}
	sess.cachedContext = text
	sess.lastUsedAt = s.now()
	return nil
}

// Call sends req with the session's cached context attached and records
// the outcome in the session history.
func (s *Store) Call(ctx context.Context, id string, req llm.Request) (*llm.Response, error) {
	sess, err := s.lookup(id)
	if err != nil {
		return nil, err
	}

	sess.mu.Lock()
	sess.sealed = true
	cached := sess.cachedContext
	sess.lastUsedAt = s.now()
	sess.mu.Unlock()

	req.Context = cached
	req.SessionID = id

	start := s.now()
	resp, callErr := s.completer.Complete(ctx, req)
	end := s.now()

	rec := CallRecord{
		CacheHit: cached != "",
		Duration: end.Sub(start),
		At:       start,
	}
	if callErr != nil {
		rec.Error = callErr.Error()
	} else {
		rec.RequestID = resp.RequestID
		rec.Provider = resp.Provider
		rec.Model = resp.Model
		rec.Attempts = resp.Attempts
		rec.Cached = resp.ContextCached
	}

	sess.mu.Lock()
	sess.history = append(sess.history, rec)
	sess.metrics.Calls++
	if rec.CacheHit {
		sess.metrics.Hits++
	} else {
		sess.metrics.Misses++
	}
	if callErr != nil {
		sess.metrics.Failures++
	} else {
		sess.metrics.PromptTokens += resp.Usage.PromptTokens
		sess.metrics.CompletionTokens += resp.Usage.CompletionTokens
	}
	sess.lastUsedAt = end
	sess.mu.Unlock()

	return resp, callErr
}

// Get returns a copy of an open session.
func (s *Store) Get(id string) (Info, error) {
	sess, err := s.lookup(id)
	if err != nil {
		return Info{}, err
	}
	return sess.info(), nil
}

// Close removes a session and returns its final metrics.
func (s *Store) Close(id string) (Metrics, error) {
	s.mu.Lock()
	sess, ok := s.sessions[id]
	delete(s.sessions, id)
	s.mu.Unlock()

	if !ok {
		return Metrics{}, ErrSessionNotFound
	}

	info := sess.info()
	s.logger.Debug("Session closed",
		"session", id,
		"document", info.DocumentID,
		"calls", info.Metrics.Calls,
		"hits", info.Metrics.Hits,
		"misses", info.Metrics.Misses)
	return info.Metrics, nil
}

// Sweep closes sessions idle longer than the TTL and returns their IDs.
func (s *Store) Sweep() []string {
	cutoff := s.now().Add(-s.ttl)

	s.mu.Lock()
	var expired []string
	for id, sess := range s.sessions {
		sess.mu.Lock()
		idle := sess.lastUsedAt.Before(cutoff)
		sess.mu.Unlock()
		if idle {
			expired = append(expired, id)
			delete(s.sessions, id)
		}
	}
	s.mu.Unlock()

	if len(expired) > 0 {
		s.logger.Info("Closed idle sessions", "count", len(expired), "ttl", s.ttl)
	}
	return expired
}

// Run sweeps on every interval tick until ctx is done.
func (s *Store) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = s.ttl
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Sweep()
		}
	}
}

// Len returns the number of open sessions.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

func (s *Store) lookup(id string) (*session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return sess, nil
}

func (sess *session) info() Info {
	sess.mu.Lock()
	defer sess.mu.Unlock()

	history := make([]CallRecord, len(sess.history))
	copy(history, sess.history)
	return Info{
		ID:            sess.id,
		DocumentID:    sess.documentID,
		CachedContext: sess.cachedContext,
		History:       history,
		Metrics:       sess.metrics,
		CreatedAt:     sess.createdAt,
		LastUsedAt:    sess.lastUsedAt,
	}
}
