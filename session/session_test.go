package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/c360studio/semcontext/llm"
	"github.com/c360studio/semcontext/llm/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func TestStore_CallAttachesContext(t *testing.T) {
	mock := &testutil.MockCompleter{
		Responses: []*llm.Response{
			{Content: "a", Provider: "anthropic", Attempts: 1, ContextCached: true, Usage: llm.TokenUsage{PromptTokens: 100, CompletionTokens: 5}},
			{Content: "b", Provider: "anthropic", Attempts: 2, ContextCached: true, Usage: llm.TokenUsage{PromptTokens: 10, CompletionTokens: 5}},
		},
	}
	store := NewStore(mock)

	id := store.Open("doc-1")
	require.NoError(t, store.SetContext(id, "INSTRUCTIONS + METADATA"))

	for _, prompt := range []string{"window 0", "window 1"} {
		_, err := store.Call(context.Background(), id, llm.Request{Capability: "enhance", Prompt: prompt})
		require.NoError(t, err)
	}

	reqs := mock.Requests()
	require.Len(t, reqs, 2)
	for _, r := range reqs {
		assert.Equal(t, "INSTRUCTIONS + METADATA", r.Context)
		assert.Equal(t, id, r.SessionID)
	}
	assert.Equal(t, "window 1", reqs[1].Prompt)

	info, err := store.Get(id)
	require.NoError(t, err)
	assert.Equal(t, "doc-1", info.DocumentID)
	require.Len(t, info.History, 2)
	assert.True(t, info.History[0].CacheHit)
	assert.True(t, info.History[0].Cached)
	assert.Equal(t, 2, info.History[1].Attempts)
	assert.Equal(t, Metrics{Hits: 2, Calls: 2, PromptTokens: 110, CompletionTokens: 10}, info.Metrics)
	assert.Equal(t, 1.0, info.Metrics.HitRate())
}

func TestStore_MissWithoutContext(t *testing.T) {
	mock := &testutil.MockCompleter{Err: errors.New("boom")}
	store := NewStore(mock)
	id := store.Open("doc")

	_, err := store.Call(context.Background(), id, llm.Request{Capability: "enhance", Prompt: "p"})
	require.Error(t, err)

	m, err := store.Close(id)
	require.NoError(t, err)
	assert.Equal(t, 1, m.Misses)
	assert.Equal(t, 0, m.Hits)
	assert.Equal(t, 1, m.Failures)
	assert.Equal(t, 0.0, m.HitRate())
}

func TestStore_ContextSealedAfterFirstCall(t *testing.T) {
	store := NewStore(&testutil.MockCompleter{})
	id := store.Open("doc")

	require.NoError(t, store.SetContext(id, "first"))
	require.NoError(t, store.SetContext(id, "second"))

	_, err := store.Call(context.Background(), id, llm.Request{Capability: "enhance", Prompt: "p"})
	require.NoError(t, err)

	assert.ErrorIs(t, store.SetContext(id, "third"), ErrContextSealed)

	info, _ := store.Get(id)
	assert.Equal(t, "second", info.CachedContext)
}

func TestStore_UnknownSession(t *testing.T) {
	store := NewStore(&testutil.MockCompleter{})

	_, err := store.Call(context.Background(), "nope", llm.Request{Prompt: "p"})
	assert.ErrorIs(t, err, ErrSessionNotFound)
	assert.ErrorIs(t, store.SetContext("nope", "x"), ErrSessionNotFound)
	_, err = store.Get("nope")
	assert.ErrorIs(t, err, ErrSessionNotFound)
	_, err = store.Close("nope")
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestStore_CloseTwice(t *testing.T) {
	store := NewStore(&testutil.MockCompleter{})
	id := store.Open("doc")

	_, err := store.Close(id)
	require.NoError(t, err)
	_, err = store.Close(id)
	assert.ErrorIs(t, err, ErrSessionNotFound)
	assert.Equal(t, 0, store.Len())
}

func TestStore_SweepClosesIdleSessions(t *testing.T) {
	clock := &fakeClock{now: time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)}
	store := NewStore(&testutil.MockCompleter{}, WithClock(clock.Now), WithTTL(5*time.Minute))

	idle := store.Open("idle")
	clock.Advance(3 * time.Minute)
	active := store.Open("active")

	clock.Advance(3 * time.Minute)
	_, err := store.Call(context.Background(), active, llm.Request{Capability: "enhance", Prompt: "p"})
	require.NoError(t, err)

	swept := store.Sweep()
	assert.Equal(t, []string{idle}, swept)
	assert.Equal(t, 1, store.Len())

	_, err = store.Get(idle)
	assert.ErrorIs(t, err, ErrSessionNotFound)
	_, err = store.Get(active)
	assert.NoError(t, err)
}

func TestStore_ConcurrentCalls(t *testing.T) {
	mock := &testutil.MockCompleter{Delay: time.Millisecond}
	store := NewStore(mock)
	id := store.Open("doc")
	require.NoError(t, store.SetContext(id, "ctx"))

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := store.Call(context.Background(), id, llm.Request{Capability: "enhance", Prompt: "p"})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	info, err := store.Get(id)
	require.NoError(t, err)
	assert.Equal(t, 20, info.Metrics.Calls)
	assert.Equal(t, 20, info.Metrics.Hits)
	assert.Len(t, info.History, 20)
}

func TestStore_Run(t *testing.T) {
	clock := &fakeClock{now: time.Now()}
	store := NewStore(&testutil.MockCompleter{}, WithClock(clock.Now), WithTTL(time.Minute))
	store.Open("doc")
	clock.Advance(2 * time.Minute)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		store.Run(ctx, 5*time.Millisecond)
		close(done)
	}()

	assert.Eventually(t, func() bool { return store.Len() == 0 }, time.Second, 5*time.Millisecond)
	cancel()
	<-done
}
