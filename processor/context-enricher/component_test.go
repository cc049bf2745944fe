package contextenricher

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/c360studio/semstreams/component"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360studio/semcontext/llm"
	"github.com/c360studio/semcontext/llm/testutil"
	"github.com/c360studio/semcontext/pipeline"
	"github.com/c360studio/semcontext/progress"
	"github.com/c360studio/semcontext/session"
	"github.com/c360studio/semcontext/source"
	"github.com/c360studio/semcontext/storage"
)

type recordingPublisher struct {
	mu       sync.Mutex
	subjects []string
	messages [][]byte
}

func (p *recordingPublisher) PublishToStream(_ context.Context, subject string, data []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.subjects = append(p.subjects, subject)
	p.messages = append(p.messages, data)
	return nil
}

func (p *recordingPublisher) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.messages)
}

func (p *recordingPublisher) payloads(t *testing.T) map[string]PagePayload {
	t.Helper()
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make(map[string]PagePayload)
	for i, data := range p.messages {
		var msg struct {
			Payload PagePayload `json:"payload"`
		}
		require.NoError(t, json.Unmarshal(data, &msg))
		assert.Equal(t, msg.Payload.Subject(), p.subjects[i])
		out[msg.Payload.PageID] = msg.Payload
	}
	return out
}

// tagging answers every enhancement call by appending a context tag to each
// block it was sent.
func tagging(req llm.Request) (*llm.Response, error) {
	const marker = "Blocks to enhance:\n"
	start := strings.Index(req.Prompt, marker)
	end := strings.Index(req.Prompt, "\n\nReturn a JSON object")
	if start < 0 || end < start {
		return nil, errors.New("unexpected prompt")
	}
	var blocks map[string]string
	if err := json.Unmarshal([]byte(req.Prompt[start+len(marker):end]), &blocks); err != nil {
		return nil, err
	}
	obj := make(map[string]any)
	for k, v := range blocks {
		obj[k] = v + " [[" + k + "]]"
	}
	return &llm.Response{Object: obj, Provider: "mock", Model: "test-model", Attempts: 1}, nil
}

func newTestComponent(t *testing.T, mock *testutil.MockCompleter) (*Component, *recordingPublisher) {
	t.Helper()
	config := DefaultConfig()
	config.PollInterval = "1h"
	config.WorkerID = "test-worker"

	store, err := storage.OpenPageStore(context.Background(), ":memory:")
	require.NoError(t, err)

	pub := &recordingPublisher{}
	c := &Component{
		name:      "context-enricher",
		config:    config,
		logger:    slog.Default(),
		publisher: pub,
		workerID:  config.WorkerID,
		wake:      make(chan struct{}, 1),
	}
	t.Cleanup(func() { _ = store.Close() })
	c.attach(store, session.NewStore(mock), pipeline.WithProgress(progress.New()))
	return c, pub
}

// run launches the loops the way Start does, without a NATS client.
func run(t *testing.T, c *Component) {
	t.Helper()
	c.mu.Lock()
	c.running = true
	c.startTime = time.Now()
	c.mu.Unlock()
	c.launch(context.Background())
	t.Cleanup(func() { _ = c.Stop(5 * time.Second) })
}

func TestNewComponent_Unit(t *testing.T) {
	tests := []struct {
		name      string
		rawConfig json.RawMessage
		wantErr   bool
	}{
		{name: "defaults", rawConfig: json.RawMessage(`{}`)},
		{name: "overrides", rawConfig: json.RawMessage(`{"batch_size":5,"poll_interval":"10s","extract_entities":true}`)},
		{name: "invalid JSON", rawConfig: json.RawMessage(`{invalid json}`), wantErr: true},
		{name: "invalid poll_interval", rawConfig: json.RawMessage(`{"poll_interval":"soon"}`), wantErr: true},
		{name: "negative stuck_after", rawConfig: json.RawMessage(`{"stuck_after":"-1m"}`), wantErr: true},
		{name: "publish without extraction", rawConfig: json.RawMessage(`{"publish_entities":true}`), wantErr: true},
		{name: "empty stream", rawConfig: json.RawMessage(`{"stream_name":""}`), wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			deps := component.Dependencies{Logger: slog.Default()}
			comp, err := NewComponent(tt.rawConfig, deps)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			c := comp.(*Component)
			assert.NotEmpty(t, c.workerID)
			assert.Nil(t, c.publisher)
		})
	}
}

func TestComponent_StartWithoutNATSClient(t *testing.T) {
	comp, err := NewComponent(json.RawMessage(`{}`), component.Dependencies{Logger: slog.Default()})
	require.NoError(t, err)
	c := comp.(*Component)

	assert.Error(t, c.Start(context.Background()))
	assert.False(t, c.Health().Healthy)
	assert.NoError(t, c.Stop(time.Second), "stopping a stopped component is a no-op")
}

func TestComponent_DrainsQueueOnStart(t *testing.T) {
	c, pub := newTestComponent(t, &testutil.MockCompleter{Handler: tagging})
	ctx := context.Background()
	_, err := c.store.AddPage(ctx, &source.Page{ID: "p1", URL: "https://example.com/p1", Content: "The first page has a paragraph long enough to enrich.\n"})
	require.NoError(t, err)

	run(t, c)

	require.Eventually(t, func() bool { return pub.count() == 1 }, 5*time.Second, 10*time.Millisecond)
	got := pub.payloads(t)["p1"]
	assert.Equal(t, source.StatusContexted, got.Status)
	assert.Equal(t, "https://example.com/p1", got.URL)
	assert.Equal(t, 1, got.Enhanced)
	assert.Equal(t, "test-worker", got.WorkerID)
	assert.Equal(t, "context.page.contexted", got.Subject())

	p, err := c.store.GetPage(ctx, "p1")
	require.NoError(t, err)
	assert.Contains(t, p.Contexted, "[[block_0]]")
	assert.Equal(t, int64(1), c.pagesContexted.Load())
	assert.Equal(t, 1, c.Stats().TotalCompleted)
}

func TestComponent_RequestWakesClaimLoop(t *testing.T) {
	c, pub := newTestComponent(t, &testutil.MockCompleter{Handler: tagging})
	run(t, c)
	ctx := context.Background()

	// Let the initial empty round finish so the request is what wakes the loop.
	require.Eventually(t, func() bool { return c.claimRounds.Load() >= 1 }, time.Second, 5*time.Millisecond)

	err := c.handleRequest(ctx, EnrichRequest{PageID: "p2", Content: "A requested page with a paragraph long enough to enrich.\n"})
	require.NoError(t, err)

	require.Eventually(t, func() bool { return pub.count() == 1 }, 5*time.Second, 10*time.Millisecond)
	assert.Equal(t, source.StatusContexted, pub.payloads(t)["p2"].Status)
	assert.Equal(t, int64(1), c.requestsReceived.Load())

	// Requeue by id only.
	err = c.handleRequest(ctx, EnrichRequest{PageID: "p2"})
	require.NoError(t, err)
	require.Eventually(t, func() bool { return c.pagesContexted.Load() == 2 }, 5*time.Second, 10*time.Millisecond)
}

func TestComponent_HandleRequestErrors(t *testing.T) {
	c, _ := newTestComponent(t, &testutil.MockCompleter{Handler: tagging})
	ctx := context.Background()

	err := c.handleRequest(ctx, EnrichRequest{})
	assert.ErrorIs(t, err, errInvalidRequest)

	err = c.handleRequest(ctx, EnrichRequest{PageID: "unknown"})
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestComponent_PublishesFailures(t *testing.T) {
	mock := &testutil.MockCompleter{Err: llm.NewTransientError(errors.New("connection reset"))}
	c, pub := newTestComponent(t, mock)
	_, err := c.store.AddPage(context.Background(), &source.Page{ID: "p3", Content: "This page will fail because every provider call errors out.\n"})
	require.NoError(t, err)

	run(t, c)

	require.Eventually(t, func() bool { return pub.count() == 1 }, 5*time.Second, 10*time.Millisecond)
	got := pub.payloads(t)["p3"]
	assert.Equal(t, source.StatusFailed, got.Status)
	assert.Equal(t, "all windows failed", got.Reason)
	assert.Equal(t, 1, got.FailedWindows)
	assert.Equal(t, "context.page.failed", pub.subjects[0])
	assert.Equal(t, int64(1), c.pagesFailed.Load())
	assert.InDelta(t, 1.0, c.DataFlow().ErrorRate, 0.001)
}

func TestPublishOutcome_SkipsReleasedPages(t *testing.T) {
	c, pub := newTestComponent(t, &testutil.MockCompleter{})
	c.publishOutcome(context.Background(), pipeline.PageOutcome{Page: &source.Page{ID: "p"}, Status: source.StatusPending})
	c.publishOutcome(context.Background(), pipeline.PageOutcome{Page: &source.Page{ID: "p"}})
	assert.Empty(t, pub.messages)
	assert.Zero(t, c.pagesContexted.Load()+c.pagesFailed.Load())
}

func TestPagePayload_Validate(t *testing.T) {
	p := &PagePayload{PageID: "p", Status: source.StatusTimeout}
	assert.NoError(t, p.Validate())
	assert.Equal(t, PageType, p.Schema())

	assert.Error(t, (&PagePayload{Status: source.StatusContexted}).Validate())
	assert.Error(t, (&PagePayload{PageID: "p", Status: source.StatusProcessing}).Validate())
}

func TestComponent_Ports(t *testing.T) {
	c := &Component{config: DefaultConfig()}
	in := c.InputPorts()
	require.Len(t, in, 1)
	assert.Equal(t, "enrich.in", in[0].Name)
	assert.Equal(t, component.DirectionInput, in[0].Direction)

	out := c.OutputPorts()
	require.Len(t, out, 2)
	js, ok := out[0].Config.(component.JetStreamPort)
	require.True(t, ok)
	assert.Equal(t, []string{"context.page.>"}, js.Subjects)

	assert.Empty(t, (&Component{}).InputPorts())
	assert.Equal(t, "context-enricher", c.Meta().Name)
}

func TestConfig_WindowConfig(t *testing.T) {
	cfg := Config{ContextWords: 50}
	w := cfg.WindowConfig()
	assert.Equal(t, 50, w.ContextWords)
	assert.Equal(t, 20, w.MinBlockChars)
	assert.Equal(t, 600, w.ProcessWords)

	assert.Equal(t, 30*time.Second, cfg.GetPollInterval())
	assert.Equal(t, pipeline.DefaultDocumentTimeout, cfg.GetDocumentTimeout())
}

type fakeRegistry struct {
	got component.RegistrationConfig
}

func (f *fakeRegistry) RegisterWithConfig(cfg component.RegistrationConfig) error {
	f.got = cfg
	return nil
}

func TestRegister(t *testing.T) {
	assert.Error(t, Register(nil))

	reg := &fakeRegistry{}
	require.NoError(t, Register(reg))
	assert.Equal(t, "context-enricher", reg.got.Name)
	assert.Equal(t, "processor", reg.got.Type)
}
