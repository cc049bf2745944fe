package watch

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360studio/semcontext/source"
)

func newTestWatcher(t *testing.T, root string) *Watcher {
	t.Helper()
	w, err := New(Config{Root: root, Debounce: 20 * time.Millisecond})
	require.NoError(t, err)
	t.Cleanup(func() { _ = w.Close() })
	return w
}

func nextEvent(t *testing.T, w *Watcher) Event {
	t.Helper()
	select {
	case ev := <-w.Events():
		return ev
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for watch event")
		return Event{}
	}
}

func noEvent(t *testing.T, w *Watcher, wait time.Duration) {
	t.Helper()
	select {
	case ev := <-w.Events():
		t.Fatalf("unexpected event %+v", ev)
	case <-time.After(wait):
	}
}

func TestMatch(t *testing.T) {
	root := t.TempDir()
	w := newTestWatcher(t, root)

	assert.True(t, w.Match(filepath.Join(root, "a.md")))
	assert.True(t, w.Match(filepath.Join(root, "docs", "deep", "b.md")))
	assert.False(t, w.Match(filepath.Join(root, "a.txt")))
	assert.False(t, w.Match(filepath.Join(filepath.Dir(root), "outside.md")))
}

func TestFiles_SkipsHiddenAndVendor(t *testing.T) {
	root := t.TempDir()
	for _, p := range []string{"a.md", "docs/b.md", ".git/c.md", "vendor/d.md", "notes.txt"} {
		full := filepath.Join(root, p)
		require.NoError(t, os.MkdirAll(filepath.Dir(full), 0755))
		require.NoError(t, os.WriteFile(full, []byte("# "+p), 0644))
	}
	w := newTestWatcher(t, root)

	files, err := w.Files()
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{filepath.Join(root, "a.md"), filepath.Join(root, "docs", "b.md")}, files)

	hash, ok := w.GetHash(filepath.Join(root, "a.md"))
	require.True(t, ok)
	assert.Equal(t, source.ContentHash([]byte("# a.md")), hash)
}

func TestWatcher_ReportsChangesOnce(t *testing.T) {
	root := t.TempDir()
	w := newTestWatcher(t, root)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, w.Start(ctx))

	path := filepath.Join(root, "note.md")
	require.NoError(t, os.WriteFile(path, []byte("first"), 0644))
	ev := nextEvent(t, w)
	assert.Equal(t, path, ev.Path)
	assert.Equal(t, OpCreate, ev.Operation)
	assert.Equal(t, source.ContentHash([]byte("first")), ev.Hash)

	// A rewrite whose hash was recorded by the consumer is not reported.
	w.SetHash(path, source.ContentHash([]byte("rewritten")))
	require.NoError(t, os.WriteFile(path, []byte("rewritten"), 0644))
	noEvent(t, w, 200*time.Millisecond)

	require.NoError(t, os.WriteFile(path, []byte("edited"), 0644))
	ev = nextEvent(t, w)
	assert.Equal(t, OpModify, ev.Operation)

	require.NoError(t, os.WriteFile(filepath.Join(root, "ignored.txt"), []byte("x"), 0644))
	noEvent(t, w, 200*time.Millisecond)

	require.NoError(t, os.Remove(path))
	ev = nextEvent(t, w)
	assert.Equal(t, OpDelete, ev.Operation)
	assert.Empty(t, ev.Hash)
}

func TestWatcher_NewDirectories(t *testing.T) {
	root := t.TempDir()
	w := newTestWatcher(t, root)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, w.Start(ctx))

	dir := filepath.Join(root, "added")
	require.NoError(t, os.Mkdir(dir, 0755))
	// Give the watcher a moment to add the new directory.
	time.Sleep(100 * time.Millisecond)

	path := filepath.Join(dir, "n.md")
	require.NoError(t, os.WriteFile(path, []byte("nested"), 0644))
	ev := nextEvent(t, w)
	assert.Equal(t, path, ev.Path)
}

func TestWatcher_ClosesEventsOnCancel(t *testing.T) {
	w := newTestWatcher(t, t.TempDir())
	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, w.Start(ctx))
	cancel()

	select {
	case _, ok := <-w.Events():
		assert.False(t, ok)
	case <-time.After(time.Second):
		t.Fatal("events channel not closed")
	}
}
