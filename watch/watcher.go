// Package watch reports changed markdown files under a directory tree.
// Changes are debounced and guarded by content hash, so a file rewritten
// by its own consumer is not reported again.
package watch

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/fsnotify/fsnotify"

	"github.com/c360studio/semcontext/source"
)

// DefaultDebounce is how long changes are collected before they are reported.
const DefaultDebounce = 500 * time.Millisecond

// DefaultPattern matches the files reported by a watcher.
const DefaultPattern = "**/*.md"

// Config configures the watcher.
type Config struct {
	// Root is the directory to watch.
	Root string

	// Pattern selects reported files, relative to Root.
	Pattern string

	// Debounce is how long to wait for more changes before reporting.
	Debounce time.Duration

	// Logger for logging events
	Logger *slog.Logger
}

// Operation indicates the type of change.
type Operation string

const (
	OpCreate Operation = "create"
	OpModify Operation = "modify"
	OpDelete Operation = "delete"
)

// Event is one reported change.
type Event struct {
	// Path is the absolute file path.
	Path string

	// Operation is the type of change.
	Operation Operation

	// Hash is the content hash at report time. Empty for deletes.
	Hash string
}

// Watcher watches a directory tree for markdown changes.
type Watcher struct {
	config  Config
	watcher *fsnotify.Watcher
	logger  *slog.Logger

	pendingMu sync.Mutex
	pending   map[string]fsnotify.Op

	hashMu sync.RWMutex
	hashes map[string]string

	events chan Event
}

// New creates a watcher. Call Start to begin watching.
func New(config Config) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	if config.Debounce <= 0 {
		config.Debounce = DefaultDebounce
	}
	if config.Pattern == "" {
		config.Pattern = DefaultPattern
	}
	root, err := filepath.Abs(config.Root)
	if err != nil {
		_ = fsw.Close()
		return nil, err
	}
	config.Root = root

	return &Watcher{
		config:  config,
		watcher: fsw,
		logger:  config.Logger,
		pending: make(map[string]fsnotify.Op),
		hashes:  make(map[string]string),
		events:  make(chan Event, 100),
	}, nil
}

// Events returns the channel of reported changes. It is closed when the
// watcher stops.
func (w *Watcher) Events() <-chan Event {
	return w.events
}

// Start adds watches for the tree and begins reporting. Reporting stops
// when ctx is done.
func (w *Watcher) Start(ctx context.Context) error {
	if err := w.addWatchesRecursive(w.config.Root); err != nil {
		return err
	}

	go w.processEvents(ctx)

	w.logger.Info("File watcher started",
		"root", w.config.Root,
		"pattern", w.config.Pattern,
		"debounce", w.config.Debounce)
	return nil
}

// Close releases the underlying watcher.
func (w *Watcher) Close() error {
	return w.watcher.Close()
}

// SetHash records the content hash of path. A later change that leaves
// the file with this hash is not reported.
func (w *Watcher) SetHash(path, hash string) {
	w.hashMu.Lock()
	defer w.hashMu.Unlock()
	w.hashes[path] = hash
}

// GetHash returns the recorded hash for a file.
func (w *Watcher) GetHash(path string) (string, bool) {
	w.hashMu.RLock()
	defer w.hashMu.RUnlock()
	hash, ok := w.hashes[path]
	return hash, ok
}

// Match reports whether path is selected by the watcher's pattern.
func (w *Watcher) Match(path string) bool {
	rel, err := filepath.Rel(w.config.Root, path)
	if err != nil || strings.HasPrefix(rel, "..") {
		return false
	}
	ok, err := doublestar.PathMatch(w.config.Pattern, rel)
	return err == nil && ok
}

// Files returns every existing file selected by the pattern and records
// their hashes, so only later changes are reported.
func (w *Watcher) Files() ([]string, error) {
	matches, err := doublestar.FilepathGlob(filepath.Join(w.config.Root, w.config.Pattern))
	if err != nil {
		return nil, err
	}
	var files []string
	for _, m := range matches {
		if skipPath(w.config.Root, m) {
			continue
		}
		data, err := os.ReadFile(m)
		if err != nil {
			continue
		}
		w.SetHash(m, source.ContentHash(data))
		files = append(files, m)
	}
	return files, nil
}

// skipPath reports whether path lies under a hidden or vendor directory.
func skipPath(root, path string) bool {
	rel, err := filepath.Rel(root, filepath.Dir(path))
	if err != nil || rel == "." {
		return false
	}
	for _, part := range strings.Split(rel, string(filepath.Separator)) {
		if skipDir(part) {
			return true
		}
	}
	return false
}

func skipDir(base string) bool {
	return base == "vendor" || base == "node_modules" || (strings.HasPrefix(base, ".") && base != ".")
}

// addWatchesRecursive adds watches to all directories.
func (w *Watcher) addWatchesRecursive(root string) error {
	return filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !info.IsDir() {
			return nil
		}
		if path != root && skipDir(filepath.Base(path)) {
			return filepath.SkipDir
		}
		if err := w.watcher.Add(path); err != nil {
			w.logger.Warn("Failed to watch directory", "path", path, "error", err)
		} else {
			w.logger.Debug("Watching directory", "path", path)
		}
		return nil
	})
}

// processEvents collects fsnotify events and flushes them every debounce
// interval.
func (w *Watcher) processEvents(ctx context.Context) {
	defer close(w.events)

	ticker := time.NewTicker(w.config.Debounce)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			w.handleFSEvent(event)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Error("Watcher error", "error", err)

		case <-ticker.C:
			w.flushPending(ctx)
		}
	}
}

func (w *Watcher) handleFSEvent(event fsnotify.Event) {
	path := event.Name

	if event.Has(fsnotify.Create) {
		if info, err := os.Stat(path); err == nil && info.IsDir() {
			w.handleNewDirectory(path)
			return
		}
	}
	if !w.Match(path) || skipPath(w.config.Root, path) {
		return
	}

	w.pendingMu.Lock()
	w.pending[path] |= event.Op
	w.pendingMu.Unlock()

	w.logger.Debug("File change detected", "path", path, "op", event.Op.String())
}

func (w *Watcher) handleNewDirectory(path string) {
	if skipDir(filepath.Base(path)) {
		return
	}
	if err := w.addWatchesRecursive(path); err != nil {
		w.logger.Warn("Failed to watch new directory", "path", path, "error", err)
	}
}

// flushPending reports accumulated changes whose content differs from the
// recorded hash.
func (w *Watcher) flushPending(ctx context.Context) {
	w.pendingMu.Lock()
	if len(w.pending) == 0 {
		w.pendingMu.Unlock()
		return
	}
	toProcess := w.pending
	w.pending = make(map[string]fsnotify.Op)
	w.pendingMu.Unlock()

	for path, op := range toProcess {
		select {
		case <-ctx.Done():
			return
		default:
		}

		data, err := os.ReadFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				w.hashMu.Lock()
				_, had := w.hashes[path]
				delete(w.hashes, path)
				w.hashMu.Unlock()
				if had {
					w.send(Event{Path: path, Operation: OpDelete})
				}
				continue
			}
			w.logger.Warn("Failed to read changed file", "path", path, "error", err)
			continue
		}

		hash := source.ContentHash(data)
		oldHash, hadHash := w.GetHash(path)
		if hadHash && oldHash == hash {
			continue
		}
		w.SetHash(path, hash)

		event := Event{Path: path, Hash: hash, Operation: OpModify}
		if op.Has(fsnotify.Create) || !hadHash {
			event.Operation = OpCreate
		}
		w.send(event)
	}
}

func (w *Watcher) send(event Event) {
	select {
	case w.events <- event:
		w.logger.Debug("Sent watch event", "path", event.Path, "op", event.Operation)
	default:
		w.logger.Warn("Event channel full, dropping event", "path", event.Path)
	}
}
