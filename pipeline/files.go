package pipeline

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"

	"github.com/spf13/afero"
	"golang.org/x/sync/errgroup"

	"github.com/c360studio/semcontext/enhance"
	"github.com/c360studio/semcontext/llm"
	"github.com/c360studio/semcontext/progress"
	"github.com/c360studio/semcontext/source"
)

// FileResult is the outcome of one markdown file.
type FileResult struct {
	Path       string         `json:"path"`
	DocumentID string         `json:"document_id"`
	Report     enhance.Report `json:"report"`
	Written    bool           `json:"written"`
	// Hash is the content hash of the file after processing.
	Hash  string `json:"hash,omitempty"`
	Error string `json:"error,omitempty"`
}

// FileProcessor rewrites markdown files in place with enhanced content.
// Frontmatter is preserved byte for byte; a file is only written when at
// least one block was enhanced, and the write replaces the file atomically.
type FileProcessor struct {
	driver      *Driver
	fs          afero.Fs
	beforeWrite func(path, hash string)
}

// NewFileProcessor creates a file processor. A nil fs uses the OS filesystem.
func NewFileProcessor(d *Driver, fs afero.Fs) *FileProcessor {
	if fs == nil {
		fs = afero.NewOsFs()
	}
	return &FileProcessor{driver: d, fs: fs}
}

// OnBeforeWrite registers fn to receive the path and new content hash of
// every file just before it is rewritten. Watchers use it to recognize
// their own writes.
func (p *FileProcessor) OnBeforeWrite(fn func(path, hash string)) *FileProcessor {
	p.beforeWrite = fn
	return p
}

// ProcessFiles enhances every path with bounded document concurrency.
// Per-file failures are recorded on the result; a configuration error
// aborts the run.
func (p *FileProcessor) ProcessFiles(ctx context.Context, paths []string) ([]FileResult, error) {
	d := p.driver
	results := make([]FileResult, len(paths))
	docs := make([]*source.Document, len(paths))
	known := make([]progress.Document, 0, len(paths))

	for i, path := range paths {
		results[i].Path = path
		content, err := afero.ReadFile(p.fs, path)
		if err != nil {
			results[i].Error = fmt.Sprintf("read: %v", err)
			continue
		}
		doc := source.ParseMarkdown(source.GenerateID(path, content), string(content))
		if _, ok := doc.Metadata["title"]; !ok {
			doc.Metadata["source"] = filepath.Base(path)
		}
		docs[i] = doc
		results[i].DocumentID = doc.ID
		results[i].Hash = source.ContentHash(content)
		known = append(known, d.ProgressDocument(doc))
	}
	if d.progress != nil {
		d.progress.Initialize(known)
	}

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(d.docConcurrency)
	for i := range paths {
		if docs[i] == nil {
			continue
		}
		g.Go(func() error {
			res, err := p.processFile(gctx, paths[i], docs[i])
			mu.Lock()
			defer mu.Unlock()
			if res != nil {
				results[i].Report = res.Report
				results[i].Written = res.Written
				if res.Hash != "" {
					results[i].Hash = res.Hash
				}
			}
			if err != nil {
				results[i].Error = err.Error()
				if llm.IsConfigError(err) {
					return err
				}
			}
			return nil
		})
	}
	return results, g.Wait()
}

// ProcessFile enhances a single file.
func (p *FileProcessor) ProcessFile(ctx context.Context, path string) (FileResult, error) {
	results, err := p.ProcessFiles(ctx, []string{path})
	if err != nil {
		return results[0], err
	}
	return results[0], nil
}

func (p *FileProcessor) processFile(ctx context.Context, path string, doc *source.Document) (*FileResult, error) {
	res, err := p.driver.EnhanceDocument(ctx, doc)
	if err != nil {
		return nil, err
	}

	out := &FileResult{Report: res.Report}
	if !res.Changed() {
		return out, nil
	}

	rendered := []byte(source.Render(res.Document))
	hash := source.ContentHash(rendered)
	if p.beforeWrite != nil {
		p.beforeWrite(path, hash)
	}
	if err := writeAtomic(p.fs, path, rendered); err != nil {
		return out, fmt.Errorf("write %s: %w", path, err)
	}
	out.Written = true
	out.Hash = hash
	return out, nil
}

// writeAtomic writes data to a temp file in the target's directory and
// renames it over the target, keeping the target's permissions.
func writeAtomic(fs afero.Fs, path string, data []byte) error {
	info, err := fs.Stat(path)
	if err != nil {
		return err
	}

	tmp, err := afero.TempFile(fs, filepath.Dir(path), "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	cleanup := func() { _ = fs.Remove(tmpName) }

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		cleanup()
		return err
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		cleanup()
		return err
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return err
	}
	if err := fs.Chmod(tmpName, info.Mode().Perm()); err != nil {
		cleanup()
		return err
	}
	if err := fs.Rename(tmpName, path); err != nil {
		cleanup()
		return err
	}
	return nil
}
