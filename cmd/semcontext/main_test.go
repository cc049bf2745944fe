package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360studio/semcontext/config"
	"github.com/c360studio/semcontext/export"
	"github.com/c360studio/semcontext/llm"
	"github.com/c360studio/semcontext/llm/testutil"
	"github.com/c360studio/semcontext/pipeline"
	contextenricher "github.com/c360studio/semcontext/processor/context-enricher"
	"github.com/c360studio/semcontext/source"
	"github.com/c360studio/semcontext/watch"
)

const paragraph = "The lighthouse keeper climbs the stairs every evening before dusk."

// tagging appends a context tag to every block it is sent.
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

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.Storage.Path = filepath.Join(t.TempDir(), "pages.db")
	cfg.Pipeline.WorkerID = "test-worker"
	return cfg
}

func newTestEngine(t *testing.T, cfg *config.Config, mock *testutil.MockCompleter, pages bool) *engine {
	t.Helper()
	e, err := newEngine(context.Background(), cfg, slog.New(slog.NewTextHandler(io.Discard, nil)), engineOptions{
		pages:     pages,
		completer: mock,
	})
	require.NoError(t, err)
	t.Cleanup(func() { e.Close(context.Background()) })
	return e
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
}

// execute runs the root command with args against a config file pointing at
// a temporary page store.
func execute(t *testing.T, configPath string, args ...string) (string, error) {
	t.Helper()
	t.Setenv("HOME", t.TempDir())
	cmd := rootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(io.Discard)
	cmd.SetArgs(append([]string{"--config", configPath, "--log-level", "error"}, args...))
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestRootCmd_Subcommands(t *testing.T) {
	cmd := rootCmd()
	var names []string
	for _, c := range cmd.Commands() {
		names = append(names, c.Name())
	}
	for _, want := range []string{"run", "files", "watch", "pages", "entities", "serve", "mcp", "version"} {
		assert.Contains(t, names, want)
	}
	assert.NotNil(t, cmd.PersistentFlags().Lookup("config"))
	assert.NotNil(t, cmd.PersistentFlags().Lookup("log-level"))
}

func TestVersionCmd(t *testing.T) {
	cmd := rootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"version"})
	require.NoError(t, cmd.Execute())
	assert.Equal(t, "semcontext version 0.1.0 (build: dev)\n", out.String())
}

func TestExpandGlobs(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "a.md"), "a")
	writeFile(t, filepath.Join(dir, "docs", "deep", "b.md"), "b")
	writeFile(t, filepath.Join(dir, "c.txt"), "c")
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "dir.md"), 0755))

	paths, err := expandGlobs([]string{filepath.Join(dir, "**", "*.md"), filepath.Join(dir, "a.md")})
	require.NoError(t, err)
	assert.Equal(t, []string{
		filepath.Join(dir, "a.md"),
		filepath.Join(dir, "docs", "deep", "b.md"),
	}, paths)

	_, err = expandGlobs([]string{"["})
	assert.Error(t, err)
}

func TestProcessFiles(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "note.md")
	writeFile(t, path, "# Note\n\n"+paragraph+"\n")
	e := newTestEngine(t, testConfig(t), &testutil.MockCompleter{Handler: tagging}, false)

	var out bytes.Buffer
	require.NoError(t, processFiles(context.Background(), e, afero.NewOsFs(), []string{path}, &out))
	assert.Contains(t, out.String(), "WRITTEN")
	assert.Contains(t, out.String(), path)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "# Note\n\n"+paragraph+" [[block_1]]\n", string(data))
	assert.Equal(t, 1, e.progress.Stats().TotalCompleted)
}

func TestProcessFiles_DryRunLeavesDisk(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "note.md")
	original := "# Note\n\n" + paragraph + "\n"
	writeFile(t, path, original)
	e := newTestEngine(t, testConfig(t), &testutil.MockCompleter{Handler: tagging}, false)

	var out bytes.Buffer
	require.NoError(t, processFiles(context.Background(), e, filesystem(true), []string{path}, &out))
	assert.Contains(t, out.String(), "true")

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, original, string(data))
}

func TestProcessFiles_ReportsFailures(t *testing.T) {
	dir := t.TempDir()
	e := newTestEngine(t, testConfig(t), &testutil.MockCompleter{Handler: tagging}, false)

	err := processFiles(context.Background(), e, afero.NewOsFs(), []string{filepath.Join(dir, "missing.md")}, io.Discard)
	assert.ErrorContains(t, err, "1 of 1 files failed")
}

func TestRunPages(t *testing.T) {
	cfg := testConfig(t)
	e := newTestEngine(t, cfg, &testutil.MockCompleter{Handler: tagging}, true)
	ctx := context.Background()
	_, err := e.store.AddPage(ctx, &source.Page{ID: "p1", Content: paragraph + "\n"})
	require.NoError(t, err)

	var out bytes.Buffer
	require.NoError(t, runPages(ctx, e, &out, false))

	var summary pipeline.PageSummary
	require.NoError(t, json.Unmarshal(out.Bytes(), &summary))
	assert.Equal(t, 1, summary.Claimed)
	assert.Equal(t, 1, summary.Contexted)

	p, err := e.store.GetPage(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, source.StatusContexted, p.Status)
}

func TestRunPages_FollowStopsOnCancel(t *testing.T) {
	cfg := testConfig(t)
	cfg.Pipeline.PollInterval = 10 * time.Millisecond
	e := newTestEngine(t, cfg, &testutil.MockCompleter{Handler: tagging}, true)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- runPages(ctx, e, io.Discard, true) }()

	_, err := e.store.AddPage(context.Background(), &source.Page{ID: "late", Content: paragraph + "\n"})
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		p, err := e.store.GetPage(context.Background(), "late")
		return err == nil && p.Status == source.StatusContexted
	}, 5*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("follow loop did not stop")
	}
}

func TestExtractFile(t *testing.T) {
	mock := &testutil.MockCompleter{Handler: func(req llm.Request) (*llm.Response, error) {
		return &llm.Response{Object: map[string]any{
			"people": []any{map[string]any{"name": "Ada"}},
		}}, nil
	}}
	e := newTestEngine(t, testConfig(t), mock, false)

	var out bytes.Buffer
	require.NoError(t, extractFile(context.Background(), e, "keeper.md", []byte(paragraph+"\n"), graphOutput{}, &out))

	var got struct {
		ID    string `json:"id"`
		Graph struct {
			People []struct {
				Name string `json:"name"`
			} `json:"people"`
		} `json:"graph"`
	}
	require.NoError(t, json.Unmarshal(out.Bytes(), &got))
	assert.True(t, strings.HasPrefix(got.ID, "doc.keeper."))
	require.Len(t, got.Graph.People, 1)
	assert.Equal(t, "Ada", got.Graph.People[0].Name)
}

func TestExtractFile_Turtle(t *testing.T) {
	mock := &testutil.MockCompleter{Handler: func(req llm.Request) (*llm.Response, error) {
		return &llm.Response{Object: map[string]any{
			"people": []any{map[string]any{"name": "Ada"}},
		}}, nil
	}}
	e := newTestEngine(t, testConfig(t), mock, false)

	output, err := parseGraphOutput("ttl", "cco")
	require.NoError(t, err)
	var out bytes.Buffer
	require.NoError(t, extractFile(context.Background(), e, "keeper.md", []byte(paragraph+"\n"), output, &out))

	assert.Contains(t, out.String(), "@prefix schema: <https://schema.org/> .")
	assert.Contains(t, out.String(), "<https://semcontext.dev/graph/entity/person/ada>\n    a schema:Person ;")
	assert.Contains(t, out.String(), "\"keeper.md\"", "the file path is the document source")
}

func TestParseGraphOutput(t *testing.T) {
	o, err := parseGraphOutput("json", "")
	require.NoError(t, err)
	assert.Empty(t, o.rdf)

	o, err = parseGraphOutput("jsonld", "bfo")
	require.NoError(t, err)
	assert.Equal(t, graphOutput{rdf: export.FormatJSONLD, profile: export.ProfileBFO}, o)

	_, err = parseGraphOutput("xml", "minimal")
	assert.Error(t, err)
	_, err = parseGraphOutput("turtle", "owl")
	assert.Error(t, err)
}

func TestWatchFiles(t *testing.T) {
	dir := t.TempDir()
	mock := &testutil.MockCompleter{Handler: tagging}
	e := newTestEngine(t, testConfig(t), mock, false)
	w, err := watch.New(watch.Config{Root: dir, Debounce: 20 * time.Millisecond, Logger: e.logger})
	require.NoError(t, err)
	defer w.Close()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- watchFiles(ctx, e, w, afero.NewOsFs(), false) }()
	// Let the watcher register the root before writing.
	time.Sleep(100 * time.Millisecond)

	path := filepath.Join(dir, "log.md")
	writeFile(t, path, paragraph+"\n")
	require.Eventually(t, func() bool {
		data, err := os.ReadFile(path)
		return err == nil && strings.Contains(string(data), "[[block_0]]")
	}, 5*time.Second, 20*time.Millisecond)

	// The enhancer's own rewrite is not processed again.
	time.Sleep(200 * time.Millisecond)
	assert.Equal(t, 1, mock.CallCount())

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("watch loop did not stop")
	}
}

func TestWatchFiles_InitialPass(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "existing.md")
	writeFile(t, path, paragraph+"\n")
	e := newTestEngine(t, testConfig(t), &testutil.MockCompleter{Handler: tagging}, false)
	w, err := watch.New(watch.Config{Root: dir, Debounce: 20 * time.Millisecond, Logger: e.logger})
	require.NoError(t, err)
	defer w.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.NoError(t, watchFiles(ctx, e, w, afero.NewOsFs(), true))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "[[block_0]]")
	hash, ok := w.GetHash(path)
	require.True(t, ok)
	assert.Equal(t, source.ContentHash(data), hash)
}

func TestPagesCommands(t *testing.T) {
	dir := t.TempDir()
	configPath := filepath.Join(dir, "semcontext.yaml")
	writeFile(t, configPath, "storage:\n  path: "+filepath.Join(dir, "pages.db")+"\n")
	page := filepath.Join(dir, "page.html")
	writeFile(t, page, "<html><body><p>"+paragraph+"</p></body></html>")

	out, err := execute(t, configPath, "pages", "add", "--url", "https://example.com/keeper", page)
	require.NoError(t, err)
	assert.Equal(t, "queued\tpage.web.example-com-keeper\n", out)

	out, err = execute(t, configPath, "pages", "add", "--url", "https://example.com/keeper", page)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(out, "unchanged"))

	out, err = execute(t, configPath, "pages", "stats")
	require.NoError(t, err)
	assert.Contains(t, out, "pending")
	assert.Contains(t, out, "total")

	out, err = execute(t, configPath, "pages", "list", "--status", "pending")
	require.NoError(t, err)
	assert.Contains(t, out, "page.web.example-com-keeper")

	out, err = execute(t, configPath, "pages", "show", "--original", "page.web.example-com-keeper")
	require.NoError(t, err)
	assert.Contains(t, out, "<p>"+paragraph)

	_, err = execute(t, configPath, "pages", "show", "page.web.example-com-keeper")
	assert.ErrorContains(t, err, "not contexted")

	out, err = execute(t, configPath, "pages", "reset")
	require.NoError(t, err)
	assert.Equal(t, "reset 0 pages\n", out)

	_, err = execute(t, configPath, "pages", "list", "--status", "bogus")
	assert.Error(t, err)
}

func TestFilePage(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "Guide.md")
	writeFile(t, path, "first")

	p1, err := filePage(path, "", "")
	require.NoError(t, err)
	assert.Equal(t, "text/markdown", p1.ContentType)

	writeFile(t, path, "second")
	p2, err := filePage(path, "", "")
	require.NoError(t, err)
	assert.Equal(t, p1.ID, p2.ID, "the id does not depend on content")
	assert.Equal(t, "second", p2.Content)

	rst := filepath.Join(dir, "guide.rst")
	writeFile(t, rst, "Guide\n=====\n")
	p3, err := filePage(rst, "https://example.com/guide", "")
	require.NoError(t, err)
	assert.Equal(t, "text/x-rst", p3.ContentType)
	assert.Equal(t, "page.web.example-com-guide", p3.ID)

	pdf := filepath.Join(dir, "broken.pdf")
	writeFile(t, pdf, "not a pdf")
	_, err = filePage(pdf, "", "")
	assert.Error(t, err)
}

func TestEnricherConfig(t *testing.T) {
	cfg := testConfig(t)
	cfg.Pipeline.DocumentTimeout = 90 * time.Second
	cfg.Window.ContextWords = 120

	raw, err := enricherConfig(cfg)
	require.NoError(t, err)

	var got contextenricher.Config
	require.NoError(t, json.Unmarshal(raw, &got))
	require.NoError(t, got.Validate())
	assert.Equal(t, cfg.Storage.Path, got.DBPath)
	assert.Equal(t, "test-worker", got.WorkerID)
	assert.Equal(t, 90*time.Second, got.GetDocumentTimeout())
	assert.Equal(t, 120, got.WindowConfig().ContextWords)
	assert.NotNil(t, got.Ports)
}

func TestStreamsConfig(t *testing.T) {
	cfg := streamsConfig(false, false)
	require.Contains(t, cfg.Streams, contextStream)
	assert.Equal(t, []string{"context.enrich.>", "context.page.>"}, cfg.Streams[contextStream].Subjects)
	assert.NotContains(t, cfg.Streams, "GRAPH")

	assert.Contains(t, streamsConfig(true, false).Streams, "GRAPH")
	assert.Equal(t, []string{"graph.ingest.entity", "graph.export.rdf"}, streamsConfig(true, true).Streams["GRAPH"].Subjects)
}

func TestProgressLogger(t *testing.T) {
	var buf bytes.Buffer
	p := newProgressLogger(slog.New(slog.NewTextHandler(&buf, nil)))
	for i := 0; i <= 20; i++ {
		p.report(i, 20)
	}
	p.report(0, 0)
	assert.Equal(t, 10, strings.Count(buf.String(), "msg=Progress"))
}
