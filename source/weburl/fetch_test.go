package weburl

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360studio/semcontext/source"
)

func newTestFetcher(srv *httptest.Server, maxSize int64) *Fetcher {
	return NewFetcher(FetcherConfig{
		Transport:      srv.Client().Transport,
		MaxContentSize: maxSize,
	})
}

func TestFetchPage(t *testing.T) {
	srv := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/article":
			assert.Equal(t, DefaultUserAgent, r.Header.Get("User-Agent"))
			w.Header().Set("Content-Type", "text/html; charset=utf-8")
			_, _ = w.Write([]byte("<html><head><title>Article</title></head><body><p>Hello.</p></body></html>"))
		case "/moved":
			http.Redirect(w, r, "/article", http.StatusFound)
		case "/loop":
			http.Redirect(w, r, "/loop", http.StatusFound)
		case "/big":
			_, _ = w.Write([]byte(strings.Repeat("x", 2048)))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()
	f := newTestFetcher(srv, 1024)
	ctx := context.Background()

	page, err := f.FetchPage(ctx, srv.URL+"/article")
	require.NoError(t, err)
	assert.Equal(t, srv.URL+"/article", page.URL)
	assert.Equal(t, "text/html; charset=utf-8", page.ContentType)
	assert.Contains(t, page.Content, "<p>Hello.</p>")
	assert.Equal(t, source.StatusPending, page.Status)
	assert.True(t, strings.HasPrefix(page.ID, PageIDPrefix))

	moved, err := f.FetchPage(ctx, srv.URL+"/moved")
	require.NoError(t, err)
	assert.Equal(t, srv.URL+"/moved", moved.URL, "the page keeps the requested URL")
	assert.Equal(t, page.Content, moved.Content)

	_, err = f.FetchPage(ctx, srv.URL+"/loop")
	assert.ErrorContains(t, err, "too many redirects")

	_, err = f.FetchPage(ctx, srv.URL+"/big")
	assert.ErrorIs(t, err, ErrContentTooLarge)

	_, err = f.FetchPage(ctx, srv.URL+"/missing")
	assert.ErrorContains(t, err, "HTTP 404")
}

func TestFetchPage_RejectsUnsafeURLs(t *testing.T) {
	f := NewFetcher(FetcherConfig{})
	ctx := context.Background()

	_, err := f.FetchPage(ctx, "http://example.com/")
	assert.ErrorContains(t, err, "HTTPS")

	_, err = f.FetchPage(ctx, "https://127.0.0.1/")
	assert.Error(t, err)
}
