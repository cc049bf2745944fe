package contextenricher

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360studio/semcontext/llm/testutil"
	"github.com/c360studio/semcontext/source"
)

func newTestServer(t *testing.T, c *Component) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	c.RegisterHTTPHandlers("api/context", mux)
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func postJSON(t *testing.T, url string, body any) *http.Response {
	t.Helper()
	data, err := json.Marshal(body)
	require.NoError(t, err)
	resp, err := http.Post(url, "application/json", bytes.NewReader(data))
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}

func TestHTTP_SubmitListShow(t *testing.T) {
	c, _ := newTestComponent(t, &testutil.MockCompleter{Handler: tagging})
	srv := newTestServer(t, c)

	resp := postJSON(t, srv.URL+"/api/context/pages", EnrichRequest{
		URL:     "https://example.com/docs/intro",
		Content: "An introduction page with a paragraph long enough to enrich.\n",
	})
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	queued := decode[QueueResponse](t, resp)
	assert.Equal(t, "page.web.example-com-docs-intro", queued.ID)
	assert.Equal(t, string(source.StatusPending), queued.Status)

	// Content without a URL gets a content-derived id.
	resp = postJSON(t, srv.URL+"/api/context/pages", EnrichRequest{Content: "Loose text.\n"})
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	assert.True(t, strings.HasPrefix(decode[QueueResponse](t, resp).ID, "doc.page."))

	list, err := http.Get(srv.URL + "/api/context/pages?status=pending&limit=10")
	require.NoError(t, err)
	defer list.Body.Close()
	require.Equal(t, http.StatusOK, list.StatusCode)
	pages := decode[[]source.Page](t, list)
	require.Len(t, pages, 2)
	assert.Empty(t, pages[0].Content, "listings omit bodies")

	show, err := http.Get(srv.URL + "/api/context/pages/" + queued.ID)
	require.NoError(t, err)
	defer show.Body.Close()
	require.Equal(t, http.StatusOK, show.StatusCode)
	page := decode[source.Page](t, show)
	assert.Equal(t, "https://example.com/docs/intro", page.URL)
	assert.NotEmpty(t, page.Content)

	stats, err := http.Get(srv.URL + "/api/context/stats")
	require.NoError(t, err)
	defer stats.Body.Close()
	got := decode[StatsResponse](t, stats)
	assert.Equal(t, 2, got.Total)
	assert.Equal(t, 2, got.Pages[source.StatusPending])
}

func TestHTTP_Requeue(t *testing.T) {
	c, _ := newTestComponent(t, &testutil.MockCompleter{Handler: tagging})
	srv := newTestServer(t, c)
	ctx := context.Background()

	_, err := c.store.AddPage(ctx, &source.Page{ID: "p1", Content: "Some content for the requeue test page.\n"})
	require.NoError(t, err)
	require.NoError(t, c.store.MarkPageFailed(ctx, "p1", source.StatusFailed, "boom"))

	resp := postJSON(t, srv.URL+"/api/context/pages/p1/requeue", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, string(source.StatusPending), decode[QueueResponse](t, resp).Status)

	resp = postJSON(t, srv.URL+"/api/context/pages/missing/requeue", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, "not_found", decode[ErrorResponse](t, resp).Error)
}

func TestHTTP_Errors(t *testing.T) {
	c, _ := newTestComponent(t, &testutil.MockCompleter{Handler: tagging})
	srv := newTestServer(t, c)

	tests := []struct {
		name   string
		method string
		path   string
		body   string
		want   int
	}{
		{name: "invalid JSON", method: http.MethodPost, path: "/api/context/pages", body: "{nope", want: http.StatusBadRequest},
		{name: "missing content", method: http.MethodPost, path: "/api/context/pages", body: `{"page_id":"x"}`, want: http.StatusBadRequest},
		{name: "unknown status", method: http.MethodGet, path: "/api/context/pages?status=done", want: http.StatusBadRequest},
		{name: "bad limit", method: http.MethodGet, path: "/api/context/pages?limit=-1", want: http.StatusBadRequest},
		{name: "unknown page", method: http.MethodGet, path: "/api/context/pages/nope", want: http.StatusNotFound},
		{name: "delete not allowed", method: http.MethodDelete, path: "/api/context/pages", want: http.StatusMethodNotAllowed},
		{name: "stats post", method: http.MethodPost, path: "/api/context/stats", want: http.StatusMethodNotAllowed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, err := http.NewRequest(tt.method, srv.URL+tt.path, strings.NewReader(tt.body))
			require.NoError(t, err)
			resp, err := http.DefaultClient.Do(req)
			require.NoError(t, err)
			defer resp.Body.Close()
			assert.Equal(t, tt.want, resp.StatusCode)
		})
	}
}

func TestHTTP_NotRunning(t *testing.T) {
	c := &Component{config: DefaultConfig()}
	srv := newTestServer(t, c)

	resp, err := http.Get(srv.URL + "/api/context/stats")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}
