package contextenricher

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/c360studio/semcontext/progress"
	"github.com/c360studio/semcontext/source"
	"github.com/c360studio/semcontext/source/weburl"
	"github.com/c360studio/semcontext/storage"
)

// maxRequestBodySize limits page submissions.
const maxRequestBodySize = 32 << 20

// QueueResponse is the JSON response for page submissions and requeues.
type QueueResponse struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

// StatsResponse is the JSON response for GET <prefix>/stats.
type StatsResponse struct {
	Pages    map[source.PageStatus]int `json:"pages"`
	Total    int                       `json:"total"`
	Progress progress.Stats            `json:"progress"`
}

// ErrorResponse is a standard error response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// RegisterHTTPHandlers registers the page queue handlers under prefix:
//
//	POST <prefix>/pages              submit a page (JSON EnrichRequest)
//	GET  <prefix>/pages              list pages (?status=&limit=)
//	GET  <prefix>/pages/{id}         show one page
//	POST <prefix>/pages/{id}/requeue queue a finished page again
//	GET  <prefix>/stats              page counts and progress
func (c *Component) RegisterHTTPHandlers(prefix string, mux *http.ServeMux) {
	if !strings.HasPrefix(prefix, "/") {
		prefix = "/" + prefix
	}
	if !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}

	mux.HandleFunc(prefix+"pages", c.handlePages)
	mux.HandleFunc(prefix+"pages/", func(w http.ResponseWriter, r *http.Request) {
		c.handlePageWithID(w, r, strings.TrimPrefix(r.URL.Path, prefix+"pages/"))
	})
	mux.HandleFunc(prefix+"stats", c.handleStats)
}

func (c *Component) handlePages(w http.ResponseWriter, r *http.Request) {
	if c.store == nil {
		writeJSONError(w, http.StatusServiceUnavailable, "not_running", "Enricher is not running")
		return
	}
	switch r.Method {
	case http.MethodPost:
		c.handleSubmit(w, r)
	case http.MethodGet:
		c.handleList(w, r)
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

func (c *Component) handleSubmit(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
	var req EnrichRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "parse_error", "Invalid JSON body: "+err.Error())
		return
	}
	if req.Content == "" {
		writeJSONError(w, http.StatusBadRequest, "content_required", "content is required")
		return
	}
	if req.PageID == "" {
		if req.URL != "" {
			req.PageID = weburl.PageID(req.URL)
		} else {
			req.PageID = source.GenerateID("page.md", []byte(req.Content))
		}
	}

	if err := c.handleRequest(r.Context(), req); err != nil {
		writeRequestError(w, err)
		return
	}
	p, err := c.store.GetPage(r.Context(), req.PageID)
	if err != nil {
		writeRequestError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, QueueResponse{ID: p.ID, Status: string(p.Status)})
}

func (c *Component) handleList(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	status := source.PageStatus(q.Get("status"))
	if status != "" && !status.IsValid() {
		writeJSONError(w, http.StatusBadRequest, "invalid_status", "Unknown status "+string(status))
		return
	}
	limit := 100
	if s := q.Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n <= 0 {
			writeJSONError(w, http.StatusBadRequest, "invalid_limit", "limit must be a positive integer")
			return
		}
		limit = n
	}

	pages, err := c.store.ListPages(r.Context(), status, limit)
	if err != nil {
		writeRequestError(w, err)
		return
	}
	// Listings omit bodies.
	for _, p := range pages {
		p.Content, p.Contexted = "", ""
	}
	if pages == nil {
		pages = []*source.Page{}
	}
	writeJSON(w, http.StatusOK, pages)
}

func (c *Component) handlePageWithID(w http.ResponseWriter, r *http.Request, rest string) {
	if c.store == nil {
		writeJSONError(w, http.StatusServiceUnavailable, "not_running", "Enricher is not running")
		return
	}
	id, sub, _ := strings.Cut(rest, "/")
	if id == "" {
		http.Error(w, "Page ID required", http.StatusBadRequest)
		return
	}

	switch {
	case sub == "requeue" && r.Method == http.MethodPost:
		if err := c.handleRequest(r.Context(), EnrichRequest{PageID: id}); err != nil {
			writeRequestError(w, err)
			return
		}
		p, err := c.store.GetPage(r.Context(), id)
		if err != nil {
			writeRequestError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, QueueResponse{ID: id, Status: string(p.Status)})
	case sub == "" && r.Method == http.MethodGet:
		p, err := c.store.GetPage(r.Context(), id)
		if err != nil {
			writeRequestError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, p)
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

func (c *Component) handleStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if c.store == nil {
		writeJSONError(w, http.StatusServiceUnavailable, "not_running", "Enricher is not running")
		return
	}
	stats, err := c.store.Stats(r.Context())
	if err != nil {
		writeRequestError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, StatsResponse{
		Pages:    stats.ByStatus,
		Total:    stats.Total,
		Progress: c.Stats(),
	})
}

func writeRequestError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, storage.ErrNotFound):
		writeJSONError(w, http.StatusNotFound, "not_found", err.Error())
	case errors.Is(err, errInvalidRequest):
		writeJSONError(w, http.StatusBadRequest, "invalid_request", err.Error())
	default:
		writeJSONError(w, http.StatusInternalServerError, "store_error", err.Error())
	}
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeJSONError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, ErrorResponse{Error: code, Message: message})
}
