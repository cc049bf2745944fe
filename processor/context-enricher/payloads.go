package contextenricher

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/c360studio/semstreams/component"
	"github.com/c360studio/semstreams/message"

	"github.com/c360studio/semcontext/pipeline"
	"github.com/c360studio/semcontext/source"
)

func init() {
	err := component.RegisterPayload(&component.PayloadRegistration{
		Domain:      "context",
		Category:    "page",
		Version:     "v1",
		Description: "Page enrichment completion event",
		Factory:     func() any { return &PagePayload{} },
	})
	if err != nil {
		panic("failed to register PagePayload: " + err.Error())
	}
}

// PageType is the message type for page completion events.
var PageType = message.Type{Domain: "context", Category: "page", Version: "v1"}

// pageSubjectPrefix is followed by the page's final status.
const pageSubjectPrefix = "context.page."

// EnrichRequest asks the enricher to process a page. With content the page
// is stored (or replaced when the content changed); without content an
// existing finished page is queued again.
type EnrichRequest struct {
	PageID      string `json:"page_id"`
	URL         string `json:"url,omitempty"`
	Title       string `json:"title,omitempty"`
	ContentType string `json:"content_type,omitempty"`
	Content     string `json:"content,omitempty"`
}

// Validate checks the request for errors.
func (r *EnrichRequest) Validate() error {
	if r.PageID == "" {
		return errors.New("page_id is required")
	}
	return nil
}

// Page converts the request into a page store record.
func (r *EnrichRequest) Page() *source.Page {
	return &source.Page{
		ID:          r.PageID,
		URL:         r.URL,
		Title:       r.Title,
		ContentType: r.ContentType,
		Content:     r.Content,
	}
}

// PagePayload reports the final status of a claimed page.
type PagePayload struct {
	PageID        string            `json:"page_id"`
	URL           string            `json:"url,omitempty"`
	Status        source.PageStatus `json:"status"`
	Reason        string            `json:"reason,omitempty"`
	Windows       int               `json:"windows"`
	FailedWindows int               `json:"failed_windows"`
	Enhanced      int               `json:"enhanced"`
	Rejected      int               `json:"rejected"`
	Entities      int               `json:"entities,omitempty"`
	WorkerID      string            `json:"worker_id,omitempty"`
	CompletedAt   time.Time         `json:"completed_at"`
}

// NewPagePayload builds the completion event for an outcome.
func NewPagePayload(o pipeline.PageOutcome, workerID string, now time.Time) *PagePayload {
	p := &PagePayload{
		PageID:      o.Page.ID,
		URL:         o.Page.URL,
		Status:      o.Status,
		Reason:      o.Reason,
		WorkerID:    workerID,
		CompletedAt: now,
	}
	if res := o.Result; res != nil {
		p.Windows = res.Report.Windows
		p.FailedWindows = res.Report.FailedWindows
		p.Enhanced = res.Report.Enhanced
		p.Rejected = len(res.Report.Rejections)
		if res.GraphReport != nil {
			p.Entities = res.GraphReport.Entities
		}
	}
	return p
}

// Subject returns the subject the payload is published on.
func (p *PagePayload) Subject() string {
	return pageSubjectPrefix + string(p.Status)
}

// Schema returns the message type for Payload interface.
func (p *PagePayload) Schema() message.Type { return PageType }

// Validate validates the payload for Payload interface.
func (p *PagePayload) Validate() error {
	if p.PageID == "" {
		return errors.New("page_id is required")
	}
	if !p.Status.IsTerminal() {
		return errors.New("status must be terminal")
	}
	return nil
}

// MarshalJSON implements json.Marshaler.
func (p *PagePayload) MarshalJSON() ([]byte, error) {
	type Alias PagePayload
	return json.Marshal((*Alias)(p))
}

// UnmarshalJSON implements json.Unmarshaler.
func (p *PagePayload) UnmarshalJSON(data []byte) error {
	type Alias PagePayload
	return json.Unmarshal(data, (*Alias)(p))
}
