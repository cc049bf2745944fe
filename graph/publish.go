// Package graph extracts entities from document windows, merges them into
// one deduplicated graph per document and publishes the result as triples.
package graph

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/c360studio/semstreams/message"

	"github.com/c360studio/semcontext/source"
)

// GraphIngestSubject is the subject graph ingestion consumes.
const GraphIngestSubject = "graph.ingest.entity"

// StreamPublisher publishes to a JetStream subject. *natsclient.Client
// satisfies it.
type StreamPublisher interface {
	PublishToStream(ctx context.Context, subject string, data []byte) error
}

// Publish sends the document node followed by every entity and
// relationship of g to the graph ingest subject. A nil publisher skips
// publishing. Returns the number of payloads published; failures are
// joined so one bad entity does not stop the rest.
func Publish(ctx context.Context, pub StreamPublisher, doc *source.Document, g *Graph) (int, error) {
	if pub == nil || g == nil || doc == nil {
		return 0, nil
	}

	now := time.Now()
	payloads := append([]*EntityPayload{DocumentPayload(doc, now)}, Payloads(g, doc.ID, now)...)

	var errs []error
	sent := 0
	for _, p := range payloads {
		if err := p.Validate(); err != nil {
			errs = append(errs, fmt.Errorf("entity %s: %w", p.EntityID_, err))
			continue
		}
		data, err := json.Marshal(message.NewBaseMessage(EntityType, p, "semcontext"))
		if err != nil {
			errs = append(errs, fmt.Errorf("marshal entity %s: %w", p.EntityID_, err))
			continue
		}
		if err := pub.PublishToStream(ctx, GraphIngestSubject, data); err != nil {
			if ctx.Err() != nil {
				return sent, ctx.Err()
			}
			errs = append(errs, fmt.Errorf("publish entity %s: %w", p.EntityID_, err))
			continue
		}
		sent++
	}
	return sent, errors.Join(errs...)
}
