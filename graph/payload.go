package graph

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/c360studio/semstreams/component"
	"github.com/c360studio/semstreams/message"
)

func init() {
	err := component.RegisterPayload(&component.PayloadRegistration{
		Domain:      "context",
		Category:    "entity",
		Version:     "v1",
		Description: "Extracted entity payload for graph ingestion",
		Factory:     func() any { return &EntityPayload{} },
	})
	if err != nil {
		panic("failed to register EntityPayload: " + err.Error())
	}
}

// EntityType is the message type for extracted entity payloads.
var EntityType = message.Type{Domain: "context", Category: "entity", Version: "v1"}

// EntityPayload carries one extracted entity, or one relationship, as
// triples. It implements message.Payload and graph.Graphable.
type EntityPayload struct {
	EntityID_  string           `json:"id"`
	Kind       string           `json:"kind"`
	DocumentID string           `json:"document_id,omitempty"`
	TripleData []message.Triple `json:"triples"`
	UpdatedAt  time.Time        `json:"updated_at"`
}

// EntityID returns the entity identifier for Graphable interface.
func (e *EntityPayload) EntityID() string { return e.EntityID_ }

// Triples returns the entity triples for Graphable interface.
func (e *EntityPayload) Triples() []message.Triple { return e.TripleData }

// Schema returns the message type for Payload interface.
func (e *EntityPayload) Schema() message.Type { return EntityType }

// Validate validates the payload for Payload interface.
func (e *EntityPayload) Validate() error {
	if e.EntityID_ == "" {
		return errors.New("entity ID is required")
	}
	if len(e.TripleData) == 0 {
		return errors.New("at least one triple is required")
	}
	return nil
}

// MarshalJSON implements json.Marshaler.
func (e *EntityPayload) MarshalJSON() ([]byte, error) {
	type Alias EntityPayload
	return json.Marshal((*Alias)(e))
}

// UnmarshalJSON implements json.Unmarshaler.
func (e *EntityPayload) UnmarshalJSON(data []byte) error {
	type Alias EntityPayload
	return json.Unmarshal(data, (*Alias)(e))
}
