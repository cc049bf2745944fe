package rdfexport

import (
	"encoding/json"
	"errors"

	"github.com/c360studio/semstreams/component"
	"github.com/c360studio/semstreams/message"
)

func init() {
	err := component.RegisterPayload(&component.PayloadRegistration{
		Domain:      "rdf",
		Category:    "export",
		Version:     "v1",
		Description: "One entity serialized as RDF",
		Factory:     func() any { return &Payload{} },
	})
	if err != nil {
		panic("failed to register Payload: " + err.Error())
	}
}

// ExportSubject is the subject serialized entities are published on.
const ExportSubject = "graph.export.rdf"

// RDFExportType is the message type for RDF export payloads.
var RDFExportType = message.Type{Domain: "rdf", Category: "export", Version: "v1"}

// Payload carries one entity serialized as RDF.
type Payload struct {
	EntityID   string `json:"entity_id"`
	Kind       string `json:"kind"`
	DocumentID string `json:"document_id,omitempty"`
	Format     string `json:"format"`
	Profile    string `json:"profile"`
	Content    string `json:"content"`
}

// Schema returns the message type for Payload interface.
func (p *Payload) Schema() message.Type { return RDFExportType }

// Validate validates the payload for Payload interface.
func (p *Payload) Validate() error {
	if p.EntityID == "" {
		return errors.New("entity_id is required")
	}
	if p.Format == "" {
		return errors.New("format is required")
	}
	if p.Content == "" {
		return errors.New("content is required")
	}
	return nil
}

// MarshalJSON implements json.Marshaler.
func (p *Payload) MarshalJSON() ([]byte, error) {
	type Alias Payload
	return json.Marshal((*Alias)(p))
}

// UnmarshalJSON implements json.Unmarshaler.
func (p *Payload) UnmarshalJSON(data []byte) error {
	type Alias Payload
	return json.Unmarshal(data, (*Alias)(p))
}
