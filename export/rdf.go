// Package export serializes extracted entity graphs as RDF. Predicates
// are translated to the standard IRIs registered in the vocabulary, and
// every entity is typed according to an ontology profile.
package export

import (
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/c360studio/semstreams/message"
	"github.com/c360studio/semstreams/vocabulary"

	"github.com/c360studio/semcontext/graph"
	"github.com/c360studio/semcontext/source"
	"github.com/c360studio/semcontext/vocabulary/entity"
)

// GraphNamespace is the base IRI of exported entities.
const GraphNamespace = "https://semcontext.dev/graph/"

// rdfType is the IRI of rdf:type.
const rdfType = "http://www.w3.org/1999/02/22-rdf-syntax-ns#type"

// Format specifies the output serialization format.
type Format string

const (
	// FormatTurtle produces Turtle (.ttl) output.
	FormatTurtle Format = "turtle"

	// FormatNTriples produces N-Triples (.nt) output.
	FormatNTriples Format = "ntriples"

	// FormatJSONLD produces JSON-LD (.jsonld) output.
	FormatJSONLD Format = "jsonld"
)

// Exporter collects entity payloads and serializes them as RDF.
type Exporter struct {
	profile  Profile
	entities []*graph.EntityPayload
	prefixes map[string]string
}

// NewExporter creates an exporter for the given profile.
func NewExporter(profile Profile) *Exporter {
	return &Exporter{
		profile:  profile,
		prefixes: defaultPrefixes(),
	}
}

// defaultPrefixes returns the namespace prefixes used in Turtle and JSON-LD.
func defaultPrefixes() map[string]string {
	return map[string]string{
		"rdf":    "http://www.w3.org/1999/02/22-rdf-syntax-ns#",
		"rdfs":   "http://www.w3.org/2000/01/rdf-schema#",
		"xsd":    "http://www.w3.org/2001/XMLSchema#",
		"dc":     "http://purl.org/dc/terms/",
		"skos":   "http://www.w3.org/2004/02/skos/core#",
		"prov":   "http://www.w3.org/ns/prov#",
		"schema": "https://schema.org/",
		"time":   "http://www.w3.org/2006/time#",
		"bfo":    "http://purl.obolibrary.org/obo/",
		"cco":    "http://www.ontologyrepository.com/CommonCoreOntologies/",
		"ent":    entity.Namespace,
		"g":      GraphNamespace,
	}
}

// Add adds payloads to the export. Payloads without an ID are ignored.
func (e *Exporter) Add(payloads ...*graph.EntityPayload) {
	for _, p := range payloads {
		if p != nil && p.EntityID_ != "" {
			e.entities = append(e.entities, p)
		}
	}
}

// AddGraph adds the document node and every entity and relationship of g.
func (e *Exporter) AddGraph(doc *source.Document, g *graph.Graph, now time.Time) {
	var docID string
	if doc != nil {
		docID = doc.ID
		e.Add(graph.DocumentPayload(doc, now))
	}
	if g != nil {
		e.Add(graph.Payloads(g, docID, now)...)
	}
}

// Len returns the number of collected payloads.
func (e *Exporter) Len() int {
	return len(e.entities)
}

// Export serializes all entities to the specified format.
func (e *Exporter) Export(format Format) (string, error) {
	switch format {
	case FormatTurtle:
		return e.toTurtle(), nil
	case FormatNTriples:
		return e.toNTriples(), nil
	case FormatJSONLD:
		return e.toJSONLD()
	default:
		return "", fmt.Errorf("unsupported format: %s", format)
	}
}

// node is one RDF subject with its types and statements.
type node struct {
	iri     string
	types   []string
	triples []message.Triple
}

// nodes groups the statements of all payloads by subject, in order of
// first appearance. A payload's types attach to its own subject.
func (e *Exporter) nodes() []*node {
	var out []*node
	index := make(map[string]*node)
	get := func(iri string) *node {
		n, ok := index[iri]
		if !ok {
			n = &node{iri: iri}
			index[iri] = n
			out = append(out, n)
		}
		return n
	}

	for _, p := range e.entities {
		n := get(EntityIRI(p.EntityID_))
		for _, t := range TypeIRIs(p.Kind, e.profile) {
			if !slices.Contains(n.types, t) {
				n.types = append(n.types, t)
			}
		}
		for _, t := range p.Triples() {
			subject := n
			if t.Subject != "" && t.Subject != p.EntityID_ {
				subject = get(EntityIRI(t.Subject))
			}
			subject.triples = append(subject.triples, t)
		}
	}
	return out
}

func (e *Exporter) toTurtle() string {
	w := NewTurtleWriter()
	for k, v := range e.prefixes {
		w.SetPrefix(k, v)
	}
	w.WritePrefixes()

	for _, n := range e.nodes() {
		w.WriteSubject(n.iri)
		for i, t := range n.types {
			w.WriteType(t, i == len(n.types)-1 && len(n.triples) == 0)
		}
		for i, t := range n.triples {
			w.WritePredicate(PredicateIRI(t.Predicate), objectTerm(t), i == len(n.triples)-1)
		}
		w.WriteBlank()
	}
	return w.String()
}

func (e *Exporter) toNTriples() string {
	w := NewNTriplesWriter()
	for _, n := range e.nodes() {
		for _, t := range n.types {
			w.WriteTypeTriple(n.iri, t)
		}
		for _, t := range n.triples {
			w.WriteTriple(n.iri, PredicateIRI(t.Predicate), objectTerm(t))
		}
	}
	return w.String()
}

func (e *Exporter) toJSONLD() (string, error) {
	w := NewJSONLDWriter()
	w.SetContext(e.prefixes)
	for _, n := range e.nodes() {
		props := make(map[string]any)
		for _, t := range n.triples {
			addProperty(props, PredicateIRI(t.Predicate), objectTerm(t).jsonld())
		}
		w.AddNode(n.iri, n.types, props)
	}
	return w.Encode()
}

// addProperty sets key, collecting repeated values into a list.
func addProperty(props map[string]any, key string, value any) {
	cur, ok := props[key]
	if !ok {
		props[key] = value
		return
	}
	if list, ok := cur.([]any); ok {
		props[key] = append(list, value)
		return
	}
	props[key] = []any{cur, value}
}

// EntityIRI converts a dotted graph ID to an IRI.
// Example: "semcontext.local.graph.entity.person.ada-lovelace"
//
//	-> "https://semcontext.dev/graph/entity/person/ada-lovelace"
func EntityIRI(id string) string {
	parts := strings.Split(id, ".")
	if len(parts) < 6 {
		return GraphNamespace + id
	}
	// Skip the system, scope and graph parts.
	return GraphNamespace + strings.Join(parts[3:], "/")
}

// PredicateIRI returns the standard IRI registered for a predicate, or an
// IRI in the entity namespace when none is registered.
func PredicateIRI(predicate string) string {
	if meta := vocabulary.GetPredicateMetadata(predicate); meta != nil && meta.StandardIRI != "" {
		return meta.StandardIRI
	}
	return entity.Namespace + predicate
}

// isReference reports whether a predicate's values are graph IDs.
func isReference(predicate string) bool {
	meta := vocabulary.GetPredicateMetadata(predicate)
	return meta != nil && meta.DataType == "entity_id"
}

// term is an RDF object: an IRI or a literal with an optional datatype.
type term struct {
	iri      string
	value    string
	datatype string
	native   any
}

// objectTerm classifies a triple's object.
func objectTerm(t message.Triple) term {
	switch v := t.Object.(type) {
	case string:
		if isReference(t.Predicate) {
			return term{iri: EntityIRI(v)}
		}
		if strings.HasPrefix(v, "http://") || strings.HasPrefix(v, "https://") {
			return term{iri: v}
		}
		return term{value: v, native: v}
	case time.Time:
		s := v.UTC().Format(time.RFC3339)
		return term{value: s, datatype: "dateTime", native: s}
	case int, int32, int64:
		return term{value: fmt.Sprintf("%d", v), datatype: "integer", native: v}
	case float32, float64:
		return term{value: fmt.Sprintf("%g", v), datatype: "decimal", native: v}
	case bool:
		return term{value: fmt.Sprintf("%t", v), datatype: "boolean", native: v}
	default:
		s := fmt.Sprintf("%v", v)
		return term{value: s, native: s}
	}
}

// turtle formats the term for Turtle output.
func (t term) turtle(compact func(string) string) string {
	switch {
	case t.iri != "":
		return compact(t.iri)
	case t.datatype != "":
		return fmt.Sprintf("\"%s\"^^xsd:%s", escapeString(t.value), t.datatype)
	default:
		return fmt.Sprintf("\"%s\"", escapeString(t.value))
	}
}

// ntriples formats the term for N-Triples output.
func (t term) ntriples() string {
	switch {
	case t.iri != "":
		return "<" + t.iri + ">"
	case t.datatype != "":
		return fmt.Sprintf("\"%s\"^^<http://www.w3.org/2001/XMLSchema#%s>", escapeString(t.value), t.datatype)
	default:
		return fmt.Sprintf("\"%s\"", escapeString(t.value))
	}
}

// jsonld returns the JSON-LD value of the term.
func (t term) jsonld() any {
	switch {
	case t.iri != "":
		return map[string]string{"@id": t.iri}
	case t.datatype == "dateTime":
		return map[string]string{"@value": t.value, "@type": "xsd:dateTime"}
	default:
		return t.native
	}
}

// escapeString escapes special characters in strings for RDF serialization.
func escapeString(s string) string {
	s = strings.ReplaceAll(s, "\\", "\\\\")
	s = strings.ReplaceAll(s, "\"", "\\\"")
	s = strings.ReplaceAll(s, "\n", "\\n")
	s = strings.ReplaceAll(s, "\r", "\\r")
	s = strings.ReplaceAll(s, "\t", "\\t")
	return s
}
