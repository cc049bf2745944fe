package graph

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"
	"unicode"

	"github.com/c360studio/semstreams/message"

	"github.com/c360studio/semcontext/source"
	"github.com/c360studio/semcontext/vocabulary/entity"
)

// tripleSource marks triples produced by extraction.
const tripleSource = "semcontext.extract"

// EntityID returns the graph ID of an entity.
// Format: semcontext.local.graph.entity.<kind>.<slug>
func EntityID(k Kind, name string) string {
	return fmt.Sprintf("semcontext.local.graph.entity.%s.%s", k, Slug(name))
}

// DocumentID returns the graph ID of an enriched document.
// Format: semcontext.local.graph.document.page.<slug>
func DocumentID(docID string) string {
	return fmt.Sprintf("semcontext.local.graph.document.page.%s", Slug(docID))
}

// RelationshipID returns the graph ID of a relationship. The instance part
// is a hash of the normalized triple so equal relationships share an ID.
func RelationshipID(r Relationship) string {
	key := relationKey(r)
	sum := sha256.Sum256([]byte(strings.Join(key[:], "\x00")))
	return fmt.Sprintf("semcontext.local.graph.relation.%s.%s", Slug(r.Relationship), hex.EncodeToString(sum[:8]))
}

// Slug lowercases s and replaces every run of characters other than
// letters and digits with a single hyphen.
func Slug(s string) string {
	var sb strings.Builder
	hyphen := false
	for _, r := range strings.ToLower(s) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			sb.WriteRune(r)
			hyphen = false
			continue
		}
		if !hyphen && sb.Len() > 0 {
			sb.WriteByte('-')
			hyphen = true
		}
	}
	out := strings.TrimSuffix(sb.String(), "-")
	if out == "" {
		return "unnamed"
	}
	return out
}

// Payloads converts a graph into one payload per entity and relationship.
// Relationship ends resolve to entity IDs by name or alias; an end that
// names no extracted entity becomes a subject entity.
func Payloads(g *Graph, docID string, now time.Time) []*EntityPayload {
	var out []*EntityPayload
	var docRef string
	if docID != "" {
		docRef = DocumentID(docID)
	}

	triple := func(subject, predicate string, object any) message.Triple {
		return message.Triple{
			Subject:    subject,
			Predicate:  predicate,
			Object:     object,
			Source:     tripleSource,
			Timestamp:  now,
			Confidence: 1.0,
		}
	}

	for _, k := range Kinds {
		for _, e := range *g.Collection(k) {
			id := EntityID(k, e.Name)
			triples := []message.Triple{
				triple(id, entity.PredicateName, e.Name),
				triple(id, entity.PredicateKind, string(k)),
			}
			for _, a := range e.Aliases {
				triples = append(triples, triple(id, entity.PredicateAlias, a))
			}
			for _, r := range e.Roles {
				triples = append(triples, triple(id, entity.PredicateRole, r))
			}
			if e.Context != "" {
				triples = append(triples, triple(id, entity.PredicateContext, e.Context))
			}
			if docRef != "" {
				triples = append(triples, triple(id, entity.PredicateMentionedIn, docRef))
			}
			out = append(out, &EntityPayload{
				EntityID_:  id,
				Kind:       string(k),
				DocumentID: docID,
				TripleData: triples,
				UpdatedAt:  now,
			})
		}
	}

	for _, r := range g.Relationships {
		id := RelationshipID(r)
		from := g.resolve(r.From)
		to := g.resolve(r.To)
		triples := []message.Triple{
			triple(id, entity.PredicateRelationFrom, from),
			triple(id, entity.PredicateRelationType, r.Relationship),
			triple(id, entity.PredicateRelationTo, to),
			triple(from, entity.PredicateRelated, to),
		}
		if r.Context != "" {
			triples = append(triples, triple(id, entity.PredicateContext, r.Context))
		}
		out = append(out, &EntityPayload{
			EntityID_:  id,
			Kind:       "relationship",
			DocumentID: docID,
			TripleData: triples,
			UpdatedAt:  now,
		})
	}
	return out
}

// DocumentPayload describes the enriched document itself, the node every
// extracted entity is linked to by mentioned_in.
func DocumentPayload(doc *source.Document, now time.Time) *EntityPayload {
	id := DocumentID(doc.ID)
	triple := func(predicate string, object any) message.Triple {
		return message.Triple{
			Subject:    id,
			Predicate:  predicate,
			Object:     object,
			Source:     tripleSource,
			Timestamp:  now,
			Confidence: 1.0,
		}
	}

	triples := []message.Triple{triple(entity.PredicateDocumentID, doc.ID)}
	if title := doc.Title(); title != "" {
		triples = append(triples, triple(entity.PredicateDocumentTitle, title))
	}
	if src := documentSource(doc); src != "" {
		triples = append(triples, triple(entity.PredicateDocumentSource, src))
	}
	return &EntityPayload{
		EntityID_:  id,
		Kind:       "source_document",
		DocumentID: doc.ID,
		TripleData: triples,
		UpdatedAt:  now,
	}
}

func documentSource(doc *source.Document) string {
	if doc.Metadata == nil {
		return ""
	}
	if u := doc.Metadata["url"]; u != "" {
		return u
	}
	return doc.Metadata["source"]
}

// resolve returns the entity ID a relationship end refers to.
func (g *Graph) resolve(name string) string {
	for _, k := range Kinds {
		if i := findEntity(*g.Collection(k), Entity{Name: strings.TrimSpace(name)}); i >= 0 {
			return EntityID(k, (*g.Collection(k))[i].Name)
		}
	}
	return EntityID(KindSubject, name)
}
