package graph

import (
	"strings"
)

// Kind identifies an entity collection.
type Kind string

const (
	KindPerson       Kind = "person"
	KindPlace        Kind = "place"
	KindOrganization Kind = "organization"
	KindDate         Kind = "date"
	KindEvent        Kind = "event"
	KindDocument     Kind = "document"
	KindSubject      Kind = "subject"
)

// Kinds lists every entity kind in graph order.
var Kinds = []Kind{
	KindPerson,
	KindPlace,
	KindOrganization,
	KindDate,
	KindEvent,
	KindDocument,
	KindSubject,
}

// Entity is one extracted entity. Name is the natural key: a person's or
// place's name, a date string, or a document's title.
type Entity struct {
	Name    string   `json:"name"`
	Aliases []string `json:"aliases,omitempty"`
	Roles   []string `json:"roles,omitempty"`
	Context string   `json:"context,omitempty"`
}

// Relationship connects two entities by name.
type Relationship struct {
	From         string `json:"from"`
	Relationship string `json:"relationship"`
	To           string `json:"to"`
	Context      string `json:"context,omitempty"`
}

// Graph is the deduplicated entity graph of one or more documents.
type Graph struct {
	People        []Entity       `json:"people,omitempty"`
	Places        []Entity       `json:"places,omitempty"`
	Organizations []Entity       `json:"organizations,omitempty"`
	Dates         []Entity       `json:"dates,omitempty"`
	Events        []Entity       `json:"events,omitempty"`
	Documents     []Entity       `json:"documents,omitempty"`
	Subjects      []Entity       `json:"subjects,omitempty"`
	Relationships []Relationship `json:"relationships,omitempty"`
}

// Collection returns a pointer to the slice holding entities of kind k.
func (g *Graph) Collection(k Kind) *[]Entity {
	switch k {
	case KindPerson:
		return &g.People
	case KindPlace:
		return &g.Places
	case KindOrganization:
		return &g.Organizations
	case KindDate:
		return &g.Dates
	case KindEvent:
		return &g.Events
	case KindDocument:
		return &g.Documents
	case KindSubject:
		return &g.Subjects
	}
	return nil
}

// EntityCount returns the number of entities across all kinds.
func (g *Graph) EntityCount() int {
	n := 0
	for _, k := range Kinds {
		n += len(*g.Collection(k))
	}
	return n
}

// IsEmpty reports whether the graph has no entities and no relationships.
func (g *Graph) IsEmpty() bool {
	return g.EntityCount() == 0 && len(g.Relationships) == 0
}

// Merge folds other into g. Entities of the same kind merge when their
// names, or a name and an alias, are equal ignoring case and surrounding
// whitespace. Relationships merge on the (from, relationship, to) triple.
// Entities without a name are dropped. Order of first appearance is kept.
func (g *Graph) Merge(other *Graph) {
	if other == nil {
		return
	}
	for _, k := range Kinds {
		dst := g.Collection(k)
		for _, e := range *other.Collection(k) {
			*dst = mergeEntity(*dst, e)
		}
	}
	for _, r := range other.Relationships {
		g.Relationships = mergeRelationship(g.Relationships, r)
	}
}

// MergeAll merges graphs in order into a new graph.
func MergeAll(graphs ...*Graph) *Graph {
	out := &Graph{}
	for _, g := range graphs {
		out.Merge(g)
	}
	return out
}

func mergeEntity(list []Entity, e Entity) []Entity {
	e.Name = strings.TrimSpace(e.Name)
	if e.Name == "" {
		return list
	}

	if i := findEntity(list, e); i >= 0 {
		cur := &list[i]
		cur.Aliases = unionFold(cur.Aliases, append([]string{e.Name}, e.Aliases...))
		cur.Aliases = removeFold(cur.Aliases, cur.Name)
		cur.Roles = unionFold(cur.Roles, e.Roles)
		cur.Context = appendNote(cur.Context, e.Context)
		return list
	}

	return append(list, Entity{
		Name:    e.Name,
		Aliases: removeFold(unionFold(nil, e.Aliases), e.Name),
		Roles:   unionFold(nil, e.Roles),
		Context: strings.TrimSpace(e.Context),
	})
}

// findEntity returns the index of the entity e merges into, or -1.
// An exact name match wins over an alias match.
func findEntity(list []Entity, e Entity) int {
	key := foldKey(e.Name)
	for i := range list {
		if foldKey(list[i].Name) == key {
			return i
		}
	}
	for i := range list {
		if containsFold(list[i].Aliases, e.Name) {
			return i
		}
		for _, a := range e.Aliases {
			if foldKey(list[i].Name) == foldKey(a) {
				return i
			}
		}
	}
	return -1
}

func mergeRelationship(list []Relationship, r Relationship) []Relationship {
	r.From = strings.TrimSpace(r.From)
	r.To = strings.TrimSpace(r.To)
	r.Relationship = strings.TrimSpace(r.Relationship)
	if r.From == "" || r.To == "" || r.Relationship == "" {
		return list
	}

	key := relationKey(r)
	for i := range list {
		if relationKey(list[i]) == key {
			list[i].Context = appendNote(list[i].Context, r.Context)
			return list
		}
	}
	r.Context = strings.TrimSpace(r.Context)
	return append(list, r)
}

func relationKey(r Relationship) [3]string {
	return [3]string{foldKey(r.From), foldKey(r.Relationship), foldKey(r.To)}
}

func foldKey(s string) string {
	return strings.ToLower(strings.Join(strings.Fields(s), " "))
}

func containsFold(list []string, s string) bool {
	key := foldKey(s)
	for _, v := range list {
		if foldKey(v) == key {
			return true
		}
	}
	return false
}

// unionFold appends the values of add missing from list, ignoring case.
func unionFold(list, add []string) []string {
	for _, v := range add {
		v = strings.TrimSpace(v)
		if v == "" || containsFold(list, v) {
			continue
		}
		list = append(list, v)
	}
	return list
}

func removeFold(list []string, s string) []string {
	key := foldKey(s)
	out := list[:0]
	for _, v := range list {
		if foldKey(v) != key {
			out = append(out, v)
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

// appendNote concatenates a context note unless it is already present.
func appendNote(cur, note string) string {
	note = strings.TrimSpace(note)
	switch {
	case note == "":
		return cur
	case cur == "":
		return note
	case strings.Contains(foldKey(cur), foldKey(note)):
		return cur
	}
	return cur + "; " + note
}
