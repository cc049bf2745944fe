package export_test

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/c360studio/semstreams/message"
	"github.com/c360studio/semstreams/vocabulary"
	"github.com/c360studio/semstreams/vocabulary/bfo"
	"github.com/c360studio/semstreams/vocabulary/cco"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360studio/semcontext/export"
	"github.com/c360studio/semcontext/graph"
	"github.com/c360studio/semcontext/source"
	"github.com/c360studio/semcontext/vocabulary/entity"
)

const (
	adaIRI  = "https://semcontext.dev/graph/entity/person/ada-lovelace"
	docIRI  = "https://semcontext.dev/graph/document/page/notes-1"
	babbage = "https://semcontext.dev/graph/entity/person/charles-babbage"
)

var now = time.Date(2026, 3, 4, 5, 6, 7, 0, time.UTC)

func sampleExporter(profile export.Profile) *export.Exporter {
	doc := &source.Document{
		ID:       "notes-1",
		Metadata: map[string]string{"title": "Analytical Engine Notes", "url": "https://example.com/notes"},
	}
	g := &graph.Graph{
		People: []graph.Entity{
			{Name: "Ada Lovelace", Aliases: []string{"Ada", "Countess of Lovelace"}, Context: "Wrote \"Note G\".\nPublished 1843."},
			{Name: "Charles Babbage"},
		},
		Relationships: []graph.Relationship{
			{From: "Ada", Relationship: "collaborated_with", To: "Charles Babbage"},
		},
	}
	e := export.NewExporter(profile)
	e.AddGraph(doc, g, now)
	return e
}

func TestEntityIRI(t *testing.T) {
	assert.Equal(t, adaIRI, export.EntityIRI(graph.EntityID(graph.KindPerson, "Ada Lovelace")))
	assert.Equal(t, docIRI, export.EntityIRI(graph.DocumentID("notes-1")))
	assert.Equal(t, export.GraphNamespace+"short.id", export.EntityIRI("short.id"))
}

func TestPredicateIRI(t *testing.T) {
	assert.Equal(t, vocabulary.SkosPrefLabel, export.PredicateIRI(entity.PredicateName))
	assert.Equal(t, vocabulary.ProvWasDerivedFrom, export.PredicateIRI(entity.PredicateMentionedIn))
	assert.Equal(t, entity.Namespace+"unregistered.pred", export.PredicateIRI("unregistered.pred"))
}

func TestExporter_AddGraph(t *testing.T) {
	e := sampleExporter(export.ProfileMinimal)
	// Document node, two people and one relationship.
	assert.Equal(t, 4, e.Len())

	e.Add(nil, &graph.EntityPayload{})
	assert.Equal(t, 4, e.Len(), "payloads without an ID are ignored")
}

func TestExport_NTriples(t *testing.T) {
	out, err := sampleExporter(export.ProfileMinimal).Export(export.FormatNTriples)
	require.NoError(t, err)

	rdfType := "<http://www.w3.org/1999/02/22-rdf-syntax-ns#type>"
	lines := strings.Split(strings.TrimSpace(out), "\n")
	for _, l := range lines {
		assert.True(t, strings.HasSuffix(l, " ."), l)
	}
	assert.Contains(t, lines, "<"+adaIRI+"> "+rdfType+" <"+export.SchemaPerson+"> .")
	assert.Contains(t, lines, "<"+adaIRI+"> <"+vocabulary.SkosPrefLabel+"> \"Ada Lovelace\" .")
	assert.Contains(t, lines, "<"+adaIRI+"> <"+vocabulary.SkosAltLabel+"> \"Countess of Lovelace\" .")
	assert.Contains(t, lines, "<"+adaIRI+"> <"+vocabulary.ProvWasDerivedFrom+"> <"+docIRI+"> .")
	assert.Contains(t, lines, "<"+adaIRI+"> <"+vocabulary.SkosRelated+"> <"+babbage+"> .")
	assert.Contains(t, lines, "<"+docIRI+"> <"+vocabulary.DcSource+"> <https://example.com/notes> .")
	assert.Contains(t, lines, "<"+docIRI+"> <"+vocabulary.DcTitle+"> \"Analytical Engine Notes\" .")
	assert.Contains(t, out, `"Wrote \"Note G\".\nPublished 1843."`, "literals are escaped")
}

func TestExport_Turtle(t *testing.T) {
	out, err := sampleExporter(export.ProfileMinimal).Export(export.FormatTurtle)
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(out, "@prefix bfo: <http://purl.obolibrary.org/obo/> .\n"), "prefixes are sorted")
	assert.Contains(t, out, "@prefix schema: <https://schema.org/> .\n")
	assert.Contains(t, out, "<"+adaIRI+">\n    a schema:Person ;\n")
	assert.Contains(t, out, "\"Ada Lovelace\" ;\n")
	assert.Contains(t, out, "    a schema:DigitalDocument ;\n")

	// Every subject block ends with a full stop.
	for _, block := range strings.Split(strings.TrimSpace(out), "\n\n")[1:] {
		assert.True(t, strings.HasSuffix(block, " ."), block)
	}
}

func TestExport_JSONLD(t *testing.T) {
	out, err := sampleExporter(export.ProfileCCO).Export(export.FormatJSONLD)
	require.NoError(t, err)

	var doc struct {
		Context map[string]string `json:"@context"`
		Graph   []map[string]any  `json:"@graph"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &doc))
	assert.Equal(t, "https://schema.org/", doc.Context["schema"])
	require.Len(t, doc.Graph, 4)

	var ada map[string]any
	for _, n := range doc.Graph {
		if n["@id"] == adaIRI {
			ada = n
		}
	}
	require.NotNil(t, ada)
	assert.Equal(t, "Ada Lovelace", ada[vocabulary.SkosPrefLabel])
	assert.Equal(t, []any{"Ada", "Countess of Lovelace"}, ada[vocabulary.SkosAltLabel], "repeated predicates become lists")
	assert.Equal(t, map[string]any{"@id": docIRI}, ada[vocabulary.ProvWasDerivedFrom])
	assert.Equal(t, map[string]any{"@id": babbage}, ada[vocabulary.SkosRelated], "statements merge by subject")
	assert.Equal(t, []any{export.SchemaPerson, vocabulary.ProvPerson, bfo.IndependentContinuant, cco.Person}, ada["@type"])
}

func TestExport_TypedLiterals(t *testing.T) {
	e := export.NewExporter(export.ProfileMinimal)
	e.Add(&graph.EntityPayload{
		EntityID_: "semcontext.local.graph.entity.date.1843",
		Kind:      string(graph.KindDate),
		TripleData: []message.Triple{
			{Predicate: "stats.count", Object: 3},
			{Predicate: "stats.seen", Object: now},
			{Predicate: "stats.flag", Object: true},
		},
	})

	nt, err := e.Export(export.FormatNTriples)
	require.NoError(t, err)
	assert.Contains(t, nt, `"3"^^<http://www.w3.org/2001/XMLSchema#integer>`)
	assert.Contains(t, nt, `"2026-03-04T05:06:07Z"^^<http://www.w3.org/2001/XMLSchema#dateTime>`)
	assert.Contains(t, nt, "<"+export.TimeInstant+">")

	ttl, err := e.Export(export.FormatTurtle)
	require.NoError(t, err)
	assert.Contains(t, ttl, `"true"^^xsd:boolean .`)
	assert.Contains(t, ttl, "    a time:Instant ;\n")
}

func TestExport_UnsupportedFormat(t *testing.T) {
	_, err := export.NewExporter(export.ProfileMinimal).Export("rdfxml")
	assert.Error(t, err)
}

func TestParseFormat(t *testing.T) {
	tests := map[string]export.Format{
		"turtle":   export.FormatTurtle,
		"ttl":      export.FormatTurtle,
		".nt":      export.FormatNTriples,
		"NTRIPLES": export.FormatNTriples,
		"json-ld":  export.FormatJSONLD,
		"jsonld":   export.FormatJSONLD,
	}
	for in, want := range tests {
		got, err := export.ParseFormat(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}

	_, err := export.ParseFormat("xml")
	assert.Error(t, err)
}

func TestGetFormatInfo(t *testing.T) {
	info, ok := export.GetFormatInfo(export.FormatTurtle)
	require.True(t, ok)
	assert.Equal(t, "text/turtle", info.MIMEType)
	assert.Equal(t, ".ttl", info.Extension)

	_, ok = export.GetFormatInfo("rdfxml")
	assert.False(t, ok)
}
