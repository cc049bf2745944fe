package entity

import "github.com/c360studio/semstreams/vocabulary"

// Namespace for entity predicates.
const Namespace = "https://semcontext.dev/vocabulary/entity#"

// Core entity predicates.
const (
	// PredicateName is the canonical name, date or title of the entity.
	PredicateName = "semcontext.entity.name"

	// PredicateKind is the entity kind.
	// Values: person, place, organization, date, event, document, subject
	PredicateKind = "semcontext.entity.kind"

	// PredicateAlias is an alternative name seen for the entity.
	PredicateAlias = "semcontext.entity.alias"

	// PredicateRole is a role or title held by a person.
	PredicateRole = "semcontext.entity.role"

	// PredicateContext is the accumulated context note.
	PredicateContext = "semcontext.entity.context"

	// PredicateMentionedIn links an entity to the document it was extracted from.
	PredicateMentionedIn = "semcontext.entity.mentioned_in"
)

// Relationship predicates. A relationship is stored as its own entity so
// the free-form relationship label survives as a value.
const (
	// PredicateRelationFrom is the subject end of a relationship.
	PredicateRelationFrom = "semcontext.relation.from"

	// PredicateRelationType is the relationship label, e.g. "works_for".
	PredicateRelationType = "semcontext.relation.type"

	// PredicateRelationTo is the object end of a relationship.
	PredicateRelationTo = "semcontext.relation.to"

	// PredicateRelated links the two ends directly for traversal.
	PredicateRelated = "semcontext.entity.related"
)

// Document predicates.
const (
	// PredicateDocumentID is the pipeline identifier of the enriched document.
	PredicateDocumentID = "semcontext.document.id"

	// PredicateDocumentTitle is the enriched document's title.
	PredicateDocumentTitle = "semcontext.document.title"

	// PredicateDocumentSource is the URL or path the document came from.
	PredicateDocumentSource = "semcontext.document.source"
)

func init() {
	vocabulary.Register(PredicateName,
		vocabulary.WithDescription("Canonical entity name, date or title"),
		vocabulary.WithDataType("string"),
		vocabulary.WithIRI(vocabulary.SkosPrefLabel))

	vocabulary.Register(PredicateKind,
		vocabulary.WithDescription("Entity kind"),
		vocabulary.WithDataType("string"),
		vocabulary.WithIRI(Namespace+"kind"))

	vocabulary.Register(PredicateAlias,
		vocabulary.WithDescription("Alternative name for the entity"),
		vocabulary.WithDataType("string"),
		vocabulary.WithIRI(vocabulary.SkosAltLabel))

	vocabulary.Register(PredicateRole,
		vocabulary.WithDescription("Role or title held by a person"),
		vocabulary.WithDataType("string"),
		vocabulary.WithIRI(Namespace+"role"))

	vocabulary.Register(PredicateContext,
		vocabulary.WithDescription("Context notes accumulated across windows"),
		vocabulary.WithDataType("string"),
		vocabulary.WithIRI(Namespace+"context"))

	vocabulary.Register(PredicateMentionedIn,
		vocabulary.WithDescription("Document the entity was extracted from"),
		vocabulary.WithDataType("entity_id"),
		vocabulary.WithIRI(vocabulary.ProvWasDerivedFrom))

	vocabulary.Register(PredicateRelationFrom,
		vocabulary.WithDescription("Subject end of a relationship"),
		vocabulary.WithDataType("entity_id"),
		vocabulary.WithIRI(Namespace+"from"))

	vocabulary.Register(PredicateRelationType,
		vocabulary.WithDescription("Relationship label"),
		vocabulary.WithDataType("string"),
		vocabulary.WithIRI(Namespace+"relationship"))

	vocabulary.Register(PredicateRelationTo,
		vocabulary.WithDescription("Object end of a relationship"),
		vocabulary.WithDataType("entity_id"),
		vocabulary.WithIRI(Namespace+"to"))

	vocabulary.Register(PredicateRelated,
		vocabulary.WithDescription("Direct link between related entities"),
		vocabulary.WithDataType("entity_id"),
		vocabulary.WithIRI(vocabulary.SkosRelated))

	vocabulary.Register(PredicateDocumentID,
		vocabulary.WithDescription("Pipeline identifier of the document"),
		vocabulary.WithDataType("string"),
		vocabulary.WithIRI(vocabulary.DcIdentifier))

	vocabulary.Register(PredicateDocumentTitle,
		vocabulary.WithDescription("Document title"),
		vocabulary.WithDataType("string"),
		vocabulary.WithIRI(vocabulary.DcTitle))

	vocabulary.Register(PredicateDocumentSource,
		vocabulary.WithDescription("URL or path of the source document"),
		vocabulary.WithDataType("string"),
		vocabulary.WithIRI(vocabulary.DcSource))
}
