package export

import (
	"fmt"

	"github.com/c360studio/semstreams/vocabulary"
	"github.com/c360studio/semstreams/vocabulary/bfo"
	"github.com/c360studio/semstreams/vocabulary/cco"

	"github.com/c360studio/semcontext/graph"
)

// Profile determines which ontology type assertions are included in the export.
type Profile string

const (
	// ProfileMinimal includes schema.org, SKOS and PROV-O types.
	ProfileMinimal Profile = "minimal"

	// ProfileBFO includes BFO type assertions plus minimal profile.
	ProfileBFO Profile = "bfo"

	// ProfileCCO includes CCO type assertions plus BFO profile.
	ProfileCCO Profile = "cco"
)

// Entity kinds that are not extraction collections.
const (
	KindSourceDocument = "source_document"
	KindRelationship   = "relationship"
)

// Class IRIs outside the registered vocabulary.
const (
	SchemaPerson          = "https://schema.org/Person"
	SchemaPlace           = "https://schema.org/Place"
	SchemaOrganization    = "https://schema.org/Organization"
	SchemaEvent           = "https://schema.org/Event"
	SchemaCreativeWork    = "https://schema.org/CreativeWork"
	SchemaDigitalDocument = "https://schema.org/DigitalDocument"
	SkosConcept           = "http://www.w3.org/2004/02/skos/core#Concept"
	TimeInstant           = "http://www.w3.org/2006/time#Instant"
	RDFStatement          = "http://www.w3.org/1999/02/22-rdf-syntax-ns#Statement"
)

// ProfileConfig contains configuration for an export profile.
type ProfileConfig struct {
	// Name is the profile identifier.
	Name Profile

	// Description describes the profile.
	Description string

	// IncludePROV indicates whether to include PROV-O type assertions.
	IncludePROV bool

	// IncludeBFO indicates whether to include BFO type assertions.
	IncludeBFO bool

	// IncludeCCO indicates whether to include CCO type assertions.
	IncludeCCO bool
}

// Profiles contains the configuration for all available export profiles.
var Profiles = map[Profile]ProfileConfig{
	ProfileMinimal: {
		Name:        ProfileMinimal,
		Description: "schema.org, SKOS and PROV-O types only",
		IncludePROV: true,
	},
	ProfileBFO: {
		Name:        ProfileBFO,
		Description: "BFO type assertions plus minimal profile",
		IncludePROV: true,
		IncludeBFO:  true,
	},
	ProfileCCO: {
		Name:        ProfileCCO,
		Description: "Full CCO/BFO/PROV-O alignment",
		IncludePROV: true,
		IncludeBFO:  true,
		IncludeCCO:  true,
	},
}

// GetProfileConfig returns the configuration for a profile. Unknown
// profiles fall back to minimal.
func GetProfileConfig(profile Profile) ProfileConfig {
	if config, ok := Profiles[profile]; ok {
		return config
	}
	return Profiles[ProfileMinimal]
}

// ParseProfile resolves a profile name. Empty selects minimal.
func ParseProfile(s string) (Profile, error) {
	if s == "" {
		return ProfileMinimal, nil
	}
	if _, ok := Profiles[Profile(s)]; !ok {
		return "", fmt.Errorf("unknown export profile %q", s)
	}
	return Profile(s), nil
}

// BaseClassMap maps entity kinds to the classes every profile asserts.
var BaseClassMap = map[string]string{
	string(graph.KindPerson):       SchemaPerson,
	string(graph.KindPlace):        SchemaPlace,
	string(graph.KindOrganization): SchemaOrganization,
	string(graph.KindDate):         TimeInstant,
	string(graph.KindEvent):        SchemaEvent,
	string(graph.KindDocument):     SchemaCreativeWork,
	string(graph.KindSubject):      SkosConcept,
	KindSourceDocument:             SchemaDigitalDocument,
	KindRelationship:               RDFStatement,
}

// PROVClassMap maps entity kinds to PROV-O classes.
var PROVClassMap = map[string]string{
	string(graph.KindPerson):       vocabulary.ProvPerson,
	string(graph.KindOrganization): vocabulary.ProvAgent,
	string(graph.KindEvent):        vocabulary.ProvActivity,
	string(graph.KindDocument):     vocabulary.ProvEntity,
	KindSourceDocument:             vocabulary.ProvEntity,
}

// BFOClassMap maps entity kinds to BFO classes.
var BFOClassMap = map[string]string{
	string(graph.KindPerson):       bfo.IndependentContinuant,
	string(graph.KindPlace):        bfo.IndependentContinuant,
	string(graph.KindOrganization): bfo.IndependentContinuant,
	string(graph.KindDate):         bfo.Occurrent,
	string(graph.KindEvent):        bfo.Process,
	string(graph.KindDocument):     bfo.GenericallyDependentContinuant,
	string(graph.KindSubject):      bfo.GenericallyDependentContinuant,
	KindSourceDocument:             bfo.GenericallyDependentContinuant,
}

// CCOClassMap maps entity kinds to CCO classes.
var CCOClassMap = map[string]string{
	string(graph.KindPerson):   cco.Person,
	string(graph.KindEvent):    cco.Act,
	string(graph.KindDocument): cco.InformationContentEntity,
	string(graph.KindSubject):  cco.InformationContentEntity,
	KindSourceDocument:         cco.InformationContentEntity,
}

// TypeIRIs returns the type IRIs asserted for an entity kind under a profile.
func TypeIRIs(kind string, profile Profile) []string {
	config := GetProfileConfig(profile)
	types := make([]string, 0, 4)
	add := func(m map[string]string) {
		if c, ok := m[kind]; ok {
			types = append(types, c)
		}
	}

	add(BaseClassMap)
	if config.IncludePROV {
		add(PROVClassMap)
	}
	if config.IncludeBFO {
		add(BFOClassMap)
	}
	if config.IncludeCCO {
		add(CCOClassMap)
	}
	return types
}
