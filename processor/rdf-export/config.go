package rdfexport

import (
	"fmt"
	"reflect"

	"github.com/c360studio/semstreams/component"

	"github.com/c360studio/semcontext/export"
	"github.com/c360studio/semcontext/graph"
)

// rdfExportSchema defines the configuration schema.
var rdfExportSchema = component.GenerateConfigSchema(reflect.TypeOf(Config{}))

// Config holds configuration for the rdf-export output component.
type Config struct {
	Ports   *component.PortConfig `json:"ports" schema:"type:ports,description:Port configuration,category:basic"`
	Format  string                `json:"format" schema:"type:string,description:RDF serialization format (turtle/ntriples/jsonld),category:basic,default:turtle"`
	Profile string                `json:"profile" schema:"type:string,description:Ontology profile (minimal/bfo/cco),category:basic,default:minimal"`
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if c.Format != "" {
		if _, err := export.ParseFormat(c.Format); err != nil {
			return fmt.Errorf("format: %w", err)
		}
	}
	if _, err := export.ParseProfile(c.Profile); err != nil {
		return fmt.Errorf("profile: %w", err)
	}
	return nil
}

// GetFormat returns the configured format, turtle when unset.
func (c *Config) GetFormat() export.Format {
	f, err := export.ParseFormat(c.Format)
	if err != nil {
		return export.FormatTurtle
	}
	return f
}

// GetProfile returns the configured profile, minimal when unset.
func (c *Config) GetProfile() export.Profile {
	p, err := export.ParseProfile(c.Profile)
	if err != nil {
		return export.ProfileMinimal
	}
	return p
}

// DefaultConfig returns the default configuration for rdf-export.
func DefaultConfig() Config {
	return Config{
		Ports: &component.PortConfig{
			Inputs: []component.PortDefinition{
				{
					Name:        "entities_in",
					Type:        "jetstream",
					Subject:     graph.GraphIngestSubject,
					StreamName:  "GRAPH",
					Required:    true,
					Description: "Extracted entities and relationships",
				},
			},
			Outputs: []component.PortDefinition{
				{
					Name:        "rdf_out",
					Type:        "jetstream",
					Subject:     ExportSubject,
					StreamName:  "GRAPH",
					Required:    true,
					Description: "Entities serialized as RDF",
				},
			},
		},
		Format:  string(export.FormatTurtle),
		Profile: string(export.ProfileMinimal),
	}
}
