package contextenricher

import (
	"fmt"

	"github.com/c360studio/semstreams/component"
)

// RegistryInterface defines the minimal interface needed for registration.
type RegistryInterface interface {
	RegisterWithConfig(component.RegistrationConfig) error
}

// Register registers the context-enricher processor component with the given registry.
func Register(registry RegistryInterface) error {
	if registry == nil {
		return fmt.Errorf("registry cannot be nil")
	}
	return registry.RegisterWithConfig(component.RegistrationConfig{
		Name:        "context-enricher",
		Factory:     NewComponent,
		Schema:      contextEnricherSchema,
		Type:        "processor",
		Protocol:    "nats",
		Domain:      "context",
		Description: "Contextual enrichment of stored pages",
		Version:     "0.1.0",
	})
}
