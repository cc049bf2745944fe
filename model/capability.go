// Package model provides capability-based model selection.
// Callers name what they need (enhance, extract) and the registry resolves
// it to an ordered chain of endpoints with fallbacks.
package model

// Capability represents a semantic capability for model selection.
type Capability string

const (
	// CapabilityEnhance inserts disambiguation context into text blocks.
	CapabilityEnhance Capability = "enhance"

	// CapabilityExtract extracts entities and relationships from text.
	CapabilityExtract Capability = "extract"
)

// IsValid checks if a capability string is a known capability.
func (c Capability) IsValid() bool {
	switch c {
	case CapabilityEnhance, CapabilityExtract:
		return true
	}
	return false
}

// String returns the string representation of the capability.
func (c Capability) String() string {
	return string(c)
}

// ParseCapability converts a string to a Capability, returning empty for invalid values.
func ParseCapability(s string) Capability {
	c := Capability(s)
	if c.IsValid() {
		return c
	}
	return ""
}
