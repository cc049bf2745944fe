package llm

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/kaptinlin/jsonschema"
)

// ShapeKind is the declared form of a response.
type ShapeKind int

const (
	// ShapeFreeText responses are returned as plain text.
	ShapeFreeText ShapeKind = iota

	// ShapeStructuredObject responses are parsed as a JSON object and
	// validated against a schema.
	ShapeStructuredObject
)

func (k ShapeKind) String() string {
	switch k {
	case ShapeFreeText:
		return "free_text"
	case ShapeStructuredObject:
		return "structured_object"
	}
	return "unknown"
}

// ResponseShape is chosen by the caller and decides how a response is
// parsed. The zero value is FreeText.
type ResponseShape struct {
	kind     ShapeKind
	schema   map[string]any
	compiled *jsonschema.Schema
}

// FreeText declares a plain text response.
func FreeText() ResponseShape {
	return ResponseShape{kind: ShapeFreeText}
}

// StructuredObject declares a JSON object response validated by schema.
func StructuredObject(schema map[string]any) (ResponseShape, error) {
	raw, err := json.Marshal(schema)
	if err != nil {
		return ResponseShape{}, fmt.Errorf("marshal schema: %w", err)
	}
	compiled, err := jsonschema.NewCompiler().Compile(raw)
	if err != nil {
		return ResponseShape{}, fmt.Errorf("compile schema: %w", err)
	}
	return ResponseShape{kind: ShapeStructuredObject, schema: schema, compiled: compiled}, nil
}

// MustStructuredObject is StructuredObject for known-good schemas.
func MustStructuredObject(schema map[string]any) ResponseShape {
	s, err := StructuredObject(schema)
	if err != nil {
		panic(err)
	}
	return s
}

// Kind returns the declared response kind.
func (s ResponseShape) Kind() ShapeKind {
	return s.kind
}

// Schema returns the JSON schema of a structured shape.
func (s ResponseShape) Schema() map[string]any {
	return s.schema
}

// parse converts raw response content into the declared shape.
// Failures are ShapeErrors.
func (s ResponseShape) parse(content string) (map[string]any, error) {
	if s.kind == ShapeFreeText {
		if strings.TrimSpace(content) == "" {
			return nil, NewShapeError(errors.New("empty response"))
		}
		return nil, nil
	}

	raw := ExtractJSON(content)
	if raw == "" {
		return nil, NewShapeError(errors.New("no JSON object in response"))
	}
	var obj map[string]any
	if err := json.Unmarshal([]byte(raw), &obj); err != nil {
		return nil, NewShapeError(fmt.Errorf("decode JSON: %w", err))
	}

	if s.compiled != nil {
		result := s.compiled.Validate(obj)
		if !result.Valid {
			return nil, NewShapeError(fmt.Errorf("schema validation failed: %s", describeErrors(result)))
		}
	}
	return obj, nil
}

func describeErrors(result *jsonschema.EvaluationResult) string {
	if len(result.Errors) == 0 {
		return "invalid"
	}
	return fmt.Sprintf("%v", result.Errors)
}
