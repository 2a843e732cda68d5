package artifact

import (
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

// envelopeSchema is the JSON Schema for the persisted artifact format.
// Downstream tooling depends on these exact keys.
const envelopeSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "required": ["company", "name", "runID", "timestamp", "content"],
  "properties": {
    "company":   {"type": "string", "minLength": 1},
    "name":      {"type": "string", "minLength": 1},
    "runID":     {"type": "string", "minLength": 1},
    "timestamp": {"type": "number"},
    "content":   {"type": "array"}
  },
  "additionalProperties": false
}`

// FieldError represents a single validation error at a specific field.
type FieldError struct {
	Field   string
	Message string
}

// ValidationError represents a schema validation failure with field paths.
type ValidationError struct {
	Errors []FieldError
}

func (ve *ValidationError) Error() string {
	var sb strings.Builder
	sb.WriteString("envelope validation failed:\n")
	for i, err := range ve.Errors {
		sb.WriteString(fmt.Sprintf("  %d. %s: %s\n", i+1, err.Field, err.Message))
	}
	return sb.String()
}

// ValidateEnvelope checks raw JSON against the artifact envelope schema.
func ValidateEnvelope(data []byte) error {
	schemaLoader := gojsonschema.NewStringLoader(envelopeSchema)
	documentLoader := gojsonschema.NewBytesLoader(data)

	result, err := gojsonschema.Validate(schemaLoader, documentLoader)
	if err != nil {
		return fmt.Errorf("failed to validate envelope: %w", err)
	}

	if result.Valid() {
		return nil
	}

	ve := &ValidationError{}
	for _, desc := range result.Errors() {
		ve.Errors = append(ve.Errors, FieldError{
			Field:   desc.Field(),
			Message: desc.Description(),
		})
	}
	return ve
}
