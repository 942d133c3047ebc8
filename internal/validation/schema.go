package validation

import (
	"encoding/json"
	"fmt"

	"github.com/google/jsonschema-go/jsonschema"
)

const schemaSource = "schema"

// CompileSchema turns a decoded JSON Schema document into a resolved schema.
func CompileSchema(doc any) (*jsonschema.Resolved, error) {
	data, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSchema, err)
	}
	var schema jsonschema.Schema
	if err := json.Unmarshal(data, &schema); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSchema, err)
	}
	resolved, err := schema.Resolve(nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSchema, err)
	}
	return resolved, nil
}

// CheckSchema validates instance against a schema document. A schema that
// does not compile is reported as a validation error.
func CheckSchema(doc any, instance any) []Error {
	resolved, err := CompileSchema(doc)
	if err != nil {
		return []Error{{Source: schemaSource, Message: err.Error()}}
	}
	if err := resolved.Validate(instance); err != nil {
		return []Error{{Source: schemaSource, Message: err.Error()}}
	}
	return nil
}
