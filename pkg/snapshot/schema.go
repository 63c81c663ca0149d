package snapshot

import (
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

// Schema is the JSON schema every snapshot file must satisfy.
const Schema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "required": ["version", "id", "name", "kind", "status", "created_at", "last_active"],
  "properties": {
    "version": {"type": "integer", "minimum": 1},
    "id": {"type": "string", "minLength": 1, "pattern": "^[A-Za-z0-9_-]+$"},
    "name": {"type": "string", "minLength": 1, "maxLength": 64},
    "kind": {"type": "string", "enum": ["standard", "worktree"]},
    "status": {
      "type": "string",
      "enum": ["active", "waiting_for_input", "processing", "paused", "completed"]
    },
    "created_at": {"type": "string", "format": "date-time"},
    "last_active": {"type": "string", "format": "date-time"},
    "first_message": {"type": "string"},
    "turns": {"type": "integer", "minimum": 0},
    "worktree": {
      "type": "object",
      "required": ["path"],
      "properties": {
        "path": {"type": "string", "minLength": 1},
        "branch": {"type": "string"}
      }
    }
  }
}`

var schemaLoader = gojsonschema.NewStringLoader(Schema)

// validateSchema validates raw snapshot bytes against Schema
func validateSchema(data []byte) error {
	result, err := gojsonschema.Validate(schemaLoader, gojsonschema.NewBytesLoader(data))
	if err != nil {
		return fmt.Errorf("schema validation error: %w", err)
	}

	if !result.Valid() {
		var errs []string
		for _, desc := range result.Errors() {
			errs = append(errs, desc.String())
		}
		return fmt.Errorf("schema validation failed: %s", strings.Join(errs, "; "))
	}

	return nil
}
