package gateway

import (
	"fmt"

	"github.com/xeipuuv/gojsonschema"
)

// requestSchema validates every inbound client frame before dispatch.
const requestSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "required": ["type"],
  "properties": {
    "type": {"enum": ["run", "message", "abort", "ping"]},
    "id": {"type": "string"},
    "prompt": {"type": "string", "minLength": 1},
    "session_id": {"type": "string"},
    "session_key": {"type": "string"},
    "provider": {"type": "string"},
    "model": {"type": "string"},
    "timeout_ms": {"type": "integer", "minimum": 0},
    "verbose": {"type": "boolean"},
    "text": {"type": "string", "minLength": 1}
  },
  "allOf": [
    {
      "if": {"properties": {"type": {"const": "run"}}},
      "then": {"required": ["prompt"]}
    },
    {
      "if": {"properties": {"type": {"const": "message"}}},
      "then": {"required": ["session_id", "text"]}
    },
    {
      "if": {"properties": {"type": {"const": "abort"}}},
      "then": {"required": ["session_id"]}
    }
  ]
}`

func compileRequestSchema() (*gojsonschema.Schema, error) {
	schema, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(requestSchema))
	if err != nil {
		return nil, fmt.Errorf("failed to compile request schema: %w", err)
	}
	return schema, nil
}

// validateRequest checks raw frame bytes against the schema and returns a
// human-readable description of the first violation.
func validateRequest(schema *gojsonschema.Schema, raw []byte) error {
	result, err := schema.Validate(gojsonschema.NewBytesLoader(raw))
	if err != nil {
		return fmt.Errorf("malformed request: %w", err)
	}
	if !result.Valid() {
		return fmt.Errorf("invalid request: %s", result.Errors()[0].String())
	}
	return nil
}
