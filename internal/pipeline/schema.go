package pipeline

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

const specSchema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "additionalProperties": false,
  "required": ["stages"],
  "properties": {
    "input": {
      "type": "object",
      "additionalProperties": false,
      "properties": {
        "extensions": {"type": "array", "items": {"type": "string"}},
        "skip_hidden": {"type": "boolean"}
      }
    },
    "workers": {
      "anyOf": [
        {"type": "integer", "minimum": 0},
        {"type": "string", "enum": ["auto"]}
      ]
    },
    "document_timeout": {"type": "string"},
    "stages": {
      "type": "array",
      "minItems": 1,
      "items": {
        "type": "object",
        "additionalProperties": false,
        "anyOf": [{"required": ["name"]}, {"required": ["type"]}],
        "properties": {
          "name": {"type": "string", "minLength": 1},
          "type": {"type": "string", "minLength": 1},
          "enabled": {"type": "boolean"},
          "optional": {"type": "boolean"},
          "input": {"type": "string"},
          "params": {"type": "object"},
          "ops": {
            "type": "array",
            "items": {
              "type": "object",
              "additionalProperties": false,
              "required": ["type"],
              "properties": {
                "type": {"type": "string", "minLength": 1},
                "enabled": {"type": "boolean"},
                "params": {"type": "object"}
              }
            }
          }
        }
      }
    },
    "quality": {
      "type": "object",
      "additionalProperties": false,
      "properties": {
        "threshold": {"type": "number", "minimum": 0, "maximum": 100},
        "metric": {"type": "string", "enum": ["mean_confidence", "low_confidence_ratio"]},
        "low_token_confidence": {"type": "number", "minimum": 0, "maximum": 100}
      }
    },
    "retry": {
      "type": "object",
      "additionalProperties": false,
      "properties": {
        "from": {"type": "string"},
        "to": {"type": "string"},
        "max_attempts": {"type": "integer", "minimum": 0},
        "strategies": {
          "type": "array",
          "items": {
            "type": "object",
            "additionalProperties": false,
            "required": ["name", "overrides"],
            "properties": {
              "name": {"type": "string", "pattern": "^[A-Za-z0-9_-]+$"},
              "overrides": {
                "type": "object",
                "additionalProperties": {"type": "object"}
              }
            }
          }
        }
      }
    },
    "intermediate": {
      "type": "object",
      "additionalProperties": false,
      "properties": {
        "save": {"type": "boolean"},
        "dir": {"type": "string"}
      }
    }
  }
}`

var compiledSpecSchema = jsonschema.MustCompileString("pipeline.schema.json", specSchema)

// validateSpecSchema checks the structural shape of a decoded document.
func validateSpecSchema(doc any) error {
	b, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("pipeline: marshal spec: %w", err)
	}
	var v any
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.UseNumber()
	if err := dec.Decode(&v); err != nil {
		return fmt.Errorf("pipeline: unmarshal spec: %w", err)
	}
	if err := compiledSpecSchema.Validate(v); err != nil {
		return fmt.Errorf("pipeline: spec does not match schema: %w", err)
	}
	return nil
}
