package rulestore

import (
	"fmt"
	"strings"
	"sync"

	"github.com/xeipuuv/gojsonschema"

	apperrors "fwupdate/pkg/errors"
)

// documentSchema describes a rule document: null, a single rule, or a list of
// rules. Condition values are left open; rules.Decode checks them.
const documentSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "definitions": {
    "version": {"type": ["string", "null"]},
    "target": {
      "oneOf": [
        {"type": "null"},
        {"type": "string"},
        {
          "type": "object",
          "properties": {
            "notecard": {"$ref": "#/definitions/version"},
            "host": {"$ref": "#/definitions/version"}
          },
          "additionalProperties": false
        }
      ]
    },
    "rule": {
      "type": "object",
      "properties": {
        "id": {"type": "string", "minLength": 1},
        "description": {"type": "string"},
        "conditions": {"type": ["object", "null"]},
        "target": {"$ref": "#/definitions/target"},
        "targetVersions": {"$ref": "#/definitions/target"}
      },
      "additionalProperties": false
    }
  },
  "oneOf": [
    {"type": "null"},
    {"$ref": "#/definitions/rule"},
    {"type": "array", "items": {"$ref": "#/definitions/rule"}}
  ]
}`

var compiledSchema = sync.OnceValues(func() (*gojsonschema.Schema, error) {
	return gojsonschema.NewSchema(gojsonschema.NewStringLoader(documentSchema))
})

// ValidateDocument checks the structure of a decoded rule document and
// reports every violation in one error.
func ValidateDocument(raw any) error {
	schema, err := compiledSchema()
	if err != nil {
		return apperrors.ErrInternal.WithMessage("rule document schema: %v", err).WithCause(err)
	}

	result, err := schema.Validate(gojsonschema.NewGoLoader(raw))
	if err != nil {
		// Values JSON cannot represent, such as maps with non-string keys.
		return apperrors.ErrConfiguration.WithMessage("invalid rules document: %v", err).WithCause(err)
	}
	if result.Valid() {
		return nil
	}

	problems := make([]string, 0, len(result.Errors()))
	for _, desc := range result.Errors() {
		problems = append(problems, fmt.Sprintf("%s: %s", desc.Field(), desc.Description()))
	}
	return apperrors.ErrConfiguration.
		WithMessage("invalid rules document: %s", strings.Join(problems, "; ")).
		WithDetail("violations", problems)
}
