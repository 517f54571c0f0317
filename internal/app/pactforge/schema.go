package pactforge

import (
	"strings"

	"github.com/pkg/errors"
	"github.com/tidwall/gjson"
	"github.com/xeipuuv/gojsonschema"
)

// pactFileSchemaJSON is the structural contract an existing pact file must
// satisfy before its entries are merged. It deliberately checks shape only;
// entry semantics are handled by the merge itself.
const pactFileSchemaJSON = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "required": ["consumer", "provider", "metadata"],
  "properties": {
    "consumer": {
      "type": "object",
      "required": ["name"],
      "properties": {
        "name": {"type": "string"}
      }
    },
    "provider": {
      "type": "object",
      "required": ["name"],
      "properties": {
        "name": {"type": "string"}
      }
    },
    "interactions": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["description"],
        "properties": {
          "description": {"type": "string"}
        }
      }
    },
    "messages": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["description"],
        "properties": {
          "description": {"type": "string"}
        }
      }
    },
    "metadata": {
      "type": "object",
      "required": ["pactSpecification"],
      "properties": {
        "pactSpecification": {
          "type": "object",
          "required": ["version"],
          "properties": {
            "version": {"type": "string"}
          }
        }
      }
    }
  }
}`

var pactFileSchema = gojsonschema.NewStringLoader(pactFileSchemaJSON)

func validatePactFile(data []byte) error {
	if !gjson.ValidBytes(data) {
		return errors.New("existing pact file is not valid JSON")
	}
	result, err := gojsonschema.Validate(pactFileSchema, gojsonschema.NewStringLoader(string(data)))
	if err != nil {
		return errors.Wrap(err, "unable to validate existing pact file")
	}
	if !result.Valid() {
		details := make([]string, 0, len(result.Errors()))
		for _, resultError := range result.Errors() {
			details = append(details, resultError.String())
		}
		return errors.Errorf("existing pact file failed validation: %s", strings.Join(details, "; "))
	}
	return nil
}
