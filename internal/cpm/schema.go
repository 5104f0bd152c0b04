package cpm

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

const documentSchemaURL = "cpm.schema.json"

// documentSchema describes the persisted blob shape. Cross-field invariants
// (unique names, step ordering) are checked by Model.Validate.
const documentSchema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["productKey", "baseUrl", "steps"],
  "properties": {
    "productKey": {"type": "string", "minLength": 1},
    "baseUrl": {"type": "string", "minLength": 1},
    "steps": {
      "type": "array",
      "minItems": 1,
      "items": {
        "type": "object",
        "required": ["stepId", "order", "fields"],
        "properties": {
          "stepId": {"type": "string", "minLength": 1},
          "name": {"type": "string"},
          "order": {"type": "integer"},
          "isTerminal": {"type": "boolean"},
          "fields": {
            "type": "array",
            "items": {
              "type": "object",
              "required": ["name", "type"],
              "properties": {
                "name": {"type": "string", "minLength": 1},
                "label": {"type": "string"},
                "type": {"enum": ["text", "email", "tel", "postal_code", "select", "radio", "checkbox", "hidden"]},
                "required": {"type": "boolean"},
                "placeholder": {"type": "string"},
                "selector": {"type": "string"},
                "validation": {"type": "string"},
                "options": {
                  "type": ["array", "null"],
                  "items": {
                    "type": "object",
                    "required": ["value"],
                    "properties": {
                      "value": {"type": "string"},
                      "text": {"type": "string"}
                    }
                  }
                }
              }
            }
          }
        }
      }
    },
    "_meta": {
      "type": "object",
      "properties": {
        "createdAt": {"type": "string"},
        "updatedAt": {"type": "string"}
      }
    }
  }
}`

var (
	schemaOnce sync.Once
	schema     *jsonschema.Schema
	schemaErr  error
)

func compiledSchema() (*jsonschema.Schema, error) {
	schemaOnce.Do(func() {
		c := jsonschema.NewCompiler()
		c.Draft = jsonschema.Draft2020
		if err := c.AddResource(documentSchemaURL, strings.NewReader(documentSchema)); err != nil {
			schemaErr = fmt.Errorf("add cpm schema: %w", err)
			return
		}
		schema, schemaErr = c.Compile(documentSchemaURL)
	})
	return schema, schemaErr
}

// Parse decodes a CPM document, checking it against the document schema and
// the model invariants.
func Parse(doc []byte) (*Model, error) {
	sch, err := compiledSchema()
	if err != nil {
		return nil, err
	}

	dec := json.NewDecoder(bytes.NewReader(doc))
	dec.UseNumber()
	var raw interface{}
	if err := dec.Decode(&raw); err != nil {
		return nil, fmt.Errorf("%w: decode: %v", ErrInvalidModel, err)
	}
	if err := sch.Validate(raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidModel, err)
	}

	var m Model
	if err := json.Unmarshal(doc, &m); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidModel, err)
	}
	// "options": [] and a missing list encode the same way.
	for i := range m.Steps {
		for j := range m.Steps[i].Fields {
			if len(m.Steps[i].Fields[j].Options) == 0 {
				m.Steps[i].Fields[j].Options = nil
			}
		}
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return &m, nil
}

// Marshal encodes m as a CPM document.
func Marshal(m *Model) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(m); err != nil {
		return nil, err
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}
