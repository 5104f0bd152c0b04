// Package llm is the language-model capability used by extraction and
// prompt composition: free-form generation and structured extraction
// against a flat string schema.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrUnavailable means the model could not be reached in time or is
	// switched off. Callers degrade to deterministic behavior.
	ErrUnavailable = errors.New("llm: unavailable")
	ErrInvalidJSON = errors.New("llm: invalid JSON from model")
)

// SchemaField is one string property the model may fill.
type SchemaField struct {
	Name        string
	Description string
}

// Schema is a flat JSON object whose properties are all strings.
type Schema struct {
	Fields []SchemaField
}

// Names returns the property names in order.
func (s Schema) Names() []string {
	out := make([]string, 0, len(s.Fields))
	for _, f := range s.Fields {
		out = append(out, f.Name)
	}
	return out
}

func (s Schema) has(name string) bool {
	for _, f := range s.Fields {
		if f.Name == name {
			return true
		}
	}
	return false
}

// Client is implemented by model backends and middlewares.
type Client interface {
	Name() string
	Generate(ctx context.Context, system, user string) (string, error)
	Extract(ctx context.Context, system, user string, schema Schema) (map[string]string, error)
}

// DecodeObject parses a model response into the schema's properties.
// Unknown keys and null values are dropped; numbers and booleans are
// kept in their JSON text form.
func DecodeObject(raw []byte, schema Schema) (map[string]string, error) {
	raw = bytes.TrimSpace(stripFence(raw))
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var obj map[string]interface{}
	if err := dec.Decode(&obj); err != nil || obj == nil {
		return nil, fmt.Errorf("%w: %q", ErrInvalidJSON, truncate(string(raw), 120))
	}

	out := make(map[string]string, len(obj))
	for k, v := range obj {
		if !schema.has(k) {
			continue
		}
		switch val := v.(type) {
		case string:
			out[k] = val
		case json.Number:
			out[k] = val.String()
		case bool:
			if val {
				out[k] = "true"
			} else {
				out[k] = "false"
			}
		case nil:
		default:
			return nil, fmt.Errorf("%w: property %q is not a string", ErrInvalidJSON, k)
		}
	}
	return out, nil
}

// stripFence removes a surrounding markdown code fence, which some models
// add despite a JSON response type.
func stripFence(raw []byte) []byte {
	s := strings.TrimSpace(string(raw))
	if !strings.HasPrefix(s, "```") {
		return raw
	}
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimPrefix(s, "json")
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return []byte(s)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

// Disabled is the client used when the model is switched off.
type Disabled struct{}

func (Disabled) Name() string { return "disabled" }

func (Disabled) Generate(context.Context, string, string) (string, error) {
	return "", ErrUnavailable
}

func (Disabled) Extract(context.Context, string, string, Schema) (map[string]string, error) {
	return nil, ErrUnavailable
}
