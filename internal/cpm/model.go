package cpm

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/imrishuroy/go-checkout-orchestrator/internal/fields"
)

// DefaultKey is the product key of the fallback process model.
const DefaultKey = "default"

var (
	// ErrNotFound is returned by blob stores when no document exists for a key.
	ErrNotFound = errors.New("process model not found")
	// ErrNoProcessModel means neither the requested nor the default model exists.
	ErrNoProcessModel = errors.New("no process model")
	// ErrInvalidModel wraps every invariant violation found by Validate.
	ErrInvalidModel = errors.New("invalid process model")
)

// Meta carries document timestamps.
type Meta struct {
	CreatedAt time.Time `json:"createdAt" yaml:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt" yaml:"updatedAt"`
}

// Model is the Checkout Process Model: the ordered checkout steps of a
// storefront product or category. Models returned by the Store are shared
// and must be treated as read-only.
type Model struct {
	ProductKey string        `json:"productKey" yaml:"productKey"`
	BaseURL    string        `json:"baseUrl" yaml:"baseUrl"`
	Steps      []fields.Step `json:"steps" yaml:"steps"`
	Meta       Meta          `json:"_meta" yaml:"_meta"`
}

// Validate checks the model invariants: a product key, an absolute base
// URL, at least one step, consecutive strictly increasing step orders,
// non-empty field names unique across the whole model, known field types
// and parseable validation rules.
func (m *Model) Validate() error {
	if m == nil {
		return fmt.Errorf("%w: nil model", ErrInvalidModel)
	}
	var problems []string
	if strings.TrimSpace(m.ProductKey) == "" {
		problems = append(problems, "productKey is required")
	}
	if u, err := url.Parse(m.BaseURL); err != nil || u.Scheme == "" || u.Host == "" {
		problems = append(problems, fmt.Sprintf("baseUrl %q is not an absolute URL", m.BaseURL))
	}
	if len(m.Steps) == 0 {
		problems = append(problems, "at least one step is required")
	}

	seen := map[string]string{}
	for i, step := range m.Steps {
		if i > 0 && step.Order != m.Steps[i-1].Order+1 {
			problems = append(problems, fmt.Sprintf("step %q has order %d, want %d", step.StepID, step.Order, m.Steps[i-1].Order+1))
		}
		if strings.TrimSpace(step.StepID) == "" {
			problems = append(problems, fmt.Sprintf("step %d has no stepId", i))
		}
		for _, f := range step.Fields {
			name := strings.TrimSpace(f.Name)
			if name == "" {
				problems = append(problems, fmt.Sprintf("step %q has a field without name", step.StepID))
				continue
			}
			if prev, dup := seen[name]; dup {
				problems = append(problems, fmt.Sprintf("field %q appears in steps %q and %q", name, prev, step.StepID))
			}
			seen[name] = step.StepID
			if !f.Type.Valid() {
				problems = append(problems, fmt.Sprintf("field %q has unknown type %q", name, f.Type))
			}
			if _, err := fields.ParseRule(f.Validation); err != nil {
				problems = append(problems, fmt.Sprintf("field %q: %v", name, err))
			}
		}
	}

	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalidModel, strings.Join(problems, "; "))
	}
	return nil
}

// Field looks a field up by name anywhere in the model.
func (m *Model) Field(name string) (fields.Field, bool) {
	for _, step := range m.Steps {
		for _, f := range step.Fields {
			if f.Name == name {
				return f, true
			}
		}
	}
	return fields.Field{}, false
}

// StepOf returns the index of the step declaring name, or -1.
func (m *Model) StepOf(name string) int {
	for i, step := range m.Steps {
		for _, f := range step.Fields {
			if f.Name == name {
				return i
			}
		}
	}
	return -1
}

// Fields returns every field of the model in step order.
func (m *Model) Fields() []fields.Field {
	var out []fields.Field
	for _, step := range m.Steps {
		out = append(out, step.Fields...)
	}
	return out
}

// RequiredFields returns every required field of the model in step order.
func (m *Model) RequiredFields() []fields.Field {
	var out []fields.Field
	for _, step := range m.Steps {
		out = append(out, fields.RequiredFieldsOf(step)...)
	}
	return out
}
