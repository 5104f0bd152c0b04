package fields

import "strings"

// Type is the semantic type of a checkout form field.
type Type string

const (
	TypeText       Type = "text"
	TypeEmail      Type = "email"
	TypeTel        Type = "tel"
	TypePostalCode Type = "postal_code"
	TypeSelect     Type = "select"
	TypeRadio      Type = "radio"
	TypeCheckbox   Type = "checkbox"
	TypeHidden     Type = "hidden"
)

// Valid reports whether t is one of the known field types.
func (t Type) Valid() bool {
	switch t {
	case TypeText, TypeEmail, TypeTel, TypePostalCode, TypeSelect, TypeRadio, TypeCheckbox, TypeHidden:
		return true
	}
	return false
}

// Option is one choice of a select or radio field.
type Option struct {
	Value string `json:"value" yaml:"value"`
	Text  string `json:"text" yaml:"text"`
}

// Field describes a single storefront form input. Fields are immutable once
// part of a process model.
type Field struct {
	Name        string   `json:"name" yaml:"name"`
	Label       string   `json:"label" yaml:"label"`
	Type        Type     `json:"type" yaml:"type"`
	Required    bool     `json:"required" yaml:"required"`
	Placeholder string   `json:"placeholder,omitempty" yaml:"placeholder,omitempty"`
	Options     []Option `json:"options,omitempty" yaml:"options,omitempty"`
	Validation  string   `json:"validation,omitempty" yaml:"validation,omitempty"`
	Selector    string   `json:"selector,omitempty" yaml:"selector,omitempty"`
}

// DisplayName returns the label, or the name when no label was captured.
func (f Field) DisplayName() string {
	if l := strings.TrimSpace(f.Label); l != "" {
		return l
	}
	return f.Name
}

// HasOptions reports whether the field restricts input to its options.
func (f Field) HasOptions() bool {
	return (f.Type == TypeSelect || f.Type == TypeRadio) && len(f.Options) > 0
}

// Step is one page or section of the storefront checkout.
type Step struct {
	StepID     string  `json:"stepId" yaml:"stepId"`
	Name       string  `json:"name" yaml:"name"`
	Order      int     `json:"order" yaml:"order"`
	Fields     []Field `json:"fields" yaml:"fields"`
	IsTerminal bool    `json:"isTerminal,omitempty" yaml:"isTerminal,omitempty"`
}
