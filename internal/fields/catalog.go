package fields

import (
	"strings"

	"golang.org/x/text/unicode/norm"
)

// RequiredFieldsOf returns the required fields of step in declaration order.
func RequiredFieldsOf(step Step) []Field {
	var out []Field
	for _, f := range step.Fields {
		if f.Required {
			out = append(out, f)
		}
	}
	return out
}

// MissingFields returns the required fields of step whose value is absent
// from collected or blank after trimming.
func MissingFields(step Step, collected map[string]string) []Field {
	var out []Field
	for _, f := range RequiredFieldsOf(step) {
		if !IsCollected(collected, f.Name) {
			out = append(out, f)
		}
	}
	return out
}

// OpenFields returns every non-hidden field of step still without a value:
// the missing required fields first, then the optional ones.
func OpenFields(step Step, collected map[string]string) []Field {
	out := MissingFields(step, collected)
	for _, f := range step.Fields {
		if f.Required || f.Type == TypeHidden {
			continue
		}
		if !IsCollected(collected, f.Name) {
			out = append(out, f)
		}
	}
	return out
}

// IsCollected reports whether collected holds a non-blank value for name.
func IsCollected(collected map[string]string, name string) bool {
	v, ok := collected[name]
	return ok && strings.TrimSpace(v) != ""
}

// Names returns the names of fs.
func Names(fs []Field) []string {
	out := make([]string, 0, len(fs))
	for _, f := range fs {
		out = append(out, f.Name)
	}
	return out
}

// Normalize applies NFC normalization, trims and collapses internal
// whitespace runs to a single space.
func Normalize(s string) string {
	return strings.Join(strings.Fields(norm.NFC.String(s)), " ")
}
