package fields

import (
	"fmt"
	"strings"
)

// FieldError reports a value that failed its field's validation.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// Validator checks values with messages in a fixed locale.
type Validator struct {
	locale Locale
	msgs   messageCatalog
}

var defaultValidator = NewValidator("")

// NewValidator returns a Validator whose messages follow locale.
func NewValidator(locale string) *Validator {
	l := ResolveLocale(locale)
	return &Validator{locale: l, msgs: catalogFor(l)}
}

// Locale returns the resolved locale.
func (v *Validator) Locale() Locale { return v.locale }

// MatchesRule checks value against rule. RuleNone always passes.
func (v *Validator) MatchesRule(value string, rule Rule) Result {
	ok := true
	switch rule.Kind {
	case RuleNone:
	case RuleEmail, RuleCEP, RulePhone:
		ok = engine().Var(value, string(rule.Kind)) == nil
	case RuleRegex:
		re, err := compilePattern(rule.Pattern)
		ok = err == nil && re.MatchString(value)
	case RuleLength:
		ok = engine().Var(value, lengthTag(rule)) == nil
	case RuleEnum:
		ok = false
		for _, allowed := range rule.Values {
			if strings.EqualFold(strings.TrimSpace(value), allowed) {
				ok = true
				break
			}
		}
	default:
		ok = false
	}
	if ok {
		return Result{OK: true}
	}
	return Result{OK: false, Message: v.msgs.forRule(rule)}
}

func lengthTag(r Rule) string {
	switch {
	case r.Min > 0 && r.Max > 0:
		return fmt.Sprintf("min=%d,max=%d", r.Min, r.Max)
	case r.Max > 0:
		return fmt.Sprintf("max=%d", r.Max)
	default:
		return fmt.Sprintf("min=%d", r.Min)
	}
}

// RuleFor returns the effective rule of f: its declared validation, or the
// implicit rule of its type.
func RuleFor(f Field) (Rule, error) {
	r, err := ParseRule(f.Validation)
	if err != nil {
		return Rule{}, err
	}
	if r.Kind == RuleNone && f.Type == TypeEmail {
		r.Kind = RuleEmail
	}
	return r, nil
}

// Check validates value for f and returns the value to store. Option fields
// store the matching option value; checkboxes store "true" or "false".
func (v *Validator) Check(f Field, value string) (string, *FieldError) {
	value = Normalize(value)

	if f.HasOptions() {
		for _, opt := range f.Options {
			if strings.EqualFold(value, opt.Value) || strings.EqualFold(value, opt.Text) {
				return opt.Value, nil
			}
		}
		return "", &FieldError{Field: f.Name, Message: v.optionsMessage(f.Options)}
	}

	if f.Type == TypeCheckbox {
		b, ok := parseYesNo(value)
		if !ok {
			return "", &FieldError{Field: f.Name, Message: v.msgs.checkbox}
		}
		if b {
			return "true", nil
		}
		return "false", nil
	}

	rule, err := RuleFor(f)
	if err != nil {
		return "", &FieldError{Field: f.Name, Message: v.msgs.pattern}
	}
	if res := v.MatchesRule(value, rule); !res.OK {
		return "", &FieldError{Field: f.Name, Message: res.Message}
	}
	return value, nil
}

func (v *Validator) optionsMessage(opts []Option) string {
	names := make([]string, 0, len(opts))
	for _, o := range opts {
		if o.Text != "" {
			names = append(names, o.Text)
		} else {
			names = append(names, o.Value)
		}
	}
	return fmt.Sprintf(v.msgs.oneOf, strings.Join(names, ", "))
}

func parseYesNo(s string) (bool, bool) {
	switch strings.ToLower(s) {
	case "true", "yes", "y", "sim", "s", "1", "on", "예", "네":
		return true, true
	case "false", "no", "n", "não", "nao", "0", "off", "아니오", "아니요":
		return false, true
	}
	return false, false
}
