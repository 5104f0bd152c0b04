package fields

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"sync"

	validatorv10 "github.com/go-playground/validator/v10"
)

// RuleKind names a validation rule.
type RuleKind string

const (
	RuleNone   RuleKind = ""
	RuleEmail  RuleKind = "rfc5322_email"
	RulePhone  RuleKind = "brazil_phone"
	RuleCEP    RuleKind = "brazil_cep"
	RuleRegex  RuleKind = "regex"
	RuleLength RuleKind = "length"
	RuleEnum   RuleKind = "enum"
)

// Canonical patterns. EmailPattern is a practical subset of RFC 5322.
const (
	EmailPattern = `^[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}$`
	CEPPattern   = `^\d{5}[- ]?\d{3}$`
	PhonePattern = `^(?:\+?55)?[ .-]?(?:\(?\d{2}\)?)?[ .-]?\d{4,5}[- ]?\d{4}$`
)

var (
	emailRe = regexp.MustCompile(EmailPattern)
	cepRe   = regexp.MustCompile(CEPPattern)
	phoneRe = regexp.MustCompile(PhonePattern)
)

// Rule is a parsed validation rule. The textual forms are the named rules,
// "regex:<pattern>", "length:<min>,<max>" (either bound may be empty) and
// "enum:<a>|<b>|...".
type Rule struct {
	Kind    RuleKind
	Pattern string
	Min     int
	Max     int
	Values  []string
}

// String renders the rule back to its textual form.
func (r Rule) String() string {
	switch r.Kind {
	case RuleRegex:
		return "regex:" + r.Pattern
	case RuleLength:
		lo, hi := "", ""
		if r.Min > 0 {
			lo = strconv.Itoa(r.Min)
		}
		if r.Max > 0 {
			hi = strconv.Itoa(r.Max)
		}
		return "length:" + lo + "," + hi
	case RuleEnum:
		return "enum:" + strings.Join(r.Values, "|")
	default:
		return string(r.Kind)
	}
}

// ParseRule parses the textual form of a rule. An empty string yields RuleNone.
func ParseRule(s string) (Rule, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Rule{Kind: RuleNone}, nil
	}
	switch RuleKind(s) {
	case RuleEmail, RulePhone, RuleCEP:
		return Rule{Kind: RuleKind(s)}, nil
	}

	kind, arg, ok := strings.Cut(s, ":")
	if !ok {
		return Rule{}, fmt.Errorf("unknown validation rule %q", s)
	}
	switch RuleKind(kind) {
	case RuleRegex:
		if _, err := compilePattern(arg); err != nil {
			return Rule{}, fmt.Errorf("regex rule: %w", err)
		}
		return Rule{Kind: RuleRegex, Pattern: arg}, nil
	case RuleLength:
		lo, hi, _ := strings.Cut(arg, ",")
		r := Rule{Kind: RuleLength}
		var err error
		if r.Min, err = atoiOrZero(lo); err != nil {
			return Rule{}, fmt.Errorf("length rule min: %w", err)
		}
		if r.Max, err = atoiOrZero(hi); err != nil {
			return Rule{}, fmt.Errorf("length rule max: %w", err)
		}
		if r.Max > 0 && r.Min > r.Max {
			return Rule{}, fmt.Errorf("length rule: min %d > max %d", r.Min, r.Max)
		}
		return r, nil
	case RuleEnum:
		var values []string
		for _, v := range strings.Split(arg, "|") {
			if v = strings.TrimSpace(v); v != "" {
				values = append(values, v)
			}
		}
		if len(values) == 0 {
			return Rule{}, fmt.Errorf("enum rule needs at least one value")
		}
		return Rule{Kind: RuleEnum, Values: values}, nil
	}
	return Rule{}, fmt.Errorf("unknown validation rule %q", s)
}

func atoiOrZero(s string) (int, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, err
	}
	if n < 0 {
		return 0, fmt.Errorf("negative bound %d", n)
	}
	return n, nil
}

// Result is the outcome of a rule check.
type Result struct {
	OK      bool
	Message string
}

// MatchesRule checks value against rule using the default locale messages.
func MatchesRule(value string, rule Rule) Result {
	return defaultValidator.MatchesRule(value, rule)
}

var (
	validateOnce sync.Once
	validate     *validatorv10.Validate
)

// engine returns the shared validator with the named rules registered as tags.
func engine() *validatorv10.Validate {
	validateOnce.Do(func() {
		v := validatorv10.New()
		_ = v.RegisterValidation(string(RuleEmail), matchRegexp(emailRe))
		_ = v.RegisterValidation(string(RuleCEP), matchRegexp(cepRe))
		_ = v.RegisterValidation(string(RulePhone), func(fl validatorv10.FieldLevel) bool {
			return IsBrazilPhone(fl.Field().String())
		})
		validate = v
	})
	return validate
}

func matchRegexp(re *regexp.Regexp) validatorv10.Func {
	return func(fl validatorv10.FieldLevel) bool {
		return re.MatchString(fl.Field().String())
	}
}

// IsBrazilPhone accepts an optional +55 country code, an optional area code
// and a 4-5 digit prefix, requiring 10 or 11 local digits overall.
func IsBrazilPhone(s string) bool {
	s = strings.TrimSpace(s)
	if !phoneRe.MatchString(s) {
		return false
	}
	digits := digitsOnly(s)
	if strings.HasPrefix(strings.TrimLeft(s, " "), "+55") || (len(digits) > 11 && strings.HasPrefix(digits, "55")) {
		digits = digits[2:]
	}
	return len(digits) == 10 || len(digits) == 11
}

func digitsOnly(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

var patternCache sync.Map // pattern -> *regexp.Regexp

// compilePattern anchors the whole of pattern and caches the compiled
// form. Anchors already in pattern are kept as written.
func compilePattern(pattern string) (*regexp.Regexp, error) {
	if re, ok := patternCache.Load(pattern); ok {
		return re.(*regexp.Regexp), nil
	}
	anchored := "^(?:" + pattern + ")$"
	re, err := regexp.Compile(anchored)
	if err != nil {
		return nil, err
	}
	patternCache.Store(pattern, re)
	return re, nil
}
