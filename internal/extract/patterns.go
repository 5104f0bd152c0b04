package extract

import (
	"regexp"
	"slices"
	"strings"

	"github.com/imrishuroy/go-checkout-orchestrator/internal/fields"
)

var (
	emailFinder = regexp.MustCompile(`[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}`)
	cepFinder   = regexp.MustCompile(`\d{5}[- ]?\d{3}`)
	phoneFinder = regexp.MustCompile(`(?:\+?55[ .-]?)?(?:\(?\d{2}\)?[ .-]?)?\d{4,5}[- ]?\d{4}`)
)

// Deterministic finds email, phone and CEP shaped values for the matching
// targets. Other targets get no value.
func Deterministic(utterance string, targets []fields.Field) map[string]string {
	out := map[string]string{}
	for _, f := range targets {
		var v string
		switch patternKind(f) {
		case fields.RuleEmail:
			v = emailFinder.FindString(utterance)
		case fields.RulePhone:
			v = findBounded(phoneFinder, utterance, fields.IsBrazilPhone)
		case fields.RuleCEP:
			v = findBounded(cepFinder, utterance, nil)
		}
		if v = strings.TrimSpace(v); v != "" {
			out[f.Name] = v
		}
	}
	return out
}

func patternKind(f fields.Field) fields.RuleKind {
	switch f.Type {
	case fields.TypeEmail:
		return fields.RuleEmail
	case fields.TypeTel:
		return fields.RulePhone
	case fields.TypePostalCode:
		return fields.RuleCEP
	}
	if r, err := fields.ParseRule(f.Validation); err == nil {
		switch r.Kind {
		case fields.RuleEmail, fields.RulePhone, fields.RuleCEP:
			return r.Kind
		}
	}
	return fields.RuleNone
}

// findBounded returns the first match not embedded in a longer digit run.
func findBounded(re *regexp.Regexp, s string, accept func(string) bool) string {
	for _, loc := range re.FindAllStringIndex(s, -1) {
		if loc[0] > 0 && isDigit(s[loc[0]-1]) {
			continue
		}
		if loc[1] < len(s) && isDigit(s[loc[1]]) {
			continue
		}
		m := s[loc[0]:loc[1]]
		if accept == nil || accept(m) {
			return m
		}
	}
	return ""
}

func isDigit(b byte) bool { return b >= '0' && b <= '9' }

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}
