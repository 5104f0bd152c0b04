package deeplink

import (
	"slices"
	"strings"
)

var sensitiveNames = map[string]struct{}{
	"cardnumber":           {},
	"creditcardnumber":     {},
	"cvv":                  {},
	"securitycode":         {},
	"cardverificationcode": {},
	"password":             {},
	"senha":                {},
}

// IsSensitive reports whether a field name must never leave the service.
// Matching is exact and case-insensitive.
func IsSensitive(name string) bool {
	_, ok := sensitiveNames[strings.ToLower(strings.TrimSpace(name))]
	return ok
}

// Redact returns a copy of collected without sensitive keys, plus the
// sorted names that were removed.
func Redact(collected map[string]string) (map[string]string, []string) {
	out := make(map[string]string, len(collected))
	var removed []string
	for k, v := range collected {
		if IsSensitive(k) {
			removed = append(removed, k)
			continue
		}
		out[k] = v
	}
	slices.Sort(removed)
	return out, removed
}
