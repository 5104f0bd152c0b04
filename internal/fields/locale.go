package fields

import (
	"strings"

	"golang.org/x/text/language"
)

// Locale selects a message catalog.
type Locale int

const (
	LocalePortuguese Locale = iota
	LocaleKorean
	LocaleEnglish
)

// order matches the Locale constants; the first entry is the fallback.
var supportedTags = []language.Tag{
	language.BrazilianPortuguese,
	language.Korean,
	language.AmericanEnglish,
}

var localeMatcher = language.NewMatcher(supportedTags)

// ResolveLocale maps a BCP 47 string such as "pt-BR" or "ko" to the closest
// supported locale. Unknown or empty input resolves to Brazilian Portuguese.
func ResolveLocale(s string) Locale {
	s = strings.TrimSpace(s)
	if s == "" {
		return LocalePortuguese
	}
	tag, err := language.Parse(s)
	if err != nil {
		return LocalePortuguese
	}
	_, idx, conf := localeMatcher.Match(tag)
	if conf == language.No {
		return LocalePortuguese
	}
	return Locale(idx)
}

// Tag returns the BCP 47 tag of the locale.
func (l Locale) Tag() language.Tag {
	if int(l) < 0 || int(l) >= len(supportedTags) {
		return supportedTags[0]
	}
	return supportedTags[l]
}

func (l Locale) String() string { return l.Tag().String() }
