package utils

import (
	"strings"

	"golang.org/x/text/language"
)

// DefaultLocale is used when nothing in the request matches.
const DefaultLocale = "en"

// SupportedLocales are the locales the server has labels for.
var SupportedLocales = []string{"en", "pt"}

// DetermineLocale resolves the locale for a request. An explicit queryLang
// wins when it matches a supported locale; otherwise the Accept-Language
// header is matched against supported (regional variants such as pt-BR map to
// their base language). def is returned when neither matches.
func DetermineLocale(queryLang, acceptLang string, supported []string, def string) string {
	tags := make([]language.Tag, 0, len(supported))
	bases := make([]string, 0, len(supported))
	for _, s := range supported {
		t, err := language.Parse(s)
		if err != nil {
			continue
		}
		tags = append(tags, t)
		bases = append(bases, strings.ToLower(s))
	}
	if len(tags) == 0 {
		return def
	}
	matcher := language.NewMatcher(tags)

	pick := func(prefs []language.Tag) (string, bool) {
		if len(prefs) == 0 {
			return "", false
		}
		_, idx, conf := matcher.Match(prefs...)
		if conf == language.No {
			return "", false
		}
		return bases[idx], true
	}

	if q := strings.TrimSpace(queryLang); q != "" {
		if t, err := language.Parse(q); err == nil {
			if v, ok := pick([]language.Tag{t}); ok {
				return v
			}
		}
	}
	if acceptLang != "" {
		if prefs, _, err := language.ParseAcceptLanguage(acceptLang); err == nil {
			if v, ok := pick(prefs); ok {
				return v
			}
		}
	}
	return def
}
