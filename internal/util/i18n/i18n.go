// Package i18n looks up user facing strings in a catalog keyed by message id.
package i18n

import (
	"os"
	"strings"

	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"golang.org/x/text/message/catalog"
)

var translations = catalog.NewBuilder(catalog.Fallback(language.English))

// Register adds the translation of key for tag.
func Register(tag language.Tag, key, msg string) error {
	return translations.SetString(tag, key, msg)
}

// T translates key into the user's language. defaultValue is returned when
// the catalog has no entry for key.
func T(key string, defaultValue string) string {
	tag, _, confidence := translations.Matcher().Match(userLanguage())
	if confidence == language.No {
		return defaultValue
	}
	p := message.NewPrinter(tag, message.Catalog(translations))
	if got := p.Sprintf(key); got != key {
		return got
	}
	return defaultValue
}

// userLanguage reads the POSIX locale variables, e.g. de_DE.UTF-8.
func userLanguage() language.Tag {
	for _, env := range []string{"LC_ALL", "LC_MESSAGES", "LANG"} {
		v := os.Getenv(env)
		if v == "" || v == "C" || v == "POSIX" {
			continue
		}
		if i := strings.IndexAny(v, ".@"); i >= 0 {
			v = v[:i]
		}
		if tag, err := language.Parse(strings.ReplaceAll(v, "_", "-")); err == nil {
			return tag
		}
	}
	return language.English
}
