package models

import (
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// StoreIdentity is one downstream store a catalog can be replicated to. Slug
// doubles as a storage path component and must stay stable.
type StoreIdentity struct {
	ID      string `json:"id"`
	Slug    string `json:"slug"`
	Name    string `json:"name"`
	Address string `json:"address"`
}

func NewStoreIdentity(id, name, address string) StoreIdentity {
	return StoreIdentity{
		ID:      id,
		Slug:    StoreSlug(id, name),
		Name:    name,
		Address: address,
	}
}

// StoreSlug derives "<id>-<slugified name>".
func StoreSlug(id, name string) string {
	return id + "-" + Slugify(name)
}

var nonSlugChars = regexp.MustCompile(`[^a-z0-9]+`)

// Slugify strips diacritics, lower-cases and hyphenates s:
// "Saint-Jérôme" becomes "saint-jerome". Combining marks left by NFD and
// spacing accents such as "´" or "^" are dropped rather than hyphenated.
func Slugify(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.Predicate(func(r rune) bool { return unicode.In(r, unicode.Mn, unicode.Sk) })))
	stripped, _, err := transform.String(t, s)
	if err != nil {
		stripped = s
	}

	stripped = strings.ToLower(stripped)
	stripped = nonSlugChars.ReplaceAllString(stripped, "-")
	return strings.Trim(stripped, "-")
}
