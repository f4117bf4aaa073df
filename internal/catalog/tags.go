package catalog

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Tag is one genre or country label in both of its representations: the
// human display name ("Hành Động") and the machine slug ("hanh-dong").
// Both forms are persisted so filtering by either one matches.
type Tag struct {
	Name string `json:"name"`
	Slug string `json:"slug"`
}

// TagSet is an ordered collection of tags for one item.
type TagSet []Tag

// NewTag builds a Tag, deriving the slug from the name when the upstream
// source did not provide one.
func NewTag(name, slug string) Tag {
	name = strings.TrimSpace(name)
	slug = strings.TrimSpace(slug)
	if slug == "" {
		slug = Slugify(name)
	}
	return Tag{Name: name, Slug: slug}
}

// TagSetFromNames derives a TagSet from bare display names, slugifying each.
// Used by the enrichment pass, whose source reports names only.
func TagSetFromNames(names []string) TagSet {
	set := make(TagSet, 0, len(names))
	for _, n := range names {
		if strings.TrimSpace(n) == "" {
			continue
		}
		set = append(set, NewTag(n, ""))
	}
	return set
}

// Terms flattens the set into the persisted form: name then slug per tag,
// order preserved. Each element is an exact-match search term under the
// store's GIN index.
func (s TagSet) Terms() []string {
	terms := make([]string, 0, 2*len(s))
	for _, t := range s {
		terms = append(terms, t.Name, t.Slug)
	}
	return terms
}

// TagSetFromTerms reverses Terms. A trailing unpaired element is dropped.
func TagSetFromTerms(terms []string) TagSet {
	set := make(TagSet, 0, len(terms)/2)
	for i := 0; i+1 < len(terms); i += 2 {
		set = append(set, Tag{Name: terms[i], Slug: terms[i+1]})
	}
	return set
}

// Display renders the legacy combined string, e.g.
// "Hành Động, hanh-dong, Phiêu Lưu, phieu-luu". Substring filtering on
// either representation succeeds against it.
func (s TagSet) Display() string {
	return strings.Join(s.Terms(), ", ")
}

// Names returns the display names only.
func (s TagSet) Names() []string {
	names := make([]string, 0, len(s))
	for _, t := range s {
		names = append(names, t.Name)
	}
	return names
}

// Contains reports whether term matches any tag by name or slug.
func (s TagSet) Contains(term string) bool {
	for _, t := range s {
		if t.Name == term || t.Slug == term {
			return true
		}
	}
	return false
}

// slugFolder strips combining marks so accented letters fold to their
// base form.
var slugFolder = transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

// Slugify lowercases a display name, folds diacritics to ASCII, and
// joins words with dashes, matching the upstream slug convention:
// "Hành Động" becomes "hanh-dong".
func Slugify(name string) string {
	name = strings.ToLower(strings.TrimSpace(name))
	if folded, _, err := transform.String(slugFolder, name); err == nil {
		name = folded
	}
	// Lowercase đ is a standalone letter, not a base plus mark.
	name = strings.ReplaceAll(name, "đ", "d")
	return strings.ReplaceAll(name, " ", "-")
}
