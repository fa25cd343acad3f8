package domain

import (
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

var slugDisallowed = regexp.MustCompile(`[^a-z0-9\s-]`)
var slugWhitespace = regexp.MustCompile(`[\s-]+`)

// Slugify normalizes s into a kebab-case slug: NFD-normalize, strip
// diacritics, drop everything outside [a-z0-9\s-], collapse whitespace
// and dashes into single dashes, trim, cap at 100 runes. Idempotent:
// Slugify(Slugify(s)) == Slugify(s).
func Slugify(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	folded, _, err := transform.String(t, s)
	if err != nil {
		folded = s
	}
	folded = strings.ToLower(folded)
	folded = slugDisallowed.ReplaceAllString(folded, "")
	folded = slugWhitespace.ReplaceAllString(folded, "-")
	folded = strings.Trim(folded, "-")
	if len(folded) > 100 {
		folded = strings.Trim(folded[:100], "-")
	}
	return folded
}
