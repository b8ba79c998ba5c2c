package catalog

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// leadingArticles are tried in order; only the first match is removed.
var leadingArticles = []string{"the", "a", "an"}

// Normalize reduces an artist name to a comparison key: accents removed,
// lower-cased, only ASCII letters and digits kept, and one leading article
// stripped. The article is stripped as a raw prefix, so "ABBA" becomes "bba".
func Normalize(s string) string {
	// Chained transformers carry state, so each call builds its own.
	stripMarks := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	if out, _, err := transform.String(stripMarks, s); err == nil {
		s = out
	}

	s = strings.ToLower(s)

	var sb strings.Builder
	sb.Grow(len(s))
	for _, r := range s {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			sb.WriteRune(r)
		}
	}
	key := sb.String()

	for _, article := range leadingArticles {
		if rest, ok := strings.CutPrefix(key, article); ok {
			return rest
		}
	}
	return key
}

// Matches reports whether candidate is an acceptable hit for query: the
// normalized query must appear within the normalized candidate.
func Matches(query, candidate string) bool {
	return strings.Contains(Normalize(candidate), Normalize(query))
}
