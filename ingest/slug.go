package ingest

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Slug turns a Vietnamese title into a stable, diacritic-free form_id:
// normalize to decomposed form, strip combining marks (including the
// Vietnamese-specific đ/Đ stroke handled separately), lowercase, and
// collapse anything non-alphanumeric into single hyphens.
func Slug(title string) string {
	folded := foldDiacritics(title)
	folded = strings.ToLower(folded)

	var b strings.Builder
	lastHyphen := false
	for _, r := range folded {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(r)
			lastHyphen = false
		default:
			if !lastHyphen && b.Len() > 0 {
				b.WriteByte('-')
				lastHyphen = true
			}
		}
	}

	slug := strings.Trim(b.String(), "-")
	if slug == "" {
		slug = "form"
	}
	return slug
}

// foldDiacritics removes combining marks left after NFD decomposition and
// maps đ/Đ (which do not decompose) to d.
func foldDiacritics(s string) string {
	s = strings.NewReplacer("đ", "d", "Đ", "D").Replace(s)
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(t, s)
	if err != nil {
		return s
	}
	return out
}
