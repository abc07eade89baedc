package detector

import (
	"regexp"
	"strings"

	"vnforms.dev/db/repository"
)

var preferredFonts = []string{"times", "liberation serif", "arial", "helvetica", "liberation sans"}

var baseFontRe = regexp.MustCompile(`/BaseFont\s*/([A-Za-z0-9,+_#\-]+)`)

// detectFont inspects the PDF's font dictionary entries and picks a
// primary font following the preference order in spec.md §4.4: Times or
// Liberation first, then Arial/Helvetica, else a default. Up to five
// observed font names are recorded for C9 to work with.
//
// Font names are read by scanning the raw PDF bytes for /BaseFont entries
// rather than through pdfcpu's object model: pdfcpu's public api package
// exposes font embedding and validation, not a documented call to list the
// font names already in use on a page.
func detectFont(pdfBytes []byte) repository.FontInfo {
	names := listFontNames(pdfBytes)
	if len(names) == 0 {
		return repository.FontInfo{Primary: "Helvetica", Size: 12}
	}

	primary := names[0]
outer:
	for _, pref := range preferredFonts {
		for _, n := range names {
			if strings.Contains(strings.ToLower(n), pref) {
				primary = n
				break outer
			}
		}
	}

	observed := names
	if len(observed) > 5 {
		observed = observed[:5]
	}

	return repository.FontInfo{Primary: primary, Size: 12, ObservedNames: observed}
}

func listFontNames(pdfBytes []byte) []string {
	matches := baseFontRe.FindAllSubmatch(pdfBytes, -1)
	seen := map[string]bool{}
	var names []string
	for _, m := range matches {
		name := cleanFontName(string(m[1]))
		if name == "" || seen[name] {
			continue
		}
		seen[name] = true
		names = append(names, name)
	}
	return names
}

// cleanFontName strips a PDF subset tag prefix like "ABCDEF+" from a
// /BaseFont value.
func cleanFontName(name string) string {
	if idx := strings.Index(name, "+"); idx == 6 {
		return name[idx+1:]
	}
	return name
}
