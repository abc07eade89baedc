package detector

import (
	"math"
	"regexp"

	"vnforms.dev/db/repository"
)

// keywordPattern is one semantic field's Vietnamese/English anchor regex.
type keywordPattern struct {
	fieldID string
	re      *regexp.Regexp
}

var keywordPatterns = []keywordPattern{
	{"phone", regexp.MustCompile(`(?i)(số\s*)?điện\s*thoại|phone|sdt`)},
	{"email", regexp.MustCompile(`(?i)e-?mail`)},
	{"name", regexp.MustCompile(`(?i)họ\s*(và)?\s*tên|full\s*name|họ\s*tên`)},
	{"dob", regexp.MustCompile(`(?i)ngày\s*sinh|date\s*of\s*birth`)},
	{"address", regexp.MustCompile(`(?i)địa\s*chỉ|address`)},
	{"id_number", regexp.MustCompile(`(?i)(số\s*)?(cmnd|cccd|chứng\s*minh)`)},
	{"position", regexp.MustCompile(`(?i)chức\s*vụ|position`)},
	{"department", regexp.MustCompile(`(?i)phòng\s*ban|department`)},
	{"education", regexp.MustCompile(`(?i)trình\s*độ|education`)},
	{"company", regexp.MustCompile(`(?i)công\s*ty|company`)},
}

// keywordAnchoredFallback implements Strategy B (spec.md §4.4): for every
// keyword match in the OCR output, attach the nearest underline below in
// the same column, or synthesize a fallback position to the right of the
// label baseline when no underline qualifies.
func keywordAnchoredFallback(words []word, underlines []rect) []repository.FieldPosition {
	var positions []repository.FieldPosition
	seen := map[string]bool{}

	for _, w := range words {
		for _, kp := range keywordPatterns {
			if !kp.re.MatchString(w.Text) || seen[kp.fieldID] {
				continue
			}
			seen[kp.fieldID] = true

			if u, ok := nearestUnderlineBelow(w, underlines); ok {
				positions = append(positions, repository.FieldPosition{
					FieldID: kp.fieldID,
					Label:   w.Text,
					BBox:    repository.BBox{X: u.X, Y: u.Y, Width: u.W, Height: u.H, Page: 1},
				})
				continue
			}

			positions = append(positions, repository.FieldPosition{
				FieldID: kp.fieldID,
				Label:   w.Text,
				BBox:    repository.BBox{X: w.X + w.W + 10, Y: w.Y, Width: 200, Height: w.H, Page: 1},
			})
		}
	}
	return positions
}

func nearestUnderlineBelow(w word, underlines []rect) (rect, bool) {
	var best rect
	bestDist := math.MaxFloat64
	found := false

	for _, u := range underlines {
		sameColumn := math.Abs(u.X-w.X) < 200
		gap := u.Y - w.Y
		if !sameColumn || gap < 0 || gap > 80 {
			continue
		}
		if gap < bestDist {
			best = u
			bestDist = gap
			found = true
		}
	}
	return best, found
}
