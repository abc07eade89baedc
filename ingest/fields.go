package ingest

import (
	"fmt"
	"regexp"
	"strings"

	"vnforms.dev/db/repository"
	"vnforms.dev/llm"
)

// idTriplePattern recognizes a national-ID label so its issue-date/place
// neighbors can be folded into one compound field (spec.md §4.3 step 4:
// "detects compound triples").
var idTriplePattern = regexp.MustCompile(`(?i)cmnd|cccd|chứng\s*minh`)
var issueDatePattern = regexp.MustCompile(`(?i)ngày\s*cấp|cấp\s*ngày`)
var issuePlacePattern = regexp.MustCompile(`(?i)nơi\s*cấp|cấp\s*tại`)
var passportPattern = regexp.MustCompile(`(?i)hộ\s*chiếu|passport`)

// BuildFieldDescriptors turns the extracted flat field list into ordered
// FieldDescriptors, folding a national-ID/passport triple plus its
// issue-date and issue-place neighbors into one compound field.
func BuildFieldDescriptors(extracted []llm.ExtractedField) []repository.FieldDescriptor {
	var out []repository.FieldDescriptor
	usedID := map[string]bool{}

	for i, f := range extracted {
		id := fieldSlug(f.Label, i)
		if usedID[id] {
			continue
		}

		if idTriplePattern.MatchString(f.Label) || passportPattern.MatchString(f.Label) {
			compound, consumed := buildIDCompound(extracted, i, id)
			out = append(out, compound)
			for _, c := range consumed {
				usedID[c] = true
			}
			usedID[id] = true
			continue
		}

		out = append(out, repository.FieldDescriptor{
			ID:       id,
			Label:    f.Label,
			Type:     defaultType(f.Type),
			Required: true,
		})
		usedID[id] = true
	}

	return out
}

// buildIDCompound looks ahead up to two fields for an issue-date and
// issue-place label, folding whichever are present as subfields.
func buildIDCompound(extracted []llm.ExtractedField, idx int, id string) (repository.FieldDescriptor, []string) {
	field := extracted[idx]
	compound := repository.FieldDescriptor{
		ID:       id,
		Label:    field.Label,
		Type:     "compound",
		Required: true,
		Subfields: []repository.Subfield{
			{ID: "so", Label: field.Label, Type: "text", Prompt: "Số giấy tờ"},
		},
	}

	var consumed []string
	for j := idx + 1; j < len(extracted) && j <= idx+2; j++ {
		next := extracted[j]
		switch {
		case issueDatePattern.MatchString(next.Label):
			compound.Subfields = append(compound.Subfields, repository.Subfield{
				ID: "cap_ngay", Label: next.Label, Type: "date", Prompt: "Ngày cấp",
			})
			consumed = append(consumed, fieldSlug(next.Label, j))
		case issuePlacePattern.MatchString(next.Label):
			compound.Subfields = append(compound.Subfields, repository.Subfield{
				ID: "cap_tai", Label: next.Label, Type: "text", Prompt: "Nơi cấp",
			})
			consumed = append(consumed, fieldSlug(next.Label, j))
		}
	}

	if len(compound.Subfields) < 2 {
		// Not enough neighbors to justify a compound field — spec.md §3
		// requires ≥2 subfields; fall back to a single regular field.
		return repository.FieldDescriptor{ID: id, Label: field.Label, Type: defaultType(field.Type), Required: true}, nil
	}

	return compound, consumed
}

func defaultType(t string) string {
	switch t {
	case "text", "email", "tel", "date", "number", "textarea", "address":
		return t
	default:
		return "text"
	}
}

func fieldSlug(label string, index int) string {
	slug := Slug(label)
	if slug == "" || slug == "form" {
		return fmt.Sprintf("field_%d", index+1)
	}
	return slug
}

// AttachPositions fuzzy-matches each field's label against detected bbox
// labels (case-folded similarity ≥ 0.30, keep best) and attaches the
// winning bbox and page (spec.md §4.3 step 5).
func AttachPositions(fields []repository.FieldDescriptor, positions []repository.FieldPosition) {
	for i := range fields {
		best, score, ok := bestPositionFor(fields[i].Label, positions)
		if !ok || score < 0.30 {
			continue
		}
		bbox := best.BBox
		fields[i].BBox = &bbox
		fields[i].Page = bbox.Page
	}
}

func bestPositionFor(label string, positions []repository.FieldPosition) (repository.FieldPosition, float64, bool) {
	var best repository.FieldPosition
	bestScore := -1.0
	found := false
	for _, p := range positions {
		score := labelSimilarity(label, p.Label)
		if score > bestScore {
			best = p
			bestScore = score
			found = true
		}
	}
	return best, bestScore, found
}

// labelSimilarity is a case-folded token-overlap ratio: the fraction of
// the shorter label's word set present in the longer one. Cheap and good
// enough to discriminate "Họ tên" from "Ngày sinh" without a full edit
// distance implementation.
func labelSimilarity(a, b string) float64 {
	wa := tokenSet(a)
	wb := tokenSet(b)
	if len(wa) == 0 || len(wb) == 0 {
		return 0
	}

	shared := 0
	for w := range wa {
		if wb[w] {
			shared++
		}
	}

	shorter := len(wa)
	if len(wb) < shorter {
		shorter = len(wb)
	}
	return float64(shared) / float64(shorter)
}

func tokenSet(s string) map[string]bool {
	set := map[string]bool{}
	for _, w := range strings.Fields(strings.ToLower(s)) {
		w = strings.Trim(w, ":,.;")
		if w != "" {
			set[w] = true
		}
	}
	return set
}
