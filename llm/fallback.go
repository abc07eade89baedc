package llm

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"vnforms.dev/db/repository"
)

// FallbackCapability implements Capability with no remote dependency at
// all — it is also what RemoteCapability falls back to on timeout/error,
// so the two code paths never diverge.
type FallbackCapability struct{}

// NewFallbackCapability returns a Capability backed only by deterministic
// rules.
func NewFallbackCapability() *FallbackCapability {
	return &FallbackCapability{}
}

var keywordPatterns = []struct {
	label string
	typ   string
	re    *regexp.Regexp
}{
	{"Họ và tên", "text", regexp.MustCompile(`(?i)họ\s*(và)?\s*tên|full\s*name`)},
	{"Email", "email", regexp.MustCompile(`(?i)e-?mail`)},
	{"Số điện thoại", "tel", regexp.MustCompile(`(?i)(số\s*)?điện\s*thoại|phone`)},
	{"Ngày sinh", "date", regexp.MustCompile(`(?i)ngày\s*sinh|date\s*of\s*birth`)},
	{"Địa chỉ", "address", regexp.MustCompile(`(?i)địa\s*chỉ|address`)},
	{"Số CMND/CCCD", "text", regexp.MustCompile(`(?i)(số\s*)?(cmnd|cccd|chứng\s*minh)`)},
}

// ExtractFields runs the keyword-pattern extractor described in spec.md
// §4.3 step 4: recognize Vietnamese form idioms line by line.
func (FallbackCapability) ExtractFields(_ context.Context, ocrText string) ([]ExtractedField, error) {
	var fields []ExtractedField
	seen := map[string]bool{}
	for _, line := range strings.Split(ocrText, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		for _, kp := range keywordPatterns {
			if kp.re.MatchString(line) && !seen[kp.label] {
				fields = append(fields, ExtractedField{Label: kp.label, Type: kp.typ})
				seen[kp.label] = true
			}
		}
	}
	return fields, nil
}

var headerPatterns = regexp.MustCompile(`(?i)^(cộng hòa|chxhcn|độc lập|số:|no\.)`)

// SynthesizeTitle falls back to the first OCR line that isn't a known
// header pattern, truncated to 100 characters (spec.md §4.3 step 6).
func (FallbackCapability) SynthesizeTitle(_ context.Context, ocrText string) (string, error) {
	for _, line := range strings.Split(ocrText, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || headerPatterns.MatchString(line) {
			continue
		}
		if runes := []rune(line); len(runes) > 100 {
			line = string(runes[:100])
		}
		return line, nil
	}
	return "Biểu mẫu", nil
}

// ambiguousLabels need a concrete subject ("CMND", "hộ chiếu", ...) looked
// up from up to three preceding fields before they read as a question.
var ambiguousLabels = map[string]bool{
	"cấp ngày": true,
	"tại":      true,
	"nơi cấp":  true,
}

// GenerateQuestion renders deterministic fallback phrasing from the
// field's label and type, per spec.md §4.5's question-rendering rule.
func (FallbackCapability) GenerateQuestion(_ context.Context, field repository.FieldDescriptor, recentLabels []string) (string, error) {
	label := strings.ToLower(strings.TrimSpace(field.Label))
	prefix := ""
	if ambiguousLabels[label] {
		for i := len(recentLabels) - 1; i >= 0 && i >= len(recentLabels)-3; i-- {
			subject := findConcreteSubject(recentLabels[i])
			if subject != "" {
				prefix = subject + " "
				break
			}
		}
	}

	base := field.Label
	switch field.Type {
	case "date":
		return fmt.Sprintf("Vui lòng cho biết %s%s (dd/mm/yyyy):", prefix, strings.ToLower(base)), nil
	case "email":
		return fmt.Sprintf("Vui lòng cho biết địa chỉ email của bạn (%s):", base), nil
	case "tel":
		return fmt.Sprintf("Vui lòng cho biết %s%s:", prefix, strings.ToLower(base)), nil
	case "compound":
		return fmt.Sprintf("Vui lòng cung cấp thông tin về %s%s:", prefix, strings.ToLower(base)), nil
	default:
		return fmt.Sprintf("Vui lòng nhập %s%s:", prefix, strings.ToLower(base)), nil
	}
}

var subjectPattern = regexp.MustCompile(`(?i)(cmnd|cccd|hộ chiếu|chứng minh)`)

func findConcreteSubject(label string) string {
	m := subjectPattern.FindString(label)
	return strings.ToUpper(m)
}

// ValidateAnswer's rule-based fallback returns valid for every non-tel
// field: field-level normalizers/validators already ran before this is ever
// consulted, so the fallback has nothing additional to add (spec.md §4.5:
// "optionally ask C10 to classify the value"). A tel value with 1 to 8
// digits, shorter than a typical Vietnamese phone number, is flagged for
// confirmation instead of rejected outright, mirroring the S6 scenario in
// spec.md §8.
func (FallbackCapability) ValidateAnswer(_ context.Context, field repository.FieldDescriptor, value string) (Classification, string, error) {
	if field.Type == "tel" {
		digits := strings.Map(func(r rune) rune {
			if r >= '0' && r <= '9' {
				return r
			}
			return -1
		}, value)
		if len(digits) > 0 && len(digits) < 9 {
			return ClassificationNeedsConfirmation, "Số điện thoại này có vẻ ngắn, bạn có chắc không?", nil
		}
	}
	return ClassificationValid, "", nil
}

var compoundFallbackPatterns = map[string]*regexp.Regexp{
	"so":        regexp.MustCompile(`\d{9,12}`),
	"cap_ngay":  regexp.MustCompile(`\d{2}/\d{2}/\d{4}`),
	"cap_tai":   regexp.MustCompile(`(?i)tại\s+(.+)$`),
}

// ParseCompound's rule-based fallback extracts a national-ID number, an
// issue date, and an issue place from free text, per spec.md §8 scenario
// S4/S5. Only the subfield ids so, cap_ngay and cap_tai have patterns; any
// other subfield, and any of these whose pattern does not match, is
// reported in Missing.
func (FallbackCapability) ParseCompound(_ context.Context, field repository.FieldDescriptor, raw string) (CompoundResult, error) {
	result := CompoundResult{Parsed: map[string]string{}}
	for _, sub := range field.Subfields {
		if re, ok := compoundFallbackPatterns[sub.ID]; ok {
			if m := re.FindStringSubmatch(raw); m != nil {
				if len(m) > 1 {
					result.Parsed[sub.ID] = strings.TrimSpace(m[1])
				} else {
					result.Parsed[sub.ID] = m[0]
				}
				continue
			}
		}
		result.Missing = append(result.Missing, sub.ID)
	}
	result.NeedsClarification = len(result.Missing) > 0
	return result, nil
}

// RenderPreview's rule-based fallback is the deterministic "{label}: {value}"
// join from spec.md §4.5.
func (FallbackCapability) RenderPreview(_ context.Context, items []PreviewItem) (string, error) {
	lines := make([]string, 0, len(items))
	for _, it := range items {
		lines = append(lines, fmt.Sprintf("%s: %s", it.Label, it.Value))
	}
	return strings.Join(lines, "\n"), nil
}
