package ingest

import (
	"regexp"
	"strings"
)

// aliasKeywords maps a Vietnamese form-category keyword to the alias it
// contributes when found in the OCR text or title — a supplemental feature
// beyond form_id/title so forms can be found by common name as well as by
// their literal title (e.g. "đơn xin nghỉ phép" also matching "don-xin-nghi-phep").
var aliasKeywords = []struct {
	pattern *regexp.Regexp
	alias   string
}{
	{regexp.MustCompile(`(?i)đơn\s+xin\s+nghỉ\s+phép`), "don-xin-nghi-phep"},
	{regexp.MustCompile(`(?i)sơ\s*yếu\s*lý\s*lịch`), "so-yeu-ly-lich"},
	{regexp.MustCompile(`(?i)hợp\s+đồng\s+lao\s+động`), "hop-dong-lao-dong"},
	{regexp.MustCompile(`(?i)đơn\s+xin\s+việc`), "don-xin-viec"},
	{regexp.MustCompile(`(?i)giấy\s+khai\s+sinh`), "giay-khai-sinh"},
	{regexp.MustCompile(`(?i)đăng\s*ký\s+kết\s+hôn`), "dang-ky-ket-hon"},
	{regexp.MustCompile(`(?i)tờ\s+khai\s+(thuế|hải\s+quan)`), "to-khai"},
	{regexp.MustCompile(`(?i)giấy\s+ủy\s+quyền`), "giay-uy-quyen"},
}

// ExtractAliases scans a form's title and OCR text for known category
// keywords and returns the distinct aliases found.
func ExtractAliases(title, ocrText string) []string {
	haystack := title + "\n" + ocrText
	seen := map[string]bool{}
	var aliases []string
	for _, kw := range aliasKeywords {
		if kw.pattern.MatchString(haystack) && !seen[kw.alias] {
			seen[kw.alias] = true
			aliases = append(aliases, kw.alias)
		}
	}
	return aliases
}

// hasVietnameseDiacritics reports whether s contains any Vietnamese
// diacritic-bearing letters, used to decide whether title synthesis should
// even bother consulting C10 (spec.md §4.3 step 6).
func hasVietnameseDiacritics(s string) bool {
	for _, r := range strings.ToLower(s) {
		if strings.ContainsRune("ăâđêôơưàằầậắặẹẻẽìỉĩòọỏốồộớờợùụủứừựỳỵỷỹ", r) {
			return true
		}
		if r > 0x1EA0 && r < 0x1EF9 {
			return true
		}
	}
	return false
}
