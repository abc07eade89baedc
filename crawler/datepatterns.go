package crawler

import (
	"regexp"
	"strings"
	"time"
)

// datePatterns are the Vietnamese date shapes a crawled page's HTML/text
// may carry, checked in order. Informational only: spec.md's
// CrawledDocument has no "page date" field, so a match is logged, not
// persisted.
var datePatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)(Thứ Hai|Thứ Ba|Thứ Tư|Thứ Năm|Thứ Sáu|Thứ Bảy|Chủ Nhật),\s*(\d{1,2}/\d{1,2}/\d{4})`),
	regexp.MustCompile(`\d{1,2}/\d{1,2}/\d{4}`),
	regexp.MustCompile(`\d{4}-\d{1,2}-\d{1,2}`),
}

// extractMostRecentDate scans text for every date pattern and returns the
// latest date found, for diagnostic logging of how stale a crawled source
// looks.
func extractMostRecentDate(text string) (time.Time, bool) {
	var latest time.Time
	found := false

	for _, re := range datePatterns {
		for _, m := range re.FindAllString(text, -1) {
			if dt, ok := parseVietnameseDate(m); ok {
				if !found || dt.After(latest) {
					latest = dt
					found = true
				}
			}
		}
	}
	return latest, found
}

func parseVietnameseDate(s string) (time.Time, bool) {
	s = stripWeekdayPrefix(s)
	if dt, err := time.Parse("02/01/2006", s); err == nil && dt.Year() >= 2000 {
		return dt, true
	}
	if dt, err := time.Parse("2006-01-02", s); err == nil && dt.Year() >= 2000 {
		return dt, true
	}
	return time.Time{}, false
}

// stripWeekdayPrefix removes a leading "Thứ Hai, " style weekday label,
// leaving just the numeric date.
func stripWeekdayPrefix(s string) string {
	if idx := strings.LastIndexByte(s, ','); idx >= 0 {
		s = s[idx+1:]
	}
	return strings.TrimSpace(s)
}
