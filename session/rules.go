package session

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"vnforms.dev/common"
	"vnforms.dev/db/repository"
)

// applyNormalizers runs a field's normalizers in declared order.
func applyNormalizers(value string, rules []repository.Rule) string {
	for _, r := range rules {
		value = applyNormalizer(value, r)
	}
	return value
}

// applyNormalizer interprets one normalizer Rule. Unknown kinds pass the
// value through unchanged rather than erroring — a closed set is specified
// in spec.md §4.5, but a forward-compatible schema should not crash a
// session over a field it doesn't recognize.
func applyNormalizer(value string, r repository.Rule) string {
	switch r.Kind {
	case "strip":
		return strings.TrimSpace(value)
	case "collapse_ws":
		return strings.Join(strings.Fields(value), " ")
	case "upper":
		return strings.ToUpper(value)
	case "lower":
		return strings.ToLower(value)
	case "title":
		return strings.Title(strings.ToLower(value))
	default:
		return value
	}
}

// applyValidators runs a field's validators in declared order, returning
// the first rejection message encountered.
func applyValidators(value string, rules []repository.Rule) error {
	for _, r := range rules {
		if err := applyValidator(value, r); err != nil {
			return err
		}
	}
	return nil
}

var dateRe = regexp.MustCompile(`^(\d{2})/(\d{2})/(\d{4})$`)

// applyValidator interprets one validator Rule, returning a user-facing
// ErrValidationFailed-wrapped message on rejection.
func applyValidator(value string, r repository.Rule) error {
	switch r.Kind {
	case "regex":
		pattern := r.Args["pattern"]
		if pattern == "" {
			return nil
		}
		re, err := regexp.Compile(pattern)
		if err != nil || !re.MatchString(value) {
			msg := r.Args["message"]
			if msg == "" {
				msg = "Giá trị không đúng định dạng."
			}
			return validationError(msg)
		}
	case "length":
		min, _ := strconv.Atoi(r.Args["min"])
		max, _ := strconv.Atoi(r.Args["max"])
		if max == 0 {
			max = 1 << 30
		}
		if len(value) < min || len(value) > max {
			return validationError(fmt.Sprintf("Độ dài phải từ %d đến %d ký tự.", min, max))
		}
	case "numeric_range":
		n, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
		if err != nil {
			return validationError("Giá trị phải là số.")
		}
		min, _ := strconv.ParseFloat(r.Args["min"], 64)
		max, _ := strconv.ParseFloat(r.Args["max"], 64)
		if max == 0 {
			max = 1e18
		}
		if n < min || n > max {
			return validationError(fmt.Sprintf("Giá trị phải trong khoảng %v đến %v.", min, max))
		}
	case "date_range":
		m := dateRe.FindStringSubmatch(value)
		if m == nil {
			return validationError("Ngày phải theo định dạng dd/mm/yyyy.")
		}
		day, _ := strconv.Atoi(m[1])
		month, _ := strconv.Atoi(m[2])
		year, _ := strconv.Atoi(m[3])
		parsed := time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC)
		if parsed.Day() != day || int(parsed.Month()) != month || parsed.Year() != year {
			return validationError("Ngày không hợp lệ.")
		}
		if minStr := r.Args["min"]; minStr != "" {
			if min, err := time.Parse("02/01/2006", minStr); err == nil && parsed.Before(min) {
				return validationError(fmt.Sprintf("Ngày phải từ %s trở đi.", minStr))
			}
		}
		if maxStr := r.Args["max"]; maxStr != "" {
			if max, err := time.Parse("02/01/2006", maxStr); err == nil && parsed.After(max) {
				return validationError(fmt.Sprintf("Ngày phải trước %s.", maxStr))
			}
		}
	}
	return nil
}

func validationError(message string) error {
	return common.ValidationFailed(message)
}
