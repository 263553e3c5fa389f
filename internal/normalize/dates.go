package normalize

import (
	"strings"
	"time"
)

// ParseYYYYMMDD extracts the digits from a registry date field and returns
// them when exactly eight remain. Registry responses carry dates as 20240101,
// 2024-01-01, or with stray whitespace; anything else is treated as absent.
func ParseYYYYMMDD(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	if b.Len() != 8 {
		return ""
	}
	return b.String()
}

// FormatISO renders a yyyymmdd digit string as 2006-01-02. Returns "" for
// input that is not eight digits or not a real calendar date.
func FormatISO(yyyymmdd string) string {
	t, err := time.Parse("20060102", yyyymmdd)
	if err != nil {
		return ""
	}
	return t.Format("2006-01-02")
}

// ParseClaimMonth parses the service month on a claim line. Claims carry
// either a full date or a year-month; both anchor to the first of the month
// for effective-date comparisons.
func ParseClaimMonth(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	if t, err := time.Parse("2006-01-02", s); err == nil {
		return t, true
	}
	if t, err := time.Parse("2006-01", s); err == nil {
		return t, true
	}
	return time.Time{}, false
}
