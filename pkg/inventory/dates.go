package inventory

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// coerceDate parses a `date` field, tolerating DD/MM/YYYY and
// YYYY-MM-DD, normalizing to YYYY-MM-DD (spec §4.E "Coerce declared
// date... tolerating input formats").
func coerceDate(v any) (any, bool) {
	s, ok := v.(string)
	if !ok {
		return nil, false
	}
	s = strings.TrimSpace(s)

	for _, layout := range []string{"2006-01-02", "02/01/2006"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.Format("2006-01-02"), true
		}
	}
	return nil, false
}

// coerceDateTime parses a `datetime` field, tolerating
// "YYYY-MM-DD HH:MM" (seconds padded with :00) and a trailing
// timezone offset or "Z" (spec §4.E).
func coerceDateTime(v any) (any, bool) {
	s, ok := v.(string)
	if !ok {
		return nil, false
	}
	s = strings.TrimSpace(s)

	layouts := []string{
		"2006-01-02 15:04:05Z07:00",
		"2006-01-02 15:04:05Z",
		"2006-01-02 15:04:05",
		"2006-01-02 15:04",
	}
	for _, layout := range layouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.Format("2006-01-02 15:04:05"), true
		}
	}
	return nil, false
}

// coerceBiosDate parses BIOS.BDATE, which additionally tolerates
// month/day inversion (spec §4.E "BIOS.BDATE uses month/day inversion
// tolerance"): if the primary YYYY-MM-DD parse fails validity (e.g.
// month > 12), the day and month fields are swapped before retrying.
func coerceBiosDate(v any) (any, bool) {
	if out, ok := coerceDate(v); ok {
		return out, ok
	}
	s, ok := v.(string)
	if !ok {
		return nil, false
	}
	parts := strings.Split(strings.TrimSpace(s), "-")
	if len(parts) != 3 {
		return nil, false
	}
	year, err1 := strconv.Atoi(parts[0])
	a, err2 := strconv.Atoi(parts[1])
	b, err3 := strconv.Atoi(parts[2])
	if err1 != nil || err2 != nil || err3 != nil {
		return nil, false
	}
	swapped := fmt.Sprintf("%04d-%02d-%02d", year, b, a)
	return coerceDate(swapped)
}
