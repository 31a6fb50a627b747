package dates

import (
	"fmt"
	"strings"
	"time"
)

// RelativeDateKind describes whether a relative date keyword resolves to a single date.
type RelativeDateKind int

const (
	RelativeDateUnknown RelativeDateKind = iota
	RelativeDateInstant
)

// RelativeDateResolution is the resolved representation of a relative date keyword.
type RelativeDateResolution struct {
	Keyword string
	Kind    RelativeDateKind
	Date    time.Time
}

var relativeDateKeywords = map[string]struct{}{
	"today":     {},
	"tomorrow":  {},
	"yesterday": {},
}

// NormalizeRelativeDateKeyword normalizes and validates a relative date keyword.
// Returns the canonical keyword and true when valid.
func NormalizeRelativeDateKeyword(value string) (string, bool) {
	normalized := strings.ToLower(strings.TrimSpace(value))
	if _, ok := relativeDateKeywords[normalized]; !ok {
		return "", false
	}
	return normalized, true
}

// ResolveRelativeDateKeyword resolves a relative date keyword using the provided "now".
func ResolveRelativeDateKeyword(value string, now time.Time, _ time.Weekday) (RelativeDateResolution, bool) {
	keyword, ok := NormalizeRelativeDateKeyword(value)
	if !ok {
		return RelativeDateResolution{}, false
	}

	anchor := startOfDay(now)
	switch keyword {
	case "today":
		return instantResolution(keyword, anchor), true
	case "tomorrow":
		return instantResolution(keyword, anchor.AddDate(0, 0, 1)), true
	case "yesterday":
		return instantResolution(keyword, anchor.AddDate(0, 0, -1)), true
	default:
		return RelativeDateResolution{}, false
	}
}

func startOfDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}

func instantResolution(keyword string, date time.Time) RelativeDateResolution {
	return RelativeDateResolution{
		Keyword: keyword,
		Kind:    RelativeDateInstant,
		Date:    startOfDay(date),
	}
}

var calendarKeys = map[string]struct{}{
	"year":    {},
	"quarter": {},
	"month":   {},
	"day":     {},
}

// IsCalendarForm reports whether v is a calendar selector such as
// {year: 2025, month: 2}. Every key must be a calendar unit and year is required.
func IsCalendarForm(v any) bool {
	m, ok := v.(map[string]any)
	if !ok || len(m) == 0 {
		return false
	}
	if _, ok := m["year"]; !ok {
		return false
	}
	for k := range m {
		if _, ok := calendarKeys[k]; !ok {
			return false
		}
	}
	return true
}

// CalendarRange resolves a calendar selector into the closed range it covers.
// {year: 2025, month: 2} covers 2025-02-01 through 2025-02-28.
func CalendarRange(v any) (lo, hi time.Time, err error) {
	if !IsCalendarForm(v) {
		return time.Time{}, time.Time{}, fmt.Errorf("not a calendar selector: %v", v)
	}
	m := v.(map[string]any)

	year, err := calendarInt(m, "year")
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	lo = time.Date(year, time.January, 1, 0, 0, 0, 0, time.UTC)
	next := func(t time.Time) time.Time { return t.AddDate(1, 0, 0) }

	if _, ok := m["quarter"]; ok {
		q, err := calendarInt(m, "quarter")
		if err != nil {
			return time.Time{}, time.Time{}, err
		}
		if q < 1 || q > 4 {
			return time.Time{}, time.Time{}, fmt.Errorf("quarter out of range: %d", q)
		}
		lo = time.Date(year, time.Month((q-1)*3+1), 1, 0, 0, 0, 0, time.UTC)
		next = func(t time.Time) time.Time { return t.AddDate(0, 3, 0) }
	}
	if _, ok := m["month"]; ok {
		mo, err := calendarInt(m, "month")
		if err != nil {
			return time.Time{}, time.Time{}, err
		}
		if mo < 1 || mo > 12 {
			return time.Time{}, time.Time{}, fmt.Errorf("month out of range: %d", mo)
		}
		lo = time.Date(year, time.Month(mo), 1, 0, 0, 0, 0, time.UTC)
		next = func(t time.Time) time.Time { return t.AddDate(0, 1, 0) }
	}
	if _, ok := m["day"]; ok {
		d, err := calendarInt(m, "day")
		if err != nil {
			return time.Time{}, time.Time{}, err
		}
		lo = time.Date(lo.Year(), lo.Month(), d, 0, 0, 0, 0, time.UTC)
		next = func(t time.Time) time.Time { return t.AddDate(0, 0, 1) }
	}
	return lo, next(lo).Add(-time.Nanosecond), nil
}

// NormalizeCalendarForm rewrites a calendar selector into {$gte, $lte} date strings.
func NormalizeCalendarForm(v any) (map[string]any, error) {
	lo, hi, err := CalendarRange(v)
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"$gte": lo.Format("2006-01-02"),
		"$lte": hi.Format("2006-01-02"),
	}, nil
}

func calendarInt(m map[string]any, key string) (int, error) {
	switch n := m[key].(type) {
	case int:
		return n, nil
	case int64:
		return int(n), nil
	case float64:
		if n != float64(int(n)) {
			return 0, fmt.Errorf("%s must be an integer, got %v", key, n)
		}
		return int(n), nil
	default:
		return 0, fmt.Errorf("%s must be an integer, got %T", key, m[key])
	}
}
