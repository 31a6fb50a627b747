// Package dates provides canonical date/datetime parsing and bucketing helpers.
//
// This package exists to avoid duplicating date parsing logic across:
// - value comparison (sort, having)
// - temporal totality bounds
// - dialect date bucketing labels
package dates

import (
	"fmt"
	"regexp"
	"strings"
	"time"
)

var (
	dateRegex = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}$`)
)

// IsValidDate checks if a string is a valid YYYY-MM-DD date.
func IsValidDate(s string) bool {
	if !dateRegex.MatchString(s) {
		return false
	}
	_, err := time.Parse("2006-01-02", s)
	return err == nil
}

// ParseDate parses a YYYY-MM-DD date.
func ParseDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if !IsValidDate(s) {
		return time.Time{}, fmt.Errorf("invalid date: %q", s)
	}
	return time.Parse("2006-01-02", s)
}

// IsValidDatetime checks if a string is a valid datetime.
//
// Accepted formats:
// - RFC3339 (e.g. 2025-01-01T10:30:00Z, 2025-06-15T14:00:00+05:00)
// - YYYY-MM-DDTHH:MM
// - YYYY-MM-DDTHH:MM:SS
// - YYYY-MM-DD HH:MM:SS (SQL timestamp text)
func IsValidDatetime(s string) bool {
	_, err := ParseDatetime(s)
	return err == nil
}

// ParseDatetime parses a datetime in one of the accepted formats.
func ParseDatetime(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, fmt.Errorf("invalid datetime: empty")
	}

	formats := []string{
		time.RFC3339,
		"2006-01-02T15:04",
		"2006-01-02T15:04:05",
		"2006-01-02 15:04:05",
	}
	for _, format := range formats {
		if t, err := time.Parse(format, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid datetime: %q", s)
}

// ParseInstant parses any temporal value the analytics layer produces or accepts:
// time.Time, dates, datetimes, bucket labels (see Label) and relative keywords.
func ParseInstant(v any, now time.Time) (time.Time, bool) {
	switch tv := v.(type) {
	case time.Time:
		return tv, true
	case *time.Time:
		if tv == nil {
			return time.Time{}, false
		}
		return *tv, true
	case []byte:
		return ParseInstant(string(tv), now)
	case string:
		s := strings.TrimSpace(tv)
		if t, err := ParseDatetime(s); err == nil {
			return t, true
		}
		if t, err := ParseDate(s); err == nil {
			return t, true
		}
		if t, ok := parseLabel(s); ok {
			return t, true
		}
		if res, ok := ResolveRelativeDateKeyword(s, now, time.Monday); ok {
			return res.Date, true
		}
	}
	return time.Time{}, false
}
