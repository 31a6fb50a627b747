package dates

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Granularity is the bucket size used when a temporal dimension is grouped.
type Granularity string

const (
	Day     Granularity = "day"
	Week    Granularity = "week"
	Month   Granularity = "month"
	Quarter Granularity = "quarter"
	Year    Granularity = "year"
)

// ParseGranularity normalizes a groupby level. Empty means Day.
func ParseGranularity(s string) (Granularity, error) {
	switch g := Granularity(strings.ToLower(strings.TrimSpace(s))); g {
	case "":
		return Day, nil
	case Day, Week, Month, Quarter, Year:
		return g, nil
	default:
		return "", fmt.Errorf("unknown date level %q", s)
	}
}

var (
	monthLabelRegex   = regexp.MustCompile(`^\d{4}-\d{2}$`)
	quarterLabelRegex = regexp.MustCompile(`^(\d{4})-Q([1-4])$`)
	yearLabelRegex    = regexp.MustCompile(`^\d{4}$`)
)

// Truncate returns the start of the bucket containing t. Weeks start on Monday.
func Truncate(t time.Time, g Granularity) time.Time {
	day := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
	switch g {
	case Week:
		offset := (int(day.Weekday()) + 6) % 7
		return day.AddDate(0, 0, -offset)
	case Month:
		return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, t.Location())
	case Quarter:
		m := ((int(t.Month())-1)/3)*3 + 1
		return time.Date(t.Year(), time.Month(m), 1, 0, 0, 0, 0, t.Location())
	case Year:
		return time.Date(t.Year(), time.January, 1, 0, 0, 0, 0, t.Location())
	default:
		return day
	}
}

// Next returns the start of the bucket following the one starting at t.
func Next(t time.Time, g Granularity) time.Time {
	switch g {
	case Week:
		return t.AddDate(0, 0, 7)
	case Month:
		return t.AddDate(0, 1, 0)
	case Quarter:
		return t.AddDate(0, 3, 0)
	case Year:
		return t.AddDate(1, 0, 0)
	default:
		return t.AddDate(0, 0, 1)
	}
}

// Label renders the canonical bucket label. Dialects produce the same labels
// in SQL so observed rows and synthesized buckets compare equal.
//
//	day     2025-01-31
//	week    2025-01-27 (the Monday)
//	month   2025-01
//	quarter 2025-Q1
//	year    2025
func Label(t time.Time, g Granularity) string {
	t = Truncate(t, g)
	switch g {
	case Month:
		return t.Format("2006-01")
	case Quarter:
		return fmt.Sprintf("%d-Q%d", t.Year(), (int(t.Month())-1)/3+1)
	case Year:
		return strconv.Itoa(t.Year())
	default:
		return t.Format("2006-01-02")
	}
}

func parseLabel(s string) (time.Time, bool) {
	switch {
	case monthLabelRegex.MatchString(s):
		t, err := time.Parse("2006-01", s)
		return t, err == nil
	case yearLabelRegex.MatchString(s):
		t, err := time.Parse("2006", s)
		return t, err == nil
	}
	if m := quarterLabelRegex.FindStringSubmatch(s); m != nil {
		year, _ := strconv.Atoi(m[1])
		q, _ := strconv.Atoi(m[2])
		return time.Date(year, time.Month((q-1)*3+1), 1, 0, 0, 0, 0, time.UTC), true
	}
	return time.Time{}, false
}

// Buckets enumerates every bucket label between lo and hi inclusive.
// It returns nil when hi is before lo.
func Buckets(lo, hi time.Time, g Granularity) []string {
	if hi.Before(lo) {
		return nil
	}
	var out []string
	end := Truncate(hi, g)
	for cur := Truncate(lo, g); !cur.After(end); cur = Next(cur, g) {
		out = append(out, Label(cur, g))
	}
	return out
}
