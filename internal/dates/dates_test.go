package dates

import (
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

func TestIsValidDate(t *testing.T) {
	valid := []string{"2025-01-01", "2024-12-31", "2000-06-15"}
	for _, d := range valid {
		if !IsValidDate(d) {
			t.Fatalf("expected %q to be valid", d)
		}
	}

	invalid := []string{"2025/01/01", "01-01-2025", "2025-13-01", "2025-01-32", "not-a-date", "", "2025-02-30"}
	for _, d := range invalid {
		if IsValidDate(d) {
			t.Fatalf("expected %q to be invalid", d)
		}
	}
}

func TestIsValidDatetime(t *testing.T) {
	valid := []string{
		"2025-01-01T10:30:00Z",
		"2025-01-01T10:30",
		"2025-01-01T10:30:45",
		"2025-01-01 10:30:45",
		"2025-06-15T14:00:00+05:00",
	}
	for _, dt := range valid {
		if !IsValidDatetime(dt) {
			t.Fatalf("expected %q to be valid", dt)
		}
	}

	invalid := []string{"2025-01-01", "10:30", "not-a-datetime", ""}
	for _, dt := range invalid {
		if IsValidDatetime(dt) {
			t.Fatalf("expected %q to be invalid", dt)
		}
	}
}

func TestParseInstant(t *testing.T) {
	now := time.Date(2025, 2, 15, 10, 0, 0, 0, time.UTC)
	tests := []struct {
		in   any
		want time.Time
	}{
		{"2025-01-31", time.Date(2025, 1, 31, 0, 0, 0, 0, time.UTC)},
		{"2025-01-31T08:15:00Z", time.Date(2025, 1, 31, 8, 15, 0, 0, time.UTC)},
		{"2025-03", time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)},
		{"2025-Q2", time.Date(2025, 4, 1, 0, 0, 0, 0, time.UTC)},
		{"2024", time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)},
		{"yesterday", time.Date(2025, 2, 14, 0, 0, 0, 0, time.UTC)},
		{[]byte("2025-01-02"), time.Date(2025, 1, 2, 0, 0, 0, 0, time.UTC)},
	}
	for _, tt := range tests {
		got, ok := ParseInstant(tt.in, now)
		if !ok {
			t.Fatalf("ParseInstant(%v) failed", tt.in)
		}
		if !got.Equal(tt.want) {
			t.Fatalf("ParseInstant(%v) = %v, want %v", tt.in, got, tt.want)
		}
	}

	if _, ok := ParseInstant("not a date", now); ok {
		t.Fatalf("expected garbage to be rejected")
	}
	if _, ok := ParseInstant(42, now); ok {
		t.Fatalf("expected numbers to be rejected")
	}
}

func TestLabel(t *testing.T) {
	ts := time.Date(2025, 1, 30, 13, 0, 0, 0, time.UTC) // Thursday
	tests := map[Granularity]string{
		Day:     "2025-01-30",
		Week:    "2025-01-27",
		Month:   "2025-01",
		Quarter: "2025-Q1",
		Year:    "2025",
	}
	for g, want := range tests {
		if got := Label(ts, g); got != want {
			t.Fatalf("Label(%s) = %q, want %q", g, got, want)
		}
	}
}

func TestBuckets(t *testing.T) {
	lo := time.Date(2025, 1, 30, 0, 0, 0, 0, time.UTC)
	hi := time.Date(2025, 2, 2, 23, 0, 0, 0, time.UTC)

	got := Buckets(lo, hi, Day)
	want := []string{"2025-01-30", "2025-01-31", "2025-02-01", "2025-02-02"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("day buckets mismatch (-want +got):\n%s", diff)
	}

	got = Buckets(time.Date(2024, 11, 15, 0, 0, 0, 0, time.UTC), time.Date(2025, 2, 1, 0, 0, 0, 0, time.UTC), Month)
	want = []string{"2024-11", "2024-12", "2025-01", "2025-02"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("month buckets mismatch (-want +got):\n%s", diff)
	}

	if got := Buckets(hi, lo, Day); got != nil {
		t.Fatalf("expected nil for inverted range, got %v", got)
	}
}

func TestParseGranularity(t *testing.T) {
	if g, err := ParseGranularity(""); err != nil || g != Day {
		t.Fatalf("empty level should default to day, got %q err=%v", g, err)
	}
	if g, err := ParseGranularity("Month"); err != nil || g != Month {
		t.Fatalf("expected month, got %q err=%v", g, err)
	}
	if _, err := ParseGranularity("fortnight"); err == nil {
		t.Fatalf("expected error for unknown level")
	}
}
