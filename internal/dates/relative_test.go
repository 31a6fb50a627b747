package dates

import (
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

func TestResolveRelativeDateKeyword(t *testing.T) {
	now := time.Date(2025, 2, 15, 10, 30, 0, 0, time.UTC)

	res, ok := ResolveRelativeDateKeyword(" Tomorrow ", now, time.Monday)
	if !ok {
		t.Fatalf("expected tomorrow to resolve")
	}
	if res.Kind != RelativeDateInstant || !res.Date.Equal(time.Date(2025, 2, 16, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("unexpected resolution: %+v", res)
	}

	if _, ok := ResolveRelativeDateKeyword("next-week", now, time.Monday); ok {
		t.Fatalf("expected unknown keyword to fail")
	}
}

func TestIsCalendarForm(t *testing.T) {
	if !IsCalendarForm(map[string]any{"year": 2025, "month": 2}) {
		t.Fatalf("expected year+month to be a calendar form")
	}
	if IsCalendarForm(map[string]any{"month": 2}) {
		t.Fatalf("year is required")
	}
	if IsCalendarForm(map[string]any{"year": 2025, "$gte": "2025-01-01"}) {
		t.Fatalf("operator keys are not calendar keys")
	}
	if IsCalendarForm("2025") {
		t.Fatalf("scalars are not calendar forms")
	}
}

func TestNormalizeCalendarForm(t *testing.T) {
	tests := []struct {
		in   map[string]any
		want map[string]any
	}{
		{map[string]any{"year": 2025, "month": 2}, map[string]any{"$gte": "2025-02-01", "$lte": "2025-02-28"}},
		{map[string]any{"year": 2024, "month": float64(2)}, map[string]any{"$gte": "2024-02-01", "$lte": "2024-02-29"}},
		{map[string]any{"year": 2025, "quarter": 3}, map[string]any{"$gte": "2025-07-01", "$lte": "2025-09-30"}},
		{map[string]any{"year": 2025}, map[string]any{"$gte": "2025-01-01", "$lte": "2025-12-31"}},
		{map[string]any{"year": 2025, "month": 3, "day": 9}, map[string]any{"$gte": "2025-03-09", "$lte": "2025-03-09"}},
	}
	for _, tt := range tests {
		got, err := NormalizeCalendarForm(tt.in)
		if err != nil {
			t.Fatalf("NormalizeCalendarForm(%v): %v", tt.in, err)
		}
		if diff := cmp.Diff(tt.want, got); diff != "" {
			t.Fatalf("NormalizeCalendarForm(%v) mismatch (-want +got):\n%s", tt.in, diff)
		}
	}

	if _, err := NormalizeCalendarForm(map[string]any{"year": 2025, "month": 13}); err == nil {
		t.Fatalf("expected month out of range error")
	}
	if _, err := NormalizeCalendarForm(map[string]any{"year": "2025"}); err == nil {
		t.Fatalf("expected non-integer year error")
	}
}
