package ui

import (
	"bytes"
	"strings"
	"testing"
)

func TestNormalizeAccentColor(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
		ok       bool
	}{
		{name: "empty", input: "", expected: "", ok: false},
		{name: "none", input: "none", expected: "", ok: false},
		{name: "ansi code", input: "39", expected: "39", ok: true},
		{name: "ansi with whitespace", input: "  244 ", expected: "244", ok: true},
		{name: "ansi out of range", input: "256", expected: "", ok: false},
		{name: "hex 6", input: "#7AA2F7", expected: "#7aa2f7", ok: true},
		{name: "hex 3", input: "#abc", expected: "#aabbcc", ok: true},
		{name: "bad hex", input: "#zzzzzz", expected: "", ok: false},
		{name: "bad string", input: "blue", expected: "", ok: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := normalizeAccentColor(tt.input)
			if ok != tt.ok {
				t.Fatalf("expected ok=%v, got %v", tt.ok, ok)
			}
			if got != tt.expected {
				t.Fatalf("expected %q, got %q", tt.expected, got)
			}
		})
	}
}

func TestConfigureTheme(t *testing.T) {
	origAccent, origColor, origTheme := Accent, accentColor, codeTheme
	t.Cleanup(func() {
		Accent, accentColor, codeTheme = origAccent, origColor, origTheme
	})

	ConfigureTheme("39", "dracula")
	if got, ok := AccentColor(); !ok || got != "39" {
		t.Fatalf("expected accent 39, got %q %v", got, ok)
	}
	if style := markdownStyle(); style.CodeBlock.Theme != "dracula" {
		t.Fatalf("expected code theme dracula, got %q", style.CodeBlock.Theme)
	}

	ConfigureTheme("off", "")
	if _, ok := AccentColor(); ok {
		t.Fatalf("expected accent color to be disabled")
	}
	if style := markdownStyle(); style.CodeBlock.Theme != "monokai" {
		t.Fatalf("expected default code theme, got %q", style.CodeBlock.Theme)
	}
}

func TestRenderMarkdownNormalizesTrailingNewline(t *testing.T) {
	out, err := RenderMarkdown("# sales-order\n\n```sql\nSELECT 1\n```\n", 80)
	if err != nil {
		t.Fatalf("RenderMarkdown() error = %v", err)
	}
	if !strings.HasSuffix(out, "\n") || strings.HasSuffix(out, "\n\n") {
		t.Fatalf("expected a single trailing newline, got %q", out)
	}
	if !strings.Contains(out, "sales-order") {
		t.Fatalf("heading missing from %q", out)
	}
}

func TestResultsTable(t *testing.T) {
	tbl := NewResultsTable(NewDisplayContextWithWidth(80), []string{"region", "amount"})
	tbl.AddRows([]map[string]any{
		{"region": "W", "amount": 12345.5, "count": int64(2)},
		{"region": "E", "amount": 10.0, "count": int64(1)},
	})
	if tbl.Len() != 2 {
		t.Fatalf("expected 2 rows, got %d", tbl.Len())
	}
	out := tbl.Render()
	for _, want := range []string{"region", "amount", "count", "12,345.5", "W"} {
		if !strings.Contains(out, want) {
			t.Fatalf("expected %q in:\n%s", want, out)
		}
	}
	if strings.Index(out, "amount") > strings.Index(out, "count") {
		t.Fatalf("extra columns should follow the given order:\n%s", out)
	}
	if !tbl.numeric[1] || tbl.numeric[0] {
		t.Fatalf("unexpected numeric columns %v", tbl.numeric)
	}
}

func TestFormatValue(t *testing.T) {
	tests := []struct {
		in   any
		want string
	}{
		{int64(1234567), "1,234,567"},
		{35.0, "35"},
		{2.25, "2.25"},
		{"2025-Q1", "2025-Q1"},
		{true, "true"},
	}
	for _, tt := range tests {
		if got := FormatValue(tt.in); got != tt.want {
			t.Errorf("FormatValue(%v) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestCount(t *testing.T) {
	if got := Count(1, "row", "rows"); got != "1 row" {
		t.Errorf("got %q", got)
	}
	if got := Count(12345, "row", "rows"); got != "12,345 rows" {
		t.Errorf("got %q", got)
	}
}

func TestSpinnerWithoutTerminal(t *testing.T) {
	var buf bytes.Buffer
	s := NewSpinner(&buf, "Loading")
	s.Start()
	s.Stop()
	if buf.String() != "Loading...\n" {
		t.Fatalf("unexpected spinner output %q", buf.String())
	}
}

func TestTruncateWithEllipsis(t *testing.T) {
	if got := TruncateWithEllipsis("Amsterdam", 5); got != "Amst…" {
		t.Errorf("got %q", got)
	}
	if got := TruncateWithEllipsis("Oslo", 5); got != "Oslo" {
		t.Errorf("got %q", got)
	}
}
