package logging

import (
	"bytes"
	"strings"
	"testing"
)

func TestConfigureLevel(t *testing.T) {
	defer SetGlobalLogger(Logger)

	var buf bytes.Buffer
	Configure(&buf, "info", false)
	Debug().Msg("hidden")
	Info().Str("schema", "sales").Msg("visible")

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Fatalf("debug event written at info level: %q", out)
	}
	if !strings.Contains(out, "visible") || !strings.Contains(out, "schema=sales") {
		t.Fatalf("expected info event with field, got %q", out)
	}
}

func TestConfigureUnknownLevel(t *testing.T) {
	defer SetGlobalLogger(Logger)

	var buf bytes.Buffer
	Configure(&buf, "chatty", false)
	Info().Msg("dropped")
	Warn().Msg("kept")

	out := buf.String()
	if strings.Contains(out, "dropped") || !strings.Contains(out, "kept") {
		t.Fatalf("expected warn fallback, got %q", out)
	}
}
