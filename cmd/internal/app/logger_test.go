package app

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"
)

func TestParseLogLevel(t *testing.T) {
	t.Parallel()

	cases := []struct {
		in   string
		want slog.Level
	}{
		{in: "debug", want: slog.LevelDebug},
		{in: "INFO", want: slog.LevelInfo},
		{in: "warn", want: slog.LevelWarn},
		{in: "warning", want: slog.LevelWarn},
		{in: "error", want: slog.LevelError},
		{in: "unknown", want: slog.LevelInfo},
		{in: "", want: slog.LevelInfo},
	}

	for _, tc := range cases {
		got := parseLogLevel(tc.in)
		if got != tc.want {
			t.Fatalf("parseLogLevel(%q)=%v want=%v", tc.in, got, tc.want)
		}
	}
}

// NewLogger replaces slog's default, so these tests do not run in parallel.
func TestNewLogger_Formats(t *testing.T) {
	prev := slog.Default()
	t.Cleanup(func() { slog.SetDefault(prev) })

	var buf bytes.Buffer
	NewLogger("warn", "json", &buf).Info("dropped")
	NewLogger("warn", "json", &buf).Warn("session.sweep.fail", "removed", 0)

	var rec map[string]any
	if err := json.Unmarshal(buf.Bytes(), &rec); err != nil {
		t.Fatalf("expected a single JSON record, got %q: %v", buf.String(), err)
	}
	if rec["msg"] != "session.sweep.fail" {
		t.Fatalf("msg=%v", rec["msg"])
	}

	buf.Reset()
	NewLogger("info", "text", &buf).Info("server.start", "addr", ":8080")
	if !strings.Contains(buf.String(), "msg=server.start") {
		t.Fatalf("text output = %q", buf.String())
	}

	buf.Reset()
	NewLogger("info", "pretty", &buf).Info("server.start")
	if strings.Contains(buf.String(), "\x1b[") {
		t.Fatalf("pretty output to a buffer must not be coloured: %q", buf.String())
	}
}
