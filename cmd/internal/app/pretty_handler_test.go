package app

import (
	"bytes"
	"errors"
	"log/slog"
	"strings"
	"testing"
)

func TestPrettyHandler_PlainLine(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	log := slog.New(newPrettyHandler(&buf, &slog.HandlerOptions{Level: slog.LevelInfo}, false))

	log.With("component", "auth").Info("auth.login.fail",
		"reason", "bad password",
		"status", 400,
		slog.Group("req", "method", "post"),
	)
	log.Debug("hidden")

	line := buf.String()
	if strings.Count(line, "\n") != 1 {
		t.Fatalf("expected exactly one line, got %q", line)
	}
	for _, want := range []string{
		"INFO ",
		"auth.login.fail",
		"component=auth",
		`reason="bad password"`,
		"status=400",
		"req.method=POST",
	} {
		if !strings.Contains(line, want) {
			t.Fatalf("missing %q in %q", want, line)
		}
	}
	if strings.Contains(line, "\x1b[") {
		t.Fatalf("colour codes in plain output: %q", line)
	}
}

func TestPrettyHandler_ColorAndGroups(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	log := slog.New(newPrettyHandler(&buf, nil, true)).WithGroup("ws")

	log.Error("ws.push.drop", "err", errors.New("queue full"), "status", 503)

	line := buf.String()
	if !strings.Contains(line, ansiRed+"ERROR"+ansiReset) {
		t.Fatalf("error level not red: %q", line)
	}
	if !strings.Contains(line, "ws.status=") {
		t.Fatalf("group prefix missing: %q", line)
	}
}

func TestQuoteIfNeeded(t *testing.T) {
	t.Parallel()

	cases := map[string]string{
		"":      `""`,
		"plain": "plain",
		"a b":   `"a b"`,
		"k=v":   `"k=v"`,
	}
	for in, want := range cases {
		if got := quoteIfNeeded(in); got != want {
			t.Fatalf("quoteIfNeeded(%q)=%q want=%q", in, got, want)
		}
	}
}
