package session

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strconv"
	"strings"
	"sync/atomic"
	"testing"
	"time"
	"unicode/utf8"
)

func TestMemoryStore_Contract(t *testing.T) {
	t.Parallel()

	var n atomic.Int64
	runStoreContract(t, NewMemoryStore(), func(t *testing.T) string {
		return "user-" + strconv.FormatInt(n.Add(1), 10)
	})
}

func TestMemoryStore_UpsertHealsDuplicates(t *testing.T) {
	t.Parallel()

	m := NewMemoryStore()
	fp := Fingerprint{UserAgent: "ua", IP: "198.51.100.1"}
	m.rows["x1"] = UserSession{ID: "x1", UserID: "u", UserAgent: "ua", IP: fp.IP, ExpiresAt: t0.Add(time.Hour)}
	m.rows["x2"] = UserSession{ID: "x2", UserID: "u", UserAgent: "ua", IP: fp.IP, ExpiresAt: t0.Add(time.Hour)}

	us, err := m.Upsert(context.Background(), t0, "u", fp, hashOf("9"), time.Hour)
	if err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	if us.ID == "x1" || us.ID == "x2" {
		t.Fatalf("expected a fresh id, got %s", us.ID)
	}
	list, _ := m.ListForUser(context.Background(), "u")
	if len(list) != 1 {
		t.Fatalf("expected 1 row, got %d", len(list))
	}
}

func TestMemoryStore_RejectsNonPositiveTTL(t *testing.T) {
	t.Parallel()

	m := NewMemoryStore()
	if _, err := m.Upsert(context.Background(), t0, "u", Fingerprint{}, hashOf("a"), 0); !errors.Is(err, ErrConfig) {
		t.Fatalf("expected ErrConfig, got %v", err)
	}
}

func TestSweeper_SweepOnce(t *testing.T) {
	t.Parallel()

	m := NewMemoryStore()
	ctx := context.Background()
	if _, err := m.Upsert(ctx, t0, "u", Fingerprint{UserAgent: "old"}, hashOf("a"), time.Minute); err != nil {
		t.Fatal(err)
	}
	if _, err := m.Upsert(ctx, t0, "u", Fingerprint{UserAgent: "new"}, hashOf("b"), 24*time.Hour); err != nil {
		t.Fatal(err)
	}

	sw := NewSweeper(m, Config{SweepInterval: time.Hour}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	sw.now = func() time.Time { return t0.Add(time.Hour) }
	var reported int64
	sw.OnSwept = func(n int64) { reported = n }

	n, err := sw.SweepOnce(ctx)
	if err != nil || n != 1 || reported != 1 {
		t.Fatalf("SweepOnce = %d (reported %d), %v", n, reported, err)
	}
	list, _ := m.ListForUser(ctx, "u")
	if len(list) != 1 || list[0].UserAgent != "new" {
		t.Fatalf("unexpected survivors: %+v", list)
	}
}

func TestSweeper_RunStopsOnCancel(t *testing.T) {
	t.Parallel()

	sw := NewSweeper(NewMemoryStore(), Config{SweepInterval: time.Millisecond}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		sw.Run(ctx)
		close(done)
	}()
	time.Sleep(5 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestFingerprint_NormalizedUserAgent(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		in   string
		want string
	}{
		{"trimmed", "  curl/8  ", "curl/8"},
		{"cut before split rune", strings.Repeat("a", maxUserAgentLen-1) + "é", strings.Repeat("a", maxUserAgentLen-1)},
		{"invalid bytes replaced", "agent\xffx", "agent\uFFFDx"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := Fingerprint{UserAgent: tt.in}.normalized().UserAgent
			if got != tt.want {
				t.Fatalf("normalized(%q) = %q, want %q", tt.in, got, tt.want)
			}
			if !utf8.ValidString(got) {
				t.Fatalf("normalized(%q) is invalid utf8", tt.in)
			}
		})
	}
}
