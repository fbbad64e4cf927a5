package session

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
	"unicode/utf8"
)

// hashOf builds a 64-char fake refresh hash.
func hashOf(c string) string { return strings.Repeat(c, 64) }

var t0 = time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)

// runStoreContract exercises the behaviour every Store must share.
// newUser returns a fresh user id that satisfies any foreign keys.
func runStoreContract(t *testing.T, s Store, newUser func(t *testing.T) string) {
	ctx := context.Background()
	fp := Fingerprint{UserAgent: "Mozilla/5.0 test", IP: "203.0.113.7"}

	t.Run("upsert keeps one row per fingerprint", func(t *testing.T) {
		uid := newUser(t)

		first, err := s.Upsert(ctx, t0, uid, fp, hashOf("a"), time.Hour)
		if err != nil {
			t.Fatalf("Upsert: %v", err)
		}
		second, err := s.Upsert(ctx, t0.Add(time.Minute), uid, fp, hashOf("b"), time.Hour)
		if err != nil {
			t.Fatalf("Upsert again: %v", err)
		}
		if second.ID != first.ID {
			t.Fatalf("id changed: %s -> %s", first.ID, second.ID)
		}
		if second.ExpiresAt.Before(first.ExpiresAt) {
			t.Fatalf("expiry went backwards")
		}
		if second.RefreshHash != hashOf("b") {
			t.Fatalf("refresh hash not overwritten")
		}

		other, err := s.Upsert(ctx, t0, uid, Fingerprint{UserAgent: "curl/8", IP: fp.IP}, hashOf("c"), time.Hour)
		if err != nil {
			t.Fatalf("Upsert other device: %v", err)
		}
		if other.ID == first.ID {
			t.Fatalf("different fingerprint reused id")
		}

		list, err := s.ListForUser(ctx, uid)
		if err != nil || len(list) != 2 {
			t.Fatalf("ListForUser = %d rows, %v", len(list), err)
		}

		got, err := s.GetByRefreshHash(ctx, hashOf("b"))
		if err != nil || got.ID != first.ID {
			t.Fatalf("GetByRefreshHash = %+v, %v", got, err)
		}
	})

	t.Run("user agent is stored as valid utf8 within the limit", func(t *testing.T) {
		uid := newUser(t)
		uas := []string{
			strings.Repeat("a", maxUserAgentLen-1) + "é",
			"Mozilla/5.0 \xff\xfe broken",
		}
		for i, ua := range uas {
			us, err := s.Upsert(ctx, t0, uid, Fingerprint{UserAgent: ua, IP: fp.IP}, hashOf(string(rune('p'+i))), time.Hour)
			if err != nil {
				t.Fatalf("Upsert(%q): %v", ua, err)
			}
			if !utf8.ValidString(us.UserAgent) || len(us.UserAgent) > maxUserAgentLen {
				t.Fatalf("stored user agent %q (len %d) is not valid bounded utf8", us.UserAgent, len(us.UserAgent))
			}
		}
		list, err := s.ListForUser(ctx, uid)
		if err != nil || len(list) != 2 {
			t.Fatalf("ListForUser = %d rows, %v", len(list), err)
		}
		for _, us := range list {
			if !utf8.ValidString(us.UserAgent) {
				t.Fatalf("listed user agent %q is invalid utf8", us.UserAgent)
			}
		}
	})

	t.Run("extend moves expiry forward and keeps id", func(t *testing.T) {
		uid := newUser(t)
		us, err := s.Upsert(ctx, t0, uid, fp, hashOf("d"), time.Hour)
		if err != nil {
			t.Fatalf("Upsert: %v", err)
		}

		ext, err := s.Extend(ctx, t0.Add(30*time.Minute), us.ID, ExtendInput{TTL: time.Hour})
		if err != nil {
			t.Fatalf("Extend: %v", err)
		}
		if ext.ID != us.ID || !ext.ExpiresAt.After(us.ExpiresAt) {
			t.Fatalf("Extend = %+v (was %+v)", ext, us)
		}

		// A ttl that would shorten the session still nudges it forward.
		nudged, err := s.Extend(ctx, t0.Add(31*time.Minute), us.ID, ExtendInput{TTL: time.Minute})
		if err != nil {
			t.Fatalf("Extend short: %v", err)
		}
		if !nudged.ExpiresAt.After(ext.ExpiresAt) {
			t.Fatalf("expiry not monotonic: %s <= %s", nudged.ExpiresAt, ext.ExpiresAt)
		}
	})

	t.Run("extend rotates only on matching hash", func(t *testing.T) {
		uid := newUser(t)
		us, err := s.Upsert(ctx, t0, uid, fp, hashOf("e"), time.Hour)
		if err != nil {
			t.Fatalf("Upsert: %v", err)
		}

		_, err = s.Extend(ctx, t0.Add(time.Minute), us.ID, ExtendInput{
			ExpectRefreshHash: hashOf("0"),
			NewRefreshHash:    hashOf("f"),
			TTL:               time.Hour,
		})
		if !errors.Is(err, ErrCredentialMismatch) {
			t.Fatalf("expected ErrCredentialMismatch, got %v", err)
		}
		unchanged, _ := s.Get(ctx, us.ID)
		if unchanged.RefreshHash != hashOf("e") || !unchanged.ExpiresAt.Equal(us.ExpiresAt) {
			t.Fatalf("mismatch mutated row: %+v", unchanged)
		}

		rot, err := s.Extend(ctx, t0.Add(time.Minute), us.ID, ExtendInput{
			ExpectRefreshHash: hashOf("e"),
			NewRefreshHash:    hashOf("f"),
			TTL:               time.Hour,
		})
		if err != nil || rot.RefreshHash != hashOf("f") {
			t.Fatalf("rotate = %+v, %v", rot, err)
		}
	})

	t.Run("expired sessions are not extended and get swept", func(t *testing.T) {
		uid := newUser(t)
		us, err := s.Upsert(ctx, t0, uid, fp, hashOf("1"), time.Minute)
		if err != nil {
			t.Fatalf("Upsert: %v", err)
		}
		if !us.IsExpired(t0.Add(time.Minute)) {
			t.Fatalf("IsExpired at exact expiry should be true")
		}

		_, err = s.Extend(ctx, t0.Add(2*time.Minute), us.ID, ExtendInput{TTL: time.Hour})
		if !errors.Is(err, ErrExpired) {
			t.Fatalf("expected ErrExpired, got %v", err)
		}
		still, _ := s.Get(ctx, us.ID)
		if !still.ExpiresAt.Equal(us.ExpiresAt) {
			t.Fatalf("expired extend mutated expiry")
		}

		n, err := s.DeleteExpired(ctx, t0.Add(2*time.Minute))
		if err != nil || n < 1 {
			t.Fatalf("DeleteExpired = %d, %v", n, err)
		}
		if _, err := s.Get(ctx, us.ID); !errors.Is(err, ErrNotFound) {
			t.Fatalf("expected ErrNotFound after sweep, got %v", err)
		}
	})

	t.Run("delete is idempotent", func(t *testing.T) {
		uid := newUser(t)
		us, err := s.Upsert(ctx, t0, uid, fp, hashOf("2"), time.Hour)
		if err != nil {
			t.Fatalf("Upsert: %v", err)
		}
		if err := s.Delete(ctx, us.ID); err != nil {
			t.Fatalf("Delete: %v", err)
		}
		if err := s.Delete(ctx, us.ID); err != nil {
			t.Fatalf("Delete again: %v", err)
		}
		if _, err := s.Extend(ctx, t0, us.ID, ExtendInput{TTL: time.Hour}); !errors.Is(err, ErrNotFound) {
			t.Fatalf("expected ErrNotFound, got %v", err)
		}
	})

	t.Run("delete all for user", func(t *testing.T) {
		uid := newUser(t)
		for i, ua := range []string{"a", "b", "c"} {
			if _, err := s.Upsert(ctx, t0, uid, Fingerprint{UserAgent: ua}, hashOf(string(rune('3'+i))), time.Hour); err != nil {
				t.Fatalf("Upsert: %v", err)
			}
		}
		n, err := s.DeleteAllForUser(ctx, uid)
		if err != nil || n != 3 {
			t.Fatalf("DeleteAllForUser = %d, %v", n, err)
		}
		n, err = s.DeleteAllForUser(ctx, uid)
		if err != nil || n != 0 {
			t.Fatalf("second DeleteAllForUser = %d, %v", n, err)
		}
	})
}
