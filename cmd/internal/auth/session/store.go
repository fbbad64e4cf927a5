package session

import (
	"context"
	"strings"
	"time"
	"unicode/utf8"
)

// UserSession is one device's login.
type UserSession struct {
	ID          string
	UserID      string
	RefreshHash string
	UserAgent   string
	IP          string
	IPAddressID *int64
	CreatedAt   time.Time
	UpdatedAt   time.Time
	ExpiresAt   time.Time
}

// IsExpired reports whether s is no longer usable at now.
func (s UserSession) IsExpired(now time.Time) bool {
	return !now.Before(s.ExpiresAt)
}

// maxUserAgentLen bounds what is stored and matched on.
const maxUserAgentLen = 512

// Fingerprint identifies a device for the one-session-per-device rule.
type Fingerprint struct {
	UserAgent string
	IP        string
}

func (f Fingerprint) normalized() Fingerprint {
	// Postgres TEXT rejects invalid UTF-8, and net/http passes raw high bytes.
	ua := strings.ToValidUTF8(strings.TrimSpace(f.UserAgent), "\uFFFD")
	if len(ua) > maxUserAgentLen {
		n := maxUserAgentLen
		for n > 0 && !utf8.RuneStart(ua[n]) {
			n--
		}
		ua = ua[:n]
	}
	return Fingerprint{UserAgent: ua, IP: strings.TrimSpace(f.IP)}
}

// ExtendInput controls Extend.
//
// ExpectRefreshHash, when set, must equal the stored hash.
// NewRefreshHash, when set, replaces the stored hash (rotation).
type ExtendInput struct {
	ExpectRefreshHash string
	NewRefreshHash    string
	TTL               time.Duration
}

// Store is the persistence boundary for sessions.
type Store interface {
	// Upsert creates or refreshes the session for (userID, fp).
	Upsert(ctx context.Context, now time.Time, userID string, fp Fingerprint, refreshHash string, ttl time.Duration) (UserSession, error)

	Get(ctx context.Context, id string) (UserSession, error)
	GetByRefreshHash(ctx context.Context, refreshHash string) (UserSession, error)

	// Extend pushes expires_at forward. Nothing changes unless it returns nil.
	Extend(ctx context.Context, now time.Time, id string, in ExtendInput) (UserSession, error)

	Delete(ctx context.Context, id string) error
	DeleteAllForUser(ctx context.Context, userID string) (int64, error)
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
	ListForUser(ctx context.Context, userID string) ([]UserSession, error)
}

// nextExpiry never moves an expiry backwards.
func nextExpiry(old, now time.Time, ttl time.Duration) time.Time {
	exp := now.Add(ttl)
	if !exp.After(old) {
		exp = old.Add(time.Microsecond)
	}
	return exp
}
