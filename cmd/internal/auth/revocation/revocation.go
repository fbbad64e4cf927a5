// Package revocation keeps the blacklist of refresh credentials that were
// logged out before they expired.
package revocation

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"
)

var (
	// ErrUnsupported is returned by backends that cannot blacklist.
	ErrUnsupported = errors.New("credential revocation not supported")

	ErrConfig = errors.New("invalid revocation config")
)

// List records revoked refresh-credential hashes until they would have
// expired anyway.
type List interface {
	Revoke(ctx context.Context, refreshHash, userID string, until time.Time) error
	IsRevoked(ctx context.Context, refreshHash string) (bool, error)
}

// Backend names accepted by GATEHOUSE_REVOCATION_BACKEND.
const (
	BackendPostgres = "postgres"
	BackendRedis    = "redis"
	BackendMemory   = "memory"
	BackendNone     = "none"
)

const EnvBackend = "GATEHOUSE_REVOCATION_BACKEND"

// BackendFromEnv returns the configured backend, or def when unset.
func BackendFromEnv(def string) (string, error) {
	v := strings.ToLower(strings.TrimSpace(os.Getenv(EnvBackend)))
	if v == "" {
		return def, nil
	}
	switch v {
	case BackendPostgres, BackendRedis, BackendMemory, BackendNone:
		return v, nil
	default:
		return "", fmt.Errorf("%w: unknown backend %q", ErrConfig, v)
	}
}

// Disabled is the "none" backend. Revoke always fails with ErrUnsupported
// so logout can answer 501 without deleting anything.
type Disabled struct{}

func (Disabled) Revoke(context.Context, string, string, time.Time) error { return ErrUnsupported }
func (Disabled) IsRevoked(context.Context, string) (bool, error)        { return false, nil }
