package revocation

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemory_RevokeUntilExpiry(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	m := NewMemory()
	m.now = func() time.Time { return now }
	ctx := context.Background()

	ok, err := m.IsRevoked(ctx, "h1")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, m.Revoke(ctx, "h1", "u1", now.Add(time.Hour)))
	ok, _ = m.IsRevoked(ctx, "h1")
	assert.True(t, ok)

	// An earlier until never shortens an existing entry.
	require.NoError(t, m.Revoke(ctx, "h1", "u1", now.Add(time.Minute)))
	now = now.Add(30 * time.Minute)
	ok, _ = m.IsRevoked(ctx, "h1")
	assert.True(t, ok)

	now = now.Add(time.Hour)
	ok, _ = m.IsRevoked(ctx, "h1")
	assert.False(t, ok)
}

func TestDisabled(t *testing.T) {
	t.Parallel()

	var l List = Disabled{}
	err := l.Revoke(context.Background(), "h", "u", time.Now().Add(time.Hour))
	assert.True(t, errors.Is(err, ErrUnsupported))
	ok, err := l.IsRevoked(context.Background(), "h")
	assert.NoError(t, err)
	assert.False(t, ok)
}

func TestBackendFromEnv(t *testing.T) {
	t.Setenv(EnvBackend, "")
	b, err := BackendFromEnv(BackendMemory)
	require.NoError(t, err)
	assert.Equal(t, BackendMemory, b)

	t.Setenv(EnvBackend, " Redis ")
	b, err = BackendFromEnv(BackendMemory)
	require.NoError(t, err)
	assert.Equal(t, BackendRedis, b)

	t.Setenv(EnvBackend, "etcd")
	_, err = BackendFromEnv(BackendMemory)
	assert.ErrorIs(t, err, ErrConfig)
}
