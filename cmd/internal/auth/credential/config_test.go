package credential

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigFromEnv_MissingKeyKeepsConfig(t *testing.T) {
	t.Setenv("GATEHOUSE_PASETO_V4_SECRET_KEY_HEX", "")
	t.Setenv("GATEHOUSE_JWT_SECRET", "")
	t.Setenv("GATEHOUSE_AUTH_SIGNING_ALG", "")
	t.Setenv("GATEHOUSE_AUTH_ACCESS_TTL", "5m")

	cfg, err := LoadConfigFromEnv()
	require.ErrorIs(t, err, ErrMissingKey)
	require.ErrorIs(t, err, ErrConfig)
	assert.Equal(t, 5*time.Minute, cfg.AccessTTL)

	dev := cfg.WithEphemeralKey()
	_, err = NewIssuer(dev)
	assert.NoError(t, err)
}

func TestLoadConfigFromEnv_Invalid(t *testing.T) {
	cases := map[string][2]string{
		"bad alg":        {"GATEHOUSE_AUTH_SIGNING_ALG", "rs512"},
		"bad ttl":        {"GATEHOUSE_AUTH_ACCESS_TTL", "soon"},
		"refresh < acc":  {"GATEHOUSE_AUTH_REFRESH_TTL", "10m"},
		"negative skew":  {"GATEHOUSE_AUTH_CLOCK_SKEW", "-1s"},
	}
	for name, kv := range cases {
		t.Run(name, func(t *testing.T) {
			t.Setenv("GATEHOUSE_AUTH_ACCESS_TTL", "15m")
			t.Setenv(kv[0], kv[1])
			_, err := LoadConfigFromEnv()
			require.Error(t, err)
			assert.False(t, errors.Is(err, ErrMissingKey))
			assert.ErrorIs(t, err, ErrConfig)
		})
	}
}

func TestLoadConfigFromEnv_HS256(t *testing.T) {
	t.Setenv("GATEHOUSE_AUTH_SIGNING_ALG", "HS256")
	t.Setenv("GATEHOUSE_JWT_SECRET", "0123456789abcdef0123456789abcdef")

	cfg, err := LoadConfigFromEnv()
	require.NoError(t, err)
	assert.Equal(t, AlgHS256, cfg.Algorithm)

	_, err = NewIssuer(cfg)
	require.NoError(t, err)
}

func TestNewSigner_ShortJWTSecret(t *testing.T) {
	t.Parallel()

	_, err := NewHS256Signer("gatehouse", []byte("short"), 0)
	assert.ErrorIs(t, err, ErrConfig)
}
