package credential

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"strings"
	"time"

	paseto "aidanwoods.dev/go-paseto"
)

// Algorithm selects the Signer implementation.
type Algorithm string

const (
	AlgPasetoV4 Algorithm = "paseto-v4"
	AlgHS256    Algorithm = "hs256"
)

// MinJWTSecretBytes is the shortest HS256 secret accepted.
const MinJWTSecretBytes = 32

type Config struct {
	Issuer     string
	Algorithm  Algorithm
	AccessTTL  time.Duration
	RefreshTTL time.Duration
	ClockSkew  time.Duration

	PasetoV4SecretKeyHex string
	JWTSecret            []byte
}

func DefaultConfig() Config {
	return Config{
		Issuer:     "gatehouse",
		Algorithm:  AlgPasetoV4,
		AccessTTL:  15 * time.Minute,
		RefreshTTL: 7 * 24 * time.Hour,
		ClockSkew:  30 * time.Second,
	}
}

// LoadConfigFromEnv reads:
//
//	GATEHOUSE_AUTH_ISSUER
//	GATEHOUSE_AUTH_SIGNING_ALG          paseto-v4 (default) | hs256
//	GATEHOUSE_AUTH_ACCESS_TTL
//	GATEHOUSE_AUTH_REFRESH_TTL
//	GATEHOUSE_AUTH_CLOCK_SKEW
//	GATEHOUSE_PASETO_V4_SECRET_KEY_HEX  required for paseto-v4
//	GATEHOUSE_JWT_SECRET                required for hs256, >= 32 bytes
//
// A malformed value returns ErrConfig. A missing key returns ErrMissingKey
// together with the otherwise-loaded config, so dev mode can fill in an
// ephemeral key.
func LoadConfigFromEnv() (Config, error) {
	cfg := DefaultConfig()

	if v := strings.TrimSpace(os.Getenv("GATEHOUSE_AUTH_ISSUER")); v != "" {
		cfg.Issuer = v
	}
	if v := strings.TrimSpace(os.Getenv("GATEHOUSE_AUTH_SIGNING_ALG")); v != "" {
		switch Algorithm(strings.ToLower(v)) {
		case AlgPasetoV4:
			cfg.Algorithm = AlgPasetoV4
		case AlgHS256:
			cfg.Algorithm = AlgHS256
		default:
			return Config{}, fmt.Errorf("%w: unknown signing algorithm %q", ErrConfig, v)
		}
	}

	durations := []struct {
		env string
		dst *time.Duration
		min time.Duration
	}{
		{"GATEHOUSE_AUTH_ACCESS_TTL", &cfg.AccessTTL, time.Second},
		{"GATEHOUSE_AUTH_REFRESH_TTL", &cfg.RefreshTTL, time.Minute},
		{"GATEHOUSE_AUTH_CLOCK_SKEW", &cfg.ClockSkew, 0},
	}
	for _, d := range durations {
		v := strings.TrimSpace(os.Getenv(d.env))
		if v == "" {
			continue
		}
		parsed, err := time.ParseDuration(v)
		if err != nil || parsed < d.min {
			return Config{}, fmt.Errorf("%w: %s", ErrConfig, d.env)
		}
		*d.dst = parsed
	}
	if cfg.RefreshTTL <= cfg.AccessTTL {
		return Config{}, fmt.Errorf("%w: refresh ttl must exceed access ttl", ErrConfig)
	}

	cfg.PasetoV4SecretKeyHex = strings.TrimSpace(os.Getenv("GATEHOUSE_PASETO_V4_SECRET_KEY_HEX"))
	if v := strings.TrimSpace(os.Getenv("GATEHOUSE_JWT_SECRET")); v != "" {
		cfg.JWTSecret = []byte(v)
	}

	if !cfg.hasKey() {
		return cfg, ErrMissingKey
	}
	return cfg, nil
}

func (c Config) hasKey() bool {
	switch c.Algorithm {
	case AlgHS256:
		return len(c.JWTSecret) > 0
	default:
		return c.PasetoV4SecretKeyHex != ""
	}
}

// WithEphemeralKey returns c with a freshly generated key for its algorithm.
// Tokens signed with it die with the process. Development only.
func (c Config) WithEphemeralKey() Config {
	switch c.Algorithm {
	case AlgHS256:
		b := make([]byte, MinJWTSecretBytes)
		_, _ = rand.Read(b)
		c.JWTSecret = []byte(hex.EncodeToString(b))
	default:
		c.PasetoV4SecretKeyHex = paseto.NewV4AsymmetricSecretKey().ExportHex()
	}
	return c
}
