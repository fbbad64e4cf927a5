package token

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"os"
	"strings"
)

// HMACEnvKey names the env var holding the refresh-hash secret.
// #nosec G101 -- variable name, not a credential.
const HMACEnvKey = "GATEHOUSE_TOKEN_HMAC_KEY"

// MinHMACKeyBytes is the shortest key accepted when HMAC is required.
const MinHMACKeyBytes = 32

// HexLen is the length of every digest produced by this package.
const HexLen = 64

// Key errors returned by HasherFromEnv.
var (
	ErrHMACKeyMissing  = errors.New("token: " + HMACEnvKey + " is not set")
	ErrHMACKeyTooShort = errors.New("token: " + HMACEnvKey + " is shorter than the minimum")
)

// Hasher produces storage hashes for refresh credentials.
// The zero value hashes with plain SHA-256.
type Hasher struct {
	key []byte
}

// NewHasher returns a Hasher keyed with key. An empty key selects SHA-256.
func NewHasher(key []byte) Hasher {
	if len(key) == 0 {
		return Hasher{}
	}
	k := make([]byte, len(key))
	copy(k, key)
	return Hasher{key: k}
}

// HasherFromEnv builds a Hasher from GATEHOUSE_TOKEN_HMAC_KEY.
// With require set, a missing or short key is an error instead of a SHA-256 fallback.
func HasherFromEnv(require bool) (Hasher, error) {
	key, err := HMACKeyFromEnv(MinHMACKeyBytes)
	switch {
	case err == nil:
		return NewHasher(key), nil
	case require:
		return Hasher{}, err
	case errors.Is(err, ErrHMACKeyTooShort):
		// A configured but short key is a misconfiguration even in dev.
		return Hasher{}, err
	default:
		return Hasher{}, nil
	}
}

// Keyed reports whether the hasher uses HMAC.
func (h Hasher) Keyed() bool { return len(h.key) > 0 }

// Hash returns the hex digest stored for the refresh credential s.
func (h Hasher) Hash(s string) string {
	if len(h.key) == 0 {
		return HashSHA256Hex(s)
	}
	return HashHMACSHA256Hex(s, h.key)
}

// Equal compares two stored digests in constant time.
// Digests of the wrong length never match.
func Equal(a, b string) bool {
	if len(a) != HexLen || len(b) != HexLen {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

func HashSHA256Hex(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}

func HashHMACSHA256Hex(s string, key []byte) string {
	m := hmac.New(sha256.New, key)
	_, _ = m.Write([]byte(s))
	return hex.EncodeToString(m.Sum(nil))
}

// HMACKeyFromEnv returns the trimmed key bytes, enforcing minBytes when positive.
func HMACKeyFromEnv(minBytes int) ([]byte, error) {
	raw := strings.TrimSpace(os.Getenv(HMACEnvKey))
	if raw == "" {
		return nil, ErrHMACKeyMissing
	}
	if minBytes > 0 && len(raw) < minBytes {
		return nil, ErrHMACKeyTooShort
	}
	return []byte(raw), nil
}
