package password

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"sync"

	"golang.org/x/crypto/argon2"
)

const phcVersion = argon2.Version

var phcB64 = base64.RawStdEncoding

// ErrInvalidHash reports a stored hash that is not a well-formed argon2id PHC
// string or whose parameters fall outside the accepted bounds.
var ErrInvalidHash = errors.New("password: invalid argon2id hash")

// Hash validates pw against the policy and returns its PHC-encoded Argon2id hash.
func (c Config) Hash(pw string) (string, error) {
	if err := c.Validate(pw); err != nil {
		return "", err
	}
	return c.hash(pw)
}

func (c Config) hash(pw string) (string, error) {
	salt := make([]byte, c.Params.SaltLength)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("salt: %w", err)
	}

	key := argon2.IDKey([]byte(pw), salt,
		c.Params.Iterations,
		c.Params.MemoryKiB,
		c.Params.Parallelism,
		c.Params.KeyLength,
	)

	return fmt.Sprintf("$argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s",
		phcVersion,
		c.Params.MemoryKiB,
		c.Params.Iterations,
		c.Params.Parallelism,
		phcB64.EncodeToString(salt),
		phcB64.EncodeToString(key),
	), nil
}

// Verify reports whether pw matches encoded.
// A mismatch is (false, nil). A malformed or out-of-bounds hash is (false, ErrInvalidHash).
func (c Config) Verify(encoded, pw string) (bool, error) {
	h, err := parsePHC(encoded)
	if err != nil {
		return false, err
	}
	if !c.acceptable(h.params) {
		return false, ErrInvalidHash
	}

	got := argon2.IDKey([]byte(pw), h.salt,
		h.params.Iterations,
		h.params.MemoryKiB,
		h.params.Parallelism,
		uint32(len(h.key)), // #nosec G115 -- bounded by acceptable().
	)
	return subtle.ConstantTimeCompare(got, h.key) == 1, nil
}

// NeedsRehash reports whether encoded was produced with weaker parameters than c.
// Callers rehash on the next successful login.
func (c Config) NeedsRehash(encoded string) bool {
	h, err := parsePHC(encoded)
	if err != nil {
		return true
	}
	p := h.params
	return p.MemoryKiB < c.Params.MemoryKiB ||
		p.Iterations < c.Params.Iterations ||
		p.KeyLength < c.Params.KeyLength
}

var (
	dummyOnce sync.Once
	dummyHash string
)

// VerifyDummy burns roughly the same time as a real Verify. Login calls it when
// the account does not exist so response timing does not reveal registered identifiers.
func (c Config) VerifyDummy(pw string) {
	dummyOnce.Do(func() {
		dummyHash, _ = c.hash("gatehouse-dummy-password")
	})
	if dummyHash == "" {
		return
	}
	_, _ = c.Verify(dummyHash, pw)
}

// acceptable allows hashes made with older, cheaper settings but refuses ones
// whose cost is far above the configured parameters.
func (c Config) acceptable(got Argon2idParams) bool {
	lim := c.Params
	switch {
	case got.MemoryKiB > lim.MemoryKiB*2:
		return false
	case got.Iterations > lim.Iterations*2:
		return false
	case got.Parallelism > lim.Parallelism*2:
		return false
	case got.SaltLength < 8 || got.SaltLength > 64:
		return false
	case got.KeyLength < 16 || got.KeyLength > 128:
		return false
	}
	return true
}

type phc struct {
	params Argon2idParams
	salt   []byte
	key    []byte
}

func parsePHC(encoded string) (phc, error) {
	parts := strings.Split(encoded, "$")
	if len(parts) != 6 || parts[0] != "" || parts[1] != "argon2id" {
		return phc{}, ErrInvalidHash
	}
	if parts[2] != fmt.Sprintf("v=%d", phcVersion) {
		return phc{}, ErrInvalidHash
	}

	var mem, iter, lanes uint32
	if _, err := fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", &mem, &iter, &lanes); err != nil {
		return phc{}, ErrInvalidHash
	}
	if mem == 0 || iter == 0 || lanes == 0 || lanes > 255 {
		return phc{}, ErrInvalidHash
	}

	salt, err := phcB64.DecodeString(parts[4])
	if err != nil {
		return phc{}, ErrInvalidHash
	}
	key, err := phcB64.DecodeString(parts[5])
	if err != nil {
		return phc{}, ErrInvalidHash
	}

	return phc{
		params: Argon2idParams{
			MemoryKiB:   mem,
			Iterations:  iter,
			Parallelism: uint8(lanes),
			SaltLength:  uint32(len(salt)), // #nosec G115 -- checked by acceptable().
			KeyLength:   uint32(len(key)),  // #nosec G115 -- checked by acceptable().
		},
		salt: salt,
		key:  key,
	}, nil
}
