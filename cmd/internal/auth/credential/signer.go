package credential

import (
	"fmt"
	"time"
)

// Signer seals and opens Claims. Implementations check signature, issuer and
// the time window. They do not check Type.
type Signer interface {
	Sign(c Claims) (string, error)
	Verify(token string, now time.Time) (Claims, error)
}

// NewSigner builds the Signer selected by cfg.Algorithm.
func NewSigner(cfg Config) (Signer, error) {
	switch cfg.Algorithm {
	case AlgPasetoV4, "":
		return NewPasetoV4Signer(cfg.Issuer, cfg.PasetoV4SecretKeyHex, cfg.ClockSkew)
	case AlgHS256:
		return NewHS256Signer(cfg.Issuer, cfg.JWTSecret, cfg.ClockSkew)
	default:
		return nil, fmt.Errorf("%w: unknown signing algorithm %q", ErrConfig, cfg.Algorithm)
	}
}
