package credential

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

type hs256Signer struct {
	issuer    string
	clockSkew time.Duration
	key       []byte
}

type jwtClaims struct {
	jwt.RegisteredClaims
	payload
}

// NewHS256Signer signs HMAC-SHA256 JWTs with secret.
func NewHS256Signer(issuer string, secret []byte, clockSkew time.Duration) (Signer, error) {
	if len(secret) == 0 {
		return nil, ErrMissingKey
	}
	if len(secret) < MinJWTSecretBytes {
		return nil, ErrConfig
	}
	k := make([]byte, len(secret))
	copy(k, secret)
	return &hs256Signer{issuer: issuer, clockSkew: clockSkew, key: k}, nil
}

func (s *hs256Signer) Sign(c Claims) (string, error) {
	jc := jwtClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    s.issuer,
			Subject:   c.Subject,
			ID:        c.ID,
			IssuedAt:  jwt.NewNumericDate(c.IssuedAt),
			NotBefore: jwt.NewNumericDate(c.NotBefore),
			ExpiresAt: jwt.NewNumericDate(c.ExpiresAt),
		},
		payload: payload{Type: c.Type, Profile: c.Profile},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, jc).SignedString(s.key)
}

func (s *hs256Signer) Verify(token string, now time.Time) (Claims, error) {
	var jc jwtClaims
	parsed, err := jwt.ParseWithClaims(token, &jc,
		func(t *jwt.Token) (any, error) {
			if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, errors.New("unexpected signing method")
			}
			return s.key, nil
		},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(s.issuer),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(s.clockSkew),
		jwt.WithTimeFunc(func() time.Time { return now }),
	)
	if err != nil || !parsed.Valid || jc.Subject == "" {
		return Claims{}, ErrInvalidToken
	}

	out := Claims{
		Subject: jc.Subject,
		ID:      jc.ID,
		Type:    jc.Type,
		Issuer:  jc.Issuer,
		Profile: jc.Profile,
	}
	if jc.IssuedAt != nil {
		out.IssuedAt = jc.IssuedAt.Time
	}
	if jc.NotBefore != nil {
		out.NotBefore = jc.NotBefore.Time
	}
	if jc.ExpiresAt != nil {
		out.ExpiresAt = jc.ExpiresAt.Time
	}
	return out, nil
}
