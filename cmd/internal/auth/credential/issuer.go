package credential

import (
	"time"

	"github.com/google/uuid"
)

// Token is one signed credential and its expiry.
type Token struct {
	Value     string
	ExpiresAt time.Time
}

// Pair is the result of a full issuance.
type Pair struct {
	Access  Token
	Refresh Token
}

// Issuer mints token pairs for subjects.
type Issuer struct {
	signer     Signer
	accessTTL  time.Duration
	refreshTTL time.Duration
	now        func() time.Time
}

type IssuerOption func(*Issuer)

// WithClock overrides time.Now, for tests.
func WithClock(now func() time.Time) IssuerOption {
	return func(i *Issuer) { i.now = now }
}

func NewIssuer(cfg Config, opts ...IssuerOption) (*Issuer, error) {
	signer, err := NewSigner(cfg)
	if err != nil {
		return nil, err
	}
	return NewIssuerWithSigner(signer, cfg.AccessTTL, cfg.RefreshTTL, opts...), nil
}

func NewIssuerWithSigner(s Signer, accessTTL, refreshTTL time.Duration, opts ...IssuerOption) *Issuer {
	i := &Issuer{
		signer:     s,
		accessTTL:  accessTTL,
		refreshTTL: refreshTTL,
		now:        func() time.Time { return time.Now().UTC() },
	}
	for _, o := range opts {
		o(i)
	}
	return i
}

func (i *Issuer) AccessTTL() time.Duration  { return i.accessTTL }
func (i *Issuer) RefreshTTL() time.Duration { return i.refreshTTL }

// Issue mints a fresh access and refresh token for sub.
func (i *Issuer) Issue(sub Subject) (Pair, error) {
	now := i.now()
	prof := ProfileOf(sub)

	access, err := i.mint(sub.User.ID, TypeAccess, prof, now, i.accessTTL)
	if err != nil {
		return Pair{}, err
	}
	refresh, err := i.mint(sub.User.ID, TypeRefresh, prof, now, i.refreshTTL)
	if err != nil {
		return Pair{}, err
	}
	return Pair{Access: access, Refresh: refresh}, nil
}

// IssueAccess mints only an access token, for refreshes that keep the stored refresh credential.
func (i *Issuer) IssueAccess(sub Subject) (Token, error) {
	return i.mint(sub.User.ID, TypeAccess, ProfileOf(sub), i.now(), i.accessTTL)
}

func (i *Issuer) mint(userID string, typ TokenType, prof Profile, now time.Time, ttl time.Duration) (Token, error) {
	// PASETO timestamps are second-granular; truncating keeps both signers consistent.
	now = now.Truncate(time.Second)
	exp := now.Add(ttl)

	v, err := i.signer.Sign(Claims{
		Subject:   userID,
		ID:        uuid.NewString(),
		Type:      typ,
		IssuedAt:  now,
		NotBefore: now,
		ExpiresAt: exp,
		Profile:   prof,
	})
	if err != nil {
		return Token{}, err
	}
	return Token{Value: v, ExpiresAt: exp}, nil
}

// Verify checks token and requires its type to be want.
func (i *Issuer) Verify(token string, want TokenType) (Claims, error) {
	if token == "" {
		return Claims{}, ErrInvalidToken
	}
	c, err := i.signer.Verify(token, i.now())
	if err != nil {
		return Claims{}, ErrInvalidToken
	}
	if c.Type != want {
		return Claims{}, ErrInvalidToken
	}
	return c, nil
}
