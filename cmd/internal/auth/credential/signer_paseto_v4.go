package credential

import (
	"encoding/json"
	"time"

	paseto "aidanwoods.dev/go-paseto"
)

type pasetoV4Signer struct {
	issuer    string
	clockSkew time.Duration
	secret    paseto.V4AsymmetricSecretKey
	public    paseto.V4AsymmetricPublicKey
}

// NewPasetoV4Signer signs v4.public tokens with the Ed25519 key in secretHex.
func NewPasetoV4Signer(issuer, secretHex string, clockSkew time.Duration) (Signer, error) {
	if secretHex == "" {
		return nil, ErrMissingKey
	}
	secret, err := paseto.NewV4AsymmetricSecretKeyFromHex(secretHex)
	if err != nil {
		return nil, ErrConfig
	}
	return &pasetoV4Signer{
		issuer:    issuer,
		clockSkew: clockSkew,
		secret:    secret,
		public:    secret.Public(),
	}, nil
}

// PublicKeyHex exposes the verification key for downstream services.
func (s *pasetoV4Signer) PublicKeyHex() string { return s.public.ExportHex() }

func (s *pasetoV4Signer) Sign(c Claims) (string, error) {
	tok := paseto.NewToken()
	tok.SetIssuer(s.issuer)
	tok.SetSubject(c.Subject)
	tok.SetJti(c.ID)
	tok.SetIssuedAt(c.IssuedAt)
	tok.SetNotBefore(c.NotBefore)
	tok.SetExpiration(c.ExpiresAt)

	body, err := json.Marshal(payload{Type: c.Type, Profile: c.Profile})
	if err != nil {
		return "", err
	}
	var fields map[string]any
	if err := json.Unmarshal(body, &fields); err != nil {
		return "", err
	}
	for k, v := range fields {
		if err := tok.Set(k, v); err != nil {
			return "", err
		}
	}

	return tok.V4Sign(s.secret, nil), nil
}

func (s *pasetoV4Signer) Verify(token string, now time.Time) (Claims, error) {
	p := paseto.NewParserWithoutExpiryCheck()
	p.AddRule(paseto.IssuedBy(s.issuer))

	parsed, err := p.ParseV4Public(s.public, token, nil)
	if err != nil {
		return Claims{}, ErrInvalidToken
	}

	var pl payload
	if err := json.Unmarshal(parsed.ClaimsJSON(), &pl); err != nil {
		return Claims{}, ErrInvalidToken
	}

	sub, err := parsed.GetSubject()
	if err != nil || sub == "" {
		return Claims{}, ErrInvalidToken
	}
	exp, err := parsed.GetExpiration()
	if err != nil || !now.Add(-s.clockSkew).Before(exp) {
		return Claims{}, ErrInvalidToken
	}
	nbf, err := parsed.GetNotBefore()
	if err == nil && nbf.After(now.Add(s.clockSkew)) {
		return Claims{}, ErrInvalidToken
	}
	jti, _ := parsed.GetJti()
	iss, _ := parsed.GetIssuer()
	iat, _ := parsed.GetIssuedAt()

	return Claims{
		Subject:   sub,
		ID:        jti,
		Type:      pl.Type,
		Issuer:    iss,
		IssuedAt:  iat,
		NotBefore: nbf,
		ExpiresAt: exp,
		Profile:   pl.Profile,
	}, nil
}
