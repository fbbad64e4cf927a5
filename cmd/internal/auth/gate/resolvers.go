package gate

import (
	"context"
	"net/http"
	"strings"
	"time"

	"gatehouse/cmd/identity"
	"gatehouse/cmd/internal/auth/credential"
	"gatehouse/cmd/internal/auth/session"
)

// SessionCookieResolver attaches the live session named by the session cookie.
type SessionCookieResolver struct {
	Sessions session.Store
	Cookies  CookiePolicy
	Now      func() time.Time
}

func (SessionCookieResolver) Name() string { return "session_cookie" }

func (s SessionCookieResolver) Resolve(ctx context.Context, r *http.Request) Resolution {
	id, ok := s.Cookies.SessionID(r)
	if !ok || s.Sessions == nil {
		return Resolution{}
	}
	us, err := s.Sessions.Get(ctx, id)
	if err != nil {
		return Resolution{ClearState: true}
	}
	if us.IsExpired(s.Now()) {
		return Resolution{ClearState: true}
	}
	return Resolution{Session: &us}
}

// BearerResolver verifies an access credential from the Authorization header
// or, failing that, the access cookie.
type BearerResolver struct {
	Issuer  *credential.Issuer
	Users   identity.Store
	Cookies CookiePolicy
}

func (BearerResolver) Name() string { return "bearer" }

func (b BearerResolver) Resolve(ctx context.Context, r *http.Request) Resolution {
	tok, ok := BearerToken(r)
	if !ok {
		tok, ok = b.Cookies.AccessToken(r)
	}
	if !ok || b.Issuer == nil || b.Users == nil {
		return Resolution{}
	}

	claims, err := b.Issuer.Verify(tok, credential.TypeAccess)
	if err != nil {
		return Resolution{ClearState: true}
	}
	u, err := b.Users.GetUser(ctx, claims.Subject)
	if err != nil {
		return Resolution{ClearState: true}
	}
	if !u.CanAuthenticate() {
		return Resolution{ClearState: true}
	}
	return Resolution{Identity: &Identity{User: u, Claims: claims, Via: "bearer"}}
}

// BearerToken extracts "Authorization: Bearer <token>".
func BearerToken(r *http.Request) (string, bool) {
	if r == nil {
		return "", false
	}
	h := strings.TrimSpace(r.Header.Get("Authorization"))
	if h == "" {
		return "", false
	}
	scheme, tok, found := strings.Cut(h, " ")
	if !found || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	tok = strings.TrimSpace(tok)
	return tok, tok != ""
}
