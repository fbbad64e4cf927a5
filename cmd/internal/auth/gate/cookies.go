package gate

import (
	"net/http"
	"strings"
	"time"
)

// CookiePolicy owns the names and attributes of the auth cookies.
type CookiePolicy struct {
	AccessName  string
	SessionName string
	Path        string
	Domain      string
	Secure      bool
	SameSite    http.SameSite
}

// DefaultCookiePolicy returns the "access" / "session_id" pair, SameSite Lax.
func DefaultCookiePolicy(secure bool) CookiePolicy {
	return CookiePolicy{
		AccessName:  "access",
		SessionName: "session_id",
		Path:        "/",
		Secure:      secure,
		SameSite:    http.SameSiteLaxMode,
	}
}

func (p CookiePolicy) SetAccess(w http.ResponseWriter, token string, exp time.Time) {
	p.set(w, p.AccessName, token, exp)
}

func (p CookiePolicy) SetSession(w http.ResponseWriter, sessionID string, exp time.Time) {
	p.set(w, p.SessionName, sessionID, exp)
}

// Clear expires both cookies.
func (p CookiePolicy) Clear(w http.ResponseWriter) {
	p.expire(w, p.AccessName)
	p.expire(w, p.SessionName)
}

// SessionID reads the session cookie.
func (p CookiePolicy) SessionID(r *http.Request) (string, bool) {
	return cookieValue(r, p.SessionName)
}

// AccessToken reads the access cookie.
func (p CookiePolicy) AccessToken(r *http.Request) (string, bool) {
	return cookieValue(r, p.AccessName)
}

func (p CookiePolicy) set(w http.ResponseWriter, name, value string, exp time.Time) {
	if w == nil || strings.TrimSpace(name) == "" {
		return
	}
	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     p.Path,
		Domain:   p.Domain,
		Expires:  exp,
		HttpOnly: true,
		Secure:   p.Secure,
		SameSite: p.SameSite,
	})
}

func (p CookiePolicy) expire(w http.ResponseWriter, name string) {
	if w == nil || strings.TrimSpace(name) == "" {
		return
	}
	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    "",
		Path:     p.Path,
		Domain:   p.Domain,
		Expires:  time.Unix(0, 0).UTC(),
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   p.Secure,
		SameSite: p.SameSite,
	})
}

func cookieValue(r *http.Request, name string) (string, bool) {
	if r == nil || name == "" {
		return "", false
	}
	c, err := r.Cookie(name)
	if err != nil {
		return "", false
	}
	v := strings.TrimSpace(c.Value)
	return v, v != ""
}
