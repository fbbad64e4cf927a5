package gate

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"gatehouse/cmd/identity"
	"gatehouse/cmd/internal/auth/credential"
	"gatehouse/cmd/internal/auth/session"
)

// Identity is an authenticated caller.
type Identity struct {
	User   identity.User
	Claims credential.Claims
	Via    string
}

// Resolution is one resolver's verdict.
type Resolution struct {
	Identity   *Identity
	Session    *session.UserSession
	ClearState bool
}

type Resolver interface {
	Name() string
	Resolve(ctx context.Context, r *http.Request) Resolution
}

// Result is the merged verdict placed in the request context.
type Result struct {
	Identity   *Identity
	Session    *session.UserSession
	ClearState bool
}

func (r Result) Authenticated() bool { return r.Identity != nil }

// UserID returns the caller id or "".
func (r Result) UserID() string {
	if r.Identity == nil {
		return ""
	}
	return r.Identity.User.ID
}

// Gate runs resolvers in priority order.
type Gate struct {
	resolvers []Resolver
	cookies   CookiePolicy
	log       *slog.Logger
}

func New(cookies CookiePolicy, log *slog.Logger, resolvers ...Resolver) *Gate {
	if log == nil {
		log = slog.Default()
	}
	return &Gate{resolvers: resolvers, cookies: cookies, log: log}
}

// Deps are what the default resolvers need.
type Deps struct {
	Sessions session.Store
	Users    identity.Store
	Issuer   *credential.Issuer
	Now      func() time.Time
}

// NewDefault builds a Gate with the session-cookie resolver followed by the
// bearer resolver.
func NewDefault(d Deps, cookies CookiePolicy, log *slog.Logger) *Gate {
	now := d.Now
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return New(cookies, log,
		SessionCookieResolver{Sessions: d.Sessions, Cookies: cookies, Now: now},
		BearerResolver{Issuer: d.Issuer, Users: d.Users, Cookies: cookies},
	)
}

// Authenticate never fails. The first resolver that yields an Identity wins;
// a session attached by an earlier resolver is kept only if it belongs to
// that identity.
func (g *Gate) Authenticate(r *http.Request) Result {
	var res Result
	for _, rv := range g.resolvers {
		out := rv.Resolve(r.Context(), r)
		if out.ClearState {
			res.ClearState = true
		}
		if out.Session != nil && res.Session == nil {
			res.Session = out.Session
		}
		if out.Identity != nil {
			res.Identity = out.Identity
			g.log.Debug("gate.resolved", "resolver", rv.Name(), "user_id", out.Identity.User.ID)
			break
		}
	}
	if res.Session != nil && res.Identity != nil && res.Session.UserID != res.Identity.User.ID {
		res.Session = nil
	}
	return res
}

type ctxKey struct{}

// WithResult stores res in ctx.
func WithResult(ctx context.Context, res Result) context.Context {
	return context.WithValue(ctx, ctxKey{}, res)
}

// FromContext returns the Result set by Middleware, or an anonymous Result.
func FromContext(ctx context.Context) Result {
	res, _ := ctx.Value(ctxKey{}).(Result)
	return res
}

// Middleware authenticates every request and expires cookies when asked.
// It never deletes sessions.
func (g *Gate) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		res := g.Authenticate(r)
		if res.ClearState {
			g.cookies.Clear(w)
		}
		next.ServeHTTP(w, r.WithContext(WithResult(r.Context(), res)))
	})
}

// Cookies returns the policy the gate reads from.
func (g *Gate) Cookies() CookiePolicy { return g.cookies }
