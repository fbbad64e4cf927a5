package gate

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"gatehouse/cmd/identity"
	"gatehouse/cmd/internal/auth/credential"
	"gatehouse/cmd/internal/auth/session"
	"gatehouse/cmd/security/password"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixture struct {
	users    *identity.MemoryStore
	sessions *session.MemoryStore
	issuer   *credential.Issuer
	gate     *Gate
	user     identity.User
	now      time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	pw := password.DefaultConfig()
	pw.Params.MemoryKiB = 8 * 1024
	pw.Params.Iterations = 1
	pw.Params.Parallelism = 1

	f := &fixture{
		users:    identity.NewMemoryStore(pw),
		sessions: session.NewMemoryStore(),
		now:      time.Now().UTC(),
	}

	iss, err := credential.NewIssuer(credential.DefaultConfig().WithEphemeralKey())
	require.NoError(t, err)
	f.issuer = iss

	email := "gate@example.com"
	u, _, err := f.users.CreateUser(context.Background(), identity.CreateUserInput{
		Email: &email, Password: "blue-kettle-42", FirstName: "G", LastName: "H",
	})
	require.NoError(t, err)
	f.user = u

	f.gate = NewDefault(Deps{
		Sessions: f.sessions,
		Users:    f.users,
		Issuer:   f.issuer,
		Now:      func() time.Time { return f.now },
	}, DefaultCookiePolicy(false), slog.New(slog.NewTextHandler(io.Discard, nil)))
	return f
}

func (f *fixture) access(t *testing.T) string {
	t.Helper()
	tok, err := f.issuer.IssueAccess(credential.Subject{User: f.user})
	require.NoError(t, err)
	return tok.Value
}

func TestGate_BearerHeader(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	r := httptest.NewRequest(http.MethodGet, "/me", nil)
	r.Header.Set("Authorization", "Bearer "+f.access(t))

	res := f.gate.Authenticate(r)
	require.True(t, res.Authenticated())
	assert.Equal(t, f.user.ID, res.UserID())
	assert.False(t, res.ClearState)
}

func TestGate_AccessCookieWithSession(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	us, err := f.sessions.Upsert(context.Background(), f.now, f.user.ID, session.Fingerprint{UserAgent: "ua"}, "h", time.Hour)
	require.NoError(t, err)

	r := httptest.NewRequest(http.MethodGet, "/me", nil)
	r.AddCookie(&http.Cookie{Name: "access", Value: f.access(t)})
	r.AddCookie(&http.Cookie{Name: "session_id", Value: us.ID})

	res := f.gate.Authenticate(r)
	require.True(t, res.Authenticated())
	require.NotNil(t, res.Session)
	assert.Equal(t, us.ID, res.Session.ID)
}

func TestGate_ExpiredSessionClearsState(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	us, err := f.sessions.Upsert(context.Background(), f.now.Add(-2*time.Hour), f.user.ID, session.Fingerprint{}, "h", time.Hour)
	require.NoError(t, err)

	r := httptest.NewRequest(http.MethodGet, "/me", nil)
	r.AddCookie(&http.Cookie{Name: "session_id", Value: us.ID})

	var seen Result
	rec := httptest.NewRecorder()
	f.gate.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = FromContext(r.Context())
	})).ServeHTTP(rec, r)

	assert.False(t, seen.Authenticated())
	assert.Nil(t, seen.Session)
	assert.True(t, seen.ClearState)

	cleared := map[string]bool{}
	for _, c := range rec.Result().Cookies() {
		if c.MaxAge < 0 {
			cleared[c.Name] = true
		}
	}
	assert.True(t, cleared["access"])
	assert.True(t, cleared["session_id"])

	// The gate never deletes sessions.
	_, err = f.sessions.Get(context.Background(), us.ID)
	assert.NoError(t, err)
}

func TestGate_BadTokenIsAnonymous(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	r := httptest.NewRequest(http.MethodGet, "/me", nil)
	r.Header.Set("Authorization", "Bearer not-a-token")

	res := f.gate.Authenticate(r)
	assert.False(t, res.Authenticated())
	assert.True(t, res.ClearState)
}

func TestGate_RefreshTokenIsNotAccepted(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	pair, err := f.issuer.Issue(credential.Subject{User: f.user})
	require.NoError(t, err)

	r := httptest.NewRequest(http.MethodGet, "/me", nil)
	r.Header.Set("Authorization", "Bearer "+pair.Refresh.Value)
	assert.False(t, f.gate.Authenticate(r).Authenticated())
}

func TestGate_InactiveUserIsAnonymous(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	tok := f.access(t)
	f.users.SetActive(f.user.ID, false)

	r := httptest.NewRequest(http.MethodGet, "/me", nil)
	r.Header.Set("Authorization", "Bearer "+tok)

	res := f.gate.Authenticate(r)
	assert.False(t, res.Authenticated())
	assert.True(t, res.ClearState)
}

func TestGate_ForeignSessionIsDropped(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	other, err := f.sessions.Upsert(context.Background(), f.now, "someone-else", session.Fingerprint{}, "x", time.Hour)
	require.NoError(t, err)

	r := httptest.NewRequest(http.MethodGet, "/me", nil)
	r.Header.Set("Authorization", "Bearer "+f.access(t))
	r.AddCookie(&http.Cookie{Name: "session_id", Value: other.ID})

	res := f.gate.Authenticate(r)
	assert.True(t, res.Authenticated())
	assert.Nil(t, res.Session)
}

func TestGate_NoCredentialsIsQuiet(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	res := f.gate.Authenticate(httptest.NewRequest(http.MethodGet, "/", nil))
	assert.False(t, res.Authenticated())
	assert.False(t, res.ClearState)
	assert.Equal(t, Result{}, FromContext(context.Background()))
}

func TestBearerToken(t *testing.T) {
	t.Parallel()

	for h, want := range map[string]string{
		"Bearer abc":   "abc",
		"bearer  abc ": "abc",
		"Basic abc":    "",
		"Bearer":       "",
		"":             "",
	} {
		r := httptest.NewRequest(http.MethodGet, "/", nil)
		if h != "" {
			r.Header.Set("Authorization", h)
		}
		got, _ := BearerToken(r)
		assert.Equal(t, want, got, h)
	}
}
