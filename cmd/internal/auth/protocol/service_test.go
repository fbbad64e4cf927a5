package protocol

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"gatehouse/cmd/identity"
	"gatehouse/cmd/internal/auth/credential"
	"gatehouse/cmd/internal/auth/revocation"
	"gatehouse/cmd/internal/auth/session"
	"gatehouse/cmd/internal/tenant"
	"gatehouse/cmd/security/password"
	"gatehouse/cmd/security/token"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	iphoneUA  = "Mozilla/5.0 (iPhone; CPU iPhone OS 17_0 like Mac OS X)"
	desktopUA = "Mozilla/5.0 (X11; Linux x86_64) Firefox/128.0"
	testPW    = "blue-kettle-42"
)

type recordingNotifier struct {
	mu  sync.Mutex
	one     []string
	all     []string
	removed []int64
}

func (n *recordingNotifier) SessionRevoked(userID, sessionID string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.one = append(n.one, sessionID)
}

func (n *recordingNotifier) AllSessionsRevoked(userID string, removed int64) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.all = append(n.all, userID)
	n.removed = append(n.removed, removed)
}

type recordingLocations struct{ ips []string }

func (l *recordingLocations) RecordLogin(_, ip string) { l.ips = append(l.ips, ip) }

type env struct {
	svc       *Service
	users     *identity.MemoryStore
	sessions  *session.MemoryStore
	tenants   *tenant.MemoryStore
	revoked   revocation.List
	notifier  *recordingNotifier
	locations *recordingLocations
	user      identity.User
	clock     time.Time
}

func newEnv(t *testing.T, revoked revocation.List) *env {
	t.Helper()

	pw := password.DefaultConfig()
	pw.Params.MemoryKiB = 8 * 1024
	pw.Params.Iterations = 1
	pw.Params.Parallelism = 1

	e := &env{
		users:     identity.NewMemoryStore(pw),
		sessions:  session.NewMemoryStore(),
		tenants:   tenant.NewMemoryStore(),
		revoked:   revoked,
		notifier:  &recordingNotifier{},
		locations: &recordingLocations{},
		clock:     time.Now().UTC(),
	}
	now := func() time.Time { return e.clock }

	cfg := credential.DefaultConfig().WithEphemeralKey()
	iss, err := credential.NewIssuer(cfg, credential.WithClock(now))
	require.NoError(t, err)

	svc, err := NewService(Deps{
		Users:     e.users,
		Sessions:  e.sessions,
		Issuer:    iss,
		Hasher:    token.NewHasher([]byte("0123456789abcdef0123456789abcdef")),
		Revoked:   revoked,
		Tenants:   e.tenants,
		Passwords: pw,
		Notifier:  e.notifier,
		Locations: e.locations,
		Log:       slog.New(slog.NewTextHandler(io.Discard, nil)),
		Now:       now,
	})
	require.NoError(t, err)
	e.svc = svc

	email, phone := "Ada@Example.com", "+1 650-253-0000"
	u, _, err := e.users.CreateUser(context.Background(), identity.CreateUserInput{
		Email: &email, Phone: &phone, Password: testPW, FirstName: "Ada", LastName: "Lovelace",
	})
	require.NoError(t, err)
	e.user = u
	return e
}

func (e *env) login(t *testing.T, ua string) LoginResult {
	t.Helper()
	res, err := e.svc.Login(context.Background(), LoginInput{
		Identifier: "ada@example.com", Password: testPW, UserAgent: ua, IP: "81.2.69.142",
	})
	require.NoError(t, err)
	return res
}

func TestLogin_ByEmailAndPhone(t *testing.T) {
	t.Parallel()
	e := newEnv(t, revocation.NewMemory())
	ctx := context.Background()

	_, err := e.tenants.Add(ctx, e.user.ID, "T1", "")
	require.NoError(t, err)

	res := e.login(t, desktopUA)
	assert.Equal(t, e.user.ID, res.User.ID)
	assert.False(t, res.ExposeTokens)
	assert.NotNil(t, res.User.LastLogin)
	assert.Equal(t, []string{"81.2.69.142"}, e.locations.ips)

	claims, err := e.svc.d.Issuer.Verify(res.Pair.Access.Value, credential.TypeAccess)
	require.NoError(t, err)
	assert.Equal(t, []string{"T1"}, claims.Tenants)

	byPhone, err := e.svc.Login(ctx, LoginInput{Identifier: "(650) 253-0000", Password: testPW, ExplicitBearer: true})
	require.NoError(t, err)
	assert.Equal(t, e.user.ID, byPhone.User.ID)
	assert.True(t, byPhone.ExposeTokens)
}

func TestLogin_Failures(t *testing.T) {
	t.Parallel()
	e := newEnv(t, revocation.NewMemory())
	ctx := context.Background()

	_, err := e.svc.Login(ctx, LoginInput{Identifier: "not an identifier", Password: testPW})
	ve, ok := AsValidation(err)
	require.True(t, ok, "got %v", err)
	assert.Equal(t, "identifier", ve.Field)

	_, err = e.svc.Login(ctx, LoginInput{Identifier: "ada@example.com", Password: "wrong-password"})
	assert.ErrorIs(t, err, ErrAuthentication)

	_, err = e.svc.Login(ctx, LoginInput{Identifier: "nobody@example.com", Password: testPW})
	assert.ErrorIs(t, err, ErrAuthentication)

	e.users.SetActive(e.user.ID, false)
	_, err = e.svc.Login(ctx, LoginInput{Identifier: "ada@example.com", Password: testPW})
	assert.ErrorIs(t, err, ErrAuthentication)

	list, _ := e.sessions.ListForUser(ctx, e.user.ID)
	assert.Empty(t, list)
}

func TestLogin_RepeatedKeepsOneSession(t *testing.T) {
	t.Parallel()
	e := newEnv(t, revocation.NewMemory())

	first := e.login(t, desktopUA)
	e.clock = e.clock.Add(time.Minute)
	second := e.login(t, desktopUA)

	assert.Equal(t, first.Session.ID, second.Session.ID)
	assert.False(t, second.Session.ExpiresAt.Before(first.Session.ExpiresAt))

	list, err := e.sessions.ListForUser(context.Background(), e.user.ID)
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestRefresh_WebExtendsAndKeepsID(t *testing.T) {
	t.Parallel()
	e := newEnv(t, revocation.NewMemory())
	login := e.login(t, desktopUA)

	e.clock = e.clock.Add(time.Hour)
	res, err := e.svc.Refresh(context.Background(), RefreshInput{UserAgent: desktopUA, SessionID: login.Session.ID})
	require.NoError(t, err)
	assert.Equal(t, DeviceWeb, res.Device)
	assert.Nil(t, res.Refresh)
	assert.Equal(t, login.Session.ID, res.Session.ID)
	assert.True(t, res.Session.ExpiresAt.After(login.Session.ExpiresAt))
	assert.Equal(t, login.Session.RefreshHash, res.Session.RefreshHash)
}

func TestRefresh_WebRejectsRevokedSession(t *testing.T) {
	t.Parallel()
	e := newEnv(t, revocation.NewMemory())
	ctx := context.Background()
	login := e.login(t, desktopUA)

	// The hash is blacklisted but the row survived, as after a logout whose
	// delete failed.
	require.NoError(t, e.revoked.Revoke(ctx, login.Session.RefreshHash, e.user.ID, login.Session.ExpiresAt))

	e.clock = e.clock.Add(time.Minute)
	_, err := e.svc.Refresh(ctx, RefreshInput{UserAgent: desktopUA, SessionID: login.Session.ID})
	assert.ErrorIs(t, err, ErrAuthentication)

	us, err := e.sessions.Get(ctx, login.Session.ID)
	require.NoError(t, err)
	assert.Equal(t, login.Session.ExpiresAt, us.ExpiresAt)
}

func TestRefresh_MobileRotates(t *testing.T) {
	t.Parallel()
	e := newEnv(t, revocation.NewMemory())
	login := e.login(t, iphoneUA)
	ctx := context.Background()

	e.clock = e.clock.Add(time.Second)
	res, err := e.svc.Refresh(ctx, RefreshInput{UserAgent: iphoneUA, RefreshToken: login.Pair.Refresh.Value})
	require.NoError(t, err)
	assert.Equal(t, DeviceMobile, res.Device)
	require.NotNil(t, res.Refresh)
	assert.Equal(t, login.Session.ID, res.Session.ID)
	assert.NotEqual(t, login.Session.RefreshHash, res.Session.RefreshHash)

	// The rotated-away credential no longer matches.
	_, err = e.svc.Refresh(ctx, RefreshInput{UserAgent: iphoneUA, RefreshToken: login.Pair.Refresh.Value})
	assert.ErrorIs(t, err, ErrAuthentication)

	_, err = e.svc.Refresh(ctx, RefreshInput{UserAgent: iphoneUA, RefreshToken: res.Refresh.Value})
	assert.NoError(t, err)
}

func TestRefresh_MobileWithoutRefreshIsValidationError(t *testing.T) {
	t.Parallel()
	e := newEnv(t, revocation.NewMemory())
	login := e.login(t, iphoneUA)

	_, err := e.svc.Refresh(context.Background(), RefreshInput{UserAgent: iphoneUA, SessionID: login.Session.ID})
	ve, ok := AsValidation(err)
	require.True(t, ok, "got %v", err)
	assert.Equal(t, "refresh", ve.Field)

	got, err := e.sessions.Get(context.Background(), login.Session.ID)
	require.NoError(t, err)
	assert.Equal(t, login.Session, got)
}

func TestRefresh_AfterExpiryFailsWithoutMutation(t *testing.T) {
	t.Parallel()
	e := newEnv(t, revocation.NewMemory())
	login := e.login(t, desktopUA)

	e.clock = login.Session.ExpiresAt.Add(time.Second)
	_, err := e.svc.Refresh(context.Background(), RefreshInput{UserAgent: desktopUA, SessionID: login.Session.ID})
	assert.ErrorIs(t, err, ErrAuthentication)

	got, err := e.sessions.Get(context.Background(), login.Session.ID)
	require.NoError(t, err)
	assert.Equal(t, login.Session.ExpiresAt, got.ExpiresAt)
}

func TestRefresh_ExplicitClientTypeWins(t *testing.T) {
	t.Parallel()
	e := newEnv(t, revocation.NewMemory())
	login := e.login(t, iphoneUA)

	res, err := e.svc.Refresh(context.Background(), RefreshInput{
		UserAgent: iphoneUA, ClientType: "web", SessionID: login.Session.ID,
	})
	require.NoError(t, err)
	assert.Equal(t, DeviceWeb, res.Device)
}

func TestLogout_ThenRefreshFails(t *testing.T) {
	t.Parallel()
	e := newEnv(t, revocation.NewMemory())
	ctx := context.Background()
	login := e.login(t, iphoneUA)

	err := e.svc.Logout(ctx, LogoutInput{UserID: e.user.ID, RefreshToken: login.Pair.Refresh.Value})
	require.NoError(t, err)
	assert.Equal(t, []string{login.Session.ID}, e.notifier.one)

	_, err = e.sessions.Get(ctx, login.Session.ID)
	assert.ErrorIs(t, err, session.ErrNotFound)

	_, err = e.svc.Refresh(ctx, RefreshInput{UserAgent: iphoneUA, RefreshToken: login.Pair.Refresh.Value})
	assert.ErrorIs(t, err, ErrAuthentication)

	// Idempotent.
	require.NoError(t, e.svc.Logout(ctx, LogoutInput{UserID: e.user.ID, RefreshToken: login.Pair.Refresh.Value}))
}

func TestLogout_UsesGateSession(t *testing.T) {
	t.Parallel()
	e := newEnv(t, revocation.NewMemory())
	ctx := context.Background()
	login := e.login(t, desktopUA)

	us := login.Session
	require.NoError(t, e.svc.Logout(ctx, LogoutInput{UserID: e.user.ID, Session: &us}))

	_, err := e.svc.Refresh(ctx, RefreshInput{UserAgent: desktopUA, SessionID: us.ID})
	assert.ErrorIs(t, err, ErrAuthentication)

	revoked, err := e.revoked.IsRevoked(ctx, us.RefreshHash)
	require.NoError(t, err)
	assert.True(t, revoked)
}

func TestLogout_NothingToRevoke(t *testing.T) {
	t.Parallel()
	e := newEnv(t, revocation.NewMemory())

	err := e.svc.Logout(context.Background(), LogoutInput{UserID: e.user.ID})
	_, ok := AsValidation(err)
	assert.True(t, ok)
}

func TestLogout_BlacklistDisabledDeletesNothing(t *testing.T) {
	t.Parallel()
	e := newEnv(t, revocation.Disabled{})
	ctx := context.Background()
	login := e.login(t, iphoneUA)

	err := e.svc.Logout(ctx, LogoutInput{UserID: e.user.ID, RefreshToken: login.Pair.Refresh.Value})
	assert.True(t, errors.Is(err, revocation.ErrUnsupported))

	_, err = e.sessions.Get(ctx, login.Session.ID)
	assert.NoError(t, err)
}

func TestLogoutAll_LeavesNoSessions(t *testing.T) {
	t.Parallel()
	e := newEnv(t, revocation.NewMemory())
	ctx := context.Background()
	e.login(t, desktopUA)
	e.login(t, iphoneUA)

	n, err := e.svc.LogoutAll(ctx, e.user.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
	assert.Equal(t, []string{e.user.ID}, e.notifier.all)
	assert.Equal(t, []int64{2}, e.notifier.removed)

	list, _ := e.svc.Sessions(ctx, e.user.ID)
	assert.Empty(t, list)

	n, err = e.svc.LogoutAll(ctx, e.user.ID)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestClassifyDevice(t *testing.T) {
	t.Parallel()

	cases := []struct {
		ua, header string
		want       DeviceClass
	}{
		{iphoneUA, "", DeviceMobile},
		{"Dalvik/2.1.0 (Linux; U; Android 14)", "", DeviceMobile},
		{"Something Mobile Safari", "", DeviceMobile},
		{desktopUA, "", DeviceWeb},
		{"", "", DeviceWeb},
		{desktopUA, "Mobile", DeviceMobile},
		{iphoneUA, "web", DeviceWeb},
		{iphoneUA, "toaster", DeviceMobile},
	}
	for _, c := range cases {
		assert.Equal(t, c.want, ClassifyDevice(c.ua, c.header), "%q / %q", c.ua, c.header)
	}
}
