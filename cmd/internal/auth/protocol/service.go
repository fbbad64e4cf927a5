package protocol

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"gatehouse/cmd/identity"
	"gatehouse/cmd/internal/auth/credential"
	"gatehouse/cmd/internal/auth/revocation"
	"gatehouse/cmd/internal/auth/session"
	"gatehouse/cmd/internal/tenant"
	"gatehouse/cmd/security/password"
	"gatehouse/cmd/security/token"
)

// Notifier is told when sessions go away so connected clients can react.
type Notifier interface {
	SessionRevoked(userID, sessionID string)
	AllSessionsRevoked(userID string, removed int64)
}

// LocationRecorder records where a login came from, asynchronously.
type LocationRecorder interface {
	RecordLogin(userID, ip string)
}

// Deps are the collaborators of Service. Notifier and Locations may be nil.
type Deps struct {
	Users     identity.Store
	Sessions  session.Store
	Issuer    *credential.Issuer
	Hasher    token.Hasher
	Revoked   revocation.List
	Tenants   tenant.Store
	Passwords password.Config

	Notifier  Notifier
	Locations LocationRecorder

	Log *slog.Logger
	Now func() time.Time

	// Debug exposes raw tokens in every login response.
	Debug bool
}

type Service struct {
	d Deps
}

func NewService(d Deps) (*Service, error) {
	if d.Users == nil || d.Sessions == nil || d.Issuer == nil || d.Tenants == nil {
		return nil, errors.New("protocol: users, sessions, issuer and tenants are required")
	}
	if d.Revoked == nil {
		d.Revoked = revocation.Disabled{}
	}
	if d.Log == nil {
		d.Log = slog.Default()
	}
	if d.Now == nil {
		d.Now = func() time.Time { return time.Now().UTC() }
	}
	return &Service{d: d}, nil
}

// LoginInput is one login attempt.
type LoginInput struct {
	Identifier string
	Password   string
	UserAgent  string
	IP         string

	// ExplicitBearer is set when the client asked for tokens in the body.
	ExplicitBearer bool
}

type LoginResult struct {
	User         identity.User
	Session      session.UserSession
	Pair         credential.Pair
	ExposeTokens bool
}

func (s *Service) Login(ctx context.Context, in LoginInput) (LoginResult, error) {
	ident, err := identity.ClassifyIdentifier(in.Identifier)
	if err != nil {
		return LoginResult{}, ValidationError{Field: "identifier", Msg: "enter a valid email address or phone number"}
	}
	if in.Password == "" {
		return LoginResult{}, ValidationError{Field: "password", Msg: "required"}
	}

	u, err := s.d.Users.FindByIdentifier(ctx, ident)
	if identity.IsNotFound(err) {
		s.d.Passwords.VerifyDummy(in.Password)
		s.d.Log.Info("auth.login.fail", "reason", "unknown_identifier", "kind", ident.Kind.String())
		return LoginResult{}, ErrAuthentication
	}
	if err != nil {
		return LoginResult{}, fmt.Errorf("protocol: find user: %w", err)
	}

	ok, err := s.d.Passwords.Verify(u.PasswordHash, in.Password)
	if err != nil {
		s.d.Log.Error("auth.login.hash_invalid", "user_id", u.ID, "err", err)
		return LoginResult{}, ErrAuthentication
	}
	if !ok {
		s.d.Log.Info("auth.login.fail", "reason", "bad_password", "user_id", u.ID)
		return LoginResult{}, ErrAuthentication
	}
	if !u.CanAuthenticate() {
		s.d.Log.Info("auth.login.fail", "reason", "inactive", "user_id", u.ID)
		return LoginResult{}, ErrAuthentication
	}

	now := s.d.Now()
	sub, err := s.subject(ctx, u)
	if err != nil {
		return LoginResult{}, err
	}
	pair, err := s.d.Issuer.Issue(sub)
	if err != nil {
		return LoginResult{}, fmt.Errorf("protocol: issue: %w", err)
	}

	us, err := s.d.Sessions.Upsert(ctx, now, u.ID,
		session.Fingerprint{UserAgent: in.UserAgent, IP: in.IP},
		s.d.Hasher.Hash(pair.Refresh.Value),
		s.d.Issuer.RefreshTTL(),
	)
	if err != nil {
		return LoginResult{}, fmt.Errorf("protocol: upsert session: %w", err)
	}

	if err := s.d.Users.TouchLastLogin(ctx, u.ID, now); err != nil {
		s.d.Log.Warn("auth.login.touch_fail", "user_id", u.ID, "err", err)
	} else {
		u.LastLogin = &now
	}
	if s.d.Passwords.NeedsRehash(u.PasswordHash) {
		s.rehash(ctx, u.ID, in.Password, now)
	}
	if s.d.Locations != nil && in.IP != "" {
		s.d.Locations.RecordLogin(u.ID, in.IP)
	}

	s.d.Log.Info("auth.login.ok", "user_id", u.ID, "session_id", us.ID)
	return LoginResult{
		User:         u,
		Session:      us,
		Pair:         pair,
		ExposeTokens: in.ExplicitBearer || s.d.Debug,
	}, nil
}

func (s *Service) rehash(ctx context.Context, userID, pw string, now time.Time) {
	h, err := s.d.Passwords.Hash(pw)
	if err != nil {
		s.d.Log.Warn("auth.login.rehash_fail", "user_id", userID, "err", err)
		return
	}
	if err := s.d.Users.SetPasswordHash(ctx, userID, h, now); err != nil {
		s.d.Log.Warn("auth.login.rehash_fail", "user_id", userID, "err", err)
	}
}

// subject gathers what the credential embeds about u.
func (s *Service) subject(ctx context.Context, u identity.User) (credential.Subject, error) {
	sub := credential.Subject{User: u}

	st, err := s.d.Users.GetSettings(ctx, u.ID)
	switch {
	case err == nil:
		sub.Settings = &st
	case identity.IsNotFound(err):
	default:
		return credential.Subject{}, fmt.Errorf("protocol: settings: %w", err)
	}

	ids, err := s.d.Tenants.TenantIDs(ctx, u.ID)
	if err != nil {
		return credential.Subject{}, fmt.Errorf("protocol: tenants: %w", err)
	}
	sub.Tenants = ids
	return sub, nil
}

// RefreshInput carries everything a refresh request may present.
type RefreshInput struct {
	UserAgent  string
	ClientType string

	// SessionID comes from the session cookie, when present.
	SessionID string
	// RefreshToken comes from the request body (mobile).
	RefreshToken string
}

type RefreshResult struct {
	Device  DeviceClass
	Session session.UserSession
	Access  credential.Token
	// Refresh is set only when the credential was rotated (mobile).
	Refresh *credential.Token
}

func (s *Service) Refresh(ctx context.Context, in RefreshInput) (RefreshResult, error) {
	dev := ClassifyDevice(in.UserAgent, in.ClientType)
	if dev == DeviceMobile {
		return s.refreshMobile(ctx, in)
	}
	return s.refreshWeb(ctx, in)
}

func (s *Service) refreshMobile(ctx context.Context, in RefreshInput) (RefreshResult, error) {
	raw := strings.TrimSpace(in.RefreshToken)
	if raw == "" {
		return RefreshResult{}, ValidationError{Field: "refresh", Msg: "this field is required"}
	}

	claims, err := s.d.Issuer.Verify(raw, credential.TypeRefresh)
	if err != nil {
		return RefreshResult{}, ErrAuthentication
	}
	oldHash := s.d.Hasher.Hash(raw)
	revoked, err := s.d.Revoked.IsRevoked(ctx, oldHash)
	if err != nil {
		return RefreshResult{}, fmt.Errorf("protocol: revocation check: %w", err)
	}
	if revoked {
		return RefreshResult{}, ErrAuthentication
	}

	var us session.UserSession
	if id := strings.TrimSpace(in.SessionID); id != "" {
		us, err = s.d.Sessions.Get(ctx, id)
	} else {
		us, err = s.d.Sessions.GetByRefreshHash(ctx, oldHash)
	}
	if err != nil {
		return RefreshResult{}, s.sessionErr(err)
	}
	if us.UserID != claims.Subject || us.IsExpired(s.d.Now()) {
		return RefreshResult{}, ErrAuthentication
	}

	u, err := s.activeUser(ctx, us.UserID)
	if err != nil {
		return RefreshResult{}, err
	}
	sub, err := s.subject(ctx, u)
	if err != nil {
		return RefreshResult{}, err
	}
	pair, err := s.d.Issuer.Issue(sub)
	if err != nil {
		return RefreshResult{}, fmt.Errorf("protocol: issue: %w", err)
	}

	ext, err := s.d.Sessions.Extend(ctx, s.d.Now(), us.ID, session.ExtendInput{
		ExpectRefreshHash: oldHash,
		NewRefreshHash:    s.d.Hasher.Hash(pair.Refresh.Value),
		TTL:               s.d.Issuer.RefreshTTL(),
	})
	if err != nil {
		return RefreshResult{}, s.sessionErr(err)
	}

	s.d.Log.Info("auth.refresh.ok", "device", DeviceMobile, "user_id", u.ID, "session_id", ext.ID)
	refresh := pair.Refresh
	return RefreshResult{Device: DeviceMobile, Session: ext, Access: pair.Access, Refresh: &refresh}, nil
}

func (s *Service) refreshWeb(ctx context.Context, in RefreshInput) (RefreshResult, error) {
	id := strings.TrimSpace(in.SessionID)
	if id == "" {
		return RefreshResult{}, ErrAuthentication
	}
	us, err := s.d.Sessions.Get(ctx, id)
	if err != nil {
		return RefreshResult{}, s.sessionErr(err)
	}
	if us.IsExpired(s.d.Now()) {
		return RefreshResult{}, ErrAuthentication
	}
	// A logout that revoked the hash but failed to delete the row must not
	// leave a session the cookie can still extend.
	revoked, err := s.d.Revoked.IsRevoked(ctx, us.RefreshHash)
	if err != nil {
		return RefreshResult{}, fmt.Errorf("protocol: revocation check: %w", err)
	}
	if revoked {
		return RefreshResult{}, ErrAuthentication
	}

	u, err := s.activeUser(ctx, us.UserID)
	if err != nil {
		return RefreshResult{}, err
	}
	sub, err := s.subject(ctx, u)
	if err != nil {
		return RefreshResult{}, err
	}
	access, err := s.d.Issuer.IssueAccess(sub)
	if err != nil {
		return RefreshResult{}, fmt.Errorf("protocol: issue: %w", err)
	}

	ext, err := s.d.Sessions.Extend(ctx, s.d.Now(), us.ID, session.ExtendInput{
		ExpectRefreshHash: us.RefreshHash,
		TTL:               s.d.Issuer.RefreshTTL(),
	})
	if err != nil {
		return RefreshResult{}, s.sessionErr(err)
	}

	s.d.Log.Info("auth.refresh.ok", "device", DeviceWeb, "user_id", u.ID, "session_id", ext.ID)
	return RefreshResult{Device: DeviceWeb, Session: ext, Access: access}, nil
}

func (s *Service) activeUser(ctx context.Context, id string) (identity.User, error) {
	u, err := s.d.Users.GetUser(ctx, id)
	if identity.IsNotFound(err) {
		return identity.User{}, ErrAuthentication
	}
	if err != nil {
		return identity.User{}, fmt.Errorf("protocol: load user: %w", err)
	}
	if !u.CanAuthenticate() {
		return identity.User{}, ErrAuthentication
	}
	return u, nil
}

// sessionErr folds the session store's expected failures into ErrAuthentication.
func (s *Service) sessionErr(err error) error {
	switch {
	case errors.Is(err, session.ErrNotFound),
		errors.Is(err, session.ErrExpired),
		errors.Is(err, session.ErrCredentialMismatch):
		return ErrAuthentication
	default:
		return fmt.Errorf("protocol: session: %w", err)
	}
}

// LogoutInput describes the caller. UserID must be the authenticated user.
type LogoutInput struct {
	UserID       string
	Session      *session.UserSession
	RefreshToken string
}

// Logout blacklists the caller's refresh credential and deletes its session.
// If the blacklist is disabled it returns revocation.ErrUnsupported and
// deletes nothing.
func (s *Service) Logout(ctx context.Context, in LogoutInput) error {
	if in.UserID == "" {
		return ErrAuthentication
	}

	var (
		hash  string
		until time.Time
		owner *session.UserSession
	)
	switch raw := strings.TrimSpace(in.RefreshToken); {
	case raw != "":
		claims, err := s.d.Issuer.Verify(raw, credential.TypeRefresh)
		if err != nil || claims.Subject != in.UserID {
			return ValidationError{Field: "refresh", Msg: "token is invalid or expired"}
		}
		hash = s.d.Hasher.Hash(raw)
		until = claims.ExpiresAt
		if us, err := s.d.Sessions.GetByRefreshHash(ctx, hash); err == nil {
			owner = &us
		} else if !errors.Is(err, session.ErrNotFound) {
			return fmt.Errorf("protocol: session: %w", err)
		}
	case in.Session != nil:
		hash = in.Session.RefreshHash
		until = in.Session.ExpiresAt
		owner = in.Session
	default:
		return ValidationError{Field: "refresh", Msg: "refresh token or session required"}
	}

	if err := s.d.Revoked.Revoke(ctx, hash, in.UserID, until); err != nil {
		if errors.Is(err, revocation.ErrUnsupported) {
			return err
		}
		return fmt.Errorf("protocol: revoke: %w", err)
	}

	if owner != nil && owner.UserID == in.UserID {
		if err := s.d.Sessions.Delete(ctx, owner.ID); err != nil {
			return fmt.Errorf("protocol: delete session: %w", err)
		}
		if s.d.Notifier != nil {
			s.d.Notifier.SessionRevoked(in.UserID, owner.ID)
		}
		s.d.Log.Info("auth.logout.ok", "user_id", in.UserID, "session_id", owner.ID)
		return nil
	}
	s.d.Log.Info("auth.logout.ok", "user_id", in.UserID)
	return nil
}

// LogoutAll removes every session of userID and returns how many there were.
func (s *Service) LogoutAll(ctx context.Context, userID string) (int64, error) {
	if userID == "" {
		return 0, ErrAuthentication
	}
	n, err := s.d.Sessions.DeleteAllForUser(ctx, userID)
	if err != nil {
		return 0, fmt.Errorf("protocol: delete sessions: %w", err)
	}
	if s.d.Notifier != nil {
		s.d.Notifier.AllSessionsRevoked(userID, n)
	}
	s.d.Log.Info("auth.logout_all.ok", "user_id", userID, "removed", n)
	return n, nil
}

// Sessions lists the caller's devices.
func (s *Service) Sessions(ctx context.Context, userID string) ([]session.UserSession, error) {
	return s.d.Sessions.ListForUser(ctx, userID)
}
