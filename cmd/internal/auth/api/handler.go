package authapi

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"gatehouse/cmd/identity"
	"gatehouse/cmd/internal/auth/gate"
	"gatehouse/cmd/internal/auth/protocol"
	"gatehouse/cmd/internal/auth/revocation"
	"gatehouse/cmd/internal/metrics"
	"gatehouse/cmd/internal/tenant"

	"github.com/redis/go-redis/v9"
)

// Deps are the collaborators of Handler. Redis, Audit and Metrics are optional.
type Deps struct {
	Service *protocol.Service
	Users   identity.Store
	Tenants tenant.Store
	Cookies gate.CookiePolicy

	// Redis, when set, backs the login throttle so limits hold across instances.
	Redis   redis.Cmdable
	Audit   Auditor
	Metrics *metrics.Metrics

	Log *slog.Logger
	Now func() time.Time
}

// Handler serves the /auth, /me and /users endpoints. It expects requests to
// have passed through gate.Middleware.
type Handler struct {
	log *slog.Logger
	cfg Config
	d   Deps

	ipThrottle    LoginThrottle
	identThrottle LoginThrottle
}

func NewHandler(cfg Config, d Deps) (*Handler, error) {
	if d.Service == nil || d.Users == nil || d.Tenants == nil {
		return nil, errors.New("authapi: service, users and tenants are required")
	}
	if d.Log == nil {
		d.Log = slog.Default()
	}
	if d.Now == nil {
		d.Now = func() time.Time { return time.Now().UTC() }
	}
	if d.Audit == nil {
		d.Audit = LogAuditor{Log: d.Log}
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = DefaultConfig().MaxBodyBytes
	}
	if cfg.LoginWindow <= 0 {
		cfg.LoginWindow = DefaultConfig().LoginWindow
	}

	h := &Handler{log: d.Log, cfg: cfg, d: d}
	if d.Redis != nil {
		h.ipThrottle = NewRedisThrottle(d.Redis, cfg.LoginIPMax, cfg.LoginWindow)
		h.identThrottle = NewRedisThrottle(d.Redis, cfg.LoginIdentifierMax, cfg.LoginWindow)
	} else {
		h.ipThrottle = NewLocalThrottle(cfg.LoginIPMax, cfg.LoginWindow)
		h.identThrottle = NewLocalThrottle(cfg.LoginIdentifierMax, cfg.LoginWindow)
	}
	return h, nil
}

// Register wires the routes onto mux.
func (h *Handler) Register(mux *http.ServeMux) {
	if h == nil || mux == nil {
		return
	}
	mux.HandleFunc("POST /auth/register", h.handleRegister)
	mux.HandleFunc("POST /auth/login", h.handleLogin)
	mux.HandleFunc("POST /auth/token/refresh", h.handleRefresh)
	mux.HandleFunc("POST /auth/logout", h.handleLogout)
	mux.HandleFunc("POST /auth/logout/all", h.handleLogoutAll)
	mux.HandleFunc("GET /auth/sessions", h.handleSessions)

	mux.HandleFunc("GET /me", h.handleMe)
	mux.HandleFunc("PUT /me", h.handleUpdateMe)
	mux.HandleFunc("GET /me/settings", h.handleSettings)
	mux.HandleFunc("PUT /me/settings", h.handleUpdateSettings)

	mux.HandleFunc("GET /me/tenants", h.handleTenants)
	mux.HandleFunc("POST /me/tenants", h.handleAddTenant)
	mux.HandleFunc("PUT /me/tenants", h.handleUpdateTenant)
	mux.HandleFunc("DELETE /me/tenants", h.handleDeleteTenants)

	mux.HandleFunc("GET /users", h.handleUsers)
}

// ---- auth ----

func (h *Handler) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if !h.readJSON(w, r, &req, false) {
		return
	}

	u, _, err := h.d.Users.CreateUser(r.Context(), identity.CreateUserInput{
		Email:     req.Email,
		Phone:     req.Phone,
		Password:  req.Password,
		FirstName: req.FirstName,
		LastName:  req.LastName,
		Address:   req.Address,
		Language:  req.Language,
		Timezone:  req.Timezone,
		Now:       h.d.Now(),
	})
	if err != nil {
		h.fail(w, "auth.register", err)
		return
	}

	h.d.Audit.Record(r.Context(), h.event(r, "auth.register", u.ID, ""))
	writeJSON(w, http.StatusCreated, map[string]any{"user": toUserResponse(u)})
}

func (h *Handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if !h.readJSON(w, r, &req, false) {
		return
	}

	ctx := r.Context()
	ip := clientIP(r, h.cfg.TrustProxy)
	ua := strings.TrimSpace(r.UserAgent())
	identKey := throttleIdentifier(req.Identifier)

	if retry, blocked := h.loginBlocked(ctx, ip, identKey); blocked {
		ev := h.event(r, "auth.login.rate_limited", "", "")
		ev.Meta = map[string]any{"identifier": identKey, "retry_after_s": int64(retry.Seconds())}
		h.d.Audit.Record(ctx, ev)
		h.d.Metrics.Login("throttled")
		writeRateLimited(w, retry)
		return
	}

	res, err := h.d.Service.Login(ctx, protocol.LoginInput{
		Identifier:     req.Identifier,
		Password:       req.Password,
		UserAgent:      ua,
		IP:             ip,
		ExplicitBearer: wantsBearer(r),
	})
	if err != nil {
		if errors.Is(err, protocol.ErrAuthentication) {
			h.loginFailed(ctx, ip, identKey)
			ev := h.event(r, "auth.login.failed", "", "")
			ev.Meta = map[string]any{"identifier": identKey}
			h.d.Audit.Record(ctx, ev)
			h.d.Metrics.Login("fail")
			writeError(w, http.StatusBadRequest, "invalid_credentials", "unable to log in with provided credentials")
			return
		}
		h.d.Metrics.Login("error")
		h.fail(w, "auth.login", err)
		return
	}

	h.d.Cookies.SetAccess(w, res.Pair.Access.Value, res.Pair.Access.ExpiresAt)
	h.d.Cookies.SetSession(w, res.Session.ID, res.Session.ExpiresAt)
	h.d.Audit.Record(ctx, h.event(r, "auth.login.success", res.User.ID, res.Session.ID))
	h.d.Metrics.Login("ok")

	resp := loginResponse{
		User:      toUserResponse(res.User),
		SessionID: res.Session.ID,
		ExpiresAt: res.Session.ExpiresAt,
	}
	if res.ExposeTokens {
		refreshExp := res.Pair.Refresh.ExpiresAt
		resp.Tokens = &tokenResponse{
			Access:           res.Pair.Access.Value,
			AccessExpiresAt:  res.Pair.Access.ExpiresAt,
			Refresh:          res.Pair.Refresh.Value,
			RefreshExpiresAt: &refreshExp,
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) loginBlocked(ctx context.Context, ip, ident string) (time.Duration, bool) {
	checks := []struct {
		t   LoginThrottle
		key string
	}{
		{h.ipThrottle, "ip:" + ip},
		{h.identThrottle, "id:" + ident},
	}
	for _, c := range checks {
		if c.key == "ip:" || c.key == "id:" {
			continue
		}
		blocked, retry, err := c.t.Blocked(ctx, c.key)
		if err != nil {
			// A throttle outage must not lock everyone out.
			h.log.Warn("auth.login.throttle.fail", "err", err)
			continue
		}
		if blocked {
			return retry, true
		}
	}
	return 0, false
}

func (h *Handler) loginFailed(ctx context.Context, ip, ident string) {
	if ip != "" {
		if err := h.ipThrottle.Failed(ctx, "ip:"+ip); err != nil {
			h.log.Warn("auth.login.throttle.fail", "err", err)
		}
	}
	if ident != "" {
		if err := h.identThrottle.Failed(ctx, "id:"+ident); err != nil {
			h.log.Warn("auth.login.throttle.fail", "err", err)
		}
	}
}

func (h *Handler) handleRefresh(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if !h.readJSON(w, r, &req, true) {
		return
	}

	sid, _ := h.d.Cookies.SessionID(r)
	res, err := h.d.Service.Refresh(r.Context(), protocol.RefreshInput{
		UserAgent:    r.UserAgent(),
		ClientType:   r.Header.Get(protocol.ClientTypeHeader),
		SessionID:    sid,
		RefreshToken: req.Refresh,
	})
	if err != nil {
		dev := protocol.ClassifyDevice(r.UserAgent(), r.Header.Get(protocol.ClientTypeHeader))
		if errors.Is(err, protocol.ErrAuthentication) {
			h.d.Metrics.Refresh(string(dev), "fail")
			h.d.Cookies.Clear(w)
			writeError(w, http.StatusUnauthorized, "not_authenticated", "session is not active")
			return
		}
		if _, ok := protocol.AsValidation(err); ok {
			h.d.Metrics.Refresh(string(dev), "invalid")
		} else {
			h.d.Metrics.Refresh(string(dev), "error")
		}
		h.fail(w, "auth.refresh", err)
		return
	}

	h.d.Cookies.SetAccess(w, res.Access.Value, res.Access.ExpiresAt)
	h.d.Cookies.SetSession(w, res.Session.ID, res.Session.ExpiresAt)
	h.d.Audit.Record(r.Context(), h.event(r, "auth.refresh.success", res.Session.UserID, res.Session.ID))
	h.d.Metrics.Refresh(string(res.Device), "ok")

	resp := refreshResponse{
		SessionID: res.Session.ID,
		ExpiresAt: res.Session.ExpiresAt,
		Tokens:    tokenResponse{Access: res.Access.Value, AccessExpiresAt: res.Access.ExpiresAt},
	}
	if res.Refresh != nil {
		exp := res.Refresh.ExpiresAt
		resp.Tokens.Refresh = res.Refresh.Value
		resp.Tokens.RefreshExpiresAt = &exp
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) handleLogout(w http.ResponseWriter, r *http.Request) {
	caller, ok := h.requireUser(w, r)
	if !ok {
		return
	}
	var req logoutRequest
	if !h.readJSON(w, r, &req, true) {
		return
	}

	err := h.d.Service.Logout(r.Context(), protocol.LogoutInput{
		UserID:       caller.UserID(),
		Session:      caller.Session,
		RefreshToken: req.Refresh,
	})
	if err != nil {
		h.fail(w, "auth.logout", err)
		return
	}

	var sid string
	if caller.Session != nil {
		sid = caller.Session.ID
	}
	h.d.Cookies.Clear(w)
	h.d.Audit.Record(r.Context(), h.event(r, "auth.logout", caller.UserID(), sid))
	h.d.Metrics.Logout("one")
	w.WriteHeader(http.StatusResetContent)
}

func (h *Handler) handleLogoutAll(w http.ResponseWriter, r *http.Request) {
	caller, ok := h.requireUser(w, r)
	if !ok {
		return
	}
	n, err := h.d.Service.LogoutAll(r.Context(), caller.UserID())
	if err != nil {
		h.fail(w, "auth.logout_all", err)
		return
	}

	h.d.Cookies.Clear(w)
	h.d.Audit.Record(r.Context(), h.event(r, "auth.logout_all", caller.UserID(), ""))
	h.d.Metrics.Logout("all")
	writeJSON(w, http.StatusOK, map[string]int64{"removed": n})
}

func (h *Handler) handleSessions(w http.ResponseWriter, r *http.Request) {
	caller, ok := h.requireUser(w, r)
	if !ok {
		return
	}
	list, err := h.d.Service.Sessions(r.Context(), caller.UserID())
	if err != nil {
		h.fail(w, "auth.sessions", err)
		return
	}
	var current string
	if caller.Session != nil {
		current = caller.Session.ID
	}
	out := make([]sessionResponse, 0, len(list))
	for _, s := range list {
		out = append(out, toSessionResponse(s, current))
	}
	writeJSON(w, http.StatusOK, map[string]any{"sessions": out})
}

// ---- profile ----

func (h *Handler) handleMe(w http.ResponseWriter, r *http.Request) {
	caller, ok := h.requireUser(w, r)
	if !ok {
		return
	}
	u, err := h.d.Users.GetUser(r.Context(), caller.UserID())
	if err != nil {
		h.fail(w, "auth.me", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"user": toUserResponse(u)})
}

func (h *Handler) handleUpdateMe(w http.ResponseWriter, r *http.Request) {
	caller, ok := h.requireUser(w, r)
	if !ok {
		return
	}
	var req profileRequest
	if !h.readJSON(w, r, &req, false) {
		return
	}

	u, err := h.d.Users.UpdateProfile(r.Context(), caller.UserID(), identity.ProfilePatch{
		Email:          req.Email,
		Phone:          req.Phone,
		FirstName:      req.FirstName,
		LastName:       req.LastName,
		Address:        req.Address,
		ProfilePicture: req.ProfilePicture,
		Language:       req.Language,
		Timezone:       req.Timezone,
	}, h.d.Now())
	if err != nil {
		h.fail(w, "auth.me.update", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"user": toUserResponse(u)})
}

func (h *Handler) handleSettings(w http.ResponseWriter, r *http.Request) {
	caller, ok := h.requireUser(w, r)
	if !ok {
		return
	}
	s, err := h.d.Users.GetSettings(r.Context(), caller.UserID())
	if err != nil {
		h.fail(w, "auth.settings", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"settings": toSettingsResponse(s)})
}

func (h *Handler) handleUpdateSettings(w http.ResponseWriter, r *http.Request) {
	caller, ok := h.requireUser(w, r)
	if !ok {
		return
	}
	var req settingsRequest
	if !h.readJSON(w, r, &req, false) {
		return
	}

	s, err := h.d.Users.UpdateSettings(r.Context(), caller.UserID(), identity.SettingsPatch{
		IsDark:             req.IsDark,
		Language:           req.Language,
		NotifyEmail:        req.NotifyEmail,
		NotifySMS:          req.NotifySMS,
		NotifyPush:         req.NotifyPush,
		PayoutFrequency:    req.PayoutFrequency,
		PaymentPreference:  req.PaymentPreference,
		PaymentAccountType: req.PaymentAccountType,
		ProfileVisibility:  req.ProfileVisibility,
	}, h.d.Now())
	if err != nil {
		h.fail(w, "auth.settings.update", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"settings": toSettingsResponse(s)})
}

// ---- tenants ----

func (h *Handler) handleTenants(w http.ResponseWriter, r *http.Request) {
	caller, ok := h.requireUser(w, r)
	if !ok {
		return
	}
	list, err := h.d.Tenants.List(r.Context(), caller.UserID())
	if err != nil {
		h.fail(w, "tenant.list", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"tenants": list})
}

func (h *Handler) handleAddTenant(w http.ResponseWriter, r *http.Request) {
	h.writeTenant(w, r, http.StatusCreated, "tenant.add", h.d.Tenants.Add)
}

func (h *Handler) handleUpdateTenant(w http.ResponseWriter, r *http.Request) {
	h.writeTenant(w, r, http.StatusOK, "tenant.update", h.d.Tenants.UpdateRole)
}

func (h *Handler) writeTenant(w http.ResponseWriter, r *http.Request, status int, op string,
	apply func(ctx context.Context, userID, tenantID, role string) (tenant.Membership, error),
) {
	caller, ok := h.requireUser(w, r)
	if !ok {
		return
	}
	var req tenantRequest
	if !h.readJSON(w, r, &req, false) {
		return
	}
	ids := tenant.NormalizeIDs(req.ids())
	if len(ids) != 1 {
		writeFieldError(w, http.StatusBadRequest, "invalid_request", "tenant_id", "exactly one tenant_id is required")
		return
	}

	m, err := apply(r.Context(), caller.UserID(), ids[0], req.Role)
	if err != nil {
		h.fail(w, op, err)
		return
	}
	writeJSON(w, status, map[string]any{"tenant": m})
}

func (h *Handler) handleDeleteTenants(w http.ResponseWriter, r *http.Request) {
	caller, ok := h.requireUser(w, r)
	if !ok {
		return
	}
	var req tenantRequest
	if !h.readJSON(w, r, &req, true) {
		return
	}
	ids := append(queryTenantIDs(r.URL.Query()), req.ids()...)

	n, err := h.d.Tenants.Delete(r.Context(), caller.UserID(), ids)
	if err != nil {
		h.fail(w, "tenant.delete", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"removed": n})
}

// ---- admin ----

func (h *Handler) handleUsers(w http.ResponseWriter, r *http.Request) {
	caller, ok := h.requireUser(w, r)
	if !ok {
		return
	}
	if !caller.Identity.User.IsSuperuser {
		writeError(w, http.StatusForbidden, "permission_denied", "superuser required")
		return
	}

	q := r.URL.Query()
	f := identity.UserFilter{EmailContains: strings.TrimSpace(q.Get("email"))}
	if v := strings.TrimSpace(q.Get("is_active")); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			writeFieldError(w, http.StatusBadRequest, "invalid_request", "is_active", "must be a boolean")
			return
		}
		f.IsActive = &b
	}
	if v := strings.TrimSpace(q.Get("limit")); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeFieldError(w, http.StatusBadRequest, "invalid_request", "limit", "must be a positive integer")
			return
		}
		f.Limit = n
	}

	users, err := h.d.Users.ListUsers(r.Context(), f)
	if err != nil {
		h.fail(w, "auth.users", err)
		return
	}
	out := make([]userResponse, 0, len(users))
	for _, u := range users {
		out = append(out, toUserResponse(u))
	}
	writeJSON(w, http.StatusOK, map[string]any{"users": out})
}

// ---- helpers ----

func (h *Handler) requireUser(w http.ResponseWriter, r *http.Request) (gate.Result, bool) {
	res := gate.FromContext(r.Context())
	if !res.Authenticated() {
		writeError(w, http.StatusUnauthorized, "not_authenticated", "authentication credentials were not provided")
		return res, false
	}
	return res, true
}

// fail maps service and store errors to responses. Unknown errors are logged
// and become 500.
func (h *Handler) fail(w http.ResponseWriter, op string, err error) {
	var (
		ve protocol.ValidationError
		fe identity.FieldError
	)
	switch {
	case errors.As(err, &ve):
		writeFieldError(w, http.StatusBadRequest, "invalid_request", ve.Field, ve.Msg)
	case errors.As(err, &fe):
		writeFieldError(w, http.StatusBadRequest, "invalid_request", fe.Field, fe.Msg)
	case identity.IsConflict(err):
		field := identity.ConflictField(err)
		writeFieldError(w, http.StatusBadRequest, "conflict", field, "already in use")
	case errors.Is(err, tenant.ErrConflict):
		writeFieldError(w, http.StatusBadRequest, "conflict", "tenant_id", "membership already exists")
	case errors.Is(err, tenant.ErrInvalidInput):
		writeFieldError(w, http.StatusBadRequest, "invalid_request", tenantField(err), "invalid value")
	case identity.IsInvalidInput(err):
		writeError(w, http.StatusBadRequest, "invalid_request", "invalid input")
	case identity.IsNotFound(err), errors.Is(err, tenant.ErrNotFound):
		writeError(w, http.StatusNotFound, "not_found", "not found")
	case errors.Is(err, protocol.ErrAuthentication):
		writeError(w, http.StatusUnauthorized, "not_authenticated", "session is not active")
	case errors.Is(err, revocation.ErrUnsupported):
		writeError(w, http.StatusNotImplemented, "not_implemented", "token blacklisting is not enabled")
	default:
		h.log.Error(op+".fail", "err", err)
		writeError(w, http.StatusInternalServerError, "server_error", "internal error")
	}
}

func tenantField(err error) string {
	if strings.HasSuffix(err.Error(), ": role") {
		return "role"
	}
	return "tenant_id"
}

func (h *Handler) event(r *http.Request, action, userID, sessionID string) AuditEvent {
	return AuditEvent{
		Action:    action,
		UserID:    userID,
		SessionID: sessionID,
		IP:        clientIP(r, h.cfg.TrustProxy),
		UserAgent: r.UserAgent(),
	}
}

// throttleIdentifier keys the throttle by the canonical identifier when it
// parses, so "Ada@X.com" and "ada@x.com" share a budget.
func throttleIdentifier(raw string) string {
	if ident, err := identity.ClassifyIdentifier(raw); err == nil {
		return ident.Value
	}
	return strings.ToLower(strings.TrimSpace(raw))
}

func clientIP(r *http.Request, trustProxy bool) string {
	if trustProxy {
		if ip := firstForwardedIP(r.Header.Get("X-Forwarded-For")); ip != nil {
			return ip.String()
		}
	}
	host, _, err := net.SplitHostPort(strings.TrimSpace(r.RemoteAddr))
	if err != nil {
		host = strings.TrimSpace(r.RemoteAddr)
	}
	if ip := net.ParseIP(host); ip != nil {
		return ip.String()
	}
	return ""
}

func firstForwardedIP(raw string) net.IP {
	first, _, _ := strings.Cut(raw, ",")
	return net.ParseIP(strings.TrimSpace(first))
}

// wantsBearer reports whether the login response should carry raw tokens.
// Only an Authorization header or an explicit X-Client-Type: mobile qualifies;
// the user-agent heuristic never exposes tokens to a browser.
func wantsBearer(r *http.Request) bool {
	if strings.TrimSpace(r.Header.Get("Authorization")) != "" {
		return true
	}
	return strings.EqualFold(strings.TrimSpace(r.Header.Get(protocol.ClientTypeHeader)), string(protocol.DeviceMobile))
}
