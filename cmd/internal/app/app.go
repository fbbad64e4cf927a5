// Package app wires the Gatehouse server runtime: config, logging, stores,
// the auth HTTP surface, the revocation websocket and background workers.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	authapi "gatehouse/cmd/internal/auth/api"
	"gatehouse/cmd/internal/auth/credential"
	"gatehouse/cmd/internal/auth/gate"
	"gatehouse/cmd/internal/auth/protocol"
	"gatehouse/cmd/internal/auth/session"
	"gatehouse/cmd/internal/geo"
	"gatehouse/cmd/internal/metrics"
	"gatehouse/cmd/internal/realtime"
	"gatehouse/cmd/security/password"
	"gatehouse/cmd/security/token"
)

// App is the Gatehouse server runtime.
type App struct {
	cfg Config
	log Logger

	backends *Backends
	metrics  *metrics.Metrics

	gate    *gate.Gate
	auth    *authapi.Handler
	ws      *realtime.Gateway
	sweeper *session.Sweeper
	geo     *geo.Recorder
}

// New constructs a fully wired App from config and logger.
func New(ctx context.Context, cfg Config, log Logger) (*App, error) {
	if log == nil {
		log = NewLogger(cfg.LogLevel, cfg.LogFormat, nil)
	}

	pw, err := password.FromEnv()
	if err != nil {
		return nil, err
	}
	issuer, err := newIssuer(cfg, log)
	if err != nil {
		return nil, err
	}
	hasher, err := token.HasherFromEnv(cfg.RequireTokenHMAC)
	if err != nil {
		return nil, err
	}
	if !hasher.Keyed() {
		log.Warn("security.token_hmac.disabled", "fallback", "sha256")
	}

	backends, err := OpenBackends(ctx, cfg, pw, log)
	if err != nil {
		return nil, err
	}

	var m *metrics.Metrics
	if cfg.MetricsEnabled {
		m = metrics.New()
	}
	hub := realtime.NewHub(log, m)

	a := &App{cfg: cfg, log: log, backends: backends, metrics: m}
	fail := func(err error) (*App, error) {
		backends.Close()
		return nil, err
	}

	deps := protocol.Deps{
		Users:     backends.Users,
		Sessions:  backends.Sessions,
		Issuer:    issuer,
		Hasher:    hasher,
		Revoked:   backends.Revoked,
		Tenants:   backends.Tenants,
		Passwords: pw,
		Notifier:  hub,
		Log:       log,
		Debug:     cfg.Debug,
	}
	a.geo, err = newGeoRecorder(backends.Geo, m, log)
	if err != nil {
		return fail(err)
	}
	if a.geo != nil {
		deps.Locations = a.geo
	}
	svc, err := protocol.NewService(deps)
	if err != nil {
		return fail(err)
	}

	cookies, err := cookiePolicy(cfg)
	if err != nil {
		return fail(err)
	}
	a.gate = gate.NewDefault(gate.Deps{
		Sessions: backends.Sessions,
		Users:    backends.Users,
		Issuer:   issuer,
	}, cookies, log)

	authCfg := authapi.LoadConfigFromEnv()
	authDeps := authapi.Deps{
		Service: svc,
		Users:   backends.Users,
		Tenants: backends.Tenants,
		Cookies: cookies,
		Audit:   backends.Audit,
		Metrics: m,
		Log:     log,
	}
	if backends.Redis != nil {
		authDeps.Redis = backends.Redis
	}
	a.auth, err = authapi.NewHandler(authCfg, authDeps)
	if err != nil {
		return fail(err)
	}

	wsCfg := realtime.DefaultConfig()
	if len(cfg.WSAllowedOrigins) > 0 {
		wsCfg.AllowedOrigins = cfg.WSAllowedOrigins
	}
	wsCfg.DevInsecure = cfg.WSDevInsecure && !cfg.Production()
	a.ws = realtime.NewGateway(wsCfg, hub, a.gate, log)

	sessCfg, err := session.LoadConfigFromEnv()
	if err != nil {
		return fail(err)
	}
	var expirer session.Expirer = backends.Sessions
	if backends.RevokedExpirer != nil {
		expirer = multiExpirer{backends.Sessions, backends.RevokedExpirer}
	}
	a.sweeper = session.NewSweeper(expirer, sessCfg, log)
	a.sweeper.OnSwept = m.SessionsSwept

	return a, nil
}

// Handler returns the full HTTP handler chain.
func (a *App) Handler() http.Handler {
	return a.routes()
}

// Run starts the HTTP server and background workers and blocks until ctx is
// cancelled or the server fails.
func (a *App) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              a.cfg.HTTPAddr,
		Handler:           a.Handler(),
		ReadHeaderTimeout: nonZeroDuration(a.cfg.ReadHeaderTimeout, 5*time.Second),
		ReadTimeout:       nonZeroDuration(a.cfg.ReadTimeout, 15*time.Second),
		WriteTimeout:      nonZeroDuration(a.cfg.WriteTimeout, 15*time.Second),
		IdleTimeout:       nonZeroDuration(a.cfg.IdleTimeout, 60*time.Second),
		MaxHeaderBytes:    nonZeroInt(a.cfg.MaxHeaderBytes, 1<<20),
	}

	workCtx, stopWork := context.WithCancel(ctx)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		a.sweeper.Run(workCtx)
	}()
	if a.geo != nil {
		a.geo.Start(workCtx)
	}

	base := runtimeBaseURL(a.cfg.HTTPAddr)
	a.log.Info("server.start",
		"addr", a.cfg.HTTPAddr,
		"base_url", base,
		"ws_url", wsBaseURL(base)+"/ws",
		"env", a.cfg.Env,
		"db_enabled", a.backends.Pool != nil,
		"redis_enabled", a.backends.Redis != nil,
		"debug", a.cfg.Debug,
	)

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	var runErr error
	select {
	case <-ctx.Done():
		a.log.Info("server.stop", "reason", "context_done")
	case runErr = <-errCh:
		a.log.Error("server.fail", "err", runErr)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.log.Error("server.shutdown.fail", "err", err)
		runErr = errors.Join(runErr, err)
	}

	stopWork()
	wg.Wait()
	if a.geo != nil {
		a.geo.Close()
	}
	a.backends.Close()

	a.log.Info("server.stopped")
	return runErr
}

func newIssuer(cfg Config, log Logger) (*credential.Issuer, error) {
	credCfg, err := credential.LoadConfigFromEnv()
	if errors.Is(err, credential.ErrMissingKey) && !cfg.Production() {
		log.Warn("credential.key.ephemeral", "alg", string(credCfg.Algorithm))
		credCfg = credCfg.WithEphemeralKey()
		err = nil
	}
	if err != nil {
		return nil, err
	}
	return credential.NewIssuer(credCfg)
}

func newGeoRecorder(store geo.Store, m *metrics.Metrics, log Logger) (*geo.Recorder, error) {
	clientCfg, ok := geo.ClientConfigFromEnv()
	if !ok {
		log.Info("geo.disabled", "reason", "no_api_key")
		return nil, nil
	}
	client, err := geo.NewClient(clientCfg, log)
	if err != nil {
		return nil, err
	}
	rec := geo.NewRecorder(client, store, geo.DefaultRecorderConfig(), log)
	rec.OnResult = m.GeoJob
	return rec, nil
}

func cookiePolicy(cfg Config) (gate.CookiePolicy, error) {
	p := gate.DefaultCookiePolicy(cfg.Production())
	p.Domain = cfg.CookieDomain

	switch strings.ToLower(strings.TrimSpace(cfg.CookieSameSite)) {
	case "", "lax":
		p.SameSite = http.SameSiteLaxMode
	case "strict":
		p.SameSite = http.SameSiteStrictMode
	case "none":
		// Browsers drop SameSite=None cookies that are not Secure.
		p.SameSite = http.SameSiteNoneMode
		p.Secure = true
	default:
		return gate.CookiePolicy{}, fmt.Errorf("invalid GATEHOUSE_COOKIE_SAMESITE %q", cfg.CookieSameSite)
	}
	return p, nil
}

// multiExpirer sweeps several tables in one pass and reports the total.
type multiExpirer []session.Expirer

func (m multiExpirer) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	var total int64
	for _, e := range m {
		n, err := e.DeleteExpired(ctx, now)
		if err != nil {
			return total, err
		}
		total += n
	}
	return total, nil
}

func nonZeroDuration(v, def time.Duration) time.Duration {
	if v <= 0 {
		return def
	}
	return v
}

func nonZeroInt(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}
