package app

import (
	"net"
	"net/http"
	"strings"
	"time"
)

// routes builds the handler chain. Probes and /metrics bypass the gate; all
// other paths are authenticated (or anonymous) through gate.Middleware.
func (a *App) routes() http.Handler {
	api := http.NewServeMux()
	a.auth.Register(api)
	api.Handle("GET /ws", a.ws)

	root := http.NewServeMux()
	root.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok\n"))
	})
	root.HandleFunc("GET /readyz", a.handleReady)
	if a.metrics != nil {
		root.Handle("GET /metrics", a.metrics.Handler())
	}
	root.Handle("/", a.gate.Middleware(api))

	var h http.Handler = root
	h = WithCORS(h, a.cfg, a.log)
	h = WithSecurityHeaders(h)
	return WithRequestLogging(h, a.log, a.metrics)
}

func (a *App) handleReady(w http.ResponseWriter, r *http.Request) {
	pool := a.backends.Pool
	if a.cfg.ReadinessRequireDB && pool == nil {
		http.Error(w, "db not configured", http.StatusServiceUnavailable)
		return
	}
	if pool != nil {
		if err := PingDB(r.Context(), pool, 2*time.Second); err != nil {
			a.log.Info("readyz.db.not_ready", "err", err)
			http.Error(w, "db not ready", http.StatusServiceUnavailable)
			return
		}
	}
	if rdb := a.backends.Redis; rdb != nil {
		if err := rdb.Ping(r.Context()).Err(); err != nil {
			a.log.Info("readyz.redis.not_ready", "err", err)
			http.Error(w, "redis not ready", http.StatusServiceUnavailable)
			return
		}
	}

	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ready\n"))
}

// runtimeBaseURL turns a listen address into a URL a local client can dial.
// Wildcard binds map to loopback.
func runtimeBaseURL(addr string) string {
	host, port, err := net.SplitHostPort(strings.TrimSpace(addr))
	if err != nil {
		return "http://" + strings.TrimSpace(addr)
	}
	switch host {
	case "", "0.0.0.0", "::":
		host = "127.0.0.1"
	}
	return "http://" + net.JoinHostPort(host, port)
}

// wsBaseURL maps an http(s) base URL to ws(s).
func wsBaseURL(base string) string {
	switch {
	case strings.HasPrefix(base, "https://"):
		return "wss://" + strings.TrimPrefix(base, "https://")
	case strings.HasPrefix(base, "http://"):
		return "ws://" + strings.TrimPrefix(base, "http://")
	default:
		return "ws://" + base
	}
}
