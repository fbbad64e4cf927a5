// Package metrics owns the Prometheus collectors exported on /metrics.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "gatehouse"

// Metrics is a private registry plus the collectors the service updates.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	reg *prometheus.Registry

	logins        *prometheus.CounterVec
	refreshes     *prometheus.CounterVec
	logouts       *prometheus.CounterVec
	sessionsSwept prometheus.Counter
	geoJobs       *prometheus.CounterVec
	httpRequests  *prometheus.CounterVec
	httpDuration  *prometheus.HistogramVec
	wsClients     prometheus.Gauge
	wsPushes      *prometheus.CounterVec
}

func New() *Metrics {
	m := &Metrics{
		reg: prometheus.NewRegistry(),
		logins: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "auth", Name: "logins_total",
			Help: "Login attempts by result.",
		}, []string{"result"}),
		refreshes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "auth", Name: "refreshes_total",
			Help: "Session refreshes by device class and result.",
		}, []string{"device", "result"}),
		logouts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "auth", Name: "logouts_total",
			Help: "Logouts by scope (one, all).",
		}, []string{"scope"}),
		sessionsSwept: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "session", Name: "swept_total",
			Help: "Expired sessions removed by the sweeper.",
		}),
		geoJobs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "geo", Name: "jobs_total",
			Help: "Location recording jobs by outcome.",
		}, []string{"outcome"}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "http", Name: "requests_total",
			Help: "HTTP requests by method and status class.",
		}, []string{"method", "status_class"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: "http", Name: "request_duration_seconds",
			Help:    "HTTP request latency.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method"}),
		wsClients: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "realtime", Name: "clients",
			Help: "Connected websocket clients.",
		}),
		wsPushes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "realtime", Name: "pushes_total",
			Help: "Revocation events pushed to clients by type.",
		}, []string{"type"}),
	}

	m.reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.logins, m.refreshes, m.logouts, m.sessionsSwept, m.geoJobs,
		m.httpRequests, m.httpDuration, m.wsClients, m.wsPushes,
	)
	return m
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{Registry: m.reg})
}

// Registry exposes the underlying registry, for tests and extra collectors.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.reg
}

func (m *Metrics) Login(result string) {
	if m != nil {
		m.logins.WithLabelValues(result).Inc()
	}
}

func (m *Metrics) Refresh(device, result string) {
	if m != nil {
		m.refreshes.WithLabelValues(device, result).Inc()
	}
}

func (m *Metrics) Logout(scope string) {
	if m != nil {
		m.logouts.WithLabelValues(scope).Inc()
	}
}

func (m *Metrics) SessionsSwept(n int64) {
	if m != nil && n > 0 {
		m.sessionsSwept.Add(float64(n))
	}
}

func (m *Metrics) GeoJob(outcome string) {
	if m != nil {
		m.geoJobs.WithLabelValues(outcome).Inc()
	}
}

func (m *Metrics) HTTPRequest(method, statusClass string, d time.Duration) {
	if m == nil {
		return
	}
	m.httpRequests.WithLabelValues(method, statusClass).Inc()
	m.httpDuration.WithLabelValues(method).Observe(d.Seconds())
}

func (m *Metrics) WSClients(delta int) {
	if m != nil {
		m.wsClients.Add(float64(delta))
	}
}

func (m *Metrics) WSPush(eventType string) {
	if m != nil {
		m.wsPushes.WithLabelValues(eventType).Inc()
	}
}
