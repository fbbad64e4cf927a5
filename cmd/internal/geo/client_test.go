package geo

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func quietLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func testClient(t *testing.T, srv *httptest.Server, mutate func(*ClientConfig)) *Client {
	t.Helper()
	cfg := DefaultClientConfig()
	cfg.BaseURL = srv.URL + "/ipgeo"
	cfg.APIKey = "k"
	cfg.RatePerSecond = 1000
	cfg.Burst = 1000
	if mutate != nil {
		mutate(&cfg)
	}
	c, err := NewClient(cfg, quietLogger())
	require.NoError(t, err)
	return c
}

const sampleBody = `{
	"ip": "8.8.8.8",
	"country_code2": "US",
	"country_name": "United States",
	"state_prov": "California",
	"city": "Mountain View",
	"latitude": "37.42240",
	"longitude": "-122.08421",
	"isp": "Google LLC"
}`

func TestRoutable(t *testing.T) {
	t.Parallel()

	for ip, want := range map[string]bool{
		"8.8.8.8":              true,
		"2001:4860:4860::8888": true,
		"127.0.0.1":            false,
		"10.1.2.3":             false,
		"192.168.0.10":         false,
		"::1":                  false,
		"0.0.0.0":              false,
		"::ffff:10.0.0.1":      false,
		"not-an-ip":            false,
		"":                     false,
	} {
		_, got := Routable(ip)
		assert.Equal(t, want, got, ip)
	}
}

func TestClient_LookupParsesResponse(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "k", r.URL.Query().Get("apiKey"))
		assert.Equal(t, "8.8.8.8", r.URL.Query().Get("ip"))
		_, _ = io.WriteString(w, sampleBody)
	}))
	defer srv.Close()

	info, err := testClient(t, srv, nil).Lookup(context.Background(), "8.8.8.8")
	require.NoError(t, err)
	assert.Equal(t, "US", info.CountryCode)
	assert.Equal(t, "Mountain View", info.City)
	assert.Equal(t, "Google LLC", info.ISP)
	require.NotNil(t, info.Latitude)
	assert.InDelta(t, 37.4224, *info.Latitude, 1e-6)
}

func TestClient_SkipsPrivateAddresses(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
	}))
	defer srv.Close()

	_, err := testClient(t, srv, nil).Lookup(context.Background(), "127.0.0.1")
	assert.ErrorIs(t, err, ErrNotRoutable)
	assert.Zero(t, calls.Load())
}

func TestClient_RetriesServerErrors(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_, _ = io.WriteString(w, sampleBody)
	}))
	defer srv.Close()

	info, err := testClient(t, srv, func(c *ClientConfig) { c.RetryMaxElapsed = 10 * time.Second }).
		Lookup(context.Background(), "8.8.8.8")
	require.NoError(t, err)
	assert.Equal(t, "US", info.CountryCode)
	assert.Equal(t, int32(3), calls.Load())
}

func TestClient_DoesNotRetryClientErrors(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	_, err := testClient(t, srv, nil).Lookup(context.Background(), "8.8.8.8")
	require.Error(t, err)
	assert.Equal(t, int32(1), calls.Load())
}

func TestClient_BreakerOpensAfterFailures(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c := testClient(t, srv, func(c *ClientConfig) {
		c.RetryMaxElapsed = time.Millisecond
		c.BreakerFailures = 2
		c.BreakerCooldown = time.Minute
	})

	ctx := context.Background()
	for i := 0; i < 2; i++ {
		_, err := c.Lookup(ctx, "8.8.8.8")
		require.ErrorIs(t, err, ErrUnavailable)
	}
	before := calls.Load()

	_, err := c.Lookup(ctx, "8.8.8.8")
	require.ErrorIs(t, err, ErrUnavailable)
	assert.Equal(t, before, calls.Load(), "open breaker must not call upstream")
}

func TestNewClient_RequiresKey(t *testing.T) {
	t.Parallel()
	_, err := NewClient(DefaultClientConfig(), nil)
	assert.True(t, errors.Is(err, ErrConfig))
}
