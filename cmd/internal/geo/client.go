package geo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"
)

const (
	EnvAPIKey  = "GATEHOUSE_GEO_API_KEY"
	EnvBaseURL = "GATEHOUSE_GEO_BASE_URL"

	DefaultBaseURL = "https://api.ipgeolocation.io/ipgeo"
)

// ClientConfig tunes the ipgeolocation.io client.
type ClientConfig struct {
	BaseURL string
	APIKey  string

	Timeout         time.Duration
	RetryMaxElapsed time.Duration

	// RatePerSecond and Burst bound outbound calls.
	RatePerSecond float64
	Burst         int

	// BreakerFailures consecutive failures open the breaker for BreakerCooldown.
	BreakerFailures uint32
	BreakerCooldown time.Duration
}

func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		BaseURL:         DefaultBaseURL,
		Timeout:         5 * time.Second,
		RetryMaxElapsed: 10 * time.Second,
		RatePerSecond:   5,
		Burst:           5,
		BreakerFailures: 5,
		BreakerCooldown: 30 * time.Second,
	}
}

// ClientConfigFromEnv returns ok=false when no API key is configured, in
// which case geolocation is off.
func ClientConfigFromEnv() (ClientConfig, bool) {
	cfg := DefaultClientConfig()
	cfg.APIKey = strings.TrimSpace(os.Getenv(EnvAPIKey))
	if v := strings.TrimSpace(os.Getenv(EnvBaseURL)); v != "" {
		cfg.BaseURL = v
	}
	return cfg, cfg.APIKey != ""
}

// Client calls ipgeolocation.io with retries, a circuit breaker and a
// client-side rate limit.
type Client struct {
	cfg     ClientConfig
	http    *http.Client
	breaker *gobreaker.CircuitBreaker
	limiter *rate.Limiter
}

func NewClient(cfg ClientConfig, log *slog.Logger) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("%w: api key required", ErrConfig)
	}
	if _, err := url.Parse(cfg.BaseURL); err != nil || cfg.BaseURL == "" {
		return nil, fmt.Errorf("%w: base url", ErrConfig)
	}
	if log == nil {
		log = slog.Default()
	}
	def := DefaultClientConfig()
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	if cfg.RetryMaxElapsed <= 0 {
		cfg.RetryMaxElapsed = def.RetryMaxElapsed
	}
	if cfg.RatePerSecond <= 0 {
		cfg.RatePerSecond = def.RatePerSecond
	}
	if cfg.Burst <= 0 {
		cfg.Burst = def.Burst
	}
	if cfg.BreakerFailures == 0 {
		cfg.BreakerFailures = def.BreakerFailures
	}

	st := gobreaker.Settings{
		Name:        "geo",
		MaxRequests: 1,
		Timeout:     cfg.BreakerCooldown,
		ReadyToTrip: func(c gobreaker.Counts) bool {
			return c.ConsecutiveFailures >= cfg.BreakerFailures
		},
		// Caller mistakes are not upstream failures.
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, ErrNotRoutable) || errors.Is(err, errRejected)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn("geo.breaker.state", "name", name, "from", from.String(), "to", to.String())
		},
	}

	tr := &http.Transport{
		DialContext:     (&net.Dialer{Timeout: 3 * time.Second}).DialContext,
		MaxIdleConns:    16,
		IdleConnTimeout: 90 * time.Second,
	}
	return &Client{
		cfg:     cfg,
		http:    &http.Client{Transport: tr, Timeout: cfg.Timeout},
		breaker: gobreaker.NewCircuitBreaker(st),
		limiter: rate.NewLimiter(rate.Limit(cfg.RatePerSecond), cfg.Burst),
	}, nil
}

var _ Locator = (*Client)(nil)

// errRejected marks a 4xx answer; retrying it cannot help.
var errRejected = errors.New("geolocation request rejected")

type ipgeoResponse struct {
	IP          string `json:"ip"`
	CountryCode string `json:"country_code2"`
	CountryName string `json:"country_name"`
	StateProv   string `json:"state_prov"`
	City        string `json:"city"`
	Latitude    string `json:"latitude"`
	Longitude   string `json:"longitude"`
	ISP         string `json:"isp"`
	Security    *struct {
		IsProxy bool `json:"is_proxy"`
		IsVPN   bool `json:"is_vpn"`
	} `json:"security"`
}

func (c *Client) Lookup(ctx context.Context, ip string) (Info, error) {
	addr, ok := Routable(ip)
	if !ok {
		return Info{}, ErrNotRoutable
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return Info{}, err
	}

	res, err := c.breaker.Execute(func() (interface{}, error) {
		return c.fetchWithRetry(ctx, addr.String())
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return Info{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
		return Info{}, err
	}
	return res.(Info), nil
}

func (c *Client) fetchWithRetry(ctx context.Context, ip string) (Info, error) {
	var out Info
	op := func() error {
		info, err := c.fetch(ctx, ip)
		if errors.Is(err, errRejected) {
			return backoff.Permanent(err)
		}
		if err != nil {
			return err
		}
		out = info
		return nil
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 200 * time.Millisecond
	b.MaxElapsedTime = c.cfg.RetryMaxElapsed
	if err := backoff.Retry(op, backoff.WithContext(b, ctx)); err != nil {
		if errors.Is(err, errRejected) {
			return Info{}, err
		}
		return Info{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return out, nil
}

func (c *Client) fetch(ctx context.Context, ip string) (Info, error) {
	u, err := url.Parse(c.cfg.BaseURL)
	if err != nil {
		return Info{}, backoff.Permanent(err)
	}
	q := u.Query()
	q.Set("apiKey", c.cfg.APIKey)
	q.Set("ip", ip)
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return Info{}, backoff.Permanent(err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", "gatehouse-geo/1.0")

	resp, err := c.http.Do(req)
	if err != nil {
		return Info{}, err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests:
		_, _ = io.Copy(io.Discard, resp.Body)
		return Info{}, fmt.Errorf("geo upstream status %d", resp.StatusCode)
	case resp.StatusCode >= 400:
		_, _ = io.Copy(io.Discard, resp.Body)
		return Info{}, fmt.Errorf("%w: status %d", errRejected, resp.StatusCode)
	}

	var body ipgeoResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&body); err != nil {
		return Info{}, fmt.Errorf("%w: decode: %v", errRejected, err)
	}

	info := Info{
		IP:          ip,
		CountryCode: body.CountryCode,
		Country:     body.CountryName,
		Region:      body.StateProv,
		City:        body.City,
		Latitude:    parseCoord(body.Latitude),
		Longitude:   parseCoord(body.Longitude),
		ISP:         body.ISP,
	}
	if body.Security != nil {
		info.IsProxy = body.Security.IsProxy
		info.IsVPN = body.Security.IsVPN
	}
	return info, nil
}

func parseCoord(s string) *float64 {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return nil
	}
	return &f
}
