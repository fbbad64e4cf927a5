package authapi

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config controls request handling and login throttling.
type Config struct {
	// TrustProxy takes the client IP from the first X-Forwarded-For hop.
	TrustProxy   bool
	MaxBodyBytes int64

	// Failed logins allowed per window, per client IP and per identifier.
	LoginIPMax         int
	LoginIdentifierMax int
	LoginWindow        time.Duration
}

func DefaultConfig() Config {
	return Config{
		TrustProxy:         true,
		MaxBodyBytes:       1 << 20,
		LoginIPMax:         20,
		LoginIdentifierMax: 5,
		LoginWindow:        15 * time.Minute,
	}
}

// LoadConfigFromEnv loads Config from GATEHOUSE_AUTH_* with safe defaults.
func LoadConfigFromEnv() Config {
	d := DefaultConfig()
	return Config{
		TrustProxy:         envBool("GATEHOUSE_AUTH_TRUST_PROXY", d.TrustProxy),
		MaxBodyBytes:       envInt64("GATEHOUSE_AUTH_MAX_BODY_BYTES", d.MaxBodyBytes),
		LoginIPMax:         envInt("GATEHOUSE_AUTH_LOGIN_IP_MAX", d.LoginIPMax),
		LoginIdentifierMax: envInt("GATEHOUSE_AUTH_LOGIN_IDENTIFIER_MAX", d.LoginIdentifierMax),
		LoginWindow:        envDuration("GATEHOUSE_AUTH_LOGIN_WINDOW", d.LoginWindow),
	}
}

func envBool(key string, def bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func envInt(key string, def int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return def
	}
	return n
}

func envInt64(key string, def int64) int64 {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil || n <= 0 {
		return def
	}
	return n
}

func envDuration(key string, def time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		return def
	}
	return d
}
