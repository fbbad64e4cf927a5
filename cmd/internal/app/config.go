package app

import (
	"strings"
	"time"
)

// EnvProduction is the GATEHOUSE_ENV value that turns on secure cookies and
// the stricter security policy.
const EnvProduction = "production"

// Config contains all runtime configuration loaded from environment variables.
// Subsystems with their own knobs (credentials, sessions, auth API, geo)
// load them separately in New.
type Config struct {
	Env   string
	Debug bool

	HTTPAddr  string
	LogLevel  string
	LogFormat string

	ReadHeaderTimeout time.Duration
	ReadTimeout       time.Duration
	WriteTimeout      time.Duration
	IdleTimeout       time.Duration
	MaxHeaderBytes    int

	DatabaseURL string
	DBSchema    string
	DBMaxConns  int32
	DBMinConns  int32
	DBMigrate   bool

	// If true, /readyz returns 503 unless the DB is configured and reachable.
	ReadinessRequireDB bool

	RedisURL string

	// If true, GATEHOUSE_TOKEN_HMAC_KEY must be set and refresh hashes are keyed.
	RequireTokenHMAC bool

	CookieDomain   string
	CookieSameSite string

	CORSAllowedOrigins   []string
	CORSAllowCredentials bool
	CORSMaxAgeSeconds    int

	WSAllowedOrigins []string
	WSDevInsecure    bool

	MetricsEnabled bool
}

// Production reports whether GATEHOUSE_ENV=production.
func (c Config) Production() bool {
	return strings.EqualFold(strings.TrimSpace(c.Env), EnvProduction)
}

// LoadConfig loads Config from environment variables with defaults.
func LoadConfig() Config {
	cfg := Config{
		Env:   EnvString("GATEHOUSE_ENV", "development"),
		Debug: EnvBool("GATEHOUSE_DEBUG", false),

		HTTPAddr:  EnvString("GATEHOUSE_HTTP_ADDR", "0.0.0.0:8080"),
		LogLevel:  EnvString("GATEHOUSE_LOG_LEVEL", "info"),
		LogFormat: EnvString("GATEHOUSE_LOG_FORMAT", "json"),

		ReadHeaderTimeout: EnvDuration("GATEHOUSE_HTTP_READ_HEADER_TIMEOUT", 5*time.Second),
		ReadTimeout:       EnvDuration("GATEHOUSE_HTTP_READ_TIMEOUT", 15*time.Second),
		WriteTimeout:      EnvDuration("GATEHOUSE_HTTP_WRITE_TIMEOUT", 15*time.Second),
		IdleTimeout:       EnvDuration("GATEHOUSE_HTTP_IDLE_TIMEOUT", 60*time.Second),

		MaxHeaderBytes: EnvInt("GATEHOUSE_HTTP_MAX_HEADER_BYTES", 1<<20),

		DatabaseURL: EnvString("GATEHOUSE_DATABASE_URL", ""),
		DBSchema:    EnvString("GATEHOUSE_DB_SCHEMA", "public"),
		DBMaxConns:  EnvInt32("GATEHOUSE_DB_MAX_CONNS", 10),
		DBMinConns:  EnvInt32("GATEHOUSE_DB_MIN_CONNS", 0),
		DBMigrate:   EnvBool("GATEHOUSE_DB_MIGRATE", false),

		ReadinessRequireDB: EnvBool("GATEHOUSE_READINESS_REQUIRE_DB", false),

		RedisURL: EnvString("GATEHOUSE_REDIS_URL", ""),

		CookieDomain:   EnvString("GATEHOUSE_COOKIE_DOMAIN", ""),
		CookieSameSite: EnvString("GATEHOUSE_COOKIE_SAMESITE", "lax"),

		CORSAllowedOrigins:   EnvCSV("GATEHOUSE_CORS_ALLOWED_ORIGINS"),
		CORSAllowCredentials: EnvBool("GATEHOUSE_CORS_ALLOW_CREDENTIALS", true),
		CORSMaxAgeSeconds:    EnvInt("GATEHOUSE_CORS_MAX_AGE_SECONDS", 600),

		WSAllowedOrigins: EnvCSV("GATEHOUSE_WS_ALLOWED_ORIGINS"),
		WSDevInsecure:    EnvBool("GATEHOUSE_WS_DEV_INSECURE", false),

		MetricsEnabled: EnvBool("GATEHOUSE_METRICS_ENABLED", true),
	}
	cfg.RequireTokenHMAC = EnvBool("GATEHOUSE_REQUIRE_TOKEN_HMAC", cfg.Production())
	return cfg
}
