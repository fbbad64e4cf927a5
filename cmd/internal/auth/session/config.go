package session

import (
	"fmt"
	"os"
	"strings"
	"time"
)

const EnvSweepInterval = "GATEHOUSE_SESSION_SWEEP_INTERVAL"

// Config holds the session subsystem knobs that are not owned by the
// credential issuer. Session lifetime follows the refresh TTL.
type Config struct {
	SweepInterval time.Duration
	SweepTimeout  time.Duration
}

func DefaultConfig() Config {
	return Config{
		SweepInterval: time.Hour,
		SweepTimeout:  30 * time.Second,
	}
}

// LoadConfigFromEnv reads GATEHOUSE_SESSION_SWEEP_INTERVAL.
// A zero interval disables the sweeper.
func LoadConfigFromEnv() (Config, error) {
	cfg := DefaultConfig()
	if v := strings.TrimSpace(os.Getenv(EnvSweepInterval)); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d < 0 {
			return Config{}, fmt.Errorf("%w: %s", ErrConfig, EnvSweepInterval)
		}
		cfg.SweepInterval = d
	}
	return cfg, nil
}
