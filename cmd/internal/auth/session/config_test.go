package session

import (
	"errors"
	"testing"
	"time"
)

func TestLoadConfigFromEnv_Defaults(t *testing.T) {
	t.Setenv(EnvSweepInterval, "")
	cfg, err := LoadConfigFromEnv()
	if err != nil {
		t.Fatalf("LoadConfigFromEnv: %v", err)
	}
	if cfg.SweepInterval != time.Hour {
		t.Fatalf("SweepInterval = %s", cfg.SweepInterval)
	}
}

func TestLoadConfigFromEnv_Invalid(t *testing.T) {
	for _, v := range []string{"-1m", "hourly"} {
		t.Setenv(EnvSweepInterval, v)
		if _, err := LoadConfigFromEnv(); !errors.Is(err, ErrConfig) {
			t.Fatalf("%q: expected ErrConfig, got %v", v, err)
		}
	}
}

func TestLoadConfigFromEnv_ZeroDisables(t *testing.T) {
	t.Setenv(EnvSweepInterval, "0s")
	cfg, err := LoadConfigFromEnv()
	if err != nil || cfg.SweepInterval != 0 {
		t.Fatalf("cfg=%+v err=%v", cfg, err)
	}
}
