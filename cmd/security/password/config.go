package password

import (
	"fmt"
	"math"
	"os"
	"runtime"
	"strconv"
	"strings"
)

// Argon2idParams controls Argon2id cost. MemoryKiB is in KiB, as argon2.IDKey expects.
type Argon2idParams struct {
	MemoryKiB   uint32
	Iterations  uint32
	Parallelism uint8
	SaltLength  uint32
	KeyLength   uint32
}

// Policy bounds what Validate accepts at registration and password change.
type Policy struct {
	MinLength      int
	MaxLength      int
	RejectVeryWeak bool
}

type Config struct {
	Params Argon2idParams
	Policy Policy
}

// DefaultConfig returns interactive-login cost settings.
// Parallelism follows the CPU count, clamped to [1..4] for container hosts.
func DefaultConfig() Config {
	lanes := runtime.NumCPU()
	if lanes <= 0 {
		lanes = 1
	}
	if lanes > 4 {
		lanes = 4
	}

	return Config{
		Params: Argon2idParams{
			MemoryKiB:   64 * 1024,
			Iterations:  3,
			Parallelism: uint8(lanes), // #nosec G115 -- clamped to [1..4].
			SaltLength:  16,
			KeyLength:   32,
		},
		Policy: Policy{
			MinLength:      8,
			MaxLength:      256,
			RejectVeryWeak: true,
		},
	}
}

// Env variable names read by FromEnv.
const (
	EnvMinLen         = "GATEHOUSE_PASSWORD_MIN_LEN"
	EnvMaxLen         = "GATEHOUSE_PASSWORD_MAX_LEN"
	EnvRejectVeryWeak = "GATEHOUSE_PASSWORD_REJECT_VERY_WEAK"
	EnvMemoryKiB      = "GATEHOUSE_ARGON2_MEMORY_KIB"
	EnvIterations     = "GATEHOUSE_ARGON2_ITERATIONS"
	EnvParallelism    = "GATEHOUSE_ARGON2_PARALLELISM"
	EnvSaltLen        = "GATEHOUSE_ARGON2_SALT_LEN"
	EnvKeyLen         = "GATEHOUSE_ARGON2_KEY_LEN"
)

// FromEnv overlays environment overrides on DefaultConfig.
// Unlike the server's general env helpers, a malformed value is an error here:
// silently falling back to a weaker hash cost is not acceptable.
func FromEnv() (Config, error) {
	cfg := DefaultConfig()

	if v, ok := os.LookupEnv(EnvMinLen); ok {
		n, err := parseIntRange(v, 1, 1024)
		if err != nil {
			return Config{}, fmt.Errorf("%s: %w", EnvMinLen, err)
		}
		cfg.Policy.MinLength = n
	}
	if v, ok := os.LookupEnv(EnvMaxLen); ok {
		n, err := parseIntRange(v, 1, 4096)
		if err != nil {
			return Config{}, fmt.Errorf("%s: %w", EnvMaxLen, err)
		}
		cfg.Policy.MaxLength = n
	}
	if v, ok := os.LookupEnv(EnvRejectVeryWeak); ok {
		b, err := strconv.ParseBool(strings.TrimSpace(v))
		if err != nil {
			return Config{}, fmt.Errorf("%s: invalid boolean", EnvRejectVeryWeak)
		}
		cfg.Policy.RejectVeryWeak = b
	}

	u32s := []struct {
		name     string
		min, max uint32
		dst      *uint32
	}{
		{EnvMemoryKiB, 8 * 1024, 1024 * 1024, &cfg.Params.MemoryKiB},
		{EnvIterations, 1, 20, &cfg.Params.Iterations},
		{EnvSaltLen, 8, 64, &cfg.Params.SaltLength},
		{EnvKeyLen, 16, 64, &cfg.Params.KeyLength},
	}
	for _, f := range u32s {
		v, ok := os.LookupEnv(f.name)
		if !ok {
			continue
		}
		u, err := parseUint32Range(v, f.min, f.max)
		if err != nil {
			return Config{}, fmt.Errorf("%s: %w", f.name, err)
		}
		*f.dst = u
	}

	if v, ok := os.LookupEnv(EnvParallelism); ok {
		u, err := parseUint32Range(v, 1, 64)
		if err != nil {
			return Config{}, fmt.Errorf("%s: %w", EnvParallelism, err)
		}
		if u > math.MaxUint8 {
			return Config{}, fmt.Errorf("%s: out of range", EnvParallelism)
		}
		cfg.Params.Parallelism = uint8(u)
	}

	if cfg.Policy.MinLength > cfg.Policy.MaxLength {
		return Config{}, fmt.Errorf(
			"password policy invalid: min_len(%d) > max_len(%d)",
			cfg.Policy.MinLength,
			cfg.Policy.MaxLength,
		)
	}

	return cfg, nil
}

func parseIntRange(s string, minVal, maxVal int) (int, error) {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return 0, fmt.Errorf("not an integer")
	}
	if n < minVal || n > maxVal {
		return 0, fmt.Errorf("out of range [%d..%d]", minVal, maxVal)
	}
	return n, nil
}

func parseUint32Range(s string, minVal, maxVal uint32) (uint32, error) {
	u64, err := strconv.ParseUint(strings.TrimSpace(s), 10, 32)
	if err != nil {
		return 0, fmt.Errorf("not an unsigned integer")
	}
	u := uint32(u64)
	if u < minVal || u > maxVal {
		return 0, fmt.Errorf("out of range [%d..%d]", minVal, maxVal)
	}
	return u, nil
}
