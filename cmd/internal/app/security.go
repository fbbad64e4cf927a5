package app

import (
	"errors"
	"fmt"

	"gatehouse/cmd/internal/auth/credential"
	"gatehouse/cmd/security/token"
)

// ValidateSecurityConfig enforces the startup security policy. It fails fast
// instead of falling back to weaker settings:
//   - with RequireTokenHMAC, GATEHOUSE_TOKEN_HMAC_KEY must hold at least
//     token.MinHMACKeyBytes bytes;
//   - in production the credential signing key must be configured, since an
//     ephemeral key would log everyone out on restart.
func ValidateSecurityConfig(cfg Config) error {
	if cfg.RequireTokenHMAC {
		h, err := token.HasherFromEnv(true)
		switch {
		case errors.Is(err, token.ErrHMACKeyMissing):
			return errors.New("security policy: GATEHOUSE_REQUIRE_TOKEN_HMAC=true but GATEHOUSE_TOKEN_HMAC_KEY is missing")
		case errors.Is(err, token.ErrHMACKeyTooShort):
			return fmt.Errorf("security policy: GATEHOUSE_TOKEN_HMAC_KEY is too short (min %d bytes)", token.MinHMACKeyBytes)
		case err != nil:
			return err
		case !h.Keyed():
			return errors.New("security policy: GATEHOUSE_REQUIRE_TOKEN_HMAC=true but token hasher is not in HMAC mode")
		}
	}

	if cfg.Production() {
		if _, err := credential.LoadConfigFromEnv(); err != nil {
			return fmt.Errorf("security policy: production requires a credential signing key: %w", err)
		}
		if cfg.Debug {
			return errors.New("security policy: GATEHOUSE_DEBUG must be off in production")
		}
	}
	return nil
}
