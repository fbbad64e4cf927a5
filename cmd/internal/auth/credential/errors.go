package credential

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidToken covers every verification failure: bad signature,
	// expiry, wrong issuer, wrong type, malformed payload.
	ErrInvalidToken = errors.New("invalid token")

	ErrConfig = errors.New("invalid credential config")

	// ErrMissingKey wraps ErrConfig when no signing key is configured.
	ErrMissingKey = fmt.Errorf("%w: signing key missing", ErrConfig)
)
