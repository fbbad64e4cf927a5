package protocol

import (
	"errors"
	"fmt"
)

// ErrAuthentication is the single, deliberately vague failure for bad
// credentials and unusable sessions.
var ErrAuthentication = errors.New("authentication failed")

// ValidationError is a malformed request, attributed to one field.
type ValidationError struct {
	Field string
	Msg   string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Msg)
}

// AsValidation unwraps a ValidationError.
func AsValidation(err error) (ValidationError, bool) {
	var ve ValidationError
	ok := errors.As(err, &ve)
	return ve, ok
}
