package voice

import (
	"errors"
	"fmt"
)

// Error taxonomy for call-control operations. Callers test with errors.Is.
// Only the first three carry detail safe to show a user.
var (
	ErrValidation    = errors.New("voice: invalid request")
	ErrNotFound      = errors.New("voice: call or number not found")
	ErrStateConflict = errors.New("voice: invalid state for action")
	ErrUpstream      = errors.New("voice: call action failed")
	ErrInternal      = errors.New("voice: internal error")
)

func invalidf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

// Public reports whether err may be shown to the caller verbatim.
func Public(err error) bool {
	return errors.Is(err, ErrValidation) || errors.Is(err, ErrNotFound) || errors.Is(err, ErrStateConflict)
}
