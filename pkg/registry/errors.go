package registry

import "github.com/pkg/errors"

// ErrNameInUse is surfaced to a joining participant as a
// ConfigurationError.
var ErrNameInUse = errors.New("registry: participant name already in use")

// ErrUnexpectedMessage is returned when a peer sends something other
// than what the handshake step expects.
var ErrUnexpectedMessage = errors.New("registry: unexpected message for handshake step")

// ConfigurationError wraps a registry join failure that must be
// surfaced to the application rather than recovered from locally.
type ConfigurationError struct {
	cause error
}

func (e *ConfigurationError) Error() string { return "configuration error: " + e.cause.Error() }
func (e *ConfigurationError) Unwrap() error { return e.cause }

func newConfigurationError(cause error) error {
	return &ConfigurationError{cause: cause}
}
