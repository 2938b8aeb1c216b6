package wire

import "github.com/pkg/errors"

// Error kinds for the codec layer.
var (
	// ErrEndOfBuffer is returned when a decode attempts to read past
	// the end of the available bytes.
	ErrEndOfBuffer = errors.New("wire: end of buffer")

	// ErrProtocolError is returned when a decoded version tag does not
	// equal the version the decoder supports.
	ErrProtocolError = errors.New("wire: protocol version mismatch")

	// ErrUnsupportedFeature is returned by the union codec operations,
	// which are declared but never usable: unions stay unsupported
	// until a concrete wire case appears.
	ErrUnsupportedFeature = errors.New("wire: unsupported feature")
)

// ProtocolError wraps ErrProtocolError with the version that was seen
// versus the one the decoder supports, for diagnostics.
type ProtocolError struct {
	Got, Want uint16
}

func (e *ProtocolError) Error() string {
	return errors.Wrapf(ErrProtocolError, "got version %d, want %d", e.Got, e.Want).Error()
}

func (e *ProtocolError) Unwrap() error { return ErrProtocolError }

// NewProtocolError builds a ProtocolError for a version mismatch.
func NewProtocolError(got, want uint16) error {
	return &ProtocolError{Got: got, Want: want}
}
