package transport

import "github.com/pkg/errors"

// ErrTransportClosed is returned by Send once a peer has been closed
// or has observed a transport failure.
var ErrTransportClosed = errors.New("transport: peer is closed")

// ErrNotAdvertisable is returned by Listen when no usable advertise
// address can be derived from the bound listener.
var ErrNotAdvertisable = errors.New("transport: cannot derive an advertisable address")
