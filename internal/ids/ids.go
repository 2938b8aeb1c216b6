// Package ids holds the identifier rules shared by the whole runtime:
// a ParticipantID is a stable hash of the participant's name, and an
// EndpointID is a per-participant monotonically increasing counter
// starting at 1 (0 is reserved/invalid).
package ids

import (
	"sync/atomic"

	"github.com/cespare/xxhash/v2"
)

// ParticipantID is the 64-bit identifier derived deterministically
// from a participant's name. The name remains authoritative; the id is
// a transport shortcut, never looked up on its own.
type ParticipantID uint64

// HashParticipantName derives a ParticipantID from a participant name.
func HashParticipantName(name string) ParticipantID {
	return ParticipantID(xxhash.Sum64String(name))
}

// EndpointID is the process-local monotonically increasing identifier
// assigned at controller creation.
type EndpointID uint64

// InvalidEndpointID is never assigned by EndpointAllocator.
const InvalidEndpointID EndpointID = 0

// EndpointAllocator hands out EndpointIDs for one participant.
type EndpointAllocator struct {
	next uint64
}

// NewEndpointAllocator returns an allocator whose first Next() is 1.
func NewEndpointAllocator() *EndpointAllocator {
	return &EndpointAllocator{next: 0}
}

// Next returns the next EndpointID, starting at 1.
func (a *EndpointAllocator) Next() EndpointID {
	return EndpointID(atomic.AddUint64(&a.next, 1))
}
