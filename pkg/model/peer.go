package model

import "time"

// PeerInfo is the dialable address information exchanged during mesh
// bootstrap.
type PeerInfo struct {
	ParticipantName string
	// Endpoints are dialable addresses as transport.Listen advertises
	// them: "host:port" for TCP or a filesystem path for a local domain
	// socket, with no URI scheme prefix.
	Endpoints []string
}

// NetworkEndpointKey names a subscription a peer has declared.
type NetworkEndpointKey struct {
	NetworkName string
	EndpointID  uint64
}

// ParticipantStatus is the lifecycle status message every participant
// publishes after each state change.
type ParticipantStatus struct {
	ParticipantName string
	State           ParticipantState
	EnterReason     string
	EnterTime       time.Time
	RefreshTime     time.Time
}

// WorkflowConfiguration is the required-participants set the system
// controller sets once and broadcasts to every monitor.
type WorkflowConfiguration struct {
	RequiredParticipantNames []string
}

// Contains reports whether name is a required participant.
func (w WorkflowConfiguration) Contains(name string) bool {
	for _, n := range w.RequiredParticipantNames {
		if n == name {
			return true
		}
	}
	return false
}

// NextSimTask is a participant's announcement of the next simulation
// step it intends to execute.
type NextSimTask struct {
	TimePoint time.Duration
	Duration  time.Duration
}
