// Package model holds the data types shared across every core
// component: participant/service identity, the lifecycle and system
// state enums, and the small value types that flow through the router.
package model

// ParticipantState is the ordered enum a lifecycle state machine moves
// through. The ordering matters: the system-state reducer takes the
// minimum of required participants' states along this pipeline.
type ParticipantState int

const (
	StateInvalid ParticipantState = iota
	StateServicesCreated
	StateCommunicationInitializing
	StateCommunicationInitialized
	StateReadyToRun
	StateRunning
	StatePaused
	StateStopping
	StateStopped
	StateShuttingDown
	StateShutdown
	StateError
	StateAborting
)

func (s ParticipantState) String() string {
	switch s {
	case StateInvalid:
		return "Invalid"
	case StateServicesCreated:
		return "ServicesCreated"
	case StateCommunicationInitializing:
		return "CommunicationInitializing"
	case StateCommunicationInitialized:
		return "CommunicationInitialized"
	case StateReadyToRun:
		return "ReadyToRun"
	case StateRunning:
		return "Running"
	case StatePaused:
		return "Paused"
	case StateStopping:
		return "Stopping"
	case StateStopped:
		return "Stopped"
	case StateShuttingDown:
		return "ShuttingDown"
	case StateShutdown:
		return "Shutdown"
	case StateError:
		return "Error"
	case StateAborting:
		return "Aborting"
	default:
		return "Unknown"
	}
}

// IsTerminal reports whether s is Shutdown or Error, the two states the
// system-state reducer counts as finished. The lifecycle FSM accepts
// no further transition from Shutdown; from Error it still accepts
// Shutdown, Reinitialize and Abort.
func (s ParticipantState) IsTerminal() bool {
	return s == StateShutdown || s == StateError
}

// SystemState mirrors ParticipantState's labels plus Invalid. It is a
// derived value, never set directly.
type SystemState = ParticipantState

// pipelineOrder is the canonical sequence the system-state reducer
// walks. Paused, Error and Aborting are detours handled specially by
// the reducer rather than being part of the linear pipeline index;
// ShuttingDown is in the pipeline and is also floated up by the
// reducer as a sticky state.
var pipelineOrder = []ParticipantState{
	StateInvalid,
	StateServicesCreated,
	StateCommunicationInitializing,
	StateCommunicationInitialized,
	StateReadyToRun,
	StateRunning,
	StateStopping,
	StateStopped,
	StateShuttingDown,
	StateShutdown,
}

// PipelineIndex returns s's position in the canonical pipeline, or -1
// if s is not a pipeline member (Paused, Error, Aborting are handled
// as special cases by the reducer, not via this index).
func PipelineIndex(s ParticipantState) int {
	for i, st := range pipelineOrder {
		if st == s {
			return i
		}
	}
	return -1
}
