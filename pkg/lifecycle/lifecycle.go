// Package lifecycle implements the per-participant finite-state
// machine that drives a participant from join to shutdown, in both
// coordinated and uncoordinated modes.
package lifecycle

import (
	"sync"

	"github.com/pkg/errors"

	"github.com/vectorgrp/sil-kit-sub003/internal/logging"
	"github.com/vectorgrp/sil-kit-sub003/pkg/model"
)

// Event is a trigger fed to Tick. The CommunicationReady, Stop and
// Shutdown handlers run while the FSM sits in the destination state of
// the transition that names them; the Starting handler runs while the
// FSM is still in ReadyToRun, before Running is entered.
type Event int

const (
	EventStart Event = iota
	EventSysStateAdvance
	EventAllPeersOK
	EventCommReadyDone
	EventRun
	EventPause
	EventContinue
	EventStop
	EventShutdown
	EventAbort
	EventReinitialize
)

func (e Event) String() string {
	switch e {
	case EventStart:
		return "Start"
	case EventSysStateAdvance:
		return "SysStateAdvance"
	case EventAllPeersOK:
		return "AllPeersOK"
	case EventCommReadyDone:
		return "CommReadyDone"
	case EventRun:
		return "Run"
	case EventPause:
		return "Pause"
	case EventContinue:
		return "Continue"
	case EventStop:
		return "Stop"
	case EventShutdown:
		return "Shutdown"
	case EventAbort:
		return "Abort"
	case EventReinitialize:
		return "Reinitialize"
	default:
		return "Unknown"
	}
}

// Status is the outcome of a Tick call.
type Status int

const (
	StatusOk Status = iota
	StatusIgnored
	StatusFatal
)

// StateTransitionResult is returned by every Tick call.
type StateTransitionResult struct {
	Status Status
	Reason string
}

func ok() StateTransitionResult { return StateTransitionResult{Status: StatusOk} }

func ignored(reason string) StateTransitionResult {
	return StateTransitionResult{Status: StatusIgnored, Reason: reason}
}

func fatal(reason string) StateTransitionResult {
	return StateTransitionResult{Status: StatusFatal, Reason: reason}
}

// Handlers are the user-provided callbacks invoked from Tick. Any of
// them may be nil, in which case that step is a no-op. They run with
// the FSM's lock released, so a handler may itself call Tick (e.g. to
// deliver Abort) without deadlocking.
type Handlers struct {
	CommunicationReady func() error
	Starting           func() error
	Stop               func() error
	Shutdown           func() error
}

// Config selects coordinated vs uncoordinated start/stop, and whether
// this participant runs under the unsynchronized time policy — which
// gates whether the Starting handler fires on Run.
type Config struct {
	CoordinatedStart bool
	CoordinatedStop  bool
	Unsynchronized   bool
	// Metrics is optional; nil disables instrumentation.
	Metrics *Metrics
}

// FSM is one participant's lifecycle state machine.
type FSM struct {
	log      logging.Logger
	cfg      Config
	handlers Handlers

	mu      sync.Mutex
	state   model.ParticipantState
	aborted bool
}

// New constructs an FSM starting in StateInvalid.
func New(log logging.Logger, cfg Config, handlers Handlers) *FSM {
	return &FSM{log: log, cfg: cfg, handlers: handlers, state: model.StateInvalid}
}

// State returns the current state.
func (f *FSM) State() model.ParticipantState {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

// Tick drives the FSM with event, invoking whatever handler the
// crossed transition names, and returns whether the transition
// succeeded, was ignored, or was fatal.
func (f *FSM) Tick(event Event) StateTransitionResult {
	f.mu.Lock()
	defer f.mu.Unlock()
	result := f.tickLocked(event)
	if f.cfg.Metrics != nil {
		f.cfg.Metrics.State.Set(float64(f.state))
	}
	return result
}

func (f *FSM) tickLocked(event Event) StateTransitionResult {
	if event == EventAbort {
		return f.abortLocked()
	}
	if f.state == model.StateError {
		return f.tickFromErrorLocked(event)
	}

	switch f.state {
	case model.StateInvalid:
		if event != EventStart {
			// Run before ServicesCreated is the canonical semantically
			// fatal transition.
			return f.enterErrorForInvalidTransitionLocked("lifecycle: only Start is valid from Invalid")
		}
		return f.startLocked()

	case model.StateServicesCreated:
		if !f.cfg.CoordinatedStart {
			return f.enterErrorForInvalidTransitionLocked("lifecycle: uncoordinated FSM should never receive ticks while in ServicesCreated")
		}
		if event != EventSysStateAdvance {
			return ignored("lifecycle: waiting for system state advance")
		}
		f.state = model.StateCommunicationInitializing
		return ok()

	case model.StateCommunicationInitializing:
		if event != EventAllPeersOK {
			return ignored("lifecycle: waiting for all peers to complete communication init")
		}
		return f.runCommReadyLocked()

	case model.StateCommunicationInitialized:
		if event != EventCommReadyDone {
			return ignored("lifecycle: waiting for communication-ready handler completion")
		}
		f.state = model.StateReadyToRun
		return ok()

	case model.StateReadyToRun:
		if event != EventRun {
			return f.enterErrorForInvalidTransitionLocked("lifecycle: Run is the only valid transition out of ReadyToRun")
		}
		return f.runLocked()

	case model.StateRunning:
		switch event {
		case EventPause:
			f.state = model.StatePaused
			return ok()
		case EventStop:
			return f.stopLocked()
		default:
			return ignored("lifecycle: only Pause or Stop are valid from Running")
		}

	case model.StatePaused:
		switch event {
		case EventContinue:
			f.state = model.StateRunning
			return ok()
		case EventStop:
			return f.stopLocked()
		default:
			return ignored("lifecycle: only Continue or Stop are valid from Paused")
		}

	case model.StateStopped:
		switch event {
		case EventShutdown:
			return f.shutdownLocked()
		case EventReinitialize:
			return f.reinitializeLocked()
		default:
			return ignored("lifecycle: waiting for Shutdown or Reinitialize command")
		}

	case model.StateShutdown:
		return ignored("lifecycle: terminal state, no further transitions")

	default:
		return f.enterErrorForInvalidTransitionLocked("lifecycle: tick received in unexpected state " + f.state.String())
	}
}

// enterErrorForInvalidTransitionLocked drives the FSM to Error for a
// semantically fatal transition attempt, as opposed to the merely
// ignorable ones.
func (f *FSM) enterErrorForInvalidTransitionLocked(reason string) StateTransitionResult {
	f.log.Errorf("lifecycle: %s", reason)
	f.state = model.StateError
	return fatal(reason)
}

func (f *FSM) tickFromErrorLocked(event Event) StateTransitionResult {
	switch event {
	case EventShutdown:
		return f.shutdownLocked()
	case EventReinitialize:
		return f.reinitializeLocked()
	default:
		return ignored("lifecycle: only Shutdown, Reinitialize, Abort are valid from Error")
	}
}

func (f *FSM) startLocked() StateTransitionResult {
	f.state = model.StateServicesCreated
	if f.cfg.CoordinatedStart {
		return ok()
	}
	// Uncoordinated: skip straight to Running at our own pace.
	return f.runCommReadyLocked()
}

// runCommReadyLocked enters CommunicationInitialized, invokes the
// CommunicationReady handler there and, on success, either
// waits for the explicit EventCommReadyDone tick (coordinated) or
// proceeds straight to Running (uncoordinated).
func (f *FSM) runCommReadyLocked() StateTransitionResult {
	f.state = model.StateCommunicationInitialized
	err := f.invokeLocked(f.handlers.CommunicationReady)
	if f.consumeAbortLocked() {
		return ok()
	}
	if err != nil {
		return f.enterErrorLocked(err)
	}
	if f.cfg.CoordinatedStart {
		return ok()
	}
	f.state = model.StateReadyToRun
	return f.runLocked()
}

func (f *FSM) runLocked() StateTransitionResult {
	if f.cfg.Unsynchronized {
		err := f.invokeLocked(f.handlers.Starting)
		if f.consumeAbortLocked() {
			return ok()
		}
		if err != nil {
			return f.enterErrorLocked(err)
		}
	}
	f.state = model.StateRunning
	return ok()
}

func (f *FSM) stopLocked() StateTransitionResult {
	f.state = model.StateStopping
	err := f.invokeLocked(f.handlers.Stop)
	if f.consumeAbortLocked() {
		return ok()
	}
	if err != nil {
		return f.enterErrorLocked(err)
	}
	f.state = model.StateStopped
	if f.cfg.CoordinatedStop {
		return ok()
	}
	// Uncoordinated: Stop immediately issues Shutdown to itself.
	return f.shutdownLocked()
}

func (f *FSM) shutdownLocked() StateTransitionResult {
	f.state = model.StateShuttingDown
	// A failing Shutdown handler still advances to Shutdown: terminal
	// wins.
	err := f.invokeLocked(f.handlers.Shutdown)
	if err != nil {
		f.log.Warnf("lifecycle: shutdown handler returned %v, advancing to Shutdown anyway", err)
	}
	f.consumeAbortLocked()
	f.state = model.StateShutdown
	return ok()
}

// abortLocked handles an operator abort from any state. If a handler
// is currently running (state is one of the handler-in-flight states)
// the in-flight call is left to finish; it just never leads anywhere
// beyond Shutdown, and no further handler in the chain runs. Otherwise
// the FSM moves straight to Shutdown; the Aborting state is never
// entered or reported.
func (f *FSM) abortLocked() StateTransitionResult {
	switch f.state {
	case model.StateShutdown:
		return ignored("lifecycle: already shutdown")
	case model.StateCommunicationInitialized, model.StateReadyToRun, model.StateStopping, model.StateShuttingDown:
		f.aborted = true
		return ok()
	default:
		f.state = model.StateShutdown
		return ok()
	}
}

// consumeAbortLocked finalizes a pending abort recorded while a
// handler was running: it forces the FSM to Shutdown and reports
// whether it did so, letting the caller skip its normal success path.
func (f *FSM) consumeAbortLocked() bool {
	if !f.aborted {
		return false
	}
	f.aborted = false
	f.state = model.StateShutdown
	return true
}

func (f *FSM) enterErrorLocked(cause error) StateTransitionResult {
	f.log.Errorf("lifecycle: handler failed, entering Error: %v", cause)
	f.state = model.StateError
	return fatal(cause.Error())
}

// ReportError drives the FSM into Error from the outside. It is how
// the time-sync watchdog and any other out-of-band failure reach the
// lifecycle without going through Tick's event vocabulary. A report
// arriving after the FSM has already reached Shutdown is ignored:
// terminal wins.
func (f *FSM) ReportError(cause error) StateTransitionResult {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.state == model.StateShutdown {
		return ignored("lifecycle: ReportError after Shutdown, already terminal")
	}
	result := f.enterErrorLocked(cause)
	if f.cfg.Metrics != nil {
		f.cfg.Metrics.State.Set(float64(f.state))
	}
	return result
}

// reinitializeLocked implements restart: drive the FSM back through
// ServicesCreated..ReadyToRun while the rest of the domain is held at
// its last observed state by the monitor.
func (f *FSM) reinitializeLocked() StateTransitionResult {
	f.state = model.StateServicesCreated
	if f.cfg.CoordinatedStart {
		return ok()
	}
	return f.runCommReadyLocked()
}

// invokeLocked calls fn with the FSM's lock released, so fn may
// itself call Tick. Caller must hold f.mu.
func (f *FSM) invokeLocked(fn func() error) error {
	if fn == nil {
		return nil
	}
	f.mu.Unlock()
	err := fn()
	f.mu.Lock()
	if err != nil {
		return errors.WithStack(err)
	}
	return nil
}
