// Package monitor implements the aggregate system-state reducer: a
// pure function of every required participant's most recently reported
// status.
package monitor

import (
	"sync"

	"github.com/vectorgrp/sil-kit-sub003/internal/logging"
	"github.com/vectorgrp/sil-kit-sub003/pkg/model"
)

// Handler observes every system-state change.
type Handler func(model.SystemState)

// Monitor folds the stream of ParticipantStatus reports from every
// required participant into one SystemState.
type Monitor struct {
	log logging.Logger

	mu                sync.Mutex
	required          map[string]bool
	observed          map[string]model.ParticipantState
	current           model.SystemState
	invalidTransition map[string]int
	handlers          []Handler
	dispatching       bool
}

// New constructs a Monitor with no workflow configured yet; call
// SetWorkflowConfiguration before any status reports are expected.
func New(log logging.Logger) *Monitor {
	return &Monitor{
		log:               log,
		required:          make(map[string]bool),
		observed:          make(map[string]model.ParticipantState),
		current:           model.StateInvalid,
		invalidTransition: make(map[string]int),
	}
}

// SetWorkflowConfiguration declares the required-participants set.
// Participants not yet observed are held at Invalid until they report
// a concrete state.
func (m *Monitor) SetWorkflowConfiguration(cfg model.WorkflowConfiguration) {
	m.mu.Lock()
	m.required = make(map[string]bool, len(cfg.RequiredParticipantNames))
	for _, name := range cfg.RequiredParticipantNames {
		m.required[name] = true
		if _, ok := m.observed[name]; !ok {
			m.observed[name] = model.StateInvalid
		}
	}
	m.recomputeLocked()
	m.mu.Unlock()
}

// ApplyStatus folds one participant's reported status into the
// reducer. A transition that violates the canonical pipeline is
// counted but the incoming state is still recorded: the monitor is a
// faithful mirror, not a validator that rejects input.
func (m *Monitor) ApplyStatus(status model.ParticipantStatus) {
	m.mu.Lock()
	prev, known := m.observed[status.ParticipantName]
	if known && !isValidPipelineStep(prev, status.State) {
		m.invalidTransition[status.ParticipantName]++
		m.log.Warnf("monitor: %s reported an invalid transition %s -> %s", status.ParticipantName, prev, status.State)
	}
	m.observed[status.ParticipantName] = status.State
	m.recomputeLocked()
	m.mu.Unlock()
}

// isValidPipelineStep allows any forward move along the canonical
// pipeline, any move into Paused/Error/Aborting from a running-ish
// state, and any move out of those detours back onto the pipeline.
// The rule intentionally over-approximates (it does not encode the
// exact lifecycle transition table) since its only job is to flag
// reports worth a warning, not to gate them.
func isValidPipelineStep(prev, next model.ParticipantState) bool {
	if prev == next {
		return true
	}
	if next == model.StateError || next == model.StateAborting || next == model.StatePaused {
		return true
	}
	if prev == model.StatePaused && next == model.StateRunning {
		return true
	}
	pi, ni := model.PipelineIndex(prev), model.PipelineIndex(next)
	if pi == -1 || ni == -1 {
		return prev == model.StatePaused || prev == model.StateError || prev == model.StateAborting
	}
	return ni >= pi
}

// InvalidTransitionCount returns how many invalid transitions have
// been recorded for participantName.
func (m *Monitor) InvalidTransitionCount(participantName string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.invalidTransition[participantName]
}

// RemoveParticipant drops a departed participant from the required
// set's bookkeeping so it no longer holds the aggregate down.
func (m *Monitor) RemoveParticipant(participantName string) {
	m.mu.Lock()
	delete(m.observed, participantName)
	delete(m.required, participantName)
	m.recomputeLocked()
	m.mu.Unlock()
}

// Current returns the latest computed SystemState.
func (m *Monitor) Current() model.SystemState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current
}

// AddSystemStateHandler registers fn for every future change, and
// invokes it immediately with the current state if that state is not
// Invalid.
func (m *Monitor) AddSystemStateHandler(fn Handler) {
	m.mu.Lock()
	m.handlers = append(m.handlers, fn)
	current := m.current
	m.mu.Unlock()

	if current != model.StateInvalid {
		fn(current)
	}
}

// recomputeLocked applies the reducer rule and, if the result changed,
// dispatches to every handler in registration order. Callers must hold
// m.mu; it is released for the duration of the dispatch.
func (m *Monitor) recomputeLocked() {
	next := reduce(m.required, m.observed)
	if next == m.current {
		return
	}
	m.current = next

	if m.dispatching {
		// A handler's own status report re-entered recomputeLocked; the
		// outer dispatch loop below will pick up this new value once it
		// loops back around, so just let it unwind here.
		return
	}
	m.dispatching = true
	for {
		toNotify := m.current
		handlers := append([]Handler(nil), m.handlers...)
		m.mu.Unlock()
		for _, h := range handlers {
			h(toNotify)
		}
		m.mu.Lock()
		if m.current == toNotify {
			break
		}
	}
	m.dispatching = false
}

// reduce computes the system state: the minimum of the required
// participants' states along the canonical pipeline, with
// Error/Paused/Aborting/ShuttingDown floating up as sticky special
// cases.
func reduce(required map[string]bool, observed map[string]model.ParticipantState) model.SystemState {
	if len(required) == 0 {
		return model.StateInvalid
	}

	states := make([]model.ParticipantState, 0, len(required))
	for name := range required {
		s, ok := observed[name]
		if !ok {
			s = model.StateInvalid
		}
		states = append(states, s)
	}

	for _, s := range states {
		if s == model.StateError {
			return model.StateError
		}
	}

	allTerminal := true
	for _, s := range states {
		if !s.IsTerminal() {
			allTerminal = false
			break
		}
	}
	if allTerminal {
		return model.StateShutdown
	}

	// Not every state is terminal here, so any Aborting participant
	// holds the aggregate at Aborting.
	anyAborting := false
	for _, s := range states {
		if s == model.StateAborting {
			anyAborting = true
		}
	}
	if anyAborting {
		return model.StateAborting
	}

	anyShuttingDown, allShuttingDownOrTerminal := false, true
	for _, s := range states {
		if s == model.StateShuttingDown {
			anyShuttingDown = true
		} else if !s.IsTerminal() && s != model.StateShuttingDown {
			allShuttingDownOrTerminal = false
		}
	}
	if anyShuttingDown && !allShuttingDownOrTerminal {
		return model.StateShuttingDown
	}

	anyPaused, restRunningOrPaused := false, true
	for _, s := range states {
		if s == model.StatePaused {
			anyPaused = true
		} else if s != model.StateRunning {
			restRunningOrPaused = false
		}
	}
	if anyPaused && restRunningOrPaused {
		return model.StatePaused
	}

	min := states[0]
	minIdx := pipelineIndexOrInvalid(min)
	for _, s := range states[1:] {
		idx := pipelineIndexOrInvalid(s)
		if idx < minIdx {
			min, minIdx = s, idx
		}
	}
	return min
}

// outOfPipelineIndex is higher than any real PipelineIndex result,
// used to sort states PipelineIndex doesn't recognize last.
const outOfPipelineIndex = 1 << 30

func pipelineIndexOrInvalid(s model.ParticipantState) int {
	if idx := model.PipelineIndex(s); idx != -1 {
		return idx
	}
	// Paused sorts as if it were Running for the purposes of the
	// minimum when it isn't uniformly sticky (mixed Paused/other
	// states not covered by the sticky rule above); Error/Aborting are
	// handled before this point and never reach here.
	if s == model.StatePaused {
		return model.PipelineIndex(model.StateRunning)
	}
	return outOfPipelineIndex
}
