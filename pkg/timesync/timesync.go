// Package timesync implements the distributed virtual-time advance
// protocol that gates execution of each participant's simulation step
// so every step sees a consistent global time.
package timesync

import (
	"fmt"
	"sync"
	"time"

	"github.com/vectorgrp/sil-kit-sub003/internal/executor"
	"github.com/vectorgrp/sil-kit-sub003/internal/logging"
	"github.com/vectorgrp/sil-kit-sub003/pkg/model"
	"github.com/vectorgrp/sil-kit-sub003/pkg/wire"
)

// DefaultStepDuration is used when Config.StepDuration is zero.
const DefaultStepDuration = time.Millisecond

// DefaultHardTimeoutMultiplier is applied to StepDuration to derive a
// hard watchdog timeout when Config.HardTimeout is zero.
const DefaultHardTimeoutMultiplier = 5

// Mode selects how a completed step's next NextSimTask is broadcast:
// immediately (blocking), or only after the application's explicit
// CompleteSimulationTask call (async).
type Mode int

const (
	ModeBlocking Mode = iota
	ModeAsync
)

// StepHandler executes one simulation step for the half-open interval
// [timePoint, timePoint+duration).
type StepHandler func(timePoint, duration time.Duration) error

// Handlers are the user callbacks a Service invokes.
type Handlers struct {
	// Step is required once a Service is started under the distributed
	// time-quantum policy; the unsynchronized policy never calls it.
	Step StepHandler
	// SoftTimeoutHandler fires once, with the elapsed duration so far,
	// when a step handler invocation runs past Config.SoftTimeout.
	SoftTimeoutHandler func(elapsed time.Duration)
	// HardTimeoutHandler fires when a step handler runs past
	// Config.HardTimeout; the error is also routed to ReportErr if set.
	HardTimeoutHandler func(err error)
	// ReportErr is typically *lifecycle.FSM.ReportError, wired by
	// pkg/participant.
	ReportErr func(error)
}

// PeerSender is the narrow send capability the service needs from a
// connected peer (satisfied structurally by *transport.Peer, mirrors
// pkg/systemctrl.PeerSender).
type PeerSender interface {
	Name() string
	Send(env wire.Envelope) error
}

// PeerDirectory returns every peer currently known to the mesh,
// snapshotted at call time.
type PeerDirectory func() map[string]PeerSender

// Config configures a Service.
type Config struct {
	StepDuration time.Duration
	SoftTimeout  time.Duration
	HardTimeout  time.Duration
	// SynchronizedParticipants names every other participant whose
	// virtual time this Service must stay consistent with. Does not
	// include this participant itself.
	SynchronizedParticipants []string
	Mode                     Mode
	// Unsynchronized selects the no-op policy.
	Unsynchronized bool
	// Metrics is optional; nil disables instrumentation.
	Metrics *Metrics
}

func (c Config) withDefaults() Config {
	if c.StepDuration <= 0 {
		c.StepDuration = DefaultStepDuration
	}
	if c.HardTimeout <= 0 {
		c.HardTimeout = DefaultHardTimeoutMultiplier * c.StepDuration
	}
	return c
}

// policy is the interface both flavours implement; Service delegates
// every public operation to its configured policy so the quantum
// protocol logic lives entirely in quantumPolicy and the
// unsynchronized flavour really is a no-op, not a conditional
// sprinkled through Service.
type policy interface {
	run()
	peerNextSimTask(peerName string, task model.NextSimTask)
	peerDeparture(peerName string)
	pause()
	continueRun()
	completeSimulationTask()
}

// Service runs the time-sync protocol for one participant.
type Service struct {
	log    logging.Logger
	cfg    Config
	exec   *executor.Executor
	peers  PeerDirectory
	policy policy
}

// New constructs a Service. exec is the participant's own executor;
// every protocol re-evaluation is scheduled on it, never recursed
// into synchronously.
func New(log logging.Logger, cfg Config, handlers Handlers, exec *executor.Executor, peers PeerDirectory) *Service {
	cfg = cfg.withDefaults()
	s := &Service{log: log, cfg: cfg, exec: exec, peers: peers}
	if cfg.Unsynchronized {
		s.policy = unsynchronizedPolicy{}
	} else {
		synced := make(map[string]bool, len(cfg.SynchronizedParticipants))
		for _, name := range cfg.SynchronizedParticipants {
			synced[name] = true
		}
		s.policy = &quantumPolicy{
			log:          log,
			cfg:          cfg,
			handlers:     handlers,
			exec:         exec,
			peers:        peers,
			synchronized: synced,
			others:       make(map[string]model.NextSimTask),
		}
	}
	return s
}

// Run starts the protocol when the lifecycle enters Running.
func (s *Service) Run() { s.policy.run() }

// HandlePeerNextSimTask folds a NextSimTask received from peerName
// into the protocol state.
func (s *Service) HandlePeerNextSimTask(peerName string, task model.NextSimTask) {
	s.policy.peerNextSimTask(peerName, task)
}

// HandleNextSimTaskEnvelope decodes a TagNextSimTask envelope body and
// folds it in; convenience wrapper around HandlePeerNextSimTask for
// callers wiring this service directly off the router/transport layer.
func (s *Service) HandleNextSimTaskEnvelope(peerName string, body []byte) error {
	t, d, err := DecodeNextSimTask(body)
	if err != nil {
		return err
	}
	s.HandlePeerNextSimTask(peerName, model.NextSimTask{TimePoint: t, Duration: d})
	return nil
}

// HandlePeerDeparture removes a disconnected peer from the
// other-next-task map.
func (s *Service) HandlePeerDeparture(peerName string) { s.policy.peerDeparture(peerName) }

// Pause gates further advancement until Continue is called.
func (s *Service) Pause() { s.policy.pause() }

// Continue resumes advancement after Pause.
func (s *Service) Continue() { s.policy.continueRun() }

// CompleteSimulationTask is the explicit async-mode completion signal:
// the next NextSimTask broadcast waits for it.
func (s *Service) CompleteSimulationTask() { s.policy.completeSimulationTask() }

// unsynchronizedPolicy never gates anything and never calls the step
// handler; an unsynchronized participant's step pacing is driven
// entirely outside this service.
type unsynchronizedPolicy struct{}

func (unsynchronizedPolicy) run()                                      {}
func (unsynchronizedPolicy) peerNextSimTask(string, model.NextSimTask) {}
func (unsynchronizedPolicy) peerDeparture(string)                      {}
func (unsynchronizedPolicy) pause()                                    {}
func (unsynchronizedPolicy) continueRun()                              {}
func (unsynchronizedPolicy) completeSimulationTask()                   {}

// quantumPolicy is the active core: the distributed time-quantum
// protocol.
type quantumPolicy struct {
	log      logging.Logger
	cfg      Config
	handlers Handlers
	exec     *executor.Executor
	peers    PeerDirectory

	mu sync.Mutex
	// synchronized shrinks as peers depart; a departed peer neither
	// gates advancement nor receives further broadcasts.
	synchronized map[string]bool
	myNext       model.NextSimTask
	others       map[string]model.NextSimTask
	paused       bool
	resumeCh     chan struct{}
	started      bool
}

func (q *quantumPolicy) run() {
	q.mu.Lock()
	q.myNext = model.NextSimTask{TimePoint: 0, Duration: q.cfg.StepDuration}
	q.started = true
	q.mu.Unlock()

	q.broadcast(q.myNext)
	q.scheduleReevaluate()
}

func (q *quantumPolicy) peerNextSimTask(peerName string, task model.NextSimTask) {
	q.mu.Lock()
	if !q.synchronized[peerName] {
		q.mu.Unlock()
		return
	}
	q.others[peerName] = task
	q.mu.Unlock()
	q.scheduleReevaluate()
}

func (q *quantumPolicy) peerDeparture(peerName string) {
	q.mu.Lock()
	delete(q.others, peerName)
	delete(q.synchronized, peerName)
	q.mu.Unlock()
	// Once the synchronized set is empty, mayAdvanceLocked lets the
	// local participant advance freely.
	q.scheduleReevaluate()
}

func (q *quantumPolicy) pause() {
	q.mu.Lock()
	q.paused = true
	q.resumeCh = make(chan struct{})
	q.mu.Unlock()
}

func (q *quantumPolicy) continueRun() {
	q.mu.Lock()
	q.paused = false
	ch := q.resumeCh
	q.resumeCh = nil
	q.mu.Unlock()
	if ch != nil {
		close(ch)
	}
	q.scheduleReevaluate()
}

func (q *quantumPolicy) completeSimulationTask() {
	q.mu.Lock()
	next := q.myNext
	q.mu.Unlock()
	q.broadcast(next)
	q.scheduleReevaluate()
}

// scheduleReevaluate posts tryAdvance to the participant's own
// executor rather than calling it inline, so a completed step never
// recurses synchronously into the next one.
func (q *quantumPolicy) scheduleReevaluate() {
	if q.exec == nil {
		q.tryAdvance()
		return
	}
	q.exec.Post(q.tryAdvance)
}

// tryAdvance is the advance check: I may advance iff myNextTask.t <=
// min(otherNextTasks.t) across the synchronized set. When allowed, it
// executes the step handler (on a dedicated worker goroutine, watched
// by the soft/hard timeout), advances myNext, and in blocking mode
// broadcasts the new NextSimTask and re-evaluates again in case peers
// had already announced later times.
func (q *quantumPolicy) tryAdvance() {
	q.mu.Lock()
	if !q.started || q.paused || q.handlers.Step == nil {
		q.mu.Unlock()
		return
	}
	if !q.mayAdvanceLocked() {
		q.mu.Unlock()
		return
	}
	task := q.myNext
	q.mu.Unlock()

	q.runStepWithWatchdog(task)

	q.mu.Lock()
	q.myNext = model.NextSimTask{TimePoint: task.TimePoint + task.Duration, Duration: q.cfg.StepDuration}
	next := q.myNext
	mode := q.cfg.Mode
	q.mu.Unlock()

	if mode == ModeAsync {
		// Wait for the application's explicit CompleteSimulationTask().
		return
	}
	q.broadcast(next)
	q.scheduleReevaluate()
}

// mayAdvanceLocked must be called with q.mu held. Until every
// configured synchronized peer has announced its first NextSimTask
// the answer is no: a silent peer at startup is not the same as a
// departed one, and racing ahead of it would break the time ordering
// once its announcement arrives.
func (q *quantumPolicy) mayAdvanceLocked() bool {
	if len(q.others) < len(q.synchronized) {
		return false
	}
	if len(q.others) == 0 {
		return true
	}
	min := time.Duration(0)
	first := true
	for _, t := range q.others {
		if first || t.TimePoint < min {
			min = t.TimePoint
			first = false
		}
	}
	return q.myNext.TimePoint <= min
}

// runStepWithWatchdog invokes the step handler on a dedicated
// goroutine (the only handler category not run on the I/O executor)
// and races it against the soft/hard timeout timers.
func (q *quantumPolicy) runStepWithWatchdog(task model.NextSimTask) {
	if q.handlers.Step == nil {
		return
	}
	start := time.Now()
	done := make(chan error, 1)
	go func() {
		done <- q.handlers.Step(task.TimePoint, task.Duration)
	}()

	var softC <-chan time.Time
	if q.cfg.SoftTimeout > 0 {
		softTimer := time.NewTimer(q.cfg.SoftTimeout)
		defer softTimer.Stop()
		softC = softTimer.C
	}
	hardTimer := time.NewTimer(q.cfg.HardTimeout)
	defer hardTimer.Stop()

	for {
		select {
		case err := <-done:
			if q.cfg.Metrics != nil {
				q.cfg.Metrics.StepDuration.Observe(time.Since(start).Seconds())
			}
			if err != nil && q.handlers.ReportErr != nil {
				q.handlers.ReportErr(err)
			}
			return
		case <-softC:
			softC = nil
			if q.handlers.SoftTimeoutHandler != nil {
				q.handlers.SoftTimeoutHandler(time.Since(start))
			}
		case <-hardTimer.C:
			elapsed := time.Since(start)
			err := fmt.Errorf("timesync: step at t=%s exceeded hard timeout %s after %s", task.TimePoint, q.cfg.HardTimeout, elapsed)
			if q.cfg.Metrics != nil {
				q.cfg.Metrics.HardTimeouts.Inc()
			}
			if q.handlers.HardTimeoutHandler != nil {
				q.handlers.HardTimeoutHandler(err)
			}
			if q.handlers.ReportErr != nil {
				q.handlers.ReportErr(err)
			}
			return
		}
	}
}

func (q *quantumPolicy) broadcast(task model.NextSimTask) {
	if q.peers == nil {
		return
	}
	q.mu.Lock()
	names := make([]string, 0, len(q.synchronized))
	for name := range q.synchronized {
		names = append(names, name)
	}
	q.mu.Unlock()

	body := EncodeNextSimTask(task.TimePoint, task.Duration)
	env := wire.Envelope{Tag: wire.TagNextSimTask, Body: body}
	peers := q.peers()
	for _, name := range names {
		p, ok := peers[name]
		if !ok {
			continue
		}
		if err := p.Send(env); err != nil {
			q.log.Warnf("timesync: send NextSimTask to %s failed: %v", name, err)
		}
	}
}
