package timesync

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/vectorgrp/sil-kit-sub003/internal/executor"
	"github.com/vectorgrp/sil-kit-sub003/internal/logging"
	"github.com/vectorgrp/sil-kit-sub003/pkg/model"
	"github.com/vectorgrp/sil-kit-sub003/pkg/wire"
)

// loopbackSender wires one participant's outbound NextSimTask straight
// into another Service's HandleNextSimTaskEnvelope, skipping the real
// transport layer entirely: these tests care about the protocol
// invariant, not the wire.
type loopbackSender struct {
	name string
	to   *Service
}

func (s *loopbackSender) Name() string { return s.name }
func (s *loopbackSender) Send(env wire.Envelope) error {
	s.to.HandleNextSimTaskEnvelope(s.name, env.Body)
	return nil
}

// recordingSteps collects the time points a StepHandler was invoked
// with, safe for concurrent use.
type recordingSteps struct {
	mu    sync.Mutex
	calls []time.Duration
	done  chan struct{}
	want  int
}

func newRecordingSteps(want int) *recordingSteps {
	return &recordingSteps{done: make(chan struct{}), want: want}
}

func (r *recordingSteps) handler(t, d time.Duration) error {
	r.mu.Lock()
	r.calls = append(r.calls, t)
	n := len(r.calls)
	r.mu.Unlock()
	if n == r.want {
		close(r.done)
	}
	return nil
}

func (r *recordingSteps) snapshot() []time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]time.Duration(nil), r.calls...)
}

// Two synchronized participants with a 1ms step; after 10 steps each
// has called its step handler with exactly 0, 1, ..., 9 ms in order.
func TestQuantumProtocolTwoParticipantsStepInOrder(t *testing.T) {
	const steps = 10
	stepDuration := time.Millisecond

	execA := executor.New()
	execB := executor.New()
	defer execA.Stop()
	defer execB.Stop()

	recA := newRecordingSteps(steps)
	recB := newRecordingSteps(steps)

	var svcA, svcB *Service
	svcA = New(logging.Discard(), Config{
		StepDuration:             stepDuration,
		SynchronizedParticipants: []string{"B"},
	}, Handlers{Step: recA.handler}, execA, func() map[string]PeerSender {
		return map[string]PeerSender{"B": &loopbackSender{name: "A", to: svcB}}
	})
	svcB = New(logging.Discard(), Config{
		StepDuration:             stepDuration,
		SynchronizedParticipants: []string{"A"},
	}, Handlers{Step: recB.handler}, execB, func() map[string]PeerSender {
		return map[string]PeerSender{"A": &loopbackSender{name: "B", to: svcA}}
	})

	svcA.Run()
	svcB.Run()

	select {
	case <-recA.done:
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for participant A to complete 10 steps")
	}
	select {
	case <-recB.done:
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for participant B to complete 10 steps")
	}

	wantOrder := make([]time.Duration, steps)
	for i := 0; i < steps; i++ {
		wantOrder[i] = time.Duration(i) * stepDuration
	}
	require.Equal(t, wantOrder, recA.snapshot()[:steps])
	require.Equal(t, wantOrder, recB.snapshot()[:steps])
}

// The unsynchronized policy is a true no-op: Run, peer announcements
// and CompleteSimulationTask never reach the step handler.
func TestUnsynchronizedPolicyNeverCallsStepHandler(t *testing.T) {
	var called bool
	s := New(logging.Discard(), Config{Unsynchronized: true}, Handlers{
		Step: func(time.Duration, time.Duration) error { called = true; return nil },
	}, nil, nil)

	s.Run()
	s.HandlePeerNextSimTask("B", model.NextSimTask{TimePoint: 0, Duration: time.Millisecond})
	s.CompleteSimulationTask()
	require.False(t, called)
}

// Once every synchronized peer departs, the local participant is no
// longer held back. Before that, a peer that has announced a time and
// not moved past it gates everything after the shared step.
func TestAllSynchronizedPeersLeavingAdvancesFreely(t *testing.T) {
	exec := executor.New()
	defer exec.Stop()

	rec := newRecordingSteps(2)
	s := New(logging.Discard(), Config{
		StepDuration:             time.Millisecond,
		SynchronizedParticipants: []string{"B"},
	}, Handlers{Step: rec.handler}, exec, func() map[string]PeerSender {
		return map[string]PeerSender{}
	})

	// B announces t=0 and never advances past it, which holds the
	// local participant after its own first step.
	s.HandlePeerNextSimTask("B", model.NextSimTask{TimePoint: 0, Duration: time.Millisecond})
	s.Run()

	time.Sleep(50 * time.Millisecond)
	require.Len(t, rec.snapshot(), 1, "should be gated after the first step by B's unadvanced time point")

	s.HandlePeerDeparture("B")

	select {
	case <-rec.done:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for free advancement after all synchronized peers left")
	}
}

// A step that runs longer than the hard timeout produces exactly one
// invocation of the hard-timeout handler and one error report.
func TestHardTimeoutFiresExactlyOnce(t *testing.T) {
	exec := executor.New()
	defer exec.Stop()

	var mu sync.Mutex
	var hardCalls int
	var reportCalls int
	hardFired := make(chan struct{})

	blockStep := make(chan struct{})
	s := New(logging.Discard(), Config{
		StepDuration: time.Millisecond,
		HardTimeout:  20 * time.Millisecond,
	}, Handlers{
		Step: func(time.Duration, time.Duration) error {
			<-blockStep
			return nil
		},
		HardTimeoutHandler: func(err error) {
			mu.Lock()
			hardCalls++
			mu.Unlock()
			close(hardFired)
		},
		ReportErr: func(error) {
			mu.Lock()
			reportCalls++
			mu.Unlock()
		},
	}, exec, func() map[string]PeerSender { return map[string]PeerSender{} })

	s.Run()

	select {
	case <-hardFired:
	case <-time.After(2 * time.Second):
		t.Fatal("hard timeout handler never fired")
	}
	close(blockStep)

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, 1, hardCalls)
	require.Equal(t, 1, reportCalls)
}
