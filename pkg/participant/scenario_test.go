package participant

import (
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/vectorgrp/sil-kit-sub003/internal/logging"
	"github.com/vectorgrp/sil-kit-sub003/pkg/lifecycle"
	"github.com/vectorgrp/sil-kit-sub003/pkg/model"
	"github.com/vectorgrp/sil-kit-sub003/pkg/timesync"
)

// connectMesh fully connects the given participants pairwise with
// net.Pipe conns, the same way a real TCP mesh would be wired after
// registry.DialMesh resolves every peer's address.
func connectMesh(t *testing.T, ps ...*Participant) {
	t.Helper()
	for i := range ps {
		for j := i + 1; j < len(ps); j++ {
			a, b := net.Pipe()
			ps[i].AddPeer(ps[j].Name(), a)
			ps[j].AddPeer(ps[i].Name(), b)
		}
	}
}

// recordingReceiver collects every envelope payload delivered to it.
type recordingReceiver struct {
	mu    sync.Mutex
	calls []string
	done  chan struct{}
	want  int
}

func newRecordingReceiver(want int) *recordingReceiver {
	return &recordingReceiver{done: make(chan struct{}), want: want}
}

func (r *recordingReceiver) ReceiveEnvelope(source string, kind uint16, payload []byte) {
	r.mu.Lock()
	r.calls = append(r.calls, source+":"+string(payload))
	n := len(r.calls)
	r.mu.Unlock()
	if n == r.want {
		close(r.done)
	}
}

func (r *recordingReceiver) waitFor(t *testing.T, timeout time.Duration) {
	t.Helper()
	select {
	case <-r.done:
	case <-time.After(timeout):
		t.Fatalf("timed out waiting for %d deliveries, got %d", r.want, len(r.snapshot()))
	}
}

func (r *recordingReceiver) snapshot() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.calls...)
}

// Three uncoordinated participants join, each creates one data
// controller, publishes 3 messages, and every participant's controller
// observes all 9 (including its own, via self-observation).
func TestUncoordinatedLifecycleAndDataExchange(t *testing.T) {
	names := []string{"A", "B", "C"}
	participants := make([]*Participant, len(names))
	for i, n := range names {
		participants[i] = New(Config{Name: n, Log: logging.Discard()})
		defer participants[i].Stop()
	}
	connectMesh(t, participants...)

	receivers := make(map[string]*recordingReceiver, len(names))
	controllers := make(map[string]*Controller, len(names))
	for _, p := range participants {
		rec := newRecordingReceiver(len(names) * 3) // 3 messages from each of 3 publishers, including self
		receivers[p.Name()] = rec
		ctl, err := p.CreateController(ControllerConfig{
			ServiceName:   "Topic",
			ServiceType:   model.ServiceController,
			NetworkName:   "Data1",
			NetworkType:   model.NetworkData,
			HistoryLength: 1,
			Receiver:      rec,
			SelfObserve:   true,
		})
		require.NoError(t, err)
		controllers[p.Name()] = ctl
	}

	// Let subscription announcements and discovery events settle.
	time.Sleep(50 * time.Millisecond)

	for _, p := range participants {
		ctl := controllers[p.Name()]
		for i := 0; i < 3; i++ {
			require.NoError(t, ctl.Publish(1, []byte(p.Name()+"-msg")))
		}
	}

	for _, name := range names {
		receivers[name].waitFor(t, 5*time.Second)
		require.Len(t, receivers[name].snapshot(), len(names)*3)
	}

	for _, p := range participants {
		descs := p.Discovery().Descriptors(p.Name())
		require.Len(t, descs, 1)
		require.Equal(t, "Topic", descs[0].ServiceName)
	}
}

// A coordinated participant only reaches Running after an explicit Run
// tick and only reaches Stopped after an explicit Stop tick. It runs
// under the unsynchronized time policy, the only one under which the
// Starting handler fires on Run.
func TestCoordinatedStartStop(t *testing.T) {
	var startingCalled, stopCalled bool
	p := New(Config{
		Name:             "ECU1",
		Log:              logging.Discard(),
		CoordinatedStart: true,
		CoordinatedStop:  true,
		TimeSync:         timesync.Config{Unsynchronized: true},
		Handlers: lifecycle.Handlers{
			Starting: func() error { startingCalled = true; return nil },
			Stop:     func() error { stopCalled = true; return nil },
		},
	})
	defer p.Stop()

	res := p.Tick(lifecycle.EventStart)
	require.Equal(t, lifecycle.StatusOk, res.Status)
	require.Equal(t, model.StateServicesCreated, p.Lifecycle().State())

	res = p.Tick(lifecycle.EventSysStateAdvance)
	require.Equal(t, model.StateCommunicationInitializing, p.Lifecycle().State())

	res = p.Tick(lifecycle.EventAllPeersOK)
	require.Equal(t, model.StateCommunicationInitialized, p.Lifecycle().State())

	res = p.Tick(lifecycle.EventCommReadyDone)
	require.Equal(t, model.StateReadyToRun, p.Lifecycle().State())

	res = p.Tick(lifecycle.EventRun)
	require.True(t, startingCalled)
	require.Equal(t, model.StateRunning, p.Lifecycle().State())

	res = p.Tick(lifecycle.EventStop)
	require.True(t, stopCalled)
	require.Equal(t, model.StateStopped, p.Lifecycle().State())
	require.Equal(t, lifecycle.StatusOk, res.Status)
}

// stepRecorder collects the time points a step handler was invoked
// with, safe for concurrent use.
type stepRecorder struct {
	mu    sync.Mutex
	times []time.Duration
	done  chan struct{}
	want  int
}

func newStepRecorder(want int) *stepRecorder {
	return &stepRecorder{done: make(chan struct{}), want: want}
}

func (r *stepRecorder) handler(tp, d time.Duration) error {
	r.mu.Lock()
	r.times = append(r.times, tp)
	n := len(r.times)
	r.mu.Unlock()
	if n == r.want {
		close(r.done)
	}
	return nil
}

func (r *stepRecorder) waitFor(t *testing.T, timeout time.Duration) {
	t.Helper()
	select {
	case <-r.done:
	case <-time.After(timeout):
		t.Fatalf("timed out waiting for %d steps", r.want)
	}
}

func (r *stepRecorder) snapshot() []time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]time.Duration(nil), r.times...)
}

// Two synchronized participants driven entirely through the facade:
// reaching Running starts the quantum protocol over the real peer
// connections, and both step handlers see the same ordered time
// points.
func TestSynchronizedStepsDrivenThroughFacade(t *testing.T) {
	const steps = 5
	recA := newStepRecorder(steps)
	recB := newStepRecorder(steps)

	a := New(Config{
		Name:        "A",
		Log:         logging.Discard(),
		TimeSync:    timesync.Config{StepDuration: time.Millisecond, SynchronizedParticipants: []string{"B"}},
		StepHandler: recA.handler,
	})
	defer a.Stop()
	b := New(Config{
		Name:        "B",
		Log:         logging.Discard(),
		TimeSync:    timesync.Config{StepDuration: time.Millisecond, SynchronizedParticipants: []string{"A"}},
		StepHandler: recB.handler,
	})
	defer b.Stop()
	connectMesh(t, a, b)

	require.Equal(t, lifecycle.StatusOk, a.Tick(lifecycle.EventStart).Status)
	require.Equal(t, lifecycle.StatusOk, b.Tick(lifecycle.EventStart).Status)
	require.Equal(t, model.StateRunning, a.Lifecycle().State())
	require.Equal(t, model.StateRunning, b.Lifecycle().State())

	recA.waitFor(t, 5*time.Second)
	recB.waitFor(t, 5*time.Second)

	want := make([]time.Duration, steps)
	for i := range want {
		want[i] = time.Duration(i) * time.Millisecond
	}
	require.Equal(t, want, recA.snapshot()[:steps])
	require.Equal(t, want, recB.snapshot()[:steps])
}

// A participant that creates a controller and publishes before a peer
// joins still delivers its most recent message to that peer once the
// peer subscribes, via the history-length-1 replay.
func TestLateJoinerReceivesHistory(t *testing.T) {
	a := New(Config{Name: "A", Log: logging.Discard()})
	defer a.Stop()

	ctl, err := a.CreateController(ControllerConfig{
		ServiceName:   "Topic",
		ServiceType:   model.ServiceController,
		NetworkName:   "Data1",
		NetworkType:   model.NetworkData,
		HistoryLength: 1,
	})
	require.NoError(t, err)
	require.NoError(t, ctl.Publish(1, []byte("before-join")))

	b := New(Config{Name: "B", Log: logging.Discard()})
	defer b.Stop()

	rec := newRecordingReceiver(1)
	_, err = b.CreateController(ControllerConfig{
		ServiceName:   "TopicSub",
		ServiceType:   model.ServiceController,
		NetworkName:   "Data1",
		NetworkType:   model.NetworkData,
		HistoryLength: 1,
		Receiver:      rec,
	})
	require.NoError(t, err)

	conn1, conn2 := net.Pipe()
	a.AddPeer("B", conn1)
	b.AddPeer("A", conn2)

	rec.waitFor(t, 5*time.Second)
	require.Equal(t, []string{"A:before-join"}, rec.snapshot())
}
