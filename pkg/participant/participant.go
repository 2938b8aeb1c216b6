// Package participant wires the runtime's components together into one
// process: it owns the per-participant executor and a set of
// per-concern sub-objects that hold non-owning references to each
// other.
package participant

import (
	"net"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/vectorgrp/sil-kit-sub003/internal/executor"
	"github.com/vectorgrp/sil-kit-sub003/internal/ids"
	"github.com/vectorgrp/sil-kit-sub003/internal/logging"
	"github.com/vectorgrp/sil-kit-sub003/pkg/discovery"
	"github.com/vectorgrp/sil-kit-sub003/pkg/lifecycle"
	"github.com/vectorgrp/sil-kit-sub003/pkg/model"
	"github.com/vectorgrp/sil-kit-sub003/pkg/monitor"
	"github.com/vectorgrp/sil-kit-sub003/pkg/router"
	"github.com/vectorgrp/sil-kit-sub003/pkg/systemctrl"
	"github.com/vectorgrp/sil-kit-sub003/pkg/timesync"
	"github.com/vectorgrp/sil-kit-sub003/pkg/transport"
	"github.com/vectorgrp/sil-kit-sub003/pkg/wire"
)

// Config assembles everything needed to construct a Participant. Every
// concern is a plain Go value; file parsing lives outside this module.
type Config struct {
	Name            string
	ProtocolVersion uint16

	CoordinatedStart bool
	CoordinatedStop  bool

	// RequiredParticipants seeds the workflow; empty means the monitor
	// waits for a broadcast WorkflowConfiguration.
	RequiredParticipants []string

	TimeSync    timesync.Config
	StepHandler timesync.StepHandler

	Handlers lifecycle.Handlers

	Log logging.Logger

	// Registry is optional; nil leaves all metrics unregistered.
	Registry prometheus.Registerer
}

func (c Config) withDefaults() Config {
	if c.ProtocolVersion == 0 {
		c.ProtocolVersion = wire.ProtocolVersion
	}
	if c.Log == nil {
		c.Log = logging.Discard()
	}
	return c
}

// Participant is one process that has joined the domain. It owns the
// I/O executor and every per-concern sub-object.
type Participant struct {
	name string
	id   ids.ParticipantID
	log  logging.Logger
	cfg  Config

	exec      *executor.Executor
	endpoints *ids.EndpointAllocator
	router    *router.Router
	discovery *discovery.Catalog
	monitor   *monitor.Monitor
	lifecycle *lifecycle.FSM
	sysctrl   *systemctrl.Controller
	timesync  *timesync.Service
	metrics   *transport.Metrics

	mu    sync.Mutex
	peers map[string]*transport.Peer

	subsMu sync.Mutex
	subs   []localSubscription
}

// localSubscription records one controller's desire to receive
// messages, so it can be re-announced to peers that join after the
// controller was created.
type localSubscription struct {
	key           model.NetworkEndpointKey
	historyLength int
}

// New constructs a Participant. It does not dial anything; call
// AddPeer (directly, or with connections the caller obtained through
// registry.Join and registry.DialMesh) to join the mesh.
func New(cfg Config) *Participant {
	cfg = cfg.withDefaults()

	p := &Participant{
		name:      cfg.Name,
		id:        ids.HashParticipantName(cfg.Name),
		log:       cfg.Log,
		cfg:       cfg,
		exec:      executor.New(),
		endpoints: ids.NewEndpointAllocator(),
		peers:     make(map[string]*transport.Peer),
		metrics:   transport.NewMetrics(cfg.Registry),
	}
	p.router = router.New(cfg.Log, cfg.Name)
	p.discovery = discovery.New(cfg.Log)
	p.monitor = monitor.New(cfg.Log)
	if len(cfg.RequiredParticipants) > 0 {
		p.monitor.SetWorkflowConfiguration(model.WorkflowConfiguration{RequiredParticipantNames: cfg.RequiredParticipants})
	}
	p.lifecycle = lifecycle.New(cfg.Log, lifecycle.Config{
		CoordinatedStart: cfg.CoordinatedStart,
		CoordinatedStop:  cfg.CoordinatedStop,
		Unsynchronized:   cfg.TimeSync.Unsynchronized,
		Metrics:          lifecycle.NewMetrics(cfg.Registry),
	}, cfg.Handlers)
	p.sysctrl = systemctrl.New(cfg.Log, p.systemctrlPeers)
	if cfg.TimeSync.Metrics == nil {
		cfg.TimeSync.Metrics = timesync.NewMetrics(cfg.Registry)
	}
	p.timesync = timesync.New(cfg.Log, cfg.TimeSync, timesync.Handlers{
		Step:               cfg.StepHandler,
		HardTimeoutHandler: func(err error) { p.log.Errorf("timesync: %v", err) },
		ReportErr:          func(err error) { p.ReportError(err) },
	}, p.exec, p.timesyncPeers)
	return p
}

// Name is this participant's name.
func (p *Participant) Name() string { return p.name }

// ID is this participant's derived ParticipantID.
func (p *Participant) ID() ids.ParticipantID { return p.id }

// Stop announces the clean exit to every connected peer, closes the
// connections, and tears down the executor. The ShutdownNotification
// lets remote peers tell an intentional leave from a crash; waiting
// for its delivery is bounded so a dead peer cannot stall teardown.
func (p *Participant) Stop() {
	env := wire.Envelope{Tag: wire.TagShutdownNotification}
	for _, peer := range p.snapshotPeers() {
		if err := peer.Send(env); err == nil {
			peer.FlushSendBuffers()
			delivered := make(chan struct{})
			peer.OnAllMessagesDelivered(func() { close(delivered) })
			select {
			case <-delivered:
			case <-time.After(100 * time.Millisecond):
			}
		}
		peer.Close()
	}
	p.exec.Stop()
}

// Monitor, Lifecycle, Discovery, Router, TimeSync and SystemController
// expose the underlying components for callers (tests, controllers)
// that need direct access beyond the facade's own operations.
func (p *Participant) Monitor() *monitor.Monitor                { return p.monitor }
func (p *Participant) Lifecycle() *lifecycle.FSM                { return p.lifecycle }
func (p *Participant) Discovery() *discovery.Catalog            { return p.discovery }
func (p *Participant) Router() *router.Router                   { return p.router }
func (p *Participant) TimeSync() *timesync.Service              { return p.timesync }
func (p *Participant) SystemController() *systemctrl.Controller { return p.sysctrl }

// Tick drives the lifecycle FSM and publishes the resulting status to
// every peer and to this participant's own monitor, strictly after the
// transition completes.
func (p *Participant) Tick(event lifecycle.Event) lifecycle.StateTransitionResult {
	res := p.lifecycle.Tick(event)
	if res.Status == lifecycle.StatusOk {
		p.applyTimeSyncTransition(event)
	}
	p.publishStatus(event.String())
	return res
}

// applyTimeSyncTransition forwards lifecycle control-plane changes to
// the time-sync service: entering Running starts the protocol, Paused
// gates it, Continue resumes it. Under the unsynchronized policy all
// three are no-ops.
func (p *Participant) applyTimeSyncTransition(event lifecycle.Event) {
	switch event {
	case lifecycle.EventStart, lifecycle.EventRun, lifecycle.EventReinitialize:
		// An uncoordinated start (and an uncoordinated restart) lands
		// in Running without a separate Run tick.
		if p.lifecycle.State() == model.StateRunning {
			p.timesync.Run()
		}
	case lifecycle.EventPause:
		p.timesync.Pause()
	case lifecycle.EventContinue:
		p.timesync.Continue()
	}
}

// ReportError routes an out-of-band failure into the lifecycle FSM and
// republishes status immediately after.
func (p *Participant) ReportError(cause error) lifecycle.StateTransitionResult {
	res := p.lifecycle.ReportError(cause)
	p.publishStatus("error: " + cause.Error())
	return res
}

func (p *Participant) publishStatus(reason string) {
	now := time.Now()
	status := model.ParticipantStatus{
		ParticipantName: p.name,
		State:           p.lifecycle.State(),
		EnterReason:     reason,
		EnterTime:       now,
		RefreshTime:     now,
	}
	p.monitor.ApplyStatus(status)
	body := monitor.EncodeStatus(status)
	env := wire.Envelope{Tag: wire.TagParticipantStatus, Body: body}
	for _, peer := range p.snapshotPeers() {
		if err := peer.Send(env); err != nil {
			p.log.Warnf("participant: status send to %s failed: %v", peer.Name(), err)
		}
	}
}

// AddPeer wraps conn as a transport.Peer named peerName, wires its
// receive/shutdown callbacks into every component that needs them, and
// announces this participant's own service descriptors to it. Safe to
// call both for peers dialed out to and peers accepted from a
// listener.
func (p *Participant) AddPeer(peerName string, conn net.Conn) *transport.Peer {
	peer := transport.New(peerName, conn, p.exec, p.log, p.metrics)

	p.mu.Lock()
	p.peers[peerName] = peer
	p.mu.Unlock()

	peer.OnReceive(func(env wire.Envelope) { p.dispatch(peerName, env) })
	peer.OnShutdown(func(err error) { p.RemovePeer(peerName) })

	ownDescriptors := p.discovery.Descriptors(p.name)
	if len(ownDescriptors) > 0 {
		body := discovery.EncodeParticipantDiscoveryEvent(ownDescriptors)
		if err := peer.Send(wire.Envelope{Tag: wire.TagParticipantDiscoveryEvent, Body: body}); err != nil {
			p.log.Warnf("participant: discovery announce to %s failed: %v", peerName, err)
		}
	}

	p.subsMu.Lock()
	subs := append([]localSubscription(nil), p.subs...)
	p.subsMu.Unlock()
	for _, s := range subs {
		body := router.EncodeSubscriptionAnnouncement(s.key, s.historyLength)
		if err := peer.Send(wire.Envelope{Tag: wire.TagSubscriptionAnnouncement, Body: body}); err != nil {
			p.log.Warnf("participant: subscription announce to %s failed: %v", peerName, err)
		}
	}
	return peer
}

// recordSubscription remembers a locally-registered receiver's key so
// future peers learn about it on join.
func (p *Participant) recordSubscription(key model.NetworkEndpointKey, historyLength int) {
	p.subsMu.Lock()
	p.subs = append(p.subs, localSubscription{key: key, historyLength: historyLength})
	p.subsMu.Unlock()
}

// RemovePeer drops peerName from every component's bookkeeping.
// Idempotent.
func (p *Participant) RemovePeer(peerName string) {
	p.mu.Lock()
	_, existed := p.peers[peerName]
	delete(p.peers, peerName)
	p.mu.Unlock()
	if !existed {
		return
	}
	p.router.RemovePeer(peerName)
	p.discovery.RemovePeer(peerName)
	p.monitor.RemoveParticipant(peerName)
	p.timesync.HandlePeerDeparture(peerName)
}

func (p *Participant) snapshotPeers() map[string]*transport.Peer {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make(map[string]*transport.Peer, len(p.peers))
	for k, v := range p.peers {
		out[k] = v
	}
	return out
}

func (p *Participant) systemctrlPeers() map[string]systemctrl.PeerSender {
	snap := p.snapshotPeers()
	out := make(map[string]systemctrl.PeerSender, len(snap))
	for k, v := range snap {
		out[k] = v
	}
	return out
}

func (p *Participant) timesyncPeers() map[string]timesync.PeerSender {
	snap := p.snapshotPeers()
	out := make(map[string]timesync.PeerSender, len(snap))
	for k, v := range snap {
		out[k] = v
	}
	return out
}

func (p *Participant) routerPeers() map[string]router.PeerSender {
	snap := p.snapshotPeers()
	out := make(map[string]router.PeerSender, len(snap))
	for k, v := range snap {
		out[k] = v
	}
	return out
}

func (p *Participant) peerSender(name string) router.PeerSender {
	p.mu.Lock()
	defer p.mu.Unlock()
	peer, ok := p.peers[name]
	if !ok {
		return nil
	}
	return peer
}

// dispatch is the single point every incoming envelope passes through,
// regardless of which peer it arrived on; it runs on the executor
// goroutine, since the transport posts receive callbacks there.
func (p *Participant) dispatch(peerName string, env wire.Envelope) {
	switch env.Tag {
	case wire.TagPeerMessage:
		if err := p.router.DispatchIncoming(peerName, env.Body); err != nil {
			p.log.Warnf("participant: dispatch from %s failed: %v", peerName, err)
		}

	case wire.TagSubscriptionAnnouncement:
		key, hist, err := router.DecodeSubscriptionAnnouncement(env.Body)
		if err != nil {
			p.log.Warnf("participant: malformed subscription announcement from %s: %v", peerName, err)
			return
		}
		p.router.HandleSubscriptionAnnouncement(peerName, key, hist, p.peerSender(peerName))

	case wire.TagServiceDiscoveryEvent:
		e, err := discovery.DecodeEvent(env.Body)
		if err != nil {
			p.log.Warnf("participant: malformed discovery event from %s: %v", peerName, err)
			return
		}
		p.discovery.ApplyRemoteEvent(e)

	case wire.TagParticipantDiscoveryEvent:
		descriptors, err := discovery.DecodeParticipantDiscoveryEvent(env.Body)
		if err != nil {
			p.log.Warnf("participant: malformed participant discovery event from %s: %v", peerName, err)
			return
		}
		for _, d := range descriptors {
			p.discovery.ApplyRemoteEvent(discovery.Event{Kind: discovery.ServiceCreated, Descriptor: d})
		}

	case wire.TagParticipantStatus:
		status, err := monitor.DecodeStatus(env.Body)
		if err != nil {
			p.log.Warnf("participant: malformed status from %s: %v", peerName, err)
			return
		}
		p.monitor.ApplyStatus(status)

	case wire.TagSystemCommand:
		kind, err := systemctrl.DecodeSystemCommand(env.Body)
		if err != nil {
			p.log.Warnf("participant: malformed system command from %s: %v", peerName, err)
			return
		}
		p.handleSystemCommand(kind)

	case wire.TagParticipantCommand:
		kind, name, err := systemctrl.DecodeParticipantCommand(env.Body)
		if err != nil {
			p.log.Warnf("participant: malformed participant command from %s: %v", peerName, err)
			return
		}
		if name != p.name {
			return
		}
		switch kind {
		case systemctrl.ParticipantCommandShutdown:
			p.Tick(lifecycle.EventShutdown)
		}

	case wire.TagWorkflowConfiguration:
		names, err := systemctrl.DecodeWorkflowConfiguration(env.Body)
		if err != nil {
			p.log.Warnf("participant: malformed workflow configuration from %s: %v", peerName, err)
			return
		}
		p.monitor.SetWorkflowConfiguration(model.WorkflowConfiguration{RequiredParticipantNames: names})

	case wire.TagNextSimTask:
		if err := p.timesync.HandleNextSimTaskEnvelope(peerName, env.Body); err != nil {
			p.log.Warnf("participant: malformed NextSimTask from %s: %v", peerName, err)
		}

	case wire.TagShutdownNotification:
		p.log.Infof("participant: %s sent ShutdownNotification", peerName)

	default:
		p.log.Warnf("participant: unhandled envelope tag %s from %s", env.Tag, peerName)
	}
}

// handleSystemCommand translates a broadcast SystemCommand into the
// matching lifecycle event. Uncoordinated participants ignore global
// Run/Stop: an uncoordinated FSM already reached Running/Shutdown on
// its own.
func (p *Participant) handleSystemCommand(kind systemctrl.SystemCommandKind) {
	switch kind {
	case systemctrl.SystemCommandRun:
		if p.cfg.CoordinatedStart {
			p.Tick(lifecycle.EventRun)
		}
	case systemctrl.SystemCommandStop:
		if p.cfg.CoordinatedStop {
			p.Tick(lifecycle.EventStop)
		}
	case systemctrl.SystemCommandAbortSimulation:
		p.Tick(lifecycle.EventAbort)
	}
}
