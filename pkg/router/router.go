// Package router implements local dispatch of incoming envelopes to
// the right registered receiver, and the peer-side subscription plane
// that decides which peers a locally-sent envelope goes out to.
package router

import (
	"sync"

	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"

	"github.com/vectorgrp/sil-kit-sub003/internal/logging"
	"github.com/vectorgrp/sil-kit-sub003/pkg/model"
	"github.com/vectorgrp/sil-kit-sub003/pkg/wire"
)

// ErrDuplicateEndpoint is returned by RegisterLocalEndpoint when a
// (networkName, endpointId) pair is already registered.
var ErrDuplicateEndpoint = errors.New("router: endpoint already registered")

// Receiver is implemented by controllers that want envelopes destined
// for one of their (networkName, endpointId) keys.
type Receiver interface {
	// ReceiveEnvelope is invoked on the owning participant's executor
	// goroutine; it must not block.
	ReceiveEnvelope(sourceParticipant string, messageKind uint16, payload []byte)
}

// PeerSender is the subset of transport.Peer the router needs to push
// an envelope out; it is satisfied by *transport.Peer without this
// package importing pkg/transport, keeping the dependency direction
// router -> transport one-way via the caller's wiring.
type PeerSender interface {
	Name() string
	Send(env wire.Envelope) error
}

type subscription struct {
	lastPayload []byte
	lastKind    uint16
	hasHistory  bool
}

// Router owns one participant's local dispatch table and its view of
// which remote peers subscribe to which (networkName, endpointId) key.
type Router struct {
	log      logging.Logger
	selfName string

	mu    sync.Mutex
	local map[model.NetworkEndpointKey]Receiver
	// subscribers maps a key to the set of peer names that have
	// announced a subscription to it, mirroring the remote peers'
	// subscription state.
	subscribers map[model.NetworkEndpointKey]map[string]bool
	// published tracks every key this participant has published to,
	// for history-length-1 replay to late subscribers.
	published map[model.NetworkEndpointKey]*subscription
}

// New constructs an empty Router for the participant named selfName.
func New(log logging.Logger, selfName string) *Router {
	return &Router{
		log:         log,
		selfName:    selfName,
		local:       make(map[model.NetworkEndpointKey]Receiver),
		subscribers: make(map[model.NetworkEndpointKey]map[string]bool),
		published:   make(map[model.NetworkEndpointKey]*subscription),
	}
}

// RegisterLocalEndpoint binds receiver to key; it is the caller's
// responsibility to do this once per controller at creation. A
// duplicate key is a programming error.
func (r *Router) RegisterLocalEndpoint(key model.NetworkEndpointKey, receiver Receiver) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.local[key]; exists {
		return ErrDuplicateEndpoint
	}
	r.local[key] = receiver
	return nil
}

// UnregisterLocalEndpoint removes a previously registered receiver,
// e.g. on controller teardown.
func (r *Router) UnregisterLocalEndpoint(key model.NetworkEndpointKey) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.local, key)
}

// DispatchIncoming is the inbound path: it decodes a TagPeerMessage
// envelope body and hands the payload to the registered local receiver
// for its destination key, if any. Envelopes for keys nobody has
// registered locally are dropped silently — that is normal during
// startup race windows before a controller has registered.
func (r *Router) DispatchIncoming(sourceParticipant string, body []byte) error {
	h, payload, err := wire.DecodePeerMessage(body)
	if err != nil {
		return err
	}
	key := model.NetworkEndpointKey{NetworkName: h.NetworkName, EndpointID: h.EndpointID}

	r.mu.Lock()
	receiver, ok := r.local[key]
	r.mu.Unlock()
	if !ok {
		r.log.Debugf("router: no local receiver for %s/%d, dropping", key.NetworkName, key.EndpointID)
		return nil
	}
	receiver.ReceiveEnvelope(sourceParticipant, h.MessageKind, payload)
	return nil
}

// HandleSubscriptionAnnouncement records that peerName subscribes to
// key. If a history-length-1 message has already been published on
// that key it is replayed immediately so the late subscriber recovers
// state.
func (r *Router) HandleSubscriptionAnnouncement(peerName string, key model.NetworkEndpointKey, historyLength int, sender PeerSender) {
	r.mu.Lock()
	set, ok := r.subscribers[key]
	if !ok {
		set = make(map[string]bool)
		r.subscribers[key] = set
	}
	set[peerName] = true
	pub := r.published[key]
	r.mu.Unlock()

	if historyLength != 0 && historyLength != 1 {
		r.log.Warnf("router: unsupported history length %d for %s/%d, treating as 0", historyLength, key.NetworkName, key.EndpointID)
	}
	if historyLength != 1 || pub == nil || !pub.hasHistory || sender == nil {
		return
	}
	body := wire.EncodePeerMessage(wire.PeerMessageHeader{
		NetworkName:       key.NetworkName,
		EndpointID:        key.EndpointID,
		SourceParticipant: r.selfName,
		SourceNetwork:     key.NetworkName,
		MessageKind:       pub.lastKind,
	}, pub.lastPayload)
	if err := sender.Send(wire.Envelope{Tag: wire.TagPeerMessage, Body: body}); err != nil {
		r.log.Warnf("router: history replay to %s failed: %v", peerName, err)
	}
}

// RemovePeer drops every subscription peerName held, called when that
// peer's transport connection is reported dead.
func (r *Router) RemovePeer(peerName string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, set := range r.subscribers {
		delete(set, peerName)
	}
}

// EncodeSubscriptionAnnouncement builds the SubscriptionAnnouncement
// body a newly-created controller broadcasts to every connected peer.
func EncodeSubscriptionAnnouncement(key model.NetworkEndpointKey, historyLength int) []byte {
	e := wire.NewEncoder()
	e.WriteString(key.NetworkName)
	e.WriteUint64(key.EndpointID)
	e.WriteUint8(uint8(historyLength))
	return e.Bytes()
}

// DecodeSubscriptionAnnouncement is the inverse of
// EncodeSubscriptionAnnouncement.
func DecodeSubscriptionAnnouncement(body []byte) (model.NetworkEndpointKey, int, error) {
	d := wire.NewDecoder(body)
	var key model.NetworkEndpointKey
	var err error
	if key.NetworkName, err = d.ReadString(); err != nil {
		return key, 0, err
	}
	if key.EndpointID, err = d.ReadUint64(); err != nil {
		return key, 0, err
	}
	h, err := d.ReadUint8()
	if err != nil {
		return key, 0, err
	}
	return key, int(h), nil
}

// Publish is the outbound path: it records the payload for
// history-length-1 replay (when historyLength == 1), then sends the
// envelope to all subscribers of key when targetPeer is empty
// (broadcast), or just targetPeer when set, provided targetPeer is
// itself a subscriber. Partial send failures across a broadcast
// fan-out are aggregated rather than aborting the whole publish on one
// bad peer.
func (r *Router) Publish(key model.NetworkEndpointKey, messageKind uint16, payload []byte, historyLength int, targetPeer string, peers map[string]PeerSender) error {
	body := wire.EncodePeerMessage(wire.PeerMessageHeader{
		NetworkName:       key.NetworkName,
		EndpointID:        key.EndpointID,
		SourceParticipant: r.selfName,
		SourceNetwork:     key.NetworkName,
		MessageKind:       messageKind,
	}, payload)
	envelope := wire.Envelope{Tag: wire.TagPeerMessage, Body: body}

	r.mu.Lock()
	if historyLength == 1 {
		r.published[key] = &subscription{lastPayload: payload, lastKind: messageKind, hasHistory: true}
	}
	subs := r.subscribers[key]
	var destinations []string
	if targetPeer != "" {
		if subs != nil && subs[targetPeer] {
			destinations = []string{targetPeer}
		}
	} else {
		for name := range subs {
			destinations = append(destinations, name)
		}
	}
	r.mu.Unlock()

	var errs *multierror.Error
	for _, name := range destinations {
		sender, ok := peers[name]
		if !ok {
			continue
		}
		if err := sender.Send(envelope); err != nil {
			errs = multierror.Append(errs, errors.Wrapf(err, "router: send to %s", name))
		}
	}
	return errs.ErrorOrNil()
}
