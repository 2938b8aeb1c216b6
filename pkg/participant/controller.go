package participant

import (
	"github.com/vectorgrp/sil-kit-sub003/pkg/discovery"
	"github.com/vectorgrp/sil-kit-sub003/pkg/model"
	"github.com/vectorgrp/sil-kit-sub003/pkg/router"
	"github.com/vectorgrp/sil-kit-sub003/pkg/wire"
)

// ControllerConfig describes one service a participant wants to
// create.
type ControllerConfig struct {
	ServiceName  string
	ServiceType  model.ServiceType
	NetworkName  string
	NetworkType  model.NetworkType
	Supplemental map[string]string

	// HistoryLength enables last-message replay to late subscribers;
	// only 0 and 1 are supported.
	HistoryLength int

	// Receiver gets every inbound message addressed to this
	// controller's key; nil is valid for a send-only controller.
	Receiver router.Receiver

	// SelfObserve, when true, also loops this controller's own
	// publishes back to Receiver, for a participant that both
	// publishes and subscribes on one topic.
	SelfObserve bool
}

// Controller is a live service created on a Participant: it owns an
// endpoint id and can Publish, and on Close unregisters and announces
// ServiceRemoved.
type Controller struct {
	p    *Participant
	desc model.ServiceDescriptor
	key  model.NetworkEndpointKey

	receiver      router.Receiver
	selfObserve   bool
	historyLength int
}

// CreateController registers a new service: it allocates an endpoint
// id, registers the local receiver with the router, records the
// descriptor in the discovery catalog, and broadcasts both a
// ServiceCreated discovery event and a subscription announcement to
// every connected peer.
func (p *Participant) CreateController(cfg ControllerConfig) (*Controller, error) {
	endpointID := p.endpoints.Next()
	key := model.NetworkEndpointKey{NetworkName: cfg.NetworkName, EndpointID: uint64(endpointID)}

	desc := model.ServiceDescriptor{
		ParticipantName: p.name,
		ServiceName:     cfg.ServiceName,
		ServiceType:     cfg.ServiceType,
		NetworkName:     cfg.NetworkName,
		NetworkType:     cfg.NetworkType,
		ServiceID:       uint64(endpointID),
		Supplemental:    cfg.Supplemental,
	}

	if cfg.Receiver != nil {
		if err := p.router.RegisterLocalEndpoint(key, cfg.Receiver); err != nil {
			return nil, err
		}
		p.recordSubscription(key, cfg.HistoryLength)
	}
	p.discovery.ServiceCreatedLocal(desc)

	c := &Controller{p: p, desc: desc, key: key, receiver: cfg.Receiver, selfObserve: cfg.SelfObserve, historyLength: cfg.HistoryLength}

	discBody := discovery.EncodeEvent(discovery.Event{Kind: discovery.ServiceCreated, Descriptor: desc})
	subBody := router.EncodeSubscriptionAnnouncement(key, cfg.HistoryLength)
	for _, peer := range p.snapshotPeers() {
		if err := peer.Send(wire.Envelope{Tag: wire.TagServiceDiscoveryEvent, Body: discBody}); err != nil {
			p.log.Warnf("participant: discovery broadcast to %s failed: %v", peer.Name(), err)
		}
		if err := peer.Send(wire.Envelope{Tag: wire.TagSubscriptionAnnouncement, Body: subBody}); err != nil {
			p.log.Warnf("participant: subscription broadcast to %s failed: %v", peer.Name(), err)
		}
	}
	return c, nil
}

// Descriptor returns the service descriptor this controller registered
// under.
func (c *Controller) Descriptor() model.ServiceDescriptor { return c.desc }

// Publish sends payload, tagged messageKind, to every peer subscribed
// to this controller's key.
func (c *Controller) Publish(messageKind uint16, payload []byte) error {
	if c.selfObserve && c.receiver != nil {
		c.receiver.ReceiveEnvelope(c.p.name, messageKind, payload)
	}
	return c.p.router.Publish(c.key, messageKind, payload, c.historyLength, "", c.p.routerPeers())
}

// Close unregisters the controller's local endpoint and announces
// ServiceRemoved to every peer.
func (c *Controller) Close() error {
	c.p.router.UnregisterLocalEndpoint(c.key)
	c.p.discovery.ServiceRemovedLocal(c.desc)

	body := discovery.EncodeEvent(discovery.Event{Kind: discovery.ServiceRemoved, Descriptor: c.desc})
	for _, peer := range c.p.snapshotPeers() {
		if err := peer.Send(wire.Envelope{Tag: wire.TagServiceDiscoveryEvent, Body: body}); err != nil {
			c.p.log.Warnf("participant: service-removed broadcast to %s failed: %v", peer.Name(), err)
		}
	}
	return nil
}
