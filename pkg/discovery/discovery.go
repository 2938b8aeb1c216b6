// Package discovery maintains a replicated view of every controller's
// ServiceDescriptor across the domain, kept consistent as participants
// join, create/destroy controllers, and disconnect.
package discovery

import (
	"sync"

	"github.com/vectorgrp/sil-kit-sub003/internal/logging"
	"github.com/vectorgrp/sil-kit-sub003/pkg/model"
)

// EventKind distinguishes a ServiceDiscoveryEvent's direction.
type EventKind int

const (
	ServiceCreated EventKind = iota
	ServiceRemoved
)

func (k EventKind) String() string {
	if k == ServiceRemoved {
		return "ServiceRemoved"
	}
	return "ServiceCreated"
}

// Event is what every registered handler receives.
type Event struct {
	Kind       EventKind
	Descriptor model.ServiceDescriptor
}

// Handler observes every create/remove event regardless of type.
type Handler func(Event)

// SpecificHandler observes only events matching a controller type and
// network name.
type SpecificHandler func(Event)

type specificRegistration struct {
	controllerType model.ControllerType
	networkName    string
	handler        SpecificHandler
}

// Catalog is one participant's replicated view of the domain's
// ServiceDescriptors, plus the handler registries that react to
// changes in it.
type Catalog struct {
	log logging.Logger

	mu            sync.Mutex
	byParticipant map[string][]model.ServiceDescriptor
	handlers      []Handler
	specific      []specificRegistration
}

// New constructs an empty Catalog.
func New(log logging.Logger) *Catalog {
	return &Catalog{
		log:           log,
		byParticipant: make(map[string][]model.ServiceDescriptor),
	}
}

// ServiceCreatedLocal records a descriptor this participant just
// created and fans the event out to every registered handler. Callers
// also broadcast the corresponding ServiceDiscoveryEvent to peers
// through the router; that wiring lives in pkg/participant.
func (c *Catalog) ServiceCreatedLocal(d model.ServiceDescriptor) {
	c.apply(Event{Kind: ServiceCreated, Descriptor: d})
}

// ServiceRemovedLocal is the destruction-time counterpart.
func (c *Catalog) ServiceRemovedLocal(d model.ServiceDescriptor) {
	c.apply(Event{Kind: ServiceRemoved, Descriptor: d})
}

// ApplyRemoteEvent folds a ServiceDiscoveryEvent received from a peer
// into the catalog.
func (c *Catalog) ApplyRemoteEvent(e Event) {
	c.apply(e)
}

func (c *Catalog) apply(e Event) {
	c.mu.Lock()
	list := c.byParticipant[e.Descriptor.ParticipantName]
	switch e.Kind {
	case ServiceCreated:
		list = append(list, e.Descriptor)
	case ServiceRemoved:
		list = removeDescriptor(list, e.Descriptor)
	}
	c.byParticipant[e.Descriptor.ParticipantName] = list

	handlers := append([]Handler(nil), c.handlers...)
	specific := append([]specificRegistration(nil), c.specific...)
	c.mu.Unlock()

	for _, h := range handlers {
		h(e)
	}
	for _, s := range specific {
		if matchesSpecific(s, e.Descriptor) {
			s.handler(e)
		}
	}
}

func removeDescriptor(list []model.ServiceDescriptor, target model.ServiceDescriptor) []model.ServiceDescriptor {
	out := list[:0]
	for _, d := range list {
		if !d.Equal(target) {
			out = append(out, d)
		}
	}
	return out
}

func matchesSpecific(s specificRegistration, d model.ServiceDescriptor) bool {
	if s.networkName != "" && s.networkName != d.NetworkName {
		return false
	}
	if s.controllerType != model.ControllerUndefined {
		ct, ok := d.ControllerTypeHint()
		if !ok || ct != s.controllerType {
			return false
		}
	}
	return true
}

// RegisterServiceDiscoveryHandler subscribes fn to every future
// create/remove event.
func (c *Catalog) RegisterServiceDiscoveryHandler(fn Handler) {
	c.mu.Lock()
	c.handlers = append(c.handlers, fn)
	c.mu.Unlock()
}

// RegisterSpecificServiceDiscoveryHandler subscribes fn to future
// events matching controllerType and networkName (either may be left
// as the zero value / empty string to mean "any"), and immediately
// synthesizes ServiceCreated events for every already-known matching
// descriptor so a handler registered after the fact does not miss
// earlier creations.
func (c *Catalog) RegisterSpecificServiceDiscoveryHandler(fn SpecificHandler, controllerType model.ControllerType, networkName string) {
	reg := specificRegistration{controllerType: controllerType, networkName: networkName, handler: fn}

	c.mu.Lock()
	c.specific = append(c.specific, reg)
	var backfill []model.ServiceDescriptor
	for _, list := range c.byParticipant {
		for _, d := range list {
			if matchesSpecific(reg, d) {
				backfill = append(backfill, d)
			}
		}
	}
	c.mu.Unlock()

	for _, d := range backfill {
		fn(Event{Kind: ServiceCreated, Descriptor: d})
	}
}

// RemovePeer is called when a peer's transport connection is reported
// dead: every descriptor that participant owned is dropped and a
// ServiceRemoved event is synthesized locally for each.
func (c *Catalog) RemovePeer(participantName string) {
	c.mu.Lock()
	list := c.byParticipant[participantName]
	delete(c.byParticipant, participantName)
	handlers := append([]Handler(nil), c.handlers...)
	specific := append([]specificRegistration(nil), c.specific...)
	c.mu.Unlock()

	for _, d := range list {
		e := Event{Kind: ServiceRemoved, Descriptor: d}
		for _, h := range handlers {
			h(e)
		}
		for _, s := range specific {
			if matchesSpecific(s, d) {
				s.handler(e)
			}
		}
	}
}

// Descriptors returns every descriptor known for participantName, for
// use in the ParticipantDiscoveryEvent sent on peer join.
func (c *Catalog) Descriptors(participantName string) []model.ServiceDescriptor {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]model.ServiceDescriptor(nil), c.byParticipant[participantName]...)
}
