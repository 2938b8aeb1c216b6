// Package systemctrl implements the system controller, a thin sender
// with no owned state. It broadcasts SystemCommand and
// WorkflowConfiguration envelopes to every known peer and unicasts
// ParticipantCommand envelopes to one named peer.
package systemctrl

import (
	"github.com/hashicorp/go-multierror"

	"github.com/vectorgrp/sil-kit-sub003/internal/logging"
	"github.com/vectorgrp/sil-kit-sub003/pkg/wire"
)

// PeerSender is the narrow send capability the controller needs from a
// connected peer (satisfied structurally by *transport.Peer).
type PeerSender interface {
	Name() string
	Send(env wire.Envelope) error
}

// PeerDirectory returns every peer currently known to the mesh,
// snapshotted at call time. The controller never caches this itself.
type PeerDirectory func() map[string]PeerSender

// Controller issues cluster-wide commands and the workflow
// configuration.
type Controller struct {
	log   logging.Logger
	peers PeerDirectory
}

// New constructs a Controller that sends through peers.
func New(log logging.Logger, peers PeerDirectory) *Controller {
	return &Controller{log: log, peers: peers}
}

// Run broadcasts SystemCommand{Run} to every peer.
func (c *Controller) Run() error {
	return c.broadcastSystemCommand(SystemCommandRun)
}

// Stop broadcasts SystemCommand{Stop} to every peer.
func (c *Controller) Stop() error {
	return c.broadcastSystemCommand(SystemCommandStop)
}

// AbortSimulation broadcasts SystemCommand{AbortSimulation} to every
// peer.
func (c *Controller) AbortSimulation() error {
	return c.broadcastSystemCommand(SystemCommandAbortSimulation)
}

// Shutdown unicasts ParticipantCommand{Shutdown} to participantName.
// It is not an error for participantName to be unknown: the command
// simply has nowhere to go, matching the controller's stateless design.
func (c *Controller) Shutdown(participantName string) error {
	peer, ok := c.peers()[participantName]
	if !ok {
		c.log.Warnf("systemctrl: Shutdown target %s is not a known peer", participantName)
		return nil
	}
	body := EncodeParticipantCommand(ParticipantCommandShutdown, participantName)
	return peer.Send(wire.Envelope{Tag: wire.TagParticipantCommand, Body: body})
}

// SetWorkflowConfiguration broadcasts the required-participants set to
// every peer.
func (c *Controller) SetWorkflowConfiguration(requiredParticipantNames []string) error {
	body := EncodeWorkflowConfiguration(requiredParticipantNames)
	return c.broadcast(wire.Envelope{Tag: wire.TagWorkflowConfiguration, Body: body})
}

func (c *Controller) broadcastSystemCommand(kind SystemCommandKind) error {
	return c.broadcast(wire.Envelope{Tag: wire.TagSystemCommand, Body: EncodeSystemCommand(kind)})
}

// broadcast sends env to every known peer, aggregating any partial
// send failures rather than aborting on the first one (mirrors
// pkg/router.Publish's broadcast accounting).
func (c *Controller) broadcast(env wire.Envelope) error {
	var result *multierror.Error
	for _, peer := range c.peers() {
		if err := peer.Send(env); err != nil {
			result = multierror.Append(result, err)
		}
	}
	return result.ErrorOrNil()
}
