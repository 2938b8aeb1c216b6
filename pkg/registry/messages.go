// Package registry implements the central rendezvous process and the
// client-side mesh-bootstrap state machine a joining participant
// drives against it.
package registry

import (
	"github.com/vectorgrp/sil-kit-sub003/internal/ids"
	"github.com/vectorgrp/sil-kit-sub003/pkg/model"
	"github.com/vectorgrp/sil-kit-sub003/pkg/wire"
)

// ParticipantAnnouncement is a participant announcing itself, either
// to the registry or directly to a peer.
type ParticipantAnnouncement struct {
	Name            string
	ID              ids.ParticipantID
	ListenEndpoints []string
	ProtocolVersion uint16
}

// ReplyToParticipantAnnouncement is the receiving side's ack, sent
// peer-to-peer (not by the registry).
type ReplyToParticipantAnnouncement struct {
	Name string
	ID   ids.ParticipantID
}

// KnownParticipants is the registry's roster reply to a
// ParticipantAnnouncement.
type KnownParticipants struct {
	Participants []model.PeerInfo
}

func encodeAnnouncement(a ParticipantAnnouncement) []byte {
	e := wire.NewEncoder()
	e.WriteUint16(a.ProtocolVersion)
	e.WriteString(a.Name)
	e.WriteUint64(uint64(a.ID))
	e.WriteArrayLen(len(a.ListenEndpoints))
	for _, ep := range a.ListenEndpoints {
		e.WriteString(ep)
		e.Align()
	}
	return e.Bytes()
}

func decodeAnnouncement(body []byte) (ParticipantAnnouncement, error) {
	d := wire.NewDecoder(body)
	var a ParticipantAnnouncement
	var err error
	if a.ProtocolVersion, err = d.ReadUint16(); err != nil {
		return a, err
	}
	if a.Name, err = d.ReadString(); err != nil {
		return a, err
	}
	idv, err := d.ReadUint64()
	if err != nil {
		return a, err
	}
	a.ID = ids.ParticipantID(idv)
	n, err := d.ReadArrayLen()
	if err != nil {
		return a, err
	}
	for i := 0; i < n; i++ {
		ep, err := d.ReadString()
		if err != nil {
			return a, err
		}
		d.Align()
		a.ListenEndpoints = append(a.ListenEndpoints, ep)
	}
	return a, nil
}

func encodeReply(r ReplyToParticipantAnnouncement) []byte {
	e := wire.NewEncoder()
	e.WriteString(r.Name)
	e.WriteUint64(uint64(r.ID))
	return e.Bytes()
}

func decodeReply(body []byte) (ReplyToParticipantAnnouncement, error) {
	d := wire.NewDecoder(body)
	var r ReplyToParticipantAnnouncement
	var err error
	if r.Name, err = d.ReadString(); err != nil {
		return r, err
	}
	idv, err := d.ReadUint64()
	if err != nil {
		return r, err
	}
	r.ID = ids.ParticipantID(idv)
	return r, nil
}

func encodeKnownParticipants(k KnownParticipants) []byte {
	e := wire.NewEncoder()
	e.WriteArrayLen(len(k.Participants))
	for _, p := range k.Participants {
		e.Align()
		e.WriteString(p.ParticipantName)
		e.WriteArrayLen(len(p.Endpoints))
		for _, ep := range p.Endpoints {
			e.WriteString(ep)
			e.Align()
		}
	}
	return e.Bytes()
}

func decodeKnownParticipants(body []byte) (KnownParticipants, error) {
	d := wire.NewDecoder(body)
	var k KnownParticipants
	n, err := d.ReadArrayLen()
	if err != nil {
		return k, err
	}
	for i := 0; i < n; i++ {
		d.Align()
		var p model.PeerInfo
		if p.ParticipantName, err = d.ReadString(); err != nil {
			return k, err
		}
		m, err := d.ReadArrayLen()
		if err != nil {
			return k, err
		}
		for j := 0; j < m; j++ {
			ep, err := d.ReadString()
			if err != nil {
				return k, err
			}
			d.Align()
			p.Endpoints = append(p.Endpoints, ep)
		}
		k.Participants = append(k.Participants, p)
	}
	return k, nil
}
