package registry

import (
	"net"
	"sync"

	"github.com/vectorgrp/sil-kit-sub003/internal/logging"
	"github.com/vectorgrp/sil-kit-sub003/pkg/model"
	"github.com/vectorgrp/sil-kit-sub003/pkg/wire"
)

// Server is the central rendezvous node: each joining participant
// connects to it first, announces itself, and receives the current
// roster; the registry then forwards that announcement to every
// already-connected participant so they dial the newcomer directly.
type Server struct {
	log             logging.Logger
	protocolVersion uint16

	mu    sync.Mutex
	peers map[string]*registeredPeer
}

type registeredPeer struct {
	info model.PeerInfo
	conn net.Conn
}

// NewServer constructs a registry bound to the given protocol version.
func NewServer(log logging.Logger, protocolVersion uint16) *Server {
	return &Server{
		log:             log,
		protocolVersion: protocolVersion,
		peers:           make(map[string]*registeredPeer),
	}
}

// Serve accepts connections from ln until it is closed or returns an
// error. Each accepted connection is handled on its own goroutine.
func (s *Server) Serve(ln net.Listener) error {
	for {
		conn, err := ln.Accept()
		if err != nil {
			return err
		}
		go s.handleConn(conn)
	}
}

// Close disconnects every registered participant.
func (s *Server) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range s.peers {
		p.conn.Close()
	}
	s.peers = make(map[string]*registeredPeer)
}

func (s *Server) handleConn(conn net.Conn) {
	env, err := wire.ReadEnvelope(conn)
	if err != nil {
		s.log.Warnf("registry: failed reading announcement: %v", err)
		conn.Close()
		return
	}
	if env.Tag != wire.TagParticipantAnnouncement {
		s.log.Warnf("registry: expected ParticipantAnnouncement, got %s", env.Tag)
		conn.Close()
		return
	}
	ann, err := decodeAnnouncement(env.Body)
	if err != nil {
		s.log.Warnf("registry: malformed announcement: %v", err)
		conn.Close()
		return
	}
	if ann.ProtocolVersion != s.protocolVersion {
		s.log.Warnf("registry: rejecting %s: protocol version %d != %d", ann.Name, ann.ProtocolVersion, s.protocolVersion)
		conn.Close()
		return
	}

	s.mu.Lock()
	if _, exists := s.peers[ann.Name]; exists {
		s.mu.Unlock()
		_ = wire.WriteEnvelope(conn, wire.Envelope{Tag: wire.TagNameInUse, Body: []byte(ann.Name)})
		conn.Close()
		return
	}

	roster := KnownParticipants{}
	forwardTo := make([]net.Conn, 0, len(s.peers))
	for _, p := range s.peers {
		roster.Participants = append(roster.Participants, p.info)
		forwardTo = append(forwardTo, p.conn)
	}
	info := model.PeerInfo{ParticipantName: ann.Name, Endpoints: ann.ListenEndpoints}
	s.peers[ann.Name] = &registeredPeer{info: info, conn: conn}
	s.mu.Unlock()

	if err := wire.WriteEnvelope(conn, wire.Envelope{Tag: wire.TagKnownParticipants, Body: encodeKnownParticipants(roster)}); err != nil {
		s.log.Warnf("registry: failed sending roster to %s: %v", ann.Name, err)
		s.removePeer(ann.Name)
		conn.Close()
		return
	}

	// Forward the newcomer's announcement to every already-connected
	// participant so each opens a direct connection to it.
	forwardBody := encodeAnnouncement(ann)
	for _, c := range forwardTo {
		if err := wire.WriteEnvelope(c, wire.Envelope{Tag: wire.TagParticipantAnnouncement, Body: forwardBody}); err != nil {
			s.log.Warnf("registry: failed forwarding %s's announcement: %v", ann.Name, err)
		}
	}

	// Keep reading from this connection so we notice when the
	// participant leaves; the registry itself needs nothing further
	// from it once joined.
	for {
		if _, err := wire.ReadEnvelope(conn); err != nil {
			s.removePeer(ann.Name)
			conn.Close()
			return
		}
	}
}

func (s *Server) removePeer(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.peers, name)
}
