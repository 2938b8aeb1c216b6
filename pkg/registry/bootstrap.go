package registry

import (
	"context"
	"net"

	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"

	"github.com/vectorgrp/sil-kit-sub003/internal/ids"
	"github.com/vectorgrp/sil-kit-sub003/pkg/wire"
)

// Join sends a ParticipantAnnouncement over conn (already dialed to
// the registry) and waits for the reply. NameInUse surfaces as a
// ConfigurationError; anything else on the wire that doesn't decode as
// KnownParticipants is a protocol error.
func Join(conn net.Conn, self ParticipantAnnouncement) (KnownParticipants, error) {
	if err := wire.WriteEnvelope(conn, wire.Envelope{
		Tag:  wire.TagParticipantAnnouncement,
		Body: encodeAnnouncement(self),
	}); err != nil {
		return KnownParticipants{}, errors.Wrap(err, "registry: send announcement")
	}

	env, err := wire.ReadEnvelope(conn)
	if err != nil {
		return KnownParticipants{}, errors.Wrap(err, "registry: read reply")
	}

	switch env.Tag {
	case wire.TagNameInUse:
		return KnownParticipants{}, newConfigurationError(ErrNameInUse)
	case wire.TagKnownParticipants:
		roster, err := decodeKnownParticipants(env.Body)
		if err != nil {
			return KnownParticipants{}, errors.Wrap(err, "registry: decode roster")
		}
		return roster, nil
	default:
		return KnownParticipants{}, errors.Wrapf(ErrUnexpectedMessage, "got %s", env.Tag)
	}
}

// WatchNewcomers blocks reading forwarded ParticipantAnnouncements off
// conn until ctx is cancelled or the connection fails, invoking
// onNewcomer for each one.
func WatchNewcomers(ctx context.Context, conn net.Conn, onNewcomer func(ParticipantAnnouncement)) error {
	type result struct {
		env wire.Envelope
		err error
	}
	next := make(chan result, 1)
	go func() {
		for {
			env, err := wire.ReadEnvelope(conn)
			next <- result{env, err}
			if err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case r := <-next:
			if r.err != nil {
				return r.err
			}
			if r.env.Tag != wire.TagParticipantAnnouncement {
				continue
			}
			ann, err := decodeAnnouncement(r.env.Body)
			if err != nil {
				continue
			}
			onNewcomer(ann)
		}
	}
}

// Dialer opens a connection to a peer-announced endpoint.
type Dialer func(ctx context.Context, endpoint string) (net.Conn, error)

// DialMesh opens a direct connection to every participant in roster,
// sends the same announcement, and awaits
// ReplyToParticipantAnnouncement from each. Partial failures are
// aggregated rather than aborting the whole mesh join on the first bad
// peer.
func DialMesh(ctx context.Context, self ParticipantAnnouncement, roster []PeerEndpointSet, dial Dialer) (map[string]net.Conn, error) {
	conns := make(map[string]net.Conn, len(roster))
	var errs *multierror.Error

	for _, peer := range roster {
		conn, err := dialAndAnnounce(ctx, self, peer, dial)
		if err != nil {
			errs = multierror.Append(errs, errors.Wrapf(err, "dial %s", peer.Name))
			continue
		}
		conns[peer.Name] = conn
	}
	return conns, errs.ErrorOrNil()
}

// PeerEndpointSet is the minimal per-peer dial target DialMesh needs;
// registry.KnownParticipants' model.PeerInfo entries are adapted into
// this shape by the caller, which also chooses the order in which
// endpoints are tried.
type PeerEndpointSet struct {
	Name      string
	Endpoints []string
}

func dialAndAnnounce(ctx context.Context, self ParticipantAnnouncement, peer PeerEndpointSet, dial Dialer) (net.Conn, error) {
	var lastErr error
	for _, ep := range peer.Endpoints {
		conn, err := dial(ctx, ep)
		if err != nil {
			lastErr = err
			continue
		}
		if err := wire.WriteEnvelope(conn, wire.Envelope{
			Tag:  wire.TagParticipantAnnouncement,
			Body: encodeAnnouncement(self),
		}); err != nil {
			conn.Close()
			lastErr = err
			continue
		}
		env, err := wire.ReadEnvelope(conn)
		if err != nil {
			conn.Close()
			lastErr = err
			continue
		}
		if env.Tag != wire.TagReplyToParticipantAnnouncement {
			conn.Close()
			lastErr = ErrUnexpectedMessage
			continue
		}
		if _, err := decodeReply(env.Body); err != nil {
			conn.Close()
			lastErr = err
			continue
		}
		return conn, nil
	}
	if lastErr == nil {
		lastErr = errors.Errorf("no endpoints for %s", peer.Name)
	}
	return nil, lastErr
}

// AcceptAnnouncement is the inbound-dial counterpart of DialMesh's
// announce step: a participant that is dialed by a new peer reads its
// ParticipantAnnouncement and replies with
// ReplyToParticipantAnnouncement.
func AcceptAnnouncement(conn net.Conn, selfName string, selfID uint64, protocolVersion uint16) (ParticipantAnnouncement, error) {
	env, err := wire.ReadEnvelope(conn)
	if err != nil {
		return ParticipantAnnouncement{}, err
	}
	if env.Tag != wire.TagParticipantAnnouncement {
		return ParticipantAnnouncement{}, ErrUnexpectedMessage
	}
	ann, err := decodeAnnouncement(env.Body)
	if err != nil {
		return ParticipantAnnouncement{}, err
	}
	if ann.ProtocolVersion != protocolVersion {
		conn.Close()
		return ParticipantAnnouncement{}, wire.NewProtocolError(ann.ProtocolVersion, protocolVersion)
	}
	reply := ReplyToParticipantAnnouncement{Name: selfName, ID: ids.ParticipantID(selfID)}
	if err := wire.WriteEnvelope(conn, wire.Envelope{Tag: wire.TagReplyToParticipantAnnouncement, Body: encodeReply(reply)}); err != nil {
		return ann, err
	}
	return ann, nil
}
