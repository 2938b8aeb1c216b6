package registry

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"

	"github.com/vectorgrp/sil-kit-sub003/internal/ids"
	"github.com/vectorgrp/sil-kit-sub003/internal/logging"
)

var errDialRefused = errors.New("dial refused")

func startRegistry(t *testing.T) (addr string, stop func()) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	srv := NewServer(logging.Discard(), 4)
	go srv.Serve(ln)
	return ln.Addr().String(), func() {
		srv.Close()
		ln.Close()
	}
}

func TestJoin_SingleParticipant(t *testing.T) {
	addr, stop := startRegistry(t)
	defer stop()

	conn, err := net.Dial("tcp", addr)
	require.NoError(t, err)
	defer conn.Close()

	roster, err := Join(conn, ParticipantAnnouncement{
		Name:            "ECU1",
		ID:              ids.HashParticipantName("ECU1"),
		ListenEndpoints: []string{"127.0.0.1:9001"},
		ProtocolVersion: 4,
	})
	require.NoError(t, err)
	require.Empty(t, roster.Participants)
}

func TestJoin_NameInUse(t *testing.T) {
	addr, stop := startRegistry(t)
	defer stop()

	conn1, err := net.Dial("tcp", addr)
	require.NoError(t, err)
	defer conn1.Close()
	_, err = Join(conn1, ParticipantAnnouncement{Name: "dup", ProtocolVersion: 4})
	require.NoError(t, err)

	conn2, err := net.Dial("tcp", addr)
	require.NoError(t, err)
	defer conn2.Close()
	_, err = Join(conn2, ParticipantAnnouncement{Name: "dup", ProtocolVersion: 4})
	require.Error(t, err)
	var cfgErr *ConfigurationError
	require.ErrorAs(t, err, &cfgErr)
}

func TestJoin_ProtocolVersionMismatchRejected(t *testing.T) {
	addr, stop := startRegistry(t)
	defer stop()

	conn, err := net.Dial("tcp", addr)
	require.NoError(t, err)
	defer conn.Close()

	_, err = Join(conn, ParticipantAnnouncement{Name: "x", ProtocolVersion: 99})
	require.Error(t, err)
}

// A second participant's roster lists the first, and the registry
// forwards the newcomer's announcement to the first participant.
func TestJoin_RosterGrowsAndForwards(t *testing.T) {
	addr, stop := startRegistry(t)
	defer stop()

	conn1, err := net.Dial("tcp", addr)
	require.NoError(t, err)
	defer conn1.Close()
	_, err = Join(conn1, ParticipantAnnouncement{Name: "A", ProtocolVersion: 4, ListenEndpoints: []string{"127.0.0.1:1"}})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	newcomer := make(chan ParticipantAnnouncement, 1)
	go WatchNewcomers(ctx, conn1, func(a ParticipantAnnouncement) { newcomer <- a })

	conn2, err := net.Dial("tcp", addr)
	require.NoError(t, err)
	defer conn2.Close()
	roster, err := Join(conn2, ParticipantAnnouncement{Name: "B", ProtocolVersion: 4, ListenEndpoints: []string{"127.0.0.1:2"}})
	require.NoError(t, err)
	require.Len(t, roster.Participants, 1)
	require.Equal(t, "A", roster.Participants[0].ParticipantName)

	select {
	case a := <-newcomer:
		require.Equal(t, "B", a.Name)
	case <-time.After(2 * time.Second):
		t.Fatal("A never observed B's forwarded announcement")
	}
}

func TestDialMesh_PeerToPeerHandshake(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	accepted := make(chan ParticipantAnnouncement, 1)
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		ann, err := AcceptAnnouncement(conn, "B", uint64(ids.HashParticipantName("B")), 4)
		if err == nil {
			accepted <- ann
		}
	}()

	dialer := func(ctx context.Context, endpoint string) (net.Conn, error) {
		return net.Dial("tcp", endpoint)
	}

	conns, err := DialMesh(context.Background(),
		ParticipantAnnouncement{Name: "A", ProtocolVersion: 4},
		[]PeerEndpointSet{{Name: "B", Endpoints: []string{ln.Addr().String()}}},
		dialer,
	)
	require.NoError(t, err)
	require.Contains(t, conns, "B")
	conns["B"].Close()

	select {
	case a := <-accepted:
		require.Equal(t, "A", a.Name)
	case <-time.After(2 * time.Second):
		t.Fatal("B never observed A's announcement")
	}
}

func TestDialMesh_PartialFailureAggregated(t *testing.T) {
	dialer := func(ctx context.Context, endpoint string) (net.Conn, error) {
		return nil, errDialRefused
	}
	_, err := DialMesh(context.Background(),
		ParticipantAnnouncement{Name: "A", ProtocolVersion: 4},
		[]PeerEndpointSet{{Name: "B", Endpoints: []string{"127.0.0.1:1"}}, {Name: "C", Endpoints: []string{"127.0.0.1:2"}}},
		dialer,
	)
	require.Error(t, err)
}
