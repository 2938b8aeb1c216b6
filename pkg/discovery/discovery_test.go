package discovery

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/vectorgrp/sil-kit-sub003/internal/logging"
	"github.com/vectorgrp/sil-kit-sub003/pkg/model"
)

func descriptor(participant, network string, serviceID uint64, ct model.ControllerType) model.ServiceDescriptor {
	d := model.ServiceDescriptor{
		ParticipantName: participant,
		ServiceName:     "svc",
		ServiceType:     model.ServiceController,
		NetworkName:     network,
		NetworkType:     model.NetworkCAN,
		ServiceID:       serviceID,
	}
	if ct != model.ControllerUndefined {
		name := ""
		for k, v := range map[string]model.ControllerType{"can": model.ControllerCan, "timeSync": model.ControllerTimeSync} {
			if v == ct {
				name = k
			}
		}
		d.Supplemental = map[string]string{model.SupplementalKeyControllerType: name}
	}
	return d
}

func TestRegisterServiceDiscoveryHandler_ReceivesCreateAndRemove(t *testing.T) {
	c := New(logging.Discard())
	var events []Event
	c.RegisterServiceDiscoveryHandler(func(e Event) { events = append(events, e) })

	d := descriptor("ECU1", "CAN1", 1, model.ControllerUndefined)
	c.ServiceCreatedLocal(d)
	c.ServiceRemovedLocal(d)

	require.Len(t, events, 2)
	require.Equal(t, ServiceCreated, events[0].Kind)
	require.Equal(t, ServiceRemoved, events[1].Kind)
}

func TestSpecificHandler_FiltersByControllerTypeAndNetwork(t *testing.T) {
	c := New(logging.Discard())
	var matched []Event
	c.RegisterSpecificServiceDiscoveryHandler(func(e Event) { matched = append(matched, e) }, model.ControllerCan, "CAN1")

	c.ServiceCreatedLocal(descriptor("ECU1", "CAN1", 1, model.ControllerCan))
	c.ServiceCreatedLocal(descriptor("ECU1", "CAN2", 2, model.ControllerCan))
	c.ServiceCreatedLocal(descriptor("ECU1", "CAN1", 3, model.ControllerTimeSync))

	require.Len(t, matched, 1)
	require.Equal(t, uint64(1), matched[0].Descriptor.ServiceID)
}

func TestSpecificHandler_BackfillsAlreadyKnownMatches(t *testing.T) {
	c := New(logging.Discard())
	c.ServiceCreatedLocal(descriptor("ECU1", "CAN1", 1, model.ControllerCan))
	c.ServiceCreatedLocal(descriptor("ECU2", "CAN1", 2, model.ControllerCan))

	var backfilled []Event
	c.RegisterSpecificServiceDiscoveryHandler(func(e Event) { backfilled = append(backfilled, e) }, model.ControllerCan, "")

	require.Len(t, backfilled, 2)
	for _, e := range backfilled {
		require.Equal(t, ServiceCreated, e.Kind)
	}
}

func TestRemovePeer_SynthesizesRemovedForEachDescriptor(t *testing.T) {
	c := New(logging.Discard())
	var events []Event
	c.RegisterServiceDiscoveryHandler(func(e Event) { events = append(events, e) })

	c.ServiceCreatedLocal(descriptor("ECU1", "CAN1", 1, model.ControllerUndefined))
	c.ApplyRemoteEvent(Event{Kind: ServiceCreated, Descriptor: descriptor("ECU2", "CAN1", 2, model.ControllerUndefined)})
	events = nil

	c.RemovePeer("ECU2")
	require.Len(t, events, 1)
	require.Equal(t, ServiceRemoved, events[0].Kind)
	require.Equal(t, "ECU2", events[0].Descriptor.ParticipantName)

	require.Empty(t, c.Descriptors("ECU2"))
}

func TestDescriptors_ReturnsOnlyNamedParticipant(t *testing.T) {
	c := New(logging.Discard())
	c.ServiceCreatedLocal(descriptor("ECU1", "CAN1", 1, model.ControllerUndefined))
	c.ServiceCreatedLocal(descriptor("ECU1", "CAN1", 2, model.ControllerUndefined))
	c.ApplyRemoteEvent(Event{Kind: ServiceCreated, Descriptor: descriptor("ECU2", "CAN1", 3, model.ControllerUndefined)})

	require.Len(t, c.Descriptors("ECU1"), 2)
	require.Len(t, c.Descriptors("ECU2"), 1)
}

func TestEventWireRoundTrip(t *testing.T) {
	d := descriptor("ECU1", "CAN1", 1, model.ControllerCan)
	body := EncodeEvent(Event{Kind: ServiceCreated, Descriptor: d})

	got, err := DecodeEvent(body)
	require.NoError(t, err)
	require.Equal(t, ServiceCreated, got.Kind)
	require.True(t, d.Equal(got.Descriptor))
	require.Equal(t, d.Supplemental, got.Descriptor.Supplemental)
}

func TestParticipantDiscoveryEventWireRoundTrip(t *testing.T) {
	descs := []model.ServiceDescriptor{
		descriptor("ECU1", "CAN1", 1, model.ControllerCan),
		descriptor("ECU1", "CAN2", 2, model.ControllerUndefined),
	}
	body := EncodeParticipantDiscoveryEvent(descs)

	got, err := DecodeParticipantDiscoveryEvent(body)
	require.NoError(t, err)
	require.Len(t, got, 2)
	require.True(t, descs[0].Equal(got[0]))
	require.True(t, descs[1].Equal(got[1]))
}
