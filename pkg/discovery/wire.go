package discovery

import (
	"github.com/vectorgrp/sil-kit-sub003/pkg/model"
	"github.com/vectorgrp/sil-kit-sub003/pkg/wire"
)

// EncodeEvent serializes a single ServiceDiscoveryEvent for the
// TagServiceDiscoveryEvent envelope body.
func EncodeEvent(e Event) []byte {
	enc := wire.NewEncoder()
	enc.WriteUint8(uint8(e.Kind))
	writeDescriptor(enc, e.Descriptor)
	return enc.Bytes()
}

// DecodeEvent is the inverse of EncodeEvent.
func DecodeEvent(body []byte) (Event, error) {
	d := wire.NewDecoder(body)
	kind, err := d.ReadUint8()
	if err != nil {
		return Event{}, err
	}
	desc, err := readDescriptor(d)
	if err != nil {
		return Event{}, err
	}
	return Event{Kind: EventKind(kind), Descriptor: desc}, nil
}

// EncodeParticipantDiscoveryEvent serializes every descriptor a
// newly-joined participant owns, sent once to each peer on join.
func EncodeParticipantDiscoveryEvent(descriptors []model.ServiceDescriptor) []byte {
	enc := wire.NewEncoder()
	enc.WriteArrayLen(len(descriptors))
	for _, d := range descriptors {
		enc.Align()
		writeDescriptor(enc, d)
	}
	return enc.Bytes()
}

// DecodeParticipantDiscoveryEvent is the inverse of
// EncodeParticipantDiscoveryEvent.
func DecodeParticipantDiscoveryEvent(body []byte) ([]model.ServiceDescriptor, error) {
	d := wire.NewDecoder(body)
	n, err := d.ReadArrayLen()
	if err != nil {
		return nil, err
	}
	out := make([]model.ServiceDescriptor, 0, n)
	for i := 0; i < n; i++ {
		d.Align()
		desc, err := readDescriptor(d)
		if err != nil {
			return nil, err
		}
		out = append(out, desc)
	}
	return out, nil
}

func writeDescriptor(enc *wire.Encoder, d model.ServiceDescriptor) {
	enc.WriteString(d.ParticipantName)
	enc.WriteString(d.ServiceName)
	enc.WriteUint8(uint8(d.ServiceType))
	enc.WriteString(d.NetworkName)
	enc.WriteUint8(uint8(d.NetworkType))
	enc.WriteUint64(d.ServiceID)
	enc.WriteArrayLen(len(d.Supplemental))
	for k, v := range d.Supplemental {
		enc.WriteString(k)
		enc.WriteString(v)
		enc.Align()
	}
}

func readDescriptor(d *wire.Decoder) (model.ServiceDescriptor, error) {
	var desc model.ServiceDescriptor
	var err error
	if desc.ParticipantName, err = d.ReadString(); err != nil {
		return desc, err
	}
	if desc.ServiceName, err = d.ReadString(); err != nil {
		return desc, err
	}
	st, err := d.ReadUint8()
	if err != nil {
		return desc, err
	}
	desc.ServiceType = model.ServiceType(st)
	if desc.NetworkName, err = d.ReadString(); err != nil {
		return desc, err
	}
	nt, err := d.ReadUint8()
	if err != nil {
		return desc, err
	}
	desc.NetworkType = model.NetworkType(nt)
	if desc.ServiceID, err = d.ReadUint64(); err != nil {
		return desc, err
	}
	n, err := d.ReadArrayLen()
	if err != nil {
		return desc, err
	}
	if n > 0 {
		desc.Supplemental = make(map[string]string, n)
	}
	for i := 0; i < n; i++ {
		k, err := d.ReadString()
		if err != nil {
			return desc, err
		}
		v, err := d.ReadString()
		if err != nil {
			return desc, err
		}
		d.Align()
		desc.Supplemental[k] = v
	}
	return desc, nil
}
