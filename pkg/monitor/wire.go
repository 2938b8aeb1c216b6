package monitor

import (
	"time"

	"github.com/vectorgrp/sil-kit-sub003/pkg/model"
	"github.com/vectorgrp/sil-kit-sub003/pkg/wire"
)

// EncodeStatus serializes a ParticipantStatus for the
// TagParticipantStatus envelope body.
func EncodeStatus(s model.ParticipantStatus) []byte {
	e := wire.NewEncoder()
	e.WriteString(s.ParticipantName)
	e.WriteUint8(uint8(s.State))
	e.WriteString(s.EnterReason)
	e.WriteInt64(s.EnterTime.UnixNano())
	e.WriteInt64(s.RefreshTime.UnixNano())
	return e.Bytes()
}

// DecodeStatus is the inverse of EncodeStatus.
func DecodeStatus(body []byte) (model.ParticipantStatus, error) {
	d := wire.NewDecoder(body)
	var s model.ParticipantStatus
	var err error
	if s.ParticipantName, err = d.ReadString(); err != nil {
		return s, err
	}
	state, err := d.ReadUint8()
	if err != nil {
		return s, err
	}
	s.State = model.ParticipantState(state)
	if s.EnterReason, err = d.ReadString(); err != nil {
		return s, err
	}
	enter, err := d.ReadInt64()
	if err != nil {
		return s, err
	}
	s.EnterTime = time.Unix(0, enter).UTC()
	refresh, err := d.ReadInt64()
	if err != nil {
		return s, err
	}
	s.RefreshTime = time.Unix(0, refresh).UTC()
	return s, nil
}
