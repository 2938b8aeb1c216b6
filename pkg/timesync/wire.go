package timesync

import (
	"time"

	"github.com/vectorgrp/sil-kit-sub003/pkg/wire"
)

// EncodeNextSimTask serializes a NextSimTask{t, d} announcement.
func EncodeNextSimTask(t, d time.Duration) []byte {
	e := wire.NewEncoder()
	e.WriteInt64(int64(t))
	e.WriteInt64(int64(d))
	return e.Bytes()
}

// DecodeNextSimTask is the inverse of EncodeNextSimTask.
func DecodeNextSimTask(body []byte) (t, d time.Duration, err error) {
	dec := wire.NewDecoder(body)
	tv, err := dec.ReadInt64()
	if err != nil {
		return 0, 0, err
	}
	dv, err := dec.ReadInt64()
	if err != nil {
		return 0, 0, err
	}
	return time.Duration(tv), time.Duration(dv), nil
}
