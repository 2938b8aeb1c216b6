package systemctrl

import "github.com/vectorgrp/sil-kit-sub003/pkg/wire"

// SystemCommandKind enumerates the broadcast commands a system
// controller issues.
type SystemCommandKind uint8

const (
	SystemCommandRun SystemCommandKind = iota
	SystemCommandStop
	SystemCommandAbortSimulation
)

// ParticipantCommandKind enumerates the unicast commands a system
// controller issues to one named participant.
type ParticipantCommandKind uint8

const (
	ParticipantCommandShutdown ParticipantCommandKind = iota
)

// EncodeSystemCommand serializes a SystemCommand body.
func EncodeSystemCommand(kind SystemCommandKind) []byte {
	e := wire.NewEncoder()
	e.WriteUint8(uint8(kind))
	return e.Bytes()
}

// DecodeSystemCommand is the inverse of EncodeSystemCommand.
func DecodeSystemCommand(body []byte) (SystemCommandKind, error) {
	d := wire.NewDecoder(body)
	k, err := d.ReadUint8()
	if err != nil {
		return 0, err
	}
	return SystemCommandKind(k), nil
}

// EncodeParticipantCommand serializes a ParticipantCommand body
// addressed to participantName.
func EncodeParticipantCommand(kind ParticipantCommandKind, participantName string) []byte {
	e := wire.NewEncoder()
	e.WriteUint8(uint8(kind))
	e.WriteString(participantName)
	return e.Bytes()
}

// DecodeParticipantCommand is the inverse of EncodeParticipantCommand.
func DecodeParticipantCommand(body []byte) (ParticipantCommandKind, string, error) {
	d := wire.NewDecoder(body)
	k, err := d.ReadUint8()
	if err != nil {
		return 0, "", err
	}
	name, err := d.ReadString()
	if err != nil {
		return 0, "", err
	}
	return ParticipantCommandKind(k), name, nil
}

// EncodeWorkflowConfiguration serializes the required-participants set.
func EncodeWorkflowConfiguration(requiredParticipantNames []string) []byte {
	e := wire.NewEncoder()
	e.WriteArrayLen(len(requiredParticipantNames))
	for _, name := range requiredParticipantNames {
		e.WriteString(name)
		e.Align()
	}
	return e.Bytes()
}

// DecodeWorkflowConfiguration is the inverse of
// EncodeWorkflowConfiguration.
func DecodeWorkflowConfiguration(body []byte) ([]string, error) {
	d := wire.NewDecoder(body)
	n, err := d.ReadArrayLen()
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, n)
	for i := 0; i < n; i++ {
		name, err := d.ReadString()
		if err != nil {
			return nil, err
		}
		d.Align()
		out = append(out, name)
	}
	return out, nil
}
