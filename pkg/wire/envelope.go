package wire

import (
	"encoding/binary"
	"io"

	"github.com/pkg/errors"
)

// Tag identifies the message family at the front of an envelope body.
type Tag uint8

const (
	TagParticipantAnnouncement Tag = iota + 1
	TagReplyToParticipantAnnouncement
	TagKnownParticipants
	TagServiceDiscoveryEvent
	TagSubscriptionAnnouncement
	TagPeerMessage
	TagShutdownNotification

	// TagNameInUse is the registry's rejection reply when a joining
	// participant's name is already taken.
	TagNameInUse

	// TagSystemCommand, TagParticipantCommand and TagWorkflowConfiguration
	// carry the system controller's broadcast/unicast traffic.
	TagSystemCommand
	TagParticipantCommand
	TagWorkflowConfiguration

	// TagNextSimTask carries the distributed time-quantum protocol's
	// tentative-time announcements.
	TagNextSimTask

	// TagParticipantStatus carries published lifecycle status reports
	// that feed the system monitor's reducer. Like
	// TagServiceDiscoveryEvent it travels as its own top-level tag
	// rather than through the router's peer-message subscription plane,
	// since every peer's monitor always wants every status report
	// regardless of subscriptions.
	TagParticipantStatus

	// TagParticipantDiscoveryEvent carries the full descriptor set a
	// newly-joined participant announces to every peer on join.
	TagParticipantDiscoveryEvent
)

func (t Tag) String() string {
	switch t {
	case TagParticipantAnnouncement:
		return "ParticipantAnnouncement"
	case TagReplyToParticipantAnnouncement:
		return "ReplyToParticipantAnnouncement"
	case TagKnownParticipants:
		return "KnownParticipants"
	case TagServiceDiscoveryEvent:
		return "ServiceDiscoveryEvent"
	case TagSubscriptionAnnouncement:
		return "SubscriptionAnnouncement"
	case TagPeerMessage:
		return "PeerMessage"
	case TagShutdownNotification:
		return "ShutdownNotification"
	case TagNameInUse:
		return "NameInUse"
	case TagSystemCommand:
		return "SystemCommand"
	case TagParticipantCommand:
		return "ParticipantCommand"
	case TagWorkflowConfiguration:
		return "WorkflowConfiguration"
	case TagNextSimTask:
		return "NextSimTask"
	case TagParticipantStatus:
		return "ParticipantStatus"
	case TagParticipantDiscoveryEvent:
		return "ParticipantDiscoveryEvent"
	default:
		return "Unknown"
	}
}

// ProtocolVersion is the wire-protocol major version this module
// speaks; decoding a different version fails with a ProtocolError.
const ProtocolVersion uint16 = 4

// Envelope is the on-wire unit: 4-byte LE length prefix followed by a
// tagged body.
type Envelope struct {
	Tag  Tag
	Body []byte
}

// MaxEnvelopeSize bounds a single envelope's body to guard against a
// corrupt or hostile length prefix allocating unbounded memory.
const MaxEnvelopeSize = 64 << 20 // 64 MiB

// WriteEnvelope serializes e to w as length_le || tag || body.
func WriteEnvelope(w io.Writer, e Envelope) error {
	body := make([]byte, 1+len(e.Body))
	body[0] = byte(e.Tag)
	copy(body[1:], e.Body)

	var lenBuf [4]byte
	binary.LittleEndian.PutUint32(lenBuf[:], uint32(len(body)))
	if _, err := w.Write(lenBuf[:]); err != nil {
		return errors.Wrap(err, "wire: write envelope length")
	}
	if _, err := w.Write(body); err != nil {
		return errors.Wrap(err, "wire: write envelope body")
	}
	return nil
}

// ReadEnvelope reads one envelope from r, blocking until the full
// length-prefixed frame has arrived. A frame holding only the tag
// yields a nil Body.
func ReadEnvelope(r io.Reader) (Envelope, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return Envelope{}, err
	}
	n := binary.LittleEndian.Uint32(lenBuf[:])
	if n == 0 {
		return Envelope{}, errors.New("wire: empty envelope")
	}
	if n > MaxEnvelopeSize {
		return Envelope{}, errors.Errorf("wire: envelope of %d bytes exceeds limit", n)
	}
	body := make([]byte, n)
	if _, err := io.ReadFull(r, body); err != nil {
		return Envelope{}, errors.Wrap(err, "wire: read envelope body")
	}
	env := Envelope{Tag: Tag(body[0])}
	if n > 1 {
		env.Body = body[1:]
	}
	return env, nil
}

// PeerMessageHeader is the fixed prefix of a TagPeerMessage body:
// destination (network name, endpoint id), source service descriptor
// key, then a message-kind tag, before the opaque payload.
type PeerMessageHeader struct {
	NetworkName       string
	EndpointID        uint64
	SourceParticipant string
	SourceNetwork     string
	SourceServiceID   uint64
	MessageKind       uint16
}

// EncodePeerMessage serializes a PeerMessageHeader followed by the raw
// payload bytes.
func EncodePeerMessage(h PeerMessageHeader, payload []byte) []byte {
	e := NewEncoder()
	e.WriteString(h.NetworkName)
	e.WriteUint64(h.EndpointID)
	e.WriteString(h.SourceParticipant)
	e.WriteString(h.SourceNetwork)
	e.WriteUint64(h.SourceServiceID)
	e.WriteUint16(h.MessageKind)
	e.Align()
	e.WriteBytes(payload)
	return e.Bytes()
}

// DecodePeerMessage is the inverse of EncodePeerMessage.
func DecodePeerMessage(body []byte) (PeerMessageHeader, []byte, error) {
	d := NewDecoder(body)
	var h PeerMessageHeader
	var err error
	if h.NetworkName, err = d.ReadString(); err != nil {
		return h, nil, err
	}
	if h.EndpointID, err = d.ReadUint64(); err != nil {
		return h, nil, err
	}
	if h.SourceParticipant, err = d.ReadString(); err != nil {
		return h, nil, err
	}
	if h.SourceNetwork, err = d.ReadString(); err != nil {
		return h, nil, err
	}
	if h.SourceServiceID, err = d.ReadUint64(); err != nil {
		return h, nil, err
	}
	if h.MessageKind, err = d.ReadUint16(); err != nil {
		return h, nil, err
	}
	payload, err := d.ReadBytes()
	if err != nil {
		return h, nil, err
	}
	return h, payload, nil
}

// VersionHeader is a standalone 2-byte version tag. EncodePeerMessage
// does not write one; a caller that wants it prefixes it itself.
type VersionHeader struct {
	Version uint16
}

// EncodeVersionHeader writes just the version tag.
func EncodeVersionHeader(v uint16) []byte {
	e := NewEncoder()
	e.WriteUint16(v)
	return e.Bytes()
}

// DecodeVersionHeader reads a version tag and validates it against
// ProtocolVersion, returning a ProtocolError on mismatch.
func DecodeVersionHeader(body []byte) (VersionHeader, []byte, error) {
	d := NewDecoder(body)
	v, err := d.ReadUint16()
	if err != nil {
		return VersionHeader{}, nil, err
	}
	if v != ProtocolVersion {
		return VersionHeader{}, nil, NewProtocolError(v, ProtocolVersion)
	}
	return VersionHeader{Version: v}, body[2:], nil
}

// MethodCallMessageType distinguishes request/response framing for
// RPC-style method calls.
type MethodCallMessageType uint8

const (
	MethodCallRequest MethodCallMessageType = iota
	MethodCallRequestNoReturn
	MethodCallResponse
)

// MethodCallReturnCode is the 1-byte return code following the
// message type in a method-call header.
type MethodCallReturnCode uint8

const (
	ReturnCodeNoError MethodCallReturnCode = iota
	ReturnCodeNoCallbackRegistered
)

// MethodCallHeader is {version, requestId, msgType, returnCode}.
type MethodCallHeader struct {
	Version    uint16
	RequestID  int64
	Type       MethodCallMessageType
	ReturnCode MethodCallReturnCode
}

// EncodeMethodCallHeader serializes a MethodCallHeader.
func EncodeMethodCallHeader(h MethodCallHeader) []byte {
	e := NewEncoder()
	e.WriteUint16(h.Version)
	e.WriteInt64(h.RequestID)
	e.WriteUint8(uint8(h.Type))
	e.WriteUint8(uint8(h.ReturnCode))
	return e.Bytes()
}

// DecodeMethodCallHeader is the inverse of EncodeMethodCallHeader. It
// validates the version field and returns ProtocolError on mismatch.
func DecodeMethodCallHeader(body []byte) (MethodCallHeader, []byte, error) {
	d := NewDecoder(body)
	var h MethodCallHeader
	v, err := d.ReadUint16()
	if err != nil {
		return h, nil, err
	}
	if v != ProtocolVersion {
		return h, nil, NewProtocolError(v, ProtocolVersion)
	}
	h.Version = v
	if h.RequestID, err = d.ReadInt64(); err != nil {
		return h, nil, err
	}
	t, err := d.ReadUint8()
	if err != nil {
		return h, nil, err
	}
	h.Type = MethodCallMessageType(t)
	rc, err := d.ReadUint8()
	if err != nil {
		return h, nil, err
	}
	h.ReturnCode = MethodCallReturnCode(rc)
	return h, body[12:], nil
}
