package wire

import (
	"bytes"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// deserialize(serialize(v)) == v for any value of a supported
// primitive type.
func TestCodec_AlignedRoundTrip(t *testing.T) {
	e := NewEncoder()
	e.WriteUint8(0xAB)
	e.WriteUint16(0x1234)
	e.WriteUint32(0xDEADBEEF)
	e.WriteUint64(0x0123456789ABCDEF)
	e.WriteInt32(-42)
	e.WriteBool(true)
	e.WriteFloat32(3.5)
	e.WriteFloat64(math.Pi)
	e.WriteString("hello, silkit")
	e.WriteBytes([]byte{1, 2, 3, 4})

	d := NewDecoder(e.Bytes())

	u8, err := d.ReadUint8()
	require.NoError(t, err)
	assert.Equal(t, uint8(0xAB), u8)

	u16, err := d.ReadUint16()
	require.NoError(t, err)
	assert.Equal(t, uint16(0x1234), u16)

	u32, err := d.ReadUint32()
	require.NoError(t, err)
	assert.Equal(t, uint32(0xDEADBEEF), u32)

	u64, err := d.ReadUint64()
	require.NoError(t, err)
	assert.Equal(t, uint64(0x0123456789ABCDEF), u64)

	i32, err := d.ReadInt32()
	require.NoError(t, err)
	assert.Equal(t, int32(-42), i32)

	b, err := d.ReadBool()
	require.NoError(t, err)
	assert.True(t, b)

	f32, err := d.ReadFloat32()
	require.NoError(t, err)
	assert.Equal(t, float32(3.5), f32)

	f64, err := d.ReadFloat64()
	require.NoError(t, err)
	assert.Equal(t, math.Pi, f64)

	s, err := d.ReadString()
	require.NoError(t, err)
	assert.Equal(t, "hello, silkit", s)

	bs, err := d.ReadBytes()
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 2, 3, 4}, bs)

	assert.Equal(t, 0, d.Remaining())
}

// A sequence of mixed-width unaligned integers, decoded in the same
// order, reproduces the original values.
func TestCodec_UnalignedRoundTrip(t *testing.T) {
	widths := []uint{1, 3, 7, 9, 16, 31, 64}
	values := []uint64{1, 5, 100, 300, 0xBEEF, 0x7FFFFFFE, 0xFFFFFFFFFFFFFFFF}

	e := NewEncoder()
	for i, w := range widths {
		mask := uint64(1)<<w - 1
		if w == 64 {
			mask = ^uint64(0)
		}
		e.WriteUnalignedUint(values[i]&mask, w)
	}
	e.Align()

	d := NewDecoder(e.Bytes())
	for i, w := range widths {
		mask := uint64(1)<<w - 1
		if w == 64 {
			mask = ^uint64(0)
		}
		got, err := d.ReadUnalignedUint(w)
		require.NoError(t, err)
		assert.Equal(t, values[i]&mask, got, "width %d", w)
	}
}

// A full 64-bit unaligned value written mid-byte must survive the
// accumulator boundary intact.
func TestCodec_UnalignedFullWidthMidByte(t *testing.T) {
	e := NewEncoder()
	e.WriteUnalignedUint(0x5, 3)
	e.WriteUnalignedUint(0xFEDCBA9876543210, 64)
	e.Align()

	d := NewDecoder(e.Bytes())
	first, err := d.ReadUnalignedUint(3)
	require.NoError(t, err)
	assert.Equal(t, uint64(0x5), first)
	wide, err := d.ReadUnalignedUint(64)
	require.NoError(t, err)
	assert.Equal(t, uint64(0xFEDCBA9876543210), wide)
}

func TestCodec_AlignFlushesAccumulator(t *testing.T) {
	e := NewEncoder()
	e.WriteUnalignedUint(0x5, 3)
	e.Align()
	e.WriteUint8(0xFF)

	assert.Equal(t, []byte{0x05, 0xFF}, e.Bytes())
}

func TestCodec_EndOfBuffer(t *testing.T) {
	d := NewDecoder([]byte{1, 2})
	_, err := d.ReadUint32()
	assert.ErrorIs(t, err, ErrEndOfBuffer)
}

func TestCodec_Union_Unsupported(t *testing.T) {
	e := NewEncoder()
	assert.ErrorIs(t, e.BeginUnion(1), ErrUnsupportedFeature)
	assert.ErrorIs(t, e.EndUnion(), ErrUnsupportedFeature)

	d := NewDecoder(nil)
	_, err := d.BeginUnion()
	assert.ErrorIs(t, err, ErrUnsupportedFeature)
	assert.ErrorIs(t, d.EndUnion(), ErrUnsupportedFeature)
}

// For any concatenation of valid envelopes, reading them back
// reproduces the same (tag, body) sequence.
func TestEnvelope_RoundTripSequence(t *testing.T) {
	envelopes := []Envelope{
		{Tag: TagParticipantAnnouncement, Body: []byte("alpha")},
		{Tag: TagShutdownNotification, Body: nil},
		{Tag: TagPeerMessage, Body: []byte{1, 2, 3, 4, 5}},
	}

	var buf bytes.Buffer
	for _, e := range envelopes {
		require.NoError(t, WriteEnvelope(&buf, e))
	}

	for _, want := range envelopes {
		got, err := ReadEnvelope(&buf)
		require.NoError(t, err)
		assert.Equal(t, want.Tag, got.Tag)
		assert.Equal(t, want.Body, got.Body)
	}
}

func TestEnvelope_RejectsOversize(t *testing.T) {
	var buf bytes.Buffer
	buf.Write([]byte{0xFF, 0xFF, 0xFF, 0xFF})
	_, err := ReadEnvelope(&buf)
	require.Error(t, err)
}

func TestPeerMessage_RoundTrip(t *testing.T) {
	h := PeerMessageHeader{
		NetworkName:       "CAN1",
		EndpointID:        7,
		SourceParticipant: "ECU1",
		SourceNetwork:     "CAN1",
		SourceServiceID:   3,
		MessageKind:       42,
	}
	payload := []byte{9, 8, 7}
	body := EncodePeerMessage(h, payload)

	gotH, gotPayload, err := DecodePeerMessage(body)
	require.NoError(t, err)
	assert.Equal(t, h, gotH)
	assert.Equal(t, payload, gotPayload)
}

func TestVersionHeader_Mismatch(t *testing.T) {
	body := EncodeVersionHeader(ProtocolVersion + 1)
	_, _, err := DecodeVersionHeader(body)
	require.Error(t, err)
	var pe *ProtocolError
	assert.ErrorAs(t, err, &pe)
	assert.Equal(t, ProtocolVersion+1, pe.Got)
}

func TestMethodCallHeader_RoundTrip(t *testing.T) {
	h := MethodCallHeader{
		Version:    ProtocolVersion,
		RequestID:  1234567,
		Type:       MethodCallRequest,
		ReturnCode: ReturnCodeNoError,
	}
	body := EncodeMethodCallHeader(h)
	got, rest, err := DecodeMethodCallHeader(body)
	require.NoError(t, err)
	assert.Equal(t, h, got)
	assert.Empty(t, rest)
}
