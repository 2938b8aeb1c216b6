// Package wire implements the framing and codec layer: a
// length-prefixed binary envelope and a primitive (un)aligned bit/byte
// serializer used for message headers and payloads. Everything above
// this package only ever calls Encoder/Decoder methods, never touches
// a byte slice directly.
package wire

import (
	"encoding/binary"
	"math"
)

// Encoder serializes primitive values. Byte-aligned integers are
// little-endian; unaligned integers are packed bitwise LSB-first
// through a 64-bit rolling accumulator that Align flushes.
type Encoder struct {
	buf     []byte
	acc     uint64
	accBits uint
}

// NewEncoder returns an Encoder with an empty output buffer.
func NewEncoder() *Encoder {
	return &Encoder{buf: make([]byte, 0, 64)}
}

// Bytes returns the encoded output so far. Align should be called
// first if any unaligned writes are pending.
func (e *Encoder) Bytes() []byte { return e.buf }

// Align flushes the bit accumulator to whole bytes, padding the final
// byte with zero bits.
func (e *Encoder) Align() {
	for e.accBits > 0 {
		e.buf = append(e.buf, byte(e.acc))
		e.acc >>= 8
		if e.accBits >= 8 {
			e.accBits -= 8
		} else {
			e.accBits = 0
		}
	}
	e.acc = 0
	e.accBits = 0
}

// WriteUnalignedUint packs the low `bits` bits of v, LSB-first, into
// the rolling accumulator. A full-width value written mid-byte does
// not fit the accumulator in one piece; it is split and carried.
func (e *Encoder) WriteUnalignedUint(v uint64, bits uint) {
	if bits == 0 || bits > 64 {
		panic("wire: unaligned width must be in [1,64]")
	}
	mask := uint64(1)<<bits - 1
	if bits == 64 {
		mask = ^uint64(0)
	}
	v &= mask
	if free := 64 - e.accBits; bits > free {
		e.acc |= v << e.accBits
		e.accBits = 64
		e.flushAccumulator()
		v >>= free
		bits -= free
	}
	e.acc |= v << e.accBits
	e.accBits += bits
	e.flushAccumulator()
}

func (e *Encoder) flushAccumulator() {
	for e.accBits >= 8 {
		e.buf = append(e.buf, byte(e.acc))
		e.acc >>= 8
		e.accBits -= 8
	}
}

// writeAligned writes n little-endian bytes of v, flushing any pending
// unaligned bits first.
func (e *Encoder) writeAligned(v uint64, n int) {
	e.Align()
	var tmp [8]byte
	binary.LittleEndian.PutUint64(tmp[:], v)
	e.buf = append(e.buf, tmp[:n]...)
}

func (e *Encoder) WriteUint8(v uint8)   { e.writeAligned(uint64(v), 1) }
func (e *Encoder) WriteUint16(v uint16) { e.writeAligned(uint64(v), 2) }
func (e *Encoder) WriteUint32(v uint32) { e.writeAligned(uint64(v), 4) }
func (e *Encoder) WriteUint64(v uint64) { e.writeAligned(v, 8) }

func (e *Encoder) WriteInt8(v int8)   { e.WriteUint8(uint8(v)) }
func (e *Encoder) WriteInt16(v int16) { e.WriteUint16(uint16(v)) }
func (e *Encoder) WriteInt32(v int32) { e.WriteUint32(uint32(v)) }
func (e *Encoder) WriteInt64(v int64) { e.WriteUint64(uint64(v)) }

// WriteBool writes a single aligned presence/boolean byte.
func (e *Encoder) WriteBool(v bool) {
	if v {
		e.WriteUint8(1)
	} else {
		e.WriteUint8(0)
	}
}

// WriteFloat32 writes an IEEE 754 binary32 value after alignment.
func (e *Encoder) WriteFloat32(v float32) {
	e.writeAligned(uint64(math.Float32bits(v)), 4)
}

// WriteFloat64 writes an IEEE 754 binary64 value after alignment.
func (e *Encoder) WriteFloat64(v float64) {
	e.writeAligned(math.Float64bits(v), 8)
}

// WriteBytes writes a 32-bit LE length prefix followed by raw bytes,
// aligned.
func (e *Encoder) WriteBytes(b []byte) {
	e.Align()
	e.WriteUint32(uint32(len(b)))
	e.buf = append(e.buf, b...)
}

// WriteString writes a string using the same length-prefixed encoding
// as WriteBytes.
func (e *Encoder) WriteString(s string) {
	e.WriteBytes([]byte(s))
}

// WriteArrayLen writes the 32-bit LE element count that precedes an
// array. Callers restore alignment between elements of struct type by
// calling Align after each element.
func (e *Encoder) WriteArrayLen(n int) {
	e.Align()
	e.WriteUint32(uint32(n))
}

// BeginUnion and EndUnion are declared but always fail: unions are not
// supported on the wire.
func (e *Encoder) BeginUnion(uint32) error { return ErrUnsupportedFeature }
func (e *Encoder) EndUnion() error         { return ErrUnsupportedFeature }

// Decoder deserializes primitive values from a byte slice, mirroring
// Encoder's aligned/unaligned rules.
type Decoder struct {
	buf     []byte
	pos     int
	acc     uint64
	accBits uint
}

// NewDecoder wraps buf for reading.
func NewDecoder(buf []byte) *Decoder {
	return &Decoder{buf: buf}
}

// Remaining reports how many undecoded bytes are left, not counting
// bits already pulled into the accumulator.
func (d *Decoder) Remaining() int { return len(d.buf) - d.pos }

// Align discards any partially-consumed accumulator bits and resumes
// reading at the next byte boundary.
func (d *Decoder) Align() {
	d.acc = 0
	d.accBits = 0
}

// ReadUnalignedUint reads the low `bits` bits, LSB-first, refilling the
// accumulator one byte at a time so a full-width read that straddles a
// byte boundary assembles without overflowing.
func (d *Decoder) ReadUnalignedUint(bits uint) (uint64, error) {
	if bits == 0 || bits > 64 {
		panic("wire: unaligned width must be in [1,64]")
	}
	var v uint64
	var got uint
	for got < bits {
		if d.accBits == 0 {
			if d.pos >= len(d.buf) {
				return 0, ErrEndOfBuffer
			}
			d.acc = uint64(d.buf[d.pos])
			d.pos++
			d.accBits = 8
		}
		take := bits - got
		if take > d.accBits {
			take = d.accBits
		}
		v |= (d.acc & (uint64(1)<<take - 1)) << got
		d.acc >>= take
		d.accBits -= take
		got += take
	}
	return v, nil
}

func (d *Decoder) readAligned(n int) (uint64, error) {
	d.Align()
	if d.pos+n > len(d.buf) {
		return 0, ErrEndOfBuffer
	}
	var tmp [8]byte
	copy(tmp[:n], d.buf[d.pos:d.pos+n])
	d.pos += n
	return binary.LittleEndian.Uint64(tmp[:]), nil
}

func (d *Decoder) ReadUint8() (uint8, error) {
	v, err := d.readAligned(1)
	return uint8(v), err
}

func (d *Decoder) ReadUint16() (uint16, error) {
	v, err := d.readAligned(2)
	return uint16(v), err
}

func (d *Decoder) ReadUint32() (uint32, error) {
	v, err := d.readAligned(4)
	return uint32(v), err
}

func (d *Decoder) ReadUint64() (uint64, error) {
	return d.readAligned(8)
}

func (d *Decoder) ReadInt8() (int8, error) {
	v, err := d.ReadUint8()
	return int8(v), err
}

func (d *Decoder) ReadInt16() (int16, error) {
	v, err := d.ReadUint16()
	return int16(v), err
}

func (d *Decoder) ReadInt32() (int32, error) {
	v, err := d.ReadUint32()
	return int32(v), err
}

func (d *Decoder) ReadInt64() (int64, error) {
	v, err := d.ReadUint64()
	return int64(v), err
}

func (d *Decoder) ReadBool() (bool, error) {
	v, err := d.ReadUint8()
	return v != 0, err
}

func (d *Decoder) ReadFloat32() (float32, error) {
	v, err := d.readAligned(4)
	if err != nil {
		return 0, err
	}
	return math.Float32frombits(uint32(v)), nil
}

func (d *Decoder) ReadFloat64() (float64, error) {
	v, err := d.readAligned(8)
	if err != nil {
		return 0, err
	}
	return math.Float64frombits(v), nil
}

func (d *Decoder) ReadBytes() ([]byte, error) {
	d.Align()
	n, err := d.ReadUint32()
	if err != nil {
		return nil, err
	}
	if d.pos+int(n) > len(d.buf) {
		return nil, ErrEndOfBuffer
	}
	out := make([]byte, n)
	copy(out, d.buf[d.pos:d.pos+int(n)])
	d.pos += int(n)
	return out, nil
}

func (d *Decoder) ReadString() (string, error) {
	b, err := d.ReadBytes()
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func (d *Decoder) ReadArrayLen() (int, error) {
	d.Align()
	n, err := d.ReadUint32()
	return int(n), err
}

func (d *Decoder) BeginUnion() (uint32, error) { return 0, ErrUnsupportedFeature }
func (d *Decoder) EndUnion() error             { return ErrUnsupportedFeature }
