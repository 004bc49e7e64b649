// Package serialization implements the SOME/IP basic-type wire format:
// big-endian integers and floats, length-prefixed strings and 4-byte
// alignment padding.
package serialization

import (
	"encoding/binary"
	"math"
)

// Serializer is an append-only encoder backed by a growable buffer.
type Serializer struct {
	buf []byte
}

// NewSerializer creates a serializer with a pre-allocated buffer.
func NewSerializer() *Serializer {
	return &Serializer{buf: make([]byte, 0, 1024)}
}

// Reset discards the buffered bytes.
func (s *Serializer) Reset() {
	s.buf = s.buf[:0]
}

// Bytes returns the encoded buffer.
func (s *Serializer) Bytes() []byte {
	return s.buf
}

// Len returns the number of encoded bytes.
func (s *Serializer) Len() int {
	return len(s.buf)
}

// WriteBool encodes true as 0x01 and false as 0x00.
func (s *Serializer) WriteBool(v bool) {
	if v {
		s.buf = append(s.buf, 0x01)
	} else {
		s.buf = append(s.buf, 0x00)
	}
}

func (s *Serializer) WriteUint8(v uint8) {
	s.buf = append(s.buf, v)
}

func (s *Serializer) WriteUint16(v uint16) {
	s.buf = binary.BigEndian.AppendUint16(s.buf, v)
}

func (s *Serializer) WriteUint32(v uint32) {
	s.buf = binary.BigEndian.AppendUint32(s.buf, v)
}

func (s *Serializer) WriteUint64(v uint64) {
	s.buf = binary.BigEndian.AppendUint64(s.buf, v)
}

func (s *Serializer) WriteInt8(v int8) {
	s.WriteUint8(uint8(v))
}

func (s *Serializer) WriteInt16(v int16) {
	s.WriteUint16(uint16(v))
}

func (s *Serializer) WriteInt32(v int32) {
	s.WriteUint32(uint32(v))
}

func (s *Serializer) WriteInt64(v int64) {
	s.WriteUint64(uint64(v))
}

// WriteFloat32 encodes an IEEE-754 single in big-endian order.
func (s *Serializer) WriteFloat32(v float32) {
	s.WriteUint32(math.Float32bits(v))
}

// WriteFloat64 encodes an IEEE-754 double in big-endian order.
func (s *Serializer) WriteFloat64(v float64) {
	s.WriteUint64(math.Float64bits(v))
}

// WriteString encodes a u32 length prefix, the raw bytes without a
// terminator, then zero padding to a 4-byte boundary.
func (s *Serializer) WriteString(v string) {
	s.WriteUint32(uint32(len(v)))
	s.buf = append(s.buf, v...)
	s.AlignTo(4)
}

// AlignTo pads the buffer with zeros up to the given boundary.
func (s *Serializer) AlignTo(alignment int) {
	padding := (alignment - len(s.buf)%alignment) % alignment
	s.AddPadding(padding)
}

// AddPadding appends n zero bytes.
func (s *Serializer) AddPadding(n int) {
	for i := 0; i < n; i++ {
		s.buf = append(s.buf, 0x00)
	}
}
