package serialization

import (
	"encoding/binary"
	"math"

	someip "github.com/eshenhu/someip"
)

// Deserializer is a positional decoder over a borrowed byte slice.
// Every read fails with ErrMalformedMessage when the remaining buffer
// is shorter than the requested value.
type Deserializer struct {
	buf []byte
	pos int
}

// NewDeserializer creates a decoder over data. The slice is borrowed,
// not copied.
func NewDeserializer(data []byte) *Deserializer {
	return &Deserializer{buf: data}
}

// Reset rewinds the decoder to the start of the buffer.
func (d *Deserializer) Reset() {
	d.pos = 0
}

// Position returns the current read offset.
func (d *Deserializer) Position() int {
	return d.pos
}

// SetPosition moves the read offset. Positions past the end of the
// buffer are rejected.
func (d *Deserializer) SetPosition(pos int) bool {
	if pos < 0 || pos > len(d.buf) {
		return false
	}
	d.pos = pos
	return true
}

// Remaining returns the number of unread bytes.
func (d *Deserializer) Remaining() int {
	return len(d.buf) - d.pos
}

// Skip advances the read offset, clamped to the buffer end.
func (d *Deserializer) Skip(n int) {
	d.pos += n
	if d.pos > len(d.buf) {
		d.pos = len(d.buf)
	}
}

// AlignTo skips padding up to the given boundary.
func (d *Deserializer) AlignTo(alignment int) {
	d.Skip((alignment - d.pos%alignment) % alignment)
}

// ReadBool decodes one byte; any non-zero value is true.
func (d *Deserializer) ReadBool() (bool, error) {
	b, err := d.ReadUint8()
	if err != nil {
		return false, err
	}
	return b != 0x00, nil
}

func (d *Deserializer) ReadUint8() (uint8, error) {
	if d.pos+1 > len(d.buf) {
		return 0, someip.ErrMalformedMessage
	}
	v := d.buf[d.pos]
	d.pos++
	return v, nil
}

func (d *Deserializer) ReadUint16() (uint16, error) {
	if d.pos+2 > len(d.buf) {
		return 0, someip.ErrMalformedMessage
	}
	v := binary.BigEndian.Uint16(d.buf[d.pos:])
	d.pos += 2
	return v, nil
}

func (d *Deserializer) ReadUint32() (uint32, error) {
	if d.pos+4 > len(d.buf) {
		return 0, someip.ErrMalformedMessage
	}
	v := binary.BigEndian.Uint32(d.buf[d.pos:])
	d.pos += 4
	return v, nil
}

func (d *Deserializer) ReadUint64() (uint64, error) {
	if d.pos+8 > len(d.buf) {
		return 0, someip.ErrMalformedMessage
	}
	v := binary.BigEndian.Uint64(d.buf[d.pos:])
	d.pos += 8
	return v, nil
}

func (d *Deserializer) ReadInt8() (int8, error) {
	v, err := d.ReadUint8()
	return int8(v), err
}

func (d *Deserializer) ReadInt16() (int16, error) {
	v, err := d.ReadUint16()
	return int16(v), err
}

func (d *Deserializer) ReadInt32() (int32, error) {
	v, err := d.ReadUint32()
	return int32(v), err
}

func (d *Deserializer) ReadInt64() (int64, error) {
	v, err := d.ReadUint64()
	return int64(v), err
}

func (d *Deserializer) ReadFloat32() (float32, error) {
	v, err := d.ReadUint32()
	return math.Float32frombits(v), err
}

func (d *Deserializer) ReadFloat64() (float64, error) {
	v, err := d.ReadUint64()
	return math.Float64frombits(v), err
}

// ReadString decodes a u32 length prefix and that many raw bytes, then
// skips padding to the next 4-byte boundary.
func (d *Deserializer) ReadString() (string, error) {
	length, err := d.ReadUint32()
	if err != nil {
		return "", err
	}
	if d.pos+int(length) > len(d.buf) {
		return "", someip.ErrMalformedMessage
	}
	v := string(d.buf[d.pos : d.pos+int(length)])
	d.pos += int(length)
	d.AlignTo(4)
	return v, nil
}
