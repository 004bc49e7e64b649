// Package tp implements SOME/IP-TP segmentation and reassembly for
// messages exceeding a single datagram.
package tp

import (
	"encoding/binary"

	someip "github.com/eshenhu/someip"
)

// TpHeaderSize is the on-wire size of the TP header.
const TpHeaderSize = 4

// offsetUnit is the granularity of the 28-bit offset field.
const offsetUnit = 16

// SegmentType classifies a TP segment.
type SegmentType uint8

const (
	SegmentFirst SegmentType = iota
	SegmentConsecutive
	SegmentLast
	SegmentSingle
)

func (t SegmentType) String() string {
	switch t {
	case SegmentFirst:
		return "FIRST"
	case SegmentConsecutive:
		return "CONSECUTIVE"
	case SegmentLast:
		return "LAST"
	case SegmentSingle:
		return "SINGLE"
	}
	return "UNKNOWN"
}

// PackTpHeader builds the 4-byte TP header: bits 31..4 carry the
// segment offset in 16-byte units, bits 3..1 are reserved, bit 0 is
// the more-segments flag.
func PackTpHeader(segmentOffset uint32, moreSegments bool) []byte {
	v := (segmentOffset / offsetUnit) << 4
	if moreSegments {
		v |= 0x01
	}
	buf := make([]byte, TpHeaderSize)
	binary.BigEndian.PutUint32(buf, v)
	return buf
}

// ParseTpHeader decodes a TP header at the given offset in data.
// Reserved bits are ignored.
func ParseTpHeader(data []byte, at int) (segmentOffset uint32, moreSegments bool, err error) {
	if at < 0 || at+TpHeaderSize > len(data) {
		return 0, false, someip.ErrMalformedMessage
	}
	v := binary.BigEndian.Uint32(data[at : at+TpHeaderSize])
	return (v >> 4) * offsetUnit, v&0x01 != 0, nil
}

// SegmentHeader carries the parsed metadata of a TP segment.
type SegmentHeader struct {
	SequenceNumber uint8
	SegmentOffset  uint32
	SegmentLength  uint16
	MessageLength  uint32
	Type           SegmentType
}

// Segment is one TP segment. For FIRST segments the payload holds the
// 16-byte SOME/IP header followed by the first payload chunk; for
// CONSECUTIVE/LAST it holds the chunk only; for SINGLE it holds the
// fully serialized message. The 4-byte TP wire header is not part of
// the payload; Wire materializes it.
type Segment struct {
	Header  SegmentHeader
	Payload []byte
}

// Wire renders the segment as it travels inside a datagram: the TP
// header sits immediately after the SOME/IP header for FIRST segments
// and at the segment start for CONSECUTIVE/LAST. SINGLE segments have
// no TP header.
func (s *Segment) Wire() []byte {
	switch s.Header.Type {
	case SegmentFirst:
		buf := make([]byte, 0, len(s.Payload)+TpHeaderSize)
		buf = append(buf, s.Payload[:someip.HeaderSize]...)
		buf = append(buf, PackTpHeader(s.Header.SegmentOffset, true)...)
		buf = append(buf, s.Payload[someip.HeaderSize:]...)
		return buf
	case SegmentConsecutive, SegmentLast:
		more := s.Header.Type == SegmentConsecutive
		buf := make([]byte, 0, len(s.Payload)+TpHeaderSize)
		buf = append(buf, PackTpHeader(s.Header.SegmentOffset, more)...)
		buf = append(buf, s.Payload...)
		return buf
	}
	return append([]byte(nil), s.Payload...)
}
