package someip

import "encoding/binary"

// E2EHeaderSize is the on-wire size of the optional E2E header.
const E2EHeaderSize = 12

// E2EHeader is the end-to-end protection record inserted between the
// fixed SOME/IP header and the payload.
type E2EHeader struct {
	Crc       uint32
	Counter   uint32
	DataID    uint16
	Freshness uint16
}

// Pack serializes the header in big-endian order.
func (h *E2EHeader) Pack() []byte {
	buf := make([]byte, E2EHeaderSize)
	binary.BigEndian.PutUint32(buf[0:4], h.Crc)
	binary.BigEndian.PutUint32(buf[4:8], h.Counter)
	binary.BigEndian.PutUint16(buf[8:10], h.DataID)
	binary.BigEndian.PutUint16(buf[10:12], h.Freshness)
	return buf
}

// Unpack reads a header from b starting at offset.
func (h *E2EHeader) Unpack(b []byte, offset int) error {
	if offset < 0 || offset+E2EHeaderSize > len(b) {
		return ErrMalformedMessage
	}
	h.Crc = binary.BigEndian.Uint32(b[offset : offset+4])
	h.Counter = binary.BigEndian.Uint32(b[offset+4 : offset+8])
	h.DataID = binary.BigEndian.Uint16(b[offset+8 : offset+10])
	h.Freshness = binary.BigEndian.Uint16(b[offset+10 : offset+12])
	return nil
}
