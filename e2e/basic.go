package e2e

import (
	"encoding/binary"

	someip "github.com/eshenhu/someip"
)

// basicProfile is the reference protection profile ("basic", id 0):
// CRC over the canonical header-plus-payload image, a per-data-id
// monotonic counter with a rollover window, and a freshness timestamp
// taken from the low 16 bits of the steady-clock milliseconds.
//
// It is a reference implementation built on publicly available
// standards, not an AUTOSAR E2E profile.
type basicProfile struct {
	seq *seqTracker
}

func (p *basicProfile) Name() string    { return "basic" }
func (p *basicProfile) ID() uint32      { return 0 }
func (p *basicProfile) HeaderSize() int { return someip.E2EHeaderSize }

// canonicalImage assembles the byte range the CRC covers: message id,
// length, request id, the four version/type/code bytes, then the
// payload. The E2E header itself is never part of the image.
func canonicalImage(msg *someip.Message, length uint32) []byte {
	buf := make([]byte, 0, someip.HeaderSize+len(msg.Payload()))
	buf = binary.BigEndian.AppendUint32(buf, msg.MessageID().ToUint32())
	buf = binary.BigEndian.AppendUint32(buf, length)
	buf = binary.BigEndian.AppendUint32(buf, msg.RequestID().ToUint32())
	buf = append(buf, msg.ProtocolVersion(), msg.InterfaceVersion(),
		uint8(msg.Type()), uint8(msg.Code()))
	buf = append(buf, msg.Payload()...)
	return buf
}

// protectedLength is the length the message will carry once the E2E
// header is inserted.
func protectedLength(msg *someip.Message) uint32 {
	return someip.LengthFieldBase + someip.E2EHeaderSize + uint32(len(msg.Payload()))
}

func (p *basicProfile) Protect(msg *someip.Message, config Config) error {
	var crc uint32
	if config.EnableCrc {
		image := canonicalImage(msg, protectedLength(msg))
		crc = Crc(image, 0, len(image), config.CrcType)
	}

	var counter uint32
	if config.EnableCounter {
		counter = p.seq.advance(config.DataID, config.MaxCounterValue)
	}

	var freshness uint16
	if config.EnableFreshness {
		freshness = p.seq.stamp(config.DataID)
	}

	msg.SetE2EHeader(someip.E2EHeader{
		Crc:       crc,
		Counter:   counter,
		DataID:    config.DataID,
		Freshness: freshness,
	})
	return nil
}

func (p *basicProfile) Validate(msg *someip.Message, config Config) error {
	header, ok := msg.E2EHeader()
	if !ok {
		return someip.ErrInvalidArgument
	}

	if header.DataID != config.DataID {
		return someip.ErrInvalidArgument
	}

	if config.EnableCrc {
		image := canonicalImage(msg, msg.Length())
		expected := Crc(image, 0, len(image), config.CrcType)
		received := header.Crc
		switch config.CrcType {
		case CrcTypeSaeJ1850:
			expected &= 0xFF
			received &= 0xFF
		case CrcTypeCcitt:
			expected &= 0xFFFF
			received &= 0xFFFF
		}
		if received != expected {
			return someip.ErrInvalidArgument
		}
	}

	if config.EnableCounter {
		if err := p.seq.check(config.DataID, header.Counter, config.MaxCounterValue); err != nil {
			return err
		}
	}

	if config.EnableFreshness {
		if stale(header.Freshness, config.FreshnessTimeoutMs) {
			return someip.ErrTimeout
		}
	}

	return nil
}
