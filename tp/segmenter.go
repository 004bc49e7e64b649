package tp

import (
	"encoding/binary"
	"sync"

	someip "github.com/eshenhu/someip"
)

// Segmenter splits large messages into sized, sequence-numbered TP
// segments. One sequence number is allocated per top-level message,
// monotonic mod 256.
type Segmenter struct {
	mu      sync.Mutex
	config  Config
	nextSeq uint8
}

// NewSegmenter creates a segmenter with the given config.
func NewSegmenter(config Config) *Segmenter {
	return &Segmenter{config: config}
}

// UpdateConfig replaces the segmentation limits.
func (s *Segmenter) UpdateConfig(config Config) {
	s.mu.Lock()
	s.config = config
	s.mu.Unlock()
}

func (s *Segmenter) allocSequence() uint8 {
	s.mu.Lock()
	seq := s.nextSeq
	s.nextSeq++
	s.mu.Unlock()
	return seq
}

// SegmentMessage produces the ordered segment sequence for a message.
// Payloads at or under the segment size yield one SINGLE segment
// carrying the fully serialized message; larger payloads yield a FIRST
// segment (SOME/IP header, TP flag set, first chunk) followed by
// CONSECUTIVE segments and one LAST segment.
func (s *Segmenter) SegmentMessage(msg *someip.Message) ([]Segment, error) {
	s.mu.Lock()
	config := s.config
	s.mu.Unlock()

	payload := msg.Payload()
	if len(payload) > config.MaxMessageSize {
		return nil, someip.ErrMessageTooLarge
	}
	if config.MaxSegmentSize < someip.HeaderSize+TpHeaderSize+offsetUnit {
		return nil, someip.ErrInvalidArgument
	}

	if len(payload) <= config.MaxSegmentSize {
		return s.singleSegment(msg, payload)
	}
	return s.multiSegments(msg, payload, config)
}

func (s *Segmenter) singleSegment(msg *someip.Message, payload []byte) ([]Segment, error) {
	tpMsg := msg.Clone()
	if len(payload) > singleSegmentTpThreshold {
		tpMsg.SetType(someip.WithTpFlag(msg.Type()))
	}
	data := tpMsg.Serialize()

	return []Segment{{
		Header: SegmentHeader{
			SequenceNumber: s.allocSequence(),
			SegmentOffset:  0,
			SegmentLength:  uint16(len(data)),
			MessageLength:  uint32(len(payload)),
			Type:           SegmentSingle,
		},
		Payload: data,
	}}, nil
}

func (s *Segmenter) multiSegments(msg *someip.Message, payload []byte, config Config) ([]Segment, error) {
	totalLength := uint32(len(payload))
	sequence := s.allocSequence()

	tpMsg := msg.Clone()
	tpMsg.SetType(someip.WithTpFlag(msg.Type()))
	tpMsg.SetPayload(nil)

	// First segment: SOME/IP header with the TP flag, the length field
	// covering the TP header plus the first chunk, then the chunk. The
	// segment offset is aligned to 16 bytes so later offsets encode in
	// 16-byte units.
	firstChunk := config.MaxSegmentSize - someip.HeaderSize - TpHeaderSize
	firstChunk -= firstChunk % offsetUnit
	if firstChunk > int(totalLength) {
		firstChunk = int(totalLength)
	}

	header := tpMsg.Serialize()[:someip.HeaderSize]
	binary.BigEndian.PutUint32(header[4:8],
		someip.LengthFieldBase+TpHeaderSize+uint32(firstChunk))

	first := make([]byte, 0, someip.HeaderSize+firstChunk)
	first = append(first, header...)
	first = append(first, payload[:firstChunk]...)

	segments := []Segment{{
		Header: SegmentHeader{
			SequenceNumber: sequence,
			SegmentOffset:  0,
			SegmentLength:  uint16(len(first)),
			MessageLength:  totalLength,
			Type:           SegmentFirst,
		},
		Payload: first,
	}}

	// Consecutive segments carry chunk offsets aligned to 16 bytes;
	// the last segment takes whatever remains.
	offset := uint32(firstChunk)
	chunkSize := config.MaxSegmentSize - TpHeaderSize
	chunkSize -= chunkSize % offsetUnit

	for offset < totalLength {
		remaining := totalLength - offset
		segType := SegmentConsecutive
		size := uint32(chunkSize)
		if remaining <= uint32(chunkSize) {
			segType = SegmentLast
			size = remaining
		}

		segments = append(segments, Segment{
			Header: SegmentHeader{
				SequenceNumber: sequence,
				SegmentOffset:  offset,
				SegmentLength:  uint16(size),
				MessageLength:  totalLength,
				Type:           segType,
			},
			Payload: append([]byte(nil), payload[offset:offset+size]...),
		})
		offset += size
	}

	return segments, nil
}
