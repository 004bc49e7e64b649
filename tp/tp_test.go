package tp

import (
	"bytes"
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	someip "github.com/eshenhu/someip"
)

func testConfig() Config {
	return Config{
		MaxSegmentSize:      1024,
		MaxMessageSize:      50000,
		ReassemblyTimeoutMs: 5000,
	}
}

func newTpMessage(payload []byte) *someip.Message {
	m := someip.NewMessage(
		someip.MessageID{ServiceID: 0x1234, MethodID: 0x5678},
		someip.RequestID{ClientID: 0x9ABC, SessionID: 0x0001},
		someip.MTNotification, someip.EOk)
	m.SetPayload(payload)
	return m
}

func TestTpHeaderPackParse(t *testing.T) {
	data := PackTpHeader(4096, true)
	require.Len(t, data, TpHeaderSize)
	assert.Equal(t, []byte{0x00, 0x00, 0x10, 0x01}, data)

	offset, more, err := ParseTpHeader(data, 0)
	require.NoError(t, err)
	assert.Equal(t, uint32(4096), offset)
	assert.True(t, more)

	data = PackTpHeader(0, false)
	offset, more, err = ParseTpHeader(data, 0)
	require.NoError(t, err)
	assert.Zero(t, offset)
	assert.False(t, more)

	_, _, err = ParseTpHeader([]byte{0x00}, 0)
	assert.Error(t, err)
	_, _, err = ParseTpHeader(data, 2)
	assert.Error(t, err)
}

func TestSegmentSmallPayloadSingle(t *testing.T) {
	s := NewSegmenter(testConfig())
	m := newTpMessage([]byte{0x01, 0x02, 0x03})

	segments, err := s.SegmentMessage(m)
	require.NoError(t, err)
	require.Len(t, segments, 1)

	seg := segments[0]
	assert.Equal(t, SegmentSingle, seg.Header.Type)
	assert.Equal(t, uint32(3), seg.Header.MessageLength)
	assert.Equal(t, uint16(len(seg.Payload)), seg.Header.SegmentLength)

	// Under the TP threshold the serialized message keeps its type.
	var decoded someip.Message
	require.NoError(t, decoded.Deserialize(seg.Payload))
	assert.Equal(t, someip.MTNotification, decoded.Type())
}

func TestSegmentSinglePastThresholdGetsTpFlag(t *testing.T) {
	s := NewSegmenter(testConfig())
	m := newTpMessage(make([]byte, 1001))

	segments, err := s.SegmentMessage(m)
	require.NoError(t, err)
	require.Len(t, segments, 1)

	var decoded someip.Message
	require.NoError(t, decoded.Deserialize(segments[0].Payload))
	assert.Equal(t, someip.MTTpNotification, decoded.Type())
}

func TestSegmentMultiStructure(t *testing.T) {
	s := NewSegmenter(testConfig())
	payload := bytes.Repeat([]byte{0xAA}, 2000)
	m := newTpMessage(payload)

	segments, err := s.SegmentMessage(m)
	require.NoError(t, err)
	require.True(t, len(segments) > 1)

	first := segments[0]
	assert.Equal(t, SegmentFirst, first.Header.Type)
	assert.Zero(t, first.Header.SegmentOffset)
	assert.Equal(t, uint32(2000), first.Header.MessageLength)

	// The first segment's SOME/IP header carries the TP flag and a
	// length covering the TP header plus the first chunk.
	header := first.Payload[:16]
	assert.Equal(t, uint8(someip.MTTpNotification), header[14])
	chunk := len(first.Payload) - 16
	wantLength := uint32(8 + 4 + chunk)
	gotLength := uint32(header[4])<<24 | uint32(header[5])<<16 |
		uint32(header[6])<<8 | uint32(header[7])
	assert.Equal(t, wantLength, gotLength)

	// All segments share one sequence number; offsets are contiguous
	// and 16-byte aligned except for the final remainder.
	seq := first.Header.SequenceNumber
	expectedOffset := uint32(chunk)
	for _, seg := range segments[1:] {
		assert.Equal(t, seq, seg.Header.SequenceNumber)
		assert.Equal(t, expectedOffset, seg.Header.SegmentOffset)
		assert.Zero(t, seg.Header.SegmentOffset%16)
		expectedOffset += uint32(len(seg.Payload))
	}
	assert.Equal(t, uint32(2000), expectedOffset)
	assert.Equal(t, SegmentLast, segments[len(segments)-1].Header.Type)
	for _, seg := range segments[1 : len(segments)-1] {
		assert.Equal(t, SegmentConsecutive, seg.Header.Type)
	}
}

func TestSegmentSequenceNumbersAdvance(t *testing.T) {
	s := NewSegmenter(testConfig())
	payload := make([]byte, 2000)

	first, err := s.SegmentMessage(newTpMessage(payload))
	require.NoError(t, err)
	second, err := s.SegmentMessage(newTpMessage(payload))
	require.NoError(t, err)

	assert.Equal(t, first[0].Header.SequenceNumber+1, second[0].Header.SequenceNumber)
}

func TestSegmentTooLarge(t *testing.T) {
	s := NewSegmenter(testConfig())
	m := newTpMessage(make([]byte, 50001))

	_, err := s.SegmentMessage(m)
	assert.Equal(t, someip.ErrMessageTooLarge, err)
}

func TestSegmentWireRendering(t *testing.T) {
	s := NewSegmenter(testConfig())
	payload := bytes.Repeat([]byte{0x5A}, 2000)
	segments, err := s.SegmentMessage(newTpMessage(payload))
	require.NoError(t, err)

	// FIRST: TP header sits after the 16-byte SOME/IP header.
	wire := segments[0].Wire()
	require.Len(t, wire, len(segments[0].Payload)+TpHeaderSize)
	offset, more, err := ParseTpHeader(wire, 16)
	require.NoError(t, err)
	assert.Zero(t, offset)
	assert.True(t, more)

	// CONSECUTIVE/LAST: TP header leads the datagram and the
	// more-segments flag distinguishes them.
	for i, seg := range segments[1:] {
		wire := seg.Wire()
		offset, more, err := ParseTpHeader(wire, 0)
		require.NoError(t, err)
		assert.Equal(t, seg.Header.SegmentOffset, offset)
		assert.Equal(t, i != len(segments)-2, more)
	}
}

func TestTpRoundTripInOrder(t *testing.T) {
	s := NewSegmenter(testConfig())
	r := NewReassembler(testConfig())

	payload := bytes.Repeat([]byte{0xAA}, 2000)
	segments, err := s.SegmentMessage(newTpMessage(payload))
	require.NoError(t, err)
	require.True(t, len(segments) > 1)

	var result []byte
	var complete bool
	for _, seg := range segments {
		result, complete = r.ProcessSegment(seg)
		if complete {
			break
		}
	}
	require.True(t, complete)
	assert.Equal(t, payload, result)
	assert.Zero(t, r.ActiveReassemblies())
}

func TestTpRoundTripShuffledWithDuplicates(t *testing.T) {
	s := NewSegmenter(testConfig())
	r := NewReassembler(testConfig())

	payload := make([]byte, 10000)
	rng := rand.New(rand.NewSource(42))
	rng.Read(payload)

	segments, err := s.SegmentMessage(newTpMessage(payload))
	require.NoError(t, err)

	// The first segment must lead (it creates the buffer); the rest
	// arrive shuffled and doubled.
	rest := append([]Segment(nil), segments[1:]...)
	rest = append(rest, segments[1:]...)
	rng.Shuffle(len(rest), func(i, j int) { rest[i], rest[j] = rest[j], rest[i] })

	_, complete := r.ProcessSegment(segments[0])
	require.False(t, complete)

	var result []byte
	for _, seg := range rest {
		if data, done := r.ProcessSegment(seg); done {
			result = data
		}
	}
	require.NotNil(t, result)
	assert.Equal(t, payload, result)
}

func TestTpSingleSegmentReassembly(t *testing.T) {
	s := NewSegmenter(testConfig())
	r := NewReassembler(testConfig())

	payload := []byte{0x01, 0x02, 0x03, 0x04}
	segments, err := s.SegmentMessage(newTpMessage(payload))
	require.NoError(t, err)
	require.Len(t, segments, 1)

	result, complete := r.ProcessSegment(segments[0])
	require.True(t, complete)
	assert.Equal(t, payload, result)
}

func TestReassemblerDropsOrphanSegments(t *testing.T) {
	r := NewReassembler(testConfig())

	seg := Segment{
		Header: SegmentHeader{
			SequenceNumber: 9,
			SegmentOffset:  1008,
			SegmentLength:  4,
			MessageLength:  2000,
			Type:           SegmentConsecutive,
		},
		Payload: []byte{1, 2, 3, 4},
	}
	_, complete := r.ProcessSegment(seg)
	assert.False(t, complete)
	assert.False(t, r.IsReassembling(9))
}

func TestReassemblerDropsInvalidSegments(t *testing.T) {
	r := NewReassembler(testConfig())

	// Declared length disagrees with the payload.
	_, complete := r.ProcessSegment(Segment{
		Header: SegmentHeader{
			SegmentLength: 10,
			MessageLength: 100,
			Type:          SegmentConsecutive,
		},
		Payload: []byte{1, 2},
	})
	assert.False(t, complete)

	// Message larger than the configured maximum.
	_, complete = r.ProcessSegment(Segment{
		Header: SegmentHeader{
			SegmentLength: 2,
			MessageLength: 50001,
			Type:          SegmentConsecutive,
		},
		Payload: []byte{1, 2},
	})
	assert.False(t, complete)

	// Range past the declared message length.
	_, complete = r.ProcessSegment(Segment{
		Header: SegmentHeader{
			SegmentOffset: 99,
			SegmentLength: 2,
			MessageLength: 100,
			Type:          SegmentConsecutive,
		},
		Payload: []byte{1, 2},
	})
	assert.False(t, complete)
}

func TestReassemblerProgressAndCancel(t *testing.T) {
	s := NewSegmenter(testConfig())
	r := NewReassembler(testConfig())

	segments, err := s.SegmentMessage(newTpMessage(make([]byte, 3000)))
	require.NoError(t, err)

	seq := segments[0].Header.SequenceNumber
	_, complete := r.ProcessSegment(segments[0])
	require.False(t, complete)
	assert.True(t, r.IsReassembling(seq))

	received, total, ok := r.Progress(seq)
	require.True(t, ok)
	assert.Equal(t, uint32(3000), total)
	assert.Equal(t, uint32(len(segments[0].Payload)-16), received)

	r.CancelReassembly(seq)
	assert.False(t, r.IsReassembling(seq))
	_, _, ok = r.Progress(seq)
	assert.False(t, ok)
}

func TestReassemblerTimeout(t *testing.T) {
	cfg := testConfig()
	cfg.ReassemblyTimeoutMs = 10
	r := NewReassembler(cfg)
	s := NewSegmenter(testConfig())

	segments, err := s.SegmentMessage(newTpMessage(make([]byte, 3000)))
	require.NoError(t, err)

	_, _ = r.ProcessSegment(segments[0])
	require.Equal(t, 1, r.ActiveReassemblies())

	time.Sleep(20 * time.Millisecond)
	r.ProcessTimeouts()
	assert.Zero(t, r.ActiveReassemblies())
}

func TestReassemblerUpdateConfig(t *testing.T) {
	r := NewReassembler(testConfig())
	cfg := testConfig()
	cfg.MaxMessageSize = 100
	r.UpdateConfig(cfg)

	_, complete := r.ProcessSegment(Segment{
		Header: SegmentHeader{
			SegmentLength: 2,
			MessageLength: 101,
			Type:          SegmentConsecutive,
		},
		Payload: []byte{1, 2},
	})
	assert.False(t, complete)
}
