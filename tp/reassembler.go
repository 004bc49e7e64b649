package tp

import (
	"sync"
	"time"

	someip "github.com/eshenhu/someip"
)

// reassemblyBuffer accumulates the payload of one segmented message,
// keyed by sequence number. The coverage mask, not arrival order,
// decides completion.
type reassemblyBuffer struct {
	sequenceNumber uint8
	totalLength    uint32
	receivedData   []byte
	receivedMask   []bool
	startTime      time.Time
	complete       bool
}

func newReassemblyBuffer(sequence uint8, totalLength uint32) *reassemblyBuffer {
	return &reassemblyBuffer{
		sequenceNumber: sequence,
		totalLength:    totalLength,
		receivedData:   make([]byte, totalLength),
		receivedMask:   make([]bool, totalLength),
		startTime:      time.Now(),
	}
}

// isRangeReceived reports whether every byte in [offset, offset+n) is
// already marked.
func (b *reassemblyBuffer) isRangeReceived(offset uint32, n int) bool {
	if n == 0 {
		return false
	}
	for i := 0; i < n; i++ {
		idx := offset + uint32(i)
		if idx >= uint32(len(b.receivedMask)) || !b.receivedMask[idx] {
			return false
		}
	}
	return true
}

func (b *reassemblyBuffer) markReceived(offset uint32, n int) {
	for i := 0; i < n; i++ {
		idx := offset + uint32(i)
		if idx < uint32(len(b.receivedMask)) {
			b.receivedMask[idx] = true
		}
	}
}

func (b *reassemblyBuffer) isComplete() bool {
	if b.complete {
		return true
	}
	for _, received := range b.receivedMask {
		if !received {
			return false
		}
	}
	return true
}

func (b *reassemblyBuffer) receivedBytes() uint32 {
	var n uint32
	for _, received := range b.receivedMask {
		if received {
			n++
		}
	}
	return n
}

// Reassembler rebuilds message payloads from TP segments. Invalid and
// duplicate segments are dropped silently; completion is an
// affirmative return.
type Reassembler struct {
	mu      sync.Mutex
	config  Config
	buffers map[uint8]*reassemblyBuffer
}

// NewReassembler creates a reassembler with the given config.
func NewReassembler(config Config) *Reassembler {
	return &Reassembler{
		config:  config,
		buffers: make(map[uint8]*reassemblyBuffer),
	}
}

// UpdateConfig replaces the reassembly limits.
func (r *Reassembler) UpdateConfig(config Config) {
	r.mu.Lock()
	r.config = config
	r.mu.Unlock()
}

// ProcessSegment feeds one segment in. When the segment completes a
// message it returns the reassembled payload and true, and the buffer
// is released. A buffer is only created by a FIRST or SINGLE segment;
// CONSECUTIVE/LAST segments without one are dropped.
func (r *Reassembler) ProcessSegment(seg Segment) ([]byte, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.validateSegment(seg) {
		return nil, false
	}

	buffer, ok := r.buffers[seg.Header.SequenceNumber]
	if !ok {
		if seg.Header.Type != SegmentFirst && seg.Header.Type != SegmentSingle {
			return nil, false
		}
		buffer = newReassemblyBuffer(seg.Header.SequenceNumber, seg.Header.MessageLength)
		r.buffers[seg.Header.SequenceNumber] = buffer
	}

	r.addSegment(buffer, seg)

	if buffer.isComplete() {
		buffer.complete = true
		delete(r.buffers, seg.Header.SequenceNumber)
		return buffer.receivedData, true
	}
	return nil, false
}

// validateSegment bounds-checks the header against the payload and the
// configured maximum. FIRST and SINGLE segments start with the SOME/IP
// header, so instead of the offset bound they must be at least one
// header long.
func (r *Reassembler) validateSegment(seg Segment) bool {
	if int(seg.Header.SegmentLength) != len(seg.Payload) {
		return false
	}
	if int(seg.Header.MessageLength) > r.config.MaxMessageSize {
		return false
	}
	if seg.Header.Type == SegmentSingle {
		return len(seg.Payload) >= someip.HeaderSize
	}
	if seg.Header.Type == SegmentFirst {
		return len(seg.Payload) >= someip.HeaderSize
	}
	return uint64(seg.Header.SegmentOffset)+uint64(seg.Header.SegmentLength) <=
		uint64(seg.Header.MessageLength)
}

// addSegment copies segment bytes into the buffer. FIRST and SINGLE
// payloads start with the 16-byte SOME/IP header, which is skipped;
// their data lands at offset 0. CONSECUTIVE/LAST data lands at the
// segment offset. Ranges already marked are ignored as duplicates.
func (r *Reassembler) addSegment(buffer *reassemblyBuffer, seg Segment) {
	var data []byte
	var offset uint32

	switch seg.Header.Type {
	case SegmentFirst, SegmentSingle:
		data = seg.Payload[someip.HeaderSize:]
		offset = 0
	default:
		data = seg.Payload
		offset = seg.Header.SegmentOffset
	}

	if uint64(offset)+uint64(len(data)) > uint64(buffer.totalLength) {
		// Clamp rather than overflow the buffer.
		if offset >= buffer.totalLength {
			return
		}
		data = data[:buffer.totalLength-offset]
	}

	if buffer.isRangeReceived(offset, len(data)) {
		return
	}

	copy(buffer.receivedData[offset:], data)
	buffer.markReceived(offset, len(data))
}

// IsReassembling reports whether a buffer exists for the sequence.
func (r *Reassembler) IsReassembling(sequence uint8) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.buffers[sequence]
	return ok
}

// Progress returns the received and total byte counts for an active
// reassembly.
func (r *Reassembler) Progress(sequence uint8) (received, total uint32, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	buffer, found := r.buffers[sequence]
	if !found {
		return 0, 0, false
	}
	return buffer.receivedBytes(), buffer.totalLength, true
}

// CancelReassembly drops a partial buffer.
func (r *Reassembler) CancelReassembly(sequence uint8) {
	r.mu.Lock()
	delete(r.buffers, sequence)
	r.mu.Unlock()
}

// ActiveReassemblies returns the number of partial buffers.
func (r *Reassembler) ActiveReassemblies() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.buffers)
}

// ProcessTimeouts removes buffers older than the reassembly timeout.
// Callers invoke it periodically; no negative acknowledgement is sent.
func (r *Reassembler) ProcessTimeouts() {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()
	for sequence, buffer := range r.buffers {
		if now.Sub(buffer.startTime) > r.config.reassemblyTimeout() {
			delete(r.buffers, sequence)
		}
	}
}
