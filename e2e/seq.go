package e2e

import (
	"sync"
	"time"

	someip "github.com/eshenhu/someip"
)

// rolloverWindow is the tolerance for counter wrap-around: when the
// last seen counter sits within the window below the maximum, incoming
// counters up to the window size are accepted as a legitimate wrap.
const rolloverWindow = 10

// seqTracker keeps per-data-id counter and freshness state for a
// profile instance.
type seqTracker struct {
	mu        sync.Mutex
	counters  map[uint16]uint32
	freshness map[uint16]uint16
}

func newSeqTracker() *seqTracker {
	return &seqTracker{
		counters:  make(map[uint16]uint32),
		freshness: make(map[uint16]uint16),
	}
}

// advance increments the counter for a data id, wrapping past max back
// to 1, and returns the new value.
func (t *seqTracker) advance(dataID uint16, max uint32) uint32 {
	t.mu.Lock()
	defer t.mu.Unlock()
	next := t.counters[dataID] + 1
	if next > max {
		next = 1
	}
	t.counters[dataID] = next
	return next
}

// stamp records and returns the current freshness value for a data id.
func (t *seqTracker) stamp(dataID uint16) uint16 {
	f := freshnessNow()
	t.mu.Lock()
	t.freshness[dataID] = f
	t.mu.Unlock()
	return f
}

// check applies the sequence policy per data id: first-seen accepts
// anything in [1, max], equal counters are idempotent revalidation,
// higher counters advance, and lower counters are only accepted inside
// the rollover window.
func (t *seqTracker) check(dataID uint16, counter, max uint32) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	last := t.counters[dataID]
	switch {
	case last == 0:
		if counter < 1 || counter > max {
			return someip.ErrInvalidArgument
		}
	case counter == last:
		// Revalidation of the same message.
	case counter > last:
	default:
		nearRollover := last > max-rolloverWindow
		if !nearRollover || counter < 1 || counter > rolloverWindow {
			return someip.ErrInvalidArgument
		}
	}

	if counter > last || (last > max-rolloverWindow && counter <= rolloverWindow) {
		t.counters[dataID] = counter
	}
	return nil
}

// monotonicBase anchors freshness stamps to a steady clock.
var monotonicBase = time.Now()

func freshnessNow() uint16 {
	ms := time.Since(monotonicBase).Milliseconds()
	return uint16(ms & 0xFFFF)
}

// stale compares the low-16-bit millisecond stamps modulo 2^16: large
// differences that cannot be explained by wrap-around mean the data
// aged past the timeout.
func stale(freshness uint16, timeoutMs uint32) bool {
	now := freshnessNow()
	var diff uint16
	if now >= freshness {
		diff = now - freshness
	} else {
		diff = (0xFFFF - freshness) + now + 1
	}
	timeout := uint16(timeoutMs)
	return diff > timeout && diff < 0xFFFF-timeout
}
