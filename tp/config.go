package tp

import "time"

// singleSegmentTpThreshold: single-segment payloads above this size
// still get the TP flag.
const singleSegmentTpThreshold = 1000

// Config bounds segmentation and reassembly.
type Config struct {
	// MaxSegmentSize caps the wire size of FIRST, CONSECUTIVE and LAST
	// segments including headers. A payload of at most this size goes
	// out as one SINGLE segment, whose wire size adds the message headers.
	MaxSegmentSize int `yaml:"max_segment_size"`
	// MaxMessageSize caps the reassembled payload.
	MaxMessageSize int `yaml:"max_message_size"`
	// ReassemblyTimeoutMs expires partial buffers.
	ReassemblyTimeoutMs uint32 `yaml:"reassembly_timeout_ms"`
}

// DefaultConfig keeps segments under the recommended 1400-byte
// datagram size.
func DefaultConfig() Config {
	return Config{
		MaxSegmentSize:      1400,
		MaxMessageSize:      1 << 20,
		ReassemblyTimeoutMs: 5000,
	}
}

func (c *Config) reassemblyTimeout() time.Duration {
	return time.Duration(c.ReassemblyTimeoutMs) * time.Millisecond
}
