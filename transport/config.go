package transport

// Config carries the UDP socket options. Default values follow the
// SOME/IP recommendation of keeping datagrams under 1400 bytes to
// avoid IP fragmentation.
type Config struct {
	// Blocking selects blocking reads; non-blocking mode polls with a
	// short read deadline.
	Blocking bool `yaml:"blocking"`
	// ReceiveBufferSize sizes both the SO_RCVBUF request and the
	// per-datagram receive buffer.
	ReceiveBufferSize int `yaml:"receive_buffer_size"`
	// SendBufferSize is the SO_SNDBUF request.
	SendBufferSize int `yaml:"send_buffer_size"`
	// ReuseAddress sets SO_REUSEADDR.
	ReuseAddress bool `yaml:"reuse_address"`
	// ReusePort sets SO_REUSEPORT so several processes can share the
	// SD multicast port.
	ReusePort bool `yaml:"reuse_port"`
	// EnableBroadcast sets SO_BROADCAST.
	EnableBroadcast bool `yaml:"enable_broadcast"`
	// MulticastInterface picks the outbound multicast interface by
	// address; empty selects the default interface.
	MulticastInterface string `yaml:"multicast_interface"`
	// MulticastTTL is the IP_MULTICAST_TTL value (1 = local network).
	MulticastTTL int `yaml:"multicast_ttl"`
	// MaxMessageSize is an advisory send-size check; 0 disables it.
	MaxMessageSize int `yaml:"max_message_size"`
}

// DefaultConfig returns the recommended UDP settings.
func DefaultConfig() Config {
	return Config{
		Blocking:          true,
		ReceiveBufferSize: 65536,
		SendBufferSize:    65536,
		ReuseAddress:      true,
		ReusePort:         false,
		EnableBroadcast:   false,
		MulticastTTL:      1,
		MaxMessageSize:    1400,
	}
}
