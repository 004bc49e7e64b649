package sd

import (
	"fmt"
	"net"

	"github.com/eshenhu/someip/serialization"
)

// OptionType discriminates SD options.
type OptionType uint8

const (
	OptionConfiguration  OptionType = 0x01
	OptionIPv4Endpoint   OptionType = 0x04
	OptionIPv4Multicast  OptionType = 0x14
	OptionIPv4SdEndpoint OptionType = 0x24
)

// Option is an SD option. Endpoint variants carry address, protocol
// and port; multicast options carry address and port; configuration
// options carry a raw string. The length prefix counts the bytes after
// the 4-byte option header {length u16, type u8, reserved u8}.
type Option struct {
	Type OptionType
	// IPv4 is the address as a big-endian integer (192.168.1.100 is
	// 0xC0A80164).
	IPv4     uint32
	Protocol uint8
	Port     uint16
	// ConfigString is the payload of configuration options.
	ConfigString string
}

// IPv4ToUint32 converts a dotted-quad string; invalid input yields 0.
func IPv4ToUint32(address string) uint32 {
	ip := net.ParseIP(address)
	if ip == nil {
		return 0
	}
	ip4 := ip.To4()
	if ip4 == nil {
		return 0
	}
	return uint32(ip4[0])<<24 | uint32(ip4[1])<<16 | uint32(ip4[2])<<8 | uint32(ip4[3])
}

// Uint32ToIPv4 renders the big-endian integer form as a dotted quad.
func Uint32ToIPv4(v uint32) string {
	return fmt.Sprintf("%d.%d.%d.%d", byte(v>>24), byte(v>>16), byte(v>>8), byte(v))
}

// AddressString returns the option's address as a dotted quad.
func (o *Option) AddressString() string {
	return Uint32ToIPv4(o.IPv4)
}

// NewIPv4EndpointOption builds a unicast endpoint option.
func NewIPv4EndpointOption(address string, port uint16, protocol uint8) Option {
	return Option{
		Type:     OptionIPv4Endpoint,
		IPv4:     IPv4ToUint32(address),
		Protocol: protocol,
		Port:     port,
	}
}

// NewIPv4MulticastOption builds a multicast endpoint option.
func NewIPv4MulticastOption(address string, port uint16) Option {
	return Option{
		Type: OptionIPv4Multicast,
		IPv4: IPv4ToUint32(address),
		Port: port,
	}
}

// NewConfigurationOption builds a configuration option.
func NewConfigurationOption(config string) Option {
	return Option{Type: OptionConfiguration, ConfigString: config}
}

// serialize appends the option's wire image.
func (o *Option) serialize(s *serialization.Serializer) {
	switch o.Type {
	case OptionIPv4Endpoint, OptionIPv4SdEndpoint:
		s.WriteUint16(8)
		s.WriteUint8(uint8(o.Type))
		s.WriteUint8(0)
		s.WriteUint32(o.IPv4)
		s.WriteUint8(0)
		s.WriteUint8(o.Protocol)
		s.WriteUint16(o.Port)
	case OptionIPv4Multicast:
		s.WriteUint16(7)
		s.WriteUint8(uint8(o.Type))
		s.WriteUint8(0)
		s.WriteUint32(o.IPv4)
		s.WriteUint8(0)
		s.WriteUint16(o.Port)
	case OptionConfiguration:
		s.WriteUint16(uint16(len(o.ConfigString)))
		s.WriteUint8(uint8(o.Type))
		s.WriteUint8(0)
		for i := 0; i < len(o.ConfigString); i++ {
			s.WriteUint8(o.ConfigString[i])
		}
	}
}

// invalidIPv4 flags the all-zeros and all-ones addresses.
func invalidIPv4(v uint32) bool {
	return v == 0 || v == 0xFFFFFFFF
}
