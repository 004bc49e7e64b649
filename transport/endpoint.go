// Package transport provides the UDP datagram binding for SOME/IP
// messages: a bound socket with a dedicated receive worker, multicast
// group management and listener callbacks.
package transport

import (
	"fmt"
	"net"
	"strconv"

	someip "github.com/eshenhu/someip"
)

// Protocol numbers used in SD endpoint options.
const (
	ProtocolUDP uint8 = 0x11
	ProtocolTCP uint8 = 0x06
)

// Endpoint is an IPv4 address/port pair.
type Endpoint struct {
	Address string `yaml:"address"`
	Port    uint16 `yaml:"port"`
}

// NewEndpoint creates an endpoint from address and port.
func NewEndpoint(address string, port uint16) Endpoint {
	return Endpoint{Address: address, Port: port}
}

// ParseEndpoint parses an "ip:port" string.
func ParseEndpoint(s string) (Endpoint, error) {
	host, portStr, err := net.SplitHostPort(s)
	if err != nil {
		return Endpoint{}, someip.ErrInvalidEndpoint
	}
	port, err := strconv.ParseUint(portStr, 10, 16)
	if err != nil {
		return Endpoint{}, someip.ErrInvalidEndpoint
	}
	return Endpoint{Address: host, Port: uint16(port)}, nil
}

// IsValid reports whether the address parses as IPv4.
func (e Endpoint) IsValid() bool {
	ip := net.ParseIP(e.Address)
	return ip != nil && ip.To4() != nil
}

// IsMulticast reports whether the address falls in 224.0.0.0/4.
func (e Endpoint) IsMulticast() bool {
	ip := net.ParseIP(e.Address)
	if ip == nil {
		return false
	}
	ip4 := ip.To4()
	return ip4 != nil && ip4[0] >= 224 && ip4[0] <= 239
}

// UDPAddr converts the endpoint to a net.UDPAddr.
func (e Endpoint) UDPAddr() *net.UDPAddr {
	return &net.UDPAddr{IP: net.ParseIP(e.Address), Port: int(e.Port)}
}

func (e Endpoint) String() string {
	return fmt.Sprintf("%s:%d", e.Address, e.Port)
}

// endpointFromUDPAddr converts a net.UDPAddr back to an Endpoint.
func endpointFromUDPAddr(addr *net.UDPAddr) Endpoint {
	ip := addr.IP
	if ip4 := ip.To4(); ip4 != nil {
		ip = ip4
	}
	return Endpoint{Address: ip.String(), Port: uint16(addr.Port)}
}
