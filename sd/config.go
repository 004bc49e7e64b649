package sd

import (
	"time"

	"github.com/eshenhu/someip/transport"
)

// Config carries the SD client/server parameters.
type Config struct {
	// UnicastAddress/UnicastPort is the local endpoint the transport
	// binds to. Port 0 requests an OS-assigned port.
	UnicastAddress string `yaml:"unicast_address"`
	UnicastPort    uint16 `yaml:"unicast_port"`

	// MulticastAddress/MulticastPort is the group SD traffic is sent
	// to.
	MulticastAddress string `yaml:"multicast_address"`
	MulticastPort    uint16 `yaml:"multicast_port"`

	// InitialDelayMs is the first offer-timer period; it grows by
	// RepetitionMultiplier per iteration up to RepetitionMaxMs.
	InitialDelayMs       uint32 `yaml:"initial_delay_ms"`
	RepetitionMaxMs      uint32 `yaml:"repetition_max_ms"`
	RepetitionMultiplier int    `yaml:"repetition_multiplier"`

	// CyclicOfferMs is the minimum spacing between offers per service.
	CyclicOfferMs uint32 `yaml:"cyclic_offer_ms"`

	// MaxServices caps the offered-services list; the oldest entry is
	// evicted past the cap.
	MaxServices int `yaml:"max_services"`

	// FindTimeoutMs is the default find-service timeout.
	FindTimeoutMs uint32 `yaml:"find_timeout_ms"`

	// Transport carries the UDP socket options.
	Transport transport.Config `yaml:"transport"`
}

// DefaultConfig returns the standard SD parameters on port 30490.
func DefaultConfig() Config {
	return Config{
		UnicastAddress:       "0.0.0.0",
		UnicastPort:          30490,
		MulticastAddress:     "239.255.255.251",
		MulticastPort:        30490,
		InitialDelayMs:       100,
		RepetitionMaxMs:      2000,
		RepetitionMultiplier: 2,
		CyclicOfferMs:        1000,
		MaxServices:          100,
		FindTimeoutMs:        5000,
		Transport:            transport.DefaultConfig(),
	}
}

func (c *Config) initialDelay() time.Duration {
	return time.Duration(c.InitialDelayMs) * time.Millisecond
}

func (c *Config) repetitionMax() time.Duration {
	return time.Duration(c.RepetitionMaxMs) * time.Millisecond
}

func (c *Config) cyclicOffer() time.Duration {
	return time.Duration(c.CyclicOfferMs) * time.Millisecond
}

func (c *Config) findTimeout() time.Duration {
	return time.Duration(c.FindTimeoutMs) * time.Millisecond
}

// multicastEndpoint is where SD messages are multicast to.
func (c *Config) multicastEndpoint() transport.Endpoint {
	return transport.NewEndpoint(c.MulticastAddress, c.MulticastPort)
}
