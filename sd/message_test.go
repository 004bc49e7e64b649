package sd

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eshenhu/someip/serialization"
)

func TestIPv4EndpointOptionWireImage(t *testing.T) {
	o := NewIPv4EndpointOption("192.168.1.100", 30509, 0x11)

	s := serialization.NewSerializer()
	o.serialize(s)

	assert.Equal(t, []byte{
		0x00, 0x08, // length
		0x04, 0x00, // type, reserved
		0xC0, 0xA8, 0x01, 0x64, // 192.168.1.100
		0x00, 0x11, // reserved, protocol UDP
		0x77, 0x2D, // port 30509
	}, s.Bytes())
}

func TestIPv4MulticastOptionWireImage(t *testing.T) {
	o := NewIPv4MulticastOption("239.255.255.251", 30490)

	s := serialization.NewSerializer()
	o.serialize(s)

	assert.Equal(t, []byte{
		0x00, 0x07,
		0x14, 0x00,
		0xEF, 0xFF, 0xFF, 0xFB,
		0x00,
		0x77, 0x1A,
	}, s.Bytes())
}

func TestIPv4Conversions(t *testing.T) {
	assert.Equal(t, uint32(0xC0A80164), IPv4ToUint32("192.168.1.100"))
	assert.Equal(t, "192.168.1.100", Uint32ToIPv4(0xC0A80164))
	assert.Equal(t, uint32(0), IPv4ToUint32("not-an-ip"))
}

func TestSdMessageHeaderAndLength(t *testing.T) {
	m := NewMessage()
	m.Flags |= 0x3F // low bits must be masked off on transmit
	m.SetReboot(true)

	data := m.Serialize()
	require.Len(t, data, 8)
	assert.Equal(t, uint8(0xC0), data[0])
	assert.Equal(t, []byte{0x00, 0x00, 0x00, 0x00}, data[4:8])
}

func TestSdMessageRoundTrip(t *testing.T) {
	m := NewMessage()
	m.AddEntry(Entry{
		Type:         EntryOfferService,
		Index1:       0,
		ServiceID:    0x1234,
		InstanceID:   0x5678,
		MajorVersion: 0x01,
		TTL:          30,
	})
	m.AddEntry(Entry{
		Type:         EntrySubscribeEventgroup,
		ServiceID:    0x1234,
		InstanceID:   0x5678,
		MajorVersion: 0x01,
		TTL:          3600,
		EventgroupID: 0x0001,
	})
	m.AddOption(NewIPv4EndpointOption("10.0.0.1", 40000, 0x11))
	m.AddOption(NewIPv4MulticastOption("224.0.0.1", 30490))
	m.AddOption(NewConfigurationOption("name=demo"))

	var decoded Message
	require.NoError(t, decoded.Deserialize(m.Serialize()))

	require.Len(t, decoded.Entries, 2)
	assert.Equal(t, EntryOfferService, decoded.Entries[0].Type)
	assert.Equal(t, uint16(0x1234), decoded.Entries[0].ServiceID)
	assert.Equal(t, uint16(0x5678), decoded.Entries[0].InstanceID)
	assert.Equal(t, uint32(30), decoded.Entries[0].TTL)
	assert.Equal(t, EntrySubscribeEventgroup, decoded.Entries[1].Type)
	assert.Equal(t, uint16(0x0001), decoded.Entries[1].EventgroupID)
	assert.Equal(t, uint32(3600), decoded.Entries[1].TTL)

	require.Len(t, decoded.Options, 3)
	assert.Equal(t, OptionIPv4Endpoint, decoded.Options[0].Type)
	assert.Equal(t, "10.0.0.1", decoded.Options[0].AddressString())
	assert.Equal(t, uint16(40000), decoded.Options[0].Port)
	assert.Equal(t, uint8(0x11), decoded.Options[0].Protocol)
	assert.Equal(t, OptionIPv4Multicast, decoded.Options[1].Type)
	assert.Equal(t, uint16(30490), decoded.Options[1].Port)
	assert.Equal(t, OptionConfiguration, decoded.Options[2].Type)
	assert.Equal(t, "name=demo", decoded.Options[2].ConfigString)
}

func TestSdMessageStopEntries(t *testing.T) {
	m := NewMessage()
	m.AddEntry(Entry{Type: EntryOfferService, ServiceID: 1, InstanceID: 2, TTL: 0})

	var decoded Message
	require.NoError(t, decoded.Deserialize(m.Serialize()))
	require.Len(t, decoded.Entries, 1)
	assert.Equal(t, uint32(0), decoded.Entries[0].TTL)
}

func TestSdMessageSkipsUnknownOption(t *testing.T) {
	m := NewMessage()
	m.AddEntry(Entry{Type: EntryFindService, ServiceID: 7, InstanceID: 0xFFFF, TTL: 3})
	data := m.Serialize()

	// Append an unknown option {length=2, type=0x55, reserved, 2 bytes}
	// and patch the region length.
	data = append(data, 0x00, 0x02, 0x55, 0x00, 0xAA, 0xBB)
	region := uint32(len(data) - 8)
	data[4] = byte(region >> 24)
	data[5] = byte(region >> 16)
	data[6] = byte(region >> 8)
	data[7] = byte(region)

	var decoded Message
	require.NoError(t, decoded.Deserialize(data))
	assert.Len(t, decoded.Entries, 1)
	assert.Empty(t, decoded.Options)
}

func TestSdMessageRejectsTruncatedRegion(t *testing.T) {
	m := NewMessage()
	m.AddEntry(Entry{Type: EntryOfferService, ServiceID: 1, InstanceID: 2, TTL: 5})
	data := m.Serialize()

	var decoded Message
	assert.Error(t, decoded.Deserialize(data[:len(data)-3]))
	assert.Error(t, decoded.Deserialize(data[:4]))
}

func TestSdMessageUnicastFlag(t *testing.T) {
	m := NewMessage()
	assert.Equal(t, FlagUnicastCapable, m.Flags&FlagUnicastCapable)
	m.SetUnicast(false)
	assert.Zero(t, m.Flags&FlagUnicastCapable)
	m.SetReboot(true)
	assert.Equal(t, FlagReboot, m.Flags&FlagReboot)
	m.SetReboot(false)
	assert.Zero(t, m.Flags)
}
