package sd

import (
	"encoding/binary"

	someip "github.com/eshenhu/someip"
	"github.com/eshenhu/someip/serialization"
)

// Flag bits of the SD header. The low 6 bits are zeroed on transmit
// and ignored on receive.
const (
	FlagReboot         uint8 = 0x80
	FlagUnicastCapable uint8 = 0x40

	flagMask uint8 = 0xC0

	sdHeaderSize = 8
	// entryWalkLimit bounds the entries-and-options walk against
	// malformed length fields.
	entryWalkLimit = 100
)

// Message is an SD message: flags, a 24-bit reserved field and the
// ordered entries and options.
type Message struct {
	Flags    uint8
	Reserved uint32
	Entries  []Entry
	Options  []Option
}

// NewMessage creates an SD message with the unicast-capable flag set.
func NewMessage() *Message {
	return &Message{Flags: FlagUnicastCapable}
}

// SetReboot sets or clears the reboot flag.
func (m *Message) SetReboot(v bool) {
	if v {
		m.Flags |= FlagReboot
	} else {
		m.Flags &^= FlagReboot
	}
}

// SetUnicast sets or clears the unicast-capable flag.
func (m *Message) SetUnicast(v bool) {
	if v {
		m.Flags |= FlagUnicastCapable
	} else {
		m.Flags &^= FlagUnicastCapable
	}
}

// AddEntry appends an entry.
func (m *Message) AddEntry(e Entry) {
	m.Entries = append(m.Entries, e)
}

// AddOption appends an option.
func (m *Message) AddOption(o Option) {
	m.Options = append(m.Options, o)
}

// Serialize emits {flags & 0xC0, reserved u24, length u32, entries,
// options} and back-patches length = total - 8.
func (m *Message) Serialize() []byte {
	s := serialization.NewSerializer()

	s.WriteUint8(m.Flags & flagMask)
	s.WriteUint8(uint8(m.Reserved >> 16))
	s.WriteUint8(uint8(m.Reserved >> 8))
	s.WriteUint8(uint8(m.Reserved))
	s.WriteUint32(0) // length placeholder

	for i := range m.Entries {
		m.Entries[i].serialize(s)
	}
	for i := range m.Options {
		m.Options[i].serialize(s)
	}

	buf := s.Bytes()
	binary.BigEndian.PutUint32(buf[4:8], uint32(len(buf)-sdHeaderSize))
	return buf
}

// Deserialize parses a wire image. The entries-and-options region is
// walked with a discriminator on the first byte of each record: entry
// type values name entries, everything else is an option. Unknown
// option types are skipped by their length prefix. Parsing fails when
// the region does not consume exactly the declared length.
func (m *Message) Deserialize(data []byte) error {
	return m.DeserializeWithLog(data, nil)
}

// DeserializeWithLog parses like Deserialize and reports oddities
// (invalid addresses, unknown options, odd region lengths) to log.
func (m *Message) DeserializeWithLog(data []byte, log someip.Logger) error {
	if len(data) < sdHeaderSize {
		return someip.ErrMalformedMessage
	}

	d := serialization.NewDeserializer(data)

	flags, _ := d.ReadUint8()
	m.Flags = flags
	b0, _ := d.ReadUint8()
	b1, _ := d.ReadUint8()
	b2, _ := d.ReadUint8()
	m.Reserved = uint32(b0)<<16 | uint32(b1)<<8 | uint32(b2)

	length, err := d.ReadUint32()
	if err != nil {
		return err
	}
	if sdHeaderSize+int(length) > len(data) {
		return someip.ErrMalformedMessage
	}
	if length%16 != 0 && log != nil {
		log.Debugf("sd: region length %d is not a multiple of the entry size", length)
	}

	m.Entries = nil
	m.Options = nil

	end := sdHeaderSize + int(length)
	for iter := 0; d.Position() < end && iter < entryWalkLimit; iter++ {
		discriminator := data[d.Position()]

		if isEntryType(discriminator) {
			entry, err := deserializeEntry(d)
			if err != nil {
				return err
			}
			m.Entries = append(m.Entries, entry)
			continue
		}

		if err := m.deserializeOption(d, data, log); err != nil {
			return err
		}
	}

	if d.Position() != end {
		return someip.ErrMalformedMessage
	}
	return nil
}

func (m *Message) deserializeOption(d *serialization.Deserializer, data []byte, log someip.Logger) error {
	length, err := d.ReadUint16()
	if err != nil {
		return err
	}
	t, err := d.ReadUint8()
	if err != nil {
		return err
	}
	if _, err := d.ReadUint8(); err != nil { // reserved
		return err
	}

	var o Option
	o.Type = OptionType(t)

	switch o.Type {
	case OptionIPv4Endpoint, OptionIPv4SdEndpoint:
		if o.IPv4, err = d.ReadUint32(); err != nil {
			return err
		}
		if invalidIPv4(o.IPv4) && log != nil {
			log.Debugf("sd: invalid IP address in endpoint option: %s", o.AddressString())
		}
		if _, err = d.ReadUint8(); err != nil { // reserved
			return err
		}
		if o.Protocol, err = d.ReadUint8(); err != nil {
			return err
		}
		if o.Port, err = d.ReadUint16(); err != nil {
			return err
		}
	case OptionIPv4Multicast:
		if o.IPv4, err = d.ReadUint32(); err != nil {
			return err
		}
		if invalidIPv4(o.IPv4) && log != nil {
			log.Debugf("sd: invalid IP address in multicast option: %s", o.AddressString())
		}
		if _, err = d.ReadUint8(); err != nil { // reserved
			return err
		}
		if o.Port, err = d.ReadUint16(); err != nil {
			return err
		}
	case OptionConfiguration:
		if d.Position()+int(length) > len(data) {
			return someip.ErrMalformedMessage
		}
		o.ConfigString = string(data[d.Position() : d.Position()+int(length)])
		d.Skip(int(length))
	default:
		// Unknown option: skip it by its length prefix.
		if log != nil {
			log.Debugf("sd: unknown option type 0x%02x, skipping", t)
		}
		if d.Position()+int(length) > len(data) {
			return someip.ErrMalformedMessage
		}
		d.Skip(int(length))
		return nil
	}

	m.Options = append(m.Options, o)
	return nil
}
