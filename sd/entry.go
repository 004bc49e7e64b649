// Package sd implements SOME/IP Service Discovery: the
// entries-and-options wire format and the client/server offer, find
// and subscribe behaviors over UDP multicast and unicast.
package sd

import (
	"github.com/eshenhu/someip/serialization"
)

// SdMulticastGroup is the fixed group SD traffic uses.
const SdMulticastGroup = "224.224.224.245"

// EntryType discriminates SD entries. Stop-offer and stop-subscribe
// reuse the offer/subscribe types with TTL 0.
type EntryType uint8

const (
	EntryFindService            EntryType = 0x00
	EntryOfferService           EntryType = 0x01
	EntrySubscribeEventgroup    EntryType = 0x06
	EntrySubscribeEventgroupAck EntryType = 0x07
)

// isEntryType reports whether a record discriminator byte names an
// entry; anything else in the entries-and-options region is an option.
func isEntryType(b uint8) bool {
	switch EntryType(b) {
	case EntryFindService, EntryOfferService,
		EntrySubscribeEventgroup, EntrySubscribeEventgroupAck:
		return true
	}
	return false
}

func isEventgroupEntry(t EntryType) bool {
	return t == EntrySubscribeEventgroup || t == EntrySubscribeEventgroupAck
}

// Entry is an SD entry. Service entries (find/offer) and eventgroup
// entries (subscribe/ack) share the common fields; EventgroupID is
// only meaningful, and only serialized, for eventgroup entries.
// MinorVersion is carried in memory for service entries but the
// encoder does not put it on the wire.
//
// The option-count bytes are written as zero; entries reference
// options through Index1/Index2 alone.
type Entry struct {
	Type         EntryType
	Index1       uint8
	Index2       uint8
	NumOptions1  uint8
	NumOptions2  uint8
	ServiceID    uint16
	InstanceID   uint16
	MajorVersion uint8
	MinorVersion uint32
	TTL          uint32
	EventgroupID uint16
}

// serialize appends the entry's wire image.
func (e *Entry) serialize(s *serialization.Serializer) {
	s.WriteUint8(uint8(e.Type))
	s.WriteUint8(e.Index1)
	s.WriteUint8(e.Index2)
	s.WriteUint8(0)
	s.WriteUint8(0)
	s.WriteUint16(e.ServiceID)
	s.WriteUint16(e.InstanceID)
	s.WriteUint8(e.MajorVersion)
	s.WriteUint32(e.TTL)
	if isEventgroupEntry(e.Type) {
		s.WriteUint16(e.EventgroupID)
	}
}

// deserializeEntry reads one entry at the decoder's position.
func deserializeEntry(d *serialization.Deserializer) (Entry, error) {
	var e Entry

	t, err := d.ReadUint8()
	if err != nil {
		return e, err
	}
	e.Type = EntryType(t)
	if e.Index1, err = d.ReadUint8(); err != nil {
		return e, err
	}
	if e.Index2, err = d.ReadUint8(); err != nil {
		return e, err
	}
	if e.NumOptions1, err = d.ReadUint8(); err != nil {
		return e, err
	}
	if e.NumOptions2, err = d.ReadUint8(); err != nil {
		return e, err
	}
	if e.ServiceID, err = d.ReadUint16(); err != nil {
		return e, err
	}
	if e.InstanceID, err = d.ReadUint16(); err != nil {
		return e, err
	}
	if e.MajorVersion, err = d.ReadUint8(); err != nil {
		return e, err
	}
	if e.TTL, err = d.ReadUint32(); err != nil {
		return e, err
	}
	if isEventgroupEntry(e.Type) {
		if e.EventgroupID, err = d.ReadUint16(); err != nil {
			return e, err
		}
	}
	return e, nil
}

// ServiceInstance is the in-memory state about a remote service.
type ServiceInstance struct {
	ServiceID    uint16
	InstanceID   uint16
	MajorVersion uint8
	MinorVersion uint32
	IPAddress    string
	Port         uint16
	Protocol     uint8
	TTLSeconds   uint32
}
