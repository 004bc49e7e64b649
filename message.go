package someip

import (
	"encoding/binary"
	"fmt"
	"time"
)

// MessageID identifies a service method or event.
type MessageID struct {
	ServiceID uint16
	MethodID  uint16
}

// ToUint32 packs the message id into its wire form.
func (id MessageID) ToUint32() uint32 {
	return uint32(id.ServiceID)<<16 | uint32(id.MethodID)
}

// MessageIDFromUint32 splits the wire form into its components.
func MessageIDFromUint32(v uint32) MessageID {
	return MessageID{ServiceID: uint16(v >> 16), MethodID: uint16(v)}
}

// RequestID identifies a client/session pair. Session id 0 means
// session handling is disabled.
type RequestID struct {
	ClientID  uint16
	SessionID uint16
}

// ToUint32 packs the request id into its wire form.
func (id RequestID) ToUint32() uint32 {
	return uint32(id.ClientID)<<16 | uint32(id.SessionID)
}

// RequestIDFromUint32 splits the wire form into its components.
func RequestIDFromUint32(v uint32) RequestID {
	return RequestID{ClientID: uint16(v >> 16), SessionID: uint16(v)}
}

// Message is a SOME/IP message: the 16-byte fixed header, an optional
// 12-byte E2E header and the payload. The length field is kept
// consistent by every mutating method.
type Message struct {
	messageID        MessageID
	length           uint32
	requestID        RequestID
	protocolVersion  uint8
	interfaceVersion uint8
	messageType      MessageType
	returnCode       ReturnCode
	e2eHeader        *E2EHeader
	payload          []byte
	timestamp        time.Time
}

// NewMessage creates a message with an empty payload.
func NewMessage(messageID MessageID, requestID RequestID,
	messageType MessageType, returnCode ReturnCode) *Message {
	m := &Message{
		messageID:        messageID,
		requestID:        requestID,
		protocolVersion:  ProtocolVersion,
		interfaceVersion: InterfaceVersion,
		messageType:      messageType,
		returnCode:       returnCode,
		timestamp:        time.Now(),
	}
	m.UpdateLength()
	return m
}

func (m *Message) MessageID() MessageID   { return m.messageID }
func (m *Message) ServiceID() uint16      { return m.messageID.ServiceID }
func (m *Message) MethodID() uint16       { return m.messageID.MethodID }
func (m *Message) RequestID() RequestID   { return m.requestID }
func (m *Message) ClientID() uint16       { return m.requestID.ClientID }
func (m *Message) SessionID() uint16      { return m.requestID.SessionID }
func (m *Message) Length() uint32         { return m.length }
func (m *Message) ProtocolVersion() uint8 { return m.protocolVersion }
func (m *Message) InterfaceVersion() uint8 {
	return m.interfaceVersion
}
func (m *Message) Type() MessageType    { return m.messageType }
func (m *Message) Code() ReturnCode     { return m.returnCode }
func (m *Message) Payload() []byte      { return m.payload }
func (m *Message) Timestamp() time.Time { return m.timestamp }

func (m *Message) SetMessageID(id MessageID) { m.messageID = id }
func (m *Message) SetRequestID(id RequestID) { m.requestID = id }
func (m *Message) SetType(t MessageType)     { m.messageType = t }
func (m *Message) SetCode(rc ReturnCode)     { m.returnCode = rc }

// SetPayload replaces the payload and refreshes the length field.
func (m *Message) SetPayload(p []byte) {
	m.payload = p
	m.UpdateLength()
}

// HasTpFlag reports whether the payload travels as TP segments.
func (m *Message) HasTpFlag() bool { return UsesTp(m.messageType) }

// E2EHeader returns the attached E2E header, if any.
func (m *Message) E2EHeader() (E2EHeader, bool) {
	if m.e2eHeader == nil {
		return E2EHeader{}, false
	}
	return *m.e2eHeader, true
}

// HasE2EHeader reports whether an E2E header is attached.
func (m *Message) HasE2EHeader() bool { return m.e2eHeader != nil }

// SetE2EHeader attaches an E2E header and refreshes the length field.
func (m *Message) SetE2EHeader(h E2EHeader) {
	m.e2eHeader = &h
	m.UpdateLength()
}

// ClearE2EHeader detaches the E2E header and refreshes the length field.
func (m *Message) ClearE2EHeader() {
	m.e2eHeader = nil
	m.UpdateLength()
}

func (m *Message) e2eSize() uint32 {
	if m.e2eHeader != nil {
		return E2EHeaderSize
	}
	return 0
}

// UpdateLength recomputes the length field: request id through return
// code (8) plus E2E header plus payload.
func (m *Message) UpdateLength() {
	m.length = LengthFieldBase + m.e2eSize() + uint32(len(m.payload))
}

// Clone returns a deep copy of the message.
func (m *Message) Clone() *Message {
	c := *m
	c.payload = append([]byte(nil), m.payload...)
	if m.e2eHeader != nil {
		h := *m.e2eHeader
		c.e2eHeader = &h
	}
	return &c
}

// Serialize emits the message in wire order. UpdateLength must have run
// for the length field to be consistent; every setter does so.
func (m *Message) Serialize() []byte {
	buf := make([]byte, HeaderSize, HeaderSize+int(m.e2eSize())+len(m.payload))
	binary.BigEndian.PutUint32(buf[0:4], m.messageID.ToUint32())
	binary.BigEndian.PutUint32(buf[4:8], m.length)
	binary.BigEndian.PutUint32(buf[8:12], m.requestID.ToUint32())
	buf[12] = m.protocolVersion
	buf[13] = m.interfaceVersion
	buf[14] = uint8(m.messageType)
	buf[15] = uint8(m.returnCode)
	if m.e2eHeader != nil {
		buf = append(buf, m.e2eHeader.Pack()...)
	}
	buf = append(buf, m.payload...)
	return buf
}

// Deserialize parses a wire image into m. The presence of an E2E header
// is not self-identifying, so it is inferred: the length field must
// account for one, the total size must match, and the tentative header
// must not look like uniform payload data.
func (m *Message) Deserialize(data []byte) error {
	if len(data) < MinMessageSize {
		return ErrMalformedMessage
	}

	m.messageID = MessageIDFromUint32(binary.BigEndian.Uint32(data[0:4]))
	m.length = binary.BigEndian.Uint32(data[4:8])
	m.requestID = RequestIDFromUint32(binary.BigEndian.Uint32(data[8:12]))
	m.protocolVersion = data[12]
	m.interfaceVersion = data[13]
	m.messageType = MessageType(data[14])
	m.returnCode = ReturnCode(data[15])

	if m.length < LengthFieldBase {
		return ErrMalformedMessage
	}

	offset := HeaderSize
	m.e2eHeader = nil
	remaining := len(data) - offset

	if remaining >= E2EHeaderSize && m.length >= LengthFieldBase+E2EHeaderSize {
		expectedPayload := int(m.length) - LengthFieldBase - E2EHeaderSize
		if len(data) == HeaderSize+E2EHeaderSize+expectedPayload {
			var h E2EHeader
			if h.Unpack(data, offset) == nil && looksLikeE2EHeader(&h) {
				m.e2eHeader = &h
				offset += E2EHeaderSize
			}
		}
	}

	expectedPayload := int(m.length) - LengthFieldBase - int(m.e2eSize())
	if len(data)-offset != expectedPayload {
		return ErrMalformedMessage
	}

	m.payload = append([]byte(nil), data[offset:]...)
	m.timestamp = time.Now()

	if !m.IsValid() {
		return ErrMalformedMessage
	}
	return nil
}

// looksLikeE2EHeader rejects tentative headers whose fields read as
// uniform payload bytes: repeated-byte CRC, counter or freshness
// patterns, a zero data id, or an all-zero record.
func looksLikeE2EHeader(h *E2EHeader) bool {
	if h.DataID == 0 {
		return false
	}
	if h.Crc == 0 && h.Counter == 0 && h.Freshness == 0 {
		return false
	}
	if repeatedBytes32(h.Crc) || repeatedBytes32(h.Counter) || repeatedBytes16(h.Freshness) {
		return false
	}
	return true
}

func repeatedBytes32(v uint32) bool {
	b0 := byte(v)
	return byte(v>>8) == b0 && byte(v>>16) == b0 && byte(v>>24) == b0
}

func repeatedBytes16(v uint16) bool {
	return byte(v) == byte(v>>8)
}

// IsValid checks the header invariants: versions, enumerated message
// type and return code, a consistent length field, the reserved method
// id, and the payload size bound.
func (m *Message) IsValid() bool {
	if m.protocolVersion != ProtocolVersion {
		return false
	}
	if m.interfaceVersion != InterfaceVersion {
		return false
	}
	if !m.HasValidMethodID() {
		return false
	}
	if !IsValidMessageType(m.messageType) {
		return false
	}
	if !IsValidReturnCode(m.returnCode) {
		return false
	}
	if m.length != LengthFieldBase+m.e2eSize()+uint32(len(m.payload)) {
		return false
	}
	if len(m.payload) > MaxTCPPayloadSize {
		return false
	}
	return true
}

// HasValidMethodID rejects the reserved method id 0xFFFF.
func (m *Message) HasValidMethodID() bool {
	return m.messageID.MethodID != 0xFFFF
}

func (m *Message) String() string {
	return fmt.Sprintf(
		"Message{service_id=0x%04x, method_id=0x%04x, client_id=0x%04x, session_id=0x%04x, type=%s, return_code=%s, length=%d, payload_size=%d}",
		m.ServiceID(), m.MethodID(), m.ClientID(), m.SessionID(),
		m.messageType, m.returnCode, m.length, len(m.payload))
}
