package transport

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	someip "github.com/eshenhu/someip"
)

var loge someip.Logger

func init() {
	loge = someip.NewLogger(os.Stdout)
}

type captureListener struct {
	msgs chan *someip.Message
	from chan Endpoint
	errs chan error
}

func newCaptureListener() *captureListener {
	return &captureListener{
		msgs: make(chan *someip.Message, 16),
		from: make(chan Endpoint, 16),
		errs: make(chan error, 16),
	}
}

func (l *captureListener) OnMessageReceived(msg *someip.Message, sender Endpoint) {
	l.msgs <- msg
	l.from <- sender
}

func (l *captureListener) OnError(err error) {
	l.errs <- err
}

func startLocalTransport(t *testing.T, l Listener) *UdpTransport {
	t.Helper()
	tr, err := NewUdpTransport(NewEndpoint("127.0.0.1", 0), DefaultConfig(), loge)
	require.NoError(t, err)
	if l != nil {
		tr.SetListener(l)
	}
	require.NoError(t, tr.Start())
	return tr
}

func TestEndpointParsing(t *testing.T) {
	ep, err := ParseEndpoint("192.168.1.5:30490")
	require.NoError(t, err)
	assert.Equal(t, "192.168.1.5", ep.Address)
	assert.Equal(t, uint16(30490), ep.Port)
	assert.Equal(t, "192.168.1.5:30490", ep.String())
	assert.True(t, ep.IsValid())
	assert.False(t, ep.IsMulticast())

	_, err = ParseEndpoint("no-port")
	assert.Equal(t, someip.ErrInvalidEndpoint, err)
	_, err = ParseEndpoint("1.2.3.4:notaport")
	assert.Equal(t, someip.ErrInvalidEndpoint, err)

	assert.True(t, NewEndpoint("224.0.0.1", 0).IsMulticast())
	assert.True(t, NewEndpoint("239.255.255.255", 0).IsMulticast())
	assert.False(t, NewEndpoint("223.255.255.255", 0).IsMulticast())
	assert.False(t, NewEndpoint("240.0.0.1", 0).IsMulticast())
	assert.False(t, NewEndpoint("bogus", 0).IsValid())
}

func TestUdpReceiveLoopback(t *testing.T) {
	capture := newCaptureListener()
	receiver := startLocalTransport(t, capture)
	defer receiver.Stop()
	sender := startLocalTransport(t, nil)
	defer sender.Stop()

	// Port 0 must have been replaced by the assigned port.
	assert.NotZero(t, receiver.LocalEndpoint().Port)

	msg := someip.NewMessage(
		someip.MessageID{ServiceID: 0x1234, MethodID: 0x5678},
		someip.RequestID{ClientID: 0x9ABC, SessionID: 0xDEF0},
		someip.MTRequest, someip.EOk)
	msg.SetPayload([]byte{0x01, 0x02, 0x03, 0x04})

	require.NoError(t, sender.SendMessage(msg, receiver.LocalEndpoint()))

	select {
	case got := <-capture.msgs:
		assert.Equal(t, uint16(0x1234), got.ServiceID())
		assert.Equal(t, uint16(0x5678), got.MethodID())
		assert.Equal(t, uint16(0x9ABC), got.ClientID())
		assert.Equal(t, uint16(0xDEF0), got.SessionID())
		assert.Equal(t, []byte{0x01, 0x02, 0x03, 0x04}, got.Payload())
		sender2 := <-capture.from
		assert.Equal(t, sender.LocalEndpoint(), sender2)
	case <-time.After(time.Second):
		t.Fatal("no message received within 1s")
	}

	// The message is also queued for polling consumers.
	queued := receiver.ReceiveMessage()
	require.NotNil(t, queued)
	assert.Equal(t, uint16(0x1234), queued.ServiceID())
	assert.Nil(t, receiver.ReceiveMessage())
}

func TestUdpMalformedDatagramDiscarded(t *testing.T) {
	capture := newCaptureListener()
	receiver := startLocalTransport(t, capture)
	defer receiver.Stop()
	sender := startLocalTransport(t, nil)
	defer sender.Stop()

	// A serialized message with a broken protocol version, sent raw:
	// not a valid message, silently dropped.
	conn := sender
	msg := someip.NewMessage(
		someip.MessageID{ServiceID: 1, MethodID: 1},
		someip.RequestID{}, someip.MTRequest, someip.EOk)
	data := msg.Serialize()
	data[12] = 0x07 // break the protocol version
	rawSend(t, conn, data, receiver.LocalEndpoint())

	select {
	case <-capture.msgs:
		t.Fatal("malformed datagram must not be delivered")
	case <-time.After(200 * time.Millisecond):
	}
}

func rawSend(t *testing.T, tr *UdpTransport, data []byte, to Endpoint) {
	t.Helper()
	tr.mtx.Lock()
	conn := tr.conn
	tr.mtx.Unlock()
	_, err := conn.WriteToUDP(data, to.UDPAddr())
	require.NoError(t, err)
}

func TestUdpSendErrors(t *testing.T) {
	tr, err := NewUdpTransport(NewEndpoint("127.0.0.1", 0), DefaultConfig(), loge)
	require.NoError(t, err)

	msg := someip.NewMessage(
		someip.MessageID{ServiceID: 1, MethodID: 1},
		someip.RequestID{}, someip.MTRequest, someip.EOk)

	// Not started yet.
	assert.Equal(t, someip.ErrNotConnected,
		tr.SendMessage(msg, NewEndpoint("127.0.0.1", 12345)))

	require.NoError(t, tr.Start())
	defer tr.Stop()

	assert.Equal(t, someip.ErrInvalidEndpoint,
		tr.SendMessage(msg, NewEndpoint("bogus", 12345)))

	// Oversized payloads fail before hitting the socket.
	big := someip.NewMessage(
		someip.MessageID{ServiceID: 1, MethodID: 1},
		someip.RequestID{}, someip.MTRequest, someip.EOk)
	big.SetPayload(make([]byte, someip.MaxUDPPayloadSize+1))
	assert.Equal(t, someip.ErrBufferOverflow,
		tr.SendMessage(big, NewEndpoint("127.0.0.1", 12345)))
}

func TestUdpStopIsIdempotent(t *testing.T) {
	tr := startLocalTransport(t, nil)
	assert.True(t, tr.IsRunning())
	assert.True(t, tr.IsConnected())

	require.NoError(t, tr.Stop())
	assert.False(t, tr.IsRunning())
	assert.False(t, tr.IsConnected())
	require.NoError(t, tr.Stop())
}

func TestUdpMulticastValidation(t *testing.T) {
	tr := startLocalTransport(t, nil)
	defer tr.Stop()

	assert.Equal(t, someip.ErrInvalidEndpoint, tr.JoinMulticastGroup("10.0.0.1"))
	assert.Equal(t, someip.ErrInvalidEndpoint, tr.JoinMulticastGroup("240.0.0.1"))
	assert.Equal(t, someip.ErrInvalidEndpoint, tr.LeaveMulticastGroup("10.0.0.1"))

	// Join is best effort even where multicast is unavailable.
	assert.NoError(t, tr.JoinMulticastGroup("224.224.224.245"))

	stopped, err := NewUdpTransport(NewEndpoint("127.0.0.1", 0), DefaultConfig(), loge)
	require.NoError(t, err)
	assert.Equal(t, someip.ErrNotConnected, stopped.JoinMulticastGroup("224.0.0.1"))
}

func TestUdpConnectSemantics(t *testing.T) {
	tr := startLocalTransport(t, nil)
	defer tr.Stop()

	// Unicast connect is validation only.
	assert.NoError(t, tr.Connect(NewEndpoint("127.0.0.1", 12345)))
	assert.Equal(t, someip.ErrInvalidEndpoint, tr.Connect(NewEndpoint("bogus", 1)))
	// Multicast connect joins the group.
	assert.NoError(t, tr.Connect(NewEndpoint("224.224.224.245", 30490)))
	assert.NoError(t, tr.Disconnect())
}

func TestUdpNonBlockingMode(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Blocking = false

	capture := newCaptureListener()
	tr, err := NewUdpTransport(NewEndpoint("127.0.0.1", 0), cfg, loge)
	require.NoError(t, err)
	tr.SetListener(capture)
	require.NoError(t, tr.Start())
	defer tr.Stop()

	sender := startLocalTransport(t, nil)
	defer sender.Stop()

	msg := someip.NewMessage(
		someip.MessageID{ServiceID: 0x0042, MethodID: 0x0001},
		someip.RequestID{}, someip.MTRequestNoReturn, someip.EOk)
	require.NoError(t, sender.SendMessage(msg, tr.LocalEndpoint()))

	select {
	case got := <-capture.msgs:
		assert.Equal(t, uint16(0x0042), got.ServiceID())
	case <-time.After(time.Second):
		t.Fatal("no message received in non-blocking mode")
	}
}
