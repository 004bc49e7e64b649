package transport

import (
	"context"
	"errors"
	"net"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"golang.org/x/net/ipv4"
	"golang.org/x/sys/unix"

	someip "github.com/eshenhu/someip"
)

const (
	// pollInterval is the backoff after a timeout or error in
	// non-blocking mode.
	pollInterval = 10 * time.Millisecond
	// pollDeadline is the read deadline used to emulate non-blocking
	// reads.
	pollDeadline = 100 * time.Millisecond
)

// UdpTransport is a bound UDP endpoint with a dedicated receive
// worker. Messages that fail to deserialize are silently discarded.
type UdpTransport struct {
	localEndpoint Endpoint
	config        Config
	log           someip.Logger

	mtx      sync.Mutex
	conn     *net.UDPConn
	pktConn  *ipv4.PacketConn
	listener Listener

	queueMtx sync.Mutex
	queue    []*someip.Message

	running atomic.Bool
	wg      sync.WaitGroup
}

// NewUdpTransport creates a transport bound to the local endpoint on
// Start. Port 0 requests an OS-assigned port, read back after bind.
func NewUdpTransport(local Endpoint, config Config, log someip.Logger) (*UdpTransport, error) {
	if !local.IsValid() {
		return nil, someip.ErrInvalidEndpoint
	}
	return &UdpTransport{
		localEndpoint: local,
		config:        config,
		log:           log,
	}, nil
}

// SetListener installs the callback sink. Must be called before Start.
func (t *UdpTransport) SetListener(l Listener) {
	t.mtx.Lock()
	t.listener = l
	t.mtx.Unlock()
}

// Start opens the socket with the configured options, binds it,
// re-reads the assigned address and spawns the receive worker.
func (t *UdpTransport) Start() error {
	if t.running.Load() {
		return nil
	}

	lc := net.ListenConfig{
		Control: func(network, address string, c syscall.RawConn) error {
			var soErr error
			err := c.Control(func(fd uintptr) {
				if t.config.ReuseAddress {
					soErr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEADDR, 1)
					if soErr != nil {
						return
					}
				}
				if t.config.ReusePort {
					// Best effort, some systems lack SO_REUSEPORT.
					_ = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEPORT, 1)
				}
				if t.config.EnableBroadcast {
					soErr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_BROADCAST, 1)
				}
			})
			if err != nil {
				return err
			}
			return soErr
		},
	}

	pc, err := lc.ListenPacket(context.Background(), "udp4", t.localEndpoint.String())
	if err != nil {
		return someip.ErrNetworkError
	}
	conn := pc.(*net.UDPConn)

	// Buffer sizing is best effort; restricted environments may refuse.
	if t.config.ReceiveBufferSize > 0 {
		_ = conn.SetReadBuffer(t.config.ReceiveBufferSize)
	}
	if t.config.SendBufferSize > 0 {
		_ = conn.SetWriteBuffer(t.config.SendBufferSize)
	}

	t.mtx.Lock()
	t.conn = conn
	t.pktConn = ipv4.NewPacketConn(conn)
	if addr, ok := conn.LocalAddr().(*net.UDPAddr); ok {
		t.localEndpoint = endpointFromUDPAddr(addr)
	}
	t.mtx.Unlock()

	t.running.Store(true)
	t.wg.Add(1)
	go t.receiveLoop(conn)

	return nil
}

// Stop shuts the socket down to unblock the worker, joins it and
// releases the socket. Repeated calls are no-ops.
func (t *UdpTransport) Stop() error {
	if !t.running.CompareAndSwap(true, false) {
		return nil
	}

	t.mtx.Lock()
	conn := t.conn
	t.conn = nil
	t.pktConn = nil
	t.mtx.Unlock()

	if conn != nil {
		conn.Close()
	}
	t.wg.Wait()
	return nil
}

// IsRunning reports whether the receive worker is active.
func (t *UdpTransport) IsRunning() bool {
	return t.running.Load()
}

// IsConnected reports whether the socket is open.
func (t *UdpTransport) IsConnected() bool {
	t.mtx.Lock()
	defer t.mtx.Unlock()
	return t.running.Load() && t.conn != nil
}

// LocalEndpoint returns the bound endpoint, including the OS-assigned
// port when port 0 was requested.
func (t *UdpTransport) LocalEndpoint() Endpoint {
	t.mtx.Lock()
	defer t.mtx.Unlock()
	return t.localEndpoint
}

// Connect validates the endpoint; multicast endpoints join the group.
// UDP is connectionless, so unicast endpoints need no setup.
func (t *UdpTransport) Connect(endpoint Endpoint) error {
	if !endpoint.IsValid() {
		return someip.ErrInvalidEndpoint
	}
	if endpoint.IsMulticast() {
		return t.JoinMulticastGroup(endpoint.Address)
	}
	return nil
}

// Disconnect is a no-op on a connectionless transport.
func (t *UdpTransport) Disconnect() error {
	return nil
}

// SendMessage serializes the message and sends one datagram. The
// configured max message size is advisory: oversized sends are logged
// but still attempted. Payloads past the UDP limit fail outright.
func (t *UdpTransport) SendMessage(msg *someip.Message, endpoint Endpoint) error {
	if !t.running.Load() {
		return someip.ErrNotConnected
	}
	if !endpoint.IsValid() {
		return someip.ErrInvalidEndpoint
	}

	data := msg.Serialize()
	if len(data) > someip.MaxUDPPayloadSize {
		return someip.ErrBufferOverflow
	}
	if t.config.MaxMessageSize > 0 && len(data) > t.config.MaxMessageSize {
		if t.log != nil {
			t.log.Debugf("send of %d bytes exceeds configured max %d, consider TP segmentation",
				len(data), t.config.MaxMessageSize)
		}
	}

	t.mtx.Lock()
	conn := t.conn
	t.mtx.Unlock()
	if conn == nil {
		return someip.ErrNotConnected
	}

	n, err := conn.WriteToUDP(data, endpoint.UDPAddr())
	if err != nil {
		return someip.ErrNetworkError
	}
	if n != len(data) {
		return someip.ErrBufferOverflow
	}
	return nil
}

// ReceiveMessage pops the oldest queued message, or nil when the queue
// is empty.
func (t *UdpTransport) ReceiveMessage() *someip.Message {
	t.queueMtx.Lock()
	defer t.queueMtx.Unlock()
	if len(t.queue) == 0 {
		return nil
	}
	msg := t.queue[0]
	t.queue = t.queue[1:]
	return msg
}

// JoinMulticastGroup joins an IPv4 group on the bound socket, then
// best-effort enables loopback, applies the configured TTL and binds
// the outbound interface. Group membership failures are tolerated so
// unicast-only environments keep working.
func (t *UdpTransport) JoinMulticastGroup(address string) error {
	t.mtx.Lock()
	pc := t.pktConn
	t.mtx.Unlock()

	if pc == nil {
		return someip.ErrNotConnected
	}
	group := NewEndpoint(address, 0)
	if !group.IsMulticast() {
		return someip.ErrInvalidEndpoint
	}

	ifi := t.multicastInterface()
	if err := pc.JoinGroup(ifi, &net.UDPAddr{IP: net.ParseIP(address)}); err != nil {
		if t.log != nil {
			t.log.Debugf("multicast join %s failed: %v, continuing unicast-only", address, err)
		}
	}
	_ = pc.SetMulticastLoopback(true)
	if t.config.MulticastTTL > 0 {
		_ = pc.SetMulticastTTL(t.config.MulticastTTL)
	}
	if ifi != nil {
		_ = pc.SetMulticastInterface(ifi)
	}
	return nil
}

// LeaveMulticastGroup drops the group membership.
func (t *UdpTransport) LeaveMulticastGroup(address string) error {
	t.mtx.Lock()
	pc := t.pktConn
	t.mtx.Unlock()

	if pc == nil {
		return someip.ErrNotConnected
	}
	group := NewEndpoint(address, 0)
	if !group.IsMulticast() {
		return someip.ErrInvalidEndpoint
	}
	if err := pc.LeaveGroup(t.multicastInterface(), &net.UDPAddr{IP: net.ParseIP(address)}); err != nil {
		return someip.ErrNetworkError
	}
	return nil
}

// multicastInterface resolves the configured interface address to a
// net.Interface, or nil for the system default.
func (t *UdpTransport) multicastInterface() *net.Interface {
	if t.config.MulticastInterface == "" {
		return nil
	}
	want := net.ParseIP(t.config.MulticastInterface)
	if want == nil {
		return nil
	}
	ifis, err := net.Interfaces()
	if err != nil {
		return nil
	}
	for i := range ifis {
		addrs, err := ifis[i].Addrs()
		if err != nil {
			continue
		}
		for _, a := range addrs {
			if ipn, ok := a.(*net.IPNet); ok && ipn.IP.Equal(want) {
				return &ifis[i]
			}
		}
	}
	return nil
}

// receiveLoop blocks on the socket (or polls with a short deadline in
// non-blocking mode), deserializes datagrams and hands valid messages
// to the queue and the listener. Malformed datagrams are discarded.
func (t *UdpTransport) receiveLoop(conn *net.UDPConn) {
	defer t.wg.Done()

	for t.running.Load() {
		buf := make([]byte, t.config.ReceiveBufferSize)

		if !t.config.Blocking {
			_ = conn.SetReadDeadline(time.Now().Add(pollDeadline))
		}
		n, addr, err := conn.ReadFromUDP(buf)
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return
			}
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				time.Sleep(pollInterval)
				continue
			}
			t.mtx.Lock()
			l := t.listener
			t.mtx.Unlock()
			if l != nil {
				l.OnError(someip.ErrNetworkError)
			}
			if !t.config.Blocking {
				time.Sleep(pollInterval)
			}
			continue
		}

		msg := &someip.Message{}
		if msg.Deserialize(buf[:n]) != nil {
			continue
		}

		t.queueMtx.Lock()
		t.queue = append(t.queue, msg)
		t.queueMtx.Unlock()

		t.mtx.Lock()
		l := t.listener
		t.mtx.Unlock()
		if l != nil {
			l.OnMessageReceived(msg, endpointFromUDPAddr(addr))
		}
	}
}
