package transport

import someip "github.com/eshenhu/someip"

// Listener receives transport events. The receive worker never
// propagates errors to its caller; it reports them here and continues.
type Listener interface {
	// OnMessageReceived delivers a deserialized message and the sender
	// endpoint. It runs on the receive worker goroutine.
	OnMessageReceived(msg *someip.Message, sender Endpoint)
	// OnError reports a receive-path failure.
	OnError(err error)
}
