package sd

import (
	"sync"
	"sync/atomic"
	"time"

	someip "github.com/eshenhu/someip"
	"github.com/eshenhu/someip/transport"
)

// FindServiceCallback receives the instances answering a find.
type FindServiceCallback func(services []ServiceInstance)

// ServiceAvailableCallback fires when an offer for a subscribed
// service arrives.
type ServiceAvailableCallback func(instance ServiceInstance)

// ServiceUnavailableCallback fires when a subscribed service stops
// being offered.
type ServiceUnavailableCallback func(instance ServiceInstance)

type serviceSubscription struct {
	available   ServiceAvailableCallback
	unavailable ServiceUnavailableCallback
}

type pendingFind struct {
	serviceID uint16
	callback  FindServiceCallback
	startTime time.Time
	timeout   time.Duration
}

// Client discovers services: it multicasts finds, tracks offers and
// subscribes to eventgroups. It owns a UDP transport bound to its
// unicast endpoint and joined to the SD multicast group.
type Client struct {
	config    Config
	transport *transport.UdpTransport
	log       someip.Logger
	running   atomic.Bool

	subsMtx       sync.Mutex
	subscriptions map[uint16]serviceSubscription

	availMtx  sync.Mutex
	available []ServiceInstance

	findsMtx      sync.Mutex
	pendingFinds  map[uint32]pendingFind
	nextRequestID atomic.Uint32
}

// NewClient creates an SD client; the transport binds on Initialize.
func NewClient(config Config, log someip.Logger) (*Client, error) {
	tr, err := transport.NewUdpTransport(
		transport.NewEndpoint(config.UnicastAddress, config.UnicastPort),
		config.Transport, log)
	if err != nil {
		return nil, err
	}

	c := &Client{
		config:        config,
		transport:     tr,
		log:           log,
		subscriptions: make(map[uint16]serviceSubscription),
		pendingFinds:  make(map[uint32]pendingFind),
	}
	tr.SetListener(c)
	return c, nil
}

// Initialize starts the transport and joins the SD multicast group.
func (c *Client) Initialize() error {
	if c.running.Load() {
		return nil
	}
	if err := c.transport.Start(); err != nil {
		return err
	}
	if err := c.transport.JoinMulticastGroup(SdMulticastGroup); err != nil {
		c.transport.Stop()
		return err
	}
	c.running.Store(true)
	return nil
}

// Shutdown clears subscriptions, leaves the group and stops the
// transport. SD is stopped before the transport by construction.
func (c *Client) Shutdown() {
	if !c.running.CompareAndSwap(true, false) {
		return
	}

	c.subsMtx.Lock()
	c.subscriptions = make(map[uint16]serviceSubscription)
	c.subsMtx.Unlock()

	c.transport.LeaveMulticastGroup(SdMulticastGroup)
	c.transport.Stop()
}

// IsReady reports whether the client is running on a live transport.
func (c *Client) IsReady() bool {
	return c.running.Load() && c.transport.IsConnected()
}

// LocalEndpoint returns the bound unicast endpoint.
func (c *Client) LocalEndpoint() transport.Endpoint {
	return c.transport.LocalEndpoint()
}

// FindService multicasts a FindService entry for any instance and any
// major version, and registers the callback for matching offers. A
// zero timeout selects the configured default.
func (c *Client) FindService(serviceID uint16, callback FindServiceCallback, timeout time.Duration) error {
	if !c.running.Load() {
		return someip.ErrNotInitialized
	}

	sdMsg := NewMessage()
	sdMsg.AddEntry(Entry{
		Type:         EntryFindService,
		ServiceID:    serviceID,
		InstanceID:   0xFFFF,
		MajorVersion: 0xFF,
		TTL:          3,
	})

	if err := c.sendSd(sdMsg, 0x0000, c.config.multicastEndpoint()); err != nil {
		return err
	}

	if timeout == 0 {
		timeout = c.config.findTimeout()
	}
	requestID := c.nextRequestID.Add(1)
	c.findsMtx.Lock()
	c.pendingFinds[requestID] = pendingFind{
		serviceID: serviceID,
		callback:  callback,
		startTime: time.Now(),
		timeout:   timeout,
	}
	c.findsMtx.Unlock()

	return nil
}

// SubscribeService installs availability callbacks for a service id.
// It returns false when a subscription already exists.
func (c *Client) SubscribeService(serviceID uint16,
	available ServiceAvailableCallback, unavailable ServiceUnavailableCallback) bool {

	c.subsMtx.Lock()
	defer c.subsMtx.Unlock()

	if _, ok := c.subscriptions[serviceID]; ok {
		return false
	}
	c.subscriptions[serviceID] = serviceSubscription{
		available:   available,
		unavailable: unavailable,
	}
	return true
}

// UnsubscribeService removes the availability callbacks.
func (c *Client) UnsubscribeService(serviceID uint16) bool {
	c.subsMtx.Lock()
	defer c.subsMtx.Unlock()

	if _, ok := c.subscriptions[serviceID]; !ok {
		return false
	}
	delete(c.subscriptions, serviceID)
	return true
}

// SubscribeEventgroup multicasts a SubscribeEventgroup entry carrying
// the local unicast endpoint as option 0.
func (c *Client) SubscribeEventgroup(serviceID, instanceID, eventgroupID uint16) error {
	if !c.running.Load() {
		return someip.ErrNotInitialized
	}

	sdMsg := NewMessage()
	sdMsg.AddEntry(Entry{
		Type:         EntrySubscribeEventgroup,
		Index1:       0,
		ServiceID:    serviceID,
		InstanceID:   instanceID,
		MajorVersion: 0x01,
		TTL:          3600,
		EventgroupID: eventgroupID,
	})
	sdMsg.AddOption(NewIPv4EndpointOption(
		c.config.UnicastAddress,
		c.transport.LocalEndpoint().Port,
		transport.ProtocolUDP))

	return c.sendSd(sdMsg, 0x0000, c.config.multicastEndpoint())
}

// UnsubscribeEventgroup multicasts a stop-subscribe (TTL 0) entry.
func (c *Client) UnsubscribeEventgroup(serviceID, instanceID, eventgroupID uint16) error {
	if !c.running.Load() {
		return someip.ErrNotInitialized
	}

	sdMsg := NewMessage()
	sdMsg.AddEntry(Entry{
		Type:         EntrySubscribeEventgroup,
		ServiceID:    serviceID,
		InstanceID:   instanceID,
		MajorVersion: 0x01,
		TTL:          0,
		EventgroupID: eventgroupID,
	})

	return c.sendSd(sdMsg, 0x0000, c.config.multicastEndpoint())
}

// AvailableServices returns the known instances for a service id;
// id 0 returns everything.
func (c *Client) AvailableServices(serviceID uint16) []ServiceInstance {
	c.availMtx.Lock()
	defer c.availMtx.Unlock()

	var result []ServiceInstance
	for _, svc := range c.available {
		if serviceID == 0 || svc.ServiceID == serviceID {
			result = append(result, svc)
		}
	}
	return result
}

// sendSd wraps an SD message in a SOME/IP NOTIFICATION on the SD
// service id and sends it.
func (c *Client) sendSd(sdMsg *Message, methodID uint16, to transport.Endpoint) error {
	msg := someip.NewMessage(
		someip.MessageID{ServiceID: someip.SdServiceID, MethodID: methodID},
		someip.RequestID{},
		someip.MTNotification, someip.EOk)
	msg.SetPayload(sdMsg.Serialize())
	return c.transport.SendMessage(msg, to)
}

// OnMessageReceived dispatches inbound SD traffic. Non-SD messages are
// ignored.
func (c *Client) OnMessageReceived(msg *someip.Message, sender transport.Endpoint) {
	if msg.ServiceID() != someip.SdServiceID {
		return
	}

	var sdMsg Message
	if sdMsg.DeserializeWithLog(msg.Payload(), c.log) != nil {
		return
	}

	for i := range sdMsg.Entries {
		entry := &sdMsg.Entries[i]
		if entry.Type != EntryOfferService {
			continue
		}
		if entry.TTL == 0 {
			c.handleServiceStopOffer(entry)
		} else {
			c.handleServiceOffer(entry, &sdMsg)
		}
	}
}

// OnError logs receive-path failures.
func (c *Client) OnError(err error) {
	if c.log != nil {
		c.log.Debugf("sd client transport error: %v", err)
	}
}

// handleServiceOffer records the instance, fires the availability
// callback and resolves pending finds. Endpoint information comes from
// the options run referenced by the entry's Index1; a zero index means
// no option is read.
func (c *Client) handleServiceOffer(entry *Entry, sdMsg *Message) {
	instance := ServiceInstance{
		ServiceID:    entry.ServiceID,
		InstanceID:   entry.InstanceID,
		MajorVersion: entry.MajorVersion,
		TTLSeconds:   entry.TTL,
	}

	run1 := 0
	if entry.Index1 != 0 {
		run1 = 1
	}
	for i := 0; i < run1 && int(entry.Index1)+i < len(sdMsg.Options); i++ {
		option := &sdMsg.Options[int(entry.Index1)+i]
		if option.Type == OptionIPv4Endpoint {
			instance.IPAddress = option.AddressString()
			instance.Port = option.Port
			instance.Protocol = option.Protocol
			break
		}
	}

	c.availMtx.Lock()
	updated := false
	for i := range c.available {
		if c.available[i].ServiceID == instance.ServiceID &&
			c.available[i].InstanceID == instance.InstanceID {
			c.available[i] = instance
			updated = true
			break
		}
	}
	if !updated {
		c.available = append(c.available, instance)
	}
	c.availMtx.Unlock()

	c.subsMtx.Lock()
	sub, subscribed := c.subscriptions[instance.ServiceID]
	c.subsMtx.Unlock()
	if subscribed && sub.available != nil {
		sub.available(instance)
	}

	c.findsMtx.Lock()
	var callbacks []FindServiceCallback
	now := time.Now()
	for id, find := range c.pendingFinds {
		if now.Sub(find.startTime) > find.timeout {
			// Timed-out finds are purged silently.
			delete(c.pendingFinds, id)
			continue
		}
		if find.serviceID == instance.ServiceID {
			if find.callback != nil {
				callbacks = append(callbacks, find.callback)
			}
			delete(c.pendingFinds, id)
		}
	}
	c.findsMtx.Unlock()

	for _, callback := range callbacks {
		callback([]ServiceInstance{instance})
	}
}

// handleServiceStopOffer removes the instance and fires the
// unavailability callback.
func (c *Client) handleServiceStopOffer(entry *Entry) {
	instance := ServiceInstance{
		ServiceID:  entry.ServiceID,
		InstanceID: entry.InstanceID,
	}

	c.availMtx.Lock()
	kept := c.available[:0]
	for _, svc := range c.available {
		if svc.ServiceID != instance.ServiceID || svc.InstanceID != instance.InstanceID {
			kept = append(kept, svc)
		}
	}
	c.available = kept
	c.availMtx.Unlock()

	c.subsMtx.Lock()
	sub, subscribed := c.subscriptions[instance.ServiceID]
	c.subsMtx.Unlock()
	if subscribed && sub.unavailable != nil {
		sub.unavailable(instance)
	}
}
