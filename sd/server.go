package sd

import (
	"sync"
	"sync/atomic"
	"time"

	someip "github.com/eshenhu/someip"
	"github.com/eshenhu/someip/transport"
)

type offeredService struct {
	instance          ServiceInstance
	unicastEndpoint   string
	multicastEndpoint string
	lastOfferTime     time.Time
}

// Server advertises services: it multicasts offers cyclically, answers
// finds with unicast offers and acknowledges eventgroup subscriptions.
// It owns a UDP transport and a dedicated offer-timer worker.
type Server struct {
	config    Config
	transport *transport.UdpTransport
	log       someip.Logger
	running   atomic.Bool

	offeredMtx sync.Mutex
	offered    []offeredService

	nextOfferDelay time.Duration
	timerStop      chan struct{}
	timerWg        sync.WaitGroup
}

// NewServer creates an SD server; the transport binds on Initialize.
func NewServer(config Config, log someip.Logger) (*Server, error) {
	tr, err := transport.NewUdpTransport(
		transport.NewEndpoint(config.UnicastAddress, config.UnicastPort),
		config.Transport, log)
	if err != nil {
		return nil, err
	}

	s := &Server{
		config:         config,
		transport:      tr,
		log:            log,
		nextOfferDelay: config.initialDelay(),
	}
	tr.SetListener(s)
	return s, nil
}

// Initialize starts the transport, joins the SD multicast group
// (best effort) and starts the offer timer.
func (s *Server) Initialize() error {
	if s.running.Load() {
		return nil
	}
	if err := s.transport.Start(); err != nil {
		return err
	}
	if err := s.transport.JoinMulticastGroup(SdMulticastGroup); err != nil {
		// Constrained environments may lack multicast; unicast-only
		// operation still answers finds.
		if s.log != nil {
			s.log.Debugf("sd server: multicast join failed: %v", err)
		}
	}

	s.running.Store(true)
	s.timerStop = make(chan struct{})
	s.timerWg.Add(1)
	go s.offerTimerLoop()

	return nil
}

// Shutdown stops the offer timer, multicasts one stop-offer per
// offered service, clears the list, leaves the group and stops the
// transport.
func (s *Server) Shutdown() {
	if !s.running.CompareAndSwap(true, false) {
		return
	}

	close(s.timerStop)
	s.timerWg.Wait()

	s.offeredMtx.Lock()
	for i := range s.offered {
		s.sendServiceStopOffer(&s.offered[i])
	}
	s.offered = nil
	s.offeredMtx.Unlock()

	s.transport.LeaveMulticastGroup(SdMulticastGroup)
	s.transport.Stop()
}

// IsReady reports whether the server is running on a live transport.
func (s *Server) IsReady() bool {
	return s.running.Load() && s.transport.IsConnected()
}

// OfferService appends to the offered list, evicting the oldest entry
// when the configured cap is reached, and multicasts the offer
// immediately. unicastEndpoint is the "ip:port" clients reach the
// service at.
func (s *Server) OfferService(instance ServiceInstance, unicastEndpoint, multicastEndpoint string) bool {
	s.offeredMtx.Lock()
	defer s.offeredMtx.Unlock()

	for i := range s.offered {
		if s.offered[i].instance.ServiceID == instance.ServiceID &&
			s.offered[i].instance.InstanceID == instance.InstanceID {
			return false
		}
	}

	if s.config.MaxServices > 0 && len(s.offered) >= s.config.MaxServices {
		s.offered = s.offered[1:]
	}

	s.offered = append(s.offered, offeredService{
		instance:          instance,
		unicastEndpoint:   unicastEndpoint,
		multicastEndpoint: multicastEndpoint,
		lastOfferTime:     time.Now(),
	})

	s.sendServiceOffer(&s.offered[len(s.offered)-1], nil)
	return true
}

// StopOfferService multicasts a TTL-0 offer and removes the service.
func (s *Server) StopOfferService(serviceID, instanceID uint16) bool {
	s.offeredMtx.Lock()
	defer s.offeredMtx.Unlock()

	for i := range s.offered {
		if s.offered[i].instance.ServiceID == serviceID &&
			s.offered[i].instance.InstanceID == instanceID {
			s.sendServiceStopOffer(&s.offered[i])
			s.offered = append(s.offered[:i], s.offered[i+1:]...)
			return true
		}
	}
	return false
}

// UpdateServiceTTL changes the advertised TTL of an offered service.
func (s *Server) UpdateServiceTTL(serviceID, instanceID uint16, ttlSeconds uint32) bool {
	s.offeredMtx.Lock()
	defer s.offeredMtx.Unlock()

	for i := range s.offered {
		if s.offered[i].instance.ServiceID == serviceID &&
			s.offered[i].instance.InstanceID == instanceID {
			s.offered[i].instance.TTLSeconds = ttlSeconds
			return true
		}
	}
	return false
}

// OfferedServices returns the currently offered instances.
func (s *Server) OfferedServices() []ServiceInstance {
	s.offeredMtx.Lock()
	defer s.offeredMtx.Unlock()

	result := make([]ServiceInstance, 0, len(s.offered))
	for i := range s.offered {
		result = append(result, s.offered[i].instance)
	}
	return result
}

// offerTimerLoop wakes every nextOfferDelay, re-offers services whose
// cyclic interval elapsed, and backs the delay off by the repetition
// multiplier up to the configured maximum.
func (s *Server) offerTimerLoop() {
	defer s.timerWg.Done()

	for {
		select {
		case <-time.After(s.nextOfferDelay):
		case <-s.timerStop:
			return
		}
		if !s.running.Load() {
			return
		}

		s.sendPeriodicOffers()

		if s.nextOfferDelay < s.config.repetitionMax() {
			next := s.nextOfferDelay * time.Duration(s.config.RepetitionMultiplier)
			if next > s.config.repetitionMax() {
				next = s.config.repetitionMax()
			}
			s.nextOfferDelay = next
		}
	}
}

func (s *Server) sendPeriodicOffers() {
	s.offeredMtx.Lock()
	defer s.offeredMtx.Unlock()

	now := time.Now()
	for i := range s.offered {
		if now.Sub(s.offered[i].lastOfferTime) >= s.config.cyclicOffer() {
			s.sendServiceOffer(&s.offered[i], nil)
			s.offered[i].lastOfferTime = now
		}
	}
}

// sendServiceOffer multicasts the offer, or unicasts it when a client
// endpoint is given. The entry references the endpoint option through
// index 0.
func (s *Server) sendServiceOffer(service *offeredService, client *transport.Endpoint) {
	sdMsg := NewMessage()
	if client != nil {
		sdMsg.SetUnicast(true)
	}
	sdMsg.AddEntry(Entry{
		Type:         EntryOfferService,
		Index1:       0,
		Index2:       0,
		ServiceID:    service.instance.ServiceID,
		InstanceID:   service.instance.InstanceID,
		MajorVersion: service.instance.MajorVersion,
		TTL:          service.instance.TTLSeconds,
	})

	if endpoint, err := transport.ParseEndpoint(service.unicastEndpoint); err == nil {
		sdMsg.AddOption(NewIPv4EndpointOption(
			endpoint.Address, endpoint.Port, transport.ProtocolUDP))
	}

	to := s.config.multicastEndpoint()
	if client != nil {
		to = *client
	}
	if err := s.sendSd(sdMsg, to); err != nil && s.log != nil {
		s.log.Debugf("sd server: offer send failed: %v", err)
	}
}

func (s *Server) sendServiceStopOffer(service *offeredService) {
	sdMsg := NewMessage()
	sdMsg.AddEntry(Entry{
		Type:         EntryOfferService,
		ServiceID:    service.instance.ServiceID,
		InstanceID:   service.instance.InstanceID,
		MajorVersion: service.instance.MajorVersion,
		TTL:          0,
	})

	if err := s.sendSd(sdMsg, s.config.multicastEndpoint()); err != nil && s.log != nil {
		s.log.Debugf("sd server: stop-offer send failed: %v", err)
	}
}

// HandleEventgroupSubscription sends a subscription ACK (or NACK with
// TTL 0) unicast to the client, carrying the configured multicast
// endpoint as option 0. clientAddress is "ip:port" or a bare address,
// which falls back to the configured unicast port.
func (s *Server) HandleEventgroupSubscription(serviceID, instanceID, eventgroupID uint16,
	clientAddress string, acknowledge bool) error {

	entryType := EntrySubscribeEventgroupAck
	ttl := uint32(3600)
	if !acknowledge {
		ttl = 0
	}

	sdMsg := NewMessage()
	sdMsg.AddEntry(Entry{
		Type:         entryType,
		Index1:       0,
		ServiceID:    serviceID,
		InstanceID:   instanceID,
		MajorVersion: 0x01,
		TTL:          ttl,
		EventgroupID: eventgroupID,
	})
	sdMsg.AddOption(NewIPv4MulticastOption(s.config.MulticastAddress, s.config.MulticastPort))

	client, err := transport.ParseEndpoint(clientAddress)
	if err != nil {
		client = transport.NewEndpoint(clientAddress, s.config.UnicastPort)
	}

	return s.sendSd(sdMsg, client)
}

// sendSd wraps an SD message in a SOME/IP NOTIFICATION on the SD
// service and method id and sends it.
func (s *Server) sendSd(sdMsg *Message, to transport.Endpoint) error {
	msg := someip.NewMessage(
		someip.MessageID{ServiceID: someip.SdServiceID, MethodID: someip.SdMethodID},
		someip.RequestID{},
		someip.MTNotification, someip.EOk)
	msg.SetPayload(sdMsg.Serialize())
	return s.transport.SendMessage(msg, to)
}

// OnMessageReceived dispatches inbound SD traffic: finds for offered
// services are answered with unicast offers, subscriptions are
// acknowledged.
func (s *Server) OnMessageReceived(msg *someip.Message, sender transport.Endpoint) {
	if msg.ServiceID() != someip.SdServiceID {
		return
	}

	var sdMsg Message
	if sdMsg.DeserializeWithLog(msg.Payload(), s.log) != nil {
		return
	}

	for i := range sdMsg.Entries {
		entry := &sdMsg.Entries[i]
		switch entry.Type {
		case EntryFindService:
			s.handleFindService(entry, sender)
		case EntrySubscribeEventgroup:
			s.handleSubscription(entry, &sdMsg, sender)
		}
	}
}

// OnError logs receive-path failures.
func (s *Server) OnError(err error) {
	if s.log != nil {
		s.log.Debugf("sd server transport error: %v", err)
	}
}

// handleFindService answers a find whose service id is offered, and
// whose instance id matches or is the 0xFFFF wildcard, with a unicast
// offer to the sender.
func (s *Server) handleFindService(find *Entry, sender transport.Endpoint) {
	s.offeredMtx.Lock()
	defer s.offeredMtx.Unlock()

	for i := range s.offered {
		instance := &s.offered[i].instance
		if instance.ServiceID == find.ServiceID &&
			(find.InstanceID == 0xFFFF || instance.InstanceID == find.InstanceID) {
			s.sendServiceOffer(&s.offered[i], &sender)
			break
		}
	}
}

// handleSubscription resolves the requester endpoint, preferring an
// endpoint option referenced by the entry's Index1, and acknowledges.
func (s *Server) handleSubscription(entry *Entry, sdMsg *Message, sender transport.Endpoint) {
	client := sender
	if int(entry.Index1) < len(sdMsg.Options) {
		option := &sdMsg.Options[entry.Index1]
		if option.Type == OptionIPv4Endpoint {
			client = transport.NewEndpoint(option.AddressString(), option.Port)
		}
	}

	if err := s.HandleEventgroupSubscription(
		entry.ServiceID, entry.InstanceID, entry.EventgroupID,
		client.String(), true); err != nil && s.log != nil {
		s.log.Debugf("sd server: subscription ack failed: %v", err)
	}
}
