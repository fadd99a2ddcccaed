package net

import (
	"fmt"
	"strconv"
	"sync"

	"github.com/mosaicnetworks/indypool/src/crypto/keys"
	"github.com/mosaicnetworks/indypool/src/peers"
)

// InmemEndpoint receives the frames sent to a node address. reply delivers a
// frame back on the socket the request came from; it may be called later
// and from any goroutine.
type InmemEndpoint interface {
	Receive(from InmemClient, frame []byte, reply func([]byte))
}

// InmemClient describes the socket a frame was sent on.
type InmemClient struct {
	ConnID    uint64
	Node      string
	PublicKey []byte
}

// DialRecord is kept for every socket opened by an InmemTransport.
type DialRecord struct {
	ConnID     uint64
	Node       string
	PublicKey  []byte
	SocksProxy string
}

// InmemTransport implements the Transport interface, to allow the pool client
// to be tested in-memory without going over a network.
type InmemTransport struct {
	sync.RWMutex
	consumerCh chan Inbound
	endpoints  map[string]InmemEndpoint
	sockets    map[*inmemSocket]struct{}
	dials      []DialRecord
	shutdown   bool
	shutdownCh chan struct{}
}

// NewInmemTransport is used to initialize a new transport.
func NewInmemTransport(bufferSize int) *InmemTransport {
	return &InmemTransport{
		consumerCh: make(chan Inbound, bufferSize),
		endpoints:  make(map[string]InmemEndpoint),
		sockets:    make(map[*inmemSocket]struct{}),
		shutdownCh: make(chan struct{}),
	}
}

// Connect routes frames sent to address to an endpoint.
func (i *InmemTransport) Connect(address string, ep InmemEndpoint) {
	i.Lock()
	defer i.Unlock()
	i.endpoints[address] = ep
}

// Disconnect is used to remove the ability to route to a given address.
func (i *InmemTransport) Disconnect(address string) {
	i.Lock()
	defer i.Unlock()
	delete(i.endpoints, address)
}

// Dial implements the Transport interface.
func (i *InmemTransport) Dial(connID uint64, node *peers.RemoteNode, curveKeys keys.CurveKeyPair, socksProxy string) (Socket, error) {
	i.Lock()
	defer i.Unlock()

	if i.shutdown {
		return nil, ErrTransportShutdown
	}
	if _, ok := i.endpoints[node.Address]; !ok {
		return nil, fmt.Errorf("failed to connect to node %s at %s", node.Name, node.Address)
	}

	s := &inmemSocket{
		trans:   i,
		address: node.Address,
		client: InmemClient{
			ConnID:    connID,
			Node:      node.Name,
			PublicKey: curveKeys.Public,
		},
		sendCh:  make(chan []byte, 1024),
		closeCh: make(chan struct{}),
	}
	i.sockets[s] = struct{}{}
	i.dials = append(i.dials, DialRecord{
		ConnID:     connID,
		Node:       node.Name,
		PublicKey:  curveKeys.Public,
		SocksProxy: socksProxy,
	})

	go s.run()

	return s, nil
}

// Consumer implements the Transport interface.
func (i *InmemTransport) Consumer() <-chan Inbound {
	return i.consumerCh
}

// Dials returns the sockets opened so far.
func (i *InmemTransport) Dials() []DialRecord {
	i.RLock()
	defer i.RUnlock()
	res := make([]DialRecord, len(i.dials))
	copy(res, i.dials)
	return res
}

// OpenSockets is the number of sockets not yet closed.
func (i *InmemTransport) OpenSockets() int {
	i.RLock()
	defer i.RUnlock()
	return len(i.sockets)
}

// Stats implements the Transport interface.
func (i *InmemTransport) Stats() map[string]string {
	i.RLock()
	defer i.RUnlock()
	return map[string]string{
		"transport":    "inmem",
		"open_sockets": strconv.Itoa(len(i.sockets)),
		"dials":        strconv.Itoa(len(i.dials)),
	}
}

// Close is used to permanently disable the transport
func (i *InmemTransport) Close() error {
	i.Lock()
	defer i.Unlock()
	if i.shutdown {
		return nil
	}
	i.shutdown = true
	close(i.shutdownCh)
	for s := range i.sockets {
		s.closeLocked()
	}
	return nil
}

func (i *InmemTransport) endpoint(address string) (InmemEndpoint, bool) {
	i.RLock()
	defer i.RUnlock()
	ep, ok := i.endpoints[address]
	return ep, ok
}

func (i *InmemTransport) deliver(s *inmemSocket, frame []byte) {
	select {
	case <-s.closeCh:
		return
	default:
	}
	select {
	case i.consumerCh <- Inbound{ConnID: s.client.ConnID, Node: s.client.Node, Frame: frame}:
	case <-s.closeCh:
	case <-i.shutdownCh:
	}
}

type inmemSocket struct {
	trans   *InmemTransport
	address string
	client  InmemClient
	sendCh  chan []byte
	closeCh chan struct{}
	once    sync.Once
}

// Send queues the frame for the endpoint. Frames of a socket are delivered
// in order.
func (s *inmemSocket) Send(frame []byte) error {
	if _, ok := s.trans.endpoint(s.address); !ok {
		return fmt.Errorf("node %s at %s is unreachable", s.client.Node, s.address)
	}
	f := make([]byte, len(frame))
	copy(f, frame)
	select {
	case <-s.closeCh:
		return fmt.Errorf("socket closed")
	case s.sendCh <- f:
		return nil
	default:
		return fmt.Errorf("send queue of %s is full", s.client.Node)
	}
}

func (s *inmemSocket) run() {
	for {
		select {
		case f := <-s.sendCh:
			ep, ok := s.trans.endpoint(s.address)
			if !ok {
				continue
			}
			ep.Receive(s.client, f, func(reply []byte) {
				s.trans.deliver(s, reply)
			})
		case <-s.closeCh:
			return
		}
	}
}

// Close ...
func (s *inmemSocket) Close() error {
	s.trans.Lock()
	defer s.trans.Unlock()
	s.closeLocked()
	return nil
}

func (s *inmemSocket) closeLocked() {
	s.once.Do(func() {
		close(s.closeCh)
	})
	delete(s.trans.sockets, s)
}
