// Package zmq implements the validator transport over CurveZMQ DEALER
// sockets. It is the only package of the client that requires cgo and
// libzmq.
package zmq

import (
	"encoding/base64"
	"strconv"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/mosaicnetworks/indypool/src/crypto/keys"
	"github.com/mosaicnetworks/indypool/src/net"
	"github.com/mosaicnetworks/indypool/src/peers"
	"github.com/pebbe/zmq4"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// DefaultPollInterval bounds the time a socket reader holds the socket lock.
const DefaultPollInterval = 10 * time.Millisecond

// Transport opens one DEALER socket per (connection, node). Each socket is
// read by its own goroutine; frames are forwarded to the consumer channel.
type Transport struct {
	consumerCh   chan net.Inbound
	pollInterval time.Duration

	socketsLock sync.Mutex
	sockets     map[*socket]struct{}

	dials       uint64
	sendErrors  uint64
	socksErrors uint64

	shutdown     bool
	shutdownCh   chan struct{}
	shutdownLock sync.Mutex

	logger *logrus.Entry
}

// NewTransport ...
func NewTransport(bufferSize int, logger *logrus.Entry) *Transport {
	if logger == nil {
		log := logrus.New()
		log.Level = logrus.DebugLevel
		logger = logrus.NewEntry(log)
	}
	return &Transport{
		consumerCh:   make(chan net.Inbound, bufferSize),
		pollInterval: DefaultPollInterval,
		sockets:      make(map[*socket]struct{}),
		shutdownCh:   make(chan struct{}),
		logger:       logger,
	}
}

// Dial implements the net.Transport interface. The socket identity is the
// base64 connection public key; the server key is the X25519 form of the
// node verkey.
func (t *Transport) Dial(connID uint64, node *peers.RemoteNode, curveKeys keys.CurveKeyPair, socksProxy string) (net.Socket, error) {
	if t.IsShutdown() {
		return nil, net.ErrTransportShutdown
	}

	zs, err := zmq4.NewSocket(zmq4.DEALER)
	if err != nil {
		return nil, errors.Wrap(err, "creating DEALER socket")
	}

	setup := []func() error{
		func() error { return zs.SetIdentity(base64.StdEncoding.EncodeToString(curveKeys.Public)) },
		func() error { return zs.SetCurveSecretkey(zmq4.Z85encode(string(curveKeys.Secret))) },
		func() error { return zs.SetCurvePublickey(zmq4.Z85encode(string(curveKeys.Public))) },
		func() error { return zs.SetCurveServerkey(zmq4.Z85encode(string(node.TransportKey()))) },
		func() error { return zs.SetLinger(0) },
	}
	for _, f := range setup {
		if err := f(); err != nil {
			zs.Close()
			return nil, errors.Wrapf(err, "configuring socket to %s", node.Name)
		}
	}

	if socksProxy != "" {
		if err := zs.SetSocksProxy(socksProxy); err != nil {
			// the connection proceeds without proxy
			atomic.AddUint64(&t.socksErrors, 1)
			t.logger.WithFields(logrus.Fields{
				"node":  node.Name,
				"proxy": socksProxy,
				"error": err,
			}).Warn("Ignoring SOCKS proxy")
		}
	}

	if err := zs.Connect("tcp://" + node.Address); err != nil {
		zs.Close()
		return nil, errors.Wrapf(err, "connecting to %s", node)
	}

	s := &socket{
		trans:   t,
		zs:      zs,
		connID:  connID,
		node:    node.Name,
		closeCh: make(chan struct{}),
	}

	t.socketsLock.Lock()
	t.sockets[s] = struct{}{}
	t.socketsLock.Unlock()
	atomic.AddUint64(&t.dials, 1)

	go s.readLoop(s.pollFunc())

	t.logger.WithFields(logrus.Fields{
		"conn": connID,
		"node": node.Name,
		"addr": node.Address,
	}).Debug("Socket connected")

	return s, nil
}

// Consumer implements the net.Transport interface.
func (t *Transport) Consumer() <-chan net.Inbound {
	return t.consumerCh
}

// Stats implements the net.Transport interface.
func (t *Transport) Stats() map[string]string {
	t.socketsLock.Lock()
	open := len(t.sockets)
	t.socketsLock.Unlock()

	return map[string]string{
		"transport":          "zmq",
		"open_sockets":       strconv.Itoa(open),
		"dials":              strconv.FormatUint(atomic.LoadUint64(&t.dials), 10),
		"send_errors":        strconv.FormatUint(atomic.LoadUint64(&t.sendErrors), 10),
		"socks_proxy_errors": strconv.FormatUint(atomic.LoadUint64(&t.socksErrors), 10),
	}
}

// SocksProxyErrors is the number of sockets whose SOCKS proxy could not be
// configured.
func (t *Transport) SocksProxyErrors() uint64 {
	return atomic.LoadUint64(&t.socksErrors)
}

// IsShutdown is used to check if the transport is shutdown.
func (t *Transport) IsShutdown() bool {
	select {
	case <-t.shutdownCh:
		return true
	default:
		return false
	}
}

// Close is used to stop the transport and close every socket.
func (t *Transport) Close() error {
	t.shutdownLock.Lock()
	defer t.shutdownLock.Unlock()

	if t.shutdown {
		return nil
	}
	close(t.shutdownCh)
	t.shutdown = true

	t.socketsLock.Lock()
	sockets := make([]*socket, 0, len(t.sockets))
	for s := range t.sockets {
		sockets = append(sockets, s)
	}
	t.socketsLock.Unlock()

	for _, s := range sockets {
		s.Close()
	}
	return nil
}

// socket serializes access to a zmq socket, which is not safe for concurrent
// use.
type socket struct {
	sync.Mutex
	trans   *Transport
	zs      *zmq4.Socket
	connID  uint64
	node    string
	closed  bool
	closeCh chan struct{}
}

// Send ...
func (s *socket) Send(frame []byte) error {
	s.Lock()
	defer s.Unlock()
	if s.closed {
		return errors.New("socket closed")
	}
	if _, err := s.zs.SendBytes(frame, zmq4.DONTWAIT); err != nil {
		atomic.AddUint64(&s.trans.sendErrors, 1)
		return errors.Wrapf(err, "sending to %s", s.node)
	}
	return nil
}

// Close ...
func (s *socket) Close() error {
	s.Lock()
	defer s.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	close(s.closeCh)

	s.trans.socketsLock.Lock()
	delete(s.trans.sockets, s)
	s.trans.socketsLock.Unlock()

	return s.zs.Close()
}

func (s *socket) pollFunc() func() ([][]byte, error) {
	poller := zmq4.NewPoller()
	poller.Add(s.zs, zmq4.POLLIN)
	return func() ([][]byte, error) {
		return s.poll(poller)
	}
}

// readLoop forwards frames until the socket closes. A read error closes the
// socket after the frames drained before it are delivered; the next Send
// then fails and the owner dials a fresh socket.
func (s *socket) readLoop(poll func() ([][]byte, error)) {
	for {
		select {
		case <-s.closeCh:
			return
		case <-s.trans.shutdownCh:
			return
		default:
		}

		frames, err := poll()

		for _, f := range frames {
			select {
			case s.trans.consumerCh <- net.Inbound{ConnID: s.connID, Node: s.node, Frame: f}:
			case <-s.closeCh:
				return
			case <-s.trans.shutdownCh:
				return
			}
		}

		if err != nil {
			s.trans.logger.WithFields(logrus.Fields{
				"node":  s.node,
				"error": err,
			}).Debug("Socket read stopped")
			s.Close()
			return
		}
	}
}

// poll waits for readiness and drains every pending frame.
func (s *socket) poll(poller *zmq4.Poller) ([][]byte, error) {
	s.Lock()
	defer s.Unlock()

	if s.closed {
		return nil, errors.New("socket closed")
	}

	polled, err := poller.Poll(s.trans.pollInterval)
	if err != nil {
		return nil, err
	}
	if len(polled) == 0 {
		return nil, nil
	}

	var frames [][]byte
	for {
		f, err := s.zs.RecvBytes(zmq4.DONTWAIT)
		if err != nil {
			if zmq4.AsErrno(err) == zmq4.Errno(syscall.EAGAIN) {
				break
			}
			return frames, err
		}
		frames = append(frames, f)
	}
	return frames, nil
}
