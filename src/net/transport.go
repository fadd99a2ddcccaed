package net

import (
	"errors"

	"github.com/mosaicnetworks/indypool/src/crypto/keys"
	"github.com/mosaicnetworks/indypool/src/peers"
)

var (
	// ErrTransportShutdown is returned when operations on a transport are
	// invoked after it's been terminated.
	ErrTransportShutdown = errors.New("transport shutdown")
)

// Transport opens sockets towards validator nodes and delivers the frames
// they send back.
type Transport interface {
	// Dial opens a socket to a node on behalf of connection connID, using the
	// connection's CurveZMQ key pair. An empty socksProxy means no proxy.
	Dial(connID uint64, node *peers.RemoteNode, curveKeys keys.CurveKeyPair, socksProxy string) (Socket, error)

	// Consumer returns the channel of inbound frames of every open socket.
	Consumer() <-chan Inbound

	// Stats returns transport counters.
	Stats() map[string]string

	// Close permanently closes a transport, stopping
	// any associated goroutines and freeing other resources.
	Close() error
}

// Socket is a connected socket to one node.
type Socket interface {
	Send(frame []byte) error
	Close() error
}

// Inbound is a frame received from a node, tagged with the connection that
// owns the socket.
type Inbound struct {
	ConnID uint64
	Node   string
	Frame  []byte
}
