package net

import (
	"time"

	"github.com/mosaicnetworks/indypool/src/peers"
)

// Event is consumed by Networker.Process.
type Event interface {
	eventName() string
}

// SendOneRequest sends to the first node in the connection's order.
type SendOneRequest struct {
	Body    []byte
	ReqID   uint64
	Timeout time.Duration
}

// SendAllRequest sends to every node of the connection, or only to Nodes when
// it is not empty.
type SendAllRequest struct {
	Body    []byte
	ReqID   uint64
	Timeout time.Duration
	Nodes   []string
}

// Resend redelivers a stored request to the next node in round-robin order.
type Resend struct {
	ReqID   uint64
	Timeout time.Duration
}

// ExtendTimeout replaces the deadline of a node with now + Timeout.
type ExtendTimeout struct {
	ReqID   uint64
	Node    string
	Timeout time.Duration
}

// CleanTimeout drops the deadline of Node, or every trace of the request when
// Node is empty.
type CleanTimeout struct {
	ReqID uint64
	Node  string
}

// NodesStateUpdated replaces the current node list.
type NodesStateUpdated struct {
	Nodes *peers.NodeSet
}

// Timeout sweeps orphaned connections.
type Timeout struct{}

func (SendOneRequest) eventName() string    { return "SendOneRequest" }
func (SendAllRequest) eventName() string    { return "SendAllRequest" }
func (Resend) eventName() string            { return "Resend" }
func (ExtendTimeout) eventName() string     { return "ExtendTimeout" }
func (CleanTimeout) eventName() string      { return "CleanTimeout" }
func (NodesStateUpdated) eventName() string { return "NodesStateUpdated" }
func (Timeout) eventName() string           { return "Timeout" }

// EventName returns the name of an event, for logging.
func EventName(ev Event) string {
	return ev.eventName()
}
