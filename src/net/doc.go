// Package net implements the networker: the connection pool and request
// dispatch layer between the request state machine and the validator nodes.
//
// The networker consumes Events (SendOneRequest, SendAllRequest, Resend,
// ExtendTimeout, CleanTimeout, NodesStateUpdated, Timeout) and turns them into
// addressed socket sends. It multiplexes requests over PoolConnections: each
// connection addresses every validator through its own sockets and CurveZMQ
// key pair, carries at most ConnLimit requests, and accepts new requests for
// ActiveTimeout after its creation. A connection that is no longer active and
// tracks no deadline is orphaned and destroyed.
//
// Every send arms a per (request, node) deadline. NextTimeout returns the
// earliest of them so that the event loop can bound its wait; when a
// connection has no deadline left, its remaining lifetime is used instead.
//
// Sockets are provided by a Transport. The zmq sub-package implements CurveZMQ
// DEALER sockets; InmemTransport routes frames to in-process endpoints and is
// used by tests and simulated pools.
package net
