package net

import (
	"fmt"
	"math/rand"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/mosaicnetworks/indypool/src/common"
	"github.com/mosaicnetworks/indypool/src/peers"
	"github.com/sirupsen/logrus"
)

// NetworkerConfig ...
type NetworkerConfig struct {
	ActiveTimeout   time.Duration
	ConnLimit       int
	PreorderedNodes []string
	SocksProxy      string
}

// Deadline is the next timer the event loop must wait for. When Lifetime is
// set, the deadline is the end of life of connection ConnID instead of a
// request attempt.
type Deadline struct {
	Key       TimeoutKey
	ConnID    uint64
	Remaining time.Duration
	Lifetime  bool
}

// SendError lists the nodes a send event could not reach.
type SendError struct {
	ReqID  uint64
	Failed map[string]error
}

// Error ...
func (e *SendError) Error() string {
	names := make([]string, 0, len(e.Failed))
	for n := range e.Failed {
		names = append(names, n)
	}
	sort.Strings(names)
	parts := make([]string, 0, len(names))
	for _, n := range names {
		parts = append(parts, fmt.Sprintf("%s: %v", n, e.Failed[n]))
	}
	return fmt.Sprintf("request %d: %s", e.ReqID, strings.Join(parts, "; "))
}

// FailedNodes returns the nodes listed by a SendError wrapped in err.
func FailedNodes(err error) []string {
	for err != nil {
		if se, ok := err.(*SendError); ok {
			res := make([]string, 0, len(se.Failed))
			for n := range se.Failed {
				res = append(res, n)
			}
			sort.Strings(res)
			return res
		}
		switch e := err.(type) {
		case interface{ Unwrap() error }:
			err = e.Unwrap()
		case interface{ Cause() error }:
			err = e.Cause()
		default:
			return nil
		}
	}
	return nil
}

// Networker owns every PoolConnection and the mapping from request ids to the
// connection that carries them. It is not safe for concurrent use; the event
// loop is its only caller.
type Networker struct {
	conf      NetworkerConfig
	transport Transport
	nodes     *peers.NodeSet

	conns      map[uint64]*PoolConnection
	order      []uint64
	reqToConn  map[uint64]uint64
	nextConnID uint64

	now    func() time.Time
	rand   *rand.Rand
	logger *logrus.Entry
}

// NewNetworker ...
func NewNetworker(conf NetworkerConfig, transport Transport, logger *logrus.Entry) *Networker {
	if logger == nil {
		log := logrus.New()
		log.Level = logrus.DebugLevel
		logger = logrus.NewEntry(log)
	}
	if conf.ConnLimit < 1 {
		conf.ConnLimit = 1
	}

	return &Networker{
		conf:      conf,
		transport: transport,
		nodes:     peers.NewNodeSet(nil),
		conns:     make(map[uint64]*PoolConnection),
		reqToConn: make(map[uint64]uint64),
		now:       time.Now,
		rand:      rand.New(rand.NewSource(time.Now().UnixNano())),
		logger:    logger,
	}
}

// SetClock replaces the time source.
func (n *Networker) SetClock(now func() time.Time) {
	n.now = now
}

// SetRand replaces the source used to shuffle nodes.
func (n *Networker) SetRand(r *rand.Rand) {
	n.rand = r
}

// Process applies an event. Send failures are returned as IOError PoolErrs
// wrapping a SendError.
func (n *Networker) Process(ev Event) error {
	now := n.now()

	switch e := ev.(type) {
	case SendOneRequest:
		conn, err := n.connectionFor(e.ReqID, now)
		if err != nil {
			return err
		}
		conn.registerRequest(e.ReqID, e.Body)
		if err := conn.sendToOne(e.ReqID, e.Timeout, now); err != nil {
			return n.sendFailure(e.ReqID, map[string]error{conn.nodes[0].Name: err})
		}
	case SendAllRequest:
		conn, err := n.connectionFor(e.ReqID, now)
		if err != nil {
			return err
		}
		conn.registerRequest(e.ReqID, e.Body)
		if failed := conn.sendToAll(e.ReqID, e.Timeout, e.Nodes, now); len(failed) > 0 {
			return n.sendFailure(e.ReqID, failed)
		}
	case Resend:
		conn, ok := n.connectionOf(e.ReqID)
		if !ok {
			n.logger.WithField("req_id", e.ReqID).Warn("Resend of unknown request")
			return common.NewPoolErrf(common.IOError, "request %d is not carried by any connection", e.ReqID)
		}
		node, err := conn.resend(e.ReqID, e.Timeout, now)
		if err != nil {
			if node == "" {
				return common.WrapPoolErr(common.IOError, err, "resend")
			}
			return n.sendFailure(e.ReqID, map[string]error{node: err})
		}
	case ExtendTimeout:
		if conn, ok := n.connectionOf(e.ReqID); ok {
			conn.extendTimeout(e.ReqID, e.Node, e.Timeout, now)
		}
	case CleanTimeout:
		conn, ok := n.connectionOf(e.ReqID)
		if !ok {
			return nil
		}
		conn.cleanTimeout(e.ReqID, e.Node)
		if e.Node == "" {
			delete(n.reqToConn, e.ReqID)
		}
		if conn.isOrphaned(now) {
			n.destroy(conn.id)
		}
	case NodesStateUpdated:
		n.nodes = e.Nodes
		n.logger.WithField("nodes", strings.Join(e.Nodes.Names(), ",")).Debug("Nodes updated")
	case Timeout:
		n.sweep(now)
	default:
		return fmt.Errorf("unknown event %T", ev)
	}

	return nil
}

func (n *Networker) sendFailure(reqID uint64, failed map[string]error) error {
	for node, err := range failed {
		n.logger.WithFields(logrus.Fields{
			"req_id": reqID,
			"node":   node,
			"error":  err,
		}).Warn("Send failed")
	}
	return common.WrapPoolErr(common.IOError, &SendError{ReqID: reqID, Failed: failed}, "send")
}

// connectionFor routes a new request: to the connection already carrying
// it, else to the newest connection if it is active, under the cap and built
// for the current nodes, else to a new connection.
func (n *Networker) connectionFor(reqID uint64, now time.Time) (*PoolConnection, error) {
	if conn, ok := n.connectionOf(reqID); ok {
		return conn, nil
	}

	if n.nodes.Len() == 0 {
		return nil, common.NewPoolErr(common.PoolNotOpen, "no validator nodes")
	}

	if len(n.order) > 0 {
		last := n.conns[n.order[len(n.order)-1]]
		if last.isActive(now) && last.reqCount < n.conf.ConnLimit && last.nodeSet.Equal(n.nodes) {
			n.reqToConn[reqID] = last.id
			return last, nil
		}
	}

	n.nextConnID++
	conn, err := newPoolConnection(
		n.nextConnID,
		n.nodes,
		n.conf.PreorderedNodes,
		n.conf.ActiveTimeout,
		n.conf.SocksProxy,
		n.transport,
		now,
		n.rand,
		n.logger,
	)
	if err != nil {
		return nil, common.WrapPoolErr(common.IOError, err, "creating connection")
	}
	n.conns[conn.id] = conn
	n.order = append(n.order, conn.id)
	n.reqToConn[reqID] = conn.id

	conn.logger.Debug("Connection created")

	return conn, nil
}

func (n *Networker) connectionOf(reqID uint64) (*PoolConnection, bool) {
	id, ok := n.reqToConn[reqID]
	if !ok {
		return nil, false
	}
	conn, ok := n.conns[id]
	return conn, ok
}

func (n *Networker) destroy(id uint64) {
	conn, ok := n.conns[id]
	if !ok {
		return
	}
	conn.close()
	delete(n.conns, id)
	for i, o := range n.order {
		if o == id {
			n.order = append(n.order[:i], n.order[i+1:]...)
			break
		}
	}
	for reqID, connID := range n.reqToConn {
		if connID == id {
			delete(n.reqToConn, reqID)
		}
	}
}

func (n *Networker) sweep(now time.Time) {
	for _, id := range append([]uint64{}, n.order...) {
		if n.conns[id].isOrphaned(now) {
			n.destroy(id)
		}
	}
}

// NextTimeout returns the earliest deadline across connections. ok is false
// when there are no connections. A stalled connection has no deadline and
// cannot be swept, so its lifetime is not reported.
func (n *Networker) NextTimeout() (Deadline, bool) {
	now := n.now()
	var (
		best  Deadline
		found bool
	)
	for _, id := range n.order {
		if n.conns[id].stalled() {
			continue
		}
		key, remaining, tracked := n.conns[id].nextTimeout(now)
		if !found || remaining < best.Remaining {
			best = Deadline{
				Key:       key,
				ConnID:    id,
				Remaining: remaining,
				Lifetime:  !tracked,
			}
			found = true
		}
	}
	return best, found
}

// Nodes returns the current node set.
func (n *Networker) Nodes() *peers.NodeSet {
	return n.nodes
}

// ConnectionCount ...
func (n *Networker) ConnectionCount() int {
	return len(n.conns)
}

// Connections returns the live connections, oldest first.
func (n *Networker) Connections() []*PoolConnection {
	res := make([]*PoolConnection, 0, len(n.order))
	for _, id := range n.order {
		res = append(res, n.conns[id])
	}
	return res
}

// ConnectionOf returns the connection carrying a request.
func (n *Networker) ConnectionOf(reqID uint64) (*PoolConnection, bool) {
	return n.connectionOf(reqID)
}

// PendingRequests is the number of request ids mapped to a connection.
func (n *Networker) PendingRequests() int {
	return len(n.reqToConn)
}

// Close destroys every connection.
func (n *Networker) Close() {
	for _, id := range append([]uint64{}, n.order...) {
		n.destroy(id)
	}
}

// Stats ...
func (n *Networker) Stats() map[string]string {
	return map[string]string{
		"connections":      strconv.Itoa(len(n.conns)),
		"pending_requests": strconv.Itoa(len(n.reqToConn)),
		"nodes":            strconv.Itoa(n.nodes.Len()),
	}
}
