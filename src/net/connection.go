package net

import (
	"fmt"
	"math/rand"
	"sort"
	"strings"
	"time"

	"github.com/mosaicnetworks/indypool/src/crypto/keys"
	"github.com/mosaicnetworks/indypool/src/peers"
	"github.com/sirupsen/logrus"
)

// TimeoutKey identifies the deadline of one attempt.
type TimeoutKey struct {
	ReqID uint64
	Node  string
}

type requestEntry struct {
	resendCount int
	body        []byte
}

// PoolConnection is a bounded multiplexed channel to every validator. Sockets
// are opened on first use.
type PoolConnection struct {
	id            uint64
	nodes         []*peers.RemoteNode
	nodeSet       *peers.NodeSet
	sockets       []Socket
	curveKeys     keys.CurveKeyPair
	requests      map[uint64]*requestEntry
	deadlines     map[TimeoutKey]time.Time
	created       time.Time
	reqCount      int
	activeTimeout time.Duration
	socksProxy    string

	transport Transport
	logger    *logrus.Entry
}

func newPoolConnection(
	id uint64,
	nodeSet *peers.NodeSet,
	preordered []string,
	activeTimeout time.Duration,
	socksProxy string,
	transport Transport,
	created time.Time,
	rnd *rand.Rand,
	logger *logrus.Entry,
) (*PoolConnection, error) {

	curveKeys, err := keys.GenerateCurveKeyPair()
	if err != nil {
		return nil, err
	}

	nodes := make([]*peers.RemoteNode, len(nodeSet.Nodes))
	copy(nodes, nodeSet.Nodes)
	rnd.Shuffle(len(nodes), func(i, j int) { nodes[i], nodes[j] = nodes[j], nodes[i] })
	preorder(nodes, preordered)

	conn := &PoolConnection{
		id:            id,
		nodes:         nodes,
		nodeSet:       nodeSet,
		sockets:       make([]Socket, len(nodes)),
		curveKeys:     curveKeys,
		requests:      make(map[uint64]*requestEntry),
		deadlines:     make(map[TimeoutKey]time.Time),
		created:       created,
		activeTimeout: activeTimeout,
		socksProxy:    socksProxy,
		transport:     transport,
	}
	conn.logger = logger.WithFields(logrus.Fields{
		"conn":  id,
		"order": strings.Join(conn.NodeNames(), ","),
	})

	return conn, nil
}

// preorder moves the named nodes first, in the given order. The other nodes
// keep their relative order.
func preorder(nodes []*peers.RemoteNode, names []string) {
	if len(names) == 0 {
		return
	}
	rank := make(map[string]int, len(names))
	for i, n := range names {
		if _, ok := rank[n]; !ok {
			rank[n] = i
		}
	}
	sort.SliceStable(nodes, func(i, j int) bool {
		ri, iok := rank[nodes[i].Name]
		rj, jok := rank[nodes[j].Name]
		switch {
		case iok && jok:
			return ri < rj
		case iok:
			return true
		default:
			return false
		}
	})
}

// ID ...
func (c *PoolConnection) ID() uint64 {
	return c.id
}

// NodeNames returns the nodes in the connection's order.
func (c *PoolConnection) NodeNames() []string {
	res := make([]string, len(c.nodes))
	for i, n := range c.nodes {
		res[i] = n.Name
	}
	return res
}

// CurveKeys returns the key pair of the connection's sockets.
func (c *PoolConnection) CurveKeys() keys.CurveKeyPair {
	return c.curveKeys
}

// ReqCount is the number of requests ever carried by the connection.
func (c *PoolConnection) ReqCount() int {
	return c.reqCount
}

// Deadline returns the deadline of an attempt.
func (c *PoolConnection) Deadline(key TimeoutKey) (time.Time, bool) {
	d, ok := c.deadlines[key]
	return d, ok
}

// ResendCount ...
func (c *PoolConnection) ResendCount(reqID uint64) int {
	if e, ok := c.requests[reqID]; ok {
		return e.resendCount
	}
	return -1
}

func (c *PoolConnection) isActive(now time.Time) bool {
	return now.Sub(c.created) <= c.activeTimeout
}

// isOrphaned holds once the connection is inactive and carries nothing: a
// request stays on its connection until CleanTimeout drops it entirely.
func (c *PoolConnection) isOrphaned(now time.Time) bool {
	return !c.isActive(now) && len(c.deadlines) == 0 && len(c.requests) == 0
}

// stalled reports requests in flight without any armed deadline. Their owner
// is about to resend or finish them.
func (c *PoolConnection) stalled() bool {
	return len(c.deadlines) == 0 && len(c.requests) > 0
}

func (c *PoolConnection) hasRequest(reqID uint64) bool {
	_, ok := c.requests[reqID]
	return ok
}

// registerRequest stores the body of a request carried by the connection.
func (c *PoolConnection) registerRequest(reqID uint64, body []byte) {
	if _, ok := c.requests[reqID]; ok {
		return
	}
	c.requests[reqID] = &requestEntry{body: body}
	c.reqCount++
}

func (c *PoolConnection) sendToOne(reqID uint64, timeout time.Duration, now time.Time) error {
	if len(c.nodes) == 0 {
		return fmt.Errorf("connection %d has no nodes", c.id)
	}
	return c.sendTo(0, reqID, timeout, now)
}

// sendToAll sends to every node, or to the named ones. It returns the
// failure of each node it could not reach.
func (c *PoolConnection) sendToAll(reqID uint64, timeout time.Duration, names []string, now time.Time) map[string]error {
	failed := make(map[string]error)

	wanted := make(map[string]bool, len(names))
	for _, n := range names {
		wanted[n] = true
	}

	for i, n := range c.nodes {
		if len(wanted) > 0 && !wanted[n.Name] {
			continue
		}
		delete(wanted, n.Name)
		if err := c.sendTo(i, reqID, timeout, now); err != nil {
			failed[n.Name] = err
		}
	}

	for n := range wanted {
		c.logger.WithField("node", n).Warn("Requested node is not part of the pool")
		failed[n] = fmt.Errorf("unknown node %s", n)
	}

	return failed
}

// resend delivers the request to node resendCount mod N.
func (c *PoolConnection) resend(reqID uint64, timeout time.Duration, now time.Time) (string, error) {
	entry, ok := c.requests[reqID]
	if !ok {
		return "", fmt.Errorf("request %d is not carried by connection %d", reqID, c.id)
	}
	entry.resendCount++
	idx := entry.resendCount % len(c.nodes)
	return c.nodes[idx].Name, c.sendTo(idx, reqID, timeout, now)
}

func (c *PoolConnection) sendTo(idx int, reqID uint64, timeout time.Duration, now time.Time) error {
	node := c.nodes[idx]
	entry := c.requests[reqID]

	if c.sockets[idx] == nil {
		s, err := c.transport.Dial(c.id, node, c.curveKeys, c.socksProxy)
		if err != nil {
			return err
		}
		c.sockets[idx] = s
	}

	if err := c.sockets[idx].Send(entry.body); err != nil {
		// the socket is reopened lazily by the next attempt
		c.sockets[idx].Close()
		c.sockets[idx] = nil
		return err
	}

	c.deadlines[TimeoutKey{ReqID: reqID, Node: node.Name}] = now.Add(timeout)

	c.logger.WithFields(logrus.Fields{
		"req_id": reqID,
		"node":   node.Name,
	}).Debug("Request sent")

	return nil
}

func (c *PoolConnection) extendTimeout(reqID uint64, node string, timeout time.Duration, now time.Time) {
	key := TimeoutKey{ReqID: reqID, Node: node}
	if _, ok := c.deadlines[key]; !ok {
		return
	}
	c.deadlines[key] = now.Add(timeout)
}

func (c *PoolConnection) cleanTimeout(reqID uint64, node string) {
	if node != "" {
		delete(c.deadlines, TimeoutKey{ReqID: reqID, Node: node})
		return
	}
	for k := range c.deadlines {
		if k.ReqID == reqID {
			delete(c.deadlines, k)
		}
	}
	delete(c.requests, reqID)
}

// nextTimeout returns the earliest deadline, or the remaining lifetime of the
// connection when it tracks none. The remaining time may be negative.
func (c *PoolConnection) nextTimeout(now time.Time) (TimeoutKey, time.Duration, bool) {
	var (
		best  TimeoutKey
		first time.Time
		found bool
	)
	for k, d := range c.deadlines {
		if !found || d.Before(first) || (d.Equal(first) && lessKey(k, best)) {
			best, first, found = k, d, true
		}
	}
	if found {
		return best, first.Sub(now), true
	}
	return TimeoutKey{}, c.activeTimeout - now.Sub(c.created), false
}

func lessKey(a, b TimeoutKey) bool {
	if a.ReqID != b.ReqID {
		return a.ReqID < b.ReqID
	}
	return a.Node < b.Node
}

func (c *PoolConnection) close() {
	for i, s := range c.sockets {
		if s != nil {
			s.Close()
			c.sockets[i] = nil
		}
	}
	c.logger.Debug("Connection destroyed")
}
