package net

import (
	"bytes"
	"fmt"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/mosaicnetworks/indypool/src/common"
	"github.com/mosaicnetworks/indypool/src/crypto/keys"
	"github.com/mosaicnetworks/indypool/src/peers"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testClock struct {
	now time.Time
}

func (c *testClock) Now() time.Time { return c.now }

func (c *testClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

type sinkEndpoint struct {
	sync.Mutex
	frames [][]byte
}

func (s *sinkEndpoint) Receive(from InmemClient, frame []byte, reply func([]byte)) {
	s.Lock()
	defer s.Unlock()
	s.frames = append(s.frames, frame)
}

func initNodeSet(t *testing.T, n int) *peers.NodeSet {
	var nodes []*peers.RemoteNode
	for i := 0; i < n; i++ {
		priv, err := keys.GenerateKey()
		require.NoError(t, err)
		node, err := peers.NewRemoteNode(
			fmt.Sprintf("Node%d", i+1),
			fmt.Sprintf("10.0.0.%d:9702", i+1),
			keys.Verkey(keys.PublicKey(priv)),
			"",
			false,
		)
		require.NoError(t, err)
		nodes = append(nodes, node)
	}
	return peers.NewNodeSet(nodes)
}

func initNetworker(t *testing.T, n int, conf NetworkerConfig) (*Networker, *InmemTransport, *testClock) {
	nodes := initNodeSet(t, n)
	trans := NewInmemTransport(64)
	for _, node := range nodes.Nodes {
		trans.Connect(node.Address, &sinkEndpoint{})
	}
	clock := &testClock{now: time.Unix(1600000000, 0)}

	nw := NewNetworker(conf, trans, common.NewTestEntry(t, logrus.DebugLevel))
	nw.SetClock(clock.Now)
	nw.SetRand(rand.New(rand.NewSource(42)))
	require.NoError(t, nw.Process(NodesStateUpdated{Nodes: nodes}))

	return nw, trans, clock
}

func defaultNetworkerConfig() NetworkerConfig {
	return NetworkerConfig{
		ActiveTimeout: 5 * time.Second,
		ConnLimit:     5,
	}
}

func TestConnectionLimit(t *testing.T) {
	nw, _, _ := initNetworker(t, 4, defaultNetworkerConfig())

	for i := 1; i <= 6; i++ {
		err := nw.Process(SendAllRequest{Body: []byte("{}"), ReqID: uint64(i), Timeout: 20 * time.Second})
		require.NoError(t, err)
		if i <= 5 && nw.ConnectionCount() != 1 {
			t.Fatalf("after request %d there should be 1 connection, not %d", i, nw.ConnectionCount())
		}
	}

	if nw.ConnectionCount() != 2 {
		t.Fatalf("after request 6 there should be 2 connections, not %d", nw.ConnectionCount())
	}

	conns := nw.Connections()
	if bytes.Equal(conns[0].CurveKeys().Public, conns[1].CurveKeys().Public) {
		t.Fatalf("connections should have distinct key pairs")
	}
	if bytes.Equal(conns[0].CurveKeys().Secret, conns[1].CurveKeys().Secret) {
		t.Fatalf("connections should have distinct secret keys")
	}
}

func TestConnectionCapInvariant(t *testing.T) {
	conf := defaultNetworkerConfig()
	conf.ConnLimit = 3
	nw, _, _ := initNetworker(t, 4, conf)

	for i := 1; i <= 20; i++ {
		require.NoError(t, nw.Process(SendOneRequest{Body: []byte("{}"), ReqID: uint64(i), Timeout: time.Second}))
		maxConns := (nw.PendingRequests()+conf.ConnLimit-1)/conf.ConnLimit + 1
		if nw.ConnectionCount() > maxConns {
			t.Fatalf("%d open requests use %d connections, at most %d allowed", nw.PendingRequests(), nw.ConnectionCount(), maxConns)
		}
		for _, c := range nw.Connections() {
			if c.ReqCount() > conf.ConnLimit {
				t.Fatalf("connection %d carries %d requests", c.ID(), c.ReqCount())
			}
		}
	}
}

func TestRequestToConnectionUniqueness(t *testing.T) {
	nw, _, _ := initNetworker(t, 4, NetworkerConfig{ActiveTimeout: 5 * time.Second, ConnLimit: 2})

	for i := 1; i <= 7; i++ {
		require.NoError(t, nw.Process(SendAllRequest{Body: []byte("{}"), ReqID: uint64(i), Timeout: time.Second}))
	}
	// re-sending an id routes to the same connection
	before, _ := nw.ConnectionOf(3)
	require.NoError(t, nw.Process(SendOneRequest{Body: []byte("{}"), ReqID: 3, Timeout: time.Second}))
	after, _ := nw.ConnectionOf(3)
	assert.Equal(t, before.ID(), after.ID())

	for i := 1; i <= 7; i++ {
		owners := 0
		for _, c := range nw.Connections() {
			if c.hasRequest(uint64(i)) {
				owners++
			}
		}
		if owners != 1 {
			t.Fatalf("request %d is carried by %d connections", i, owners)
		}
	}
}

func TestResendRoundRobin(t *testing.T) {
	nw, _, _ := initNetworker(t, 4, defaultNetworkerConfig())

	require.NoError(t, nw.Process(SendOneRequest{Body: []byte("{}"), ReqID: 1, Timeout: time.Second}))
	conn, _ := nw.ConnectionOf(1)
	order := conn.NodeNames()

	visited := []string{order[0]}
	for r := 1; r <= 6; r++ {
		require.NoError(t, nw.Process(Resend{ReqID: 1, Timeout: time.Second}))
		assert.Equal(t, r, conn.ResendCount(1))
		for _, name := range order {
			if _, ok := conn.Deadline(TimeoutKey{ReqID: 1, Node: name}); ok && !contains(visited, name) {
				visited = append(visited, name)
			}
		}
		expected := order[r%len(order)]
		if _, ok := conn.Deadline(TimeoutKey{ReqID: 1, Node: expected}); !ok {
			t.Fatalf("resend %d should target %s", r, expected)
		}
		if r < len(order) && len(visited) != r+1 {
			t.Fatalf("after %d resends %d distinct nodes should be visited, not %d", r, r+1, len(visited))
		}
	}
}

func contains(list []string, s string) bool {
	for _, l := range list {
		if l == s {
			return true
		}
	}
	return false
}

func TestTimeoutMonotonicity(t *testing.T) {
	nw, _, clock := initNetworker(t, 4, defaultNetworkerConfig())

	require.NoError(t, nw.Process(SendAllRequest{Body: []byte("{}"), ReqID: 1, Timeout: 20 * time.Second}))
	conn, _ := nw.ConnectionOf(1)
	node := conn.NodeNames()[0]
	key := TimeoutKey{ReqID: 1, Node: node}
	d1, _ := conn.Deadline(key)

	clock.Advance(2 * time.Second)

	// now + 10s < d1
	require.NoError(t, nw.Process(ExtendTimeout{ReqID: 1, Node: node, Timeout: 10 * time.Second}))
	d2, _ := conn.Deadline(key)
	if !d2.Before(d1) {
		t.Fatalf("shorter extension should move the deadline earlier")
	}

	// now + 60s >= d1
	require.NoError(t, nw.Process(ExtendTimeout{ReqID: 1, Node: node, Timeout: 60 * time.Second}))
	d3, _ := conn.Deadline(key)
	if d3.Before(d1) {
		t.Fatalf("longer extension should not move the deadline earlier")
	}
	assert.Equal(t, clock.now.Add(60*time.Second), d3)

	// late REQACK for an unknown attempt is ignored
	require.NoError(t, nw.Process(ExtendTimeout{ReqID: 99, Node: node, Timeout: time.Second}))
	require.NoError(t, nw.Process(CleanTimeout{ReqID: 1, Node: node}))
	require.NoError(t, nw.Process(ExtendTimeout{ReqID: 1, Node: node, Timeout: time.Second}))
	if _, ok := conn.Deadline(key); ok {
		t.Fatalf("extending a cleaned deadline should not recreate it")
	}

	require.NoError(t, nw.Process(CleanTimeout{ReqID: 1}))
	for _, name := range conn.NodeNames() {
		if _, ok := conn.Deadline(TimeoutKey{ReqID: 1, Node: name}); ok {
			t.Fatalf("CleanTimeout without node should remove every deadline")
		}
	}
	if _, ok := nw.ConnectionOf(1); ok {
		t.Fatalf("CleanTimeout without node should remove the mapping")
	}
}

func TestNodesStateUpdatedForcesNewConnection(t *testing.T) {
	nw, trans, _ := initNetworker(t, 4, defaultNetworkerConfig())

	require.NoError(t, nw.Process(SendAllRequest{Body: []byte("{}"), ReqID: 1, Timeout: time.Second}))
	first, _ := nw.ConnectionOf(1)

	newNodes := initNodeSet(t, 5)
	for _, node := range newNodes.Nodes {
		trans.Connect(node.Address, &sinkEndpoint{})
	}
	require.NoError(t, nw.Process(NodesStateUpdated{Nodes: newNodes}))

	require.NoError(t, nw.Process(SendAllRequest{Body: []byte("{}"), ReqID: 2, Timeout: time.Second}))
	second, _ := nw.ConnectionOf(2)

	if first.ID() == second.ID() {
		t.Fatalf("a node set change should create a new connection")
	}
	assert.Equal(t, 2, nw.ConnectionCount())
	assert.Len(t, second.NodeNames(), 5)
}

func TestNextTimeout(t *testing.T) {
	nw, _, clock := initNetworker(t, 4, defaultNetworkerConfig())

	if _, ok := nw.NextTimeout(); ok {
		t.Fatalf("no connection, no deadline")
	}

	require.NoError(t, nw.Process(SendOneRequest{Body: []byte("{}"), ReqID: 1, Timeout: 20 * time.Second}))
	require.NoError(t, nw.Process(SendOneRequest{Body: []byte("{}"), ReqID: 2, Timeout: 3 * time.Second}))

	d, ok := nw.NextTimeout()
	require.True(t, ok)
	assert.False(t, d.Lifetime)
	assert.Equal(t, uint64(2), d.Key.ReqID)
	assert.Equal(t, 3*time.Second, d.Remaining)

	require.NoError(t, nw.Process(CleanTimeout{ReqID: 1}))
	require.NoError(t, nw.Process(CleanTimeout{ReqID: 2}))

	// no deadline left: the connection lifetime bounds the wait
	clock.Advance(time.Second)
	d, ok = nw.NextTimeout()
	require.True(t, ok)
	assert.True(t, d.Lifetime)
	assert.Equal(t, 4*time.Second, d.Remaining)

	// past its lifetime the remaining time is negative
	clock.Advance(10 * time.Second)
	d, ok = nw.NextTimeout()
	require.True(t, ok)
	assert.True(t, d.Remaining < 0)

	require.NoError(t, nw.Process(Timeout{}))
	assert.Equal(t, 0, nw.ConnectionCount())
}

func TestOrphanedConnectionDestroyed(t *testing.T) {
	nw, trans, clock := initNetworker(t, 4, defaultNetworkerConfig())

	require.NoError(t, nw.Process(SendAllRequest{Body: []byte("{}"), ReqID: 1, Timeout: 20 * time.Second}))
	assert.Equal(t, 4, trans.OpenSockets())

	clock.Advance(6 * time.Second)

	// inactive but still tracking deadlines
	require.NoError(t, nw.Process(Timeout{}))
	assert.Equal(t, 1, nw.ConnectionCount())

	// a new request does not go to the inactive connection
	require.NoError(t, nw.Process(SendOneRequest{Body: []byte("{}"), ReqID: 2, Timeout: time.Second}))
	assert.Equal(t, 2, nw.ConnectionCount())

	require.NoError(t, nw.Process(CleanTimeout{ReqID: 1}))
	assert.Equal(t, 1, nw.ConnectionCount())
	_, ok := nw.ConnectionOf(1)
	assert.False(t, ok)
}

func TestInactiveConnectionKeepsRequestInFlight(t *testing.T) {
	nw, trans, clock := initNetworker(t, 4, defaultNetworkerConfig())

	require.NoError(t, nw.Process(SendOneRequest{Body: []byte("{}"), ReqID: 1, Timeout: 20 * time.Second}))
	conn, _ := nw.ConnectionOf(1)
	order := conn.NodeNames()
	trans.Disconnect(conn.nodes[1].Address)

	clock.Advance(21 * time.Second)

	err := nw.Process(Resend{ReqID: 1, Timeout: 20 * time.Second})
	assert.Equal(t, []string{order[1]}, FailedNodes(err))

	// the last deadline goes away but the request is still carried
	require.NoError(t, nw.Process(CleanTimeout{ReqID: 1, Node: order[0]}))
	assert.Equal(t, 1, nw.ConnectionCount())
	if _, ok := nw.ConnectionOf(1); !ok {
		t.Fatalf("request 1 should still be mapped to its connection")
	}
	if _, ok := nw.NextTimeout(); ok {
		t.Fatalf("a connection without deadlines should not report its lifetime while it carries a request")
	}
	require.NoError(t, nw.Process(Timeout{}))
	assert.Equal(t, 1, nw.ConnectionCount())

	require.NoError(t, nw.Process(Resend{ReqID: 1, Timeout: 20 * time.Second}))
	_, armed := conn.Deadline(TimeoutKey{ReqID: 1, Node: order[2]})
	assert.True(t, armed)

	require.NoError(t, nw.Process(CleanTimeout{ReqID: 1}))
	assert.Equal(t, 0, nw.ConnectionCount())
}

func TestResendUnknownRequest(t *testing.T) {
	nw, _, _ := initNetworker(t, 4, defaultNetworkerConfig())

	err := nw.Process(Resend{ReqID: 99, Timeout: time.Second})
	if !common.IsPoolErr(err, common.IOError) {
		t.Fatalf("resend of an unknown request should be an IOError, not %v", err)
	}
	assert.Empty(t, FailedNodes(err))
}

func TestPreorderedNodes(t *testing.T) {
	conf := defaultNetworkerConfig()
	conf.PreorderedNodes = []string{"Node3", "Node1"}
	nw, _, _ := initNetworker(t, 5, conf)

	for i := 1; i <= 3; i++ {
		nw.SetRand(rand.New(rand.NewSource(int64(i))))
		require.NoError(t, nw.Process(SendOneRequest{Body: []byte("{}"), ReqID: uint64(i), Timeout: time.Second}))
		conn, _ := nw.ConnectionOf(uint64(i))
		order := conn.NodeNames()
		assert.Equal(t, []string{"Node3", "Node1"}, order[:2])
		nw.Process(CleanTimeout{ReqID: uint64(i)})
		nw.Close()
	}
}

func TestSendFailureIsIOError(t *testing.T) {
	nw, trans, _ := initNetworker(t, 4, defaultNetworkerConfig())

	require.NoError(t, nw.Process(SendAllRequest{Body: []byte("{}"), ReqID: 1, Timeout: time.Second}))
	conn, _ := nw.ConnectionOf(1)
	victim := conn.nodes[1]

	trans.Disconnect(victim.Address)

	err := nw.Process(SendAllRequest{Body: []byte("{}"), ReqID: 2, Timeout: time.Second})
	if !common.IsPoolErr(err, common.IOError) {
		t.Fatalf("send failure should be an IOError, not %v", err)
	}
	assert.Equal(t, []string{victim.Name}, FailedNodes(err))
	if _, ok := conn.Deadline(TimeoutKey{ReqID: 2, Node: victim.Name}); ok {
		t.Fatalf("failed attempt should not arm a deadline")
	}
	assert.Nil(t, conn.sockets[1])

	// the connection map is not poisoned: the socket is reopened lazily
	trans.Connect(victim.Address, &sinkEndpoint{})
	require.NoError(t, nw.Process(SendAllRequest{Body: []byte("{}"), ReqID: 3, Timeout: time.Second}))
	assert.NotNil(t, conn.sockets[1])
}

func TestSendWithoutNodes(t *testing.T) {
	trans := NewInmemTransport(1)
	nw := NewNetworker(defaultNetworkerConfig(), trans, common.NewTestEntry(t, logrus.DebugLevel))

	err := nw.Process(SendOneRequest{Body: []byte("{}"), ReqID: 1, Timeout: time.Second})
	if !common.IsPoolErr(err, common.PoolNotOpen) {
		t.Fatalf("sending without nodes should be PoolNotOpen, not %v", err)
	}
}
