package request

import (
	"encoding/json"
	"fmt"
	"math/rand"
	"testing"
	"time"

	"github.com/mosaicnetworks/indypool/src/common"
	"github.com/mosaicnetworks/indypool/src/crypto"
	"github.com/mosaicnetworks/indypool/src/crypto/bls"
	"github.com/mosaicnetworks/indypool/src/crypto/keys"
	"github.com/mosaicnetworks/indypool/src/merkle"
	"github.com/mosaicnetworks/indypool/src/net"
	"github.com/mosaicnetworks/indypool/src/peers"
	"github.com/mosaicnetworks/indypool/src/proof"
	"github.com/mosaicnetworks/indypool/src/wire"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recorder records events and forwards them to next, if any.
type recorder struct {
	events []net.Event
	fail   func(ev net.Event) error
	next   Emitter
}

func (r *recorder) Process(ev net.Event) error {
	r.events = append(r.events, ev)
	if r.fail != nil {
		if err := r.fail(ev); err != nil {
			return err
		}
	}
	if r.next != nil {
		return r.next.Process(ev)
	}
	return nil
}

func (r *recorder) count(name string) int {
	c := 0
	for _, ev := range r.events {
		if net.EventName(ev) == name {
			c++
		}
	}
	return c
}

type dropEndpoint struct{}

func (dropEndpoint) Receive(from net.InmemClient, frame []byte, reply func([]byte)) {}

type testPool struct {
	nodes        *peers.NodeSet
	participants []proof.Participant
}

func initPool(t *testing.T, n int) *testPool {
	p := &testPool{}
	var nodes []*peers.RemoteNode
	for i := 0; i < n; i++ {
		priv, err := keys.GenerateKey()
		require.NoError(t, err)
		sk, pk := bls.GenerateKey()
		name := fmt.Sprintf("Node%d", i+1)
		node, err := peers.NewRemoteNode(
			name,
			fmt.Sprintf("10.0.0.%d:9702", i+1),
			keys.Verkey(keys.PublicKey(priv)),
			pk.String(),
			false,
		)
		require.NoError(t, err)
		nodes = append(nodes, node)
		p.participants = append(p.participants, proof.Participant{Name: name, Key: sk})
	}
	p.nodes = peers.NewNodeSet(nodes)
	return p
}

type results struct {
	list []Result
}

func (r *results) done(res Result) {
	r.list = append(r.list, res)
}

func initHandler(t *testing.T, p *testPool, emitter Emitter) *Handler {
	h := NewHandler(Config{
		AckTimeout:   20 * time.Second,
		ReplyTimeout: 60 * time.Second,
	}, emitter, common.NewTestEntry(t, logrus.DebugLevel))
	require.NoError(t, h.UpdateNodes(p.nodes))
	return h
}

// initNetworked backs the handler with a real networker so that the order in
// which nodes are asked is the shuffled order of the connection.
func initNetworked(t *testing.T, p *testPool) (*Handler, *recorder, *net.Networker) {
	trans := net.NewInmemTransport(64)
	for _, node := range p.nodes.Nodes {
		trans.Connect(node.Address, dropEndpoint{})
	}
	nw := net.NewNetworker(net.NetworkerConfig{
		ActiveTimeout: 5 * time.Second,
		ConnLimit:     5,
	}, trans, common.NewTestEntry(t, logrus.DebugLevel))
	nw.SetRand(rand.New(rand.NewSource(7)))
	rec := &recorder{next: nw}
	return initHandler(t, p, rec), rec, nw
}

type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time { return c.now }

// initNetworkedAt is initNetworked with an injected clock, returning the
// transport so that tests can disconnect nodes.
func initNetworkedAt(t *testing.T, p *testPool) (*Handler, *net.Networker, *net.InmemTransport, *fakeClock) {
	trans := net.NewInmemTransport(64)
	for _, node := range p.nodes.Nodes {
		trans.Connect(node.Address, dropEndpoint{})
	}
	clock := &fakeClock{now: time.Unix(1600000000, 0)}
	nw := net.NewNetworker(net.NetworkerConfig{
		ActiveTimeout: 5 * time.Second,
		ConnLimit:     5,
	}, trans, common.NewTestEntry(t, logrus.DebugLevel))
	nw.SetClock(clock.Now)
	nw.SetRand(rand.New(rand.NewSource(7)))
	h := initHandler(t, p, nw)
	h.SetClock(clock.Now)
	return h, nw, trans, clock
}

func parse(t *testing.T, v interface{}) *wire.Message {
	b, err := json.Marshal(v)
	require.NoError(t, err)
	m, err := wire.ParseMessage(b)
	require.NoError(t, err)
	return m
}

func writeReply(t *testing.T, reqID, seqNo, txnTime uint64) *wire.Message {
	return parse(t, map[string]interface{}{
		"op": "REPLY",
		"result": map[string]interface{}{
			"ver": "1",
			"txn": map[string]interface{}{
				"type":     "1",
				"metadata": map[string]interface{}{"reqId": reqID, "from": "V4SGRU86Z58d6TV7PBUe6f"},
				"data":     map[string]interface{}{"dest": "Th7MpTaRZVRYnPiabds81Y"},
			},
			"txnMetadata": map[string]interface{}{"seqNo": seqNo, "txnTime": txnTime},
		},
	})
}

func nack(t *testing.T, reqID uint64, reason string) *wire.Message {
	return parse(t, map[string]interface{}{
		"op":         "REQNACK",
		"reqId":      reqID,
		"identifier": "V4SGRU86Z58d6TV7PBUe6f",
		"reason":     reason,
	})
}

func ack(t *testing.T, reqID uint64) *wire.Message {
	return parse(t, map[string]interface{}{
		"op":         "REQACK",
		"reqId":      reqID,
		"identifier": "V4SGRU86Z58d6TV7PBUe6f",
	})
}

// nymReply builds a GET_NYM reply proven by the first f+1 nodes.
func nymReply(t *testing.T, p *testPool, reqID uint64, timestamp uint64) *wire.Message {
	data := `{"dest":"Th7MpTaRZVRYnPiabds81Y","verkey":"~7TYfekw4GUagBnBVCqPjiC","role":null}`

	tree := merkle.New()
	tree.Append([]byte("genesis"))
	tree.Append([]byte(data))
	tree.Append([]byte("other"))

	sp, err := proof.NewV0StateProof(tree, 1, wire.DomainLedger, timestamp, p.participants[:p.nodes.Quorum()])
	require.NoError(t, err)

	return parse(t, map[string]interface{}{
		"op": "REPLY",
		"result": map[string]interface{}{
			"type":        "105",
			"identifier":  "V4SGRU86Z58d6TV7PBUe6f",
			"reqId":       reqID,
			"dest":        "Th7MpTaRZVRYnPiabds81Y",
			"seqNo":       2,
			"txnTime":     timestamp,
			"data":        data,
			"state_proof": sp,
		},
	})
}

// corrupt flips a byte of the multi-signature of a v0 reply.
func corrupt(t *testing.T, m *wire.Message) *wire.Message {
	var doc map[string]interface{}
	require.NoError(t, json.Unmarshal(m.Raw, &doc))
	ms := doc["result"].(map[string]interface{})["state_proof"].(map[string]interface{})["multi_signature"].(map[string]interface{})
	sig, err := crypto.Base58Decode(ms["signature"].(string))
	require.NoError(t, err)
	sig[len(sig)-1] ^= 0x01
	ms["signature"] = crypto.Base58Encode(sig)
	return parse(t, doc)
}

func TestKindOf(t *testing.T) {
	cases := map[string]Kind{
		wire.GET_NYM:            StateProofRead,
		wire.GET_TXN:            StateProofRead,
		wire.NYM:                Write,
		wire.NODE:               Write,
		wire.GET_VALIDATOR_INFO: Action,
		wire.POOL_RESTART:       Action,
		wire.GET_AUTH_RULE:      QuorumRead,
		"9999":                  QuorumRead,
	}
	for typ, kind := range cases {
		if k := KindOf(typ); k != kind {
			t.Fatalf("KindOf(%s) should be %s, not %s", typ, kind, k)
		}
	}
}

// Two matching write replies out of four nodes end the request. A late
// reply finds no tracker.
func TestWriteConsensus(t *testing.T) {
	p := initPool(t, 4)
	rec := &recorder{}
	h := initHandler(t, p, rec)
	res := &results{}

	require.NoError(t, h.Submit(Submission{
		ReqID: 1,
		Body:  []byte(`{"reqId":1}`),
		Kind:  Write,
		Done:  res.done,
	}))
	assert.Equal(t, 1, rec.count("SendAllRequest"))

	h.Process("Node1", ack(t, 1))
	assert.Equal(t, 1, rec.count("ExtendTimeout"))

	h.Process("Node1", writeReply(t, 1, 42, 1600000000))
	if len(res.list) != 0 {
		t.Fatalf("request should not be finished after one reply")
	}
	if s, _ := h.StateOf(1); s != Gathering {
		t.Fatalf("state should be Gathering, not %s", s)
	}

	h.Process("Node3", writeReply(t, 1, 42, 1600000000))
	require.Len(t, res.list, 1)
	require.NoError(t, res.list[0].Err)
	assert.Equal(t, "Node3", res.list[0].Node)
	assert.Equal(t, "42", gjsonGet(res.list[0].Reply, "result.txnMetadata.seqNo"))

	h.Process("Node2", writeReply(t, 1, 43, 1600000001))
	assert.Len(t, res.list, 1)
	assert.Equal(t, 0, h.Pending())

	last, ok := rec.events[len(rec.events)-1].(net.CleanTimeout)
	if !ok || last.Node != "" {
		t.Fatalf("finishing should clean every deadline of the request, not %#v", rec.events[len(rec.events)-1])
	}
}

func TestWriteDivergentTimesOut(t *testing.T) {
	p := initPool(t, 4)
	h := initHandler(t, p, &recorder{})
	res := &results{}

	require.NoError(t, h.Submit(Submission{ReqID: 2, Body: []byte(`{}`), Kind: Write, Done: res.done}))

	h.Process("Node1", writeReply(t, 2, 1, 10))
	h.Process("Node2", writeReply(t, 2, 2, 10))
	h.Timeout(2, "Node3")
	require.Len(t, res.list, 0)
	h.Timeout(2, "Node4")

	require.Len(t, res.list, 1)
	if !common.IsPoolErr(res.list[0].Err, common.PoolTimeout) {
		t.Fatalf("error should be PoolTimeout, not %v", res.list[0].Err)
	}
}

func TestWriteRejection(t *testing.T) {
	p := initPool(t, 4)
	h := initHandler(t, p, &recorder{})
	res := &results{}

	require.NoError(t, h.Submit(Submission{ReqID: 3, Body: []byte(`{}`), Kind: Write, Done: res.done}))

	h.Process("Node1", nack(t, 3, "insufficient fees"))
	h.Process("Node2", nack(t, 3, "unknown identifier"))
	require.Len(t, res.list, 0)
	h.Process("Node4", nack(t, 3, "unknown identifier"))

	require.Len(t, res.list, 1)
	reason, ok := common.RejectionReason(res.list[0].Err)
	if !ok {
		t.Fatalf("error should be LedgerRejection, not %v", res.list[0].Err)
	}
	assert.Equal(t, "unknown identifier", reason)
}

func TestQuorumReadIgnoresProofFields(t *testing.T) {
	p := initPool(t, 4)
	h := initHandler(t, p, &recorder{})
	res := &results{}

	require.NoError(t, h.Submit(Submission{ReqID: 4, Body: []byte(`{}`), Kind: QuorumRead, Done: res.done}))

	reply := func(sig string) *wire.Message {
		return parse(t, map[string]interface{}{
			"op": "REPLY",
			"result": map[string]interface{}{
				"reqId":       4,
				"type":        "121",
				"data":        []interface{}{map[string]interface{}{"auth_type": "1"}},
				"state_proof": map[string]interface{}{"multi_signature": map[string]interface{}{"signature": sig}},
			},
		})
	}

	h.Process("Node2", reply("a"))
	h.Process("Node4", reply("b"))

	require.Len(t, res.list, 1)
	assert.NoError(t, res.list[0].Err)
}

// E2: a corrupted state proof moves the read on to the next node.
func TestStateProofReadResend(t *testing.T) {
	p := initPool(t, 4)
	h, rec, nw := initNetworked(t, p)
	res := &results{}

	require.NoError(t, h.Submit(Submission{ReqID: 5, Body: []byte(`{"reqId":5}`), Kind: StateProofRead, LedgerID: wire.DomainLedger, Done: res.done}))

	conn, ok := nw.ConnectionOf(5)
	require.True(t, ok)
	order := conn.NodeNames()

	valid := nymReply(t, p, 5, 1600000000)

	h.Process(order[0], corrupt(t, valid))
	assert.Equal(t, 1, rec.count("Resend"))
	require.Len(t, res.list, 0)

	_, armed := conn.Deadline(net.TimeoutKey{ReqID: 5, Node: order[1]})
	if !armed {
		t.Fatalf("%s should have a deadline after the resend", order[1])
	}
	if _, stale := conn.Deadline(net.TimeoutKey{ReqID: 5, Node: order[0]}); stale {
		t.Fatalf("deadline of %s should be cleaned", order[0])
	}

	h.Process(order[1], valid)
	require.Len(t, res.list, 1)
	require.NoError(t, res.list[0].Err)
	assert.Equal(t, order[1], res.list[0].Node)
	assert.Equal(t, 1, rec.count("Resend"))
	assert.Equal(t, 0, nw.PendingRequests())
}

// E4: without any answer, every node is tried exactly once, in the order of
// the connection, and the read times out after the last.
func TestStateProofReadTimeout(t *testing.T) {
	p := initPool(t, 4)
	h, rec, nw := initNetworked(t, p)
	res := &results{}

	require.NoError(t, h.Submit(Submission{ReqID: 6, Body: []byte(`{"reqId":6}`), Kind: StateProofRead, Done: res.done}))

	conn, ok := nw.ConnectionOf(6)
	require.True(t, ok)
	order := conn.NodeNames()

	var visited []string
	for len(res.list) == 0 {
		d, ok := nw.NextTimeout()
		require.True(t, ok)
		require.False(t, d.Lifetime, "a deadline should be armed")
		visited = append(visited, d.Key.Node)
		h.Timeout(d.Key.ReqID, d.Key.Node)
		require.True(t, len(visited) <= 4, "more attempts than nodes")
	}

	assert.Equal(t, order, visited)
	assert.Equal(t, 3, rec.count("Resend"))
	if !common.IsPoolErr(res.list[0].Err, common.PoolTimeout) {
		t.Fatalf("error should be PoolTimeout, not %v", res.list[0].Err)
	}
}

func TestStateProofReadAllInvalid(t *testing.T) {
	p := initPool(t, 4)
	h, _, nw := initNetworked(t, p)
	res := &results{}

	require.NoError(t, h.Submit(Submission{ReqID: 7, Body: []byte(`{}`), Kind: StateProofRead, Done: res.done}))
	conn, _ := nw.ConnectionOf(7)
	order := conn.NodeNames()

	bad := corrupt(t, nymReply(t, p, 7, 1600000000))
	for _, n := range order {
		h.Process(n, bad)
	}

	require.Len(t, res.list, 1)
	if !common.IsPoolErr(res.list[0].Err, common.InvalidStateProof) {
		t.Fatalf("error should be InvalidStateProof, not %v", res.list[0].Err)
	}
}

func TestStateProofReadResendFailsOnInactiveConnection(t *testing.T) {
	p := initPool(t, 4)
	h, nw, trans, clock := initNetworkedAt(t, p)
	res := &results{}

	require.NoError(t, h.Submit(Submission{ReqID: 9, Body: []byte(`{"reqId":9}`), Kind: StateProofRead, LedgerID: wire.DomainLedger, Done: res.done}))

	conn, ok := nw.ConnectionOf(9)
	require.True(t, ok)
	order := conn.NodeNames()
	for _, name := range order[1:] {
		trans.Disconnect(p.nodes.ByName[name].Address)
	}

	// the ack deadline outlives the connection
	clock.now = clock.now.Add(21 * time.Second)
	h.Timeout(9, order[0])

	require.Len(t, res.list, 1)
	if !common.IsPoolErr(res.list[0].Err, common.IOError) && !common.IsPoolErr(res.list[0].Err, common.PoolTimeout) {
		t.Fatalf("error should be IOError or PoolTimeout, not %v", res.list[0].Err)
	}
	assert.Equal(t, 0, h.Pending())
	assert.Equal(t, 0, nw.PendingRequests())
	assert.Equal(t, 0, nw.ConnectionCount())
}

func TestStateProofReadResendRecoversOnInactiveConnection(t *testing.T) {
	p := initPool(t, 4)
	h, nw, trans, clock := initNetworkedAt(t, p)
	res := &results{}

	require.NoError(t, h.Submit(Submission{ReqID: 10, Body: []byte(`{"reqId":10}`), Kind: StateProofRead, LedgerID: wire.DomainLedger, Done: res.done}))

	conn, _ := nw.ConnectionOf(10)
	order := conn.NodeNames()
	trans.Disconnect(p.nodes.ByName[order[1]].Address)

	clock.now = clock.now.Add(21 * time.Second)
	h.Timeout(10, order[0])

	// order[1] is unreachable, the request moved on to order[2]
	require.Len(t, res.list, 0)
	if _, armed := conn.Deadline(net.TimeoutKey{ReqID: 10, Node: order[2]}); !armed {
		t.Fatalf("%s should have a deadline after the failed resend", order[2])
	}

	h.Process(order[2], nymReply(t, p, 10, 1600000000))
	require.Len(t, res.list, 1)
	require.NoError(t, res.list[0].Err)
	assert.Equal(t, order[2], res.list[0].Node)
	assert.Equal(t, 0, nw.PendingRequests())
}

func TestStateProofReadSendFailure(t *testing.T) {
	p := initPool(t, 4)
	rec := &recorder{}
	rec.fail = func(ev net.Event) error {
		if _, ok := ev.(net.SendOneRequest); ok {
			return common.WrapPoolErr(common.IOError, &net.SendError{
				ReqID:  8,
				Failed: map[string]error{"Node1": fmt.Errorf("unreachable")},
			}, "send")
		}
		return nil
	}
	h := initHandler(t, p, rec)
	res := &results{}

	require.NoError(t, h.Submit(Submission{ReqID: 8, Body: []byte(`{}`), Kind: StateProofRead, Done: res.done}))

	assert.Equal(t, 1, rec.count("Resend"))
	assert.Len(t, res.list, 0)
}

// E6: an action reports every node, marking those that did not answer.
func TestActionTimeoutEntry(t *testing.T) {
	p := initPool(t, 4)
	rec := &recorder{}
	h := initHandler(t, p, rec)
	res := &results{}

	require.NoError(t, h.Submit(Submission{ReqID: 9, Body: []byte(`{}`), Kind: Action, Timeout: 10 * time.Second, Done: res.done}))

	send := rec.events[1].(net.SendAllRequest)
	assert.Equal(t, 10*time.Second, send.Timeout)

	info := func(node string) *wire.Message {
		return parse(t, map[string]interface{}{
			"op":     "REPLY",
			"result": map[string]interface{}{"reqId": 9, "data": map[string]interface{}{"alias": node}},
		})
	}
	h.Process("Node1", info("Node1"))
	h.Process("Node2", info("Node2"))
	h.Process("Node4", info("Node4"))
	require.Len(t, res.list, 0)
	h.Timeout(9, "Node3")

	require.Len(t, res.list, 1)
	replies := res.list[0].Replies
	require.Len(t, replies, 4)
	assert.Equal(t, TimeoutReply, replies["Node3"])
	assert.Equal(t, "Node2", gjsonGet(replies["Node2"], "result.data.alias"))
}

func TestActionSubset(t *testing.T) {
	p := initPool(t, 4)
	h := initHandler(t, p, &recorder{})
	res := &results{}

	require.NoError(t, h.Submit(Submission{ReqID: 10, Body: []byte(`{}`), Kind: Action, Nodes: []string{"Node2"}, Done: res.done}))

	h.Process("Node1", parse(t, map[string]interface{}{"op": "REPLY", "result": map[string]interface{}{"reqId": 10}}))
	require.Len(t, res.list, 0)
	h.Process("Node2", parse(t, map[string]interface{}{"op": "REPLY", "result": map[string]interface{}{"reqId": 10}}))
	require.Len(t, res.list, 1)
	assert.Len(t, res.list[0].Replies, 1)
}

func TestCancel(t *testing.T) {
	p := initPool(t, 4)
	rec := &recorder{}
	h := initHandler(t, p, rec)
	res := &results{}

	require.NoError(t, h.Submit(Submission{ReqID: 11, Body: []byte(`{}`), Kind: Write, Done: res.done}))
	h.Cancel(11)

	require.Len(t, res.list, 1)
	if !common.IsPoolErr(res.list[0].Err, common.PoolClosed) {
		t.Fatalf("error should be PoolClosed, not %v", res.list[0].Err)
	}
	clean, ok := rec.events[len(rec.events)-1].(net.CleanTimeout)
	require.True(t, ok)
	assert.Equal(t, uint64(11), clean.ReqID)
	assert.Equal(t, "", clean.Node)

	h.Cancel(11)
	assert.Len(t, res.list, 1)
}

func TestSubmitErrors(t *testing.T) {
	h := NewHandler(Config{}, &recorder{}, common.NewTestEntry(t, logrus.DebugLevel))
	err := h.Submit(Submission{ReqID: 1, Kind: Write, Done: func(Result) {}})
	if !common.IsPoolErr(err, common.PoolNotOpen) {
		t.Fatalf("error should be PoolNotOpen, not %v", err)
	}

	p := initPool(t, 4)
	require.NoError(t, h.UpdateNodes(p.nodes))
	require.NoError(t, h.Submit(Submission{ReqID: 1, Kind: Write, Done: func(Result) {}}))
	err = h.Submit(Submission{ReqID: 1, Kind: Write, Done: func(Result) {}})
	if !common.IsPoolErr(err, common.InvalidTransaction) {
		t.Fatalf("error should be InvalidTransaction, not %v", err)
	}
}

type fakeLedgers struct {
	behind  bool
	started []int
	resume  func(error)
}

func (f *fakeLedgers) NeedsCatchup(ledgerID int, md wire.ResponseMetadata) bool {
	return f.behind
}

func (f *fakeLedgers) StartCatchup(ledgerID int, done func(error)) {
	f.started = append(f.started, ledgerID)
	f.resume = done
}

func TestCatchupPausesAndRedispatches(t *testing.T) {
	p := initPool(t, 4)
	rec := &recorder{}
	h := initHandler(t, p, rec)
	ledgers := &fakeLedgers{behind: true}
	h.SetLedgers(ledgers)
	res := &results{}

	require.NoError(t, h.Submit(Submission{ReqID: 12, Body: []byte(`{}`), Kind: StateProofRead, LedgerID: wire.DomainLedger, Done: res.done}))

	h.Process("Node1", nymReply(t, p, 12, 1600000000))
	require.Len(t, res.list, 0)
	assert.Equal(t, []int{wire.DomainLedger}, ledgers.started)
	if s, _ := h.StateOf(12); s != CatchupRequired {
		t.Fatalf("state should be CatchupRequired, not %s", s)
	}

	// replies are ignored while the ledger catches up
	h.Process("Node2", nymReply(t, p, 12, 1600000000))
	require.Len(t, res.list, 0)

	ledgers.resume(nil)
	assert.Equal(t, 2, rec.count("SendOneRequest"))

	h.Process("Node3", nymReply(t, p, 12, 1600000000))
	require.Len(t, res.list, 1)
	require.NoError(t, res.list[0].Err)
	assert.Len(t, ledgers.started, 1)
}

func TestCatchupFailureEndsRequest(t *testing.T) {
	p := initPool(t, 4)
	h := initHandler(t, p, &recorder{})
	ledgers := &fakeLedgers{behind: true}
	h.SetLedgers(ledgers)
	res := &results{}

	require.NoError(t, h.Submit(Submission{ReqID: 13, Body: []byte(`{}`), Kind: Write, Done: res.done}))
	h.Process("Node1", writeReply(t, 13, 5, 1))
	h.Process("Node2", writeReply(t, 13, 5, 1))
	require.Len(t, ledgers.started, 1)

	ledgers.resume(common.NewPoolErr(common.PoolTimeout, "catch-up"))
	require.Len(t, res.list, 1)
	assert.True(t, common.IsPoolErr(res.list[0].Err, common.PoolTimeout))
}

func TestLedgerStatusRouting(t *testing.T) {
	p := initPool(t, 4)
	h := initHandler(t, p, &recorder{})
	res := &results{}

	match := func(node string, m *wire.Message) (string, error) {
		if m.Op != wire.OpLedgerStatus {
			return "", fmt.Errorf("unexpected %s", m.Op)
		}
		ls, err := wire.ParseLedgerStatus(m.Raw)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("%d:%s", ls.TxnSeqNo, ls.MerkleRoot), nil
	}

	require.NoError(t, h.Submit(Submission{ReqID: 14, Body: []byte(`{}`), Kind: LedgerStatus, LedgerID: wire.PoolLedger, Match: match, Done: res.done}))

	err := h.Submit(Submission{ReqID: 15, Body: []byte(`{}`), Kind: LedgerStatus, LedgerID: wire.PoolLedger, Match: match, Done: res.done})
	assert.Error(t, err)

	status := func(ledgerID int) *wire.Message {
		return parse(t, wire.NewLedgerStatus(ledgerID, 4, []byte("root"), 2))
	}

	h.Process("Node1", status(wire.DomainLedger))
	h.Process("Node1", status(wire.PoolLedger))
	h.Process("Node2", status(wire.PoolLedger))

	require.Len(t, res.list, 1)
	require.NoError(t, res.list[0].Err)
	assert.Equal(t, "LEDGER_STATUS", gjsonGet(res.list[0].Reply, "op"))

	require.NoError(t, h.Submit(Submission{ReqID: 16, Body: []byte(`{}`), Kind: LedgerStatus, LedgerID: wire.PoolLedger, Match: match, Done: res.done}))
}
