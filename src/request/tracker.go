package request

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/mosaicnetworks/indypool/src/crypto"
	"github.com/mosaicnetworks/indypool/src/peers"
	"github.com/mosaicnetworks/indypool/src/wire"
	"github.com/pkg/errors"
	"github.com/tidwall/sjson"
)

// TimeoutReply marks the nodes of an action that did not answer in time.
var TimeoutReply = json.RawMessage(`"timeout"`)

// Matcher returns the key under which the reply of a node is grouped. Nodes
// agree when their keys are equal. An error counts as a failed reply.
type Matcher func(node string, m *wire.Message) (string, error)

// Result is delivered once per request. Replies is only set for actions.
type Result struct {
	Reply   json.RawMessage
	Replies map[string]json.RawMessage
	Node    string
	Err     error
}

// Submission describes a request to track.
type Submission struct {
	ReqID    uint64
	Body     []byte
	Kind     Kind
	LedgerID int

	// Nodes restricts a broadcast to some nodes. Empty means all.
	Nodes []string

	// Timeout overrides the reply timeout of actions.
	Timeout time.Duration

	// Match overrides the default grouping of replies of broadcast kinds.
	Match Matcher

	Done func(Result)
}

type failureKind int

const (
	failTimeout failureKind = iota
	failIO
	failRejected
	failProof
	failInvalid
)

type response struct {
	key    string
	msg    *wire.Message
	reason string
	fail   failureKind
	ok     bool
}

type tracker struct {
	Submission

	state     State
	nodes     *peers.NodeSet
	targets   []string
	responses map[string]response
	resends   int
	caughtUp  bool
	started   time.Time
}

func newTracker(s Submission, now time.Time) *tracker {
	return &tracker{
		Submission: s,
		started:    now,
	}
}

func (t *tracker) reset(nodes *peers.NodeSet) {
	t.state = Issued
	t.nodes = nodes
	t.responses = make(map[string]response)
	t.resends = 0
	if len(t.Nodes) > 0 {
		t.targets = append([]string{}, t.Nodes...)
	} else {
		t.targets = nodes.Names()
	}
}

func (t *tracker) isTarget(node string) bool {
	for _, n := range t.targets {
		if n == node {
			return true
		}
	}
	return false
}

func (t *tracker) match(node string, m *wire.Message) (string, error) {
	if t.Match != nil {
		return t.Match(node, m)
	}
	if m.Op != wire.OpReply {
		return "", errors.Errorf("unexpected %s", m.Op)
	}
	if t.Kind == Write {
		return matchWrite(m)
	}
	return matchResult(m)
}

// matchWrite groups write replies by the position of the ordered txn.
func matchWrite(m *wire.Message) (string, error) {
	md, err := wire.ParseResponseMetadata(m.Result)
	if err != nil {
		return "", err
	}
	if md.SeqNo == 0 {
		return "", errors.New("write reply without seqNo")
	}
	return fmt.Sprintf("%d:%d", md.SeqNo, md.TxnTime), nil
}

// matchResult groups read replies by the hash of their canonical result.
// Proof fields differ between nodes and are left out.
func matchResult(m *wire.Message) (string, error) {
	result := []byte(m.Result)
	var err error
	for _, field := range []string{"state_proof", "multiSignature", "auditPath"} {
		if result, err = sjson.DeleteBytes(result, field); err != nil {
			return "", err
		}
	}
	canonical, err := wire.CanonicalJSON(json.RawMessage(result))
	if err != nil {
		return "", err
	}
	return crypto.SHA256Hex(canonical), nil
}

// counts returns the number of target nodes that replied with key, and that
// rejected with reason.
func (t *tracker) count(key, reason string) (int, int) {
	var replies, rejections int
	for _, n := range t.targets {
		r, ok := t.responses[n]
		if !ok {
			continue
		}
		if r.ok && r.key == key {
			replies++
		}
		if !r.ok && r.fail == failRejected && r.reason == reason {
			rejections++
		}
	}
	return replies, rejections
}

func (t *tracker) allResponded() bool {
	for _, n := range t.targets {
		if _, ok := t.responses[n]; !ok {
			return false
		}
	}
	return true
}

func (t *tracker) failures() []response {
	res := make([]response, 0, len(t.responses))
	for _, r := range t.responses {
		if !r.ok {
			res = append(res, r)
		}
	}
	return res
}
