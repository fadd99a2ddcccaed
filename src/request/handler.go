package request

import (
	"encoding/json"
	"sort"
	"strconv"
	"time"

	"github.com/mosaicnetworks/indypool/src/common"
	"github.com/mosaicnetworks/indypool/src/net"
	"github.com/mosaicnetworks/indypool/src/peers"
	"github.com/mosaicnetworks/indypool/src/proof"
	"github.com/mosaicnetworks/indypool/src/wire"
	"github.com/sirupsen/logrus"
)

// Emitter consumes the events of the state machine. The Networker implements
// it.
type Emitter interface {
	Process(ev net.Event) error
}

// Verifier checks the state proof of a REPLY result.
type Verifier func(result json.RawMessage, nodes *peers.NodeSet) error

// Ledgers gives access to the local ledger replicas.
type Ledgers interface {
	// NeedsCatchup reports whether a reply shows a ledger state newer than
	// the replica of ledgerID.
	NeedsCatchup(ledgerID int, md wire.ResponseMetadata) bool

	// StartCatchup brings the replica of ledgerID up to date and calls done
	// on the event loop when finished.
	StartCatchup(ledgerID int, done func(error))
}

// Config ...
type Config struct {
	AckTimeout   time.Duration
	ReplyTimeout time.Duration
}

// Handler tracks the requests in flight.
type Handler struct {
	conf    Config
	emitter Emitter
	nodes   *peers.NodeSet
	verify  Verifier
	ledgers Ledgers

	trackers map[uint64]*tracker
	routes   map[string]uint64

	now    func() time.Time
	logger *logrus.Entry
}

// NewHandler ...
func NewHandler(conf Config, emitter Emitter, logger *logrus.Entry) *Handler {
	if logger == nil {
		log := logrus.New()
		log.Level = logrus.DebugLevel
		logger = logrus.NewEntry(log)
	}

	return &Handler{
		conf:     conf,
		emitter:  emitter,
		nodes:    peers.NewNodeSet(nil),
		verify:   proof.Verify,
		trackers: make(map[uint64]*tracker),
		routes:   make(map[string]uint64),
		now:      time.Now,
		logger:   logger,
	}
}

// SetVerifier replaces the state proof verifier.
func (h *Handler) SetVerifier(v Verifier) {
	h.verify = v
}

// SetLedgers enables the catch-up trigger.
func (h *Handler) SetLedgers(l Ledgers) {
	h.ledgers = l
}

// SetClock replaces the time source.
func (h *Handler) SetClock(now func() time.Time) {
	h.now = now
}

// UpdateNodes replaces the node set used by new requests and by proof
// verification, and forwards it to the networker.
func (h *Handler) UpdateNodes(nodes *peers.NodeSet) error {
	h.nodes = nodes
	return h.emitter.Process(net.NodesStateUpdated{Nodes: nodes})
}

// Nodes returns the current node set.
func (h *Handler) Nodes() *peers.NodeSet {
	return h.nodes
}

func routeKey(op string, ledgerID int) string {
	return op + ":" + strconv.Itoa(ledgerID)
}

func routeOps(kind Kind) []string {
	switch kind {
	case LedgerStatus:
		return []string{wire.OpLedgerStatus, wire.OpConsistencyProof}
	case CatchupRange:
		return []string{wire.OpCatchupRep}
	default:
		return nil
	}
}

// Submit dispatches a request. The result is always delivered through
// s.Done, possibly before Submit returns, unless Submit returns an error.
func (h *Handler) Submit(s Submission) error {
	if s.Done == nil {
		return common.NewPoolErr(common.InvalidTransaction, "submission without completion")
	}
	if _, ok := h.trackers[s.ReqID]; ok {
		return common.NewPoolErrf(common.InvalidTransaction, "request %d is already in flight", s.ReqID)
	}
	if h.nodes.Len() == 0 {
		return common.NewPoolErr(common.PoolNotOpen, "no validator nodes")
	}
	for _, op := range routeOps(s.Kind) {
		if id, ok := h.routes[routeKey(op, s.LedgerID)]; ok {
			return common.NewPoolErrf(common.InvalidTransaction, "ledger %d is already synced by request %d", s.LedgerID, id)
		}
	}

	t := newTracker(s, h.now())
	h.trackers[s.ReqID] = t
	for _, op := range routeOps(s.Kind) {
		h.routes[routeKey(op, s.LedgerID)] = s.ReqID
	}

	h.logger.WithFields(logrus.Fields{
		"req_id": s.ReqID,
		"kind":   s.Kind,
	}).Debug("Submit")

	h.dispatch(t)

	return nil
}

func (h *Handler) dispatch(t *tracker) {
	t.reset(h.nodes)

	switch t.Kind {
	case StateProofRead:
		err := h.emitter.Process(net.SendOneRequest{
			Body:    t.Body,
			ReqID:   t.ReqID,
			Timeout: h.conf.AckTimeout,
		})
		if err != nil {
			h.sendFailed(t, err)
		}
	default:
		err := h.emitter.Process(net.SendAllRequest{
			Body:    t.Body,
			ReqID:   t.ReqID,
			Timeout: h.firstTimeout(t),
			Nodes:   t.Nodes,
		})
		if err != nil {
			h.sendFailed(t, err)
		}
	}
}

// firstTimeout is the deadline of the first attempt. Ledger sync messages
// are not acknowledged.
func (h *Handler) firstTimeout(t *tracker) time.Duration {
	switch t.Kind {
	case Action:
		return h.actionTimeout(t)
	case LedgerStatus, CatchupRange:
		return h.conf.ReplyTimeout
	default:
		return h.conf.AckTimeout
	}
}

func (h *Handler) actionTimeout(t *tracker) time.Duration {
	if t.Timeout > 0 {
		return t.Timeout
	}
	return h.conf.ReplyTimeout
}

// sendFailed handles the error of a send event. Nodes that could not be
// reached count as failed replies; any other error ends the request.
func (h *Handler) sendFailed(t *tracker, err error) {
	failed := net.FailedNodes(err)
	if len(failed) == 0 {
		h.finish(t, Result{Err: err})
		return
	}
	for _, node := range failed {
		if t.state == Finished {
			return
		}
		h.nodeFailed(t, node, response{fail: failIO, reason: err.Error()})
	}
}

// Process consumes a message from node.
func (h *Handler) Process(node string, m *wire.Message) {
	id := m.ReqID
	switch m.Op {
	case wire.OpLedgerStatus, wire.OpConsistencyProof, wire.OpCatchupRep:
		rid, ok := h.routes[routeKey(m.Op, m.LedgerID)]
		if !ok {
			h.logger.WithFields(logrus.Fields{
				"node":      node,
				"op":        m.Op,
				"ledger_id": m.LedgerID,
			}).Debug("No catch-up in progress")
			return
		}
		id = rid
	}

	t, ok := h.trackers[id]
	if !ok {
		h.logger.WithFields(logrus.Fields{
			"node":   node,
			"op":     m.Op,
			"req_id": id,
		}).Debug("No request in flight")
		return
	}
	if t.state == CatchupRequired {
		return
	}
	if t.state == Issued {
		t.state = Gathering
	}

	if m.Op == wire.OpReqAck {
		h.emit(net.ExtendTimeout{
			ReqID:   t.ReqID,
			Node:    node,
			Timeout: h.replyTimeout(t),
		})
		return
	}

	switch t.Kind {
	case StateProofRead:
		h.processStateProofRead(t, node, m)
	case Action:
		h.processAction(t, node, m)
	default:
		h.processBroadcast(t, node, m)
	}
}

func (h *Handler) replyTimeout(t *tracker) time.Duration {
	if t.Kind == Action {
		return h.actionTimeout(t)
	}
	return h.conf.ReplyTimeout
}

func (h *Handler) processStateProofRead(t *tracker, node string, m *wire.Message) {
	switch m.Op {
	case wire.OpReqNack, wire.OpReject:
		h.nodeFailed(t, node, response{fail: failRejected, reason: m.Reason})
	case wire.OpReply:
		if err := h.verify(m.Result, h.nodes); err != nil {
			h.logger.WithFields(logrus.Fields{
				"req_id": t.ReqID,
				"node":   node,
				"error":  err,
			}).Warn("Invalid state proof")
			h.nodeFailed(t, node, response{fail: failProof, reason: err.Error()})
			return
		}
		h.accept(t, node, m)
	default:
		h.nodeFailed(t, node, response{fail: failInvalid, reason: "unexpected " + m.Op})
	}
}

// nodeFailed records a failure of the node currently asked by a state proof
// read and moves on to the next node. The resend is emitted before the
// deadline of the failed node is cleaned so that the connection is never
// left without a deadline.
func (h *Handler) nodeFailed(t *tracker, node string, r response) {
	if t.state == Finished || t.state == CatchupRequired {
		return
	}
	switch t.Kind {
	case Action:
		t.responses[node] = r
		h.checkAction(t)
		return
	case StateProofRead:
	default:
		h.record(t, node, r)
		return
	}
	if _, ok := t.responses[node]; ok {
		return
	}
	t.responses[node] = r

	if t.resends >= t.nodes.Len()-1 {
		h.finish(t, Result{Err: failureError(t)})
		return
	}

	t.resends++
	err := h.emitter.Process(net.Resend{
		ReqID:   t.ReqID,
		Timeout: h.conf.AckTimeout,
	})
	h.emit(net.CleanTimeout{ReqID: t.ReqID, Node: node})

	h.logger.WithFields(logrus.Fields{
		"req_id":  t.ReqID,
		"node":    node,
		"resends": t.resends,
	}).Debug("Resend")

	if err != nil {
		h.sendFailed(t, err)
	}
}

func (h *Handler) processBroadcast(t *tracker, node string, m *wire.Message) {
	if !t.isTarget(node) {
		return
	}
	switch m.Op {
	case wire.OpReqNack, wire.OpReject:
		h.record(t, node, response{fail: failRejected, reason: m.Reason})
		return
	}

	key, err := t.match(node, m)
	if err != nil {
		h.logger.WithFields(logrus.Fields{
			"req_id": t.ReqID,
			"node":   node,
			"error":  err,
		}).Warn("Invalid reply")
		h.record(t, node, response{fail: failInvalid, reason: err.Error()})
		return
	}
	h.record(t, node, response{ok: true, key: key, msg: m})
}

// record stores the latest response of a node of a broadcast request and
// checks for consensus.
func (h *Handler) record(t *tracker, node string, r response) {
	t.responses[node] = r
	h.emit(net.CleanTimeout{ReqID: t.ReqID, Node: node})

	replies, rejections := t.count(r.key, r.reason)
	quorum := t.nodes.Quorum()

	switch {
	case r.ok && replies >= quorum:
		h.accept(t, node, r.msg)
	case !r.ok && r.fail == failRejected && rejections >= quorum:
		h.finish(t, Result{Err: common.NewPoolErr(common.LedgerRejection, r.reason)})
	case t.allResponded():
		h.finish(t, Result{Err: failureError(t)})
	}
}

func (h *Handler) processAction(t *tracker, node string, m *wire.Message) {
	if !t.isTarget(node) {
		return
	}
	t.responses[node] = response{ok: true, msg: m}
	h.emit(net.CleanTimeout{ReqID: t.ReqID, Node: node})
	h.checkAction(t)
}

func (h *Handler) checkAction(t *tracker) {
	if !t.allResponded() {
		return
	}
	replies := make(map[string]json.RawMessage, len(t.targets))
	for _, n := range t.targets {
		r := t.responses[n]
		if r.ok {
			replies[n] = r.msg.Raw
		} else {
			replies[n] = TimeoutReply
		}
	}
	h.finish(t, Result{Replies: replies})
}

// accept ends a request with an agreed reply, unless the reply shows that a
// replicated ledger is behind.
func (h *Handler) accept(t *tracker, node string, m *wire.Message) {
	if h.ledgers != nil && !t.caughtUp && (t.Kind == StateProofRead || t.Kind == QuorumRead || t.Kind == Write) {
		if md, err := wire.ParseResponseMetadata(m.Result); err == nil {
			ledgerID := t.LedgerID
			if md.LedgerID != nil {
				ledgerID = *md.LedgerID
			}
			if h.ledgers.NeedsCatchup(ledgerID, md) {
				h.pause(t, ledgerID)
				return
			}
		}
	}
	h.finish(t, Result{Reply: m.Raw, Node: node})
}

// pause drops every deadline of the request while its ledger catches up.
// The request is dispatched again when the catch-up completes.
func (h *Handler) pause(t *tracker, ledgerID int) {
	t.state = CatchupRequired
	h.emit(net.CleanTimeout{ReqID: t.ReqID})

	h.logger.WithFields(logrus.Fields{
		"req_id":    t.ReqID,
		"ledger_id": ledgerID,
	}).Debug("Catch-up required")

	id := t.ReqID
	h.ledgers.StartCatchup(ledgerID, func(err error) {
		h.resume(id, err)
	})
}

func (h *Handler) resume(id uint64, err error) {
	t, ok := h.trackers[id]
	if !ok || t.state != CatchupRequired {
		return
	}
	if err != nil {
		h.finish(t, Result{Err: err})
		return
	}
	t.caughtUp = true
	h.dispatch(t)
}

// Timeout consumes the expiry of the deadline of node for a request.
func (h *Handler) Timeout(reqID uint64, node string) {
	t, ok := h.trackers[reqID]
	if !ok || t.state == Finished || t.state == CatchupRequired {
		h.emit(net.CleanTimeout{ReqID: reqID, Node: node})
		return
	}

	h.logger.WithFields(logrus.Fields{
		"req_id": reqID,
		"node":   node,
	}).Debug("Timeout")

	switch t.Kind {
	case StateProofRead:
		h.nodeFailed(t, node, response{fail: failTimeout, reason: "timeout"})
	case Action:
		if !t.isTarget(node) {
			h.emit(net.CleanTimeout{ReqID: reqID, Node: node})
			return
		}
		t.responses[node] = response{fail: failTimeout, reason: "timeout"}
		h.emit(net.CleanTimeout{ReqID: reqID, Node: node})
		h.checkAction(t)
	default:
		h.record(t, node, response{fail: failTimeout, reason: "timeout"})
	}
}

// Cancel ends a request on behalf of its caller.
func (h *Handler) Cancel(reqID uint64) {
	if t, ok := h.trackers[reqID]; ok {
		h.finish(t, Result{Err: common.NewPoolErr(common.PoolClosed, "request cancelled")})
	}
}

// CancelAll ends every request in flight.
func (h *Handler) CancelAll() {
	ids := make([]uint64, 0, len(h.trackers))
	for id := range h.trackers {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	for _, id := range ids {
		h.Cancel(id)
	}
}

func (h *Handler) finish(t *tracker, res Result) {
	if t.state == Finished {
		return
	}
	t.state = Finished
	delete(h.trackers, t.ReqID)
	for _, op := range routeOps(t.Kind) {
		key := routeKey(op, t.LedgerID)
		if h.routes[key] == t.ReqID {
			delete(h.routes, key)
		}
	}
	h.emit(net.CleanTimeout{ReqID: t.ReqID})

	fields := logrus.Fields{
		"req_id":   t.ReqID,
		"kind":     t.Kind,
		"duration": h.now().Sub(t.started),
	}
	if res.Err != nil {
		fields["error"] = res.Err
	}
	h.logger.WithFields(fields).Debug("Finished")

	t.Done(res)
}

func (h *Handler) emit(ev net.Event) {
	if err := h.emitter.Process(ev); err != nil {
		h.logger.WithFields(logrus.Fields{
			"event": net.EventName(ev),
			"error": err,
		}).Warn("Processing event")
	}
}

// failureError summarizes the failed replies of a request without consensus.
func failureError(t *tracker) error {
	fails := t.failures()
	if len(fails) == 0 {
		return common.NewPoolErr(common.PoolTimeout, "no consensus")
	}

	reasons := make(map[string]int)
	var io, proofs int
	for _, f := range fails {
		switch f.fail {
		case failRejected:
			reasons[f.reason]++
		case failIO:
			io++
		case failProof:
			proofs++
		}
	}

	sorted := make([]string, 0, len(reasons))
	for r := range reasons {
		sorted = append(sorted, r)
	}
	sort.Strings(sorted)
	for _, r := range sorted {
		if reasons[r] >= t.nodes.Quorum() {
			return common.NewPoolErr(common.LedgerRejection, r)
		}
	}

	switch {
	case proofs == len(fails):
		return common.NewPoolErrf(common.InvalidStateProof, "%d nodes returned unverifiable proofs", proofs)
	case io == len(fails):
		return common.NewPoolErrf(common.IOError, "%d nodes unreachable", io)
	default:
		return common.NewPoolErrf(common.PoolTimeout, "no consensus from %d nodes", len(t.responses))
	}
}

// Pending is the number of requests in flight.
func (h *Handler) Pending() int {
	return len(h.trackers)
}

// StateOf returns the state of a request in flight.
func (h *Handler) StateOf(reqID uint64) (State, bool) {
	t, ok := h.trackers[reqID]
	if !ok {
		return Finished, false
	}
	return t.state, true
}

// Stats ...
func (h *Handler) Stats() map[string]string {
	counts := make(map[Kind]int)
	for _, t := range h.trackers {
		counts[t.Kind]++
	}
	stats := map[string]string{
		"requests_in_flight": strconv.Itoa(len(h.trackers)),
	}
	for k, c := range counts {
		stats["in_flight_"+k.String()] = strconv.Itoa(c)
	}
	return stats
}
