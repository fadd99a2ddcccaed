package pool

import (
	"context"
	"encoding/json"
	"strconv"
	"sync"
	"time"

	"github.com/mosaicnetworks/indypool/src/common"
	"github.com/mosaicnetworks/indypool/src/config"
	"github.com/mosaicnetworks/indypool/src/crypto"
	"github.com/mosaicnetworks/indypool/src/net"
	"github.com/mosaicnetworks/indypool/src/peers"
	"github.com/mosaicnetworks/indypool/src/request"
	"github.com/mosaicnetworks/indypool/src/store"
	"github.com/mosaicnetworks/indypool/src/wire"
	"github.com/sirupsen/logrus"
)

// Pool is a handle on a validator pool. All the networking and consensus
// state lives on the event loop started by Open.
type Pool struct {
	state

	conf   *config.Config
	logger *logrus.Entry

	trans     net.Transport
	netCh     <-chan net.Inbound
	networker *net.Networker
	handler   *request.Handler
	catchup   *catchup
	store     store.Store

	eventCh    chan event
	shutdownCh chan struct{}
	doneCh     chan struct{}
	closeOnce  sync.Once

	refreshTimer *ControlTimer

	nodesLock sync.RWMutex
	nodes     *peers.NodeSet

	now   func() time.Time
	timer func(time.Duration) (<-chan time.Time, func() bool)
}

// New creates a pool handle from genesis transactions. Replicas found in s
// are resumed, provided they extend genesis. s may be nil.
func New(conf *config.Config, genesis []byte, trans net.Transport, s store.Store, logger *logrus.Entry) (*Pool, error) {
	if logger == nil {
		logger = conf.Logger()
	}
	logger = logger.WithField("pool", conf.PoolName)

	txns, err := ParseGenesis(genesis, logger)
	if err != nil {
		return nil, err
	}

	replicas := make(map[int]*replica)
	for _, id := range conf.ReplicatedLedgers {
		replicas[id] = newReplica(id, id == wire.PoolLedger)
	}
	poolLedger, ok := replicas[wire.PoolLedger]
	if !ok {
		poolLedger = newReplica(wire.PoolLedger, true)
	}
	poolLedger, err = poolLedger.appendTxns(txns)
	if err != nil {
		return nil, common.WrapPoolErr(common.ConfigError, err, "genesis")
	}
	if _, ok := replicas[wire.PoolLedger]; ok {
		replicas[wire.PoolLedger] = poolLedger
	}

	if s != nil {
		for id, r := range replicas {
			snapshot, err := s.GetLedger(id)
			if err != nil {
				if !common.IsStore(err, common.KeyNotFound) {
					logger.WithError(err).Warn("Loading ledger replica")
				}
				continue
			}
			restored, err := replicaFromSnapshot(snapshot, r)
			if err != nil {
				logger.WithError(err).Warn("Discarding ledger replica")
				continue
			}
			logger.WithFields(logrus.Fields{
				"ledger_id": id,
				"size":      restored.size(),
			}).Debug("Ledger replica restored")
			replicas[id] = restored
		}
	}

	nodeTxns := poolLedger.txns
	if r, ok := replicas[wire.PoolLedger]; ok {
		nodeTxns = r.txns
	}
	nodes, err := BuildNodeSet(nodeTxns, logger)
	if err != nil {
		return nil, err
	}

	networker := net.NewNetworker(net.NetworkerConfig{
		ActiveTimeout:   conf.ConnActiveTimeout,
		ConnLimit:       conf.ConnLimit,
		PreorderedNodes: conf.PreorderedNodes,
		SocksProxy:      conf.SocksProxy,
	}, trans, logger.WithField("component", "networker"))

	handler := request.NewHandler(request.Config{
		AckTimeout:   conf.AckTimeout,
		ReplyTimeout: conf.ReplyTimeout,
	}, networker, logger.WithField("component", "request"))

	p := &Pool{
		conf:         conf,
		logger:       logger,
		trans:        trans,
		netCh:        trans.Consumer(),
		networker:    networker,
		handler:      handler,
		store:        s,
		eventCh:      make(chan event, conf.QueueSize),
		shutdownCh:   make(chan struct{}),
		doneCh:       make(chan struct{}),
		refreshTimer: NewRefreshTimer(),
		now:          time.Now,
		timer: func(d time.Duration) (<-chan time.Time, func() bool) {
			t := time.NewTimer(d)
			return t.C, t.Stop
		},
	}

	p.catchup = newCatchup(handler, replicas, s, conf.ProtocolVersion, logger.WithField("component", "catchup"))
	p.catchup.onCommit = p.commitLedger
	handler.SetLedgers(p.catchup)

	if err := p.setNodes(nodes); err != nil {
		return nil, err
	}

	return p, nil
}

// SetClock replaces the time source of the networker and the handler. It
// must be called before Open.
func (p *Pool) SetClock(now func() time.Time) {
	p.now = now
	p.networker.SetClock(now)
	p.handler.SetClock(now)
}

func (p *Pool) setNodes(nodes *peers.NodeSet) error {
	if err := p.handler.UpdateNodes(nodes); err != nil {
		return err
	}
	p.nodesLock.Lock()
	p.nodes = nodes
	p.nodesLock.Unlock()
	return nil
}

// commitLedger rebuilds the node list when the pool ledger grows.
func (p *Pool) commitLedger(r *replica) error {
	if r.ledgerID != wire.PoolLedger {
		return nil
	}
	nodes, err := BuildNodeSet(r.txns, p.logger)
	if err != nil {
		return err
	}
	if nodes.Equal(p.handler.Nodes()) {
		return nil
	}
	p.logger.WithFields(logrus.Fields{
		"nodes": nodes.Len(),
		"f":     nodes.F(),
	}).Info("Pool nodes updated")
	return p.setNodes(nodes)
}

// Nodes returns the current validators.
func (p *Pool) Nodes() *peers.NodeSet {
	p.nodesLock.RLock()
	defer p.nodesLock.RUnlock()
	return p.nodes
}

// Name is the configured pool name.
func (p *Pool) Name() string {
	return p.conf.PoolName
}

// GetState returns the state of the handle.
func (p *Pool) GetState() State {
	return p.getState()
}

// Open starts the event loop and catches up the pool ledger. The handle
// accepts requests once Open returns without error.
func (p *Pool) Open(ctx context.Context) error {
	if !p.casState(Initialized, Opening) {
		return common.NewPoolErrf(common.InvalidTransaction, "pool is %s", p.getState())
	}

	p.goFunc(p.run)
	if p.conf.RefreshInterval > 0 {
		p.goFunc(func() { p.refreshTimer.Run(p.conf.RefreshInterval) })
	}

	if err := p.refresh(ctx); err != nil {
		p.logger.WithError(err).Error("Opening pool")
		p.Close()
		return err
	}

	p.casState(Opening, Open)
	p.logger.WithFields(logrus.Fields{
		"nodes": p.Nodes().Len(),
	}).Info("Pool open")
	return nil
}

// Refresh catches up the pool ledger and updates the node list.
func (p *Pool) Refresh(ctx context.Context) error {
	if s := p.getState(); s != Open {
		return common.NewPoolErrf(common.PoolNotOpen, "pool is %s", s)
	}
	return p.refresh(ctx)
}

func (p *Pool) refresh(ctx context.Context) error {
	ev := refreshEvent{done: make(chan error, 1)}
	if err := p.enqueue(ctx, ev); err != nil {
		return err
	}
	select {
	case err := <-ev.done:
		return err
	case <-ctx.Done():
		return common.WrapPoolErr(common.PoolTimeout, ctx.Err(), "refresh")
	case <-p.doneCh:
		select {
		case err := <-ev.done:
			return err
		default:
			return common.NewPoolErr(common.PoolClosed, "pool closed")
		}
	}
}

// Submit sends a request and returns the reply agreed by the pool, as
// submit_request does.
func (p *Pool) Submit(ctx context.Context, body []byte) ([]byte, error) {
	info, err := wire.ProbeRequest(body)
	if err != nil {
		return nil, common.WrapPoolErr(common.InvalidTransaction, err, "invalid request")
	}
	kind := request.KindOf(info.Type)
	if kind == request.Action {
		return nil, common.NewPoolErrf(common.InvalidTransaction, "%s is an action, use SubmitAction", info.Type)
	}

	res, err := p.submit(ctx, submitEvent{
		reqID:    info.ReqID,
		body:     body,
		kind:     kind,
		ledgerID: wire.LedgerOf(info.Type, info.LedgerID),
	})
	if err != nil {
		return nil, err
	}
	return res.Reply, nil
}

// SubmitAction sends an action request to nodes, or to every validator when
// nodes is empty, and returns the reply of each node. Nodes that did not
// answer within timeout map to "timeout". A zero timeout uses the
// configured reply timeout.
func (p *Pool) SubmitAction(ctx context.Context, body []byte, nodes []string, timeout time.Duration) (map[string]json.RawMessage, error) {
	info, err := wire.ProbeRequest(body)
	if err != nil {
		return nil, common.WrapPoolErr(common.InvalidTransaction, err, "invalid request")
	}

	res, err := p.submit(ctx, submitEvent{
		reqID:    info.ReqID,
		body:     body,
		kind:     request.Action,
		ledgerID: info.LedgerID,
		nodes:    nodes,
		timeout:  timeout,
	})
	if err != nil {
		return nil, err
	}
	return res.Replies, nil
}

func (p *Pool) submit(ctx context.Context, ev submitEvent) (request.Result, error) {
	if s := p.getState(); s != Open {
		return request.Result{}, common.NewPoolErrf(common.PoolNotOpen, "pool is %s", s)
	}

	ev.resultCh = make(chan request.Result, 1)
	if err := p.enqueue(ctx, ev); err != nil {
		return request.Result{}, err
	}

	select {
	case res := <-ev.resultCh:
		return res, res.Err
	case <-ctx.Done():
		p.cancel(ev.reqID)
		return request.Result{}, common.WrapPoolErr(common.PoolClosed, ctx.Err(), "request cancelled")
	case <-p.doneCh:
		// the loop cancels every request on its way out
		select {
		case res := <-ev.resultCh:
			return res, res.Err
		default:
			return request.Result{}, common.NewPoolErr(common.PoolClosed, "pool closed")
		}
	}
}

func (p *Pool) enqueue(ctx context.Context, ev event) error {
	select {
	case p.eventCh <- ev:
		return nil
	case <-ctx.Done():
		return common.WrapPoolErr(common.PoolTimeout, ctx.Err(), "event queue full")
	case <-p.shutdownCh:
		return common.NewPoolErr(common.PoolClosed, "pool closed")
	}
}

func (p *Pool) cancel(reqID uint64) {
	select {
	case p.eventCh <- cancelEvent{reqID: reqID}:
	case <-p.shutdownCh:
	}
}

// Stats returns counters of the pool handle.
func (p *Pool) Stats() map[string]string {
	ev := statsEvent{resultCh: make(chan map[string]string, 1)}
	if p.getState() == Opening || p.getState() == Open {
		select {
		case p.eventCh <- ev:
			select {
			case s := <-ev.resultCh:
				return s
			case <-p.doneCh:
			}
		case <-p.doneCh:
		}
	}

	nodes := p.Nodes()
	return map[string]string{
		"state": p.getState().String(),
		"nodes": strconv.Itoa(nodes.Len()),
		"f":     strconv.Itoa(nodes.F()),
	}
}

// Close cancels every request in flight, stops the event loop and closes
// the transport and the store.
func (p *Pool) Close() error {
	var err error
	p.closeOnce.Do(func() {
		started := p.getState() != Initialized
		p.setState(Closed)
		close(p.shutdownCh)
		p.refreshTimer.Shutdown()
		p.waitRoutines()

		if !started {
			p.networker.Close()
			close(p.doneCh)
		}
		if e := p.trans.Close(); e != nil {
			err = e
		}
		if p.store != nil {
			if e := p.store.Close(); e != nil && err == nil {
				err = e
			}
		}
		p.logger.Debug("Pool closed")
	})
	return err
}

func (p *Pool) stats() map[string]string {
	nodes := p.handler.Nodes()
	stats := map[string]string{
		"state": p.getState().String(),
		"nodes": strconv.Itoa(nodes.Len()),
		"f":     strconv.Itoa(nodes.F()),
	}
	for k, v := range p.networker.Stats() {
		stats[k] = v
	}
	for k, v := range p.handler.Stats() {
		stats[k] = v
	}
	for k, v := range p.trans.Stats() {
		stats["transport_"+k] = v
	}
	for id, r := range p.catchup.replicas {
		prefix := "ledger_" + strconv.Itoa(id)
		stats[prefix+"_size"] = strconv.FormatUint(r.size(), 10)
		stats[prefix+"_root"] = crypto.Base58Encode(r.tree.Root())
	}
	stats["catchups"] = strconv.Itoa(p.catchup.completed)
	return stats
}
