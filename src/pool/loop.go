package pool

import (
	"encoding/json"
	"time"

	"github.com/mosaicnetworks/indypool/src/common"
	"github.com/mosaicnetworks/indypool/src/net"
	"github.com/mosaicnetworks/indypool/src/request"
	"github.com/mosaicnetworks/indypool/src/wire"
	"github.com/sirupsen/logrus"
)

// event is queued by callers for the event loop.
type event interface{}

type submitEvent struct {
	reqID    uint64
	body     []byte
	kind     request.Kind
	ledgerID int
	nodes    []string
	timeout  time.Duration
	resultCh chan request.Result
}

type cancelEvent struct {
	reqID uint64
}

// refreshEvent catches up the pool ledger. done is nil for periodic
// refreshes.
type refreshEvent struct {
	done chan error
}

func (e refreshEvent) answer(err error, logger *logrus.Entry) {
	if e.done == nil {
		if err != nil {
			logger.WithError(err).Error("Periodic refresh")
		}
		return
	}
	e.done <- err
}

type statsEvent struct {
	resultCh chan map[string]string
}

// run is the event loop. It is the only goroutine touching the networker,
// the handler and the replicas.
func (p *Pool) run() {
	defer close(p.doneCh)

	for {
		var (
			timerCh <-chan time.Time
			stop    func() bool
		)
		deadline, ok := p.networker.NextTimeout()
		if ok {
			wait := deadline.Remaining
			if wait < 0 {
				wait = 0
			}
			timerCh, stop = p.timer(wait)
		}

		select {
		case in := <-p.netCh:
			p.processInbound(in)
		case ev := <-p.eventCh:
			p.processEvent(ev)
		case <-timerCh:
			p.processDeadline(deadline)
		case <-p.refreshTimer.tickCh:
			p.logger.Debug("Periodic refresh")
			p.processEvent(refreshEvent{})
			p.goFunc(func() { p.refreshTimer.Reset(p.conf.RefreshInterval) })
		case <-p.shutdownCh:
			if stop != nil {
				stop()
			}
			p.shutdown()
			return
		}

		if stop != nil {
			stop()
		}
	}
}

func (p *Pool) shutdown() {
	p.handler.CancelAll()
	for {
		select {
		case ev := <-p.eventCh:
			p.reject(ev)
		default:
			p.networker.Close()
			return
		}
	}
}

// reject answers an event that will never be processed.
func (p *Pool) reject(ev event) {
	closed := common.NewPoolErr(common.PoolClosed, "pool closed")
	switch e := ev.(type) {
	case submitEvent:
		e.resultCh <- request.Result{Err: closed}
	case refreshEvent:
		e.answer(closed, p.logger)
	}
}

func (p *Pool) processInbound(in net.Inbound) {
	if wire.IsPing(in.Frame) {
		return
	}
	m, err := wire.ParseMessage(in.Frame)
	if err != nil {
		p.logger.WithFields(logrus.Fields{
			"node":  in.Node,
			"error": err,
		}).Warn("Dropping invalid message")
		return
	}
	p.handler.Process(in.Node, m)
}

func (p *Pool) processEvent(ev event) {
	switch e := ev.(type) {
	case submitEvent:
		p.processSubmit(e)
	case cancelEvent:
		p.handler.Cancel(e.reqID)
	case refreshEvent:
		if _, ok := p.catchup.replicas[wire.PoolLedger]; !ok {
			e.answer(nil, p.logger)
			return
		}
		p.catchup.StartCatchup(wire.PoolLedger, func(err error) {
			e.answer(err, p.logger)
		})
	case statsEvent:
		e.resultCh <- p.stats()
	default:
		p.logger.Warnf("Unknown event %T", ev)
	}
}

func (p *Pool) processSubmit(e submitEvent) {
	nodes := p.handler.Nodes()
	for _, n := range e.nodes {
		if _, ok := nodes.ByName[n]; !ok {
			e.resultCh <- request.Result{Err: common.NewPoolErrf(common.InvalidTransaction, "unknown node %s", n)}
			return
		}
	}

	err := p.handler.Submit(request.Submission{
		ReqID:    e.reqID,
		Body:     e.body,
		Kind:     e.kind,
		LedgerID: e.ledgerID,
		Nodes:    e.nodes,
		Timeout:  e.timeout,
		Done: func(res request.Result) {
			e.resultCh <- res
		},
	})
	if err != nil {
		e.resultCh <- request.Result{Err: err}
	}
}

// processDeadline hands an expired deadline to its owner. The handler
// always cleans the deadline it is given; a deadline left in place is
// cleaned here so that the loop cannot spin on it.
func (p *Pool) processDeadline(d net.Deadline) {
	if d.Lifetime {
		if err := p.networker.Process(net.Timeout{}); err != nil {
			p.logger.WithError(err).Warn("Sweeping connections")
		}
		return
	}

	p.handler.Timeout(d.Key.ReqID, d.Key.Node)

	if conn, ok := p.networker.ConnectionOf(d.Key.ReqID); ok {
		if at, tracked := conn.Deadline(d.Key); tracked && !at.After(p.now()) {
			if err := p.networker.Process(net.CleanTimeout{ReqID: d.Key.ReqID, Node: d.Key.Node}); err != nil {
				p.logger.WithError(err).Warn("Cleaning deadline")
			}
		}
	}
}

// Replies returns the replies of an action in node order, for display.
func Replies(replies map[string]json.RawMessage, nodes []string) []json.RawMessage {
	res := make([]json.RawMessage, 0, len(replies))
	for _, n := range nodes {
		if r, ok := replies[n]; ok {
			res = append(res, r)
		}
	}
	return res
}
