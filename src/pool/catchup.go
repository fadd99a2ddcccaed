package pool

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/mosaicnetworks/indypool/src/common"
	"github.com/mosaicnetworks/indypool/src/crypto"
	"github.com/mosaicnetworks/indypool/src/merkle"
	"github.com/mosaicnetworks/indypool/src/request"
	"github.com/mosaicnetworks/indypool/src/store"
	"github.com/mosaicnetworks/indypool/src/wire"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// maxCatchupAttempts is the number of times a catch-up runs before its error
// reaches the caller.
const maxCatchupAttempts = 2

type catchupRun struct {
	ledgerID int
	attempts int
	waiters  []func(error)
}

// catchup brings the replicated ledgers up to date. It implements
// request.Ledgers and only runs on the event loop.
type catchup struct {
	handler         *request.Handler
	replicas        map[int]*replica
	store           store.Store
	protocolVersion int
	onCommit        func(*replica) error
	running         map[int]*catchupRun
	completed       int
	logger          *logrus.Entry
}

func newCatchup(handler *request.Handler, replicas map[int]*replica, s store.Store, protocolVersion int, logger *logrus.Entry) *catchup {
	return &catchup{
		handler:         handler,
		replicas:        replicas,
		store:           s,
		protocolVersion: protocolVersion,
		running:         make(map[int]*catchupRun),
		logger:          logger,
	}
}

// NeedsCatchup implements request.Ledgers.
func (c *catchup) NeedsCatchup(ledgerID int, md wire.ResponseMetadata) bool {
	r, ok := c.replicas[ledgerID]
	if !ok {
		return false
	}
	if md.LastSeqNo > 0 {
		return md.LastSeqNo > r.size()
	}
	return md.SeqNo > r.size()
}

// StartCatchup implements request.Ledgers. Concurrent catch-ups of a ledger
// are merged into one.
func (c *catchup) StartCatchup(ledgerID int, done func(error)) {
	if _, ok := c.replicas[ledgerID]; !ok {
		done(common.NewPoolErrf(common.InvalidTransaction, "ledger %d is not replicated", ledgerID))
		return
	}
	if run, ok := c.running[ledgerID]; ok {
		run.waiters = append(run.waiters, done)
		return
	}
	run := &catchupRun{ledgerID: ledgerID, waiters: []func(error){done}}
	c.running[ledgerID] = run
	c.askStatus(run)
}

func (c *catchup) askStatus(run *catchupRun) {
	run.attempts++
	r := c.replicas[run.ledgerID]

	c.logger.WithFields(logrus.Fields{
		"ledger_id": run.ledgerID,
		"size":      r.size(),
		"attempt":   run.attempts,
	}).Debug("Catch-up: LEDGER_STATUS")

	body, err := json.Marshal(wire.NewLedgerStatus(run.ledgerID, r.size(), r.tree.Root(), c.protocolVersion))
	if err != nil {
		c.complete(run, err)
		return
	}
	err = c.handler.Submit(request.Submission{
		ReqID:    wire.NewReqID(),
		Body:     body,
		Kind:     request.LedgerStatus,
		LedgerID: run.ledgerID,
		Match:    matchStatus(r),
		Done: func(res request.Result) {
			c.statusDone(run, res)
		},
	})
	if err != nil {
		c.fail(run, err)
	}
}

// matchStatus groups LEDGER_STATUS and CONSISTENCY_PROOF answers. Proofs
// that do not start from the local root are invalid.
func matchStatus(r *replica) request.Matcher {
	return func(node string, m *wire.Message) (string, error) {
		switch m.Op {
		case wire.OpLedgerStatus:
			ls, err := wire.ParseLedgerStatus(m.Raw)
			if err != nil {
				return "", err
			}
			return fmt.Sprintf("status:%d:%s", ls.TxnSeqNo, ls.MerkleRoot), nil
		case wire.OpConsistencyProof:
			cp, err := wire.ParseConsistencyProof(m.Raw)
			if err != nil {
				return "", err
			}
			if err := verifyConsistency(r, cp); err != nil {
				return "", err
			}
			return "proof:" + cp.Key(), nil
		default:
			return "", errors.Errorf("unexpected %s", m.Op)
		}
	}
}

func verifyConsistency(r *replica, cp wire.ConsistencyProof) error {
	if cp.SeqNoStart != r.size() {
		return errors.Errorf("consistency proof starts at %d, replica has %d txns", cp.SeqNoStart, r.size())
	}
	if cp.SeqNoEnd <= cp.SeqNoStart {
		return errors.Errorf("consistency proof ends at %d", cp.SeqNoEnd)
	}
	if cp.OldMerkleRoot != crypto.Base58Encode(r.tree.Root()) {
		return errors.New("consistency proof from another root")
	}
	hashes, err := cp.DecodeHashes()
	if err != nil {
		return err
	}
	newRoot, err := crypto.Base58Decode(cp.NewMerkleRoot)
	if err != nil {
		return errors.Wrap(err, "decoding new root")
	}
	return merkle.VerifyConsistency(cp.SeqNoStart, cp.SeqNoEnd, r.tree.Root(), newRoot, hashes)
}

func (c *catchup) statusDone(run *catchupRun, res request.Result) {
	if res.Err != nil {
		c.fail(run, res.Err)
		return
	}
	m, err := wire.ParseMessage(res.Reply)
	if err != nil {
		c.fail(run, err)
		return
	}
	r := c.replicas[run.ledgerID]

	switch m.Op {
	case wire.OpConsistencyProof:
		cp, err := wire.ParseConsistencyProof(m.Raw)
		if err != nil {
			c.fail(run, err)
			return
		}
		c.fetch(run, cp)
	case wire.OpLedgerStatus:
		ls, err := wire.ParseLedgerStatus(m.Raw)
		if err != nil {
			c.fail(run, err)
			return
		}
		root := crypto.Base58Encode(r.tree.Root())
		switch {
		case ls.TxnSeqNo == r.size() && ls.MerkleRoot == root:
			c.logger.WithField("ledger_id", run.ledgerID).Debug("Catch-up: in sync")
			c.complete(run, nil)
		case ls.TxnSeqNo < r.size():
			c.logger.WithFields(logrus.Fields{
				"ledger_id": run.ledgerID,
				"pool_size": ls.TxnSeqNo,
				"size":      r.size(),
			}).Warn("Catch-up: pool is behind the local replica")
			c.complete(run, nil)
		default:
			c.complete(run, common.NewPoolErrf(common.InvalidStateProof,
				"replica of ledger %d diverges from the pool at size %d", run.ledgerID, r.size()))
		}
	default:
		c.fail(run, errors.Errorf("unexpected %s", m.Op))
	}
}

func (c *catchup) fetch(run *catchupRun, cp wire.ConsistencyProof) {
	r := c.replicas[run.ledgerID]
	start := r.size() + 1

	c.logger.WithFields(logrus.Fields{
		"ledger_id": run.ledgerID,
		"from":      start,
		"to":        cp.SeqNoEnd,
	}).Debug("Catch-up: CATCHUP_REQ")

	body, err := json.Marshal(wire.NewCatchupReq(run.ledgerID, start, cp.SeqNoEnd, cp.SeqNoEnd))
	if err != nil {
		c.complete(run, err)
		return
	}
	err = c.handler.Submit(request.Submission{
		ReqID:    wire.NewReqID(),
		Body:     body,
		Kind:     request.CatchupRange,
		LedgerID: run.ledgerID,
		Match:    matchRange(start, cp.SeqNoEnd),
		Done: func(res request.Result) {
			c.fetchDone(run, cp, res)
		},
	})
	if err != nil {
		c.fail(run, err)
	}
}

// matchRange groups CATCHUP_REP answers carrying exactly [start, end].
func matchRange(start, end uint64) request.Matcher {
	return func(node string, m *wire.Message) (string, error) {
		if m.Op != wire.OpCatchupRep {
			return "", errors.Errorf("unexpected %s", m.Op)
		}
		rep, err := wire.ParseCatchupRep(m.Raw)
		if err != nil {
			return "", err
		}
		seqNos, _, err := rep.SortedTxns()
		if err != nil {
			return "", err
		}
		if uint64(len(seqNos)) != end-start+1 || seqNos[0] != start || seqNos[len(seqNos)-1] != end {
			return "", errors.Errorf("CATCHUP_REP does not cover [%d, %d]", start, end)
		}
		return rep.Hash()
	}
}

func (c *catchup) fetchDone(run *catchupRun, cp wire.ConsistencyProof, res request.Result) {
	if res.Err != nil {
		c.fail(run, res.Err)
		return
	}
	rep, err := wire.ParseCatchupRep(res.Reply)
	if err != nil {
		c.fail(run, err)
		return
	}
	_, txns, err := rep.SortedTxns()
	if err != nil {
		c.fail(run, err)
		return
	}

	next, err := c.replicas[run.ledgerID].appendTxns(txns)
	if err != nil {
		c.fail(run, err)
		return
	}
	target, err := crypto.Base58Decode(cp.NewMerkleRoot)
	if err != nil || !bytes.Equal(next.tree.Root(), target) {
		c.fail(run, common.NewPoolErrf(common.InvalidStateProof, "caught up ledger %d does not match the agreed root", run.ledgerID))
		return
	}

	if c.onCommit != nil {
		if err := c.onCommit(next); err != nil {
			c.complete(run, err)
			return
		}
	}
	c.replicas[run.ledgerID] = next
	if c.store != nil {
		if err := c.store.SetLedger(next.snapshot()); err != nil {
			c.logger.WithError(err).Error("Saving ledger replica")
		}
	}

	c.logger.WithFields(logrus.Fields{
		"ledger_id": run.ledgerID,
		"size":      next.size(),
	}).Info("Catch-up: done")

	c.complete(run, nil)
}

// fail retries the catch-up once, then ends it with err.
func (c *catchup) fail(run *catchupRun, err error) {
	c.logger.WithFields(logrus.Fields{
		"ledger_id": run.ledgerID,
		"attempt":   run.attempts,
		"error":     err,
	}).Warn("Catch-up failed")

	if run.attempts < maxCatchupAttempts && !common.IsPoolErr(err, common.PoolClosed) {
		c.askStatus(run)
		return
	}
	c.complete(run, err)
}

func (c *catchup) complete(run *catchupRun, err error) {
	delete(c.running, run.ledgerID)
	c.completed++
	if err != nil {
		if _, ok := common.KindOf(err); !ok {
			err = common.WrapPoolErr(common.IOError, err, fmt.Sprintf("catch-up of ledger %d", run.ledgerID))
		}
	}
	for _, done := range run.waiters {
		done(err)
	}
}

// Running reports whether a ledger is being caught up.
func (c *catchup) Running(ledgerID int) bool {
	_, ok := c.running[ledgerID]
	return ok
}
