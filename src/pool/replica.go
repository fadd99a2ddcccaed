package pool

import (
	"bytes"
	"encoding/json"

	"github.com/mosaicnetworks/indypool/src/merkle"
	"github.com/mosaicnetworks/indypool/src/store"
	"github.com/mosaicnetworks/indypool/src/wire"
	"github.com/pkg/errors"
	"github.com/tidwall/gjson"
)

// replica is the local copy of a ledger: its Merkle tree and, for the pool
// ledger, its transactions.
type replica struct {
	ledgerID    int
	tree        *merkle.Tree
	txns        []json.RawMessage
	keepTxns    bool
	lastTxnTime uint64
}

func newReplica(ledgerID int, keepTxns bool) *replica {
	return &replica{
		ledgerID: ledgerID,
		tree:     merkle.New(),
		keepTxns: keepTxns,
	}
}

func (r *replica) size() uint64 {
	return r.tree.Size()
}

// appendTxns returns the replica extended with txns. The receiver is not
// modified.
func (r *replica) appendTxns(txns []json.RawMessage) (*replica, error) {
	next := &replica{
		ledgerID:    r.ledgerID,
		tree:        r.tree.Clone(),
		keepTxns:    r.keepTxns,
		lastTxnTime: r.lastTxnTime,
	}
	if r.keepTxns {
		next.txns = append(append([]json.RawMessage{}, r.txns...), txns...)
	}
	for _, txn := range txns {
		leaf, err := wire.TxnLeaf(txn)
		if err != nil {
			return nil, errors.Wrapf(err, "ledger %d txn %d", r.ledgerID, next.tree.Size()+1)
		}
		next.tree.Append(leaf)
		if t := gjson.GetBytes(txn, "txnMetadata.txnTime"); t.Exists() && t.Uint() > next.lastTxnTime {
			next.lastTxnTime = t.Uint()
		}
	}
	return next, nil
}

func (r *replica) snapshot() *store.LedgerSnapshot {
	s := &store.LedgerSnapshot{
		LedgerID:    r.ledgerID,
		LeafHashes:  r.tree.LeafHashes(),
		LastTxnTime: r.lastTxnTime,
	}
	if r.keepTxns {
		s.Txns = r.txns
	}
	return s
}

// replicaFromSnapshot restores a replica. The snapshot must extend genesis,
// the transactions the replica starts from.
func replicaFromSnapshot(s *store.LedgerSnapshot, genesis *replica) (*replica, error) {
	if s.Size() < genesis.size() {
		return nil, errors.Errorf("snapshot of ledger %d is shorter than genesis", s.LedgerID)
	}
	for i := uint64(0); i < genesis.size(); i++ {
		h, _ := genesis.tree.LeafHashAt(i)
		if !bytes.Equal(h, s.LeafHashes[i]) {
			return nil, errors.Errorf("snapshot of ledger %d does not extend genesis", s.LedgerID)
		}
	}
	if genesis.keepTxns && uint64(len(s.Txns)) != s.Size() {
		return nil, errors.Errorf("snapshot of ledger %d has %d txns for %d leaves", s.LedgerID, len(s.Txns), s.Size())
	}
	return &replica{
		ledgerID:    s.LedgerID,
		tree:        merkle.NewFromLeafHashes(s.LeafHashes),
		txns:        s.Txns,
		keepTxns:    genesis.keepTxns,
		lastTxnTime: s.LastTxnTime,
	}, nil
}
