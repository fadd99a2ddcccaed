// Package store persists the ledger replicas of a pool client.
//
// A replica is saved as a LedgerSnapshot: the Merkle leaf hashes of the
// ledger, in seqNo order, and the latest txn time observed. The pool ledger
// snapshot also keeps the transactions themselves, from which the node list
// is rebuilt on restart. Absence of a snapshot means starting from genesis.
package store

import (
	"encoding/json"
	"fmt"

	"github.com/mosaicnetworks/indypool/src/wire"
)

// Store is an interface for backend stores.
type Store interface {
	// GetLedger returns the snapshot of a ledger, or a KeyNotFound StoreErr.
	GetLedger(ledgerID int) (*LedgerSnapshot, error)
	// SetLedger replaces the snapshot of a ledger.
	SetLedger(snapshot *LedgerSnapshot) error
	// Ledgers lists the ids of the stored ledgers.
	Ledgers() ([]int, error)
	// Close closes the underlying database.
	Close() error
	// StorePath returns the location of the underlying database.
	StorePath() string
}

// LedgerSnapshot ...
type LedgerSnapshot struct {
	LedgerID    int
	LeafHashes  [][]byte
	LastTxnTime uint64
	Txns        []json.RawMessage
}

// Size is the number of transactions of the snapshot.
func (s *LedgerSnapshot) Size() uint64 {
	return uint64(len(s.LeafHashes))
}

// Copy returns a deep copy.
func (s *LedgerSnapshot) Copy() *LedgerSnapshot {
	res := &LedgerSnapshot{
		LedgerID:    s.LedgerID,
		LeafHashes:  make([][]byte, len(s.LeafHashes)),
		LastTxnTime: s.LastTxnTime,
	}
	for i, h := range s.LeafHashes {
		res.LeafHashes[i] = append([]byte{}, h...)
	}
	if s.Txns != nil {
		res.Txns = make([]json.RawMessage, len(s.Txns))
		for i, t := range s.Txns {
			res.Txns[i] = append(json.RawMessage{}, t...)
		}
	}
	return res
}

type snapshotWire struct {
	LedgerID    int      `codec:"ledgerId"`
	LeafHashes  [][]byte `codec:"leafHashes"`
	LastTxnTime uint64   `codec:"lastTxnTime"`
	Txns        []string `codec:"txns"`
}

// Marshal encodes the snapshot with msgpack.
func (s *LedgerSnapshot) Marshal() ([]byte, error) {
	w := snapshotWire{
		LedgerID:    s.LedgerID,
		LeafHashes:  s.LeafHashes,
		LastTxnTime: s.LastTxnTime,
	}
	for _, t := range s.Txns {
		w.Txns = append(w.Txns, string(t))
	}
	return wire.MsgpackEncode(&w)
}

// Unmarshal ...
func (s *LedgerSnapshot) Unmarshal(data []byte) error {
	var w snapshotWire
	if err := wire.MsgpackDecode(data, &w); err != nil {
		return err
	}
	s.LedgerID = w.LedgerID
	s.LeafHashes = w.LeafHashes
	s.LastTxnTime = w.LastTxnTime
	s.Txns = nil
	for _, t := range w.Txns {
		s.Txns = append(s.Txns, json.RawMessage(t))
	}
	return nil
}

func ledgerKey(ledgerID int) string {
	return fmt.Sprintf("%s_%03d", ledgerPrefix, ledgerID)
}

const ledgerPrefix = "ledger"
