package store

import (
	"sort"
	"strconv"
	"sync"

	cm "github.com/mosaicnetworks/indypool/src/common"
)

// InmemStore implements the Store interface in memory. Nothing survives a
// restart.
type InmemStore struct {
	sync.RWMutex
	ledgers map[int]*LedgerSnapshot
}

// NewInmemStore ...
func NewInmemStore() *InmemStore {
	return &InmemStore{
		ledgers: make(map[int]*LedgerSnapshot),
	}
}

// GetLedger implements the Store interface.
func (s *InmemStore) GetLedger(ledgerID int) (*LedgerSnapshot, error) {
	s.RLock()
	defer s.RUnlock()
	snap, ok := s.ledgers[ledgerID]
	if !ok {
		return nil, cm.NewStoreErr("Ledger", cm.KeyNotFound, strconv.Itoa(ledgerID))
	}
	return snap.Copy(), nil
}

// SetLedger implements the Store interface.
func (s *InmemStore) SetLedger(snapshot *LedgerSnapshot) error {
	s.Lock()
	defer s.Unlock()
	s.ledgers[snapshot.LedgerID] = snapshot.Copy()
	return nil
}

// Ledgers implements the Store interface.
func (s *InmemStore) Ledgers() ([]int, error) {
	s.RLock()
	defer s.RUnlock()
	res := make([]int, 0, len(s.ledgers))
	for id := range s.ledgers {
		res = append(res, id)
	}
	sort.Ints(res)
	return res, nil
}

// Close implements the Store interface.
func (s *InmemStore) Close() error {
	return nil
}

// StorePath implements the Store interface.
func (s *InmemStore) StorePath() string {
	return ""
}
