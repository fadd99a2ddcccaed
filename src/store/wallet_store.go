package store

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"

	cm "github.com/mosaicnetworks/indypool/src/common"
	"github.com/pkg/errors"
)

// RecordKeeper is the part of a wallet the WalletStore needs.
type RecordKeeper interface {
	StoreCred(id string, value json.RawMessage) error
	GetCred(id string) (json.RawMessage, error)
	ListCreds(prefix string) ([]string, error)
}

// WalletStore keeps snapshots as opaque records in a wallet, under a
// well-known id per pool and ledger.
type WalletStore struct {
	wallet RecordKeeper
	pool   string
}

// NewWalletStore ...
func NewWalletStore(wallet RecordKeeper, pool string) *WalletStore {
	return &WalletStore{
		wallet: wallet,
		pool:   pool,
	}
}

func (s *WalletStore) prefix() string {
	return fmt.Sprintf("indypool:%s:", s.pool)
}

func (s *WalletStore) recordID(ledgerID int) string {
	return s.prefix() + ledgerKey(ledgerID)
}

type walletRecord struct {
	Snapshot []byte `json:"snapshot"`
}

// GetLedger implements the Store interface.
func (s *WalletStore) GetLedger(ledgerID int) (*LedgerSnapshot, error) {
	raw, err := s.wallet.GetCred(s.recordID(ledgerID))
	if err != nil {
		if cm.IsStore(err, cm.KeyNotFound) {
			return nil, cm.NewStoreErr("Ledger", cm.KeyNotFound, strconv.Itoa(ledgerID))
		}
		return nil, err
	}

	var rec walletRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, cm.NewStoreErr("Ledger", cm.Corrupted, strconv.Itoa(ledgerID))
	}
	snap := new(LedgerSnapshot)
	if err := snap.Unmarshal(rec.Snapshot); err != nil {
		return nil, cm.NewStoreErr("Ledger", cm.Corrupted, strconv.Itoa(ledgerID))
	}
	return snap, nil
}

// SetLedger implements the Store interface.
func (s *WalletStore) SetLedger(snapshot *LedgerSnapshot) error {
	data, err := snapshot.Marshal()
	if err != nil {
		return err
	}
	raw, err := json.Marshal(walletRecord{Snapshot: data})
	if err != nil {
		return err
	}
	return errors.Wrap(s.wallet.StoreCred(s.recordID(snapshot.LedgerID), raw), "storing snapshot")
}

// Ledgers implements the Store interface.
func (s *WalletStore) Ledgers() ([]int, error) {
	ids, err := s.wallet.ListCreds(s.prefix() + ledgerPrefix + "_")
	if err != nil {
		return nil, err
	}
	var res []int
	for _, id := range ids {
		n, err := strconv.Atoi(strings.TrimPrefix(id, s.prefix()+ledgerPrefix+"_"))
		if err != nil {
			continue
		}
		res = append(res, n)
	}
	sort.Ints(res)
	return res, nil
}

// Close implements the Store interface. The wallet is owned by the caller.
func (s *WalletStore) Close() error {
	return nil
}

// StorePath implements the Store interface.
func (s *WalletStore) StorePath() string {
	return "wallet:" + s.pool
}
