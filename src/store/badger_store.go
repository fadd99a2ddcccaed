package store

import (
	"sort"
	"strconv"
	"strings"

	"github.com/dgraph-io/badger"
	cm "github.com/mosaicnetworks/indypool/src/common"
	"github.com/sirupsen/logrus"
)

// BadgerStore persists snapshots in a Badger database.
type BadgerStore struct {
	db   *badger.DB
	path string
}

// NewBadgerStore opens an existing database or creates a new one if nothing is
// found in path.
func NewBadgerStore(path string, logger *logrus.Entry) (*BadgerStore, error) {
	opts := badger.DefaultOptions(path).
		WithSyncWrites(false).
		WithTruncate(true)

	if logger != nil {
		sub := logger.WithFields(logrus.Fields{"ns": "badger"})
		opts = opts.WithLogger(sub)
	}

	handle, err := badger.Open(opts)
	if err != nil {
		return nil, err
	}

	return &BadgerStore{
		db:   handle,
		path: path,
	}, nil
}

// GetLedger implements the Store interface.
func (s *BadgerStore) GetLedger(ledgerID int) (*LedgerSnapshot, error) {
	key := ledgerKey(ledgerID)

	var data []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key))
		if err != nil {
			return err
		}
		data, err = item.ValueCopy(nil)
		return err
	})
	if err != nil {
		return nil, mapError(err, "Ledger", strconv.Itoa(ledgerID))
	}

	snap := new(LedgerSnapshot)
	if err := snap.Unmarshal(data); err != nil {
		return nil, cm.NewStoreErr("Ledger", cm.Corrupted, strconv.Itoa(ledgerID))
	}
	return snap, nil
}

// SetLedger implements the Store interface.
func (s *BadgerStore) SetLedger(snapshot *LedgerSnapshot) error {
	val, err := snapshot.Marshal()
	if err != nil {
		return err
	}

	tx := s.db.NewTransaction(true)
	defer tx.Discard()

	if err := tx.Set([]byte(ledgerKey(snapshot.LedgerID)), val); err != nil {
		return err
	}
	return tx.Commit()
}

// Ledgers implements the Store interface.
func (s *BadgerStore) Ledgers() ([]int, error) {
	var res []int
	prefix := []byte(ledgerPrefix + "_")

	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			k := strings.TrimPrefix(string(it.Item().Key()), string(prefix))
			id, err := strconv.Atoi(k)
			if err != nil {
				continue
			}
			res = append(res, id)
		}
		return nil
	})
	sort.Ints(res)
	return res, err
}

// Close implements the Store interface.
func (s *BadgerStore) Close() error {
	return s.db.Close()
}

// StorePath implements the Store interface.
func (s *BadgerStore) StorePath() string {
	return s.path
}

func isDBKeyNotFound(err error) bool {
	return err == badger.ErrKeyNotFound
}

func mapError(err error, name, key string) error {
	if err != nil && isDBKeyNotFound(err) {
		return cm.NewStoreErr(name, cm.KeyNotFound, key)
	}
	return err
}
