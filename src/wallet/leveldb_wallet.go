package wallet

import (
	"crypto/ed25519"
	"encoding/json"
	"strings"
	"sync"

	"github.com/mosaicnetworks/indypool/src/common"
	"github.com/mosaicnetworks/indypool/src/crypto/keys"
	"github.com/pkg/errors"
	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/iterator"
	"github.com/syndtr/goleveldb/leveldb/storage"
	"github.com/syndtr/goleveldb/leveldb/util"
	"github.com/tidwall/gjson"
)

const (
	didPrefix  = "did:"
	credPrefix = "cred:"
)

type didRecord struct {
	DID    string `json:"did"`
	Verkey string `json:"verkey"`
	Seed   []byte `json:"seed"`
}

// LevelDBWallet implements Wallet on a goleveldb database.
type LevelDBWallet struct {
	db   *leveldb.DB
	path string

	// signing keys are cached once loaded
	mu   sync.Mutex
	keys map[string]ed25519.PrivateKey
}

// NewLevelDBWallet opens, or creates, the wallet at path.
func NewLevelDBWallet(path string) (*LevelDBWallet, error) {
	db, err := leveldb.OpenFile(path, nil)
	if err != nil {
		return nil, common.WrapPoolErr(common.WalletError, err, "opening wallet")
	}
	return newLevelDBWallet(db, path), nil
}

// NewInmemWallet returns a wallet backed by memory only.
func NewInmemWallet() *LevelDBWallet {
	db, err := leveldb.Open(storage.NewMemStorage(), nil)
	if err != nil {
		// memory storage does not fail to open
		panic(err)
	}
	return newLevelDBWallet(db, "")
}

func newLevelDBWallet(db *leveldb.DB, path string) *LevelDBWallet {
	return &LevelDBWallet{
		db:   db,
		path: path,
		keys: make(map[string]ed25519.PrivateKey),
	}
}

// CreateDID stores a new signing key and returns its DID and verkey. A nil
// seed generates a random key.
func (w *LevelDBWallet) CreateDID(seed []byte) (string, string, error) {
	var (
		priv ed25519.PrivateKey
		err  error
	)
	if seed == nil {
		priv, err = keys.GenerateKey()
	} else {
		priv, err = keys.KeyFromSeed(seed)
	}
	if err != nil {
		return "", "", common.WrapPoolErr(common.WalletError, err, "creating key")
	}

	pub := keys.PublicKey(priv)
	rec := didRecord{
		DID:    keys.DID(pub),
		Verkey: keys.Verkey(pub),
		Seed:   priv.Seed(),
	}
	val, err := json.Marshal(rec)
	if err != nil {
		return "", "", err
	}
	if err := w.db.Put([]byte(didPrefix+rec.DID), val, nil); err != nil {
		return "", "", common.WrapPoolErr(common.WalletError, err, "storing key")
	}

	w.mu.Lock()
	w.keys[rec.DID] = priv
	w.mu.Unlock()

	return rec.DID, rec.Verkey, nil
}

func (w *LevelDBWallet) getDID(did string) (*didRecord, error) {
	val, err := w.db.Get([]byte(didPrefix+did), nil)
	if err == leveldb.ErrNotFound {
		return nil, common.NewPoolErrf(common.WalletError, "unknown DID %s", did)
	}
	if err != nil {
		return nil, common.WrapPoolErr(common.WalletError, err, "reading key")
	}
	rec := new(didRecord)
	if err := json.Unmarshal(val, rec); err != nil {
		return nil, common.WrapPoolErr(common.WalletError, err, "decoding key")
	}
	return rec, nil
}

func (w *LevelDBWallet) signingKey(did string) (ed25519.PrivateKey, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if k, ok := w.keys[did]; ok {
		return k, nil
	}
	rec, err := w.getDID(did)
	if err != nil {
		return nil, err
	}
	k, err := keys.KeyFromSeed(rec.Seed)
	if err != nil {
		return nil, common.WrapPoolErr(common.WalletError, err, "decoding key")
	}
	w.keys[did] = k
	return k, nil
}

// Sign implements Wallet.
func (w *LevelDBWallet) Sign(did string, msg []byte) ([]byte, error) {
	k, err := w.signingKey(did)
	if err != nil {
		return nil, err
	}
	return keys.Sign(k, msg), nil
}

// KeyForDID implements Wallet.
func (w *LevelDBWallet) KeyForDID(did string) (string, error) {
	rec, err := w.getDID(did)
	if err != nil {
		return "", err
	}
	return rec.Verkey, nil
}

// StoreCred implements Wallet.
func (w *LevelDBWallet) StoreCred(id string, value json.RawMessage) error {
	if !json.Valid(value) {
		return common.NewPoolErrf(common.WalletError, "record %s is not valid JSON", id)
	}
	if err := w.db.Put([]byte(credPrefix+id), value, nil); err != nil {
		return common.WrapPoolErr(common.WalletError, err, "storing record")
	}
	return nil
}

// GetCred implements Wallet.
func (w *LevelDBWallet) GetCred(id string) (json.RawMessage, error) {
	val, err := w.db.Get([]byte(credPrefix+id), nil)
	if err == leveldb.ErrNotFound {
		return nil, common.NewStoreErr("Record", common.KeyNotFound, id)
	}
	if err != nil {
		return nil, common.WrapPoolErr(common.WalletError, err, "reading record")
	}
	return json.RawMessage(val), nil
}

// Delete implements Wallet.
func (w *LevelDBWallet) Delete(id string) error {
	key := []byte(credPrefix + id)
	ok, err := w.db.Has(key, nil)
	if err != nil {
		return common.WrapPoolErr(common.WalletError, err, "reading record")
	}
	if !ok {
		return common.NewStoreErr("Record", common.KeyNotFound, id)
	}
	return errors.Wrap(w.db.Delete(key, nil), "deleting record")
}

// ListCreds returns the ids of the records starting with prefix.
func (w *LevelDBWallet) ListCreds(prefix string) ([]string, error) {
	it := w.db.NewIterator(util.BytesPrefix([]byte(credPrefix+prefix)), nil)
	defer it.Release()

	var res []string
	for it.Next() {
		res = append(res, strings.TrimPrefix(string(it.Key()), credPrefix))
	}
	return res, it.Error()
}

// Search implements Wallet. The query is a JSON object whose fields must all
// be equal in a record for it to match. An empty query matches everything.
func (w *LevelDBWallet) Search(query json.RawMessage) (Cursor, error) {
	if len(query) == 0 {
		query = json.RawMessage(`{}`)
	}
	q := gjson.ParseBytes(query)
	if !q.IsObject() {
		return nil, common.NewPoolErr(common.WalletError, "search query must be a JSON object")
	}

	var filters []filter
	q.ForEach(func(k, v gjson.Result) bool {
		filters = append(filters, filter{path: k.String(), value: v})
		return true
	})

	return &levelDBCursor{
		it:      w.db.NewIterator(util.BytesPrefix([]byte(credPrefix)), nil),
		filters: filters,
	}, nil
}

// Close closes the database.
func (w *LevelDBWallet) Close() error {
	return w.db.Close()
}

// Path returns the directory of the database, empty in memory.
func (w *LevelDBWallet) Path() string {
	return w.path
}

type filter struct {
	path  string
	value gjson.Result
}

func (f filter) match(record []byte) bool {
	v := gjson.GetBytes(record, gjsonEscape(f.path))
	if !v.Exists() || v.Type != f.value.Type {
		return false
	}
	switch v.Type {
	case gjson.JSON:
		return v.Raw == f.value.Raw
	default:
		return v.String() == f.value.String()
	}
}

// gjsonEscape escapes the path characters of a field name.
func gjsonEscape(field string) string {
	r := strings.NewReplacer(".", `\.`, "*", `\*`, "?", `\?`, "|", `\|`, "#", `\#`, "@", `\@`)
	return r.Replace(field)
}

type levelDBCursor struct {
	it      iterator.Iterator
	filters []filter
	closed  bool
}

// Next implements Cursor.
func (c *levelDBCursor) Next(count int) ([]Record, error) {
	if c.closed {
		return nil, common.NewPoolErr(common.WalletError, "cursor is closed")
	}
	var res []Record
	for len(res) < count && c.it.Next() {
		val := c.it.Value()
		if !c.matches(val) {
			continue
		}
		res = append(res, Record{
			ID:    strings.TrimPrefix(string(c.it.Key()), credPrefix),
			Value: append(json.RawMessage{}, val...),
		})
	}
	return res, c.it.Error()
}

func (c *levelDBCursor) matches(record []byte) bool {
	for _, f := range c.filters {
		if !f.match(record) {
			return false
		}
	}
	return true
}

// Close implements Cursor.
func (c *levelDBCursor) Close() error {
	if !c.closed {
		c.it.Release()
		c.closed = true
	}
	return nil
}
