// Package wallet holds the signing keys and opaque records of a pool client.
//
// The pool core only consumes the Wallet interface. LevelDBWallet is a
// goleveldb implementation storing DID keys and JSON records under separate
// key prefixes.
package wallet

import (
	"encoding/json"
)

// Wallet is the set of operations the pool client needs from a wallet.
type Wallet interface {
	// Sign signs msg with the key of did.
	Sign(did string, msg []byte) ([]byte, error)
	// KeyForDID returns the base58 verkey of did.
	KeyForDID(did string) (string, error)
	// StoreCred stores, or replaces, a JSON record.
	StoreCred(id string, value json.RawMessage) error
	// GetCred returns a record, or a KeyNotFound StoreErr.
	GetCred(id string) (json.RawMessage, error)
	// Delete removes a record.
	Delete(id string) error
	// Search returns a cursor over the records matching a query.
	Search(query json.RawMessage) (Cursor, error)
}

// Cursor iterates over search results.
type Cursor interface {
	// Next returns up to count records. An empty result means the end.
	Next(count int) ([]Record, error)
	// Close releases the cursor.
	Close() error
}

// Record is a search result.
type Record struct {
	ID    string          `json:"id"`
	Value json.RawMessage `json:"value"`
}
