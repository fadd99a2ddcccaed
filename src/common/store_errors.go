package common

import (
	"fmt"

	"github.com/pkg/errors"
)

// StoreErrType distinguishes store failures the pool can recover from.
type StoreErrType uint32

const (
	// KeyNotFound means nothing was stored under the key. A missing ledger
	// snapshot means the replica starts from genesis.
	KeyNotFound StoreErrType = iota
	// Corrupted means the stored value could not be decoded.
	Corrupted
)

// StoreErr is returned by ledger stores and the wallet records.
type StoreErr struct {
	dataType string
	errType  StoreErrType
	key      string
}

// NewStoreErr ...
func NewStoreErr(dataType string, errType StoreErrType, key string) StoreErr {
	return StoreErr{
		dataType: dataType,
		errType:  errType,
		key:      key,
	}
}

// Error ...
func (e StoreErr) Error() string {
	m := "Not Found"
	if e.errType == Corrupted {
		m = "Corrupted"
	}

	return fmt.Sprintf("%s %s: %s", e.dataType, e.key, m)
}

// IsStore checks that the cause of err is a StoreErr with the given type.
func IsStore(err error, t StoreErrType) bool {
	storeErr, ok := errors.Cause(err).(StoreErr)
	return ok && storeErr.errType == t
}
