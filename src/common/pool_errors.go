package common

import (
	"fmt"
)

// ErrorKind classifies the failures surfaced to callers of a pool.
type ErrorKind uint32

const (
	// PoolNotOpen is returned for operations issued before bootstrap completed.
	PoolNotOpen ErrorKind = iota
	// PoolTimeout means consensus was not reached within the deadline.
	PoolTimeout
	// LedgerRejection means f+1 nodes rejected the request with the same
	// reason.
	LedgerRejection
	// InvalidTransaction is a malformed reply or an unknown op.
	InvalidTransaction
	// InvalidStateProof means every candidate node returned an unverifiable
	// proof.
	InvalidStateProof
	// IOError is a transport failure that every candidate node hit.
	IOError
	// ConfigError is a bad genesis file, an unknown node key or an invalid
	// configuration value.
	ConfigError
	// PoolClosed is returned to requests drained by Close or cancelled by the
	// caller.
	PoolClosed
	// WalletError wraps failures of the external wallet.
	WalletError
)

// String ...
func (k ErrorKind) String() string {
	switch k {
	case PoolNotOpen:
		return "PoolNotOpen"
	case PoolTimeout:
		return "PoolTimeout"
	case LedgerRejection:
		return "LedgerRejection"
	case InvalidTransaction:
		return "InvalidTransaction"
	case InvalidStateProof:
		return "InvalidStateProof"
	case IOError:
		return "IOError"
	case ConfigError:
		return "ConfigError"
	case PoolClosed:
		return "PoolClosed"
	case WalletError:
		return "WalletError"
	default:
		return "Unknown"
	}
}

// PoolErr is the error type returned by every pool operation. Reason carries
// the ledger's rejection reason for LedgerRejection, and a human readable
// explanation otherwise.
type PoolErr struct {
	Kind   ErrorKind
	Reason string
	cause  error
}

// NewPoolErr ...
func NewPoolErr(kind ErrorKind, reason string) PoolErr {
	return PoolErr{
		Kind:   kind,
		Reason: reason,
	}
}

// NewPoolErrf ...
func NewPoolErrf(kind ErrorKind, format string, args ...interface{}) PoolErr {
	return NewPoolErr(kind, fmt.Sprintf(format, args...))
}

// WrapPoolErr classifies an underlying error.
func WrapPoolErr(kind ErrorKind, cause error, reason string) PoolErr {
	return PoolErr{
		Kind:   kind,
		Reason: reason,
		cause:  cause,
	}
}

// Error ...
func (e PoolErr) Error() string {
	m := e.Kind.String()
	if e.Reason != "" {
		m = fmt.Sprintf("%s: %s", m, e.Reason)
	}
	if e.cause != nil {
		m = fmt.Sprintf("%s: %v", m, e.cause)
	}
	return m
}

// Unwrap returns the classified error, if any.
func (e PoolErr) Unwrap() error {
	return e.cause
}

// KindOf walks the chain of errors wrapped with github.com/pkg/errors and
// returns the kind of the first PoolErr it finds.
func KindOf(err error) (ErrorKind, bool) {
	for err != nil {
		if pe, ok := err.(PoolErr); ok {
			return pe.Kind, true
		}
		causer, ok := err.(interface{ Cause() error })
		if !ok {
			return 0, false
		}
		err = causer.Cause()
	}
	return 0, false
}

// IsPoolErr checks that an error is, or wraps, a PoolErr of the given kind.
func IsPoolErr(err error, kind ErrorKind) bool {
	k, ok := KindOf(err)
	return ok && k == kind
}

// RejectionReason returns the ledger reason carried by a LedgerRejection
// error.
func RejectionReason(err error) (string, bool) {
	for err != nil {
		if pe, ok := err.(PoolErr); ok {
			return pe.Reason, pe.Kind == LedgerRejection
		}
		causer, ok := err.(interface{ Cause() error })
		if !ok {
			return "", false
		}
		err = causer.Cause()
	}
	return "", false
}
