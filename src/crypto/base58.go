package crypto

import (
	"fmt"

	"github.com/btcsuite/btcutil/base58"
)

// Base58Encode encodes bytes with the bitcoin alphabet, which is the one used
// for Indy keys, DIDs, signatures and Merkle roots.
func Base58Encode(b []byte) string {
	return base58.Encode(b)
}

// Base58Decode decodes a base58 string. Unlike the underlying library, it
// reports invalid input instead of returning an empty slice.
func Base58Decode(s string) ([]byte, error) {
	if s == "" {
		return nil, fmt.Errorf("empty base58 string")
	}
	b := base58.Decode(s)
	if len(b) == 0 {
		return nil, fmt.Errorf("invalid base58 string %q", s)
	}
	return b, nil
}
