package merkle

import (
	"bytes"
	"errors"
	"fmt"
)

// ErrRootMismatch is returned when a proof is well formed but leads to
// another root.
var ErrRootMismatch = errors.New("merkle: root mismatch")

// RootFromAuditPath recomputes the root of a tree of the given size from a
// leaf hash and its audit path.
func RootFromAuditPath(leafHash []byte, index, size uint64, path [][]byte) ([]byte, error) {
	if index >= size {
		return nil, fmt.Errorf("merkle: index %d out of range for size %d", index, size)
	}

	fn, sn := index, size-1
	r := leafHash
	for _, p := range path {
		if sn == 0 {
			return nil, fmt.Errorf("merkle: audit path too long")
		}
		if fn&1 == 1 || fn == sn {
			r = NodeHash(p, r)
			for fn&1 == 0 && fn != 0 {
				fn >>= 1
				sn >>= 1
			}
		} else {
			r = NodeHash(r, p)
		}
		fn >>= 1
		sn >>= 1
	}
	if sn != 0 {
		return nil, fmt.Errorf("merkle: audit path too short")
	}
	return r, nil
}

// VerifyAuditPath checks that leafHash is the index-th leaf of the tree with
// the given size and root.
func VerifyAuditPath(leafHash []byte, index, size uint64, path [][]byte, root []byte) error {
	r, err := RootFromAuditPath(leafHash, index, size, path)
	if err != nil {
		return err
	}
	if !bytes.Equal(r, root) {
		return ErrRootMismatch
	}
	return nil
}

// VerifyConsistency checks that the tree of oldSize leaves with oldRoot is a
// prefix of the tree of newSize leaves with newRoot.
func VerifyConsistency(oldSize, newSize uint64, oldRoot, newRoot []byte, proof [][]byte) error {
	switch {
	case oldSize > newSize:
		return fmt.Errorf("merkle: old size %d exceeds new size %d", oldSize, newSize)
	case oldSize == newSize:
		if len(proof) != 0 {
			return fmt.Errorf("merkle: non-empty proof for equal sizes")
		}
		if !bytes.Equal(oldRoot, newRoot) {
			return ErrRootMismatch
		}
		return nil
	case oldSize == 0:
		if len(proof) != 0 {
			return fmt.Errorf("merkle: non-empty proof from an empty tree")
		}
		return nil
	case len(proof) == 0:
		return fmt.Errorf("merkle: empty consistency proof")
	}

	path := proof
	if oldSize&(oldSize-1) == 0 {
		path = append([][]byte{oldRoot}, proof...)
	}

	fn, sn := oldSize-1, newSize-1
	for fn&1 == 1 {
		fn >>= 1
		sn >>= 1
	}

	fr, sr := path[0], path[0]
	for _, c := range path[1:] {
		if sn == 0 {
			return fmt.Errorf("merkle: consistency proof too long")
		}
		if fn&1 == 1 || fn == sn {
			fr = NodeHash(c, fr)
			sr = NodeHash(c, sr)
			for fn&1 == 0 && fn != 0 {
				fn >>= 1
				sn >>= 1
			}
		} else {
			sr = NodeHash(sr, c)
		}
		fn >>= 1
		sn >>= 1
	}

	if sn != 0 {
		return fmt.Errorf("merkle: consistency proof too short")
	}
	if !bytes.Equal(fr, oldRoot) || !bytes.Equal(sr, newRoot) {
		return ErrRootMismatch
	}
	return nil
}
