package merkle

import (
	"bytes"
	"crypto/sha256"
	"fmt"
)

const (
	leafPrefix = 0x00
	nodePrefix = 0x01
)

// LeafHash ...
func LeafHash(data []byte) []byte {
	h := sha256.New()
	h.Write([]byte{leafPrefix})
	h.Write(data)
	return h.Sum(nil)
}

// NodeHash ...
func NodeHash(left, right []byte) []byte {
	h := sha256.New()
	h.Write([]byte{nodePrefix})
	h.Write(left)
	h.Write(right)
	return h.Sum(nil)
}

// EmptyRoot is the root of a tree without leaves.
func EmptyRoot() []byte {
	h := sha256.Sum256(nil)
	return h[:]
}

// Tree is an append-only Merkle tree. Appends and root computation are
// logarithmic thanks to the frontier of perfect subtree roots; proofs are
// computed from the stored leaf hashes.
type Tree struct {
	leaves [][]byte

	// frontier[i] is the root of a perfect subtree; sizes decrease from left
	// to right and follow the binary decomposition of len(leaves).
	frontier [][]byte
	heights  []uint
}

// New returns an empty tree.
func New() *Tree {
	return &Tree{}
}

// NewFromLeafHashes rebuilds a tree from persisted leaf hashes.
func NewFromLeafHashes(hashes [][]byte) *Tree {
	t := New()
	for _, h := range hashes {
		t.AppendHash(h)
	}
	return t
}

// Append hashes data as a leaf, appends it and returns the leaf hash.
func (t *Tree) Append(data []byte) []byte {
	h := LeafHash(data)
	t.AppendHash(h)
	return h
}

// AppendHash appends an already hashed leaf.
func (t *Tree) AppendHash(leafHash []byte) {
	h := append([]byte{}, leafHash...)
	t.leaves = append(t.leaves, h)

	t.frontier = append(t.frontier, h)
	t.heights = append(t.heights, 0)
	for n := len(t.frontier); n > 1 && t.heights[n-1] == t.heights[n-2]; n = len(t.frontier) {
		merged := NodeHash(t.frontier[n-2], t.frontier[n-1])
		height := t.heights[n-1] + 1
		t.frontier = append(t.frontier[:n-2], merged)
		t.heights = append(t.heights[:n-2], height)
	}
}

// Size returns the number of leaves.
func (t *Tree) Size() uint64 {
	return uint64(len(t.leaves))
}

// Root returns the current root hash.
func (t *Tree) Root() []byte {
	if len(t.frontier) == 0 {
		return EmptyRoot()
	}
	r := t.frontier[len(t.frontier)-1]
	for i := len(t.frontier) - 2; i >= 0; i-- {
		r = NodeHash(t.frontier[i], r)
	}
	return r
}

// RootAt returns the root of the tree made of the first size leaves.
func (t *Tree) RootAt(size uint64) ([]byte, error) {
	if size > t.Size() {
		return nil, fmt.Errorf("size %d exceeds tree size %d", size, t.Size())
	}
	if size == 0 {
		return EmptyRoot(), nil
	}
	return subtreeRoot(t.leaves[:size]), nil
}

// LeafHashes returns a copy of the leaf hashes, for persistence.
func (t *Tree) LeafHashes() [][]byte {
	res := make([][]byte, len(t.leaves))
	copy(res, t.leaves)
	return res
}

// LeafHashAt ...
func (t *Tree) LeafHashAt(index uint64) ([]byte, error) {
	if index >= t.Size() {
		return nil, fmt.Errorf("index %d out of range %d", index, t.Size())
	}
	return t.leaves[index], nil
}

// AuditPath returns the inclusion proof of leaf index in the tree of the
// first size leaves.
func (t *Tree) AuditPath(index, size uint64) ([][]byte, error) {
	if size > t.Size() || index >= size {
		return nil, fmt.Errorf("index %d out of range for size %d (tree size %d)", index, size, t.Size())
	}
	return auditPath(index, t.leaves[:size]), nil
}

// ConsistencyProof proves that the tree of oldSize leaves is a prefix of the
// tree of newSize leaves.
func (t *Tree) ConsistencyProof(oldSize, newSize uint64) ([][]byte, error) {
	if newSize > t.Size() || oldSize > newSize {
		return nil, fmt.Errorf("invalid consistency range %d..%d (tree size %d)", oldSize, newSize, t.Size())
	}
	if oldSize == 0 || oldSize == newSize {
		return [][]byte{}, nil
	}
	return subproof(oldSize, t.leaves[:newSize], true), nil
}

// Clone returns an independent copy of the tree.
func (t *Tree) Clone() *Tree {
	return NewFromLeafHashes(t.leaves)
}

// Equal compares roots and sizes.
func (t *Tree) Equal(other *Tree) bool {
	return t.Size() == other.Size() && bytes.Equal(t.Root(), other.Root())
}

// splitPoint returns the largest power of two smaller than n, n > 1.
func splitPoint(n uint64) uint64 {
	k := uint64(1)
	for k<<1 < n {
		k <<= 1
	}
	return k
}

func subtreeRoot(leaves [][]byte) []byte {
	n := uint64(len(leaves))
	if n == 1 {
		return leaves[0]
	}
	k := splitPoint(n)
	return NodeHash(subtreeRoot(leaves[:k]), subtreeRoot(leaves[k:]))
}

func auditPath(m uint64, leaves [][]byte) [][]byte {
	n := uint64(len(leaves))
	if n == 1 {
		return [][]byte{}
	}
	k := splitPoint(n)
	if m < k {
		return append(auditPath(m, leaves[:k]), subtreeRoot(leaves[k:]))
	}
	return append(auditPath(m-k, leaves[k:]), subtreeRoot(leaves[:k]))
}

func subproof(m uint64, leaves [][]byte, complete bool) [][]byte {
	n := uint64(len(leaves))
	if m == n {
		if complete {
			return [][]byte{}
		}
		return [][]byte{subtreeRoot(leaves)}
	}
	k := splitPoint(n)
	if m <= k {
		return append(subproof(m, leaves[:k], complete), subtreeRoot(leaves[k:]))
	}
	return append(subproof(m-k, leaves[k:], false), subtreeRoot(leaves[:k]))
}
