package merkle

import (
	"bytes"
	"encoding/hex"
	"fmt"
	"testing"
)

func testLeaves(n int) [][]byte {
	res := make([][]byte, n)
	for i := 0; i < n; i++ {
		res[i] = []byte(fmt.Sprintf(`{"seqNo":%d}`, i+1))
	}
	return res
}

func buildTree(n int) *Tree {
	t := New()
	for _, l := range testLeaves(n) {
		t.Append(l)
	}
	return t
}

func TestKnownRoots(t *testing.T) {
	// RFC 6962 reference leaves
	inputs := []string{"", "00", "10", "2021", "3031", "40414243", "5051525354555657", "606162636465666768696a6b6c6d6e6f"}

	tree := New()
	for _, in := range inputs {
		b, _ := hex.DecodeString(in)
		tree.Append(b)
	}

	expected := "5dc9da79a70659a9ad559cb701ded9a2ab9d823aad2f4960cfe370eff4604328"
	if r := hex.EncodeToString(tree.Root()); r != expected {
		t.Fatalf("root of the 8 reference leaves should be %s, not %s", expected, r)
	}

	one, _ := tree.RootAt(1)
	if r := hex.EncodeToString(one); r != "6e340b9cffb37a989ca544e6bb780a2c78901d3fb33738768511a30617afa01d" {
		t.Fatalf("unexpected root of the first leaf: %s", r)
	}

	if !bytes.Equal(New().Root(), EmptyRoot()) {
		t.Fatalf("empty tree should have the empty root")
	}
}

func TestFrontierRootMatchesRecursiveRoot(t *testing.T) {
	tree := New()
	for i, l := range testLeaves(33) {
		tree.Append(l)
		expected, err := tree.RootAt(uint64(i + 1))
		if err != nil {
			t.Fatal(err)
		}
		if !bytes.Equal(tree.Root(), expected) {
			t.Fatalf("size %d: incremental root differs from recursive root", i+1)
		}
	}
}

func TestAuditPaths(t *testing.T) {
	tree := buildTree(17)

	for size := uint64(1); size <= tree.Size(); size++ {
		root, _ := tree.RootAt(size)
		for index := uint64(0); index < size; index++ {
			path, err := tree.AuditPath(index, size)
			if err != nil {
				t.Fatal(err)
			}
			leaf, _ := tree.LeafHashAt(index)
			if err := VerifyAuditPath(leaf, index, size, path, root); err != nil {
				t.Fatalf("leaf %d of %d: %v", index, size, err)
			}

			// wrong index
			if size > 1 {
				other := (index + 1) % size
				if err := VerifyAuditPath(leaf, other, size, path, root); err == nil {
					t.Fatalf("leaf %d of %d: proof should not verify at index %d", index, size, other)
				}
			}

			// tampered path
			if len(path) > 0 {
				bad := make([][]byte, len(path))
				copy(bad, path)
				bad[0] = LeafHash([]byte("tampered"))
				if err := VerifyAuditPath(leaf, index, size, bad, root); err == nil {
					t.Fatalf("leaf %d of %d: tampered proof should not verify", index, size)
				}
				if err := VerifyAuditPath(leaf, index, size, path[:len(path)-1], root); err == nil {
					t.Fatalf("leaf %d of %d: truncated proof should not verify", index, size)
				}
			}
		}
	}
}

func TestAuditPathOutOfRange(t *testing.T) {
	tree := buildTree(4)
	if _, err := tree.AuditPath(4, 4); err == nil {
		t.Fatalf("index 4 of 4 should be out of range")
	}
	if _, err := RootFromAuditPath(LeafHash(nil), 5, 5, nil); err == nil {
		t.Fatalf("index 5 of 5 should be out of range")
	}
}

func TestConsistencyProofs(t *testing.T) {
	tree := buildTree(17)

	for newSize := uint64(1); newSize <= tree.Size(); newSize++ {
		newRoot, _ := tree.RootAt(newSize)
		for oldSize := uint64(1); oldSize <= newSize; oldSize++ {
			oldRoot, _ := tree.RootAt(oldSize)
			proof, err := tree.ConsistencyProof(oldSize, newSize)
			if err != nil {
				t.Fatal(err)
			}
			if err := VerifyConsistency(oldSize, newSize, oldRoot, newRoot, proof); err != nil {
				t.Fatalf("%d -> %d: %v", oldSize, newSize, err)
			}

			if oldSize < newSize {
				wrongOld := LeafHash([]byte("forged"))
				if err := VerifyConsistency(oldSize, newSize, wrongOld, newRoot, proof); err == nil {
					t.Fatalf("%d -> %d: forged old root should not verify", oldSize, newSize)
				}
				if err := VerifyConsistency(oldSize, newSize, oldRoot, wrongOld, proof); err == nil {
					t.Fatalf("%d -> %d: forged new root should not verify", oldSize, newSize)
				}
			}
		}
	}
}

func TestConsistencyFromEmpty(t *testing.T) {
	tree := buildTree(5)
	if err := VerifyConsistency(0, 5, EmptyRoot(), tree.Root(), nil); err != nil {
		t.Fatalf("empty tree is a prefix of every tree: %v", err)
	}
	if err := VerifyConsistency(3, 5, tree.Root(), tree.Root(), nil); err == nil {
		t.Fatalf("empty proof should not verify between different sizes")
	}
}

func TestNewFromLeafHashes(t *testing.T) {
	tree := buildTree(11)
	rebuilt := NewFromLeafHashes(tree.LeafHashes())
	if !tree.Equal(rebuilt) {
		t.Fatalf("rebuilt tree should match the original")
	}

	clone := tree.Clone()
	clone.Append([]byte("extra"))
	if tree.Equal(clone) || tree.Size() != 11 {
		t.Fatalf("clone should be independent")
	}
}
