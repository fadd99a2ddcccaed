// Package merkle implements the compact Merkle tree the client keeps as a
// replica of a ledger.
//
// Hashing follows RFC 6962: a leaf hash is SHA256(0x00 || data) and an inner
// node hash is SHA256(0x01 || left || right). The tree of n leaves splits at
// the largest power of two smaller than n. Only leaf hashes are stored; the
// transactions themselves are re-fetched from the ledger when needed.
//
// Audit paths prove that a leaf belongs to a tree of a given size, and
// consistency proofs prove that a tree of size m is a prefix of a tree of size
// n. Verification uses the iterative algorithms of RFC 9162.
package merkle
