// Package keys implements the public key cryptography used by the pool
// client.
//
// Requests are signed with Ed25519 keys. A DID is the base58 encoding of the
// first 16 bytes of the verification key. Validator nodes publish their
// Ed25519 verification key as "dest" in NODE transactions; the CurveZMQ server
// key of a node is the X25519 (Montgomery) form of that key.
package keys
