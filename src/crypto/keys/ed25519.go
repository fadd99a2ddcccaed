package keys

import (
	"crypto/ed25519"
	"crypto/rand"
	"fmt"

	"github.com/mosaicnetworks/indypool/src/crypto"
)

// SeedSize is the size of the seed of a signing key.
const SeedSize = ed25519.SeedSize

// GenerateKey creates a new random Ed25519 signing key.
func GenerateKey() (ed25519.PrivateKey, error) {
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	return priv, err
}

// KeyFromSeed derives a signing key from a 32 byte seed. Seeds of exactly 32
// ASCII characters, as accepted by the Indy tooling, are used as-is.
func KeyFromSeed(seed []byte) (ed25519.PrivateKey, error) {
	if len(seed) != SeedSize {
		return nil, fmt.Errorf("seed should be %d bytes, not %d", SeedSize, len(seed))
	}
	return ed25519.NewKeyFromSeed(seed), nil
}

// PublicKey returns the verification key of a signing key.
func PublicKey(priv ed25519.PrivateKey) ed25519.PublicKey {
	return priv.Public().(ed25519.PublicKey)
}

// Sign ...
func Sign(priv ed25519.PrivateKey, msg []byte) []byte {
	return ed25519.Sign(priv, msg)
}

// Verify ...
func Verify(pub ed25519.PublicKey, msg, sig []byte) bool {
	if len(pub) != ed25519.PublicKeySize {
		return false
	}
	return ed25519.Verify(pub, msg, sig)
}

// DID returns the unqualified DID of a verification key.
func DID(pub ed25519.PublicKey) string {
	return crypto.Base58Encode(pub[:16])
}

// Verkey returns the base58 encoding of a verification key.
func Verkey(pub ed25519.PublicKey) string {
	return crypto.Base58Encode(pub)
}

// ParseVerkey decodes a base58 verification key.
func ParseVerkey(s string) (ed25519.PublicKey, error) {
	b, err := crypto.Base58Decode(s)
	if err != nil {
		return nil, err
	}
	if len(b) != ed25519.PublicKeySize {
		return nil, fmt.Errorf("verkey should be %d bytes, not %d", ed25519.PublicKeySize, len(b))
	}
	return ed25519.PublicKey(b), nil
}
