package keys

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha512"
	"fmt"

	"filippo.io/edwards25519"
	"golang.org/x/crypto/curve25519"
)

// CurveKeySize is the size of X25519 public and secret keys.
const CurveKeySize = curve25519.PointSize

// CurveKeyPair is the key pair of a CurveZMQ client.
type CurveKeyPair struct {
	Public []byte
	Secret []byte
}

// GenerateCurveKeyPair creates a fresh X25519 key pair.
func GenerateCurveKeyPair() (CurveKeyPair, error) {
	secret := make([]byte, curve25519.ScalarSize)
	if _, err := rand.Read(secret); err != nil {
		return CurveKeyPair{}, err
	}
	return curveKeyPairFromSecret(secret)
}

// CurveKeyPairFromSigningKey converts an Ed25519 signing key to the X25519
// key pair that shares its secret scalar.
func CurveKeyPairFromSigningKey(priv ed25519.PrivateKey) (CurveKeyPair, error) {
	return curveKeyPairFromSecret(EdPrivateToCurve(priv))
}

func curveKeyPairFromSecret(secret []byte) (CurveKeyPair, error) {
	public, err := curve25519.X25519(secret, curve25519.Basepoint)
	if err != nil {
		return CurveKeyPair{}, err
	}
	return CurveKeyPair{Public: public, Secret: secret}, nil
}

// EdPublicToCurve converts an Ed25519 verification key to its Montgomery
// form.
func EdPublicToCurve(pub ed25519.PublicKey) ([]byte, error) {
	if len(pub) != ed25519.PublicKeySize {
		return nil, fmt.Errorf("verkey should be %d bytes, not %d", ed25519.PublicKeySize, len(pub))
	}
	p, err := new(edwards25519.Point).SetBytes(pub)
	if err != nil {
		return nil, err
	}
	return p.BytesMontgomery(), nil
}

// EdPrivateToCurve returns the clamped X25519 scalar of an Ed25519 key.
func EdPrivateToCurve(priv ed25519.PrivateKey) []byte {
	h := sha512.Sum512(priv.Seed())
	s := make([]byte, curve25519.ScalarSize)
	copy(s, h[:32])
	s[0] &= 248
	s[31] &= 127
	s[31] |= 64
	return s
}
