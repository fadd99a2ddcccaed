// Package bls verifies the BLS multi-signatures validators attach to state
// proofs.
//
// Public keys are points of G2 and signatures points of G1 of the bn256
// pairing, both transported as the base58 encoding of their binary form.
package bls

import (
	"fmt"

	"github.com/mosaicnetworks/indypool/src/crypto"
	"go.dedis.ch/kyber/v3"
	"go.dedis.ch/kyber/v3/pairing/bn256"
	"go.dedis.ch/kyber/v3/sign/bls"
	"go.dedis.ch/kyber/v3/util/random"
)

var suite = bn256.NewSuite()

// PublicKey is a validator BLS verification key.
type PublicKey struct {
	point kyber.Point
}

// SecretKey is a BLS signing key. Only simulated validators sign.
type SecretKey struct {
	scalar kyber.Scalar
}

// GenerateKey creates a random key pair.
func GenerateKey() (SecretKey, PublicKey) {
	x, X := bls.NewKeyPair(suite, random.New())
	return SecretKey{scalar: x}, PublicKey{point: X}
}

// ParsePublicKey decodes a base58 key as found in the blskey field of NODE
// transactions.
func ParsePublicKey(s string) (PublicKey, error) {
	b, err := crypto.Base58Decode(s)
	if err != nil {
		return PublicKey{}, err
	}
	p := suite.G2().Point()
	if err := p.UnmarshalBinary(b); err != nil {
		return PublicKey{}, fmt.Errorf("invalid BLS key: %v", err)
	}
	return PublicKey{point: p}, nil
}

// String returns the base58 encoding of the key.
func (k PublicKey) String() string {
	b, err := k.point.MarshalBinary()
	if err != nil {
		return ""
	}
	return crypto.Base58Encode(b)
}

// IsZero is true for keys that were never set.
func (k PublicKey) IsZero() bool {
	return k.point == nil
}

// Sign returns the base58 signature of msg.
func (k SecretKey) Sign(msg []byte) (string, error) {
	sig, err := bls.Sign(suite, k.scalar, msg)
	if err != nil {
		return "", err
	}
	return crypto.Base58Encode(sig), nil
}

// Aggregate combines base58 signatures into one multi-signature.
func Aggregate(sigs ...string) (string, error) {
	raw := make([][]byte, 0, len(sigs))
	for _, s := range sigs {
		b, err := crypto.Base58Decode(s)
		if err != nil {
			return "", err
		}
		raw = append(raw, b)
	}
	agg, err := bls.AggregateSignatures(suite, raw...)
	if err != nil {
		return "", err
	}
	return crypto.Base58Encode(agg), nil
}

// VerifyMulti checks an aggregated signature of msg against the aggregate of
// the participants' keys.
func VerifyMulti(keys []PublicKey, msg []byte, signature string) error {
	if len(keys) == 0 {
		return fmt.Errorf("no participants")
	}
	sig, err := crypto.Base58Decode(signature)
	if err != nil {
		return err
	}
	points := make([]kyber.Point, 0, len(keys))
	for _, k := range keys {
		if k.IsZero() {
			return fmt.Errorf("participant without BLS key")
		}
		points = append(points, k.point)
	}
	return bls.Verify(suite, bls.AggregatePublicKeys(suite, points...), msg, sig)
}
