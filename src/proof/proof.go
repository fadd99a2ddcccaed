// Package proof verifies the state proofs attached to single-node replies.
//
// A proof is accepted when the Merkle root recomputed from the reply and its
// audit path equals the root signed by the validators, the BLS
// multi-signature over the signed value verifies under the participants'
// keys, and at least f+1 known validators participated.
package proof

import (
	"bytes"
	"encoding/json"

	"github.com/mosaicnetworks/indypool/src/crypto"
	"github.com/mosaicnetworks/indypool/src/crypto/bls"
	"github.com/mosaicnetworks/indypool/src/merkle"
	"github.com/mosaicnetworks/indypool/src/peers"
	"github.com/mosaicnetworks/indypool/src/wire"
	"github.com/pkg/errors"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

var (
	// ErrNoProof is returned for replies without any state proof.
	ErrNoProof = errors.New("reply carries no state proof")
	// ErrRootMismatch is returned when the audit path leads to another root.
	ErrRootMismatch = errors.New("state proof root mismatch")
)

// Verify checks the state proof of a REPLY result against the current
// validators.
func Verify(result json.RawMessage, nodes *peers.NodeSet) error {
	ver, err := wire.VersionOf(result)
	if err != nil {
		return err
	}
	if ver == wire.ReplyV1 {
		return verifyV1(result, nodes)
	}
	return verifyV0(result, nodes)
}

func verifyV0(result json.RawMessage, nodes *peers.NodeSet) error {
	var r wire.V0Result
	if err := json.Unmarshal(result, &r); err != nil {
		return errors.Wrap(err, "decoding result")
	}
	sp := r.StateProof
	if sp == nil || sp.MultiSignature == nil || sp.MultiSignature.Value == nil {
		return ErrNoProof
	}
	value := sp.MultiSignature.Value

	if sp.RootHash != value.StateRootHash {
		return errors.Wrap(ErrRootMismatch, "root_hash differs from the signed state root")
	}

	data := gjson.GetBytes(result, "data")
	if data.Exists() && data.Type != gjson.Null {
		if sp.LeafIndex == nil || sp.TreeSize == nil {
			return errors.New("state proof without leaf position")
		}
		var leaf []byte
		if data.Type == gjson.String {
			leaf = []byte(data.String())
		} else {
			c, err := wire.CanonicalJSON([]byte(data.Raw))
			if err != nil {
				return err
			}
			leaf = c
		}
		if err := checkPath(merkle.LeafHash(leaf), *sp.LeafIndex, *sp.TreeSize, sp.AuditPath, sp.RootHash); err != nil {
			return err
		}
	}

	signed := gjson.GetBytes(result, "state_proof.multi_signature.value")
	return checkMultiSig(sp.MultiSignature.Participants, sp.MultiSignature.Signature, json.RawMessage(signed.Raw), nodes)
}

func verifyV1(result json.RawMessage, nodes *peers.NodeSet) error {
	var r wire.V1Result
	if err := json.Unmarshal(result, &r); err != nil {
		return errors.Wrap(err, "decoding result")
	}
	if r.MultiSig == nil || r.MultiSig.SignedState == nil || r.MultiSig.SignedState.LedgerMetadata == nil {
		return ErrNoProof
	}
	lm := r.MultiSig.SignedState.LedgerMetadata

	if r.RootHash != lm.RootHash {
		return errors.Wrap(ErrRootMismatch, "rootHash differs from the signed ledger root")
	}

	if r.TxnMetadata != nil && r.TxnMetadata.SeqNo != nil {
		seqNo := *r.TxnMetadata.SeqNo
		if seqNo == 0 {
			return errors.New("invalid seqNo 0")
		}
		record, err := ledgerRecord(result)
		if err != nil {
			return err
		}
		leaf, err := wire.TxnLeaf(record)
		if err != nil {
			return err
		}
		if err := checkPath(merkle.LeafHash(leaf), seqNo-1, lm.Size, r.AuditPath, r.RootHash); err != nil {
			return err
		}
	}

	signed := gjson.GetBytes(result, "multiSignature.signedState")
	return checkMultiSig(r.MultiSig.Participants, r.MultiSig.Signature, json.RawMessage(signed.Raw), nodes)
}

// ledgerRecord strips the proof fields and the request fields added by the
// replying node, leaving the record stored in the ledger.
func ledgerRecord(result json.RawMessage) (json.RawMessage, error) {
	record := []byte(result)
	var err error
	for _, field := range []string{"rootHash", "auditPath", "multiSignature", "reqId", "identifier"} {
		if record, err = sjson.DeleteBytes(record, field); err != nil {
			return nil, err
		}
	}
	return json.RawMessage(record), nil
}

func checkPath(leafHash []byte, index, size uint64, path []string, rootB58 string) error {
	root, err := crypto.Base58Decode(rootB58)
	if err != nil {
		return errors.Wrap(err, "decoding root")
	}
	hashes := make([][]byte, 0, len(path))
	for _, p := range path {
		h, err := crypto.Base58Decode(p)
		if err != nil {
			return errors.Wrap(err, "decoding audit path")
		}
		hashes = append(hashes, h)
	}
	computed, err := merkle.RootFromAuditPath(leafHash, index, size, hashes)
	if err != nil {
		return err
	}
	if !bytes.Equal(computed, root) {
		return ErrRootMismatch
	}
	return nil
}

func checkMultiSig(participants []string, signature string, value interface{}, nodes *peers.NodeSet) error {
	if len(participants) < nodes.Quorum() {
		return errors.Errorf("%d participants, need %d", len(participants), nodes.Quorum())
	}
	keys, err := nodes.BLSKeys(participants)
	if err != nil {
		return err
	}
	msg, err := wire.CanonicalJSON(value)
	if err != nil {
		return err
	}
	if err := bls.VerifyMulti(keys, msg, signature); err != nil {
		return errors.Wrap(err, "invalid multi-signature")
	}
	return nil
}

// Sign produces the multi-signature of the given participants over value.
// It is what validators do; the client uses it to simulate a pool.
func Sign(value interface{}, secrets []bls.SecretKey) (string, error) {
	msg, err := wire.CanonicalJSON(value)
	if err != nil {
		return "", err
	}
	sigs := make([]string, 0, len(secrets))
	for _, sk := range secrets {
		s, err := sk.Sign(msg)
		if err != nil {
			return "", err
		}
		sigs = append(sigs, s)
	}
	return bls.Aggregate(sigs...)
}
