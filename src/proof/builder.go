package proof

import (
	"github.com/mosaicnetworks/indypool/src/crypto"
	"github.com/mosaicnetworks/indypool/src/crypto/bls"
	"github.com/mosaicnetworks/indypool/src/merkle"
	"github.com/mosaicnetworks/indypool/src/wire"
)

// Participant is a validator taking part in a multi-signature.
type Participant struct {
	Name string
	Key  bls.SecretKey
}

func multiSign(value interface{}, participants []Participant) ([]string, string, error) {
	names := make([]string, 0, len(participants))
	secrets := make([]bls.SecretKey, 0, len(participants))
	for _, p := range participants {
		names = append(names, p.Name)
		secrets = append(secrets, p.Key)
	}
	sig, err := Sign(value, secrets)
	if err != nil {
		return nil, "", err
	}
	return names, sig, nil
}

func encodePath(path [][]byte) []string {
	res := make([]string, 0, len(path))
	for _, p := range path {
		res = append(res, crypto.Base58Encode(p))
	}
	return res
}

// NewV0StateProof builds the state_proof of the index-th leaf of tree, signed
// by the participants.
func NewV0StateProof(tree *merkle.Tree, index uint64, ledgerID int, timestamp uint64, participants []Participant) (*wire.V0StateProof, error) {
	size := tree.Size()
	path, err := tree.AuditPath(index, size)
	if err != nil {
		return nil, err
	}
	sp, err := NewV0RootProof(tree.Root(), ledgerID, timestamp, participants)
	if err != nil {
		return nil, err
	}
	sp.AuditPath = encodePath(path)
	sp.LeafIndex = &index
	sp.TreeSize = &size
	return sp, nil
}

// NewV0RootProof builds a state_proof signing root only. It goes with replies
// whose data is null.
func NewV0RootProof(root []byte, ledgerID int, timestamp uint64, participants []Participant) (*wire.V0StateProof, error) {
	b58 := crypto.Base58Encode(root)
	value := &wire.MultiSignedValue{
		LedgerID:          &ledgerID,
		PoolStateRootHash: b58,
		StateRootHash:     b58,
		Timestamp:         timestamp,
		TxnRootHash:       b58,
	}
	names, sig, err := multiSign(value, participants)
	if err != nil {
		return nil, err
	}

	return &wire.V0StateProof{
		RootHash:  b58,
		AuditPath: []string{},
		MultiSignature: &wire.MultiSignature{
			Participants: names,
			Signature:    sig,
			Value:        value,
		},
	}, nil
}

// V1Proof holds the proof fields of a v1 result.
type V1Proof struct {
	RootHash       string                 `json:"rootHash"`
	AuditPath      []string               `json:"auditPath"`
	MultiSignature *wire.V1MultiSignature `json:"multiSignature"`
}

// NewV1Proof builds the proof of ledger transaction seqNo, signed by the
// participants.
func NewV1Proof(tree *merkle.Tree, seqNo uint64, ledgerID int, timestamp uint64, participants []Participant) (*V1Proof, error) {
	path, err := tree.AuditPath(seqNo-1, tree.Size())
	if err != nil {
		return nil, err
	}
	p, err := NewV1RootProof(tree, ledgerID, timestamp, participants)
	if err != nil {
		return nil, err
	}
	p.AuditPath = encodePath(path)
	return p, nil
}

// NewV1RootProof signs the current root and size of tree. It goes with
// replies that carry no transaction.
func NewV1RootProof(tree *merkle.Tree, ledgerID int, timestamp uint64, participants []Participant) (*V1Proof, error) {
	root := crypto.Base58Encode(tree.Root())

	state := &wire.V1SignedState{
		LedgerMetadata: &wire.V1LedgerMetadata{
			LedgerID: &ledgerID,
			RootHash: root,
			Size:     tree.Size(),
		},
		StateMetadata: &wire.V1StateMetadata{
			Timestamp:    timestamp,
			PoolRootHash: root,
			RootHash:     root,
		},
	}
	names, sig, err := multiSign(state, participants)
	if err != nil {
		return nil, err
	}

	return &V1Proof{
		RootHash:  root,
		AuditPath: []string{},
		MultiSignature: &wire.V1MultiSignature{
			Participants: names,
			Signature:    sig,
			SignedState:  state,
		},
	}, nil
}
