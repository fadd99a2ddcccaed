package wire

import (
	"encoding/json"

	"github.com/pkg/errors"
	"github.com/tidwall/gjson"
)

// ResponseMetadata is the normalized ledger position carried by a reply.
// Zero means absent.
type ResponseMetadata struct {
	SeqNo       uint64 `json:"seqNo,omitempty"`
	TxnTime     uint64 `json:"txnTime,omitempty"`
	LastTxnTime uint64 `json:"lastTxnTime,omitempty"`
	LastSeqNo   uint64 `json:"lastSeqNo,omitempty"`
	LedgerID    *int   `json:"ledgerId,omitempty"`
}

// ReplyVersion discriminates the two result shapes.
type ReplyVersion int

const (
	// ReplyV0 is the flat shape with a state_proof.
	ReplyV0 ReplyVersion = iota
	// ReplyV1 nests txnMetadata and multiSignature.signedState.
	ReplyV1
)

// VersionOf probes the "ver" field of a result.
func VersionOf(result json.RawMessage) (ReplyVersion, error) {
	ver := gjson.GetBytes(result, "ver")
	if !ver.Exists() {
		return ReplyV0, nil
	}
	switch ver.String() {
	case "0":
		return ReplyV0, nil
	case "1":
		return ReplyV1, nil
	default:
		return 0, errors.Errorf("unsupported reply version %q", ver.String())
	}
}

// V0Result is the flat result shape.
type V0Result struct {
	SeqNo      *uint64       `json:"seqNo"`
	TxnTime    *uint64       `json:"txnTime"`
	StateProof *V0StateProof `json:"state_proof"`
}

// V0StateProof is the state proof of flat replies. The audit path proves
// the leaf built from the reply data.
type V0StateProof struct {
	RootHash       string          `json:"root_hash"`
	AuditPath      []string        `json:"audit_path"`
	LeafIndex      *uint64         `json:"leaf_index"`
	TreeSize       *uint64         `json:"tree_size"`
	MultiSignature *MultiSignature `json:"multi_signature"`
}

// MultiSignature is the BLS multi-signature of a signed value.
type MultiSignature struct {
	Participants []string          `json:"participants"`
	Signature    string            `json:"signature"`
	Value        *MultiSignedValue `json:"value"`
}

// MultiSignedValue is the value signed by the participants of a v0 proof.
type MultiSignedValue struct {
	LedgerID          *int   `json:"ledger_id"`
	PoolStateRootHash string `json:"pool_state_root_hash"`
	StateRootHash     string `json:"state_root_hash"`
	Timestamp         uint64 `json:"timestamp"`
	TxnRootHash       string `json:"txn_root_hash"`
}

// V1Result is the nested result shape.
type V1Result struct {
	Ver         string            `json:"ver"`
	Txn         json.RawMessage   `json:"txn"`
	TxnMetadata *V1TxnMetadata    `json:"txnMetadata"`
	RootHash    string            `json:"rootHash"`
	AuditPath   []string          `json:"auditPath"`
	MultiSig    *V1MultiSignature `json:"multiSignature"`
}

// V1TxnMetadata ...
type V1TxnMetadata struct {
	SeqNo   *uint64 `json:"seqNo"`
	TxnTime *uint64 `json:"txnTime"`
	TxnID   string  `json:"txnId,omitempty"`
}

// V1MultiSignature ...
type V1MultiSignature struct {
	Participants []string       `json:"participants"`
	Signature    string         `json:"signature"`
	SignedState  *V1SignedState `json:"signedState"`
}

// V1SignedState is the value signed by the participants of a v1 proof.
type V1SignedState struct {
	LedgerMetadata *V1LedgerMetadata `json:"ledgerMetadata"`
	StateMetadata  *V1StateMetadata  `json:"stateMetadata"`
}

// V1LedgerMetadata ...
type V1LedgerMetadata struct {
	LedgerID *int   `json:"ledgerId"`
	RootHash string `json:"rootHash"`
	Size     uint64 `json:"size"`
}

// V1StateMetadata ...
type V1StateMetadata struct {
	Timestamp    uint64 `json:"timestamp"`
	PoolRootHash string `json:"poolRootHash"`
	RootHash     string `json:"rootHash"`
}

// ParseResponseMetadata normalizes the metadata of either result shape.
func ParseResponseMetadata(result json.RawMessage) (ResponseMetadata, error) {
	ver, err := VersionOf(result)
	if err != nil {
		return ResponseMetadata{}, err
	}

	var md ResponseMetadata

	switch ver {
	case ReplyV0:
		var r V0Result
		if err := json.Unmarshal(result, &r); err != nil {
			return md, errors.Wrap(err, "decoding v0 result")
		}
		if r.SeqNo != nil {
			md.SeqNo = *r.SeqNo
		}
		if r.TxnTime != nil {
			md.TxnTime = *r.TxnTime
		}
		if r.StateProof != nil && r.StateProof.MultiSignature != nil && r.StateProof.MultiSignature.Value != nil {
			md.LastTxnTime = r.StateProof.MultiSignature.Value.Timestamp
			md.LedgerID = r.StateProof.MultiSignature.Value.LedgerID
		}
	case ReplyV1:
		var r V1Result
		if err := json.Unmarshal(result, &r); err != nil {
			return md, errors.Wrap(err, "decoding v1 result")
		}
		if r.TxnMetadata != nil {
			if r.TxnMetadata.SeqNo != nil {
				md.SeqNo = *r.TxnMetadata.SeqNo
			}
			if r.TxnMetadata.TxnTime != nil {
				md.TxnTime = *r.TxnMetadata.TxnTime
			}
		}
		if r.MultiSig != nil && r.MultiSig.SignedState != nil {
			if sm := r.MultiSig.SignedState.StateMetadata; sm != nil {
				md.LastTxnTime = sm.Timestamp
			}
			if lm := r.MultiSig.SignedState.LedgerMetadata; lm != nil {
				md.LastSeqNo = lm.Size
				md.LedgerID = lm.LedgerID
			}
		}
	}

	return md, nil
}

// SameTxn reports whether two metadata describe the same ordered txn. Both
// must carry a seqNo.
func (md ResponseMetadata) SameTxn(other ResponseMetadata) bool {
	return md.SeqNo != 0 && md.SeqNo == other.SeqNo && md.TxnTime == other.TxnTime
}

// Equal compares the ledger position, ignoring the ledger id.
func (md ResponseMetadata) Equal(other ResponseMetadata) bool {
	return md.SeqNo == other.SeqNo &&
		md.TxnTime == other.TxnTime &&
		md.LastTxnTime == other.LastTxnTime &&
		md.LastSeqNo == other.LastSeqNo
}
