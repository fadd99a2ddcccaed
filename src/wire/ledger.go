package wire

import (
	"encoding/json"
	"sort"
	"strconv"

	"github.com/mosaicnetworks/indypool/src/crypto"
	"github.com/pkg/errors"
)

// LedgerStatus announces the size and root of a ledger. The client sends its
// own to start a catch-up; nodes that are in sync answer with theirs.
type LedgerStatus struct {
	Op              string  `json:"op"`
	LedgerID        int     `json:"ledgerId"`
	TxnSeqNo        uint64  `json:"txnSeqNo"`
	MerkleRoot      string  `json:"merkleRoot"`
	ViewNo          *uint64 `json:"viewNo"`
	PPSeqNo         *uint64 `json:"ppSeqNo"`
	ProtocolVersion int     `json:"protocolVersion"`
}

// ConsistencyProof is sent by nodes whose ledger is ahead of the client's.
type ConsistencyProof struct {
	Op            string   `json:"op"`
	LedgerID      int      `json:"ledgerId"`
	SeqNoStart    uint64   `json:"seqNoStart"`
	SeqNoEnd      uint64   `json:"seqNoEnd"`
	ViewNo        *uint64  `json:"viewNo"`
	PPSeqNo       *uint64  `json:"ppSeqNo"`
	OldMerkleRoot string   `json:"oldMerkleRoot"`
	NewMerkleRoot string   `json:"newMerkleRoot"`
	Hashes        []string `json:"hashes"`
}

// CatchupReq asks for the transactions [SeqNoStart, SeqNoEnd] of a ledger
// whose target size is CatchupTill.
type CatchupReq struct {
	Op          string `json:"op"`
	LedgerID    int    `json:"ledgerId"`
	SeqNoStart  uint64 `json:"seqNoStart"`
	SeqNoEnd    uint64 `json:"seqNoEnd"`
	CatchupTill uint64 `json:"catchupTill"`
}

// CatchupRep carries transactions keyed by their decimal seqNo.
type CatchupRep struct {
	Op        string                     `json:"op"`
	LedgerID  int                        `json:"ledgerId"`
	Txns      map[string]json.RawMessage `json:"txns"`
	ConsProof []string                   `json:"consProof"`
}

// NewLedgerStatus ...
func NewLedgerStatus(ledgerID int, size uint64, root []byte, protocolVersion int) LedgerStatus {
	return LedgerStatus{
		Op:              OpLedgerStatus,
		LedgerID:        ledgerID,
		TxnSeqNo:        size,
		MerkleRoot:      crypto.Base58Encode(root),
		ProtocolVersion: protocolVersion,
	}
}

// NewCatchupReq ...
func NewCatchupReq(ledgerID int, start, end, till uint64) CatchupReq {
	return CatchupReq{
		Op:          OpCatchupReq,
		LedgerID:    ledgerID,
		SeqNoStart:  start,
		SeqNoEnd:    end,
		CatchupTill: till,
	}
}

// ParseLedgerStatus ...
func ParseLedgerStatus(raw json.RawMessage) (LedgerStatus, error) {
	var ls LedgerStatus
	if err := json.Unmarshal(raw, &ls); err != nil {
		return ls, errors.Wrap(err, "decoding LEDGER_STATUS")
	}
	return ls, nil
}

// ParseConsistencyProof ...
func ParseConsistencyProof(raw json.RawMessage) (ConsistencyProof, error) {
	var cp ConsistencyProof
	if err := json.Unmarshal(raw, &cp); err != nil {
		return cp, errors.Wrap(err, "decoding CONSISTENCY_PROOF")
	}
	return cp, nil
}

// ParseCatchupRep ...
func ParseCatchupRep(raw json.RawMessage) (CatchupRep, error) {
	var cr CatchupRep
	if err := json.Unmarshal(raw, &cr); err != nil {
		return cr, errors.Wrap(err, "decoding CATCHUP_REP")
	}
	return cr, nil
}

// DecodeHashes decodes the base58 hashes of a consistency proof.
func (cp ConsistencyProof) DecodeHashes() ([][]byte, error) {
	res := make([][]byte, 0, len(cp.Hashes))
	for _, h := range cp.Hashes {
		b, err := crypto.Base58Decode(h)
		if err != nil {
			return nil, errors.Wrap(err, "decoding consistency proof hash")
		}
		res = append(res, b)
	}
	return res, nil
}

// Key identifies the claim of a consistency proof, for matching.
func (cp ConsistencyProof) Key() string {
	return strconv.FormatUint(cp.SeqNoStart, 10) + ":" + strconv.FormatUint(cp.SeqNoEnd, 10) + ":" + cp.OldMerkleRoot + ":" + cp.NewMerkleRoot
}

// SortedTxns returns the transactions ordered by seqNo.
func (cr CatchupRep) SortedTxns() ([]uint64, []json.RawMessage, error) {
	seqNos := make([]uint64, 0, len(cr.Txns))
	for k := range cr.Txns {
		n, err := strconv.ParseUint(k, 10, 64)
		if err != nil {
			return nil, nil, errors.Errorf("invalid seqNo %q", k)
		}
		seqNos = append(seqNos, n)
	}
	sort.Slice(seqNos, func(i, j int) bool { return seqNos[i] < seqNos[j] })

	txns := make([]json.RawMessage, 0, len(seqNos))
	for _, n := range seqNos {
		txns = append(txns, cr.Txns[strconv.FormatUint(n, 10)])
	}
	return seqNos, txns, nil
}

// Hash identifies the content of a reply, for matching replies of different
// nodes.
func (cr CatchupRep) Hash() (string, error) {
	canonical, err := CanonicalJSON(map[string]interface{}{
		"ledgerId": cr.LedgerID,
		"txns":     cr.Txns,
	})
	if err != nil {
		return "", err
	}
	return crypto.SHA256Hex(canonical), nil
}
