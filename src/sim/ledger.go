package sim

import (
	"encoding/json"
	"strconv"
	"strings"

	"github.com/mosaicnetworks/indypool/src/crypto"
	"github.com/mosaicnetworks/indypool/src/crypto/keys"
	"github.com/mosaicnetworks/indypool/src/merkle"
	"github.com/mosaicnetworks/indypool/src/wire"
	"github.com/pkg/errors"
	"github.com/tidwall/gjson"
)

type ledger struct {
	tree        *merkle.Tree
	txns        []json.RawMessage
	lastTxnTime uint64
}

func newLedger() *ledger {
	return &ledger{tree: merkle.New()}
}

// append stores txn as the next record of the ledger.
func (l *ledger) append(txn map[string]interface{}, reqSignature map[string]interface{}, txnTime uint64) (json.RawMessage, error) {
	if reqSignature == nil {
		reqSignature = map[string]interface{}{}
	}
	seqNo := l.tree.Size() + 1
	record := map[string]interface{}{
		"ver": "1",
		"txn": txn,
		"txnMetadata": map[string]interface{}{
			"seqNo":   seqNo,
			"txnTime": txnTime,
			"txnId":   crypto.SHA256Hex([]byte(strconv.FormatUint(seqNo, 10)), []byte(strconv.FormatUint(txnTime, 10))),
		},
		"reqSignature": reqSignature,
	}
	raw, err := wire.CanonicalJSON(record)
	if err != nil {
		return nil, err
	}
	leaf, err := wire.TxnLeaf(raw)
	if err != nil {
		return nil, err
	}
	l.tree.Append(leaf)
	l.txns = append(l.txns, raw)
	l.lastTxnTime = txnTime
	return raw, nil
}

func (l *ledger) get(seqNo uint64) (json.RawMessage, bool) {
	if seqNo == 0 || seqNo > uint64(len(l.txns)) {
		return nil, false
	}
	return l.txns[seqNo-1], true
}

func (p *Pool) appendTxn(ledgerID int, txn map[string]interface{}, reqSignature map[string]interface{}) (uint64, uint64, error) {
	l := p.ledgers[ledgerID]
	txnTime := p.txnTime()
	if _, err := l.append(txn, reqSignature, txnTime); err != nil {
		return 0, 0, err
	}
	return l.tree.Size(), txnTime, nil
}

type stateValue struct {
	data     json.RawMessage
	isObject bool
	seqNo    uint64
	txnTime  uint64
}

// stateTree is the domain state. Every update appends the new value as a
// leaf; the latest leaf of a key is its current value.
type stateTree struct {
	tree    *merkle.Tree
	index   map[string]uint64
	values  map[string]stateValue
	verkeys map[string]string
}

func newStateTree() *stateTree {
	return &stateTree{
		tree:    merkle.New(),
		index:   make(map[string]uint64),
		values:  make(map[string]stateValue),
		verkeys: make(map[string]string),
	}
}

func (s *stateTree) set(key string, v stateValue) {
	leaf := []byte(v.data)
	if !v.isObject {
		leaf = []byte(gjson.ParseBytes(v.data).String())
	}
	s.index[key] = s.tree.Size()
	s.tree.Append(leaf)
	s.values[key] = v
}

func (s *stateTree) get(key string) (stateValue, uint64, bool) {
	v, ok := s.values[key]
	if !ok {
		return stateValue{}, 0, false
	}
	return v, s.index[key], true
}

func nymKey(dest string) string {
	return "nym:" + dest
}

func attrKey(dest, name string) string {
	return "attr:" + dest + ":" + name
}

func schemaKey(dest, name, version string) string {
	return "schema:" + dest + ":" + name + ":" + version
}

func credDefKey(origin, ref, sigType, tag string) string {
	return "creddef:" + origin + ":" + ref + ":" + sigType + ":" + tag
}

// applyState updates the domain state with a written operation.
func (p *Pool) applyState(from string, op map[string]interface{}, seqNo, txnTime uint64) error {
	str := func(k string) string {
		s, _ := op[k].(string)
		return s
	}

	switch str("type") {
	case wire.NYM:
		dest := str("dest")
		verkey := str("verkey")
		role := op["role"]
		if old, _, ok := p.state.get(nymKey(dest)); ok {
			prev := gjson.Parse(gjson.ParseBytes(old.data).String())
			if verkey == "" {
				verkey = prev.Get("verkey").String()
			}
			if _, set := op["role"]; !set {
				role = prev.Get("role").Value()
			}
		}
		identifier := from
		if identifier == "" {
			identifier = dest
		}
		data, err := wire.CanonicalJSON(map[string]interface{}{
			"dest":       dest,
			"identifier": identifier,
			"role":       role,
			"seqNo":      seqNo,
			"txnTime":    txnTime,
			"verkey":     verkey,
		})
		if err != nil {
			return err
		}
		quoted, err := json.Marshal(string(data))
		if err != nil {
			return err
		}
		p.state.set(nymKey(dest), stateValue{data: quoted, seqNo: seqNo, txnTime: txnTime})
		if verkey != "" {
			full, err := fullVerkey(dest, verkey)
			if err != nil {
				return err
			}
			p.state.verkeys[dest] = full
		}
	case wire.ATTRIB:
		raw := str("raw")
		var name string
		gjson.Parse(raw).ForEach(func(k, _ gjson.Result) bool {
			name = k.String()
			return false
		})
		if name == "" {
			return errors.New("ATTRIB without raw attribute")
		}
		data, err := json.Marshal(raw)
		if err != nil {
			return err
		}
		p.state.set(attrKey(str("dest"), name), stateValue{data: data, seqNo: seqNo, txnTime: txnTime})
	case wire.SCHEMA:
		data, err := wire.CanonicalJSON(op["data"])
		if err != nil {
			return err
		}
		res := gjson.ParseBytes(data)
		p.state.set(schemaKey(from, res.Get("name").String(), res.Get("version").String()),
			stateValue{data: data, isObject: true, seqNo: seqNo, txnTime: txnTime})
	case wire.CRED_DEF:
		data, err := wire.CanonicalJSON(op["data"])
		if err != nil {
			return err
		}
		ref := gjson.Parse(mustJSON(op["ref"])).String()
		p.state.set(credDefKey(from, ref, str("signature_type"), str("tag")),
			stateValue{data: data, isObject: true, seqNo: seqNo, txnTime: txnTime})
	}
	return nil
}

func mustJSON(v interface{}) string {
	b, _ := json.Marshal(v)
	return string(b)
}

// fullVerkey expands an abbreviated verkey, "~" followed by the last 16
// bytes, with the DID holding the first 16.
func fullVerkey(did, verkey string) (string, error) {
	if !strings.HasPrefix(verkey, "~") {
		return verkey, nil
	}
	head, err := crypto.Base58Decode(did)
	if err != nil {
		return "", err
	}
	tail, err := crypto.Base58Decode(verkey[1:])
	if err != nil {
		return "", err
	}
	full := append(head, tail...)
	if _, err := keys.ParseVerkey(crypto.Base58Encode(full)); err != nil {
		return "", err
	}
	return crypto.Base58Encode(full), nil
}
