package sim

import (
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/mosaicnetworks/indypool/src/crypto"
	"github.com/mosaicnetworks/indypool/src/crypto/keys"
	"github.com/mosaicnetworks/indypool/src/proof"
	"github.com/mosaicnetworks/indypool/src/wire"
	"github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// Roles written in NYM transactions.
const (
	RoleTrustee  = "0"
	RoleSteward  = "2"
	RoleEndorser = "101"
)

type taa struct {
	text    string
	version string
	ratTime uint64
}

// SetTAA writes a transaction author agreement to the config ledger. Domain
// writes are then rejected unless they accept it.
func (p *Pool) SetTAA(text, version string) error {
	p.Lock()
	defer p.Unlock()
	op := map[string]interface{}{
		"type":            wire.TXN_AUTHOR_AGREEMENT,
		"text":            text,
		"version":         version,
		"ratification_ts": p.txnTime(),
	}
	if _, _, err := p.appendTxn(wire.ConfigLedger, buildTxn(op, map[string]interface{}{"from": p.trustee}), nil); err != nil {
		return err
	}
	p.taa = &taa{text: text, version: version, ratTime: p.txnTime()}
	return nil
}

// buildTxn moves the type of an operation up and its fields into data.
func buildTxn(op map[string]interface{}, metadata map[string]interface{}) map[string]interface{} {
	data := make(map[string]interface{}, len(op))
	for k, v := range op {
		if k != "type" {
			data[k] = v
		}
	}
	return map[string]interface{}{
		"type":     op["type"],
		"data":     data,
		"metadata": metadata,
	}
}

func encode(v interface{}) []byte {
	b, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return b
}

func reqAck(op string, reqID uint64, identifier, reason string) []byte {
	m := map[string]interface{}{
		"op":         op,
		"reqId":      reqID,
		"identifier": identifier,
	}
	if reason != "" {
		m["reason"] = reason
	}
	return encode(m)
}

func reply(result interface{}) []byte {
	return encode(map[string]interface{}{
		"op":     wire.OpReply,
		"result": result,
	})
}

// handle computes the frames a validator sends back for a frame. The pool
// lock is held.
func (p *Pool) handle(v *Validator, frame []byte) [][]byte {
	if v.fault == Silent || wire.IsPing(frame) {
		return nil
	}
	if !gjson.ValidBytes(frame) {
		p.logger.WithField("node", v.Name).Warn("Dropping invalid frame")
		return nil
	}

	switch op := gjson.GetBytes(frame, "op").String(); op {
	case wire.OpLedgerStatus:
		return p.handleLedgerStatus(frame)
	case wire.OpCatchupReq:
		return p.handleCatchupReq(frame)
	case "":
	default:
		p.logger.WithFields(logrus.Fields{"node": v.Name, "op": op}).Warn("Unexpected op")
		return nil
	}

	res := gjson.GetManyBytes(frame, "reqId", "identifier", "operation.type")
	reqID, identifier, txnType := res[0].Uint(), res[1].String(), res[2].String()
	if reqID == 0 || txnType == "" {
		return [][]byte{reqAck(wire.OpReqNack, reqID, identifier, "client request invalid: missing reqId or operation.type")}
	}
	if v.fault == Nacking {
		return [][]byte{reqAck(wire.OpReqNack, reqID, identifier, fmt.Sprintf("%s refuses requests", v.Name))}
	}

	var (
		result []byte
		err    error
	)
	switch txnType {
	case wire.GET_NYM, wire.GET_ATTR, wire.GET_SCHEMA, wire.GET_CRED_DEF,
		wire.GET_REVOC_REG_DEF, wire.GET_REVOC_REG, wire.GET_REVOC_REG_DELTA:
		result, err = p.stateRead(frame)
	case wire.GET_TXN:
		result, err = p.txnRead(frame)
	case wire.GET_VALIDATOR_INFO:
		result, err = p.validatorInfo(v, frame)
	case wire.POOL_RESTART:
		if reason := p.authorize(frame, RoleTrustee); reason != "" {
			return [][]byte{reqAck(wire.OpReqAck, reqID, identifier, ""), reqAck(wire.OpReject, reqID, identifier, reason)}
		}
		result, err = p.poolRestart(frame)
	case wire.GET_TXN_AUTHOR_AGREEMENT, wire.GET_TAA_AML, wire.GET_AUTH_RULE:
		result, err = p.configRead(frame)
	default:
		if !isWrite(txnType) {
			result, err = p.configRead(frame)
			break
		}
		if reason := p.checkSignature(frame); reason != "" {
			return [][]byte{reqAck(wire.OpReqNack, reqID, identifier, reason)}
		}
		var reason string
		result, reason, err = p.write(frame)
		if reason != "" {
			return [][]byte{reqAck(wire.OpReqAck, reqID, identifier, ""), reqAck(wire.OpReject, reqID, identifier, reason)}
		}
	}
	if err != nil {
		p.logger.WithFields(logrus.Fields{
			"node":   v.Name,
			"req_id": reqID,
			"error":  err,
		}).Error("Handling request")
		return [][]byte{reqAck(wire.OpReqNack, reqID, identifier, err.Error())}
	}

	result = p.misbehave(v, txnType, result)
	return [][]byte{reqAck(wire.OpReqAck, reqID, identifier, ""), reply(json.RawMessage(result))}
}

func isWrite(txnType string) bool {
	switch txnType {
	case wire.NODE, wire.NYM, wire.TXN_AUTHOR_AGREEMENT, wire.TXN_AUTHOR_AGREEMENT_AML,
		wire.ATTRIB, wire.SCHEMA, wire.CRED_DEF, wire.POOL_UPGRADE, wire.POOL_CONFIG,
		wire.REVOC_REG_DEF, wire.REVOC_REG_ENTRY, wire.AUTH_RULE:
		return true
	}
	return false
}

// misbehave applies the fault of a validator to a reply result.
func (p *Pool) misbehave(v *Validator, txnType string, result []byte) []byte {
	switch v.fault {
	case CorruptProof:
		for _, path := range []string{"state_proof.multi_signature.signature", "multiSignature.signature"} {
			sig := gjson.GetBytes(result, path)
			if !sig.Exists() {
				continue
			}
			b, err := crypto.Base58Decode(sig.String())
			if err != nil || len(b) == 0 {
				continue
			}
			b[len(b)-1] ^= 0x01
			result, _ = sjson.SetBytes(result, path, crypto.Base58Encode(b))
		}
	case Divergent:
		if isWrite(txnType) {
			seqNo := gjson.GetBytes(result, "txnMetadata.seqNo").Uint()
			result, _ = sjson.SetBytes(result, "txnMetadata.seqNo", seqNo+1000)
		} else {
			result, _ = sjson.SetBytes(result, "data", "divergent "+v.Name)
		}
	}
	return result
}

func (p *Pool) handleLedgerStatus(frame []byte) [][]byte {
	ls, err := wire.ParseLedgerStatus(frame)
	if err != nil {
		p.logger.WithError(err).Warn("Dropping LEDGER_STATUS")
		return nil
	}
	l, ok := p.ledgers[ls.LedgerID]
	if !ok {
		return nil
	}
	size := l.tree.Size()
	own := wire.NewLedgerStatus(ls.LedgerID, size, l.tree.Root(), wire.DefaultProtocolVersion)

	if ls.TxnSeqNo >= size {
		return [][]byte{encode(own)}
	}
	oldRoot, err := l.tree.RootAt(ls.TxnSeqNo)
	if err != nil || crypto.Base58Encode(oldRoot) != ls.MerkleRoot {
		return [][]byte{encode(own)}
	}
	hashes, err := l.tree.ConsistencyProof(ls.TxnSeqNo, size)
	if err != nil {
		p.logger.WithError(err).Error("Building consistency proof")
		return nil
	}
	cp := wire.ConsistencyProof{
		Op:            wire.OpConsistencyProof,
		LedgerID:      ls.LedgerID,
		SeqNoStart:    ls.TxnSeqNo,
		SeqNoEnd:      size,
		OldMerkleRoot: ls.MerkleRoot,
		NewMerkleRoot: crypto.Base58Encode(l.tree.Root()),
		Hashes:        make([]string, 0, len(hashes)),
	}
	for _, h := range hashes {
		cp.Hashes = append(cp.Hashes, crypto.Base58Encode(h))
	}
	return [][]byte{encode(cp)}
}

func (p *Pool) handleCatchupReq(frame []byte) [][]byte {
	var req wire.CatchupReq
	if err := json.Unmarshal(frame, &req); err != nil {
		p.logger.WithError(err).Warn("Dropping CATCHUP_REQ")
		return nil
	}
	l, ok := p.ledgers[req.LedgerID]
	if !ok || req.SeqNoStart == 0 || req.SeqNoStart > req.SeqNoEnd {
		return nil
	}
	rep := wire.CatchupRep{
		Op:        wire.OpCatchupRep,
		LedgerID:  req.LedgerID,
		Txns:      make(map[string]json.RawMessage),
		ConsProof: []string{},
	}
	for seqNo := req.SeqNoStart; seqNo <= req.SeqNoEnd; seqNo++ {
		txn, ok := l.get(seqNo)
		if !ok {
			break
		}
		rep.Txns[strconv.FormatUint(seqNo, 10)] = txn
	}
	if req.SeqNoEnd < req.CatchupTill && req.CatchupTill <= l.tree.Size() {
		if hashes, err := l.tree.ConsistencyProof(req.SeqNoEnd, req.CatchupTill); err == nil {
			for _, h := range hashes {
				rep.ConsProof = append(rep.ConsProof, crypto.Base58Encode(h))
			}
		}
	}
	return [][]byte{encode(rep)}
}

// checkSignature returns the reason a request fails static validation.
func (p *Pool) checkSignature(frame []byte) string {
	identifier := gjson.GetBytes(frame, "identifier").String()
	verkey, ok := p.state.verkeys[identifier]
	if !ok {
		return fmt.Sprintf("client request invalid: unknown identifier %s", identifier)
	}
	pub, err := keys.ParseVerkey(verkey)
	if err != nil {
		return err.Error()
	}
	sig, err := crypto.Base58Decode(gjson.GetBytes(frame, "signature").String())
	if err != nil || len(sig) == 0 {
		return "client request invalid: missing signature"
	}
	unsigned, _ := sjson.DeleteBytes(frame, "signature")
	unsigned, _ = sjson.DeleteBytes(unsigned, "signatures")
	msg, err := wire.CanonicalJSON(unsigned)
	if err != nil {
		return err.Error()
	}
	if !keys.Verify(pub, msg, sig) {
		return "client request invalid: insufficient number of valid signatures"
	}
	return ""
}

// authorize returns the reason the submitter may not send a request that
// needs one of roles.
func (p *Pool) authorize(frame []byte, roles ...string) string {
	if reason := p.checkSignature(frame); reason != "" {
		return reason
	}
	identifier := gjson.GetBytes(frame, "identifier").String()
	role := p.roleOf(identifier)
	for _, r := range roles {
		if role == r {
			return ""
		}
	}
	return fmt.Sprintf("%s is not authorized to send %s", identifier, gjson.GetBytes(frame, "operation.type").String())
}

func (p *Pool) roleOf(did string) string {
	v, _, ok := p.state.get(nymKey(did))
	if !ok {
		return ""
	}
	return gjson.Get(gjson.ParseBytes(v.data).String(), "role").String()
}

// write orders a transaction, or returns the result it was ordered with
// before. A non-empty reason rejects the request.
func (p *Pool) write(frame []byte) ([]byte, string, error) {
	res := gjson.GetManyBytes(frame, "reqId", "identifier", "operation", "signature", "taaAcceptance.taaDigest")
	reqID, identifier := res[0].Uint(), res[1].String()

	key := identifier + ":" + strconv.FormatUint(reqID, 10)
	if r, ok := p.applied[key]; ok {
		return r, "", nil
	}

	doc, err := wire.DecodeJSON([]byte(res[2].Raw))
	if err != nil {
		return nil, "", err
	}
	op, ok := doc.(map[string]interface{})
	if !ok {
		return nil, "", fmt.Errorf("operation is not an object")
	}
	txnType, _ := op["type"].(string)
	ledgerID := wire.LedgerOf(txnType, wire.DomainLedger)

	switch txnType {
	case wire.NODE:
		return nil, "NODE transactions are only written by the pool", nil
	case wire.NYM:
		dest, _ := op["dest"].(string)
		if dest == "" {
			return nil, "NYM without dest", nil
		}
		_, _, exists := p.state.get(nymKey(dest))
		role := p.roleOf(identifier)
		if !(exists && dest == identifier) && role != RoleTrustee && role != RoleSteward && role != RoleEndorser {
			return nil, fmt.Sprintf("%s is not authorized to write NYM", identifier), nil
		}
	case wire.TXN_AUTHOR_AGREEMENT, wire.TXN_AUTHOR_AGREEMENT_AML, wire.POOL_CONFIG, wire.POOL_UPGRADE, wire.AUTH_RULE:
		if p.roleOf(identifier) != RoleTrustee {
			return nil, fmt.Sprintf("%s is not authorized to write config transactions", identifier), nil
		}
	}

	if ledgerID == wire.DomainLedger && p.taa != nil {
		if res[4].String() != wire.TAADigest(p.taa.text, p.taa.version) {
			return nil, "Txn Author Agreement acceptance is required", nil
		}
	}

	signing, _ := sjson.DeleteBytes(frame, "signature")
	signing, _ = sjson.DeleteBytes(signing, "signatures")
	canonical, err := wire.CanonicalJSON(signing)
	if err != nil {
		return nil, "", err
	}
	metadata := map[string]interface{}{
		"reqId":  reqID,
		"from":   identifier,
		"digest": crypto.SHA256Hex(canonical),
	}
	if taa := gjson.GetBytes(frame, "taaAcceptance"); taa.Exists() {
		metadata["taaAcceptance"] = json.RawMessage(taa.Raw)
	}
	reqSignature := map[string]interface{}{
		"type":   "ED25519",
		"values": []map[string]string{{"from": identifier, "value": res[3].String()}},
	}

	l := p.ledgers[ledgerID]
	txnTime := p.txnTime()
	record, err := l.append(buildTxn(op, metadata), reqSignature, txnTime)
	if err != nil {
		return nil, "", err
	}
	if err := p.applyState(identifier, op, l.tree.Size(), txnTime); err != nil {
		return nil, "", err
	}
	if txnType == wire.TXN_AUTHOR_AGREEMENT {
		text, _ := op["text"].(string)
		version, _ := op["version"].(string)
		p.taa = &taa{text: text, version: version, ratTime: txnTime}
	}

	p.applied[key] = record
	return record, "", nil
}

func (p *Pool) stateRead(frame []byte) ([]byte, error) {
	res := gjson.GetManyBytes(frame, "reqId", "identifier", "operation")
	op := res[2]
	txnType := op.Get("type").String()

	result := map[string]interface{}{
		"type":       txnType,
		"reqId":      res[0].Uint(),
		"identifier": res[1].String(),
		"seqNo":      nil,
		"txnTime":    nil,
		"data":       nil,
	}

	var key string
	switch txnType {
	case wire.GET_NYM:
		result["dest"] = op.Get("dest").String()
		key = nymKey(op.Get("dest").String())
	case wire.GET_ATTR:
		result["dest"] = op.Get("dest").String()
		result["raw"] = op.Get("raw").String()
		key = attrKey(op.Get("dest").String(), op.Get("raw").String())
	case wire.GET_SCHEMA:
		result["dest"] = op.Get("dest").String()
		key = schemaKey(op.Get("dest").String(), op.Get("data.name").String(), op.Get("data.version").String())
	case wire.GET_CRED_DEF:
		result["origin"] = op.Get("origin").String()
		result["ref"] = op.Get("ref").Value()
		result["signature_type"] = op.Get("signature_type").String()
		result["tag"] = op.Get("tag").String()
		key = credDefKey(op.Get("origin").String(), op.Get("ref").String(), op.Get("signature_type").String(), op.Get("tag").String())
	}

	timestamp := p.ledgers[wire.DomainLedger].lastTxnTime
	v, index, found := p.state.get(key)
	var (
		sp  *wire.V0StateProof
		err error
	)
	if found {
		result["seqNo"] = v.seqNo
		result["txnTime"] = v.txnTime
		result["data"] = json.RawMessage(v.data)
		sp, err = proof.NewV0StateProof(p.state.tree, index, wire.DomainLedger, timestamp, p.signers())
	} else {
		sp, err = proof.NewV0RootProof(p.state.tree.Root(), wire.DomainLedger, timestamp, p.signers())
	}
	if err != nil {
		return nil, err
	}
	result["state_proof"] = sp
	return json.Marshal(result)
}

func (p *Pool) txnRead(frame []byte) ([]byte, error) {
	res := gjson.GetManyBytes(frame, "reqId", "identifier", "operation.ledgerId", "operation.data")
	ledgerID := wire.DomainLedger
	if res[2].Exists() {
		ledgerID = int(res[2].Int())
	}
	l, ok := p.ledgers[ledgerID]
	if !ok {
		return nil, fmt.Errorf("unknown ledger %d", ledgerID)
	}
	timestamp := l.lastTxnTime

	txn, found := l.get(res[3].Uint())
	if !found {
		pr, err := proof.NewV1RootProof(l.tree, ledgerID, timestamp, p.signers())
		if err != nil {
			return nil, err
		}
		return json.Marshal(map[string]interface{}{
			"ver":            "1",
			"reqId":          res[0].Uint(),
			"identifier":     res[1].String(),
			"txn":            nil,
			"txnMetadata":    map[string]interface{}{},
			"rootHash":       pr.RootHash,
			"auditPath":      pr.AuditPath,
			"multiSignature": pr.MultiSignature,
		})
	}

	pr, err := proof.NewV1Proof(l.tree, res[3].Uint(), ledgerID, timestamp, p.signers())
	if err != nil {
		return nil, err
	}
	result := []byte(txn)
	for path, value := range map[string]interface{}{
		"reqId":          res[0].Uint(),
		"identifier":     res[1].String(),
		"rootHash":       pr.RootHash,
		"auditPath":      pr.AuditPath,
		"multiSignature": pr.MultiSignature,
	} {
		if result, err = sjson.SetBytes(result, path, value); err != nil {
			return nil, err
		}
	}
	return result, nil
}

func (p *Pool) configRead(frame []byte) ([]byte, error) {
	res := gjson.GetManyBytes(frame, "reqId", "identifier", "operation.type")
	result := map[string]interface{}{
		"type":       res[2].String(),
		"reqId":      res[0].Uint(),
		"identifier": res[1].String(),
		"seqNo":      nil,
		"txnTime":    nil,
		"data":       nil,
	}
	if res[2].String() == wire.GET_TXN_AUTHOR_AGREEMENT && p.taa != nil {
		result["data"] = map[string]interface{}{
			"text":            p.taa.text,
			"version":         p.taa.version,
			"digest":          wire.TAADigest(p.taa.text, p.taa.version),
			"ratification_ts": p.taa.ratTime,
		}
		result["txnTime"] = p.taa.ratTime
	}
	return json.Marshal(result)
}

func (p *Pool) validatorInfo(v *Validator, frame []byte) ([]byte, error) {
	res := gjson.GetManyBytes(frame, "reqId", "identifier")
	ledgers := make(map[string]interface{}, len(p.ledgers))
	for id, l := range p.ledgers {
		ledgers[strconv.Itoa(id)] = map[string]interface{}{
			"size": l.tree.Size(),
			"root": crypto.Base58Encode(l.tree.Root()),
		}
	}
	return json.Marshal(map[string]interface{}{
		"type":       wire.GET_VALIDATOR_INFO,
		"reqId":      res[0].Uint(),
		"identifier": res[1].String(),
		"data": map[string]interface{}{
			"alias":     v.Name,
			"timestamp": p.txnTime(),
			"Node_info": map[string]interface{}{
				"Name":      v.Name,
				"Mode":      "participating",
				"Client_ip": v.Address,
				"Ledgers":   ledgers,
			},
		},
	})
}

func (p *Pool) poolRestart(frame []byte) ([]byte, error) {
	res := gjson.GetManyBytes(frame, "reqId", "identifier", "operation.action", "operation.datetime")
	return json.Marshal(map[string]interface{}{
		"type":       wire.POOL_RESTART,
		"reqId":      res[0].Uint(),
		"identifier": res[1].String(),
		"action":     res[2].String(),
		"datetime":   res[3].String(),
	})
}
