package wire

import (
	"encoding/json"

	"github.com/pkg/errors"
	"github.com/tidwall/gjson"
)

// Message is a decoded node frame. Only the envelope is interpreted; Result
// and Raw keep the original JSON.
type Message struct {
	Op         string
	ReqID      uint64
	Identifier string
	Reason     string
	LedgerID   int
	Result     json.RawMessage
	Raw        json.RawMessage
}

// IsPing reports frames that carry no message at all.
func IsPing(frame []byte) bool {
	s := string(frame)
	return s == Ping || s == Pong
}

// ParseMessage decodes a node frame, JSON or msgpack, and dispatches on op.
func ParseMessage(frame []byte) (*Message, error) {
	raw, err := DecodeFrame(frame)
	if err != nil {
		return nil, err
	}
	if !gjson.ValidBytes(raw) {
		return nil, errors.New("invalid JSON frame")
	}

	m := &Message{
		Op:  gjson.GetBytes(raw, "op").String(),
		Raw: json.RawMessage(raw),
	}

	switch m.Op {
	case OpReqAck, OpReqNack, OpReject:
		res := gjson.GetManyBytes(raw, "reqId", "identifier", "reason")
		if !res[0].Exists() {
			return nil, errors.Errorf("%s without reqId", m.Op)
		}
		m.ReqID = res[0].Uint()
		m.Identifier = res[1].String()
		m.Reason = res[2].String()
	case OpReply:
		result := gjson.GetBytes(raw, "result")
		if !result.IsObject() {
			return nil, errors.New("REPLY without result")
		}
		m.Result = json.RawMessage(result.Raw)
		reqID := result.Get("reqId")
		if !reqID.Exists() {
			reqID = result.Get("txn.metadata.reqId")
		}
		if !reqID.Exists() {
			return nil, errors.New("REPLY without reqId")
		}
		m.ReqID = reqID.Uint()
		m.Identifier = result.Get("identifier").String()
		if m.Identifier == "" {
			m.Identifier = result.Get("txn.metadata.from").String()
		}
	case OpLedgerStatus, OpConsistencyProof, OpCatchupRep:
		ledgerID := gjson.GetBytes(raw, "ledgerId")
		if !ledgerID.Exists() {
			return nil, errors.Errorf("%s without ledgerId", m.Op)
		}
		m.LedgerID = int(ledgerID.Int())
	case "":
		return nil, errors.New("message without op")
	default:
		return nil, errors.Errorf("unknown op %q", m.Op)
	}

	return m, nil
}
