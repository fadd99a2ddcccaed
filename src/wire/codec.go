package wire

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"reflect"
	"strconv"

	"github.com/ugorji/go/codec"
)

var msgpackHandle = newMsgpackHandle()

func newMsgpackHandle() *codec.MsgpackHandle {
	mh := new(codec.MsgpackHandle)
	mh.Canonical = true
	mh.WriteExt = true
	mh.RawToString = true
	mh.MapType = reflect.TypeOf(map[string]interface{}(nil))
	return mh
}

// MsgpackEncode encodes v with sorted map keys, which is the leaf encoding of
// ledger transactions.
func MsgpackEncode(v interface{}) ([]byte, error) {
	var b []byte
	enc := codec.NewEncoderBytes(&b, msgpackHandle)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return b, nil
}

// MsgpackDecode ...
func MsgpackDecode(data []byte, v interface{}) error {
	dec := codec.NewDecoderBytes(data, msgpackHandle)
	return dec.Decode(v)
}

// DecodeJSON decodes JSON keeping integers exact. Objects become
// map[string]interface{}, integral numbers int64 or uint64, others float64.
func DecodeJSON(data []byte) (interface{}, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var v interface{}
	if err := dec.Decode(&v); err != nil {
		return nil, err
	}
	if dec.More() {
		return nil, fmt.Errorf("trailing data after JSON value")
	}
	return normalizeNumbers(v), nil
}

func normalizeNumbers(v interface{}) interface{} {
	switch t := v.(type) {
	case map[string]interface{}:
		for k, e := range t {
			t[k] = normalizeNumbers(e)
		}
		return t
	case []interface{}:
		for i, e := range t {
			t[i] = normalizeNumbers(e)
		}
		return t
	case json.Number:
		if i, err := strconv.ParseInt(string(t), 10, 64); err == nil {
			return i
		}
		if u, err := strconv.ParseUint(string(t), 10, 64); err == nil {
			return u
		}
		f, err := t.Float64()
		if err != nil || math.IsInf(f, 0) {
			return string(t)
		}
		return f
	default:
		return v
	}
}

// CanonicalJSON returns the compact encoding of v with sorted object keys.
// json.RawMessage and []byte inputs are treated as JSON documents and
// re-encoded.
func CanonicalJSON(v interface{}) ([]byte, error) {
	var doc interface{}
	switch t := v.(type) {
	case json.RawMessage:
		d, err := DecodeJSON(t)
		if err != nil {
			return nil, err
		}
		doc = d
	case []byte:
		d, err := DecodeJSON(t)
		if err != nil {
			return nil, err
		}
		doc = d
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return nil, err
		}
		d, err := DecodeJSON(b)
		if err != nil {
			return nil, err
		}
		doc = d
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(doc); err != nil {
		return nil, err
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

// TxnLeaf returns the Merkle leaf data of a ledger transaction given as JSON.
func TxnLeaf(txn json.RawMessage) ([]byte, error) {
	doc, err := DecodeJSON(txn)
	if err != nil {
		return nil, err
	}
	return MsgpackEncode(doc)
}

// DecodeFrame returns the JSON form of a node frame. Frames that do not start
// with '{' are decoded as msgpack.
func DecodeFrame(frame []byte) ([]byte, error) {
	trimmed := bytes.TrimLeft(frame, " \t\r\n")
	if len(trimmed) == 0 {
		return nil, fmt.Errorf("empty frame")
	}
	if trimmed[0] == '{' {
		return trimmed, nil
	}

	var doc interface{}
	if err := MsgpackDecode(frame, &doc); err != nil {
		return nil, fmt.Errorf("frame is neither JSON nor msgpack: %v", err)
	}
	if _, ok := doc.(map[string]interface{}); !ok {
		return nil, fmt.Errorf("msgpack frame is not a map")
	}
	return json.Marshal(doc)
}
