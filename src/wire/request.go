package wire

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/mosaicnetworks/indypool/src/crypto"
	"github.com/pkg/errors"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// Request is the envelope of every transaction sent to the pool. Operation is
// kept as canonical JSON and is otherwise opaque.
type Request struct {
	Identifier      string            `json:"identifier,omitempty"`
	Endorser        string            `json:"endorser,omitempty"`
	ReqID           uint64            `json:"reqId"`
	Operation       json.RawMessage   `json:"operation"`
	ProtocolVersion int               `json:"protocolVersion"`
	Signature       string            `json:"signature,omitempty"`
	Signatures      map[string]string `json:"signatures,omitempty"`
	TAAAcceptance   *TAAAcceptance    `json:"taaAcceptance,omitempty"`
}

// TAAAcceptance is the transaction author agreement metadata of a write.
type TAAAcceptance struct {
	Mechanism string `json:"mechanism"`
	TAADigest string `json:"taaDigest"`
	Time      int64  `json:"time"`
}

// Signer signs bytes on behalf of a DID. The wallet implements it.
type Signer interface {
	Sign(did string, msg []byte) ([]byte, error)
}

// NewRequest builds a request with a fresh id.
func NewRequest(identifier string, operation interface{}, protocolVersion int) (*Request, error) {
	op, err := CanonicalJSON(operation)
	if err != nil {
		return nil, errors.Wrap(err, "encoding operation")
	}
	if !gjson.GetBytes(op, "type").Exists() {
		return nil, errors.New("operation has no type")
	}
	return &Request{
		Identifier:      identifier,
		ReqID:           NewReqID(),
		Operation:       op,
		ProtocolVersion: protocolVersion,
	}, nil
}

// NewReqID returns a request id unique enough to multiplex requests over a
// connection.
func NewReqID() uint64 {
	return uint64(time.Now().UnixNano()/int64(time.Microsecond))<<8 | uint64(uuid.New().ID()&0xff)
}

// Type returns operation.type.
func (r *Request) Type() string {
	return gjson.GetBytes(r.Operation, "type").String()
}

// SigningBytes returns the canonical JSON of the request without signatures.
func (r *Request) SigningBytes() ([]byte, error) {
	unsigned := *r
	unsigned.Signature = ""
	unsigned.Signatures = nil
	return CanonicalJSON(unsigned)
}

// Sign attaches the base58 signature of the submitter.
func (r *Request) Sign(signer Signer) error {
	msg, err := r.SigningBytes()
	if err != nil {
		return err
	}
	sig, err := signer.Sign(r.Identifier, msg)
	if err != nil {
		return errors.Wrapf(err, "signing request %d", r.ReqID)
	}
	r.Signature = crypto.Base58Encode(sig)
	return nil
}

// MultiSign adds the signature of did to the signatures map, used when an
// endorser co-signs a request.
func (r *Request) MultiSign(did string, signer Signer) error {
	msg, err := r.SigningBytes()
	if err != nil {
		return err
	}
	sig, err := signer.Sign(did, msg)
	if err != nil {
		return errors.Wrapf(err, "signing request %d as %s", r.ReqID, did)
	}
	if r.Signatures == nil {
		r.Signatures = make(map[string]string)
	}
	r.Signatures[did] = crypto.Base58Encode(sig)
	return nil
}

// AttachTAA sets the acceptance of the agreement identified by text and
// version. The acceptance time is rounded down to the day.
func (r *Request) AttachTAA(text, version, mechanism string, acceptedAt time.Time) {
	r.TAAAcceptance = NewTAAAcceptance(text, version, mechanism, acceptedAt)
}

// Encode returns the canonical JSON of the request.
func (r *Request) Encode() ([]byte, error) {
	return CanonicalJSON(r)
}

// ParseRequest decodes a request and canonicalizes its operation.
func ParseRequest(data []byte) (*Request, error) {
	var r Request
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, errors.Wrap(err, "decoding request")
	}
	if len(r.Operation) == 0 {
		return nil, errors.New("request has no operation")
	}
	op, err := CanonicalJSON(r.Operation)
	if err != nil {
		return nil, errors.Wrap(err, "decoding operation")
	}
	r.Operation = op
	return &r, nil
}

// NewTAAAcceptance ...
func NewTAAAcceptance(text, version, mechanism string, acceptedAt time.Time) *TAAAcceptance {
	return &TAAAcceptance{
		Mechanism: mechanism,
		TAADigest: TAADigest(text, version),
		Time:      acceptedAt.UTC().Truncate(24 * time.Hour).Unix(),
	}
}

// TAADigest is the hex SHA256 of version || text.
func TAADigest(text, version string) string {
	return crypto.SHA256Hex([]byte(version), []byte(text))
}

// RequestInfo is what the pool needs to know about a caller-built request.
type RequestInfo struct {
	ReqID      uint64
	Type       string
	Identifier string
	LedgerID   int
}

// ProbeRequest extracts the routing fields of a request without decoding the
// operation body.
func ProbeRequest(body []byte) (RequestInfo, error) {
	if !gjson.ValidBytes(body) {
		return RequestInfo{}, errors.New("request is not valid JSON")
	}
	res := gjson.GetManyBytes(body, "reqId", "operation.type", "identifier", "operation.ledgerId")
	if !res[0].Exists() || res[0].Uint() == 0 {
		return RequestInfo{}, errors.New("request has no reqId")
	}
	if !res[1].Exists() {
		return RequestInfo{}, errors.New("request has no operation.type")
	}
	info := RequestInfo{
		ReqID:      res[0].Uint(),
		Type:       res[1].String(),
		Identifier: res[2].String(),
		LedgerID:   DomainLedger,
	}
	if res[3].Exists() {
		info.LedgerID = int(res[3].Int())
	}
	return info, nil
}

// SignRequestJSON signs a request given as JSON, preserving fields unknown to
// Request.
func SignRequestJSON(body []byte, signer Signer) ([]byte, error) {
	unsigned, err := sjson.DeleteBytes(body, "signature")
	if err != nil {
		return nil, err
	}
	unsigned, err = sjson.DeleteBytes(unsigned, "signatures")
	if err != nil {
		return nil, err
	}
	msg, err := CanonicalJSON(unsigned)
	if err != nil {
		return nil, err
	}
	did := gjson.GetBytes(body, "identifier").String()
	sig, err := signer.Sign(did, msg)
	if err != nil {
		return nil, errors.Wrapf(err, "signing as %s", did)
	}
	return sjson.SetBytes(body, "signature", crypto.Base58Encode(sig))
}

// AppendTAAJSON sets taaAcceptance on a request given as JSON. It must be
// called before signing.
func AppendTAAJSON(body []byte, acceptance *TAAAcceptance) ([]byte, error) {
	return sjson.SetBytes(body, "taaAcceptance", acceptance)
}
