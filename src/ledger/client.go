package ledger

import (
	"context"
	"encoding/json"
	"time"

	"github.com/mosaicnetworks/indypool/src/common"
	"github.com/mosaicnetworks/indypool/src/wire"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"
)

// Pool is the part of a pool handle used by Client. *pool.Pool implements
// it.
type Pool interface {
	Submit(ctx context.Context, body []byte) ([]byte, error)
	SubmitAction(ctx context.Context, body []byte, nodes []string, timeout time.Duration) (map[string]json.RawMessage, error)
}

// Config ...
type Config struct {
	ProtocolVersion int

	// TAAText and TAAVersion identify the agreement accepted on every domain
	// write. Empty values attach nothing.
	TAAText      string
	TAAVersion   string
	TAAMechanism string
}

// Client builds, signs and submits ledger requests.
type Client struct {
	pool   Pool
	signer wire.Signer
	conf   Config
	now    func() time.Time
	logger *logrus.Entry
}

// NewClient returns a client submitting to pool. signer is only needed for
// writes and actions.
func NewClient(pool Pool, signer wire.Signer, conf Config, logger *logrus.Entry) *Client {
	if conf.ProtocolVersion == 0 {
		conf.ProtocolVersion = wire.DefaultProtocolVersion
	}
	if logger == nil {
		log := logrus.New()
		log.Level = logrus.DebugLevel
		logger = logrus.NewEntry(log)
	}
	return &Client{
		pool:   pool,
		signer: signer,
		conf:   conf,
		now:    time.Now,
		logger: logger,
	}
}

// SetTAA replaces the accepted agreement.
func (c *Client) SetTAA(text, version, mechanism string) {
	c.conf.TAAText = text
	c.conf.TAAVersion = version
	c.conf.TAAMechanism = mechanism
}

// Reply is the result of an agreed REPLY.
type Reply struct {
	Result   json.RawMessage
	Metadata wire.ResponseMetadata
}

// Data returns result.data. Strings, which is how most reads encode their
// value, are unquoted.
func (r *Reply) Data() json.RawMessage {
	d := gjson.GetBytes(r.Result, "data")
	if !d.Exists() || d.Type == gjson.Null {
		return nil
	}
	if d.Type == gjson.String {
		return json.RawMessage(d.String())
	}
	return json.RawMessage(d.Raw)
}

// Found reports whether a read returned a value.
func (r *Reply) Found() bool {
	return r.Data() != nil
}

func (c *Client) build(did string, op interface{}) (*wire.Request, error) {
	r, err := wire.NewRequest(did, op, c.conf.ProtocolVersion)
	if err != nil {
		return nil, common.WrapPoolErr(common.InvalidTransaction, err, "building request")
	}
	return r, nil
}

func (c *Client) sign(r *wire.Request) error {
	if c.signer == nil {
		return common.NewPoolErr(common.WalletError, "no signer")
	}
	if err := r.Sign(c.signer); err != nil {
		return common.WrapPoolErr(common.WalletError, err, "signing request")
	}
	return nil
}

func (c *Client) submit(ctx context.Context, r *wire.Request) (*Reply, error) {
	body, err := r.Encode()
	if err != nil {
		return nil, common.WrapPoolErr(common.InvalidTransaction, err, "encoding request")
	}

	c.logger.WithFields(logrus.Fields{
		"req_id": r.ReqID,
		"type":   r.Type(),
	}).Debug("Submit")

	raw, err := c.pool.Submit(ctx, body)
	if err != nil {
		return nil, err
	}
	return parseReply(raw)
}

func parseReply(raw []byte) (*Reply, error) {
	m, err := wire.ParseMessage(raw)
	if err != nil {
		return nil, common.WrapPoolErr(common.InvalidTransaction, err, "decoding reply")
	}
	if m.Op != wire.OpReply {
		return nil, common.NewPoolErrf(common.InvalidTransaction, "unexpected %s", m.Op)
	}
	md, err := wire.ParseResponseMetadata(m.Result)
	if err != nil {
		return nil, common.WrapPoolErr(common.InvalidTransaction, err, "decoding reply metadata")
	}
	return &Reply{Result: m.Result, Metadata: md}, nil
}

// Read submits an unsigned read.
func (c *Client) Read(ctx context.Context, did string, op interface{}) (*Reply, error) {
	r, err := c.build(did, op)
	if err != nil {
		return nil, err
	}
	return c.submit(ctx, r)
}

// Write signs and submits a write, accepting the configured agreement when
// the write goes to the domain ledger.
func (c *Client) Write(ctx context.Context, did string, op interface{}) (*Reply, error) {
	r, err := c.build(did, op)
	if err != nil {
		return nil, err
	}
	if c.conf.TAAText != "" || c.conf.TAAVersion != "" {
		if wire.LedgerOf(r.Type(), wire.DomainLedger) == wire.DomainLedger {
			r.AttachTAA(c.conf.TAAText, c.conf.TAAVersion, c.conf.TAAMechanism, c.now())
		}
	}
	if err := c.sign(r); err != nil {
		return nil, err
	}
	return c.submit(ctx, r)
}

// Action signs op and sends it to nodes, or to every validator.
func (c *Client) Action(ctx context.Context, did string, op interface{}, nodes []string, timeout time.Duration) (map[string]json.RawMessage, error) {
	r, err := c.build(did, op)
	if err != nil {
		return nil, err
	}
	if err := c.sign(r); err != nil {
		return nil, err
	}
	body, err := r.Encode()
	if err != nil {
		return nil, common.WrapPoolErr(common.InvalidTransaction, err, "encoding request")
	}
	return c.pool.SubmitAction(ctx, body, nodes, timeout)
}

// FetchTAA reads the active agreement from the config ledger and accepts it
// with mechanism. It reports whether the pool has an agreement.
func (c *Client) FetchTAA(ctx context.Context, did, mechanism string) (bool, error) {
	reply, err := c.Read(ctx, did, map[string]interface{}{
		"type": wire.GET_TXN_AUTHOR_AGREEMENT,
	})
	if err != nil {
		return false, err
	}
	data := reply.Data()
	if data == nil {
		c.SetTAA("", "", "")
		return false, nil
	}
	res := gjson.GetManyBytes(data, "text", "version", "digest")
	if d := res[2].String(); d != "" && d != wire.TAADigest(res[0].String(), res[1].String()) {
		return false, common.WrapPoolErr(common.InvalidTransaction, errors.New("digest mismatch"), "agreement")
	}
	c.SetTAA(res[0].String(), res[1].String(), mechanism)
	return true, nil
}
