package ledger

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/mosaicnetworks/indypool/src/common"
	"github.com/mosaicnetworks/indypool/src/config"
	"github.com/mosaicnetworks/indypool/src/net"
	"github.com/mosaicnetworks/indypool/src/pool"
	"github.com/mosaicnetworks/indypool/src/request"
	"github.com/mosaicnetworks/indypool/src/sim"
	"github.com/mosaicnetworks/indypool/src/wallet"
	"github.com/mosaicnetworks/indypool/src/wire"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
)

type testEnv struct {
	sim     *sim.Pool
	pool    *pool.Pool
	wallet  *wallet.LevelDBWallet
	client  *Client
	trustee string
}

func initEnv(t *testing.T) *testEnv {
	logger := common.NewTestEntry(t, logrus.DebugLevel)

	sp, err := sim.NewPool(4, logger)
	require.NoError(t, err)

	conf := config.NewTestConfig(t, logrus.DebugLevel)
	conf.AckTimeout = 2 * time.Second
	conf.ReplyTimeout = 2 * time.Second
	conf.RefreshInterval = 0

	trans := net.NewInmemTransport(64)
	sp.Connect(trans)
	p, err := pool.New(conf, sp.Genesis(), trans, nil, logger)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	require.NoError(t, p.Open(ctx))

	w := wallet.NewInmemWallet()
	trustee, _, err := w.CreateDID([]byte(sim.TrusteeSeed))
	require.NoError(t, err)
	require.Equal(t, sp.Trustee(), trustee)

	env := &testEnv{
		sim:     sp,
		pool:    p,
		wallet:  w,
		client:  NewClient(p, w, Config{}, logger),
		trustee: trustee,
	}
	t.Cleanup(func() {
		p.Close()
		w.Close()
	})
	return env
}

func testCtx(t *testing.T) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func TestNym(t *testing.T) {
	env := initEnv(t)
	ctx := testCtx(t)

	did, verkey, err := env.wallet.CreateDID(nil)
	require.NoError(t, err)

	nym, err := env.client.GetNym(ctx, env.trustee, did)
	require.NoError(t, err)
	if nym != nil {
		t.Fatalf("unknown DID should not be found")
	}

	reply, err := env.client.WriteNym(ctx, env.trustee, did, verkey, "alice", RoleEndorser)
	require.NoError(t, err)
	if reply.Metadata.SeqNo == 0 {
		t.Fatalf("written NYM should have a seqNo")
	}

	nym, err = env.client.GetNym(ctx, env.trustee, did)
	require.NoError(t, err)
	require.NotNil(t, nym)
	assert.Equal(t, did, nym.Dest)
	assert.Equal(t, env.trustee, nym.Identifier)
	require.NotNil(t, nym.Role)
	assert.Equal(t, RoleEndorser, *nym.Role)
	assert.Equal(t, reply.Metadata.SeqNo, nym.SeqNo)

	// the new endorser can register a DID of its own
	other, otherVerkey, err := env.wallet.CreateDID(nil)
	require.NoError(t, err)
	_, err = env.client.WriteNym(ctx, did, other, otherVerkey, "", "")
	require.NoError(t, err)
}

func TestNymUnauthorized(t *testing.T) {
	env := initEnv(t)
	ctx := testCtx(t)

	did, verkey, err := env.wallet.CreateDID(nil)
	require.NoError(t, err)
	_, err = env.client.WriteNym(ctx, env.trustee, did, verkey, "", "")
	require.NoError(t, err)

	// did has no role and may not create DIDs
	other, _, err := env.wallet.CreateDID(nil)
	require.NoError(t, err)
	_, err = env.client.WriteNym(ctx, did, other, "", "", "")
	if !common.IsPoolErr(err, common.LedgerRejection) {
		t.Fatalf("NYM from a DID without role should be rejected, not %v", err)
	}
	reason, ok := common.RejectionReason(err)
	require.True(t, ok)
	assert.Contains(t, reason, "not authorized")
}

func TestAttrib(t *testing.T) {
	env := initEnv(t)
	ctx := testCtx(t)

	_, err := env.client.WriteAttrib(ctx, env.trustee, env.trustee, json.RawMessage(`{"endpoint":{"ha":"127.0.0.1:5555"}}`))
	require.NoError(t, err)

	raw, err := env.client.GetAttrib(ctx, env.trustee, env.trustee, "endpoint")
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:5555", gjson.GetBytes(raw, "endpoint.ha").String())

	missing, err := env.client.GetAttrib(ctx, env.trustee, env.trustee, "other")
	require.NoError(t, err)
	assert.Nil(t, missing)

	_, err = env.client.WriteAttrib(ctx, env.trustee, env.trustee, json.RawMessage(`{`))
	if !common.IsPoolErr(err, common.InvalidTransaction) {
		t.Fatalf("invalid raw should fail with InvalidTransaction, not %v", err)
	}
}

func TestSchemaAndCredDef(t *testing.T) {
	env := initEnv(t)
	ctx := testCtx(t)

	schema := Schema{Name: "degree", Version: "1.0", AttrNames: []string{"name", "year"}}
	reply, err := env.client.WriteSchema(ctx, env.trustee, schema)
	require.NoError(t, err)
	ref := reply.Metadata.SeqNo

	got, getReply, err := env.client.GetSchema(ctx, env.trustee, env.trustee, "degree", "1.0")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, schema, *got)
	assert.Equal(t, ref, getReply.Metadata.SeqNo)

	none, _, err := env.client.GetSchema(ctx, env.trustee, env.trustee, "degree", "2.0")
	require.NoError(t, err)
	assert.Nil(t, none)

	data := json.RawMessage(`{"primary":{"n":"123"}}`)
	_, err = env.client.WriteCredDef(ctx, env.trustee, ref, "CL", "tag1", data)
	require.NoError(t, err)

	def, err := env.client.GetCredDef(ctx, env.trustee, env.trustee, ref, "CL", "tag1")
	require.NoError(t, err)
	assert.Equal(t, "123", gjson.GetBytes(def, "primary.n").String())
}

func TestGetTxn(t *testing.T) {
	env := initEnv(t)
	ctx := testCtx(t)

	reply, err := env.client.GetTxn(ctx, env.trustee, wire.PoolLedger, 2)
	require.NoError(t, err)
	assert.Equal(t, "Node2", gjson.GetBytes(reply.Result, "txn.data.data.alias").String())
	assert.Equal(t, uint64(2), reply.Metadata.SeqNo)

	reply, err = env.client.GetTxn(ctx, env.trustee, wire.DomainLedger, 100)
	require.NoError(t, err)
	if txn := gjson.GetBytes(reply.Result, "txn"); txn.Type != gjson.Null {
		t.Fatalf("missing txn should be null, not %s", txn.Raw)
	}
}

func TestTAA(t *testing.T) {
	env := initEnv(t)
	ctx := testCtx(t)

	found, err := env.client.FetchTAA(ctx, env.trustee, "on_file")
	require.NoError(t, err)
	assert.False(t, found)

	require.NoError(t, env.sim.SetTAA("be nice", "1.0"))

	did, verkey, err := env.wallet.CreateDID(nil)
	require.NoError(t, err)
	_, err = env.client.WriteNym(ctx, env.trustee, did, verkey, "", "")
	if !common.IsPoolErr(err, common.LedgerRejection) {
		t.Fatalf("write without agreement should be rejected, not %v", err)
	}

	found, err = env.client.FetchTAA(ctx, env.trustee, "on_file")
	require.NoError(t, err)
	assert.True(t, found)

	_, err = env.client.WriteNym(ctx, env.trustee, did, verkey, "", "")
	require.NoError(t, err)
}

func TestActions(t *testing.T) {
	env := initEnv(t)
	ctx := testCtx(t)

	infos, err := env.client.GetValidatorInfo(ctx, env.trustee, nil, time.Second)
	require.NoError(t, err)
	require.Len(t, infos, 4)
	for n, r := range infos {
		assert.Equal(t, n, gjson.GetBytes(r, "result.data.alias").String())
	}

	restarts, err := env.client.PoolRestart(ctx, env.trustee, "start", "2030-01-01T00:00:00Z", []string{"Node1", "Node2"}, time.Second)
	require.NoError(t, err)
	require.Len(t, restarts, 2)
	assert.Equal(t, "start", gjson.GetBytes(restarts["Node1"], "result.action").String())

	did, verkey, err := env.wallet.CreateDID(nil)
	require.NoError(t, err)
	_, err = env.client.WriteNym(ctx, env.trustee, did, verkey, "", "")
	require.NoError(t, err)

	// only trustees may restart the pool, every node rejects
	restarts, err = env.client.PoolRestart(ctx, did, "cancel", "", []string{"Node1"}, time.Second)
	require.NoError(t, err)
	assert.Equal(t, wire.OpReject, gjson.GetBytes(restarts["Node1"], "op").String())
	assert.NotEqual(t, request.TimeoutReply, restarts["Node1"])
}

func TestNoSigner(t *testing.T) {
	env := initEnv(t)
	c := NewClient(env.pool, nil, Config{}, nil)

	_, err := c.WriteNym(testCtx(t), env.trustee, env.trustee, "", "", "")
	if !common.IsPoolErr(err, common.WalletError) {
		t.Fatalf("write without signer should fail with WalletError, not %v", err)
	}
}

func TestReplyData(t *testing.T) {
	r := &Reply{Result: json.RawMessage(`{"data":"{\"a\":1}"}`)}
	assert.Equal(t, json.RawMessage(`{"a":1}`), r.Data())

	r = &Reply{Result: json.RawMessage(`{"data":{"a":1}}`)}
	assert.Equal(t, json.RawMessage(`{"a":1}`), r.Data())

	r = &Reply{Result: json.RawMessage(`{"data":null}`)}
	assert.False(t, r.Found())
}
