package client

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/mosaicnetworks/indypool/src/common"
	"github.com/mosaicnetworks/indypool/src/config"
	"github.com/mosaicnetworks/indypool/src/crypto/keys"
	"github.com/mosaicnetworks/indypool/src/net"
	"github.com/mosaicnetworks/indypool/src/pool"
	"github.com/mosaicnetworks/indypool/src/sim"
	"github.com/mosaicnetworks/indypool/src/wire"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func initClient(t *testing.T, sp *sim.Pool, mutate func(*config.Config)) *Client {
	conf := config.NewTestConfig(t, logrus.DebugLevel)
	conf.SetDataDir(t.TempDir())
	conf.AckTimeout = 2 * time.Second
	conf.ReplyTimeout = 2 * time.Second
	conf.RefreshInterval = 0
	if mutate != nil {
		mutate(conf)
	}

	trans := net.NewInmemTransport(64)
	sp.Connect(trans)

	c := NewClient(conf)
	c.SetTransport(trans)
	c.SetGenesis(sp.Genesis())
	require.NoError(t, c.Init())
	return c
}

func runClient(t *testing.T, c *Client) (context.CancelFunc, chan error) {
	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		errCh <- c.Run(ctx)
	}()

	deadline := time.Now().Add(10 * time.Second)
	for c.Pool.GetState() != pool.Open {
		if time.Now().After(deadline) {
			cancel()
			t.Fatalf("pool did not open")
		}
		time.Sleep(10 * time.Millisecond)
	}
	return cancel, errCh
}

func TestClientRun(t *testing.T) {
	sp, err := sim.NewPool(4, common.NewTestEntry(t, logrus.DebugLevel))
	require.NoError(t, err)

	c := initClient(t, sp, nil)
	assert.Nil(t, c.Service)

	cancel, errCh := runClient(t, c)

	trustee, _, err := c.Wallet.CreateDID([]byte(sim.TrusteeSeed))
	require.NoError(t, err)

	ctx, cancelReq := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelReq()
	nym, err := c.Ledger.GetNym(ctx, trustee, trustee)
	require.NoError(t, err)
	require.NotNil(t, nym)

	p, err := c.Registry.Get(c.Handle)
	require.NoError(t, err)
	assert.Equal(t, c.Pool, p)

	cancel()
	require.NoError(t, <-errCh)
	assert.Equal(t, pool.Closed, c.Pool.GetState())
}

func TestClientPersistentStores(t *testing.T) {
	for _, backend := range []string{"badger", "wallet"} {
		t.Run(backend, func(t *testing.T) {
			sp, err := sim.NewPool(4, common.NewTestEntry(t, logrus.DebugLevel))
			require.NoError(t, err)
			require.NoError(t, sp.AddValidator("Node5"))

			c := initClient(t, sp, func(conf *config.Config) {
				conf.Store = true
				conf.StoreBackend = backend
			})
			cancel, errCh := runClient(t, c)
			assert.Equal(t, 5, c.Pool.Nodes().Len())

			cancel()
			require.NoError(t, <-errCh)
		})
	}
}

func TestClientInvalidConfig(t *testing.T) {
	conf := config.NewTestConfig(t, logrus.DebugLevel)
	conf.ConnLimit = 0

	c := NewClient(conf)
	if err := c.Init(); !common.IsPoolErr(err, common.ConfigError) {
		t.Fatalf("Init should fail with ConfigError, not %v", err)
	}
	assert.NoError(t, c.Close())
}

func TestClientMissingGenesis(t *testing.T) {
	conf := config.NewTestConfig(t, logrus.DebugLevel)
	conf.SetDataDir(t.TempDir())

	c := NewClient(conf)
	c.SetTransport(net.NewInmemTransport(1))
	if err := c.Init(); !common.IsPoolErr(err, common.ConfigError) {
		t.Fatalf("Init should fail with ConfigError, not %v", err)
	}
	assert.NoError(t, c.Close())
}

func TestClientSubmitWithService(t *testing.T) {
	sp, err := sim.NewPool(4, common.NewTestEntry(t, logrus.DebugLevel))
	require.NoError(t, err)

	c := initClient(t, sp, func(conf *config.Config) {
		conf.NoService = false
		conf.ServiceAddr = "127.0.0.1:0"
	})
	require.NotNil(t, c.Service)
	cancel, errCh := runClient(t, c)

	ctx, cancelReq := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelReq()
	reply, err := c.Ledger.GetTxn(ctx, sp.Trustee(), wire.PoolLedger, 1)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), reply.Metadata.SeqNo)

	cancel()
	require.NoError(t, <-errCh)
}

func TestKeygen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "key")

	priv, err := Keygen(path)
	require.NoError(t, err)

	read, err := keys.NewSimpleKeyfile(path).ReadKey()
	require.NoError(t, err)
	assert.Equal(t, priv, read)

	if _, err := Keygen(path); err == nil {
		t.Fatalf("Keygen should not overwrite a key")
	}

	_, err = os.Stat(path)
	require.NoError(t, err)
}
