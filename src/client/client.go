package client

import (
	"context"
	"crypto/ed25519"
	"fmt"

	"github.com/mosaicnetworks/indypool/src/config"
	"github.com/mosaicnetworks/indypool/src/crypto/keys"
	"github.com/mosaicnetworks/indypool/src/ledger"
	"github.com/mosaicnetworks/indypool/src/net"
	"github.com/mosaicnetworks/indypool/src/net/zmq"
	"github.com/mosaicnetworks/indypool/src/pool"
	"github.com/mosaicnetworks/indypool/src/service"
	"github.com/mosaicnetworks/indypool/src/store"
	"github.com/mosaicnetworks/indypool/src/wallet"
	"github.com/sirupsen/logrus"
)

// Client wires a pool handle to its transport, store, wallet and service.
type Client struct {
	Config    *config.Config
	Wallet    *wallet.LevelDBWallet
	Store     store.Store
	Transport net.Transport
	Registry  *pool.Registry
	Pool      *pool.Pool
	Handle    pool.Handle
	Ledger    *ledger.Client
	Service   *service.Service

	genesis []byte
	logger  *logrus.Entry
}

// NewClient ...
func NewClient(conf *config.Config) *Client {
	return &Client{
		Config: conf,
		logger: conf.Logger(),
	}
}

// SetTransport replaces the ZMQ transport. It must be called before Init.
func (c *Client) SetTransport(t net.Transport) {
	c.Transport = t
}

// SetGenesis replaces the genesis file. It must be called before Init.
func (c *Client) SetGenesis(genesis []byte) {
	c.genesis = genesis
}

func (c *Client) initWallet() error {
	if c.Wallet != nil {
		return nil
	}
	c.logger.WithField("path", c.Config.WalletDir).Debug("Opening wallet")
	w, err := wallet.NewLevelDBWallet(c.Config.WalletDir)
	if err != nil {
		return err
	}
	c.Wallet = w
	return nil
}

func (c *Client) initStore() error {
	if !c.Config.Store {
		c.Store = store.NewInmemStore()
		c.logger.Debug("created new in-mem store")
		return nil
	}

	switch c.Config.StoreBackend {
	case "wallet":
		c.Store = store.NewWalletStore(c.Wallet, c.Config.PoolName)
		c.logger.Debug("storing ledger replicas in the wallet")
	default:
		c.logger.WithField("path", c.Config.DatabaseDir).Debug("Attempting to load or create database")
		s, err := store.NewBadgerStore(c.Config.DatabaseDir, c.logger.WithField("component", "store"))
		if err != nil {
			return err
		}
		c.Store = s
	}
	return nil
}

func (c *Client) initTransport() error {
	if c.Transport == nil {
		c.Transport = zmq.NewTransport(c.Config.QueueSize, c.logger.WithField("component", "transport"))
	}
	return nil
}

func (c *Client) initPool() error {
	genesis := c.genesis
	if genesis == nil {
		var err error
		if genesis, err = c.Config.ReadGenesis(); err != nil {
			return err
		}
	}

	p, err := pool.New(c.Config, genesis, c.Transport, c.Store, c.logger)
	if err != nil {
		return err
	}
	c.Pool = p
	c.Registry = pool.NewRegistry()
	c.Handle = c.Registry.Register(p)
	return nil
}

func (c *Client) initLedger() {
	c.Ledger = ledger.NewClient(c.Pool, c.Wallet, ledger.Config{
		ProtocolVersion: c.Config.ProtocolVersion,
		TAAText:         c.Config.TAAText,
		TAAVersion:      c.Config.TAAVersion,
		TAAMechanism:    c.Config.TAAMechanism,
	}, c.logger.WithField("component", "ledger"))
}

func (c *Client) initService() {
	if !c.Config.NoService {
		c.Service = service.NewService(c.Config.ServiceAddr, c.Registry, c.Config.ReplyTimeout, c.logger.WithField("component", "service"))
	}
}

// Init validates the configuration and builds every component. The pool is
// not opened.
func (c *Client) Init() error {
	if err := c.Config.Validate(); err != nil {
		return err
	}

	if err := c.initWallet(); err != nil {
		return err
	}

	if err := c.initStore(); err != nil {
		return err
	}

	if err := c.initTransport(); err != nil {
		return err
	}

	if err := c.initPool(); err != nil {
		return err
	}

	c.initLedger()
	c.initService()

	return nil
}

// Run opens the pool, starts the service and blocks until ctx is done.
func (c *Client) Run(ctx context.Context) error {
	if err := c.Pool.Open(ctx); err != nil {
		return err
	}

	if c.Service != nil {
		go c.Service.Serve()
	}

	c.logger.WithFields(logrus.Fields{
		"pool":   c.Config.PoolName,
		"handle": c.Handle,
		"nodes":  c.Pool.Nodes().Names(),
	}).Info("Pool ready")

	<-ctx.Done()
	return c.Close()
}

// Close closes the pools, then the wallet.
func (c *Client) Close() error {
	var err error
	if c.Registry != nil {
		err = c.Registry.Close()
	}
	if c.Wallet != nil {
		if e := c.Wallet.Close(); e != nil && err == nil {
			err = e
		}
	}
	return err
}

// Keygen writes a new Ed25519 key to path, unless a key already lives
// there.
func Keygen(path string) (ed25519.PrivateKey, error) {
	keyfile := keys.NewSimpleKeyfile(path)

	if _, err := keyfile.ReadKey(); err == nil {
		return nil, fmt.Errorf("Another key already lives under %s", path)
	}

	priv, err := keys.GenerateKey()
	if err != nil {
		return nil, err
	}

	if err := keyfile.WriteKey(priv); err != nil {
		return nil, err
	}

	return priv, nil
}
