package commands

import (
	"github.com/mosaicnetworks/indypool/src/client"
	"github.com/mosaicnetworks/indypool/src/config"
	"github.com/mosaicnetworks/indypool/src/net"
	"github.com/mosaicnetworks/indypool/src/sim"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

//CLIConfig contains configuration for the run and submit commands
type CLIConfig struct {
	Pool     config.Config `mapstructure:",squash"`
	Simulate int           `mapstructure:"simulate"`
}

//NewDefaultCLIConfig creates a CLIConfig with default values
func NewDefaultCLIConfig() *CLIConfig {
	return &CLIConfig{
		Pool:     *config.NewDefaultConfig(),
		Simulate: 0,
	}
}

//AddConfigFlags adds the pool configuration flags to a command
func AddConfigFlags(cmd *cobra.Command) {
	cmd.Flags().String("datadir", _config.Pool.DataDir, "Top-level directory for configuration and data")
	cmd.Flags().String("log", _config.Pool.LogLevel, "debug, info, warn, error, fatal, panic")
	cmd.Flags().String("log-file", _config.Pool.LogFile, "Also write logs to this file")

	// Pool
	cmd.Flags().String("pool", _config.Pool.PoolName, "Pool name")
	cmd.Flags().StringP("genesis", "g", _config.Pool.GenesisFile, "Genesis transactions file")
	cmd.Flags().Int("protocol-version", _config.Pool.ProtocolVersion, "Protocol version stamped on requests")
	cmd.Flags().Duration("refresh-interval", _config.Pool.RefreshInterval, "Period of the pool ledger refresh (0 disables)")
	cmd.Flags().StringSlice("replicate-ledgers", []string{"0"}, "Ledger ids kept as local replicas")
	cmd.Flags().Int("queue-size", _config.Pool.QueueSize, "Size of the request queue")

	// Network
	cmd.Flags().Duration("ack-timeout", _config.Pool.AckTimeout, "Wait for the first answer of a node")
	cmd.Flags().Duration("reply-timeout", _config.Pool.ReplyTimeout, "Wait for the reply of a node that acknowledged")
	cmd.Flags().Duration("conn-active-timeout", _config.Pool.ConnActiveTimeout, "How long a connection accepts new requests")
	cmd.Flags().Int("conn-limit", _config.Pool.ConnLimit, "Max requests per connection")
	cmd.Flags().StringSlice("preordered-nodes", _config.Pool.PreorderedNodes, "Nodes tried first, in order")
	cmd.Flags().String("socks-proxy", _config.Pool.SocksProxy, "SOCKS5 proxy host:port")

	// Store
	cmd.Flags().Bool("store", _config.Pool.Store, "Persist ledger replicas")
	cmd.Flags().String("store-backend", _config.Pool.StoreBackend, "badger or wallet")
	cmd.Flags().String("db", _config.Pool.DatabaseDir, "Database directory")
	cmd.Flags().String("wallet", _config.Pool.WalletDir, "Wallet directory")

	// Service
	cmd.Flags().Bool("no-service", _config.Pool.NoService, "Disable HTTP service")
	cmd.Flags().StringP("service-listen", "s", _config.Pool.ServiceAddr, "Listen IP:Port for HTTP service")

	// Transaction author agreement
	cmd.Flags().String("taa-text", _config.Pool.TAAText, "Accepted transaction author agreement text")
	cmd.Flags().String("taa-version", _config.Pool.TAAVersion, "Accepted transaction author agreement version")
	cmd.Flags().String("taa-mechanism", _config.Pool.TAAMechanism, "Acceptance mechanism")

	// Development
	cmd.Flags().Int("simulate", _config.Simulate, "Run against N in-memory validators instead of the genesis pool")
}

func loadConfig(cmd *cobra.Command, args []string) error {

	err := bindFlagsLoadViper(cmd)
	if err != nil {
		return err
	}

	// If --datadir was explicitely set, but not --db, --genesis or --wallet,
	// this will update the default paths to be inside the new datadir
	_config.Pool.SetDataDir(_config.Pool.DataDir)

	logger := newLogger(_config.Pool.LogFile)
	logger.Level = config.LogLevel(_config.Pool.LogLevel)
	_config.Pool.SetLogger(logger)

	logFields := logrus.Fields{
		"DataDir":           _config.Pool.DataDir,
		"LogLevel":          _config.Pool.LogLevel,
		"PoolName":          _config.Pool.PoolName,
		"GenesisFile":       _config.Pool.GenesisFile,
		"AckTimeout":        _config.Pool.AckTimeout,
		"ReplyTimeout":      _config.Pool.ReplyTimeout,
		"ConnActiveTimeout": _config.Pool.ConnActiveTimeout,
		"ConnLimit":         _config.Pool.ConnLimit,
		"RefreshInterval":   _config.Pool.RefreshInterval,
		"ProtocolVersion":   _config.Pool.ProtocolVersion,
		"ReplicatedLedgers": _config.Pool.ReplicatedLedgers,
		"Store":             _config.Pool.Store,
		"WalletDir":         _config.Pool.WalletDir,
		"NoService":         _config.Pool.NoService,
		"Simulate":          _config.Simulate,
	}

	if _config.Pool.Store {
		logFields["DatabaseDir"] = _config.Pool.DatabaseDir
		logFields["StoreBackend"] = _config.Pool.StoreBackend
	}

	if !_config.Pool.NoService {
		logFields["ServiceAddr"] = _config.Pool.ServiceAddr
	}

	_config.Pool.Logger().WithFields(logFields).Debug("Config")

	return nil
}

// Bind all flags and read the config into viper
func bindFlagsLoadViper(cmd *cobra.Command) error {
	// Register flags with viper. Include flags from this command and all other
	// persistent flags from the parent
	if err := viper.BindPFlags(cmd.Flags()); err != nil {
		return err
	}

	// first unmarshal to read from CLI flags
	if err := viper.Unmarshal(_config); err != nil {
		return err
	}

	// look for config file in [datadir]/indypool.toml (.json, .yaml also work)
	viper.SetConfigName(config.DefaultConfigFile)
	viper.AddConfigPath(_config.Pool.DataDir)

	// If a config file is found, read it in.
	if err := viper.ReadInConfig(); err == nil {
		_config.Pool.Logger().Debugf("Using config file: %s", viper.ConfigFileUsed())
	} else if _, ok := err.(viper.ConfigFileNotFoundError); ok {
		_config.Pool.Logger().Debugf("No config file found in: %s", _config.Pool.DataDir)
	} else {
		return err
	}

	// second unmarshal to read from config file
	return viper.Unmarshal(_config)
}

// newClient builds a client from the loaded configuration. With --simulate
// the client talks to in-memory validators.
func newClient() (*client.Client, error) {
	c := client.NewClient(&_config.Pool)

	if _config.Simulate > 0 {
		sp, err := sim.NewPool(_config.Simulate, _config.Pool.Logger().WithField("component", "sim"))
		if err != nil {
			return nil, err
		}

		trans := net.NewInmemTransport(_config.Pool.QueueSize)
		sp.Connect(trans)

		c.SetTransport(trans)
		c.SetGenesis(sp.Genesis())

		_config.Pool.Logger().WithFields(logrus.Fields{
			"validators": sp.Validators(),
			"trustee":    sp.Trustee(),
			"seed":       sim.TrusteeSeed,
		}).Info("Simulating pool")
	}

	if err := c.Init(); err != nil {
		c.Close()
		return nil, err
	}

	return c, nil
}
