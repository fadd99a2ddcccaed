package config

import (
	"os"
	"os/user"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/mosaicnetworks/indypool/src/common"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	prefixed "github.com/x-cray/logrus-prefixed-formatter"
)

// Default filenames.
const (
	// DefaultGenesisFile is the default name of the file containing the pool
	// genesis transactions.
	DefaultGenesisFile = "pool_transactions_genesis"

	// DefaultBadgerFile is the default name of the folder containing the Badger
	// database
	DefaultBadgerFile = "badger_db"

	// DefaultWalletFile is the default name of the folder containing the
	// LevelDB wallet.
	DefaultWalletFile = "wallet"

	// DefaultConfigFile is the name of the optional TOML configuration file
	// in the data directory.
	DefaultConfigFile = "indypool"
)

// Default configuration values.
const (
	DefaultLogLevel          = "info"
	DefaultPoolName          = "sandbox"
	DefaultServiceAddr       = "127.0.0.1:8000"
	DefaultAckTimeout        = 20 * time.Second
	DefaultReplyTimeout      = 60 * time.Second
	DefaultConnActiveTimeout = 5 * time.Second
	DefaultConnLimit         = 5
	DefaultRefreshInterval   = 24 * time.Hour
	DefaultProtocolVersion   = 2
	DefaultQueueSize         = 256
	DefaultStore             = false
	DefaultStoreBackend      = "badger"
	DefaultNoService         = true
	DefaultTAAMechanism      = "on_file"
)

// DefaultReplicatedLedgers lists the ledgers kept as a local Merkle replica
// and automatically caught up when a reply shows a newer state. Only the
// pool ledger is replicated by default.
var DefaultReplicatedLedgers = []int{0}

// Config contains all the configuration properties of a pool client.
type Config struct {
	// DataDir is the top-level directory containing configuration and data.
	DataDir string `mapstructure:"datadir"`

	// LogLevel determines the chattiness of the log output.
	LogLevel string `mapstructure:"log" validate:"omitempty,oneof=debug info warn error fatal panic"`

	// LogFile, if set, receives a copy of every log line.
	LogFile string `mapstructure:"log-file"`

	// PoolName identifies the pool in the handle registry and in the HTTP
	// service.
	PoolName string `mapstructure:"pool" validate:"required"`

	// GenesisFile is the path of the line-delimited genesis transactions.
	GenesisFile string `mapstructure:"genesis"`

	// AckTimeout bounds the wait for the first evidence (REQACK or reply)
	// from a node.
	AckTimeout time.Duration `mapstructure:"ack-timeout" validate:"gt=0"`

	// ReplyTimeout replaces the node deadline once it acknowledged the
	// request.
	ReplyTimeout time.Duration `mapstructure:"reply-timeout" validate:"gt=0"`

	// ConnActiveTimeout is how long a connection accepts new requests after
	// its creation.
	ConnActiveTimeout time.Duration `mapstructure:"conn-active-timeout" validate:"gt=0"`

	// ConnLimit is the maximum number of requests carried by one connection.
	ConnLimit int `mapstructure:"conn-limit" validate:"gte=1"`

	// PreorderedNodes lists node names that are tried first, in order.
	PreorderedNodes []string `mapstructure:"preordered-nodes"`

	// SocksProxy is an optional SOCKS5 proxy (host:port) for the node
	// sockets.
	SocksProxy string `mapstructure:"socks-proxy" validate:"omitempty,hostname_port"`

	// RefreshInterval is the period of the pool ledger catch-up. Zero
	// disables periodic refresh.
	RefreshInterval time.Duration `mapstructure:"refresh-interval" validate:"gte=0"`

	// ProtocolVersion is stamped on every request.
	ProtocolVersion int `mapstructure:"protocol-version" validate:"oneof=1 2"`

	// QueueSize bounds the user event queue of the event loop.
	QueueSize int `mapstructure:"queue-size" validate:"gte=1"`

	// ReplicatedLedgers are the ledger ids with a local Merkle replica.
	ReplicatedLedgers []int `mapstructure:"replicate-ledgers" validate:"dive,gte=0"`

	// Store activates persistent storage of the ledger replicas.
	Store bool `mapstructure:"store"`

	// StoreBackend selects where replicas are persisted: "badger" or
	// "wallet".
	StoreBackend string `mapstructure:"store-backend" validate:"oneof=badger wallet"`

	// DatabaseDir is the directory containing database files.
	DatabaseDir string `mapstructure:"db"`

	// WalletDir is the directory of the LevelDB wallet.
	WalletDir string `mapstructure:"wallet"`

	// NoService disables the HTTP API service.
	NoService bool `mapstructure:"no-service"`

	// ServiceAddr is the address:port of the optional HTTP service.
	ServiceAddr string `mapstructure:"service-listen"`

	// TAAText and TAAVersion describe the active transaction author
	// agreement. When both are empty no acceptance is attached to writes.
	TAAText      string `mapstructure:"taa-text"`
	TAAVersion   string `mapstructure:"taa-version"`
	TAAMechanism string `mapstructure:"taa-mechanism"`

	logger *logrus.Logger
}

// NewDefaultConfig returns a config object with default values.
func NewDefaultConfig() *Config {
	config := &Config{
		DataDir:           DefaultDataDir(),
		LogLevel:          DefaultLogLevel,
		PoolName:          DefaultPoolName,
		GenesisFile:       DefaultGenesisPath(),
		AckTimeout:        DefaultAckTimeout,
		ReplyTimeout:      DefaultReplyTimeout,
		ConnActiveTimeout: DefaultConnActiveTimeout,
		ConnLimit:         DefaultConnLimit,
		RefreshInterval:   DefaultRefreshInterval,
		ProtocolVersion:   DefaultProtocolVersion,
		QueueSize:         DefaultQueueSize,
		ReplicatedLedgers: append([]int{}, DefaultReplicatedLedgers...),
		Store:             DefaultStore,
		StoreBackend:      DefaultStoreBackend,
		DatabaseDir:       DefaultDatabaseDir(),
		WalletDir:         DefaultWalletDir(),
		NoService:         DefaultNoService,
		ServiceAddr:       DefaultServiceAddr,
		TAAMechanism:      DefaultTAAMechanism,
	}

	return config
}

// NewTestConfig returns a config object with default values and a special
// logger for debugging tests.
func NewTestConfig(t testing.TB, level logrus.Level) *Config {
	config := NewDefaultConfig()
	config.logger = common.NewTestLogger(t, level)
	return config
}

// SetDataDir sets the top-level directory, and updates the genesis, database
// and wallet paths if they are currently set to their default values. If a
// path is not the default, it means the user has explicitely set it to
// something else, so avoid changing it again here.
func (c *Config) SetDataDir(dataDir string) {
	c.DataDir = dataDir
	if c.GenesisFile == DefaultGenesisPath() {
		c.GenesisFile = filepath.Join(dataDir, DefaultGenesisFile)
	}
	if c.DatabaseDir == DefaultDatabaseDir() {
		c.DatabaseDir = filepath.Join(dataDir, DefaultBadgerFile)
	}
	if c.WalletDir == DefaultWalletDir() {
		c.WalletDir = filepath.Join(dataDir, DefaultWalletFile)
	}
}

// Validate checks the struct tags of the configuration.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return common.WrapPoolErr(common.ConfigError, err, "invalid configuration")
	}
	if (c.TAAText == "") != (c.TAAVersion == "") {
		return common.NewPoolErr(common.ConfigError, "taa-text and taa-version must be set together")
	}
	return nil
}

// IsReplicated reports whether a local replica is kept for the ledger.
func (c *Config) IsReplicated(ledgerID int) bool {
	for _, l := range c.ReplicatedLedgers {
		if l == ledgerID {
			return true
		}
	}
	return false
}

// SetLogger overrides the logger, mostly for embedding applications.
func (c *Config) SetLogger(logger *logrus.Logger) {
	c.logger = logger
}

// Logger returns a formatted logrus Entry, with prefix set to "indypool".
func (c *Config) Logger() *logrus.Entry {
	if c.logger == nil {
		c.logger = logrus.New()
		c.logger.Level = LogLevel(c.LogLevel)
		c.logger.Formatter = new(prefixed.TextFormatter)
	}
	return c.logger.WithField("prefix", "indypool")
}

// RawLogger returns the underlying logger so that hooks can be attached.
func (c *Config) RawLogger() *logrus.Logger {
	c.Logger()
	return c.logger
}

// ReadGenesis returns the contents of the genesis file.
func (c *Config) ReadGenesis() ([]byte, error) {
	data, err := os.ReadFile(c.GenesisFile)
	if err != nil {
		return nil, common.WrapPoolErr(common.ConfigError, errors.WithStack(err), "reading genesis file")
	}
	return data, nil
}

// DefaultGenesisPath returns the default path of the genesis file.
func DefaultGenesisPath() string {
	return filepath.Join(DefaultDataDir(), DefaultGenesisFile)
}

// DefaultDatabaseDir returns the default path for the badger database files.
func DefaultDatabaseDir() string {
	return filepath.Join(DefaultDataDir(), DefaultBadgerFile)
}

// DefaultWalletDir returns the default path for the wallet database.
func DefaultWalletDir() string {
	return filepath.Join(DefaultDataDir(), DefaultWalletFile)
}

// DefaultDataDir return the default directory name for top-level config based
// on the underlying OS, attempting to respect conventions.
func DefaultDataDir() string {
	// Try to place the data folder in the user's home dir
	home := HomeDir()
	if home != "" {
		if runtime.GOOS == "darwin" {
			return filepath.Join(home, ".IndyPool")
		} else if runtime.GOOS == "windows" {
			return filepath.Join(home, "AppData", "Roaming", "IndyPool")
		} else {
			return filepath.Join(home, ".indypool")
		}
	}
	// As we cannot guess a stable location, return empty and handle later
	return ""
}

// HomeDir returns the user's home directory.
func HomeDir() string {
	if home := os.Getenv("HOME"); home != "" {
		return home
	}
	if usr, err := user.Current(); err == nil {
		return usr.HomeDir
	}
	return ""
}

// LogLevel parses a string into a Logrus log level.
func LogLevel(l string) logrus.Level {
	switch l {
	case "debug":
		return logrus.DebugLevel
	case "info":
		return logrus.InfoLevel
	case "warn":
		return logrus.WarnLevel
	case "error":
		return logrus.ErrorLevel
	case "fatal":
		return logrus.FatalLevel
	case "panic":
		return logrus.PanicLevel
	default:
		return logrus.DebugLevel
	}
}
