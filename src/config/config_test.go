package config

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/mosaicnetworks/indypool/src/common"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
)

func TestDefaultConfigIsValid(t *testing.T) {
	conf := NewTestConfig(t, logrus.DebugLevel)

	if err := conf.Validate(); err != nil {
		t.Fatalf("default config should be valid: %v", err)
	}

	assert.Equal(t, 20*time.Second, conf.AckTimeout)
	assert.Equal(t, 60*time.Second, conf.ReplyTimeout)
	assert.Equal(t, 5*time.Second, conf.ConnActiveTimeout)
	assert.Equal(t, 5, conf.ConnLimit)
	assert.Equal(t, 2, conf.ProtocolVersion)
	assert.True(t, conf.IsReplicated(0))
	assert.False(t, conf.IsReplicated(1))
}

func TestValidateRejects(t *testing.T) {
	cases := map[string]func(c *Config){
		"conn-limit":    func(c *Config) { c.ConnLimit = 0 },
		"ack-timeout":   func(c *Config) { c.AckTimeout = 0 },
		"protocol":      func(c *Config) { c.ProtocolVersion = 3 },
		"log":           func(c *Config) { c.LogLevel = "verbose" },
		"socks":         func(c *Config) { c.SocksProxy = "not a proxy" },
		"pool":          func(c *Config) { c.PoolName = "" },
		"taa half set":  func(c *Config) { c.TAAText = "text" },
		"ledger id":     func(c *Config) { c.ReplicatedLedgers = []int{-1} },
		"refresh":       func(c *Config) { c.RefreshInterval = -time.Second },
		"queue size":    func(c *Config) { c.QueueSize = 0 },
		"store backend": func(c *Config) { c.StoreBackend = "sqlite" },
		"reply-timeout": func(c *Config) { c.ReplyTimeout = -1 },
	}

	for name, mutate := range cases {
		conf := NewDefaultConfig()
		mutate(conf)
		err := conf.Validate()
		if !common.IsPoolErr(err, common.ConfigError) {
			t.Fatalf("%s: expected ConfigError, got %v", name, err)
		}
	}
}

func TestSetDataDir(t *testing.T) {
	conf := NewDefaultConfig()
	conf.WalletDir = "/custom/wallet"

	conf.SetDataDir("/tmp/pool")

	assert.Equal(t, filepath.Join("/tmp/pool", DefaultGenesisFile), conf.GenesisFile)
	assert.Equal(t, filepath.Join("/tmp/pool", DefaultBadgerFile), conf.DatabaseDir)
	assert.Equal(t, "/custom/wallet", conf.WalletDir)
}
