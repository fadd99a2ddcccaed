// Package config defines the configuration of a pool client.
//
// Regardless of how the client is started, directly from Go code or as a
// standalone process from the command line, it uses the Config object defined
// in this package to store and forward configuration options. On top of these
// options, the client relies on a data directory, defined by Config.DataDir,
// where it expects to find a few additional files:
//
//  pool_transactions_genesis // line-delimited NODE transactions of the pool.
//  indypool.toml // (optional) configuration file read by the command line.
//  badger_db/ // (optional) persisted ledger replicas, when Store is set.
//  wallet/ // LevelDB wallet holding DIDs, keys and credentials.
//
// The timeouts default to the ones Indy clients commonly use: 20 seconds for the
// first acknowledgement of a node, 60 seconds once the node acknowledged the
// request, and 5 seconds of activity per pooled connection.
package config
