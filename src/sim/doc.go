// Package sim simulates a pool of Indy validator nodes in memory.
//
// A simulated pool keeps a pool ledger of NODE transactions and a domain
// ledger with its state, and answers the messages a client sends: ledger
// status and catch-up requests, reads with BLS signed state proofs, signed
// writes and actions. Validators are reached through a net.InmemTransport
// and can be made faulty to exercise the consensus of the client.
package sim
