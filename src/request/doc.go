// Package request implements the consensus state machine of pool requests.
//
// A Handler tracks every request submitted to the pool from dispatch to its
// terminal result. It consumes node messages and per-node deadline expiries,
// and drives the networker by emitting events:
//
//	Issued -> Gathering -> Finished
//	             |
//	             +-> CatchupRequired -> Issued
//
// The policy depends on the kind of request. Reads carrying a state proof
// are sent to one node at a time and each reply is verified; other reads and
// writes are sent to every node and need f+1 matching replies; actions
// gather every reply without consensus. Ledger status and catch-up requests
// are f+1 matching reads of ledger sync messages, routed by ledger id.
//
// A Handler is not safe for concurrent use. The pool event loop is its only
// caller, and the completion callbacks run on that loop.
package request
