// Package pool runs a pool client: one event loop per pool handle, on which
// the networker and the request handler live.
//
// Event loop
//
// The loop waits on three sources: the frames delivered by the transport,
// the events queued by callers (submissions, cancellations, refreshes,
// stats), and the earliest deadline of the networker. A deadline is either
// the timeout of a request attempt on one node, which goes to the request
// handler, or the end of life of a connection, which lets the networker
// sweep orphaned connections. Negative deadlines fire immediately.
//
// Callers never touch the networker or the handler. Submit and SubmitAction
// queue an event and wait on a one-shot channel for the result; cancelling
// the context queues a cancellation that cleans every deadline of the
// request.
//
// Catch-up
//
// Replicated ledgers, the pool ledger by default, are kept as a local Merkle
// tree. A catch-up first broadcasts the local LEDGER_STATUS. f+1 matching
// answers decide: an identical LEDGER_STATUS means the replica is in sync, a
// CONSISTENCY_PROOF from the local root gives the target size and root. The
// missing transactions are then requested with CATCHUP_REQ, and the
// resulting root must equal the target. A failed catch-up is retried once
// before the error reaches the caller. Catching up the pool ledger rebuilds
// the node list from its NODE transactions.
package pool
