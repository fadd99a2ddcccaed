// Package wire implements the envelope codec between the pool client and the
// validator nodes.
//
// Requests are JSON objects {operation, identifier, reqId, protocolVersion,
// signature, taaAcceptance}. The signed bytes are the canonical JSON of the
// request without its signature: keys sorted, no insignificant whitespace.
//
// Nodes answer with JSON frames tagged by "op": REQACK, REQNACK, REJECT and
// REPLY for requests, and LEDGER_STATUS, CONSISTENCY_PROOF and CATCHUP_REP
// for catch-up. Legacy nodes send msgpack frames, detected by their first
// byte and converted to JSON before parsing.
//
// Replies come in two versioned shapes. Version 0 (no "ver" field, or "0")
// is flat: seqNo, txnTime and a state_proof with a signed value. Version 1
// nests the transaction metadata under txnMetadata and the signed state under
// multiSignature.signedState. ParseResponseMetadata normalizes both.
package wire
