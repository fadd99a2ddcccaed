// Package peers defines the validator nodes of an Indy pool as seen by a
// client, and implements functions to manage collections of nodes.
//
// A node is identified by its alias. It publishes a client address where it
// accepts CurveZMQ connections, an Ed25519 verification key (the "dest" of its
// NODE transaction) from which the CurveZMQ server key is derived, and a BLS
// key used to verify the multi-signatures of state proofs.
//
// A node-set is the collection of nodes that currently take part in
// consensus. With N nodes the pool tolerates f = (N-1)/3 faulty nodes and a
// result agreed by f+1 nodes is guaranteed to come from at least one honest
// node.
package peers
