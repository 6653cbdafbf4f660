// Package consensus implements the longest valid chain rule used by a node
// to converge with its peers.
//
// # Core Components
//
// PeerSet: The deduplicated set of peer addresses (host:port) registered on
// the node.
//
// Resolver: Fetches the chain of every peer through a Fetcher, keeps the
// longest chain that is valid and strictly longer than the local one, and
// swaps it into the local chain.
//
// Fetcher: The transport used to obtain a peer's chain. The network package
// provides an HTTP implementation.
//
// # Consensus Rule
//
// The protocol follows these steps:
//  1. Every registered peer is asked for its chain, concurrently and with a
//     per-peer timeout
//  2. Peers that fail or time out are skipped
//  3. Chains not longer than the best seen so far are ignored
//  4. Longer chains are kept only if they pass ledger.Chain.IsValid
//  5. The surviving chain, if any, replaces the local block sequence
//
// Chains are compared by block count only; the work spent on them is not
// weighed. Each node decides on its own, there is no quorum.
package consensus
