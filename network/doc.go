// Package network exposes a darshcoin node over HTTP and fetches the chains
// of its peers.
//
// # Core Components
//
// Server: Serves the node API (mine_block, get_chain, is_valid,
// add_transaction, connect_node, replace_chain) on top of a Ledger.
//
// Client: Implements consensus.Fetcher by calling the get_chain route of a
// peer.
//
// # Transport Security
//
// Both sides speak plain HTTP by default. A Server built WithCertificate
// serves HTTPS, and a Client built WithRootCAs reaches its peers over HTTPS,
// trusting only the given pool. GenerateSelfSignedCert creates a key pair
// suitable for a single node.
package network
