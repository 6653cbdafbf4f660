// Package ledger implements an append-only proof-of-work blockchain for a
// single node.
//
// # Core Components
//
// Chain: An ordered sequence of blocks plus a buffer of pending transactions.
// It owns block creation (CreateBlock, MineBlock) and validation (IsValid).
//
// Block: A batch of transactions linked to its predecessor through the hash
// of the previous block and sealed by a proof-of-work nonce.
//
// ProofOfWork: The puzzle used to seal blocks. A proof is valid when the hash
// of (proof² - previousProof²) starts with a fixed number of zero hex digits.
//
// # Security Properties
//
// The chain provides:
//   - Tamper detection: changing any field of a block breaks the hash link
//     stored in the following block
//   - Costly history: every block carries a proof that takes on average
//     16^difficulty hash evaluations to find
//
// # Usage
//
// Create a chain with NewChain, submit transactions with AddTransaction and
// seal them into a block with MineBlock. IsValid checks any candidate block
// sequence, for example one received from a peer, without touching the
// chain itself.
package ledger
