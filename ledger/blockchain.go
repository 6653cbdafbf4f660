package ledger

import (
	"errors"
	"fmt"
	"math"
	"sync"
	"time"
)

// ErrEmptyChain is returned when an operation needs at least one block and
// the chain has none.
var ErrEmptyChain = errors.New("chain has no blocks")

// ErrInvalidChain is returned when a block sequence fails validation.
var ErrInvalidChain = errors.New("invalid chain")

// ErrInvalidAmount is returned when a transaction amount is NaN or infinite.
var ErrInvalidAmount = errors.New("amount must be a finite number")

const (
	// DefaultRewardSink receives the reward transaction of every mined block.
	DefaultRewardSink = "You"
	// DefaultReward is the amount of the mining reward transaction.
	DefaultReward = 1.0
)

// Chain maintains an append-only sequence of blocks and the transactions
// waiting to be sealed in the next one.
type Chain struct {
	mu      sync.RWMutex // Protects blocks and pending
	mining  sync.Mutex   // Serializes MineBlock calls
	blocks  []Block
	pending []Transaction

	chainConfig
}

// chainConfig holds the settings fixed at construction.
type chainConfig struct {
	solver     Solver
	now        func() time.Time
	rewardSink string
	reward     float64
}

type chainOption func(chainConfig) chainConfig

// WithSolver replaces the default proof-of-work.
func WithSolver(s Solver) chainOption {
	return func(c chainConfig) chainConfig {
		c.solver = s
		return c
	}
}

// WithClock sets the source of block timestamps.
func WithClock(now func() time.Time) chainOption {
	return func(c chainConfig) chainConfig {
		c.now = now
		return c
	}
}

// WithReward sets the receiver and amount of the mining reward. A NaN or
// infinite amount is ignored.
func WithReward(sink string, amount float64) chainOption {
	return func(c chainConfig) chainConfig {
		c.rewardSink = sink
		if isFinite(amount) {
			c.reward = amount
		}
		return c
	}
}

// NewChain creates a chain holding only the genesis block.
//
// The genesis block:
//   - Has index 1 and proof 1
//   - Has previous hash "0"
//   - Contains no transactions
func NewChain(opts ...chainOption) *Chain {
	cfg := chainConfig{
		solver:     NewProofOfWork(DefaultDifficulty),
		now:        time.Now,
		rewardSink: DefaultRewardSink,
		reward:     DefaultReward,
	}
	for _, opt := range opts {
		cfg = opt(cfg)
	}
	c := &Chain{
		blocks:      make([]Block, 0),
		pending:     make([]Transaction, 0),
		chainConfig: cfg,
	}
	c.CreateBlock(GenesisProof, GenesisPreviousHash)
	return c
}

// CreateBlock seals the pending transactions into a new block and appends
// it. The block is not validated.
func (c *Chain) CreateBlock(proof int64, previousHash string) Block {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.createBlock(proof, previousHash)
}

// createBlock must be called with c.mu held.
func (c *Chain) createBlock(proof int64, previousHash string) Block {
	block := Block{
		Index:        len(c.blocks) + 1,
		Timestamp:    c.now().UTC(),
		Proof:        proof,
		PreviousHash: previousHash,
		Transactions: c.pending,
	}
	c.pending = make([]Transaction, 0)
	c.blocks = append(c.blocks, block)
	return copyBlocks([]Block{block})[0]
}

// PreviousBlock returns the last block of the chain.
func (c *Chain) PreviousBlock() (Block, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.previousBlock()
}

func (c *Chain) previousBlock() (Block, error) {
	if len(c.blocks) == 0 {
		return Block{}, ErrEmptyChain
	}
	return c.blocks[len(c.blocks)-1], nil
}

// MineBlock finds a proof for the next block, records the reward transaction
// for minerAddress and appends the new block.
//
// The proof search runs without holding the chain lock, so transactions can
// still be submitted while mining. If the chain is replaced during the
// search, the search is repeated on the new last block.
func (c *Chain) MineBlock(minerAddress string) (Block, error) {
	c.mining.Lock()
	defer c.mining.Unlock()

	for {
		previous, err := c.PreviousBlock()
		if err != nil {
			return Block{}, err
		}
		proof := c.solver.Solve(previous.Proof)
		previousHash := Hash(previous)

		c.mu.Lock()
		last, err := c.previousBlock()
		if err != nil {
			c.mu.Unlock()
			return Block{}, err
		}
		if last.Index != previous.Index || Hash(last) != previousHash {
			c.mu.Unlock()
			continue
		}
		c.pending = append(c.pending, Transaction{
			Sender:   minerAddress,
			Receiver: c.rewardSink,
			Amount:   c.reward,
		})
		block := c.createBlock(proof, previousHash)
		c.mu.Unlock()
		return block, nil
	}
}

// AddTransaction appends a transaction to the pending buffer and returns the
// index of the block it will be included in. NaN and infinite amounts are
// rejected with ErrInvalidAmount, since blocks must stay JSON encodable.
func (c *Chain) AddTransaction(sender, receiver string, amount float64) (int, error) {
	if !isFinite(amount) {
		return 0, fmt.Errorf("%w: %v", ErrInvalidAmount, amount)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pending = append(c.pending, Transaction{
		Sender:   sender,
		Receiver: receiver,
		Amount:   amount,
	})
	return len(c.blocks) + 1, nil
}

func isFinite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}

// IsValid reports whether candidate is a valid chain: it has at least one
// block, and every block stores the hash of its predecessor and a proof
// valid against the predecessor's proof. The candidate is not modified.
func (c *Chain) IsValid(candidate []Block) bool {
	return c.validate(candidate) == nil
}

// Verify validates the chain itself and describes the first violation.
func (c *Chain) Verify() error {
	return c.validate(c.Blocks())
}

func (c *Chain) validate(blocks []Block) error {
	if len(blocks) == 0 {
		return ErrEmptyChain
	}
	for i := 1; i < len(blocks); i++ {
		previous := blocks[i-1]
		current := blocks[i]
		if expected := Hash(previous); current.PreviousHash != expected {
			return fmt.Errorf("%w: block %d: invalid previous hash: expected %s, got %s",
				ErrInvalidChain, current.Index, expected, current.PreviousHash)
		}
		if !c.solver.IsValid(current.Proof, previous.Proof) {
			return fmt.Errorf("%w: block %d: proof %d does not solve previous proof %d",
				ErrInvalidChain, current.Index, current.Proof, previous.Proof)
		}
	}
	return nil
}

// Blocks returns a copy of the block sequence.
func (c *Chain) Blocks() []Block {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return copyBlocks(c.blocks)
}

// Len returns the number of blocks.
func (c *Chain) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.blocks)
}

// Pending returns a copy of the transactions waiting for the next block.
func (c *Chain) Pending() []Transaction {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return copyTransactions(c.pending)
}

// Replace swaps the block sequence for candidate if candidate is strictly
// longer than the current chain and valid. The pending buffer is kept.
func (c *Chain) Replace(candidate []Block) bool {
	if !c.IsValid(candidate) {
		return false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(candidate) <= len(c.blocks) {
		return false
	}
	c.blocks = copyBlocks(candidate)
	return true
}

// Restore loads a previously persisted block sequence, regardless of its
// length.
func (c *Chain) Restore(blocks []Block) error {
	if err := c.validate(blocks); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.blocks = copyBlocks(blocks)
	return nil
}
