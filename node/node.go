// Package node assembles a darshcoin node: one chain, the peers it
// reconciles with, an optional block store and the background loops that
// keep it in sync.
package node

import (
	"context"
	"encoding/hex"
	"fmt"
	"log/slog"
	"time"

	"github.com/gofrs/uuid"

	"github.com/luca-patrignani/darshcoin/config"
	"github.com/luca-patrignani/darshcoin/consensus"
	"github.com/luca-patrignani/darshcoin/discovery"
	"github.com/luca-patrignani/darshcoin/ledger"
	"github.com/luca-patrignani/darshcoin/network"
	"github.com/luca-patrignani/darshcoin/store"
)

// Node is a single darshcoin process. It implements network.Ledger.
type Node struct {
	cfg      config.Config
	address  string
	chain    *ledger.Chain
	peers    *consensus.PeerSet
	resolver *consensus.Resolver
	store    *store.Store
	logger   *slog.Logger
	fetcher  consensus.Fetcher
	clock    func() time.Time
}

var _ network.Ledger = (*Node)(nil)

type nodeOption func(Node) Node

func WithLogger(logger *slog.Logger) nodeOption {
	return func(n Node) Node {
		n.logger = logger
		return n
	}
}

// WithFetcher replaces the HTTP client used to fetch peer chains.
func WithFetcher(f consensus.Fetcher) nodeOption {
	return func(n Node) Node {
		n.fetcher = f
		return n
	}
}

// WithClock sets the source of block timestamps.
func WithClock(now func() time.Time) nodeOption {
	return func(n Node) Node {
		n.clock = now
		return n
	}
}

// New builds a node from cfg. When cfg.DBPath is set, the chain stored
// there is restored; a missing or invalid snapshot leaves the node with a
// fresh genesis block.
func New(cfg config.Config, opts ...nodeOption) (*Node, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	id, err := uuid.NewV4()
	if err != nil {
		return nil, fmt.Errorf("failed to generate node address: %w", err)
	}
	n := &Node{
		cfg:     cfg,
		address: hex.EncodeToString(id.Bytes()),
		logger:  slog.Default(),
		clock:   time.Now,
	}
	for _, opt := range opts {
		*n = opt(*n)
	}
	if n.fetcher == nil {
		n.fetcher, err = newClient(cfg)
		if err != nil {
			return nil, err
		}
	}

	n.chain = ledger.NewChain(
		ledger.WithSolver(ledger.NewProofOfWork(cfg.Difficulty).WithWorkers(cfg.Workers)),
		ledger.WithClock(n.clock),
	)
	n.peers, err = consensus.NewPeerSet(cfg.Peers...)
	if err != nil {
		return nil, err
	}
	n.resolver = consensus.NewResolver(n.peers, n.fetcher,
		consensus.WithFetchTimeout(cfg.FetchTimeout),
		consensus.WithLogger(n.logger),
	)

	if cfg.DBPath != "" {
		n.store, err = store.Open(cfg.DBPath)
		if err != nil {
			return nil, err
		}
		n.restore()
	}
	return n, nil
}

// newClient reaches peers over HTTPS when a CA file is configured.
func newClient(cfg config.Config) (consensus.Fetcher, error) {
	if cfg.TLS.CAFile == "" {
		return network.NewClient(network.WithTimeout(cfg.FetchTimeout)), nil
	}
	pool, err := network.LoadCertPool(cfg.TLS.CAFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load peer CAs: %w", err)
	}
	return network.NewClient(network.WithTimeout(cfg.FetchTimeout), network.WithRootCAs(pool)), nil
}

func (n *Node) restore() {
	blocks, err := n.store.Load()
	if err != nil {
		n.logger.Warn("stored chain ignored", "path", n.cfg.DBPath, "error", err.Error())
		return
	}
	if blocks == nil {
		return
	}
	if err := n.chain.Restore(blocks); err != nil {
		n.logger.Warn("stored chain ignored", "path", n.cfg.DBPath, "error", err.Error())
		return
	}
	n.logger.Info("chain restored", "path", n.cfg.DBPath, "length", len(blocks))
}

// Address is the miner address credited with the reward of every block
// mined by this node.
func (n *Node) Address() string {
	return n.address
}

// Mine seals the pending transactions into a new block.
func (n *Node) Mine() (ledger.Block, error) {
	block, err := n.chain.MineBlock(n.address)
	if err != nil {
		return ledger.Block{}, err
	}
	n.logger.Info("block mined", "index", block.Index, "proof", block.Proof, "transactions", len(block.Transactions))
	n.snapshot()
	return block, nil
}

// Chain returns the current chain and its length.
func (n *Node) Chain() consensus.PeerChain {
	blocks := n.chain.Blocks()
	return consensus.PeerChain{Chain: blocks, Length: len(blocks)}
}

// Validate reports whether the current chain is valid.
func (n *Node) Validate() bool {
	if err := n.chain.Verify(); err != nil {
		n.logger.Warn("chain is not valid", "error", err.Error())
		return false
	}
	return true
}

// AddTransaction queues tx and returns the index of the block that will
// include it.
func (n *Node) AddTransaction(tx ledger.Transaction) (int, error) {
	return n.chain.AddTransaction(tx.Sender, tx.Receiver, tx.Amount)
}

// RegisterPeers adds every address to the peer set and returns the whole
// set. If one address is invalid, none is added.
func (n *Node) RegisterPeers(addresses []string) ([]string, error) {
	for _, a := range addresses {
		if _, err := consensus.NormalizeAddress(a); err != nil {
			return nil, err
		}
	}
	for _, a := range addresses {
		if _, err := n.peers.Add(a); err != nil {
			return nil, err
		}
	}
	return n.peers.Peers(), nil
}

// Peers returns the registered peers.
func (n *Node) Peers() []string {
	return n.peers.Peers()
}

// Reconcile adopts the longest valid chain among the peers.
func (n *Node) Reconcile(ctx context.Context) (bool, []ledger.Block) {
	replaced, blocks := n.resolver.Reconcile(ctx, n.chain)
	if replaced {
		n.snapshot()
	}
	return replaced, blocks
}

// Run reconciles every cfg.ReconcileInterval and, when discovery is
// enabled, registers the nodes announced on the LAN. It returns when ctx is
// done.
func (n *Node) Run(ctx context.Context) error {
	var entries <-chan discovery.Entry
	if n.cfg.Discovery.Enabled {
		d := discovery.New(n.cfg.AdvertisedAddress(),
			discovery.WithPort(n.cfg.Discovery.Port),
			discovery.WithInterval(n.cfg.Discovery.Interval),
			discovery.WithLogger(n.logger),
		)
		if err := d.Start(); err != nil {
			return fmt.Errorf("failed to start discovery: %w", err)
		}
		defer func() {
			if err := d.Close(); err != nil {
				n.logger.Warn("failed to stop discovery", "error", err.Error())
			}
		}()
		entries = d.Entries
	}

	var tick <-chan time.Time
	if n.cfg.ReconcileInterval > 0 {
		ticker := time.NewTicker(n.cfg.ReconcileInterval)
		defer ticker.Stop()
		tick = ticker.C
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-tick:
			n.Reconcile(ctx)
		case entry, ok := <-entries:
			if !ok {
				entries = nil
				continue
			}
			n.discovered(entry.Address)
		}
	}
}

func (n *Node) discovered(address string) {
	if address == n.cfg.AdvertisedAddress() {
		return
	}
	before := n.peers.Len()
	peer, err := n.peers.Add(address)
	if err != nil {
		n.logger.Debug("discovered address ignored", "address", address, "error", err.Error())
		return
	}
	if n.peers.Len() > before {
		n.logger.Info("peer discovered", "peer", peer)
	}
}

func (n *Node) snapshot() {
	if n.store == nil {
		return
	}
	if err := n.store.Save(n.chain.Blocks()); err != nil {
		n.logger.Error("failed to save chain", "path", n.cfg.DBPath, "error", err.Error())
	}
}

// Close releases the block store.
func (n *Node) Close() error {
	if n.store == nil {
		return nil
	}
	if err := n.store.Close(); err != nil {
		return fmt.Errorf("failed to close block store: %w", err)
	}
	return nil
}
