package consensus

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/luca-patrignani/darshcoin/ledger"
)

// DefaultFetchTimeout bounds a single peer fetch.
const DefaultFetchTimeout = 5 * time.Second

// PeerChain is the chain reported by a peer.
type PeerChain struct {
	Chain  []ledger.Block `json:"chain"`
	Length int            `json:"length"`
}

// Fetcher retrieves the full chain of a peer.
type Fetcher interface {
	FetchChain(ctx context.Context, address string) (PeerChain, error)
}

// LocalChain is the part of ledger.Chain the resolver needs.
type LocalChain interface {
	Len() int
	IsValid(candidate []ledger.Block) bool
	Replace(candidate []ledger.Block) bool
	Blocks() []ledger.Block
}

// Resolver applies the longest valid chain rule against the registered peers.
type Resolver struct {
	peers   *PeerSet
	fetcher Fetcher
	timeout time.Duration
	logger  *slog.Logger
}

type resolverOption func(Resolver) Resolver

// WithFetchTimeout bounds each peer fetch. A peer that does not answer in
// time is skipped.
func WithFetchTimeout(timeout time.Duration) resolverOption {
	return func(r Resolver) Resolver {
		r.timeout = timeout
		return r
	}
}

func WithLogger(logger *slog.Logger) resolverOption {
	return func(r Resolver) Resolver {
		r.logger = logger
		return r
	}
}

func NewResolver(peers *PeerSet, fetcher Fetcher, opts ...resolverOption) *Resolver {
	r := Resolver{
		peers:   peers,
		fetcher: fetcher,
		timeout: DefaultFetchTimeout,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		r = opt(r)
	}
	return &r
}

type fetchResult struct {
	peer  string
	chain PeerChain
	err   error
}

// Reconcile fetches the chain of every peer and replaces the local chain
// with the longest valid one, if it is strictly longer than the local chain.
//
// Unreachable peers and invalid chains are skipped. Among equally long
// candidates the first one in peer order wins. The returned blocks are the
// local chain after reconciliation.
func (r *Resolver) Reconcile(ctx context.Context, local LocalChain) (bool, []ledger.Block) {
	results := r.fetchAll(ctx, r.peers.Peers())

	maxLength := local.Len()
	var longest []ledger.Block
	var from string
	for _, res := range results {
		if res.err != nil {
			r.logger.Debug("peer skipped", "peer", res.peer, "error", res.err.Error())
			continue
		}
		length := res.chain.Length
		if length <= maxLength {
			continue
		}
		if length != len(res.chain.Chain) {
			r.logger.Debug("peer chain rejected", "peer", res.peer, "reason", "length mismatch",
				"length", length, "blocks", len(res.chain.Chain))
			continue
		}
		if !local.IsValid(res.chain.Chain) {
			r.logger.Debug("peer chain rejected", "peer", res.peer, "reason", "invalid chain", "length", length)
			continue
		}
		maxLength = length
		longest = res.chain.Chain
		from = res.peer
	}

	if longest == nil || !local.Replace(longest) {
		return false, local.Blocks()
	}
	r.logger.Info("chain replaced", "peer", from, "length", maxLength)
	return true, local.Blocks()
}

// fetchAll fetches every peer concurrently. Results keep the order of peers.
func (r *Resolver) fetchAll(ctx context.Context, peers []string) []fetchResult {
	results := make([]fetchResult, len(peers))
	var wg sync.WaitGroup
	for i, peer := range peers {
		wg.Add(1)
		go func(i int, peer string) {
			defer wg.Done()
			fetchCtx, cancel := context.WithTimeout(ctx, r.timeout)
			defer cancel()
			chain, err := r.fetcher.FetchChain(fetchCtx, peer)
			results[i] = fetchResult{peer: peer, chain: chain, err: err}
		}(i, peer)
	}
	wg.Wait()
	return results
}
