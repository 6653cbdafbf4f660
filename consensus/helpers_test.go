package consensus

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/luca-patrignani/darshcoin/ledger"
)

const testDifficulty = 2

func newLocalChain() *ledger.Chain {
	return ledger.NewChain(ledger.WithSolver(ledger.NewProofOfWork(testDifficulty)))
}

// buildChain mines a chain with length blocks, genesis included.
func buildChain(tb testing.TB, length int) *ledger.Chain {
	tb.Helper()
	c := newLocalChain()
	for c.Len() < length {
		if _, err := c.MineBlock("peer-miner"); err != nil {
			tb.Fatalf("failed to mine: %v", err)
		}
	}
	return c
}

func validPeerChain(tb testing.TB, length int) PeerChain {
	tb.Helper()
	return PeerChain{Chain: buildChain(tb, length).Blocks(), Length: length}
}

// invalidPeerChain returns a chain of the given length whose second block
// was altered after mining.
func invalidPeerChain(tb testing.TB, length int) PeerChain {
	tb.Helper()
	pc := validPeerChain(tb, length)
	pc.Chain[1].Transactions[0].Amount = 1_000_000
	return pc
}

var errUnreachable = errors.New("connection refused")

// fakeFetcher serves canned peer chains and records which peers were asked.
type fakeFetcher struct {
	mu     sync.Mutex
	chains map[string]PeerChain
	errs   map[string]error
	delay  map[string]time.Duration
	asked  []string
}

func newFakeFetcher() *fakeFetcher {
	return &fakeFetcher{
		chains: make(map[string]PeerChain),
		errs:   make(map[string]error),
		delay:  make(map[string]time.Duration),
	}
}

func (f *fakeFetcher) FetchChain(ctx context.Context, address string) (PeerChain, error) {
	f.mu.Lock()
	f.asked = append(f.asked, address)
	chain, ok := f.chains[address]
	err := f.errs[address]
	delay := f.delay[address]
	f.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return PeerChain{}, ctx.Err()
		}
	}
	if err != nil {
		return PeerChain{}, err
	}
	if !ok {
		return PeerChain{}, errUnreachable
	}
	return chain, nil
}

func (f *fakeFetcher) askedPeers() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.asked...)
}
