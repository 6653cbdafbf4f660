package node

import (
	"context"
	"errors"
	"math"
	"path/filepath"
	"regexp"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/luca-patrignani/darshcoin/config"
	"github.com/luca-patrignani/darshcoin/consensus"
	"github.com/luca-patrignani/darshcoin/ledger"
)

type mapFetcher struct {
	mu     sync.Mutex
	chains map[string]consensus.PeerChain
}

func (f *mapFetcher) FetchChain(ctx context.Context, address string) (consensus.PeerChain, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	chain, ok := f.chains[address]
	if !ok {
		return consensus.PeerChain{}, errors.New("unreachable")
	}
	return chain, nil
}

func (f *mapFetcher) set(address string, chain consensus.PeerChain) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.chains[address] = chain
}

func testConfig() config.Config {
	cfg := config.Default()
	cfg.Difficulty = 2
	return cfg
}

func newTestNode(t *testing.T, cfg config.Config) (*Node, *mapFetcher) {
	t.Helper()
	f := &mapFetcher{chains: make(map[string]consensus.PeerChain)}
	n, err := New(cfg, WithFetcher(f))
	require.NoError(t, err)
	t.Cleanup(func() { assert.NoError(t, n.Close()) })
	return n, f
}

func peerChain(t *testing.T, length int) consensus.PeerChain {
	t.Helper()
	c := ledger.NewChain(ledger.WithSolver(ledger.NewProofOfWork(2)))
	for c.Len() < length {
		_, err := c.MineBlock("peer")
		require.NoError(t, err)
	}
	return consensus.PeerChain{Chain: c.Blocks(), Length: length}
}

func TestNewNode(t *testing.T) {
	n, _ := newTestNode(t, testConfig())
	assert.Regexp(t, regexp.MustCompile(`^[0-9a-f]{32}$`), n.Address())
	assert.Equal(t, 1, n.Chain().Length)
	assert.True(t, n.Validate())

	other, _ := newTestNode(t, testConfig())
	assert.NotEqual(t, n.Address(), other.Address())
}

func TestNewNodeInvalidConfig(t *testing.T) {
	cfg := testConfig()
	cfg.Workers = 0
	_, err := New(cfg)
	assert.ErrorContains(t, err, "invalid configuration")

	cfg = testConfig()
	cfg.Peers = []string{"http://"}
	_, err = New(cfg)
	assert.Error(t, err)

	cfg = testConfig()
	cfg.TLS.CAFile = filepath.Join(t.TempDir(), "missing.pem")
	_, err = New(cfg)
	assert.ErrorContains(t, err, "failed to load peer CAs")
}

func TestMineCreditsNode(t *testing.T) {
	n, _ := newTestNode(t, testConfig())
	index, err := n.AddTransaction(ledger.Transaction{Sender: "alice", Receiver: "bob", Amount: 4})
	require.NoError(t, err)
	assert.Equal(t, 2, index)

	block, err := n.Mine()
	require.NoError(t, err)
	assert.Equal(t, 2, block.Index)
	require.Len(t, block.Transactions, 2)
	assert.Equal(t, ledger.Transaction{Sender: n.Address(), Receiver: ledger.DefaultRewardSink, Amount: ledger.DefaultReward},
		block.Transactions[1])
	assert.Equal(t, 2, n.Chain().Length)
	assert.True(t, n.Validate())
}

func TestAddTransactionRejectsNonFiniteAmount(t *testing.T) {
	n, _ := newTestNode(t, testConfig())
	_, err := n.AddTransaction(ledger.Transaction{Sender: "alice", Receiver: "bob", Amount: math.Inf(1)})
	assert.ErrorIs(t, err, ledger.ErrInvalidAmount)

	block, err := n.Mine()
	require.NoError(t, err)
	assert.Len(t, block.Transactions, 1)
	assert.True(t, n.Validate())
}

func TestClock(t *testing.T) {
	at := time.Date(2024, 5, 1, 12, 0, 0, 0, time.FixedZone("CEST", 2*60*60))
	n, err := New(testConfig(), WithFetcher(&mapFetcher{}), WithClock(func() time.Time { return at }))
	require.NoError(t, err)
	block, err := n.Mine()
	require.NoError(t, err)
	assert.True(t, at.Equal(block.Timestamp))
	assert.Equal(t, time.UTC, block.Timestamp.Location())
}

func TestRegisterPeers(t *testing.T) {
	cfg := testConfig()
	cfg.Peers = []string{"127.0.0.1:5001"}
	n, _ := newTestNode(t, cfg)

	peers, err := n.RegisterPeers([]string{"http://127.0.0.1:5002/", "http://127.0.0.1:5001"})
	require.NoError(t, err)
	assert.Equal(t, []string{"127.0.0.1:5001", "127.0.0.1:5002"}, peers)

	_, err = n.RegisterPeers([]string{"127.0.0.1:5003", ""})
	assert.Error(t, err)
	assert.Equal(t, []string{"127.0.0.1:5001", "127.0.0.1:5002"}, n.Peers())
}

func TestReconcile(t *testing.T) {
	cfg := testConfig()
	cfg.Peers = []string{"127.0.0.1:5001", "127.0.0.1:5002"}
	n, f := newTestNode(t, cfg)
	longest := peerChain(t, 4)
	f.set("127.0.0.1:5001", longest)
	f.set("127.0.0.1:5002", peerChain(t, 2))

	replaced, blocks := n.Reconcile(context.Background())
	assert.True(t, replaced)
	assert.Equal(t, longest.Chain, blocks)

	replaced, blocks = n.Reconcile(context.Background())
	assert.False(t, replaced)
	assert.Equal(t, longest.Chain, blocks)
}

func TestPersistence(t *testing.T) {
	cfg := testConfig()
	cfg.DBPath = filepath.Join(t.TempDir(), "chain.db")
	cfg.Peers = []string{"127.0.0.1:5001"}

	f := &mapFetcher{chains: map[string]consensus.PeerChain{"127.0.0.1:5001": peerChain(t, 3)}}
	n, err := New(cfg, WithFetcher(f))
	require.NoError(t, err)
	replaced, _ := n.Reconcile(context.Background())
	require.True(t, replaced)
	_, err = n.Mine()
	require.NoError(t, err)
	want := n.Chain()
	require.NoError(t, n.Close())

	restarted, err := New(cfg, WithFetcher(f))
	require.NoError(t, err)
	defer restarted.Close()
	assert.Equal(t, want, restarted.Chain())
	assert.True(t, restarted.Validate())
}

func TestPersistenceDifficultyMismatch(t *testing.T) {
	cfg := testConfig()
	cfg.DBPath = filepath.Join(t.TempDir(), "chain.db")
	n, err := New(cfg, WithFetcher(&mapFetcher{}))
	require.NoError(t, err)
	_, err = n.Mine()
	require.NoError(t, err)
	require.NoError(t, n.Close())

	// a chain mined at difficulty 2 rarely holds at difficulty 8
	cfg.Difficulty = 8
	restarted, err := New(cfg, WithFetcher(&mapFetcher{}))
	require.NoError(t, err)
	defer restarted.Close()
	assert.Equal(t, 1, restarted.Chain().Length)
}

func TestRunReconcilesPeriodically(t *testing.T) {
	cfg := testConfig()
	cfg.Peers = []string{"127.0.0.1:5001"}
	cfg.ReconcileInterval = 20 * time.Millisecond
	n, f := newTestNode(t, cfg)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- n.Run(ctx) }()

	f.set("127.0.0.1:5001", peerChain(t, 3))
	assert.Eventually(t, func() bool { return n.Chain().Length == 3 }, 5*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return")
	}
}

func TestDiscovered(t *testing.T) {
	cfg := testConfig()
	cfg.Advertise = "10.0.0.1:5003"
	n, _ := newTestNode(t, cfg)

	n.discovered("10.0.0.1:5003")
	n.discovered("10.0.0.2:5003")
	n.discovered("10.0.0.2:5003")
	n.discovered("")
	assert.Equal(t, []string{"10.0.0.2:5003"}, n.Peers())
}
