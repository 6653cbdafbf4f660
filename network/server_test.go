package network

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/luca-patrignani/darshcoin/consensus"
	"github.com/luca-patrignani/darshcoin/ledger"
)

// fakeLedger is a Ledger backed by a real chain and peer set, with no peers
// to reconcile with unless replaceWith is set.
type fakeLedger struct {
	chain       *ledger.Chain
	peers       *consensus.PeerSet
	mineErr     error
	addErr      error
	valid       bool
	replaceWith []ledger.Block
}

func newFakeLedger(t *testing.T) *fakeLedger {
	t.Helper()
	peers, err := consensus.NewPeerSet()
	require.NoError(t, err)
	return &fakeLedger{
		chain: ledger.NewChain(ledger.WithSolver(ledger.NewProofOfWork(2))),
		peers: peers,
		valid: true,
	}
}

func (f *fakeLedger) Mine() (ledger.Block, error) {
	if f.mineErr != nil {
		return ledger.Block{}, f.mineErr
	}
	return f.chain.MineBlock("miner")
}

func (f *fakeLedger) Chain() consensus.PeerChain {
	blocks := f.chain.Blocks()
	return consensus.PeerChain{Chain: blocks, Length: len(blocks)}
}

func (f *fakeLedger) Validate() bool {
	return f.valid
}

func (f *fakeLedger) AddTransaction(tx ledger.Transaction) (int, error) {
	if f.addErr != nil {
		return 0, f.addErr
	}
	return f.chain.AddTransaction(tx.Sender, tx.Receiver, tx.Amount)
}

func (f *fakeLedger) RegisterPeers(addresses []string) ([]string, error) {
	for _, a := range addresses {
		if _, err := f.peers.Add(a); err != nil {
			return nil, err
		}
	}
	return f.peers.Peers(), nil
}

func (f *fakeLedger) Reconcile(ctx context.Context) (bool, []ledger.Block) {
	if f.replaceWith != nil && f.chain.Replace(f.replaceWith) {
		return true, f.chain.Blocks()
	}
	return false, f.chain.Blocks()
}

func do(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body
}

func TestMineBlock(t *testing.T) {
	l := newFakeLedger(t)
	s := NewServer("", l)
	l.chain.AddTransaction("alice", "bob", 2)

	rec := do(t, s.Handler(), http.MethodGet, "/mine_block", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	body := decode(t, rec)
	assert.Equal(t, minedMessage, body["message"])
	assert.EqualValues(t, 2, body["index"])
	assert.Equal(t, ledger.Hash(l.chain.Blocks()[0]), body["previous_hash"])
	assert.Contains(t, body, "timestamp")
	assert.Contains(t, body, "proof")
	txs, ok := body["transactions"].([]any)
	require.True(t, ok)
	assert.Len(t, txs, 2)
	assert.Equal(t, 2, l.chain.Len())
}

func TestMineBlockFailure(t *testing.T) {
	l := newFakeLedger(t)
	l.mineErr = errors.New("boom")
	s := NewServer("", l)

	rec := do(t, s.Handler(), http.MethodGet, "/mine_block", "")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "boom", decode(t, rec)["message"])
}

func TestGetChain(t *testing.T) {
	l := newFakeLedger(t)
	_, err := l.chain.MineBlock("miner")
	require.NoError(t, err)
	s := NewServer("", l)

	rec := do(t, s.Handler(), http.MethodGet, "/get_chain", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var chain consensus.PeerChain
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &chain))
	assert.Equal(t, 2, chain.Length)
	assert.Equal(t, l.chain.Blocks(), chain.Chain)
	assert.True(t, l.chain.IsValid(chain.Chain))
}

func TestIsValid(t *testing.T) {
	l := newFakeLedger(t)
	s := NewServer("", l)

	rec := do(t, s.Handler(), http.MethodGet, "/is_valid", "")
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, validMessage, body["message"])
	assert.Equal(t, true, body["valid"])

	l.valid = false
	rec = do(t, s.Handler(), http.MethodGet, "/is_valid", "")
	require.Equal(t, http.StatusOK, rec.Code)
	body = decode(t, rec)
	assert.Equal(t, invalidMessage, body["message"])
	assert.Equal(t, false, body["valid"])
}

func TestAddTransaction(t *testing.T) {
	l := newFakeLedger(t)
	s := NewServer("", l)

	rec := do(t, s.Handler(), http.MethodPost, "/add_transaction",
		`{"sender": "alice", "receiver": "bob", "amount": 10}`)
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, "This transaction will be added to Block 2", decode(t, rec)["message"])
	assert.Equal(t, []ledger.Transaction{{Sender: "alice", Receiver: "bob", Amount: 10}}, l.chain.Pending())
}

func TestAddTransactionRejected(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		message string
	}{
		{"missing amount", `{"sender": "alice", "receiver": "bob"}`, missingTxMessage + ": amount"},
		{"missing all", `{}`, missingTxMessage + ": sender, receiver, amount"},
		{"null", `null`, missingTxMessage + ": sender, receiver, amount"},
		{"not json", `sender=alice`, ""},
		{"wrong type", `{"sender": "alice", "receiver": "bob", "amount": "ten"}`, ""},
		{"amount out of range", `{"sender": "alice", "receiver": "bob", "amount": 1e999}`, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l := newFakeLedger(t)
			s := NewServer("", l)
			rec := do(t, s.Handler(), http.MethodPost, "/add_transaction", tt.body)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			if tt.message != "" {
				assert.Equal(t, tt.message, decode(t, rec)["message"])
			}
			assert.Empty(t, l.chain.Pending())
		})
	}
}

func TestAddTransactionLedgerError(t *testing.T) {
	l := newFakeLedger(t)
	l.addErr = ledger.ErrInvalidAmount
	s := NewServer("", l)

	rec := do(t, s.Handler(), http.MethodPost, "/add_transaction",
		`{"sender": "alice", "receiver": "bob", "amount": 10}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, ledger.ErrInvalidAmount.Error(), decode(t, rec)["message"])
	assert.Empty(t, l.chain.Pending())
}

func TestConnectNode(t *testing.T) {
	l := newFakeLedger(t)
	s := NewServer("", l)

	rec := do(t, s.Handler(), http.MethodPost, "/connect_node",
		`{"nodes": ["http://127.0.0.1:5001", "http://127.0.0.1:5002/", "127.0.0.1:5001"]}`)
	require.Equal(t, http.StatusCreated, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, connectedMessage, body["message"])
	assert.Equal(t, []any{"127.0.0.1:5001", "127.0.0.1:5002"}, body["total_nodes"])
}

func TestConnectNodeRejected(t *testing.T) {
	for _, body := range []string{`{}`, `{"nodes": null}`, `{"nodes": ["http://"]}`, `nodes`} {
		t.Run(body, func(t *testing.T) {
			l := newFakeLedger(t)
			s := NewServer("", l)
			rec := do(t, s.Handler(), http.MethodPost, "/connect_node", body)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
		})
	}
}

func TestReplaceChain(t *testing.T) {
	l := newFakeLedger(t)
	s := NewServer("", l)

	rec := do(t, s.Handler(), http.MethodGet, "/replace_chain", "")
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, keptMessage, body["message"])
	assert.Len(t, body["actual_chain"], 1)
	assert.NotContains(t, body, "new_chain")

	longer := ledger.NewChain(ledger.WithSolver(ledger.NewProofOfWork(2)))
	for i := 0; i < 2; i++ {
		_, err := longer.MineBlock("other")
		require.NoError(t, err)
	}
	l.replaceWith = longer.Blocks()

	rec = do(t, s.Handler(), http.MethodGet, "/replace_chain", "")
	require.Equal(t, http.StatusOK, rec.Code)
	body = decode(t, rec)
	assert.Equal(t, replacedMessage, body["message"])
	assert.Len(t, body["new_chain"], 3)
	assert.NotContains(t, body, "actual_chain")
}

func TestMethodNotAllowed(t *testing.T) {
	s := NewServer("", newFakeLedger(t))
	rec := do(t, s.Handler(), http.MethodPost, "/mine_block", "")
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
	rec = do(t, s.Handler(), http.MethodGet, "/add_transaction", "")
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
	rec = do(t, s.Handler(), http.MethodGet, "/unknown", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestServerStartAndClose(t *testing.T) {
	l := newFakeLedger(t)
	listener := newListener(t)
	s := NewServer(listener.Addr().String(), l)
	s.Start(listener)

	chain, err := NewClient(WithTimeout(5*time.Second)).FetchChain(context.Background(), listener.Addr().String())
	require.NoError(t, err)
	assert.Equal(t, 1, chain.Length)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, s.Close(ctx))
}
