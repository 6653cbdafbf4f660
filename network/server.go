package network

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/luca-patrignani/darshcoin/consensus"
	"github.com/luca-patrignani/darshcoin/ledger"
)

const (
	minedMessage       = "Congratulations, you just mined a block!"
	validMessage       = "The blockchain is valid. :)"
	invalidMessage     = "Unfortunately, the block chain is NOT valid! :("
	connectedMessage   = "All the nodes are now connected. The Darshcoin Blockchain now contains the following nodes:"
	replacedMessage    = "The nodes had different chains so the chain was replaced by the longest one."
	keptMessage        = "All good. The chain is the largest one."
	missingTxMessage   = "Some elements of the transaction are missing"
	missingNodeMessage = "No node"
)

// Ledger is the set of node operations published by the Server.
type Ledger interface {
	Mine() (ledger.Block, error)
	Chain() consensus.PeerChain
	Validate() bool
	AddTransaction(tx ledger.Transaction) (int, error)
	RegisterPeers(addresses []string) ([]string, error)
	Reconcile(ctx context.Context) (bool, []ledger.Block)
}

// Server is the HTTP front end of a node.
type Server struct {
	server    *http.Server
	tlsConfig *tls.Config
	logger    *slog.Logger
	ledger    Ledger
}

func NewServer(address string, l Ledger, opts ...serverOption) Server {
	s := Server{
		server: &http.Server{
			Addr:              address,
			ReadHeaderTimeout: 10 * time.Second,
		},
		logger: slog.Default(),
		ledger: l,
	}
	for _, opt := range opts {
		s = opt(s)
	}
	s.server.Handler = s.routes()
	s.server.TLSConfig = s.tlsConfig
	return s
}

// Handler returns the router of the server.
func (s Server) Handler() http.Handler {
	return s.server.Handler
}

// Start serves requests on l in the background. If the server was built
// WithCertificate, l is wrapped in a TLS listener.
func (s Server) Start(l net.Listener) {
	if s.tlsConfig != nil {
		l = tls.NewListener(l, s.tlsConfig)
	}
	go func() {
		err := s.server.Serve(l)
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("server stopped", "address", l.Addr().String(), "error", err.Error())
		}
	}()
}

// Close stops the server, waiting for in-flight requests until ctx expires.
func (s Server) Close(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

func (s Server) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /mine_block", s.mineBlock)
	mux.HandleFunc("GET /get_chain", s.getChain)
	mux.HandleFunc("GET /is_valid", s.isValid)
	mux.HandleFunc("POST /add_transaction", s.addTransaction)
	mux.HandleFunc("POST /connect_node", s.connectNode)
	mux.HandleFunc("GET /replace_chain", s.replaceChain)
	return mux
}

type messageResponse struct {
	Message string `json:"message"`
}

type mineResponse struct {
	Message string `json:"message"`
	ledger.Block
}

type validResponse struct {
	Message string `json:"message"`
	Valid   bool   `json:"valid"`
}

type connectRequest struct {
	Nodes []string `json:"nodes"`
}

type connectResponse struct {
	Message    string   `json:"message"`
	TotalNodes []string `json:"total_nodes"`
}

type replaceResponse struct {
	Message     string         `json:"message"`
	NewChain    []ledger.Block `json:"new_chain,omitempty"`
	ActualChain []ledger.Block `json:"actual_chain,omitempty"`
}

func (s Server) mineBlock(w http.ResponseWriter, r *http.Request) {
	block, err := s.ledger.Mine()
	if err != nil {
		s.logger.Error("mining failed", "error", err.Error())
		s.writeJSON(w, http.StatusInternalServerError, messageResponse{Message: err.Error()})
		return
	}
	s.writeJSON(w, http.StatusOK, mineResponse{Message: minedMessage, Block: block})
}

func (s Server) getChain(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.ledger.Chain())
}

func (s Server) isValid(w http.ResponseWriter, r *http.Request) {
	if s.ledger.Validate() {
		s.writeJSON(w, http.StatusOK, validResponse{Message: validMessage, Valid: true})
		return
	}
	s.writeJSON(w, http.StatusOK, validResponse{Message: invalidMessage, Valid: false})
}

func (s Server) addTransaction(w http.ResponseWriter, r *http.Request) {
	var req ledger.TransactionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeJSON(w, http.StatusBadRequest, messageResponse{Message: fmt.Sprintf("invalid transaction: %v", err)})
		return
	}
	tx, err := req.Transaction()
	if err != nil {
		var malformed *ledger.MalformedTransactionError
		if errors.As(err, &malformed) && len(malformed.Missing) > 0 {
			s.writeJSON(w, http.StatusBadRequest, messageResponse{Message: missingTxMessage + ": " + strings.Join(malformed.Missing, ", ")})
			return
		}
		s.writeJSON(w, http.StatusBadRequest, messageResponse{Message: err.Error()})
		return
	}
	index, err := s.ledger.AddTransaction(tx)
	if err != nil {
		s.writeJSON(w, http.StatusBadRequest, messageResponse{Message: err.Error()})
		return
	}
	s.writeJSON(w, http.StatusCreated, messageResponse{
		Message: fmt.Sprintf("This transaction will be added to Block %d", index),
	})
}

func (s Server) connectNode(w http.ResponseWriter, r *http.Request) {
	var req connectRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeJSON(w, http.StatusBadRequest, messageResponse{Message: fmt.Sprintf("invalid request: %v", err)})
		return
	}
	if req.Nodes == nil {
		s.writeJSON(w, http.StatusBadRequest, messageResponse{Message: missingNodeMessage})
		return
	}
	peers, err := s.ledger.RegisterPeers(req.Nodes)
	if err != nil {
		s.writeJSON(w, http.StatusBadRequest, messageResponse{Message: err.Error()})
		return
	}
	s.writeJSON(w, http.StatusCreated, connectResponse{Message: connectedMessage, TotalNodes: peers})
}

func (s Server) replaceChain(w http.ResponseWriter, r *http.Request) {
	replaced, chain := s.ledger.Reconcile(r.Context())
	if replaced {
		s.writeJSON(w, http.StatusOK, replaceResponse{Message: replacedMessage, NewChain: chain})
		return
	}
	s.writeJSON(w, http.StatusOK, replaceResponse{Message: keptMessage, ActualChain: chain})
}

func (s Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Warn("failed to write response", "status", status, "error", err.Error())
	}
}
