package ledger

import (
	"fmt"
	"strings"
	"time"
)

// GenesisPreviousHash is the previous hash recorded in the genesis block.
const GenesisPreviousHash = "0"

// GenesisProof is the proof recorded in the genesis block.
const GenesisProof int64 = 1

// Block is a sealed batch of transactions.
type Block struct {
	Index        int           `json:"index"`
	Timestamp    time.Time     `json:"timestamp"`
	Proof        int64         `json:"proof"`
	PreviousHash string        `json:"previous_hash"`
	Transactions []Transaction `json:"transactions"`
}

// Transaction moves an amount from sender to receiver.
type Transaction struct {
	Sender   string  `json:"sender"`
	Receiver string  `json:"receiver"`
	Amount   float64 `json:"amount"`
}

// TransactionRequest is a transaction as submitted by a client, where any
// field may be missing.
type TransactionRequest struct {
	Sender   *string  `json:"sender"`
	Receiver *string  `json:"receiver"`
	Amount   *float64 `json:"amount"`
}

// Transaction returns the submitted transaction, or a
// *MalformedTransactionError listing the missing or invalid fields.
func (r TransactionRequest) Transaction() (Transaction, error) {
	var missing, invalid []string
	if r.Sender == nil {
		missing = append(missing, "sender")
	}
	if r.Receiver == nil {
		missing = append(missing, "receiver")
	}
	if r.Amount == nil {
		missing = append(missing, "amount")
	} else if !isFinite(*r.Amount) {
		invalid = append(invalid, "amount")
	}
	if len(missing) > 0 || len(invalid) > 0 {
		return Transaction{}, &MalformedTransactionError{Missing: missing, Invalid: invalid}
	}
	return Transaction{Sender: *r.Sender, Receiver: *r.Receiver, Amount: *r.Amount}, nil
}

// MalformedTransactionError is returned when a submitted transaction lacks
// one of its required fields or carries an unusable value.
type MalformedTransactionError struct {
	Missing []string
	Invalid []string
}

func (e *MalformedTransactionError) Error() string {
	var problems []string
	if len(e.Missing) > 0 {
		problems = append(problems, "missing "+strings.Join(e.Missing, ", "))
	}
	if len(e.Invalid) > 0 {
		problems = append(problems, "invalid "+strings.Join(e.Invalid, ", "))
	}
	return fmt.Sprintf("malformed transaction: %s", strings.Join(problems, "; "))
}

func copyBlocks(blocks []Block) []Block {
	copied := make([]Block, len(blocks))
	for i, b := range blocks {
		copied[i] = b
		copied[i].Transactions = copyTransactions(b.Transactions)
	}
	return copied
}

func copyTransactions(txs []Transaction) []Transaction {
	copied := make([]Transaction, len(txs))
	copy(copied, txs)
	return copied
}
