package main

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/pterm/pterm"
	"github.com/pterm/pterm/putils"

	"github.com/luca-patrignani/darshcoin/ledger"
)

func printBanner() {
	pterm.DefaultBigText.WithLetters(
		putils.LettersFromStringWithStyle("Darsh", pterm.FgYellow.ToStyle()),
		putils.LettersFromStringWithStyle("coin", pterm.FgDarkGray.ToStyle()),
	).Render()
}

// chainTable lays out one row per block, with a header row.
func chainTable(blocks []ledger.Block) pterm.TableData {
	data := pterm.TableData{{"Index", "Timestamp", "Proof", "Previous hash", "Transactions"}}
	for _, b := range blocks {
		data = append(data, []string{
			strconv.Itoa(b.Index),
			b.Timestamp.Format(time.DateTime),
			strconv.FormatInt(b.Proof, 10),
			shortHash(b.PreviousHash),
			describeTransactions(b.Transactions),
		})
	}
	return data
}

func shortHash(hash string) string {
	if len(hash) <= 12 {
		return hash
	}
	return hash[:12] + "…"
}

func describeTransactions(txs []ledger.Transaction) string {
	if len(txs) == 0 {
		return "-"
	}
	lines := make([]string, len(txs))
	for i, tx := range txs {
		lines[i] = fmt.Sprintf("%s -> %s: %s", shortHash(tx.Sender), tx.Receiver, strconv.FormatFloat(tx.Amount, 'f', -1, 64))
	}
	return strings.Join(lines, "\n")
}
