package main

import (
	"fmt"
	"time"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/luca-patrignani/darshcoin/consensus"
	"github.com/luca-patrignani/darshcoin/ledger"
	"github.com/luca-patrignani/darshcoin/network"
)

func newChainCommand() *cobra.Command {
	var (
		caFile     string
		timeout    time.Duration
		difficulty int
	)
	cmd := &cobra.Command{
		Use:   "chain <address>",
		Short: "Print the chain of a node",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			address, err := consensus.NormalizeAddress(args[0])
			if err != nil {
				return err
			}
			client := network.NewClient(network.WithTimeout(timeout))
			if caFile != "" {
				pool, err := network.LoadCertPool(caFile)
				if err != nil {
					return err
				}
				client = network.NewClient(network.WithTimeout(timeout), network.WithRootCAs(pool))
			}

			spinner, _ := pterm.DefaultSpinner.Start(fmt.Sprintf("Fetching the chain of %s ...", address))
			chain, err := client.FetchChain(cmd.Context(), address)
			if err != nil {
				spinner.Fail()
				return err
			}
			spinner.Success()

			pterm.DefaultTable.WithHasHeader().WithData(chainTable(chain.Chain)).Render()
			verifier := ledger.NewChain(ledger.WithSolver(ledger.NewProofOfWork(difficulty)))
			if verifier.IsValid(chain.Chain) {
				pterm.Success.Printfln("%d blocks, valid at difficulty %d", chain.Length, difficulty)
			} else {
				pterm.Warning.Printfln("%d blocks, NOT valid at difficulty %d", chain.Length, difficulty)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&caFile, "ca", "", "PEM certificates trusted to reach the node over HTTPS")
	cmd.Flags().DurationVar(&timeout, "timeout", consensus.DefaultFetchTimeout, "request timeout")
	cmd.Flags().IntVar(&difficulty, "difficulty", ledger.DefaultDifficulty, "difficulty used to verify the chain")
	return cmd
}
