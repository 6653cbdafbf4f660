package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/luca-patrignani/darshcoin/network"
)

func newGencertCommand() *cobra.Command {
	var dir string
	cmd := &cobra.Command{
		Use:   "gencert <host:port>",
		Short: "Generate a self-signed certificate for a node",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			_, certPEM, keyPEM, err := network.GenerateSelfSignedCert(args[0])
			if err != nil {
				return fmt.Errorf("failed to generate certificate: %w", err)
			}
			certPath := filepath.Join(dir, "cert.pem")
			keyPath := filepath.Join(dir, "key.pem")
			if err := os.WriteFile(certPath, certPEM, 0o644); err != nil {
				return err
			}
			if err := os.WriteFile(keyPath, keyPEM, 0o600); err != nil {
				return err
			}
			pterm.Success.Printfln("Certificate written to %s", certPath)
			pterm.Success.Printfln("Key written to %s", keyPath)
			return nil
		},
	}
	cmd.Flags().StringVarP(&dir, "out", "o", ".", "output directory")
	return cmd
}
