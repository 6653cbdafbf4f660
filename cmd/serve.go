package main

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/luca-patrignani/darshcoin/config"
	"github.com/luca-patrignani/darshcoin/network"
	"github.com/luca-patrignani/darshcoin/node"
)

const shutdownTimeout = 5 * time.Second

func newServeCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run a node",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd.Flags())
			if err != nil {
				return err
			}
			return serve(cmd.Context(), cfg)
		},
	}
	addNodeFlags(cmd.Flags())
	return cmd
}

func addNodeFlags(flags *pflag.FlagSet) {
	d := config.Default()
	flags.StringP("config", "c", "", "YAML configuration file")
	flags.String("host", d.Host, "address to listen on")
	flags.IntP("port", "p", d.Port, "port to listen on, 0 picks a free one")
	flags.String("advertise", "", "host:port announced to other nodes")
	flags.StringSlice("peer", nil, "peer to reconcile with, repeatable; a partial address like 42:5001 is completed with the local network")
	flags.Int("difficulty", d.Difficulty, "leading zero hex digits required by the proof of work")
	flags.Int("workers", d.Workers, "goroutines searching for a proof")
	flags.Duration("fetch-timeout", d.FetchTimeout, "timeout of a single peer fetch")
	flags.Duration("reconcile-interval", d.ReconcileInterval, "time between automatic reconciliations, 0 disables them")
	flags.String("db", "", "bolt file keeping the chain across restarts")
	flags.Bool("discovery", d.Discovery.Enabled, "find peers on the LAN with UDP multicast")
	flags.Uint16("discovery-port", d.Discovery.Port, "UDP port of the discovery group")
	flags.String("tls-cert", "", "PEM certificate served over HTTPS")
	flags.String("tls-key", "", "PEM key of the certificate")
	flags.String("tls-ca", "", "PEM certificates trusted when fetching peer chains over HTTPS")
}

// loadConfig reads the configuration file, if any, and applies the flags
// that were set explicitly.
func loadConfig(flags *pflag.FlagSet) (config.Config, error) {
	cfg := config.Default()
	path, err := flags.GetString("config")
	if err != nil {
		return config.Config{}, err
	}
	if path != "" {
		cfg, err = config.Load(path)
		if err != nil {
			return config.Config{}, err
		}
	}

	var errs []error
	flags.Visit(func(f *pflag.Flag) {
		var err error
		switch f.Name {
		case "host":
			cfg.Host, err = flags.GetString(f.Name)
		case "port":
			cfg.Port, err = flags.GetInt(f.Name)
		case "advertise":
			cfg.Advertise, err = flags.GetString(f.Name)
		case "peer":
			var peers []string
			peers, err = flags.GetStringSlice(f.Name)
			cfg.Peers = append(cfg.Peers, peers...)
		case "difficulty":
			cfg.Difficulty, err = flags.GetInt(f.Name)
		case "workers":
			cfg.Workers, err = flags.GetInt(f.Name)
		case "fetch-timeout":
			cfg.FetchTimeout, err = flags.GetDuration(f.Name)
		case "reconcile-interval":
			cfg.ReconcileInterval, err = flags.GetDuration(f.Name)
		case "db":
			cfg.DBPath, err = flags.GetString(f.Name)
		case "discovery":
			cfg.Discovery.Enabled, err = flags.GetBool(f.Name)
		case "discovery-port":
			cfg.Discovery.Port, err = flags.GetUint16(f.Name)
		case "tls-cert":
			cfg.TLS.CertFile, err = flags.GetString(f.Name)
		case "tls-key":
			cfg.TLS.KeyFile, err = flags.GetString(f.Name)
		case "tls-ca":
			cfg.TLS.CAFile, err = flags.GetString(f.Name)
		}
		if err != nil {
			errs = append(errs, fmt.Errorf("flag --%s: %w", f.Name, err))
		}
	})
	if len(errs) > 0 {
		return config.Config{}, errs[0]
	}
	return cfg, cfg.Validate()
}

func serve(ctx context.Context, cfg config.Config) error {
	logger := newLogger()

	l, err := net.Listen("tcp", cfg.Address())
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", cfg.Address(), err)
	}
	cfg, err = resolveAddresses(cfg, l.Addr())
	if err != nil {
		return err
	}

	n, err := node.New(cfg, node.WithLogger(logger))
	if err != nil {
		return err
	}
	defer func() {
		if err := n.Close(); err != nil {
			logger.Error("failed to close node", "error", err.Error())
		}
	}()

	var s network.Server
	if cfg.TLSEnabled() {
		cert, err := tls.LoadX509KeyPair(cfg.TLS.CertFile, cfg.TLS.KeyFile)
		if err != nil {
			return fmt.Errorf("failed to load certificate: %w", err)
		}
		s = network.NewServer(l.Addr().String(), n, network.WithCertificate(cert), network.WithServerLogger(logger))
	} else {
		s = network.NewServer(l.Addr().String(), n, network.WithServerLogger(logger))
	}

	printBanner()
	printNodeInfo(cfg, n, l.Addr().String())
	s.Start(l)

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()
	runErr := n.Run(ctx)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := s.Close(shutdownCtx); err != nil {
		logger.Error("failed to stop server", "error", err.Error())
	}
	pterm.Info.Println("Node stopped")
	return runErr
}

// resolveAddresses fills the advertised address from the listener when it
// was not configured, and completes partial peer addresses relative to it.
func resolveAddresses(cfg config.Config, addr net.Addr) (config.Config, error) {
	tcpAddr, ok := addr.(*net.TCPAddr)
	if !ok {
		return cfg, fmt.Errorf("listener is not TCP")
	}
	if cfg.Advertise == "" {
		ip := tcpAddr.IP
		if ip == nil || ip.IsUnspecified() {
			local, err := localIPv4()
			if err != nil {
				return cfg, err
			}
			ip = local
		}
		cfg.Advertise = net.JoinHostPort(ip.String(), strconv.Itoa(tcpAddr.Port))
	}
	host, _, err := net.SplitHostPort(cfg.Advertise)
	if err != nil {
		return cfg, err
	}
	base := net.ParseIP(host).To4()
	if base == nil {
		return cfg, nil
	}
	peers := make([]string, 0, len(cfg.Peers))
	for _, p := range cfg.Peers {
		expanded, err := expandPeer(base, p)
		if err != nil {
			return cfg, err
		}
		peers = append(peers, expanded)
	}
	cfg.Peers = peers
	return cfg, nil
}

func printNodeInfo(cfg config.Config, n *node.Node, listening string) {
	scheme := "http"
	if cfg.TLSEnabled() {
		scheme = "https"
	}
	pterm.Info.Printfln("Listening on %s://%s", scheme, listening)
	pterm.Info.Printfln("Advertised as %s", cfg.AdvertisedAddress())
	pterm.Info.Printfln("Miner address %s", pterm.LightCyan(n.Address()))
	pterm.Info.Printfln("Difficulty %d, %d worker(s)", cfg.Difficulty, cfg.Workers)
	if peers := n.Peers(); len(peers) > 0 {
		pterm.Info.Printfln("Peers: %v", peers)
	}
	if cfg.DBPath != "" {
		pterm.Info.Printfln("Chain stored in %s", cfg.DBPath)
	}
	if cfg.Discovery.Enabled {
		pterm.Info.Printfln("Discovery on UDP port %d", cfg.Discovery.Port)
	}
	pterm.Println()
}
