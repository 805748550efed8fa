package cli

import (
	"context"
	"fmt"
	"net"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/agentmesh-network/agentmesh/internal/daemon"
)

func init() {
	startCmd.Flags().StringSliceVar(&startP2PAddrs, "p2p-addr", nil, "Listen multiaddr (repeatable, overrides config)")
	startCmd.Flags().StringVar(&startAPIAddr, "api-addr", "", "API listen address host:port (overrides config)")
	startCmd.Flags().Uint32Var(&startMaxConns, "max-connections", 0, "Connection ceiling (overrides config)")
	startCmd.Flags().StringSliceVar(&startBootstrap, "bootstrap", nil, "Bootstrap peer multiaddr (repeatable, overrides config)")
	rootCmd.AddCommand(startCmd)
}

var (
	startP2PAddrs  []string
	startAPIAddr   string
	startMaxConns  uint32
	startBootstrap []string
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the node",
	Long: `Start the p2p node and its status API.

The bootstrap list is checked for /16 diversity before any socket is
opened; a list that fails the check aborts startup.`,
	RunE: runStart,
}

func runStart(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if err := applyStartFlags(&cfg); err != nil {
		return err
	}

	log, cleanup, err := newLogger(cfg)
	if err != nil {
		return err
	}
	defer cleanup()

	d, err := daemon.NewWithConfig(cfg, rootCmd.Version, log)
	if err != nil {
		return err
	}
	return d.Serve(context.Background())
}

// applyStartFlags overrides cfg with any flags given on the command line.
func applyStartFlags(cfg *daemon.Config) error {
	if len(startP2PAddrs) > 0 {
		cfg.Network.ListenAddresses = startP2PAddrs
	}
	if len(startBootstrap) > 0 {
		cfg.Network.BootstrapPeers = startBootstrap
	}
	if startMaxConns > 0 {
		cfg.Network.MaxConnections = startMaxConns
	}
	if startAPIAddr != "" {
		host, port, err := net.SplitHostPort(startAPIAddr)
		if err != nil {
			return fmt.Errorf("--api-addr: %w", err)
		}
		p, err := strconv.Atoi(port)
		if err != nil {
			return fmt.Errorf("--api-addr: invalid port %q", port)
		}
		cfg.API.Host = host
		cfg.API.Port = p
	}
	return nil
}
