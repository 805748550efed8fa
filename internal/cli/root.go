// Package cli implements the agentmesh command-line interface using Cobra.
// Each subcommand is one node operation: init, start, health, validate.
package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/agentmesh-network/agentmesh/internal/daemon"
	"github.com/agentmesh-network/agentmesh/internal/logging"
)

var (
	configPath string
	verbose    bool
)

var rootCmd = &cobra.Command{
	Use:   "agentmesh",
	Short: "AgentMesh P2P node",
	Long: `AgentMesh is a peer-to-peer node for agent networks.

Inbound connections pass Sybil and eclipse defenses before they count
as peers: per-subnet caps, per-IP backoff, a global rate limit and a
bootstrap diversity check at startup.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Config file (default $AGENTMESH_HOME/config.toml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Debug logging with console output")
}

// Execute runs the root command. Called from main.go.
func Execute(version string) {
	rootCmd.Version = version

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

// loadConfig reads the --config file or the default location.
func loadConfig() (daemon.Config, error) {
	if configPath != "" {
		return daemon.LoadConfigFrom(configPath)
	}
	return daemon.LoadConfig()
}

// newLogger builds the process logger from cfg and --verbose.
func newLogger(cfg daemon.Config) (*zap.Logger, func(), error) {
	return logging.New(cfg.LoggingOptions(verbose))
}
