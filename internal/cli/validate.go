package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(validateCmd)
}

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Check the configuration without starting the node",
	RunE:  runValidate,
}

func runValidate(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintln(out, "Configuration OK")
	fmt.Fprintf(out, "  listen:          %v\n", cfg.Network.ListenAddresses)
	fmt.Fprintf(out, "  bootstrap peers: %d\n", len(cfg.Network.BootstrapPeers))
	fmt.Fprintf(out, "  max connections: %d\n", cfg.Network.MaxConnections)
	return nil
}
