package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/agentmesh-network/agentmesh/internal/api"
)

const healthTimeout = 5 * time.Second

func init() {
	healthCmd.Flags().StringVarP(&healthEndpoint, "endpoint", "e", "http://127.0.0.1:8080", "Node API base URL")
	rootCmd.AddCommand(healthCmd)
}

var healthEndpoint string

var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Check a running node's health",
	RunE:  runHealth,
}

func runHealth(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(cmd.Context(), healthTimeout)
	defer cancel()

	resp, err := fetchHealth(ctx, healthEndpoint)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Status:          %s\n", resp.Status)
	fmt.Fprintf(out, "Version:         %s\n", resp.Version)
	fmt.Fprintf(out, "Connected peers: %d\n", resp.Peers)
	fmt.Fprintf(out, "Uptime:          %d seconds\n", resp.Uptime)
	return nil
}

func fetchHealth(ctx context.Context, endpoint string) (*api.HealthResponse, error) {
	url := strings.TrimRight(endpoint, "/") + "/health"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}

	res, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer res.Body.Close()

	if res.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%s returned %s", url, res.Status)
	}
	var body api.HealthResponse
	if err := json.NewDecoder(res.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return &body, nil
}
