package admission

import (
	"errors"
	"testing"
	"time"

	"github.com/agentmesh-network/agentmesh/internal/domain"
)

func TestDefaultSecurityConfig(t *testing.T) {
	cfg := DefaultSecurityConfig()

	if cfg.MaxPeersPerSubnet24 != 5 {
		t.Errorf("MaxPeersPerSubnet24 = %d, want 5", cfg.MaxPeersPerSubnet24)
	}
	if cfg.MaxPeersPerSubnet16 != 3 {
		t.Errorf("MaxPeersPerSubnet16 = %d, want 3", cfg.MaxPeersPerSubnet16)
	}
	if cfg.MinBootstrapPeers != 3 {
		t.Errorf("MinBootstrapPeers = %d, want 3", cfg.MinBootstrapPeers)
	}
	if cfg.IdleTimeout != 300*time.Second {
		t.Errorf("IdleTimeout = %v, want 5m", cfg.IdleTimeout)
	}
	if !cfg.ValidateBootstrapPeers {
		t.Error("ValidateBootstrapPeers should default to true")
	}
	if cfg.RateLimitBaseDelay != time.Second || cfg.RateLimitMaxDelay != 300*time.Second {
		t.Errorf("backoff delays = %v/%v, want 1s/5m", cfg.RateLimitBaseDelay, cfg.RateLimitMaxDelay)
	}
	if cfg.MaxFailures != 10 {
		t.Errorf("MaxFailures = %d, want 10", cfg.MaxFailures)
	}
	if cfg.MaxConnectionsPerWindow != 10 || cfg.ConnectionWindow != time.Minute {
		t.Errorf("window = %d/%v, want 10/1m", cfg.MaxConnectionsPerWindow, cfg.ConnectionWindow)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("default config Validate() error: %v", err)
	}
}

func TestSecurityConfigValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*SecurityConfig)
		field  string
	}{
		{"zero /24", func(c *SecurityConfig) { c.MaxPeersPerSubnet24 = 0 }, "max_peers_per_subnet_24"},
		{"zero /16", func(c *SecurityConfig) { c.MaxPeersPerSubnet16 = 0 }, "max_peers_per_subnet_16"},
		{"max below base", func(c *SecurityConfig) { c.RateLimitMaxDelay = time.Millisecond }, "rate_limit_max_delay"},
		{"zero failures", func(c *SecurityConfig) { c.MaxFailures = 0 }, "max_failures"},
		{"zero window", func(c *SecurityConfig) { c.ConnectionWindow = 0 }, "connection_window"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultSecurityConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			var ce *ConfigError
			if !errors.As(err, &ce) {
				t.Fatalf("Validate() error = %v, want *ConfigError", err)
			}
			if ce.Field != tt.field {
				t.Errorf("Field = %q, want %q", ce.Field, tt.field)
			}
		})
	}
}

func TestValidateNetworkConfig(t *testing.T) {
	diverse := []string{
		"/ip4/1.2.3.4/tcp/9000",
		"/ip4/5.6.7.8/tcp/9000",
		"/ip4/9.10.11.12/tcp/9000",
	}
	sameSubnet := []string{
		"/ip4/1.2.3.4/tcp/9000",
		"/ip4/1.2.5.6/tcp/9000",
		"/ip4/1.2.7.8/tcp/9000",
	}
	noCheck := DefaultSecurityConfig()
	noCheck.ValidateBootstrapPeers = false

	tests := []struct {
		name    string
		net     NetworkConfig
		sec     SecurityConfig
		wantErr error
	}{
		{"diverse", NetworkConfig{BootstrapPeers: diverse, MaxConnections: 50}, DefaultSecurityConfig(), nil},
		{"empty bootstrap is fine", NetworkConfig{MaxConnections: 50}, DefaultSecurityConfig(), nil},
		{"same subnet", NetworkConfig{BootstrapPeers: sameSubnet, MaxConnections: 50}, DefaultSecurityConfig(), domain.ErrBootstrapDiversityTooLow},
		{"check disabled", NetworkConfig{BootstrapPeers: sameSubnet, MaxConnections: 50}, noCheck, nil},
		{"too few", NetworkConfig{BootstrapPeers: diverse[:2], MaxConnections: 50}, DefaultSecurityConfig(), domain.ErrBootstrapCountTooLow},
		{"zero max connections", NetworkConfig{MaxConnections: 0}, DefaultSecurityConfig(), domain.ErrInvalidConfiguration},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateNetworkConfig(tt.net, tt.sec)
			if tt.wantErr == nil {
				if err != nil {
					t.Errorf("ValidateNetworkConfig() error = %v, want nil", err)
				}
				return
			}
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("ValidateNetworkConfig() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestValidateNetworkConfig_CustomMinimum(t *testing.T) {
	sec := DefaultSecurityConfig()
	sec.MinBootstrapPeers = 2

	err := ValidateNetworkConfig(NetworkConfig{
		BootstrapPeers: []string{"/ip4/1.2.3.4/tcp/1", "/ip4/5.6.7.8/tcp/1"},
		MaxConnections: 10,
	}, sec)
	if err != nil {
		t.Errorf("two diverse peers with minimum 2: error = %v", err)
	}
}
