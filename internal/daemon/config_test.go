package daemon

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/agentmesh-network/agentmesh/internal/admission"
	"github.com/agentmesh-network/agentmesh/internal/domain"
)

func TestDefaultConfig(t *testing.T) {
	t.Setenv("AGENTMESH_HOME", t.TempDir())
	cfg := DefaultConfig()

	if cfg.API.Host != "127.0.0.1" {
		t.Errorf("API.Host = %q, want %q", cfg.API.Host, "127.0.0.1")
	}
	if cfg.Network.MaxConnections != 50 {
		t.Errorf("Network.MaxConnections = %d, want 50", cfg.Network.MaxConnections)
	}
	if cfg.Security.IdleTimeout != "5m0s" {
		t.Errorf("Security.IdleTimeout = %q, want 5m0s", cfg.Security.IdleTimeout)
	}
	if !cfg.Journal.Enabled || cfg.Journal.Retention != "24h" {
		t.Errorf("Journal = %+v", cfg.Journal)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("default config Validate() error: %v", err)
	}
}

func TestLoadConfigFrom_Missing(t *testing.T) {
	t.Setenv("AGENTMESH_HOME", t.TempDir())
	cfg, err := LoadConfigFrom(filepath.Join(t.TempDir(), "nope.toml"))
	if err != nil {
		t.Fatalf("LoadConfigFrom() error: %v", err)
	}
	if cfg.API.Port != 8080 {
		t.Errorf("missing file should yield defaults, port = %d", cfg.API.Port)
	}
}

func TestLoadConfigFrom_Overrides(t *testing.T) {
	home := t.TempDir()
	t.Setenv("AGENTMESH_HOME", home)
	path := filepath.Join(home, "config.toml")
	body := `
[network]
listen_addresses = ["/ip4/0.0.0.0/tcp/7000"]
bootstrap_peers = ["/ip4/1.2.3.4/tcp/9000", "/ip4/5.6.7.8/tcp/9000", "/ip4/9.10.11.12/tcp/9000"]
max_connections = 20

[security]
max_peers_per_subnet_24 = 2
rate_limit_base_delay = "500ms"
deny_prefixes = ["203.0.113.0/24"]
`
	if err := os.WriteFile(path, []byte(body), 0600); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadConfigFrom(path)
	if err != nil {
		t.Fatalf("LoadConfigFrom() error: %v", err)
	}
	if cfg.Network.MaxConnections != 20 || len(cfg.Network.BootstrapPeers) != 3 {
		t.Errorf("network = %+v", cfg.Network)
	}

	sec, err := cfg.SecurityConfig()
	if err != nil {
		t.Fatalf("SecurityConfig() error: %v", err)
	}
	if sec.MaxPeersPerSubnet24 != 2 {
		t.Errorf("MaxPeersPerSubnet24 = %d, want 2", sec.MaxPeersPerSubnet24)
	}
	if sec.MaxPeersPerSubnet16 != 3 {
		t.Errorf("untouched MaxPeersPerSubnet16 = %d, want default 3", sec.MaxPeersPerSubnet16)
	}
	if sec.RateLimitBaseDelay != 500*time.Millisecond {
		t.Errorf("RateLimitBaseDelay = %v, want 500ms", sec.RateLimitBaseDelay)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate() error: %v", err)
	}
}

func TestSaveLoadConfig(t *testing.T) {
	home := t.TempDir()
	t.Setenv("AGENTMESH_HOME", home)
	path := filepath.Join(home, "nested", "config.toml")

	cfg := DefaultConfig()
	cfg.Node.ID = "node-a"
	cfg.Security.AllowPrefixes = []string{"10.0.0.0/8"}
	if err := SaveConfig(path, cfg); err != nil {
		t.Fatalf("SaveConfig() error: %v", err)
	}

	loaded, err := LoadConfigFrom(path)
	if err != nil {
		t.Fatalf("LoadConfigFrom() error: %v", err)
	}
	if loaded.Node.ID != "node-a" || len(loaded.Security.AllowPrefixes) != 1 {
		t.Errorf("loaded = %+v", loaded)
	}
}

func TestConfigValidate(t *testing.T) {
	t.Setenv("AGENTMESH_HOME", t.TempDir())

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr error
	}{
		{"bad duration", func(c *Config) { c.Security.IdleTimeout = "soon" }, domain.ErrInvalidConfiguration},
		{"zero max connections", func(c *Config) { c.Network.MaxConnections = 0 }, domain.ErrInvalidConfiguration},
		{"no listen addresses", func(c *Config) { c.Network.ListenAddresses = nil }, domain.ErrInvalidConfiguration},
		{"bad prefix", func(c *Config) { c.Security.DenyPrefixes = []string{"x"} }, domain.ErrInvalidConfiguration},
		{"bad retention", func(c *Config) { c.Journal.Retention = "forever" }, domain.ErrInvalidConfiguration},
		{"same-subnet bootstrap", func(c *Config) {
			c.Network.BootstrapPeers = []string{"/ip4/1.2.3.4/tcp/1", "/ip4/1.2.3.5/tcp/1", "/ip4/1.2.9.9/tcp/1"}
		}, domain.ErrBootstrapDiversityTooLow},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Validate() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestParseDuration(t *testing.T) {
	tests := []struct {
		input   string
		want    time.Duration
		wantErr bool
	}{
		{"", time.Minute, false}, // Fallback
		{"30s", 30 * time.Second, false},
		{"1h30m", 90 * time.Minute, false},
		{"nope", 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := parseDuration(tt.input, time.Minute)
			if (err != nil) != tt.wantErr {
				t.Fatalf("parseDuration(%q) error = %v", tt.input, err)
			}
			if got != tt.want {
				t.Errorf("parseDuration(%q) = %v, want %v", tt.input, got, tt.want)
			}
		})
	}
}

func TestConfigError_Field(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Security.ConnectionWindow = "abc"
	_, err := cfg.SecurityConfig()
	var ce *admission.ConfigError
	if !errors.As(err, &ce) || ce.Field != "connection_window" {
		t.Errorf("error = %v, want ConfigError on connection_window", err)
	}
}
