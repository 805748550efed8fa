// Package daemon manages the node lifecycle and configuration.
package daemon

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/agentmesh-network/agentmesh/internal/admission"
	"github.com/agentmesh-network/agentmesh/internal/infra/sqlite"
	"github.com/agentmesh-network/agentmesh/internal/logging"
)

// Config holds all node configuration.
type Config struct {
	Node      NodeConfig      `toml:"node"`
	Network   NetworkConfig   `toml:"network"`
	Security  SecurityConfig  `toml:"security"`
	API       APIConfig       `toml:"api"`
	Logging   LoggingConfig   `toml:"logging"`
	Telemetry TelemetryConfig `toml:"telemetry"`
	Journal   JournalConfig   `toml:"journal"`
}

// NodeConfig identifies this node.
type NodeConfig struct {
	ID      string `toml:"id"`
	DataDir string `toml:"data_dir"`
}

// NetworkConfig controls the p2p transport.
type NetworkConfig struct {
	ListenAddresses []string `toml:"listen_addresses"`
	BootstrapPeers  []string `toml:"bootstrap_peers"`
	MaxConnections  uint32   `toml:"max_connections"`
}

// SecurityConfig holds the admission thresholds. Durations are strings
// ("1s", "5m") so the file stays hand-editable.
type SecurityConfig struct {
	MaxPeersPerSubnet24     int      `toml:"max_peers_per_subnet_24"`
	MaxPeersPerSubnet16     int      `toml:"max_peers_per_subnet_16"`
	MinBootstrapPeers       int      `toml:"min_bootstrap_peers"`
	IdleTimeout             string   `toml:"idle_timeout"`
	ValidateBootstrapPeers  bool     `toml:"validate_bootstrap_peers"`
	RateLimitBaseDelay      string   `toml:"rate_limit_base_delay"`
	RateLimitMaxDelay       string   `toml:"rate_limit_max_delay"`
	MaxFailures             uint32   `toml:"max_failures"`
	MaxConnectionsPerMinute int      `toml:"max_connections_per_minute"`
	ConnectionWindow        string   `toml:"connection_window"`
	CleanupInterval         string   `toml:"cleanup_interval"`
	AttemptMaxAge           string   `toml:"attempt_max_age"`
	AllowPrefixes           []string `toml:"allow_prefixes"`
	DenyPrefixes            []string `toml:"deny_prefixes"`
}

// APIConfig controls the HTTP API server.
type APIConfig struct {
	Host        string   `toml:"host"`
	Port        int      `toml:"port"`
	CORSOrigins []string `toml:"cors_origins"`
}

// LoggingConfig controls logging behavior.
type LoggingConfig struct {
	Level     string `toml:"level"`
	File      string `toml:"file"`
	MaxSizeMB int    `toml:"max_size_mb"`
	MaxFiles  int    `toml:"max_files"`
}

// TelemetryConfig controls metrics export.
type TelemetryConfig struct {
	Prometheus bool `toml:"prometheus"`
}

// JournalConfig controls the admission audit journal.
type JournalConfig struct {
	Enabled   bool   `toml:"enabled"`
	Retention string `toml:"retention"`
	Buffer    int    `toml:"buffer"`
}

// DefaultConfig returns the configuration used when no file exists.
func DefaultConfig() Config {
	home := agentmeshHome()
	sec := admission.DefaultSecurityConfig()
	return Config{
		Node: NodeConfig{
			DataDir: home,
		},
		Network: NetworkConfig{
			ListenAddresses: []string{"/ip4/0.0.0.0/tcp/9000"},
			BootstrapPeers:  []string{},
			MaxConnections:  50,
		},
		Security: SecurityConfig{
			MaxPeersPerSubnet24:     sec.MaxPeersPerSubnet24,
			MaxPeersPerSubnet16:     sec.MaxPeersPerSubnet16,
			MinBootstrapPeers:       sec.MinBootstrapPeers,
			IdleTimeout:             sec.IdleTimeout.String(),
			ValidateBootstrapPeers:  sec.ValidateBootstrapPeers,
			RateLimitBaseDelay:      sec.RateLimitBaseDelay.String(),
			RateLimitMaxDelay:       sec.RateLimitMaxDelay.String(),
			MaxFailures:             sec.MaxFailures,
			MaxConnectionsPerMinute: sec.MaxConnectionsPerWindow,
			ConnectionWindow:        sec.ConnectionWindow.String(),
			CleanupInterval:         sec.CleanupInterval.String(),
			AttemptMaxAge:           sec.AttemptMaxAge.String(),
		},
		API: APIConfig{
			Host:        "127.0.0.1",
			Port:        8080,
			CORSOrigins: []string{"*"},
		},
		Logging: LoggingConfig{
			Level:     "info",
			File:      filepath.Join(home, "agentmesh.log"),
			MaxSizeMB: 50,
			MaxFiles:  5,
		},
		Telemetry: TelemetryConfig{
			Prometheus: true,
		},
		Journal: JournalConfig{
			Enabled:   true,
			Retention: "24h",
			Buffer:    1024,
		},
	}
}

// LoadConfig reads config from $AGENTMESH_HOME/config.toml, falling back
// to defaults.
func LoadConfig() (Config, error) {
	return LoadConfigFrom(ConfigPath())
}

// LoadConfigFrom reads config from path. A missing file yields defaults.
func LoadConfigFrom(path string) (Config, error) {
	cfg := DefaultConfig()

	if _, err := os.Stat(path); os.IsNotExist(err) {
		return cfg, nil // No config file yet, use defaults
	}

	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config %s: %w", path, err)
	}
	if cfg.Node.DataDir == "" {
		cfg.Node.DataDir = agentmeshHome()
	}
	return cfg, nil
}

// SaveConfig writes cfg to path, creating parent directories.
func SaveConfig(path string, cfg Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}

	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	encoder := toml.NewEncoder(f)
	return encoder.Encode(cfg)
}

// ─── Conversions ────────────────────────────────────────────────────────────

// SecurityConfig converts the file section to the admission thresholds.
func (c Config) SecurityConfig() (admission.SecurityConfig, error) {
	def := admission.DefaultSecurityConfig()
	s := c.Security
	out := admission.SecurityConfig{
		MaxPeersPerSubnet24:     s.MaxPeersPerSubnet24,
		MaxPeersPerSubnet16:     s.MaxPeersPerSubnet16,
		MinBootstrapPeers:       s.MinBootstrapPeers,
		ValidateBootstrapPeers:  s.ValidateBootstrapPeers,
		MaxFailures:             s.MaxFailures,
		MaxConnectionsPerWindow: s.MaxConnectionsPerMinute,
		AllowPrefixes:           s.AllowPrefixes,
		DenyPrefixes:            s.DenyPrefixes,
	}

	durations := []struct {
		field    string
		raw      string
		fallback time.Duration
		dst      *time.Duration
	}{
		{"idle_timeout", s.IdleTimeout, def.IdleTimeout, &out.IdleTimeout},
		{"rate_limit_base_delay", s.RateLimitBaseDelay, def.RateLimitBaseDelay, &out.RateLimitBaseDelay},
		{"rate_limit_max_delay", s.RateLimitMaxDelay, def.RateLimitMaxDelay, &out.RateLimitMaxDelay},
		{"connection_window", s.ConnectionWindow, def.ConnectionWindow, &out.ConnectionWindow},
		{"cleanup_interval", s.CleanupInterval, def.CleanupInterval, &out.CleanupInterval},
		{"attempt_max_age", s.AttemptMaxAge, def.AttemptMaxAge, &out.AttemptMaxAge},
	}
	for _, d := range durations {
		v, err := parseDuration(d.raw, d.fallback)
		if err != nil {
			return out, &admission.ConfigError{Field: d.field, Reason: err.Error()}
		}
		*d.dst = v
	}
	return out, nil
}

// NetworkConfig converts the file section to the admission view.
func (c Config) NetworkConfig() admission.NetworkConfig {
	return admission.NetworkConfig{
		ListenAddresses: c.Network.ListenAddresses,
		BootstrapPeers:  c.Network.BootstrapPeers,
		MaxConnections:  c.Network.MaxConnections,
	}
}

// JournalConfig converts the file section to the journal settings.
func (c Config) JournalConfig() (sqlite.JournalConfig, error) {
	def := sqlite.DefaultJournalConfig()
	retention, err := parseDuration(c.Journal.Retention, def.Retention)
	if err != nil {
		return def, &admission.ConfigError{Field: "journal.retention", Reason: err.Error()}
	}
	return sqlite.JournalConfig{Retention: retention, Buffer: c.Journal.Buffer}, nil
}

// LoggingOptions converts the file section to logger options.
func (c Config) LoggingOptions(verbose bool) logging.Options {
	return logging.Options{
		Level:       c.Logging.Level,
		File:        c.Logging.File,
		MaxSizeMB:   c.Logging.MaxSizeMB,
		MaxFiles:    c.Logging.MaxFiles,
		Development: verbose,
		NodeID:      c.Node.ID,
	}
}

// Validate runs every startup check without starting anything.
func (c Config) Validate() error {
	sec, err := c.SecurityConfig()
	if err != nil {
		return err
	}
	if err := sec.Validate(); err != nil {
		return err
	}
	if _, err := admission.NewPrefixPolicy(sec.AllowPrefixes, sec.DenyPrefixes); err != nil {
		return err
	}
	if err := admission.ValidateNetworkConfig(c.NetworkConfig(), sec); err != nil {
		return err
	}
	if len(c.Network.ListenAddresses) == 0 {
		return &admission.ConfigError{Field: "listen_addresses", Reason: "must not be empty"}
	}
	if c.API.Port < 0 || c.API.Port > 65535 {
		return &admission.ConfigError{Field: "api.port", Reason: "must be between 0 and 65535"}
	}
	if _, err := c.JournalConfig(); err != nil {
		return err
	}
	return nil
}

// ─── Paths ──────────────────────────────────────────────────────────────────

// agentmeshHome returns the node's data directory.
func agentmeshHome() string {
	if env := os.Getenv("AGENTMESH_HOME"); env != "" {
		return env
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".agentmesh")
}

// Home is exported for use by other packages.
func Home() string {
	return agentmeshHome()
}

// ConfigPath returns the default config file location.
func ConfigPath() string {
	return filepath.Join(agentmeshHome(), "config.toml")
}

// parseDuration parses a duration string. Empty means fallback.
func parseDuration(s string, fallback time.Duration) (time.Duration, error) {
	if s == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("invalid duration %q", s)
	}
	return d, nil
}
