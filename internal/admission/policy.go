package admission

import (
	"time"
)

// DefaultIdleTimeout closes connections that carry no streams for this long.
const DefaultIdleTimeout = 300 * time.Second

// SecurityConfig holds the process-wide admission thresholds. It is built
// once at startup and passed by value; nothing mutates it afterwards.
type SecurityConfig struct {
	MaxPeersPerSubnet24 int
	MaxPeersPerSubnet16 int
	MinBootstrapPeers   int
	IdleTimeout         time.Duration

	// ValidateBootstrapPeers enables the bootstrap diversity check.
	ValidateBootstrapPeers bool

	RateLimitBaseDelay time.Duration
	RateLimitMaxDelay  time.Duration
	MaxFailures        uint32

	MaxConnectionsPerWindow int
	ConnectionWindow        time.Duration

	// CleanupInterval is how often stale backoff entries are swept;
	// AttemptMaxAge is how old an entry must be to go.
	CleanupInterval time.Duration
	AttemptMaxAge   time.Duration

	AllowPrefixes []string
	DenyPrefixes  []string
}

// DefaultSecurityConfig returns the compiled-in defaults.
func DefaultSecurityConfig() SecurityConfig {
	backoff := DefaultBackoffConfig()
	return SecurityConfig{
		MaxPeersPerSubnet24:     MaxPeersPerSubnet24,
		MaxPeersPerSubnet16:     MaxPeersPerSubnet16,
		MinBootstrapPeers:       MinBootstrapPeers,
		IdleTimeout:             DefaultIdleTimeout,
		ValidateBootstrapPeers:  true,
		RateLimitBaseDelay:      backoff.BaseDelay,
		RateLimitMaxDelay:       backoff.MaxDelay,
		MaxFailures:             backoff.MaxFailures,
		MaxConnectionsPerWindow: DefaultMaxConnectionsPerMinute,
		ConnectionWindow:        DefaultConnectionWindow,
		CleanupInterval:         60 * time.Second,
		AttemptMaxAge:           time.Hour,
	}
}

// Backoff returns the per-IP limiter settings.
func (c SecurityConfig) Backoff() BackoffConfig {
	return BackoffConfig{
		BaseDelay:   c.RateLimitBaseDelay,
		MaxDelay:    c.RateLimitMaxDelay,
		MaxFailures: c.MaxFailures,
	}
}

// Validate rejects thresholds that would disable or invert a defense.
func (c SecurityConfig) Validate() error {
	checks := []struct {
		ok     bool
		field  string
		reason string
	}{
		{c.MaxPeersPerSubnet24 > 0, "max_peers_per_subnet_24", "must be greater than 0"},
		{c.MaxPeersPerSubnet16 > 0, "max_peers_per_subnet_16", "must be greater than 0"},
		{c.MinBootstrapPeers > 0, "min_bootstrap_peers", "must be greater than 0"},
		{c.IdleTimeout > 0, "idle_timeout", "must be positive"},
		{c.RateLimitBaseDelay > 0, "rate_limit_base_delay", "must be positive"},
		{c.RateLimitMaxDelay >= c.RateLimitBaseDelay, "rate_limit_max_delay", "must not be below rate_limit_base_delay"},
		{c.MaxFailures > 0, "max_failures", "must be greater than 0"},
		{c.MaxConnectionsPerWindow > 0, "max_connections_per_minute", "must be greater than 0"},
		{c.ConnectionWindow > 0, "connection_window", "must be positive"},
		{c.CleanupInterval > 0, "cleanup_interval", "must be positive"},
		{c.AttemptMaxAge > 0, "attempt_max_age", "must be positive"},
	}
	for _, chk := range checks {
		if !chk.ok {
			return &ConfigError{Field: chk.field, Reason: chk.reason}
		}
	}
	return nil
}

// NetworkConfig is the part of the node configuration the admission layer
// needs to see.
type NetworkConfig struct {
	ListenAddresses []string
	BootstrapPeers  []string
	MaxConnections  uint32
}

// ValidateNetworkConfig runs the startup checks: bootstrap diversity when a
// bootstrap list is configured, and a non-zero connection ceiling. An empty
// bootstrap list is valid (single-node development).
func ValidateNetworkConfig(netCfg NetworkConfig, sec SecurityConfig) error {
	if len(netCfg.BootstrapPeers) > 0 && sec.ValidateBootstrapPeers {
		required := sec.MinBootstrapPeers
		if required <= 0 {
			required = MinBootstrapPeers
		}
		if err := ValidateBootstrapPeersMin(netCfg.BootstrapPeers, required); err != nil {
			return err
		}
	}

	if netCfg.MaxConnections == 0 {
		return &ConfigError{Field: "max_connections", Reason: "must be greater than 0"}
	}
	return nil
}
