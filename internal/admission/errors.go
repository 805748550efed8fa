package admission

import (
	"fmt"
	"net/netip"

	"github.com/agentmesh-network/agentmesh/internal/domain"
)

// SubnetLimitError is returned by SubnetTracker.Add when the address's
// prefix already holds the maximum number of connections.
type SubnetLimitError struct {
	Subnet netip.Prefix
	Limit  int
}

func (e *SubnetLimitError) Error() string {
	return fmt.Sprintf("subnet limit exceeded: max %d connections from /%d subnet %s",
		e.Limit, e.Subnet.Bits(), e.Subnet)
}

func (e *SubnetLimitError) Unwrap() error { return domain.ErrSubnetLimitExceeded }

// TotalLimitError is returned by ConnectionTracker.Add at the hard ceiling.
type TotalLimitError struct {
	Limit int
}

func (e *TotalLimitError) Error() string {
	return fmt.Sprintf("connection limit exceeded: maximum %d connections allowed", e.Limit)
}

func (e *TotalLimitError) Unwrap() error { return domain.ErrTotalLimitExceeded }

// BootstrapCountError means the bootstrap list is shorter than required.
type BootstrapCountError struct {
	Required int
	Actual   int
}

func (e *BootstrapCountError) Error() string {
	return fmt.Sprintf("minimum %d bootstrap peers required for eclipse attack protection, got %d",
		e.Required, e.Actual)
}

func (e *BootstrapCountError) Unwrap() error { return domain.ErrBootstrapCountTooLow }

// BootstrapDiversityError means the bootstrap peers span too few /16 subnets.
type BootstrapDiversityError struct {
	Required int
	Actual   int
}

func (e *BootstrapDiversityError) Error() string {
	return fmt.Sprintf("bootstrap peers must come from at least %d different /16 subnets, got %d",
		e.Required, e.Actual)
}

func (e *BootstrapDiversityError) Unwrap() error { return domain.ErrBootstrapDiversityTooLow }

// ConfigError reports a rejected configuration value.
type ConfigError struct {
	Field  string
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("invalid configuration: %s %s", e.Field, e.Reason)
}

func (e *ConfigError) Unwrap() error { return domain.ErrInvalidConfiguration }
