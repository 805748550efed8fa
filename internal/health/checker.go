// Package health provides periodic health checks with auto-recovery.
// The node runs three: journal, p2p_listen and admission_capacity.
package health

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/agentmesh-network/agentmesh/internal/infra/metrics"
)

// DefaultInterval is how often checks run.
const DefaultInterval = 60 * time.Second

// Check defines a single health check with optional recovery action.
type Check struct {
	Name      string
	CheckFn   func(ctx context.Context) error
	RecoverFn func(ctx context.Context) error
}

// Status represents the result of a health check.
type Status struct {
	Name      string    `json:"name"`
	Healthy   bool      `json:"healthy"`
	Error     string    `json:"error,omitempty"`
	CheckedAt time.Time `json:"checked_at"`
}

// Checker runs periodic health checks with auto-recovery.
type Checker struct {
	mu       sync.RWMutex
	checks   []Check
	statuses []Status
	interval time.Duration
	log      *zap.Logger
}

// NewChecker creates a checker running checks every interval.
func NewChecker(interval time.Duration, log *zap.Logger, checks ...Check) *Checker {
	if interval <= 0 {
		interval = DefaultInterval
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Checker{
		interval: interval,
		checks:   checks,
		log:      log,
	}
}

// Run starts the health check loop. Call in a goroutine.
func (c *Checker) Run(ctx context.Context) {
	// Run immediately on start
	c.RunOnce(ctx)

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.RunOnce(ctx)
		}
	}
}

// RunOnce runs every check a single time and stores the results.
func (c *Checker) RunOnce(ctx context.Context) {
	statuses := make([]Status, len(c.checks))
	for i, check := range c.checks {
		s := Status{
			Name:      check.Name,
			CheckedAt: time.Now(),
		}
		if err := check.CheckFn(ctx); err != nil {
			s.Error = err.Error()
			c.log.Warn("health check failed", zap.String("check", check.Name), zap.Error(err))
			if check.RecoverFn != nil {
				metrics.HealthRecoveries.WithLabelValues(check.Name).Inc()
				if rerr := check.RecoverFn(ctx); rerr != nil {
					c.log.Warn("health recovery failed", zap.String("check", check.Name), zap.Error(rerr))
				}
			}
		} else {
			s.Healthy = true
		}
		statuses[i] = s
		metrics.HealthCheckStatus.WithLabelValues(check.Name).Set(boolGauge(s.Healthy))
	}

	c.mu.Lock()
	c.statuses = statuses
	c.mu.Unlock()
}

// Statuses returns the latest health check results.
func (c *Checker) Statuses() []Status {
	c.mu.RLock()
	defer c.mu.RUnlock()
	result := make([]Status, len(c.statuses))
	copy(result, c.statuses)
	return result
}

// IsHealthy returns true if all checks pass.
func (c *Checker) IsHealthy() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, s := range c.statuses {
		if !s.Healthy {
			return false
		}
	}
	return true
}

// ─── Check Implementations ──────────────────────────────────────────────────

// Pinger is satisfied by the journal and the raw database.
type Pinger interface {
	Ping() error
}

// JournalCheck pings the admission journal's database.
func JournalCheck(p Pinger) Check {
	return Check{
		Name: "journal",
		CheckFn: func(ctx context.Context) error {
			return p.Ping()
		},
		RecoverFn: func(ctx context.Context) error {
			return nil // SQLite auto-recovers via WAL
		},
	}
}

// ListenCheck fails when the transport has no listen addresses.
func ListenCheck(listenAddrs func() int) Check {
	return Check{
		Name: "p2p_listen",
		CheckFn: func(ctx context.Context) error {
			if listenAddrs() == 0 {
				return errors.New("no listen addresses")
			}
			return nil
		},
	}
}

// CapacityCheck fails when the total connection tracker is full. recoverFn,
// when non-nil, runs on failure (e.g. an immediate idle sweep).
func CapacityCheck(remaining func() int, recoverFn func(ctx context.Context) error) Check {
	return Check{
		Name: "admission_capacity",
		CheckFn: func(ctx context.Context) error {
			if n := remaining(); n <= 0 {
				return fmt.Errorf("connection capacity exhausted (remaining %d)", n)
			}
			return nil
		},
		RecoverFn: recoverFn,
	}
}

func boolGauge(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
