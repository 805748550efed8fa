package admission

import (
	"net/netip"
	"sync"
)

// ConnectionTracker enforces a hard ceiling on connected addresses,
// independent of how they are spread across subnets. Membership is keyed by
// address, so adding a tracked address again is a successful no-op.
type ConnectionTracker struct {
	mu             sync.RWMutex
	connections    map[netip.Addr]struct{}
	maxConnections int
}

// NewConnectionTracker creates a tracker allowing maxConnections addresses.
func NewConnectionTracker(maxConnections int) *ConnectionTracker {
	return &ConnectionTracker{
		connections:    make(map[netip.Addr]struct{}),
		maxConnections: maxConnections,
	}
}

// Max returns the ceiling.
func (t *ConnectionTracker) Max() int { return t.maxConnections }

// CanAccept reports whether a new address would fit.
func (t *ConnectionTracker) CanAccept() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.connections) < t.maxConnections
}

// CanAdmit reports whether Add(ip) would succeed.
func (t *ConnectionTracker) CanAdmit(ip netip.Addr) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if _, ok := t.connections[ip]; ok {
		return true
	}
	return len(t.connections) < t.maxConnections
}

// Add tracks ip. It returns a *TotalLimitError when the ceiling is reached.
func (t *ConnectionTracker) Add(ip netip.Addr) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, ok := t.connections[ip]; ok {
		return nil
	}
	if len(t.connections) >= t.maxConnections {
		return &TotalLimitError{Limit: t.maxConnections}
	}
	t.connections[ip] = struct{}{}
	return nil
}

// Remove stops tracking ip. Untracked addresses are ignored.
func (t *ConnectionTracker) Remove(ip netip.Addr) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.connections, ip)
}

// Has reports whether ip is tracked.
func (t *ConnectionTracker) Has(ip netip.Addr) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	_, ok := t.connections[ip]
	return ok
}

// CurrentCount returns the number of tracked addresses.
func (t *ConnectionTracker) CurrentCount() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.connections)
}

// RemainingCapacity returns the free slots, never negative.
func (t *ConnectionTracker) RemainingCapacity() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return max(0, t.maxConnections-len(t.connections))
}
