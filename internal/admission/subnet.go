package admission

import (
	"net/netip"
	"sync"
)

// Default per-prefix caps for Sybil protection.
const (
	MaxPeersPerSubnet24 = 5
	MaxPeersPerSubnet16 = 3
)

// ─── Classification ─────────────────────────────────────────────────────────

// Classifier maps an address to the prefix it is counted under. A false
// result exempts the address from subnet limits.
type Classifier interface {
	Key(ip netip.Addr) (netip.Prefix, bool)
	Bits() int
}

// ipv4Prefix classifies IPv4 addresses by their leading bits. IPv6 is
// exempt: no prefix-length policy has been decided for it yet, so IPv6
// peers are only bounded by the total tracker.
type ipv4Prefix int

// Classifier variants.
var (
	Prefix24 Classifier = ipv4Prefix(24)
	Prefix16 Classifier = ipv4Prefix(16)
)

func (p ipv4Prefix) Key(ip netip.Addr) (netip.Prefix, bool) {
	ip = ip.Unmap()
	if !ip.Is4() {
		return netip.Prefix{}, false
	}
	prefix, err := ip.Prefix(int(p))
	if err != nil {
		return netip.Prefix{}, false
	}
	return prefix, true
}

func (p ipv4Prefix) Bits() int { return int(p) }

// ─── Subnet Tracker ─────────────────────────────────────────────────────────

// SubnetTracker counts active connections per address prefix and refuses
// new ones once a prefix reaches its limit.
type SubnetTracker struct {
	mu          sync.RWMutex
	classifier  Classifier
	limit       int
	connections map[netip.Prefix]int
}

// NewSubnetTracker creates a tracker with an explicit classifier and limit.
func NewSubnetTracker(c Classifier, limit int) *SubnetTracker {
	return &SubnetTracker{
		classifier:  c,
		limit:       limit,
		connections: make(map[netip.Prefix]int),
	}
}

// NewSubnet24Tracker creates a /24 tracker with the default limit.
func NewSubnet24Tracker() *SubnetTracker {
	return NewSubnetTracker(Prefix24, MaxPeersPerSubnet24)
}

// NewSubnet16Tracker creates a /16 tracker with the default limit.
func NewSubnet16Tracker() *SubnetTracker {
	return NewSubnetTracker(Prefix16, MaxPeersPerSubnet16)
}

// Limit returns the per-prefix cap.
func (t *SubnetTracker) Limit() int { return t.limit }

// Bits returns the prefix length this tracker counts by.
func (t *SubnetTracker) Bits() int { return t.classifier.Bits() }

// CanAccept reports whether Add would currently succeed. It never mutates.
func (t *SubnetTracker) CanAccept(ip netip.Addr) bool {
	key, ok := t.classifier.Key(ip)
	if !ok {
		return true
	}
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.connections[key] < t.limit
}

// Add records one connection from ip. At the cap it returns a
// *SubnetLimitError and leaves the count unchanged.
func (t *SubnetTracker) Add(ip netip.Addr) error {
	key, ok := t.classifier.Key(ip)
	if !ok {
		return nil
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.connections[key] >= t.limit {
		return &SubnetLimitError{Subnet: key, Limit: t.limit}
	}
	t.connections[key]++
	return nil
}

// Remove releases one connection from ip's prefix. Removing from an empty
// prefix is a no-op.
func (t *SubnetTracker) Remove(ip netip.Addr) {
	key, ok := t.classifier.Key(ip)
	if !ok {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	count, exists := t.connections[key]
	if !exists {
		return
	}
	if count <= 1 {
		delete(t.connections, key)
		return
	}
	t.connections[key] = count - 1
}

// CountFor returns the active connections in ip's prefix.
func (t *SubnetTracker) CountFor(ip netip.Addr) int {
	key, ok := t.classifier.Key(ip)
	if !ok {
		return 0
	}
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.connections[key]
}

// Total returns the connections tracked across all prefixes.
func (t *SubnetTracker) Total() int {
	t.mu.RLock()
	defer t.mu.RUnlock()

	total := 0
	for _, n := range t.connections {
		total += n
	}
	return total
}

// Subnets returns a copy of the per-prefix counts.
func (t *SubnetTracker) Subnets() map[netip.Prefix]int {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make(map[netip.Prefix]int, len(t.connections))
	for k, v := range t.connections {
		out[k] = v
	}
	return out
}
