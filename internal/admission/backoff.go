package admission

import (
	"math"
	"net/netip"
	"sync"
	"time"
)

// Never is returned by TimeUntilAllowed for addresses blocked for the rest
// of the process lifetime.
const Never = time.Duration(math.MaxInt64)

// BackoffConfig configures the per-IP exponential backoff.
type BackoffConfig struct {
	BaseDelay   time.Duration // Delay after the first failure (doubles each failure)
	MaxDelay    time.Duration // Cap on the backoff delay
	MaxFailures uint32        // Consecutive failures before a session ban
}

// DefaultBackoffConfig returns the production backoff defaults.
func DefaultBackoffConfig() BackoffConfig {
	return BackoffConfig{
		BaseDelay:   1 * time.Second,
		MaxDelay:    300 * time.Second,
		MaxFailures: 10,
	}
}

type attemptRecord struct {
	last     time.Time
	failures uint32
}

// BackoffLimiter gates connection attempts per source address with binary
// exponential backoff. An address that reaches MaxFailures stays blocked
// until the process restarts.
type BackoffLimiter struct {
	mu       sync.RWMutex
	config   BackoffConfig
	attempts map[netip.Addr]*attemptRecord
	now      func() time.Time
}

// NewBackoffLimiter creates a limiter with the given configuration.
func NewBackoffLimiter(cfg BackoffConfig) *BackoffLimiter {
	return &BackoffLimiter{
		config:   cfg,
		attempts: make(map[netip.Addr]*attemptRecord),
		now:      time.Now,
	}
}

// Config returns the limiter configuration.
func (l *BackoffLimiter) Config() BackoffConfig { return l.config }

// Delay returns the wait required after n consecutive failures:
// min(base * 2^(n-1), max), saturating instead of overflowing.
func (l *BackoffLimiter) Delay(failures uint32) time.Duration {
	if failures == 0 {
		return 0
	}
	base, ceiling := l.config.BaseDelay, l.config.MaxDelay
	shift := failures - 1
	if shift >= 62 || base > ceiling>>shift {
		return ceiling
	}
	return min(base<<shift, ceiling)
}

// CanAttempt reports whether ip may try to connect now.
func (l *BackoffLimiter) CanAttempt(ip netip.Addr) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()

	rec, ok := l.attempts[ip]
	if !ok {
		return true
	}
	if rec.failures >= l.config.MaxFailures {
		return false
	}
	return l.now().Sub(rec.last) >= l.Delay(rec.failures)
}

// TimeUntilAllowed returns zero when ip may attempt now, the remaining wait
// while backing off, or Never when ip is blocked.
func (l *BackoffLimiter) TimeUntilAllowed(ip netip.Addr) time.Duration {
	l.mu.RLock()
	defer l.mu.RUnlock()

	rec, ok := l.attempts[ip]
	if !ok {
		return 0
	}
	if rec.failures >= l.config.MaxFailures {
		return Never
	}
	required := l.Delay(rec.failures)
	elapsed := l.now().Sub(rec.last)
	if elapsed >= required {
		return 0
	}
	return required - elapsed
}

// RecordAttempt stamps the last-seen time without touching the failure count.
func (l *BackoffLimiter) RecordAttempt(ip netip.Addr) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.record(ip).last = l.now()
}

// RecordFailure increments the consecutive-failure count.
func (l *BackoffLimiter) RecordFailure(ip netip.Addr) {
	l.mu.Lock()
	defer l.mu.Unlock()

	rec := l.record(ip)
	rec.last = l.now()
	if rec.failures < math.MaxUint32 {
		rec.failures++
	}
}

// RecordSuccess forgets everything about ip.
func (l *BackoffLimiter) RecordSuccess(ip netip.Addr) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.attempts, ip)
}

// FailureCount returns the consecutive failures recorded for ip.
func (l *BackoffLimiter) FailureCount(ip netip.Addr) uint32 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if rec, ok := l.attempts[ip]; ok {
		return rec.failures
	}
	return 0
}

// IsBlocked reports whether ip has reached MaxFailures.
func (l *BackoffLimiter) IsBlocked(ip netip.Addr) bool {
	return l.FailureCount(ip) >= l.config.MaxFailures
}

// Cleanup drops entries whose last attempt is older than maxAge and returns
// how many were removed. Blocked entries are kept: evicting them would lift
// the session ban.
func (l *BackoffLimiter) Cleanup(maxAge time.Duration) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	removed := 0
	for ip, rec := range l.attempts {
		if rec.failures >= l.config.MaxFailures {
			continue
		}
		if now.Sub(rec.last) >= maxAge {
			delete(l.attempts, ip)
			removed++
		}
	}
	return removed
}

// Len returns the number of tracked addresses.
func (l *BackoffLimiter) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.attempts)
}

// Blocked returns the number of addresses under a session ban.
func (l *BackoffLimiter) Blocked() int {
	l.mu.RLock()
	defer l.mu.RUnlock()

	n := 0
	for _, rec := range l.attempts {
		if rec.failures >= l.config.MaxFailures {
			n++
		}
	}
	return n
}

// record returns the entry for ip, creating it. Caller holds l.mu.
func (l *BackoffLimiter) record(ip netip.Addr) *attemptRecord {
	rec, ok := l.attempts[ip]
	if !ok {
		rec = &attemptRecord{last: l.now()}
		l.attempts[ip] = rec
	}
	return rec
}
