// Package admission decides whether a peer may join the mesh.
//
// It holds the node's anti-Sybil and anti-eclipse defenses: per-prefix
// connection caps, per-IP exponential backoff, a global sliding-window rate
// limit, a hard connection ceiling and the startup bootstrap diversity
// check. All state lives in memory and starts empty on every boot.
//
// The Controller owns one instance of every tracker and runs them in a fixed
// order for each inbound attempt:
//
//	prefix policy → global rate → per-IP backoff → /24 → /16 → total
//
// Any rejection short-circuits.
package admission

import (
	"context"
	"errors"
	"fmt"
	"net/netip"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/agentmesh-network/agentmesh/internal/domain"
	"github.com/agentmesh-network/agentmesh/internal/infra/metrics"
)

// Controller is the single owner of the admission trackers. Create one per
// node at startup and hand it to the transport.
type Controller struct {
	config   SecurityConfig
	policy   *PrefixPolicy
	global   *WindowLimiter
	backoff  *BackoffLimiter
	subnet24 *SubnetTracker
	subnet16 *SubnetTracker
	total    *ConnectionTracker

	// live counts registered connections per address. The total tracker
	// holds one slot per address, released with the last connection.
	liveMu sync.Mutex
	live   map[netip.Addr]int

	log       *zap.Logger
	recorder  domain.AdmissionRecorder
	now       func() time.Time
	rejectLog rate.Sometimes
}

// Option customizes a Controller.
type Option func(*Controller)

// WithLogger sets the logger used for admission decisions.
func WithLogger(l *zap.Logger) Option {
	return func(c *Controller) { c.log = l }
}

// WithRecorder forwards every decision to r (e.g. the journal).
func WithRecorder(r domain.AdmissionRecorder) Option {
	return func(c *Controller) { c.recorder = r }
}

// WithClock replaces the time source of the controller and its limiters.
func WithClock(now func() time.Time) Option {
	return func(c *Controller) { c.now = now }
}

// NewController validates cfg and builds every tracker from it.
func NewController(cfg SecurityConfig, maxConnections int, opts ...Option) (*Controller, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if maxConnections <= 0 {
		return nil, &ConfigError{Field: "max_connections", Reason: "must be greater than 0"}
	}
	policy, err := NewPrefixPolicy(cfg.AllowPrefixes, cfg.DenyPrefixes)
	if err != nil {
		return nil, err
	}

	c := &Controller{
		config:    cfg,
		policy:    policy,
		global:    NewWindowLimiter(cfg.MaxConnectionsPerWindow, cfg.ConnectionWindow),
		backoff:   NewBackoffLimiter(cfg.Backoff()),
		subnet24:  NewSubnetTracker(Prefix24, cfg.MaxPeersPerSubnet24),
		subnet16:  NewSubnetTracker(Prefix16, cfg.MaxPeersPerSubnet16),
		total:     NewConnectionTracker(maxConnections),
		live:      make(map[netip.Addr]int),
		log:       zap.NewNop(),
		now:       time.Now,
		rejectLog: rate.Sometimes{First: 10, Interval: time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	c.global.now = c.now
	c.backoff.now = c.now
	return c, nil
}

// Config returns the security configuration the controller was built with.
func (c *Controller) Config() SecurityConfig { return c.config }

// Policy returns the prefix policy.
func (c *Controller) Policy() *PrefixPolicy { return c.policy }

// Admit runs the whole pipeline for an inbound attempt and, on success,
// leaves ip registered in the subnet and total trackers.
func (c *Controller) Admit(ip netip.Addr) error {
	if err := c.AdmitAttempt(ip); err != nil {
		return err
	}
	return c.Register(ip)
}

// AdmitAttempt runs the rate-limiting stages and a read-only pre-flight of
// the trackers. Transports call it before the handshake and Register once
// the connection is established.
func (c *Controller) AdmitAttempt(ip netip.Addr) error {
	ip = ip.Unmap()

	if c.policy.Denied(ip) {
		return c.reject(ip, domain.StagePrefixPolicy, domain.ErrPrefixDenied)
	}

	if !c.policy.Allowed(ip) {
		if !c.global.RecordNewConnection() {
			return c.reject(ip, domain.StageGlobalRate, domain.ErrGlobalRateLimited)
		}
		if !c.backoff.CanAttempt(ip) {
			wait := c.backoff.TimeUntilAllowed(ip)
			err := fmt.Errorf("%w: retry in %s", domain.ErrPeerBackoff, formatWait(wait))
			return c.reject(ip, domain.StagePeerBackoff, err)
		}
		c.backoff.RecordAttempt(ip)
	}

	if !c.subnet24.CanAccept(ip) {
		key, _ := Prefix24.Key(ip)
		return c.reject(ip, domain.StageSubnet24, &SubnetLimitError{Subnet: key, Limit: c.subnet24.Limit()})
	}
	if !c.subnet16.CanAccept(ip) {
		key, _ := Prefix16.Key(ip)
		return c.reject(ip, domain.StageSubnet16, &SubnetLimitError{Subnet: key, Limit: c.subnet16.Limit()})
	}
	if !c.total.CanAdmit(ip) {
		return c.reject(ip, domain.StageTotal, &TotalLimitError{Limit: c.total.Max()})
	}
	return nil
}

// Register commits ip to the /24, /16 and total trackers. On rejection the
// increments made by this call are undone, so counts stay exact.
func (c *Controller) Register(ip netip.Addr) error {
	ip = ip.Unmap()

	if err := c.subnet24.Add(ip); err != nil {
		return c.reject(ip, domain.StageSubnet24, err)
	}
	if err := c.subnet16.Add(ip); err != nil {
		c.subnet24.Remove(ip)
		return c.reject(ip, domain.StageSubnet16, err)
	}
	c.liveMu.Lock()
	if err := c.total.Add(ip); err != nil {
		c.liveMu.Unlock()
		c.subnet16.Remove(ip)
		c.subnet24.Remove(ip)
		return c.reject(ip, domain.StageTotal, err)
	}
	c.live[ip]++
	c.liveMu.Unlock()

	metrics.AdmissionsTotal.Inc()
	c.updateGauges()
	c.record(ip, domain.StageAdmitted, true, "")
	c.log.Debug("connection admitted",
		zap.Stringer("ip", ip),
		zap.Int("total", c.total.CurrentCount()))
	return nil
}

// Release undoes one Register of ip after a disconnect. The subnet slots
// of that connection are freed at once; the total slot only when ip has no
// registered connection left.
func (c *Controller) Release(ip netip.Addr) {
	ip = ip.Unmap()
	c.subnet24.Remove(ip)
	c.subnet16.Remove(ip)

	c.liveMu.Lock()
	if n := c.live[ip]; n > 1 {
		c.live[ip] = n - 1
	} else {
		delete(c.live, ip)
		c.total.Remove(ip)
	}
	c.liveMu.Unlock()

	metrics.ReleasesTotal.Inc()
	c.updateGauges()
	c.record(ip, domain.StageReleased, true, "")
}

// RecordFailure counts a failed attempt from ip toward its backoff.
func (c *Controller) RecordFailure(ip netip.Addr) {
	ip = ip.Unmap()
	c.backoff.RecordFailure(ip)
	if c.backoff.IsBlocked(ip) {
		c.log.Warn("address blocked for this session",
			zap.Stringer("ip", ip),
			zap.Uint32("failures", c.backoff.FailureCount(ip)))
	}
	c.updateGauges()
}

// RecordSuccess clears the backoff history of ip.
func (c *Controller) RecordSuccess(ip netip.Addr) {
	c.backoff.RecordSuccess(ip.Unmap())
	c.updateGauges()
}

// Cleanup sweeps backoff entries older than AttemptMaxAge.
func (c *Controller) Cleanup() int {
	removed := c.backoff.Cleanup(c.config.AttemptMaxAge)
	if removed > 0 {
		metrics.BackoffCleanups.Add(float64(removed))
		c.log.Debug("backoff entries swept", zap.Int("removed", removed))
	}
	c.updateGauges()
	return removed
}

// Run sweeps stale backoff entries every CleanupInterval until ctx is done.
func (c *Controller) Run(ctx context.Context) {
	ticker := time.NewTicker(c.config.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.Cleanup()
		}
	}
}

// ─── Accessors ──────────────────────────────────────────────────────────────

// Subnet24 returns the /24 tracker.
func (c *Controller) Subnet24() *SubnetTracker { return c.subnet24 }

// Subnet16 returns the /16 tracker.
func (c *Controller) Subnet16() *SubnetTracker { return c.subnet16 }

// Total returns the total connection tracker.
func (c *Controller) Total() *ConnectionTracker { return c.total }

// Backoff returns the per-IP backoff limiter.
func (c *Controller) Backoff() *BackoffLimiter { return c.backoff }

// Global returns the global window limiter.
func (c *Controller) Global() *WindowLimiter { return c.global }

// LiveConnections returns the number of registered connections from ip.
func (c *Controller) LiveConnections(ip netip.Addr) int {
	c.liveMu.Lock()
	defer c.liveMu.Unlock()
	return c.live[ip.Unmap()]
}

// ─── Snapshot ───────────────────────────────────────────────────────────────

// SubnetUsage is the occupancy of one prefix.
type SubnetUsage struct {
	Subnet string `json:"subnet"`
	Count  int    `json:"count"`
}

// Snapshot is a point-in-time view of every tracker.
type Snapshot struct {
	Connections       int           `json:"connections"`
	MaxConnections    int           `json:"max_connections"`
	RemainingCapacity int           `json:"remaining_capacity"`
	Subnets24         []SubnetUsage `json:"subnets_24"`
	Subnets16         []SubnetUsage `json:"subnets_16"`
	MaxPerSubnet24    int           `json:"max_per_subnet_24"`
	MaxPerSubnet16    int           `json:"max_per_subnet_16"`
	WindowCount       int           `json:"window_count"`
	WindowRemaining   int           `json:"window_remaining"`
	WindowSeconds     float64       `json:"window_seconds"`
	BackoffEntries    int           `json:"backoff_entries"`
	BlockedAddresses  int           `json:"blocked_addresses"`
	AllowPrefixes     []string      `json:"allow_prefixes,omitempty"`
	DenyPrefixes      []string      `json:"deny_prefixes,omitempty"`
}

// Snapshot reports the current tracker state. Each tracker is read under
// its own lock, so the view is not atomic across trackers.
func (c *Controller) Snapshot() Snapshot {
	return Snapshot{
		Connections:       c.total.CurrentCount(),
		MaxConnections:    c.total.Max(),
		RemainingCapacity: c.total.RemainingCapacity(),
		Subnets24:         usage(c.subnet24.Subnets()),
		Subnets16:         usage(c.subnet16.Subnets()),
		MaxPerSubnet24:    c.subnet24.Limit(),
		MaxPerSubnet16:    c.subnet16.Limit(),
		WindowCount:       c.global.CurrentCount(),
		WindowRemaining:   c.global.RemainingCapacity(),
		WindowSeconds:     c.global.Window().Seconds(),
		BackoffEntries:    c.backoff.Len(),
		BlockedAddresses:  c.backoff.Blocked(),
		AllowPrefixes:     prefixStrings(c.policy.AllowPrefixes()),
		DenyPrefixes:      prefixStrings(c.policy.DenyPrefixes()),
	}
}

// ─── Internals ──────────────────────────────────────────────────────────────

func (c *Controller) reject(ip netip.Addr, stage domain.Stage, err error) error {
	metrics.RejectionsTotal.WithLabelValues(string(stage)).Inc()
	c.record(ip, stage, false, err.Error())
	c.rejectLog.Do(func() {
		c.log.Info("connection rejected",
			zap.Stringer("ip", ip),
			zap.String("stage", string(stage)),
			zap.Error(err))
	})
	return err
}

func (c *Controller) record(ip netip.Addr, stage domain.Stage, allowed bool, reason string) {
	if c.recorder == nil {
		return
	}
	c.recorder.RecordAdmission(domain.AdmissionEvent{
		ID:      uuid.NewString(),
		At:      c.now(),
		IP:      ip.String(),
		Stage:   stage,
		Allowed: allowed,
		Reason:  reason,
	})
}

func (c *Controller) updateGauges() {
	metrics.TrackedConnections.Set(float64(c.total.CurrentCount()))
	metrics.TrackedSubnets.WithLabelValues(strconv.Itoa(c.subnet24.Bits())).Set(float64(len(c.subnet24.Subnets())))
	metrics.TrackedSubnets.WithLabelValues(strconv.Itoa(c.subnet16.Bits())).Set(float64(len(c.subnet16.Subnets())))
	metrics.BackoffEntries.Set(float64(c.backoff.Len()))
	metrics.BlockedAddresses.Set(float64(c.backoff.Blocked()))
}

func usage(m map[netip.Prefix]int) []SubnetUsage {
	out := make([]SubnetUsage, 0, len(m))
	for prefix, n := range m {
		out = append(out, SubnetUsage{Subnet: prefix.String(), Count: n})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Subnet < out[j].Subnet })
	return out
}

func prefixStrings(prefixes []netip.Prefix) []string {
	if len(prefixes) == 0 {
		return nil
	}
	out := make([]string, len(prefixes))
	for i, p := range prefixes {
		out[i] = p.String()
	}
	return out
}

func formatWait(d time.Duration) string {
	if d == Never {
		return "never (blocked)"
	}
	return d.Round(time.Millisecond).String()
}

// IsRejection reports whether err is one of the admission refusals, as
// opposed to a programming or configuration error.
func IsRejection(err error) bool {
	for _, target := range []error{
		domain.ErrSubnetLimitExceeded,
		domain.ErrTotalLimitExceeded,
		domain.ErrGlobalRateLimited,
		domain.ErrPeerBackoff,
		domain.ErrPrefixDenied,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
