package p2p

import (
	"net/netip"
	"sync"
	"time"

	"github.com/libp2p/go-libp2p/core/control"
	"github.com/libp2p/go-libp2p/core/network"
	"github.com/libp2p/go-libp2p/core/peer"
	ma "github.com/multiformats/go-multiaddr"
	"go.uber.org/zap"

	"github.com/agentmesh-network/agentmesh/internal/admission"
	"github.com/agentmesh-network/agentmesh/internal/domain"
)

// handshakeTimeout bounds how long an accepted connection may take to
// finish the security handshake before it counts as a failed attempt.
const handshakeTimeout = 30 * time.Second

// Gater runs the admission pipeline's pre-handshake stages on every
// inbound connection. Tracker slots are committed later by the Notifiee,
// once the connection is fully established.
//
// Accepted connections that never complete the security handshake are
// charged to the remote address's backoff by ExpireHandshakes.
type Gater struct {
	ctrl *admission.Controller
	log  *zap.Logger
	now  func() time.Time

	mu      sync.Mutex
	pending map[string]pendingHandshake // remote multiaddr → attempt
}

type pendingHandshake struct {
	ip netip.Addr
	at time.Time
}

// NewGater creates a gater backed by ctrl.
func NewGater(ctrl *admission.Controller, log *zap.Logger) *Gater {
	if log == nil {
		log = zap.NewNop()
	}
	return &Gater{
		ctrl:    ctrl,
		log:     log,
		now:     time.Now,
		pending: make(map[string]pendingHandshake),
	}
}

// InterceptAccept runs prefix policy, the global rate limit, the per-IP
// backoff and a read-only capacity check against the remote address.
func (g *Gater) InterceptAccept(addrs network.ConnMultiaddrs) (allow bool) {
	ip, ok := admission.IPFromMultiaddr(addrs.RemoteMultiaddr())
	if !ok {
		g.log.Debug("gater: inbound connection without IP",
			zap.Stringer("addr", addrs.RemoteMultiaddr()),
			zap.Error(domain.ErrNoRemoteIP))
		return false
	}
	if g.ctrl.AdmitAttempt(ip) != nil {
		return false
	}

	g.mu.Lock()
	g.pending[addrs.RemoteMultiaddr().String()] = pendingHandshake{ip: ip, at: g.now()}
	g.mu.Unlock()
	return true
}

// InterceptSecured clears the pending handshake of an inbound connection.
func (g *Gater) InterceptSecured(dir network.Direction, _ peer.ID, addrs network.ConnMultiaddrs) (allow bool) {
	if dir == network.DirInbound {
		g.mu.Lock()
		delete(g.pending, addrs.RemoteMultiaddr().String())
		g.mu.Unlock()
	}
	return true
}

// ExpireHandshakes records a failure for every accepted connection whose
// handshake has been pending longer than handshakeTimeout, and returns how
// many it charged.
func (g *Gater) ExpireHandshakes() int {
	cutoff := g.now().Add(-handshakeTimeout)

	g.mu.Lock()
	var failed []netip.Addr
	for key, p := range g.pending {
		if p.at.Before(cutoff) {
			failed = append(failed, p.ip)
			delete(g.pending, key)
		}
	}
	g.mu.Unlock()

	for _, ip := range failed {
		g.ctrl.RecordFailure(ip)
	}
	if len(failed) > 0 {
		g.log.Debug("gater: handshakes timed out", zap.Int("count", len(failed)))
	}
	return len(failed)
}

// Pending returns the number of accepted connections still in handshake.
func (g *Gater) Pending() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.pending)
}

// InterceptAddrDial refuses outbound dials into denied prefixes.
func (g *Gater) InterceptAddrDial(_ peer.ID, addr ma.Multiaddr) (allow bool) {
	ip, ok := admission.IPFromMultiaddr(addr)
	if !ok {
		return true // DNS and relay addresses resolve later
	}
	return !g.ctrl.Policy().Denied(ip)
}

func (g *Gater) InterceptPeerDial(peer.ID) (allow bool) { return true }

func (g *Gater) InterceptUpgraded(network.Conn) (allow bool, reason control.DisconnectReason) {
	return true, 0
}
