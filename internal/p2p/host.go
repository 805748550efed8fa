// Package p2p runs the libp2p host and plugs the admission controller into
// its connection lifecycle.
package p2p

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	libp2p "github.com/libp2p/go-libp2p"
	"github.com/libp2p/go-libp2p/core/crypto"
	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/network"
	"github.com/libp2p/go-libp2p/core/peer"
	yamux "github.com/libp2p/go-libp2p/p2p/muxer/yamux"
	connmgr "github.com/libp2p/go-libp2p/p2p/net/connmgr"
	noise "github.com/libp2p/go-libp2p/p2p/security/noise"
	tcp "github.com/libp2p/go-libp2p/p2p/transport/tcp"
	"go.uber.org/zap"

	"github.com/agentmesh-network/agentmesh/internal/admission"
	"github.com/agentmesh-network/agentmesh/internal/domain"
	"github.com/agentmesh-network/agentmesh/internal/infra/metrics"
)

const (
	bootstrapDialTimeout = 10 * time.Second
	connGracePeriod      = time.Minute
)

// Config controls the host.
type Config struct {
	ListenAddrs    []string
	BootstrapPeers []string
	MaxConnections int
	IdleTimeout    time.Duration
}

// Host wraps a libp2p host whose connections are gated by the admission
// controller.
type Host struct {
	host     host.Host
	ctrl     *admission.Controller
	gater    *Gater
	notifiee *Notifiee
	activity *activityLog
	config   Config
	log      *zap.Logger
	now      func() time.Time
}

// New builds and starts listening on a libp2p host. TCP with Noise and
// Yamux; identity from key.
func New(cfg Config, key crypto.PrivKey, ctrl *admission.Controller, log *zap.Logger) (*Host, error) {
	if log == nil {
		log = zap.NewNop()
	}
	if cfg.MaxConnections <= 0 {
		return nil, &admission.ConfigError{Field: "max_connections", Reason: "must be greater than 0"}
	}

	// Start pruning at 80% of the ceiling.
	high := cfg.MaxConnections
	low := high * 80 / 100
	cm, err := connmgr.NewConnManager(low, high, connmgr.WithGracePeriod(connGracePeriod))
	if err != nil {
		return nil, fmt.Errorf("connmgr: %w", err)
	}

	gater := NewGater(ctrl, log)
	h, err := libp2p.New(
		libp2p.Identity(key),
		libp2p.ListenAddrStrings(cfg.ListenAddrs...),
		libp2p.Transport(tcp.NewTCPTransport),
		libp2p.Security(noise.ID, noise.New),
		libp2p.Muxer(yamux.ID, yamux.DefaultTransport),
		libp2p.ConnectionManager(cm),
		libp2p.ConnectionGater(gater),
	)
	if err != nil {
		return nil, fmt.Errorf("libp2p host: %w", err)
	}

	n := NewNotifiee(ctrl, log)
	h.Network().Notify(n)

	log.Info("p2p host started",
		zap.Stringer("peer_id", h.ID()),
		zap.Strings("listen", addrStrings(h)),
		zap.Int("conn_low", low),
		zap.Int("conn_high", high))

	return &Host{
		host:     h,
		ctrl:     ctrl,
		gater:    gater,
		notifiee: n,
		activity: newActivityLog(),
		config:   cfg,
		log:      log,
		now:      time.Now,
	}, nil
}

// ID returns the host's peer ID.
func (h *Host) ID() peer.ID { return h.host.ID() }

// Addrs returns the full dialable addresses including the /p2p component.
func (h *Host) Addrs() []string { return addrStrings(h.host) }

// ListenAddrCount returns the number of active listen addresses.
func (h *Host) ListenAddrCount() int { return len(h.host.Network().ListenAddresses()) }

// Close shuts the host down.
func (h *Host) Close() error { return h.host.Close() }

// ─── Bootstrap ──────────────────────────────────────────────────────────────

// Bootstrap dials every configured bootstrap peer in parallel and returns
// how many connected. Entries without a /p2p component are skipped.
func (h *Host) Bootstrap(ctx context.Context) int {
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		connected int
	)
	for _, raw := range h.config.BootstrapPeers {
		info, err := peer.AddrInfoFromString(raw)
		if err != nil {
			metrics.BootstrapDials.WithLabelValues("invalid").Inc()
			h.log.Warn("bootstrap: invalid peer address", zap.String("addr", raw), zap.Error(err))
			continue
		}
		if info.ID == h.host.ID() {
			continue
		}

		wg.Add(1)
		go func(info peer.AddrInfo) {
			defer wg.Done()
			dialCtx, cancel := context.WithTimeout(ctx, bootstrapDialTimeout)
			defer cancel()

			if err := h.host.Connect(dialCtx, info); err != nil {
				metrics.BootstrapDials.WithLabelValues("failed").Inc()
				h.log.Warn("bootstrap: dial failed", zap.Stringer("peer", info.ID), zap.Error(err))
				return
			}
			metrics.BootstrapDials.WithLabelValues("ok").Inc()
			mu.Lock()
			connected++
			mu.Unlock()
		}(*info)
	}
	wg.Wait()

	h.log.Info("bootstrap complete",
		zap.Int("connected", connected),
		zap.Int("configured", len(h.config.BootstrapPeers)))
	return connected
}

// ─── Idle Reaper ────────────────────────────────────────────────────────────

// RunIdleReaper closes idle connections until ctx is done. The sweep runs
// at a quarter of the idle timeout.
func (h *Host) RunIdleReaper(ctx context.Context) {
	if h.config.IdleTimeout <= 0 {
		return
	}
	ticker := time.NewTicker(max(h.config.IdleTimeout/4, time.Second))
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			h.ReapIdle()
		}
	}
}

// RunHandshakeExpiry charges timed-out inbound handshakes to the per-IP
// backoff until ctx is done.
func (h *Host) RunHandshakeExpiry(ctx context.Context) {
	ticker := time.NewTicker(handshakeTimeout / 2)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			h.gater.ExpireHandshakes()
		}
	}
}

// ReapIdle closes every connection that has carried no streams for longer
// than the idle timeout and returns how many were closed. A connection's
// idle time starts at the last sweep that saw it carrying streams.
func (h *Host) ReapIdle() int {
	now := h.now()
	conns := h.host.Network().Conns()
	live := make(map[string]struct{}, len(conns))
	closed := 0
	for _, c := range conns {
		live[c.ID()] = struct{}{}
		p := peerFromConn(c)
		if idleFor(h.activity, c.ID(), p, now) <= h.config.IdleTimeout {
			continue
		}
		if err := c.Close(); err != nil {
			h.log.Debug("idle close failed", zap.String("peer", p.PeerID), zap.Error(err))
			continue
		}
		closed++
	}
	h.activity.retain(live)

	if closed > 0 {
		metrics.IdleDisconnects.Add(float64(closed))
		h.log.Info("closed idle connections", zap.Int("count", closed))
	}
	return closed
}

// idleFor records p's stream state in a and returns how long it has been idle.
func idleFor(a *activityLog, id string, p domain.Peer, now time.Time) time.Duration {
	p.LastActive = a.observe(id, p.Streams, now)
	return p.IdleFor(now)
}

// ─── Peers ──────────────────────────────────────────────────────────────────

// Peers returns one entry per open connection, oldest first.
func (h *Host) Peers() []domain.Peer {
	conns := h.host.Network().Conns()
	peers := make([]domain.Peer, 0, len(conns))
	for _, c := range conns {
		p := peerFromConn(c)
		p.LastActive = h.activity.lastActive(c.ID())
		peers = append(peers, p)
	}
	sort.Slice(peers, func(i, j int) bool {
		return peers[i].ConnectedAt.Before(peers[j].ConnectedAt)
	})
	return peers
}

// PeerCount returns the number of distinct connected peers.
func (h *Host) PeerCount() int { return len(h.host.Network().Peers()) }

func peerFromConn(c network.Conn) domain.Peer {
	stat := c.Stat()
	p := domain.Peer{
		PeerID:      c.RemotePeer().String(),
		RemoteAddr:  c.RemoteMultiaddr().String(),
		ConnectedAt: stat.Opened,
		Streams:     len(c.GetStreams()),
		Direction:   direction(stat.Direction),
	}
	if ip, ok := admission.IPFromMultiaddr(c.RemoteMultiaddr()); ok {
		p.IP = ip.String()
	}
	return p
}

func direction(d network.Direction) domain.Direction {
	switch d {
	case network.DirInbound:
		return domain.DirectionInbound
	case network.DirOutbound:
		return domain.DirectionOutbound
	default:
		return domain.DirectionUnknown
	}
}

func addrStrings(h host.Host) []string {
	out := make([]string, 0, len(h.Addrs()))
	for _, a := range h.Addrs() {
		out = append(out, fmt.Sprintf("%s/p2p/%s", a, h.ID()))
	}
	return out
}
