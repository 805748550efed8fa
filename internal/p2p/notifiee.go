package p2p

import (
	"net/netip"
	"sync"

	"github.com/libp2p/go-libp2p/core/network"
	ma "github.com/multiformats/go-multiaddr"
	"go.uber.org/zap"

	"github.com/agentmesh-network/agentmesh/internal/admission"
	"github.com/agentmesh-network/agentmesh/internal/infra/metrics"
)

// Notifiee commits established connections to the admission trackers and
// releases them on disconnect. Only connections it registered are released,
// so refused or half-open connections never skew the counts.
type Notifiee struct {
	ctrl *admission.Controller
	log  *zap.Logger

	mu         sync.Mutex
	registered map[string]netip.Addr // connection ID → remote IP
}

// NewNotifiee creates a notifiee backed by ctrl.
func NewNotifiee(ctrl *admission.Controller, log *zap.Logger) *Notifiee {
	if log == nil {
		log = zap.NewNop()
	}
	return &Notifiee{
		ctrl:       ctrl,
		log:        log,
		registered: make(map[string]netip.Addr),
	}
}

func (n *Notifiee) Listen(network.Network, ma.Multiaddr)      {}
func (n *Notifiee) ListenClose(network.Network, ma.Multiaddr) {}

// Connected registers c and closes it when the trackers refuse it.
func (n *Notifiee) Connected(net network.Network, c network.Conn) {
	if !n.register(c.ID(), c.Stat().Direction, c.RemoteMultiaddr()) {
		go c.Close()
	}
	metrics.PeersConnected.Set(float64(len(net.Peers())))
}

// Disconnected releases c if it was registered.
func (n *Notifiee) Disconnected(net network.Network, c network.Conn) {
	n.release(c.ID())
	metrics.PeersConnected.Set(float64(len(net.Peers())))
}

// Registered returns the number of connections holding tracker slots.
func (n *Notifiee) Registered() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.registered)
}

func (n *Notifiee) register(connID string, dir network.Direction, remote ma.Multiaddr) bool {
	ip, ok := admission.IPFromMultiaddr(remote)
	if !ok {
		// The gater refuses inbound connections without an IP; outbound
		// ones over relays carry none and are bounded by the conn manager.
		return dir != network.DirInbound
	}

	if err := n.ctrl.Register(ip); err != nil {
		if dir == network.DirInbound {
			n.ctrl.RecordFailure(ip)
		}
		n.log.Debug("connection refused after handshake",
			zap.String("conn", connID),
			zap.Stringer("ip", ip),
			zap.Stringer("direction", dir),
			zap.Error(err))
		return false
	}
	if dir == network.DirInbound {
		n.ctrl.RecordSuccess(ip)
	}

	n.mu.Lock()
	n.registered[connID] = ip
	n.mu.Unlock()
	return true
}

func (n *Notifiee) release(connID string) {
	n.mu.Lock()
	ip, ok := n.registered[connID]
	delete(n.registered, connID)
	n.mu.Unlock()

	if ok {
		n.ctrl.Release(ip)
	}
}
