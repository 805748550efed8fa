package p2p

import (
	"fmt"
	"testing"
	"time"

	"github.com/libp2p/go-libp2p/core/network"
	ma "github.com/multiformats/go-multiaddr"

	"github.com/agentmesh-network/agentmesh/internal/admission"
)

type fakeConnAddrs struct {
	local, remote ma.Multiaddr
}

func (f fakeConnAddrs) LocalMultiaddr() ma.Multiaddr  { return f.local }
func (f fakeConnAddrs) RemoteMultiaddr() ma.Multiaddr { return f.remote }

func inbound(remote string) fakeConnAddrs {
	return fakeConnAddrs{
		local:  ma.StringCast("/ip4/127.0.0.1/tcp/9000"),
		remote: ma.StringCast(remote),
	}
}

func newTestController(t *testing.T, mutate func(*admission.SecurityConfig), max int) *admission.Controller {
	t.Helper()
	cfg := admission.DefaultSecurityConfig()
	cfg.MaxConnectionsPerWindow = 1000
	if mutate != nil {
		mutate(&cfg)
	}
	ctrl, err := admission.NewController(cfg, max)
	if err != nil {
		t.Fatalf("NewController() error: %v", err)
	}
	return ctrl
}

// ─── Gater ──────────────────────────────────────────────────────────────────

func TestGater_InterceptAccept(t *testing.T) {
	ctrl := newTestController(t, func(c *admission.SecurityConfig) {
		c.DenyPrefixes = []string{"203.0.113.0/24"}
	}, 50)
	g := NewGater(ctrl, nil)

	tests := []struct {
		remote string
		want   bool
	}{
		{"/ip4/198.51.100.1/tcp/4001", true},
		{"/ip6/2001:db8::1/tcp/4001", true},
		{"/ip4/203.0.113.5/tcp/4001", false},
		{"/dns4/example.org/tcp/4001", false},
	}
	for _, tt := range tests {
		if got := g.InterceptAccept(inbound(tt.remote)); got != tt.want {
			t.Errorf("InterceptAccept(%s) = %v, want %v", tt.remote, got, tt.want)
		}
	}

	// Accept never commits tracker slots.
	if got := ctrl.Total().CurrentCount(); got != 0 {
		t.Errorf("total after accepts = %d, want 0", got)
	}
}

func TestGater_AcceptRespectsSubnetCap(t *testing.T) {
	ctrl := newTestController(t, nil, 50)
	g := NewGater(ctrl, nil)

	for i := 1; i <= 3; i++ {
		ctrl.Admit(addrFor(fmt.Sprintf("10.9.%d.1", i)))
	}
	if g.InterceptAccept(inbound("/ip4/10.9.77.1/tcp/4001")) {
		t.Error("accept should be refused once the /16 is full")
	}
}

func TestGater_BackoffRefuses(t *testing.T) {
	ctrl := newTestController(t, nil, 50)
	g := NewGater(ctrl, nil)

	ctrl.RecordFailure(addrFor("198.51.100.9"))
	if g.InterceptAccept(inbound("/ip4/198.51.100.9/tcp/4001")) {
		t.Error("accept should be refused during backoff")
	}
}

func TestGater_AddrDial(t *testing.T) {
	ctrl := newTestController(t, func(c *admission.SecurityConfig) {
		c.DenyPrefixes = []string{"203.0.113.0/24"}
	}, 50)
	g := NewGater(ctrl, nil)

	if g.InterceptAddrDial("", ma.StringCast("/ip4/203.0.113.1/tcp/1")) {
		t.Error("dial into denied prefix should be refused")
	}
	if !g.InterceptAddrDial("", ma.StringCast("/ip4/198.51.100.1/tcp/1")) {
		t.Error("dial to allowed address should pass")
	}
	if !g.InterceptAddrDial("", ma.StringCast("/dns4/example.org/tcp/1")) {
		t.Error("dial to DNS address should pass")
	}
	if !g.InterceptSecured(network.DirInbound, "", inbound("/ip4/1.1.1.1/tcp/1")) {
		t.Error("InterceptSecured should allow")
	}
}

func TestGater_ExpireHandshakes(t *testing.T) {
	ctrl := newTestController(t, nil, 50)
	g := NewGater(ctrl, nil)
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	g.now = func() time.Time { return now }

	stalled := inbound("/ip4/198.51.100.20/tcp/5001")
	secured := inbound("/ip4/198.51.100.21/tcp/5002")
	if !g.InterceptAccept(stalled) || !g.InterceptAccept(secured) {
		t.Fatal("InterceptAccept() = false, want true")
	}
	if g.Pending() != 2 {
		t.Fatalf("Pending() = %d, want 2", g.Pending())
	}
	g.InterceptSecured(network.DirInbound, "", secured)

	if got := g.ExpireHandshakes(); got != 0 {
		t.Errorf("ExpireHandshakes() before timeout = %d, want 0", got)
	}

	now = now.Add(handshakeTimeout + time.Second)
	if got := g.ExpireHandshakes(); got != 1 {
		t.Errorf("ExpireHandshakes() = %d, want 1", got)
	}
	if got := ctrl.Backoff().FailureCount(addrFor("198.51.100.20")); got != 1 {
		t.Errorf("stalled failures = %d, want 1", got)
	}
	if got := ctrl.Backoff().FailureCount(addrFor("198.51.100.21")); got != 0 {
		t.Errorf("secured failures = %d, want 0", got)
	}
	if g.Pending() != 0 {
		t.Errorf("Pending() = %d, want 0", g.Pending())
	}
}

func TestGater_RefusedAcceptNotPending(t *testing.T) {
	ctrl := newTestController(t, func(c *admission.SecurityConfig) {
		c.DenyPrefixes = []string{"203.0.113.0/24"}
	}, 50)
	g := NewGater(ctrl, nil)

	g.InterceptAccept(inbound("/ip4/203.0.113.5/tcp/4001"))
	if g.Pending() != 0 {
		t.Errorf("Pending() = %d, want 0", g.Pending())
	}
}
