package admission

import (
	"net/netip"
	"strings"

	ma "github.com/multiformats/go-multiaddr"
)

// MinBootstrapPeers is the minimum number of bootstrap peers, and of
// distinct /16 subnets among them, required for eclipse protection.
const MinBootstrapPeers = 3

// ValidateBootstrapPeers checks a bootstrap list against MinBootstrapPeers.
func ValidateBootstrapPeers(peers []string) error {
	return ValidateBootstrapPeersMin(peers, MinBootstrapPeers)
}

// ValidateBootstrapPeersMin requires at least required peers spread over at
// least that many distinct IPv4 /16 subnets. Entries without an IP literal
// (DNS names) count toward the total but not toward diversity.
func ValidateBootstrapPeersMin(peers []string, required int) error {
	if len(peers) < required {
		return &BootstrapCountError{Required: required, Actual: len(peers)}
	}

	subnets := make(map[netip.Prefix]struct{}, len(peers))
	for _, p := range peers {
		ip, ok := ExtractIP(p)
		if !ok {
			continue
		}
		if key, ok := Prefix16.Key(ip); ok {
			subnets[key] = struct{}{}
		}
	}

	if len(subnets) < required {
		return &BootstrapDiversityError{Required: required, Actual: len(subnets)}
	}
	return nil
}

// ExtractIP returns the first IP address embedded in a multiaddr string such
// as /ip4/203.0.113.7/tcp/9000/p2p/<peer-id>.
func ExtractIP(addr string) (netip.Addr, bool) {
	if m, err := ma.NewMultiaddr(addr); err == nil {
		return IPFromMultiaddr(m)
	}

	// Not a valid multiaddr (unknown protocol or malformed peer ID): scan
	// the segments for anything that parses as an address.
	for _, part := range strings.Split(addr, "/") {
		if ip, err := netip.ParseAddr(part); err == nil {
			return ip.Unmap(), true
		}
	}
	return netip.Addr{}, false
}

// IPFromMultiaddr returns the first /ip4 or /ip6 component of m.
func IPFromMultiaddr(m ma.Multiaddr) (netip.Addr, bool) {
	if m == nil {
		return netip.Addr{}, false
	}
	var (
		ip    netip.Addr
		found bool
	)
	ma.ForEach(m, func(c ma.Component) bool {
		switch c.Protocol().Code {
		case ma.P_IP4, ma.P_IP6:
			if parsed, err := netip.ParseAddr(c.Value()); err == nil {
				ip, found = parsed.Unmap(), true
			}
			return false
		}
		return true
	})
	return ip, found
}
