package admission

import (
	"fmt"
	"net/netip"
	"strings"

	"go4.org/netipx"
)

// PrefixPolicy holds operator-configured allow and deny address sets.
// Denied addresses are refused outright. Allowed addresses skip the rate
// limiters but still count against subnet and total caps.
type PrefixPolicy struct {
	allow *netipx.IPSet
	deny  *netipx.IPSet
}

// NewPrefixPolicy builds a policy from CIDR strings. A bare address is
// treated as a single-host prefix.
func NewPrefixPolicy(allow, deny []string) (*PrefixPolicy, error) {
	allowSet, err := buildIPSet(allow)
	if err != nil {
		return nil, &ConfigError{Field: "allow_prefixes", Reason: err.Error()}
	}
	denySet, err := buildIPSet(deny)
	if err != nil {
		return nil, &ConfigError{Field: "deny_prefixes", Reason: err.Error()}
	}
	return &PrefixPolicy{allow: allowSet, deny: denySet}, nil
}

// Denied reports whether ip falls in a deny prefix.
func (p *PrefixPolicy) Denied(ip netip.Addr) bool {
	return p != nil && p.deny.Contains(ip.Unmap())
}

// Allowed reports whether ip falls in an allow prefix.
func (p *PrefixPolicy) Allowed(ip netip.Addr) bool {
	return p != nil && p.allow.Contains(ip.Unmap())
}

// DenyPrefixes returns the minimal prefix list covering the deny set.
func (p *PrefixPolicy) DenyPrefixes() []netip.Prefix {
	if p == nil {
		return nil
	}
	return p.deny.Prefixes()
}

// AllowPrefixes returns the minimal prefix list covering the allow set.
func (p *PrefixPolicy) AllowPrefixes() []netip.Prefix {
	if p == nil {
		return nil
	}
	return p.allow.Prefixes()
}

func buildIPSet(entries []string) (*netipx.IPSet, error) {
	var b netipx.IPSetBuilder
	for _, raw := range entries {
		entry := strings.TrimSpace(raw)
		if entry == "" {
			continue
		}
		if strings.Contains(entry, "/") {
			prefix, err := netip.ParsePrefix(entry)
			if err != nil {
				return nil, fmt.Errorf("parse %q: %w", entry, err)
			}
			b.AddPrefix(prefix.Masked())
			continue
		}
		ip, err := netip.ParseAddr(entry)
		if err != nil {
			return nil, fmt.Errorf("parse %q: %w", entry, err)
		}
		b.Add(ip.Unmap())
	}
	return b.IPSet()
}
