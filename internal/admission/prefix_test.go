package admission

import (
	"errors"
	"testing"
)

func TestPrefixPolicy(t *testing.T) {
	p, err := NewPrefixPolicy(
		[]string{"10.0.0.0/8", "192.0.2.5"},
		[]string{"203.0.113.0/24", "2001:db8::/32"},
	)
	if err != nil {
		t.Fatalf("NewPrefixPolicy() error: %v", err)
	}

	tests := []struct {
		ip      string
		allowed bool
		denied  bool
	}{
		{"10.44.3.2", true, false},
		{"192.0.2.5", true, false},
		{"192.0.2.6", false, false},
		{"203.0.113.77", false, true},
		{"::ffff:203.0.113.77", false, true},
		{"2001:db8::1", false, true},
		{"8.8.8.8", false, false},
	}
	for _, tt := range tests {
		ip := addr(tt.ip)
		if got := p.Allowed(ip); got != tt.allowed {
			t.Errorf("Allowed(%s) = %v, want %v", tt.ip, got, tt.allowed)
		}
		if got := p.Denied(ip); got != tt.denied {
			t.Errorf("Denied(%s) = %v, want %v", tt.ip, got, tt.denied)
		}
	}

	if got := len(p.DenyPrefixes()); got != 2 {
		t.Errorf("DenyPrefixes() len = %d, want 2", got)
	}
}

func TestPrefixPolicy_Invalid(t *testing.T) {
	_, err := NewPrefixPolicy(nil, []string{"not-a-cidr"})
	var ce *ConfigError
	if !errors.As(err, &ce) {
		t.Fatalf("error = %v, want *ConfigError", err)
	}
	if ce.Field != "deny_prefixes" {
		t.Errorf("Field = %q, want deny_prefixes", ce.Field)
	}
}

func TestPrefixPolicy_NilSafe(t *testing.T) {
	var p *PrefixPolicy
	if p.Denied(addr("1.1.1.1")) || p.Allowed(addr("1.1.1.1")) {
		t.Error("nil policy should neither allow nor deny")
	}
}
