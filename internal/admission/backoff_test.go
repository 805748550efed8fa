package admission

import (
	"testing"
	"time"
)

func newTestBackoff(clock *fakeClock) *BackoffLimiter {
	l := NewBackoffLimiter(DefaultBackoffConfig())
	l.now = clock.Now
	return l
}

// ─── Delay ──────────────────────────────────────────────────────────────────

func TestBackoffDelay(t *testing.T) {
	l := NewBackoffLimiter(DefaultBackoffConfig())

	tests := []struct {
		failures uint32
		want     time.Duration
	}{
		{0, 0},
		{1, 1 * time.Second},
		{2, 2 * time.Second},
		{3, 4 * time.Second},
		{5, 16 * time.Second},
		{9, 256 * time.Second},
		{10, 300 * time.Second},
		{63, 300 * time.Second},
		{64, 300 * time.Second},
		{1 << 31, 300 * time.Second},
	}
	for _, tt := range tests {
		if got := l.Delay(tt.failures); got != tt.want {
			t.Errorf("Delay(%d) = %v, want %v", tt.failures, got, tt.want)
		}
	}
}

// ─── Attempts ───────────────────────────────────────────────────────────────

func TestBackoff_UnknownAddressAllowed(t *testing.T) {
	l := NewBackoffLimiter(DefaultBackoffConfig())
	ip := addr("192.0.2.1")

	if !l.CanAttempt(ip) {
		t.Error("CanAttempt() = false for unknown address")
	}
	if got := l.TimeUntilAllowed(ip); got != 0 {
		t.Errorf("TimeUntilAllowed() = %v, want 0", got)
	}
}

func TestBackoff_RecordAttemptDoesNotPenalize(t *testing.T) {
	clock := newFakeClock()
	l := newTestBackoff(clock)
	ip := addr("192.0.2.1")

	l.RecordAttempt(ip)
	l.RecordAttempt(ip)
	if !l.CanAttempt(ip) {
		t.Error("attempts without failures should not block")
	}
	if got := l.FailureCount(ip); got != 0 {
		t.Errorf("FailureCount() = %d, want 0", got)
	}
}

func TestBackoff_FailuresDouble(t *testing.T) {
	clock := newFakeClock()
	l := newTestBackoff(clock)
	ip := addr("192.0.2.1")

	l.RecordFailure(ip)
	if l.CanAttempt(ip) {
		t.Fatal("CanAttempt() = true right after a failure")
	}
	if got := l.TimeUntilAllowed(ip); got != time.Second {
		t.Errorf("TimeUntilAllowed() = %v, want 1s", got)
	}

	clock.Advance(time.Second)
	if !l.CanAttempt(ip) {
		t.Fatal("CanAttempt() = false after 1s backoff elapsed")
	}

	l.RecordFailure(ip)
	clock.Advance(1500 * time.Millisecond)
	if l.CanAttempt(ip) {
		t.Error("second failure should require 2s")
	}
	if got := l.TimeUntilAllowed(ip); got != 500*time.Millisecond {
		t.Errorf("TimeUntilAllowed() = %v, want 500ms", got)
	}
	clock.Advance(500 * time.Millisecond)
	if !l.CanAttempt(ip) {
		t.Error("CanAttempt() = false after 2s backoff elapsed")
	}
}

func TestBackoff_SuccessResets(t *testing.T) {
	clock := newFakeClock()
	l := newTestBackoff(clock)
	ip := addr("192.0.2.1")

	for i := 0; i < 5; i++ {
		l.RecordFailure(ip)
	}
	l.RecordSuccess(ip)

	if !l.CanAttempt(ip) {
		t.Error("CanAttempt() = false after RecordSuccess")
	}
	if got := l.FailureCount(ip); got != 0 {
		t.Errorf("FailureCount() = %d, want 0", got)
	}
	if l.Len() != 0 {
		t.Errorf("Len() = %d, want 0", l.Len())
	}
}

func TestBackoff_MaxFailuresBlocks(t *testing.T) {
	clock := newFakeClock()
	l := newTestBackoff(clock)
	ip := addr("192.0.2.1")

	for i := 0; i < 10; i++ {
		l.RecordFailure(ip)
	}
	clock.Advance(24 * time.Hour)

	if l.CanAttempt(ip) {
		t.Error("blocked address should never be allowed")
	}
	if !l.IsBlocked(ip) {
		t.Error("IsBlocked() = false after MaxFailures")
	}
	if got := l.TimeUntilAllowed(ip); got != Never {
		t.Errorf("TimeUntilAllowed() = %v, want Never", got)
	}
	if l.Blocked() != 1 {
		t.Errorf("Blocked() = %d, want 1", l.Blocked())
	}
}

func TestBackoff_CleanupKeepsBlocked(t *testing.T) {
	clock := newFakeClock()
	l := newTestBackoff(clock)
	stale := addr("192.0.2.1")
	fresh := addr("192.0.2.2")
	banned := addr("192.0.2.3")

	l.RecordFailure(stale)
	for i := 0; i < 10; i++ {
		l.RecordFailure(banned)
	}
	clock.Advance(2 * time.Hour)
	l.RecordAttempt(fresh)

	removed := l.Cleanup(time.Hour)
	if removed != 1 {
		t.Errorf("Cleanup() removed %d, want 1", removed)
	}
	if l.FailureCount(stale) != 0 {
		t.Error("stale entry should be gone")
	}
	if !l.IsBlocked(banned) {
		t.Error("blocked entry must survive cleanup")
	}
	if l.Len() != 2 {
		t.Errorf("Len() = %d, want 2", l.Len())
	}
}

func TestBackoff_RealClockSmoke(t *testing.T) {
	l := NewBackoffLimiter(BackoffConfig{
		BaseDelay:   10 * time.Millisecond, // Tiny for testing
		MaxDelay:    50 * time.Millisecond,
		MaxFailures: 5,
	})
	ip := addr("192.0.2.9")

	l.RecordFailure(ip)
	if l.CanAttempt(ip) {
		t.Fatal("expected backoff right after failure")
	}
	time.Sleep(20 * time.Millisecond)
	if !l.CanAttempt(ip) {
		t.Error("expected attempt allowed after backoff expired")
	}
}
