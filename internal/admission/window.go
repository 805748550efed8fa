package admission

import (
	"sort"
	"sync"
	"time"
)

// Global connection rate defaults.
const (
	DefaultMaxConnectionsPerMinute = 10
	DefaultConnectionWindow        = 60 * time.Second
)

// WindowLimiter caps new connections across all sources over a sliding
// window. Admissions age out one by one, so capacity recovers continuously
// rather than at bucket boundaries.
type WindowLimiter struct {
	mu           sync.Mutex
	times        []time.Time // oldest first
	maxPerWindow int
	window       time.Duration
	now          func() time.Time
}

// NewWindowLimiter creates a limiter admitting maxPerWindow connections
// within any span of length window.
func NewWindowLimiter(maxPerWindow int, window time.Duration) *WindowLimiter {
	return &WindowLimiter{
		times:        make([]time.Time, 0, maxPerWindow),
		maxPerWindow: maxPerWindow,
		window:       window,
		now:          time.Now,
	}
}

// NewDefaultWindowLimiter creates a limiter with 10 admissions per minute.
func NewDefaultWindowLimiter() *WindowLimiter {
	return NewWindowLimiter(DefaultMaxConnectionsPerMinute, DefaultConnectionWindow)
}

// MaxPerWindow returns the configured cap.
func (w *WindowLimiter) MaxPerWindow() int { return w.maxPerWindow }

// Window returns the window length.
func (w *WindowLimiter) Window() time.Duration { return w.window }

// RecordNewConnection admits one connection if the window has room. A
// rejected call leaves the window unchanged.
func (w *WindowLimiter) RecordNewConnection() bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	now := w.now()
	w.times = w.times[w.firstLive(now):]
	if len(w.times) >= w.maxPerWindow {
		return false
	}
	w.times = append(w.times, now)
	return true
}

// CanAcceptNewConnection reports whether RecordNewConnection would admit.
func (w *WindowLimiter) CanAcceptNewConnection() bool {
	return w.CurrentCount() < w.maxPerWindow
}

// CurrentCount returns the admissions inside the current window.
func (w *WindowLimiter) CurrentCount() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.times) - w.firstLive(w.now())
}

// RemainingCapacity returns how many more admissions the window allows now.
func (w *WindowLimiter) RemainingCapacity() int {
	return max(0, w.maxPerWindow-w.CurrentCount())
}

// firstLive returns the index of the oldest timestamp still inside the
// window. Caller holds w.mu.
func (w *WindowLimiter) firstLive(now time.Time) int {
	return sort.Search(len(w.times), func(i int) bool {
		return now.Sub(w.times[i]) < w.window
	})
}
