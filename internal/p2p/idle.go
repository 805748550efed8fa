package p2p

import (
	"sync"
	"time"
)

// activityLog remembers, per connection ID, the last sweep that saw the
// connection carrying streams. libp2p has no stream-close notification, so
// idle time is measured from that sweep and is never overestimated.
type activityLog struct {
	mu   sync.Mutex
	seen map[string]time.Time
}

func newActivityLog() *activityLog {
	return &activityLog{seen: make(map[string]time.Time)}
}

// observe records the state of connection id at now and returns its last
// active time. A zero result means the connection has never carried streams.
func (a *activityLog) observe(id string, streams int, now time.Time) time.Time {
	a.mu.Lock()
	defer a.mu.Unlock()
	if streams > 0 {
		a.seen[id] = now
		return now
	}
	return a.seen[id]
}

// lastActive returns the last time id was seen with streams.
func (a *activityLog) lastActive(id string) time.Time {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.seen[id]
}

// retain drops entries for connections not in live.
func (a *activityLog) retain(live map[string]struct{}) {
	a.mu.Lock()
	defer a.mu.Unlock()
	for id := range a.seen {
		if _, ok := live[id]; !ok {
			delete(a.seen, id)
		}
	}
}

func (a *activityLog) len() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.seen)
}
