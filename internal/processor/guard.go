package processor

import (
	"sync"
	"time"
)

// guard enforces at-most-one in-flight process call per series. Entries
// older than ttl are considered abandoned (a crashed goroutine must not
// wedge the series forever) and can be taken over.
type guard struct {
	mu  sync.Mutex
	ttl time.Duration
	in  map[string]time.Time
}

func newGuard(ttl time.Duration) *guard {
	return &guard{ttl: ttl, in: make(map[string]time.Time)}
}

func (g *guard) acquire(id string, now time.Time) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if started, ok := g.in[id]; ok && now.Sub(started) < g.ttl {
		return false
	}
	g.in[id] = now
	return true
}

func (g *guard) release(id string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.in, id)
}
