package lb

import (
	"sync"
	"sync/atomic"
)

// leastConnEntry tracks active connections for a single backend.
type leastConnEntry struct {
	backend *Backend
	active  *atomic.Int64
}

// LeastConnections picks the backend with the fewest in-flight requests.
//
// The caller must call Done when a request completes (success or error),
// otherwise the counter leaks and the backend appears permanently busy.
// The proxy does this for every attempt it dispatches.
type LeastConnections struct {
	mu      sync.RWMutex
	entries []leastConnEntry
}

// NewLeastConnections creates a least-connections balancer.
func NewLeastConnections(backends []*Backend) *LeastConnections {
	lc := &LeastConnections{}
	lc.Rebuild(backends)
	return lc
}

// Pick returns the backend with the fewest active requests and increments
// its counter. The request hash and attempt are ignored.
func (lc *LeastConnections) Pick(_ uint64, _ uint32) *Backend {
	lc.mu.RLock()
	defer lc.mu.RUnlock()

	if len(lc.entries) == 0 {
		return nil
	}

	bestIdx := 0
	bestCount := lc.entries[0].active.Load()
	for i := 1; i < len(lc.entries); i++ {
		if count := lc.entries[i].active.Load(); count < bestCount {
			bestCount = count
			bestIdx = i
		}
	}

	lc.entries[bestIdx].active.Add(1)
	return lc.entries[bestIdx].backend
}

// Done decrements the active count for the given backend. A backend that
// was removed by a Rebuild while its request was in flight is a no-op.
func (lc *LeastConnections) Done(b *Backend) {
	lc.mu.RLock()
	defer lc.mu.RUnlock()

	for i := range lc.entries {
		if lc.entries[i].backend.Addr == b.Addr {
			lc.entries[i].active.Add(-1)
			return
		}
	}
}

// Rebuild replaces the backend set. Active counts carry over for backends
// that survive the change, so an unhealthy-then-healthy flap does not reset
// their standing.
func (lc *LeastConnections) Rebuild(backends []*Backend) error {
	lc.mu.Lock()
	defer lc.mu.Unlock()

	old := make(map[string]*atomic.Int64, len(lc.entries))
	for i := range lc.entries {
		old[lc.entries[i].backend.Addr] = lc.entries[i].active
	}

	entries := make([]leastConnEntry, len(backends))
	for i, b := range backends {
		active := old[b.Addr]
		if active == nil {
			active = new(atomic.Int64)
		}
		entries[i] = leastConnEntry{backend: b, active: active}
	}
	lc.entries = entries
	return nil
}
