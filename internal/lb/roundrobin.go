package lb

import (
	"sync/atomic"
)

// RoundRobin cycles through backends in order, ignoring the request hash.
type RoundRobin struct {
	backends atomic.Pointer[[]*Backend]
	counter  atomic.Uint64
}

// NewRoundRobin creates a round robin balancer over the given backends.
func NewRoundRobin(backends []*Backend) *RoundRobin {
	rr := &RoundRobin{}
	rr.Rebuild(backends)
	return rr
}

// Pick returns the next backend in rotation.
func (rr *RoundRobin) Pick(_ uint64, _ uint32) *Backend {
	backends := *rr.backends.Load()
	if len(backends) == 0 {
		return nil
	}
	idx := rr.counter.Add(1)
	return backends[idx%uint64(len(backends))]
}

// Rebuild swaps in a new backend set. The rotation counter carries over.
func (rr *RoundRobin) Rebuild(backends []*Backend) error {
	snapshot := append([]*Backend(nil), backends...)
	rr.backends.Store(&snapshot)
	return nil
}
