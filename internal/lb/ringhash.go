package lb

import (
	"math"
	"sync"
	"sync/atomic"

	"github.com/keyroute/keyroute/internal/ringhash"
)

// RingHash routes each request hash to a consistent backend, so a given key
// keeps hitting the same backend across requests and membership changes
// remap only a small share of the keyspace.
//
// The live ring is immutable and swapped atomically: Pick is lock-free and
// never observes a partially built ring. Rebuilds are serialized and build
// the replacement ring off to the side.
type RingHash struct {
	cfg   ringhash.Config
	stats *ringhash.Stats

	mu   sync.Mutex // serializes Rebuild
	ring atomic.Pointer[ringhash.Ring]
}

// NewRingHash creates a ring hash balancer with an empty ring. The size
// bounds are validated here, before any backend data exists; a bad config
// never gets as far as a rebuild.
func NewRingHash(cfg ringhash.Config, stats *ringhash.Stats) (*RingHash, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	rh := &RingHash{cfg: cfg, stats: stats}
	empty, err := ringhash.New(nil, 0, cfg, nil)
	if err != nil {
		return nil, err
	}
	rh.ring.Store(empty)
	return rh, nil
}

// Pick maps the request hash to a backend; attempt offsets the pick for
// retries. Returns nil while the backend set is empty.
func (rh *RingHash) Pick(hash uint64, attempt uint32) *Backend {
	host := rh.ring.Load().ChooseHost(hash, attempt)
	if host == nil {
		return nil
	}
	return host.(*Backend)
}

// Rebuild constructs a fresh ring from backends and swaps it in. An empty
// backend set installs an empty ring, making Pick return nil until backends
// come back.
func (rh *RingHash) Rebuild(backends []*Backend) error {
	hosts, minWeight := normalizeWeights(backends)

	rh.mu.Lock()
	defer rh.mu.Unlock()
	ring, err := ringhash.New(hosts, minWeight, rh.cfg, rh.stats)
	if err != nil {
		return err
	}
	rh.ring.Store(ring)
	return nil
}

// normalizeWeights converts configured weights to each backend's share of
// the pool total, and reports the smallest share. Order is preserved: ring
// contents depend on it.
func normalizeWeights(backends []*Backend) ([]ringhash.HostWeight, float64) {
	if len(backends) == 0 {
		return nil, 0
	}

	total := 0.0
	for _, b := range backends {
		total += b.effectiveWeight()
	}

	hosts := make([]ringhash.HostWeight, len(backends))
	minWeight := math.MaxFloat64
	for i, b := range backends {
		w := b.effectiveWeight() / total
		hosts[i] = ringhash.HostWeight{Host: b, Weight: w}
		minWeight = math.Min(minWeight, w)
	}
	return hosts, minWeight
}
