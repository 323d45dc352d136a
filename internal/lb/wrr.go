package lb

import "sync"

// wrrEntry tracks the dynamic current weight for one backend.
type wrrEntry struct {
	backend       *Backend
	weight        float64 // fixed, from config
	currentWeight float64 // changes every round
}

// WeightedRoundRobin implements smooth weighted round robin (the nginx
// algorithm).
//
// Each Pick:
//  1. adds each backend's fixed weight to its current weight,
//  2. picks the backend with the highest current weight,
//  3. subtracts the total weight from the picked backend's current weight.
//
// This spreads heavily weighted backends across the rotation rather than
// bursting them back to back.
type WeightedRoundRobin struct {
	mu          sync.Mutex
	entries     []wrrEntry
	totalWeight float64
}

// NewWeightedRoundRobin creates a smooth weighted round robin balancer.
func NewWeightedRoundRobin(backends []*Backend) *WeightedRoundRobin {
	wrr := &WeightedRoundRobin{}
	wrr.Rebuild(backends)
	return wrr
}

// Pick returns the next backend by smooth weighted rotation. The request
// hash and attempt are ignored.
func (wrr *WeightedRoundRobin) Pick(_ uint64, _ uint32) *Backend {
	wrr.mu.Lock()
	defer wrr.mu.Unlock()

	if len(wrr.entries) == 0 {
		return nil
	}

	bestIdx := 0
	for i := range wrr.entries {
		wrr.entries[i].currentWeight += wrr.entries[i].weight
		if wrr.entries[i].currentWeight > wrr.entries[bestIdx].currentWeight {
			bestIdx = i
		}
	}
	wrr.entries[bestIdx].currentWeight -= wrr.totalWeight

	return wrr.entries[bestIdx].backend
}

// Rebuild replaces the backend set and restarts the rotation.
func (wrr *WeightedRoundRobin) Rebuild(backends []*Backend) error {
	entries := make([]wrrEntry, len(backends))
	total := 0.0
	for i, b := range backends {
		w := b.effectiveWeight()
		entries[i] = wrrEntry{backend: b, weight: w}
		total += w
	}

	wrr.mu.Lock()
	wrr.entries = entries
	wrr.totalWeight = total
	wrr.mu.Unlock()
	return nil
}
