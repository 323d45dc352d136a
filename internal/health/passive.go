package health

import (
	"sync"
	"time"
)

// outcome is a single recorded request result.
type outcome struct {
	success   bool
	timestamp time.Time
}

// passiveBackend tracks recent request outcomes for one backend.
type passiveBackend struct {
	mu          sync.Mutex
	outcomes    []outcome
	lastHealthy bool
}

// PassiveChecker marks backends unhealthy based on real request failures,
// without sending any probe traffic of its own.
type PassiveChecker struct {
	mu       sync.RWMutex
	backends map[string]*passiveBackend

	window           time.Duration // how far back to look
	failureThreshold float64       // failure rate that marks unhealthy (0..1)
	minRequests      int           // minimum sample size before judging
	onChange         func()
}

// PassiveConfig holds passive health tracking configuration.
type PassiveConfig struct {
	Window           time.Duration
	FailureThreshold float64
	MinRequests      int
	OnChange         func()
}

func (c PassiveConfig) withDefaults() PassiveConfig {
	if c.Window == 0 {
		c.Window = 30 * time.Second
	}
	if c.FailureThreshold == 0 {
		c.FailureThreshold = 0.5
	}
	if c.MinRequests == 0 {
		c.MinRequests = 5
	}
	return c
}

// NewPassiveChecker creates a passive health tracker.
func NewPassiveChecker(cfg PassiveConfig) *PassiveChecker {
	cfg = cfg.withDefaults()
	return &PassiveChecker{
		backends:         make(map[string]*passiveBackend),
		window:           cfg.Window,
		failureThreshold: cfg.FailureThreshold,
		minRequests:      cfg.MinRequests,
		onChange:         cfg.OnChange,
	}
}

// RecordSuccess records a successful request to a backend.
func (pc *PassiveChecker) RecordSuccess(addr string) {
	pc.record(addr, true)
}

// RecordFailure records a failed request to a backend.
func (pc *PassiveChecker) RecordFailure(addr string) {
	pc.record(addr, false)
}

func (pc *PassiveChecker) record(addr string, success bool) {
	pb := pc.getOrCreate(addr)

	pb.mu.Lock()
	pb.outcomes = append(pb.outcomes, outcome{success: success, timestamp: time.Now()})
	pb.prune(pc.window)
	healthy := pb.healthyLocked(pc.minRequests, pc.failureThreshold)
	flipped := healthy != pb.lastHealthy
	pb.lastHealthy = healthy
	pb.mu.Unlock()

	// onChange runs rebuild callbacks that call back into IsHealthy, so it
	// must fire outside the per-backend lock.
	if flipped && pc.onChange != nil {
		pc.onChange()
	}
}

// IsHealthy returns false if the recent failure rate exceeds the threshold.
// Backends with too few samples are considered healthy.
func (pc *PassiveChecker) IsHealthy(addr string) bool {
	pc.mu.RLock()
	pb, exists := pc.backends[addr]
	pc.mu.RUnlock()

	if !exists {
		return true
	}

	pb.mu.Lock()
	defer pb.mu.Unlock()
	pb.prune(pc.window)
	return pb.healthyLocked(pc.minRequests, pc.failureThreshold)
}

// FailureRate returns the recent failure rate for a backend (0 if unknown).
func (pc *PassiveChecker) FailureRate(addr string) float64 {
	pc.mu.RLock()
	pb, exists := pc.backends[addr]
	pc.mu.RUnlock()

	if !exists {
		return 0
	}

	pb.mu.Lock()
	defer pb.mu.Unlock()
	pb.prune(pc.window)

	if len(pb.outcomes) == 0 {
		return 0
	}
	failures := 0
	for _, o := range pb.outcomes {
		if !o.success {
			failures++
		}
	}
	return float64(failures) / float64(len(pb.outcomes))
}

func (pc *PassiveChecker) getOrCreate(addr string) *passiveBackend {
	pc.mu.RLock()
	pb, exists := pc.backends[addr]
	pc.mu.RUnlock()
	if exists {
		return pb
	}

	pc.mu.Lock()
	defer pc.mu.Unlock()
	if pb, exists = pc.backends[addr]; exists {
		return pb
	}
	pb = &passiveBackend{lastHealthy: true}
	pc.backends[addr] = pb
	return pb
}

// prune drops outcomes older than the window. Caller holds pb.mu.
func (pb *passiveBackend) prune(window time.Duration) {
	cutoff := time.Now().Add(-window)
	keep := pb.outcomes[:0]
	for _, o := range pb.outcomes {
		if o.timestamp.After(cutoff) {
			keep = append(keep, o)
		}
	}
	pb.outcomes = keep
}

// healthyLocked evaluates the failure rate. Caller holds pb.mu.
func (pb *passiveBackend) healthyLocked(minRequests int, threshold float64) bool {
	if len(pb.outcomes) < minRequests {
		return true
	}
	failures := 0
	for _, o := range pb.outcomes {
		if !o.success {
			failures++
		}
	}
	rate := float64(failures) / float64(len(pb.outcomes))
	return rate < threshold
}
