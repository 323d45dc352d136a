// Package health tracks backend health from active probes and live traffic,
// and exposes the healthy subset of a backend pool. Status transitions fan
// out to subscribers; the gateway uses that to rebuild hash rings only when
// membership actually changes.
package health

import (
	"context"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// Status represents backend health status.
type Status int

const (
	StatusUnknown Status = iota
	StatusHealthy
	StatusUnhealthy
)

func (s Status) String() string {
	switch s {
	case StatusHealthy:
		return "healthy"
	case StatusUnhealthy:
		return "unhealthy"
	default:
		return "unknown"
	}
}

// backendStatus tracks health state for a single backend.
type backendStatus struct {
	mu                   sync.RWMutex
	status               Status
	consecutiveSuccesses int
	consecutiveFailures  int
}

// ActiveChecker periodically probes backends with health check requests.
type ActiveChecker struct {
	mu       sync.RWMutex
	backends map[string]*backendStatus

	interval           time.Duration
	timeout            time.Duration
	healthPath         string
	healthyThreshold   int // consecutive successes to mark healthy
	unhealthyThreshold int // consecutive failures to mark unhealthy
	onChange           func()

	client *http.Client
	ctx    context.Context
	cancel context.CancelFunc
	start  sync.Once
}

// Config holds active health check configuration.
type Config struct {
	Interval           time.Duration // how often to probe
	Timeout            time.Duration // per-probe timeout
	HealthPath         string        // e.g., "/health"
	HealthyThreshold   int           // consecutive successes
	UnhealthyThreshold int           // consecutive failures

	// OnChange fires after any backend's status transitions. Callers use
	// it to rebuild balancer state from the new healthy set.
	OnChange func()
}

func (c Config) withDefaults() Config {
	if c.Interval == 0 {
		c.Interval = 5 * time.Second
	}
	if c.Timeout == 0 {
		c.Timeout = 2 * time.Second
	}
	if c.HealthPath == "" {
		c.HealthPath = "/health"
	}
	if c.HealthyThreshold == 0 {
		c.HealthyThreshold = 2
	}
	if c.UnhealthyThreshold == 0 {
		c.UnhealthyThreshold = 3
	}
	return c
}

// NewActiveChecker creates an active health checker for the given backend
// addresses. No probe runs until Start is called, so the caller can finish
// wiring whatever OnChange reaches (pools, subscribers) first.
func NewActiveChecker(addrs []string, cfg Config) *ActiveChecker {
	cfg = cfg.withDefaults()
	ctx, cancel := context.WithCancel(context.Background())

	ac := &ActiveChecker{
		backends:           make(map[string]*backendStatus),
		interval:           cfg.Interval,
		timeout:            cfg.Timeout,
		healthPath:         cfg.HealthPath,
		healthyThreshold:   cfg.HealthyThreshold,
		unhealthyThreshold: cfg.UnhealthyThreshold,
		onChange:           cfg.OnChange,
		client: &http.Client{
			Timeout: cfg.Timeout,
		},
		ctx:    ctx,
		cancel: cancel,
	}

	for _, addr := range addrs {
		ac.backends[addr] = &backendStatus{status: StatusUnknown}
	}

	return ac
}

// Start launches the probe loop. Safe to call more than once.
func (ac *ActiveChecker) Start() {
	ac.start.Do(func() {
		go ac.run()
	})
}

// IsHealthy returns true if the backend is healthy. Unknown backends are
// assumed healthy so a fresh pool serves traffic before the first probe
// round completes.
func (ac *ActiveChecker) IsHealthy(addr string) bool {
	ac.mu.RLock()
	bs, exists := ac.backends[addr]
	ac.mu.RUnlock()

	if !exists {
		return true
	}

	bs.mu.RLock()
	defer bs.mu.RUnlock()
	return bs.status == StatusHealthy || bs.status == StatusUnknown
}

// Status returns the current health status of a backend.
func (ac *ActiveChecker) Status(addr string) Status {
	ac.mu.RLock()
	bs, exists := ac.backends[addr]
	ac.mu.RUnlock()

	if !exists {
		return StatusUnknown
	}

	bs.mu.RLock()
	defer bs.mu.RUnlock()
	return bs.status
}

// Close stops the health checker.
func (ac *ActiveChecker) Close() error {
	ac.cancel()
	return nil
}

// run is the background goroutine that probes backends.
func (ac *ActiveChecker) run() {
	ticker := time.NewTicker(ac.interval)
	defer ticker.Stop()

	// Probe immediately on startup
	ac.probeAll()

	for {
		select {
		case <-ticker.C:
			ac.probeAll()
		case <-ac.ctx.Done():
			return
		}
	}
}

// probeAll checks all backends concurrently and waits for the round to
// finish before the next tick.
func (ac *ActiveChecker) probeAll() {
	ac.mu.RLock()
	addrs := make([]string, 0, len(ac.backends))
	for addr := range ac.backends {
		addrs = append(addrs, addr)
	}
	ac.mu.RUnlock()

	g, ctx := errgroup.WithContext(ac.ctx)
	for _, addr := range addrs {
		addr := addr
		g.Go(func() error {
			ac.probe(ctx, addr)
			return nil
		})
	}
	g.Wait()
}

// probe sends a health check request to one backend.
func (ac *ActiveChecker) probe(ctx context.Context, addr string) {
	url := addr + ac.healthPath

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		ac.recordFailure(addr)
		return
	}

	resp, err := ac.client.Do(req)
	if err != nil {
		ac.recordFailure(addr)
		return
	}
	defer resp.Body.Close()

	// Consider 2xx as healthy
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		ac.recordSuccess(addr)
	} else {
		ac.recordFailure(addr)
	}
}

// recordSuccess updates state after a successful health check.
func (ac *ActiveChecker) recordSuccess(addr string) {
	ac.mu.RLock()
	bs := ac.backends[addr]
	ac.mu.RUnlock()
	if bs == nil {
		return
	}

	bs.mu.Lock()
	bs.consecutiveSuccesses++
	bs.consecutiveFailures = 0
	transitioned := false
	if bs.consecutiveSuccesses >= ac.healthyThreshold && bs.status != StatusHealthy {
		bs.status = StatusHealthy
		transitioned = true
	}
	bs.mu.Unlock()

	if transitioned && ac.onChange != nil {
		ac.onChange()
	}
}

// recordFailure updates state after a failed health check.
func (ac *ActiveChecker) recordFailure(addr string) {
	ac.mu.RLock()
	bs := ac.backends[addr]
	ac.mu.RUnlock()
	if bs == nil {
		return
	}

	bs.mu.Lock()
	bs.consecutiveFailures++
	bs.consecutiveSuccesses = 0
	transitioned := false
	if bs.consecutiveFailures >= ac.unhealthyThreshold && bs.status != StatusUnhealthy {
		bs.status = StatusUnhealthy
		transitioned = true
	}
	bs.mu.Unlock()

	if transitioned && ac.onChange != nil {
		ac.onChange()
	}
}

// AddBackend dynamically adds a new backend to monitor.
func (ac *ActiveChecker) AddBackend(addr string) {
	ac.mu.Lock()
	defer ac.mu.Unlock()

	if _, exists := ac.backends[addr]; exists {
		return
	}
	ac.backends[addr] = &backendStatus{status: StatusUnknown}
}

// RemoveBackend stops monitoring a backend.
func (ac *ActiveChecker) RemoveBackend(addr string) {
	ac.mu.Lock()
	defer ac.mu.Unlock()
	delete(ac.backends, addr)
}

// AllStatus returns a snapshot of all backend statuses.
func (ac *ActiveChecker) AllStatus() map[string]Status {
	ac.mu.RLock()
	defer ac.mu.RUnlock()

	result := make(map[string]Status, len(ac.backends))
	for addr, bs := range ac.backends {
		bs.mu.RLock()
		result[addr] = bs.status
		bs.mu.RUnlock()
	}
	return result
}
