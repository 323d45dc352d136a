package health

import (
	"errors"
	"sync"

	"github.com/keyroute/keyroute/internal/lb"
)

// ErrAllBackendsUnhealthy is returned by HealthyOrError when every backend
// in the pool is failing its checks.
var ErrAllBackendsUnhealthy = errors.New("all backends unhealthy")

// Pool pairs a backend list with a health checker and hands out the
// healthy subset. Subscribers are notified when membership may have
// changed so they can rebuild balancer state.
type Pool struct {
	mu          sync.RWMutex
	backends    []*lb.Backend
	checker     Checker
	subscribers []func()
}

// NewPool creates a pool over the given backends. checker may be nil, in
// which case every backend is considered healthy.
func NewPool(backends []*lb.Backend, checker Checker) *Pool {
	return &Pool{
		backends: backends,
		checker:  checker,
	}
}

// Healthy returns the backends currently passing health checks.
//
// Fail-open: if every backend is unhealthy, all backends are returned.
// Serving traffic to degraded backends beats serving errors to everyone.
func (p *Pool) Healthy() []*lb.Backend {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.checker == nil {
		return append([]*lb.Backend(nil), p.backends...)
	}

	healthy := make([]*lb.Backend, 0, len(p.backends))
	for _, b := range p.backends {
		if p.checker.IsHealthy(b.Addr) {
			healthy = append(healthy, b)
		}
	}
	if len(healthy) == 0 {
		return append([]*lb.Backend(nil), p.backends...)
	}
	return healthy
}

// HealthyOrError returns the healthy subset, or ErrAllBackendsUnhealthy
// when nothing passes. Callers that want to fail fast instead of failing
// open use this.
func (p *Pool) HealthyOrError() ([]*lb.Backend, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.checker == nil {
		return append([]*lb.Backend(nil), p.backends...), nil
	}

	healthy := make([]*lb.Backend, 0, len(p.backends))
	for _, b := range p.backends {
		if p.checker.IsHealthy(b.Addr) {
			healthy = append(healthy, b)
		}
	}
	if len(healthy) == 0 {
		return nil, ErrAllBackendsUnhealthy
	}
	return healthy, nil
}

// All returns every backend regardless of health.
func (p *Pool) All() []*lb.Backend {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return append([]*lb.Backend(nil), p.backends...)
}

// AddBackend adds a backend to the pool.
func (p *Pool) AddBackend(b *lb.Backend) {
	p.mu.Lock()
	p.backends = append(p.backends, b)
	p.mu.Unlock()
	p.Notify()
}

// RemoveBackend removes a backend by address.
func (p *Pool) RemoveBackend(addr string) {
	p.mu.Lock()
	kept := p.backends[:0]
	for _, b := range p.backends {
		if b.Addr != addr {
			kept = append(kept, b)
		}
	}
	p.backends = kept
	p.mu.Unlock()
	p.Notify()
}

// Subscribe registers a callback invoked whenever the healthy set may
// have changed. Callbacks run synchronously on the notifying goroutine.
func (p *Pool) Subscribe(fn func()) {
	p.mu.Lock()
	p.subscribers = append(p.subscribers, fn)
	p.mu.Unlock()
}

// Notify invokes all subscribers. Health checkers wire their OnChange
// hooks to this.
func (p *Pool) Notify() {
	p.mu.RLock()
	subs := make([]func(), len(p.subscribers))
	copy(subs, p.subscribers)
	p.mu.RUnlock()

	for _, fn := range subs {
		fn()
	}
}
