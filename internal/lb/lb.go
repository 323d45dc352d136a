// Package lb provides the gateway's load-balancing strategies over a shared
// Backend type. Balancers are rebuilt from the healthy backend set whenever
// membership changes; picking stays safe for concurrent use throughout.
package lb

// Backend is one upstream host. The health pool owns Backend instances;
// balancers and hash rings hold references only.
type Backend struct {
	Addr   string  // base URL used to reach the backend, e.g. "http://10.0.0.1:8080"
	Name   string  // optional stable hostname, survives address changes
	Weight float64 // relative capacity; values <= 0 count as 1
}

// Address and Hostname satisfy ringhash.Host.
func (b *Backend) Address() string  { return b.Addr }
func (b *Backend) Hostname() string { return b.Name }

func (b *Backend) effectiveWeight() float64 {
	if b.Weight <= 0 {
		return 1
	}
	return b.Weight
}

// Balancer picks a backend for one request attempt.
//
// hash is the request's affinity hash; strategies without key affinity
// ignore it. attempt is the zero-based retry attempt, which lets
// affinity-aware strategies steer retries away from the primary pick.
// Pick returns nil when no backend is available.
//
// Rebuild replaces the backend set, typically after a health transition or
// a config change. Pick must remain callable concurrently with Rebuild.
type Balancer interface {
	Pick(hash uint64, attempt uint32) *Backend
	Rebuild(backends []*Backend) error
}
