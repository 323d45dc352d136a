package health

// Checker reports whether a backend address should receive traffic.
type Checker interface {
	IsHealthy(addr string) bool
}

// CombinedChecker merges active probing and passive failure tracking.
// A backend must pass both to be considered healthy.
type CombinedChecker struct {
	active  *ActiveChecker
	passive *PassiveChecker
}

// NewCombinedChecker creates a checker that requires both active and
// passive health.
func NewCombinedChecker(active *ActiveChecker, passive *PassiveChecker) *CombinedChecker {
	return &CombinedChecker{active: active, passive: passive}
}

func (cc *CombinedChecker) IsHealthy(addr string) bool {
	return cc.active.IsHealthy(addr) && cc.passive.IsHealthy(addr)
}

// RecordSuccess feeds a request outcome into passive tracking.
func (cc *CombinedChecker) RecordSuccess(addr string) {
	cc.passive.RecordSuccess(addr)
}

// RecordFailure feeds a request outcome into passive tracking.
func (cc *CombinedChecker) RecordFailure(addr string) {
	cc.passive.RecordFailure(addr)
}

// Close stops the active checker's probe loop.
func (cc *CombinedChecker) Close() error {
	return cc.active.Close()
}
