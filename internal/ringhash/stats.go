package ringhash

import "github.com/prometheus/client_golang/prometheus"

// Stats holds the per-pool build gauges. They are written once at the end of
// each build, by the goroutine doing the building; lookups never touch them.
//
// MinHashesPerHost deserves alerting: a low value means some host's weight
// was rounded down to only a handful of ring positions, so its actual share
// of traffic can drift well away from its configured weight.
type Stats struct {
	Size             prometheus.Gauge
	MinHashesPerHost prometheus.Gauge
	MaxHashesPerHost prometheus.Gauge
}

// record sets the gauges for a finished build. Nil receiver and nil gauges
// are allowed so the ring can be used without a metrics sink.
func (s *Stats) record(size, minPerHost, maxPerHost uint64) {
	if s == nil {
		return
	}
	if s.Size != nil {
		s.Size.Set(float64(size))
	}
	if s.MinHashesPerHost != nil {
		s.MinHashesPerHost.Set(float64(minPerHost))
	}
	if s.MaxHashesPerHost != nil {
		s.MaxHashesPerHost.Set(float64(maxPerHost))
	}
}
