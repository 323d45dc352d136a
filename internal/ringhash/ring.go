// Package ringhash implements a weighted consistent-hash ring with a ketama
// style lookup.
//
// A Ring is built once from a weighted host list and is immutable afterwards;
// any number of goroutines may call ChooseHost on the same Ring without
// synchronization. Membership or weight changes are handled by building a
// fresh Ring and swapping it in (see internal/lb.RingHash).
package ringhash

import (
	"fmt"
	"log/slog"
	"math"
	"sort"
	"strconv"
)

// Default ring size bounds, applied when Config leaves them zero.
const (
	DefaultMinRingSize = 1024
	DefaultMaxRingSize = 8 * 1024 * 1024
)

// Host is a backend as seen by the ring. The ring keeps only references;
// the caller owns host lifetime and must keep hosts alive as long as any
// Ring built from them.
type Host interface {
	Address() string
	Hostname() string
}

// HostWeight pairs a host with its normalized weight (its share of the total
// pool capacity, in (0, 1]). Slice order matters: per-host hash-key counters
// depend on it, so callers must present hosts in a stable order to get
// reproducible rings.
type HostWeight struct {
	Host   Host
	Weight float64
}

// Config controls ring construction.
type Config struct {
	// MinRingSize and MaxRingSize bound the number of ring entries.
	// Larger rings spread weights more accurately at the cost of memory
	// and build time.
	MinRingSize uint64
	MaxRingSize uint64

	// HashFunc places hash keys on the ring. Defaults to HashXX.
	HashFunc HashFunc

	// UseHostnameForHashing keys ring positions on Hostname() instead of
	// Address(), so a host keeps its positions across address changes.
	UseHostnameForHashing bool

	// ShardIndex builds a coarse boundary table that narrows each lookup's
	// binary search to one shard of the ring. Never changes lookup results.
	ShardIndex bool

	Logger *slog.Logger
}

func (c *Config) withDefaults() Config {
	out := *c
	if out.MinRingSize == 0 {
		out.MinRingSize = DefaultMinRingSize
	}
	if out.MaxRingSize == 0 {
		out.MaxRingSize = DefaultMaxRingSize
	}
	if out.Logger == nil {
		out.Logger = slog.Default()
	}
	return out
}

// Validate reports whether the size bounds are coherent. It is called by New
// before any host data is touched, and may be called earlier by config
// loading code to fail fast.
func (c Config) Validate() error {
	cfg := c.withDefaults()
	if cfg.MinRingSize > cfg.MaxRingSize {
		return fmt.Errorf("ring hash: minimum_ring_size (%d) > maximum_ring_size (%d)",
			cfg.MinRingSize, cfg.MaxRingSize)
	}
	return nil
}

// entry is one point on the ring.
type entry struct {
	hash uint64
	host Host
}

// Ring is an immutable sorted hash ring. The zero value is not usable;
// build rings with New.
type Ring struct {
	entries []entry

	// Shard index, present only when built with Config.ShardIndex.
	// shards[k] is the first entry index whose shard id is >= k, with a
	// final sentinel equal to len(entries). Stored signed because the
	// lookup's search bounds are signed.
	shards []int64
	shift  uint64
}

// Size returns the number of entries on the ring.
func (r *Ring) Size() int { return len(r.entries) }

// New builds a ring from hosts. minWeight must be the smallest weight in
// hosts (> 0 when hosts is non-empty). An empty host list is not an error:
// it yields an empty ring whose lookups return nil.
//
// Entry counts are proportional to weight: the per-host hash count is scaled
// so the least-weighted host lands on a whole number of entries, clamped to
// MaxRingSize. Fractional counts for other hosts are resolved by running
// sums across the whole list, which avoids biasing early or late hosts.
func New(hosts []HostWeight, minWeight float64, cfg Config, stats *Stats) (*Ring, error) {
	cfg = cfg.withDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	r := &Ring{}
	if len(hosts) == 0 {
		return r, nil
	}

	cfg.Logger.Debug("ring hash: building ring",
		"hosts", len(hosts),
		"hash_function", cfg.HashFunc.String())

	scale := math.Min(
		math.Ceil(minWeight*float64(cfg.MinRingSize))/minWeight,
		float64(cfg.MaxRingSize))
	ringSize := uint64(math.Ceil(scale))

	r.entries = make([]entry, 0, ringSize)

	// hashKey is reused across the inner loop: "<key>_<i>" for ascending i.
	hashKey := make([]byte, 0, 196)

	currentHashes := 0.0
	targetHashes := 0.0
	minHashesPerHost := ringSize
	maxHashesPerHost := uint64(0)
	for _, hw := range hosts {
		key := hw.Host.Address()
		if cfg.UseHostnameForHashing {
			key = hw.Host.Hostname()
		}
		if key == "" {
			// Host identity is an upstream contract, not user input.
			panic("ring hash: empty hash key for host")
		}

		hashKey = append(hashKey[:0], key...)
		hashKey = append(hashKey, '_')
		base := len(hashKey)

		// currentHashes and targetHashes are running sums across the
		// entire host list; i only builds the hash key and feeds the
		// per-host min/max stats.
		targetHashes += scale * hw.Weight
		i := uint64(0)
		for currentHashes < targetHashes {
			hashKey = strconv.AppendUint(hashKey[:base], i, 10)
			r.entries = append(r.entries, entry{
				hash: cfg.HashFunc.Sum64(hashKey),
				host: hw.Host,
			})
			i++
			currentHashes++
		}
		minHashesPerHost = min(i, minHashesPerHost)
		maxHashesPerHost = max(i, maxHashesPerHost)
	}

	sort.Slice(r.entries, func(i, j int) bool {
		return r.entries[i].hash < r.entries[j].hash
	})

	if cfg.ShardIndex {
		r.buildShardIndex()
	}

	stats.record(ringSize, minHashesPerHost, maxHashesPerHost)

	cfg.Logger.Debug("ring hash: ring built",
		"size", ringSize,
		"min_hashes_per_host", minHashesPerHost,
		"max_hashes_per_host", maxHashesPerHost,
		"shards", len(r.shards))
	return r, nil
}
