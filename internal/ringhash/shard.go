package ringhash

import "math/bits"

// baseShardShift is added to the MSB position of the smallest ring hash to
// pick the shard width. A larger value means fewer, larger shards; 9 keeps
// the expected shard around a few hundred entries on uniformly hashed rings.
const baseShardShift = 9

// shardID maps a hash to its shard. The shift is applied in two steps so
// that the degenerate shift == 64 (everything in shard 0) stays inside the
// single-shift operand range; shift is always >= baseShardShift.
func shardID(h uint64, shift uint64) uint64 {
	return (h >> (shift - 1)) >> 1
}

// buildShardIndex populates r.shards and r.shift for a sorted, non-empty
// ring.
//
// Entries are sorted by hash and shardID is monotonically non-decreasing in
// the hash, so each shard occupies one contiguous run of entries. The table
// is dense over shard ids 0..shardID(maxHash): shards[k] holds the first
// entry index whose shard id is >= k (runs for absent shard ids collapse to
// empty ranges), and the final sentinel equals the ring size. Lookups for
// any hash with shard id k are then correct within
// [shards[k], shards[k+1]]: every entry below the range hashes lower than
// the lookup hash, and the entry at the upper bound hashes at or above it.
func (r *Ring) buildShardIndex() {
	if len(r.entries) == 0 {
		return
	}

	msb := 0
	if h := r.entries[0].hash; h != 0 {
		msb = bits.Len64(h) - 1
	}
	r.shift = baseShardShift + uint64(msb)
	if r.shift > 64 {
		r.shift = 64
	}

	maxShard := shardID(r.entries[len(r.entries)-1].hash, r.shift)
	r.shards = make([]int64, 0, maxShard+2)
	for i := range r.entries {
		s := shardID(r.entries[i].hash, r.shift)
		for uint64(len(r.shards)) <= s {
			r.shards = append(r.shards, int64(i))
		}
	}
	r.shards = append(r.shards, int64(len(r.entries)))
}

// shardBounds returns the search bounds for h. Hashes whose shard id falls
// past the table (possible: the table only extends to the largest hash
// actually on the ring) clamp to the last shard, whose upper bound is the
// ring size.
func (r *Ring) shardBounds(h uint64) (lowp, highp int64) {
	s := shardID(h, r.shift)
	if maxIdx := uint64(len(r.shards) - 2); s > maxIdx {
		s = maxIdx
	}
	return r.shards[s], r.shards[s+1]
}
