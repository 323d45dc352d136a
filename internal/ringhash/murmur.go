package ringhash

import "encoding/binary"

// stdHashSeed is the seed libstdc++ feeds to _Hash_bytes for std::hash of
// strings. Rings built in murmur mode must match hashes produced by
// std::hash-based peers, so the seed is fixed.
const stdHashSeed uint64 = 0xc70f6907

// murmurHash2 is 64-bit MurmurHash2 (MurmurHash64A) over data with the given
// seed. Input bytes are consumed as little-endian 8-byte words regardless of
// host byte order.
func murmurHash2(data []byte, seed uint64) uint64 {
	const m = 0xc6a4a7935bd1e995
	const r = 47

	h := seed ^ uint64(len(data))*m

	aligned := len(data) &^ 7
	for i := 0; i < aligned; i += 8 {
		k := binary.LittleEndian.Uint64(data[i:])
		k *= m
		k ^= k >> r
		k *= m
		h ^= k
		h *= m
	}

	if tail := data[aligned:]; len(tail) > 0 {
		for i := len(tail) - 1; i >= 0; i-- {
			h ^= uint64(tail[i]) << (8 * uint(i))
		}
		h *= m
	}

	h ^= h >> r
	h *= m
	h ^= h >> r
	return h
}
