package ringhash

import (
	"fmt"

	"github.com/cespare/xxhash/v2"
)

// HashFunc selects the algorithm used to place hash keys on the ring.
//
// All ring entries are produced by the same function, chosen once at build
// time. Changing the function changes every entry position, so it must stay
// fixed for the lifetime of a backend pool unless a full remap is acceptable.
type HashFunc int

const (
	// HashXX is xxHash64 with seed 0. The default, and the right choice
	// unless you need to match rings built by older deployments.
	HashXX HashFunc = iota

	// HashMurmur2 is the 64-bit MurmurHash2 variant used by libstdc++'s
	// std::hash, with its standard seed. Compatibility mode only.
	HashMurmur2
)

// Sum64 hashes b. Deterministic and stable across runs and platforms.
func (f HashFunc) Sum64(b []byte) uint64 {
	if f == HashMurmur2 {
		return murmurHash2(b, stdHashSeed)
	}
	return xxhash.Sum64(b)
}

func (f HashFunc) String() string {
	if f == HashMurmur2 {
		return "murmur_hash_2"
	}
	return "xx_hash"
}

// ParseHashFunc maps the config spelling of a hash function to a HashFunc.
func ParseHashFunc(s string) (HashFunc, error) {
	switch s {
	case "", "xx_hash":
		return HashXX, nil
	case "murmur_hash_2":
		return HashMurmur2, nil
	default:
		return HashXX, fmt.Errorf("ring hash: unknown hash function %q", s)
	}
}
