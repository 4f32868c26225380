// Package scoring deterministically scores geo units against a weighted
// signal configuration.
package scoring

import "hash/fnv"

// Hash is 32-bit FNV-1a over the UTF-8 bytes of seed.
func Hash(seed string) uint32 {
	h := fnv.New32a()
	_, _ = h.Write([]byte(seed))
	return h.Sum32()
}

// Unit maps seed onto [0, 1) in steps of 1/10000.
func Unit(seed string) float64 {
	return float64(Hash(seed)%10000) / 10000
}

// Between maps seed onto [lo, hi).
func Between(seed string, lo, hi float64) float64 {
	return lo + Unit(seed)*(hi-lo)
}
