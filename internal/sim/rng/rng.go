package rng

import (
	"hash/fnv"
	"math/rand"
)

// Source is the only randomness the simulation consumes. *rand.Rand satisfies it.
type Source interface {
	Intn(n int) int
	Float64() float64
	Shuffle(n int, swap func(i, j int))
}

func New(seed int64) *rand.Rand {
	if seed == 0 {
		seed = 1
	}
	return rand.New(rand.NewSource(seed))
}

// Derive returns a seed for an independent named stream of a match seed.
func Derive(seed int64, stream string) int64 {
	h := fnv.New64a()
	var b [8]byte
	for i := range b {
		b[i] = byte(uint64(seed) >> (8 * i))
	}
	_, _ = h.Write(b[:])
	_, _ = h.Write([]byte(stream))
	return int64(h.Sum64() & 0x7fffffffffffffff)
}

// OneIn reports true with probability 1/n. n <= 1 is always true.
func OneIn(r Source, n int) bool {
	if n <= 1 {
		return true
	}
	return r.Intn(n) == 0
}
