package sim

import (
	"hash/fnv"
)

// SimulationKey identifies a reproducible run. Two runs with the same key and
// scenario produce identical stochastic inputs.
type SimulationKey int64

// NewSimulationKey creates a SimulationKey from a seed value.
func NewSimulationKey(seed int64) SimulationKey {
	return SimulationKey(seed)
}

// SeedFor derives an isolated seed for a named consumer: the master seed
// XOR fnv1a64(name). The same name always yields the same seed.
func (k SimulationKey) SeedFor(name string) int64 {
	return int64(k) ^ fnv1a64(name)
}

// fnv1a64 computes a 64-bit FNV-1a hash of the input string.
func fnv1a64(s string) int64 {
	h := fnv.New64a()
	h.Write([]byte(s))
	return int64(h.Sum64())
}
