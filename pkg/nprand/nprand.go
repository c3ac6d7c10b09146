// Package nprand reproduces the numpy random number generator (Mersenne
// Twister via the RandomKit C library) so that tuning runs are reproducible
// across reimplementations given the same seed.
package nprand

import (
	"fmt"
	"math"
)

const (
	stateLen  int    = 624
	maxUint32 uint32 = 0xffffffff
	// Magic Mersenne Twister constants
	mtN       int    = 624
	mtM       int    = 397
	matrixA   uint32 = 0x9908b0df
	upperMask uint32 = 0x80000000
	lowerMask uint32 = 0x7fffffff
)

// State is the state of the random number generator.
type State struct {
	Key [stateLen]uint32 `json:"key"`
	Pos int              `json:"pos"`

	// cached second Box-Muller variate, NaN when empty.
	gauss float64
}

// New creates a new seeded RNG state.
func New(seed uint32) *State {
	state := State{gauss: math.NaN()}
	state.Seed(seed)
	return &state
}

// Seed initializes the RNG state.
func (state *State) Seed(seed uint32) {
	for pos := 0; pos < stateLen; pos++ {
		state.Key[pos] = seed
		seed = (uint32(1812433253)*(seed^(seed>>uint32(30))) + uint32(pos) + 1)
	}
	state.Pos = stateLen
	state.gauss = math.NaN()
}

// Bits32 generates 32 bits of randomness.
func (state *State) Bits32() uint32 {
	var y uint32
	if state.Pos == stateLen {
		i := 0
		for ; i < mtN-mtM; i++ {
			y = (state.Key[i] & upperMask) | (state.Key[i+1] & lowerMask)
			state.Key[i] = state.Key[i+mtM] ^ (y >> 1) ^ (-(y & 1) & matrixA)
		}
		for ; i < mtN-1; i++ {
			y = (state.Key[i] & upperMask) | (state.Key[i+1] & lowerMask)
			state.Key[i] = state.Key[i+(mtM-mtN)] ^ (y >> 1) ^ (-(y & 1) & matrixA)
		}
		y = (state.Key[mtN-1] & upperMask) | (state.Key[0] & lowerMask)
		state.Key[mtN-1] = state.Key[mtM-1] ^ (y >> 1) ^ (-(y & 1) & matrixA)

		state.Pos = 0
	}
	y = state.Key[state.Pos]
	state.Pos++

	// Tempering
	y ^= y >> 11
	y ^= (y << 7) & uint32(0x9d2c5680)
	y ^= (y << 15) & uint32(0xefc60000)
	y ^= y >> 18

	return y
}

// Bits64 generates 64 bits of randomness.
func (state *State) Bits64() uint64 {
	upper := uint64(state.Bits32()) << 32
	lower := uint64(state.Bits32())
	return upper | lower
}

// Read implements the Reader interface, yielding a random stream of bytes.
func (state *State) Read(p []byte) (int, error) {
	pos := 0
	var val uint32
	for n := 0; n < len(p); n++ {
		if pos == 0 {
			val = state.Bits32()
			pos = 4
		}
		p[n] = byte(val)
		val >>= 8
		pos--
	}
	return len(p), nil
}

// bitsLimit generates bits of randomness in [0, limit] by masking out bits
// above the limit and redrawing until at or below it.
func (state *State) bitsLimit(limit uint64) uint64 {
	if limit == 0 {
		return 0
	}

	// Compute the smallest bit mask >= limit.
	mask := limit
	mask |= mask >> 1
	mask |= mask >> 2
	mask |= mask >> 4
	mask |= mask >> 8
	mask |= mask >> 16
	mask |= mask >> 32

	// If we only need 32 bits or less, only generate 32 bits of randomness.
	if limit <= uint64(maxUint32) {
		for {
			if val := uint64(state.Bits32()) & mask; val <= limit {
				return val
			}
		}
	}
	for {
		if val := state.Bits64() & mask; val <= limit {
			return val
		}
	}
}

// Int64n generates a random int64 in [0, n).  It panics if n <= 0.
func (state *State) Int64n(n int64) int64 {
	if n <= 0 {
		panic(fmt.Sprintf("nprand Int64n: n %v <= 0", n))
	}
	return int64(state.bitsLimit(uint64(n) - 1))
}

// Intn generates a random int in [0, n).  It panics if n <= 0.
func (state *State) Intn(n int) int {
	if n <= 0 {
		panic(fmt.Sprintf("nprand Intn: n %v <= 0", n))
	}
	return int(state.bitsLimit(uint64(n) - 1))
}

// UnitInterval generates a random float64 in [0,1).
func (state *State) UnitInterval() float64 {
	a := float64(state.Bits32() >> 5)
	b := float64(state.Bits32() >> 6)
	return (a*(1<<26) + b) / (1 << 53)
}

// Uniform generates a random float64 uniformly distributed in [low, high).
// It panics if high <= low.
func (state *State) Uniform(low, high float64) float64 {
	if high <= low {
		panic(fmt.Sprintf("nprand Uniform: high %v <= low %v", high, low))
	}
	return low + (high-low)*state.UnitInterval()
}

// Norm generates a standard normal variate using the polar Box-Muller
// transform, caching the second variate of each pair.
func (state *State) Norm() float64 {
	if !math.IsNaN(state.gauss) {
		g := state.gauss
		state.gauss = math.NaN()
		return g
	}
	for {
		u := 2*state.UnitInterval() - 1
		v := 2*state.UnitInterval() - 1
		s := u*u + v*v
		if s >= 1 || s == 0 {
			continue
		}
		f := math.Sqrt(-2 * math.Log(s) / s)
		state.gauss = v * f
		return u * f
	}
}

// Shuffle permutes the first n indices in place using the provided swap
// function, matching the Fisher-Yates order numpy uses.
func (state *State) Shuffle(n int, swap func(i, j int)) {
	for i := n - 1; i > 0; i-- {
		j := state.Intn(i + 1)
		swap(i, j)
	}
}
