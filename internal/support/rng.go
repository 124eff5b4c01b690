// Package support holds small utilities shared across components that
// don't deserve their own package: a seedable PRNG used to jitter
// reconnect backoff.
package support

import (
	"sync"
	"time"
)

// RNG is a seedable PRNG using PCG-XSH-RR. Safe for concurrent use.
type RNG struct {
	mu    sync.Mutex
	state uint64
	inc   uint64
}

// NewRNG creates a new PRNG with the given seed. If seed is 0, uses current time.
func NewRNG(seed int64) *RNG {
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	r := &RNG{}
	r.inc = uint64(seed)<<1 | 1
	r.state = 0
	r.step()
	r.state += uint64(seed)
	r.step()
	return r
}

func (r *RNG) step() {
	r.state = r.state*6364136223846793005 + r.inc
}

// Uint32 returns a uniformly distributed uint32.
func (r *RNG) Uint32() uint32 {
	r.mu.Lock()
	old := r.state
	r.step()
	r.mu.Unlock()

	xorshifted := uint32(((old >> 18) ^ old) >> 27)
	rot := uint32(old >> 59)
	return (xorshifted >> rot) | (xorshifted << ((-rot) & 31))
}

// Float64 returns a uniformly distributed float64 in [0, 1).
func (r *RNG) Float64() float64 {
	return float64(r.Uint32()) / (1 << 32)
}

// IntRange returns a uniformly distributed int in [min, max].
func (r *RNG) IntRange(min, max int) int {
	if min >= max {
		return min
	}
	n := max - min + 1
	return min + int(r.Uint32()%uint32(n))
}

// Jitter returns d scaled by a random factor in [1-frac, 1+frac].
// Used to avoid thundering-herd reconnects across shards.
func (r *RNG) Jitter(d time.Duration, frac float64) time.Duration {
	if frac <= 0 {
		return d
	}
	factor := 1 - frac + 2*frac*r.Float64()
	return time.Duration(float64(d) * factor)
}
