package workload

import (
	"fmt"
	"math/rand/v2"
	"sync"
	"time"
)

// Bounds of the per-iteration sleep, in milliseconds.
const (
	MinDuration uint64 = 10
	MaxDuration uint64 = 55
)

// Sampler draws iteration durations uniformly from [min, max) milliseconds.
type Sampler struct {
	mu  sync.Mutex
	min uint64
	max uint64
	rng *rand.Rand
}

// NewSampler creates a sampler over [min, max). A nil src seeds a PCG source
// from the clock. It panics if max <= min.
func NewSampler(min, max uint64, src rand.Source) *Sampler {
	if max <= min {
		panic(fmt.Sprintf("workload: invalid duration range [%d, %d)", min, max))
	}
	if src == nil {
		seed := uint64(time.Now().UnixNano())
		src = rand.NewPCG(seed, seed>>1|1)
	}
	return &Sampler{
		min: min,
		max: max,
		rng: rand.New(src),
	}
}

// DefaultSampler returns a sampler over [MinDuration, MaxDuration).
func DefaultSampler() *Sampler {
	return NewSampler(MinDuration, MaxDuration, nil)
}

// Range returns the sampler bounds.
func (s *Sampler) Range() (min, max uint64) {
	return s.min, s.max
}

// Sample returns a duration in milliseconds.
func (s *Sampler) Sample() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.min + s.rng.Uint64N(s.max-s.min)
}

// Duration returns Sample as a time.Duration.
func (s *Sampler) Duration() time.Duration {
	return time.Duration(s.Sample()) * time.Millisecond
}
