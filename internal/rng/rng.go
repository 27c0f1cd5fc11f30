// Package rng gives each loaded module its own pseudo-random source (C4),
// isolated from every other module's draws so one noisy module can't
// perturb another's sequence, and reseedable independently of process
// startup time.
package rng

import (
	"math/rand/v2"
	"sync"
)

// Source is a module-private PRNG. Not safe for concurrent use by more
// than one goroutine at a time, which is fine: a module's Jobs already
// run one at a time on its command channel (C10).
type Source struct {
	r *rand.Rand
}

// New constructs a Source seeded from two independently drawn seeds, the
// way rand.NewPCG wants them.
func New(seed1, seed2 uint64) *Source {
	return &Source{r: rand.New(rand.NewPCG(seed1, seed2))}
}

// Reseed replaces the underlying sequence, used when a module is
// reloaded and should not replay the previous instance's draws.
func (s *Source) Reseed(seed1, seed2 uint64) {
	s.r = rand.New(rand.NewPCG(seed1, seed2))
}

// Intn returns a pseudo-random int in [0, n).
func (s *Source) Intn(n int) int {
	return s.r.IntN(n)
}

// Int64N returns a pseudo-random int64 in [0, n).
func (s *Source) Int64N(n int64) int64 {
	return s.r.Int64N(n)
}

// Float64 returns a pseudo-random float64 in [0, 1).
func (s *Source) Float64() float64 {
	return s.r.Float64()
}

// Registry hands out one Source per module name, lazily seeded, so the
// plugin loader (C8) doesn't need to thread seed material through the
// module entrypoints itself.
type Registry struct {
	mu      sync.Mutex
	sources map[string]*Source
	seedFn  func() (uint64, uint64)
}

// NewRegistry builds a Registry. seedFn supplies fresh seed material for
// each newly created or reloaded Source; callers typically derive this
// from crypto/rand at startup.
func NewRegistry(seedFn func() (uint64, uint64)) *Registry {
	return &Registry{sources: make(map[string]*Source), seedFn: seedFn}
}

// For returns the Source for module, creating one on first use.
func (reg *Registry) For(module string) *Source {
	reg.mu.Lock()
	defer reg.mu.Unlock()

	if s, ok := reg.sources[module]; ok {
		return s
	}
	s1, s2 := reg.seedFn()
	s := New(s1, s2)
	reg.sources[module] = s
	return s
}

// Reset drops and reseeds module's Source, called when a module is
// reloaded so it starts a fresh sequence rather than resuming the old
// module instance's.
func (reg *Registry) Reset(module string) {
	reg.mu.Lock()
	defer reg.mu.Unlock()

	s1, s2 := reg.seedFn()
	if s, ok := reg.sources[module]; ok {
		s.Reseed(s1, s2)
		return
	}
	reg.sources[module] = New(s1, s2)
}
