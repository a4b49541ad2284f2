// Package xorshift implements the fixed-algorithm deterministic PRNG the
// two sides of a match use to agree on RNG seeds and cosmetic choices
// (background id, etc.) without exchanging anything beyond the handshake
// nonce. The algorithm and constants are part of the wire contract: both
// peers must derive bit-identical values, so this is not "a" PRNG, it is
// "the" PRNG.
package xorshift

// seedConstant is the fixed starting state before any nonce-derived steps
// are applied.
const seedConstant uint32 = 0xa338244f

// State is a single xorshift-style generator instance.
type State struct {
	x uint32
}

// New returns a generator seeded at the fixed constant and then advanced
// steps times, where steps is derived from the handshake nonce (spec: a
// value in 0..65536).
func New(steps uint32) *State {
	s := &State{x: seedConstant}

	for i := uint32(0); i < steps; i++ {
		s.Next()
	}

	return s
}

// NewWithSeed returns a generator seeded at an explicit state, bypassing
// the fixed constant, for callers that already know the exact pre-stepped
// seed.
func NewWithSeed(seed uint32) *State {
	return &State{x: seed}
}

// Next advances the generator one step and returns the new state.
func (s *State) Next() uint32 {
	x := s.x
	x = (x<<1 + x>>31 + 1) ^ 0x873ca9e5
	s.x = x
	return x
}

// Uint32 returns the current state without advancing it.
func (s *State) Uint32() uint32 {
	return s.x
}

// Intn returns Next() reduced to the range [0, n). n must be > 0.
func (s *State) Intn(n int) int {
	if n <= 0 {
		panic("xorshift: Intn called with n <= 0")
	}

	return int(s.Next() % uint32(n))
}
