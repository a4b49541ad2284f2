// Package match is the lifetime coordinator above round.Engine: the
// handshake nonce, RNG agreement, round sequencing, and cancellation of
// spec.md §4.5. The teacher has no analogous concept (a dendy session is
// one continuous game, never multiple discrete rounds with a shared RNG
// renegotiated between them), so this package is new code built in the
// teacher's plain mutex-guarded-struct style: a single owning
// sync.Mutex around the fields multiple goroutines touch, narrow critical
// sections, never held across an emulator step (spec.md §5, §9).
package match

import (
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/cliffdevs/tango/internal/round"
	"github.com/cliffdevs/tango/internal/xorshift"
)

// backgroundCount is the fixed small set random_background draws from
// (spec.md §4.5: "a fixed small set (e.g., 8 background IDs)").
const backgroundCount = 8

// Controller coordinates one match across its whole lifetime: the nonce
// handshake, the shared deterministic RNG, and cancellation observed by
// the primary and shadow goroutines. Uses github.com/google/uuid for a
// per-match id (ID; nothing in this module logs or reads it), grounded on the pack's
// session-identifier convention (gameserver examples use uuid the same
// way: one value minted at session construction, never reparsed).
type Controller struct {
	ID uuid.UUID

	mu          sync.Mutex
	localNonce  [16]byte
	remoteNonce [16]byte
	isOfferer   bool
	rng         *xorshift.State
	shadowRNG   *xorshift.State
	cancelled   bool
	cancelErr   error
}

// NewController mints a fresh local nonce and match id. Call
// SetRemoteNonce once the handshake's Hello/HelloAck exchange completes
// before calling anything that touches the RNG.
func NewController() (*Controller, error) {
	var nonce [16]byte
	if _, err := rand.Read(nonce[:]); err != nil {
		return nil, fmt.Errorf("match: generate nonce: %w", err)
	}

	return &Controller{
		ID:         uuid.New(),
		localNonce: nonce,
	}, nil
}

// LocalNonce returns the 16-byte nonce to send in this side's
// Hello/HelloAck frame.
func (c *Controller) LocalNonce() [16]byte {
	return c.localNonce
}

// SetRemoteNonce records the peer's nonce, determines offerer/answerer by
// lexicographic comparison (spec.md §4.5: "the lexicographically-higher
// nonce is offerer"), and seeds the deterministic RNG from both nonces
// combined so each side reaches the identical sequence of draws without
// exchanging anything further.
func (c *Controller) SetRemoteNonce(remote [16]byte) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.remoteNonce = remote
	c.isOfferer = bytesGreater(c.localNonce[:], remote[:])
	c.rng = seedRNG(c.localNonce, remote)

	// shadowRNG is a second, independent stream seeded identically to rng:
	// the original (original_source/tango/src/game/bn2/hooks.rs
	// shadow_traps' comm_menu_init_ret hook) draws the Shadow's per-round
	// seed/background off the shadow's own RNG lock, not the primary
	// match's — two separate generators that, seeded from the same nonce
	// pair and drawn from in the same per-round order, stay bit-identical
	// without ever synchronizing with each other.
	c.shadowRNG = seedRNG(c.localNonce, remote)
}

// IsOfferer reports whether this side is the offerer.
func (c *Controller) IsOfferer() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.isOfferer
}

func bytesGreater(a, b []byte) bool {
	for i := range a {
		if a[i] != b[i] {
			return a[i] > b[i]
		}
	}

	return false
}

// seedRNG derives the xorshift step count from the two nonces XORed
// together, which is identical regardless of which nonce is local or
// remote (spec.md §9: seeded from a fixed constant, stepped a
// nonce-derived 0..65536 times; "seed agreement comes from the shared
// nonce, not from system entropy").
func seedRNG(a, b [16]byte) *xorshift.State {
	var combined [4]byte
	for i := range combined {
		combined[i] = a[i] ^ b[i]
	}

	steps := binary.LittleEndian.Uint32(combined[:]) % 65536
	return xorshift.New(steps)
}

// RoundSeeds draws the next round's offerer_seed and answerer_seed, in
// that fixed order, so both sides' RNGs stay in lockstep regardless of
// which side calls this first (spec.md §4.5 step 1).
func (c *Controller) RoundSeeds() (offererSeed, answererSeed uint32) {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.rng.Next(), c.rng.Next()
}

// OwnSeed draws the next round's seed pair and returns the one this side
// should install via hooks.Primitives.SetRNGState, per its offerer role.
func (c *Controller) OwnSeed() uint32 {
	offerer, answerer := c.RoundSeeds()
	if c.IsOfferer() {
		return offerer
	}

	return answerer
}

// RandomBackground draws uniformly from the fixed background set
// (spec.md §4.5 step 2) off the same shared RNG, so both sides compute
// the identical value without exchanging it.
func (c *Controller) RandomBackground() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.rng.Intn(backgroundCount)
}

// PeerSeed is OwnSeed's Shadow-side counterpart: it draws this
// round's offerer/answerer pair off shadowRNG and returns the half
// belonging to the *peer's* role, since the Shadow engine re-executes the
// remote peer's own point of view (spec.md §4.5).
func (c *Controller) PeerSeed() uint32 {
	c.mu.Lock()
	defer c.mu.Unlock()

	offerer, answerer := c.shadowRNG.Next(), c.shadowRNG.Next()
	if c.isOfferer {
		return answerer
	}

	return offerer
}

// PeerBackground is RandomBackground's Shadow-side counterpart, drawn from
// the same independent shadowRNG stream as PeerSeed so the two stay in
// the same per-round lockstep as the primary's rng/RandomBackground pair.
func (c *Controller) PeerBackground() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.shadowRNG.Intn(backgroundCount)
}

// shadowRNGView adapts Controller's peer-seed stream to round.RoundRNG, so
// Session can wire a Shadow engine's RNG the same way it wires *Controller
// itself into the primary engine.
type shadowRNGView struct {
	c *Controller
}

func (v shadowRNGView) OwnSeed() uint32       { return v.c.PeerSeed() }
func (v shadowRNGView) RandomBackground() int { return v.c.PeerBackground() }

// ShadowRNG returns the round.RoundRNG view a Shadow engine should wire
// into its Engine.RNG field.
func (c *Controller) ShadowRNG() round.RoundRNG {
	return shadowRNGView{c: c}
}

// Cancel sets the sticky cancellation flag RunRound's supervising
// goroutines observe at the next tick (spec.md §5 "Cancellation"). A
// second call is a no-op: the first error recorded wins.
func (c *Controller) Cancel(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.cancelled {
		return
	}

	c.cancelled = true
	c.cancelErr = err
}

// Cancelled reports whether Cancel has been called, and with what error.
func (c *Controller) Cancelled() (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.cancelled, c.cancelErr
}
