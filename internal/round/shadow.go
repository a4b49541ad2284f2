package round

import (
	"errors"
	"fmt"

	"github.com/cespare/xxhash/v2"

	"github.com/cliffdevs/tango/internal/tick"
)

// ErrShadowDivergence is the sticky error recorded when a shadow's
// committed-state digest disagrees with the one the primary reports for
// the same tick (spec.md §8 scenario #6).
var ErrShadowDivergence = errors.New("round: shadow diverged from primary")

// Shadow wraps a round Engine running as RoleShadow: a second
// deterministic emulator instance advancing in lockstep with the
// primary, representing the remote player's point of view (spec.md
// §4.4 "Shadow runner"). The match controller is responsible for
// feeding it the same pairs as the primary with local/remote swapped
// (e.g. a second inputqueue.Queue fed via AddLocal(remote's input) and
// AddRemote(local's input)); Shadow itself only adds divergence
// detection and the authoritative-remote-packet lookup on top of a
// plain Engine.
type Shadow struct {
	Engine *Engine
}

// NewShadow wraps engine, which the caller must have constructed with
// Role == RoleShadow.
func NewShadow(engine *Engine) (*Shadow, error) {
	if engine.Role != RoleShadow {
		return nil, fmt.Errorf("round: shadow engine must use RoleShadow, got %v", engine.Role)
	}

	return &Shadow{Engine: engine}, nil
}

// CommittedDigest hashes the shadow's current CommittedState with
// xxhash, grounded on the same non-cryptographic fast-hash idiom the
// teacher's dirty-page tracking would reach for when comparing large
// byte blobs cheaply. internal/session's commit loop compares the
// primary's committed-state digest with the shadow's in-process through
// ValidateAgainstPrimary; no digest is sent to the peer. Reads through
// Engine.CommittedSnapshot, safe to call from the commit-policy goroutine
// that normally invokes this rather than the engine's own driving
// goroutine.
func (s *Shadow) CommittedDigest() uint64 {
	_, snap := s.Engine.CommittedSnapshot()
	return xxhash.Sum64(snap)
}

// ValidateAgainstPrimary compares the shadow's own committed-state
// digest against one reported by the primary side for the same tick.
// A mismatch cancels the shadow's round with a sticky
// ErrShadowDivergence (spec.md §8 scenario #6: corrupting one byte of
// the shadow's save-state must cancel the match at the next paired
// tick, never silently diverge).
func (s *Shadow) ValidateAgainstPrimary(primaryDigest uint64) error {
	committedTick, snap := s.Engine.CommittedSnapshot()
	if len(snap) == 0 {
		return nil
	}

	if xxhash.Sum64(snap) != primaryDigest {
		err := fmt.Errorf("%w: at tick %d", ErrShadowDivergence, committedTick)
		s.Engine.State.Cancel(err)
		return err
	}

	return nil
}

// RemotePacket returns the remote TX packet the shadow produced for tick
// t. Nothing in internal/session or internal/match reads it: the primary's
// pairs carry the remote packet that arrived over the wire, not this one.
// The shadow engine writes it via the usual handleSendAndReceive path, just
// like the primary writes its own TX packet, so this is a plain
// Queue.PeekLocalPacket lookup from the shadow's point of view.
func (s *Shadow) RemotePacket(t tick.Tick) (tick.Packet, bool) {
	return s.Engine.Queue.PeekLocalPacket(t)
}
