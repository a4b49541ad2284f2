// Package round implements the rollback/fast-forward round engine and the
// primary/shadow round state machine, spec.md §4.4.
//
// Grounded on netplay.Game.applyRemoteInput
// (_examples/alex-yte-dendy/netplay/game.go): rollback to a checkpoint,
// replay local+remote inputs in lockstep, re-save once caught up. That
// function operates on one fixed NES bus and raw button bytes; Engine
// generalizes the same algorithm to the title-agnostic
// emuadapter.Core / hooks.Table / inputqueue.Queue abstractions spec.md
// names.
package round

import (
	"errors"
	"fmt"

	"github.com/cliffdevs/tango/internal/tick"
)

// Result is the outcome recorded at round end.
type Result int

const (
	ResultUndecided Result = iota
	ResultWin
	ResultLoss
	ResultDraw
)

func (r Result) String() string {
	switch r {
	case ResultWin:
		return "win"
	case ResultLoss:
		return "loss"
	case ResultDraw:
		return "draw"
	default:
		return "undecided"
	}
}

// Invert swaps Win/Loss, used when mapping a shadow's result (the remote's
// point of view) back onto the primary's vocabulary, per spec.md §4.5.
func (r Result) Invert() Result {
	switch r {
	case ResultWin:
		return ResultLoss
	case ResultLoss:
		return ResultWin
	default:
		return r
	}
}

// Phase is a Round's position in the state machine described in spec.md
// §4.4.
type Phase int

const (
	PhasePregame Phase = iota
	PhaseCommitting
	PhaseRunning
	PhaseEnded
	PhaseCancelled
)

func (p Phase) String() string {
	switch p {
	case PhasePregame:
		return "pregame"
	case PhaseCommitting:
		return "committing"
	case PhaseRunning:
		return "running"
	case PhaseEnded:
		return "ended"
	case PhaseCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// ErrDesync is returned when a consumed pair violates the tick invariant
// (spec.md §7, §8).
var ErrDesync = errors.New("round: desync")

// MaxRollback is MAX_ROLLBACK from spec.md §3: the constant bounding how
// far the dirty state may lead the committed state. The typical value is
// 10 ticks.
const MaxRollback = 10

// State is one side's view of a Round, spec.md §3 "RoundState" verbatim.
type State struct {
	CurrentTick      tick.Tick
	LocalPlayerIndex int // 0 or 1

	CommittedState     []byte
	CommittedStateTick tick.Tick
	DirtyState         []byte
	DirtyStateTick     tick.Tick

	// CommitTick is the tick main_read_joyflags should next snapshot
	// CommittedState at, set by RequestCommit once the match layer knows
	// both peers agree up to that tick (spec.md §4.4 step 1).
	CommitTick tick.Tick

	LastResult     Result
	FirstCommitted bool
	Phase          Phase
	PendingDesync  error
}

// NewState returns a fresh RoundState for the given local player seat.
func NewState(localPlayerIndex int) *State {
	return &State{
		LocalPlayerIndex: localPlayerIndex,
		Phase:            PhasePregame,
	}
}

// RemotePlayerIndex is 1-LocalPlayerIndex, per spec.md §3.
func (s *State) RemotePlayerIndex() int {
	return 1 - s.LocalPlayerIndex
}

// checkInvariant validates committed_tick ≤ current_tick ≤ dirty_tick ≤
// committed_tick + MAX_ROLLBACK (spec.md §3). Intended for tests and
// assertions, not the hot path.
func (s *State) checkInvariant() error {
	if s.CommittedStateTick > s.CurrentTick {
		return fmt.Errorf("round: committed tick %d > current tick %d", s.CommittedStateTick, s.CurrentTick)
	}

	if s.CurrentTick > s.DirtyStateTick && s.DirtyStateTick != 0 {
		return fmt.Errorf("round: current tick %d > dirty tick %d", s.CurrentTick, s.DirtyStateTick)
	}

	if s.DirtyStateTick > s.CommittedStateTick+MaxRollback {
		return fmt.Errorf("round: dirty tick %d exceeds committed+MAX_ROLLBACK (%d)", s.DirtyStateTick, s.CommittedStateTick+MaxRollback)
	}

	return nil
}

// MarkEnded transitions Running -> Ended exactly once, recording result.
// round_end_* traps are level-triggered (spec.md §4.4, §9): calling this
// again once already Ended is a silent no-op, not an error.
func (s *State) MarkEnded(result Result) {
	if s.Phase == PhaseEnded || s.Phase == PhaseCancelled {
		return
	}

	s.LastResult = result
	s.Phase = PhaseEnded
}

// Cancel transitions to Cancelled from any phase, sticky: once cancelled a
// round never resumes (spec.md §5, §7).
func (s *State) Cancel(err error) {
	if s.Phase == PhaseCancelled {
		return
	}

	s.PendingDesync = err
	s.Phase = PhaseCancelled
}
