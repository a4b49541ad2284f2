package round

import (
	"context"
	"fmt"
	"sync"

	"github.com/cliffdevs/tango/internal/emuadapter"
	"github.com/cliffdevs/tango/internal/hooks"
	"github.com/cliffdevs/tango/internal/tick"
)

// Role distinguishes the three hosts spec.md §1/§4.4 names: the local
// authoritative instance, the remote's-point-of-view shadow, and the
// offline replayer. All three share this Engine; only result-inversion and
// (for the replayer, built in internal/replayer) the pair source differ.
type Role int

const (
	RolePrimary Role = iota
	RoleShadow
	RoleReplayer
)

// PairSource is whatever supplies paired ticks and per-tick packets to the
// engine: inputqueue.Queue in live play, or a replay-backed source in
// internal/replayer. Spec.md §4.3's operations, lifted to an interface so
// Engine doesn't care which is driving it.
type PairSource interface {
	PeekPair() (tick.InputPair, bool)
	ConsumePair() (tick.InputPair, bool)
	SetRemotePacket(tick.Tick, tick.Packet)
	PeekRemotePacket(tick.Tick) (tick.Packet, bool)
	SetLocalPacket(tick.Tick, tick.Packet)
	PeekLocalPacket(tick.Tick) (tick.Packet, bool)
}

// maxTrapsPerTick bounds how many trap hits Engine will drive core.Step
// through while waiting for CurrentTick to advance, guarding against a
// misconfigured Table whose traps never reach round_call_jump_table_ret.
const maxTrapsPerTick = 64

// RoundRNG supplies the per-round seed/background draw the
// comm_menu_init_ret trap installs (spec.md §4.5 steps 1-2), without
// round importing match (match already imports round to drive Engine, so
// the dependency must stay one-directional). *match.Controller satisfies
// this structurally: OwnSeed resolves the shared RNG draw to this engine's
// offerer/answerer role, RandomBackground draws the cosmetic background
// both peers compute identically off the same shared draw.
type RoundRNG interface {
	OwnSeed() uint32
	RandomBackground() int
}

// localPeeker is satisfied by inputqueue.Queue: it lets the engine
// speculate using local inputs the remote side hasn't matched yet,
// without round depending on inputqueue directly (the same optional-
// interface idiom addLocal already uses via localAdder). A replay-backed
// PairSource never implements it, so the replayer never speculates —
// every pair it plays back was already fully recorded.
type localPeeker interface {
	PeekLocalPendingAt(n int, t tick.Tick) (tick.Input, bool)
}

// Engine drives one Core through the rollback/fast-forward algorithm of
// spec.md §4.4, for one of the three Roles above.
type Engine struct {
	Core  emuadapter.Core
	Table *hooks.Table
	Queue PairSource
	State *State
	Role  Role

	// RNG supplies the comm_menu_init_ret seed/background draw. Left nil,
	// the trap leaves cartridge RNG/background memory untouched — the
	// replayer (internal/replayer) and standalone engine tests have no
	// round-to-round RNG renegotiation to perform, since a replay's RNG
	// state was already baked into the recorded run.
	RNG RoundRNG

	currentPair   *tick.InputPair
	pendingResult Result

	// speculating is true while currentPair was built from a guessed
	// remote packet rather than one actually received (spec.md §4.4 step
	// 3). speculativeDebt stays true from the first such tick until
	// ReconcileSpeculation successfully rolls back and re-derives through
	// it with real data; a commit must never snapshot state built on a
	// guess, so handleMainReadJoyflags refuses to commit while it's set.
	speculating      bool
	speculativeDebt  bool
	speculativeAhead int
	haveLastRemote   bool
	lastRemote       tick.Input

	// commitMu guards the tick's CommitTick/CommittedState/CommittedStateTick
	// triple against the one genuine cross-goroutine access internal/session
	// introduces: a supervising commit-policy goroutine calls RequestCommit
	// and CommittedSnapshot concurrently with the goroutine driving this
	// engine (writeLoop for the primary, driveToTerminal for the shadow)
	// running handleMainReadJoyflags. Every other
	// State field is touched only by the goroutine driving this Engine, per
	// spec.md §5's "locks enforce" cross-thread rule, so no broader locking
	// is needed.
	commitMu sync.Mutex
}

// NewEngine wires a Core/Table/PairSource/State together. Callers must call
// InstallTraps before driving the engine.
func NewEngine(core emuadapter.Core, table *hooks.Table, queue PairSource, state *State, role Role) *Engine {
	return &Engine{
		Core:  core,
		Table: table,
		Queue: queue,
		State: state,
		Role:  role,
	}
}

// InstallTraps applies the title's boot patches and installs this engine's
// trap handlers at the addresses hooks.Table names. The handler *logic* is
// title-agnostic (spec.md §4.2: the engine never reads raw addresses); only
// the addresses themselves come from Table.
func (e *Engine) InstallTraps() error {
	e.Core.ClearTraps()
	e.Table.ApplyBootPatches(e.Core)

	a := e.Table.Addrs
	traps := map[uint32]emuadapter.TrapHandler{
		a.MainReadJoyflags:          e.handleMainReadJoyflags,
		a.HandleInputSendAndReceive: e.handleSendAndReceive,
		a.RoundCallJumpTableRet:     e.handleRoundCallJumpTableRet,
		a.RoundStartRet:             e.handleRoundStartRet,
		a.RoundEndEntry1:            e.handleRoundEnd,
		a.RoundEndEntry2:            e.handleRoundEnd,
		a.SetWin:                    e.handleSetWin,
		a.SetLoss:                   e.handleSetLoss,
		a.DamageJudgeSetWin:         e.handleSetWin,
		a.DamageJudgeSetLoss:        e.handleSetLoss,
		a.DamageJudgeSetDraw:        e.handleDamageJudgeDraw,
		a.CommMenuInitRet:           e.handleCommMenuInitRet,
		a.LinkIsP2Ret:               e.handleLinkIsP2Ret,
	}

	for addr, h := range traps {
		if err := e.Core.SetTrap(addr, h); err != nil {
			return fmt.Errorf("round: install trap at %#x: %w", addr, err)
		}
	}

	return nil
}

// RequestCommit arranges for the next tick the main-read-joyflags trap
// observes equal to t to snapshot CommittedState (spec.md §4.4 step 1). The
// match/shadow coordination layer calls this once it knows both peers agree
// up to t.
func (e *Engine) RequestCommit(t tick.Tick) {
	e.commitMu.Lock()
	e.State.CommitTick = t
	e.commitMu.Unlock()
}

// CommittedSnapshot returns the tick and state blob most recently snapshotted
// by handleMainReadJoyflags, safe to call from a goroutine other than the one
// driving this Engine (internal/session's commit-policy loop does exactly
// that to compare the primary's and shadow's committed digests).
func (e *Engine) CommittedSnapshot() (tick.Tick, []byte) {
	e.commitMu.Lock()
	defer e.commitMu.Unlock()

	return e.State.CommittedStateTick, e.State.CommittedState
}

// RunOneTick drives Core until CurrentTick advances by exactly one (or the
// round ends/cancels), implementing spec.md §4.4 steps 1-7 via the
// installed trap handlers.
func (e *Engine) RunOneTick(ctx context.Context) error {
	start := e.State.CurrentTick

	for i := 0; i < maxTrapsPerTick; i++ {
		if e.State.Phase == PhaseCancelled {
			return e.State.PendingDesync
		}

		if e.State.Phase == PhaseEnded {
			return nil
		}

		ev := e.Core.Step(ctx)
		if !ev.Hit {
			continue
		}

		if e.State.Phase == PhaseCancelled {
			return e.State.PendingDesync
		}

		if e.State.Phase == PhaseEnded || e.State.CurrentTick != start {
			return nil
		}
	}

	return fmt.Errorf("round: no tick progress after %d trap hits", maxTrapsPerTick)
}

// AddLocalInputAndFastForward appends a newly produced local input and
// replays pending pairs at maximum speed to catch the emulator up
// (spec.md §4.4 "Fast-forward"), rolling back to CommittedState first if a
// confirmed pair has since arrived for a tick already advanced past on a
// guess. Grounded on netplay.Game.applyRemoteInput's rollback-replay loop.
// internal/session's writeLoop is this engine's one real production
// caller: the goroutine producing the local player's next joyflags is
// exactly the one spec.md §4.4 names ("when a new local input arrives,
// the engine calls add_local_input_and_fastforward"), and driving the
// engine from that single call site — rather than from a second,
// independently-looping goroutine — is what keeps RunOneTick from ever
// being entered concurrently (spec.md §5).
func (e *Engine) AddLocalInputAndFastForward(ctx context.Context, nextLocalTick tick.Tick, joy tick.Joyflags, packet tick.Packet) error {
	in := tick.Input{
		LocalTick:  nextLocalTick,
		RemoteTick: nextLocalTick,
		Joyflags:   joy,
		Packet:     packet,
	}

	if err := e.addLocal(in); err != nil {
		return err
	}

	for {
		if err := e.ReconcileSpeculation(ctx); err != nil {
			return err
		}

		if !e.canAdvance() {
			return nil
		}

		if e.State.CurrentTick >= e.State.CommittedStateTick+MaxRollback {
			return nil
		}

		if err := e.RunOneTick(ctx); err != nil {
			return err
		}

		if e.State.Phase == PhaseCancelled {
			return e.State.PendingDesync
		}
	}
}

// canAdvance reports whether the next RunOneTick call has something to
// advance on: either a confirmed pair, or (failing that) a local input to
// speculate from. Pure — unlike trySpeculate, it never commits to
// speculating.
func (e *Engine) canAdvance() bool {
	if _, ok := e.Queue.PeekPair(); ok {
		return true
	}

	peeker, ok := e.Queue.(localPeeker)
	if !ok || !e.haveLastRemote {
		return false
	}

	_, ok = peeker.PeekLocalPendingAt(e.speculativeAhead, e.State.CurrentTick)
	return ok
}

// addLocal pushes into the underlying PairSource when it supports local
// input (inputqueue.Queue does; a replay-backed source does not and
// callers never invoke this path against one).
func (e *Engine) addLocal(in tick.Input) error {
	type localAdder interface {
		AddLocal(tick.Input) error
	}

	adder, ok := e.Queue.(localAdder)
	if !ok {
		return fmt.Errorf("round: pair source does not accept local input")
	}

	return adder.AddLocal(in)
}

// Rollback reloads CommittedState and re-consumes every pair from
// CommittedStateTick up to the tick the caller now knows about, discarding
// anything speculative past CommittedState. Grounded directly on
// netplay.Game.rollback + the replay loop in applyRemoteInput.
//
// Pairs speculated through are never removed from the queue (see
// trySpeculate/handleRoundCallJumpTableRet), so the same real pairs that
// have since arrived are still sitting there in order, ready for this
// replay pass to re-consume them exactly as if they'd been available the
// first time.
func (e *Engine) Rollback(ctx context.Context, upTo tick.Tick) error {
	if len(e.State.CommittedState) == 0 {
		return fmt.Errorf("round: rollback requested with no committed state")
	}

	if err := e.Core.LoadState(e.State.CommittedState); err != nil {
		return emuadapter.WrapStateError(err)
	}

	e.State.CurrentTick = e.State.CommittedStateTick
	e.currentPair = nil
	e.speculating = false
	e.speculativeAhead = 0
	e.Table.PrepareForFastForward(e.Core)

	for e.State.CurrentTick < upTo {
		if err := e.RunOneTick(ctx); err != nil {
			return err
		}

		if e.State.Phase == PhaseCancelled {
			return e.State.PendingDesync
		}
	}

	return nil
}

// ReconcileSpeculation rolls back and re-derives through CurrentTick if a
// confirmed pair has since arrived for a tick this engine already advanced
// past on a guess (spec.md §4.4 step 3, §8 scenario 2: "peer A's input for
// tick 5 arrives after A has speculatively advanced to tick 8"). Cheap to
// call every tick when nothing is owed: it only inspects speculativeDebt
// and the queue's current head before doing anything. Called from
// AddLocalInputAndFastForward's own loop and from
// match.Controller.driveToTerminal, so both the primary (pushed by new
// local input) and the shadow (pulled every tick) reconcile the same way.
func (e *Engine) ReconcileSpeculation(ctx context.Context) error {
	if !e.speculativeDebt {
		return nil
	}

	pair, ok := e.Queue.PeekPair()
	if !ok || pair.Local.LocalTick >= e.State.CurrentTick {
		return nil
	}

	e.speculativeDebt = false

	return e.Rollback(ctx, e.State.CurrentTick)
}

func (e *Engine) handleMainReadJoyflags(core emuadapter.Core) {
	if e.State.Phase == PhaseCancelled || e.State.Phase == PhaseEnded {
		return
	}

	// The cartridge calls this read point continuously, including during
	// link-menu negotiation before the two sides are actually exchanging
	// battle input; nothing below is meaningful until hooks.Primitives.
	// IsLinking reports the link is up (original_source/tango/src/game/
	// bn2/hooks.rs main_read_joyflags: "if !munger.is_linking(core) {
	// return }").
	if !e.Table.IsLinking(core) {
		return
	}

	e.commitMu.Lock()
	commitTick := e.State.CommitTick
	e.commitMu.Unlock()

	// A commit must only ever snapshot state derived entirely from real,
	// confirmed pairs: committing on top of a guess would hand Rollback a
	// CommittedState it can never safely return to. speculativeDebt stays
	// set until ReconcileSpeculation has replayed through it with real
	// data, so the commit this round's commit-policy goroutine asked for
	// simply waits until then (spec.md §4.4 step 1, §7).
	if e.State.CurrentTick == commitTick && !e.speculativeDebt {
		snap, err := core.SaveState()
		if err != nil {
			e.State.Cancel(emuadapter.WrapStateError(err))
			return
		}

		e.commitMu.Lock()
		e.State.CommittedState = snap
		e.State.CommittedStateTick = e.State.CurrentTick
		e.commitMu.Unlock()

		if e.State.Phase == PhaseCommitting && !e.State.FirstCommitted {
			e.State.FirstCommitted = true
			e.State.Phase = PhaseRunning
		}
	}

	pair, ok := e.Queue.PeekPair()
	if !ok {
		pair, ok = e.trySpeculate()
		if !ok {
			// Nothing confirmed and nothing to speculate from: the
			// emulator idles this tick on whatever joyflags were last
			// injected (spec.md §4.4 step 2).
			return
		}
	}

	if !pair.Valid() || pair.Local.LocalTick != e.State.CurrentTick {
		e.State.Cancel(fmt.Errorf("%w: pair (local=%d remote=%d) at current tick %d",
			ErrDesync, pair.Local.LocalTick, pair.Remote.LocalTick, e.State.CurrentTick))
		return
	}

	e.currentPair = &pair

	joy := pair.Local.Joyflags.Inject()
	if err := core.WriteReg(e.Table.JoyflagsRegister(), uint32(joy)); err != nil {
		e.State.Cancel(fmt.Errorf("round: writing joyflags register: %w", err))
	}
}

// trySpeculate builds a speculative pair from the next local input the
// remote side hasn't matched yet, repeating the last confirmed (or
// previously speculated) remote packet — advanced one more tick via
// predict_rx each time — as its guess: the same "assume nothing changed"
// heuristic netplay.Game.HandleLocalInput uses when it speculates with
// lastRemoteInput. speculativeAhead tracks how many such ticks deep the
// engine already is, so a whole run of undelivered local inputs (spec.md
// §8 scenario #2: speculatively advance from tick 4 to tick 8 before
// tick 5's remote input shows up) each get their own predicted tick
// instead of re-guessing the same one. Returns ok=false if there's no
// further local input waiting, or nothing confirmed yet to speculate from
// (e.g. before the round's first real pair).
func (e *Engine) trySpeculate() (tick.InputPair, bool) {
	peeker, ok := e.Queue.(localPeeker)
	if !ok || !e.haveLastRemote {
		return tick.InputPair{}, false
	}

	local, ok := peeker.PeekLocalPendingAt(e.speculativeAhead, e.State.CurrentTick)
	if !ok {
		return tick.InputPair{}, false
	}

	remote := e.lastRemote
	remote.LocalTick = local.LocalTick
	remote.RemoteTick = local.LocalTick
	remote.Packet = remote.Packet.Clone()
	e.Table.PredictRx(&remote.Packet)

	e.lastRemote = remote
	e.speculating = true
	e.speculativeDebt = true
	e.speculativeAhead++

	return tick.InputPair{Local: local, Remote: remote}, true
}

func (e *Engine) handleSendAndReceive(core emuadapter.Core) {
	if e.currentPair == nil || e.State.Phase == PhaseCancelled {
		return
	}

	pair := *e.currentPair
	e.Table.SetRxPacket(core, tick.SideLocal, pair.Local.Packet)
	e.Table.SetRxPacket(core, tick.SideRemote, pair.Remote.Packet)

	tx := e.Table.TxPacket(core)
	e.Queue.SetLocalPacket(e.State.CurrentTick+1, tx)
}

func (e *Engine) handleRoundCallJumpTableRet(core emuadapter.Core) {
	if e.currentPair == nil || e.State.Phase == PhaseCancelled {
		return
	}

	if e.speculating {
		// Nothing real to discard: the matching real pair, once it
		// arrives, sits untouched in the queue until ReconcileSpeculation
		// rolls back to re-derive this tick from it (spec.md §4.4 step 3).
		e.speculating = false
	} else if p, ok := e.Queue.ConsumePair(); ok {
		e.lastRemote = p.Remote
		e.haveLastRemote = true
	}

	e.currentPair = nil
	e.State.CurrentTick++

	if e.State.DirtyStateTick != 0 && e.State.CurrentTick == e.State.DirtyStateTick {
		if snap, err := core.SaveState(); err == nil {
			e.State.DirtyState = snap
		}
	}
}

func (e *Engine) handleRoundStartRet(core emuadapter.Core) {
	if e.State.Phase == PhasePregame {
		e.State.Phase = PhaseCommitting
	}
}

// handleRoundEnd is installed at both round_ending_entry addresses, which
// are level-triggered (spec.md §9): the engine may re-enter them under
// rollback, so MarkEnded must tolerate repeated calls.
func (e *Engine) handleRoundEnd(core emuadapter.Core) {
	e.State.MarkEnded(e.pendingResult)
}

func (e *Engine) handleSetWin(core emuadapter.Core) {
	e.recordResult(ResultWin)
}

func (e *Engine) handleSetLoss(core emuadapter.Core) {
	e.recordResult(ResultLoss)
}

func (e *Engine) handleDamageJudgeDraw(core emuadapter.Core) {
	outcome := e.Table.OnDrawResult(core)

	switch outcome {
	case hooks.DrawOutcomeP1Win:
		e.recordResult(resultForSeat(0, e.State.LocalPlayerIndex))
	case hooks.DrawOutcomeP2Win:
		e.recordResult(resultForSeat(1, e.State.LocalPlayerIndex))
	default:
		e.recordResult(ResultDraw)
	}
}

func resultForSeat(winnerSeat, localSeat int) Result {
	if winnerSeat == localSeat {
		return ResultWin
	}

	return ResultLoss
}

// recordResult stores a pending result, inverted for the shadow role since
// a Shadow plays out the remote's point of view (spec.md §4.5).
func (e *Engine) recordResult(r Result) {
	if e.Role == RoleShadow {
		r = r.Invert()
	}

	e.pendingResult = r
}

// handleCommMenuInitRet installs this round's agreed RNG seed and draws
// the shared cosmetic background before battle start (spec.md §4.5 steps
// 1-2): both sides' e.RNG (a *match.Controller) compute the identical pair
// off the same shared draw, and each installs only the half matching its
// own offerer/answerer role.
func (e *Engine) handleCommMenuInitRet(core emuadapter.Core) {
	if e.RNG == nil {
		return
	}

	e.Table.SetRNGState(core, e.RNG.OwnSeed())
	e.Table.SetBattleBackground(core, e.RNG.RandomBackground())
}

func (e *Engine) handleLinkIsP2Ret(core emuadapter.Core) {
	// Answers "are you player 2?" by writing the local seat into r0. Which
	// register/calling convention a given title uses for the return value
	// is assumed to match JoyflagsRegister's convention here; a title
	// needing a different register would supply its own handler via a
	// richer Primitives method in a fuller implementation.
	_ = core.WriteReg(e.Table.JoyflagsRegister(), uint32(e.State.LocalPlayerIndex))
}
