// Package hooks is the per-title adapter layer: the semantic primitives
// (is_linking, tx_packet, set_rx_packet, set_rng_state, predict_rx,
// prepare_for_fastforward, on_draw_result) plus the fixed address table the
// engine needs without ever reading ROM addresses itself. Spec.md §4.2.
//
// The engine (internal/round) owns the actual trap *handlers* — what to do
// when PC reaches an address — since that logic (commit on commit-tick,
// validate the pair, inject joyflags, exchange packets, advance the tick)
// is title-agnostic per spec.md §4.4. A Table only ever supplies (a) which
// addresses matter for a given title and (b) the handful of operations
// that read/write cartridge-specific memory layouts. This keeps the
// dependency one-directional (round depends on hooks, never the reverse)
// the way ines.Mapper007 (_examples/alex-yte-dendy/ines/mapper007.go) is a
// static table the bus depends on, never vice versa; the address-keyed
// handler-closure idiom itself is grounded on other_examples'
// zboralski-galago Emulator.addrHooks.
package hooks

import (
	"github.com/cliffdevs/tango/internal/emuadapter"
	"github.com/cliffdevs/tango/internal/tick"
)

// ROMIdentity is the (code, revision) key a title's hooks are registered
// under, matching the wire Hello/HelloAck fields in spec.md §6.
type ROMIdentity struct {
	Code     [4]byte
	Revision uint8
}

// Primitives is the semantic surface a title exposes beyond its raw
// addresses, per spec.md §4.2.
type Primitives interface {
	// IsLinking reports whether the cartridge believes it is currently in
	// the local-link comm state.
	IsLinking(core emuadapter.Core) bool

	// TxPacket reads the packet the cartridge just computed to send.
	TxPacket(core emuadapter.Core) tick.Packet

	// SetRxPacket overwrites the RX packet buffer for the given side.
	SetRxPacket(core emuadapter.Core, side tick.Side, packet tick.Packet)

	// SetRNGState installs a PRNG seed into cartridge memory ahead of
	// battle start.
	SetRNGState(core emuadapter.Core, seed uint32)

	// SetBattleBackground installs the cosmetic background id both peers
	// drew from the same shared RNG draw (spec.md §4.5 step 2), just
	// before starting the battle from the comm menu.
	SetBattleBackground(core emuadapter.Core, background int)

	// JoyflagsRegister returns the GPR index holding KEYINPUT, so the
	// engine can inject joyflags without knowing the title's register
	// convention.
	JoyflagsRegister() int

	// PredictRx advances a packet's sequence counter by one tick, used by
	// the replayer when no authoritative remote packet is available.
	PredictRx(packet *tick.Packet)

	// PrepareForFastForward sets PC so a freshly loaded save-state resumes
	// at the main input-read point.
	PrepareForFastForward(core emuadapter.Core)

	// OnDrawResult is a pure function of the current RAM snapshot deciding
	// a tie-break when the cartridge itself reports neither a clean win
	// nor a clean loss. Must return the same result given the same RAM on
	// both peers.
	OnDrawResult(core emuadapter.Core) DrawOutcome
}

// DrawOutcome is the result of a title's tie-break algorithm.
type DrawOutcome int

const (
	DrawOutcomeDraw DrawOutcome = iota
	DrawOutcomeP1Win
	DrawOutcomeP2Win
)

// BootPatch is a single "common trap" boot fixup: a fixed byte sequence
// poked at addr once, at Pregame, before any round-specific trap is
// installed (skip logo, unmask SRAM, jump into the link menu).
type BootPatch struct {
	Addr uint32
	Data []byte
}

// Addrs is the fixed set of ROM addresses a title's adapter must know,
// named per spec.md §4.2. round.Engine reads these to decide where to
// install its (title-agnostic) trap handlers; it never computes an address
// itself.
type Addrs struct {
	MainReadJoyflags          uint32
	HandleInputSendAndReceive uint32
	RoundStartRet             uint32
	RoundEndEntry1            uint32
	RoundEndEntry2            uint32
	RoundCallJumpTableRet     uint32
	CommMenuInitRet           uint32
	LinkIsP2Ret               uint32
	SetWin                    uint32
	SetLoss                   uint32
	DamageJudgeSetWin         uint32
	DamageJudgeSetLoss        uint32
	DamageJudgeSetDraw        uint32
}

// Table is a title's complete hooks adapter.
type Table struct {
	Primitives
	Addrs       Addrs
	BootPatches []BootPatch
}

// ApplyBootPatches pokes every BootPatch into core. Idempotent: safe to
// call every time a Round reaches Pregame, including after a reload from a
// replay header.
func (t *Table) ApplyBootPatches(core emuadapter.Core) {
	for _, p := range t.BootPatches {
		core.Poke(p.Addr, p.Data)
	}
}

// Registry maps a ROM identity to the factory that builds its Table,
// mirroring ines' mapper-number lookup
// (_examples/alex-yte-dendy/ines: NewMapper7 keyed by iNES mapper id).
// Immutable static data once built, per spec.md §3 "Ownership".
type Registry struct {
	factories map[ROMIdentity]func() *Table
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{factories: make(map[ROMIdentity]func() *Table)}
}

// Register installs factory under id. Re-registering the same id panics:
// the registry is built once at program startup and never mutated again.
func (r *Registry) Register(id ROMIdentity, factory func() *Table) {
	if _, exists := r.factories[id]; exists {
		panic("hooks: duplicate registration for ROM identity")
	}

	r.factories[id] = factory
}

// Lookup returns the Table factory for id, or nil, false if no title is
// registered for it.
func (r *Registry) Lookup(id ROMIdentity) (func() *Table, bool) {
	f, ok := r.factories[id]
	return f, ok
}
