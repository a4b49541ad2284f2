// Package emuadapter is the thin façade the round engine drives: run until
// trap, save/restore state, peek/poke memory, set PC, read/write registers,
// deliver frame buffers. Everything past this interface (CPU, video, audio)
// is the external emulator's own business — spec.md §1 explicitly excludes
// it from this module's scope, treating it as an opaque deterministic
// machine.
//
// The shape mirrors the teacher's nes.Bus: Tick/Read/Write generalize here
// into Step/Peek/Poke (Core has no Reset; state is restored through
// LoadState), and the address-keyed hook table used by
// other_examples' zboralski-galago Emulator.addrHooks generalizes into
// SetTrap/ClearTraps.
package emuadapter

import (
	"context"
	"errors"
	"fmt"
)

// ErrTrapAddressOutOfROM is returned by SetTrap when addr does not fall
// within any mapped ROM region.
var ErrTrapAddressOutOfROM = errors.New("emuadapter: trap address out of ROM")

// ErrIllegalRegister is returned by ReadReg/WriteReg for an out-of-range
// register index.
var ErrIllegalRegister = errors.New("emuadapter: illegal register index")

// ErrStateLoadFailed wraps a failure to round-trip a save-state blob.
var ErrStateLoadFailed = errors.New("emuadapter: state load failed")

// ErrNoCoreBackend is returned by a cmd/tango-* ROM loader once it has
// identified a ROM but cannot construct a Core for it: the real GBA
// emulator core is spec.md §1's opaque external collaborator, out of
// scope for this module to implement. Everything up to this boundary
// (ROM identification, hooks lookup, handshake, round sequencing) is
// real and wired; only the final Core construction call is a seam
// waiting for one to be linked in.
var ErrNoCoreBackend = errors.New("emuadapter: no core backend linked into this build")

// TrapHandler runs synchronously on the emulator thread immediately before
// the instruction at the installed address executes. It must not block on
// anything but the match mutex, and must return quickly: the emulator
// thread cannot yield arbitrarily while a handler is running.
type TrapHandler func(core Core)

// TrapEvent describes why Step returned.
type TrapEvent struct {
	// Addr is the PC value at which a trap fired, or 0 if Step returned
	// because the deadline elapsed without reaching any installed trap.
	Addr uint32

	// Hit is true iff a trap fired (as opposed to a deadline timeout).
	Hit bool
}

// Core is the surface the round engine uses. Determinism requirement: given
// identical initial state, identical ROM, identical trap side-effects, and
// identical injected joyflags, the save-state after N steps is
// byte-identical on any conforming implementation.
type Core interface {
	// Step runs until the next installed trap fires or ctx is done,
	// whichever comes first.
	Step(ctx context.Context) TrapEvent

	// SetTrap installs a breakpoint at addr; ClearTraps removes all of
	// them. Re-installing at an address already trapped replaces the
	// handler.
	SetTrap(addr uint32, handler TrapHandler) error
	ClearTraps()

	// SaveState/LoadState round-trip an opaque snapshot exactly.
	SaveState() ([]byte, error)
	LoadState(state []byte) error

	ReadReg(i int) (uint32, error)
	WriteReg(i int, v uint32) error

	PC() uint32
	SetPC(v uint32)

	Peek(addr uint32, n int) []byte
	Poke(addr uint32, data []byte)

	// OnFrame registers cb to be invoked with each produced video frame.
	// Passing nil clears any previously registered callback.
	OnFrame(cb func(frame []byte))
}

// WrapStateError is a convenience for Core implementations to produce a
// consistently wrapped load/save error.
func WrapStateError(err error) error {
	if err == nil {
		return nil
	}

	return fmt.Errorf("%w: %v", ErrStateLoadFailed, err)
}
