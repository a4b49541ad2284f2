// Package replayer implements the offline trace runner of spec.md
// §4.7/§4.9: re-execute a recorded replay tick-for-tick through the same
// round.Engine the primary and shadow drive, fed by a file instead of a
// live peer. Grounded on round.Engine/replay.Reader directly (no teacher
// analogue: dendy has no replay format), using emuadapter.Core's OnFrame
// callback to optionally drive internal/replayview.
package replayer

import (
	"context"
	"errors"
	"fmt"
	"image/color"
	"os"

	"github.com/cliffdevs/tango/internal/emuadapter"
	"github.com/cliffdevs/tango/internal/hooks"
	"github.com/cliffdevs/tango/internal/replay"
	"github.com/cliffdevs/tango/internal/replayview"
	"github.com/cliffdevs/tango/internal/round"
)

// ExitCode is the replayer CLI's process exit status, spec.md §6: "0
// clean, 1 replay decode error, 2 ROM mismatch, 3 desync".
type ExitCode int

const (
	ExitClean ExitCode = iota
	ExitDecodeError
	ExitROMMismatch
	ExitDesync
)

func (e ExitCode) String() string {
	switch e {
	case ExitClean:
		return "clean"
	case ExitDecodeError:
		return "replay decode error"
	case ExitROMMismatch:
		return "rom mismatch"
	case ExitDesync:
		return "desync"
	default:
		return "unknown"
	}
}

// ROMInfo is everything replay.CheckROM and hooks.Registry.Lookup need
// about a loaded ROM.
type ROMInfo struct {
	Code     [4]byte
	Revision uint8
	CRC32    uint32
	Title    [20]byte
}

// Loader constructs a fresh, unstarted Core from a ROM file path, along
// with the ROM's identity. cmd/tango-replay's Loader reads the identity
// with internal/romfile and then returns emuadapter.ErrNoCoreBackend, as
// no emulator core is linked into that build; tests use a
// faketest.Core-backed stub.
type Loader interface {
	Load(romPath string) (emuadapter.Core, ROMInfo, error)
}

// Options configures one replayer run.
type Options struct {
	// Remote views the round from the remote's seat (spec.md §6
	// --remote): swaps local/remote in every pair and flips
	// LocalPlayerIndex.
	Remote bool

	// View drives internal/replayview off the core's frame callback.
	// False by default so headless runs never open a window.
	View      bool
	ViewScale int

	// PredictTail lets playback continue past a replay that stops
	// mid-round (the recording peer disconnected before the round's own
	// end-of-round trap fired) by predicting further ticks instead of
	// failing with a decode error. Off by default: spec.md §8 scenario
	// #1's bit-exact determinism check wants a genuine decode error on a
	// truncated file, not a silently predicted continuation.
	PredictTail bool
}

// Run loads replayPath, verifies it against the ROM loader constructs,
// and re-executes it through round.Engine with RoleReplayer.
func Run(ctx context.Context, loader Loader, registry *hooks.Registry, romPath, replayPath string, opts Options) (ExitCode, round.Result, error) {
	core, info, err := loader.Load(romPath)
	if err != nil {
		return ExitDecodeError, round.ResultUndecided, fmt.Errorf("replayer: load rom: %w", err)
	}

	f, err := os.Open(replayPath)
	if err != nil {
		return ExitDecodeError, round.ResultUndecided, fmt.Errorf("replayer: open replay: %w", err)
	}
	defer f.Close()

	reader, header, init, err := replay.NewReader(f)
	if err != nil {
		return ExitDecodeError, round.ResultUndecided, fmt.Errorf("replayer: decode replay: %w", err)
	}

	if err := replay.CheckROM(header, info.Code, info.Revision, info.CRC32); err != nil {
		return ExitROMMismatch, round.ResultUndecided, err
	}

	newTable, ok := registry.Lookup(hooks.ROMIdentity{Code: info.Code, Revision: info.Revision})
	if !ok {
		return ExitDecodeError, round.ResultUndecided, fmt.Errorf("replayer: no hooks registered for rom %q rev %d", info.Code, info.Revision)
	}
	table := newTable()

	localIndex := int(header.LocalPlayerIndex)
	if opts.Remote {
		localIndex = 1 - localIndex
	}

	state := round.NewState(localIndex)

	// init.SaveState is authoritative and already contains everything
	// init.WRAM does; WRAM stays in the file for external inspection
	// tools (diffing two replays' starting memory without decoding a
	// full save-state blob), not consulted during playback.
	if err := core.LoadState(init.SaveState); err != nil {
		return ExitDecodeError, round.ResultUndecided, fmt.Errorf("replayer: load initial state: %w", err)
	}

	// Phase starts Pregame and reaches Running the same way live play
	// does: round_start_ret transitions Pregame->Committing at tick 0,
	// then main_read_joyflags snapshots CommittedState at CommitTick==0
	// and flips Committing->Running (round.Engine.handleMainReadJoyflags).
	// Pre-seeding CommittedState/FirstCommitted here would short-circuit
	// that transition and leave the round stuck in Committing forever.
	src := newFileSource(reader, table, opts.Remote, opts.PredictTail)
	engine := round.NewEngine(core, table, src, state, round.RoleReplayer)
	if err := engine.InstallTraps(); err != nil {
		return ExitDecodeError, round.ResultUndecided, fmt.Errorf("replayer: install traps: %w", err)
	}

	var view *replayview.View
	if opts.View {
		scale := opts.ViewScale
		if scale <= 0 {
			scale = 1
		}

		view = replayview.Open(scale, false)
		defer view.Close()

		core.OnFrame(func(frame []byte) {
			view.Tick = uint32(state.CurrentTick)
			view.ShowTick = true
			view.Render(decodeFrame(frame))
		})
	}

	result, err := drive(ctx, engine, src, reader, view)
	if errors.Is(err, round.ErrDesync) {
		return ExitDesync, result, err
	}

	if err != nil {
		return ExitDecodeError, round.ResultUndecided, err
	}

	return ExitClean, result, nil
}

// drive steps engine one tick at a time until it reports Ended or
// Cancelled, then reads exactly one terminator — never earlier, and never
// by inspecting the next bytes in the file (see replay.ReadPair's doc
// comment and DESIGN.md's "Replay terminator sentinel ambiguity"). Each
// pair is pulled from src lazily, from inside the engine's own
// main_read_joyflags trap, the same way match.driveToTerminal drives a
// live engine off inputqueue.Queue. If src ended the round on a predicted
// tail (Options.PredictTail), there is no terminator in the file to read —
// the recording stopped before the original round ever reached one — so
// the engine's own result is returned as-is.
func drive(ctx context.Context, engine *round.Engine, src *fileSource, reader *replay.Reader, view *replayview.View) (round.Result, error) {
	for engine.State.Phase != round.PhaseEnded && engine.State.Phase != round.PhaseCancelled {
		if view != nil && view.ShouldClose() {
			return round.ResultUndecided, nil
		}

		if err := engine.RunOneTick(ctx); err != nil {
			if readErr := src.Err(); readErr != nil {
				return round.ResultUndecided, fmt.Errorf("replayer: read pair: %w", readErr)
			}

			return round.ResultUndecided, err
		}
	}

	if engine.State.Phase == round.PhaseCancelled {
		return round.ResultUndecided, engine.State.PendingDesync
	}

	if src.Predicted() {
		return engine.State.LastResult, nil
	}

	entry, err := reader.ReadTerminator()
	if err != nil {
		return round.ResultUndecided, fmt.Errorf("replayer: read terminator: %w", err)
	}

	if !entry.RoundEnded {
		return round.ResultUndecided, fmt.Errorf("replayer: expected round terminator, file ended instead")
	}

	return entry.Result, nil
}

// decodeFrame reinterprets a raw OnFrame payload as packed RGBA8 pixels.
// The real Core's pixel format is its own business (spec.md §1); this is
// the simplest decode that lets --view exercise OnFrame end to end
// without claiming anything about genuine GBA video output.
func decodeFrame(frame []byte) []color.RGBA {
	out := make([]color.RGBA, len(frame)/4)
	for i := range out {
		off := i * 4
		out[i] = color.RGBA{R: frame[off], G: frame[off+1], B: frame[off+2], A: frame[off+3]}
	}

	return out
}
