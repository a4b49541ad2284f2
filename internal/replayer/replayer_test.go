package replayer

import (
	"bytes"
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/cliffdevs/tango/internal/emuadapter"
	"github.com/cliffdevs/tango/internal/emuadapter/faketest"
	"github.com/cliffdevs/tango/internal/hooks"
	"github.com/cliffdevs/tango/internal/hooks/bn6"
	"github.com/cliffdevs/tango/internal/replay"
	"github.com/cliffdevs/tango/internal/round"
	"github.com/cliffdevs/tango/internal/tick"
)

// stubLoader hands back a pre-built faketest.Core, ignoring romPath, so
// tests never touch a real filesystem ROM.
type stubLoader struct {
	core *faketest.Core
	info ROMInfo
	err  error
}

func (s stubLoader) Load(string) (emuadapter.Core, ROMInfo, error) {
	if s.err != nil {
		return nil, ROMInfo{}, s.err
	}

	return s.core, s.info, nil
}

// buildReplay writes a 3-tick round ending in a win, using the same
// program-cycle trick as round/engine_test.go and match/controller_test.go:
// a fixed address list long enough that RoundCallJumpTableRet only ever
// advances CurrentTick, and SetWin/RoundEndEntry1 sit after the last
// tick's cycle so the round ends once those ticks are genuinely consumed.
func buildReplay(t *testing.T, table *hooks.Table) (*faketest.Core, []byte) {
	t.Helper()

	a := table.Addrs
	program := []uint32{
		a.RoundStartRet, a.MainReadJoyflags, a.HandleInputSendAndReceive, a.RoundCallJumpTableRet,
		a.MainReadJoyflags, a.HandleInputSendAndReceive, a.RoundCallJumpTableRet,
		a.MainReadJoyflags, a.HandleInputSendAndReceive, a.RoundCallJumpTableRet,
		a.SetWin, a.RoundEndEntry1,
	}

	core := faketest.New(program)

	var buf bytes.Buffer
	w, err := replay.NewWriter(&buf, replay.Header{
		LocalPlayerIndex: 0,
		MatchType:        [2]uint32{1, 1},
		ROMCode:          bn6.ROMIdentity.Code,
		ROMRevision:      bn6.ROMIdentity.Revision,
		ROMCRC32:         0xdeadbeef,
	}, replay.InitialState{
		WRAM:      []byte{0x01, 0x02},
		SaveState: initialSaveState(t, table),
	})
	require.NoError(t, err)

	for i := tick.Tick(0); i < 3; i++ {
		in := tick.Input{LocalTick: i, RemoteTick: i, Joyflags: tick.Joyflags(i), Packet: tick.Packet{byte(i)}}
		require.NoError(t, w.WritePair(tick.InputPair{Local: in, Remote: in}))
	}

	require.NoError(t, w.EndRound(round.ResultWin))
	require.NoError(t, w.Close())

	return core, buf.Bytes()
}

// initialSaveState captures a fresh core's own SaveState encoding so
// core.LoadState(init.SaveState) in Run is a harmless round trip rather
// than a format mismatch, mirroring how a real replay's initial state is
// always a snapshot taken from the same core implementation that will
// later replay it.
func initialSaveState(t *testing.T, table *hooks.Table) []byte {
	t.Helper()

	a := table.Addrs
	core := faketest.New([]uint32{a.RoundStartRet})
	table.ApplyBootPatches(core)
	bn6.SetLinking(core, true)

	snap, err := core.SaveState()
	require.NoError(t, err)

	return snap
}

func writeReplayFile(t *testing.T, dir string, data []byte) string {
	t.Helper()

	path := dir + "/test.replay"
	require.NoError(t, os.WriteFile(path, data, 0o644))

	return path
}

func TestRunReachesCleanExitAndResult(t *testing.T) {
	table := bn6.NewTable()
	core, data := buildReplay(t, table)

	registry := hooks.NewRegistry()
	bn6.Register(registry)

	dir := t.TempDir()
	replayPath := writeReplayFile(t, dir, data)

	loader := stubLoader{core: core, info: ROMInfo{
		Code:     bn6.ROMIdentity.Code,
		Revision: bn6.ROMIdentity.Revision,
		CRC32:    0xdeadbeef,
	}}

	code, result, err := Run(context.Background(), loader, registry, "unused.gba", replayPath, Options{})
	require.NoError(t, err)
	require.Equal(t, ExitClean, code)
	require.Equal(t, round.ResultWin, result)
}

func TestRunRemoteFlagKeepsCleanExitAndResult(t *testing.T) {
	table := bn6.NewTable()
	core, data := buildReplay(t, table)

	registry := hooks.NewRegistry()
	bn6.Register(registry)

	dir := t.TempDir()
	replayPath := writeReplayFile(t, dir, data)

	loader := stubLoader{core: core, info: ROMInfo{
		Code:     bn6.ROMIdentity.Code,
		Revision: bn6.ROMIdentity.Revision,
		CRC32:    0xdeadbeef,
	}}

	code, result, err := Run(context.Background(), loader, registry, "unused.gba", replayPath, Options{Remote: true})
	require.NoError(t, err)
	require.Equal(t, ExitClean, code)
	require.Equal(t, round.ResultWin, result)
}

func TestRunDetectsROMMismatch(t *testing.T) {
	table := bn6.NewTable()
	core, data := buildReplay(t, table)

	registry := hooks.NewRegistry()
	bn6.Register(registry)

	dir := t.TempDir()
	replayPath := writeReplayFile(t, dir, data)

	loader := stubLoader{core: core, info: ROMInfo{
		Code:     bn6.ROMIdentity.Code,
		Revision: bn6.ROMIdentity.Revision,
		CRC32:    0x12345678, // wrong crc
	}}

	code, _, err := Run(context.Background(), loader, registry, "unused.gba", replayPath, Options{})
	require.ErrorIs(t, err, replay.ErrROMMismatch)
	require.Equal(t, ExitROMMismatch, code)
}

func TestRunDetectsBadMagic(t *testing.T) {
	table := bn6.NewTable()
	core, _ := buildReplay(t, table)

	registry := hooks.NewRegistry()
	bn6.Register(registry)

	dir := t.TempDir()
	replayPath := writeReplayFile(t, dir, []byte("not a replay file"))

	loader := stubLoader{core: core, info: ROMInfo{
		Code:     bn6.ROMIdentity.Code,
		Revision: bn6.ROMIdentity.Revision,
		CRC32:    0xdeadbeef,
	}}

	code, _, err := Run(context.Background(), loader, registry, "unused.gba", replayPath, Options{})
	require.Error(t, err)
	require.Equal(t, ExitDecodeError, code)
}

func TestRunDetectsDesyncOnMismatchedPair(t *testing.T) {
	table := bn6.NewTable()
	a := table.Addrs
	program := []uint32{a.RoundStartRet, a.MainReadJoyflags, a.HandleInputSendAndReceive, a.RoundCallJumpTableRet}
	core := faketest.New(program)

	var buf bytes.Buffer
	w, err := replay.NewWriter(&buf, replay.Header{
		ROMCode:     bn6.ROMIdentity.Code,
		ROMRevision: bn6.ROMIdentity.Revision,
		ROMCRC32:    0xdeadbeef,
	}, replay.InitialState{SaveState: initialSaveState(t, table)})
	require.NoError(t, err)

	// A pair claiming local_tick=5 while the engine is still at tick 0
	// violates the engine's tick invariant (round.ErrDesync).
	in := tick.Input{LocalTick: 5, RemoteTick: 5}
	require.NoError(t, w.WritePair(tick.InputPair{Local: in, Remote: in}))
	require.NoError(t, w.EndRound(round.ResultWin))
	require.NoError(t, w.Close())

	registry := hooks.NewRegistry()
	bn6.Register(registry)

	dir := t.TempDir()
	replayPath := writeReplayFile(t, dir, buf.Bytes())

	loader := stubLoader{core: core, info: ROMInfo{
		Code:     bn6.ROMIdentity.Code,
		Revision: bn6.ROMIdentity.Revision,
		CRC32:    0xdeadbeef,
	}}

	code, _, err := Run(context.Background(), loader, registry, "unused.gba", replayPath, Options{})
	require.ErrorIs(t, err, round.ErrDesync)
	require.Equal(t, ExitDesync, code)
}
