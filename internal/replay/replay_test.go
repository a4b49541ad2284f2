package replay

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/cliffdevs/tango/internal/round"
	"github.com/cliffdevs/tango/internal/tick"
)

func testHeader() Header {
	return Header{
		LocalPlayerIndex: 0,
		MatchType:        [2]uint32{1, 2},
		ROMCode:          [4]byte{'B', 'R', '6', 'E'},
		ROMRevision:      1,
		ROMCRC32:         0xcafef00d,
	}
}

func testInitialState() InitialState {
	init := InitialState{
		WRAM:      []byte{1, 2, 3, 4},
		SaveState: []byte{5, 6, 7, 8, 9},
	}
	copy(init.ROMTitle[:], "ROCKMAN EXE6 RXI")
	return init
}

func TestHeaderAndInitialStateRoundTrip(t *testing.T) {
	var buf bytes.Buffer

	h := testHeader()
	init := testInitialState()

	w, err := NewWriter(&buf, h, init)
	require.NoError(t, err)
	require.NoError(t, w.Close())

	_, gotH, gotInit, err := NewReader(&buf)
	require.NoError(t, err)
	require.Equal(t, h, gotH)
	require.Equal(t, init, gotInit)
}

func TestPairsRoundTrip(t *testing.T) {
	var buf bytes.Buffer

	w, err := NewWriter(&buf, testHeader(), testInitialState())
	require.NoError(t, err)

	pairs := []tick.InputPair{
		{
			Local:  tick.Input{LocalTick: 0, RemoteTick: 0, Joyflags: 0x0001, Packet: make([]byte, 16)},
			Remote: tick.Input{LocalTick: 0, RemoteTick: 0, Joyflags: 0x0002, Packet: make([]byte, 16)},
		},
		{
			Local:  tick.Input{LocalTick: 1, RemoteTick: 1, Joyflags: 0x0000, Packet: []byte{}},
			Remote: tick.Input{LocalTick: 1, RemoteTick: 1, Joyflags: 0x0000, Packet: []byte{}},
		},
	}

	for _, p := range pairs {
		require.NoError(t, w.WritePair(p))
	}
	require.NoError(t, w.EndRound(round.ResultWin))
	require.NoError(t, w.Close())

	r, _, _, err := NewReader(&buf)
	require.NoError(t, err)

	for _, want := range pairs {
		pair, err := r.ReadPair()
		require.NoError(t, err)
		require.Equal(t, want.Local.LocalTick, pair.Local.LocalTick)
		require.Equal(t, want.Local.Joyflags, pair.Local.Joyflags)
		require.Equal(t, want.Remote.Joyflags, pair.Remote.Joyflags)
	}

	entry, err := r.ReadTerminator()
	require.NoError(t, err)
	require.True(t, entry.RoundEnded)
	require.Equal(t, round.ResultWin, entry.Result)

	entry, err = r.ReadTerminator()
	require.NoError(t, err)
	require.True(t, entry.EOF)
}

func TestMaxPacketLengthRoundTrips(t *testing.T) {
	var buf bytes.Buffer

	w, err := NewWriter(&buf, testHeader(), testInitialState())
	require.NoError(t, err)

	packet := make([]byte, 255)
	for i := range packet {
		packet[i] = byte(i)
	}

	pair := tick.InputPair{
		Local:  tick.Input{LocalTick: 0, RemoteTick: 0, Packet: packet},
		Remote: tick.Input{LocalTick: 0, RemoteTick: 0, Packet: make([]byte, 0)},
	}

	require.NoError(t, w.WritePair(pair))
	require.NoError(t, w.Close())

	r, _, _, err := NewReader(&buf)
	require.NoError(t, err)

	got, err := r.ReadPair()
	require.NoError(t, err)
	require.Equal(t, packet, []byte(got.Local.Packet))
	require.Empty(t, got.Remote.Packet)
}

func TestWritePairRejectsOversizedPacket(t *testing.T) {
	var buf bytes.Buffer
	w, err := NewWriter(&buf, testHeader(), testInitialState())
	require.NoError(t, err)

	pair := tick.InputPair{
		Local:  tick.Input{Packet: make([]byte, 256)},
		Remote: tick.Input{Packet: make([]byte, 0)},
	}

	require.Error(t, w.WritePair(pair))
}

func TestReaderRejectsBadMagic(t *testing.T) {
	buf := bytes.NewBuffer([]byte("XXXX"))

	_, _, _, err := NewReader(buf)
	require.ErrorIs(t, err, ErrBadMagic)
}

func TestReaderRejectsUnsupportedVersion(t *testing.T) {
	var buf bytes.Buffer
	buf.Write(Magic[:])
	buf.Write([]byte{0xff, 0xff, 0xff, 0xff}) // bogus version

	_, _, _, err := NewReader(&buf)
	require.ErrorIs(t, err, ErrUnsupportedVersion)
}

func TestCheckROMDetectsMismatch(t *testing.T) {
	h := testHeader()

	require.NoError(t, CheckROM(h, h.ROMCode, h.ROMRevision, h.ROMCRC32))

	err := CheckROM(h, [4]byte{'B', 'R', '5', 'E'}, h.ROMRevision, h.ROMCRC32)
	require.ErrorIs(t, err, ErrROMMismatch)
}
