package wire

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestHelloRoundTrip(t *testing.T) {
	h := Hello{
		ProtocolVersion:  3,
		MatchTypeChoices: [2]uint16{1, 2},
		Nonce:            [16]byte{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12, 13, 14, 15, 16},
		RNGCommitment:    0xdeadbeef,
		ROMCode:          [4]byte{'B', 'R', '6', 'E'},
		ROMRevision:      1,
		ROMCRC32:         0xcafef00d,
	}

	var buf bytes.Buffer
	require.NoError(t, NewWriter(&buf).WriteHello(h))

	kind, payload, err := NewReader(&buf).ReadFrame()
	require.NoError(t, err)
	require.Equal(t, KindHello, kind)

	got, err := DecodeHello(payload)
	require.NoError(t, err)
	require.Equal(t, h, got)
}

func TestHelloAckUsesDistinctKind(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, NewWriter(&buf).WriteHelloAck(Hello{}))

	kind, _, err := NewReader(&buf).ReadFrame()
	require.NoError(t, err)
	require.Equal(t, KindHelloAck, kind)
}

func TestInputRoundTripEmptyPacket(t *testing.T) {
	in := Input{LocalTick: 7, RemoteTick: 7, Joyflags: 0x1234, Packet: []byte{}}

	var buf bytes.Buffer
	require.NoError(t, NewWriter(&buf).WriteInput(in))

	kind, payload, err := NewReader(&buf).ReadFrame()
	require.NoError(t, err)
	require.Equal(t, KindInput, kind)

	got, err := DecodeInput(payload)
	require.NoError(t, err)
	require.Equal(t, in.LocalTick, got.LocalTick)
	require.Equal(t, in.RemoteTick, got.RemoteTick)
	require.Equal(t, in.Joyflags, got.Joyflags)
	require.Empty(t, got.Packet)
}

func TestInputRoundTripMaxPacket(t *testing.T) {
	packet := make([]byte, 255)
	for i := range packet {
		packet[i] = byte(i)
	}

	in := Input{LocalTick: 1, RemoteTick: 2, Joyflags: 0xfc00, Packet: packet}

	var buf bytes.Buffer
	require.NoError(t, NewWriter(&buf).WriteInput(in))

	kind, payload, err := NewReader(&buf).ReadFrame()
	require.NoError(t, err)
	require.Equal(t, KindInput, kind)

	got, err := DecodeInput(payload)
	require.NoError(t, err)
	require.Equal(t, in.Packet, got.Packet)
}

// TestInputSplitsIntoChunkedFrames exercises spec.md §6's "multi-frame
// splitting when packet exceeds 255 bytes": a 300-byte packet round-trips
// as two ChunkedInput frames whose packets concatenate back to the
// original.
func TestInputSplitsIntoChunkedFrames(t *testing.T) {
	packet := make([]byte, 300)
	for i := range packet {
		packet[i] = byte(i)
	}

	in := Input{LocalTick: 9, RemoteTick: 9, Joyflags: 0, Packet: packet}

	var buf bytes.Buffer
	require.NoError(t, NewWriter(&buf).WriteInput(in))

	r := NewReader(&buf)

	kind, payload, err := r.ReadFrame()
	require.NoError(t, err)
	require.Equal(t, KindChunkedInput, kind)
	first, err := DecodeInput(payload)
	require.NoError(t, err)
	require.Len(t, first.Packet, 255)

	kind, payload, err = r.ReadFrame()
	require.NoError(t, err)
	require.Equal(t, KindChunkedInput, kind)
	second, err := DecodeInput(payload)
	require.NoError(t, err)
	require.Len(t, second.Packet, 45)

	reassembled := append(append([]byte{}, first.Packet...), second.Packet...)
	require.Equal(t, packet, reassembled)
}

func TestPingPongRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf)
	require.NoError(t, w.WritePing(PingPong{Timestamp: 123456789}))
	require.NoError(t, w.WritePong(PingPong{Timestamp: 42}))

	r := NewReader(&buf)

	kind, payload, err := r.ReadFrame()
	require.NoError(t, err)
	require.Equal(t, KindPing, kind)
	ping, err := DecodePingPong(payload)
	require.NoError(t, err)
	require.Equal(t, uint64(123456789), ping.Timestamp)

	kind, payload, err = r.ReadFrame()
	require.NoError(t, err)
	require.Equal(t, KindPong, kind)
	pong, err := DecodePingPong(payload)
	require.NoError(t, err)
	require.Equal(t, uint64(42), pong.Timestamp)
}

func TestCancelRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, NewWriter(&buf).WriteCancel(Cancel{Reason: CancelReasonIncompatible}))

	kind, payload, err := NewReader(&buf).ReadFrame()
	require.NoError(t, err)
	require.Equal(t, KindCancel, kind)

	c, err := DecodeCancel(payload)
	require.NoError(t, err)
	require.Equal(t, CancelReasonIncompatible, c.Reason)
}

func TestReadFrameRejectsOversizedLength(t *testing.T) {
	buf := bytes.NewBuffer([]byte{0xff, 0xff, 0xff, 0xff})

	_, _, err := NewReader(buf).ReadFrame()
	require.ErrorIs(t, err, ErrFrameTooLarge)
}

func TestMultipleFramesOnOneStream(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf)

	require.NoError(t, w.WriteInput(Input{LocalTick: 1, RemoteTick: 1}))
	require.NoError(t, w.WritePing(PingPong{Timestamp: 1}))
	require.NoError(t, w.WriteCancel(Cancel{Reason: CancelReasonDesync}))

	r := NewReader(&buf)

	kind, _, err := r.ReadFrame()
	require.NoError(t, err)
	require.Equal(t, KindInput, kind)

	kind, _, err = r.ReadFrame()
	require.NoError(t, err)
	require.Equal(t, KindPing, kind)

	kind, _, err = r.ReadFrame()
	require.NoError(t, err)
	require.Equal(t, KindCancel, kind)
}
