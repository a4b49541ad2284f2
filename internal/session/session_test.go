package session

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/cliffdevs/tango/internal/hooks"
	"github.com/cliffdevs/tango/internal/hooks/bn6"
	"github.com/cliffdevs/tango/internal/inputqueue"
	"github.com/cliffdevs/tango/internal/tick"
	"github.com/cliffdevs/tango/internal/transport"
	"github.com/cliffdevs/tango/internal/wire"
)

func romInfo() ROMInfo {
	return ROMInfo{
		Code:     bn6.ROMIdentity.Code,
		Revision: bn6.ROMIdentity.Revision,
		CRC32:    0xdeadbeef,
	}
}

func newPeer(stream transport.Stream, rom ROMInfo) *Session {
	registry := hooks.NewRegistry()
	bn6.Register(registry)

	return New(Config{
		Stream:    stream,
		Registry:  registry,
		ROM:       rom,
		MatchType: 1,
	})
}

// handshakeBoth runs Handshake on both ends of a loopback stream
// concurrently — each side blocks writing its own Hello, then reading the
// peer's, so running them sequentially in one goroutine would deadlock.
func handshakeBoth(t *testing.T, a, b *Session) (errA, errB error) {
	t.Helper()

	var wg sync.WaitGroup
	wg.Add(2)

	go func() {
		defer wg.Done()
		errA = a.Handshake(context.Background())
	}()

	go func() {
		defer wg.Done()
		errB = b.Handshake(context.Background())
	}()

	wg.Wait()
	return errA, errB
}

func TestHandshakeAgreesOnComplementarySeats(t *testing.T) {
	streamA, streamB := transport.Loopback()

	a := newPeer(streamA, romInfo())
	b := newPeer(streamB, romInfo())

	errA, errB := handshakeBoth(t, a, b)
	require.NoError(t, errA)
	require.NoError(t, errB)

	require.NotEqual(t, a.LocalPlayerIndex(), b.LocalPlayerIndex())
	require.Contains(t, []int{0, 1}, a.LocalPlayerIndex())
	require.Contains(t, []int{0, 1}, b.LocalPlayerIndex())

	require.NotNil(t, a.Table())
	require.NotNil(t, b.Table())
}

func TestHandshakeDetectsROMMismatch(t *testing.T) {
	streamA, streamB := transport.Loopback()

	mismatched := romInfo()
	mismatched.CRC32 = 0x12345678

	a := newPeer(streamA, romInfo())
	b := newPeer(streamB, mismatched)

	errA, errB := handshakeBoth(t, a, b)
	require.ErrorIs(t, errA, ErrIncompatiblePeer)
	require.ErrorIs(t, errB, ErrIncompatiblePeer)
}

func TestHandshakeDetectsNoCommonMatchType(t *testing.T) {
	streamA, streamB := transport.Loopback()

	registryA := hooks.NewRegistry()
	bn6.Register(registryA)
	a := New(Config{Stream: streamA, Registry: registryA, ROM: romInfo(), MatchType: 1})

	registryB := hooks.NewRegistry()
	bn6.Register(registryB)
	b := New(Config{Stream: streamB, Registry: registryB, ROM: romInfo(), MatchType: 2})

	errA, errB := handshakeBoth(t, a, b)
	require.ErrorIs(t, errA, ErrIncompatiblePeer)
	require.ErrorIs(t, errB, ErrIncompatiblePeer)
}

func TestApplyRemoteInputFeedsLocalAndShadowQueues(t *testing.T) {
	s := &Session{
		localQueue:  inputqueue.New(inputqueue.DefaultMaxLag),
		shadowQueue: inputqueue.New(inputqueue.DefaultMaxLag),
	}

	in := tick.Input{LocalTick: 0, RemoteTick: 0, Joyflags: 7}
	require.NoError(t, s.applyRemoteInput(in))

	// localQueue only has the remote side filled in; no pair yet.
	_, ok := s.localQueue.PeekPair()
	require.False(t, ok)

	require.NoError(t, s.localQueue.AddLocal(tick.Input{LocalTick: 0, RemoteTick: 0}))
	pair, ok := s.localQueue.PeekPair()
	require.True(t, ok)
	require.True(t, pair.Valid())
	require.Equal(t, tick.Joyflags(7), pair.Remote.Joyflags)

	// shadowQueue saw the same input mirrored onto its local side, so it
	// only needs a remote counterpart to pair.
	require.NoError(t, s.shadowQueue.AddRemote(tick.Input{LocalTick: 0, RemoteTick: 0}))
	shadowPair, ok := s.shadowQueue.PeekPair()
	require.True(t, ok)
	require.True(t, shadowPair.Valid())
	require.Equal(t, tick.Joyflags(7), shadowPair.Local.Joyflags)
}

func TestApplyRemoteInputWithoutShadowQueue(t *testing.T) {
	s := &Session{localQueue: inputqueue.New(inputqueue.DefaultMaxLag)}

	require.NoError(t, s.applyRemoteInput(tick.Input{LocalTick: 0, RemoteTick: 0}))
}

func TestToTickInputPreservesFields(t *testing.T) {
	in := toTickInput(wire.Input{LocalTick: 3, RemoteTick: 4, Joyflags: 5, Packet: []byte{9}})

	require.Equal(t, tick.Tick(3), in.LocalTick)
	require.Equal(t, tick.Tick(4), in.RemoteTick)
	require.Equal(t, tick.Joyflags(5), in.Joyflags)
	require.Equal(t, tick.Packet{9}, in.Packet)
}
