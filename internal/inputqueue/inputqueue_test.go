package inputqueue

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/cliffdevs/tango/internal/tick"
)

func input(t tick.Tick) tick.Input {
	return tick.Input{LocalTick: t, RemoteTick: t}
}

func TestPairingInOrder(t *testing.T) {
	q := New(DefaultMaxLag)

	require.NoError(t, q.AddLocal(input(0)))
	require.NoError(t, q.AddRemote(input(0)))

	pair, ok := q.ConsumePair()
	require.True(t, ok)
	require.True(t, pair.Valid())
	require.Equal(t, 0, q.PendingPairs())
}

func TestNoPairUntilBothSidesArrive(t *testing.T) {
	q := New(DefaultMaxLag)

	require.NoError(t, q.AddLocal(input(0)))
	_, ok := q.ConsumePair()
	require.False(t, ok)

	require.NoError(t, q.AddRemote(input(0)))
	_, ok = q.ConsumePair()
	require.True(t, ok)
}

func TestBackpressureQueueFull(t *testing.T) {
	q := New(10)

	for i := 0; i < 10; i++ {
		require.NoError(t, q.AddLocal(input(tick.Tick(i))))
	}

	// 11th local input with no remote input at all exceeds lag 10.
	err := q.AddLocal(input(10))
	require.ErrorIs(t, err, ErrQueueFull)

	// Once 10 remote inputs arrive, the producer can proceed again.
	for i := 0; i < 10; i++ {
		require.NoError(t, q.AddRemote(input(tick.Tick(i))))
	}

	require.NoError(t, q.AddLocal(input(10)))
}

func TestRemotePacketRoundTrip(t *testing.T) {
	q := New(DefaultMaxLag)

	q.SetRemotePacket(3, tick.Packet{1, 2, 3})
	p, ok := q.PeekRemotePacket(3)
	require.True(t, ok)
	require.Equal(t, tick.Packet{1, 2, 3}, p)

	_, ok = q.PeekRemotePacket(4)
	require.False(t, ok)
}

func TestLag(t *testing.T) {
	q := New(DefaultMaxLag)
	require.NoError(t, q.AddLocal(input(0)))
	require.NoError(t, q.AddLocal(input(1)))
	require.Equal(t, 2, q.Lag())

	require.NoError(t, q.AddRemote(input(0)))
	require.Equal(t, 1, q.Lag())
}
