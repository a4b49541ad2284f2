package tick

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestJoyflagsInject(t *testing.T) {
	j := Joyflags(0x0001).Inject()
	require.Equal(t, Joyflags(0xfc01), j)
}

func TestPacketClone(t *testing.T) {
	p := Packet{1, 2, 3}
	clone := p.Clone()
	clone[0] = 0xff

	require.Equal(t, Packet{1, 2, 3}, p)
	require.Equal(t, Packet{0xff, 2, 3}, clone)
	require.Nil(t, Packet(nil).Clone())
}

func TestInputPairValid(t *testing.T) {
	p := InputPair{
		Local:  Input{LocalTick: 5},
		Remote: Input{LocalTick: 5},
	}
	require.True(t, p.Valid())

	p.Remote.LocalTick = 6
	require.False(t, p.Valid())
}
