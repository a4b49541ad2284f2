package xorshift

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDeterministic(t *testing.T) {
	a := New(0)
	b := New(0)

	for i := 0; i < 100; i++ {
		require.Equal(t, a.Next(), b.Next())
	}
}

func TestStepsChangeSeed(t *testing.T) {
	a := New(0)
	b := New(5)

	require.NotEqual(t, a.Uint32(), b.Uint32())
}

func TestIntnRange(t *testing.T) {
	s := New(1)

	for i := 0; i < 1000; i++ {
		v := s.Intn(8)
		require.GreaterOrEqual(t, v, 0)
		require.Less(t, v, 8)
	}
}

func TestIntnPanicsOnZero(t *testing.T) {
	s := New(0)
	require.Panics(t, func() { s.Intn(0) })
}
