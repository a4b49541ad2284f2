package round

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/cliffdevs/tango/internal/inputqueue"
	"github.com/cliffdevs/tango/internal/tick"
)

func newShadowEngine(t *testing.T) (*Shadow, *inputqueue.Queue) {
	t.Helper()

	engine, _, queue := newTestEngine(t)
	engine.Role = RoleShadow

	shadow, err := NewShadow(engine)
	require.NoError(t, err)

	return shadow, queue
}

func TestNewShadowRejectsNonShadowRole(t *testing.T) {
	engine, _, _ := newTestEngine(t) // RolePrimary by default.

	_, err := NewShadow(engine)
	require.Error(t, err)
}

func TestShadowValidateAgainstPrimaryAgrees(t *testing.T) {
	shadow, queue := newShadowEngine(t)
	ctx := context.Background()

	shadow.Engine.RequestCommit(0)
	addPair(t, queue, 0, 0)
	require.NoError(t, shadow.Engine.RunOneTick(ctx))

	require.NoError(t, shadow.ValidateAgainstPrimary(shadow.CommittedDigest()))
	require.Equal(t, PhaseRunning, shadow.Engine.State.Phase)
}

// TestShadowValidateAgainstPrimaryDiverges exercises spec.md §8 scenario
// #6: a shadow whose committed state disagrees with the primary's
// reported digest must cancel with a sticky ErrShadowDivergence.
func TestShadowValidateAgainstPrimaryDiverges(t *testing.T) {
	shadow, queue := newShadowEngine(t)
	ctx := context.Background()

	shadow.Engine.RequestCommit(0)
	addPair(t, queue, 0, 0)
	require.NoError(t, shadow.Engine.RunOneTick(ctx))

	corruptDigest := shadow.CommittedDigest() + 1

	err := shadow.ValidateAgainstPrimary(corruptDigest)
	require.ErrorIs(t, err, ErrShadowDivergence)
	require.Equal(t, PhaseCancelled, shadow.Engine.State.Phase)
}

func TestShadowValidateAgainstPrimaryNoCommitYet(t *testing.T) {
	shadow, _ := newShadowEngine(t)

	require.NoError(t, shadow.ValidateAgainstPrimary(0xdeadbeef))
	require.Equal(t, PhasePregame, shadow.Engine.State.Phase)
}

func TestShadowRemotePacketFollowsSendAndReceive(t *testing.T) {
	shadow, queue := newShadowEngine(t)
	ctx := context.Background()

	shadow.Engine.RequestCommit(0)
	addPair(t, queue, 0, 0)
	require.NoError(t, shadow.Engine.RunOneTick(ctx))

	p, ok := shadow.RemotePacket(tick.Tick(1))
	require.True(t, ok)
	require.NotNil(t, p)
}
