package backend

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mcpdock/mcpdock/pkg/errors"
)

func stdioConfig() ServerConfig {
	return ServerConfig{Kind: KindNpx, Package: "@modelcontextprotocol/server-memory", Transport: TransportStdio}
}

func TestTrackerNewInstance(t *testing.T) {
	t.Parallel()

	tr := NewTracker()
	inst := tr.NewInstance(TagLocal, stdioConfig())

	assert.NotEmpty(t, inst.ID)
	assert.Equal(t, TagLocal, inst.Tag)
	assert.Equal(t, StatePending, inst.State)
	assert.False(t, inst.CreatedAt.IsZero())

	got, err := tr.Get(inst.ID)
	require.NoError(t, err)
	assert.Equal(t, inst.ID, got.ID)
}

func TestTrackerIDsNeverReused(t *testing.T) {
	t.Parallel()

	tr := NewTracker()
	seen := make(map[string]bool)
	for i := 0; i < 2000; i++ {
		inst := tr.NewInstance(TagLocal, stdioConfig())
		require.False(t, seen[inst.ID], "identifier %s reused", inst.ID)
		seen[inst.ID] = true

		require.NoError(t, tr.Transition(inst.ID, StateTerminating))
		require.NoError(t, tr.Transition(inst.ID, StateTerminated))
	}
}

func TestTrackerTransitionEnforcesEdges(t *testing.T) {
	t.Parallel()

	tr := NewTracker()
	inst := tr.NewInstance(TagCluster, stdioConfig())

	require.NoError(t, tr.Transition(inst.ID, StateProvisioning))
	require.NoError(t, tr.Transition(inst.ID, StateRunning))
	require.NoError(t, tr.Transition(inst.ID, StateReady))

	// Backwards edges are refused and leave the state unchanged.
	err := tr.Transition(inst.ID, StateRunning)
	assert.True(t, errors.IsInternal(err))
	assert.Equal(t, StateReady, tr.CurrentState(inst.ID))
}

func TestTrackerTerminatedDropsFromRegistry(t *testing.T) {
	t.Parallel()

	tr := NewTracker()
	inst := tr.NewInstance(TagLocal, stdioConfig())

	require.NoError(t, tr.Transition(inst.ID, StateTerminating))
	require.NoError(t, tr.Transition(inst.ID, StateTerminated))

	_, err := tr.Get(inst.ID)
	assert.True(t, errors.IsNotFound(err))
	assert.Empty(t, tr.List())
	assert.Equal(t, StateTerminated, tr.CurrentState(inst.ID))
}

func TestTrackerFail(t *testing.T) {
	t.Parallel()

	tr := NewTracker()
	inst := tr.NewInstance(TagCluster, stdioConfig())

	tr.Fail(inst.ID, "image_pull_failure")

	got, err := tr.Get(inst.ID)
	require.NoError(t, err)
	assert.Equal(t, StateFailed, got.State)
	assert.Equal(t, "image_pull_failure", got.FailureCause)

	// Failing again, or after termination, changes nothing.
	tr.Fail(inst.ID, "quota_exceeded")
	got, err = tr.Get(inst.ID)
	require.NoError(t, err)
	assert.Equal(t, "image_pull_failure", got.FailureCause)
}

func TestTrackerFailedInstanceStaysListed(t *testing.T) {
	t.Parallel()

	tr := NewTracker()
	inst := tr.NewInstance(TagLocal, stdioConfig())
	tr.Fail(inst.ID, "readiness_timeout")

	list := tr.List()
	require.Len(t, list, 1)
	assert.Equal(t, StateFailed, list[0].State)
}

func TestTrackerDropRemovesFailedInstance(t *testing.T) {
	t.Parallel()

	tr := NewTracker()
	inst := tr.NewInstance(TagLocal, stdioConfig())
	tr.Fail(inst.ID, "readiness_timeout")

	// Failed admits no transition to Terminating; Drop is the delete path.
	err := tr.Transition(inst.ID, StateTerminating)
	require.Error(t, err)

	tr.Drop(inst.ID)
	assert.Empty(t, tr.List())

	_, err = tr.Get(inst.ID)
	assert.True(t, errors.IsNotFound(err))

	// Dropping an unknown identifier is a no-op.
	tr.Drop("never-existed")
}

func TestTrackerLockIsStablePerID(t *testing.T) {
	t.Parallel()

	tr := NewTracker()
	inst := tr.NewInstance(TagLocal, stdioConfig())

	l1 := tr.Lock(inst.ID)
	l2 := tr.Lock(inst.ID)
	assert.Same(t, l1, l2)

	// The guard survives termination so a late stop still serializes.
	require.NoError(t, tr.Transition(inst.ID, StateTerminating))
	require.NoError(t, tr.Transition(inst.ID, StateTerminated))
	assert.Same(t, l1, tr.Lock(inst.ID))
}

func TestTrackerSetHandleAndMarkHealthy(t *testing.T) {
	t.Parallel()

	tr := NewTracker()
	inst := tr.NewInstance(TagCluster, stdioConfig())

	tr.SetHandle(inst.ID, "mcpdock-npx-abc123")
	tr.MarkHealthy(inst.ID)

	got, err := tr.Get(inst.ID)
	require.NoError(t, err)
	assert.Equal(t, "mcpdock-npx-abc123", got.Handle)
	assert.False(t, got.LastHealthAt.IsZero())
}

func TestTrackerGetUnknown(t *testing.T) {
	t.Parallel()

	tr := NewTracker()
	_, err := tr.Get("no-such-id")
	assert.True(t, errors.IsNotFound(err))
}
