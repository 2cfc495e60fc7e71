package supplychain

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type memStore struct {
	state State
	saved bool
}

func (m *memStore) LoadSupplyChainState(ctx context.Context) (State, bool, error) {
	return m.state, m.saved, nil
}

func (m *memStore) SaveSupplyChainState(ctx context.Context, s State) error {
	m.state = s
	m.saved = true
	return nil
}

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func TestTracker_AdvancesInOrderAndNeverSkips(t *testing.T) {
	deps := []string{"raw_logs", "skill_profile", "voice_profile", "soul_bundle"}
	store := &memStore{}
	tr := NewTracker(deps, store)
	tr.Clock = fixedClock(time.Unix(1000, 0).UTC())

	ctx := context.Background()
	for i, want := range deps {
		step, ok, err := tr.CurrentStep(ctx)
		require.NoError(t, err)
		require.True(t, ok, "step %d should still be pending", i)
		require.Equal(t, want, step)
		require.NoError(t, tr.Advance(ctx))
	}

	// All four dependencies settled: cycle must have rolled over to 1, step 0.
	require.Equal(t, 1, store.state.Cycle)
	require.Equal(t, 0, store.state.Step)

	// The new cycle starts the sequence over from the first dependency.
	step, ok, err := tr.CurrentStep(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, deps[0], step)
}

func TestTracker_AdvanceIsIdempotentOncePerStep(t *testing.T) {
	deps := []string{"a", "b"}
	store := &memStore{state: State{Step: 1}}
	tr := NewTracker(deps, store)
	tr.Clock = fixedClock(time.Unix(2000, 0).UTC())

	ctx := context.Background()
	require.NoError(t, tr.Advance(ctx))
	require.Equal(t, 1, store.state.Cycle)
	require.Equal(t, 0, store.state.Step)

	// Re-evaluating the current step after the rollover must not move the
	// tracker: CurrentStep only reads the persisted state.
	before := store.state
	_, ok, err := tr.CurrentStep(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, before, store.state)
}

func TestTracker_EmptyDependencyListIsRejected(t *testing.T) {
	tr := NewTracker(nil, &memStore{})
	_, _, err := tr.CurrentStep(context.Background())
	require.Error(t, err)
}

func TestTracker_CompleteCycleReportsNoPendingStep(t *testing.T) {
	deps := []string{"a", "b"}
	store := &memStore{state: State{Step: 2}}
	tr := NewTracker(deps, store)

	_, ok, err := tr.CurrentStep(context.Background())
	require.NoError(t, err)
	require.False(t, ok)
}
