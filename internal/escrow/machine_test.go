package escrow

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type memStore struct {
	saved map[string]*Task
}

func newMemStore() *memStore { return &memStore{saved: map[string]*Task{}} }

func (m *memStore) SaveTask(ctx context.Context, t *Task) error {
	cp := *t
	m.saved[t.TaskID] = &cp
	return nil
}

func TestMachine_SellThenSettle(t *testing.T) {
	store := newMemStore()
	m := NewMachine(store)
	task := &Task{TaskID: "task-1"}

	require.NoError(t, m.Publish(context.Background(), task, "seller-addr", 10_000, []string{"json_response"}))
	require.Equal(t, StatePublished, task.State)

	require.NoError(t, m.Apply(context.Background(), task, "app-1"))
	require.Equal(t, StateApplied, task.State)

	require.NoError(t, m.Assign(context.Background(), task, "buyer-addr"))
	require.Equal(t, StateAssigned, task.State)

	require.NoError(t, m.Submit(context.Background(), task, "sub-1", map[string]any{
		"json_response": map[string]any{"url": "u1", "records": 1},
	}))
	require.Equal(t, StateSubmitted, task.State)

	require.NoError(t, m.Approve(context.Background(), task))
	require.Equal(t, StateApproved, task.State)

	require.NoError(t, m.Settle(context.Background(), task))
	require.Equal(t, StateSettled, task.State)

	require.Equal(t, StateSettled, store.saved["task-1"].State)
}

func TestMachine_IdempotentSettle(t *testing.T) {
	store := newMemStore()
	m := NewMachine(store)
	task := &Task{TaskID: "task-1", State: StateSettled}

	require.NoError(t, m.Settle(context.Background(), task))
	require.Equal(t, StateSettled, task.State)
}

func TestMachine_IdempotentApply(t *testing.T) {
	store := newMemStore()
	m := NewMachine(store)
	task := &Task{TaskID: "task-1", State: StatePublished}

	require.NoError(t, m.Apply(context.Background(), task, "app-1"))
	require.NoError(t, m.Apply(context.Background(), task, "app-1"))
	require.Equal(t, StateApplied, task.State)
	require.Equal(t, "app-1", task.ApplicationID)
}

func TestMachine_RejectsIllegalTransition(t *testing.T) {
	store := newMemStore()
	m := NewMachine(store)
	task := &Task{TaskID: "task-1", State: StatePublished}

	err := m.Assign(context.Background(), task, "buyer-addr")
	require.Error(t, err)
	require.Equal(t, StatePublished, task.State)
}

func TestMachine_MissingEvidenceForcesRejected(t *testing.T) {
	store := newMemStore()
	m := NewMachine(store)
	task := &Task{
		TaskID:           "task-1",
		State:            StateSubmitted,
		EvidenceRequired: []string{"json_response", "url_reference"},
		Evidence:         map[string]any{"json_response": map[string]any{"url": "u1"}},
	}

	err := m.Approve(context.Background(), task)
	require.Error(t, err)
	require.Equal(t, StateRejected, task.State)
}

func TestSelectAssignee_ReputationThenFIFO(t *testing.T) {
	now := time.Now()
	cands := []Candidate{
		{ApplicationID: "a1", CompositeReputation: 60, CreatedAt: now.Add(time.Second)},
		{ApplicationID: "a2", CompositeReputation: 80, CreatedAt: now.Add(2 * time.Second)},
		{ApplicationID: "a3", CompositeReputation: 80, CreatedAt: now},
	}
	winner, ok := SelectAssignee(cands)
	require.True(t, ok)
	require.Equal(t, "a3", winner.ApplicationID)
}

func TestMachine_ExpireFromNonTerminal(t *testing.T) {
	store := newMemStore()
	m := NewMachine(store)
	task := &Task{TaskID: "task-1", State: StateAssigned}

	require.NoError(t, m.Expire(context.Background(), task))
	require.Equal(t, StateExpired, task.State)

	// Expiring an already-terminal task is a no-op.
	require.NoError(t, m.Expire(context.Background(), task))
	require.Equal(t, StateExpired, task.State)
}
