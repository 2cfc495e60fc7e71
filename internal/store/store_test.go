package store

import (
	"context"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"

	"github.com/karmacadabra/agent/internal/escrow"
)

func TestNew_CreatesSubdirectories(t *testing.T) {
	s, err := New(t.TempDir())
	require.NoError(t, err)
	require.DirExists(t, s.Dir()+"/escrow")
	require.DirExists(t, s.Dir()+"/purchases")
}

func TestAgentRecord_SaveLoadRoundtrip(t *testing.T) {
	s, err := New(t.TempDir())
	require.NoError(t, err)
	ctx := context.Background()

	_, ok, err := s.LoadAgentRecord(ctx)
	require.NoError(t, err)
	require.False(t, ok)

	rec := AgentRecord{Name: "seller-1", Address: "0xabc", RegistryID: 7, Role: "seller", DerivationIndex: 3}
	require.NoError(t, s.SaveAgentRecord(ctx, rec))

	loaded, ok, err := s.LoadAgentRecord(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, rec, loaded)
}

func TestLedger_AppendAndSeenSet(t *testing.T) {
	s, err := New(t.TempDir())
	require.NoError(t, err)
	ctx := context.Background()

	seen, err := s.NonceSeenSet(ctx)
	require.NoError(t, err)
	require.Empty(t, seen)

	e1 := LedgerEntry{From: "0xfrom", To: "0xto", Value: 100, Nonce: "aa", ValidAfter: 0, ValidBefore: 10, IssuedAt: time.Unix(1, 0).UTC()}
	e2 := LedgerEntry{From: "0xfrom", To: "0xto", Value: 200, Nonce: "bb", ValidAfter: 0, ValidBefore: 20, IssuedAt: time.Unix(2, 0).UTC()}
	require.NoError(t, s.AppendLedgerEntry(ctx, e1))
	require.NoError(t, s.AppendLedgerEntry(ctx, e2))

	seen, err = s.NonceSeenSet(ctx)
	require.NoError(t, err)
	require.Len(t, seen, 2)
	require.Contains(t, seen, "0xfrom:aa")
	require.Contains(t, seen, "0xfrom:bb")
}

func TestRestoredNonceStore_RejectsPriorNonceAfterRestart(t *testing.T) {
	var addr common.Address
	copy(addr[:], []byte{1, 2, 3, 4})
	var nonce [32]byte
	nonce[0] = 0xaa

	key := addr.Hex() + ":" + common.Bytes2Hex(nonce[:])
	ns := NewRestoredNonceStore(map[string]struct{}{key: {}})

	require.True(t, ns.SeenAndRecord(addr, nonce), "nonce restored from a prior ledger entry must be rejected as already-seen")

	var freshNonce [32]byte
	freshNonce[0] = 0xbb
	require.False(t, ns.SeenAndRecord(addr, freshNonce), "a nonce never seen before must be accepted")
	require.True(t, ns.SeenAndRecord(addr, freshNonce), "the same nonce replayed a second time must now be rejected")
}

func TestHeartbeat_AppendDoesNotError(t *testing.T) {
	s, err := New(t.TempDir())
	require.NoError(t, err)
	ctx := context.Background()

	rec := HeartbeatRecord{Time: time.Unix(100, 0).UTC(), Status: "ok", TaskCount: 2}
	require.NoError(t, s.AppendHeartbeat(ctx, rec))
	require.NoError(t, s.AppendHeartbeat(ctx, rec))
}

func TestPurchase_SaveAndHasPurchase(t *testing.T) {
	s, err := New(t.TempDir())
	require.NoError(t, err)
	ctx := context.Background()

	require.False(t, s.HasPurchase("raw_logs", "task-1"))
	require.NoError(t, s.SavePurchase(ctx, "raw_logs", "task-1", []byte("payload")))
	require.True(t, s.HasPurchase("raw_logs", "task-1"))
}

func TestEscrowTask_SaveLoadList(t *testing.T) {
	s, err := New(t.TempDir())
	require.NoError(t, err)
	ctx := context.Background()

	task := &escrow.Task{
		TaskID:           "task-1",
		State:            escrow.StatePublished,
		PublisherAddress: "0xpub",
		Bounty:           100,
		EvidenceRequired: []string{"url"},
		CreatedAt:        time.Unix(1, 0).UTC(),
		UpdatedAt:        time.Unix(1, 0).UTC(),
	}
	require.NoError(t, s.SaveTask(ctx, task))

	loaded, ok, err := s.LoadTask(ctx, "task-1")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, task.State, loaded.State)

	_, ok, err = s.LoadTask(ctx, "nonexistent")
	require.NoError(t, err)
	require.False(t, ok)

	tasks, err := s.ListTasks(ctx)
	require.NoError(t, err)
	require.Len(t, tasks, 1)
}

type fakeRemote struct {
	states map[string]escrow.State
}

func (f *fakeRemote) FetchState(ctx context.Context, taskID string) (escrow.State, bool, error) {
	st, ok := f.states[taskID]
	return st, ok, nil
}

func TestReconcile_RemoteWinsOnDisagreement(t *testing.T) {
	s, err := New(t.TempDir())
	require.NoError(t, err)
	ctx := context.Background()

	stale := &escrow.Task{TaskID: "task-1", State: escrow.StateSubmitted, CreatedAt: time.Unix(1, 0).UTC(), UpdatedAt: time.Unix(1, 0).UTC()}
	settled := &escrow.Task{TaskID: "task-2", State: escrow.StateSettled, CreatedAt: time.Unix(1, 0).UTC(), UpdatedAt: time.Unix(1, 0).UTC()}
	require.NoError(t, s.SaveTask(ctx, stale))
	require.NoError(t, s.SaveTask(ctx, settled))

	remote := &fakeRemote{states: map[string]escrow.State{
		"task-1": escrow.StateApproved,
		"task-2": escrow.StateRejected, // terminal locally; must be skipped, not overwritten
	}}

	require.NoError(t, s.Reconcile(ctx, remote))

	loaded1, _, err := s.LoadTask(ctx, "task-1")
	require.NoError(t, err)
	require.Equal(t, escrow.StateApproved, loaded1.State)

	loaded2, _, err := s.LoadTask(ctx, "task-2")
	require.NoError(t, err)
	require.Equal(t, escrow.StateSettled, loaded2.State)
}

func TestReconcile_SkipsWhenRemoteNotFound(t *testing.T) {
	s, err := New(t.TempDir())
	require.NoError(t, err)
	ctx := context.Background()

	task := &escrow.Task{TaskID: "task-1", State: escrow.StateApplied, CreatedAt: time.Unix(1, 0).UTC(), UpdatedAt: time.Unix(1, 0).UTC()}
	require.NoError(t, s.SaveTask(ctx, task))

	remote := &fakeRemote{states: map[string]escrow.State{}}
	require.NoError(t, s.Reconcile(ctx, remote))

	loaded, _, err := s.LoadTask(ctx, "task-1")
	require.NoError(t, err)
	require.Equal(t, escrow.StateApplied, loaded.State)
}
