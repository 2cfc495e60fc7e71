package scheduler

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/karmacadabra/agent/internal/chat"
)

func TestCoordinatorRunner_TickWithoutChatOrBroadcasterIsANoop(t *testing.T) {
	runner := NewCoordinatorRunner(CoordinatorDeps{})
	result := runner.Tick(context.Background())
	require.NotEqual(t, "error", result.Status)
	require.Empty(t, result.Actions)
}

func TestCoordinatorRunner_HasIdlePeerRespectsWindow(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	runner := NewCoordinatorRunner(CoordinatorDeps{
		IdleAfter: time.Minute,
		Now:       func() time.Time { return now },
	})

	require.False(t, runner.hasIdlePeer())

	runner.peers["agent-b"] = peerState{lastSeen: now.Add(-30 * time.Second), lastKind: chat.KindHave}
	require.False(t, runner.hasIdlePeer())

	runner.peers["agent-b"] = peerState{lastSeen: now.Add(-2 * time.Minute), lastKind: chat.KindHave}
	require.True(t, runner.hasIdlePeer())
}
