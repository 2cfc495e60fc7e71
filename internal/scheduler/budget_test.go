package scheduler

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBudget_CanSpendRespectsCapAndPauseThreshold(t *testing.T) {
	b := NewBudget(1000, 100)

	require.True(t, b.CanSpend(800))
	require.False(t, b.CanSpend(950)) // would leave 50 < pause threshold of 100
	require.False(t, b.CanSpend(2000))
}

func TestBudget_RecordReducesRemaining(t *testing.T) {
	b := NewBudget(1000, 100)
	b.Record(300)
	require.Equal(t, int64(700), b.Remaining())
	require.False(t, b.Paused())

	b.Record(650)
	require.True(t, b.Paused())
	require.False(t, b.CanSpend(1))
}

func TestBudget_ResetDailyZeroesSpend(t *testing.T) {
	b := NewBudget(1000, 100)
	b.Record(950)
	require.True(t, b.Paused())

	b.ResetDaily()
	require.Equal(t, int64(1000), b.Remaining())
	require.False(t, b.Paused())
}

func TestBudget_NeverExceedsDailyCap(t *testing.T) {
	b := NewBudget(500, 0)
	require.True(t, b.CanSpend(500))
	require.False(t, b.CanSpend(501))
}
