package scheduler

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"github.com/karmacadabra/agent/internal/logx"
	"github.com/karmacadabra/agent/internal/store"
	"github.com/karmacadabra/agent/internal/telemetry"
)

type fixedRunner struct {
	result TickResult
	calls  int
}

func (f *fixedRunner) Tick(ctx context.Context) TickResult {
	f.calls++
	return f.result
}

func newTestScheduler(t *testing.T, runner RoleRunner) (*Scheduler, *store.Store) {
	t.Helper()
	st, err := store.New(t.TempDir())
	require.NoError(t, err)
	logger := logx.New("test-agent", "error", "json")
	metrics := telemetry.NewWithRegistry("test-agent", prometheus.NewRegistry())
	return NewScheduler(50*time.Millisecond, runner, st, logger, metrics), st
}

func TestScheduler_RunFiresImmediatelyAndAppendsHeartbeat(t *testing.T) {
	runner := &fixedRunner{result: TickResult{Status: "ok", Actions: []string{"did a thing"}}}
	s, st := newTestScheduler(t, runner)

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Millisecond)
	defer cancel()
	s.Run(ctx)

	require.GreaterOrEqual(t, runner.calls, 1)

	data, err := os.ReadFile(filepath.Join(heartbeatDir(st), "heartbeat.log.jsonl"))
	require.NoError(t, err)
	require.Contains(t, string(data), `"status":"ok"`)
}

func TestScheduler_DefaultsEmptyStatusToOK(t *testing.T) {
	runner := &fixedRunner{result: TickResult{}}
	s, st := newTestScheduler(t, runner)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	s.runTick(ctx)
	require.Equal(t, 1, runner.calls)

	data, err := os.ReadFile(filepath.Join(heartbeatDir(st), "heartbeat.log.jsonl"))
	require.NoError(t, err)
	require.Contains(t, string(data), `"status":"ok"`)
}

func TestScheduler_StopHaltsFutureTicks(t *testing.T) {
	runner := &fixedRunner{result: TickResult{Status: "ok"}}
	s, _ := newTestScheduler(t, runner)

	done := make(chan struct{})
	go func() {
		s.Run(context.Background())
		close(done)
	}()
	time.Sleep(10 * time.Millisecond)
	s.Stop()
	s.Stop() // idempotent

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after Stop")
	}
}

func TestFirstErr_ReturnsNilOnEmpty(t *testing.T) {
	require.Nil(t, firstErr(nil))
	err := firstErr([]string{"boom", "second"})
	require.Error(t, err)
	require.True(t, strings.HasPrefix(err.Error(), "boom"))
}

func heartbeatDir(st *store.Store) string {
	return st.Dir()
}
