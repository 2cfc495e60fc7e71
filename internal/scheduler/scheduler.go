// Package scheduler implements C8: the periodic heartbeat driver that
// composes C1–C7 per agent role (spec §4.8), and C9's supply-chain
// extension for pipeline consumer roles.
package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/karmacadabra/agent/internal/logx"
	"github.com/karmacadabra/agent/internal/store"
	"github.com/karmacadabra/agent/internal/telemetry"
)

// Scheduler fires a bounded tick every Interval, enforcing a per-tick
// deadline of 0.8×Interval (spec §4.8). Only one tick runs at a time;
// within a tick all I/O is sequential and cooperative.
type Scheduler struct {
	interval time.Duration
	runner   RoleRunner
	store    *store.Store
	logger   *logx.Logger
	metrics  *telemetry.Metrics

	stepMu sync.Mutex
	step   int64

	stopCh   chan struct{}
	stopOnce sync.Once
}

// NewScheduler constructs a Scheduler. Step numbers are monotonic per
// agent process and restart at 0 on process restart (the heartbeat log
// itself, not the step counter, is the durable history).
func NewScheduler(interval time.Duration, runner RoleRunner, st *store.Store, logger *logx.Logger, metrics *telemetry.Metrics) *Scheduler {
	return &Scheduler{
		interval: interval,
		runner:   runner,
		store:    st,
		logger:   logger,
		metrics:  metrics,
		stopCh:   make(chan struct{}),
	}
}

// Run blocks, firing one tick immediately and then every Interval, until
// ctx is cancelled or Stop is called.
func (s *Scheduler) Run(ctx context.Context) {
	s.runTick(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.runTick(ctx)
		}
	}
}

// Stop halts the scheduler; safe to call multiple times.
func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() { close(s.stopCh) })
}

// runTick executes one deadline-bounded tick, writing the resulting
// heartbeat record before returning, regardless of outcome.
func (s *Scheduler) runTick(ctx context.Context) {
	s.stepMu.Lock()
	s.step++
	step := s.step
	s.stepMu.Unlock()

	deadline := time.Duration(float64(s.interval) * 0.8)
	tickCtx, cancel := context.WithTimeout(ctx, deadline)
	defer cancel()

	tickCtx = logx.WithStep(tickCtx, step)

	start := time.Now()
	result := s.runner.Tick(tickCtx)
	elapsed := time.Since(start)

	if result.Status == "" {
		result.Status = "ok"
	}

	if s.metrics != nil {
		s.metrics.ObserveTick(result.Status, elapsed)
	}
	if s.logger != nil {
		s.logger.LogHeartbeat(tickCtx, step, "tick", result.Status, firstErr(result.Errors))
	}
	if s.store != nil {
		_ = s.store.AppendHeartbeat(tickCtx, store.HeartbeatRecord{
			Time:      start,
			Status:    result.Status,
			TaskCount: len(result.Actions),
			Errors:    result.Errors,
			Detail:    map[string]any{"actions": result.Actions, "step": step},
		})
	}
}

func firstErr(errs []string) error {
	if len(errs) == 0 {
		return nil
	}
	return errString(errs[0])
}

type errString string

func (e errString) Error() string { return string(e) }
