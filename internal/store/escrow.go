package store

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/karmacadabra/agent/internal/escrow"
)

// SaveTask implements escrow.Store: one atomic file per task under escrow/.
func (s *Store) SaveTask(ctx context.Context, t *escrow.Task) error {
	data, err := json.MarshalIndent(t, "", "  ")
	if err != nil {
		return err
	}
	path := filepath.Join(s.dir, "escrow", t.TaskID+".json")
	return writeAtomic(path, data)
}

// LoadTask reads one task's escrow file, if present.
func (s *Store) LoadTask(ctx context.Context, taskID string) (*escrow.Task, bool, error) {
	data, err := os.ReadFile(filepath.Join(s.dir, "escrow", taskID+".json"))
	if os.IsNotExist(err) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	var t escrow.Task
	if err := json.Unmarshal(data, &t); err != nil {
		return nil, false, err
	}
	return &t, true, nil
}

// ListTasks returns every persisted task, for startup reconciliation.
func (s *Store) ListTasks(ctx context.Context) ([]*escrow.Task, error) {
	entries, err := os.ReadDir(filepath.Join(s.dir, "escrow"))
	if err != nil {
		return nil, fmt.Errorf("list escrow directory: %w", err)
	}
	var tasks []*escrow.Task
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		taskID := strings.TrimSuffix(e.Name(), ".json")
		t, ok, err := s.LoadTask(ctx, taskID)
		if err != nil {
			return nil, err
		}
		if ok {
			tasks = append(tasks, t)
		}
	}
	return tasks, nil
}

// RemoteStateFetcher resolves the marketplace's authoritative state for a
// task, used during startup reconciliation (spec §4.7, scenario S6).
type RemoteStateFetcher interface {
	FetchState(ctx context.Context, taskID string) (escrow.State, bool, error)
}

// Reconcile scans escrow/ for non-terminal tasks and, for each, polls the
// marketplace for its authoritative state; remote wins on disagreement,
// per spec §4.4's ordering guarantee.
func (s *Store) Reconcile(ctx context.Context, remote RemoteStateFetcher) error {
	tasks, err := s.ListTasks(ctx)
	if err != nil {
		return err
	}
	for _, t := range tasks {
		if t.State.Terminal() {
			continue
		}
		remoteState, found, err := remote.FetchState(ctx, t.TaskID)
		if err != nil || !found {
			continue
		}
		if remoteState != t.State {
			t.State = remoteState
			if err := s.SaveTask(ctx, t); err != nil {
				return fmt.Errorf("reconcile task %s: %w", t.TaskID, err)
			}
		}
	}
	return nil
}
