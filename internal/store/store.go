// Package store implements C7: the per-agent local data store rooted at a
// directory path, with every file written atomically (spec §4.7).
package store

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// AgentRecord is the content of agent.json.
type AgentRecord struct {
	Name            string `json:"name"`
	Address         string `json:"address"`
	RegistryID      uint64 `json:"registry_id"`
	Role            string `json:"role"`
	DerivationIndex uint32 `json:"derivation_index"`
}

// LedgerEntry is one line of ledger.jsonl: a payment authorization issued
// by this agent, indexed by (from, nonce).
type LedgerEntry struct {
	From        string    `json:"from"`
	To          string    `json:"to"`
	Value       int64     `json:"value"`
	Nonce       string    `json:"nonce"`
	ValidAfter  int64     `json:"valid_after"`
	ValidBefore int64     `json:"valid_before"`
	IssuedAt    time.Time `json:"issued_at"`
}

// HeartbeatRecord is one line of heartbeat.log.jsonl.
type HeartbeatRecord struct {
	Time      time.Time      `json:"time"`
	Status    string         `json:"status"`
	TaskCount int            `json:"task_count"`
	Errors    []string       `json:"errors,omitempty"`
	Detail    map[string]any `json:"detail,omitempty"`
}

// Store is the per-agent local data store rooted at Dir.
type Store struct {
	dir string
	mu  sync.Mutex // serializes append-only writes to ledger/heartbeat logs
}

// New constructs a Store rooted at dir, creating the required subdirectories.
func New(dir string) (*Store, error) {
	s := &Store{dir: dir}
	for _, sub := range []string{"escrow", "purchases"} {
		if err := os.MkdirAll(filepath.Join(dir, sub), 0o755); err != nil {
			return nil, fmt.Errorf("create store subdirectory %s: %w", sub, err)
		}
	}
	return s, nil
}

// Dir returns the store's root directory.
func (s *Store) Dir() string { return s.dir }

// writeAtomic writes data to path by writing to a sibling temp file and
// renaming it into place, per spec §4.7's "write-to-temp, rename" requirement.
func writeAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp file for %s: %w", path, err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath) // no-op once the rename below succeeds

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write temp file for %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp file for %s: %w", path, err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("rename temp file into %s: %w", path, err)
	}
	return nil
}

func appendLine(path string, line []byte) error {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open append file %s: %w", path, err)
	}
	defer f.Close()
	if _, err := f.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("append to %s: %w", path, err)
	}
	return nil
}

// SaveAgentRecord atomically writes agent.json.
func (s *Store) SaveAgentRecord(ctx context.Context, rec AgentRecord) error {
	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return err
	}
	return writeAtomic(filepath.Join(s.dir, "agent.json"), data)
}

// LoadAgentRecord reads agent.json, if present.
func (s *Store) LoadAgentRecord(ctx context.Context) (AgentRecord, bool, error) {
	data, err := os.ReadFile(filepath.Join(s.dir, "agent.json"))
	if os.IsNotExist(err) {
		return AgentRecord{}, false, nil
	}
	if err != nil {
		return AgentRecord{}, false, err
	}
	var rec AgentRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return AgentRecord{}, false, err
	}
	return rec, true, nil
}

// SaveStateSummary atomically writes the human-readable state.md.
func (s *Store) SaveStateSummary(ctx context.Context, summary string) error {
	return writeAtomic(filepath.Join(s.dir, "state.md"), []byte(summary))
}

// AppendLedgerEntry appends one authorization record to ledger.jsonl.
func (s *Store) AppendLedgerEntry(ctx context.Context, entry LedgerEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	return appendLine(filepath.Join(s.dir, "ledger.jsonl"), data)
}

// AppendHeartbeat appends one record to heartbeat.log.jsonl.
func (s *Store) AppendHeartbeat(ctx context.Context, rec HeartbeatRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	return appendLine(filepath.Join(s.dir, "heartbeat.log.jsonl"), data)
}

// SavePurchase atomically writes a delivered artifact under
// purchases/<product>/<task_id>.blob.
func (s *Store) SavePurchase(ctx context.Context, product, taskID string, blob []byte) error {
	dir := filepath.Join(s.dir, "purchases", product)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create purchase directory: %w", err)
	}
	return writeAtomic(filepath.Join(dir, taskID+".blob"), blob)
}

// HasPurchase reports whether a purchase blob already exists for
// (product, taskID), the idempotence check behind spec §4.9's
// never-re-buy-within-a-cycle invariant.
func (s *Store) HasPurchase(product, taskID string) bool {
	_, err := os.Stat(filepath.Join(s.dir, "purchases", product, taskID+".blob"))
	return err == nil
}
