package store

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/karmacadabra/agent/internal/supplychain"
)

// LoadSupplyChainState reads supply_chain_state.json, defaulting to cycle 0
// step 0 if the file has never been written (a fresh consumer).
func (s *Store) LoadSupplyChainState(ctx context.Context) (supplychain.State, bool, error) {
	data, err := os.ReadFile(filepath.Join(s.dir, "supply_chain_state.json"))
	if os.IsNotExist(err) {
		return supplychain.State{}, false, nil
	}
	if err != nil {
		return supplychain.State{}, false, err
	}
	var st supplychain.State
	if err := json.Unmarshal(data, &st); err != nil {
		return supplychain.State{}, false, err
	}
	return st, true, nil
}

// SaveSupplyChainState atomically persists the consumer's step/cycle.
func (s *Store) SaveSupplyChainState(ctx context.Context, st supplychain.State) error {
	data, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return err
	}
	return writeAtomic(filepath.Join(s.dir, "supply_chain_state.json"), data)
}
