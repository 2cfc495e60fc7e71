// Package supplychain implements C9: the ordered, cycle-bounded sequence
// of product dependencies a pipeline consumer buys to build an aggregate
// artifact (spec §4.9).
package supplychain

import (
	"context"
	"fmt"
	"time"
)

// State is the persisted content of supply_chain_state.json. Step is the
// index into Dependencies the consumer is currently working on; Cycle
// increments each time the full chain completes, so a product already
// purchased in a prior cycle is eligible to be re-bought in the next one.
type State struct {
	Cycle     int       `json:"cycle"`
	Step      int       `json:"step"`
	UpdatedAt time.Time `json:"updated_at"`
}

// IsComplete reports whether every dependency has been purchased this cycle.
func (s State) IsComplete(dependencies []string) bool {
	return s.Step >= len(dependencies)
}

// Tracker advances a consumer through Dependencies one SETTLED purchase at
// a time, persisting progress via Store so a restart resumes mid-cycle
// without re-buying a step already owned this cycle (spec §8 property 6).
type Tracker struct {
	Dependencies []string
	Store        Store
	Clock        func() time.Time
}

// Store persists and loads supply_chain_state.json.
type Store interface {
	LoadSupplyChainState(ctx context.Context) (State, bool, error)
	SaveSupplyChainState(ctx context.Context, s State) error
}

// NewTracker constructs a Tracker over an ordered dependency list.
func NewTracker(dependencies []string, store Store) *Tracker {
	return &Tracker{Dependencies: dependencies, Store: store, Clock: time.Now}
}

// CurrentStep loads persisted state and returns the dependency name the
// consumer should currently be buying, or ("", false) if the cycle is
// already complete and awaiting rollover.
func (t *Tracker) CurrentStep(ctx context.Context) (string, bool, error) {
	if len(t.Dependencies) == 0 {
		return "", false, fmt.Errorf("supply chain: empty dependency list")
	}
	st, _, err := t.Store.LoadSupplyChainState(ctx)
	if err != nil {
		return "", false, err
	}
	if st.IsComplete(t.Dependencies) {
		return "", false, nil
	}
	return t.Dependencies[st.Step], true, nil
}

// Advance records that the dependency at the current step has reached
// SETTLED, moving the tracker to the next step (or rolling over to a new
// cycle if the chain is now complete). It is a no-op if the cycle was
// already complete, preserving the idempotence invariant: a step is never
// advanced past twice for the same settlement.
func (t *Tracker) Advance(ctx context.Context) error {
	st, _, err := t.Store.LoadSupplyChainState(ctx)
	if err != nil {
		return err
	}
	if st.IsComplete(t.Dependencies) {
		return nil
	}
	st.Step++
	now := t.Clock()
	if st.IsComplete(t.Dependencies) {
		st.Step = 0
		st.Cycle++
	}
	st.UpdatedAt = now
	return t.Store.SaveSupplyChainState(ctx, st)
}
