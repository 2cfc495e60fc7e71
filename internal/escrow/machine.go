package escrow

import (
	"context"
	"sort"
	"time"

	"github.com/karmacadabra/agent/internal/kerrors"
)

// Store is the durability surface C4 needs from C7: persist the task before
// the transition is considered complete, per spec §4.4's ordering guarantee
// ("local record written before remote event is durable").
type Store interface {
	SaveTask(ctx context.Context, t *Task) error
}

// Machine drives one task's transitions. It is not safe for concurrent use
// by multiple goroutines on the same task; spec §5 calls for a simple
// per-task exclusive guard, which the caller (the role runtime) provides.
type Machine struct {
	store Store
	clock func() time.Time
}

// NewMachine constructs a Machine backed by store.
func NewMachine(store Store) *Machine {
	return &Machine{store: store, clock: time.Now}
}

// transition validates from->to, stamps UpdatedAt, and persists before
// returning -- the ordering guarantee is centralized here so every state
// change goes through the same durable-write path.
func (m *Machine) transition(ctx context.Context, t *Task, to State, mutate func(*Task)) error {
	if t.State == to && to == StateSettled {
		// Idempotent settlement: a duplicate facilitator receipt is a no-op.
		return nil
	}
	if !legal(t.State, to) {
		return kerrors.IllegalTransition(string(t.State), string(to))
	}
	if mutate != nil {
		mutate(t)
	}
	t.State = to
	t.UpdatedAt = m.clock()
	return m.store.SaveTask(ctx, t)
}

// Publish: UNKNOWN -> PUBLISHED, by the publisher once create_task is accepted.
func (m *Machine) Publish(ctx context.Context, t *Task, publisher string, bounty int64, evidenceRequired []string) error {
	return m.transition(ctx, t, StatePublished, func(t *Task) {
		t.PublisherAddress = publisher
		t.Bounty = bounty
		t.EvidenceRequired = evidenceRequired
		t.CreatedAt = m.clock()
	})
}

// Apply: PUBLISHED -> APPLIED, by the executor. A 409 (already-applied) is
// consumed identically to a 200, per spec §4.3/§4.4 and property 4.
func (m *Machine) Apply(ctx context.Context, t *Task, applicationID string) error {
	if t.State == StateApplied {
		// Idempotent apply: the application_id must already match.
		return nil
	}
	return m.transition(ctx, t, StateApplied, func(t *Task) {
		t.ApplicationID = applicationID
	})
}

// Assign: APPLIED -> ASSIGNED, by the publisher, recording the chosen executor.
func (m *Machine) Assign(ctx context.Context, t *Task, executor string) error {
	return m.transition(ctx, t, StateAssigned, func(t *Task) {
		t.ExecutorAddress = executor
	})
}

// Submit: ASSIGNED -> SUBMITTED, by the executor, recording the delivered evidence.
func (m *Machine) Submit(ctx context.Context, t *Task, submissionID string, evidence map[string]any) error {
	return m.transition(ctx, t, StateSubmitted, func(t *Task) {
		t.SubmissionID = submissionID
		t.Evidence = evidence
	})
}

// Approve: SUBMITTED -> APPROVED, by the publisher, after validating evidence.
// A missing required evidence kind forces REJECTED instead, per spec §4.4.
func (m *Machine) Approve(ctx context.Context, t *Task) error {
	if err := ValidateEvidence(t.EvidenceRequired, t.Evidence); err != nil {
		_ = m.Reject(ctx, t)
		return err
	}
	return m.transition(ctx, t, StateApproved, nil)
}

// Settle: APPROVED -> SETTLED, once the facilitator's on-chain transfer is
// observed. Idempotent: a duplicate settlement event is a no-op.
func (m *Machine) Settle(ctx context.Context, t *Task) error {
	return m.transition(ctx, t, StateSettled, nil)
}

// Reject: SUBMITTED -> REJECTED, by the publisher, denying approval.
func (m *Machine) Reject(ctx context.Context, t *Task) error {
	return m.transition(ctx, t, StateRejected, nil)
}

// Cancel: PUBLISHED -> CANCELLED, by the publisher, before assignment.
func (m *Machine) Cancel(ctx context.Context, t *Task) error {
	return m.transition(ctx, t, StateCancelled, nil)
}

// Expire: PUBLISHED, APPLIED, ASSIGNED or SUBMITTED -> EXPIRED, once the
// deadline has passed. Terminal tasks are left as they are; an APPROVED task
// has no EXPIRED transition, so expiring it returns an error.
func (m *Machine) Expire(ctx context.Context, t *Task) error {
	if t.State.Terminal() {
		return nil
	}
	return m.transition(ctx, t, StateExpired, nil)
}

// Fail records a permanent (422) schema error as a local FAILED sub-state,
// surfaced in the heartbeat per spec §4.4's failure classes.
func (m *Machine) Fail(ctx context.Context, t *Task, errMsg, payload string) error {
	t.LastError = errMsg
	t.FailedPayload = payload
	t.State = StateFailed
	t.UpdatedAt = m.clock()
	return m.store.SaveTask(ctx, t)
}

// Candidate is one applicant considered for assignment tie-breaking.
type Candidate struct {
	ApplicationID       string
	ExecutorAddress     string
	CompositeReputation float64
	CreatedAt           time.Time
}

// SelectAssignee implements spec §4.4's default tie-breaking policy:
// highest composite reputation, ties broken by earliest CreatedAt.
func SelectAssignee(candidates []Candidate) (Candidate, bool) {
	if len(candidates) == 0 {
		return Candidate{}, false
	}
	sorted := make([]Candidate, len(candidates))
	copy(sorted, candidates)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].CompositeReputation != sorted[j].CompositeReputation {
			return sorted[i].CompositeReputation > sorted[j].CompositeReputation
		}
		return sorted[i].CreatedAt.Before(sorted[j].CreatedAt)
	})
	return sorted[0], true
}
