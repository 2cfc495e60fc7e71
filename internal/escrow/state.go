// Package escrow implements C4: the per-task finite state machine that is
// the core of the design (spec §4.4). One Machine instance exists per
// (agent, task_id).
package escrow

import "time"

// State is the closed set of lifecycle states a task passes through.
type State string

const (
	StateUnknown   State = "UNKNOWN"
	StatePublished State = "PUBLISHED"
	StateApplied   State = "APPLIED"
	StateAssigned  State = "ASSIGNED"
	StateSubmitted State = "SUBMITTED"
	StateApproved  State = "APPROVED"
	StateSettled   State = "SETTLED"
	StateRejected  State = "REJECTED"
	StateExpired   State = "EXPIRED"
	StateCancelled State = "CANCELLED"
	StateFailed    State = "FAILED" // local sub-state for permanent (422) errors
)

// Terminal reports whether State has no further legal transitions.
func (s State) Terminal() bool {
	switch s {
	case StateSettled, StateRejected, StateExpired, StateCancelled, StateFailed:
		return true
	}
	return false
}

// transitions is the legal transition table of spec §4.4's table, keyed by
// source state, valued by the set of legal target states.
var transitions = map[State]map[State]bool{
	StateUnknown:   {StatePublished: true},
	StatePublished: {StateApplied: true, StateCancelled: true, StateExpired: true},
	StateApplied:   {StateAssigned: true, StateExpired: true},
	StateAssigned:  {StateSubmitted: true, StateExpired: true},
	StateSubmitted: {StateApproved: true, StateRejected: true, StateExpired: true},
	StateApproved:  {StateSettled: true},
	StateSettled:   {StateSettled: true}, // idempotent no-op, per spec §4.4
}

// legal reports whether from -> to is a permitted transition.
func legal(from, to State) bool {
	targets, ok := transitions[from]
	if !ok {
		return false
	}
	return targets[to]
}

// Task is the persisted record for one (agent, task_id) escrow instance.
type Task struct {
	TaskID           string            `json:"task_id"`
	State            State             `json:"state"`
	Category         string            `json:"category,omitempty"`
	PublisherAddress string            `json:"publisher_address"`
	ExecutorAddress  string            `json:"executor_address,omitempty"`
	ApplicationID    string            `json:"application_id,omitempty"`
	SubmissionID     string            `json:"submission_id,omitempty"`
	Bounty           int64             `json:"bounty"`
	EvidenceRequired []string          `json:"evidence_required"`
	Evidence         map[string]any    `json:"evidence,omitempty"`
	CreatedAt        time.Time         `json:"created_at"`
	UpdatedAt        time.Time         `json:"updated_at"`
	Deadline         time.Time         `json:"deadline"`
	LastError        string            `json:"last_error,omitempty"`
	FailedPayload    string            `json:"failed_payload,omitempty"`
}
