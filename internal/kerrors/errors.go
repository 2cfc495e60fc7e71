// Package kerrors provides the closed error taxonomy used across the agent core.
//
// The kinds map directly onto spec §7: Config, Network, RateLimit, Conflict,
// Schema, Invariant, and ValidatorRejection. Classification is deliberately
// crisp so the scheduler's tick boundary can decide, without inspecting
// message text, whether an error is retryable, fatal-for-task, or
// fatal-for-process.
package kerrors

import (
	"errors"
	"fmt"
)

// Kind is a closed enum of error classes.
type Kind string

const (
	KindConfig            Kind = "config"             // fatal at startup
	KindNetwork           Kind = "network"             // retryable
	KindRateLimit         Kind = "rate_limit"          // consume spacing, bounded retry
	KindConflict          Kind = "conflict"            // consumed as success (409)
	KindSchema            Kind = "schema"              // permanent, fatal for task (422)
	KindInvariant         Kind = "invariant"           // bug, aborts tick
	KindValidatorRejected Kind = "validator_rejected"  // REJECTED transition
	KindUnauthorized      Kind = "unauthorized"        // 403
)

// AgentError carries a Kind plus a wrapped cause and optional structured details.
type AgentError struct {
	Kind    Kind
	Message string
	Details map[string]any
	Err     error
}

func (e *AgentError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Kind, e.Message)
}

func (e *AgentError) Unwrap() error { return e.Err }

// WithDetail attaches a structured detail and returns the receiver for chaining.
func (e *AgentError) WithDetail(key string, value any) *AgentError {
	if e.Details == nil {
		e.Details = make(map[string]any)
	}
	e.Details[key] = value
	return e
}

// New constructs an AgentError with no wrapped cause.
func New(kind Kind, message string) *AgentError {
	return &AgentError{Kind: kind, Message: message}
}

// Wrap constructs an AgentError wrapping an existing error.
func Wrap(kind Kind, message string, err error) *AgentError {
	return &AgentError{Kind: kind, Message: message, Err: err}
}

// Config-kind constructors.

func MissingSecret(name string) *AgentError {
	return New(KindConfig, "missing required secret").WithDetail("secret", name)
}

func MalformedIdentity(err error) *AgentError {
	return Wrap(KindConfig, "malformed identity file", err)
}

// Network-kind constructors.

func NetworkFailure(op string, err error) *AgentError {
	return Wrap(KindNetwork, "network failure", err).WithDetail("operation", op)
}

// RateLimit-kind constructors.

func RateLimited(retryAfter string) *AgentError {
	return New(KindRateLimit, "rate limited").WithDetail("retry_after", retryAfter)
}

// Conflict-kind constructors.

func AlreadyApplied(taskID string) *AgentError {
	return New(KindConflict, "already applied").WithDetail("task_id", taskID)
}

// Schema-kind constructors.

func SchemaInvalid(op string, payload any) *AgentError {
	return New(KindSchema, "remote rejected payload schema").
		WithDetail("operation", op).
		WithDetail("payload", payload)
}

// Invariant-kind constructors.

func InvariantViolation(rule string) *AgentError {
	return New(KindInvariant, "invariant violation").WithDetail("rule", rule)
}

func DuplicateNonce(from, nonce string) *AgentError {
	return InvariantViolation("duplicate nonce").
		WithDetail("from", from).
		WithDetail("nonce", nonce)
}

func WrongSigner(expected, got string) *AgentError {
	return InvariantViolation("wrong signer").
		WithDetail("expected", expected).
		WithDetail("got", got)
}

func IllegalTransition(from, to string) *AgentError {
	return InvariantViolation("illegal state transition").
		WithDetail("from", from).
		WithDetail("to", to)
}

// ValidatorRejected-kind constructors.

func EvidenceMissing(kind string) *AgentError {
	return New(KindValidatorRejected, "required evidence kind missing").WithDetail("kind", kind)
}

// Unauthorized-kind constructors.

func Unauthorized(op string) *AgentError {
	return New(KindUnauthorized, "unauthorized").WithDetail("operation", op)
}

// As reports whether err (or any error it wraps) is an *AgentError of the given kind.
func As(err error, kind Kind) bool {
	var ae *AgentError
	if !errors.As(err, &ae) {
		return false
	}
	return ae.Kind == kind
}

// KindOf extracts the Kind of err if it is (or wraps) an *AgentError, ok=false otherwise.
func KindOf(err error) (Kind, bool) {
	var ae *AgentError
	if !errors.As(err, &ae) {
		return "", false
	}
	return ae.Kind, true
}
