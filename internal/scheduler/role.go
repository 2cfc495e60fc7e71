package scheduler

import "context"

// TickResult summarizes one role-runtime tick for the heartbeat record.
type TickResult struct {
	Status  string   // "ok" or "error"
	Actions []string // human-readable actions taken this tick
	Errors  []string // non-fatal errors observed this tick
}

// ok appends a completed action to the result, keeping Status at "ok"
// unless an error has already downgraded it.
func (r *TickResult) ok(action string) {
	r.Actions = append(r.Actions, action)
}

// fail records a non-fatal per-task or per-call error without aborting the
// rest of the tick, per spec §7's "per-tick errors ... do not crash the
// process" propagation rule.
func (r *TickResult) fail(context string, err error) {
	r.Status = "error"
	r.Errors = append(r.Errors, context+": "+err.Error())
}

// RoleRunner executes one bounded unit of work for an agent's role, per
// spec §4.8. Implementations must not block past the context's deadline.
type RoleRunner interface {
	Tick(ctx context.Context) TickResult
}
