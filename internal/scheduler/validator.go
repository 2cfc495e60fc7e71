package scheduler

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/karmacadabra/agent/internal/chat"
	"github.com/karmacadabra/agent/internal/escrow"
	"github.com/karmacadabra/agent/internal/marketplace"
	"github.com/karmacadabra/agent/internal/store"
)

// validationCategory is the task category reserved for validation work
// orders: any task published under it is a request to score a referenced
// submission rather than to deliver a catalog product.
const validationCategory = "validation"

// ValidatorDeps are the components a ValidatorRunner composes.
type ValidatorDeps struct {
	Market *marketplace.Client
	Escrow *escrow.Machine
	Store  *store.Store
	Chat   *chat.Conn // optional
	Score  func(evidence map[string]any) float64
	Self   string // own wallet address, hex
	Now    func() time.Time
}

// ValidatorRunner implements the validator role plan of spec §4.8: listen
// for validation requests, score data, post results, bill per validation.
// A validation request is an ordinary task published under
// validationCategory; scoring and billing reuse the same apply/assign/
// submit/approve/settle lifecycle every other task uses.
type ValidatorRunner struct {
	deps ValidatorDeps
}

// NewValidatorRunner constructs a ValidatorRunner. A nil Score defaults to
// a simple non-empty-payload heuristic.
func NewValidatorRunner(deps ValidatorDeps) *ValidatorRunner {
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.Score == nil {
		deps.Score = defaultScore
	}
	return &ValidatorRunner{deps: deps}
}

func (v *ValidatorRunner) Tick(ctx context.Context) TickResult {
	var result TickResult

	tasks, err := v.deps.Store.ListTasks(ctx)
	if err != nil {
		result.fail("list local tasks", err)
		return result
	}

	v.applyToRequests(ctx, tasks, &result)
	v.scoreAssigned(ctx, tasks, &result)

	return result
}

// applyToRequests applies to any remote validation request this agent has
// not yet recorded locally.
func (v *ValidatorRunner) applyToRequests(ctx context.Context, localTasks []*escrow.Task, result *TickResult) {
	known := make(map[string]bool)
	for _, t := range localTasks {
		known[t.TaskID] = true
	}

	remote, err := v.deps.Market.Browse(ctx, marketplace.BrowseFilter{Category: validationCategory})
	if err != nil {
		result.fail("browse", err)
		return
	}
	for _, rt := range remote {
		if known[rt.TaskID] {
			continue
		}
		appID, err := v.deps.Market.Apply(ctx, rt.TaskID, "offering to validate")
		if err != nil {
			result.fail("apply "+rt.TaskID, err)
			continue
		}
		t := &escrow.Task{TaskID: rt.TaskID, Category: rt.Category}
		if err := v.deps.Escrow.Publish(ctx, t, rt.PublisherAddress, rt.Bounty, evidenceKindStrings(rt.EvidenceRequired)); err != nil {
			result.fail("record remote task "+rt.TaskID, err)
			continue
		}
		if err := v.deps.Escrow.Apply(ctx, t, appID); err != nil {
			result.fail("apply transition "+rt.TaskID, err)
			continue
		}
		result.ok("applied to validate " + rt.TaskID)
	}
}

// scoreAssigned scores and submits results for every validation task this
// validator has been assigned, billing through the normal submit/approve
// flow the requester drives on their own tick.
func (v *ValidatorRunner) scoreAssigned(ctx context.Context, tasks []*escrow.Task, result *TickResult) {
	for _, t := range tasks {
		if t.State != escrow.StateAssigned || t.ExecutorAddress != v.deps.Self || t.Category != validationCategory {
			continue
		}
		score := v.deps.Score(t.Evidence)
		evidence := map[marketplace.EvidenceKind]any{
			marketplace.EvidenceStructuredData: map[string]any{
				"score":       score,
				"scored_at":   v.deps.Now().UTC().Format(time.RFC3339),
				"task_id":     t.TaskID,
				"explanation": fmt.Sprintf("scored %.2f on %d evidence fields", score, len(t.Evidence)),
			},
		}
		submissionID, err := v.deps.Market.Submit(ctx, t.TaskID, v.deps.Self, evidence)
		if err != nil {
			result.fail("submit "+t.TaskID, err)
			continue
		}
		raw := make(map[string]any, len(evidence))
		for k, val := range evidence {
			raw[string(k)] = val
		}
		if err := v.deps.Escrow.Submit(ctx, t, submissionID, raw); err != nil {
			result.fail("submit transition "+t.TaskID, err)
			continue
		}
		result.ok(fmt.Sprintf("posted validation result for %s (score %.2f)", t.TaskID, score))
	}
}

// defaultScore is a minimal scoring heuristic: every expected evidence
// kind present with a non-empty payload contributes equally to the score.
func defaultScore(evidence map[string]any) float64 {
	if len(evidence) == 0 {
		return 0
	}
	present := 0
	for _, v := range evidence {
		if s, ok := v.(string); ok && strings.TrimSpace(s) == "" {
			continue
		}
		if v == nil {
			continue
		}
		present++
	}
	return float64(present) / float64(len(evidence))
}
