package scheduler

import (
	"context"

	"github.com/karmacadabra/agent/internal/escrow"
	"github.com/karmacadabra/agent/internal/marketplace"
	"github.com/karmacadabra/agent/internal/reputation"
)

// assignApplicants advances every locally PUBLISHED task this agent owns
// past APPLIED/ASSIGNED once the marketplace reports at least one
// applicant, selecting the winner by spec §4.4's default tie-break:
// highest composite reputation, ties broken by earliest application.
// reputationCache may be nil, in which case every candidate is treated as
// neutral (composite 50) and the tie-break degrades to pure FIFO.
func assignApplicants(ctx context.Context, market *marketplace.Client, machine *escrow.Machine, reputationCache *reputation.Cache, tasks []*escrow.Task, self string, result *TickResult) {
	for _, t := range tasks {
		if t.State != escrow.StatePublished || t.PublisherAddress != self {
			continue
		}
		apps, err := market.ListApplications(ctx, t.TaskID)
		if err != nil {
			result.fail("list applications "+t.TaskID, err)
			continue
		}
		if len(apps) == 0 {
			continue
		}

		candidates := make([]escrow.Candidate, 0, len(apps))
		byApplication := make(map[string]marketplace.Application, len(apps))
		for _, a := range apps {
			byApplication[a.ApplicationID] = a
			composite := 50.0
			if reputationCache != nil {
				if snap, ok := reputationCache.Get(a.ApplicantAddress); ok {
					composite = snap.Composite
				}
			}
			candidates = append(candidates, escrow.Candidate{
				ApplicationID:       a.ApplicationID,
				ExecutorAddress:     a.ApplicantAddress,
				CompositeReputation: composite,
				CreatedAt:           a.CreatedAt,
			})
		}
		winner, ok := escrow.SelectAssignee(candidates)
		if !ok {
			continue
		}

		if err := machine.Apply(ctx, t, winner.ApplicationID); err != nil {
			result.fail("apply transition "+t.TaskID, err)
			continue
		}
		if err := market.Assign(ctx, t.TaskID, winner.ApplicationID); err != nil {
			result.fail("remote assign "+t.TaskID, err)
			continue
		}
		if err := machine.Assign(ctx, t, winner.ExecutorAddress); err != nil {
			result.fail("assign transition "+t.TaskID, err)
			continue
		}
		result.ok("assigned " + t.TaskID + " to " + winner.ExecutorAddress)
	}
}
