package scheduler

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/karmacadabra/agent/internal/chat"
	"github.com/karmacadabra/agent/internal/config"
	"github.com/karmacadabra/agent/internal/escrow"
	"github.com/karmacadabra/agent/internal/identity"
	"github.com/karmacadabra/agent/internal/marketplace"
	"github.com/karmacadabra/agent/internal/reputation"
	"github.com/karmacadabra/agent/internal/store"
)

// requestPrefix marks a buyer-published task as an open pipeline request a
// matching seller should apply to, per spec §4.8's seller plan.
const requestPrefix = "[KK Request] "

// SellerDeps are the components a SellerRunner composes.
type SellerDeps struct {
	Handle        *identity.Handle
	Market        *marketplace.Client
	Escrow        *escrow.Machine
	Store         *store.Store
	Chat          *chat.Conn // optional; nil disables chat responses
	Catalog       Catalog
	Reputation    *reputation.Cache // optional; nil degrades assignment to FIFO
	TokenDecimals int
	Now           func() time.Time
}

// SellerRunner implements the seller role plan of spec §4.8: publish
// unpublished products, apply to matching requests, submit evidence for
// assigned tasks, and answer chat NEEDs.
type SellerRunner struct {
	deps SellerDeps
}

// NewSellerRunner constructs a SellerRunner.
func NewSellerRunner(deps SellerDeps) *SellerRunner {
	if deps.Now == nil {
		deps.Now = time.Now
	}
	return &SellerRunner{deps: deps}
}

func (s *SellerRunner) Tick(ctx context.Context) TickResult {
	var result TickResult

	tasks, err := s.deps.Store.ListTasks(ctx)
	if err != nil {
		result.fail("list local tasks", err)
		return result
	}

	s.publishUnpublished(ctx, tasks, &result)
	assignApplicants(ctx, s.deps.Market, s.deps.Escrow, s.deps.Reputation, tasks, s.deps.Handle.Address.Hex(), &result)
	s.applyToRequests(ctx, tasks, &result)
	s.submitAssigned(ctx, tasks, &result)
	s.respondToNeeds(&result)

	return result
}

func (s *SellerRunner) publishUnpublished(ctx context.Context, tasks []*escrow.Task, result *TickResult) {
	published := make(map[string]bool)
	for _, t := range tasks {
		if t.PublisherAddress == s.deps.Handle.Address.Hex() && !t.State.Terminal() {
			published[t.Category] = true
		}
	}

	for _, p := range s.deps.Catalog.Offered {
		if published[p.Name] {
			continue
		}
		bounty := config.ToSmallestUnit(p.PriceUSDC, s.deps.TokenDecimals)
		taskID, err := s.deps.Market.CreateTask(ctx, marketplace.CreateTaskFields{
			Title:            requestPrefix + p.Name,
			Description:      p.Description,
			Category:         p.Name,
			Bounty:           bounty,
			EvidenceRequired: p.EvidenceRequired,
			Deadline:         s.deps.Now().Add(7 * 24 * time.Hour),
		})
		if err != nil {
			result.fail("create_task "+p.Name, err)
			continue
		}
		t := &escrow.Task{TaskID: taskID, Category: p.Name}
		if err := s.deps.Escrow.Publish(ctx, t, s.deps.Handle.Address.Hex(), bounty, evidenceKindStrings(p.EvidenceRequired)); err != nil {
			result.fail("publish "+p.Name, err)
			continue
		}
		result.ok("published " + p.Name)
	}
}

func (s *SellerRunner) applyToRequests(ctx context.Context, localTasks []*escrow.Task, result *TickResult) {
	known := make(map[string]bool)
	for _, t := range localTasks {
		known[t.TaskID] = true
	}

	remote, err := s.deps.Market.Browse(ctx, marketplace.BrowseFilter{})
	if err != nil {
		result.fail("browse", err)
		return
	}
	for _, rt := range remote {
		if known[rt.TaskID] {
			continue
		}
		if !strings.HasPrefix(rt.Title, requestPrefix) {
			continue
		}
		if _, ok := s.deps.Catalog.Find(rt.Category); !ok {
			continue
		}
		appID, err := s.deps.Market.Apply(ctx, rt.TaskID, "fulfilling "+rt.Category)
		if err != nil {
			result.fail("apply "+rt.TaskID, err)
			continue
		}
		t := &escrow.Task{TaskID: rt.TaskID, Category: rt.Category}
		if err := s.deps.Escrow.Publish(ctx, t, rt.PublisherAddress, rt.Bounty, evidenceKindStrings(rt.EvidenceRequired)); err != nil {
			result.fail("record remote task "+rt.TaskID, err)
			continue
		}
		if err := s.deps.Escrow.Apply(ctx, t, appID); err != nil {
			result.fail("apply transition "+rt.TaskID, err)
			continue
		}
		result.ok("applied to " + rt.TaskID)
	}
}

func (s *SellerRunner) submitAssigned(ctx context.Context, tasks []*escrow.Task, result *TickResult) {
	for _, t := range tasks {
		if t.State != escrow.StateAssigned || t.ExecutorAddress != s.deps.Handle.Address.Hex() {
			continue
		}
		evidence := produceEvidence(t)
		submissionID, err := s.deps.Market.Submit(ctx, t.TaskID, s.deps.Handle.Address.Hex(), evidence)
		if err != nil {
			result.fail("submit "+t.TaskID, err)
			continue
		}
		raw := make(map[string]any, len(evidence))
		for k, v := range evidence {
			raw[string(k)] = v
		}
		if err := s.deps.Escrow.Submit(ctx, t, submissionID, raw); err != nil {
			result.fail("submit transition "+t.TaskID, err)
			continue
		}
		result.ok("submitted evidence for " + t.TaskID)
	}
}

func (s *SellerRunner) respondToNeeds(result *TickResult) {
	if s.deps.Chat == nil {
		return
	}
	line, err := s.deps.Chat.Recv(context.Background(), 200*time.Millisecond)
	if err != nil {
		return
	}
	need, ok := chat.ParseNeed(line.Text)
	if !ok {
		return
	}
	product, ok := s.deps.Catalog.Find(need.Product)
	if !ok {
		return
	}
	s.deps.Chat.Send(line.Channel, chat.FormatHave(chat.Have{
		Product:     product.Name,
		PriceUSDC:   product.PriceUSDC,
		Description: product.Description,
	}))
	result.ok("answered NEED for " + need.Product)
}

// produceEvidence synthesizes a payload for each required evidence kind.
// The payload content itself is opaque to the core (spec treats content
// transformation as outside its scope); this only satisfies the shape
// validated by ValidateEvidence.
func produceEvidence(t *escrow.Task) map[marketplace.EvidenceKind]any {
	out := make(map[marketplace.EvidenceKind]any, len(t.EvidenceRequired))
	for _, kind := range t.EvidenceRequired {
		out[marketplace.EvidenceKind(kind)] = fmt.Sprintf("delivered:%s:%s", t.TaskID, kind)
	}
	return out
}

func evidenceKindStrings(kinds []marketplace.EvidenceKind) []string {
	out := make([]string, len(kinds))
	for i, k := range kinds {
		out[i] = string(k)
	}
	return out
}
