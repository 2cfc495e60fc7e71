package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/karmacadabra/agent/internal/chat"
	"github.com/karmacadabra/agent/internal/config"
	"github.com/karmacadabra/agent/internal/escrow"
	"github.com/karmacadabra/agent/internal/facilitator"
	"github.com/karmacadabra/agent/internal/identity"
	"github.com/karmacadabra/agent/internal/marketplace"
	"github.com/karmacadabra/agent/internal/payment"
	"github.com/karmacadabra/agent/internal/reputation"
	"github.com/karmacadabra/agent/internal/store"
)

// BuyerSellerDeps are the components a BuyerSellerRunner composes. Unlike
// the pipeline buyer (C9), the extractor buys exactly one upstream
// product, transforms it, and republishes the result -- no ordered chain.
type BuyerSellerDeps struct {
	Handle        *identity.Handle
	Market        *marketplace.Client
	Escrow        *escrow.Machine
	Store         *store.Store
	Chat          *chat.Conn // optional
	Signer        *payment.Signer
	Facilitator   *facilitator.Client
	Budget        *Budget
	Reputation    *reputation.Cache // optional; nil degrades assignment to FIFO
	Upstream      Product // the product this agent buys
	Downstream    Product // the product this agent republishes after transforming
	TokenDecimals int
	Now           func() time.Time
}

// BuyerSellerRunner implements the extractor role of spec §4.8: buy the
// upstream product, transform it, publish the transformed product.
type BuyerSellerRunner struct {
	deps BuyerSellerDeps
}

// NewBuyerSellerRunner constructs a BuyerSellerRunner.
func NewBuyerSellerRunner(deps BuyerSellerDeps) *BuyerSellerRunner {
	if deps.Now == nil {
		deps.Now = time.Now
	}
	return &BuyerSellerRunner{deps: deps}
}

func (r *BuyerSellerRunner) Tick(ctx context.Context) TickResult {
	var result TickResult

	tasks, err := r.deps.Store.ListTasks(ctx)
	if err != nil {
		result.fail("list local tasks", err)
		return result
	}

	assignApplicants(ctx, r.deps.Market, r.deps.Escrow, r.deps.Reputation, tasks, r.deps.Handle.Address.Hex(), &result)
	r.buyUpstream(ctx, tasks, &result)
	r.transformAndPublish(ctx, tasks, &result)
	r.fulfillDownstreamAssignments(ctx, tasks, &result)

	return result
}

// buyUpstream requests the upstream product if not already owned or
// in-flight this cycle, then approves and pays once it is delivered.
func (r *BuyerSellerRunner) buyUpstream(ctx context.Context, tasks []*escrow.Task, result *TickResult) {
	if r.deps.Store.HasPurchase(r.deps.Upstream.Name, r.cycleTaskID()) {
		return
	}

	var existing *escrow.Task
	for _, t := range tasks {
		if t.Category == r.deps.Upstream.Name && t.PublisherAddress == r.deps.Handle.Address.Hex() && !t.State.Terminal() {
			existing = t
			break
		}
	}

	if existing == nil {
		if !r.deps.Budget.CanSpend(config.ToSmallestUnit(r.deps.Upstream.PriceUSDC, r.deps.TokenDecimals)) {
			result.ok("budget gate blocks upstream purchase: " + r.deps.Upstream.Name)
			return
		}
		bounty := config.ToSmallestUnit(r.deps.Upstream.PriceUSDC, r.deps.TokenDecimals)
		taskID, err := r.deps.Market.CreateTask(ctx, marketplace.CreateTaskFields{
			Title:            requestPrefix + r.deps.Upstream.Name,
			Description:      r.deps.Upstream.Description,
			Category:         r.deps.Upstream.Name,
			Bounty:           bounty,
			EvidenceRequired: r.deps.Upstream.EvidenceRequired,
			Deadline:         r.deps.Now().Add(7 * 24 * time.Hour),
		})
		if err != nil {
			result.fail("create_task "+r.deps.Upstream.Name, err)
			return
		}
		t := &escrow.Task{TaskID: taskID, Category: r.deps.Upstream.Name}
		if err := r.deps.Escrow.Publish(ctx, t, r.deps.Handle.Address.Hex(), bounty, evidenceKindStrings(r.deps.Upstream.EvidenceRequired)); err != nil {
			result.fail("publish "+r.deps.Upstream.Name, err)
			return
		}
		result.ok("requested upstream " + r.deps.Upstream.Name)
		return
	}

	if existing.State != escrow.StateSubmitted {
		return
	}
	if err := r.deps.Escrow.Approve(ctx, existing); err != nil {
		result.fail("approve "+existing.TaskID, err)
		return
	}
	if existing.State != escrow.StateApproved {
		result.ok("rejected upstream delivery " + existing.TaskID)
		return
	}
	if err := r.deps.Market.Approve(ctx, existing.TaskID, existing.SubmissionID); err != nil {
		result.fail("remote approve "+existing.TaskID, err)
		return
	}
	amountDecimal := smallestUnitToDecimal(existing.Bounty, r.deps.TokenDecimals)
	auth, err := r.deps.Signer.Authorize(r.deps.Handle.Address, common.HexToAddress(existing.ExecutorAddress), amountDecimal, r.deps.TokenDecimals, r.deps.Handle)
	if err != nil {
		result.fail("sign authorization "+existing.TaskID, err)
		return
	}
	receipt, err := r.deps.Facilitator.Submit(ctx, auth)
	if err != nil {
		result.fail("submit authorization "+existing.TaskID, err)
		return
	}
	if err := r.deps.Store.AppendLedgerEntry(ctx, store.LedgerEntry{
		From: auth.From.Hex(), To: auth.To.Hex(), Value: auth.Value.Int64(),
		Nonce: auth.NonceHex(), ValidAfter: auth.ValidAfter, ValidBefore: auth.ValidBefore,
		IssuedAt: r.deps.Now(),
	}); err != nil {
		result.fail("append ledger "+existing.TaskID, err)
		return
	}
	r.deps.Budget.Record(auth.Value.Int64())
	if err := r.deps.Store.SavePurchase(ctx, r.deps.Upstream.Name, r.cycleTaskID(), []byte(fmt.Sprintf("submission:%s tx:%s", existing.SubmissionID, receipt.TxHash))); err != nil {
		result.fail("record purchase "+existing.TaskID, err)
		return
	}
	if err := r.deps.Escrow.Settle(ctx, existing); err != nil {
		result.fail("settle "+existing.TaskID, err)
		return
	}
	result.ok("bought upstream " + r.deps.Upstream.Name)
}

// transformAndPublish republishes the downstream product once the upstream
// purchase has landed, and only once per upstream delivery.
func (r *BuyerSellerRunner) transformAndPublish(ctx context.Context, tasks []*escrow.Task, result *TickResult) {
	if !r.deps.Store.HasPurchase(r.deps.Upstream.Name, r.cycleTaskID()) {
		return
	}
	for _, t := range tasks {
		if t.Category == r.deps.Downstream.Name && t.PublisherAddress == r.deps.Handle.Address.Hex() && !t.State.Terminal() {
			return
		}
	}
	bounty := config.ToSmallestUnit(r.deps.Downstream.PriceUSDC, r.deps.TokenDecimals)
	taskID, err := r.deps.Market.CreateTask(ctx, marketplace.CreateTaskFields{
		Title:            requestPrefix + r.deps.Downstream.Name,
		Description:      r.deps.Downstream.Description,
		Category:         r.deps.Downstream.Name,
		Bounty:           bounty,
		EvidenceRequired: r.deps.Downstream.EvidenceRequired,
		Deadline:         r.deps.Now().Add(7 * 24 * time.Hour),
	})
	if err != nil {
		result.fail("create_task "+r.deps.Downstream.Name, err)
		return
	}
	t := &escrow.Task{TaskID: taskID, Category: r.deps.Downstream.Name}
	if err := r.deps.Escrow.Publish(ctx, t, r.deps.Handle.Address.Hex(), bounty, evidenceKindStrings(r.deps.Downstream.EvidenceRequired)); err != nil {
		result.fail("publish "+r.deps.Downstream.Name, err)
		return
	}
	result.ok("published transformed " + r.deps.Downstream.Name)
}

// fulfillDownstreamAssignments submits evidence for any downstream task
// this agent has been assigned to execute -- mirrors the seller plan but
// scoped to the single downstream product this extractor offers.
func (r *BuyerSellerRunner) fulfillDownstreamAssignments(ctx context.Context, tasks []*escrow.Task, result *TickResult) {
	for _, t := range tasks {
		if t.Category != r.deps.Downstream.Name || t.State != escrow.StateAssigned || t.ExecutorAddress != r.deps.Handle.Address.Hex() {
			continue
		}
		evidence := produceEvidence(t)
		submissionID, err := r.deps.Market.Submit(ctx, t.TaskID, r.deps.Handle.Address.Hex(), evidence)
		if err != nil {
			result.fail("submit "+t.TaskID, err)
			continue
		}
		raw := make(map[string]any, len(evidence))
		for k, v := range evidence {
			raw[string(k)] = v
		}
		if err := r.deps.Escrow.Submit(ctx, t, submissionID, raw); err != nil {
			result.fail("submit transition "+t.TaskID, err)
			continue
		}
		result.ok("submitted transformed evidence for " + t.TaskID)
	}
}

// cycleTaskID keys the upstream purchase blob by product name alone: an
// extractor buys its upstream input at most once per delivered unit, not
// per downstream task, so the purchase key is stable across ticks.
func (r *BuyerSellerRunner) cycleTaskID() string {
	return "current"
}
