package scheduler

import (
	"context"
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

// CommunityBuyerDeps are the components a CommunityBuyerRunner composes.
// Unlike the pipeline buyer (C9), a community-buyer has no ordered
// dependency chain: it buys opportunistically from a flat wanted list on
// behalf of a community of downstream consumers it does not track
// individually, per spec §3's role-tag list.
type CommunityBuyerDeps struct {
	Handle        *identity.Handle
	Market        *marketplace.Client
	Escrow        *escrow.Machine
	Store         *store.Store
	Chat          *chat.Conn // optional
	Signer        *payment.Signer
	Facilitator   *facilitator.Client
	Budget        *Budget
	Reputation    *reputation.Cache // optional; nil degrades assignment to FIFO
	Wanted        []Product
	TokenDecimals int
	Now           func() time.Time
}

// CommunityBuyerRunner implements the community-buyer role: request any
// not-yet-owned product from Wanted within budget, approve and pay
// submissions as they arrive, announce outstanding demand over chat.
type CommunityBuyerRunner struct {
	deps CommunityBuyerDeps
}

// NewCommunityBuyerRunner constructs a CommunityBuyerRunner.
func NewCommunityBuyerRunner(deps CommunityBuyerDeps) *CommunityBuyerRunner {
	if deps.Now == nil {
		deps.Now = time.Now
	}
	return &CommunityBuyerRunner{deps: deps}
}

func (c *CommunityBuyerRunner) Tick(ctx context.Context) TickResult {
	var result TickResult

	if c.deps.Budget.Paused() {
		result.ok("budget paused, skipping purchase steps")
	} else {
		c.requestWanted(ctx, &result)
	}

	c.assignApplicants(ctx, &result)
	c.approveSubmissions(ctx, &result)
	c.announceWants(&result)

	return result
}

func (c *CommunityBuyerRunner) assignApplicants(ctx context.Context, result *TickResult) {
	tasks, err := c.deps.Store.ListTasks(ctx)
	if err != nil {
		result.fail("list local tasks", err)
		return
	}
	assignApplicants(ctx, c.deps.Market, c.deps.Escrow, c.deps.Reputation, tasks, c.deps.Handle.Address.Hex(), result)
}

func (c *CommunityBuyerRunner) requestWanted(ctx context.Context, result *TickResult) {
	tasks, err := c.deps.Store.ListTasks(ctx)
	if err != nil {
		result.fail("list local tasks", err)
		return
	}
	owned := make(map[string]bool)
	for _, t := range tasks {
		if t.PublisherAddress == c.deps.Handle.Address.Hex() && !t.State.Terminal() {
			owned[t.Category] = true
		}
	}

	for _, p := range c.deps.Wanted {
		if owned[p.Name] || c.deps.Store.HasPurchase(p.Name, "current") {
			continue
		}
		bounty := config.ToSmallestUnit(p.PriceUSDC, c.deps.TokenDecimals)
		if !c.deps.Budget.CanSpend(bounty) {
			result.ok("budget gate blocks purchase: " + p.Name)
			continue
		}
		taskID, err := c.deps.Market.CreateTask(ctx, marketplace.CreateTaskFields{
			Title:            requestPrefix + p.Name,
			Description:      p.Description,
			Category:         p.Name,
			Bounty:           bounty,
			EvidenceRequired: p.EvidenceRequired,
			Deadline:         c.deps.Now().Add(7 * 24 * time.Hour),
		})
		if err != nil {
			result.fail("create_task "+p.Name, err)
			continue
		}
		t := &escrow.Task{TaskID: taskID, Category: p.Name}
		if err := c.deps.Escrow.Publish(ctx, t, c.deps.Handle.Address.Hex(), bounty, evidenceKindStrings(p.EvidenceRequired)); err != nil {
			result.fail("publish "+p.Name, err)
			continue
		}
		result.ok("requested " + p.Name)
	}
}

func (c *CommunityBuyerRunner) approveSubmissions(ctx context.Context, result *TickResult) {
	tasks, err := c.deps.Store.ListTasks(ctx)
	if err != nil {
		result.fail("list local tasks", err)
		return
	}
	for _, t := range tasks {
		if t.State != escrow.StateSubmitted || t.PublisherAddress != c.deps.Handle.Address.Hex() {
			continue
		}
		if err := c.deps.Escrow.Approve(ctx, t); err != nil {
			result.fail("approve "+t.TaskID, err)
			continue
		}
		if t.State != escrow.StateApproved {
			result.ok("rejected " + t.TaskID + " for missing evidence")
			continue
		}
		if err := c.deps.Market.Approve(ctx, t.TaskID, t.SubmissionID); err != nil {
			result.fail("remote approve "+t.TaskID, err)
			continue
		}
		amountDecimal := smallestUnitToDecimal(t.Bounty, c.deps.TokenDecimals)
		auth, err := c.deps.Signer.Authorize(c.deps.Handle.Address, common.HexToAddress(t.ExecutorAddress), amountDecimal, c.deps.TokenDecimals, c.deps.Handle)
		if err != nil {
			result.fail("sign authorization "+t.TaskID, err)
			continue
		}
		receipt, err := c.deps.Facilitator.Submit(ctx, auth)
		if err != nil {
			result.fail("submit authorization "+t.TaskID, err)
			continue
		}
		if err := c.deps.Store.AppendLedgerEntry(ctx, store.LedgerEntry{
			From:        auth.From.Hex(),
			To:          auth.To.Hex(),
			Value:       auth.Value.Int64(),
			Nonce:       auth.NonceHex(),
			ValidAfter:  auth.ValidAfter,
			ValidBefore: auth.ValidBefore,
			IssuedAt:    c.deps.Now(),
		}); err != nil {
			result.fail("append ledger "+t.TaskID, err)
			continue
		}
		c.deps.Budget.Record(auth.Value.Int64())
		if err := c.deps.Store.SavePurchase(ctx, t.Category, "current", purchaseBlob(t, receipt)); err != nil {
			result.fail("record purchase "+t.TaskID, err)
			continue
		}
		if err := c.deps.Escrow.Settle(ctx, t); err != nil {
			result.fail("settle "+t.TaskID, err)
			continue
		}
		result.ok("approved and recorded community purchase for " + t.TaskID)
	}
}

func (c *CommunityBuyerRunner) announceWants(result *TickResult) {
	if c.deps.Chat == nil {
		return
	}
	for _, p := range c.deps.Wanted {
		if c.deps.Store.HasPurchase(p.Name, "current") {
			continue
		}
		c.deps.Chat.Send("marketplace", chat.FormatNeed(chat.Need{
			Product:     p.Name,
			BudgetUSDC:  p.PriceUSDC,
			ContactHint: c.deps.Handle.Name,
		}))
		result.ok("announced NEED for " + p.Name)
	}
}
