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
	"github.com/karmacadabra/agent/internal/supplychain"
)

// BuyerDeps are the components a BuyerRunner composes.
type BuyerDeps struct {
	Handle      *identity.Handle
	Market      *marketplace.Client
	Escrow      *escrow.Machine
	Store       *store.Store
	Chat        *chat.Conn // optional
	Signer      *payment.Signer
	Facilitator *facilitator.Client
	Budget      *Budget
	Reputation  *reputation.Cache // optional; nil degrades assignment to FIFO
	SupplyChain *supplychain.Tracker
	Products    map[string]Product // product name -> evidence/category metadata for the request
	TokenDecimals int
	Now         func() time.Time
}

// BuyerRunner implements the consumer-only buyer role plan of spec §4.8:
// budget gate, advance the next missing supply-chain step, approve
// submissions and record purchases, announce demand over chat.
type BuyerRunner struct {
	deps BuyerDeps
}

// NewBuyerRunner constructs a BuyerRunner.
func NewBuyerRunner(deps BuyerDeps) *BuyerRunner {
	if deps.Now == nil {
		deps.Now = time.Now
	}
	return &BuyerRunner{deps: deps}
}

func (b *BuyerRunner) Tick(ctx context.Context) TickResult {
	var result TickResult

	if b.deps.Budget.Paused() {
		result.ok("budget paused, skipping purchase steps")
	} else {
		b.advanceSupplyChain(ctx, &result)
	}

	b.assignApplicants(ctx, &result)
	b.approveSubmissions(ctx, &result)
	b.announceNeed(&result)

	return result
}

func (b *BuyerRunner) assignApplicants(ctx context.Context, result *TickResult) {
	tasks, err := b.deps.Store.ListTasks(ctx)
	if err != nil {
		result.fail("list local tasks", err)
		return
	}
	assignApplicants(ctx, b.deps.Market, b.deps.Escrow, b.deps.Reputation, tasks, b.deps.Handle.Address.Hex(), result)
}

func (b *BuyerRunner) advanceSupplyChain(ctx context.Context, result *TickResult) {
	step, pending, err := b.deps.SupplyChain.CurrentStep(ctx)
	if err != nil {
		result.fail("supply chain current step", err)
		return
	}
	if !pending {
		result.ok("supply chain cycle complete")
		return
	}

	tasks, err := b.deps.Store.ListTasks(ctx)
	if err != nil {
		result.fail("list local tasks", err)
		return
	}
	for _, t := range tasks {
		if t.Category == step && !t.State.Terminal() {
			// Already requested this cycle; nothing to publish.
			return
		}
	}

	product := b.deps.Products[step]
	bounty := config.ToSmallestUnit(product.PriceUSDC, b.deps.TokenDecimals)
	if !b.deps.Budget.CanSpend(bounty) {
		result.ok("budget gate blocks next supply chain purchase: " + step)
		return
	}

	taskID, err := b.deps.Market.CreateTask(ctx, marketplace.CreateTaskFields{
		Title:            requestPrefix + step,
		Description:      product.Description,
		Category:         step,
		Bounty:           bounty,
		EvidenceRequired: product.EvidenceRequired,
		Deadline:         b.deps.Now().Add(7 * 24 * time.Hour),
	})
	if err != nil {
		result.fail("create_task "+step, err)
		return
	}
	t := &escrow.Task{TaskID: taskID, Category: step}
	if err := b.deps.Escrow.Publish(ctx, t, b.deps.Handle.Address.Hex(), bounty, evidenceKindStrings(product.EvidenceRequired)); err != nil {
		result.fail("publish "+step, err)
		return
	}
	result.ok("requested next supply-chain step: " + step)
}

func (b *BuyerRunner) approveSubmissions(ctx context.Context, result *TickResult) {
	tasks, err := b.deps.Store.ListTasks(ctx)
	if err != nil {
		result.fail("list local tasks", err)
		return
	}
	for _, t := range tasks {
		if t.State != escrow.StateSubmitted || t.PublisherAddress != b.deps.Handle.Address.Hex() {
			continue
		}
		if err := b.deps.Escrow.Approve(ctx, t); err != nil {
			result.fail("approve "+t.TaskID, err)
			continue
		}
		if t.State != escrow.StateApproved {
			// Evidence validation forced REJECTED; nothing further to do.
			result.ok("rejected " + t.TaskID + " for missing evidence")
			continue
		}
		if err := b.deps.Market.Approve(ctx, t.TaskID, t.SubmissionID); err != nil {
			result.fail("remote approve "+t.TaskID, err)
			continue
		}

		amountDecimal := smallestUnitToDecimal(t.Bounty, b.deps.TokenDecimals)
		auth, err := b.deps.Signer.Authorize(b.deps.Handle.Address, common.HexToAddress(t.ExecutorAddress), amountDecimal, b.deps.TokenDecimals, b.deps.Handle)
		if err != nil {
			result.fail("sign authorization "+t.TaskID, err)
			continue
		}
		receipt, err := b.deps.Facilitator.Submit(ctx, auth)
		if err != nil {
			result.fail("submit authorization "+t.TaskID, err)
			continue
		}
		if err := b.deps.Store.AppendLedgerEntry(ctx, store.LedgerEntry{
			From:        auth.From.Hex(),
			To:          auth.To.Hex(),
			Value:       auth.Value.Int64(),
			Nonce:       auth.NonceHex(),
			ValidAfter:  auth.ValidAfter,
			ValidBefore: auth.ValidBefore,
			IssuedAt:    b.deps.Now(),
		}); err != nil {
			result.fail("append ledger "+t.TaskID, err)
			continue
		}
		if b.deps.Budget != nil {
			b.deps.Budget.Record(auth.Value.Int64())
		}
		if err := b.deps.Store.SavePurchase(ctx, t.Category, t.TaskID, purchaseBlob(t, receipt)); err != nil {
			result.fail("record purchase "+t.TaskID, err)
			continue
		}
		if err := b.deps.Escrow.Settle(ctx, t); err != nil {
			result.fail("settle "+t.TaskID, err)
			continue
		}
		if err := b.deps.SupplyChain.Advance(ctx); err != nil {
			result.fail("advance supply chain", err)
			continue
		}
		result.ok("approved and recorded purchase for " + t.TaskID)
	}
}

func (b *BuyerRunner) announceNeed(result *TickResult) {
	if b.deps.Chat == nil {
		return
	}
	step, pending, err := b.deps.SupplyChain.CurrentStep(context.Background())
	if err != nil || !pending {
		return
	}
	product := b.deps.Products[step]
	b.deps.Chat.Send("marketplace", chat.FormatNeed(chat.Need{
		Product:     step,
		BudgetUSDC:  product.PriceUSDC,
		ContactHint: b.deps.Handle.Name,
	}))
	result.ok("announced NEED for " + step)
}

func purchaseBlob(t *escrow.Task, receipt facilitator.Receipt) []byte {
	return []byte(fmt.Sprintf("submission:%s tx:%s", t.SubmissionID, receipt.TxHash))
}

func smallestUnitToDecimal(value int64, decimals int) float64 {
	scale := 1.0
	for i := 0; i < decimals; i++ {
		scale *= 10
	}
	return float64(value) / scale
}
