package agent

import (
	"fmt"

	"github.com/karmacadabra/agent/internal/chat"
	"github.com/karmacadabra/agent/internal/config"
	"github.com/karmacadabra/agent/internal/escrow"
	"github.com/karmacadabra/agent/internal/facilitator"
	"github.com/karmacadabra/agent/internal/identity"
	"github.com/karmacadabra/agent/internal/marketplace"
	"github.com/karmacadabra/agent/internal/payment"
	"github.com/karmacadabra/agent/internal/reputation"
	"github.com/karmacadabra/agent/internal/scheduler"
	"github.com/karmacadabra/agent/internal/store"
	"github.com/karmacadabra/agent/internal/supplychain"
)

// roleDeps are the components every role runner is built from; which
// fields a given role actually uses depends on cfg.Role.
type roleDeps struct {
	handle      *identity.Handle
	market      *marketplace.Client
	machine     *escrow.Machine
	store       *store.Store
	chat        *chat.Conn
	signer      *payment.Signer
	facilitator *facilitator.Client
	budget      *scheduler.Budget
	reputation  *reputation.Cache
	broadcaster *chat.Broadcaster
}

// buildRoleRunner constructs the scheduler.RoleRunner matching cfg.Role,
// populating its Deps from roleDeps and cfg.Catalog per spec §4.8's
// per-role plan.
func buildRoleRunner(cfg *config.Config, d roleDeps) (scheduler.RoleRunner, error) {
	switch cfg.Role {
	case config.RoleSeller:
		return scheduler.NewSellerRunner(scheduler.SellerDeps{
			Handle:        d.handle,
			Market:        d.market,
			Escrow:        d.machine,
			Store:         d.store,
			Chat:          d.chat,
			Catalog:       scheduler.Catalog{Offered: toProducts(cfg.Catalog.Offered)},
			Reputation:    d.reputation,
			TokenDecimals: cfg.Chain.TokenDecimals,
		}), nil

	case config.RoleBuyer:
		return scheduler.NewBuyerRunner(scheduler.BuyerDeps{
			Handle:        d.handle,
			Market:        d.market,
			Escrow:        d.machine,
			Store:         d.store,
			Chat:          d.chat,
			Signer:        d.signer,
			Facilitator:   d.facilitator,
			Budget:        d.budget,
			Reputation:    d.reputation,
			SupplyChain:   supplychain.NewTracker(cfg.SupplyChain, d.store),
			Products:      toProductMap(cfg.Catalog.Wanted),
			TokenDecimals: cfg.Chain.TokenDecimals,
		}), nil

	case config.RoleBuyerSeller:
		return scheduler.NewBuyerSellerRunner(scheduler.BuyerSellerDeps{
			Handle:        d.handle,
			Market:        d.market,
			Escrow:        d.machine,
			Store:         d.store,
			Chat:          d.chat,
			Signer:        d.signer,
			Facilitator:   d.facilitator,
			Budget:        d.budget,
			Reputation:    d.reputation,
			Upstream:      toProduct(cfg.Catalog.Upstream),
			Downstream:    toProduct(cfg.Catalog.Downstream),
			TokenDecimals: cfg.Chain.TokenDecimals,
		}), nil

	case config.RoleCommunityBuyer:
		return scheduler.NewCommunityBuyerRunner(scheduler.CommunityBuyerDeps{
			Handle:        d.handle,
			Market:        d.market,
			Escrow:        d.machine,
			Store:         d.store,
			Chat:          d.chat,
			Signer:        d.signer,
			Facilitator:   d.facilitator,
			Budget:        d.budget,
			Reputation:    d.reputation,
			Wanted:        toProducts(cfg.Catalog.Wanted),
			TokenDecimals: cfg.Chain.TokenDecimals,
		}), nil

	case config.RoleValidator:
		return scheduler.NewValidatorRunner(scheduler.ValidatorDeps{
			Market: d.market,
			Escrow: d.machine,
			Store:  d.store,
			Chat:   d.chat,
			Self:   d.handle.Address.Hex(),
		}), nil

	case config.RoleCoordinator:
		return scheduler.NewCoordinatorRunner(scheduler.CoordinatorDeps{
			Market:      d.market,
			Chat:        d.chat,
			Broadcaster: d.broadcaster,
			IdleAfter:   cfg.CoordinatorIdleAfter,
		}), nil

	default:
		return nil, fmt.Errorf("unsupported role %q", cfg.Role)
	}
}

func toProduct(p config.ProductConfig) scheduler.Product {
	return scheduler.Product{
		Name:             p.Name,
		PriceUSDC:        p.PriceUSDC,
		Description:      p.Description,
		Category:         p.Category,
		EvidenceRequired: toEvidenceKinds(p.EvidenceRequired),
	}
}

func toProducts(cfgs []config.ProductConfig) []scheduler.Product {
	out := make([]scheduler.Product, 0, len(cfgs))
	for _, p := range cfgs {
		out = append(out, toProduct(p))
	}
	return out
}

func toProductMap(cfgs []config.ProductConfig) map[string]scheduler.Product {
	out := make(map[string]scheduler.Product, len(cfgs))
	for _, p := range cfgs {
		out[p.Name] = toProduct(p)
	}
	return out
}

func toEvidenceKinds(kinds []string) []marketplace.EvidenceKind {
	out := make([]marketplace.EvidenceKind, 0, len(kinds))
	for _, k := range kinds {
		out = append(out, marketplace.EvidenceKind(k))
	}
	return out
}
