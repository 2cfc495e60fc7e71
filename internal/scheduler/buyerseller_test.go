package scheduler

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/karmacadabra/agent/internal/escrow"
	"github.com/karmacadabra/agent/internal/marketplace"
)

func TestBuyerSellerRunner_RequestsUpstreamWhenNotOwned(t *testing.T) {
	var created []map[string]any
	market, _ := newTestMarketClient(t, func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		created = append(created, body)
		json.NewEncoder(w).Encode(map[string]string{"task_id": "task-1"})
	})

	st := newTestStore(t)
	handle := newTestHandle(t)
	runner := NewBuyerSellerRunner(BuyerSellerDeps{
		Handle:        handle,
		Market:        market,
		Escrow:        escrow.NewMachine(st),
		Store:         st,
		Signer:        newTestSigner(),
		Facilitator:   newTestFacilitator(t, "0xtx"),
		Budget:        NewBudget(10_000_000, 0),
		Upstream:      Product{Name: "raw_logs", PriceUSDC: 5, EvidenceRequired: []marketplace.EvidenceKind{marketplace.EvidenceJSONResponse}},
		Downstream:    Product{Name: "skill_profile", PriceUSDC: 15},
		TokenDecimals: 6,
	})

	result := runner.Tick(context.Background())
	require.NotEqual(t, "error", result.Status)
	require.Len(t, created, 1)
	require.Equal(t, "raw_logs", created[0]["category"])
}

func TestBuyerSellerRunner_PublishesDownstreamOnceUpstreamOwned(t *testing.T) {
	var created []map[string]any
	market, _ := newTestMarketClient(t, func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		created = append(created, body)
		json.NewEncoder(w).Encode(map[string]string{"task_id": "task-2"})
	})

	st := newTestStore(t)
	handle := newTestHandle(t)
	require.NoError(t, st.SavePurchase(context.Background(), "raw_logs", "current", []byte("owned")))

	runner := NewBuyerSellerRunner(BuyerSellerDeps{
		Handle:        handle,
		Market:        market,
		Escrow:        escrow.NewMachine(st),
		Store:         st,
		Signer:        newTestSigner(),
		Facilitator:   newTestFacilitator(t, "0xtx"),
		Budget:        NewBudget(10_000_000, 0),
		Upstream:      Product{Name: "raw_logs", PriceUSDC: 5},
		Downstream:    Product{Name: "skill_profile", PriceUSDC: 15, EvidenceRequired: []marketplace.EvidenceKind{marketplace.EvidenceStructuredData}},
		TokenDecimals: 6,
	})

	result := runner.Tick(context.Background())
	require.NotEqual(t, "error", result.Status)
	require.Len(t, created, 1)
	require.Equal(t, "skill_profile", created[0]["category"])
}
