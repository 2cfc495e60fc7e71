package scheduler

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/karmacadabra/agent/internal/escrow"
	"github.com/karmacadabra/agent/internal/marketplace"
)

func TestCommunityBuyerRunner_RequestsWantedProductsWithinBudget(t *testing.T) {
	var created []map[string]any
	market, _ := newTestMarketClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodPost && r.URL.Path == "/tasks":
			var body map[string]any
			require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			created = append(created, body)
			json.NewEncoder(w).Encode(map[string]string{"task_id": "task-1"})
		case r.Method == http.MethodGet && strings.HasSuffix(r.URL.Path, "/applications"):
			json.NewEncoder(w).Encode(map[string]any{"applications": []marketplace.Application{}})
		default:
			t.Fatalf("unexpected request %s %s", r.Method, r.URL.Path)
		}
	})

	st := newTestStore(t)
	handle := newTestHandle(t)
	runner := NewCommunityBuyerRunner(CommunityBuyerDeps{
		Handle:        handle,
		Market:        market,
		Escrow:        escrow.NewMachine(st),
		Store:         st,
		Signer:        newTestSigner(),
		Facilitator:   newTestFacilitator(t, "0xtx"),
		Budget:        NewBudget(10_000_000, 0),
		Wanted:        []Product{{Name: "raw_logs", PriceUSDC: 5, EvidenceRequired: []marketplace.EvidenceKind{marketplace.EvidenceJSONResponse}}, {Name: "skill_profile", PriceUSDC: 10, EvidenceRequired: []marketplace.EvidenceKind{marketplace.EvidenceJSONResponse}}},
		TokenDecimals: 6,
	})

	result := runner.Tick(context.Background())
	require.NotEqual(t, "error", result.Status)
	require.Len(t, created, 2)
}

func TestCommunityBuyerRunner_SkipsAlreadyPurchasedProduct(t *testing.T) {
	market, _ := newTestMarketClient(t, func(w http.ResponseWriter, r *http.Request) {
		t.Fatalf("no marketplace call expected, got %s %s", r.Method, r.URL.Path)
	})

	st := newTestStore(t)
	handle := newTestHandle(t)
	require.NoError(t, st.SavePurchase(context.Background(), "raw_logs", "current", []byte("owned")))

	runner := NewCommunityBuyerRunner(CommunityBuyerDeps{
		Handle:        handle,
		Market:        market,
		Escrow:        escrow.NewMachine(st),
		Store:         st,
		Signer:        newTestSigner(),
		Facilitator:   newTestFacilitator(t, "0xtx"),
		Budget:        NewBudget(10_000_000, 0),
		Wanted:        []Product{{Name: "raw_logs", PriceUSDC: 5}},
		TokenDecimals: 6,
	})

	result := runner.Tick(context.Background())
	require.NotEqual(t, "error", result.Status)
}
