package scheduler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"

	"github.com/karmacadabra/agent/internal/escrow"
	"github.com/karmacadabra/agent/internal/facilitator"
	"github.com/karmacadabra/agent/internal/marketplace"
	"github.com/karmacadabra/agent/internal/payment"
	"github.com/karmacadabra/agent/internal/supplychain"
)

func newTestFacilitator(t *testing.T, txHash string) *facilitator.Client {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(facilitator.Receipt{TxHash: txHash, Status: "accepted"})
	}))
	t.Cleanup(srv.Close)
	return facilitator.New(srv.URL, srv.Client(), nil)
}

type memSupplyStore struct {
	state supplychain.State
	ok    bool
}

func (m *memSupplyStore) LoadSupplyChainState(ctx context.Context) (supplychain.State, bool, error) {
	return m.state, m.ok, nil
}

func (m *memSupplyStore) SaveSupplyChainState(ctx context.Context, s supplychain.State) error {
	m.state = s
	m.ok = true
	return nil
}

func newTestSigner() *payment.Signer {
	return payment.NewSigner(payment.Domain{
		TokenContract: common.HexToAddress("0xtoken"),
		ChainID:       1,
		TokenName:     "USD Coin",
		Version:       "2",
	})
}

func TestBuyerRunner_AdvancesSupplyChainWhenBudgetAllows(t *testing.T) {
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
	tracker := supplychain.NewTracker([]string{"raw_logs", "skill_profile"}, &memSupplyStore{})

	runner := NewBuyerRunner(BuyerDeps{
		Handle:        handle,
		Market:        market,
		Escrow:        escrow.NewMachine(st),
		Store:         st,
		Signer:        newTestSigner(),
		Facilitator:   newTestFacilitator(t, "0xtx"),
		Budget:        NewBudget(10_000_000, 0),
		SupplyChain:   tracker,
		Products:      map[string]Product{"raw_logs": {Name: "raw_logs", PriceUSDC: 5, EvidenceRequired: []marketplace.EvidenceKind{marketplace.EvidenceJSONResponse}}},
		TokenDecimals: 6,
	})

	result := runner.Tick(context.Background())
	require.NotEqual(t, "error", result.Status)
	require.Len(t, created, 1)
	require.Equal(t, "raw_logs", created[0]["category"])
}

func TestBuyerRunner_SkipsPurchaseWhenBudgetPaused(t *testing.T) {
	market, _ := newTestMarketClient(t, func(w http.ResponseWriter, r *http.Request) {
		t.Fatalf("no marketplace call expected when paused, got %s %s", r.Method, r.URL.Path)
	})

	st := newTestStore(t)
	handle := newTestHandle(t)
	budget := NewBudget(1000, 900)
	budget.Record(200) // remaining 800 < pause threshold 900

	runner := NewBuyerRunner(BuyerDeps{
		Handle:      handle,
		Market:      market,
		Escrow:      escrow.NewMachine(st),
		Store:       st,
		Signer:      newTestSigner(),
		Facilitator: newTestFacilitator(t, "0xtx"),
		Budget:      budget,
		SupplyChain: supplychain.NewTracker([]string{"raw_logs"}, &memSupplyStore{}),
		Products:    map[string]Product{"raw_logs": {Name: "raw_logs", PriceUSDC: 5}},
	})

	result := runner.Tick(context.Background())
	require.NotEqual(t, "error", result.Status)
	require.Contains(t, result.Actions, "budget paused, skipping purchase steps")
}

func TestBuyerRunner_ApprovesSubmissionAndSettles(t *testing.T) {
	market, _ := newTestMarketClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.Contains(t, r.URL.Path, "/approve")
	})

	st := newTestStore(t)
	handle := newTestHandle(t)
	machine := escrow.NewMachine(st)
	task := &escrow.Task{TaskID: "task-1", Category: "raw_logs"}
	require.NoError(t, machine.Publish(context.Background(), task, handle.Address.Hex(), 5_000_000, []string{"json_response"}))
	require.NoError(t, machine.Apply(context.Background(), task, "app-1"))
	require.NoError(t, machine.Assign(context.Background(), task, "0xexecutor"))
	require.NoError(t, machine.Submit(context.Background(), task, "sub-1", map[string]any{"json_response": "ok"}))

	runner := NewBuyerRunner(BuyerDeps{
		Handle:        handle,
		Market:        market,
		Escrow:        machine,
		Store:         st,
		Signer:        newTestSigner(),
		Facilitator:   newTestFacilitator(t, "0xtx"),
		Budget:        NewBudget(1_000_000, 0),
		SupplyChain:   supplychain.NewTracker([]string{"raw_logs"}, &memSupplyStore{}),
		Products:      map[string]Product{"raw_logs": {Name: "raw_logs", PriceUSDC: 5}},
		TokenDecimals: 6,
	})

	result := runner.Tick(context.Background())
	require.NotEqual(t, "error", result.Status)

	tasks, err := st.ListTasks(context.Background())
	require.NoError(t, err)
	require.Equal(t, escrow.StateSettled, tasks[0].State)
	require.True(t, st.HasPurchase("raw_logs", "task-1"))
}

func TestSmallestUnitToDecimal_ConvertsBack(t *testing.T) {
	require.InDelta(t, 5.0, smallestUnitToDecimal(5_000_000, 6), 0.0001)
	require.InDelta(t, 0.0, smallestUnitToDecimal(0, 6), 0.0001)
}
