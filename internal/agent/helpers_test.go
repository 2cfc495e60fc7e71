package agent

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/karmacadabra/agent/internal/escrow"
	"github.com/karmacadabra/agent/internal/httpclient"
	"github.com/karmacadabra/agent/internal/marketplace"
	"github.com/karmacadabra/agent/internal/store"
)

func TestRemoteStateFetcher_MapsStatusToEscrowState(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"task_id":"t1","status":"settled"}`))
	}))
	defer srv.Close()

	client := marketplace.New(marketplace.Config{BaseURL: srv.URL}, httpclient.New(5*time.Second), nil)
	f := remoteStateFetcher{market: client}

	state, found, err := f.FetchState(context.Background(), "t1")
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, escrow.StateSettled, state)
}

func TestRemoteStateFetcher_ServerErrorPropagates(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	client := marketplace.New(marketplace.Config{BaseURL: srv.URL}, httpclient.New(5*time.Second), nil)
	f := remoteStateFetcher{market: client}

	_, found, err := f.FetchState(context.Background(), "t1")
	require.Error(t, err)
	require.False(t, found)
}

func TestKnownCounterparties_DedupesAcrossTasks(t *testing.T) {
	st, err := store.New(t.TempDir())
	require.NoError(t, err)

	now := time.Unix(0, 0)
	require.NoError(t, st.SaveTask(context.Background(), &escrow.Task{
		TaskID: "t1", State: escrow.StatePublished,
		PublisherAddress: "0xpub", ExecutorAddress: "0xexec",
		CreatedAt: now, UpdatedAt: now, Deadline: now,
	}))
	require.NoError(t, st.SaveTask(context.Background(), &escrow.Task{
		TaskID: "t2", State: escrow.StatePublished,
		PublisherAddress: "0xpub", ExecutorAddress: "",
		CreatedAt: now, UpdatedAt: now, Deadline: now,
	}))

	addrs := knownCounterparties(st)()
	require.ElementsMatch(t, []string{"0xpub", "0xexec"}, addrs)
}
