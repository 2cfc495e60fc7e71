package marketplace

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/karmacadabra/agent/internal/kerrors"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) (*Client, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	c := New(Config{
		BaseURL:        srv.URL,
		WalletAddress:  "0xabc",
		RequestTimeout: 2 * time.Second,
		CallSpacing:    time.Millisecond,
		MinBounty:      1,
	}, srv.Client(), zap.NewNop())
	return c, srv
}

func TestApply_ConflictConsumedAsAlreadyApplied(t *testing.T) {
	c, srv := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
	})
	defer srv.Close()

	appID, err := c.Apply(context.Background(), "task-1", "let me help")
	require.NoError(t, err)
	require.Empty(t, appID)
}

func TestSubmit_RejectsMalformedEvidenceLocally(t *testing.T) {
	c, srv := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("request should not reach the server")
	})
	defer srv.Close()

	_, err := c.Submit(context.Background(), "task-1", "executor-1", map[EvidenceKind]any{})
	require.Error(t, err)

	_, err = c.Submit(context.Background(), "task-1", "executor-1", map[EvidenceKind]any{"bogus": "x"})
	require.Error(t, err)

	_, err = c.Submit(context.Background(), "task-1", "executor-1", map[EvidenceKind]any{EvidenceURLReference: ""})
	require.Error(t, err)
}

func TestCreateTask_RejectsMissingEvidenceRequired(t *testing.T) {
	c, srv := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("request should not reach the server")
	})
	defer srv.Close()

	_, err := c.CreateTask(context.Background(), CreateTaskFields{Title: "x", Bounty: 100})
	require.Error(t, err)
}

func TestCreateTask_RejectsBelowMinimumBounty(t *testing.T) {
	c, srv := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("request should not reach the server")
	})
	defer srv.Close()

	_, err := c.CreateTask(context.Background(), CreateTaskFields{
		Title:            "x",
		Bounty:           0,
		EvidenceRequired: []EvidenceKind{EvidenceURLReference},
	})
	require.Error(t, err)
}

func TestCall_SchemaErrorIsPermanent(t *testing.T) {
	c, srv := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
		_, _ = w.Write([]byte(`{"error":"bad shape"}`))
	})
	defer srv.Close()

	err := c.Assign(context.Background(), "task-1", "app-1")
	require.Error(t, err)
	require.True(t, kerrors.As(err, kerrors.KindSchema))
}

func TestCall_RateLimitedThenSucceeds(t *testing.T) {
	calls := 0
	c, srv := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls < 3 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.WriteHeader(http.StatusOK)
	})
	defer srv.Close()

	err := c.Approve(context.Background(), "task-1", "sub-1")
	require.NoError(t, err)
	require.Equal(t, 3, calls)
}

func TestBrowse_DecodesTaskList(t *testing.T) {
	c, srv := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "0xabc", r.Header.Get("X-Agent-Wallet"))
		_ = json.NewEncoder(w).Encode(map[string]any{"tasks": []Task{{TaskID: "t1", Bounty: 500}}})
	})
	defer srv.Close()

	tasks, err := c.Browse(context.Background(), BrowseFilter{Category: "data"})
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	require.Equal(t, "t1", tasks[0].TaskID)
}
