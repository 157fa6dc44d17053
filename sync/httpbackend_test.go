package sync_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fieldstack/terminal-core/errs"
	"github.com/fieldstack/terminal-core/queue"
	"github.com/fieldstack/terminal-core/sync"
)

func TestHTTPBackend_SendDecodesOutcome(t *testing.T) {
	_, _, p := newHarness(t)
	ctx := context.Background()
	require.NoError(t, p.SetAPIKey(ctx, "key-1"))

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/operations", r.URL.Path)
		assert.Equal(t, "key-1", r.Header.Get("X-API-Key"))
		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "ORDER", body["kind"])

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"outcome":             "ACCEPTED",
			"server_order_id":     "srv-1",
			"server_order_number": "1001",
		})
	}))
	defer srv.Close()

	backend := sync.NewHTTPBackend(srv.URL, p, 5*time.Second)
	result, err := backend.Send(ctx, queue.Operation{ID: "op-1", Kind: queue.KindOrder, LocalOrderID: "lo-1"}, "sig")
	require.NoError(t, err)
	assert.Equal(t, queue.OutcomeAccepted, result.Outcome)
	assert.Equal(t, "srv-1", result.ServerOrderID)
}

func TestHTTPBackend_SendDecodesConflictOutcome(t *testing.T) {
	_, _, p := newHarness(t)
	ctx := context.Background()
	require.NoError(t, p.SetAPIKey(ctx, "key-1"))

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusConflict)
		json.NewEncoder(w).Encode(map[string]any{
			"outcome":         "CONFLICT",
			"conflict_reason": "order already settled server-side",
		})
	}))
	defer srv.Close()

	backend := sync.NewHTTPBackend(srv.URL, p, 5*time.Second)
	result, err := backend.Send(ctx, queue.Operation{ID: "op-1", Kind: queue.KindOrder, LocalOrderID: "lo-1"}, "sig")
	require.NoError(t, err)
	assert.Equal(t, queue.OutcomeConflict, result.Outcome)
	assert.Equal(t, "order already settled server-side", result.ConflictReason)
}

func TestHTTPBackend_PullDatasetDecodesPage(t *testing.T) {
	_, _, p := newHarness(t)
	ctx := context.Background()
	require.NoError(t, p.SetAPIKey(ctx, "key-1"))

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/datasets/categories", r.URL.Path)
		assert.Equal(t, "3", r.URL.Query().Get("since"))
		json.NewEncoder(w).Encode(map[string]any{
			"version":     4,
			"records":     []map[string]string{{"id": "c1"}},
			"deleted_ids": []string{"c2"},
		})
	}))
	defer srv.Close()

	backend := sync.NewHTTPBackend(srv.URL, p, 5*time.Second)
	page, err := backend.PullDataset(ctx, "categories", 3)
	require.NoError(t, err)
	assert.EqualValues(t, 4, page.Version)
	assert.Equal(t, []string{"c2"}, page.DeletedIDs)
}

func TestHTTPBackend_VerifyIdentityRejectsUnauthorized(t *testing.T) {
	_, _, p := newHarness(t)
	ctx := context.Background()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	backend := sync.NewHTTPBackend(srv.URL, p, 5*time.Second)
	err := backend.VerifyIdentity(ctx, "bad-key")
	require.Error(t, err)
	assert.Equal(t, errs.KindAuthInvalid, errs.KindOf(err))
}
