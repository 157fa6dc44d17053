package sync_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fieldstack/terminal-core/catalog"
	"github.com/fieldstack/terminal-core/money"
	"github.com/fieldstack/terminal-core/pairing"
	"github.com/fieldstack/terminal-core/queue"
	"github.com/fieldstack/terminal-core/store/sqlite"
	"github.com/fieldstack/terminal-core/sync"
)

type fakeBackend struct {
	pages      map[string][]catalog.Category
	identityOK bool
	sendResult queue.Result
}

func (b *fakeBackend) Send(ctx context.Context, op queue.Operation, sig string) (queue.Result, error) {
	return b.sendResult, nil
}

func (b *fakeBackend) PullDataset(ctx context.Context, key string, modifiedSince int64) (sync.DatasetPage, error) {
	if key != catalog.DatasetCategories {
		return sync.DatasetPage{Version: modifiedSince}, nil
	}
	rows := b.pages[key]
	raw, _ := json.Marshal(rows)
	return sync.DatasetPage{Version: modifiedSince + 1, Records: raw}, nil
}

func (b *fakeBackend) VerifyIdentity(ctx context.Context, apiKey string) error {
	if !b.identityOK {
		return assertErr{}
	}
	return nil
}

type assertErr struct{}

func (assertErr) Error() string { return "invalid key" }

func newHarness(t *testing.T) (*catalog.Cache, *queue.Queue, *pairing.Pairing) {
	t.Helper()
	store, err := sqlite.Open(context.Background(), ":memory:", t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	p := pairing.New(store)
	require.NoError(t, p.Pair(context.Background(), pairing.Info{TerminalID: "t", TenantID: "t1", LocationID: "l1"}))

	cache := catalog.New(store, p)
	q := queue.New(store, p, p)
	return cache, q, p
}

// A tick advances the categories cursor by exactly one step from its
// prior value; the fake returns empty pages for every other dataset,
// and an empty page writes no version.
func TestDeltaPull_AdvancesCursorPerDataset(t *testing.T) {
	cache, q, p := newHarness(t)
	ctx := context.Background()

	backend := &fakeBackend{
		identityOK: true,
		pages: map[string][]catalog.Category{
			catalog.DatasetCategories: {{ID: "c1", Name: "Drinks"}},
		},
	}

	engine := sync.New(cache, q, p, backend, time.Hour)
	require.NoError(t, p.SetAPIKey(ctx, "key-1"))
	require.NoError(t, engine.VerifyAuth(ctx))

	ctx2, cancel := context.WithCancel(ctx)
	engine.Start(ctx2)
	defer func() {
		cancel()
		engine.Stop()
	}()

	require.Eventually(t, func() bool {
		versions, err := cache.Versions(ctx)
		require.NoError(t, err)
		return versions[catalog.DatasetCategories] == 1
	}, 2*time.Second, 10*time.Millisecond)

	cat, err := cache.GetCategory(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, "Drinks", cat.Name)
}

func TestVerifyAuth_ClearsKeyOnRejection(t *testing.T) {
	cache, q, p := newHarness(t)
	ctx := context.Background()
	require.NoError(t, p.SetAPIKey(ctx, "stale-key"))

	backend := &fakeBackend{identityOK: false}
	engine := sync.New(cache, q, p, backend, time.Hour)

	err := engine.VerifyAuth(ctx)
	require.Error(t, err)

	key, err := p.APIKey(ctx)
	require.NoError(t, err)
	assert.Empty(t, key)
}

// The exposure guard blocks a payment that would breach the daily cap.
func TestExposureGuard_BlocksOverDailyCap(t *testing.T) {
	_, _, p := newHarness(t)
	ctx := context.Background()

	guard := sync.NewExposureGuard(p, "", "20.00", 0)
	require.NoError(t, guard.Check(ctx, money.Parse("15.00")))
	require.NoError(t, p.RecordOfflinePayment(ctx, "CASH", money.Parse("15.00")))

	err := guard.Check(ctx, money.Parse("10.00"))
	require.Error(t, err)
}

func TestExposureGuard_BlocksOverTransactionCap(t *testing.T) {
	_, _, p := newHarness(t)
	ctx := context.Background()

	guard := sync.NewExposureGuard(p, "50.00", "", 0)
	err := guard.Check(ctx, money.Parse("75.00"))
	require.Error(t, err)
}

func TestExposureGuard_BlocksOverCountCap(t *testing.T) {
	_, _, p := newHarness(t)
	ctx := context.Background()

	guard := sync.NewExposureGuard(p, "", "", 1)
	require.NoError(t, guard.Check(ctx, money.Parse("5.00")))
	require.NoError(t, p.RecordOfflinePayment(ctx, "CASH", money.Parse("5.00")))

	err := guard.Check(ctx, money.Parse("5.00"))
	require.Error(t, err)
}
