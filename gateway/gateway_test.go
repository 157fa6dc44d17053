package gateway_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fieldstack/terminal-core/catalog"
	"github.com/fieldstack/terminal-core/errs"
	"github.com/fieldstack/terminal-core/gateway"
	"github.com/fieldstack/terminal-core/pairing"
	"github.com/fieldstack/terminal-core/queue"
	"github.com/fieldstack/terminal-core/store/sqlite"
	"github.com/fieldstack/terminal-core/sync"
)

func newHarness(t *testing.T) (*gateway.Gateway, *pairing.Pairing) {
	t.Helper()
	store, err := sqlite.Open(context.Background(), ":memory:", t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	p := pairing.New(store)
	cache := catalog.New(store, p)
	q := queue.New(store, p, p)
	guard := sync.NewExposureGuard(p, "", "", 0)

	gw := gateway.New(store, cache, q, p, nil, nil, guard)
	return gw, p
}

func TestGateway_RejectsUnpairedCalls(t *testing.T) {
	gw, _ := newHarness(t)
	ctx := context.Background()

	_, gerr := gw.GetCachedProducts(ctx, "")
	require.Error(t, gerr)
	assert.Equal(t, errs.KindNotPaired, gerr.Kind)

	_, gerr = gw.RecordOrder(ctx, queue.OfflineOrder{ID: "o1"})
	require.Error(t, gerr)
	assert.Equal(t, errs.KindNotPaired, gerr.Kind)
}

func TestGateway_PairThenRecordOrder(t *testing.T) {
	gw, p := newHarness(t)
	ctx := context.Background()

	require.NoError(t, p.Pair(ctx, pairing.Info{TerminalID: "t", TenantID: "t1", LocationID: "l1"}))

	paired, gerr := gw.IsPaired(ctx)
	require.Nil(t, gerr)
	assert.True(t, paired)

	op, gerr := gw.RecordOrder(ctx, queue.OfflineOrder{ID: "o1", PayloadJSON: `{}`})
	require.Nil(t, gerr)
	assert.Equal(t, queue.StatusPending, op.Status)

	pending, gerr := gw.ListPending(ctx, "o1")
	require.Nil(t, gerr)
	assert.Len(t, pending, 1)
}

func TestGateway_BackupAndRestore(t *testing.T) {
	dir := t.TempDir()
	store, err := sqlite.Open(context.Background(), dir+"/terminal.db", dir+"/backups")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	p := pairing.New(store)
	cache := catalog.New(store, p)
	q := queue.New(store, p, p)
	guard := sync.NewExposureGuard(p, "", "", 0)
	gw := gateway.New(store, cache, q, p, nil, nil, guard)

	ctx := context.Background()
	require.NoError(t, p.Pair(ctx, pairing.Info{TerminalID: "t", TenantID: "t1", LocationID: "l1"}))

	path, gerr := gw.CreateBackup(ctx)
	require.Nil(t, gerr)
	assert.NotEmpty(t, path)

	time.Sleep(10 * time.Millisecond)
	gerr = gw.RestoreBackup(ctx)
	require.Nil(t, gerr)

	paired, gerr := gw.IsPaired(ctx)
	require.Nil(t, gerr)
	assert.True(t, paired, "pairing info must survive a restore from a post-pair backup")
}

func TestGateway_VacuumAndClearCache(t *testing.T) {
	gw, p := newHarness(t)
	ctx := context.Background()
	require.NoError(t, p.Pair(ctx, pairing.Info{TerminalID: "t", TenantID: "t1", LocationID: "l1"}))

	gerr := gw.VacuumDB(ctx)
	require.Nil(t, gerr)

	gerr = gw.ClearCache(ctx)
	require.Nil(t, gerr)
}

func TestGateway_RecordPaymentBlockedByLimit(t *testing.T) {
	store, err := sqlite.Open(context.Background(), ":memory:", t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	p := pairing.New(store)
	cache := catalog.New(store, p)
	q := queue.New(store, p, p)
	guard := sync.NewExposureGuard(p, "5.00", "", 0)
	gw := gateway.New(store, cache, q, p, nil, nil, guard)

	ctx := context.Background()
	require.NoError(t, p.Pair(ctx, pairing.Info{TerminalID: "t", TenantID: "t1", LocationID: "l1"}))

	_, gerr := gw.RecordPayment(ctx, queue.OfflinePayment{LocalOrderID: "o1", Method: "CASH", Amount: "10.00"})
	require.Error(t, gerr)
	assert.Equal(t, errs.KindLimitExceeded, gerr.Kind)
	assert.True(t, errors.Is(gerr, errs.ErrLimitExceeded))
}
