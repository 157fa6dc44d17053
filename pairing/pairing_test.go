package pairing_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fieldstack/terminal-core/money"
	"github.com/fieldstack/terminal-core/pairing"
	"github.com/fieldstack/terminal-core/store/sqlite"
)

func newTestPairing(t *testing.T) *pairing.Pairing {
	t.Helper()
	store, err := sqlite.Open(context.Background(), ":memory:", t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return pairing.New(store)
}

func TestPair_AllOrNothing(t *testing.T) {
	p := newTestPairing(t)
	ctx := context.Background()

	paired, err := p.IsPaired(ctx)
	require.NoError(t, err)
	assert.False(t, paired)

	require.NoError(t, p.Pair(ctx, pairing.Info{TerminalID: "term-1", TenantID: "t1", LocationID: "loc1"}))

	paired, err = p.IsPaired(ctx)
	require.NoError(t, err)
	assert.True(t, paired)

	info, err := p.Get(ctx)
	require.NoError(t, err)
	assert.Equal(t, "term-1", info.TerminalID)

	require.NoError(t, p.Unpair(ctx))
	paired, err = p.IsPaired(ctx)
	require.NoError(t, err)
	assert.False(t, paired)
}

func TestSign_RequiresPairing(t *testing.T) {
	p := newTestPairing(t)
	_, err := p.Sign([]byte("payload"))
	require.Error(t, err)

	require.NoError(t, p.Pair(context.Background(), pairing.Info{TerminalID: "t", TenantID: "t1", LocationID: "l1"}))
	sig, err := p.Sign([]byte("payload"))
	require.NoError(t, err)
	assert.NotEmpty(t, sig)

	sig2, err := p.Sign([]byte("payload"))
	require.NoError(t, err)
	assert.Equal(t, sig, sig2, "signature must be deterministic for the same payload and secret")
}

// Exposure accounting: sum of offline payments equals
// cash_total + card_total.
func TestExposure_AccumulatesAcrossPayments(t *testing.T) {
	p := newTestPairing(t)
	ctx := context.Background()
	require.NoError(t, p.Pair(ctx, pairing.Info{TerminalID: "t", TenantID: "t1", LocationID: "l1"}))

	require.NoError(t, p.RecordOfflinePayment(ctx, "CASH", money.Parse("10.85")))
	require.NoError(t, p.RecordOfflinePayment(ctx, "CARD_TERMINAL", money.Parse("5.00")))
	require.NoError(t, p.RecordOfflinePayment(ctx, "CASH", money.Parse("2.15")))

	exp, err := p.GetExposure(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, exp.TransactionCount)
	assert.True(t, exp.CashTotal.Equal(money.Parse("13.00").Decimal))
	assert.True(t, exp.CardTotal.Equal(money.Parse("5.00").Decimal))
}

func TestResetExposure_ZeroesCounters(t *testing.T) {
	p := newTestPairing(t)
	ctx := context.Background()
	require.NoError(t, p.Pair(ctx, pairing.Info{TerminalID: "t", TenantID: "t1", LocationID: "l1"}))
	require.NoError(t, p.RecordOfflinePayment(ctx, "CASH", money.Parse("10.00")))

	require.NoError(t, p.ResetExposure(ctx, time.Now().UTC()))

	exp, err := p.GetExposure(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, exp.TransactionCount)
	assert.True(t, exp.CashTotal.Equal(money.Zero.Decimal))
}

func TestResetExposure_GatedByUnsettledOperations(t *testing.T) {
	ctx := context.Background()
	store, err := sqlite.Open(ctx, ":memory:", t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	p := pairing.New(store)

	require.NoError(t, p.Pair(ctx, pairing.Info{TerminalID: "t", TenantID: "t1", LocationID: "l1"}))
	require.NoError(t, p.RecordOfflinePayment(ctx, "CASH", money.Parse("10.00")))

	before := time.Now().UTC().Add(-time.Minute)
	_, err = store.DB().ExecContext(ctx,
		"INSERT INTO pending_operations (id, kind, payload_json, local_order_id, status, retry_count, signature, created_at, updated_at) "+
			"VALUES ('op1', 'PAYMENT', '{}', 'order1', 'PENDING', 0, 'sig', ?, ?)",
		before.Format(time.RFC3339), before.Format(time.RFC3339))
	require.NoError(t, err)

	err = p.ResetExposure(ctx, time.Now().UTC())
	require.ErrorIs(t, err, pairing.ErrExposureNotSettled)

	exp, err := p.GetExposure(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, exp.TransactionCount)
}

func TestNetworkClock_TransitionsRecordOfflineSince(t *testing.T) {
	p := newTestPairing(t)
	ctx := context.Background()

	status, err := p.NetworkStatus(ctx)
	require.NoError(t, err)
	assert.Equal(t, "online", status)

	require.NoError(t, p.SetOffline(ctx))
	status, err = p.NetworkStatus(ctx)
	require.NoError(t, err)
	assert.Equal(t, "offline", status)

	_, ok, err := p.OfflineSince(ctx)
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, p.SetOnline(ctx))
	_, ok, err = p.OfflineSince(ctx)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestPIN_HashAndVerify(t *testing.T) {
	hash, err := pairing.HashPIN("1234")
	require.NoError(t, err)
	assert.True(t, pairing.VerifyPIN(hash, "1234"))
	assert.False(t, pairing.VerifyPIN(hash, "9999"))
}
