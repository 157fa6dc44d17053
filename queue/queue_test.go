package queue_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fieldstack/terminal-core/money"
	"github.com/fieldstack/terminal-core/queue"
	"github.com/fieldstack/terminal-core/store/sqlite"
)

type fakeSigner struct{}

func (fakeSigner) Sign(payload []byte) (string, error) { return "sig", nil }

type recordedExposure struct {
	calls []string
}

func (r *recordedExposure) RecordOfflinePayment(ctx context.Context, method string, total money.Amount) error {
	r.calls = append(r.calls, method+":"+total.String())
	return nil
}

type scriptedBackend struct {
	result queue.Result
	err    error
	calls  []queue.Operation
}

func (b *scriptedBackend) Send(ctx context.Context, op queue.Operation, sig string) (queue.Result, error) {
	b.calls = append(b.calls, op)
	return b.result, b.err
}

func newTestQueue(t *testing.T) (*queue.Queue, *recordedExposure) {
	t.Helper()
	store, err := sqlite.Open(context.Background(), ":memory:", t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	exposure := &recordedExposure{}
	return queue.New(store, fakeSigner{}, exposure), exposure
}

// newTestQueueWithStore is newTestQueue for tests that read or force
// rows directly in the store.
func newTestQueueWithStore(t *testing.T) (*queue.Queue, *sqlite.Store) {
	t.Helper()
	store, err := sqlite.Open(context.Background(), ":memory:", t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	return queue.New(store, fakeSigner{}, &recordedExposure{}), store
}

// An offline cash order: enqueue creates exactly one OfflineOrder
// and one Operation, PENDING, atomically.
func TestEnqueueOrder_AtomicWithOperation(t *testing.T) {
	q, _ := newTestQueue(t)
	ctx := context.Background()

	op, err := q.EnqueueOrder(ctx, queue.OfflineOrder{ID: "order-1", PayloadJSON: `{"total":"10.85"}`})
	require.NoError(t, err)
	assert.Equal(t, queue.StatusPending, op.Status)
	assert.Equal(t, "order-1", op.LocalOrderID)
	assert.NotEmpty(t, op.ID)
	assert.NotEmpty(t, op.Signature)

	pending, err := q.ListPending(ctx, "order-1")
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, op.ID, pending[0].ID)
}

func TestEnqueuePayment_UpdatesExposureCounters(t *testing.T) {
	q, exposure := newTestQueue(t)
	ctx := context.Background()

	// The payment row references its offline order, which must exist.
	_, err := q.EnqueueOrder(ctx, queue.OfflineOrder{ID: "order-1"})
	require.NoError(t, err)

	_, err = q.EnqueuePayment(ctx, queue.OfflinePayment{
		LocalOrderID: "order-1", Method: "CASH", Amount: "10.85",
	})
	require.NoError(t, err)
	require.Len(t, exposure.calls, 1)
	assert.Equal(t, "CASH:10.85", exposure.calls[0])
}

// Idempotency key stability: the operation id assigned
// at enqueue time never changes.
func TestOperationID_StableAcrossRetry(t *testing.T) {
	q, _ := newTestQueue(t)
	ctx := context.Background()

	op, err := q.EnqueueOrder(ctx, queue.OfflineOrder{ID: "order-1"})
	require.NoError(t, err)
	originalID := op.ID

	backend := &scriptedBackend{result: queue.Result{Outcome: queue.OutcomeRetryable}}
	_, err = q.Drain(ctx, backend)
	require.NoError(t, err)

	pending, err := q.ListPending(ctx, "order-1")
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, originalID, pending[0].ID)
	assert.Equal(t, 1, pending[0].RetryCount)
}

// A retryable send defers the operation's next eligibility instead of
// leaving it retriable on every tick immediately.
func TestDrain_RetryableDefersNextAttempt(t *testing.T) {
	q, _ := newTestQueue(t)
	ctx := context.Background()

	_, err := q.EnqueueOrder(ctx, queue.OfflineOrder{ID: "order-1"})
	require.NoError(t, err)

	backend := &scriptedBackend{result: queue.Result{Outcome: queue.OutcomeRetryable}}
	n, err := q.Drain(ctx, backend)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	// A second drain right away should skip the deferred operation:
	// allPending filters on next_attempt_at, so the backend sees no
	// further call until the delay elapses.
	n, err = q.Drain(ctx, backend)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
	assert.Len(t, backend.calls, 1)
}

// Reconnect and drain: PENDING -> SENDING -> SENT, OfflineOrder
// PENDING -> SYNCED with server_order_number populated.
func TestDrain_SuccessTransitionsOrderToSynced(t *testing.T) {
	q, store := newTestQueueWithStore(t)
	ctx := context.Background()

	_, err := q.EnqueueOrder(ctx, queue.OfflineOrder{ID: "order-1"})
	require.NoError(t, err)

	backend := &scriptedBackend{result: queue.Result{
		Outcome: queue.OutcomeAccepted, ServerOrderID: "srv-1", ServerOrderNumber: "A-100",
	}}
	n, err := q.Drain(ctx, backend)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	stats, err := q.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, stats.Pending)
	assert.Equal(t, 1, stats.Sent)

	var status, number string
	require.NoError(t, store.DB().QueryRowContext(ctx,
		"SELECT status, server_order_number FROM offline_orders WHERE id = ?", "order-1").Scan(&status, &number))
	assert.Equal(t, "SYNCED", status)
	assert.Equal(t, "A-100", number)
}

// Conflict on drain: OfflineOrder CONFLICT, Operation FAILED, no
// automatic retry.
func TestDrain_ConflictMarksOrderAndOperation(t *testing.T) {
	q, store := newTestQueueWithStore(t)
	ctx := context.Background()

	_, err := q.EnqueueOrder(ctx, queue.OfflineOrder{ID: "order-1"})
	require.NoError(t, err)

	backend := &scriptedBackend{result: queue.Result{
		Outcome: queue.OutcomeConflict, ConflictReason: "duplicate_local_id",
	}}
	_, err = q.Drain(ctx, backend)
	require.NoError(t, err)

	stats, err := q.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Failed)
	assert.Equal(t, 0, stats.Pending)

	var status, reason string
	require.NoError(t, store.DB().QueryRowContext(ctx,
		"SELECT status, conflict_reason FROM offline_orders WHERE id = ?", "order-1").Scan(&status, &reason))
	assert.Equal(t, "CONFLICT", status)
	assert.Equal(t, "duplicate_local_id", reason)

	// No automatic retry: a second drain call must not re-attempt it.
	n, err := q.Drain(ctx, backend)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

// Drain ordering: ORDER must be sent (SENT) before PAYMENT for
// the same local order moves to SENDING.
func TestDrain_OrdersBeforePayments(t *testing.T) {
	q, _ := newTestQueue(t)
	ctx := context.Background()

	_, err := q.EnqueueOrder(ctx, queue.OfflineOrder{ID: "order-1"})
	require.NoError(t, err)
	time.Sleep(2 * time.Millisecond)
	_, err = q.EnqueuePayment(ctx, queue.OfflinePayment{LocalOrderID: "order-1", Method: "CASH", Amount: "5.00"})
	require.NoError(t, err)

	backend := &scriptedBackend{result: queue.Result{Outcome: queue.OutcomeAccepted}}
	_, err = q.Drain(ctx, backend)
	require.NoError(t, err)

	require.Len(t, backend.calls, 2)
	assert.Equal(t, queue.KindOrder, backend.calls[0].Kind)
	assert.Equal(t, queue.KindPayment, backend.calls[1].Kind)
}

// Orphan recovery.
func TestRecoverOrphans_ResetsStaleSending(t *testing.T) {
	q, store := newTestQueueWithStore(t)
	ctx := context.Background()

	_, err := q.EnqueueOrder(ctx, queue.OfflineOrder{ID: "order-1"})
	require.NoError(t, err)

	backend := &scriptedBackend{err: assertErr{}}
	_, _ = q.Drain(ctx, backend) // network error -> retryable -> back to PENDING, not SENDING

	// Force a stuck SENDING row directly, simulating a crash mid-send.
	stale := time.Now().UTC().Add(-10 * time.Minute).Format(time.RFC3339)
	_, err = store.DB().ExecContext(ctx,
		"UPDATE pending_operations SET status = 'SENDING', updated_at = ?", stale)
	require.NoError(t, err)

	n, err := q.RecoverOrphans(ctx, 5*time.Minute)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	pending, err := q.ListPending(ctx, "order-1")
	require.NoError(t, err)
	assert.Len(t, pending, 1)
}

// Purge safety: only SENT rows older than retention are removed.
func TestPurge_OnlyRemovesOldSentRows(t *testing.T) {
	q, _ := newTestQueue(t)
	ctx := context.Background()

	_, err := q.EnqueueOrder(ctx, queue.OfflineOrder{ID: "order-1"})
	require.NoError(t, err)

	backend := &scriptedBackend{result: queue.Result{Outcome: queue.OutcomeAccepted}}
	_, err = q.Drain(ctx, backend)
	require.NoError(t, err)

	n, err := q.Purge(ctx, 7*24*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 0, n, "freshly sent rows must not be purged before retention elapses")

	n, err = q.Purge(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

type assertErr struct{}

func (assertErr) Error() string { return "network unreachable" }
