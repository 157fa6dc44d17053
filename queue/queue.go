/*
queue.go - atomic enqueue, strictly-ordered drain, purge, orphan
recovery.

Grounded on generic/ledger.go's Append/AppendBatch (one WithTx
wrapping a row insert plus whatever accounting row it updates) and on
cenkalti/backoff/v4's ExponentialBackOff for the drain worker's retry
policy, the same library AKJUS-bsc-erigon wires for its p2p dialer
backoff.
*/
package queue

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"

	"github.com/fieldstack/terminal-core/errs"
	"github.com/fieldstack/terminal-core/logging"
	"github.com/fieldstack/terminal-core/money"
	"github.com/fieldstack/terminal-core/store/sqlite"
)

var log = logging.With("queue")

// Signer produces the device signature attached to every outbound
// operation. Implemented by the pairing package; kept narrow here to
// avoid an import cycle.
type Signer interface {
	Sign(payload []byte) (string, error)
}

// ExposureRecorder updates the monotonic offline exposure counters
// when an offline payment is accepted. Implemented by the pairing
// package.
type ExposureRecorder interface {
	RecordOfflinePayment(ctx context.Context, method string, total money.Amount) error
}

// Backend is the outbound transport the drain loop calls through. The
// sync package's HTTP client implements it; the queue package itself
// knows nothing about wire formats.
type Backend interface {
	Send(ctx context.Context, op Operation, signature string) (Result, error)
}

// Result is a backend call's classified outcome.
type Result struct {
	Outcome            Outcome
	ServerOrderID      string
	ServerOrderNumber  string
	ConflictReason      string
	ErrorBody          string
}

// Queue is the durable operation write-ahead log.
type Queue struct {
	store    *sqlite.Store
	signer   Signer
	exposure ExposureRecorder
}

// New builds a Queue over the shared store.
func New(store *sqlite.Store, signer Signer, exposure ExposureRecorder) *Queue {
	return &Queue{store: store, signer: signer, exposure: exposure}
}

func newOperationID() string { return uuid.NewString() }

// EnqueueOrder inserts an OfflineOrder and its Operation in one
// transaction; neither ever appears without the other.
func (q *Queue) EnqueueOrder(ctx context.Context, order OfflineOrder) (Operation, error) {
	now := time.Now().UTC()
	order.Status = "PENDING"
	order.CreatedAt = now
	order.UpdatedAt = now

	op := Operation{
		ID:           newOperationID(),
		Kind:         KindOrder,
		LocalOrderID: order.ID,
		Status:       StatusPending,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	payload, err := json.Marshal(order)
	if err != nil {
		return Operation{}, err
	}
	op.PayloadJSON = string(payload)
	if err := q.sign(&op); err != nil {
		return Operation{}, err
	}

	err = q.store.WithTx(ctx, func(tx *sql.Tx) error {
		if err := insertOfflineOrder(ctx, tx, order); err != nil {
			return err
		}
		return insertOperation(ctx, tx, op)
	})
	if err != nil {
		return Operation{}, err
	}
	return op, nil
}

// EnqueuePayment inserts an OfflinePayment and its Operation
// atomically, then records the offline exposure counters — invariant
// 4. Callers must already have checked the exposure guard.
func (q *Queue) EnqueuePayment(ctx context.Context, payment OfflinePayment) (Operation, error) {
	now := time.Now().UTC()
	payment.CreatedAt = now

	op := Operation{
		ID:           newOperationID(),
		Kind:         KindPayment,
		LocalOrderID: payment.LocalOrderID,
		Status:       StatusPending,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	payload, err := json.Marshal(payment)
	if err != nil {
		return Operation{}, err
	}
	op.PayloadJSON = string(payload)
	if err := q.sign(&op); err != nil {
		return Operation{}, err
	}

	err = q.store.WithTx(ctx, func(tx *sql.Tx) error {
		if err := insertOfflinePayment(ctx, tx, payment); err != nil {
			return err
		}
		return insertOperation(ctx, tx, op)
	})
	if err != nil {
		return Operation{}, err
	}

	if q.exposure != nil {
		total := money.Parse(payment.Amount).Add(money.Parse(payment.Surcharge)).Add(money.Parse(payment.Tip))
		if err := q.exposure.RecordOfflinePayment(ctx, payment.Method, total); err != nil {
			log.Error().Err(err).Str("operation_id", op.ID).Msg("payment recorded but exposure counters failed to update")
		}
	}
	return op, nil
}

// EnqueueApproval inserts an OfflineApproval and its Operation
// atomically.
func (q *Queue) EnqueueApproval(ctx context.Context, approval OfflineApproval) (Operation, error) {
	now := time.Now().UTC()
	approval.CreatedAt = now

	op := Operation{
		ID:           newOperationID(),
		Kind:         KindApproval,
		LocalOrderID: approval.ReferenceID,
		Status:       StatusPending,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	payload, err := json.Marshal(approval)
	if err != nil {
		return Operation{}, err
	}
	op.PayloadJSON = string(payload)
	if err := q.sign(&op); err != nil {
		return Operation{}, err
	}

	err = q.store.WithTx(ctx, func(tx *sql.Tx) error {
		if err := insertOfflineApproval(ctx, tx, approval); err != nil {
			return err
		}
		return insertOperation(ctx, tx, op)
	})
	if err != nil {
		return Operation{}, err
	}
	return op, nil
}

func (q *Queue) sign(op *Operation) error {
	if q.signer == nil {
		return nil
	}
	sig, err := q.signer.Sign([]byte(op.ID + "|" + string(op.Kind) + "|" + op.PayloadJSON))
	if err != nil {
		return errs.Wrap(errs.KindNotPaired, err)
	}
	op.Signature = sig
	return nil
}

// ListPending returns PENDING operations in created_at order, limited
// to one local order when localOrderID is not empty. It ignores
// next_attempt_at; the drain loop selects its own eligible rows.
func (q *Queue) ListPending(ctx context.Context, localOrderID string) ([]Operation, error) {
	query := "SELECT " + operationColumns + " FROM pending_operations WHERE status = 'PENDING'"
	var args []any
	if localOrderID != "" {
		query += " AND local_order_id = ?"
		args = append(args, localOrderID)
	}
	query += " ORDER BY created_at ASC"

	rows, err := q.store.DB().QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Operation
	for rows.Next() {
		op, err := scanOperation(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *op)
	}
	return out, rows.Err()
}

// Stats summarizes queue depth by status, the gateway's
// get-queue-stats surface.
type Stats struct {
	Pending  int
	Sending  int
	Sent     int
	Failed   int
	Conflict int
}

func (q *Queue) Stats(ctx context.Context) (Stats, error) {
	rows, err := q.store.DB().QueryContext(ctx, "SELECT status, COUNT(*) FROM pending_operations GROUP BY status")
	if err != nil {
		return Stats{}, err
	}
	defer rows.Close()

	var s Stats
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return Stats{}, err
		}
		switch Status(status) {
		case StatusPending:
			s.Pending = count
		case StatusSending:
			s.Sending = count
		case StatusSent:
			s.Sent = count
		case StatusFailed:
			s.Failed = count
		case StatusConflict:
			s.Conflict = count
		}
	}
	return s, rows.Err()
}

// RecoverOrphans resets any operation stuck in SENDING past maxAge
// back to PENDING — invariant "orphan recovery", run once at startup
// because a process crash mid-send leaves no other signal behind.
func (q *Queue) RecoverOrphans(ctx context.Context, maxAge time.Duration) (int, error) {
	cutoff := time.Now().UTC().Add(-maxAge).Format(time.RFC3339)
	res, err := q.store.DB().ExecContext(ctx, `
		UPDATE pending_operations SET status = 'PENDING', updated_at = ?
		WHERE status = 'SENDING' AND updated_at < ?
	`, time.Now().UTC().Format(time.RFC3339), cutoff)
	if err != nil {
		return 0, err
	}
	n, _ := res.RowsAffected()
	if n > 0 {
		log.Warn().Int64("count", n).Msg("recovered orphan SENDING operations to PENDING")
	}
	return int(n), nil
}

// Purge deletes SENT operations older than retention, compared at the
// one-second resolution created_at is stored with — the only automatic
// deletion the queue ever performs.
func (q *Queue) Purge(ctx context.Context, retention time.Duration) (int, error) {
	cutoff := time.Now().UTC().Add(-retention).Format(time.RFC3339)
	res, err := q.store.DB().ExecContext(ctx,
		"DELETE FROM pending_operations WHERE status = 'SENT' AND created_at <= ?", cutoff)
	if err != nil {
		return 0, err
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// RetryPolicy builds the drain worker's backoff schedule: 1s base,
// doubling to a 30s cap, with jitter — five immediate attempts before
// an operation is parked for the next scheduled tick.
func RetryPolicy() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = time.Second
	b.Multiplier = 2
	b.MaxInterval = 30 * time.Second
	b.RandomizationFactor = 0.3
	return backoff.WithMaxRetries(b, 5)
}

// nextRetryDelay replays RetryPolicy from a fresh instance up through
// attemptCount advances, since the policy's internal state is never
// persisted between drain ticks. It returns ok=false once the five
// immediate attempts are exhausted, telling the caller to park the
// operation until the next scheduled tick instead of scheduling a delay.
func nextRetryDelay(attemptCount int) (time.Duration, bool) {
	policy := RetryPolicy()
	var wait time.Duration
	for i := 0; i <= attemptCount; i++ {
		wait = policy.NextBackOff()
		if wait == backoff.Stop {
			return 0, false
		}
	}
	return wait, true
}

const operationColumns = `id, kind, payload_json, local_order_id, status, retry_count,
	signature, last_error, last_response_json, created_at, updated_at, next_attempt_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanOperation(row rowScanner) (*Operation, error) {
	var op Operation
	var lastErr, lastResp, nextAttempt sql.NullString
	var createdAt, updatedAt string
	err := row.Scan(&op.ID, &op.Kind, &op.PayloadJSON, &op.LocalOrderID, &op.Status, &op.RetryCount,
		&op.Signature, &lastErr, &lastResp, &createdAt, &updatedAt, &nextAttempt)
	if err != nil {
		return nil, err
	}
	op.LastError = lastErr.String
	op.LastResponseRaw = lastResp.String
	op.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	op.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt)
	if nextAttempt.Valid {
		t, _ := time.Parse(time.RFC3339, nextAttempt.String)
		op.NextAttemptAt = &t
	}
	return &op, nil
}

func insertOperation(ctx context.Context, tx *sql.Tx, op Operation) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO pending_operations (
			id, kind, payload_json, local_order_id, status, retry_count, signature,
			last_error, last_response_json, created_at, updated_at, next_attempt_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, op.ID, op.Kind, op.PayloadJSON, op.LocalOrderID, op.Status, op.RetryCount, op.Signature,
		nullIfEmpty(op.LastError), nullIfEmpty(op.LastResponseRaw),
		op.CreatedAt.Format(time.RFC3339), op.UpdatedAt.Format(time.RFC3339), nil)
	if err != nil {
		return fmt.Errorf("insert operation %s: %w", op.ID, err)
	}
	return nil
}

func insertOfflineOrder(ctx context.Context, tx *sql.Tx, o OfflineOrder) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO offline_orders (
			id, tenant_id, location_id, payload_json, status, server_order_id,
			server_order_number, conflict_reason, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, o.ID, o.TenantID, o.LocationID, o.PayloadJSON, o.Status, nullIfEmpty(o.ServerOrderID),
		nullIfEmpty(o.ServerOrderNumber), nullIfEmpty(o.ConflictReason),
		o.CreatedAt.Format(time.RFC3339), o.UpdatedAt.Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("insert offline order %s: %w", o.ID, err)
	}
	return nil
}

func insertOfflinePayment(ctx context.Context, tx *sql.Tx, p OfflinePayment) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO offline_payments (
			id, local_order_id, method, amount, tip, surcharge, provider_txn_id,
			cash_tendered, change_due, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, p.ID, p.LocalOrderID, p.Method, p.Amount, p.Tip, p.Surcharge, nullIfEmpty(p.ProviderTxnID),
		nullIfEmpty(p.CashTendered), nullIfEmpty(p.ChangeDue), p.CreatedAt.Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("insert offline payment %s: %w", p.ID, err)
	}
	return nil
}

func insertOfflineApproval(ctx context.Context, tx *sql.Tx, a OfflineApproval) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO offline_approvals (id, kind, reference_id, pin_hash, value, synced, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, a.ID, a.Kind, nullIfEmpty(a.ReferenceID), a.PINHash, nullIfEmpty(a.Value),
		boolToInt(a.Synced), a.CreatedAt.Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("insert offline approval %s: %w", a.ID, err)
	}
	return nil
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
