/*
drain.go - the strictly-ordered drain worker.

Processes PENDING operations oldest-first, one at a time per local
order, honoring Kind's drain priority (ORDER before PAYMENT before
INVENTORY before APPROVAL) so a server-side order exists before
anything that references it is sent. Ordering across independent
local orders is not guaranteed, matching §4.C's contract.
*/
package queue

import (
	"context"
	"database/sql"
	"sort"
	"time"
)

// Drain moves every eligible PENDING operation through SENDING and
// into its terminal state, calling backend for each. It returns the
// number of operations it attempted.
func (q *Queue) Drain(ctx context.Context, backend Backend) (int, error) {
	ops, err := q.allPending(ctx)
	if err != nil {
		return 0, err
	}
	sortForDrain(ops)

	attempted := 0
	for _, op := range ops {
		select {
		case <-ctx.Done():
			return attempted, ctx.Err()
		default:
		}

		if err := q.drainOne(ctx, backend, op); err != nil {
			log.Error().Err(err).Str("operation_id", op.ID).Msg("drain attempt failed")
		}
		attempted++
	}
	return attempted, nil
}

// sortForDrain orders by created_at globally, then stabilizes kind
// priority within a shared local order so ORDER always precedes
// PAYMENT/INVENTORY/APPROVAL for the same local_order_id.
func sortForDrain(ops []Operation) {
	sort.SliceStable(ops, func(i, j int) bool {
		if ops[i].LocalOrderID == ops[j].LocalOrderID {
			return DrainOrder[ops[i].Kind] < DrainOrder[ops[j].Kind]
		}
		return ops[i].CreatedAt.Before(ops[j].CreatedAt)
	})
}

func (q *Queue) allPending(ctx context.Context) ([]Operation, error) {
	now := time.Now().UTC().Format(time.RFC3339)
	rows, err := q.store.DB().QueryContext(ctx,
		"SELECT "+operationColumns+" FROM pending_operations WHERE status = 'PENDING' "+
			"AND (next_attempt_at IS NULL OR next_attempt_at <= ?) ORDER BY created_at ASC", now)
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

func (q *Queue) drainOne(ctx context.Context, backend Backend, op Operation) error {
	if err := q.transition(ctx, op.ID, StatusSending, nil); err != nil {
		return err
	}

	result, sendErr := backend.Send(ctx, op, op.Signature)
	if sendErr != nil {
		// A transport-level error (network unreachable, timeout) is
		// always retryable; HTTP-level permanence is only known once a
		// response comes back, which is what Result.Outcome encodes.
		return q.applyRetry(ctx, op)
	}

	switch result.Outcome {
	case OutcomeAccepted:
		return q.applySuccess(ctx, op, result)
	case OutcomeConflict:
		return q.applyConflict(ctx, op, result)
	case OutcomePermanent:
		return q.applyFailure(ctx, op, result.ErrorBody)
	default: // OutcomeRetryable
		return q.applyRetry(ctx, op)
	}
}

func (q *Queue) transition(ctx context.Context, id string, status Status, retryIncrement *int) error {
	now := time.Now().UTC().Format(time.RFC3339)
	if retryIncrement != nil {
		_, err := q.store.DB().ExecContext(ctx,
			"UPDATE pending_operations SET status = ?, retry_count = retry_count + ?, updated_at = ? WHERE id = ?",
			status, *retryIncrement, now, id)
		return err
	}
	_, err := q.store.DB().ExecContext(ctx,
		"UPDATE pending_operations SET status = ?, updated_at = ? WHERE id = ?", status, now, id)
	return err
}

func (q *Queue) applySuccess(ctx context.Context, op Operation, result Result) error {
	return q.store.WithTx(ctx, func(tx *sql.Tx) error {
		now := time.Now().UTC().Format(time.RFC3339)
		if _, err := tx.ExecContext(ctx,
			"UPDATE pending_operations SET status = 'SENT', updated_at = ? WHERE id = ?", now, op.ID); err != nil {
			return err
		}
		if op.Kind == KindOrder && op.LocalOrderID != "" {
			_, err := tx.ExecContext(ctx, `
				UPDATE offline_orders SET status = 'SYNCED', server_order_id = ?,
					server_order_number = ?, updated_at = ? WHERE id = ?
			`, nullIfEmpty(result.ServerOrderID), nullIfEmpty(result.ServerOrderNumber), now, op.LocalOrderID)
			return err
		}
		return nil
	})
}

func (q *Queue) applyConflict(ctx context.Context, op Operation, result Result) error {
	return q.store.WithTx(ctx, func(tx *sql.Tx) error {
		now := time.Now().UTC().Format(time.RFC3339)
		if _, err := tx.ExecContext(ctx,
			"UPDATE pending_operations SET status = 'FAILED', last_error = ?, updated_at = ? WHERE id = ?",
			result.ConflictReason, now, op.ID); err != nil {
			return err
		}
		if op.LocalOrderID != "" {
			_, err := tx.ExecContext(ctx,
				"UPDATE offline_orders SET status = 'CONFLICT', conflict_reason = ?, updated_at = ? WHERE id = ?",
				result.ConflictReason, now, op.LocalOrderID)
			return err
		}
		return nil
	})
}

func (q *Queue) applyFailure(ctx context.Context, op Operation, errBody string) error {
	now := time.Now().UTC().Format(time.RFC3339)
	_, err := q.store.DB().ExecContext(ctx,
		"UPDATE pending_operations SET status = 'FAILED', last_error = ?, updated_at = ? WHERE id = ?",
		errBody, now, op.ID)
	return err
}

// applyRetry parks op back to PENDING. The next five attempts are
// staggered by RetryPolicy's exponential schedule (next_attempt_at);
// once that schedule is exhausted the operation is left eligible on
// every tick, relying on the periodic delta-pull tick to keep retrying
// at a natural cadence rather than a tight loop. next_attempt_at is
// rounded up to the next whole second, the resolution it is stored at,
// so the stored time is never earlier than the scheduled delay.
func (q *Queue) applyRetry(ctx context.Context, op Operation) error {
	now := time.Now().UTC()
	var nextAttempt any
	if wait, ok := nextRetryDelay(op.RetryCount); ok {
		nextAttempt = now.Add(wait).Truncate(time.Second).Add(time.Second).Format(time.RFC3339)
	}
	_, err := q.store.DB().ExecContext(ctx,
		"UPDATE pending_operations SET status = 'PENDING', retry_count = retry_count + 1, "+
			"next_attempt_at = ?, updated_at = ? WHERE id = ?",
		nextAttempt, now.Format(time.RFC3339), op.ID)
	return err
}
