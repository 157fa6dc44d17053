/*
exposure.go - offline exposure counters and the network-status clock.

Grounded on the same device_meta key/value table as pairing.go; kept
in its own file because the counters have their own invariant (4):
monotonic across a burst of offline activity, reset only when every
operation predating the reset has reached SENT — an open question in
the source this core resolves explicitly rather than loosely (see
DESIGN.md).
*/
package pairing

import (
	"context"
	"database/sql"
	"errors"
	"strconv"
	"time"

	"github.com/fieldstack/terminal-core/money"
)

// ErrExposureNotSettled is returned by ResetExposure when operations
// predating asOf have not all reached SENT yet — the caller (the sync
// engine) should simply try again after a later drain round.
var ErrExposureNotSettled = errors.New("pairing: operations predating reset point have not all reached SENT")

// RecordOfflinePayment increments the transaction count and the
// appropriate money counter (cash vs. card) by total. Called once per
// accepted offline payment, never decremented outside of ResetExposure.
func (p *Pairing) RecordOfflinePayment(ctx context.Context, method string, total money.Amount) error {
	counterKey := keyOfflineCardTotal
	if method == "CASH" {
		counterKey = keyOfflineCashTotal
	}

	return p.store.WithTx(ctx, func(tx *sql.Tx) error {
		current := money.Parse(mustGetTx(ctx, tx, counterKey))
		if err := putTx(ctx, tx, counterKey, current.Add(total).String()); err != nil {
			return err
		}

		count, _ := strconv.Atoi(mustGetTx(ctx, tx, keyOfflineTxCount))
		return putTx(ctx, tx, keyOfflineTxCount, strconv.Itoa(count+1))
	})
}

// Exposure is the current counters snapshot the gateway's get-exposure
// surface returns.
type Exposure struct {
	TransactionCount int
	CashTotal        money.Amount
	CardTotal        money.Amount
}

// GetExposure reads the current counters.
func (p *Pairing) GetExposure(ctx context.Context) (Exposure, error) {
	count, _ := strconv.Atoi(mustGetVal(p.get(ctx, keyOfflineTxCount)))
	cash := money.Parse(mustGetVal(p.get(ctx, keyOfflineCashTotal)))
	card := money.Parse(mustGetVal(p.get(ctx, keyOfflineCardTotal)))
	return Exposure{TransactionCount: count, CashTotal: cash, CardTotal: card}, nil
}

// ResetExposure zeroes the counters, but only once every operation
// created before asOf has reached SENT (invariant 4) — it reads
// pending_operations directly rather than trusting the caller, since
// an offline burst with a slow-to-settle conflict must keep the
// cumulative totals visible until that operation resolves.
func (p *Pairing) ResetExposure(ctx context.Context, asOf time.Time) error {
	return p.store.WithTx(ctx, func(tx *sql.Tx) error {
		var unsettled int
		err := tx.QueryRowContext(ctx,
			"SELECT COUNT(*) FROM pending_operations WHERE created_at < ? AND status != 'SENT'",
			asOf.UTC().Format(time.RFC3339)).Scan(&unsettled)
		if err != nil {
			return err
		}
		if unsettled > 0 {
			return ErrExposureNotSettled
		}

		if err := putTx(ctx, tx, keyOfflineTxCount, "0"); err != nil {
			return err
		}
		if err := putTx(ctx, tx, keyOfflineCashTotal, "0"); err != nil {
			return err
		}
		return putTx(ctx, tx, keyOfflineCardTotal, "0")
	})
}

// SetOnline clears offline_since, recording the reconnection.
func (p *Pairing) SetOnline(ctx context.Context) error {
	return p.store.WithTx(ctx, func(tx *sql.Tx) error {
		if err := putTx(ctx, tx, keyNetworkStatus, "online"); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, "DELETE FROM device_meta WHERE key = ?", keyOfflineSince)
		return err
	})
}

// SetOffline records the transition timestamp.
func (p *Pairing) SetOffline(ctx context.Context) error {
	now := time.Now().UTC().Format(time.RFC3339)
	return p.store.WithTx(ctx, func(tx *sql.Tx) error {
		if err := putTx(ctx, tx, keyNetworkStatus, "offline"); err != nil {
			return err
		}
		return putTx(ctx, tx, keyOfflineSince, now)
	})
}

// NetworkStatus reports "online" or "offline", defaulting to "online"
// until the monitor records its first state transition.
func (p *Pairing) NetworkStatus(ctx context.Context) (string, error) {
	v, err := p.get(ctx, keyNetworkStatus)
	if err != nil {
		return "", err
	}
	if v == "" {
		return "online", nil
	}
	return v, nil
}

// OfflineSince returns when the terminal went offline, and zero/false
// if currently online.
func (p *Pairing) OfflineSince(ctx context.Context) (time.Time, bool, error) {
	v, err := p.get(ctx, keyOfflineSince)
	if err != nil {
		return time.Time{}, false, err
	}
	if v == "" {
		return time.Time{}, false, nil
	}
	t, err := time.Parse(time.RFC3339, v)
	if err != nil {
		return time.Time{}, false, err
	}
	return t, true, nil
}

// RecordSyncAttempt and RecordSyncSuccess stamp the sync clocks the
// gateway's get-sync-status surface reports.
func (p *Pairing) RecordSyncAttempt(ctx context.Context) error {
	return p.store.WithTx(ctx, func(tx *sql.Tx) error {
		return putTx(ctx, tx, keyLastSyncAttempt, time.Now().UTC().Format(time.RFC3339))
	})
}

func (p *Pairing) RecordSyncSuccess(ctx context.Context) error {
	return p.store.WithTx(ctx, func(tx *sql.Tx) error {
		return putTx(ctx, tx, keyLastSyncSuccess, time.Now().UTC().Format(time.RFC3339))
	})
}

func (p *Pairing) LastSyncAttempt(ctx context.Context) (time.Time, bool, error) {
	return parseClockKey(ctx, p, keyLastSyncAttempt)
}

func (p *Pairing) LastSyncSuccess(ctx context.Context) (time.Time, bool, error) {
	return parseClockKey(ctx, p, keyLastSyncSuccess)
}

func parseClockKey(ctx context.Context, p *Pairing, key string) (time.Time, bool, error) {
	v, err := p.get(ctx, key)
	if err != nil || v == "" {
		return time.Time{}, false, err
	}
	t, err := time.Parse(time.RFC3339, v)
	return t, err == nil, err
}

func mustGetTx(ctx context.Context, tx *sql.Tx, key string) string {
	var v sql.NullString
	_ = tx.QueryRowContext(ctx, "SELECT value FROM device_meta WHERE key = ?", key).Scan(&v)
	if !v.Valid || v.String == "" {
		return "0"
	}
	return v.String
}

func mustGetVal(v string, err error) string {
	if err != nil || v == "" {
		return "0"
	}
	return v
}
