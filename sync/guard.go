/*
guard.go - the offline exposure guard.

The gateway calls Check before every payment it enqueues, and from
CheckLimit. The caps apply to every payment method, CASH included,
since pairing.Exposure counts cash and card toward the same totals; the
gateway does not consult the network state before checking. Grounded on
the same device_meta counters pairing.RecordOfflinePayment maintains.
*/
package sync

import (
	"context"

	"github.com/fieldstack/terminal-core/errs"
	"github.com/fieldstack/terminal-core/money"
	"github.com/fieldstack/terminal-core/pairing"
)

// ExposureGuard checks a prospective offline payment against the
// configured per-transaction, daily, and count caps before it is
// allowed to enqueue.
type ExposureGuard struct {
	pairing *pairing.Pairing

	TransactionCap string
	DailyCap       string
	CountCap       int
}

// NewExposureGuard builds a guard from the configured cap strings. An
// empty cap string means "no limit" for that dimension.
func NewExposureGuard(p *pairing.Pairing, transactionCap, dailyCap string, countCap int) *ExposureGuard {
	return &ExposureGuard{pairing: p, TransactionCap: transactionCap, DailyCap: dailyCap, CountCap: countCap}
}

// Check validates amount against every configured cap, reading current
// exposure counters fresh on each call so concurrent enqueues cannot
// race past the limit.
func (g *ExposureGuard) Check(ctx context.Context, amount money.Amount) error {
	if g.TransactionCap != "" {
		cap := money.Parse(g.TransactionCap)
		if amount.GreaterThan(cap) {
			return errs.New(errs.KindLimitExceeded, "payment %s exceeds per-transaction cap %s", amount, cap)
		}
	}

	exp, err := g.pairing.GetExposure(ctx)
	if err != nil {
		return err
	}

	if g.CountCap > 0 && exp.TransactionCount+1 > g.CountCap {
		return errs.New(errs.KindLimitExceeded, "offline transaction count cap %d reached", g.CountCap)
	}

	if g.DailyCap != "" {
		cap := money.Parse(g.DailyCap)
		projected := exp.CashTotal.Add(exp.CardTotal).Add(amount)
		if projected.GreaterThan(cap) {
			return errs.New(errs.KindLimitExceeded, "offline daily cap %s would be exceeded", cap)
		}
	}

	return nil
}
