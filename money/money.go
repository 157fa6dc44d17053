/*
Package money provides the decimal-backed amount type used everywhere
a price, tax, payment, or exposure total flows through the core.

Grounded on generic/types.go's Amount from the resource-accounting
engine this core grew from (a decimal.Decimal paired with a unit), generalized from time-off
quantities (days/hours) to currency amounts. A POS terminal cannot
tolerate float64 rounding on totals, so every monetary field in the
schema is stored as the decimal's canonical string and parsed back
through this package.
*/
package money

import (
	"database/sql/driver"
	"fmt"

	"github.com/shopspring/decimal"
)

// Amount is a currency quantity. It does not carry a currency code: the
// core is scoped to a single tenant/location whose currency is a
// store-settings concern, not a per-amount one.
type Amount struct {
	decimal.Decimal
}

// Zero is the additive identity.
var Zero = Amount{decimal.Zero}

// New builds an Amount from a float64 literal (test/seed data only;
// production paths should come from Parse on a backend-supplied string).
func New(v float64) Amount {
	return Amount{decimal.NewFromFloat(v)}
}

// Parse reads a decimal string, degrading to Zero on malformed input
// the same way generic.MustParseDecimal did — a malformed amount from
// a cache row should not crash a sync tick.
func Parse(s string) Amount {
	if s == "" {
		return Zero
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return Zero
	}
	return Amount{d}
}

func (a Amount) Add(b Amount) Amount { return Amount{a.Decimal.Add(b.Decimal)} }
func (a Amount) Sub(b Amount) Amount { return Amount{a.Decimal.Sub(b.Decimal)} }
func (a Amount) GreaterThan(b Amount) bool { return a.Decimal.GreaterThan(b.Decimal) }
func (a Amount) LessThan(b Amount) bool    { return a.Decimal.LessThan(b.Decimal) }

func (a Amount) String() string { return a.Decimal.String() }

// Value implements driver.Valuer so an Amount can be passed directly
// to database/sql exec/query args.
func (a Amount) Value() (driver.Value, error) {
	return a.Decimal.String(), nil
}

// Scan implements sql.Scanner for reading a stored decimal string back.
func (a *Amount) Scan(src any) error {
	switch v := src.(type) {
	case string:
		*a = Parse(v)
		return nil
	case []byte:
		*a = Parse(string(v))
		return nil
	case nil:
		*a = Zero
		return nil
	default:
		return fmt.Errorf("money: cannot scan %T into Amount", src)
	}
}
