/*
Package queue implements the durable write-ahead log of outbound
mutations: orders, payments, inventory adjustments, and manager
approvals captured while the terminal is offline, replayed to the
backend with idempotency and conflict handling once it's back online.

Grounded on generic/ledger.go (append-only rows with an
idempotency key, a status progression recorded in the store, atomic
writes via WithTx) generalized from a single append-only ledger to a
row that also transitions through PENDING/SENDING/SENT/FAILED.
*/
package queue

import "time"

// Status is where an Operation sits in its drain lifecycle.
type Status string

const (
	StatusPending  Status = "PENDING"
	StatusSending  Status = "SENDING"
	StatusSent     Status = "SENT"
	StatusFailed   Status = "FAILED"
	StatusConflict Status = "CONFLICT"
)

// Kind tags an Operation's payload shape — the tagged-variant the
// opaque payload column is keyed on.
type Kind string

const (
	KindOrder     Kind = "ORDER"
	KindPayment   Kind = "PAYMENT"
	KindInventory Kind = "INVENTORY"
	KindApproval  Kind = "APPROVAL"
)

// DrainOrder fixes the per-local-order sequencing the drain worker
// must respect: a server-side order must exist before its payments,
// inventory adjustments, or approvals are sent. Operations against
// different local orders carry no relative ordering guarantee.
var DrainOrder = map[Kind]int{
	KindOrder:     0,
	KindPayment:   1,
	KindInventory: 2,
	KindApproval:  3,
}

// Operation is one durable, retryable outbound mutation.
type Operation struct {
	ID              string
	Kind            Kind
	PayloadJSON     string
	LocalOrderID    string
	Status          Status
	RetryCount      int
	Signature       string
	LastError       string
	LastResponseRaw string
	CreatedAt       time.Time
	UpdatedAt       time.Time
	NextAttemptAt   *time.Time
}

// OfflineOrder is a full order snapshot captured offline before a
// server identifier exists.
type OfflineOrder struct {
	ID                string
	TenantID          string
	LocationID        string
	PayloadJSON       string
	Status            string // PENDING | SYNCED | CONFLICT
	ServerOrderID     string
	ServerOrderNumber string
	ConflictReason    string
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// OfflinePayment references the local order it settles.
type OfflinePayment struct {
	ID             string
	LocalOrderID   string
	Method         string // CASH | CARD_TERMINAL | GIFT_CARD
	Amount         string
	Tip            string
	Surcharge      string
	ProviderTxnID  string
	CashTendered   string
	ChangeDue      string
	CreatedAt      time.Time
}

// OfflineApproval is a manager override captured with a hashed PIN.
type OfflineApproval struct {
	ID          string
	Kind        string // discount | void | refund | price_override
	ReferenceID string
	PINHash     string
	Value       string
	Synced      bool
	CreatedAt   time.Time
}

// Outcome classifies a backend response so the queue knows how to
// transition the operation.
type Outcome int

const (
	OutcomeAccepted Outcome = iota
	OutcomeRetryable
	OutcomePermanent
	OutcomeConflict
)
