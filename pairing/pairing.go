/*
Package pairing implements device identity: binding a terminal to a
tenant/location/signing-secret triple, signing outbound operations,
tracking the network-status clock, and accounting for offline exposure
(cash/card totals, transaction count) against configured caps.

Grounded on generic/store.go's key/value-shaped metadata
patterns generalized to a single-row-per-key device_meta table, and on
golang.org/x/crypto/bcrypt for PIN hashing. HMAC-SHA256 signing uses the
standard library's crypto/hmac + crypto/sha256 directly — see
DESIGN.md for why no external signing library was pulled in for a
single well-known primitive already in the standard library.
*/
package pairing

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"fmt"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/fieldstack/terminal-core/errs"
	"github.com/fieldstack/terminal-core/logging"
	"github.com/fieldstack/terminal-core/store/sqlite"
)

var log = logging.With("pairing")

const (
	keyTerminalID    = "terminal_id"
	keyTenantID      = "tenant_id"
	keyLocationID    = "location_id"
	keySigningSecret = "signing_secret"
	keyPairedAt      = "paired_at"

	keyOfflineSince     = "offline_since"
	keyNetworkStatus    = "network_status"
	keyOfflineTxCount   = "offline_transaction_count"
	keyOfflineCashTotal = "offline_cash_total"
	keyOfflineCardTotal = "offline_card_total"
	keyLastSyncAttempt  = "last_sync_attempt"
	keyLastSyncSuccess  = "last_sync_success"
	keyAPIKey           = "api_key"
)

// mandatoryKeys is the all-or-nothing set: a terminal is either fully
// paired with every one present, or fully unpaired with none.
var mandatoryKeys = []string{keyTerminalID, keyTenantID, keyLocationID, keySigningSecret}

// Info is the pairing record the gateway's store-pairing/get-pairing
// surface exchanges with the UI.
type Info struct {
	TerminalID string
	TenantID   string
	LocationID string
	PairedAt   time.Time
}

// Pairing owns the device_meta key/value table.
type Pairing struct {
	store *sqlite.Store
}

// New builds a Pairing over the shared store.
func New(store *sqlite.Store) *Pairing {
	return &Pairing{store: store}
}

// Pair writes all five pairing keys (the four mandatory ones plus
// paired_at) in one transaction — invariant
// 5: the terminal is either fully paired or fully unpaired, never in
// between.
func (p *Pairing) Pair(ctx context.Context, info Info) error {
	secret := make([]byte, 32)
	if _, err := rand.Read(secret); err != nil {
		return fmt.Errorf("pairing: generate signing secret: %w", err)
	}

	now := time.Now().UTC().Format(time.RFC3339)
	return p.store.WithTx(ctx, func(tx *sql.Tx) error {
		writes := map[string]string{
			keyTerminalID:    info.TerminalID,
			keyTenantID:      info.TenantID,
			keyLocationID:    info.LocationID,
			keySigningSecret: hex.EncodeToString(secret),
			keyPairedAt:      now,
		}
		for k, v := range writes {
			if err := putTx(ctx, tx, k, v); err != nil {
				return err
			}
		}
		return nil
	})
}

// Unpair clears every pairing key in one transaction.
func (p *Pairing) Unpair(ctx context.Context) error {
	return p.store.WithTx(ctx, func(tx *sql.Tx) error {
		for _, k := range mandatoryKeys {
			if _, err := tx.ExecContext(ctx, "DELETE FROM device_meta WHERE key = ?", k); err != nil {
				return err
			}
		}
		_, err := tx.ExecContext(ctx, "DELETE FROM device_meta WHERE key = ?", keyPairedAt)
		return err
	})
}

// IsPaired reports whether every mandatory key is present.
func (p *Pairing) IsPaired(ctx context.Context) (bool, error) {
	for _, k := range mandatoryKeys {
		v, err := p.get(ctx, k)
		if err != nil {
			return false, err
		}
		if v == "" {
			return false, nil
		}
	}
	return true, nil
}

// Get returns the current pairing record, or a not-paired error.
func (p *Pairing) Get(ctx context.Context) (Info, error) {
	paired, err := p.IsPaired(ctx)
	if err != nil {
		return Info{}, err
	}
	if !paired {
		return Info{}, errs.ErrNotPaired
	}

	terminalID, _ := p.get(ctx, keyTerminalID)
	tenantID, _ := p.get(ctx, keyTenantID)
	locationID, _ := p.get(ctx, keyLocationID)
	pairedAtRaw, _ := p.get(ctx, keyPairedAt)

	var pairedAt time.Time
	if pairedAtRaw != "" {
		pairedAt, _ = time.Parse(time.RFC3339, pairedAtRaw)
	}
	return Info{TerminalID: terminalID, TenantID: tenantID, LocationID: locationID, PairedAt: pairedAt}, nil
}

// TenantID and LocationID satisfy catalog.TenancyProvider so the
// dataset cache can back-fill rows missing tenancy without importing
// this package's full surface.
func (p *Pairing) TenantID() string {
	v, _ := p.get(context.Background(), keyTenantID)
	return v
}

func (p *Pairing) LocationID() string {
	v, _ := p.get(context.Background(), keyLocationID)
	return v
}

// Sign computes the device signature attached to every outbound
// operation, HMAC-SHA256 keyed by the pairing's signing secret.
func (p *Pairing) Sign(payload []byte) (string, error) {
	secretHex, err := p.get(context.Background(), keySigningSecret)
	if err != nil {
		return "", err
	}
	if secretHex == "" {
		return "", errs.ErrNotPaired
	}
	secret, err := hex.DecodeString(secretHex)
	if err != nil {
		return "", fmt.Errorf("pairing: malformed signing secret: %w", err)
	}

	mac := hmac.New(sha256.New, secret)
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil)), nil
}

// SetAPIKey stores the server-issued API key the sync engine presents
// on every backend call.
func (p *Pairing) SetAPIKey(ctx context.Context, key string) error {
	return p.store.WithTx(ctx, func(tx *sql.Tx) error { return putTx(ctx, tx, keyAPIKey, key) })
}

// APIKey returns the current API key, empty if none is set.
func (p *Pairing) APIKey(ctx context.Context) (string, error) {
	return p.get(ctx, keyAPIKey)
}

// ClearAPIKey is called when the backend rejects the key with
// AUTH_INVALID; both sync loops pause until a new key is provided.
func (p *Pairing) ClearAPIKey(ctx context.Context) error {
	_, err := p.store.DB().ExecContext(ctx, "DELETE FROM device_meta WHERE key = ?", keyAPIKey)
	return err
}

func (p *Pairing) get(ctx context.Context, key string) (string, error) {
	var v sql.NullString
	err := p.store.DB().QueryRowContext(ctx, "SELECT value FROM device_meta WHERE key = ?", key).Scan(&v)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return v.String, nil
}

func putTx(ctx context.Context, tx *sql.Tx, key, value string) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO device_meta (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value
	`, key, value)
	return err
}

// HashPIN bcrypt-hashes a manager/staff PIN for storage.
func HashPIN(pin string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(pin), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// VerifyPIN checks a PIN against its stored bcrypt hash.
func VerifyPIN(hash, pin string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(pin)) == nil
}
