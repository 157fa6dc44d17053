/*
Package sqlite provides the embedded SQL store: a single on-disk SQLite database with write-ahead logging, schema
migration, and scheduled backups, shared process-wide by every other
component.

Grounded on the resource-accounting engine's store/sqlite/sqlite.go:
same driver (github.com/mattn/go-sqlite3), same DSN-pragma idiom, same
idempotent-CREATE-TABLE-IF-NOT-EXISTS migration, same sync.RWMutex
serialization discipline for a SQLite-backed store, same WithTx
transaction wrapper. The schema itself is new — the source engine's
transactions/policies/employees tables are replaced by the sixteen
tables this core needs — and Backup/Vacuum/corruption-recovery are
new, required for unattended operation but absent from that engine (a
single-ledger HR tool never needed point-in-time snapshots).

CONCURRENCY:
  Every write must funnel through one serialized path: the pool holds a
  single connection (SetMaxOpenConns(1)), so every statement, read or
  write, runs one at a time on it; WithTx additionally holds the
  store's sync.RWMutex for the whole transaction.
*/
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/mattn/go-sqlite3"

	"github.com/fieldstack/terminal-core/errs"
	"github.com/fieldstack/terminal-core/logging"
)

var log = logging.With("store")

// Store wraps the single shared SQLite connection.
type Store struct {
	db        *sql.DB
	path      string
	backupDir string
	mu        sync.RWMutex
}

// Open opens (and migrates) the database at path. On corruption it
// attempts exactly one recovery from the most recent backup in
// backupDir before returning errs.ErrDBCorruption.
func Open(ctx context.Context, path string, backupDir string) (*Store, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("sqlite: create data dir: %w", err)
		}
	}

	s, openErr := openAndCheck(path)
	if openErr == nil {
		if err := s.migrate(); err != nil {
			s.db.Close()
			return nil, errs.Wrap(errs.KindSchemaMigration, err)
		}
		s.backupDir = backupDir
		return s, nil
	}

	log.Warn().Err(openErr).Str("path", path).Msg("database failed integrity check, attempting backup recovery")

	restored, err := restoreLatestBackup(path, backupDir)
	if err != nil {
		return nil, errs.Wrap(errs.KindDBCorruption, fmt.Errorf("%v (recovery also failed: %w)", openErr, err))
	}

	s, reopenErr := openAndCheck(restored)
	if reopenErr != nil {
		return nil, errs.Wrap(errs.KindDBCorruption, reopenErr)
	}
	if err := s.migrate(); err != nil {
		s.db.Close()
		return nil, errs.Wrap(errs.KindSchemaMigration, err)
	}
	s.backupDir = backupDir
	log.Info().Str("restored_from", restored).Msg("database recovered from backup")
	return s, nil
}

func openAndCheck(path string) (*Store, error) {
	dsn := path + "?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000&_secure_delete=on&_cache_size=-20000"
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	var check string
	if err := db.QueryRow("PRAGMA quick_check").Scan(&check); err != nil {
		db.Close()
		return nil, fmt.Errorf("integrity check: %w", err)
	}
	if check != "ok" {
		db.Close()
		return nil, fmt.Errorf("integrity check failed: %s", check)
	}

	return &Store{db: db, path: path}, nil
}

// Close closes the underlying connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// DB exposes the raw handle for packages that need to build their own
// prepared statements. Callers must still route every write through
// WithTx when the write is not already a single statement.
func (s *Store) DB() *sql.DB { return s.db }

// Lock/Unlock/RLock/RUnlock let callers compose multi-statement writes
// or reads atomically with the store's serialization discipline
// without going through WithTx (e.g. a read-modify-write against two
// tables that isn't itself a SQL transaction).
func (s *Store) Lock()    { s.mu.Lock() }
func (s *Store) Unlock()  { s.mu.Unlock() }
func (s *Store) RLock()   { s.mu.RLock() }
func (s *Store) RUnlock() { s.mu.RUnlock() }

// WithTx runs fn inside a SQL transaction, serialized against every
// other writer via the store's mutex — the same shape as the source
// engine's Store.WithTx in store/sqlite/sqlite.go.
func (s *Store) WithTx(ctx context.Context, fn func(*sql.Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}

// migrate creates every table this core needs, additive and
// idempotent, the same way the source engine's migrate() does.
func (s *Store) migrate() error {
	const schema = `
	CREATE TABLE IF NOT EXISTS datasets (
		key TEXT PRIMARY KEY,
		version INTEGER NOT NULL DEFAULT 0,
		synced_at TEXT,
		record_count INTEGER NOT NULL DEFAULT 0,
		deleted_count INTEGER NOT NULL DEFAULT 0
	);

	CREATE TABLE IF NOT EXISTS product_types (
		id TEXT PRIMARY KEY,
		tenant_id TEXT NOT NULL,
		name TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS categories (
		id TEXT PRIMARY KEY,
		tenant_id TEXT NOT NULL,
		name TEXT NOT NULL,
		parent_id TEXT,
		lft INTEGER NOT NULL DEFAULT 0,
		rgt INTEGER NOT NULL DEFAULT 0,
		tree INTEGER NOT NULL DEFAULT 0,
		level INTEGER NOT NULL DEFAULT 0,
		display_order INTEGER NOT NULL DEFAULT 0,
		updated_at TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_categories_parent ON categories(parent_id);

	CREATE TABLE IF NOT EXISTS taxes (
		id TEXT PRIMARY KEY,
		tenant_id TEXT NOT NULL,
		name TEXT NOT NULL,
		rate TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS modifier_sets (
		id TEXT PRIMARY KEY,
		tenant_id TEXT NOT NULL,
		name TEXT NOT NULL,
		selection_type TEXT NOT NULL,
		min_selections INTEGER NOT NULL DEFAULT 0,
		max_selections INTEGER NOT NULL DEFAULT 0,
		trigger_option_id TEXT,
		options_json TEXT NOT NULL DEFAULT '[]',
		updated_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS products (
		id TEXT PRIMARY KEY,
		tenant_id TEXT NOT NULL,
		location_id TEXT,
		product_type_id TEXT,
		name TEXT NOT NULL,
		barcode TEXT,
		price TEXT NOT NULL DEFAULT '0',
		category_id TEXT,
		image_url TEXT,
		tracks_inventory INTEGER NOT NULL DEFAULT 0,
		has_modifiers INTEGER NOT NULL DEFAULT 0,
		is_public INTEGER NOT NULL DEFAULT 1,
		is_active INTEGER NOT NULL DEFAULT 1,
		tax_ids_json TEXT NOT NULL DEFAULT '[]',
		modifier_sets_json TEXT NOT NULL DEFAULT '[]',
		backend_updated_at TEXT,
		updated_at TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_products_barcode ON products(barcode);
	CREATE INDEX IF NOT EXISTS idx_products_category ON products(category_id);
	CREATE INDEX IF NOT EXISTS idx_products_active ON products(is_active);

	CREATE TABLE IF NOT EXISTS discounts (
		id TEXT PRIMARY KEY,
		tenant_id TEXT NOT NULL,
		name TEXT NOT NULL,
		kind TEXT NOT NULL,
		scope TEXT NOT NULL,
		value TEXT NOT NULL,
		code TEXT,
		starts_at TEXT,
		ends_at TEXT,
		min_purchase TEXT,
		min_quantity INTEGER NOT NULL DEFAULT 0,
		applicability_json TEXT NOT NULL DEFAULT '[]',
		updated_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS inventory_locations (
		id TEXT PRIMARY KEY,
		tenant_id TEXT NOT NULL,
		name TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS inventory_stocks (
		id TEXT PRIMARY KEY,
		tenant_id TEXT NOT NULL,
		product_id TEXT NOT NULL,
		location_id TEXT NOT NULL,
		quantity TEXT NOT NULL DEFAULT '0',
		updated_at TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_inventory_stocks_product ON inventory_stocks(product_id);

	CREATE TABLE IF NOT EXISTS settings (
		tenant_id TEXT PRIMARY KEY,
		payload_json TEXT NOT NULL DEFAULT '{}',
		updated_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS users (
		id TEXT PRIMARY KEY,
		tenant_id TEXT NOT NULL,
		name TEXT NOT NULL,
		pin_hash TEXT NOT NULL,
		role TEXT NOT NULL DEFAULT 'staff',
		is_active INTEGER NOT NULL DEFAULT 1,
		updated_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS pending_operations (
		id TEXT PRIMARY KEY,
		kind TEXT NOT NULL,
		payload_json TEXT NOT NULL,
		local_order_id TEXT,
		status TEXT NOT NULL DEFAULT 'PENDING',
		retry_count INTEGER NOT NULL DEFAULT 0,
		signature TEXT,
		last_error TEXT,
		last_response_json TEXT,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL,
		next_attempt_at TEXT
	);
	CREATE INDEX IF NOT EXISTS idx_operations_status ON pending_operations(status);
	CREATE INDEX IF NOT EXISTS idx_operations_created_at ON pending_operations(created_at);
	CREATE INDEX IF NOT EXISTS idx_operations_local_order ON pending_operations(local_order_id);

	CREATE TABLE IF NOT EXISTS offline_orders (
		id TEXT PRIMARY KEY,
		tenant_id TEXT NOT NULL,
		location_id TEXT,
		payload_json TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'PENDING',
		server_order_id TEXT,
		server_order_number TEXT,
		conflict_reason TEXT,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_offline_orders_status ON offline_orders(status);

	CREATE TABLE IF NOT EXISTS offline_payments (
		id TEXT PRIMARY KEY,
		local_order_id TEXT NOT NULL REFERENCES offline_orders(id),
		method TEXT NOT NULL,
		amount TEXT NOT NULL,
		tip TEXT NOT NULL DEFAULT '0',
		surcharge TEXT NOT NULL DEFAULT '0',
		provider_txn_id TEXT,
		cash_tendered TEXT,
		change_due TEXT,
		created_at TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_offline_payments_order ON offline_payments(local_order_id);

	CREATE TABLE IF NOT EXISTS offline_approvals (
		id TEXT PRIMARY KEY,
		kind TEXT NOT NULL,
		reference_id TEXT,
		pin_hash TEXT NOT NULL,
		value TEXT,
		synced INTEGER NOT NULL DEFAULT 0,
		created_at TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_offline_approvals_synced ON offline_approvals(synced);

	CREATE TABLE IF NOT EXISTS device_meta (
		key TEXT PRIMARY KEY,
		value TEXT
	);
	`

	_, err := s.db.Exec(schema)
	return err
}

// Backup snapshots the live database to a timestamped file under dir
// using SQLite's online backup API. The copy runs in one step on the
// store's single connection while holding the read lock, so other
// statements and WithTx writers wait until it finishes —
// stamp is injected by the caller because this package
// must not call time.Now() itself in contexts that need reproducible
// paths in tests; production callers pass time.Now().UTC().
func (s *Store) Backup(ctx context.Context, dir string, stamp time.Time) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("backup: create dir: %w", err)
	}
	dest := filepath.Join(dir, fmt.Sprintf("offline-pos-%s.db.bak", stamp.Format("20060102T150405Z")))

	s.mu.RLock()
	defer s.mu.RUnlock()

	srcConn, err := s.db.Conn(ctx)
	if err != nil {
		return "", fmt.Errorf("backup: acquire source conn: %w", err)
	}
	defer srcConn.Close()

	destDB, err := sql.Open("sqlite3", dest)
	if err != nil {
		return "", fmt.Errorf("backup: open destination: %w", err)
	}
	defer destDB.Close()
	destConn, err := destDB.Conn(ctx)
	if err != nil {
		return "", fmt.Errorf("backup: acquire dest conn: %w", err)
	}
	defer destConn.Close()

	var backupErr error
	err = destConn.Raw(func(destDriver any) error {
		return srcConn.Raw(func(srcDriver any) error {
			srcSQLite, ok := srcDriver.(*sqlite3.SQLiteConn)
			if !ok {
				return fmt.Errorf("backup: unexpected source driver type")
			}
			destSQLite, ok := destDriver.(*sqlite3.SQLiteConn)
			if !ok {
				return fmt.Errorf("backup: unexpected destination driver type")
			}
			b, err := destSQLite.Backup("main", srcSQLite, "main")
			if err != nil {
				return fmt.Errorf("backup: init: %w", err)
			}
			defer b.Finish()
			if _, err := b.Step(-1); err != nil {
				backupErr = err
			}
			return nil
		})
	})
	if err != nil {
		return "", err
	}
	if backupErr != nil {
		return "", fmt.Errorf("backup: copy pages: %w", backupErr)
	}

	log.Info().Str("path", dest).Msg("backup created")
	return dest, nil
}

// PruneBackups keeps at most keep files no older than maxAge under dir
// — the retention sweep. keep <= 0 disables the count limit and
// maxAge <= 0 disables the age limit; it applies no defaults of its own.
func (s *Store) PruneBackups(dir string, keep int, maxAge time.Duration, now time.Time) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}

	type backupFile struct {
		path    string
		modTime time.Time
	}
	var files []backupFile
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".db.bak") {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		files = append(files, backupFile{path: filepath.Join(dir, e.Name()), modTime: info.ModTime()})
	}
	sort.Slice(files, func(i, j int) bool { return files[i].modTime.After(files[j].modTime) })

	for i, f := range files {
		expired := maxAge > 0 && now.Sub(f.modTime) > maxAge
		overCount := keep > 0 && i >= keep
		if expired || overCount {
			if err := os.Remove(f.path); err != nil && !os.IsNotExist(err) {
				log.Warn().Err(err).Str("path", f.path).Msg("failed to prune backup")
			}
		}
	}
	return nil
}

func restoreLatestBackup(dbPath, backupDir string) (string, error) {
	entries, err := os.ReadDir(backupDir)
	if err != nil {
		return "", fmt.Errorf("read backup dir: %w", err)
	}

	var latest string
	var latestMod time.Time
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".db.bak") {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		if info.ModTime().After(latestMod) {
			latestMod = info.ModTime()
			latest = filepath.Join(backupDir, e.Name())
		}
	}
	if latest == "" {
		return "", fmt.Errorf("no backup available")
	}

	data, err := os.ReadFile(latest)
	if err != nil {
		return "", fmt.Errorf("read backup: %w", err)
	}
	if err := os.WriteFile(dbPath, data, 0o644); err != nil {
		return "", fmt.Errorf("write restored database: %w", err)
	}
	return dbPath, nil
}

// BackupNow snapshots the database into this Store's configured
// backup directory, stamped with the current time — the gateway's
// create-backup command.
func (s *Store) BackupNow(ctx context.Context) (string, error) {
	return s.Backup(ctx, s.backupDir, time.Now().UTC())
}

// RestoreBackup closes the live connection, overwrites the database
// file with the most recent backup in this Store's backup directory,
// and reopens it — the gateway's restore-backup command. The caller
// must not use the Store again if this returns an error; the prior
// connection is gone either way.
func (s *Store) RestoreBackup(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.db.Close(); err != nil {
		return fmt.Errorf("restore: close current connection: %w", err)
	}

	restored, err := restoreLatestBackup(s.path, s.backupDir)
	if err != nil {
		return errs.Wrap(errs.KindDBCorruption, err)
	}

	fresh, err := openAndCheck(restored)
	if err != nil {
		return errs.Wrap(errs.KindDBCorruption, err)
	}
	if err := fresh.migrate(); err != nil {
		fresh.db.Close()
		return errs.Wrap(errs.KindSchemaMigration, err)
	}

	s.db = fresh.db
	log.Info().Str("restored_from", restored).Msg("database restored from backup")
	return nil
}

// Vacuum rebuilds the database file to reclaim space, exposed through
// the gateway's vacuum-db command.
func (s *Store) Vacuum(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.ExecContext(ctx, "VACUUM")
	return err
}

// ClearAll truncates every domain table, used by the gateway's
// clear-cache command for full-reset recovery flows.
func (s *Store) ClearAll(ctx context.Context) error {
	tables := []string{
		"datasets", "products", "categories", "modifier_sets", "discounts",
		"taxes", "product_types", "inventory_locations", "inventory_stocks",
		"settings", "users", "pending_operations", "offline_orders",
		"offline_payments", "offline_approvals",
	}
	return s.WithTx(ctx, func(tx *sql.Tx) error {
		for _, t := range tables {
			if _, err := tx.ExecContext(ctx, "DELETE FROM "+t); err != nil {
				return fmt.Errorf("clear %s: %w", t, err)
			}
		}
		return nil
	})
}
