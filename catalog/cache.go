/*
cache.go - dataset cache: upsert-many / delete-by-id-many / queries

Grounded on the SaveEmployee/GetEmployee/ListEmployees triad in
store/sqlite/sqlite.go (INSERT ... ON CONFLICT DO UPDATE, RFC3339
text timestamps, RWMutex via the underlying store). Generalized from a
single employees table to the ten reference tables a POS terminal
caches, each upsert wrapped in the same transaction as its dataset
version row so that a version bump and its rows either both land or
neither does.
*/
package catalog

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/fieldstack/terminal-core/errs"
	"github.com/fieldstack/terminal-core/imagecache"
	"github.com/fieldstack/terminal-core/logging"
	"github.com/fieldstack/terminal-core/store/sqlite"
)

var log = logging.With("catalog")

// TenancyProvider supplies the tenant/location a row should be
// back-filled with when the backend omits them. Implemented by the
// pairing package; kept as a narrow interface here to avoid an import
// cycle (pairing does not need to know about the cache).
type TenancyProvider interface {
	TenantID() string
	LocationID() string
}

// Cache is the dataset cache: every reference dataset's upsert/delete/
// read surface, backed by the shared store.
type Cache struct {
	store   *sqlite.Store
	tenancy TenancyProvider
	images  *imagecache.Cache
}

// New builds a Cache over the shared store. tenancy may be nil in
// tests that don't exercise back-fill.
func New(store *sqlite.Store, tenancy TenancyProvider) *Cache {
	return &Cache{store: store, tenancy: tenancy}
}

// SetImageCache wires the product image cache so product writes prune
// orphaned cached files. Optional: a Cache built without one simply
// skips pruning, matching the gateway's own optional wiring.
func (c *Cache) SetImageCache(images *imagecache.Cache) {
	c.images = images
}

// pruneImages removes cached product image files for products no
// longer present in the products table. Best-effort: a failure here
// never fails the upsert/delete it rode in on.
func (c *Cache) pruneImages(ctx context.Context) {
	if c.images == nil {
		return
	}
	rows, err := c.store.DB().QueryContext(ctx, "SELECT id FROM products")
	if err != nil {
		log.Warn().Err(err).Msg("failed to list live products for image prune")
		return
	}
	defer rows.Close()

	live := make(map[string]bool)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			log.Warn().Err(err).Msg("failed to scan product id for image prune")
			return
		}
		live[id] = true
	}
	if err := rows.Err(); err != nil {
		log.Warn().Err(err).Msg("failed to list live products for image prune")
		return
	}

	if err := c.images.Prune(ctx, live); err != nil {
		log.Warn().Err(err).Msg("image prune failed")
	}
}

func (c *Cache) backfill(tenantID, locationID string) (string, string) {
	if tenantID == "" && c.tenancy != nil {
		tenantID = c.tenancy.TenantID()
	}
	if locationID == "" && c.tenancy != nil {
		locationID = c.tenancy.LocationID()
	}
	return tenantID, locationID
}

// writeVersion upserts a dataset's (key, version, record_count,
// deleted_count) row within the caller's transaction, rejecting any
// version that regresses below the stored one.
func writeVersion(ctx context.Context, tx *sql.Tx, key string, version int64, recordCount, deletedCount int) error {
	if version == 0 {
		return errs.New(errs.KindDatasetVersionNeeded, "cache-dataset %q requires a version", key)
	}

	var current int64
	err := tx.QueryRowContext(ctx, "SELECT version FROM datasets WHERE key = ?", key).Scan(&current)
	if err != nil && err != sql.ErrNoRows {
		return fmt.Errorf("read current dataset version: %w", err)
	}
	if version < current {
		log.Warn().Str("dataset", key).Int64("current", current).Int64("submitted", version).
			Msg("rejecting dataset version older than the stored one")
		return errs.ErrOlderVersion
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO datasets (key, version, synced_at, record_count, deleted_count)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET
			version = excluded.version,
			synced_at = excluded.synced_at,
			record_count = excluded.record_count,
			deleted_count = excluded.deleted_count
	`, key, version, time.Now().UTC().Format(time.RFC3339), recordCount, deletedCount)
	return err
}

// Versions reports the (key -> version) map the sync engine uses as
// its modified_since cursor on startup.
func (c *Cache) Versions(ctx context.Context) (map[string]int64, error) {
	rows, err := c.store.DB().QueryContext(ctx, "SELECT key, version FROM datasets")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string]int64)
	for rows.Next() {
		var key string
		var version int64
		if err := rows.Scan(&key, &version); err != nil {
			return nil, err
		}
		out[key] = version
	}
	return out, rows.Err()
}

// SyncedAt returns when a dataset was last successfully persisted, or
// the zero time if never synced.
func (c *Cache) SyncedAt(ctx context.Context, key string) (time.Time, error) {
	var synced sql.NullString
	err := c.store.DB().QueryRowContext(ctx, "SELECT synced_at FROM datasets WHERE key = ?", key).Scan(&synced)
	if err == sql.ErrNoRows {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, err
	}
	if !synced.Valid {
		return time.Time{}, nil
	}
	t, _ := time.Parse(time.RFC3339, synced.String)
	return t, nil
}

// ---------------------------------------------------------------------------
// Products

// UpsertProducts writes rows atomically with the products dataset's
// version bump.
func (c *Cache) UpsertProducts(ctx context.Context, rows []Product, version int64) error {
	if err := c.upsertProducts(ctx, rows, version); err != nil {
		return err
	}
	c.pruneImages(ctx)
	return nil
}

func (c *Cache) upsertProducts(ctx context.Context, rows []Product, version int64) error {
	return c.store.WithTx(ctx, func(tx *sql.Tx) error {
		for i := range rows {
			p := &rows[i]
			p.TenantID, p.LocationID = c.backfill(p.TenantID, p.LocationID)

			taxIDs, err := json.Marshal(p.TaxIDs)
			if err != nil {
				return err
			}
			mods, err := json.Marshal(p.ModifierSetConfig)
			if err != nil {
				return err
			}
			var backendUpdated any
			if p.BackendUpdatedAt != nil {
				backendUpdated = p.BackendUpdatedAt.UTC().Format(time.RFC3339)
			}

			_, err = tx.ExecContext(ctx, `
				INSERT INTO products (
					id, tenant_id, location_id, product_type_id, name, barcode, price,
					category_id, image_url, tracks_inventory, has_modifiers, is_public,
					is_active, tax_ids_json, modifier_sets_json, backend_updated_at, updated_at
				) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
				ON CONFLICT(id) DO UPDATE SET
					tenant_id = excluded.tenant_id,
					location_id = excluded.location_id,
					product_type_id = excluded.product_type_id,
					name = excluded.name,
					barcode = excluded.barcode,
					price = excluded.price,
					category_id = excluded.category_id,
					image_url = excluded.image_url,
					tracks_inventory = excluded.tracks_inventory,
					has_modifiers = excluded.has_modifiers,
					is_public = excluded.is_public,
					is_active = excluded.is_active,
					tax_ids_json = excluded.tax_ids_json,
					modifier_sets_json = excluded.modifier_sets_json,
					backend_updated_at = excluded.backend_updated_at,
					updated_at = excluded.updated_at
			`, p.ID, p.TenantID, p.LocationID, p.ProductTypeID, p.Name, p.Barcode, p.Price,
				p.CategoryID, p.ImageURL, boolToInt(p.TracksInventory), boolToInt(p.HasModifiers),
				boolToInt(p.IsPublic), boolToInt(p.IsActive), string(taxIDs), string(mods),
				backendUpdated, time.Now().UTC().Format(time.RFC3339))
			if err != nil {
				return fmt.Errorf("upsert product %s: %w", p.ID, err)
			}
		}
		return writeVersion(ctx, tx, DatasetProducts, version, len(rows), 0)
	})
}

// DeleteProductsByID removes rows the backend has explicitly marked
// deleted; no other source ever deletes a cached row.
func (c *Cache) DeleteProductsByID(ctx context.Context, ids []string, version int64) error {
	err := c.store.WithTx(ctx, func(tx *sql.Tx) error {
		for _, id := range ids {
			if _, err := tx.ExecContext(ctx, "DELETE FROM products WHERE id = ?", id); err != nil {
				return err
			}
		}
		return writeVersion(ctx, tx, DatasetProducts, version, 0, len(ids))
	})
	if err != nil {
		return err
	}
	c.pruneImages(ctx)
	return nil
}

// GetProduct looks up a single product by primary key.
func (c *Cache) GetProduct(ctx context.Context, id string) (*Product, error) {
	row := c.store.DB().QueryRowContext(ctx, productSelect+" WHERE id = ?", id)
	return scanProduct(row)
}

// GetProductByBarcode is the point-of-sale scan lookup.
func (c *Cache) GetProductByBarcode(ctx context.Context, barcode string) (*Product, error) {
	row := c.store.DB().QueryRowContext(ctx, productSelect+" WHERE barcode = ?", barcode)
	return scanProduct(row)
}

// ListProducts returns cached products ordered by name, optionally
// filtered by category. Inactive products are included.
func (c *Cache) ListProducts(ctx context.Context, categoryID string) ([]Product, error) {
	query := productSelect
	var args []any
	if categoryID != "" {
		query += " WHERE category_id = ?"
		args = append(args, categoryID)
	}
	query += " ORDER BY name"

	rows, err := c.store.DB().QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Product
	for rows.Next() {
		p, err := scanProductRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *p)
	}
	return out, rows.Err()
}

const productSelect = `
	SELECT id, tenant_id, location_id, product_type_id, name, barcode, price,
	       category_id, image_url, tracks_inventory, has_modifiers, is_public,
	       is_active, tax_ids_json, modifier_sets_json, backend_updated_at, updated_at
	FROM products`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanProduct(row *sql.Row) (*Product, error) {
	p, err := scanProductRow(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return p, err
}

func scanProductRow(row rowScanner) (*Product, error) {
	var p Product
	var taxIDs, mods, updatedAt string
	var backendUpdated sql.NullString
	err := row.Scan(&p.ID, &p.TenantID, &p.LocationID, &p.ProductTypeID, &p.Name, &p.Barcode,
		&p.Price, &p.CategoryID, &p.ImageURL, &p.TracksInventory, &p.HasModifiers, &p.IsPublic,
		&p.IsActive, &taxIDs, &mods, &backendUpdated, &updatedAt)
	if err != nil {
		return nil, err
	}
	_ = json.Unmarshal([]byte(taxIDs), &p.TaxIDs)
	_ = json.Unmarshal([]byte(mods), &p.ModifierSetConfig)
	p.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt)
	if backendUpdated.Valid {
		t, _ := time.Parse(time.RFC3339, backendUpdated.String)
		p.BackendUpdatedAt = &t
	}
	return &p, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
