/*
entities.go - upsert/delete/query surface for the remaining reference
datasets (taxes, product types, modifier sets, discounts, inventory
locations/stock, users, store settings). Same shape as the products
surface in cache.go:
one atomic upsert-many per call, one atomic delete-by-id-many, and
plain list/get reads. Kept in one file because each table's surface is
small and near-identical; splitting further would scatter the pattern
without adding clarity.
*/
package catalog

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// ---------------------------------------------------------------------------
// Taxes

func (c *Cache) UpsertTaxes(ctx context.Context, rows []Tax, version int64) error {
	return c.store.WithTx(ctx, func(tx *sql.Tx) error {
		for i := range rows {
			t := &rows[i]
			t.TenantID, _ = c.backfill(t.TenantID, "")
			_, err := tx.ExecContext(ctx, `
				INSERT INTO taxes (id, tenant_id, name, rate, updated_at) VALUES (?, ?, ?, ?, ?)
				ON CONFLICT(id) DO UPDATE SET tenant_id=excluded.tenant_id, name=excluded.name,
					rate=excluded.rate, updated_at=excluded.updated_at
			`, t.ID, t.TenantID, t.Name, t.Rate, time.Now().UTC().Format(time.RFC3339))
			if err != nil {
				return fmt.Errorf("upsert tax %s: %w", t.ID, err)
			}
		}
		return writeVersion(ctx, tx, DatasetTaxes, version, len(rows), 0)
	})
}

func (c *Cache) DeleteTaxesByID(ctx context.Context, ids []string, version int64) error {
	return deleteByID(ctx, c.store, "taxes", ids, DatasetTaxes, version)
}

func (c *Cache) GetTax(ctx context.Context, id string) (*Tax, error) {
	var t Tax
	var updatedAt string
	err := c.store.DB().QueryRowContext(ctx,
		"SELECT id, tenant_id, name, rate, updated_at FROM taxes WHERE id = ?", id,
	).Scan(&t.ID, &t.TenantID, &t.Name, &t.Rate, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	t.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt)
	return &t, nil
}

func (c *Cache) ListTaxes(ctx context.Context) ([]Tax, error) {
	rows, err := c.store.DB().QueryContext(ctx, "SELECT id, tenant_id, name, rate, updated_at FROM taxes ORDER BY name")
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Tax
	for rows.Next() {
		var t Tax
		var updatedAt string
		if err := rows.Scan(&t.ID, &t.TenantID, &t.Name, &t.Rate, &updatedAt); err != nil {
			return nil, err
		}
		t.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt)
		out = append(out, t)
	}
	return out, rows.Err()
}

// ---------------------------------------------------------------------------
// Product types

func (c *Cache) UpsertProductTypes(ctx context.Context, rows []ProductType, version int64) error {
	return c.store.WithTx(ctx, func(tx *sql.Tx) error {
		for i := range rows {
			pt := &rows[i]
			pt.TenantID, _ = c.backfill(pt.TenantID, "")
			_, err := tx.ExecContext(ctx, `
				INSERT INTO product_types (id, tenant_id, name, updated_at) VALUES (?, ?, ?, ?)
				ON CONFLICT(id) DO UPDATE SET tenant_id=excluded.tenant_id, name=excluded.name,
					updated_at=excluded.updated_at
			`, pt.ID, pt.TenantID, pt.Name, time.Now().UTC().Format(time.RFC3339))
			if err != nil {
				return fmt.Errorf("upsert product type %s: %w", pt.ID, err)
			}
		}
		return writeVersion(ctx, tx, DatasetProductTypes, version, len(rows), 0)
	})
}

func (c *Cache) DeleteProductTypesByID(ctx context.Context, ids []string, version int64) error {
	return deleteByID(ctx, c.store, "product_types", ids, DatasetProductTypes, version)
}

func (c *Cache) ListProductTypes(ctx context.Context) ([]ProductType, error) {
	rows, err := c.store.DB().QueryContext(ctx, "SELECT id, tenant_id, name, updated_at FROM product_types ORDER BY name")
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []ProductType
	for rows.Next() {
		var pt ProductType
		var updatedAt string
		if err := rows.Scan(&pt.ID, &pt.TenantID, &pt.Name, &updatedAt); err != nil {
			return nil, err
		}
		pt.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt)
		out = append(out, pt)
	}
	return out, rows.Err()
}

// ---------------------------------------------------------------------------
// Modifier sets

func (c *Cache) UpsertModifierSets(ctx context.Context, rows []ModifierSet, version int64) error {
	return c.store.WithTx(ctx, func(tx *sql.Tx) error {
		for i := range rows {
			m := &rows[i]
			m.TenantID, _ = c.backfill(m.TenantID, "")
			opts, err := json.Marshal(m.Options)
			if err != nil {
				return err
			}
			_, err = tx.ExecContext(ctx, `
				INSERT INTO modifier_sets (
					id, tenant_id, name, selection_type, min_selections, max_selections,
					trigger_option_id, options_json, updated_at
				) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
				ON CONFLICT(id) DO UPDATE SET
					tenant_id=excluded.tenant_id, name=excluded.name,
					selection_type=excluded.selection_type, min_selections=excluded.min_selections,
					max_selections=excluded.max_selections, trigger_option_id=excluded.trigger_option_id,
					options_json=excluded.options_json, updated_at=excluded.updated_at
			`, m.ID, m.TenantID, m.Name, m.SelectionType, m.MinSelections, m.MaxSelections,
				nullableString(m.TriggerOptionID), string(opts), time.Now().UTC().Format(time.RFC3339))
			if err != nil {
				return fmt.Errorf("upsert modifier set %s: %w", m.ID, err)
			}
		}
		return writeVersion(ctx, tx, DatasetModifierSets, version, len(rows), 0)
	})
}

func (c *Cache) DeleteModifierSetsByID(ctx context.Context, ids []string, version int64) error {
	return deleteByID(ctx, c.store, "modifier_sets", ids, DatasetModifierSets, version)
}

func (c *Cache) GetModifierSet(ctx context.Context, id string) (*ModifierSet, error) {
	var m ModifierSet
	var opts, updatedAt, trigger string
	var triggerNull sql.NullString
	err := c.store.DB().QueryRowContext(ctx, `
		SELECT id, tenant_id, name, selection_type, min_selections, max_selections,
		       trigger_option_id, options_json, updated_at FROM modifier_sets WHERE id = ?
	`, id).Scan(&m.ID, &m.TenantID, &m.Name, &m.SelectionType, &m.MinSelections, &m.MaxSelections,
		&triggerNull, &opts, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if triggerNull.Valid {
		trigger = triggerNull.String
	}
	m.TriggerOptionID = trigger
	_ = json.Unmarshal([]byte(opts), &m.Options)
	m.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt)
	return &m, nil
}

// ---------------------------------------------------------------------------
// Discounts

func (c *Cache) UpsertDiscounts(ctx context.Context, rows []Discount, version int64) error {
	return c.store.WithTx(ctx, func(tx *sql.Tx) error {
		for i := range rows {
			d := &rows[i]
			d.TenantID, _ = c.backfill(d.TenantID, "")
			applicability, err := json.Marshal(d.ApplicabilityIDs)
			if err != nil {
				return err
			}
			var starts, ends any
			if d.StartsAt != nil {
				starts = d.StartsAt.UTC().Format(time.RFC3339)
			}
			if d.EndsAt != nil {
				ends = d.EndsAt.UTC().Format(time.RFC3339)
			}
			_, err = tx.ExecContext(ctx, `
				INSERT INTO discounts (
					id, tenant_id, name, kind, scope, value, code, starts_at, ends_at,
					min_purchase, min_quantity, applicability_json, updated_at
				) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
				ON CONFLICT(id) DO UPDATE SET
					tenant_id=excluded.tenant_id, name=excluded.name, kind=excluded.kind,
					scope=excluded.scope, value=excluded.value, code=excluded.code,
					starts_at=excluded.starts_at, ends_at=excluded.ends_at,
					min_purchase=excluded.min_purchase, min_quantity=excluded.min_quantity,
					applicability_json=excluded.applicability_json, updated_at=excluded.updated_at
			`, d.ID, d.TenantID, d.Name, d.Kind, d.Scope, d.Value, nullableString(d.Code),
				starts, ends, d.MinPurchase, d.MinQuantity, string(applicability),
				time.Now().UTC().Format(time.RFC3339))
			if err != nil {
				return fmt.Errorf("upsert discount %s: %w", d.ID, err)
			}
		}
		return writeVersion(ctx, tx, DatasetDiscounts, version, len(rows), 0)
	})
}

func (c *Cache) DeleteDiscountsByID(ctx context.Context, ids []string, version int64) error {
	return deleteByID(ctx, c.store, "discounts", ids, DatasetDiscounts, version)
}

// ---------------------------------------------------------------------------
// Inventory locations & stock

func (c *Cache) UpsertInventoryLocations(ctx context.Context, rows []InventoryLocation, version int64) error {
	return c.store.WithTx(ctx, func(tx *sql.Tx) error {
		for i := range rows {
			l := &rows[i]
			l.TenantID, _ = c.backfill(l.TenantID, "")
			_, err := tx.ExecContext(ctx, `
				INSERT INTO inventory_locations (id, tenant_id, name, updated_at) VALUES (?, ?, ?, ?)
				ON CONFLICT(id) DO UPDATE SET tenant_id=excluded.tenant_id, name=excluded.name,
					updated_at=excluded.updated_at
			`, l.ID, l.TenantID, l.Name, time.Now().UTC().Format(time.RFC3339))
			if err != nil {
				return fmt.Errorf("upsert inventory location %s: %w", l.ID, err)
			}
		}
		return writeVersion(ctx, tx, DatasetInventoryLocations, version, len(rows), 0)
	})
}

func (c *Cache) DeleteInventoryLocationsByID(ctx context.Context, ids []string, version int64) error {
	return deleteByID(ctx, c.store, "inventory_locations", ids, DatasetInventoryLocations, version)
}

func (c *Cache) UpsertInventoryStocks(ctx context.Context, rows []InventoryStock, version int64) error {
	return c.store.WithTx(ctx, func(tx *sql.Tx) error {
		for i := range rows {
			s := &rows[i]
			s.TenantID, _ = c.backfill(s.TenantID, "")
			_, err := tx.ExecContext(ctx, `
				INSERT INTO inventory_stocks (id, tenant_id, product_id, location_id, quantity, updated_at)
				VALUES (?, ?, ?, ?, ?, ?)
				ON CONFLICT(id) DO UPDATE SET tenant_id=excluded.tenant_id, product_id=excluded.product_id,
					location_id=excluded.location_id, quantity=excluded.quantity, updated_at=excluded.updated_at
			`, s.ID, s.TenantID, s.ProductID, s.LocationID, s.Quantity, time.Now().UTC().Format(time.RFC3339))
			if err != nil {
				return fmt.Errorf("upsert inventory stock %s: %w", s.ID, err)
			}
		}
		return writeVersion(ctx, tx, DatasetInventoryStocks, version, len(rows), 0)
	})
}

func (c *Cache) DeleteInventoryStocksByID(ctx context.Context, ids []string, version int64) error {
	return deleteByID(ctx, c.store, "inventory_stocks", ids, DatasetInventoryStocks, version)
}

func (c *Cache) GetInventoryStockForProduct(ctx context.Context, productID string) ([]InventoryStock, error) {
	rows, err := c.store.DB().QueryContext(ctx, `
		SELECT id, tenant_id, product_id, location_id, quantity, updated_at
		FROM inventory_stocks WHERE product_id = ?
	`, productID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []InventoryStock
	for rows.Next() {
		var s InventoryStock
		var updatedAt string
		if err := rows.Scan(&s.ID, &s.TenantID, &s.ProductID, &s.LocationID, &s.Quantity, &updatedAt); err != nil {
			return nil, err
		}
		s.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt)
		out = append(out, s)
	}
	return out, rows.Err()
}

// ---------------------------------------------------------------------------
// Users

func (c *Cache) UpsertUsers(ctx context.Context, rows []User, version int64) error {
	return c.store.WithTx(ctx, func(tx *sql.Tx) error {
		for i := range rows {
			u := &rows[i]
			u.TenantID, _ = c.backfill(u.TenantID, "")
			_, err := tx.ExecContext(ctx, `
				INSERT INTO users (id, tenant_id, name, pin_hash, role, is_active, updated_at)
				VALUES (?, ?, ?, ?, ?, ?, ?)
				ON CONFLICT(id) DO UPDATE SET tenant_id=excluded.tenant_id, name=excluded.name,
					pin_hash=excluded.pin_hash, role=excluded.role, is_active=excluded.is_active,
					updated_at=excluded.updated_at
			`, u.ID, u.TenantID, u.Name, u.PINHash, u.Role, boolToInt(u.IsActive),
				time.Now().UTC().Format(time.RFC3339))
			if err != nil {
				return fmt.Errorf("upsert user %s: %w", u.ID, err)
			}
		}
		return writeVersion(ctx, tx, DatasetUsers, version, len(rows), 0)
	})
}

func (c *Cache) DeleteUsersByID(ctx context.Context, ids []string, version int64) error {
	return deleteByID(ctx, c.store, "users", ids, DatasetUsers, version)
}

func (c *Cache) GetUser(ctx context.Context, id string) (*User, error) {
	var u User
	var updatedAt string
	err := c.store.DB().QueryRowContext(ctx, `
		SELECT id, tenant_id, name, pin_hash, role, is_active, updated_at FROM users WHERE id = ?
	`, id).Scan(&u.ID, &u.TenantID, &u.Name, &u.PINHash, &u.Role, &u.IsActive, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	u.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt)
	return &u, nil
}

func (c *Cache) ListUsers(ctx context.Context) ([]User, error) {
	rows, err := c.store.DB().QueryContext(ctx, `
		SELECT id, tenant_id, name, pin_hash, role, is_active, updated_at FROM users ORDER BY name
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []User
	for rows.Next() {
		var u User
		var updatedAt string
		if err := rows.Scan(&u.ID, &u.TenantID, &u.Name, &u.PINHash, &u.Role, &u.IsActive, &updatedAt); err != nil {
			return nil, err
		}
		u.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt)
		out = append(out, u)
	}
	return out, rows.Err()
}

// ---------------------------------------------------------------------------
// Store settings (single row per tenant)

func (c *Cache) UpsertSettings(ctx context.Context, s StoreSettings, version int64) error {
	return c.store.WithTx(ctx, func(tx *sql.Tx) error {
		tenantID, _ := c.backfill(s.TenantID, "")
		_, err := tx.ExecContext(ctx, `
			INSERT INTO settings (tenant_id, payload_json, updated_at) VALUES (?, ?, ?)
			ON CONFLICT(tenant_id) DO UPDATE SET payload_json=excluded.payload_json, updated_at=excluded.updated_at
		`, tenantID, s.PayloadJSON, time.Now().UTC().Format(time.RFC3339))
		if err != nil {
			return fmt.Errorf("upsert settings: %w", err)
		}
		return writeVersion(ctx, tx, DatasetSettings, version, 1, 0)
	})
}

func (c *Cache) GetSettings(ctx context.Context, tenantID string) (*StoreSettings, error) {
	var s StoreSettings
	var updatedAt string
	err := c.store.DB().QueryRowContext(ctx,
		"SELECT tenant_id, payload_json, updated_at FROM settings WHERE tenant_id = ?", tenantID,
	).Scan(&s.TenantID, &s.PayloadJSON, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	s.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt)
	return &s, nil
}

// ---------------------------------------------------------------------------
// shared helper

func deleteByID(ctx context.Context, store interface {
	WithTx(context.Context, func(*sql.Tx) error) error
}, table string, ids []string, datasetKey string, version int64) error {
	return store.WithTx(ctx, func(tx *sql.Tx) error {
		for _, id := range ids {
			if _, err := tx.ExecContext(ctx, "DELETE FROM "+table+" WHERE id = ?", id); err != nil {
				return err
			}
		}
		return writeVersion(ctx, tx, datasetKey, version, 0, len(ids))
	})
}
