/*
hierarchy.go - hierarchy-aware category upsert

Categories carry nested-set columns (left, right, tree, level); tree
and level are computed here and depend on the category's parent
already being present. A pull batch
can arrive in arbitrary order and can reference a parent the backend
never sent (a true orphan) or hasn't sent yet (an out-of-order parent).
This does multi-pass insertion: each pass inserts every category whose
parent is already resolved (either a root, or already committed in an
earlier pass), and stops when a pass makes no progress — the remaining
rows are orphans, logged and skipped rather than inserted with a
dangling parent reference.
*/
package catalog

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// UpsertCategories resolves parent-before-child ordering across
// however many passes the batch needs, skips unresolvable orphans with
// a logged warning, and writes the dataset version atomically with
// every row it did commit.
func (c *Cache) UpsertCategories(ctx context.Context, rows []Category, version int64) error {
	return c.store.WithTx(ctx, func(tx *sql.Tx) error {
		committed := make(map[string]bool)
		// Parents not in this batch but already on disk count as resolved.
		existing, err := existingCategoryIDs(ctx, tx)
		if err != nil {
			return err
		}
		for id := range existing {
			committed[id] = true
		}

		pending := make([]Category, len(rows))
		copy(pending, rows)

		var skipped int
		for len(pending) > 0 {
			var next []Category
			progressed := false

			for i := range pending {
				cat := &pending[i]
				cat.TenantID, _ = c.backfill(cat.TenantID, "")

				resolved := cat.ParentID == "" || committed[cat.ParentID]
				if !resolved {
					next = append(next, *cat)
					continue
				}

				level := 0
				tree := 0
				if cat.ParentID != "" {
					pl, pt, err := categoryLevelAndTree(ctx, tx, cat.ParentID)
					if err != nil {
						return err
					}
					level = pl + 1
					tree = pt
				} else {
					tree = treeForRoot(cat.ID)
				}
				cat.Level = level
				cat.Tree = tree

				if err := upsertCategoryRow(ctx, tx, *cat); err != nil {
					return fmt.Errorf("upsert category %s: %w", cat.ID, err)
				}
				committed[cat.ID] = true
				progressed = true
			}

			if !progressed {
				for _, orphan := range next {
					log.Warn().Str("category_id", orphan.ID).Str("parent_id", orphan.ParentID).
						Msg("skipping orphan category: parent not found in snapshot")
				}
				skipped += len(next)
				break
			}
			pending = next
		}

		return writeVersion(ctx, tx, DatasetCategories, version, len(rows)-skipped, 0)
	})
}

func existingCategoryIDs(ctx context.Context, tx *sql.Tx) (map[string]bool, error) {
	rows, err := tx.QueryContext(ctx, "SELECT id FROM categories")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string]bool)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out[id] = true
	}
	return out, rows.Err()
}

func categoryLevelAndTree(ctx context.Context, tx *sql.Tx, parentID string) (level, tree int, err error) {
	err = tx.QueryRowContext(ctx, "SELECT level, tree FROM categories WHERE id = ?", parentID).
		Scan(&level, &tree)
	return
}

// treeForRoot assigns each root category a tree number derived from a
// hash of its id, so repeated pulls give the same root the same tree.
func treeForRoot(id string) int {
	h := 0
	for _, r := range id {
		h = h*31 + int(r)
	}
	if h < 0 {
		h = -h
	}
	return h % 100000
}

func upsertCategoryRow(ctx context.Context, tx *sql.Tx, cat Category) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO categories (id, tenant_id, name, parent_id, lft, rgt, tree, level, display_order, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			tenant_id = excluded.tenant_id,
			name = excluded.name,
			parent_id = excluded.parent_id,
			lft = excluded.lft,
			rgt = excluded.rgt,
			tree = excluded.tree,
			level = excluded.level,
			display_order = excluded.display_order,
			updated_at = excluded.updated_at
	`, cat.ID, cat.TenantID, cat.Name, nullableString(cat.ParentID), cat.Left, cat.Right,
		cat.Tree, cat.Level, cat.DisplayOrder, time.Now().UTC().Format(time.RFC3339))
	return err
}

func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// DeleteCategoriesByID removes explicitly deleted categories.
func (c *Cache) DeleteCategoriesByID(ctx context.Context, ids []string, version int64) error {
	return c.store.WithTx(ctx, func(tx *sql.Tx) error {
		for _, id := range ids {
			if _, err := tx.ExecContext(ctx, "DELETE FROM categories WHERE id = ?", id); err != nil {
				return err
			}
		}
		return writeVersion(ctx, tx, DatasetCategories, version, 0, len(ids))
	})
}

// GetCategory looks up a single category by id.
func (c *Cache) GetCategory(ctx context.Context, id string) (*Category, error) {
	row := c.store.DB().QueryRowContext(ctx, categorySelect+" WHERE id = ?", id)
	return scanCategory(row)
}

// ListCategories returns every cached category ordered by tree/left,
// matching nested-set traversal order.
func (c *Cache) ListCategories(ctx context.Context) ([]Category, error) {
	rows, err := c.store.DB().QueryContext(ctx, categorySelect+" ORDER BY tree, lft")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Category
	for rows.Next() {
		cat, err := scanCategoryRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *cat)
	}
	return out, rows.Err()
}

const categorySelect = `
	SELECT id, tenant_id, name, COALESCE(parent_id, ''), lft, rgt, tree, level, display_order, updated_at
	FROM categories`

func scanCategory(row *sql.Row) (*Category, error) {
	cat, err := scanCategoryRow(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return cat, err
}

func scanCategoryRow(row rowScanner) (*Category, error) {
	var cat Category
	var updatedAt string
	err := row.Scan(&cat.ID, &cat.TenantID, &cat.Name, &cat.ParentID, &cat.Left, &cat.Right,
		&cat.Tree, &cat.Level, &cat.DisplayOrder, &updatedAt)
	if err != nil {
		return nil, err
	}
	cat.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt)
	return &cat, nil
}
