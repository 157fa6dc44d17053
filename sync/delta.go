/*
delta.go - the fixed-order delta pull loop.

Grounded on onedrive-go's internal/sync/delta.go cursor
handling: each dataset carries its own modified_since watermark and a
failure on one dataset stops the tick without touching the rest, so a
transient error on, say, inventory_stocks never blocks categories or
products from advancing.
*/
package sync

import (
	"context"
	"encoding/json"
	"time"

	"github.com/fieldstack/terminal-core/catalog"
)

func (e *Engine) deltaPullLoop(ctx context.Context) {
	defer e.wg.Done()

	ticker := time.NewTicker(e.interval)
	defer ticker.Stop()

	e.runPull(ctx)
	for {
		select {
		case <-ticker.C:
			e.runPull(ctx)
		case <-e.stop:
			return
		case <-ctx.Done():
			return
		}
	}
}

func (e *Engine) runPull(ctx context.Context) {
	if e.isPaused() {
		return
	}

	_ = e.pairing.RecordSyncAttempt(ctx)

	versions, err := e.cache.Versions(ctx)
	if err != nil {
		log.Error().Err(err).Msg("read dataset versions")
		return
	}

	anySucceeded := false
	for _, key := range catalog.DatasetPullOrder {
		cursor := versions[key]
		page, err := e.backend.PullDataset(ctx, key, cursor)
		if err != nil {
			log.Warn().Err(err).Str("dataset", key).Msg("delta pull failed, stopping tick")
			break
		}
		if err := e.applyPage(ctx, key, page); err != nil {
			log.Warn().Err(err).Str("dataset", key).Msg("applying delta page failed, stopping tick")
			break
		}
		anySucceeded = true
	}

	if anySucceeded {
		_ = e.pairing.RecordSyncSuccess(ctx)
		e.TriggerDrain()
	}
}

func (e *Engine) applyPage(ctx context.Context, key string, page DatasetPage) error {
	if len(page.DeletedIDs) > 0 {
		if err := e.applyDeletes(ctx, key, page.DeletedIDs, page.Version); err != nil {
			return err
		}
	}
	if len(page.Records) == 0 || string(page.Records) == "null" {
		return nil
	}

	switch key {
	case catalog.DatasetCategories:
		var rows []catalog.Category
		if err := json.Unmarshal(page.Records, &rows); err != nil {
			return err
		}
		return e.cache.UpsertCategories(ctx, rows, page.Version)

	case catalog.DatasetProductTypes:
		var rows []catalog.ProductType
		if err := json.Unmarshal(page.Records, &rows); err != nil {
			return err
		}
		return e.cache.UpsertProductTypes(ctx, rows, page.Version)

	case catalog.DatasetTaxes:
		var rows []catalog.Tax
		if err := json.Unmarshal(page.Records, &rows); err != nil {
			return err
		}
		return e.cache.UpsertTaxes(ctx, rows, page.Version)

	case catalog.DatasetModifierSets:
		var rows []catalog.ModifierSet
		if err := json.Unmarshal(page.Records, &rows); err != nil {
			return err
		}
		return e.cache.UpsertModifierSets(ctx, rows, page.Version)

	case catalog.DatasetUsers:
		var rows []catalog.User
		if err := json.Unmarshal(page.Records, &rows); err != nil {
			return err
		}
		return e.cache.UpsertUsers(ctx, rows, page.Version)

	case catalog.DatasetProducts:
		var rows []catalog.Product
		if err := json.Unmarshal(page.Records, &rows); err != nil {
			return err
		}
		return e.cache.UpsertProducts(ctx, rows, page.Version)

	case catalog.DatasetDiscounts:
		var rows []catalog.Discount
		if err := json.Unmarshal(page.Records, &rows); err != nil {
			return err
		}
		return e.cache.UpsertDiscounts(ctx, rows, page.Version)

	case catalog.DatasetInventoryLocations:
		var rows []catalog.InventoryLocation
		if err := json.Unmarshal(page.Records, &rows); err != nil {
			return err
		}
		return e.cache.UpsertInventoryLocations(ctx, rows, page.Version)

	case catalog.DatasetInventoryStocks:
		var rows []catalog.InventoryStock
		if err := json.Unmarshal(page.Records, &rows); err != nil {
			return err
		}
		return e.cache.UpsertInventoryStocks(ctx, rows, page.Version)

	case catalog.DatasetSettings:
		var s catalog.StoreSettings
		if err := json.Unmarshal(page.Records, &s); err != nil {
			return err
		}
		return e.cache.UpsertSettings(ctx, s, page.Version)
	}
	return nil
}

func (e *Engine) applyDeletes(ctx context.Context, key string, ids []string, version int64) error {
	switch key {
	case catalog.DatasetCategories:
		return e.cache.DeleteCategoriesByID(ctx, ids, version)
	case catalog.DatasetProductTypes:
		return e.cache.DeleteProductTypesByID(ctx, ids, version)
	case catalog.DatasetTaxes:
		return e.cache.DeleteTaxesByID(ctx, ids, version)
	case catalog.DatasetModifierSets:
		return e.cache.DeleteModifierSetsByID(ctx, ids, version)
	case catalog.DatasetUsers:
		return e.cache.DeleteUsersByID(ctx, ids, version)
	case catalog.DatasetProducts:
		return e.cache.DeleteProductsByID(ctx, ids, version)
	case catalog.DatasetDiscounts:
		return e.cache.DeleteDiscountsByID(ctx, ids, version)
	case catalog.DatasetInventoryLocations:
		return e.cache.DeleteInventoryLocationsByID(ctx, ids, version)
	case catalog.DatasetInventoryStocks:
		return e.cache.DeleteInventoryStocksByID(ctx, ids, version)
	}
	return nil
}
