/*
Package gateway is the single façade every consumer of the offline core
calls into: the HTTP binding in package api, and cmd/terminald's
operational subcommands. Every method returns (T, *errs.GatewayError).
The catalog, queue, stats, limit and sync methods check pairing first,
so none of them touches the store while the terminal is unpaired; the
pairing methods, GetNetworkStatus and the maintenance methods
(ClearCache, CreateBackup, RestoreBackup, VacuumDB) do not check it.

Grounded on api.Handler from the resource-accounting engine this core
grew from — a dependency-holder struct wrapping store/cached-lookups
that every HTTP handler calls through — generalized from a single
domain engine into five components (catalog, queue, pairing, network,
sync) behind one surface.
*/
package gateway

import (
	"context"
	"time"

	"github.com/fieldstack/terminal-core/catalog"
	"github.com/fieldstack/terminal-core/errs"
	"github.com/fieldstack/terminal-core/imagecache"
	"github.com/fieldstack/terminal-core/logging"
	"github.com/fieldstack/terminal-core/metrics"
	"github.com/fieldstack/terminal-core/money"
	"github.com/fieldstack/terminal-core/network"
	"github.com/fieldstack/terminal-core/pairing"
	"github.com/fieldstack/terminal-core/queue"
	"github.com/fieldstack/terminal-core/store/sqlite"
	"github.com/fieldstack/terminal-core/sync"
)

var log = logging.With("gateway")

// Gateway wires every component and is the only type a UI shell or CLI
// needs a reference to.
type Gateway struct {
	store   *sqlite.Store
	cache   *catalog.Cache
	queue   *queue.Queue
	pairing *pairing.Pairing
	network *network.Monitor
	engine  *sync.Engine
	guard   *sync.ExposureGuard
	images  *imagecache.Cache
}

// New assembles a Gateway from its already-constructed components. The
// entrypoint (cmd/terminald) is responsible for wiring the components
// themselves in dependency order.
func New(store *sqlite.Store, cache *catalog.Cache, q *queue.Queue, p *pairing.Pairing,
	mon *network.Monitor, engine *sync.Engine, guard *sync.ExposureGuard) *Gateway {
	return &Gateway{store: store, cache: cache, queue: q, pairing: p, network: mon, engine: engine, guard: guard}
}

// SetImageCache wires the product-image path resolver. Optional: a
// Gateway with no image cache simply omits the local path field.
func (g *Gateway) SetImageCache(c *imagecache.Cache) {
	g.images = c
}

func (g *Gateway) requirePaired(ctx context.Context) *errs.GatewayError {
	paired, err := g.pairing.IsPaired(ctx)
	if err != nil {
		return errs.Wrap(errs.KindNotInitialized, err)
	}
	if !paired {
		return errs.New(errs.KindNotPaired, "terminal is not paired")
	}
	return nil
}

func wrapCacheErr(err error) *errs.GatewayError {
	switch {
	case err == errs.ErrOlderVersion:
		return errs.Wrap(errs.KindDatasetVersionNeeded, err)
	case errs.KindOf(err) == errs.KindDatasetVersionNeeded:
		return errs.Wrap(errs.KindDatasetVersionNeeded, err)
	default:
		return errs.Wrap(errs.KindNotInitialized, err)
	}
}

// CacheDataset dispatches a typed dataset page to the matching
// catalog.Cache upsert, keeping the atomic-per-dataset-version write
// the one entry point the HTTP binding and cmd/terminald both call
// through — each cache-dataset command for a given key is this one
// method with a different rows value.
func (g *Gateway) CacheDataset(ctx context.Context, key string, version int64, rows any) *errs.GatewayError {
	if gerr := g.requirePaired(ctx); gerr != nil {
		return gerr
	}

	var err error
	switch key {
	case catalog.DatasetCategories:
		err = g.cache.UpsertCategories(ctx, rows.([]catalog.Category), version)
	case catalog.DatasetProductTypes:
		err = g.cache.UpsertProductTypes(ctx, rows.([]catalog.ProductType), version)
	case catalog.DatasetTaxes:
		err = g.cache.UpsertTaxes(ctx, rows.([]catalog.Tax), version)
	case catalog.DatasetModifierSets:
		err = g.cache.UpsertModifierSets(ctx, rows.([]catalog.ModifierSet), version)
	case catalog.DatasetUsers:
		err = g.cache.UpsertUsers(ctx, rows.([]catalog.User), version)
	case catalog.DatasetProducts:
		err = g.cache.UpsertProducts(ctx, rows.([]catalog.Product), version)
	case catalog.DatasetDiscounts:
		err = g.cache.UpsertDiscounts(ctx, rows.([]catalog.Discount), version)
	case catalog.DatasetInventoryLocations:
		err = g.cache.UpsertInventoryLocations(ctx, rows.([]catalog.InventoryLocation), version)
	case catalog.DatasetInventoryStocks:
		err = g.cache.UpsertInventoryStocks(ctx, rows.([]catalog.InventoryStock), version)
	case catalog.DatasetSettings:
		err = g.cache.UpsertSettings(ctx, rows.(catalog.StoreSettings), version)
	default:
		return errs.New(errs.KindNotInitialized, "unknown dataset key %q", key)
	}
	if err != nil {
		return wrapCacheErr(err)
	}
	return nil
}

// GetCachedProducts returns every cached product for a category filter
// ("" for all), each carrying Gateway as the single read path the UI
// shell uses — no direct store access.
func (g *Gateway) GetCachedProducts(ctx context.Context, categoryID string) ([]catalog.Product, *errs.GatewayError) {
	if gerr := g.requirePaired(ctx); gerr != nil {
		return nil, gerr
	}
	rows, err := g.cache.ListProducts(ctx, categoryID)
	if err != nil {
		return nil, errs.Wrap(errs.KindNotInitialized, err)
	}
	return rows, nil
}

// ResolveImagePath returns the local on-disk path a product's image_url
// would cache to, or "" if no image cache is wired.
func (g *Gateway) ResolveImagePath(productID, imageURL string) string {
	if g.images == nil {
		return ""
	}
	return g.images.Path(productID, imageURL)
}

func (g *Gateway) GetCachedCategories(ctx context.Context) ([]catalog.Category, *errs.GatewayError) {
	if gerr := g.requirePaired(ctx); gerr != nil {
		return nil, gerr
	}
	rows, err := g.cache.ListCategories(ctx)
	if err != nil {
		return nil, errs.Wrap(errs.KindNotInitialized, err)
	}
	return rows, nil
}

func (g *Gateway) GetCachedTaxes(ctx context.Context) ([]catalog.Tax, *errs.GatewayError) {
	if gerr := g.requirePaired(ctx); gerr != nil {
		return nil, gerr
	}
	rows, err := g.cache.ListTaxes(ctx)
	if err != nil {
		return nil, errs.Wrap(errs.KindNotInitialized, err)
	}
	return rows, nil
}

func (g *Gateway) GetCachedUsers(ctx context.Context) ([]catalog.User, *errs.GatewayError) {
	if gerr := g.requirePaired(ctx); gerr != nil {
		return nil, gerr
	}
	rows, err := g.cache.ListUsers(ctx)
	if err != nil {
		return nil, errs.Wrap(errs.KindNotInitialized, err)
	}
	return rows, nil
}

// DeleteRecords removes rows the backend has explicitly marked
// deleted for the given dataset key, the delete counterpart to
// CacheDataset.
func (g *Gateway) DeleteRecords(ctx context.Context, key string, ids []string, version int64) *errs.GatewayError {
	if gerr := g.requirePaired(ctx); gerr != nil {
		return gerr
	}

	var err error
	switch key {
	case catalog.DatasetCategories:
		err = g.cache.DeleteCategoriesByID(ctx, ids, version)
	case catalog.DatasetProductTypes:
		err = g.cache.DeleteProductTypesByID(ctx, ids, version)
	case catalog.DatasetTaxes:
		err = g.cache.DeleteTaxesByID(ctx, ids, version)
	case catalog.DatasetModifierSets:
		err = g.cache.DeleteModifierSetsByID(ctx, ids, version)
	case catalog.DatasetUsers:
		err = g.cache.DeleteUsersByID(ctx, ids, version)
	case catalog.DatasetProducts:
		err = g.cache.DeleteProductsByID(ctx, ids, version)
	case catalog.DatasetDiscounts:
		err = g.cache.DeleteDiscountsByID(ctx, ids, version)
	case catalog.DatasetInventoryLocations:
		err = g.cache.DeleteInventoryLocationsByID(ctx, ids, version)
	case catalog.DatasetInventoryStocks:
		err = g.cache.DeleteInventoryStocksByID(ctx, ids, version)
	default:
		return errs.New(errs.KindNotInitialized, "unknown dataset key %q", key)
	}
	if err != nil {
		return wrapCacheErr(err)
	}
	return nil
}

// RecordOrder enqueues an offline order and its Operation atomically.
func (g *Gateway) RecordOrder(ctx context.Context, order queue.OfflineOrder) (queue.Operation, *errs.GatewayError) {
	if gerr := g.requirePaired(ctx); gerr != nil {
		return queue.Operation{}, gerr
	}
	op, err := g.queue.EnqueueOrder(ctx, order)
	if err != nil {
		return queue.Operation{}, errs.Wrap(errs.KindNotInitialized, err)
	}
	if g.network != nil && g.network.IsOnline() {
		g.engine.TriggerDrain()
	}
	return op, nil
}

// RecordPayment checks the exposure guard before enqueuing an offline
// payment — the only enqueue call that can fail with LIMIT_EXCEEDED
// (CheckLimit runs the same guard without enqueuing).
func (g *Gateway) RecordPayment(ctx context.Context, payment queue.OfflinePayment) (queue.Operation, *errs.GatewayError) {
	if gerr := g.requirePaired(ctx); gerr != nil {
		return queue.Operation{}, gerr
	}

	if g.guard != nil {
		amount := money.Parse(payment.Amount).Add(money.Parse(payment.Surcharge)).Add(money.Parse(payment.Tip))
		if err := g.guard.Check(ctx, amount); err != nil {
			return queue.Operation{}, errs.Wrap(errs.KindLimitExceeded, err)
		}
	}

	op, err := g.queue.EnqueuePayment(ctx, payment)
	if err != nil {
		return queue.Operation{}, errs.Wrap(errs.KindNotInitialized, err)
	}
	if g.network != nil && g.network.IsOnline() {
		g.engine.TriggerDrain()
	}
	return op, nil
}

func (g *Gateway) RecordApproval(ctx context.Context, approval queue.OfflineApproval) (queue.Operation, *errs.GatewayError) {
	if gerr := g.requirePaired(ctx); gerr != nil {
		return queue.Operation{}, gerr
	}
	op, err := g.queue.EnqueueApproval(ctx, approval)
	if err != nil {
		return queue.Operation{}, errs.Wrap(errs.KindNotInitialized, err)
	}
	if g.network != nil && g.network.IsOnline() {
		g.engine.TriggerDrain()
	}
	return op, nil
}

// ListPending returns queued operations, optionally filtered to one
// local order.
func (g *Gateway) ListPending(ctx context.Context, localOrderID string) ([]queue.Operation, *errs.GatewayError) {
	if gerr := g.requirePaired(ctx); gerr != nil {
		return nil, gerr
	}
	rows, err := g.queue.ListPending(ctx, localOrderID)
	if err != nil {
		return nil, errs.Wrap(errs.KindNotInitialized, err)
	}
	return rows, nil
}

func (g *Gateway) GetQueueStats(ctx context.Context) (queue.Stats, *errs.GatewayError) {
	if gerr := g.requirePaired(ctx); gerr != nil {
		return queue.Stats{}, gerr
	}
	stats, err := g.queue.Stats(ctx)
	if err != nil {
		return queue.Stats{}, errs.Wrap(errs.KindNotInitialized, err)
	}
	return stats, nil
}

func (g *Gateway) GetNetworkStatus(ctx context.Context) (string, *errs.GatewayError) {
	status, err := g.pairing.NetworkStatus(ctx)
	if err != nil {
		return "", errs.Wrap(errs.KindNotInitialized, err)
	}
	return status, nil
}

// SyncStatus is the get-sync-status surface's response shape.
type SyncStatus struct {
	LastAttempt time.Time
	LastSuccess time.Time
	Versions    map[string]int64
}

func (g *Gateway) GetSyncStatus(ctx context.Context) (SyncStatus, *errs.GatewayError) {
	if gerr := g.requirePaired(ctx); gerr != nil {
		return SyncStatus{}, gerr
	}
	attempt, _, err := g.pairing.LastSyncAttempt(ctx)
	if err != nil {
		return SyncStatus{}, errs.Wrap(errs.KindNotInitialized, err)
	}
	success, _, err := g.pairing.LastSyncSuccess(ctx)
	if err != nil {
		return SyncStatus{}, errs.Wrap(errs.KindNotInitialized, err)
	}
	versions, err := g.cache.Versions(ctx)
	if err != nil {
		return SyncStatus{}, errs.Wrap(errs.KindNotInitialized, err)
	}
	return SyncStatus{LastAttempt: attempt, LastSuccess: success, Versions: versions}, nil
}

func (g *Gateway) GetExposure(ctx context.Context) (pairing.Exposure, *errs.GatewayError) {
	if gerr := g.requirePaired(ctx); gerr != nil {
		return pairing.Exposure{}, gerr
	}
	exp, err := g.pairing.GetExposure(ctx)
	if err != nil {
		return pairing.Exposure{}, errs.Wrap(errs.KindNotInitialized, err)
	}
	return exp, nil
}

// CompleteStats bundles every stats surface into one response for the
// UI's single status-bar poll.
type CompleteStats struct {
	Queue    queue.Stats
	Exposure pairing.Exposure
	Sync     SyncStatus
	Online   bool
}

func (g *Gateway) GetCompleteStats(ctx context.Context) (CompleteStats, *errs.GatewayError) {
	qs, gerr := g.GetQueueStats(ctx)
	if gerr != nil {
		return CompleteStats{}, gerr
	}
	exp, gerr := g.GetExposure(ctx)
	if gerr != nil {
		return CompleteStats{}, gerr
	}
	ss, gerr := g.GetSyncStatus(ctx)
	if gerr != nil {
		return CompleteStats{}, gerr
	}
	online := g.network != nil && g.network.IsOnline()
	stats := CompleteStats{Queue: qs, Exposure: exp, Sync: ss, Online: online}
	g.publishMetrics(stats)
	return stats, nil
}

// publishMetrics mirrors the latest stats bundle into the package
// metrics gauges, so a scrape between polls sees the same numbers the
// UI's own status bar would.
func (g *Gateway) publishMetrics(stats CompleteStats) {
	metrics.QueueDepth.WithLabelValues("pending").Set(float64(stats.Queue.Pending))
	metrics.QueueDepth.WithLabelValues("sending").Set(float64(stats.Queue.Sending))
	metrics.QueueDepth.WithLabelValues("sent").Set(float64(stats.Queue.Sent))
	metrics.QueueDepth.WithLabelValues("failed").Set(float64(stats.Queue.Failed))
	metrics.QueueDepth.WithLabelValues("conflict").Set(float64(stats.Queue.Conflict))

	if stats.Online {
		metrics.NetworkOnline.Set(1)
	} else {
		metrics.NetworkOnline.Set(0)
	}

	cash, _ := stats.Exposure.CashTotal.Float64()
	card, _ := stats.Exposure.CardTotal.Float64()
	metrics.OfflineCashTotal.Set(cash)
	metrics.OfflineCardTotal.Set(card)
	metrics.OfflineTransactionCount.Set(float64(stats.Exposure.TransactionCount))

	if !stats.Sync.LastSuccess.IsZero() {
		metrics.LastSyncSuccessUnix.Set(float64(stats.Sync.LastSuccess.Unix()))
	}
	for dataset, version := range stats.Sync.Versions {
		metrics.DatasetVersion.WithLabelValues(dataset).Set(float64(version))
	}
}

// CheckLimit lets the UI pre-flight a payment before the user commits
// to a tender, without enqueuing anything.
func (g *Gateway) CheckLimit(ctx context.Context, amount money.Amount) *errs.GatewayError {
	if gerr := g.requirePaired(ctx); gerr != nil {
		return gerr
	}
	if g.guard == nil {
		return nil
	}
	if err := g.guard.Check(ctx, amount); err != nil {
		return errs.Wrap(errs.KindLimitExceeded, err)
	}
	return nil
}

func (g *Gateway) StorePairing(ctx context.Context, info pairing.Info) *errs.GatewayError {
	if err := g.pairing.Pair(ctx, info); err != nil {
		return errs.Wrap(errs.KindNotInitialized, err)
	}
	return nil
}

func (g *Gateway) GetPairing(ctx context.Context) (pairing.Info, *errs.GatewayError) {
	info, err := g.pairing.Get(ctx)
	if err != nil {
		return pairing.Info{}, errs.Wrap(errs.KindNotPaired, err)
	}
	return info, nil
}

func (g *Gateway) ClearPairing(ctx context.Context) *errs.GatewayError {
	if err := g.pairing.Unpair(ctx); err != nil {
		return errs.Wrap(errs.KindNotInitialized, err)
	}
	return nil
}

func (g *Gateway) IsPaired(ctx context.Context) (bool, *errs.GatewayError) {
	paired, err := g.pairing.IsPaired(ctx)
	if err != nil {
		return false, errs.Wrap(errs.KindNotInitialized, err)
	}
	return paired, nil
}

// ForceSync requests an immediate drain of the outbound queue outside
// the regular interval, used by a manual "sync now" UI action. It does
// not start a delta pull; pulls keep to the engine's own interval.
func (g *Gateway) ForceSync(ctx context.Context) *errs.GatewayError {
	if gerr := g.requirePaired(ctx); gerr != nil {
		return gerr
	}
	g.engine.TriggerDrain()
	return nil
}

func (g *Gateway) ClearCache(ctx context.Context) *errs.GatewayError {
	if err := g.store.ClearAll(ctx); err != nil {
		return errs.Wrap(errs.KindNotInitialized, err)
	}
	return nil
}

func (g *Gateway) CreateBackup(ctx context.Context) (string, *errs.GatewayError) {
	path, err := g.store.BackupNow(ctx)
	if err != nil {
		return "", errs.Wrap(errs.KindDBCorruption, err)
	}
	return path, nil
}

// RestoreBackup overwrites the live database with the most recent
// backup. The caller must treat the Gateway's other components as
// needing a fresh read after this returns — cached prepared state in
// this process is not reloaded automatically.
func (g *Gateway) RestoreBackup(ctx context.Context) *errs.GatewayError {
	if err := g.store.RestoreBackup(ctx); err != nil {
		return errs.Wrap(errs.KindDBCorruption, err)
	}
	return nil
}

func (g *Gateway) VacuumDB(ctx context.Context) *errs.GatewayError {
	if err := g.store.Vacuum(ctx); err != nil {
		return errs.Wrap(errs.KindNotInitialized, err)
	}
	return nil
}
