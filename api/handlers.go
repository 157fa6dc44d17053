/*
handlers.go - HTTP handlers binding package gateway to REST routes.

ENDPOINTS:
  Catalog:
    PUT    /api/catalog/categories          Upsert a categories page
    DELETE /api/catalog/categories          Delete categories by id
    PUT    /api/catalog/products            Upsert a products page
    DELETE /api/catalog/products            Delete products by id
    PUT    /api/catalog/taxes               Upsert a taxes page
    PUT    /api/catalog/product-types       Upsert a product-types page
    PUT    /api/catalog/modifier-sets       Upsert a modifier-sets page
    PUT    /api/catalog/discounts           Upsert a discounts page
    PUT    /api/catalog/inventory-locations Upsert an inventory-locations page
    PUT    /api/catalog/inventory-stocks    Upsert an inventory-stocks page
    PUT    /api/catalog/users               Upsert a users page
    PUT    /api/catalog/settings            Upsert the settings row
    GET    /api/catalog/products            List cached products
    GET    /api/catalog/categories          List cached categories

  Offline queue:
    POST   /api/orders                      Record an offline order
    POST   /api/payments                     Record an offline payment
    POST   /api/approvals                   Record an offline approval
    GET    /api/queue/pending               List pending operations
    GET    /api/queue/stats                 Queue stats

  Status:
    GET    /api/status                      Complete stats bundle
    GET    /api/status/network              Network status
    GET    /api/status/sync                 Sync status
    GET    /api/status/exposure             Exposure counters
    POST   /api/status/check-limit          Pre-flight a payment amount

  Pairing:
    POST   /api/pairing                     Store pairing
    GET    /api/pairing                     Get pairing
    DELETE /api/pairing                     Clear pairing

  Admin:
    POST   /api/admin/force-sync            Trigger an immediate sync
    POST   /api/admin/clear-cache           Wipe every cached dataset
    POST   /api/admin/backup                Create a backup
    POST   /api/admin/restore               Restore the latest backup
    POST   /api/admin/vacuum                Vacuum the database

ERROR HANDLING:
  Every handler maps a *errs.GatewayError's Kind to an HTTP status via
  statusForKind and writes {"kind": ..., "message": ...} as the body.
*/
package api

import (
	"encoding/json"
	"net/http"

	"github.com/fieldstack/terminal-core/catalog"
	"github.com/fieldstack/terminal-core/errs"
	"github.com/fieldstack/terminal-core/gateway"
	"github.com/fieldstack/terminal-core/money"
	"github.com/fieldstack/terminal-core/pairing"
	"github.com/fieldstack/terminal-core/queue"
)

// Handler holds the gateway every route delegates to.
type Handler struct {
	GW *gateway.Gateway
}

func NewHandler(gw *gateway.Gateway) *Handler {
	return &Handler{GW: gw}
}

func statusForKind(k errs.Kind) int {
	switch k {
	case errs.KindNotPaired, errs.KindNotInitialized:
		return http.StatusForbidden
	case errs.KindLimitExceeded:
		return http.StatusPaymentRequired
	case errs.KindDatasetVersionNeeded:
		return http.StatusBadRequest
	case errs.KindConflict:
		return http.StatusConflict
	case errs.KindAuthInvalid:
		return http.StatusUnauthorized
	case errs.KindNetworkError, errs.KindTimeout:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, gerr *errs.GatewayError) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusForKind(gerr.Kind))
	json.NewEncoder(w).Encode(errorResponse{Kind: string(gerr.Kind), Message: gerr.Error()})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Kind: "BAD_REQUEST", Message: err.Error()})
		return false
	}
	return true
}

// --- Catalog ---

func (h *Handler) upsertCategories(w http.ResponseWriter, r *http.Request) {
	var body categoriesPayload
	if !decodeBody(w, r, &body) {
		return
	}
	if gerr := h.GW.CacheDataset(r.Context(), catalog.DatasetCategories, body.Version, body.Records); gerr != nil {
		writeError(w, gerr)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) upsertProducts(w http.ResponseWriter, r *http.Request) {
	var body productsPayload
	if !decodeBody(w, r, &body) {
		return
	}
	if gerr := h.GW.CacheDataset(r.Context(), catalog.DatasetProducts, body.Version, body.Records); gerr != nil {
		writeError(w, gerr)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) upsertTaxes(w http.ResponseWriter, r *http.Request) {
	var body taxesPayload
	if !decodeBody(w, r, &body) {
		return
	}
	if gerr := h.GW.CacheDataset(r.Context(), catalog.DatasetTaxes, body.Version, body.Records); gerr != nil {
		writeError(w, gerr)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) upsertProductTypes(w http.ResponseWriter, r *http.Request) {
	var body productTypesPayload
	if !decodeBody(w, r, &body) {
		return
	}
	if gerr := h.GW.CacheDataset(r.Context(), catalog.DatasetProductTypes, body.Version, body.Records); gerr != nil {
		writeError(w, gerr)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) upsertModifierSets(w http.ResponseWriter, r *http.Request) {
	var body modifierSetsPayload
	if !decodeBody(w, r, &body) {
		return
	}
	if gerr := h.GW.CacheDataset(r.Context(), catalog.DatasetModifierSets, body.Version, body.Records); gerr != nil {
		writeError(w, gerr)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) upsertDiscounts(w http.ResponseWriter, r *http.Request) {
	var body discountsPayload
	if !decodeBody(w, r, &body) {
		return
	}
	if gerr := h.GW.CacheDataset(r.Context(), catalog.DatasetDiscounts, body.Version, body.Records); gerr != nil {
		writeError(w, gerr)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) upsertInventoryLocations(w http.ResponseWriter, r *http.Request) {
	var body inventoryLocationsPayload
	if !decodeBody(w, r, &body) {
		return
	}
	if gerr := h.GW.CacheDataset(r.Context(), catalog.DatasetInventoryLocations, body.Version, body.Records); gerr != nil {
		writeError(w, gerr)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) upsertInventoryStocks(w http.ResponseWriter, r *http.Request) {
	var body inventoryStocksPayload
	if !decodeBody(w, r, &body) {
		return
	}
	if gerr := h.GW.CacheDataset(r.Context(), catalog.DatasetInventoryStocks, body.Version, body.Records); gerr != nil {
		writeError(w, gerr)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) upsertUsers(w http.ResponseWriter, r *http.Request) {
	var body usersPayload
	if !decodeBody(w, r, &body) {
		return
	}
	if gerr := h.GW.CacheDataset(r.Context(), catalog.DatasetUsers, body.Version, body.Records); gerr != nil {
		writeError(w, gerr)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) upsertSettings(w http.ResponseWriter, r *http.Request) {
	var body settingsPayload
	if !decodeBody(w, r, &body) {
		return
	}
	if gerr := h.GW.CacheDataset(r.Context(), catalog.DatasetSettings, body.Version, body.Record); gerr != nil {
		writeError(w, gerr)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) deleteCategories(w http.ResponseWriter, r *http.Request) {
	var req deleteRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if gerr := h.GW.DeleteRecords(r.Context(), catalog.DatasetCategories, req.IDs, req.Version); gerr != nil {
		writeError(w, gerr)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) deleteProducts(w http.ResponseWriter, r *http.Request) {
	var req deleteRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if gerr := h.GW.DeleteRecords(r.Context(), catalog.DatasetProducts, req.IDs, req.Version); gerr != nil {
		writeError(w, gerr)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) listProducts(w http.ResponseWriter, r *http.Request) {
	categoryID := r.URL.Query().Get("category_id")
	rows, gerr := h.GW.GetCachedProducts(r.Context(), categoryID)
	if gerr != nil {
		writeError(w, gerr)
		return
	}
	out := make([]productDTO, len(rows))
	for i, p := range rows {
		out[i] = productDTO{Product: p, LocalImagePath: h.GW.ResolveImagePath(p.ID, p.ImageURL)}
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Handler) listCategories(w http.ResponseWriter, r *http.Request) {
	rows, gerr := h.GW.GetCachedCategories(r.Context())
	if gerr != nil {
		writeError(w, gerr)
		return
	}
	writeJSON(w, http.StatusOK, rows)
}

func (h *Handler) listTaxes(w http.ResponseWriter, r *http.Request) {
	rows, gerr := h.GW.GetCachedTaxes(r.Context())
	if gerr != nil {
		writeError(w, gerr)
		return
	}
	writeJSON(w, http.StatusOK, rows)
}

func (h *Handler) listUsers(w http.ResponseWriter, r *http.Request) {
	rows, gerr := h.GW.GetCachedUsers(r.Context())
	if gerr != nil {
		writeError(w, gerr)
		return
	}
	writeJSON(w, http.StatusOK, rows)
}

// --- Offline queue ---

func (h *Handler) recordOrder(w http.ResponseWriter, r *http.Request) {
	var req orderRequest
	if !decodeBody(w, r, &req) {
		return
	}
	op, gerr := h.GW.RecordOrder(r.Context(), queue.OfflineOrder{ID: req.ID, PayloadJSON: req.PayloadJSON})
	if gerr != nil {
		writeError(w, gerr)
		return
	}
	writeJSON(w, http.StatusCreated, toOperationDTO(op))
}

func (h *Handler) recordPayment(w http.ResponseWriter, r *http.Request) {
	var req paymentRequest
	if !decodeBody(w, r, &req) {
		return
	}
	op, gerr := h.GW.RecordPayment(r.Context(), queue.OfflinePayment{
		LocalOrderID: req.LocalOrderID, Method: req.Method,
		Amount: req.Amount, Surcharge: req.Surcharge, Tip: req.Tip,
	})
	if gerr != nil {
		writeError(w, gerr)
		return
	}
	writeJSON(w, http.StatusCreated, toOperationDTO(op))
}

func (h *Handler) recordApproval(w http.ResponseWriter, r *http.Request) {
	var req approvalRequest
	if !decodeBody(w, r, &req) {
		return
	}
	op, gerr := h.GW.RecordApproval(r.Context(), queue.OfflineApproval{
		ReferenceID: req.LocalOrderID, Kind: req.Kind, Value: req.PayloadJSON,
	})
	if gerr != nil {
		writeError(w, gerr)
		return
	}
	writeJSON(w, http.StatusCreated, toOperationDTO(op))
}

func (h *Handler) listPending(w http.ResponseWriter, r *http.Request) {
	localOrderID := r.URL.Query().Get("local_order_id")
	rows, gerr := h.GW.ListPending(r.Context(), localOrderID)
	if gerr != nil {
		writeError(w, gerr)
		return
	}
	out := make([]operationDTO, len(rows))
	for i, op := range rows {
		out[i] = toOperationDTO(op)
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Handler) queueStats(w http.ResponseWriter, r *http.Request) {
	stats, gerr := h.GW.GetQueueStats(r.Context())
	if gerr != nil {
		writeError(w, gerr)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// --- Status ---

func (h *Handler) completeStats(w http.ResponseWriter, r *http.Request) {
	stats, gerr := h.GW.GetCompleteStats(r.Context())
	if gerr != nil {
		writeError(w, gerr)
		return
	}
	writeJSON(w, http.StatusOK, toCompleteStatsDTO(stats))
}

func (h *Handler) networkStatus(w http.ResponseWriter, r *http.Request) {
	status, gerr := h.GW.GetNetworkStatus(r.Context())
	if gerr != nil {
		writeError(w, gerr)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": status})
}

func (h *Handler) syncStatus(w http.ResponseWriter, r *http.Request) {
	status, gerr := h.GW.GetSyncStatus(r.Context())
	if gerr != nil {
		writeError(w, gerr)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

func (h *Handler) exposure(w http.ResponseWriter, r *http.Request) {
	exp, gerr := h.GW.GetExposure(r.Context())
	if gerr != nil {
		writeError(w, gerr)
		return
	}
	writeJSON(w, http.StatusOK, exp)
}

func (h *Handler) checkLimit(w http.ResponseWriter, r *http.Request) {
	var req limitCheckRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if gerr := h.GW.CheckLimit(r.Context(), money.Parse(req.Amount)); gerr != nil {
		writeError(w, gerr)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"allowed": true})
}

// --- Pairing ---

func (h *Handler) storePairing(w http.ResponseWriter, r *http.Request) {
	var req pairRequest
	if !decodeBody(w, r, &req) {
		return
	}
	info := pairing.Info{TerminalID: req.TerminalID, TenantID: req.TenantID, LocationID: req.LocationID}
	if gerr := h.GW.StorePairing(r.Context(), info); gerr != nil {
		writeError(w, gerr)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"status": "paired"})
}

func (h *Handler) getPairing(w http.ResponseWriter, r *http.Request) {
	info, gerr := h.GW.GetPairing(r.Context())
	if gerr != nil {
		writeError(w, gerr)
		return
	}
	writeJSON(w, http.StatusOK, toPairingDTO(info))
}

func (h *Handler) clearPairing(w http.ResponseWriter, r *http.Request) {
	if gerr := h.GW.ClearPairing(r.Context()); gerr != nil {
		writeError(w, gerr)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "unpaired"})
}

// --- Admin ---

func (h *Handler) forceSync(w http.ResponseWriter, r *http.Request) {
	if gerr := h.GW.ForceSync(r.Context()); gerr != nil {
		writeError(w, gerr)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "syncing"})
}

func (h *Handler) clearCache(w http.ResponseWriter, r *http.Request) {
	if gerr := h.GW.ClearCache(r.Context()); gerr != nil {
		writeError(w, gerr)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "cleared"})
}

func (h *Handler) createBackup(w http.ResponseWriter, r *http.Request) {
	path, gerr := h.GW.CreateBackup(r.Context())
	if gerr != nil {
		writeError(w, gerr)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"path": path})
}

func (h *Handler) restoreBackup(w http.ResponseWriter, r *http.Request) {
	if gerr := h.GW.RestoreBackup(r.Context()); gerr != nil {
		writeError(w, gerr)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "restored"})
}

func (h *Handler) vacuum(w http.ResponseWriter, r *http.Request) {
	if gerr := h.GW.VacuumDB(r.Context()); gerr != nil {
		writeError(w, gerr)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "vacuumed"})
}
