/*
dto.go - request/response JSON shapes for the gateway's HTTP binding.

Kept separate from the domain types in catalog/queue/pairing so the
wire contract can evolve (field renames, added fields) without pulling
the storage layer along with it, the same separation drawn in the
resource-accounting engine this core grew from between its DTO file
and generic/timeoff domain types.
*/
package api

import (
	"time"

	"github.com/fieldstack/terminal-core/catalog"
	"github.com/fieldstack/terminal-core/gateway"
	"github.com/fieldstack/terminal-core/pairing"
	"github.com/fieldstack/terminal-core/queue"
)

type errorResponse struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

type deleteRequest struct {
	Version int64    `json:"version"`
	IDs     []string `json:"ids"`
}

type pairRequest struct {
	TerminalID string `json:"terminal_id"`
	TenantID   string `json:"tenant_id"`
	LocationID string `json:"location_id"`
}

type pairingDTO struct {
	TerminalID string    `json:"terminal_id"`
	TenantID   string    `json:"tenant_id"`
	LocationID string    `json:"location_id"`
	PairedAt   time.Time `json:"paired_at"`
}

func toPairingDTO(info pairing.Info) pairingDTO {
	return pairingDTO{
		TerminalID: info.TerminalID,
		TenantID:   info.TenantID,
		LocationID: info.LocationID,
		PairedAt:   info.PairedAt,
	}
}

// productDTO adds the resolved local image cache path the UI shell
// reads from, alongside every catalog.Product field.
type productDTO struct {
	catalog.Product
	LocalImagePath string `json:"local_image_path"`
}

type orderRequest struct {
	ID          string `json:"id"`
	PayloadJSON string `json:"payload"`
}

type paymentRequest struct {
	LocalOrderID string `json:"local_order_id"`
	Method       string `json:"method"`
	Amount       string `json:"amount"`
	Surcharge    string `json:"surcharge"`
	Tip          string `json:"tip"`
}

type approvalRequest struct {
	LocalOrderID string `json:"local_order_id"`
	Kind         string `json:"kind"`
	ApprovedBy   string `json:"approved_by"`
	PayloadJSON  string `json:"payload"`
}

type operationDTO struct {
	ID           string    `json:"id"`
	Kind         string    `json:"kind"`
	LocalOrderID string    `json:"local_order_id"`
	Status       string    `json:"status"`
	RetryCount   int       `json:"retry_count"`
	LastError    string    `json:"last_error,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

func toOperationDTO(op queue.Operation) operationDTO {
	return operationDTO{
		ID:           op.ID,
		Kind:         string(op.Kind),
		LocalOrderID: op.LocalOrderID,
		Status:       string(op.Status),
		RetryCount:   op.RetryCount,
		LastError:    op.LastError,
		CreatedAt:    op.CreatedAt,
	}
}

type syncStatusDTO struct {
	LastAttempt time.Time        `json:"last_attempt"`
	LastSuccess time.Time        `json:"last_success"`
	Versions    map[string]int64 `json:"versions"`
}

type completeStatsDTO struct {
	Queue    queue.Stats      `json:"queue"`
	Exposure pairing.Exposure `json:"exposure"`
	Sync     syncStatusDTO    `json:"sync"`
	Online   bool             `json:"online"`
}

func toCompleteStatsDTO(s gateway.CompleteStats) completeStatsDTO {
	return completeStatsDTO{
		Queue:    s.Queue,
		Exposure: s.Exposure,
		Sync:     syncStatusDTO{LastAttempt: s.Sync.LastAttempt, LastSuccess: s.Sync.LastSuccess, Versions: s.Sync.Versions},
		Online:   s.Online,
	}
}

type limitCheckRequest struct {
	Amount string `json:"amount"`
}

type categoriesPayload struct {
	Version int64              `json:"version"`
	Records []catalog.Category `json:"records"`
}

type productsPayload struct {
	Version int64             `json:"version"`
	Records []catalog.Product `json:"records"`
}

type taxesPayload struct {
	Version int64         `json:"version"`
	Records []catalog.Tax `json:"records"`
}

type productTypesPayload struct {
	Version int64                 `json:"version"`
	Records []catalog.ProductType `json:"records"`
}

type modifierSetsPayload struct {
	Version int64                `json:"version"`
	Records []catalog.ModifierSet `json:"records"`
}

type discountsPayload struct {
	Version int64              `json:"version"`
	Records []catalog.Discount `json:"records"`
}

type inventoryLocationsPayload struct {
	Version int64                       `json:"version"`
	Records []catalog.InventoryLocation `json:"records"`
}

type inventoryStocksPayload struct {
	Version int64                    `json:"version"`
	Records []catalog.InventoryStock `json:"records"`
}

type usersPayload struct {
	Version int64          `json:"version"`
	Records []catalog.User `json:"records"`
}

type settingsPayload struct {
	Version int64                `json:"version"`
	Record  catalog.StoreSettings `json:"record"`
}
