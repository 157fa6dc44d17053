/*
Package catalog implements the local relational cache of reference
data: products, categories, modifier sets, discounts, taxes, product
types, inventory locations and stock, users, and store settings. Every
row here is written only by a sync pull and read by the UI gateway.

Grounded on generic/types.go (plain structs, decimal-backed amounts,
no ORM) and store/sqlite/sqlite.go (row-struct per table, manual
scan/marshal) from the resource-accounting engine this core grew out
of. Its single Employee/Policy domain is replaced by the ten
reference entities a POS terminal caches.
*/
package catalog

import "time"

// Product mirrors the backend's product record.
type Product struct {
	ID                string
	TenantID          string
	LocationID        string
	ProductTypeID     string
	Name              string
	Barcode           string
	Price             string
	CategoryID        string
	ImageURL          string
	TracksInventory   bool
	HasModifiers      bool
	IsPublic          bool
	IsActive          bool
	TaxIDs            []string
	ModifierSetConfig []ModifierSetRef
	BackendUpdatedAt  *time.Time
	UpdatedAt         time.Time
}

// ModifierSetRef is the per-product modifier-set configuration embedded
// in a Product's JSON column.
type ModifierSetRef struct {
	ModifierSetID string `json:"modifier_set_id"`
	Required      bool   `json:"required"`
}

// Category carries the nested-set columns Left/Right/Tree/Level plus
// the backend-supplied ParentID and DisplayOrder. The hierarchy-aware
// upsert computes Tree and Level; Left and Right are stored as supplied.
type Category struct {
	ID           string
	TenantID     string
	Name         string
	ParentID     string
	Left         int
	Right        int
	Tree         int
	Level        int
	DisplayOrder int
	UpdatedAt    time.Time
}

// ModifierSet is a named group of selectable options attached to one or
// more products.
type ModifierSet struct {
	ID             string
	TenantID       string
	Name           string
	SelectionType  string // "single" | "multi"
	MinSelections  int
	MaxSelections  int
	TriggerOptionID string
	Options        []ModifierOption
	UpdatedAt      time.Time
}

// ModifierOption is one selectable line within a ModifierSet.
type ModifierOption struct {
	ID    string  `json:"id"`
	Name  string  `json:"name"`
	Price string  `json:"price"`
}

// Discount describes a percentage/fixed/BOGO promotion.
type Discount struct {
	ID                string
	TenantID          string
	Name              string
	Kind              string // "percentage" | "fixed" | "bogo"
	Scope             string // "order" | "product" | "category"
	Value             string
	Code              string
	StartsAt          *time.Time
	EndsAt            *time.Time
	MinPurchase       string
	MinQuantity       int
	ApplicabilityIDs  []string
	UpdatedAt         time.Time
}

// Tax is a named rate applied to taxable line items.
type Tax struct {
	ID        string
	TenantID  string
	Name      string
	Rate      string
	UpdatedAt time.Time
}

// ProductType groups products for reporting and tax defaults.
type ProductType struct {
	ID        string
	TenantID  string
	Name      string
	UpdatedAt time.Time
}

// InventoryLocation is a stock-tracking location within the tenant.
type InventoryLocation struct {
	ID        string
	TenantID  string
	Name      string
	UpdatedAt time.Time
}

// InventoryStock is the on-hand quantity of one product at one location.
type InventoryStock struct {
	ID         string
	TenantID   string
	ProductID  string
	LocationID string
	Quantity   string
	UpdatedAt  time.Time
}

// User is POS staff authorized to operate the terminal, identified by
// a hashed PIN rather than a password.
type User struct {
	ID        string
	TenantID  string
	Name      string
	PINHash   string
	Role      string
	IsActive  bool
	UpdatedAt time.Time
}

// StoreSettings is the tenant/location configuration payload — tax
// display mode, receipt footer, offline exposure caps, and whatever
// else the backend chooses to ship, stored as an opaque JSON blob.
type StoreSettings struct {
	TenantID    string
	PayloadJSON string
	UpdatedAt   time.Time
}

// DatasetVersion is the high-water mark the sync engine consults as
// the modified_since cursor for a dataset's next delta pull.
type DatasetVersion struct {
	Key          string
	Version      int64
	SyncedAt     *time.Time
	RecordCount  int
	DeletedCount int
}

// Dataset keys, in the fixed dependency order the sync engine pulls
// them — categories before products, locations before stock.
const (
	DatasetCategories         = "categories"
	DatasetProductTypes       = "product_types"
	DatasetTaxes              = "taxes"
	DatasetModifierSets       = "modifier_sets"
	DatasetUsers              = "users"
	DatasetProducts           = "products"
	DatasetDiscounts          = "discounts"
	DatasetInventoryLocations = "inventory_locations"
	DatasetInventoryStocks    = "inventory_stocks"
	DatasetSettings           = "settings"
)

// DatasetPullOrder is the order the delta-pull loop must walk datasets
// in, so that a child's parent reference (category, product type,
// location) is already cached when the child is upserted.
var DatasetPullOrder = []string{
	DatasetCategories,
	DatasetProductTypes,
	DatasetTaxes,
	DatasetModifierSets,
	DatasetUsers,
	DatasetProducts,
	DatasetDiscounts,
	DatasetInventoryLocations,
	DatasetInventoryStocks,
	DatasetSettings,
}
