package domain

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

// ListingStatus is shared by products, SKUs and SKU-channel bindings.
type ListingStatus string

const (
	ListingDraft    ListingStatus = "draft"
	ListingPending  ListingStatus = "pending"
	ListingListed   ListingStatus = "listed"
	ListingDelisted ListingStatus = "delisted"
)

type Product struct {
	ID            string        `json:"id"`
	ProductName   string        `json:"product_name"`
	Description   string        `json:"description,omitempty"`
	Status        ListingStatus `json:"status"`
	StructureHash string        `json:"structure_hash"`
	CreatedBy     string        `json:"created_by,omitempty"`
	CreatedAt     time.Time     `json:"created_at"`
	UpdatedAt     time.Time     `json:"updated_at"`
}

// ProductResource is one line of a product's resource composition.
type ProductResource struct {
	ID           string `json:"id"`
	ProductID    string `json:"product_id"`
	ResourceID   string `json:"resource_id"`
	Quantity     int    `json:"quantity"`
	RequiredFlag bool   `json:"required_flag"`
	Remark       string `json:"remark,omitempty"`
}

type ProductStructureSnapshot struct {
	ID           string          `json:"id"`
	ProductID    string          `json:"product_id"`
	SnapshotData json.RawMessage `json:"snapshot_data"`
	CreatedAt    time.Time       `json:"created_at"`
}

type Sku struct {
	ID          string        `json:"id"`
	ProductID   string        `json:"product_id"`
	SkuName     string        `json:"sku_name"`
	SkuType     string        `json:"sku_type,omitempty"`
	SaleStart   string        `json:"sale_start,omitempty"`
	SaleEnd     string        `json:"sale_end,omitempty"`
	TravelStart string        `json:"travel_start,omitempty"`
	TravelEnd   string        `json:"travel_end,omitempty"`
	Status      ListingStatus `json:"status"`
	CreatedBy   string        `json:"created_by,omitempty"`
}

type SkuChannel struct {
	ID             string        `json:"id"`
	SkuID          string        `json:"sku_id"`
	ChannelID      string        `json:"channel_id"`
	ChannelSkuCode string        `json:"channel_sku_code,omitempty"`
	Status         ListingStatus `json:"status"`
}

// SupplierResource is a supplier's offer of a resource at a settlement price.
type SupplierResource struct {
	ID              string              `json:"id"`
	SupplierID      string              `json:"supplier_id"`
	ResourceID      string              `json:"resource_id"`
	SupplyStatus    string              `json:"supply_status"`
	SettlementPrice decimal.NullDecimal `json:"settlement_price"`
	Currency        string              `json:"currency,omitempty"`
	Priority        int                 `json:"priority,omitempty"`
}

type SupplierResourcePriceHistory struct {
	ID                 string              `json:"id"`
	SupplierResourceID string              `json:"supplier_resource_id"`
	BeforePrice        decimal.NullDecimal `json:"before_price"`
	AfterPrice         decimal.NullDecimal `json:"after_price"`
	Reason             string              `json:"reason,omitempty"`
	Operator           string              `json:"operator,omitempty"`
	OperatedAt         time.Time           `json:"operated_at"`
	ApprovalID         string              `json:"approval_id,omitempty"`
}
