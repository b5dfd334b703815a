package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Quantities is the {total, frozen, sold} triple captured before and after
// every inventory mutation.
type Quantities struct {
	Total  int `json:"total"`
	Frozen int `json:"frozen"`
	Sold   int `json:"sold"`
}

// InventoryRecord is the stock of one SKU on one travel date.
// FrozenQty + SoldQty must never exceed TotalQty.
type InventoryRecord struct {
	ID            string `json:"id"`
	SkuID         string `json:"sku_id"`
	InventoryDate string `json:"inventory_date"`
	TotalQty      int    `json:"total_qty"`
	FrozenQty     int    `json:"frozen_qty"`
	SoldQty       int    `json:"sold_qty"`
	Status        string `json:"status"`
}

// Available is the quantity that can still be frozen.
func (r InventoryRecord) Available() int {
	return r.TotalQty - r.FrozenQty - r.SoldQty
}

func (r InventoryRecord) Quantities() Quantities {
	return Quantities{Total: r.TotalQty, Frozen: r.FrozenQty, Sold: r.SoldQty}
}

const InventoryStatusNormal = "normal"

// InventoryChange names the mutation recorded in an inventory log entry.
type InventoryChange string

const (
	ChangeInitialize     InventoryChange = "initialize"
	ChangeAdjust         InventoryChange = "adjust"
	ChangeFreeze         InventoryChange = "freeze"
	ChangeVerify         InventoryChange = "verify"
	ChangeRelease        InventoryChange = "release"
	ChangeManualAdjust   InventoryChange = "manual_adjust"
	ChangeVerifyReversal InventoryChange = "verify_reversal"
)

// InventoryLogEntry is immutable once appended.
type InventoryLogEntry struct {
	ID             string          `json:"id"`
	SkuID          string          `json:"sku_id"`
	InventoryDate  string          `json:"inventory_date"`
	ChangeType     InventoryChange `json:"change_type"`
	BeforeQty      Quantities      `json:"before_qty"`
	AfterQty       Quantities      `json:"after_qty"`
	RelatedOrderID string          `json:"related_order_id,omitempty"`
	Operator       string          `json:"operator,omitempty"`
	OperatedAt     time.Time       `json:"operated_at"`
	Remark         string          `json:"remark,omitempty"`
}

// PriceStatus is the lifecycle state of a price record.
type PriceStatus string

const (
	PriceDraft      PriceStatus = "draft"
	PricePending    PriceStatus = "pending"
	PriceActive     PriceStatus = "active"
	PriceSuperseded PriceStatus = "superseded"
)

// PriceRecord is a sale/cost price for a (SKU, channel) pair over the
// closed date interval [StartAt, EndAt].
type PriceRecord struct {
	ID        string              `json:"id"`
	SkuID     string              `json:"sku_id"`
	ChannelID string              `json:"channel_id"`
	SalePrice decimal.Decimal     `json:"sale_price"`
	CostPrice decimal.NullDecimal `json:"cost_price"`
	StartAt   string              `json:"start_at"`
	EndAt     string              `json:"end_at"`
	Status    PriceStatus         `json:"status"`
	CreatedBy string              `json:"created_by,omitempty"`
}

// Live reports whether the record takes part in interval conflict checks.
func (p PriceRecord) Live() bool {
	return p.Status != PriceSuperseded
}

// PriceHistoryEntry is an append-only before/after snapshot of a price change.
type PriceHistoryEntry struct {
	ID         string       `json:"id"`
	PriceID    string       `json:"price_id"`
	BeforeData *PriceRecord `json:"before_data"`
	AfterData  *PriceRecord `json:"after_data"`
	Operator   string       `json:"operator,omitempty"`
	OperatedAt time.Time    `json:"operated_at"`
	ApprovalID string       `json:"approval_id,omitempty"`
}

// OrderStatus is the lifecycle state of an order. OrderCreated only ever
// appears as the before-status of the first history entry.
type OrderStatus string

const (
	OrderCreated  OrderStatus = "created"
	OrderPaid     OrderStatus = "paid"
	OrderVerified OrderStatus = "verified"
	OrderRefunded OrderStatus = "refunded"
)

type Order struct {
	ID           string              `json:"id"`
	OrderNo      string              `json:"order_no"`
	ChannelID    string              `json:"channel_id"`
	SkuID        string              `json:"sku_id"`
	ProductID    string              `json:"product_id"`
	TravelDate   string              `json:"travel_date"`
	Quantity     int                 `json:"quantity"`
	SalePrice    decimal.Decimal     `json:"sale_price"`
	SaleAmount   decimal.Decimal     `json:"sale_amount"`
	CostPrice    decimal.NullDecimal `json:"cost_price"`
	CostAmount   decimal.NullDecimal `json:"cost_amount"`
	ProfitAmount decimal.NullDecimal `json:"profit_amount"`
	Status       OrderStatus         `json:"status"`
	CreatedBy    string              `json:"created_by,omitempty"`
	CreatedAt    time.Time           `json:"created_at"`
	VerifiedAt   *time.Time          `json:"verified_at,omitempty"`
	RefundedAt   *time.Time          `json:"refunded_at,omitempty"`
	Remark       string              `json:"remark,omitempty"`
}

// DedupKey identifies an order for duplicate-import detection.
func (o Order) DedupKey() string {
	return o.OrderNo + "::" + o.ChannelID
}

// ComputeAmounts derives sale, cost and profit amounts. Cost and profit are
// null when the cost price is unknown.
func ComputeAmounts(sale decimal.Decimal, cost decimal.NullDecimal, quantity int) (saleAmount decimal.Decimal, costAmount, profitAmount decimal.NullDecimal) {
	qty := decimal.NewFromInt(int64(quantity))
	saleAmount = sale.Mul(qty)
	if !cost.Valid {
		return saleAmount, decimal.NullDecimal{}, decimal.NullDecimal{}
	}
	costAmount = decimal.NullDecimal{Decimal: cost.Decimal.Mul(qty), Valid: true}
	profitAmount = decimal.NullDecimal{Decimal: saleAmount.Sub(costAmount.Decimal), Valid: true}
	return saleAmount, costAmount, profitAmount
}

type OrderStatusHistoryEntry struct {
	ID           string      `json:"id"`
	OrderID      string      `json:"order_id"`
	BeforeStatus OrderStatus `json:"before_status"`
	AfterStatus  OrderStatus `json:"after_status"`
	Operator     string      `json:"operator,omitempty"`
	OperatedAt   time.Time   `json:"operated_at"`
	Reason       string      `json:"reason,omitempty"`
}
