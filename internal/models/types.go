package models

import (
	"encoding/json"

	"github.com/shopspring/decimal"

	"github.com/punchamoorthee/otaledger/internal/dates"
	"github.com/punchamoorthee/otaledger/internal/domain"
	"github.com/punchamoorthee/otaledger/internal/fingerprint"
	"github.com/punchamoorthee/otaledger/internal/orders"
)

// Inventory

// InitInventoryRequest initializes either the listed dates or every date in
// [start_date, end_date].
type InitInventoryRequest struct {
	SkuID     string   `json:"sku_id" validate:"required"`
	Dates     []string `json:"inventory_dates" validate:"omitempty,dive,datetime=2006-01-02"`
	StartDate string   `json:"start_date" validate:"omitempty,datetime=2006-01-02"`
	EndDate   string   `json:"end_date" validate:"omitempty,datetime=2006-01-02"`
	TotalQty  int      `json:"total_qty" validate:"gte=0"`
	Operator  string   `json:"operator"`
	Reason    string   `json:"reason"`
}

// Days expands the request into the dates to initialize.
func (r InitInventoryRequest) Days() ([]string, error) {
	if len(r.Dates) > 0 {
		return r.Dates, nil
	}
	if r.StartDate == "" || r.EndDate == "" {
		return nil, domain.Invalid("inventory_dates", "required unless start_date and end_date are set")
	}
	days, err := dates.Range(r.StartDate, r.EndDate)
	if err != nil {
		return nil, domain.Invalid("end_date", "%v", err)
	}
	return days, nil
}

// StockMoveRequest is the body of freeze, consume and release.
type StockMoveRequest struct {
	SkuID         string `json:"sku_id" validate:"required"`
	InventoryDate string `json:"inventory_date" validate:"required,datetime=2006-01-02"`
	Quantity      int    `json:"quantity" validate:"gt=0"`
	OrderID       string `json:"order_id"`
	Operator      string `json:"operator"`
}

type AdjustInventoryRequest struct {
	SkuID         string `json:"sku_id" validate:"required"`
	InventoryDate string `json:"inventory_date" validate:"required,datetime=2006-01-02"`
	TotalQty      int    `json:"total_qty" validate:"gte=0"`
	Operator      string `json:"operator"`
	Remark        string `json:"remark"`
}

type FutureStockResponse struct {
	SkuID    string `json:"sku_id"`
	Days     int    `json:"days"`
	HasStock bool   `json:"has_stock"`
}

// Pricing

type PriceRequest struct {
	ID        string              `json:"id"`
	SkuID     string              `json:"sku_id" validate:"required"`
	ChannelID string              `json:"channel_id" validate:"required"`
	SalePrice decimal.Decimal     `json:"sale_price"`
	CostPrice decimal.NullDecimal `json:"cost_price"`
	StartAt   string              `json:"start_at" validate:"required,datetime=2006-01-02"`
	EndAt     string              `json:"end_at" validate:"required,datetime=2006-01-02"`
	Status    domain.PriceStatus  `json:"status" validate:"omitempty,oneof=draft pending active superseded"`
	Operator  string              `json:"operator"`
}

// Record converts the request; an empty status becomes draft.
func (r PriceRequest) Record() domain.PriceRecord {
	status := r.Status
	if status == "" {
		status = domain.PriceDraft
	}
	return domain.PriceRecord{
		ID:        r.ID,
		SkuID:     r.SkuID,
		ChannelID: r.ChannelID,
		SalePrice: r.SalePrice,
		CostPrice: r.CostPrice,
		StartAt:   r.StartAt,
		EndAt:     r.EndAt,
		Status:    status,
		CreatedBy: r.Operator,
	}
}

type ConflictRequest struct {
	SkuID     string `json:"sku_id" validate:"required"`
	ChannelID string `json:"channel_id" validate:"required"`
	StartAt   string `json:"start_at" validate:"required,datetime=2006-01-02"`
	EndAt     string `json:"end_at" validate:"required,datetime=2006-01-02"`
	ExcludeID string `json:"exclude_id"`
}

type ConflictResponse struct {
	Conflicts []domain.PriceRecord `json:"conflicts"`
}

type CloneActiveRequest struct {
	SkuID     string `json:"sku_id" validate:"required"`
	ChannelID string `json:"channel_id" validate:"required"`
}

type PriceHistoryRequest struct {
	PriceID    string              `json:"price_id" validate:"required"`
	BeforeData *domain.PriceRecord `json:"before_data"`
	AfterData  *domain.PriceRecord `json:"after_data"`
	Operator   string              `json:"operator"`
	ApprovalID string              `json:"approval_id"`
}

type OperatorRequest struct {
	Operator string `json:"operator"`
	Reason   string `json:"reason"`
}

// Approvals

type SubmitApprovalRequest struct {
	ObjectType domain.ObjectType `json:"object_type" validate:"required,oneof=product sku price inventory supplier"`
	ObjectID   string            `json:"object_id" validate:"required"`
	ActionType string            `json:"action_type" validate:"required"`
	BeforeData json.RawMessage   `json:"before_data"`
	AfterData  json.RawMessage   `json:"after_data"`
	Applicant  string            `json:"applicant" validate:"required"`
	Approver   string            `json:"approver"`
}

type DecideRequest struct {
	Status   domain.ApprovalStatus `json:"status" validate:"required,oneof=approved rejected"`
	Comment  string                `json:"comment"`
	Operator string                `json:"operator" validate:"required"`
}

type SubmitPriceRequest struct {
	PriceRequest
	Applicant string `json:"applicant" validate:"required"`
	Approver  string `json:"approver"`
	Override  bool   `json:"override"`
}

type SubmitListingRequest struct {
	ObjectType domain.ObjectType    `json:"object_type" validate:"required,oneof=product sku"`
	ObjectID   string               `json:"object_id" validate:"required"`
	Status     domain.ListingStatus `json:"status" validate:"required,oneof=listed delisted"`
	Applicant  string               `json:"applicant" validate:"required"`
	Approver   string               `json:"approver"`
}

type SubmitSettlementRequest struct {
	ResourceID      string              `json:"supplier_resource_id" validate:"required"`
	SettlementPrice decimal.NullDecimal `json:"settlement_price"`
	Reason          string              `json:"reason"`
	Applicant       string              `json:"applicant" validate:"required"`
	Approver        string              `json:"approver"`
}

type SubmitInventoryRequest struct {
	SkuID         string `json:"sku_id" validate:"required"`
	InventoryDate string `json:"inventory_date" validate:"required,datetime=2006-01-02"`
	TotalQty      int    `json:"total_qty" validate:"gte=0"`
	Remark        string `json:"remark"`
	Applicant     string `json:"applicant" validate:"required"`
	Approver      string `json:"approver"`
}

// Orders

type CreateOrderRequest struct {
	OrderNo    string              `json:"order_no"`
	ChannelID  string              `json:"channel_id" validate:"required"`
	SkuID      string              `json:"sku_id" validate:"required"`
	ProductID  string              `json:"product_id"`
	TravelDate string              `json:"travel_date" validate:"required,datetime=2006-01-02"`
	Quantity   int                 `json:"quantity" validate:"gt=0"`
	SalePrice  decimal.Decimal     `json:"sale_price"`
	CostPrice  decimal.NullDecimal `json:"cost_price"`
	CreatedBy  string              `json:"created_by"`
	Remark     string              `json:"remark"`
}

func (r CreateOrderRequest) NewOrder() orders.NewOrder {
	return orders.NewOrder{
		OrderNo:    r.OrderNo,
		ChannelID:  r.ChannelID,
		SkuID:      r.SkuID,
		ProductID:  r.ProductID,
		TravelDate: r.TravelDate,
		Quantity:   r.Quantity,
		SalePrice:  r.SalePrice,
		CostPrice:  r.CostPrice,
		CreatedBy:  r.CreatedBy,
		Remark:     r.Remark,
	}
}

type ImportOrdersRequest struct {
	Orders   []domain.Order `json:"orders" validate:"required"`
	Operator string         `json:"operator"`
}

type OrderResponse struct {
	Order   domain.Order                     `json:"order"`
	History []domain.OrderStatusHistoryEntry `json:"history"`
}

// Catalog

type LineRequest struct {
	ResourceID   string `json:"resource_id" validate:"required"`
	Quantity     int    `json:"quantity" validate:"gte=1"`
	RequiredFlag bool   `json:"required_flag"`
}

func toLines(in []LineRequest) []fingerprint.Line {
	out := make([]fingerprint.Line, len(in))
	for i, l := range in {
		out[i] = fingerprint.Line{ResourceID: l.ResourceID, Quantity: l.Quantity, RequiredFlag: l.RequiredFlag}
	}
	return out
}

type FingerprintRequest struct {
	Lines []LineRequest `json:"lines" validate:"dive"`
}

func (r FingerprintRequest) FingerprintLines() []fingerprint.Line { return toLines(r.Lines) }

type FingerprintResponse struct {
	Hash string `json:"hash"`
}

type CreateProductRequest struct {
	ProductName string        `json:"product_name" validate:"required"`
	Description string        `json:"description"`
	CreatedBy   string        `json:"created_by"`
	Lines       []LineRequest `json:"lines" validate:"required,min=1,dive"`
	Override    bool          `json:"override"`
}

func (r CreateProductRequest) FingerprintLines() []fingerprint.Line { return toLines(r.Lines) }

type CopyProductRequest struct {
	ProductName string `json:"product_name"`
	Operator    string `json:"operator"`
}

type ShelfGatesResponse struct {
	SkuID    string   `json:"sku_id"`
	Gates    []string `json:"gates"`
	Listable bool     `json:"listable"`
}

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error             string               `json:"error"`
	Kind              string               `json:"kind"`
	Field             string               `json:"field,omitempty"`
	Conflicts         []domain.PriceRecord `json:"conflicts,omitempty"`
	ExistingProductID string               `json:"existing_product_id,omitempty"`
}
