package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/punchamoorthee/otaledger/internal/approval"
	"github.com/punchamoorthee/otaledger/internal/catalog"
	"github.com/punchamoorthee/otaledger/internal/domain"
	"github.com/punchamoorthee/otaledger/internal/id"
	"github.com/punchamoorthee/otaledger/internal/inventory"
	"github.com/punchamoorthee/otaledger/internal/pricing"
)

// Action types written on approval requests.
const (
	ActionCreatePrice = "create_price"
	ActionUpdatePrice = "update_price"
	ActionList        = "list"
	ActionDelist      = "delist"
	ActionSettlement  = "update_settlement"
	ActionInventory   = "adjust_inventory"
)

type listingChange struct {
	Status domain.ListingStatus `json:"status"`
}

type settlementChange struct {
	SettlementPrice decimal.NullDecimal `json:"settlement_price"`
	Reason          string              `json:"reason,omitempty"`
}

type inventoryChange struct {
	SkuID         string `json:"sku_id"`
	InventoryDate string `json:"inventory_date"`
	TotalQty      int    `json:"total_qty"`
	Remark        string `json:"remark,omitempty"`
}

// Approvals runs the submit/decide workflow across the ledgers. Submitting
// puts the target into a pending state where one exists; approving applies
// the proposed change and rejecting undoes the pending state.
type Approvals struct {
	gate     *approval.Gate
	prices   *pricing.Store
	catalog  *catalog.Catalog
	stock    *inventory.Ledger
	handlers approval.Handlers
	gates    func(skuID string) []string
	logger   *zap.Logger
}

func NewApprovals(gate *approval.Gate, prices *pricing.Store, cat *catalog.Catalog, stock *inventory.Ledger, logger *zap.Logger) *Approvals {
	if logger == nil {
		logger = zap.NewNop()
	}
	a := &Approvals{gate: gate, prices: prices, catalog: cat, stock: stock, logger: logger}
	a.handlers = approval.Handlers{
		Product:   listingHandler{set: cat.SetProductStatus},
		Sku:       listingHandler{set: cat.SetSkuStatus},
		Price:     priceHandler{prices: prices},
		Inventory: inventoryHandler{stock: stock},
		Supplier:  settlementHandler{catalog: cat},
	}
	return a
}

// PriceSubmission proposes a new or changed price record. Override submits
// even when the interval overlaps other live records of the pair.
type PriceSubmission struct {
	Price     domain.PriceRecord
	Applicant string
	Approver  string
	Override  bool
}

// SubmitPrice stores the record as pending and opens an approval for it.
// Records already active, superseded or pending cannot be resubmitted.
func (a *Approvals) SubmitPrice(ctx context.Context, s PriceSubmission) (domain.ApprovalRequest, error) {
	rec := s.Price
	if rec.ID == "" {
		rec.ID = id.New(id.Price)
	}
	rec.Status = domain.PricePending
	if rec.CreatedBy == "" {
		rec.CreatedBy = s.Applicant
	}

	before, err := a.prices.UpsertIfNoConflict(ctx, rec, s.Override, s.Applicant, func(prev domain.PriceRecord, existed bool) error {
		if !existed {
			return nil
		}
		switch prev.Status {
		case domain.PriceActive, domain.PriceSuperseded:
			return fmt.Errorf("price %s is %s, submit a draft copy: %w", rec.ID, prev.Status, domain.ErrInvalidTransition)
		case domain.PricePending:
			return fmt.Errorf("price %s already awaits approval: %w", rec.ID, domain.ErrInvalidTransition)
		}
		return nil
	})
	if err != nil {
		return domain.ApprovalRequest{}, err
	}
	action := ActionCreatePrice
	if before != nil {
		action = ActionUpdatePrice
	}
	req, err := a.gate.Submit(ctx, approval.Submission{
		ObjectType: domain.ObjectPrice,
		ObjectID:   rec.ID,
		ActionType: action,
		Before:     before,
		After:      rec,
		Applicant:  s.Applicant,
		Approver:   s.Approver,
	})
	if err != nil {
		return domain.ApprovalRequest{}, errors.Join(err, restorePrice(ctx, a.prices, rec.ID, before, s.Applicant))
	}
	return req, nil
}

// SubmitListing moves a product or SKU to pending and requests the target
// status. Listing a SKU requires every shelf gate to be clear.
func (a *Approvals) SubmitListing(ctx context.Context, kind domain.ObjectType, objectID string, target domain.ListingStatus, applicant, approver string) (domain.ApprovalRequest, error) {
	if target != domain.ListingListed && target != domain.ListingDelisted {
		return domain.ApprovalRequest{}, domain.Invalid("status", "must be %s or %s", domain.ListingListed, domain.ListingDelisted)
	}
	guard := func(current domain.ListingStatus) error {
		if current == domain.ListingPending {
			return fmt.Errorf("%s %s already awaits approval: %w", kind, objectID, domain.ErrInvalidTransition)
		}
		if kind == domain.ObjectSku && target == domain.ListingListed && a.gates != nil {
			if blocked := a.gates(objectID); len(blocked) > 0 {
				return fmt.Errorf("sku %s blocked by %s: %w", objectID, strings.Join(blocked, ", "), domain.ErrInvalidTransition)
			}
		}
		return nil
	}

	var set func(context.Context, string, domain.ListingStatus, string) (domain.ListingStatus, error)
	var prev domain.ListingStatus
	var err error
	switch kind {
	case domain.ObjectProduct:
		set = a.catalog.SetProductStatus
		prev, err = a.catalog.SetProductStatusIf(ctx, objectID, domain.ListingPending, applicant, guard)
	case domain.ObjectSku:
		set = a.catalog.SetSkuStatus
		prev, err = a.catalog.SetSkuStatusIf(ctx, objectID, domain.ListingPending, applicant, guard)
	default:
		return domain.ApprovalRequest{}, fmt.Errorf("listing object type %q: %w", kind, domain.ErrUnknownObjectType)
	}
	if err != nil {
		return domain.ApprovalRequest{}, err
	}
	action := ActionList
	if target == domain.ListingDelisted {
		action = ActionDelist
	}
	req, err := a.gate.Submit(ctx, approval.Submission{
		ObjectType: kind,
		ObjectID:   objectID,
		ActionType: action,
		Before:     listingChange{Status: prev},
		After:      listingChange{Status: target},
		Applicant:  applicant,
		Approver:   approver,
	})
	if err != nil {
		_, rerr := set(ctx, objectID, prev, applicant)
		return domain.ApprovalRequest{}, errors.Join(err, rerr)
	}
	return req, nil
}

// SubmitSettlement requests a new settlement price for a supplier resource.
// Nothing changes until approval.
func (a *Approvals) SubmitSettlement(ctx context.Context, resourceID string, price decimal.NullDecimal, reason, applicant, approver string) (domain.ApprovalRequest, error) {
	r, ok := a.catalog.SupplierResource(resourceID)
	if !ok {
		return domain.ApprovalRequest{}, fmt.Errorf("supplier resource %s: %w", resourceID, domain.ErrRecordNotFound)
	}
	if price.Valid && price.Decimal.IsNegative() {
		return domain.ApprovalRequest{}, domain.Invalid("settlement_price", "must not be negative")
	}
	return a.gate.Submit(ctx, approval.Submission{
		ObjectType: domain.ObjectSupplier,
		ObjectID:   resourceID,
		ActionType: ActionSettlement,
		Before:     settlementChange{SettlementPrice: r.SettlementPrice},
		After:      settlementChange{SettlementPrice: price, Reason: reason},
		Applicant:  applicant,
		Approver:   approver,
	})
}

// SubmitInventory requests a new total for an initialized inventory record.
// Nothing changes until approval.
func (a *Approvals) SubmitInventory(ctx context.Context, sku, date string, total int, remark, applicant, approver string) (domain.ApprovalRequest, error) {
	rec, ok := a.stock.Get(sku, date)
	if !ok {
		return domain.ApprovalRequest{}, fmt.Errorf("inventory %s on %s: %w", sku, date, domain.ErrNotInitialized)
	}
	if total < 0 {
		return domain.ApprovalRequest{}, domain.Invalid("total_qty", "must not be negative")
	}
	return a.gate.Submit(ctx, approval.Submission{
		ObjectType: domain.ObjectInventory,
		ObjectID:   rec.ID,
		ActionType: ActionInventory,
		Before:     inventoryChange{SkuID: sku, InventoryDate: date, TotalQty: rec.TotalQty},
		After:      inventoryChange{SkuID: sku, InventoryDate: date, TotalQty: total, Remark: remark},
		Applicant:  applicant,
		Approver:   approver,
	})
}

// Submit opens a request without touching the target.
func (a *Approvals) Submit(ctx context.Context, s approval.Submission) (domain.ApprovalRequest, error) {
	return a.gate.Submit(ctx, s)
}

// Approve applies the proposed change and marks the request approved.
func (a *Approvals) Approve(ctx context.Context, requestID, comment, operator string) (domain.ApprovalRequest, error) {
	return a.decide(ctx, requestID, domain.ApprovalApproved, comment, operator)
}

// Reject undoes the pending state of the target and marks the request
// rejected.
func (a *Approvals) Reject(ctx context.Context, requestID, comment, operator string) (domain.ApprovalRequest, error) {
	return a.decide(ctx, requestID, domain.ApprovalRejected, comment, operator)
}

// Decide dispatches on status.
func (a *Approvals) Decide(ctx context.Context, requestID string, status domain.ApprovalStatus, comment, operator string) (domain.ApprovalRequest, error) {
	return a.decide(ctx, requestID, status, comment, operator)
}

func (a *Approvals) decide(ctx context.Context, requestID string, status domain.ApprovalStatus, comment, operator string) (domain.ApprovalRequest, error) {
	req, ok := a.gate.Get(requestID)
	if !ok {
		return domain.ApprovalRequest{}, fmt.Errorf("approval %s: %w", requestID, domain.ErrRecordNotFound)
	}
	h, err := a.handlers.For(req.ObjectType)
	if err != nil {
		return domain.ApprovalRequest{}, err
	}
	decided, err := a.gate.DecideWith(ctx, requestID, status, comment, operator, func(ctx context.Context, req domain.ApprovalRequest) error {
		if operator != "" {
			req.Approver = operator
		}
		if status == domain.ApprovalApproved {
			return h.Apply(ctx, req)
		}
		return h.Revert(ctx, req)
	})
	if err != nil {
		return domain.ApprovalRequest{}, err
	}
	a.logger.Info("approval decided", zap.String("approval_id", decided.ID), zap.String("object_type", string(decided.ObjectType)),
		zap.String("object_id", decided.ObjectID), zap.String("status", string(decided.Status)))
	return decided, nil
}

func (a *Approvals) Get(requestID string) (domain.ApprovalRequest, bool) { return a.gate.Get(requestID) }

func (a *Approvals) List(status domain.ApprovalStatus) []domain.ApprovalRequest {
	return a.gate.List(status)
}

type priceHandler struct{ prices *pricing.Store }

func (h priceHandler) Apply(ctx context.Context, req domain.ApprovalRequest) error {
	before, err := decodePrice(req.BeforeData)
	if err != nil {
		return err
	}
	activated, err := h.prices.ActivatePrice(ctx, req.ObjectID, req.Approver)
	if err != nil {
		return err
	}
	_, err = h.prices.AddHistory(ctx, domain.PriceHistoryEntry{
		PriceID:    activated.ID,
		BeforeData: before,
		AfterData:  &activated,
		Operator:   req.Approver,
		ApprovalID: req.ID,
	})
	return err
}

func (h priceHandler) Revert(ctx context.Context, req domain.ApprovalRequest) error {
	before, err := decodePrice(req.BeforeData)
	if err != nil {
		return err
	}
	return restorePrice(ctx, h.prices, req.ObjectID, before, req.Approver)
}

// restorePrice puts a pending record back to its snapshot, or to draft when
// it was new.
func restorePrice(ctx context.Context, prices *pricing.Store, priceID string, before *domain.PriceRecord, operator string) error {
	if before != nil {
		return prices.Upsert(ctx, *before, operator)
	}
	_, err := prices.SetStatus(ctx, priceID, domain.PriceDraft, operator)
	return err
}

func decodePrice(raw json.RawMessage) (*domain.PriceRecord, error) {
	var before *domain.PriceRecord
	if len(raw) == 0 {
		return nil, nil
	}
	if err := json.Unmarshal(raw, &before); err != nil {
		return nil, domain.Invalid("before_data", "%v", err)
	}
	return before, nil
}

type listingHandler struct {
	set func(ctx context.Context, id string, status domain.ListingStatus, operator string) (domain.ListingStatus, error)
}

func (h listingHandler) Apply(ctx context.Context, req domain.ApprovalRequest) error {
	var after listingChange
	if err := json.Unmarshal(req.AfterData, &after); err != nil || after.Status == "" {
		after.Status = domain.ListingListed
	}
	_, err := h.set(ctx, req.ObjectID, after.Status, req.Approver)
	return err
}

func (h listingHandler) Revert(ctx context.Context, req domain.ApprovalRequest) error {
	var before listingChange
	if err := json.Unmarshal(req.BeforeData, &before); err != nil || before.Status == "" {
		before.Status = domain.ListingDraft
	}
	_, err := h.set(ctx, req.ObjectID, before.Status, req.Approver)
	return err
}

type settlementHandler struct{ catalog *catalog.Catalog }

func (h settlementHandler) Apply(ctx context.Context, req domain.ApprovalRequest) error {
	var after settlementChange
	if err := json.Unmarshal(req.AfterData, &after); err != nil {
		return domain.Invalid("after_data", "%v", err)
	}
	_, err := h.catalog.ApplySettlement(ctx, req.ObjectID, after.SettlementPrice, after.Reason, req.Approver, req.ID)
	return err
}

func (settlementHandler) Revert(context.Context, domain.ApprovalRequest) error { return nil }

type inventoryHandler struct{ stock *inventory.Ledger }

func (h inventoryHandler) Apply(ctx context.Context, req domain.ApprovalRequest) error {
	var after inventoryChange
	if err := json.Unmarshal(req.AfterData, &after); err != nil {
		return domain.Invalid("after_data", "%v", err)
	}
	remark := after.Remark
	if remark == "" {
		remark = "approval " + req.ID
	}
	return h.stock.Adjust(ctx, after.SkuID, after.InventoryDate, after.TotalQty, req.Approver, remark)
}

func (inventoryHandler) Revert(context.Context, domain.ApprovalRequest) error { return nil }
