package api

import (
	"context"
	"fmt"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/punchamoorthee/otaledger/internal/approval"
	"github.com/punchamoorthee/otaledger/internal/audit"
	"github.com/punchamoorthee/otaledger/internal/catalog"
	"github.com/punchamoorthee/otaledger/internal/domain"
	"github.com/punchamoorthee/otaledger/internal/fingerprint"
	"github.com/punchamoorthee/otaledger/internal/inventory"
	"github.com/punchamoorthee/otaledger/internal/models"
	"github.com/punchamoorthee/otaledger/internal/orders"
	"github.com/punchamoorthee/otaledger/internal/service"
)

// Inventory

func (h *Handler) InitInventoryHandler(w http.ResponseWriter, r *http.Request) {
	var req models.InitInventoryRequest
	if err := models.Decode(r.Body, &req); err != nil {
		h.result(w, r, err)
		return
	}
	days, err := req.Days()
	if err != nil {
		h.result(w, r, err)
		return
	}
	h.result(w, r, h.ledger.Inventory.InitInventory(r.Context(), req.SkuID, days, req.TotalQty, req.Operator, req.Reason))
}

type stockFunc func(ctx context.Context, sku, date string, qty int, orderID, operator string) error

func (h *Handler) stockMove(fn stockFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req models.StockMoveRequest
		if err := models.Decode(r.Body, &req); err != nil {
			h.result(w, r, err)
			return
		}
		h.result(w, r, fn(r.Context(), req.SkuID, req.InventoryDate, req.Quantity, req.OrderID, req.Operator))
	}
}

func (h *Handler) AdjustInventoryHandler(w http.ResponseWriter, r *http.Request) {
	var req models.AdjustInventoryRequest
	if err := models.Decode(r.Body, &req); err != nil {
		h.result(w, r, err)
		return
	}
	h.result(w, r, h.ledger.Inventory.Adjust(r.Context(), req.SkuID, req.InventoryDate, req.TotalQty, req.Operator, req.Remark))
}

// GetInventoryHandler lists the records of a SKU, or one record with ?date=.
func (h *Handler) GetInventoryHandler(w http.ResponseWriter, r *http.Request) {
	sku := mux.Vars(r)["sku"]
	if date := r.URL.Query().Get("date"); date != "" {
		rec, ok := h.ledger.Inventory.Get(sku, date)
		if !ok {
			h.fail(w, r, fmt.Errorf("inventory %s on %s: %w", sku, date, domain.ErrNotInitialized))
			return
		}
		respondWithJSON(w, http.StatusOK, rec)
		return
	}
	respondWithJSON(w, http.StatusOK, nonNil(h.ledger.Inventory.ListBySKU(sku)))
}

func (h *Handler) FutureStockHandler(w http.ResponseWriter, r *http.Request) {
	sku := mux.Vars(r)["sku"]
	days := inventory.DefaultHorizonDays
	if v := r.URL.Query().Get("days"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			h.fail(w, r, domain.Invalid("days", "must be a positive integer"))
			return
		}
		days = n
	}
	respondWithJSON(w, http.StatusOK, models.FutureStockResponse{
		SkuID:    sku,
		Days:     days,
		HasStock: h.ledger.Inventory.HasFutureStock(sku, days),
	})
}

func (h *Handler) InventoryLogsHandler(w http.ResponseWriter, r *http.Request) {
	respondWithJSON(w, http.StatusOK, nonNil(h.ledger.Inventory.Logs(mux.Vars(r)["sku"])))
}

// Pricing

func (h *Handler) ListPricesHandler(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	respondWithJSON(w, http.StatusOK, nonNil(h.ledger.Prices.List(q.Get("sku_id"), q.Get("channel_id"))))
}

func (h *Handler) UpsertPriceHandler(w http.ResponseWriter, r *http.Request) {
	var req models.PriceRequest
	if err := models.Decode(r.Body, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	rec := req.Record()
	if rec.ID == "" {
		h.fail(w, r, domain.Invalid("id", "required"))
		return
	}
	if err := h.ledger.Prices.Upsert(r.Context(), rec, req.Operator); err != nil {
		h.fail(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, rec)
}

func (h *Handler) CheckConflictHandler(w http.ResponseWriter, r *http.Request) {
	var req models.ConflictRequest
	if err := models.Decode(r.Body, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	conflicts, err := h.ledger.Prices.CheckConflict(req.SkuID, req.ChannelID, req.StartAt, req.EndAt, req.ExcludeID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, models.ConflictResponse{Conflicts: nonNil(conflicts)})
}

func (h *Handler) ActivatePriceHandler(w http.ResponseWriter, r *http.Request) {
	var req models.OperatorRequest
	if r.ContentLength != 0 {
		if err := models.Decode(r.Body, &req); err != nil {
			h.fail(w, r, err)
			return
		}
	}
	rec, err := h.ledger.Prices.ActivatePrice(r.Context(), mux.Vars(r)["id"], req.Operator)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, rec)
}

// CloneActiveHandler returns a draft copy of the active price, or null.
func (h *Handler) CloneActiveHandler(w http.ResponseWriter, r *http.Request) {
	var req models.CloneActiveRequest
	if err := models.Decode(r.Body, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, h.ledger.Prices.CloneActiveToDraft(req.SkuID, req.ChannelID))
}

func (h *Handler) AddPriceHistoryHandler(w http.ResponseWriter, r *http.Request) {
	var req models.PriceHistoryRequest
	if err := models.Decode(r.Body, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	entry, err := h.ledger.Prices.AddHistory(r.Context(), domain.PriceHistoryEntry{
		PriceID:    req.PriceID,
		BeforeData: req.BeforeData,
		AfterData:  req.AfterData,
		Operator:   req.Operator,
		ApprovalID: req.ApprovalID,
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusCreated, entry)
}

func (h *Handler) PriceHistoryHandler(w http.ResponseWriter, r *http.Request) {
	respondWithJSON(w, http.StatusOK, nonNil(h.ledger.Prices.History(mux.Vars(r)["id"])))
}

// Approvals

func (h *Handler) SubmitApprovalHandler(w http.ResponseWriter, r *http.Request) {
	var req models.SubmitApprovalRequest
	if err := models.Decode(r.Body, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	h.approvalCreated(w, r)(h.ledger.Approvals.Submit(r.Context(), approval.Submission{
		ObjectType: req.ObjectType,
		ObjectID:   req.ObjectID,
		ActionType: req.ActionType,
		Before:     req.BeforeData,
		After:      req.AfterData,
		Applicant:  req.Applicant,
		Approver:   req.Approver,
	}))
}

func (h *Handler) SubmitPriceApprovalHandler(w http.ResponseWriter, r *http.Request) {
	var req models.SubmitPriceRequest
	if err := models.Decode(r.Body, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	h.approvalCreated(w, r)(h.ledger.Approvals.SubmitPrice(r.Context(), service.PriceSubmission{
		Price:     req.Record(),
		Applicant: req.Applicant,
		Approver:  req.Approver,
		Override:  req.Override,
	}))
}

func (h *Handler) SubmitListingApprovalHandler(w http.ResponseWriter, r *http.Request) {
	var req models.SubmitListingRequest
	if err := models.Decode(r.Body, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	h.approvalCreated(w, r)(h.ledger.Approvals.SubmitListing(r.Context(), req.ObjectType, req.ObjectID, req.Status, req.Applicant, req.Approver))
}

func (h *Handler) SubmitSettlementApprovalHandler(w http.ResponseWriter, r *http.Request) {
	var req models.SubmitSettlementRequest
	if err := models.Decode(r.Body, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	h.approvalCreated(w, r)(h.ledger.Approvals.SubmitSettlement(r.Context(), req.ResourceID, req.SettlementPrice, req.Reason, req.Applicant, req.Approver))
}

func (h *Handler) SubmitInventoryApprovalHandler(w http.ResponseWriter, r *http.Request) {
	var req models.SubmitInventoryRequest
	if err := models.Decode(r.Body, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	h.approvalCreated(w, r)(h.ledger.Approvals.SubmitInventory(r.Context(), req.SkuID, req.InventoryDate, req.TotalQty, req.Remark, req.Applicant, req.Approver))
}

func (h *Handler) approvalCreated(w http.ResponseWriter, r *http.Request) func(domain.ApprovalRequest, error) {
	return func(req domain.ApprovalRequest, err error) {
		if err != nil {
			h.fail(w, r, err)
			return
		}
		w.Header().Set("Location", "/api/v1/approvals/"+req.ID)
		respondWithJSON(w, http.StatusCreated, req)
	}
}

func (h *Handler) DecideApprovalHandler(w http.ResponseWriter, r *http.Request) {
	var req models.DecideRequest
	if err := models.Decode(r.Body, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	decided, err := h.ledger.Approvals.Decide(r.Context(), mux.Vars(r)["id"], req.Status, req.Comment, req.Operator)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, decided)
}

func (h *Handler) GetApprovalHandler(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	req, ok := h.ledger.Approvals.Get(id)
	if !ok {
		h.fail(w, r, fmt.Errorf("approval %s: %w", id, domain.ErrRecordNotFound))
		return
	}
	respondWithJSON(w, http.StatusOK, req)
}

func (h *Handler) ListApprovalsHandler(w http.ResponseWriter, r *http.Request) {
	status := domain.ApprovalStatus(r.URL.Query().Get("status"))
	respondWithJSON(w, http.StatusOK, nonNil(h.ledger.Approvals.List(status)))
}

// Orders

func (h *Handler) CreateOrderHandler(w http.ResponseWriter, r *http.Request) {
	var req models.CreateOrderRequest
	if err := models.Decode(r.Body, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	order, err := h.ledger.Fulfillment.PlaceOrder(r.Context(), req.NewOrder())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	w.Header().Set("Location", "/api/v1/orders/"+order.ID)
	respondWithJSON(w, http.StatusCreated, order)
}

func (h *Handler) VerifyOrderHandler(w http.ResponseWriter, r *http.Request) {
	h.orderAction(w, r, func(ctx context.Context, id string, req models.OperatorRequest) (domain.Order, error) {
		return h.ledger.Fulfillment.VerifyOrder(ctx, id, req.Operator)
	})
}

func (h *Handler) RefundOrderHandler(w http.ResponseWriter, r *http.Request) {
	h.orderAction(w, r, func(ctx context.Context, id string, req models.OperatorRequest) (domain.Order, error) {
		return h.ledger.Fulfillment.RefundOrder(ctx, id, req.Operator, req.Reason)
	})
}

func (h *Handler) orderAction(w http.ResponseWriter, r *http.Request, fn func(context.Context, string, models.OperatorRequest) (domain.Order, error)) {
	var req models.OperatorRequest
	if r.ContentLength != 0 {
		if err := models.Decode(r.Body, &req); err != nil {
			h.fail(w, r, err)
			return
		}
	}
	order, err := fn(r.Context(), mux.Vars(r)["id"], req)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, order)
}

func (h *Handler) ImportOrdersHandler(w http.ResponseWriter, r *http.Request) {
	var req models.ImportOrdersRequest
	if err := models.Decode(r.Body, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	res, err := h.ledger.Orders.ImportOrders(r.Context(), req.Orders, req.Operator)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, res)
}

func (h *Handler) GetOrderHandler(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	order, ok := h.ledger.Orders.Get(id)
	if !ok {
		h.fail(w, r, fmt.Errorf("order %s: %w", id, domain.ErrRecordNotFound))
		return
	}
	respondWithJSON(w, http.StatusOK, models.OrderResponse{Order: order, History: nonNil(h.ledger.Orders.History(id))})
}

func (h *Handler) ListOrdersHandler(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	respondWithJSON(w, http.StatusOK, nonNil(h.ledger.Orders.List(orders.Filter{
		SkuID:     q.Get("sku_id"),
		ProductID: q.Get("product_id"),
		ChannelID: q.Get("channel_id"),
		Status:    domain.OrderStatus(q.Get("status")),
	})))
}

// Catalog

func (h *Handler) FingerprintHandler(w http.ResponseWriter, r *http.Request) {
	var req models.FingerprintRequest
	if err := models.Decode(r.Body, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, models.FingerprintResponse{Hash: fingerprint.BuildHash(req.FingerprintLines())})
}

func (h *Handler) CreateProductHandler(w http.ResponseWriter, r *http.Request) {
	var req models.CreateProductRequest
	if err := models.Decode(r.Body, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	p, err := h.ledger.Catalog.CreateProduct(r.Context(), catalog.NewProduct{
		ProductName: req.ProductName,
		Description: req.Description,
		CreatedBy:   req.CreatedBy,
		Lines:       req.FingerprintLines(),
	}, req.Override)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	w.Header().Set("Location", "/api/v1/products/"+p.ID)
	respondWithJSON(w, http.StatusCreated, p)
}

func (h *Handler) GetProductHandler(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	p, ok := h.ledger.Catalog.Product(id)
	if !ok {
		h.fail(w, r, fmt.Errorf("product %s: %w", id, domain.ErrRecordNotFound))
		return
	}
	respondWithJSON(w, http.StatusOK, map[string]any{
		"product":   p,
		"resources": nonNil(h.ledger.Catalog.Lines(id)),
		"snapshots": nonNil(h.ledger.Catalog.Snapshots(id)),
	})
}

func (h *Handler) CopyProductHandler(w http.ResponseWriter, r *http.Request) {
	var req models.CopyProductRequest
	if r.ContentLength != 0 {
		if err := models.Decode(r.Body, &req); err != nil {
			h.fail(w, r, err)
			return
		}
	}
	p, err := h.ledger.Catalog.CopyProduct(r.Context(), mux.Vars(r)["id"], req.ProductName, req.Operator)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	w.Header().Set("Location", "/api/v1/products/"+p.ID)
	respondWithJSON(w, http.StatusCreated, p)
}

func (h *Handler) ReplaceStructureHandler(w http.ResponseWriter, r *http.Request) {
	var req models.CreateProductRequest
	if err := models.Decode(r.Body, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	p, err := h.ledger.Catalog.ReplaceStructure(r.Context(), mux.Vars(r)["id"], req.FingerprintLines(), req.Override, req.CreatedBy)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, p)
}

func (h *Handler) UpsertSkuHandler(w http.ResponseWriter, r *http.Request) {
	var sku domain.Sku
	if err := models.Decode(r.Body, &sku); err != nil {
		h.fail(w, r, err)
		return
	}
	if err := h.ledger.Catalog.UpsertSku(r.Context(), sku, sku.CreatedBy); err != nil {
		h.fail(w, r, err)
		return
	}
	got, _ := h.ledger.Catalog.Sku(sku.ID)
	respondWithJSON(w, http.StatusOK, got)
}

func (h *Handler) BindChannelHandler(w http.ResponseWriter, r *http.Request) {
	var b domain.SkuChannel
	if err := models.Decode(r.Body, &b); err != nil {
		h.fail(w, r, err)
		return
	}
	b.SkuID = mux.Vars(r)["id"]
	if b.Status == "" {
		b.Status = domain.ListingDraft
	}
	if err := h.ledger.Catalog.BindChannel(r.Context(), b, r.URL.Query().Get("operator")); err != nil {
		h.fail(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, b)
}

func (h *Handler) UpsertSupplierResourceHandler(w http.ResponseWriter, r *http.Request) {
	var res domain.SupplierResource
	if err := models.Decode(r.Body, &res); err != nil {
		h.fail(w, r, err)
		return
	}
	if err := h.ledger.Catalog.UpsertSupplierResource(r.Context(), res, r.URL.Query().Get("operator")); err != nil {
		h.fail(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, res)
}

func (h *Handler) ShelfGatesHandler(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	gates := h.ledger.ShelfGates(id)
	respondWithJSON(w, http.StatusOK, models.ShelfGatesResponse{SkuID: id, Gates: gates, Listable: len(gates) == 0})
}

// Audit

func (h *Handler) AuditHandler(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	respondWithJSON(w, http.StatusOK, nonNil(h.ledger.Audit.Entries(audit.Filter{Table: q.Get("table"), RecordID: q.Get("record")})))
}

// nonNil keeps empty lists encoding as [] rather than null.
func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
