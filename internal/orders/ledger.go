// Package orders tracks the order lifecycle paid -> verified | refunded.
//
// The ledger does not touch inventory; pairing an order transition with the
// matching freeze, consume or release is the job of the fulfillment saga.
package orders

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/punchamoorthee/otaledger/internal/audit"
	"github.com/punchamoorthee/otaledger/internal/dates"
	"github.com/punchamoorthee/otaledger/internal/domain"
	"github.com/punchamoorthee/otaledger/internal/id"
	"github.com/punchamoorthee/otaledger/internal/keylock"
	"github.com/punchamoorthee/otaledger/internal/metrics"
)

const table = "orders"

// NewOrder is the input of CreateOrder. ID and OrderNo are generated when
// empty.
type NewOrder struct {
	ID         string
	OrderNo    string
	ChannelID  string
	SkuID      string
	ProductID  string
	TravelDate string
	Quantity   int
	SalePrice  decimal.Decimal
	CostPrice  decimal.NullDecimal
	CreatedBy  string
	Remark     string
}

// ImportResult counts the rows of an import batch.
type ImportResult struct {
	Added   int `json:"added"`
	Skipped int `json:"skipped"`
}

type Ledger struct {
	mu     sync.RWMutex
	orders map[string]domain.Order
	byKey  map[string]string

	historyMu sync.RWMutex
	history   []domain.OrderStatusHistoryEntry

	locks  keylock.Locker
	audit  audit.Recorder
	logger *zap.Logger
	now    func() time.Time
}

type Option func(*Ledger)

func WithLocker(l keylock.Locker) Option { return func(g *Ledger) { g.locks = l } }
func WithAudit(r audit.Recorder) Option { return func(g *Ledger) { g.audit = r } }
func WithLogger(l *zap.Logger) Option { return func(g *Ledger) { g.logger = l } }
func WithClock(now func() time.Time) Option {
	return func(g *Ledger) { g.now = now }
}

func New(opts ...Option) *Ledger {
	g := &Ledger{
		orders: make(map[string]domain.Order),
		byKey:  make(map[string]string),
		locks:  keylock.NewLocal(),
		audit:  audit.Nop,
		logger: zap.NewNop(),
		now:    time.Now,
	}
	for _, o := range opts {
		o(g)
	}
	return g
}

func dedupLock(key string) string { return "order-key:" + key }

func orderLock(orderID string) string { return "order:" + orderID }

// CreateOrder stores a paid order with derived amounts. A second order with
// the same (order_no, channel_id) is rejected.
func (g *Ledger) CreateOrder(ctx context.Context, in NewOrder) (_ domain.Order, err error) {
	defer func() { metrics.Observe(table, "create", err) }()

	if err := validateNew(in); err != nil {
		return domain.Order{}, err
	}
	if in.ID == "" {
		in.ID = id.New(id.Order)
	}
	if in.OrderNo == "" {
		in.OrderNo = in.ID
	}
	saleAmount, costAmount, profit := domain.ComputeAmounts(in.SalePrice, in.CostPrice, in.Quantity)
	order := domain.Order{
		ID:           in.ID,
		OrderNo:      in.OrderNo,
		ChannelID:    in.ChannelID,
		SkuID:        in.SkuID,
		ProductID:    in.ProductID,
		TravelDate:   in.TravelDate,
		Quantity:     in.Quantity,
		SalePrice:    in.SalePrice,
		SaleAmount:   saleAmount,
		CostPrice:    in.CostPrice,
		CostAmount:   costAmount,
		ProfitAmount: profit,
		Status:       domain.OrderPaid,
		CreatedBy:    in.CreatedBy,
		CreatedAt:    g.now().UTC(),
		Remark:       in.Remark,
	}

	unlock, err := keylock.LockAll(ctx, g.locks, dedupLock(order.DedupKey()), orderLock(order.ID))
	if err != nil {
		return domain.Order{}, err
	}
	defer unlock()

	if _, ok := g.insert(order, false); !ok {
		return domain.Order{}, fmt.Errorf("order %s on channel %s: %w", order.OrderNo, order.ChannelID, domain.ErrDuplicateKey)
	}
	g.appendHistory(order.ID, domain.OrderCreated, domain.OrderPaid, in.CreatedBy, order.CreatedAt, "")
	g.audit.Record(ctx, audit.Event{Table: table, RecordID: order.ID, Operation: domain.OpInsert, Diff: order, Operator: in.CreatedBy, Source: "orders"})
	return order, nil
}

// VerifyOrder moves a paid order to verified.
func (g *Ledger) VerifyOrder(ctx context.Context, orderID, operator string) (domain.Order, error) {
	return g.transition(ctx, "verify", orderID, domain.OrderVerified, operator, "")
}

// RefundOrder moves a paid order to refunded.
func (g *Ledger) RefundOrder(ctx context.Context, orderID, operator, reason string) (domain.Order, error) {
	return g.transition(ctx, "refund", orderID, domain.OrderRefunded, operator, reason)
}

func (g *Ledger) transition(ctx context.Context, op, orderID string, to domain.OrderStatus, operator, reason string) (_ domain.Order, err error) {
	defer func() { metrics.Observe(table, op, err) }()

	unlock, err := g.locks.Lock(ctx, orderLock(orderID))
	if err != nil {
		return domain.Order{}, err
	}
	defer unlock()

	order, ok := g.Get(orderID)
	if !ok {
		return domain.Order{}, fmt.Errorf("order %s: %w", orderID, domain.ErrRecordNotFound)
	}
	if order.Status != domain.OrderPaid {
		return domain.Order{}, fmt.Errorf("order %s is %s, cannot become %s: %w", orderID, order.Status, to, domain.ErrInvalidTransition)
	}

	from := order.Status
	at := g.now().UTC()
	order.Status = to
	switch to {
	case domain.OrderVerified:
		order.VerifiedAt = &at
	case domain.OrderRefunded:
		order.RefundedAt = &at
	}

	g.mu.Lock()
	g.orders[order.ID] = order
	g.mu.Unlock()

	g.appendHistory(order.ID, from, to, operator, at, reason)
	g.audit.Record(ctx, audit.Event{
		Table:     table,
		RecordID:  order.ID,
		Operation: domain.OpUpdate,
		Diff:      map[string]domain.OrderStatus{"before_status": from, "after_status": to},
		Operator:  operator,
		Source:    "orders",
	})
	return order, nil
}

// ImportOrders adds rows whose (order_no, channel_id) is not yet known,
// including rows repeated within the batch, and skips the rest untouched.
// Rows are stored as given; only a missing id or status is filled in.
func (g *Ledger) ImportOrders(ctx context.Context, rows []domain.Order, operator string) (res ImportResult, err error) {
	defer func() { metrics.Observe(table, "import", err) }()

	for i, row := range rows {
		if row.OrderNo == "" {
			return ImportResult{}, domain.Invalid(fmt.Sprintf("rows[%d].order_no", i), "required")
		}
		if row.ChannelID == "" {
			return ImportResult{}, domain.Invalid(fmt.Sprintf("rows[%d].channel_id", i), "required")
		}
	}

	var added []string
	for _, row := range rows {
		ok, err := g.importRow(ctx, row)
		if err != nil {
			return res, err
		}
		if ok {
			res.Added++
			added = append(added, row.DedupKey())
		} else {
			res.Skipped++
		}
	}

	g.audit.Record(ctx, audit.Event{
		Table:     table,
		RecordID:  "import",
		Operation: domain.OpImport,
		Diff:      map[string]any{"added": res.Added, "skipped": res.Skipped, "keys": added},
		Operator:  operator,
		Source:    "import",
	})
	g.logger.Info("orders imported", zap.Int("added", res.Added), zap.Int("skipped", res.Skipped))
	return res, nil
}

func (g *Ledger) importRow(ctx context.Context, row domain.Order) (bool, error) {
	unlock, err := g.locks.Lock(ctx, dedupLock(row.DedupKey()))
	if err != nil {
		return false, err
	}
	defer unlock()

	if row.Status == "" {
		row.Status = domain.OrderPaid
	}
	if row.CreatedAt.IsZero() {
		row.CreatedAt = g.now().UTC()
	}
	_, ok := g.insert(row, true)
	return ok, nil
}

// insert stores order unless its dedup key, or its id when reassign is
// false, is already taken. With reassign a missing or clashing id is
// replaced by a fresh one.
func (g *Ledger) insert(order domain.Order, reassign bool) (domain.Order, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	k := order.DedupKey()
	if _, dup := g.byKey[k]; dup {
		return order, false
	}
	if _, taken := g.orders[order.ID]; taken || order.ID == "" {
		if !reassign {
			return order, false
		}
		order.ID = id.New(id.Order)
	}
	g.byKey[k] = order.ID
	g.orders[order.ID] = order
	return order, true
}

func (g *Ledger) appendHistory(orderID string, from, to domain.OrderStatus, operator string, at time.Time, reason string) {
	g.historyMu.Lock()
	defer g.historyMu.Unlock()
	g.history = append(g.history, domain.OrderStatusHistoryEntry{
		ID:           id.New(id.OrderHistory),
		OrderID:      orderID,
		BeforeStatus: from,
		AfterStatus:  to,
		Operator:     operator,
		OperatedAt:   at,
		Reason:       reason,
	})
}

func (g *Ledger) Get(orderID string) (domain.Order, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	o, ok := g.orders[orderID]
	return o, ok
}

// Filter selects orders; empty fields match everything.
type Filter struct {
	SkuID     string
	ProductID string
	ChannelID string
	Status    domain.OrderStatus
}

// List returns matching orders, newest first.
func (g *Ledger) List(f Filter) []domain.Order {
	g.mu.RLock()
	var out []domain.Order
	for _, o := range g.orders {
		if (f.SkuID == "" || o.SkuID == f.SkuID) &&
			(f.ProductID == "" || o.ProductID == f.ProductID) &&
			(f.ChannelID == "" || o.ChannelID == f.ChannelID) &&
			(f.Status == "" || o.Status == f.Status) {
			out = append(out, o)
		}
	}
	g.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID > out[j].ID
	})
	return out
}

// HasOrdersForProduct reports whether any order references productID.
func (g *Ledger) HasOrdersForProduct(productID string) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	for _, o := range g.orders {
		if o.ProductID == productID {
			return true
		}
	}
	return false
}

// History returns the status transitions of orderID in order; an empty id
// returns all of them.
func (g *Ledger) History(orderID string) []domain.OrderStatusHistoryEntry {
	g.historyMu.RLock()
	defer g.historyMu.RUnlock()
	var out []domain.OrderStatusHistoryEntry
	for _, e := range g.history {
		if orderID == "" || e.OrderID == orderID {
			out = append(out, e)
		}
	}
	return out
}

func (g *Ledger) Hydrate(orders []domain.Order, history []domain.OrderStatusHistoryEntry) {
	g.mu.Lock()
	g.orders = make(map[string]domain.Order, len(orders))
	g.byKey = make(map[string]string, len(orders))
	for _, o := range orders {
		g.orders[o.ID] = o
		g.byKey[o.DedupKey()] = o.ID
	}
	g.mu.Unlock()

	g.historyMu.Lock()
	g.history = append([]domain.OrderStatusHistoryEntry(nil), history...)
	g.historyMu.Unlock()
}

func (g *Ledger) Dump() ([]domain.Order, []domain.OrderStatusHistoryEntry) {
	return g.List(Filter{}), g.History("")
}

func validateNew(in NewOrder) error {
	switch {
	case in.ChannelID == "":
		return domain.Invalid("channel_id", "required")
	case in.SkuID == "":
		return domain.Invalid("sku_id", "required")
	case in.Quantity <= 0:
		return domain.Invalid("quantity", "must be positive")
	case in.SalePrice.IsNegative():
		return domain.Invalid("sale_price", "must not be negative")
	case in.CostPrice.Valid && in.CostPrice.Decimal.IsNegative():
		return domain.Invalid("cost_price", "must not be negative")
	}
	if _, err := dates.Parse(in.TravelDate); err != nil {
		return domain.Invalid("travel_date", "%v", err)
	}
	return nil
}
