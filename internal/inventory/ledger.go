// Package inventory keeps per (SKU, date) reservation accounting.
//
// Every record satisfies frozen+sold <= total. Each mutation validates and
// applies under the record's key lock and appends exactly one log entry; a
// rejected mutation changes nothing and logs nothing.
package inventory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/punchamoorthee/otaledger/internal/audit"
	"github.com/punchamoorthee/otaledger/internal/dates"
	"github.com/punchamoorthee/otaledger/internal/domain"
	"github.com/punchamoorthee/otaledger/internal/id"
	"github.com/punchamoorthee/otaledger/internal/keylock"
	"github.com/punchamoorthee/otaledger/internal/metrics"
)

const (
	table = "inventory"

	// DefaultHorizonDays is the look-ahead window of HasFutureStock.
	DefaultHorizonDays = 7
)

type Ledger struct {
	mu      sync.RWMutex
	records map[string]domain.InventoryRecord

	logMu sync.RWMutex
	logs  []domain.InventoryLogEntry

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
		records: make(map[string]domain.InventoryRecord),
		locks:   keylock.NewLocal(),
		audit:   audit.Nop,
		logger:  zap.NewNop(),
		now:     time.Now,
	}
	for _, o := range opts {
		o(g)
	}
	return g
}

func recordKey(sku, date string) string { return sku + "|" + date }

func lockKey(sku, date string) string { return "inventory:" + recordKey(sku, date) }

// InitInventory upserts one record per date: a missing record starts with
// nothing frozen or sold, an existing one only has its total replaced. The
// whole batch is validated before any date is written.
func (g *Ledger) InitInventory(ctx context.Context, sku string, days []string, total int, operator, reason string) (err error) {
	defer func() { metrics.Observe(table, "init", err) }()

	if sku == "" {
		return domain.Invalid("sku_id", "required")
	}
	if len(days) == 0 {
		return domain.Invalid("dates", "at least one date required")
	}
	if total < 0 {
		return domain.Invalid("total_qty", "must not be negative")
	}
	keys := make([]string, 0, len(days))
	for _, d := range days {
		if _, err := dates.Parse(d); err != nil {
			return domain.Invalid("dates", "%v", err)
		}
		keys = append(keys, lockKey(sku, d))
	}

	unlock, err := keylock.LockAll(ctx, g.locks, keys...)
	if err != nil {
		return err
	}
	defer unlock()

	seen := make(map[string]bool, len(days))
	for _, d := range days {
		if rec, ok := g.get(sku, d); ok && rec.FrozenQty+rec.SoldQty > total {
			return fmt.Errorf("%s on %s: total %d < frozen %d + sold %d: %w", sku, d, total, rec.FrozenQty, rec.SoldQty, domain.ErrTotalBelowCommitted)
		}
	}

	for _, d := range days {
		if seen[d] {
			continue
		}
		seen[d] = true

		rec, ok := g.get(sku, d)
		change := domain.ChangeAdjust
		var before domain.Quantities
		if ok {
			before = rec.Quantities()
			rec.TotalQty = total
		} else {
			change = domain.ChangeInitialize
			rec = domain.InventoryRecord{
				ID:            id.New(id.Inventory),
				SkuID:         sku,
				InventoryDate: d,
				TotalQty:      total,
				Status:        domain.InventoryStatusNormal,
			}
		}
		g.commit(ctx, rec, change, before, "", operator, reason)
	}
	return nil
}

// Freeze reserves qty for an order.
func (g *Ledger) Freeze(ctx context.Context, sku, date string, qty int, orderID, operator string) error {
	return g.mutate(ctx, "freeze", sku, date, qty, domain.ErrNotInitialized, domain.ChangeFreeze, orderID, operator, "", func(r *domain.InventoryRecord) error {
		if r.Available() < qty {
			return fmt.Errorf("available %d < %d: %w", r.Available(), qty, domain.ErrInsufficientStock)
		}
		r.FrozenQty += qty
		return nil
	})
}

// Consume turns a reservation into a sale.
func (g *Ledger) Consume(ctx context.Context, sku, date string, qty int, orderID, operator string) error {
	return g.mutate(ctx, "consume", sku, date, qty, domain.ErrRecordNotFound, domain.ChangeVerify, orderID, operator, "", func(r *domain.InventoryRecord) error {
		if r.FrozenQty < qty {
			return fmt.Errorf("frozen %d < %d: %w", r.FrozenQty, qty, domain.ErrInsufficientFrozen)
		}
		r.FrozenQty -= qty
		r.SoldQty += qty
		return nil
	})
}

// Release returns a reservation to available stock.
func (g *Ledger) Release(ctx context.Context, sku, date string, qty int, orderID, operator string) error {
	return g.mutate(ctx, "release", sku, date, qty, domain.ErrRecordNotFound, domain.ChangeRelease, orderID, operator, "", func(r *domain.InventoryRecord) error {
		if r.FrozenQty < qty {
			return fmt.Errorf("frozen %d < %d: %w", r.FrozenQty, qty, domain.ErrInsufficientFrozen)
		}
		r.FrozenQty -= qty
		return nil
	})
}

// Unconsume reverses a Consume, moving qty from sold back to frozen. It is
// the compensation step when an order cannot be marked verified after its
// stock was consumed.
func (g *Ledger) Unconsume(ctx context.Context, sku, date string, qty int, orderID, operator, remark string) error {
	return g.mutate(ctx, "unconsume", sku, date, qty, domain.ErrRecordNotFound, domain.ChangeVerifyReversal, orderID, operator, remark, func(r *domain.InventoryRecord) error {
		if r.SoldQty < qty {
			return fmt.Errorf("sold %d < %d: %w", r.SoldQty, qty, domain.ErrInsufficientStock)
		}
		r.SoldQty -= qty
		r.FrozenQty += qty
		return nil
	})
}

// Adjust replaces the total of an existing record. A total below what is
// already frozen or sold is rejected.
func (g *Ledger) Adjust(ctx context.Context, sku, date string, newTotal int, operator, remark string) error {
	if newTotal < 0 {
		metrics.Observe(table, "adjust", domain.ErrValidation)
		return domain.Invalid("total_qty", "must not be negative")
	}
	return g.mutate(ctx, "adjust", sku, date, 0, domain.ErrNotInitialized, domain.ChangeManualAdjust, "", operator, remark, func(r *domain.InventoryRecord) error {
		if r.FrozenQty+r.SoldQty > newTotal {
			return fmt.Errorf("total %d < frozen %d + sold %d: %w", newTotal, r.FrozenQty, r.SoldQty, domain.ErrTotalBelowCommitted)
		}
		r.TotalQty = newTotal
		return nil
	})
}

// mutate runs fn against the locked record. qty of zero skips quantity
// validation for operations that carry none.
func (g *Ledger) mutate(ctx context.Context, op, sku, date string, qty int, missing error, change domain.InventoryChange, orderID, operator, remark string, fn func(*domain.InventoryRecord) error) (err error) {
	defer func() {
		metrics.Observe(table, op, err)
		if err != nil {
			g.logger.Debug("inventory mutation rejected",
				zap.String("op", op), zap.String("sku_id", sku), zap.String("date", date),
				zap.Int("qty", qty), zap.String("order_id", orderID), zap.Error(err))
		}
	}()

	if sku == "" {
		return domain.Invalid("sku_id", "required")
	}
	if _, err := dates.Parse(date); err != nil {
		return domain.Invalid("inventory_date", "%v", err)
	}
	if change != domain.ChangeManualAdjust && qty <= 0 {
		return domain.Invalid("quantity", "must be positive")
	}

	unlock, err := g.locks.Lock(ctx, lockKey(sku, date))
	if err != nil {
		return err
	}
	defer unlock()

	rec, ok := g.get(sku, date)
	if !ok {
		return fmt.Errorf("%s on %s: %w", sku, date, missing)
	}
	before := rec.Quantities()
	if err := fn(&rec); err != nil {
		return err
	}
	g.commit(ctx, rec, change, before, orderID, operator, remark)
	return nil
}

// commit stores rec and appends its log entry. Callers hold the key lock.
func (g *Ledger) commit(ctx context.Context, rec domain.InventoryRecord, change domain.InventoryChange, before domain.Quantities, orderID, operator, remark string) {
	g.mu.Lock()
	g.records[recordKey(rec.SkuID, rec.InventoryDate)] = rec
	g.mu.Unlock()

	entry := domain.InventoryLogEntry{
		ID:             id.New(id.InventoryLog),
		SkuID:          rec.SkuID,
		InventoryDate:  rec.InventoryDate,
		ChangeType:     change,
		BeforeQty:      before,
		AfterQty:       rec.Quantities(),
		RelatedOrderID: orderID,
		Operator:       operator,
		OperatedAt:     g.now().UTC(),
		Remark:         remark,
	}
	g.logMu.Lock()
	g.logs = append(g.logs, entry)
	g.logMu.Unlock()

	op := domain.OpUpdate
	if change == domain.ChangeInitialize {
		op = domain.OpInsert
	}
	g.audit.Record(ctx, audit.Event{
		Table:     table,
		RecordID:  rec.ID,
		Operation: op,
		Diff:      entry,
		Operator:  operator,
		Source:    "inventory",
	})
}

func (g *Ledger) get(sku, date string) (domain.InventoryRecord, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	rec, ok := g.records[recordKey(sku, date)]
	return rec, ok
}

// Get returns a copy of the record for (sku, date).
func (g *Ledger) Get(sku, date string) (domain.InventoryRecord, bool) {
	return g.get(sku, date)
}

// HasFutureStock reports whether sku has available stock on some day in
// [today-1, today+horizonDays). A non-positive horizon uses the default.
func (g *Ledger) HasFutureStock(sku string, horizonDays int) bool {
	if horizonDays <= 0 {
		horizonDays = DefaultHorizonDays
	}
	today := dates.Today(g.now())
	from := today.AddDate(0, 0, -1)
	to := today.AddDate(0, 0, horizonDays)

	g.mu.RLock()
	defer g.mu.RUnlock()
	for _, rec := range g.records {
		if rec.SkuID == sku && rec.Available() > 0 && dates.Within(rec.InventoryDate, from, to) {
			return true
		}
	}
	return false
}

// ListBySKU returns the records of sku ordered by date.
func (g *Ledger) ListBySKU(sku string) []domain.InventoryRecord {
	g.mu.RLock()
	var out []domain.InventoryRecord
	for _, rec := range g.records {
		if rec.SkuID == sku {
			out = append(out, rec)
		}
	}
	g.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].InventoryDate < out[j].InventoryDate })
	return out
}

// Logs returns the log entries of sku in append order. An empty sku returns
// every entry.
func (g *Ledger) Logs(sku string) []domain.InventoryLogEntry {
	g.logMu.RLock()
	defer g.logMu.RUnlock()
	var out []domain.InventoryLogEntry
	for _, e := range g.logs {
		if sku == "" || e.SkuID == sku {
			out = append(out, e)
		}
	}
	return out
}

// Hydrate replaces the ledger state with persisted records and logs.
func (g *Ledger) Hydrate(records []domain.InventoryRecord, logs []domain.InventoryLogEntry) {
	next := make(map[string]domain.InventoryRecord, len(records))
	for _, r := range records {
		next[recordKey(r.SkuID, r.InventoryDate)] = r
	}
	g.mu.Lock()
	g.records = next
	g.mu.Unlock()

	g.logMu.Lock()
	g.logs = append([]domain.InventoryLogEntry(nil), logs...)
	g.logMu.Unlock()
}

// Dump returns every record ordered by (sku, date) and the full log.
func (g *Ledger) Dump() ([]domain.InventoryRecord, []domain.InventoryLogEntry) {
	g.mu.RLock()
	records := make([]domain.InventoryRecord, 0, len(g.records))
	for _, r := range g.records {
		records = append(records, r)
	}
	g.mu.RUnlock()
	sort.Slice(records, func(i, j int) bool {
		if records[i].SkuID != records[j].SkuID {
			return records[i].SkuID < records[j].SkuID
		}
		return records[i].InventoryDate < records[j].InventoryDate
	})
	return records, g.Logs("")
}
