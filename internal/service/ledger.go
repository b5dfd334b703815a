// Package service composes the ledgers into the business state ledger and
// hosts the coordinators spanning more than one of them.
package service

import (
	"time"

	"go.uber.org/zap"

	"github.com/punchamoorthee/otaledger/internal/approval"
	"github.com/punchamoorthee/otaledger/internal/audit"
	"github.com/punchamoorthee/otaledger/internal/catalog"
	"github.com/punchamoorthee/otaledger/internal/inventory"
	"github.com/punchamoorthee/otaledger/internal/keylock"
	"github.com/punchamoorthee/otaledger/internal/orders"
	"github.com/punchamoorthee/otaledger/internal/pricing"
	"github.com/punchamoorthee/otaledger/internal/snapshot"
)

// Shelf gate codes reported by ShelfGates.
const (
	GateSkuNotFound     = "sku_not_found"
	GateNoListedChannel = "no_listed_channel"
	GateNoActivePrice   = "no_active_price"
	GateNoFutureStock   = "no_future_stock"
)

type Ledger struct {
	Audit       *audit.Trail
	Inventory   *inventory.Ledger
	Prices      *pricing.Store
	Orders      *orders.Ledger
	Catalog     *catalog.Catalog
	Approvals   *Approvals
	Fulfillment *Fulfillment

	gate    *approval.Gate
	horizon int
	logger  *zap.Logger
}

type config struct {
	locks   keylock.Locker
	logger  *zap.Logger
	now     func() time.Time
	sinks   []audit.Sink
	horizon int
}

type Option func(*config)

func WithLocker(l keylock.Locker) Option { return func(c *config) { c.locks = l } }
func WithLogger(l *zap.Logger) Option { return func(c *config) { c.logger = l } }
func WithClock(now func() time.Time) Option { return func(c *config) { c.now = now } }
func WithSink(s audit.Sink) Option { return func(c *config) { c.sinks = append(c.sinks, s) } }

// WithFutureStockDays sets the horizon used by shelf gates.
func WithFutureStockDays(n int) Option { return func(c *config) { c.horizon = n } }

// New wires every ledger to one locker, one audit trail and one clock.
func New(opts ...Option) *Ledger {
	c := config{
		locks:   keylock.NewLocal(),
		logger:  zap.NewNop(),
		now:     time.Now,
		horizon: inventory.DefaultHorizonDays,
	}
	for _, o := range opts {
		o(&c)
	}

	trailOpts := []audit.Option{audit.WithLogger(c.logger.Named("audit")), audit.WithClock(c.now)}
	for _, s := range c.sinks {
		trailOpts = append(trailOpts, audit.WithSink(s))
	}
	trail := audit.New(trailOpts...)

	stock := inventory.New(inventory.WithLocker(c.locks), inventory.WithAudit(trail),
		inventory.WithLogger(c.logger.Named("inventory")), inventory.WithClock(c.now))
	prices := pricing.New(pricing.WithLocker(c.locks), pricing.WithAudit(trail),
		pricing.WithLogger(c.logger.Named("pricing")), pricing.WithClock(c.now))
	book := orders.New(orders.WithLocker(c.locks), orders.WithAudit(trail),
		orders.WithLogger(c.logger.Named("orders")), orders.WithClock(c.now))
	cat := catalog.New(catalog.WithOrders(book), catalog.WithLocker(c.locks), catalog.WithAudit(trail),
		catalog.WithLogger(c.logger.Named("catalog")), catalog.WithClock(c.now))
	gate := approval.New(approval.WithLocker(c.locks), approval.WithAudit(trail),
		approval.WithLogger(c.logger.Named("approval")), approval.WithClock(c.now))

	l := &Ledger{
		Audit:       trail,
		Inventory:   stock,
		Prices:      prices,
		Orders:      book,
		Catalog:     cat,
		Approvals:   NewApprovals(gate, prices, cat, stock, c.logger.Named("approvals")),
		Fulfillment: NewFulfillment(stock, book, prices, c.locks, c.logger.Named("fulfillment")),
		gate:        gate,
		horizon:     c.horizon,
		logger:      c.logger,
	}
	l.Approvals.gates = l.ShelfGates
	return l
}

// Close flushes queued audit entries to the sinks.
func (l *Ledger) Close() error { return l.Audit.Close() }

// ShelfGates lists what keeps skuID off the shelf. An empty result means it
// can be listed.
func (l *Ledger) ShelfGates(skuID string) []string {
	if _, ok := l.Catalog.Sku(skuID); !ok {
		return []string{GateSkuNotFound}
	}
	gates := []string{}
	if !l.Catalog.HasListedChannel(skuID) {
		gates = append(gates, GateNoListedChannel)
	}
	if !l.Prices.HasActive(skuID) {
		gates = append(gates, GateNoActivePrice)
	}
	if !l.Inventory.HasFutureStock(skuID, l.horizon) {
		gates = append(gates, GateNoFutureStock)
	}
	return gates
}

// Hydrate replaces all in-memory state. It must run before traffic is
// served.
func (l *Ledger) Hydrate(s *snapshot.State) {
	l.Inventory.Hydrate(s.Inventory, s.InventoryLog)
	l.Prices.Hydrate(s.Prices, s.PriceHistory)
	l.Orders.Hydrate(s.Orders, s.OrderStatusHistory)
	l.gate.Hydrate(s.Approvals)
	l.Audit.Hydrate(s.AuditLog)
	l.Catalog.Hydrate(catalog.State{
		Products:          s.Products,
		ProductResources:  s.ProductResources,
		Snapshots:         s.ProductStructureSnapshot,
		Skus:              s.Skus,
		SkuChannels:       s.SkuChannels,
		SupplierResources: s.SupplierResources,
		SettlementHistory: s.SupplierResourcePriceHistory,
	})
	l.logger.Info("ledger hydrated",
		zap.Int("inventory", len(s.Inventory)), zap.Int("prices", len(s.Prices)),
		zap.Int("orders", len(s.Orders)), zap.Int("approvals", len(s.Approvals)),
		zap.Int("products", len(s.Products)))
}

// Snapshot copies the current state. Tables are read one after another, so
// concurrent writes may land in some tables and not others.
func (l *Ledger) Snapshot() *snapshot.State {
	s := &snapshot.State{}
	s.Inventory, s.InventoryLog = l.Inventory.Dump()
	s.Prices, s.PriceHistory = l.Prices.Dump()
	s.Orders, s.OrderStatusHistory = l.Orders.Dump()
	s.Approvals = l.gate.Dump()
	s.AuditLog = l.Audit.Dump()
	c := l.Catalog.Dump()
	s.Products = c.Products
	s.ProductResources = c.ProductResources
	s.ProductStructureSnapshot = c.Snapshots
	s.Skus = c.Skus
	s.SkuChannels = c.SkuChannels
	s.SupplierResources = c.SupplierResources
	s.SupplierResourcePriceHistory = c.SettlementHistory
	return s
}
