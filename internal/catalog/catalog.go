// Package catalog owns products and their resource structure, SKUs with
// their channel bindings, and supplier settlement prices.
package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/punchamoorthee/otaledger/internal/audit"
	"github.com/punchamoorthee/otaledger/internal/domain"
	"github.com/punchamoorthee/otaledger/internal/fingerprint"
	"github.com/punchamoorthee/otaledger/internal/id"
	"github.com/punchamoorthee/otaledger/internal/keylock"
	"github.com/punchamoorthee/otaledger/internal/metrics"
)

// OrderIndex tells whether a product has been sold; sold products keep
// their structure.
type OrderIndex interface {
	HasOrdersForProduct(productID string) bool
}

type noOrders struct{}

func (noOrders) HasOrdersForProduct(string) bool { return false }

// NewProduct is the input of CreateProduct.
type NewProduct struct {
	ProductName string
	Description string
	CreatedBy   string
	Lines       []fingerprint.Line
}

type Catalog struct {
	mu         sync.RWMutex
	products   map[string]domain.Product
	lines      map[string][]domain.ProductResource
	snapshots  []domain.ProductStructureSnapshot
	skus       map[string]domain.Sku
	bindings   map[string]domain.SkuChannel
	suppliers  map[string]domain.SupplierResource
	settlement []domain.SupplierResourcePriceHistory

	orders OrderIndex
	locks  keylock.Locker
	audit  audit.Recorder
	logger *zap.Logger
	now    func() time.Time
}

type Option func(*Catalog)

func WithOrders(o OrderIndex) Option { return func(c *Catalog) { c.orders = o } }
func WithLocker(l keylock.Locker) Option { return func(c *Catalog) { c.locks = l } }
func WithAudit(r audit.Recorder) Option { return func(c *Catalog) { c.audit = r } }
func WithLogger(l *zap.Logger) Option { return func(c *Catalog) { c.logger = l } }
func WithClock(now func() time.Time) Option { return func(c *Catalog) { c.now = now } }

func New(opts ...Option) *Catalog {
	c := &Catalog{
		products:  make(map[string]domain.Product),
		lines:     make(map[string][]domain.ProductResource),
		skus:      make(map[string]domain.Sku),
		bindings:  make(map[string]domain.SkuChannel),
		suppliers: make(map[string]domain.SupplierResource),
		orders:    noOrders{},
		locks:     keylock.NewLocal(),
		audit:     audit.Nop,
		logger:    zap.NewNop(),
		now:       time.Now,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Products.

// CreateProduct stores a draft product with the given structure. If another
// product already has the same structure a *domain.StructureDuplicateError
// is returned unless override is set.
func (c *Catalog) CreateProduct(ctx context.Context, in NewProduct, override bool) (_ domain.Product, err error) {
	defer func() { metrics.Observe("products", "create", err) }()

	if in.ProductName == "" {
		return domain.Product{}, domain.Invalid("product_name", "required")
	}
	if err := validLines(in.Lines); err != nil {
		return domain.Product{}, err
	}
	hash := fingerprint.BuildHash(in.Lines)

	unlock, err := c.locks.Lock(ctx, "structure:"+hash)
	if err != nil {
		return domain.Product{}, err
	}
	defer unlock()

	if dup, ok := c.findByHash(hash, ""); ok && !override {
		return domain.Product{}, &domain.StructureDuplicateError{Hash: hash, ExistingProductID: dup.ID}
	}

	now := c.now().UTC()
	p := domain.Product{
		ID:            id.New(id.Product),
		ProductName:   in.ProductName,
		Description:   in.Description,
		Status:        domain.ListingDraft,
		StructureHash: hash,
		CreatedBy:     in.CreatedBy,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	c.mu.Lock()
	c.products[p.ID] = p
	c.mu.Unlock()
	c.writeStructure(p.ID, in.Lines, now)

	c.audit.Record(ctx, audit.Event{Table: "products", RecordID: p.ID, Operation: domain.OpInsert, Diff: p, Operator: in.CreatedBy, Source: "catalog"})
	return p, nil
}

// CopyProduct creates a draft copy of productID with the same structure.
// The copy is an intentional duplicate and bypasses the duplicate check.
func (c *Catalog) CopyProduct(ctx context.Context, productID, name, operator string) (domain.Product, error) {
	src, ok := c.Product(productID)
	if !ok {
		return domain.Product{}, fmt.Errorf("product %s: %w", productID, domain.ErrRecordNotFound)
	}
	if name == "" {
		name = src.ProductName + " (copy)"
	}
	return c.CreateProduct(ctx, NewProduct{
		ProductName: name,
		Description: src.Description,
		CreatedBy:   operator,
		Lines:       toLines(c.Lines(productID)),
	}, true)
}

// ReplaceStructure swaps a product's composition. Products with orders
// cannot change structure.
func (c *Catalog) ReplaceStructure(ctx context.Context, productID string, lines []fingerprint.Line, override bool, operator string) (_ domain.Product, err error) {
	defer func() { metrics.Observe("products", "replace_structure", err) }()

	if err := validLines(lines); err != nil {
		return domain.Product{}, err
	}
	hash := fingerprint.BuildHash(lines)

	unlock, err := keylock.LockAll(ctx, c.locks, "product:"+productID, "structure:"+hash)
	if err != nil {
		return domain.Product{}, err
	}
	defer unlock()

	p, ok := c.Product(productID)
	if !ok {
		return domain.Product{}, fmt.Errorf("product %s: %w", productID, domain.ErrRecordNotFound)
	}
	if c.orders.HasOrdersForProduct(productID) {
		return domain.Product{}, fmt.Errorf("product %s: %w", productID, domain.ErrStructureLocked)
	}
	if dup, ok := c.findByHash(hash, productID); ok && !override {
		return domain.Product{}, &domain.StructureDuplicateError{Hash: hash, ExistingProductID: dup.ID}
	}

	before := p.StructureHash
	p.StructureHash = hash
	p.UpdatedAt = c.now().UTC()
	c.mu.Lock()
	c.products[p.ID] = p
	c.mu.Unlock()
	c.writeStructure(p.ID, lines, p.UpdatedAt)

	c.audit.Record(ctx, audit.Event{
		Table:     "products",
		RecordID:  p.ID,
		Operation: domain.OpUpdate,
		Diff:      map[string]string{"before_hash": before, "after_hash": hash},
		Operator:  operator,
		Source:    "catalog",
	})
	return p, nil
}

// writeStructure replaces the lines of productID and records a snapshot.
func (c *Catalog) writeStructure(productID string, lines []fingerprint.Line, at time.Time) {
	rows := make([]domain.ProductResource, len(lines))
	for i, l := range lines {
		rows[i] = domain.ProductResource{
			ID:           id.New(id.ProductResource),
			ProductID:    productID,
			ResourceID:   l.ResourceID,
			Quantity:     l.Quantity,
			RequiredFlag: l.RequiredFlag,
		}
	}
	data, err := json.Marshal(rows)
	if err != nil {
		c.logger.Error("structure snapshot not serializable", zap.String("product_id", productID), zap.Error(err))
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.lines[productID] = rows
	c.snapshots = append(c.snapshots, domain.ProductStructureSnapshot{
		ID:           id.New(id.Snapshot),
		ProductID:    productID,
		SnapshotData: data,
		CreatedAt:    at,
	})
}

// StatusGuard vets the current listing status before it is replaced.
type StatusGuard func(current domain.ListingStatus) error

// SetProductStatus changes a product's listing status and returns the
// previous one.
func (c *Catalog) SetProductStatus(ctx context.Context, productID string, status domain.ListingStatus, operator string) (domain.ListingStatus, error) {
	return c.SetProductStatusIf(ctx, productID, status, operator, nil)
}

// SetProductStatusIf is SetProductStatus with guard checked against the
// current status while the product lock is held.
func (c *Catalog) SetProductStatusIf(ctx context.Context, productID string, status domain.ListingStatus, operator string, guard StatusGuard) (domain.ListingStatus, error) {
	unlock, err := c.locks.Lock(ctx, "product:"+productID)
	if err != nil {
		return "", err
	}
	defer unlock()

	cur, ok := c.Product(productID)
	if !ok {
		return "", fmt.Errorf("product %s: %w", productID, domain.ErrRecordNotFound)
	}
	if guard != nil {
		if err := guard(cur.Status); err != nil {
			return "", err
		}
	}

	c.mu.Lock()
	p := c.products[productID]
	before := p.Status
	p.Status = status
	p.UpdatedAt = c.now().UTC()
	c.products[productID] = p
	c.mu.Unlock()

	c.audit.Record(ctx, audit.Event{
		Table:     "products",
		RecordID:  productID,
		Operation: domain.OpUpdate,
		Diff:      map[string]domain.ListingStatus{"before_status": before, "after_status": status},
		Operator:  operator,
		Source:    "catalog",
	})
	return before, nil
}

func (c *Catalog) Product(productID string) (domain.Product, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	p, ok := c.products[productID]
	return p, ok
}

// Lines returns the composition of productID.
func (c *Catalog) Lines(productID string) []domain.ProductResource {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]domain.ProductResource(nil), c.lines[productID]...)
}

// Snapshots returns the structure snapshots of productID, oldest first.
func (c *Catalog) Snapshots(productID string) []domain.ProductStructureSnapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()
	var out []domain.ProductStructureSnapshot
	for _, s := range c.snapshots {
		if s.ProductID == productID {
			out = append(out, s)
		}
	}
	return out
}

// FindByHash returns a product with the given structure hash.
func (c *Catalog) FindByHash(hash string) (domain.Product, bool) {
	return c.findByHash(hash, "")
}

func (c *Catalog) findByHash(hash, exclude string) (domain.Product, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, p := range c.products {
		if p.StructureHash == hash && p.ID != exclude {
			return p, true
		}
	}
	return domain.Product{}, false
}

// SKUs and channel bindings.

// UpsertSku inserts or replaces a SKU.
func (c *Catalog) UpsertSku(ctx context.Context, s domain.Sku, operator string) error {
	if s.ID == "" {
		return domain.Invalid("id", "required")
	}
	if _, ok := c.Product(s.ProductID); !ok {
		return fmt.Errorf("product %s: %w", s.ProductID, domain.ErrRecordNotFound)
	}
	if s.Status == "" {
		s.Status = domain.ListingDraft
	}
	unlock, err := c.locks.Lock(ctx, "sku:"+s.ID)
	if err != nil {
		return err
	}
	defer unlock()

	c.mu.Lock()
	_, existed := c.skus[s.ID]
	c.skus[s.ID] = s
	c.mu.Unlock()

	op := domain.OpInsert
	if existed {
		op = domain.OpUpdate
	}
	c.audit.Record(ctx, audit.Event{Table: "skus", RecordID: s.ID, Operation: op, Diff: s, Operator: operator, Source: "catalog"})
	return nil
}

// SetSkuStatus changes a SKU's listing status and returns the previous one.
func (c *Catalog) SetSkuStatus(ctx context.Context, skuID string, status domain.ListingStatus, operator string) (domain.ListingStatus, error) {
	return c.SetSkuStatusIf(ctx, skuID, status, operator, nil)
}

// SetSkuStatusIf is SetSkuStatus with guard checked against the current
// status while the SKU lock is held.
func (c *Catalog) SetSkuStatusIf(ctx context.Context, skuID string, status domain.ListingStatus, operator string, guard StatusGuard) (domain.ListingStatus, error) {
	unlock, err := c.locks.Lock(ctx, "sku:"+skuID)
	if err != nil {
		return "", err
	}
	defer unlock()

	cur, ok := c.Sku(skuID)
	if !ok {
		return "", fmt.Errorf("sku %s: %w", skuID, domain.ErrRecordNotFound)
	}
	if guard != nil {
		if err := guard(cur.Status); err != nil {
			return "", err
		}
	}

	c.mu.Lock()
	s := c.skus[skuID]
	before := s.Status
	s.Status = status
	c.skus[skuID] = s
	c.mu.Unlock()

	c.audit.Record(ctx, audit.Event{
		Table:     "skus",
		RecordID:  skuID,
		Operation: domain.OpUpdate,
		Diff:      map[string]domain.ListingStatus{"before_status": before, "after_status": status},
		Operator:  operator,
		Source:    "catalog",
	})
	return before, nil
}

func (c *Catalog) Sku(skuID string) (domain.Sku, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	s, ok := c.skus[skuID]
	return s, ok
}

// BindChannel inserts or replaces a SKU-channel binding.
func (c *Catalog) BindChannel(ctx context.Context, b domain.SkuChannel, operator string) error {
	switch {
	case b.ID == "":
		return domain.Invalid("id", "required")
	case b.ChannelID == "":
		return domain.Invalid("channel_id", "required")
	}
	if _, ok := c.Sku(b.SkuID); !ok {
		return fmt.Errorf("sku %s: %w", b.SkuID, domain.ErrRecordNotFound)
	}
	c.mu.Lock()
	c.bindings[b.ID] = b
	c.mu.Unlock()
	c.audit.Record(ctx, audit.Event{Table: "sku_channels", RecordID: b.ID, Operation: domain.OpUpdate, Diff: b, Operator: operator, Source: "catalog"})
	return nil
}

// Channels returns the bindings of skuID.
func (c *Catalog) Channels(skuID string) []domain.SkuChannel {
	c.mu.RLock()
	var out []domain.SkuChannel
	for _, b := range c.bindings {
		if b.SkuID == skuID {
			out = append(out, b)
		}
	}
	c.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// HasListedChannel reports whether skuID is listed on at least one channel.
func (c *Catalog) HasListedChannel(skuID string) bool {
	for _, b := range c.Channels(skuID) {
		if b.Status == domain.ListingListed {
			return true
		}
	}
	return false
}

// Supplier settlement.

func (c *Catalog) UpsertSupplierResource(ctx context.Context, r domain.SupplierResource, operator string) error {
	if r.ID == "" {
		return domain.Invalid("id", "required")
	}
	c.mu.Lock()
	c.suppliers[r.ID] = r
	c.mu.Unlock()
	c.audit.Record(ctx, audit.Event{Table: "supplier_resources", RecordID: r.ID, Operation: domain.OpUpdate, Diff: r, Operator: operator, Source: "catalog"})
	return nil
}

func (c *Catalog) SupplierResource(resourceID string) (domain.SupplierResource, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	r, ok := c.suppliers[resourceID]
	return r, ok
}

// ApplySettlement sets the settlement price of a supplier resource and
// appends the change to its history.
func (c *Catalog) ApplySettlement(ctx context.Context, resourceID string, price decimal.NullDecimal, reason, operator, approvalID string) (_ domain.SupplierResourcePriceHistory, err error) {
	defer func() { metrics.Observe("supplier_resources", "settlement", err) }()

	if price.Valid && price.Decimal.IsNegative() {
		return domain.SupplierResourcePriceHistory{}, domain.Invalid("settlement_price", "must not be negative")
	}
	unlock, err := c.locks.Lock(ctx, "supplier:"+resourceID)
	if err != nil {
		return domain.SupplierResourcePriceHistory{}, err
	}
	defer unlock()

	c.mu.Lock()
	r, ok := c.suppliers[resourceID]
	if !ok {
		c.mu.Unlock()
		return domain.SupplierResourcePriceHistory{}, fmt.Errorf("supplier resource %s: %w", resourceID, domain.ErrRecordNotFound)
	}
	entry := domain.SupplierResourcePriceHistory{
		ID:                 id.New(id.SettlementChange),
		SupplierResourceID: resourceID,
		BeforePrice:        r.SettlementPrice,
		AfterPrice:         price,
		Reason:             reason,
		Operator:           operator,
		OperatedAt:         c.now().UTC(),
		ApprovalID:         approvalID,
	}
	r.SettlementPrice = price
	c.suppliers[resourceID] = r
	c.settlement = append(c.settlement, entry)
	c.mu.Unlock()

	c.audit.Record(ctx, audit.Event{Table: "supplier_resources", RecordID: resourceID, Operation: domain.OpUpdate, Diff: entry, Operator: operator, Source: "catalog"})
	return entry, nil
}

// SettlementHistory returns the settlement changes of resourceID, oldest first.
func (c *Catalog) SettlementHistory(resourceID string) []domain.SupplierResourcePriceHistory {
	c.mu.RLock()
	defer c.mu.RUnlock()
	var out []domain.SupplierResourcePriceHistory
	for _, e := range c.settlement {
		if e.SupplierResourceID == resourceID {
			out = append(out, e)
		}
	}
	return out
}

func validLines(lines []fingerprint.Line) error {
	if len(lines) == 0 {
		return domain.Invalid("lines", "at least one resource required")
	}
	seen := make(map[string]bool, len(lines))
	for i, l := range lines {
		if l.ResourceID == "" {
			return domain.Invalid(fmt.Sprintf("lines[%d].resource_id", i), "required")
		}
		if l.Quantity <= 0 {
			return domain.Invalid(fmt.Sprintf("lines[%d].quantity", i), "must be positive")
		}
		if seen[l.ResourceID] {
			return domain.Invalid(fmt.Sprintf("lines[%d].resource_id", i), "resource %s listed twice", l.ResourceID)
		}
		seen[l.ResourceID] = true
	}
	return nil
}

func toLines(rows []domain.ProductResource) []fingerprint.Line {
	out := make([]fingerprint.Line, len(rows))
	for i, r := range rows {
		out[i] = fingerprint.Line{ResourceID: r.ResourceID, Quantity: r.Quantity, RequiredFlag: r.RequiredFlag}
	}
	return out
}
