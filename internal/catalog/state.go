package catalog

import (
	"sort"

	"github.com/punchamoorthee/otaledger/internal/domain"
)

// State is the persisted shape of the catalog.
type State struct {
	Products          []domain.Product
	ProductResources  []domain.ProductResource
	Snapshots         []domain.ProductStructureSnapshot
	Skus              []domain.Sku
	SkuChannels       []domain.SkuChannel
	SupplierResources []domain.SupplierResource
	SettlementHistory []domain.SupplierResourcePriceHistory
}

func (c *Catalog) Hydrate(s State) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.products = make(map[string]domain.Product, len(s.Products))
	for _, p := range s.Products {
		c.products[p.ID] = p
	}
	c.lines = make(map[string][]domain.ProductResource)
	for _, r := range s.ProductResources {
		c.lines[r.ProductID] = append(c.lines[r.ProductID], r)
	}
	c.snapshots = append([]domain.ProductStructureSnapshot(nil), s.Snapshots...)
	c.skus = make(map[string]domain.Sku, len(s.Skus))
	for _, k := range s.Skus {
		c.skus[k.ID] = k
	}
	c.bindings = make(map[string]domain.SkuChannel, len(s.SkuChannels))
	for _, b := range s.SkuChannels {
		c.bindings[b.ID] = b
	}
	c.suppliers = make(map[string]domain.SupplierResource, len(s.SupplierResources))
	for _, r := range s.SupplierResources {
		c.suppliers[r.ID] = r
	}
	c.settlement = append([]domain.SupplierResourcePriceHistory(nil), s.SettlementHistory...)
}

// Dump returns the catalog with map-backed tables sorted by id.
func (c *Catalog) Dump() State {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var s State
	for _, p := range c.products {
		s.Products = append(s.Products, p)
	}
	for _, rows := range c.lines {
		s.ProductResources = append(s.ProductResources, rows...)
	}
	for _, k := range c.skus {
		s.Skus = append(s.Skus, k)
	}
	for _, b := range c.bindings {
		s.SkuChannels = append(s.SkuChannels, b)
	}
	for _, r := range c.suppliers {
		s.SupplierResources = append(s.SupplierResources, r)
	}
	s.Snapshots = append(s.Snapshots, c.snapshots...)
	s.SettlementHistory = append(s.SettlementHistory, c.settlement...)

	sortByID(s.Products, func(p domain.Product) string { return p.ID })
	sortByID(s.ProductResources, func(r domain.ProductResource) string { return r.ID })
	sortByID(s.Skus, func(k domain.Sku) string { return k.ID })
	sortByID(s.SkuChannels, func(b domain.SkuChannel) string { return b.ID })
	sortByID(s.SupplierResources, func(r domain.SupplierResource) string { return r.ID })
	return s
}

func sortByID[T any](rows []T, key func(T) string) {
	sort.Slice(rows, func(i, j int) bool { return key(rows[i]) < key(rows[j]) })
}
