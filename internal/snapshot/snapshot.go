// Package snapshot is the bulk persisted form of the ledger: one JSON array
// per entity type, loaded at process start.
package snapshot

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"

	"github.com/punchamoorthee/otaledger/internal/domain"
)

// State holds every entity table. Field names double as table names.
type State struct {
	Inventory                    []domain.InventoryRecord              `json:"inventory"`
	InventoryLog                 []domain.InventoryLogEntry            `json:"inventory_log"`
	Prices                       []domain.PriceRecord                  `json:"prices"`
	PriceHistory                 []domain.PriceHistoryEntry            `json:"price_history"`
	Orders                       []domain.Order                        `json:"orders"`
	OrderStatusHistory           []domain.OrderStatusHistoryEntry      `json:"order_status_history"`
	Approvals                    []domain.ApprovalRequest              `json:"approvals"`
	AuditLog                     []domain.AuditEntry                   `json:"audit_log"`
	Products                     []domain.Product                      `json:"products"`
	ProductResources             []domain.ProductResource              `json:"product_resources"`
	ProductStructureSnapshot     []domain.ProductStructureSnapshot     `json:"product_structure_snapshot"`
	Skus                         []domain.Sku                          `json:"skus"`
	SkuChannels                  []domain.SkuChannel                   `json:"sku_channels"`
	SupplierResources            []domain.SupplierResource             `json:"supplier_resources"`
	SupplierResourcePriceHistory []domain.SupplierResourcePriceHistory `json:"supplier_resource_price_history"`
}

// Tables maps each table name to a pointer to its slice, for codecs that
// store tables separately.
func (s *State) Tables() map[string]any {
	return map[string]any{
		"inventory":                       &s.Inventory,
		"inventory_log":                   &s.InventoryLog,
		"prices":                          &s.Prices,
		"price_history":                   &s.PriceHistory,
		"orders":                          &s.Orders,
		"order_status_history":            &s.OrderStatusHistory,
		"approvals":                       &s.Approvals,
		"audit_log":                       &s.AuditLog,
		"products":                        &s.Products,
		"product_resources":               &s.ProductResources,
		"product_structure_snapshot":      &s.ProductStructureSnapshot,
		"skus":                            &s.Skus,
		"sku_channels":                    &s.SkuChannels,
		"supplier_resources":              &s.SupplierResources,
		"supplier_resource_price_history": &s.SupplierResourcePriceHistory,
	}
}

// TableNames returns the table names in a stable order.
func TableNames() []string {
	var s State
	names := make([]string, 0, 16)
	for name := range s.Tables() {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Decode reads a whole state from a single JSON document.
func Decode(r io.Reader) (*State, error) {
	var s State
	if err := json.NewDecoder(r).Decode(&s); err != nil {
		return nil, fmt.Errorf("decode snapshot: %w", err)
	}
	return &s, nil
}

// LoadDir reads <table>.json files from dir. Missing files leave their table
// empty.
func LoadDir(dir string) (*State, error) {
	s := &State{}
	for name, dst := range s.Tables() {
		data, err := os.ReadFile(filepath.Join(dir, name+".json"))
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", name, err)
		}
		if err := json.Unmarshal(data, dst); err != nil {
			return nil, fmt.Errorf("parse %s: %w", name, err)
		}
	}
	return s, nil
}

// SaveDir writes one <table>.json per table, replacing each file atomically.
func SaveDir(dir string, s *State) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	for name, src := range s.Tables() {
		data, err := json.MarshalIndent(src, "", "  ")
		if err != nil {
			return fmt.Errorf("encode %s: %w", name, err)
		}
		tmp := filepath.Join(dir, "."+name+".json.tmp")
		if err := os.WriteFile(tmp, data, 0o644); err != nil {
			return fmt.Errorf("write %s: %w", name, err)
		}
		if err := os.Rename(tmp, filepath.Join(dir, name+".json")); err != nil {
			return fmt.Errorf("commit %s: %w", name, err)
		}
	}
	return nil
}
