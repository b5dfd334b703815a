package store

import (
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/punchamoorthee/otaledger/internal/domain"
	"github.com/punchamoorthee/otaledger/internal/snapshot"
)

func sample() *snapshot.State {
	return &snapshot.State{
		Inventory: []domain.InventoryRecord{{ID: "i1", SkuID: "S1", InventoryDate: "2024-06-01", TotalQty: 9, FrozenQty: 1, Status: domain.InventoryStatusNormal}},
		Skus:      []domain.Sku{{ID: "S1", ProductID: "P1", SkuName: "Adult", Status: domain.ListingDraft}},
	}
}

func TestDirStore(t *testing.T) {
	ctx := context.Background()
	d := Dir(t.TempDir())
	require.NoError(t, d.Save(ctx, sample()))

	got, err := d.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, sample().Inventory, got.Inventory)
	assert.Equal(t, sample().Skus, got.Skus)
	assert.Empty(t, got.Orders)
}

// Runs against a real database when LEDGER_TEST_DB_SOURCE is set.
func TestPostgresRoundTrip(t *testing.T) {
	dsn := os.Getenv("LEDGER_TEST_DB_SOURCE")
	if dsn == "" {
		t.Skip("LEDGER_TEST_DB_SOURCE not set")
	}
	ctx := context.Background()
	s, err := NewStore(ctx, dsn, nil)
	require.NoError(t, err)
	defer s.Close()
	require.NoError(t, s.Migrate(ctx))

	require.NoError(t, s.Save(ctx, sample()))
	got, err := s.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, sample().Inventory, got.Inventory)
	assert.Equal(t, sample().Skus, got.Skus)
}
