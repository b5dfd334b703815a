package id_test

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/punchamoorthee/otaledger/internal/id"
)

func TestNew(t *testing.T) {
	prefixes := []id.Prefix{id.Inventory, id.InventoryLog, id.Price, id.PriceHistory, id.Order, id.OrderHistory, id.Approval, id.Audit, id.Product, id.ProductResource, id.Snapshot, id.SettlementChange}
	for _, p := range prefixes {
		t.Run(string(p), func(t *testing.T) {
			v := id.New(p)
			assert.True(t, strings.HasPrefix(v, string(p)+"_"), v)

			got, err := id.PrefixOf(v)
			require.NoError(t, err)
			assert.Equal(t, p, got)
		})
	}
}

func TestNewUnique(t *testing.T) {
	seen := make(map[string]struct{})
	for i := 0; i < 1000; i++ {
		v := id.New(id.Order)
		_, dup := seen[v]
		require.False(t, dup, "duplicate id %s", v)
		seen[v] = struct{}{}
	}
}

func TestPrefixOfForeignID(t *testing.T) {
	_, err := id.PrefixOf("a1b2c3d4")
	assert.Error(t, err)
}
