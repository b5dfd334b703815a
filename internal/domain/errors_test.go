package domain

import (
	"errors"
	"fmt"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKind(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{Invalid("sku_id", "required"), "ValidationError"},
		{fmt.Errorf("S1 on 2024-06-01: %w", ErrNotInitialized), "NotInitialized"},
		{&ConflictError{}, "TimeConflict"},
		{&StructureDuplicateError{Hash: "h", ExistingProductID: "P1"}, "StructureDuplicate"},
		{fmt.Errorf("wrapped: %w", ErrAlreadyDecided), "AlreadyDecided"},
		{errors.New("disk on fire"), "Internal"},
		{nil, "Internal"},
	}
	for _, tc := range tests {
		assert.Equal(t, tc.want, Kind(tc.err))
	}
	assert.True(t, IsDomain(ErrInsufficientStock))
	assert.False(t, IsDomain(errors.New("x")))
	assert.False(t, IsDomain(nil))
}

func TestTypedErrorsUnwrap(t *testing.T) {
	var verr *ValidationError
	err := fmt.Errorf("outer: %w", Invalid("total_qty", "must be %s", "positive"))
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "total_qty", verr.Field)
	assert.EqualError(t, verr, "validation failed for total_qty: must be positive")
	assert.ErrorIs(t, err, ErrValidation)

	conflict := &ConflictError{Conflicts: []PriceRecord{{ID: "a"}, {ID: "b"}}}
	assert.ErrorIs(t, conflict, ErrTimeConflict)
	assert.Contains(t, conflict.Error(), "2 live price record(s)")
}

func TestResultOf(t *testing.T) {
	assert.Equal(t, Result{OK: true}, ResultOf(nil))
	got := ResultOf(ErrInsufficientFrozen)
	assert.False(t, got.OK)
	assert.Equal(t, "insufficient frozen stock", got.Message)
}

func TestComputeAmounts(t *testing.T) {
	sale, cost, profit := ComputeAmounts(decimal.RequireFromString("19.90"), decimal.NewNullDecimal(decimal.RequireFromString("12.5")), 3)
	assert.True(t, sale.Equal(decimal.RequireFromString("59.7")))
	require.True(t, cost.Valid)
	assert.True(t, cost.Decimal.Equal(decimal.RequireFromString("37.5")))
	require.True(t, profit.Valid)
	assert.True(t, profit.Decimal.Equal(decimal.RequireFromString("22.2")))

	sale, cost, profit = ComputeAmounts(decimal.NewFromInt(100), decimal.NullDecimal{}, 2)
	assert.True(t, sale.Equal(decimal.NewFromInt(200)))
	assert.False(t, cost.Valid)
	assert.False(t, profit.Valid)
}
