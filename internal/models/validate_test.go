package models

import (
	"strings"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/punchamoorthee/otaledger/internal/domain"
)

func TestDecodeValidation(t *testing.T) {
	tests := []struct {
		name  string
		body  string
		dst   any
		field string
	}{
		{"malformed json", `{"sku_id":`, &StockMoveRequest{}, "body"},
		{"missing sku", `{"inventory_date":"2024-06-01","quantity":1}`, &StockMoveRequest{}, "sku_id"},
		{"bad date", `{"sku_id":"S1","inventory_date":"06/01/2024","quantity":1}`, &StockMoveRequest{}, "inventory_date"},
		{"zero quantity", `{"sku_id":"S1","inventory_date":"2024-06-01","quantity":0}`, &StockMoveRequest{}, "quantity"},
		{"decision status", `{"status":"maybe","operator":"bob"}`, &DecideRequest{}, "status"},
		{"nested line", `{"product_name":"Tour","lines":[{"resource_id":"","quantity":1}]}`, &CreateProductRequest{}, "lines[0].resource_id"},
		{"no lines", `{"product_name":"Tour","lines":[]}`, &CreateProductRequest{}, "lines"},
		{"embedded price field", `{"sku_id":"S1","start_at":"2024-06-01","end_at":"2024-06-30","applicant":"a"}`, &SubmitPriceRequest{}, "channel_id"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := Decode(strings.NewReader(tc.body), tc.dst)
			require.ErrorIs(t, err, domain.ErrValidation)
			var verr *domain.ValidationError
			require.ErrorAs(t, err, &verr)
			assert.Equal(t, tc.field, verr.Field)
		})
	}
}

func TestDecodeValid(t *testing.T) {
	var req CreateOrderRequest
	require.NoError(t, Decode(strings.NewReader(`{"channel_id":"C1","sku_id":"S1","travel_date":"2024-06-01","quantity":2,"sale_price":"99.90","cost_price":null}`), &req))
	o := req.NewOrder()
	assert.True(t, o.SalePrice.Equal(decimal.RequireFromString("99.9")))
	assert.False(t, o.CostPrice.Valid)
}

func TestInitInventoryDays(t *testing.T) {
	r := InitInventoryRequest{SkuID: "S1", StartDate: "2024-06-01", EndDate: "2024-06-03"}
	days, err := r.Days()
	require.NoError(t, err)
	assert.Equal(t, []string{"2024-06-01", "2024-06-02", "2024-06-03"}, days)

	r = InitInventoryRequest{SkuID: "S1", Dates: []string{"2024-07-01"}}
	days, err = r.Days()
	require.NoError(t, err)
	assert.Equal(t, []string{"2024-07-01"}, days)

	_, err = InitInventoryRequest{SkuID: "S1"}.Days()
	assert.ErrorIs(t, err, domain.ErrValidation)
}

func TestPriceRequestDefaultsToDraft(t *testing.T) {
	rec := PriceRequest{SkuID: "S1", ChannelID: "C1", StartAt: "2024-06-01", EndAt: "2024-06-02", Operator: "ops"}.Record()
	assert.Equal(t, domain.PriceDraft, rec.Status)
	assert.Equal(t, "ops", rec.CreatedBy)
}
