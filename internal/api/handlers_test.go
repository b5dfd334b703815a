package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/punchamoorthee/otaledger/internal/domain"
	"github.com/punchamoorthee/otaledger/internal/models"
	"github.com/punchamoorthee/otaledger/internal/service"
	"github.com/punchamoorthee/otaledger/internal/snapshot"
)

type memoryPersister struct {
	saved *snapshot.State
	err   error
}

func (m *memoryPersister) Save(_ context.Context, s *snapshot.State) error {
	if m.err != nil {
		return m.err
	}
	m.saved = s
	return nil
}

func newServer(t *testing.T) (*httptest.Server, *service.Ledger, *memoryPersister) {
	t.Helper()
	clock := func() time.Time { return time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC) }
	l := service.New(service.WithClock(clock))
	p := &memoryPersister{}
	srv := httptest.NewServer(NewRouter(NewHandler(l, p, nil)))
	t.Cleanup(srv.Close)
	return srv, l, p
}

func call(t *testing.T, srv *httptest.Server, method, path string, body any, out any) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, srv.URL+path, &buf)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	resp, err := srv.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	if out != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp
}

func TestHealthAndRequestID(t *testing.T) {
	srv, _, _ := newServer(t)
	resp := call(t, srv, "GET", "/health", nil, nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.NotEmpty(t, resp.Header.Get(requestIDHeader))

	req, _ := http.NewRequest("GET", srv.URL+"/health", nil)
	req.Header.Set(requestIDHeader, "abc-123")
	resp, err := srv.Client().Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, "abc-123", resp.Header.Get(requestIDHeader))
}

func TestInventoryEndpoints(t *testing.T) {
	srv, _, _ := newServer(t)

	var res domain.Result
	resp := call(t, srv, "POST", "/api/v1/inventory/init", map[string]any{
		"sku_id": "S1", "start_date": "2024-06-01", "end_date": "2024-06-03", "total_qty": 5, "operator": "ops",
	}, &res)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.True(t, res.OK)

	move := map[string]any{"sku_id": "S1", "inventory_date": "2024-06-02", "quantity": 4, "order_id": "O1"}
	resp = call(t, srv, "POST", "/api/v1/inventory/freeze", move, &res)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.True(t, res.OK)

	res = domain.Result{}
	resp = call(t, srv, "POST", "/api/v1/inventory/freeze", move, &res)
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
	assert.False(t, res.OK)
	assert.Contains(t, res.Message, "insufficient stock")

	resp = call(t, srv, "POST", "/api/v1/inventory/freeze", map[string]any{"sku_id": "S1", "inventory_date": "2024-07-01", "quantity": 1}, &res)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp = call(t, srv, "POST", "/api/v1/inventory/adjust", map[string]any{"sku_id": "S1", "inventory_date": "2024-06-02", "total_qty": 3}, &res)
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)

	resp = call(t, srv, "POST", "/api/v1/inventory/release", map[string]any{"sku_id": "S1", "inventory_date": "2024-06-02", "quantity": 0}, &res)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.False(t, res.OK)

	var records []domain.InventoryRecord
	call(t, srv, "GET", "/api/v1/inventory/S1", nil, &records)
	require.Len(t, records, 3)
	assert.Equal(t, 4, records[1].FrozenQty)

	var fs models.FutureStockResponse
	call(t, srv, "GET", "/api/v1/inventory/S1/future-stock?days=2", nil, &fs)
	assert.True(t, fs.HasStock)
	assert.Equal(t, 2, fs.Days)

	var logs []domain.InventoryLogEntry
	call(t, srv, "GET", "/api/v1/inventory/S1/logs", nil, &logs)
	assert.Len(t, logs, 4)
}

func TestPriceApprovalFlow(t *testing.T) {
	srv, l, _ := newServer(t)

	var req domain.ApprovalRequest
	resp := call(t, srv, "POST", "/api/v1/approvals/price", map[string]any{
		"sku_id": "S1", "channel_id": "C1", "sale_price": "199.00",
		"start_at": "2024-06-01", "end_at": "2024-06-30", "applicant": "alice",
	}, &req)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.Equal(t, domain.ObjectPrice, req.ObjectType)

	var conflicts models.ConflictResponse
	call(t, srv, "POST", "/api/v1/prices/conflicts", map[string]any{
		"sku_id": "S1", "channel_id": "C1", "start_at": "2024-06-15", "end_at": "2024-07-15",
	}, &conflicts)
	require.Len(t, conflicts.Conflicts, 1)

	var decided domain.ApprovalRequest
	resp = call(t, srv, "POST", "/api/v1/approvals/"+req.ID+"/decide", map[string]any{"status": "approved", "operator": "bob"}, &decided)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, domain.ApprovalApproved, decided.Status)

	var errResp models.ErrorResponse
	resp = call(t, srv, "POST", "/api/v1/approvals/"+req.ID+"/decide", map[string]any{"status": "rejected", "operator": "bob"}, &errResp)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Equal(t, "AlreadyDecided", errResp.Kind)

	p, _ := l.Prices.Get(req.ObjectID)
	assert.Equal(t, domain.PriceActive, p.Status)

	errResp = models.ErrorResponse{}
	resp = call(t, srv, "POST", "/api/v1/approvals/price", map[string]any{
		"sku_id": "S1", "channel_id": "C1", "sale_price": "10",
		"start_at": "2024-06-10", "end_at": "2024-06-20", "applicant": "alice",
	}, &errResp)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Equal(t, "TimeConflict", errResp.Kind)
	assert.Len(t, errResp.Conflicts, 1)

	var history []domain.PriceHistoryEntry
	call(t, srv, "GET", "/api/v1/prices/"+req.ObjectID+"/history", nil, &history)
	require.Len(t, history, 1)
	assert.Equal(t, req.ID, history[0].ApprovalID)
}

func TestOrderEndpoints(t *testing.T) {
	srv, l, _ := newServer(t)
	require.NoError(t, l.Inventory.InitInventory(context.Background(), "S1", []string{"2024-06-03"}, 3, "ops", ""))

	body := map[string]any{"order_no": "A1", "channel_id": "C1", "sku_id": "S1", "travel_date": "2024-06-03", "quantity": 1, "sale_price": "50"}
	var order domain.Order
	resp := call(t, srv, "POST", "/api/v1/orders", body, &order)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.Equal(t, "/api/v1/orders/"+order.ID, resp.Header.Get("Location"))

	var errResp models.ErrorResponse
	resp = call(t, srv, "POST", "/api/v1/orders", body, &errResp)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Equal(t, "DuplicateKey", errResp.Kind)

	resp = call(t, srv, "POST", "/api/v1/orders/"+order.ID+"/verify", map[string]any{"operator": "gate"}, &order)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, domain.OrderVerified, order.Status)

	resp = call(t, srv, "POST", "/api/v1/orders/"+order.ID+"/refund", nil, &errResp)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	var got models.OrderResponse
	call(t, srv, "GET", "/api/v1/orders/"+order.ID, nil, &got)
	assert.Len(t, got.History, 2)

	var imported struct {
		Added   int `json:"added"`
		Skipped int `json:"skipped"`
	}
	resp = call(t, srv, "POST", "/api/v1/orders/import", map[string]any{
		"orders": []map[string]any{
			{"order_no": "A1", "channel_id": "C1", "sku_id": "S1", "travel_date": "2024-06-03", "quantity": 1, "sale_price": "1", "status": "paid"},
			{"order_no": "B7", "channel_id": "C1", "sku_id": "S1", "travel_date": "2024-06-03", "quantity": 1, "sale_price": "1", "status": "paid"},
		},
		"operator": "sync",
	}, &imported)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, 1, imported.Added)
	assert.Equal(t, 1, imported.Skipped)

	resp = call(t, srv, "GET", "/api/v1/orders/missing", nil, &errResp)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestCatalogEndpoints(t *testing.T) {
	srv, _, _ := newServer(t)
	lines := []map[string]any{{"resource_id": "R2", "quantity": 1, "required_flag": true}, {"resource_id": "R1", "quantity": 2}}

	var fp models.FingerprintResponse
	call(t, srv, "POST", "/api/v1/fingerprint", map[string]any{"lines": lines}, &fp)
	assert.Contains(t, fp.Hash, "R1:2:0|R2:1:1::")

	var p domain.Product
	resp := call(t, srv, "POST", "/api/v1/products", map[string]any{"product_name": "Tour", "lines": lines}, &p)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.Equal(t, fp.Hash, p.StructureHash)

	var errResp models.ErrorResponse
	resp = call(t, srv, "POST", "/api/v1/products", map[string]any{"product_name": "Tour 2", "lines": lines}, &errResp)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Equal(t, p.ID, errResp.ExistingProductID)

	var cp domain.Product
	resp = call(t, srv, "POST", "/api/v1/products/"+p.ID+"/copy", nil, &cp)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.Equal(t, p.StructureHash, cp.StructureHash)

	resp = call(t, srv, "PUT", "/api/v1/skus", map[string]any{"id": "S1", "product_id": p.ID, "sku_name": "Adult"}, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var gates models.ShelfGatesResponse
	call(t, srv, "GET", "/api/v1/skus/S1/shelf-gates", nil, &gates)
	assert.False(t, gates.Listable)
	assert.Contains(t, gates.Gates, "no_active_price")

	resp = call(t, srv, "POST", "/api/v1/products", map[string]any{"product_name": "", "lines": lines}, &errResp)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "product_name", errResp.Field)
}

func TestAuditAndSnapshot(t *testing.T) {
	srv, l, p := newServer(t)
	require.NoError(t, l.Inventory.InitInventory(context.Background(), "S1", []string{"2024-06-03"}, 3, "ops", ""))

	var entries []domain.AuditEntry
	call(t, srv, "GET", "/api/v1/audit?table=inventory", nil, &entries)
	require.Len(t, entries, 1)
	assert.Equal(t, domain.OpInsert, entries[0].Operation)

	resp := call(t, srv, "POST", "/api/v1/admin/snapshot", nil, nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	require.NotNil(t, p.saved)
	assert.Len(t, p.saved.Inventory, 1)

	p.err = errors.New("disk full")
	resp = call(t, srv, "POST", "/api/v1/admin/snapshot", nil, nil)
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		code int
	}{
		{domain.Invalid("x", "bad"), http.StatusBadRequest},
		{domain.ErrUnknownObjectType, http.StatusBadRequest},
		{domain.ErrNotInitialized, http.StatusNotFound},
		{&domain.ConflictError{}, http.StatusConflict},
		{&domain.StructureDuplicateError{}, http.StatusConflict},
		{domain.ErrStructureLocked, http.StatusConflict},
		{domain.ErrInsufficientFrozen, http.StatusUnprocessableEntity},
		{domain.ErrTotalBelowCommitted, http.StatusUnprocessableEntity},
		{context.DeadlineExceeded, http.StatusServiceUnavailable},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tc := range tests {
		assert.Equal(t, tc.code, statusFor(tc.err), "%v", tc.err)
	}
}
