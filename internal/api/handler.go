package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/punchamoorthee/otaledger/internal/domain"
	"github.com/punchamoorthee/otaledger/internal/models"
	"github.com/punchamoorthee/otaledger/internal/service"
	"github.com/punchamoorthee/otaledger/internal/snapshot"
)

var (
	httpRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ledger_http_requests_total",
		Help: "Total HTTP requests processed, labeled by status code",
	}, []string{"method", "endpoint", "status"})

	httpRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "ledger_http_request_duration_seconds",
		Help:    "Latency distribution of HTTP requests",
		Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
	}, []string{"method", "endpoint"})
)

const requestIDHeader = "X-Request-ID"

// Persister writes a snapshot of the whole ledger to durable storage.
type Persister interface {
	Save(ctx context.Context, state *snapshot.State) error
}

type Handler struct {
	ledger  *service.Ledger
	persist Persister
	logger  *zap.Logger
}

func NewHandler(l *service.Ledger, p Persister, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{ledger: l, persist: p, logger: logger}
}

// NewRouter mounts the API under /api/v1 next to /health and /metrics.
func NewRouter(h *Handler) *mux.Router {
	r := mux.NewRouter()
	r.Use(h.requestID, instrument)
	r.Handle("/metrics", promhttp.Handler())
	r.HandleFunc("/health", h.HealthCheckHandler).Methods("GET")

	v1 := r.PathPrefix("/api/v1").Subrouter()

	v1.HandleFunc("/inventory/init", h.InitInventoryHandler).Methods("POST")
	v1.HandleFunc("/inventory/freeze", h.stockMove(h.ledger.Inventory.Freeze)).Methods("POST")
	v1.HandleFunc("/inventory/consume", h.stockMove(h.ledger.Inventory.Consume)).Methods("POST")
	v1.HandleFunc("/inventory/release", h.stockMove(h.ledger.Inventory.Release)).Methods("POST")
	v1.HandleFunc("/inventory/adjust", h.AdjustInventoryHandler).Methods("POST")
	v1.HandleFunc("/inventory/{sku}", h.GetInventoryHandler).Methods("GET")
	v1.HandleFunc("/inventory/{sku}/future-stock", h.FutureStockHandler).Methods("GET")
	v1.HandleFunc("/inventory/{sku}/logs", h.InventoryLogsHandler).Methods("GET")

	v1.HandleFunc("/prices", h.ListPricesHandler).Methods("GET")
	v1.HandleFunc("/prices", h.UpsertPriceHandler).Methods("PUT")
	v1.HandleFunc("/prices/conflicts", h.CheckConflictHandler).Methods("POST")
	v1.HandleFunc("/prices/clone-active", h.CloneActiveHandler).Methods("POST")
	v1.HandleFunc("/prices/history", h.AddPriceHistoryHandler).Methods("POST")
	v1.HandleFunc("/prices/{id}/activate", h.ActivatePriceHandler).Methods("POST")
	v1.HandleFunc("/prices/{id}/history", h.PriceHistoryHandler).Methods("GET")

	v1.HandleFunc("/approvals", h.ListApprovalsHandler).Methods("GET")
	v1.HandleFunc("/approvals", h.SubmitApprovalHandler).Methods("POST")
	v1.HandleFunc("/approvals/price", h.SubmitPriceApprovalHandler).Methods("POST")
	v1.HandleFunc("/approvals/listing", h.SubmitListingApprovalHandler).Methods("POST")
	v1.HandleFunc("/approvals/settlement", h.SubmitSettlementApprovalHandler).Methods("POST")
	v1.HandleFunc("/approvals/inventory", h.SubmitInventoryApprovalHandler).Methods("POST")
	v1.HandleFunc("/approvals/{id}", h.GetApprovalHandler).Methods("GET")
	v1.HandleFunc("/approvals/{id}/decide", h.DecideApprovalHandler).Methods("POST")

	v1.HandleFunc("/orders", h.ListOrdersHandler).Methods("GET")
	v1.HandleFunc("/orders", h.CreateOrderHandler).Methods("POST")
	v1.HandleFunc("/orders/import", h.ImportOrdersHandler).Methods("POST")
	v1.HandleFunc("/orders/{id}", h.GetOrderHandler).Methods("GET")
	v1.HandleFunc("/orders/{id}/verify", h.VerifyOrderHandler).Methods("POST")
	v1.HandleFunc("/orders/{id}/refund", h.RefundOrderHandler).Methods("POST")

	v1.HandleFunc("/fingerprint", h.FingerprintHandler).Methods("POST")
	v1.HandleFunc("/products", h.CreateProductHandler).Methods("POST")
	v1.HandleFunc("/products/{id}", h.GetProductHandler).Methods("GET")
	v1.HandleFunc("/products/{id}/copy", h.CopyProductHandler).Methods("POST")
	v1.HandleFunc("/products/{id}/structure", h.ReplaceStructureHandler).Methods("PUT")
	v1.HandleFunc("/skus", h.UpsertSkuHandler).Methods("PUT")
	v1.HandleFunc("/skus/{id}/channels", h.BindChannelHandler).Methods("PUT")
	v1.HandleFunc("/skus/{id}/shelf-gates", h.ShelfGatesHandler).Methods("GET")
	v1.HandleFunc("/supplier-resources", h.UpsertSupplierResourceHandler).Methods("PUT")

	v1.HandleFunc("/audit", h.AuditHandler).Methods("GET")
	v1.HandleFunc("/admin/snapshot", h.SnapshotHandler).Methods("POST")
	return r
}

func (h *Handler) HealthCheckHandler(w http.ResponseWriter, r *http.Request) {
	respondWithJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) SnapshotHandler(w http.ResponseWriter, r *http.Request) {
	if h.persist == nil {
		respondWithError(w, http.StatusServiceUnavailable, "no snapshot store configured")
		return
	}
	state := h.ledger.Snapshot()
	if err := h.persist.Save(r.Context(), state); err != nil {
		h.logger.Error("snapshot persist failed", zap.String("request_id", requestIDFrom(r)), zap.Error(err))
		respondWithError(w, http.StatusInternalServerError, "snapshot persist failed")
		return
	}
	respondWithJSON(w, http.StatusOK, map[string]int{
		"inventory": len(state.Inventory),
		"prices":    len(state.Prices),
		"orders":    len(state.Orders),
		"approvals": len(state.Approvals),
		"audit_log": len(state.AuditLog),
	})
}

// Middleware

type ctxKey struct{}

func (h *Handler) requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(requestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set(requestIDHeader, id)
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), ctxKey{}, id)))
	})
}

func requestIDFrom(r *http.Request) string {
	id, _ := r.Context().Value(ctxKey{}).(string)
	return id
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}

// instrument labels metrics with the route template so ids do not explode
// cardinality.
func instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		endpoint := r.URL.Path
		if route := mux.CurrentRoute(r); route != nil {
			if tpl, err := route.GetPathTemplate(); err == nil {
				endpoint = tpl
			}
		}
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()
		next.ServeHTTP(rec, r)
		httpRequestDuration.WithLabelValues(r.Method, endpoint).Observe(time.Since(start).Seconds())
		httpRequestsTotal.WithLabelValues(r.Method, endpoint, strconv.Itoa(rec.status)).Inc()
	})
}

// Helpers

func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrValidation), errors.Is(err, domain.ErrUnknownObjectType):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrRecordNotFound), errors.Is(err, domain.ErrNotInitialized):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrTimeConflict), errors.Is(err, domain.ErrDuplicateKey),
		errors.Is(err, domain.ErrStructureDuplicate), errors.Is(err, domain.ErrStructureLocked),
		errors.Is(err, domain.ErrInvalidTransition), errors.Is(err, domain.ErrAlreadyDecided):
		return http.StatusConflict
	case errors.Is(err, domain.ErrInsufficientStock), errors.Is(err, domain.ErrInsufficientFrozen),
		errors.Is(err, domain.ErrTotalBelowCommitted):
		return http.StatusUnprocessableEntity
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

// fail writes err as an ErrorResponse. Internal errors are logged and their
// message hidden.
func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	code := statusFor(err)
	if code >= http.StatusInternalServerError {
		h.logger.Error("request failed", zap.String("request_id", requestIDFrom(r)),
			zap.String("method", r.Method), zap.String("path", r.URL.Path), zap.Error(err))
		respondWithJSON(w, code, models.ErrorResponse{Error: http.StatusText(code), Kind: domain.Kind(err)})
		return
	}
	resp := models.ErrorResponse{Error: err.Error(), Kind: domain.Kind(err)}
	var verr *domain.ValidationError
	if errors.As(err, &verr) {
		resp.Field = verr.Field
	}
	var conflict *domain.ConflictError
	if errors.As(err, &conflict) {
		resp.Conflicts = conflict.Conflicts
	}
	var dup *domain.StructureDuplicateError
	if errors.As(err, &dup) {
		resp.ExistingProductID = dup.ExistingProductID
	}
	respondWithJSON(w, code, resp)
}

// result writes the {ok, message} shape used by inventory mutations.
func (h *Handler) result(w http.ResponseWriter, r *http.Request, err error) {
	code := http.StatusOK
	if err != nil {
		code = statusFor(err)
		if code >= http.StatusInternalServerError {
			h.logger.Error("inventory mutation failed", zap.String("request_id", requestIDFrom(r)), zap.Error(err))
		}
	}
	respondWithJSON(w, code, domain.ResultOf(err))
}

func respondWithJSON(w http.ResponseWriter, code int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(payload)
}

func respondWithError(w http.ResponseWriter, code int, message string) {
	respondWithJSON(w, code, models.ErrorResponse{Error: message, Kind: "Internal"})
}
