package handlers

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/medassure/go-dispense/internal/api/middleware"
	"github.com/medassure/go-dispense/internal/core/reconcile"
	"github.com/medassure/go-dispense/internal/core/stock"
	"github.com/medassure/go-dispense/internal/observability/metrics"
)

// InventoryHandler exposes stock and reconciliation endpoints
type InventoryHandler struct {
	stock     *stock.Service
	reconcile *reconcile.Service
	metrics   *metrics.Metrics
	logger    *zap.Logger
	tracer    trace.Tracer
}

// NewInventoryHandler creates the handler
func NewInventoryHandler(stockSvc *stock.Service, reconcileSvc *reconcile.Service, m *metrics.Metrics, logger *zap.Logger) *InventoryHandler {
	return &InventoryHandler{
		stock:     stockSvc,
		reconcile: reconcileSvc,
		metrics:   m,
		logger:    logger,
		tracer:    otel.Tracer("inventory-handler"),
	}
}

// Routes returns the handler routes
func (h *InventoryHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/stock/{medicationID}", h.GetStock)
	r.Post("/stock/{medicationID}/receipts", h.AddStock)
	r.Post("/checks/{id}/reconcile", h.Reconcile)
	r.Get("/medications/{id}", h.GetMedication)
	return r
}

// GetMedication handles GET /inventory/medications/{id}
func (h *InventoryHandler) GetMedication(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := chi.URLParam(r, "id")

	med, err := h.stock.GetMedication(ctx, id)
	if err != nil {
		respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, med)
}

// GetStock handles GET /inventory/stock/{medicationID}
func (h *InventoryHandler) GetStock(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	medicationID := chi.URLParam(r, "medicationID")

	view, err := h.stock.GetStock(ctx, medicationID)
	if err != nil {
		respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, view)
}

// addStockRequest is the body for receiving a delivery
type addStockRequest struct {
	Quantity    int64      `json:"quantity"`
	BatchNumber string     `json:"batch_number"`
	ExpiryDate  *time.Time `json:"expiry_date,omitempty"`
}

// AddStock handles POST /inventory/stock/{medicationID}/receipts
func (h *InventoryHandler) AddStock(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	medicationID := chi.URLParam(r, "medicationID")

	ctx, span := h.tracer.Start(ctx, "add_stock",
		trace.WithAttributes(attribute.String("medication_id", medicationID)))
	defer span.End()

	var req addStockRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	view, err := h.stock.AddStock(ctx, medicationID, req.Quantity, stock.LotInfo{
		BatchNumber: req.BatchNumber,
		ExpiryDate:  req.ExpiryDate,
	})
	if err != nil {
		span.RecordError(err)
		respondDomainError(w, err)
		return
	}

	h.metrics.StockReceived.Add(float64(req.Quantity))
	h.logger.Info("stock received",
		zap.String("medication_id", medicationID),
		zap.Int64("quantity", req.Quantity),
		zap.String("request_id", middleware.GetRequestID(ctx)))

	respondJSON(w, http.StatusCreated, view)
}

// Reconcile handles POST /inventory/checks/{id}/reconcile
func (h *InventoryHandler) Reconcile(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	checkID := chi.URLParam(r, "id")
	userID := middleware.GetUserID(ctx)

	ctx, span := h.tracer.Start(ctx, "reconcile_check",
		trace.WithAttributes(attribute.String("check_id", checkID)))
	defer span.End()

	result, err := h.reconcile.Reconcile(ctx, checkID, userID)
	if err != nil {
		span.RecordError(err)
		respondDomainError(w, err)
		return
	}

	h.metrics.ReconcileRuns.Inc()
	h.metrics.ReconcileAdjusted.Add(float64(len(result.Adjustments)))
	h.logger.Info("inventory check reconciled",
		zap.String("check_id", checkID),
		zap.Int("adjustments", len(result.Adjustments)),
		zap.String("user_id", userID),
		zap.String("request_id", middleware.GetRequestID(ctx)))

	respondJSON(w, http.StatusOK, result)
}
