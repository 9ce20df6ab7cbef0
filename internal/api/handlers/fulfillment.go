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
	"github.com/medassure/go-dispense/internal/core/fulfillment"
	"github.com/medassure/go-dispense/internal/observability/metrics"
)

// FulfillmentHandler exposes prescription fulfillment endpoints
type FulfillmentHandler struct {
	svc     *fulfillment.Service
	metrics *metrics.Metrics
	logger  *zap.Logger
	tracer  trace.Tracer
}

// NewFulfillmentHandler creates the handler
func NewFulfillmentHandler(svc *fulfillment.Service, m *metrics.Metrics, logger *zap.Logger) *FulfillmentHandler {
	return &FulfillmentHandler{
		svc:     svc,
		metrics: m,
		logger:  logger,
		tracer:  otel.Tracer("fulfillment-handler"),
	}
}

// Routes returns the handler routes
func (h *FulfillmentHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Post("/prescriptions/{id}/fulfill", h.Fulfill)
	r.Get("/sales/{id}", h.GetSale)
	return r
}

// Fulfill handles POST /prescriptions/{id}/fulfill
func (h *FulfillmentHandler) Fulfill(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	prescriptionID := chi.URLParam(r, "id")
	userID := middleware.GetUserID(ctx)

	ctx, span := h.tracer.Start(ctx, "fulfill_prescription",
		trace.WithAttributes(attribute.String("prescription_id", prescriptionID)))
	defer span.End()

	start := time.Now()
	result, err := h.svc.Fulfill(ctx, prescriptionID, userID)
	h.metrics.FulfillmentDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		h.metrics.FulfillmentRejected.WithLabelValues(rejectReason(err)).Inc()
		h.logger.Warn("fulfillment rejected",
			zap.String("prescription_id", prescriptionID),
			zap.String("request_id", middleware.GetRequestID(ctx)),
			zap.Error(err))
		span.RecordError(err)
		respondDomainError(w, err)
		return
	}

	h.metrics.SalesCompleted.Inc()
	for _, d := range result.Details {
		h.metrics.StockDeducted.Add(float64(d.Quantity))
	}

	h.logger.Info("prescription fulfilled",
		zap.String("prescription_id", prescriptionID),
		zap.String("sale_id", result.SaleID),
		zap.String("user_id", userID),
		zap.String("request_id", middleware.GetRequestID(ctx)))

	respondJSON(w, http.StatusCreated, result)
}

// saleResponse is the read projection for one sale
type saleResponse struct {
	ID             string          `json:"id"`
	PrescriptionID *string         `json:"prescription_id,omitempty"`
	Total          string          `json:"total"`
	PatientShare   string          `json:"patient_share"`
	InsurerShare   string          `json:"insurer_share"`
	UserID         string          `json:"user_id"`
	Details        json.RawMessage `json:"details"`
}

// GetSale handles GET /sales/{id}
func (h *FulfillmentHandler) GetSale(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := chi.URLParam(r, "id")

	s, err := h.svc.GetSale(ctx, id)
	if err != nil {
		respondDomainError(w, err)
		return
	}

	details, err := json.Marshal(s.Details)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "internal error")
		return
	}

	respondJSON(w, http.StatusOK, saleResponse{
		ID:             s.ID,
		PrescriptionID: s.PrescriptionID,
		Total:          s.Total.StringFixed(2),
		PatientShare:   s.PatientShare.StringFixed(2),
		InsurerShare:   s.InsurerShare.StringFixed(2),
		UserID:         s.UserID,
		Details:        details,
	})
}
