// Package handlers provides HTTP handlers for the pharmacy API.
package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/medassure/go-dispense/internal/core/fulfillment"
	"github.com/medassure/go-dispense/internal/core/reconcile"
	"github.com/medassure/go-dispense/internal/core/stock"
	"github.com/medassure/go-dispense/internal/port"
)

func respondJSON(w http.ResponseWriter, code int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(body)
}

func respondError(w http.ResponseWriter, code int, message string) {
	respondJSON(w, code, map[string]string{"error": message})
}

// rejectReason buckets a fulfillment error for the rejection counter
func rejectReason(err error) string {
	switch {
	case errors.Is(err, port.ErrNotFound):
		return "not_found"
	case errors.Is(err, fulfillment.ErrInvalidArgument):
		return "invalid_argument"
	case errors.Is(err, fulfillment.ErrInactivePerson):
		return "inactive_person"
	case errors.Is(err, fulfillment.ErrAlreadyFulfilled):
		return "already_fulfilled"
	case errors.Is(err, stock.ErrInsufficientStock):
		return "insufficient_stock"
	case errors.Is(err, port.ErrConcurrencyConflict):
		return "concurrency_conflict"
	default:
		return "internal"
	}
}

// respondDomainError maps the shared error kinds onto HTTP statuses. Unknown
// errors are reported as 500 without leaking internals.
func respondDomainError(w http.ResponseWriter, err error) {
	var short *stock.InsufficientStockError
	if errors.As(err, &short) {
		respondJSON(w, http.StatusConflict, map[string]interface{}{
			"error":         "insufficient stock",
			"medication_id": short.MedicationID,
			"requested":     short.Requested,
			"available":     short.Available,
		})
		return
	}

	switch {
	case errors.Is(err, port.ErrNotFound):
		respondError(w, http.StatusNotFound, "not found")
	case errors.Is(err, fulfillment.ErrInvalidArgument), errors.Is(err, stock.ErrInvalidQuantity):
		respondError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, fulfillment.ErrInactivePerson):
		respondError(w, http.StatusUnprocessableEntity, "insured person is inactive")
	case errors.Is(err, fulfillment.ErrAlreadyFulfilled):
		respondError(w, http.StatusConflict, "prescription already fulfilled")
	case errors.Is(err, reconcile.ErrAlreadyReconciled):
		respondError(w, http.StatusConflict, "inventory check already reconciled")
	case errors.Is(err, stock.ErrInsufficientStock):
		respondError(w, http.StatusConflict, "insufficient stock")
	case errors.Is(err, port.ErrConcurrencyConflict):
		respondError(w, http.StatusConflict, "please retry")
	default:
		respondError(w, http.StatusInternalServerError, "internal error")
	}
}
