package handler

import (
	"net/http"

	"github.com/medflow/medflow-stock/internal/stock/service"
	"github.com/medflow/medflow-stock/pkg/actor"
	"github.com/medflow/medflow-stock/pkg/httputil"
)

// allocateRequest is the body of POST /medicines/{id}/allocate. A
// non-positive quantity is accepted and dispenses nothing.
type allocateRequest struct {
	Quantity      int    `json:"quantity"`
	RequestID     *int64 `json:"request_id" validate:"omitempty,gt=0"`
	ReferenceType string `json:"reference_type" validate:"omitempty,max=50"`
	Notes         string `json:"notes" validate:"omitempty,max=500"`
}

type allocateResponse struct {
	*service.AllocationResult
	Shortfall int `json:"shortfall"`
}

// Allocate dispenses stock of a medicine, nearest expiry first
func (h *StockHandler) Allocate(w http.ResponseWriter, r *http.Request) {
	medicineID, err := httputil.IDParam(r, "id")
	if err != nil {
		httputil.Error(w, err)
		return
	}

	var req allocateRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.Error(w, err)
		return
	}
	if err := httputil.Validate(&req); err != nil {
		httputil.Error(w, err)
		return
	}

	result, err := h.allocation.Allocate(r.Context(), service.AllocateInput{
		MedicineID:    medicineID,
		Quantity:      req.Quantity,
		RequestID:     req.RequestID,
		ReferenceType: req.ReferenceType,
		ActorID:       actor.IDFromContext(r.Context()),
		Notes:         req.Notes,
	})
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.JSON(w, http.StatusOK, allocateResponse{AllocationResult: result, Shortfall: result.Shortfall()})
}

// Fulfillment lists the batch lines drawn for a request
func (h *StockHandler) Fulfillment(w http.ResponseWriter, r *http.Request) {
	requestID, err := httputil.IDParam(r, "id")
	if err != nil {
		httputil.Error(w, err)
		return
	}

	lines, err := h.allocation.Fulfillment(r.Context(), requestID)
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.JSON(w, http.StatusOK, lines)
}
