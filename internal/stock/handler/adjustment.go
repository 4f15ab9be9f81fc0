package handler

import (
	"net/http"

	"github.com/medflow/medflow-stock/internal/stock/service"
	"github.com/medflow/medflow-stock/pkg/actor"
	"github.com/medflow/medflow-stock/pkg/httputil"
)

type adjustRequest struct {
	MedicineID     int64  `json:"medicine_id" validate:"required,gt=0"`
	BatchID        *int64 `json:"batch_id" validate:"omitempty,gt=0"`
	AdjustmentType string `json:"adjustment_type" validate:"required,max=50"`
	OldQuantity    *int   `json:"old_quantity" validate:"omitempty,gte=0"`
	NewQuantity    *int   `json:"new_quantity" validate:"required,gte=0"`
	Reason         string `json:"reason" validate:"omitempty,max=500"`
}

// Adjust corrects the stock of a batch or reconciles a medicine
func (h *StockHandler) Adjust(w http.ResponseWriter, r *http.Request) {
	var req adjustRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.Error(w, err)
		return
	}
	if err := httputil.Validate(&req); err != nil {
		httputil.Error(w, err)
		return
	}

	record, err := h.adjustments.Adjust(r.Context(), service.AdjustInput{
		MedicineID:     req.MedicineID,
		BatchID:        req.BatchID,
		AdjustmentType: req.AdjustmentType,
		OldQuantity:    req.OldQuantity,
		NewQuantity:    *req.NewQuantity,
		Reason:         req.Reason,
		ActorID:        actor.IDFromContext(r.Context()),
	})
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.Created(w, record)
}

// ListAdjustments lists a medicine's adjustments
func (h *StockHandler) ListAdjustments(w http.ResponseWriter, r *http.Request) {
	medicineID, err := httputil.IDParam(r, "id")
	if err != nil {
		httputil.Error(w, err)
		return
	}

	records, err := h.adjustments.ListAdjustments(r.Context(), medicineID)
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.JSON(w, http.StatusOK, records)
}
