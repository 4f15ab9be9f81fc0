package handler

import (
	"net/http"
	"time"

	"github.com/medflow/medflow-stock/internal/stock/repository"
	"github.com/medflow/medflow-stock/internal/stock/service"
	"github.com/medflow/medflow-stock/pkg/actor"
	"github.com/medflow/medflow-stock/pkg/errors"
	"github.com/medflow/medflow-stock/pkg/httputil"
)

type registerMedicineRequest struct {
	Name string `json:"name" validate:"required,max=200"`
	Unit string `json:"unit" validate:"omitempty,max=30"`
}

type receiveBatchRequest struct {
	BatchCode  string     `json:"batch_code" validate:"required,max=100"`
	ExpiryDate string     `json:"expiry_date" validate:"required"`
	Quantity   int        `json:"quantity" validate:"required,gt=0"`
	ReceivedAt *time.Time `json:"received_at"`
	Notes      string     `json:"notes" validate:"omitempty,max=500"`
}

type writeOffRequest struct {
	Type     string `json:"type" validate:"required,oneof=EXPIRED DAMAGED"`
	Quantity *int   `json:"quantity" validate:"omitempty,gt=0"`
	Reason   string `json:"reason" validate:"omitempty,max=500"`
}

// RegisterMedicine adds a medicine to the catalog
func (h *StockHandler) RegisterMedicine(w http.ResponseWriter, r *http.Request) {
	var req registerMedicineRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.Error(w, err)
		return
	}
	if err := httputil.Validate(&req); err != nil {
		httputil.Error(w, err)
		return
	}

	medicine, err := h.batches.RegisterMedicine(r.Context(), req.Name, req.Unit)
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.Created(w, medicine)
}

// GetMedicine gets a medicine by ID
func (h *StockHandler) GetMedicine(w http.ResponseWriter, r *http.Request) {
	id, err := httputil.IDParam(r, "id")
	if err != nil {
		httputil.Error(w, err)
		return
	}

	medicine, err := h.batches.GetMedicine(r.Context(), id)
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.JSON(w, http.StatusOK, medicine)
}

// ListBatches lists every batch of a medicine
func (h *StockHandler) ListBatches(w http.ResponseWriter, r *http.Request) {
	medicineID, err := httputil.IDParam(r, "id")
	if err != nil {
		httputil.Error(w, err)
		return
	}

	batches, err := h.batches.ListBatches(r.Context(), medicineID)
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.JSON(w, http.StatusOK, batches)
}

// ReceiveBatch records an inbound delivery
func (h *StockHandler) ReceiveBatch(w http.ResponseWriter, r *http.Request) {
	medicineID, err := httputil.IDParam(r, "id")
	if err != nil {
		httputil.Error(w, err)
		return
	}

	var req receiveBatchRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.Error(w, err)
		return
	}
	if err := httputil.Validate(&req); err != nil {
		httputil.Error(w, err)
		return
	}

	// Expiry is a calendar date and carries no zone.
	expiry, err := time.Parse(httputil.DateLayout, req.ExpiryDate)
	if err != nil {
		httputil.Error(w, errors.Validation(map[string]string{"expiry_date": "must be a date (YYYY-MM-DD)"}))
		return
	}

	batch, err := h.batches.Receive(r.Context(), service.ReceiveInput{
		MedicineID: medicineID,
		BatchCode:  req.BatchCode,
		ExpiryDate: expiry,
		Quantity:   req.Quantity,
		ReceivedAt: req.ReceivedAt,
		Notes:      req.Notes,
		ActorID:    actor.IDFromContext(r.Context()),
	})
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.Created(w, batch)
}

// WriteOff removes expired or damaged units from a batch
func (h *StockHandler) WriteOff(w http.ResponseWriter, r *http.Request) {
	batchID, err := httputil.IDParam(r, "id")
	if err != nil {
		httputil.Error(w, err)
		return
	}

	var req writeOffRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.Error(w, err)
		return
	}
	if err := httputil.Validate(&req); err != nil {
		httputil.Error(w, err)
		return
	}

	entry, err := h.batches.WriteOff(r.Context(), service.WriteOffInput{
		BatchID:  batchID,
		Type:     repository.TransactionType(req.Type),
		Quantity: req.Quantity,
		Reason:   req.Reason,
		ActorID:  actor.IDFromContext(r.Context()),
	})
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.Created(w, entry)
}
