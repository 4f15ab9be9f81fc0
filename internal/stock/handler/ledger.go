package handler

import (
	"net/http"

	"github.com/medflow/medflow-stock/internal/stock/repository"
	"github.com/medflow/medflow-stock/internal/stock/service"
	"github.com/medflow/medflow-stock/pkg/actor"
	"github.com/medflow/medflow-stock/pkg/httputil"
)

type recordRequest struct {
	MedicineID      int64  `json:"medicine_id" validate:"required,gt=0"`
	BatchID         *int64 `json:"batch_id" validate:"omitempty,gt=0"`
	TransactionType string `json:"transaction_type" validate:"required,oneof=IN OUT ADJUSTMENT TRANSFER EXPIRED DAMAGED"`
	Quantity        int    `json:"quantity" validate:"ne=0"`
	ReferenceType   string `json:"reference_type" validate:"omitempty,max=50"`
	ReferenceID     *int64 `json:"reference_id" validate:"omitempty,gt=0"`
	Notes           string `json:"notes" validate:"omitempty,max=500"`
}

// Record appends a ledger entry
func (h *StockHandler) Record(w http.ResponseWriter, r *http.Request) {
	var req recordRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.Error(w, err)
		return
	}
	if err := httputil.Validate(&req); err != nil {
		httputil.Error(w, err)
		return
	}

	id, err := h.ledger.Record(r.Context(), service.RecordInput{
		MedicineID:    req.MedicineID,
		BatchID:       req.BatchID,
		Type:          repository.TransactionType(req.TransactionType),
		Quantity:      req.Quantity,
		ReferenceType: req.ReferenceType,
		ReferenceID:   req.ReferenceID,
		Notes:         req.Notes,
		ActorID:       actor.IDFromContext(r.Context()),
	})
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.Created(w, map[string]int64{"id": id})
}

// TransactionsFor lists a medicine's ledger, most recent first.
// from and to are calendar dates; to is inclusive.
func (h *StockHandler) TransactionsFor(w http.ResponseWriter, r *http.Request) {
	medicineID, err := httputil.IDParam(r, "id")
	if err != nil {
		httputil.Error(w, err)
		return
	}

	rng, err := h.dateRange(r)
	if err != nil {
		httputil.Error(w, err)
		return
	}

	entries, err := h.ledger.TransactionsFor(r.Context(), medicineID, rng)
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.JSON(w, http.StatusOK, entries)
}

// ListLedger lists the ledger across medicines with pagination
func (h *StockHandler) ListLedger(w http.ResponseWriter, r *http.Request) {
	page, err := httputil.IntQuery(r, "page", 1)
	if err != nil {
		httputil.Error(w, err)
		return
	}
	perPage, err := httputil.IntQuery(r, "per_page", 50)
	if err != nil {
		httputil.Error(w, err)
		return
	}
	if page < 1 {
		page = 1
	}
	if perPage < 1 || perPage > 200 {
		perPage = 50
	}

	rng, err := h.dateRange(r)
	if err != nil {
		httputil.Error(w, err)
		return
	}

	filter := repository.LedgerFilter{
		Type:   repository.TransactionType(r.URL.Query().Get("type")),
		From:   rng.From,
		To:     rng.To,
		Limit:  perPage,
		Offset: (page - 1) * perPage,
	}

	entries, total, err := h.ledger.ListRecent(r.Context(), filter)
	if err != nil {
		httputil.Error(w, err)
		return
	}

	httputil.JSONWithMeta(w, http.StatusOK, entries, httputil.NewMeta(page, perPage, total))
}

func (h *StockHandler) dateRange(r *http.Request) (*service.DateRange, error) {
	from, err := httputil.DateQuery(r, "from", h.location)
	if err != nil {
		return nil, err
	}
	to, err := httputil.DateQuery(r, "to", h.location)
	if err != nil {
		return nil, err
	}
	if to != nil {
		end := to.AddDate(0, 0, 1)
		to = &end
	}
	return &service.DateRange{From: from, To: to}, nil
}
