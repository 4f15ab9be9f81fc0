package handler

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/medflow/medflow-stock/internal/stock/service"
	"github.com/medflow/medflow-stock/pkg/logger"
)

// StockHandler serves the stock API under /api/v1/stock
type StockHandler struct {
	allocation  *service.AllocationService
	ledger      *service.LedgerService
	adjustments *service.AdjustmentService
	batches     *service.BatchService
	reports     *service.ReportService
	location    *time.Location
	logger      *logger.Logger
}

// NewStockHandler creates a new stock handler. Date filters are read in loc.
func NewStockHandler(
	allocation *service.AllocationService,
	ledger *service.LedgerService,
	adjustments *service.AdjustmentService,
	batches *service.BatchService,
	reports *service.ReportService,
	loc *time.Location,
	log *logger.Logger,
) *StockHandler {
	if loc == nil {
		loc = time.UTC
	}
	return &StockHandler{
		allocation:  allocation,
		ledger:      ledger,
		adjustments: adjustments,
		batches:     batches,
		reports:     reports,
		location:    loc,
		logger:      log,
	}
}

// Routes mounts the stock endpoints. writeLimit, when set, wraps every
// mutating route.
func (h *StockHandler) Routes(writeLimit func(http.Handler) http.Handler) chi.Router {
	r := chi.NewRouter()

	// Reads
	r.Get("/medicines/{id}", h.GetMedicine)
	r.Get("/medicines/{id}/stock", h.StockFor)
	r.Get("/medicines/{id}/batches", h.ListBatches)
	r.Get("/medicines/{id}/transactions", h.TransactionsFor)
	r.Get("/medicines/{id}/adjustments", h.ListAdjustments)
	r.Get("/ledger", h.ListLedger)
	r.Get("/requests/{id}/fulfillment", h.Fulfillment)

	r.Route("/reports", func(r chi.Router) {
		r.Get("/stock", h.StockSummary)
		r.Get("/low-stock", h.LowStock)
		r.Get("/expiring", h.ExpiringSoon)
		r.Get("/expired", h.Expired)
		r.Get("/dashboard", h.Dashboard)
	})

	// Writes
	r.Group(func(r chi.Router) {
		if writeLimit != nil {
			r.Use(writeLimit)
		}
		r.Post("/medicines", h.RegisterMedicine)
		r.Post("/medicines/{id}/allocate", h.Allocate)
		r.Post("/medicines/{id}/batches", h.ReceiveBatch)
		r.Post("/batches/{id}/write-off", h.WriteOff)
		r.Post("/ledger", h.Record)
		r.Post("/adjustments", h.Adjust)
	})

	return r
}
