package handler

import (
	"net/http"

	"github.com/medflow/medflow-stock/pkg/httputil"
)

// StockSummary returns the stock position of every active medicine
func (h *StockHandler) StockSummary(w http.ResponseWriter, r *http.Request) {
	summary, err := h.reports.StockSummary(r.Context())
	if err != nil {
		httputil.Error(w, err)
		return
	}
	httputil.JSON(w, http.StatusOK, summary)
}

// StockFor returns the stock position of one medicine
func (h *StockHandler) StockFor(w http.ResponseWriter, r *http.Request) {
	medicineID, err := httputil.IDParam(r, "id")
	if err != nil {
		httputil.Error(w, err)
		return
	}

	status, err := h.reports.StockFor(r.Context(), medicineID)
	if err != nil {
		httputil.Error(w, err)
		return
	}
	httputil.JSON(w, http.StatusOK, status)
}

// LowStock lists medicines below the threshold
func (h *StockHandler) LowStock(w http.ResponseWriter, r *http.Request) {
	threshold, err := httputil.IntQuery(r, "threshold", 0)
	if err != nil {
		httputil.Error(w, err)
		return
	}

	low, err := h.reports.LowStock(r.Context(), threshold)
	if err != nil {
		httputil.Error(w, err)
		return
	}
	httputil.JSON(w, http.StatusOK, low)
}

// ExpiringSoon lists batches expiring within ?days=
func (h *StockHandler) ExpiringSoon(w http.ResponseWriter, r *http.Request) {
	days, err := httputil.IntQuery(r, "days", 0)
	if err != nil {
		httputil.Error(w, err)
		return
	}

	rows, err := h.reports.ExpiringSoon(r.Context(), days)
	if err != nil {
		httputil.Error(w, err)
		return
	}
	httputil.JSON(w, http.StatusOK, rows)
}

// Expired lists expired batches that still hold stock
func (h *StockHandler) Expired(w http.ResponseWriter, r *http.Request) {
	rows, err := h.reports.Expired(r.Context())
	if err != nil {
		httputil.Error(w, err)
		return
	}
	httputil.JSON(w, http.StatusOK, rows)
}

// Dashboard returns today's counters
func (h *StockHandler) Dashboard(w http.ResponseWriter, r *http.Request) {
	stats, err := h.reports.DashboardStats(r.Context())
	if err != nil {
		httputil.Error(w, err)
		return
	}
	httputil.JSON(w, http.StatusOK, stats)
}
