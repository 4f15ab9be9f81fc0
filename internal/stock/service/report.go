package service

import (
	"context"

	"github.com/medflow/medflow-stock/internal/stock/repository"
	"github.com/medflow/medflow-stock/pkg/database"
	"github.com/medflow/medflow-stock/pkg/errors"
	"github.com/medflow/medflow-stock/pkg/logger"
	"golang.org/x/sync/errgroup"
)

// Stock statuses
const (
	StatusOutOfStock = "out_of_stock"
	StatusLowStock   = "low_stock"
	StatusInStock    = "in_stock"
)

// StockStatus is a medicine's stock position with its status label
type StockStatus struct {
	repository.StockLevel
	Status string `json:"status"`
}

// DashboardStats are today's ledger counters
type DashboardStats struct {
	Date              string `json:"date"`
	TransactionsToday int64  `json:"transactions_today"`
	DispensedToday    int    `json:"dispensed_today"`
	ReceivedToday     int    `json:"received_today"`
}

// ReportService computes the read-side views. Every call reads committed
// rows; nothing is cached between calls.
type ReportService struct {
	repo     repository.Repository
	settings Settings
	logger   *logger.Logger
}

// NewReportService creates a new report service
func NewReportService(repo repository.Repository, settings Settings, log *logger.Logger) *ReportService {
	return &ReportService{
		repo:     repo,
		settings: settings.withDefaults(),
		logger:   log.WithComponent("reports"),
	}
}

func (s *ReportService) status(level repository.StockLevel) StockStatus {
	status := StatusInStock
	switch {
	case level.CurrentStock == 0:
		status = StatusOutOfStock
	case level.CurrentStock < s.settings.LowStockThreshold:
		status = StatusLowStock
	}
	return StockStatus{StockLevel: level, Status: status}
}

// StockSummary returns the stock position of every active medicine
func (s *ReportService) StockSummary(ctx context.Context) ([]StockStatus, error) {
	levels, err := s.repo.StockLevels(ctx, s.settings.Today())
	if err != nil {
		return nil, database.Classify(err, "failed to compute stock summary")
	}

	summary := make([]StockStatus, len(levels))
	for i, level := range levels {
		summary[i] = s.status(level)
	}
	return summary, nil
}

// StockFor returns the stock position of one medicine
func (s *ReportService) StockFor(ctx context.Context, medicineID int64) (*StockStatus, error) {
	level, err := s.repo.StockLevelFor(ctx, medicineID, s.settings.Today())
	if err != nil {
		return nil, database.Classify(err, "failed to compute stock")
	}

	status := s.status(*level)
	return &status, nil
}

// LowStock lists medicines with some stock left but less than threshold.
// A zero threshold uses the configured one.
func (s *ReportService) LowStock(ctx context.Context, threshold int) ([]StockStatus, error) {
	if threshold < 0 {
		return nil, errors.Validation(map[string]string{"threshold": "must not be negative"})
	}
	if threshold == 0 {
		threshold = s.settings.LowStockThreshold
	}

	levels, err := s.repo.StockLevels(ctx, s.settings.Today())
	if err != nil {
		return nil, database.Classify(err, "failed to compute low stock")
	}

	low := []StockStatus{}
	for _, level := range levels {
		if level.CurrentStock > 0 && level.CurrentStock < threshold {
			low = append(low, StockStatus{StockLevel: level, Status: StatusLowStock})
		}
	}
	return low, nil
}

// ExpiringSoon lists stocked batches expiring within daysAhead days.
// A zero window uses the configured one.
func (s *ReportService) ExpiringSoon(ctx context.Context, daysAhead int) ([]repository.ExpiryRow, error) {
	if daysAhead < 0 {
		return nil, errors.Validation(map[string]string{"days": "must not be negative"})
	}
	if daysAhead == 0 {
		daysAhead = s.settings.ExpiringWindowDays
	}

	today := s.settings.Today()
	rows, err := s.repo.ExpiringBatches(ctx, today, today.AddDate(0, 0, daysAhead))
	if err != nil {
		return nil, database.Classify(err, "failed to list expiring batches")
	}
	return rows, nil
}

// Expired lists batches that expired with stock still on them
func (s *ReportService) Expired(ctx context.Context) ([]repository.ExpiryRow, error) {
	rows, err := s.repo.ExpiredBatches(ctx, s.settings.Today())
	if err != nil {
		return nil, database.Classify(err, "failed to list expired batches")
	}
	return rows, nil
}

// DashboardStats counts today's ledger activity
func (s *ReportService) DashboardStats(ctx context.Context) (*DashboardStats, error) {
	start := s.settings.StartOfDay()
	end := start.AddDate(0, 0, 1)
	stats := &DashboardStats{Date: start.Format("2006-01-02")}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		count, err := s.repo.CountLedger(gctx, repository.LedgerFilter{From: &start, To: &end})
		stats.TransactionsToday = count
		return err
	})
	g.Go(func() error {
		dispensed, err := s.repo.SumLedgerQuantity(gctx, repository.LedgerFilter{
			Type: repository.TransactionOut, From: &start, To: &end,
		})
		stats.DispensedToday = -dispensed
		return err
	})
	g.Go(func() error {
		received, err := s.repo.SumLedgerQuantity(gctx, repository.LedgerFilter{
			Type: repository.TransactionIn, From: &start, To: &end,
		})
		stats.ReceivedToday = received
		return err
	})

	if err := g.Wait(); err != nil {
		return nil, database.Classify(err, "failed to compute dashboard stats")
	}
	return stats, nil
}
