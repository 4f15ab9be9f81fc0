package service

import (
	"context"
	"strings"
	"time"

	"github.com/medflow/medflow-stock/internal/stock/repository"
	"github.com/medflow/medflow-stock/pkg/database"
	"github.com/medflow/medflow-stock/pkg/errors"
	"github.com/medflow/medflow-stock/pkg/logger"
)

// RecordInput is a stock movement to append to the ledger
type RecordInput struct {
	MedicineID    int64
	BatchID       *int64
	Type          repository.TransactionType
	Quantity      int // signed; OUT is negative and IN positive
	ReferenceType string
	ReferenceID   *int64
	Notes         string
	ActorID       string
}

// DateRange bounds a ledger query. From is inclusive, To exclusive.
type DateRange struct {
	From *time.Time
	To   *time.Time
}

// LedgerService appends to and reads the stock ledger. Nothing here
// updates or deletes an entry; corrections are new entries.
type LedgerService struct {
	repo   repository.Repository
	logger *logger.Logger
}

// NewLedgerService creates a new ledger service
func NewLedgerService(repo repository.Repository, log *logger.Logger) *LedgerService {
	return &LedgerService{
		repo:   repo,
		logger: log.WithComponent("ledger"),
	}
}

func (in RecordInput) validate() error {
	details := map[string]string{}

	if in.MedicineID <= 0 {
		details["medicine_id"] = "must be positive"
	}
	if in.BatchID != nil && *in.BatchID <= 0 {
		details["batch_id"] = "must be positive"
	}
	if !in.Type.Valid() {
		details["transaction_type"] = "must be one of: IN, OUT, ADJUSTMENT, TRANSFER, EXPIRED, DAMAGED"
	}
	switch {
	case in.Quantity == 0:
		details["quantity"] = "must not be zero"
	case in.Type == repository.TransactionOut && in.Quantity > 0:
		details["quantity"] = "must be negative for OUT"
	case in.Type == repository.TransactionIn && in.Quantity < 0:
		details["quantity"] = "must be positive for IN"
	}
	if strings.TrimSpace(in.ActorID) == "" {
		details["actor_id"] = "is required"
	}

	if len(details) > 0 {
		return errors.Validation(details)
	}
	return nil
}

// Record appends one ledger entry and returns its id. A batch, when given,
// must belong to the medicine.
func (s *LedgerService) Record(ctx context.Context, in RecordInput) (int64, error) {
	if err := in.validate(); err != nil {
		return 0, err
	}

	entry := &repository.LedgerEntry{
		MedicineID:      in.MedicineID,
		BatchID:         in.BatchID,
		TransactionType: in.Type,
		Quantity:        in.Quantity,
		ReferenceType:   in.ReferenceType,
		ReferenceID:     in.ReferenceID,
		Notes:           in.Notes,
		CreatedBy:       in.ActorID,
	}

	err := s.repo.WithTx(ctx, func(ctx context.Context, repo repository.Repository) error {
		if _, err := repo.GetMedicine(ctx, in.MedicineID); err != nil {
			return err
		}
		if in.BatchID != nil {
			batch, err := repo.GetBatch(ctx, *in.BatchID)
			if err != nil {
				return err
			}
			if batch.MedicineID != in.MedicineID {
				return errors.Validation(map[string]string{"batch_id": "belongs to a different medicine"})
			}
		}
		return repo.InsertLedgerEntry(ctx, entry)
	})
	if err != nil {
		return 0, database.Classify(err, "failed to record ledger entry")
	}

	s.logger.Debug().
		Int64("entry_id", entry.ID).
		Int64("medicine_id", entry.MedicineID).
		Str("type", string(entry.TransactionType)).
		Int("quantity", entry.Quantity).
		Msg("ledger entry recorded")

	return entry.ID, nil
}

// TransactionsFor lists a medicine's ledger entries, most recent first
func (s *LedgerService) TransactionsFor(ctx context.Context, medicineID int64, rng *DateRange) ([]repository.LedgerEntry, error) {
	if _, err := s.repo.GetMedicine(ctx, medicineID); err != nil {
		return nil, database.Classify(err, "failed to load medicine")
	}

	filter := repository.LedgerFilter{MedicineID: &medicineID}
	if rng != nil {
		if rng.From != nil && rng.To != nil && !rng.From.Before(*rng.To) {
			return nil, errors.Validation(map[string]string{"to": "must be after from"})
		}
		filter.From = rng.From
		filter.To = rng.To
	}

	entries, err := s.repo.ListLedger(ctx, filter)
	if err != nil {
		return nil, database.Classify(err, "failed to list transactions")
	}
	return entries, nil
}

// ListRecent returns one page of the ledger across all medicines and the
// total number of matches
func (s *LedgerService) ListRecent(ctx context.Context, filter repository.LedgerFilter) ([]repository.LedgerEntry, int64, error) {
	if filter.Type != "" && !filter.Type.Valid() {
		return nil, 0, errors.Validation(map[string]string{
			"type": "must be one of: IN, OUT, ADJUSTMENT, TRANSFER, EXPIRED, DAMAGED",
		})
	}

	entries, err := s.repo.ListLedger(ctx, filter)
	if err != nil {
		return nil, 0, database.Classify(err, "failed to list transactions")
	}

	total, err := s.repo.CountLedger(ctx, filter)
	if err != nil {
		return nil, 0, database.Classify(err, "failed to count transactions")
	}
	return entries, total, nil
}
