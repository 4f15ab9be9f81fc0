package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/medflow/medflow-stock/internal/stock/events"
	"github.com/medflow/medflow-stock/internal/stock/repository"
	"github.com/medflow/medflow-stock/pkg/database"
	"github.com/medflow/medflow-stock/pkg/errors"
	"github.com/medflow/medflow-stock/pkg/logger"
)

// AdjustInput is a manual correction of stock
type AdjustInput struct {
	MedicineID int64
	// BatchID selects the batch to correct. Without it the adjustment is a
	// medicine-level reconciliation and no batch is touched.
	BatchID        *int64
	AdjustmentType string
	// OldQuantity is the quantity the caller saw. It is required without a
	// batch; with one, a mismatch against the locked row is a conflict.
	OldQuantity *int
	NewQuantity int
	Reason      string
	ActorID     string
}

// AdjustmentService applies manual corrections. The batch update, the
// ledger entry and the adjustment record commit together or not at all.
type AdjustmentService struct {
	repo      repository.Repository
	locker    Locker
	publisher *events.StockEventPublisher
	logger    *logger.Logger
}

// NewAdjustmentService creates a new adjustment service
func NewAdjustmentService(
	repo repository.Repository,
	locker Locker,
	publisher *events.StockEventPublisher,
	log *logger.Logger,
) *AdjustmentService {
	return &AdjustmentService{
		repo:      repo,
		locker:    locker,
		publisher: publisher,
		logger:    log.WithComponent("adjustment"),
	}
}

func (in AdjustInput) validate() error {
	details := map[string]string{}

	if in.MedicineID <= 0 {
		details["medicine_id"] = "must be positive"
	}
	if in.BatchID != nil && *in.BatchID <= 0 {
		details["batch_id"] = "must be positive"
	}
	if strings.TrimSpace(in.AdjustmentType) == "" {
		details["adjustment_type"] = "is required"
	}
	if in.NewQuantity < 0 {
		details["new_quantity"] = "must not be negative"
	}
	if in.BatchID == nil && in.OldQuantity == nil {
		details["old_quantity"] = "is required without a batch"
	}
	if in.OldQuantity != nil && *in.OldQuantity < 0 {
		details["old_quantity"] = "must not be negative"
	}
	if strings.TrimSpace(in.ActorID) == "" {
		details["actor_id"] = "is required"
	}

	if len(details) > 0 {
		return errors.Validation(details)
	}
	return nil
}

// Adjust sets a batch (or, without one, the medicine's reconciled figure)
// to NewQuantity and records the correction.
func (s *AdjustmentService) Adjust(ctx context.Context, in AdjustInput) (*repository.AdjustmentRecord, error) {
	if err := in.validate(); err != nil {
		return nil, err
	}

	release, err := lockMedicine(ctx, s.locker, in.MedicineID)
	if err != nil {
		return nil, err
	}
	defer release(context.WithoutCancel(ctx))

	var record *repository.AdjustmentRecord

	err = s.repo.WithTx(ctx, func(ctx context.Context, repo repository.Repository) error {
		if _, err := repo.GetMedicine(ctx, in.MedicineID); err != nil {
			return err
		}

		var oldQuantity int
		if in.BatchID != nil {
			batch, err := repo.LockBatch(ctx, *in.BatchID)
			if err != nil {
				return err
			}
			if batch.MedicineID != in.MedicineID {
				return errors.Validation(map[string]string{"batch_id": "belongs to a different medicine"})
			}
			if in.OldQuantity != nil && *in.OldQuantity != batch.QuantityAvailable {
				return errors.ConcurrencyConflict(fmt.Sprintf(
					"batch %d now holds %d units, not %d", batch.ID, batch.QuantityAvailable, *in.OldQuantity), nil)
			}
			oldQuantity = batch.QuantityAvailable
		} else {
			oldQuantity = *in.OldQuantity
		}

		difference := in.NewQuantity - oldQuantity
		if difference == 0 {
			return errors.Validation(map[string]string{"new_quantity": "must differ from the current quantity"})
		}

		if in.BatchID != nil {
			if err := repo.SetBatchQuantity(ctx, *in.BatchID, in.NewQuantity); err != nil {
				return err
			}
		}

		entry := &repository.LedgerEntry{
			MedicineID:      in.MedicineID,
			BatchID:         in.BatchID,
			TransactionType: repository.TransactionAdjustment,
			Quantity:        difference,
			ReferenceType:   ReferenceAdjustment,
			Notes:           adjustmentNotes(in.AdjustmentType, oldQuantity, in.NewQuantity, in.Reason),
			CreatedBy:       in.ActorID,
		}
		if err := repo.InsertLedgerEntry(ctx, entry); err != nil {
			return err
		}

		record = &repository.AdjustmentRecord{
			MedicineID:     in.MedicineID,
			BatchID:        in.BatchID,
			LedgerEntryID:  entry.ID,
			AdjustmentType: in.AdjustmentType,
			OldQuantity:    oldQuantity,
			NewQuantity:    in.NewQuantity,
			Difference:     difference,
			Reason:         in.Reason,
			AdjustedBy:     in.ActorID,
		}
		return repo.InsertAdjustment(ctx, record)
	})
	if err != nil {
		err = database.Classify(err, "adjustment failed")
		s.logger.Error().Err(err).Int64("medicine_id", in.MedicineID).Msg("adjustment rolled back")
		return nil, err
	}

	s.logger.Info().
		Int64("adjustment_id", record.ID).
		Int64("medicine_id", record.MedicineID).
		Int("old_quantity", record.OldQuantity).
		Int("new_quantity", record.NewQuantity).
		Str("adjusted_by", record.AdjustedBy).
		Msg("stock adjusted")

	s.publisher.PublishStockAdjusted(ctx, record)
	return record, nil
}

// ListAdjustments lists a medicine's adjustments, most recent first
func (s *AdjustmentService) ListAdjustments(ctx context.Context, medicineID int64) ([]repository.AdjustmentRecord, error) {
	if _, err := s.repo.GetMedicine(ctx, medicineID); err != nil {
		return nil, database.Classify(err, "failed to load medicine")
	}

	records, err := s.repo.ListAdjustments(ctx, medicineID)
	if err != nil {
		return nil, database.Classify(err, "failed to list adjustments")
	}
	return records, nil
}

func adjustmentNotes(adjustmentType string, oldQuantity, newQuantity int, reason string) string {
	notes := fmt.Sprintf("Adjustment %s: %d -> %d", adjustmentType, oldQuantity, newQuantity)
	if reason != "" {
		notes += " (" + reason + ")"
	}
	return notes
}
