package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/medflow/medflow-stock/internal/stock/events"
	"github.com/medflow/medflow-stock/internal/stock/repository"
	"github.com/medflow/medflow-stock/pkg/database"
	"github.com/medflow/medflow-stock/pkg/errors"
	"github.com/medflow/medflow-stock/pkg/logger"
)

// ReceiveInput is an inbound delivery of one batch
type ReceiveInput struct {
	MedicineID int64
	BatchCode  string
	ExpiryDate time.Time
	Quantity   int
	ReceivedAt *time.Time
	Notes      string
	ActorID    string
}

// WriteOffInput removes unusable stock from a batch
type WriteOffInput struct {
	BatchID int64
	// Type is EXPIRED or DAMAGED
	Type repository.TransactionType
	// Quantity defaults to everything left on the batch
	Quantity *int
	Reason   string
	ActorID  string
}

// BatchService manages the medicine catalog and the inbound and write-off
// movements of batches
type BatchService struct {
	repo      repository.Repository
	locker    Locker
	publisher *events.StockEventPublisher
	settings  Settings
	logger    *logger.Logger
}

// NewBatchService creates a new batch service
func NewBatchService(
	repo repository.Repository,
	locker Locker,
	publisher *events.StockEventPublisher,
	settings Settings,
	log *logger.Logger,
) *BatchService {
	return &BatchService{
		repo:      repo,
		locker:    locker,
		publisher: publisher,
		settings:  settings.withDefaults(),
		logger:    log.WithComponent("batches"),
	}
}

// RegisterMedicine adds a medicine to the catalog
func (s *BatchService) RegisterMedicine(ctx context.Context, name, unit string) (*repository.Medicine, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, errors.Validation(map[string]string{"name": "is required"})
	}
	if unit == "" {
		unit = "unit"
	}

	medicine := &repository.Medicine{Name: name, Unit: unit, IsActive: true}
	if err := s.repo.CreateMedicine(ctx, medicine); err != nil {
		return nil, database.Classify(err, "failed to register medicine")
	}
	return medicine, nil
}

// GetMedicine gets a medicine by ID
func (s *BatchService) GetMedicine(ctx context.Context, id int64) (*repository.Medicine, error) {
	medicine, err := s.repo.GetMedicine(ctx, id)
	if err != nil {
		return nil, database.Classify(err, "failed to load medicine")
	}
	return medicine, nil
}

// ListBatches lists every batch of a medicine, empty and expired included
func (s *BatchService) ListBatches(ctx context.Context, medicineID int64) ([]repository.Batch, error) {
	if _, err := s.repo.GetMedicine(ctx, medicineID); err != nil {
		return nil, database.Classify(err, "failed to load medicine")
	}

	batches, err := s.repo.ListBatches(ctx, medicineID)
	if err != nil {
		return nil, database.Classify(err, "failed to list batches")
	}
	return batches, nil
}

// Receive creates a batch and its IN ledger entry in one transaction
func (s *BatchService) Receive(ctx context.Context, in ReceiveInput) (*repository.Batch, error) {
	details := map[string]string{}
	if in.MedicineID <= 0 {
		details["medicine_id"] = "must be positive"
	}
	if strings.TrimSpace(in.BatchCode) == "" {
		details["batch_code"] = "is required"
	}
	if in.Quantity <= 0 {
		details["quantity"] = "must be positive"
	}
	if in.ExpiryDate.IsZero() {
		details["expiry_date"] = "is required"
	} else if !in.ExpiryDate.After(s.settings.Today()) {
		details["expiry_date"] = "must be in the future"
	}
	if strings.TrimSpace(in.ActorID) == "" {
		details["actor_id"] = "is required"
	}
	if len(details) > 0 {
		return nil, errors.Validation(details)
	}

	receivedAt := s.settings.Now().UTC()
	if in.ReceivedAt != nil {
		receivedAt = *in.ReceivedAt
	}

	batch := &repository.Batch{
		MedicineID:        in.MedicineID,
		BatchCode:         strings.TrimSpace(in.BatchCode),
		ExpiryDate:        in.ExpiryDate,
		QuantityAvailable: in.Quantity,
		ReceivedQuantity:  in.Quantity,
		ReceivedAt:        receivedAt,
	}

	err := s.repo.WithTx(ctx, func(ctx context.Context, repo repository.Repository) error {
		if _, err := repo.GetMedicine(ctx, in.MedicineID); err != nil {
			return err
		}
		if err := repo.CreateBatch(ctx, batch); err != nil {
			return err
		}

		batchID := batch.ID
		return repo.InsertLedgerEntry(ctx, &repository.LedgerEntry{
			MedicineID:      in.MedicineID,
			BatchID:         &batchID,
			TransactionType: repository.TransactionIn,
			Quantity:        in.Quantity,
			ReferenceType:   ReferenceReceipt,
			Notes:           in.Notes,
			CreatedBy:       in.ActorID,
		})
	})
	if err != nil {
		return nil, database.Classify(err, "failed to receive batch")
	}

	s.logger.Info().
		Int64("medicine_id", batch.MedicineID).
		Int64("batch_id", batch.ID).
		Str("batch_code", batch.BatchCode).
		Int("quantity", batch.ReceivedQuantity).
		Msg("batch received")

	s.publisher.PublishStockReceived(ctx, batch, in.ActorID)
	return batch, nil
}

// WriteOff removes expired or damaged units from a batch and logs them
func (s *BatchService) WriteOff(ctx context.Context, in WriteOffInput) (*repository.LedgerEntry, error) {
	details := map[string]string{}
	if in.BatchID <= 0 {
		details["batch_id"] = "must be positive"
	}
	if in.Type != repository.TransactionExpired && in.Type != repository.TransactionDamaged {
		details["type"] = "must be one of: EXPIRED, DAMAGED"
	}
	if in.Quantity != nil && *in.Quantity <= 0 {
		details["quantity"] = "must be positive"
	}
	if strings.TrimSpace(in.ActorID) == "" {
		details["actor_id"] = "is required"
	}
	if len(details) > 0 {
		return nil, errors.Validation(details)
	}

	current, err := s.repo.GetBatch(ctx, in.BatchID)
	if err != nil {
		return nil, database.Classify(err, "failed to load batch")
	}

	release, err := lockMedicine(ctx, s.locker, current.MedicineID)
	if err != nil {
		return nil, err
	}
	defer release(context.WithoutCancel(ctx))

	var entry *repository.LedgerEntry
	var remaining int

	err = s.repo.WithTx(ctx, func(ctx context.Context, repo repository.Repository) error {
		batch, err := repo.LockBatch(ctx, in.BatchID)
		if err != nil {
			return err
		}

		quantity := batch.QuantityAvailable
		if in.Quantity != nil {
			quantity = *in.Quantity
		}
		if quantity == 0 {
			return errors.Validation(map[string]string{"quantity": "batch is already empty"})
		}
		if quantity > batch.QuantityAvailable {
			return errors.Validation(map[string]string{
				"quantity": fmt.Sprintf("exceeds the %d units left on the batch", batch.QuantityAvailable),
			})
		}

		if err := repo.DecrementBatch(ctx, batch.ID, quantity); err != nil {
			return err
		}

		batchID := batch.ID
		entry = &repository.LedgerEntry{
			MedicineID:      batch.MedicineID,
			BatchID:         &batchID,
			TransactionType: in.Type,
			Quantity:        -quantity,
			ReferenceType:   ReferenceWriteOff,
			Notes:           in.Reason,
			CreatedBy:       in.ActorID,
		}
		remaining = batch.QuantityAvailable - quantity
		return repo.InsertLedgerEntry(ctx, entry)
	})
	if err != nil {
		return nil, database.Classify(err, "write-off failed")
	}

	s.logger.Info().
		Int64("batch_id", in.BatchID).
		Str("type", string(in.Type)).
		Int("quantity", -entry.Quantity).
		Int("remaining", remaining).
		Msg("batch written off")

	s.publisher.PublishStockWrittenOff(ctx, entry, remaining)
	return entry, nil
}
