package service

import (
	"context"
	"time"

	"github.com/medflow/medflow-stock/internal/stock/events"
	"github.com/medflow/medflow-stock/internal/stock/repository"
	"github.com/medflow/medflow-stock/pkg/database"
	"github.com/medflow/medflow-stock/pkg/errors"
	"github.com/medflow/medflow-stock/pkg/logger"
	"github.com/medflow/medflow-stock/pkg/messaging"
)

// AllocateInput describes one dispense
type AllocateInput struct {
	MedicineID int64
	// Quantity is the amount requested. Non-positive values are a no-op.
	Quantity int
	// RequestID attributes the allocation to a request and produces fulfillment lines.
	RequestID *int64
	// ReferenceType tags the ledger rows. Defaults to Settings.DefaultReferenceType.
	ReferenceType string
	// ActorID is recorded as created_by. Defaults to Settings.SystemActorID.
	ActorID string
	Notes   string
}

// AllocationLine is the amount taken from one batch
type AllocationLine struct {
	BatchID       int64     `json:"batch_id"`
	BatchCode     string    `json:"batch_code"`
	ExpiryDate    time.Time `json:"expiry_date"`
	Quantity      int       `json:"quantity"`
	LedgerEntryID int64     `json:"ledger_entry_id"`
}

// AllocationResult reports what an allocation drew, in FEFO order
type AllocationResult struct {
	MedicineID int64            `json:"medicine_id"`
	Requested  int              `json:"requested"`
	Allocated  int              `json:"allocated"`
	Lines      []AllocationLine `json:"lines"`
}

// Shortfall is how much of the request could not be served
func (r *AllocationResult) Shortfall() int {
	if r.Requested <= r.Allocated {
		return 0
	}
	return r.Requested - r.Allocated
}

// AllocationService dispenses stock from batches, nearest expiry first
type AllocationService struct {
	repo      repository.Repository
	locker    Locker
	publisher *events.StockEventPublisher
	settings  Settings
	logger    *logger.Logger
}

// NewAllocationService creates a new allocation service. locker and
// publisher may be nil.
func NewAllocationService(
	repo repository.Repository,
	locker Locker,
	publisher *events.StockEventPublisher,
	settings Settings,
	log *logger.Logger,
) *AllocationService {
	return &AllocationService{
		repo:      repo,
		locker:    locker,
		publisher: publisher,
		settings:  settings.withDefaults(),
		logger:    log.WithComponent("allocation"),
	}
}

// Allocate draws up to in.Quantity units of a medicine from its sellable
// batches in FEFO order. Running short of stock is not an error: the result
// carries Allocated < Requested. Any fault rolls the whole draw back and
// returns a nil result.
func (s *AllocationService) Allocate(ctx context.Context, in AllocateInput) (*AllocationResult, error) {
	result := &AllocationResult{
		MedicineID: in.MedicineID,
		Requested:  in.Quantity,
		Lines:      []AllocationLine{},
	}
	if in.Quantity <= 0 {
		return result, nil
	}
	if in.MedicineID <= 0 {
		return nil, errors.Validation(map[string]string{"medicine_id": "must be positive"})
	}

	referenceType := in.ReferenceType
	if referenceType == "" {
		referenceType = s.settings.DefaultReferenceType
	}
	actorID := in.ActorID
	if actorID == "" {
		actorID = s.settings.SystemActorID
	}

	release, err := lockMedicine(ctx, s.locker, in.MedicineID)
	if err != nil {
		return nil, err
	}
	defer release(context.WithoutCancel(ctx))

	today := s.settings.Today()
	var stockBefore int

	err = s.repo.WithTx(ctx, func(ctx context.Context, repo repository.Repository) error {
		if _, err := repo.GetMedicine(ctx, in.MedicineID); err != nil {
			return err
		}

		batches, err := repo.LockAllocatableBatches(ctx, in.MedicineID, today)
		if err != nil {
			return err
		}

		stockBefore = 0
		for _, b := range batches {
			stockBefore += b.QuantityAvailable
		}

		result.Lines = result.Lines[:0]
		result.Allocated = 0
		remaining := in.Quantity

		for _, b := range batches {
			if remaining == 0 {
				break
			}
			if err := ctx.Err(); err != nil {
				return err
			}

			take := min(b.QuantityAvailable, remaining)
			if err := repo.DecrementBatch(ctx, b.ID, take); err != nil {
				return err
			}

			batchID := b.ID
			entry := &repository.LedgerEntry{
				MedicineID:      in.MedicineID,
				BatchID:         &batchID,
				TransactionType: repository.TransactionOut,
				Quantity:        -take,
				ReferenceType:   referenceType,
				ReferenceID:     in.RequestID,
				Notes:           in.Notes,
				CreatedBy:       actorID,
			}
			if err := repo.InsertLedgerEntry(ctx, entry); err != nil {
				return err
			}

			if in.RequestID != nil {
				line := &repository.FulfillmentLine{
					RequestID:  *in.RequestID,
					BatchID:    b.ID,
					MedicineID: in.MedicineID,
					Quantity:   take,
				}
				if err := repo.InsertFulfillmentLine(ctx, line); err != nil {
					return err
				}
			}

			result.Lines = append(result.Lines, AllocationLine{
				BatchID:       b.ID,
				BatchCode:     b.BatchCode,
				ExpiryDate:    b.ExpiryDate,
				Quantity:      take,
				LedgerEntryID: entry.ID,
			})
			result.Allocated += take
			remaining -= take
		}
		return nil
	})
	if err != nil {
		err = database.Classify(err, "allocation failed")
		s.logger.Error().Err(err).
			Int64("medicine_id", in.MedicineID).
			Int("requested", in.Quantity).
			Msg("allocation rolled back")
		return nil, err
	}

	log := s.logger.WithMedicineID(in.MedicineID)
	if result.Shortfall() > 0 {
		log.Warn().
			Int("requested", result.Requested).
			Int("allocated", result.Allocated).
			Int("shortfall", result.Shortfall()).
			Msg("allocation short of stock")
	} else {
		log.Info().
			Int("allocated", result.Allocated).
			Int("batches", len(result.Lines)).
			Msg("allocation committed")
	}

	s.publishAllocation(ctx, in, referenceType, actorID, result, stockBefore)
	return result, nil
}

func (s *AllocationService) publishAllocation(ctx context.Context, in AllocateInput, referenceType, actorID string, result *AllocationResult, stockBefore int) {
	if result.Allocated == 0 {
		return
	}

	draws := make([]messaging.BatchDraw, len(result.Lines))
	for i, line := range result.Lines {
		draws[i] = messaging.BatchDraw{
			BatchID:    line.BatchID,
			BatchCode:  line.BatchCode,
			ExpiryDate: line.ExpiryDate,
			Quantity:   line.Quantity,
		}
	}

	s.publisher.PublishStockDispensed(ctx, events.Dispensed{
		MedicineID:    in.MedicineID,
		RequestID:     in.RequestID,
		ReferenceType: referenceType,
		Requested:     result.Requested,
		Allocated:     result.Allocated,
		Draws:         draws,
		ActorID:       actorID,
	})

	threshold := s.settings.LowStockThreshold
	stockAfter := stockBefore - result.Allocated
	if threshold > 0 && stockBefore >= threshold && stockAfter < threshold {
		s.publisher.PublishStockLow(ctx, in.MedicineID, stockAfter, threshold)
	}
}

// Fulfillment lists the batch lines drawn for a request
func (s *AllocationService) Fulfillment(ctx context.Context, requestID int64) ([]repository.FulfillmentLine, error) {
	if requestID <= 0 {
		return nil, errors.Validation(map[string]string{"request_id": "must be positive"})
	}

	lines, err := s.repo.ListFulfillmentLines(ctx, requestID)
	if err != nil {
		return nil, database.Classify(err, "failed to load fulfillment")
	}
	return lines, nil
}

// AlreadyFulfilled reports whether stock was already drawn for a request line
func (s *AllocationService) AlreadyFulfilled(ctx context.Context, requestID, medicineID int64) (bool, error) {
	done, err := s.repo.HasFulfillment(ctx, requestID, medicineID)
	if err != nil {
		return false, database.Classify(err, "failed to check fulfillment")
	}
	return done, nil
}
