package consumers

import (
	"context"
	"fmt"

	"github.com/medflow/medflow-stock/internal/stock/service"
	"github.com/medflow/medflow-stock/pkg/errors"
	"github.com/medflow/medflow-stock/pkg/logger"
	"github.com/medflow/medflow-stock/pkg/messaging"
)

// ReferenceMedicineRequest tags ledger rows written for approved requests
const ReferenceMedicineRequest = "MEDICINE_REQUEST"

const (
	serviceName  = "stock-service"
	requestQueue = "stock-service.request-events"
)

// Allocator is the part of the allocation service the consumer drives
type Allocator interface {
	Allocate(ctx context.Context, in service.AllocateInput) (*service.AllocationResult, error)
	AlreadyFulfilled(ctx context.Context, requestID, medicineID int64) (bool, error)
}

// RequestEventConsumer dispenses stock for approved medicine requests
type RequestEventConsumer struct {
	consumer  *messaging.Consumer
	allocator Allocator
	logger    *logger.Logger
}

// NewRequestEventConsumer creates a new request event consumer
func NewRequestEventConsumer(rmq *messaging.RabbitMQ, allocator Allocator, log *logger.Logger) (*RequestEventConsumer, error) {
	consumer, err := messaging.NewConsumer(rmq, serviceName, requestQueue, log)
	if err != nil {
		return nil, err
	}

	if err := consumer.Subscribe(messaging.ExchangeRequestEvents, "medicine_request.#"); err != nil {
		return nil, err
	}

	c := &RequestEventConsumer{
		consumer:  consumer,
		allocator: allocator,
		logger:    log.WithComponent("request-consumer"),
	}

	consumer.RegisterHandler(messaging.EventMedicineRequestApproved, c.handleRequestApproved)

	return c, nil
}

// Start starts consuming messages
func (c *RequestEventConsumer) Start(ctx context.Context) error {
	return c.consumer.Start(ctx)
}

// handleRequestApproved allocates every medicine of the request once, with
// the quantities of repeated lines summed. Medicines that already drew stock
// for the request are skipped, so a redelivered event does not dispense
// twice.
func (c *RequestEventConsumer) handleRequestApproved(ctx context.Context, event *messaging.Event) error {
	var data messaging.MedicineRequestApprovedEvent
	if err := event.UnmarshalData(&data); err != nil {
		return fmt.Errorf("%w: decode request approved event: %w", messaging.ErrPermanent, err)
	}
	if data.RequestID <= 0 {
		return fmt.Errorf("%w: request approved event without request id", messaging.ErrPermanent)
	}

	log := c.logger.WithCorrelationID(messaging.CorrelationID(ctx))

	for _, item := range mergeLines(data.Items) {
		done, err := c.allocator.AlreadyFulfilled(ctx, data.RequestID, item.MedicineID)
		if err != nil {
			return err
		}
		if done {
			log.Info().
				Int64("request_id", data.RequestID).
				Int64("medicine_id", item.MedicineID).
				Msg("request line already fulfilled, skipping")
			continue
		}

		requestID := data.RequestID
		result, err := c.allocator.Allocate(ctx, service.AllocateInput{
			MedicineID:    item.MedicineID,
			Quantity:      item.Quantity,
			RequestID:     &requestID,
			ReferenceType: ReferenceMedicineRequest,
			ActorID:       data.ApprovedBy,
		})
		if err != nil {
			if errors.Is(err, errors.ErrValidation) || errors.Is(err, errors.ErrNotFound) {
				return fmt.Errorf("%w: medicine %d: %w", messaging.ErrPermanent, item.MedicineID, err)
			}
			return err
		}

		log.Info().
			Int64("request_id", data.RequestID).
			Int64("medicine_id", item.MedicineID).
			Int("requested", result.Requested).
			Int("allocated", result.Allocated).
			Msg("request line allocated")
	}

	return nil
}

// mergeLines folds lines for the same medicine into one, keeping the order
// in which medicines first appear.
func mergeLines(items []messaging.ApprovedRequestItem) []messaging.ApprovedRequestItem {
	merged := make([]messaging.ApprovedRequestItem, 0, len(items))
	index := make(map[int64]int, len(items))
	for _, item := range items {
		if i, ok := index[item.MedicineID]; ok {
			merged[i].Quantity += item.Quantity
			continue
		}
		index[item.MedicineID] = len(merged)
		merged = append(merged, item)
	}
	return merged
}
