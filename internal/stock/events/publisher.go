package events

import (
	"context"

	"github.com/medflow/medflow-stock/internal/stock/repository"
	"github.com/medflow/medflow-stock/pkg/logger"
	"github.com/medflow/medflow-stock/pkg/messaging"
)

// Publisher is the transport the stock events go out on.
// *messaging.Publisher satisfies it.
type Publisher interface {
	Publish(ctx context.Context, eventType string, data interface{}) error
}

// StockEventPublisher publishes stock-related events. A nil publisher
// drops every event, which is how the service runs without RabbitMQ.
type StockEventPublisher struct {
	publisher Publisher
	logger    *logger.Logger
}

// NewStockEventPublisher creates a stock event publisher on the stock exchange
func NewStockEventPublisher(rmq *messaging.RabbitMQ, log *logger.Logger) (*StockEventPublisher, error) {
	publisher, err := messaging.NewPublisher(rmq, messaging.ExchangeStockEvents, "stock-service", log)
	if err != nil {
		return nil, err
	}
	return NewWithPublisher(publisher, log), nil
}

// NewWithPublisher wraps an existing transport
func NewWithPublisher(publisher Publisher, log *logger.Logger) *StockEventPublisher {
	return &StockEventPublisher{
		publisher: publisher,
		logger:    log.WithComponent("stock-events"),
	}
}

// Dispensed describes one committed allocation
type Dispensed struct {
	MedicineID    int64
	RequestID     *int64
	ReferenceType string
	Requested     int
	Allocated     int
	Draws         []messaging.BatchDraw
	ActorID       string
}

// PublishStockDispensed publishes a stock dispensed event
func (p *StockEventPublisher) PublishStockDispensed(ctx context.Context, d Dispensed) {
	if p == nil {
		return
	}

	data := messaging.StockDispensedEvent{
		MedicineID:    d.MedicineID,
		RequestID:     d.RequestID,
		ReferenceType: d.ReferenceType,
		Requested:     d.Requested,
		Allocated:     d.Allocated,
		Draws:         d.Draws,
		PerformedBy:   d.ActorID,
	}

	if err := p.publisher.Publish(ctx, messaging.EventStockDispensed, data); err != nil {
		p.logger.Error().Err(err).Int64("medicine_id", d.MedicineID).Msg("failed to publish stock dispensed event")
	}
}

// PublishStockReceived publishes a stock received event
func (p *StockEventPublisher) PublishStockReceived(ctx context.Context, batch *repository.Batch, actorID string) {
	if p == nil {
		return
	}

	data := messaging.StockReceivedEvent{
		MedicineID:  batch.MedicineID,
		BatchID:     batch.ID,
		BatchCode:   batch.BatchCode,
		ExpiryDate:  batch.ExpiryDate,
		Quantity:    batch.ReceivedQuantity,
		PerformedBy: actorID,
	}

	if err := p.publisher.Publish(ctx, messaging.EventStockReceived, data); err != nil {
		p.logger.Error().Err(err).Int64("batch_id", batch.ID).Msg("failed to publish stock received event")
	}
}

// PublishStockAdjusted publishes a stock adjusted event
func (p *StockEventPublisher) PublishStockAdjusted(ctx context.Context, adj *repository.AdjustmentRecord) {
	if p == nil {
		return
	}

	data := messaging.StockAdjustedEvent{
		AdjustmentID:   adj.ID,
		MedicineID:     adj.MedicineID,
		BatchID:        adj.BatchID,
		AdjustmentType: adj.AdjustmentType,
		OldQuantity:    adj.OldQuantity,
		NewQuantity:    adj.NewQuantity,
		Difference:     adj.Difference,
		PerformedBy:    adj.AdjustedBy,
		Reason:         adj.Reason,
	}

	if err := p.publisher.Publish(ctx, messaging.EventStockAdjusted, data); err != nil {
		p.logger.Error().Err(err).Int64("adjustment_id", adj.ID).Msg("failed to publish stock adjusted event")
	}
}

// PublishStockWrittenOff publishes a write-off event
func (p *StockEventPublisher) PublishStockWrittenOff(ctx context.Context, entry *repository.LedgerEntry, remaining int) {
	if p == nil {
		return
	}

	var batchID int64
	if entry.BatchID != nil {
		batchID = *entry.BatchID
	}

	data := messaging.StockWrittenOffEvent{
		MedicineID:  entry.MedicineID,
		BatchID:     batchID,
		Type:        string(entry.TransactionType),
		Quantity:    -entry.Quantity,
		Remaining:   remaining,
		PerformedBy: entry.CreatedBy,
		Reason:      entry.Notes,
	}

	if err := p.publisher.Publish(ctx, messaging.EventStockWrittenOff, data); err != nil {
		p.logger.Error().Err(err).Int64("batch_id", batchID).Msg("failed to publish stock written off event")
	}
}

// PublishStockLow publishes a low stock event
func (p *StockEventPublisher) PublishStockLow(ctx context.Context, medicineID int64, current, threshold int) {
	if p == nil {
		return
	}

	data := messaging.StockLowEvent{
		MedicineID:   medicineID,
		CurrentStock: current,
		Threshold:    threshold,
	}

	if err := p.publisher.Publish(ctx, messaging.EventStockLow, data); err != nil {
		p.logger.Error().Err(err).Int64("medicine_id", medicineID).Msg("failed to publish stock low event")
	}
}
