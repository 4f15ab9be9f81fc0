package messaging

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/medflow/medflow-stock/pkg/logger"
	amqp "github.com/rabbitmq/amqp091-go"
)

// Publisher publishes events from source to one exchange. The channel is
// looked up per publish so a reconnect is picked up transparently.
type Publisher struct {
	mu       sync.Mutex
	rmq      *RabbitMQ
	exchange string
	source   string
	logger   *logger.Logger
}

// NewPublisher declares exchange and returns a publisher for it
func NewPublisher(rmq *RabbitMQ, exchange, source string, log *logger.Logger) (*Publisher, error) {
	if err := rmq.DeclareExchange(exchange); err != nil {
		return nil, fmt.Errorf("failed to declare exchange %s: %w", exchange, err)
	}

	return &Publisher{
		rmq:      rmq,
		exchange: exchange,
		source:   source,
		logger:   log.WithComponent("publisher"),
	}, nil
}

// Publish publishes an event to the exchange, using the event type as routing key
func (p *Publisher) Publish(ctx context.Context, eventType string, data interface{}) error {
	event, err := NewEvent(eventType, p.source, CorrelationID(ctx), data)
	if err != nil {
		return fmt.Errorf("failed to create event: %w", err)
	}

	return p.PublishWithRoutingKey(ctx, eventType, event)
}

// PublishWithRoutingKey publishes an event with a custom routing key
func (p *Publisher) PublishWithRoutingKey(ctx context.Context, routingKey string, event *Event) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	// amqp channels are not safe for concurrent publishes
	p.mu.Lock()
	err = p.rmq.PublishChannel().PublishWithContext(ctx,
		p.exchange, // exchange
		routingKey, // routing key
		false,      // mandatory
		false,      // immediate
		amqp.Publishing{
			ContentType:   "application/json",
			DeliveryMode:  amqp.Persistent,
			MessageId:     event.ID,
			CorrelationId: event.CorrelationID,
			Timestamp:     event.Timestamp,
			Body:          body,
		},
	)
	p.mu.Unlock()
	if err != nil {
		return fmt.Errorf("failed to publish event: %w", err)
	}

	p.logger.Debug().
		Str("routing_key", routingKey).
		Str("event_id", event.ID).
		Str("correlation_id", event.CorrelationID).
		Msg("event published")

	return nil
}

type contextKey string

const correlationIDKey contextKey = "correlation_id"

// WithCorrelationID adds a correlation ID to the context
func WithCorrelationID(ctx context.Context, correlationID string) context.Context {
	return context.WithValue(ctx, correlationIDKey, correlationID)
}

// CorrelationID retrieves the correlation ID from context
func CorrelationID(ctx context.Context) string {
	if id, ok := ctx.Value(correlationIDKey).(string); ok {
		return id
	}
	return ""
}
