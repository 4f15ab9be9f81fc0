package messaging

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/medflow/medflow-stock/pkg/config"
	"github.com/medflow/medflow-stock/pkg/logger"
	amqp "github.com/rabbitmq/amqp091-go"
)

// ErrClosed is returned once Close has been called.
var ErrClosed = errors.New("rabbitmq connection is closed")

// RabbitMQ owns one broker connection with a channel for publishing and a
// channel for consuming. A lost connection is re-dialled in the background;
// Reconnected lets consumers resume once that happens.
type RabbitMQ struct {
	mu          sync.RWMutex
	conn        *amqp.Connection
	publishCh   *amqp.Channel
	consumeCh   *amqp.Channel
	reconnected chan struct{}
	closed      bool

	config *config.RabbitMQConfig
	logger *logger.Logger
}

// New dials RabbitMQ and starts watching the connection
func New(cfg *config.RabbitMQConfig, log *logger.Logger) (*RabbitMQ, error) {
	r := &RabbitMQ{
		config:      cfg,
		logger:      log.WithComponent("rabbitmq"),
		reconnected: make(chan struct{}),
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.dial(); err != nil {
		return nil, err
	}
	return r, nil
}

// dial opens the connection and both channels. Callers hold r.mu.
func (r *RabbitMQ) dial() error {
	conn, err := amqp.Dial(r.config.URL)
	if err != nil {
		return fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}

	publishCh, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return fmt.Errorf("failed to open publish channel: %w", err)
	}

	consumeCh, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return fmt.Errorf("failed to open consume channel: %w", err)
	}
	if err := consumeCh.Qos(r.config.PrefetchCount, 0, false); err != nil {
		_ = conn.Close()
		return fmt.Errorf("failed to set QoS: %w", err)
	}

	r.conn = conn
	r.publishCh = publishCh
	r.consumeCh = consumeCh

	go r.watch(conn.NotifyClose(make(chan *amqp.Error, 1)))

	r.logger.Info().Msg("connected to RabbitMQ")
	return nil
}

// watch re-dials after an unexpected connection loss. A graceful Close
// closes notify without an error and ends the watch.
func (r *RabbitMQ) watch(notify <-chan *amqp.Error) {
	amqpErr, ok := <-notify
	if !ok || amqpErr == nil {
		return
	}

	r.logger.Warn().
		Int("code", amqpErr.Code).
		Str("reason", amqpErr.Reason).
		Msg("RabbitMQ connection lost")

	if err := r.Reconnect(context.Background()); err != nil && !errors.Is(err, ErrClosed) {
		r.logger.Error().Err(err).Msg("RabbitMQ reconnect failed, events are disabled until restart")
	}
}

// PublishChannel returns the channel used for publishing
func (r *RabbitMQ) PublishChannel() *amqp.Channel {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.publishCh
}

// ConsumeChannel returns the channel used for consuming
func (r *RabbitMQ) ConsumeChannel() *amqp.Channel {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.consumeCh
}

// Reconnected returns a channel that is closed after the next successful
// reconnect.
func (r *RabbitMQ) Reconnected() <-chan struct{} {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.reconnected
}

// Close closes the connection and stops reconnecting
func (r *RabbitMQ) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil
	}
	r.closed = true

	if r.conn == nil || r.conn.IsClosed() {
		return nil
	}
	if err := r.conn.Close(); err != nil {
		return fmt.Errorf("failed to close connection: %w", err)
	}

	r.logger.Info().Msg("RabbitMQ connection closed")
	return nil
}

// Health returns the health status of RabbitMQ
func (r *RabbitMQ) Health() map[string]string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.conn == nil || r.conn.IsClosed() {
		return map[string]string{"status": "down", "error": "connection closed"}
	}
	return map[string]string{"status": "up"}
}

// DeclareExchange declares a durable topic exchange
func (r *RabbitMQ) DeclareExchange(name string) error {
	return r.PublishChannel().ExchangeDeclare(name, "topic", true, false, false, false, nil)
}

// DeclareServiceQueue declares a durable queue for serviceName whose
// rejected messages go to the service's dead letter queue dlq.<serviceName>.
func (r *RabbitMQ) DeclareServiceQueue(serviceName, queueName string) error {
	ch := r.ConsumeChannel()

	if err := ch.ExchangeDeclare(ExchangeDeadLetter, "topic", true, false, false, false, nil); err != nil {
		return fmt.Errorf("failed to declare dead letter exchange: %w", err)
	}

	dlq := "dlq." + serviceName
	if _, err := ch.QueueDeclare(dlq, true, false, false, false, nil); err != nil {
		return fmt.Errorf("failed to declare %s: %w", dlq, err)
	}
	if err := ch.QueueBind(dlq, queueName, ExchangeDeadLetter, false, nil); err != nil {
		return fmt.Errorf("failed to bind %s: %w", dlq, err)
	}

	_, err := ch.QueueDeclare(queueName, true, false, false, false, amqp.Table{
		"x-dead-letter-exchange":    ExchangeDeadLetter,
		"x-dead-letter-routing-key": queueName,
	})
	if err != nil {
		return fmt.Errorf("failed to declare queue %s: %w", queueName, err)
	}
	return nil
}

// BindQueue binds a queue to an exchange, declaring the exchange first
func (r *RabbitMQ) BindQueue(queueName, exchange, routingKey string) error {
	ch := r.ConsumeChannel()
	if err := ch.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
		return fmt.Errorf("failed to declare exchange %s: %w", exchange, err)
	}
	return ch.QueueBind(queueName, routingKey, exchange, false, nil)
}

// Reconnect re-dials up to MaxRetries times, waiting ReconnectDelay between
// attempts. Consumers waiting on Reconnected are released on success.
func (r *RabbitMQ) Reconnect(ctx context.Context) error {
	attempts := r.config.MaxRetries
	if attempts <= 0 {
		attempts = 1
	}

	for i := 0; i < attempts; i++ {
		r.mu.Lock()
		if r.closed {
			r.mu.Unlock()
			return ErrClosed
		}

		r.logger.Info().Int("attempt", i+1).Msg("reconnecting to RabbitMQ")
		err := r.dial()
		if err == nil {
			close(r.reconnected)
			r.reconnected = make(chan struct{})
			r.mu.Unlock()
			return nil
		}
		r.mu.Unlock()

		r.logger.Warn().Err(err).Int("attempt", i+1).Msg("reconnect attempt failed")
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(r.config.ReconnectDelay):
		}
	}

	return fmt.Errorf("failed to reconnect after %d attempts", attempts)
}
