package messaging

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/kitchenflow/kitchenflow-backend/pkg/config"
	"github.com/kitchenflow/kitchenflow-backend/pkg/logger"
	amqp "github.com/rabbitmq/amqp091-go"
)

// DeadLetterExchange receives messages rejected after their final retry.
const DeadLetterExchange = "dlx.events"

// ErrClosed is returned by Reconnect once Close has been called.
var ErrClosed = errors.New("rabbitmq connection closed")

type queueBinding struct {
	queue      string
	exchange   string
	routingKey string
}

// topology is everything this process declared on the broker. It is
// declared again on every new channel so a reconnect restores the same
// exchanges, queues and bindings.
type topology struct {
	deadLetters []string
	exchanges   []string
	queues      []string
	bindings    []queueBinding
}

func (t *topology) addDeadLetter(serviceName string) {
	if !slices.Contains(t.deadLetters, serviceName) {
		t.deadLetters = append(t.deadLetters, serviceName)
	}
}

func (t *topology) addExchange(name string) {
	if !slices.Contains(t.exchanges, name) {
		t.exchanges = append(t.exchanges, name)
	}
}

func (t *topology) addQueue(name string) {
	if !slices.Contains(t.queues, name) {
		t.queues = append(t.queues, name)
	}
}

func (t *topology) addBinding(b queueBinding) {
	if !slices.Contains(t.bindings, b) {
		t.bindings = append(t.bindings, b)
	}
}

func (t *topology) declare(ch *amqp.Channel) error {
	for _, svc := range t.deadLetters {
		if err := declareDeadLetter(ch, svc); err != nil {
			return err
		}
	}
	for _, name := range t.exchanges {
		if err := declareExchange(ch, name); err != nil {
			return fmt.Errorf("failed to declare exchange %s: %w", name, err)
		}
	}
	for _, name := range t.queues {
		if _, err := declareQueue(ch, name); err != nil {
			return fmt.Errorf("failed to declare queue %s: %w", name, err)
		}
	}
	for _, b := range t.bindings {
		if err := ch.QueueBind(b.queue, b.routingKey, b.exchange, false, nil); err != nil {
			return fmt.Errorf("failed to bind queue %s: %w", b.queue, err)
		}
	}
	return nil
}

// RabbitMQ manages the connection to RabbitMQ
type RabbitMQ struct {
	conn     *amqp.Connection
	channel  *amqp.Channel
	config   *config.RabbitMQConfig
	logger   *logger.Logger
	mu       sync.RWMutex
	closed   bool
	topology topology
}

// New creates a new RabbitMQ connection
func New(cfg *config.RabbitMQConfig, log *logger.Logger) (*RabbitMQ, error) {
	rmq := &RabbitMQ{
		config: cfg,
		logger: log.WithComponent("rabbitmq"),
	}

	if err := rmq.connect(); err != nil {
		return nil, err
	}

	return rmq, nil
}

// connect dials a new connection and channel and declares the recorded
// topology on it. Callers other than New must hold mu.
func (r *RabbitMQ) connect() error {
	conn, err := amqp.Dial(r.config.URL)
	if err != nil {
		return fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return fmt.Errorf("failed to open channel: %w", err)
	}

	if err := ch.Qos(r.config.PrefetchCount, 0, false); err != nil {
		conn.Close()
		return fmt.Errorf("failed to set QoS: %w", err)
	}

	if err := r.topology.declare(ch); err != nil {
		conn.Close()
		return err
	}

	r.conn, r.channel = conn, ch
	r.logger.Info().
		Int("exchanges", len(r.topology.exchanges)).
		Int("queues", len(r.topology.queues)).
		Msg("connected to RabbitMQ")
	return nil
}

// Channel returns the current channel. It changes after a reconnect, so
// callers fetch it per use instead of keeping it.
func (r *RabbitMQ) Channel() *amqp.Channel {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.channel
}

// Close closes the RabbitMQ connection. Reconnect fails with ErrClosed afterwards.
func (r *RabbitMQ) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.closed = true

	if r.channel != nil {
		if err := r.channel.Close(); err != nil {
			r.logger.Warn().Err(err).Msg("failed to close channel")
		}
	}

	if r.conn != nil {
		if err := r.conn.Close(); err != nil {
			return fmt.Errorf("failed to close connection: %w", err)
		}
	}

	r.logger.Info().Msg("RabbitMQ connection closed")
	return nil
}

// MaxRetries returns how often a failing delivery is redelivered before it is
// dead-lettered. It also bounds reconnect attempts.
func (r *RabbitMQ) MaxRetries() int {
	if r.config.MaxRetries <= 0 {
		return 3
	}
	return r.config.MaxRetries
}

// Health returns the health status of RabbitMQ
func (r *RabbitMQ) Health() map[string]string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	status := map[string]string{
		"status": "up",
	}

	if !r.usable() {
		status["status"] = "down"
		status["error"] = "connection closed"
	}

	return status
}

func (r *RabbitMQ) usable() bool {
	return r.conn != nil && !r.conn.IsClosed() && r.channel != nil && !r.channel.IsClosed()
}

// DeclareExchange declares a durable topic exchange
func (r *RabbitMQ) DeclareExchange(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := declareExchange(r.channel, name); err != nil {
		return err
	}
	r.topology.addExchange(name)
	return nil
}

// DeclareQueue declares a durable queue that dead-letters to DeadLetterExchange
func (r *RabbitMQ) DeclareQueue(name string) (amqp.Queue, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	q, err := declareQueue(r.channel, name)
	if err != nil {
		return q, err
	}
	r.topology.addQueue(name)
	return q, nil
}

// DeclareDeadLetterQueue declares the dead letter exchange and the queue
// dlq.<serviceName> catching everything routed to it
func (r *RabbitMQ) DeclareDeadLetterQueue(serviceName string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := declareDeadLetter(r.channel, serviceName); err != nil {
		return err
	}
	r.topology.addDeadLetter(serviceName)
	return nil
}

// BindQueue binds a queue to an exchange with a routing key pattern
func (r *RabbitMQ) BindQueue(queueName, exchange, routingKey string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.channel.QueueBind(queueName, routingKey, exchange, false, nil); err != nil {
		return err
	}
	r.topology.addBinding(queueBinding{queue: queueName, exchange: exchange, routingKey: routingKey})
	return nil
}

// Reconnect replaces a dead connection or channel, retrying up to MaxRetries
// times with the configured delay. It returns immediately when the current
// channel is still usable, so concurrent callers reconnect once.
func (r *RabbitMQ) Reconnect(ctx context.Context) error {
	attempts := r.MaxRetries()
	for i := 0; i < attempts; i++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		r.mu.Lock()
		if r.closed {
			r.mu.Unlock()
			return ErrClosed
		}
		if r.usable() {
			r.mu.Unlock()
			return nil
		}
		if r.conn != nil && !r.conn.IsClosed() {
			r.conn.Close()
		}

		r.logger.Info().Int("attempt", i+1).Msg("attempting to reconnect to RabbitMQ")
		err := r.connect()
		r.mu.Unlock()
		if err == nil {
			return nil
		}

		r.logger.Warn().Err(err).Int("attempt", i+1).Msg("reconnection attempt failed")
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(r.config.ReconnectDelay):
		}
	}

	return fmt.Errorf("failed to reconnect after %d attempts", attempts)
}

func declareExchange(ch *amqp.Channel, name string) error {
	return ch.ExchangeDeclare(
		name,    // name
		"topic", // type
		true,    // durable
		false,   // auto-deleted
		false,   // internal
		false,   // no-wait
		nil,     // arguments
	)
}

func declareQueue(ch *amqp.Channel, name string) (amqp.Queue, error) {
	return ch.QueueDeclare(
		name,  // name
		true,  // durable
		false, // delete when unused
		false, // exclusive
		false, // no-wait
		amqp.Table{
			"x-dead-letter-exchange": DeadLetterExchange,
		},
	)
}

func declareDeadLetter(ch *amqp.Channel, serviceName string) error {
	if err := declareExchange(ch, DeadLetterExchange); err != nil {
		return fmt.Errorf("failed to declare DLX exchange: %w", err)
	}

	queueName := fmt.Sprintf("dlq.%s", serviceName)
	if _, err := ch.QueueDeclare(queueName, true, false, false, false, nil); err != nil {
		return fmt.Errorf("failed to declare DLQ queue: %w", err)
	}

	// Catch all routing keys
	if err := ch.QueueBind(queueName, "#", DeadLetterExchange, false, nil); err != nil {
		return fmt.Errorf("failed to bind DLQ: %w", err)
	}
	return nil
}
