package messaging

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/kitchenflow/kitchenflow-backend/pkg/logger"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingAck struct {
	acked    bool
	nacked   bool
	requeue  bool
	rejected bool
}

func (a *recordingAck) Ack(tag uint64, multiple bool) error {
	a.acked = true
	return nil
}

func (a *recordingAck) Nack(tag uint64, multiple, requeue bool) error {
	a.nacked = true
	a.requeue = requeue
	return nil
}

func (a *recordingAck) Reject(tag uint64, requeue bool) error {
	a.rejected = true
	a.requeue = requeue
	return nil
}

func newTestConsumer() *Consumer {
	return &Consumer{
		queueName:  "test",
		handlers:   make(map[string]MessageHandler),
		maxRetries: 3,
		logger:     logger.Nop(),
	}
}

func delivery(t *testing.T, ack *recordingAck, eventType string, data any) amqp.Delivery {
	t.Helper()
	event, err := NewEvent(eventType, "test", "corr-1", data)
	require.NoError(t, err)
	body, err := json.Marshal(event)
	require.NoError(t, err)
	return amqp.Delivery{Acknowledger: ack, Body: body}
}

func TestConsumer_HandleMessage(t *testing.T) {
	ctx := context.Background()

	t.Run("acks on success and passes correlation id", func(t *testing.T) {
		c := newTestConsumer()
		var gotCorrelation string
		c.RegisterHandler(EventOrderStockRequested, func(ctx context.Context, e *Event) error {
			gotCorrelation = CorrelationID(ctx)
			return nil
		})

		ack := &recordingAck{}
		c.handleMessage(ctx, delivery(t, ack, EventOrderStockRequested, OrderStockRequestedEvent{OrderID: 1}))

		assert.True(t, ack.acked)
		assert.Equal(t, "corr-1", gotCorrelation)
	})

	t.Run("acks unknown event types", func(t *testing.T) {
		c := newTestConsumer()
		ack := &recordingAck{}
		c.handleMessage(ctx, delivery(t, ack, "something.else", map[string]string{}))
		assert.True(t, ack.acked)
	})

	t.Run("rejects malformed body without requeue", func(t *testing.T) {
		c := newTestConsumer()
		ack := &recordingAck{}
		c.handleMessage(ctx, amqp.Delivery{Acknowledger: ack, Body: []byte("{not json")})
		assert.True(t, ack.rejected)
		assert.False(t, ack.requeue)
	})

	t.Run("requeues first failure", func(t *testing.T) {
		c := newTestConsumer()
		c.RegisterHandler(EventOrderStockRequested, func(ctx context.Context, e *Event) error {
			return assert.AnError
		})
		ack := &recordingAck{}
		c.handleMessage(ctx, delivery(t, ack, EventOrderStockRequested, OrderStockRequestedEvent{}))
		assert.True(t, ack.nacked)
		assert.True(t, ack.requeue)
	})

	t.Run("dead-letters redelivered failure", func(t *testing.T) {
		c := newTestConsumer()
		c.RegisterHandler(EventOrderStockRequested, func(ctx context.Context, e *Event) error {
			return assert.AnError
		})
		ack := &recordingAck{}
		msg := delivery(t, ack, EventOrderStockRequested, OrderStockRequestedEvent{})
		msg.Redelivered = true
		c.handleMessage(ctx, msg)
		assert.True(t, ack.rejected)
		assert.False(t, ack.requeue)
	})

	t.Run("dead-letters after x-death count reaches max", func(t *testing.T) {
		c := newTestConsumer()
		c.RegisterHandler(EventOrderStockRequested, func(ctx context.Context, e *Event) error {
			return assert.AnError
		})
		ack := &recordingAck{}
		msg := delivery(t, ack, EventOrderStockRequested, OrderStockRequestedEvent{})
		msg.Headers = amqp.Table{"x-death": []interface{}{amqp.Table{"count": int64(3)}}}
		c.handleMessage(ctx, msg)
		assert.True(t, ack.rejected)
	})
}

func TestEvent_UnmarshalData(t *testing.T) {
	event, err := NewEvent(EventAlertRaised, "stock-service", "", AlertEvent{AlertID: 7, AlertType: "low_stock"})
	require.NoError(t, err)
	assert.NotEmpty(t, event.ID)

	var data AlertEvent
	require.NoError(t, event.UnmarshalData(&data))
	assert.Equal(t, int64(7), data.AlertID)
	assert.Equal(t, "low_stock", data.AlertType)
}

func TestConsumer_RunHandlesDeliveriesUntilCancelled(t *testing.T) {
	c := newTestConsumer()
	handled := make(chan int64, 2)
	c.RegisterHandler(EventOrderStockRequested, func(ctx context.Context, e *Event) error {
		var data OrderStockRequestedEvent
		assert.NoError(t, e.UnmarshalData(&data))
		handled <- data.OrderID
		return nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	msgs := make(chan amqp.Delivery, 2)
	ack := &recordingAck{}
	msgs <- delivery(t, ack, EventOrderStockRequested, OrderStockRequestedEvent{OrderID: 1})
	msgs <- delivery(t, ack, EventOrderStockRequested, OrderStockRequestedEvent{OrderID: 2})

	done := make(chan struct{})
	go func() {
		c.run(ctx, msgs)
		close(done)
	}()

	assert.Equal(t, int64(1), <-handled)
	assert.Equal(t, int64(2), <-handled)

	cancel()
	close(msgs)
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("consumer did not stop after cancel")
	}
	assert.True(t, ack.acked)
}

func TestTopology_RecordsDeclarationsOnce(t *testing.T) {
	var top topology

	top.addDeadLetter("stock-service")
	top.addDeadLetter("stock-service")
	top.addExchange(ExchangeOrderEvents)
	top.addExchange(ExchangeOrderEvents)
	top.addQueue("stock-service.orders")
	top.addQueue("stock-service.orders")
	b := queueBinding{queue: "stock-service.orders", exchange: ExchangeOrderEvents, routingKey: EventOrderStockRequested}
	top.addBinding(b)
	top.addBinding(b)
	top.addBinding(queueBinding{queue: "stock-service.orders", exchange: ExchangeOrderEvents, routingKey: "order.#"})

	assert.Equal(t, []string{"stock-service"}, top.deadLetters)
	assert.Equal(t, []string{ExchangeOrderEvents}, top.exchanges)
	assert.Equal(t, []string{"stock-service.orders"}, top.queues)
	assert.Len(t, top.bindings, 2)
	assert.Equal(t, b, top.bindings[0])
}
