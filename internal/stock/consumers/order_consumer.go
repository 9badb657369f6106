package consumers

import (
	"context"
	"fmt"
	"sort"

	"github.com/kitchenflow/kitchenflow-backend/internal/stock/service"
	"github.com/kitchenflow/kitchenflow-backend/pkg/errors"
	"github.com/kitchenflow/kitchenflow-backend/pkg/logger"
	"github.com/kitchenflow/kitchenflow-backend/pkg/messaging"
	"github.com/shopspring/decimal"
)

// OrderQueue is the queue the stock service consumes order events from
const OrderQueue = "stock-service.orders"

// Ledger is the part of the stock service the consumer drives
type Ledger interface {
	Deduct(ctx context.Context, d service.Deduction) (*service.MovementResult, error)
}

// OrderStockConsumer deducts stock for customer orders
type OrderStockConsumer struct {
	consumer *messaging.Consumer
	ledger   Ledger
	logger   *logger.Logger
}

// NewOrderStockConsumer creates a consumer bound to the order events exchange
func NewOrderStockConsumer(rmq *messaging.RabbitMQ, ledger Ledger, log *logger.Logger) (*OrderStockConsumer, error) {
	consumer, err := messaging.NewConsumer(rmq, OrderQueue, log)
	if err != nil {
		return nil, err
	}

	if err := consumer.Subscribe(messaging.ExchangeOrderEvents, messaging.EventOrderStockRequested); err != nil {
		return nil, err
	}

	c := NewOrderStockHandler(ledger, log)
	c.consumer = consumer
	consumer.RegisterHandler(messaging.EventOrderStockRequested, c.HandleStockRequested)

	return c, nil
}

// NewOrderStockHandler creates the handler without a broker connection
func NewOrderStockHandler(ledger Ledger, log *logger.Logger) *OrderStockConsumer {
	return &OrderStockConsumer{
		ledger: ledger,
		logger: log.WithComponent("order_consumer"),
	}
}

// Start starts consuming messages
func (c *OrderStockConsumer) Start(ctx context.Context) error {
	return c.consumer.Start(ctx)
}

// HandleStockRequested deducts each ingredient of the order in its own unit.
// Ingredients the order already drew from are skipped, so a redelivered event
// only finishes what a failed attempt left undone.
func (c *OrderStockConsumer) HandleStockRequested(ctx context.Context, event *messaging.Event) error {
	var data messaging.OrderStockRequestedEvent
	if err := event.UnmarshalData(&data); err != nil {
		c.logger.Error().Err(err).Str("event_id", event.ID).Msg("malformed order stock request")
		return nil
	}

	log := c.logger.With().Int64("order_id", data.OrderID).Str("event_id", event.ID).Logger()
	log.Info().Int("lines", len(data.Lines)).Msg("received order stock request")

	for _, line := range mergeLines(data.Lines) {
		result, err := c.ledger.Deduct(ctx, service.Deduction{
			IngredientID: line.IngredientID,
			Quantity:     line.Quantity,
			OrderID:      data.OrderID,
			ActorID:      data.ActorID,
			Once:         data.OrderID > 0,
		})
		if err == nil {
			if result.Duplicate {
				log.Debug().Int64("ingredient_id", line.IngredientID).Msg("ingredient already deducted for order")
			}
			continue
		}
		if errors.IsBusinessRejection(err) {
			log.Warn().Err(err).
				Int64("ingredient_id", line.IngredientID).
				Str("quantity", line.Quantity.String()).
				Msg("order stock line rejected")
			continue
		}
		return fmt.Errorf("deduct ingredient %d for order %d: %w", line.IngredientID, data.OrderID, err)
	}

	return nil
}

// mergeLines sums repeated ingredients so each is deducted once, in
// ascending ingredient order
func mergeLines(lines []messaging.OrderStockRequestLine) []messaging.OrderStockRequestLine {
	totals := make(map[int64]decimal.Decimal, len(lines))
	for _, l := range lines {
		totals[l.IngredientID] = totals[l.IngredientID].Add(l.Quantity)
	}

	merged := make([]messaging.OrderStockRequestLine, 0, len(totals))
	for id, q := range totals {
		merged = append(merged, messaging.OrderStockRequestLine{IngredientID: id, Quantity: q})
	}
	sort.Slice(merged, func(i, j int) bool { return merged[i].IngredientID < merged[j].IngredientID })
	return merged
}
